// Package app assembles the scheduling engine and its collaborators from
// configuration. Every binary builds through here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/config"
	"github.com/hackgods/clinic-agenda-sync/internal/db"
	"github.com/hackgods/clinic-agenda-sync/internal/journal"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	redisclient "github.com/hackgods/clinic-agenda-sync/internal/redis"
	"github.com/hackgods/clinic-agenda-sync/internal/remote"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Rules     *calendar.Rules
	Store     *appointment.FileStore
	Directory *patient.Directory
	Engine    *scheduling.Engine
	// Sandbox is set when no remote platform is configured.
	Sandbox *remote.Memory
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
}

// Build wires an App. Postgres and Redis are connected only when
// configured; the caller must Close the App.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	rules, err := loadRules(cfg.CalendarPath)
	if err != nil {
		return nil, err
	}
	a.Rules = rules

	store, err := appointment.OpenFileStore(cfg.AppointmentsPath)
	if err != nil {
		return nil, fmt.Errorf("open appointment store: %w", err)
	}
	a.Store = store

	if cfg.PostgresDSN != "" {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, "clinic-agenda-sync")
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.PgPool = pool
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		logger.Info("connected to postgres")
	}

	var locker scheduling.SessionLocker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.Redis = rdb
		account := cfg.RemoteUsername
		if account == "" {
			account = "sandbox"
		}
		locker = redisclient.NewSessionLocker(rdb, account, cfg.SessionLockTTL, cfg.RemoteCallTimeout)
		logger.Info("remote session lock enabled", zap.String("account", account))
	}

	var src patient.Source
	if a.PgPool != nil {
		src = patient.NewPgSource(a.PgPool)
	} else {
		src = patient.NewXLSXSource(cfg.PatientsPath)
	}
	a.Directory = patient.NewDirectory(src, logger.Named("patients"))

	var jrnl journal.Journal
	if a.PgPool != nil {
		jrnl = journal.NewPgJournal(a.PgPool)
	} else {
		jrnl = journal.NewLogJournal(logger.Named("journal"))
	}

	svc, err := a.remoteService(rules)
	if err != nil {
		return nil, err
	}

	a.Engine = scheduling.New(rules, store, svc, scheduling.Options{
		Locker:  locker,
		Journal: jrnl,
		Logger:  logger.Named("engine"),
	})
	ok = true
	return a, nil
}

func (a *App) remoteService(rules *calendar.Rules) (remote.Service, error) {
	cfg := a.Config
	var next remote.Service
	if cfg.Sandbox() {
		mem := remote.NewMemory(rules.SlotLength())
		sb := &sandbox{Memory: mem, store: a.Store}
		if err := sb.reseed(); err != nil {
			return nil, fmt.Errorf("seed sandbox: %w", err)
		}
		a.Sandbox = mem
		a.Logger.Warn("no remote platform configured, using the in-memory sandbox",
			zap.Int("seeded_bookings", len(mem.Bookings())))
		next = sb
	} else {
		next = remote.NewHTTPClient(remote.HTTPConfig{
			BaseURL:  cfg.RemoteBaseURL,
			Username: cfg.RemoteUsername,
			Password: cfg.RemotePassword,
			Timeout:  cfg.RemoteCallTimeout,
		}, a.Logger.Named("remote"))
	}

	return remote.NewGuarded(next, remote.Policy{
		CallTimeout:  cfg.RemoteCallTimeout,
		ReadAttempts: cfg.RemoteReadAttempts,
		ReadDelay:    cfg.RemoteReadDelay,
		WriteRetries: 1,
	}, a.Logger.Named("remote")), nil
}

// sandbox is the in-memory platform of one process. The appointment file
// is shared by every binary, so the bookings are reloaded from it before
// each extraction; otherwise a refresh would write back this process's
// stale view over bookings made elsewhere.
type sandbox struct {
	*remote.Memory
	store *appointment.FileStore
}

func (s *sandbox) FindBookings(ctx context.Context, from, to time.Time) ([]remote.Booking, error) {
	if err := s.reseed(); err != nil {
		return nil, fmt.Errorf("reload sandbox: %w", err)
	}
	return s.Memory.FindBookings(ctx, from, to)
}

func (s *sandbox) reseed() error {
	appts, err := s.store.All()
	if err != nil {
		return err
	}
	bookings := make([]remote.Booking, 0, len(appts))
	for _, ap := range appts {
		bookings = append(bookings, remote.Booking{
			Ref:          ap.RemoteRef,
			Date:         ap.Date,
			Start:        ap.Start,
			End:          ap.End,
			Resource:     ap.Resource,
			PatientName:  ap.Patient.Name,
			Practitioner: ap.Practitioner,
			Room:         ap.Room,
		})
	}
	s.Reset(bookings...)
	return nil
}

func loadRules(path string) (*calendar.Rules, error) {
	cfg := calendar.DefaultConfig()
	if path != "" {
		loaded, err := calendar.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("calendar rules: %w", err)
		}
		cfg = loaded
	}
	rules, err := calendar.NewRules(cfg)
	if err != nil {
		return nil, fmt.Errorf("calendar rules: %w", err)
	}
	return rules, nil
}

// Close releases the database and Redis clients.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("error closing redis", zap.Error(err))
		}
	}
	if a.PgPool != nil {
		a.PgPool.Close()
	}
}
