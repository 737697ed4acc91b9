package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

type RouterConfig struct {
	Engine       *scheduling.Engine
	Directory    *patient.Directory
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	Logger       *zap.Logger
	RefreshWeeks int
	Now          func() time.Time
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{
		engine:       cfg.Engine,
		directory:    cfg.Directory,
		logger:       logger,
		refreshWeeks: cfg.RefreshWeeks,
		now:          cfg.Now,
	}
	if h.refreshWeeks < 1 {
		h.refreshWeeks = 2
	}
	if h.now == nil {
		h.now = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	var halts HaltReporter
	if cfg.Engine != nil {
		halts = cfg.Engine
	}
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, halts, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Directory != nil {
		r.Get("/patients", h.findPatients)
		r.Post("/patients", h.registerPatient)
	}

	r.Get("/availability", h.availability)
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", h.listAppointments)
		r.Post("/", h.createAppointment)
		r.Post("/reschedule", h.rescheduleAppointment)
		r.Post("/cancel", h.cancelAppointment)
	})
	r.Post("/sync", h.sync)

	return r
}
