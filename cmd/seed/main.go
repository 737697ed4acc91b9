package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/config"
	"github.com/hackgods/clinic-agenda-sync/internal/db"
	"github.com/hackgods/clinic-agenda-sync/internal/logging"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
)

const defaultCount = 50

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, "console", "seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	count := defaultCount
	if v := os.Getenv("SEED_PATIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = n
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var src patient.Source
	if cfg.PostgresDSN != "" {
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "clinic-agenda-seed")
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("postgres schema", zap.Error(err))
		}
		src = patient.NewPgSource(pool)
		logger.Info("seeding postgres patient directory", zap.Int("count", count))
	} else {
		src = patient.NewXLSXSource(cfg.PatientsPath)
		logger.Info("seeding patient spreadsheet", zap.String("path", cfg.PatientsPath), zap.Int("count", count))
	}

	dir := patient.NewDirectory(src, logger)
	faker := gofakeit.New(time.Now().UnixNano())

	added := 0
	for _, r := range fakePatients(faker, count) {
		warnings, err := dir.Register(ctx, r)
		if errors.Is(err, patient.ErrDuplicateID) {
			continue
		}
		if err != nil {
			logger.Fatal("register patient", zap.String("patient_id", r.ID), zap.Error(err))
		}
		for _, w := range warnings {
			logger.Warn(w)
		}
		added++
	}

	logger.Info("seed complete", zap.Int("added", added))
}

// fakePatients builds records with national-identifier style IDs. Every
// tenth patient shares the previous one's email, as families do.
func fakePatients(faker *gofakeit.Faker, count int) []patient.Record {
	out := make([]patient.Record, 0, count)
	for i := 0; i < count; i++ {
		family := faker.LastName() + " " + faker.LastName()
		r := patient.Record{
			ID:         faker.Numerify("########") + strings.ToUpper(faker.Letter()),
			GivenName:  faker.FirstName(),
			FamilyName: family,
			Email:      faker.Email(),
			Phone:      faker.Numerify("6########"),
		}
		if i%10 == 9 {
			r.Email = out[i-1].Email
		}
		out = append(out, r)
	}
	return out
}
