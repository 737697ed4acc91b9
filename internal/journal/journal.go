// Package journal records the outcome of every scheduling operation.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	EventAppointmentCommitted = "APPOINTMENT_COMMITTED"
	EventAppointmentUpdated   = "APPOINTMENT_UPDATED"
	EventAppointmentDeleted   = "APPOINTMENT_DELETED"
	EventOperationAborted     = "OPERATION_ABORTED"
	EventLocalDrift           = "LOCAL_DRIFT"
	EventCacheRefreshed       = "CACHE_REFRESHED"
)

type Event struct {
	Type          string
	AppointmentID *uuid.UUID
	Payload       map[string]any
	CreatedAt     time.Time
}

// Journal appends events. Failures are reported but never undo the
// operation that produced the event.
type Journal interface {
	Append(ctx context.Context, ev Event) error
}

// PgJournal writes to the event_logs table.
type PgJournal struct {
	pool *pgxpool.Pool
}

func NewPgJournal(pool *pgxpool.Pool) *PgJournal {
	return &PgJournal{pool: pool}
}

func (j *PgJournal) Append(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = j.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.Type, ev.AppointmentID, payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// LogJournal writes events to a logger only.
type LogJournal struct {
	logger *zap.Logger
}

func NewLogJournal(logger *zap.Logger) *LogJournal {
	return &LogJournal{logger: logger}
}

func (j *LogJournal) Append(_ context.Context, ev Event) error {
	fields := []zap.Field{zap.String("event", ev.Type), zap.Any("payload", ev.Payload)}
	if ev.AppointmentID != nil {
		fields = append(fields, zap.String("appointment_id", ev.AppointmentID.String()))
	}
	j.logger.Info("journal", fields...)
	return nil
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Append(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
