// Package scheduling books, moves and cancels appointments on the remote
// clinic agenda and mirrors each decision into the local cache. The remote
// write always happens first; the local store is only touched after the
// platform has acknowledged it.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/grid"
	"github.com/hackgods/clinic-agenda-sync/internal/journal"
	redisclient "github.com/hackgods/clinic-agenda-sync/internal/redis"
	"github.com/hackgods/clinic-agenda-sync/internal/remote"
)

// SessionLocker guards the remote session across processes.
type SessionLocker interface {
	WithSessionLock(ctx context.Context, fn func(ctx context.Context) error) error
}

type Options struct {
	Locker  SessionLocker
	Journal journal.Journal
	Matcher appointment.Matcher
	Logger  *zap.Logger
	Now     func() time.Time
}

// Engine runs one scheduling operation at a time.
type Engine struct {
	rules   *calendar.Rules
	store   appointment.Repository
	remote  remote.Service
	locker  SessionLocker
	journal journal.Journal
	matcher appointment.Matcher
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	loggedIn bool
	halted   error
	// rebuild stamp of the store when the engine halted
	haltedAt time.Time
}

func New(rules *calendar.Rules, store appointment.Repository, svc remote.Service, opts Options) *Engine {
	e := &Engine{
		rules:   rules,
		store:   store,
		remote:  svc,
		locker:  opts.Locker,
		journal: opts.Journal,
		matcher: opts.Matcher,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.journal == nil {
		e.journal = journal.NewLogJournal(e.logger)
	}
	if e.matcher == nil {
		e.matcher = appointment.NameTokenMatcher{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

func (e *Engine) Rules() *calendar.Rules { return e.rules }

// Halted returns the reason writes are refused, or nil.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeIfRebuilt()
	return e.halted
}

// resumeIfRebuilt clears a halt once another process, usually the refresh
// worker, has rebuilt the store since the drift.
func (e *Engine) resumeIfRebuilt() {
	if e.halted == nil {
		return
	}
	stamp, err := e.store.LastRebuilt()
	if err != nil {
		e.logger.Warn("cannot read store rebuild stamp", zap.Error(err))
		return
	}
	if stamp.IsZero() || stamp.Equal(e.haltedAt) {
		return
	}
	e.logger.Info("local cache rebuilt elsewhere, engine resumed",
		zap.Time("rebuilt_at", stamp),
		zap.NamedError("halt_reason", e.halted),
	)
	e.halted = nil
	e.haltedAt = time.Time{}
}

// Availability computes the slot grid of date from the current cache.
func (e *Engine) Availability(ctx context.Context, date time.Time) ([]grid.Slot, error) {
	if date.IsZero() {
		return nil, fmt.Errorf("%w: missing date", ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	appts, err := e.dayAppointments(date)
	if err != nil {
		return nil, err
	}
	return grid.Compute(e.rules, date, appts), nil
}

// PatientAppointments lists the cached appointments of a patient in date
// order, for the operator to pick one to move or cancel.
func (e *Engine) PatientAppointments(ctx context.Context, ref appointment.PatientRef) ([]appointment.Appointment, error) {
	if ref.ID == "" && ref.Name == "" {
		return nil, fmt.Errorf("%w: missing patient", ErrInvalidInput)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	appts, err := e.store.FindByPatient(ref)
	if err != nil {
		return nil, e.readFailure(err)
	}
	sort.SliceStable(appts, func(i, j int) bool {
		if !appts[i].Date.Equal(appts[j].Date) {
			return appts[i].Date.Before(appts[j].Date)
		}
		return appts[i].Start < appts[j].Start
	})
	return appts, nil
}

// Refresh replaces the cache with the remote bookings of the weeks starting
// at the week of from. A successful refresh clears a halt.
func (e *Engine) Refresh(ctx context.Context, from time.Time, weeks int) (int, error) {
	if from.IsZero() || weeks < 1 {
		return 0, fmt.Errorf("%w: refresh needs a start date and at least one week", ErrInvalidInput)
	}
	start := calendar.WeekStart(from)
	end := start.AddDate(0, 0, 7*weeks-1)

	var count int
	err := e.exclusive(ctx, func(ctx context.Context) error {
		if err := e.ensureSession(ctx); err != nil {
			return err
		}
		bookings, err := e.remote.FindBookings(ctx, start, end)
		if err != nil {
			if remote.Unavailable(err) {
				e.loggedIn = false
			}
			return fmt.Errorf("%w: find bookings: %w", ErrRemoteUnavailable, err)
		}

		list := make([]appointment.Appointment, 0, len(bookings))
		for _, b := range bookings {
			list = append(list, e.fromBooking(start, b))
		}
		if err := e.store.Replace(list); err != nil {
			e.logger.Error("refresh could not write the local cache", zap.Error(err))
			return fmt.Errorf("%w: %w", ErrLocalPersistenceCorrupt, err)
		}

		if e.halted != nil {
			e.logger.Info("local cache rebuilt, engine resumed", zap.NamedError("halt_reason", e.halted))
		}
		e.halted = nil
		e.haltedAt = time.Time{}
		count = len(list)
		e.record(ctx, journal.EventCacheRefreshed, nil, map[string]any{
			"from":     calendar.FormatDate(start),
			"to":       calendar.FormatDate(end),
			"bookings": count,
		})
		return nil
	})
	return count, err
}

func (e *Engine) fromBooking(ref time.Time, b remote.Booking) appointment.Appointment {
	res := b.Resource
	if !res.Valid() {
		res = calendar.Primary
	}
	end := b.End
	if end <= b.Start {
		end = b.Start.Add(e.rules.SlotLength())
	}
	practitioner, room := b.Practitioner, b.Room
	if practitioner == "" {
		practitioner, _ = e.rules.Practitioner(b.Date.Weekday(), b.Start, res)
	}
	if room == "" {
		room, _ = e.rules.Room(res, b.Date.Weekday())
	}
	return appointment.Appointment{
		Week:         calendar.WeekIndex(ref, b.Date),
		Date:         calendar.Day(b.Date),
		Start:        b.Start,
		End:          end,
		Resource:     res,
		Patient:      appointment.PatientRef{Name: b.PatientName},
		Practitioner: practitioner,
		Room:         room,
		RemoteRef:    b.Ref,
	}
}

// exclusive serializes operations in this process and, when configured,
// across processes sharing the remote account.
func (e *Engine) exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.locker == nil {
		return fn(ctx)
	}
	err := e.locker.WithSessionLock(ctx, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
	}
	return err
}

func (e *Engine) ensureSession(ctx context.Context) error {
	if e.loggedIn {
		return nil
	}
	if err := e.remote.Login(ctx); err != nil {
		return fmt.Errorf("%w: login: %w", ErrRemoteUnavailable, err)
	}
	e.loggedIn = true
	return nil
}

// remoteFailure classifies a failed call made while carrying out a booking
// change.
func (e *Engine) remoteFailure(step string, err error) error {
	switch {
	case remote.Unavailable(err):
		e.loggedIn = false
		return fmt.Errorf("%w: %s: %w", ErrRemoteUnavailable, step, err)
	case errors.Is(err, remote.ErrNoAnchor):
		return fmt.Errorf("%w: %s: %w", ErrSlotUnavailable, step, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrRemoteWriteFailed, step, err)
	}
}

func (e *Engine) readFailure(err error) error {
	e.logger.Error("local appointment store unreadable", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrLocalPersistenceCorrupt, err)
}

// drift halts the engine after the remote agenda changed but the local
// store could not follow. Only Refresh clears it.
func (e *Engine) drift(ctx context.Context, op Op, a appointment.Appointment, err error) error {
	e.halted = fmt.Errorf("%s on %s at %s: %w", op, calendar.FormatDate(a.Date), a.Start, err)
	if stamp, serr := e.store.LastRebuilt(); serr == nil {
		e.haltedAt = stamp
	}
	e.logger.Error("local cache diverged from remote agenda",
		zap.String("op", string(op)),
		zap.String("date", calendar.FormatDate(a.Date)),
		zap.String("time", a.Start.String()),
		zap.String("agenda", a.Resource.String()),
		zap.Error(err),
	)
	p := payload(a)
	p["op"] = string(op)
	p["error"] = err.Error()
	e.record(ctx, journal.EventLocalDrift, idOf(a), p)
	return fmt.Errorf("%w: %w", ErrLocalPersistenceCorrupt, err)
}

func (e *Engine) record(ctx context.Context, typ string, id *uuid.UUID, p map[string]any) {
	ev := journal.Event{Type: typ, AppointmentID: id, Payload: p, CreatedAt: e.now()}
	if err := e.journal.Append(context.WithoutCancel(ctx), ev); err != nil {
		e.logger.Warn("failed to append journal event", zap.String("event", typ), zap.Error(err))
	}
}

func (e *Engine) dayAppointments(date time.Time) ([]appointment.Appointment, error) {
	appts, err := e.store.FindByDate(date)
	if err != nil {
		return nil, e.readFailure(err)
	}
	return appts, nil
}

// validateDate rejects dates the clinic cannot book: missing, past or
// closed days.
func (e *Engine) validateDate(date time.Time) error {
	if date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidInput)
	}
	if calendar.Day(date).Before(calendar.Day(e.now())) {
		return fmt.Errorf("%w: %s is in the past", ErrInvalidInput, calendar.FormatDate(date))
	}
	if !e.rules.Open(date) {
		return fmt.Errorf("%w: the clinic is closed on %s", ErrInvalidInput, date.Weekday())
	}
	return nil
}

func payload(a appointment.Appointment) map[string]any {
	return map[string]any{
		"date":         calendar.FormatDate(a.Date),
		"start":        a.Start.String(),
		"end":          a.End.String(),
		"agenda":       a.Resource.String(),
		"patient":      a.Patient.Name,
		"patient_id":   a.Patient.ID,
		"practitioner": a.Practitioner,
		"room":         a.Room,
		"remote_ref":   a.RemoteRef,
	}
}

func idOf(a appointment.Appointment) *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
