package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

type Op string

const (
	OpLogin        Op = "login"
	OpFind         Op = "find_bookings"
	OpOpenForm     Op = "open_booking_form"
	OpOpenExisting Op = "open_existing_booking"
	OpFill         Op = "fill_booking"
	OpConfirm      Op = "confirm_booking"
	OpCancel       Op = "cancel_booking"
)

// Memory is an in-process stand-in for the clinic platform, used by the
// sandbox mode of the binaries and by tests. Failures can be queued per
// operation with Fail.
type Memory struct {
	mu       sync.Mutex
	slot     time.Duration
	loggedIn bool
	bookings map[string]Booking
	forms    map[string]*memoryForm
	faults   map[Op][]error
	calls    []Op
}

type memoryForm struct {
	form    Form
	details *BookingDetails
}

var _ Service = (*Memory)(nil)

func NewMemory(slot time.Duration) *Memory {
	return &Memory{
		slot:     slot,
		bookings: make(map[string]Booking),
		forms:    make(map[string]*memoryForm),
		faults:   make(map[Op][]error),
	}
}

// Fail queues errs for the next calls of op, one per call.
func (m *Memory) Fail(op Op, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

// Seed stores bookings as if they had been made on the platform.
func (m *Memory) Seed(bookings ...Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range bookings {
		if b.Ref == "" {
			b.Ref = uuid.NewString()
		}
		m.bookings[b.Ref] = b
	}
}

// Reset drops every booking and stores bookings in their place.
func (m *Memory) Reset(bookings ...Booking) {
	m.mu.Lock()
	m.bookings = make(map[string]Booking, len(bookings))
	m.mu.Unlock()
	m.Seed(bookings...)
}

// Bookings returns every stored booking ordered by date and time.
func (m *Memory) Bookings() []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(Booking) bool { return true })
}

// Calls returns the operations issued so far, including failed ones.
func (m *Memory) Calls() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Op, len(m.calls))
	copy(out, m.calls)
	return out
}

// DropSession forces the next call to fail as if the session expired.
func (m *Memory) DropSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loggedIn = false
}

func (m *Memory) enter(ctx context.Context, op Op) error {
	m.calls = append(m.calls, op)
	if err := ctx.Err(); err != nil {
		return err
	}
	if q := m.faults[op]; len(q) > 0 {
		m.faults[op] = q[1:]
		if q[0] != nil {
			return q[0]
		}
	}
	if op != OpLogin && !m.loggedIn {
		return ErrSessionLost
	}
	return nil
}

func (m *Memory) Login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpLogin); err != nil {
		return err
	}
	m.loggedIn = true
	return nil
}

func (m *Memory) FindBookings(ctx context.Context, from, to time.Time) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpFind); err != nil {
		return nil, err
	}
	lo, hi := calendar.Day(from), calendar.Day(to)
	return m.sorted(func(b Booking) bool {
		d := calendar.Day(b.Date)
		return !d.Before(lo) && !d.After(hi)
	}), nil
}

func (m *Memory) OpenBookingForm(ctx context.Context, date time.Time, anchor calendar.TimeOfDay, res calendar.Resource) (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpOpenForm); err != nil {
		return Form{}, err
	}
	if m.taken(date, anchor, res, "") {
		return Form{}, fmt.Errorf("%w: %s %s agenda %s", ErrNoAnchor, calendar.FormatDate(date), anchor, res)
	}
	form := Form{ID: uuid.NewString(), Date: calendar.Day(date), Anchor: anchor, Resource: res}
	m.forms[form.ID] = &memoryForm{form: form}
	return form, nil
}

func (m *Memory) OpenExistingBooking(ctx context.Context, ref string) (Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpOpenExisting); err != nil {
		return Form{}, err
	}
	b, ok := m.bookings[ref]
	if !ok {
		return Form{}, fmt.Errorf("%w: %s", ErrUnknownBooking, ref)
	}
	form := Form{ID: uuid.NewString(), Date: b.Date, Anchor: b.Start, Resource: b.Resource, Ref: ref}
	m.forms[form.ID] = &memoryForm{form: form}
	return form, nil
}

func (m *Memory) FillBooking(ctx context.Context, form Form, details BookingDetails) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpFill); err != nil {
		return err
	}
	f, ok := m.forms[form.ID]
	if !ok {
		return fmt.Errorf("%w: unknown form %s", ErrRejected, form.ID)
	}
	if details.PatientName == "" {
		return fmt.Errorf("%w: patient name is required", ErrRejected)
	}
	f.details = &details
	return nil
}

func (m *Memory) ConfirmBooking(ctx context.Context, form Form) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpConfirm); err != nil {
		return "", err
	}
	f, ok := m.forms[form.ID]
	if !ok || f.details == nil {
		return "", fmt.Errorf("%w: form %s is not filled", ErrRejected, form.ID)
	}
	d := f.details
	date := d.Date
	if date.IsZero() {
		date = f.form.Date
	}
	if m.taken(date, d.Time, d.Resource, f.form.Ref) {
		return "", fmt.Errorf("%w: %s %s agenda %s is taken", ErrRejected, calendar.FormatDate(date), d.Time, d.Resource)
	}

	ref := f.form.Ref
	if ref == "" {
		ref = uuid.NewString()
	}
	m.bookings[ref] = Booking{
		Ref:          ref,
		Date:         calendar.Day(date),
		Start:        d.Time,
		End:          d.Time.Add(m.slot),
		Resource:     d.Resource,
		PatientName:  d.PatientName,
		Practitioner: d.Practitioner,
		Room:         d.Room,
	}
	delete(m.forms, form.ID)
	return ref, nil
}

func (m *Memory) CancelBooking(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, OpCancel); err != nil {
		return err
	}
	if _, ok := m.bookings[ref]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBooking, ref)
	}
	delete(m.bookings, ref)
	return nil
}

func (m *Memory) taken(date time.Time, t calendar.TimeOfDay, res calendar.Resource, except string) bool {
	day := calendar.FormatDate(date)
	end := t.Add(m.slot)
	for ref, b := range m.bookings {
		if ref == except || b.Resource != res || calendar.FormatDate(b.Date) != day {
			continue
		}
		if t < b.End && b.Start < end {
			return true
		}
	}
	return false
}

func (m *Memory) sorted(keep func(Booking) bool) []Booking {
	var out []Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Resource < out[j].Resource
	})
	return out
}
