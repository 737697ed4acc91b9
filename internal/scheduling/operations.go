package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/grid"
	"github.com/hackgods/clinic-agenda-sync/internal/journal"
	"github.com/hackgods/clinic-agenda-sync/internal/remote"
)

type CreateRequest struct {
	Patient appointment.PatientRef
	Date    time.Time
	Time    calendar.TimeOfDay
	// Resource pins the agenda; zero takes the free one, primary first.
	Resource calendar.Resource
	Notes    string
}

type RescheduleRequest struct {
	Patient  appointment.PatientRef
	Date     time.Time
	Time     calendar.TimeOfDay
	NewDate  time.Time
	NewTime  calendar.TimeOfDay
	Resource calendar.Resource
	Notes    string
}

type CancelRequest struct {
	Patient appointment.PatientRef
	Date    time.Time
	Time    calendar.TimeOfDay
}

// Result describes a finished operation. Trace ends in a terminal state
// whether or not the operation succeeded.
type Result struct {
	Op          Op
	Appointment appointment.Appointment
	Previous    *appointment.Appointment
	Trace       []State
}

// Create books a free slot on the remote agenda, then records it locally.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (Result, error) {
	m := newMachine(OpCreate, e.logger)
	res := Result{Op: OpCreate}

	err := e.write(ctx, m, func(ctx context.Context) error {
		if req.Patient.Name == "" {
			return fmt.Errorf("%w: the booking needs the patient's name", ErrInvalidInput)
		}
		if err := e.validateDate(req.Date); err != nil {
			return err
		}

		slot, err := e.pickSlot(req.Date, req.Time, req.Resource, uuid.Nil)
		if err != nil {
			return err
		}
		if err := m.to(ResourceIdentified, slotFields(req.Date, slot)...); err != nil {
			return err
		}

		appt, err := e.assign(req.Date, slot)
		if err != nil {
			return err
		}
		appt.Patient = req.Patient
		if err := m.to(SlotChosen, slotFields(req.Date, slot)...); err != nil {
			return err
		}

		if err := e.ensureSession(ctx); err != nil {
			return err
		}
		form, err := e.remote.OpenBookingForm(ctx, appt.Date, appt.Start, appt.Resource)
		if err != nil {
			return e.remoteFailure("open booking form", err)
		}
		ref, err := e.submit(ctx, form, appt, req.Notes, uuid.Nil)
		if err != nil {
			return err
		}
		appt.RemoteRef = ref
		if err := m.to(RemoteConfirmed, zap.String("remote_ref", ref)); err != nil {
			return err
		}

		saved, err := e.store.Insert(appt)
		if err != nil {
			return e.drift(ctx, OpCreate, appt, err)
		}
		res.Appointment = saved
		if err := m.to(LocalCommitted, zap.String("appointment_id", saved.ID.String())); err != nil {
			return err
		}
		e.record(ctx, journal.EventAppointmentCommitted, idOf(saved), payload(saved))
		return nil
	})
	res.Trace = m.history()
	return res, err
}

// Reschedule moves an existing appointment to a free slot, remote first.
func (e *Engine) Reschedule(ctx context.Context, req RescheduleRequest) (Result, error) {
	m := newMachine(OpReschedule, e.logger)
	res := Result{Op: OpReschedule}

	err := e.write(ctx, m, func(ctx context.Context) error {
		if err := validatePatient(req.Patient); err != nil {
			return err
		}
		if req.Date.IsZero() {
			return fmt.Errorf("%w: missing current date", ErrInvalidInput)
		}
		if err := e.validateDate(req.NewDate); err != nil {
			return err
		}

		target, err := e.locate(req.Date, req.Time, req.Patient)
		if err != nil {
			return err
		}
		prev := target
		res.Previous = &prev
		if err := m.to(TargetLocated, zap.String("appointment_id", target.ID.String())); err != nil {
			return err
		}

		slot, err := e.pickSlot(req.NewDate, req.NewTime, req.Resource, target.ID)
		if err != nil {
			return err
		}
		moved, err := e.assign(req.NewDate, slot)
		if err != nil {
			return err
		}
		moved.ID = target.ID
		moved.Patient = target.Patient

		if err := e.ensureSession(ctx); err != nil {
			return err
		}
		ref, err := e.remoteRef(ctx, target)
		if err != nil {
			return err
		}
		form, err := e.remote.OpenExistingBooking(ctx, ref)
		if err != nil {
			return e.remoteFailure("open existing booking", err)
		}
		newRef, err := e.submit(ctx, form, moved, req.Notes, target.ID)
		if err != nil {
			return err
		}
		moved.RemoteRef = newRef
		if err := m.to(RemoteUpdated, slotFields(req.NewDate, slot)...); err != nil {
			return err
		}

		n, err := e.store.Update(appointment.ByID(target.ID), func(a *appointment.Appointment) {
			a.Week = moved.Week
			a.Date = moved.Date
			a.Start = moved.Start
			a.End = moved.End
			a.Resource = moved.Resource
			a.Practitioner = moved.Practitioner
			a.Room = moved.Room
			a.RemoteRef = moved.RemoteRef
		})
		if err == nil && n == 0 {
			err = fmt.Errorf("appointment %s vanished from the local store", target.ID)
		}
		if err != nil {
			return e.drift(ctx, OpReschedule, moved, err)
		}
		res.Appointment = moved
		if err := m.to(LocalUpdated); err != nil {
			return err
		}
		p := payload(moved)
		p["from_date"] = calendar.FormatDate(target.Date)
		p["from_start"] = target.Start.String()
		e.record(ctx, journal.EventAppointmentUpdated, idOf(moved), p)
		return nil
	})
	res.Trace = m.history()
	return res, err
}

// Cancel deletes an appointment on the remote agenda, then locally.
func (e *Engine) Cancel(ctx context.Context, req CancelRequest) (Result, error) {
	m := newMachine(OpCancel, e.logger)
	res := Result{Op: OpCancel}

	err := e.write(ctx, m, func(ctx context.Context) error {
		if err := validatePatient(req.Patient); err != nil {
			return err
		}
		if req.Date.IsZero() {
			return fmt.Errorf("%w: missing date", ErrInvalidInput)
		}

		target, err := e.locate(req.Date, req.Time, req.Patient)
		if err != nil {
			return err
		}
		res.Appointment = target
		if err := m.to(TargetLocated, zap.String("appointment_id", target.ID.String())); err != nil {
			return err
		}

		if err := e.ensureSession(ctx); err != nil {
			return err
		}
		ref, err := e.remoteRef(ctx, target)
		if err != nil {
			return err
		}
		if err := e.remote.CancelBooking(ctx, ref); err != nil {
			return e.remoteFailure("cancel booking", err)
		}
		if err := m.to(RemoteCancelled, zap.String("remote_ref", ref)); err != nil {
			return err
		}

		n, err := e.store.Delete(appointment.ByID(target.ID))
		if err == nil && n == 0 {
			err = fmt.Errorf("appointment %s vanished from the local store", target.ID)
		}
		if err != nil {
			return e.drift(ctx, OpCancel, target, err)
		}
		if err := m.to(LocalDeleted); err != nil {
			return err
		}
		e.record(ctx, journal.EventAppointmentDeleted, idOf(target), payload(target))
		return nil
	})
	res.Trace = m.history()
	return res, err
}

// write runs a mutating operation under the session lock. Any failure
// aborts the machine and is journaled.
func (e *Engine) write(ctx context.Context, m *machine, fn func(ctx context.Context) error) error {
	err := e.exclusive(ctx, func(ctx context.Context) error {
		e.resumeIfRebuilt()
		if e.halted != nil {
			return fmt.Errorf("%w: %w", ErrHalted, e.halted)
		}
		return fn(ctx)
	})
	if err == nil {
		return nil
	}
	from := m.state()
	err = m.abort(err)
	e.record(ctx, journal.EventOperationAborted, nil, map[string]any{
		"op":    string(m.op),
		"state": string(from),
		"error": err.Error(),
	})
	return err
}

// pickSlot finds the slot at t on date, skipping the appointment being
// moved. The grid is recomputed from the store on every call.
func (e *Engine) pickSlot(date time.Time, t calendar.TimeOfDay, res calendar.Resource, skip uuid.UUID) (grid.Slot, error) {
	appts, err := e.dayAppointments(date)
	if err != nil {
		return grid.Slot{}, err
	}
	if skip != uuid.Nil {
		kept := appts[:0:0]
		for _, a := range appts {
			if a.ID != skip {
				kept = append(kept, a)
			}
		}
		appts = kept
	}
	slots := grid.Compute(e.rules, date, appts)

	var (
		slot grid.Slot
		ok   bool
	)
	if res == 0 {
		slot, ok = grid.Find(slots, t)
	} else {
		for _, s := range slots {
			if s.Start == t && s.Resource == res {
				slot, ok = s, true
				break
			}
		}
	}
	if !ok {
		return grid.Slot{}, fmt.Errorf("%w: no slot at %s on %s", ErrNotFound, t, calendar.FormatDate(date))
	}
	if !slot.Free {
		return grid.Slot{}, fmt.Errorf("%w: %s on %s agenda %s is taken", ErrSlotUnavailable, t, calendar.FormatDate(date), slot.Resource)
	}
	// the grid only looks at slot starts; bookings made off the grid on
	// the platform can still cut into the interval
	for _, a := range appts {
		if a.Resource == slot.Resource && a.Overlaps(slot.Start, slot.End) {
			return grid.Slot{}, fmt.Errorf("%w: %s-%s on %s agenda %s overlaps %s-%s",
				ErrSlotUnavailable, slot.Start, slot.End, calendar.FormatDate(date), slot.Resource, a.Start, a.End)
		}
	}
	return slot, nil
}

// assign derives practitioner, room and week index for slot on date.
func (e *Engine) assign(date time.Time, slot grid.Slot) (appointment.Appointment, error) {
	day := date.Weekday()
	practitioner, err := e.rules.Practitioner(day, slot.Start, slot.Resource)
	if err != nil {
		return appointment.Appointment{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	room, err := e.rules.Room(slot.Resource, day)
	if err != nil {
		return appointment.Appointment{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return appointment.Appointment{
		Week:         calendar.WeekIndex(e.now(), date),
		Date:         calendar.Day(date),
		Start:        slot.Start,
		End:          slot.End,
		Resource:     slot.Resource,
		Practitioner: practitioner,
		Room:         room,
	}, nil
}

// submit fills the open form, re-checks the grid and confirms. skip is the
// appointment being moved, if any.
func (e *Engine) submit(ctx context.Context, form remote.Form, a appointment.Appointment, notes string, skip uuid.UUID) (string, error) {
	err := e.remote.FillBooking(ctx, form, remote.BookingDetails{
		PatientName:  a.Patient.Name,
		Date:         a.Date,
		Time:         a.Start,
		Resource:     a.Resource,
		Practitioner: a.Practitioner,
		Room:         a.Room,
		Notes:        notes,
	})
	if err != nil {
		return "", e.remoteFailure("fill booking", err)
	}

	// the cache may have moved while the form was open
	if _, err := e.pickSlot(a.Date, a.Start, a.Resource, skip); err != nil {
		return "", err
	}

	ref, err := e.remote.ConfirmBooking(ctx, form)
	if err != nil {
		return "", e.remoteFailure("confirm booking", err)
	}
	return ref, nil
}

// locate finds the single cached appointment at date/t for patient.
func (e *Engine) locate(date time.Time, t calendar.TimeOfDay, patient appointment.PatientRef) (appointment.Appointment, error) {
	appts, err := e.dayAppointments(date)
	if err != nil {
		return appointment.Appointment{}, err
	}
	var hits []appointment.Appointment
	for _, a := range appts {
		if a.Start == t && e.matcher.Match(patient, a.Patient) {
			hits = append(hits, a)
		}
	}
	switch len(hits) {
	case 0:
		return appointment.Appointment{}, fmt.Errorf("%w: no appointment for %q at %s on %s",
			ErrNotFound, patient.Name, t, calendar.FormatDate(date))
	case 1:
		return hits[0], nil
	default:
		return appointment.Appointment{}, fmt.Errorf("%w: %d appointments for %q at %s on %s",
			ErrAmbiguous, len(hits), patient.Name, t, calendar.FormatDate(date))
	}
}

// remoteRef returns the platform reference of a, looking it up on the
// remote agenda when the cache does not carry one.
func (e *Engine) remoteRef(ctx context.Context, a appointment.Appointment) (string, error) {
	if a.RemoteRef != "" {
		return a.RemoteRef, nil
	}
	bookings, err := e.remote.FindBookings(ctx, a.Date, a.Date)
	if err != nil {
		return "", e.remoteFailure("find booking", err)
	}
	var refs []string
	for _, b := range bookings {
		res := b.Resource
		if !res.Valid() {
			res = calendar.Primary
		}
		if b.Start == a.Start && res == a.Resource && e.matcher.Match(a.Patient, appointment.PatientRef{Name: b.PatientName}) {
			refs = append(refs, b.Ref)
		}
	}
	switch len(refs) {
	case 0:
		return "", fmt.Errorf("%w: no remote booking for %q at %s on %s",
			ErrNotFound, a.Patient.Name, a.Start, calendar.FormatDate(a.Date))
	case 1:
		return refs[0], nil
	default:
		return "", fmt.Errorf("%w: %d remote bookings for %q at %s on %s",
			ErrAmbiguous, len(refs), a.Patient.Name, a.Start, calendar.FormatDate(a.Date))
	}
}

func validatePatient(p appointment.PatientRef) error {
	if p.ID == "" && p.Name == "" {
		return fmt.Errorf("%w: missing patient", ErrInvalidInput)
	}
	return nil
}

func slotFields(date time.Time, s grid.Slot) []zap.Field {
	return []zap.Field{
		zap.String("date", calendar.FormatDate(date)),
		zap.String("time", s.Start.String()),
		zap.String("agenda", s.Resource.String()),
	}
}
