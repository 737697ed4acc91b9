package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

// PatientRef links an appointment to a patient. Records extracted from the
// remote agenda only carry the display name; ID is set when known.
type PatientRef struct {
	ID   string
	Name string
}

type Appointment struct {
	ID           uuid.UUID
	Week         int // 1 = week of the last extraction
	Date         time.Time
	Start        calendar.TimeOfDay
	End          calendar.TimeOfDay
	Resource     calendar.Resource
	Patient      PatientRef
	Practitioner string
	Room         string
	RemoteRef    string
}

// Covers reports whether t falls inside [Start, End).
func (a Appointment) Covers(t calendar.TimeOfDay) bool {
	return a.Start <= t && t < a.End
}

// Overlaps reports whether [start, end) intersects the appointment.
func (a Appointment) Overlaps(start, end calendar.TimeOfDay) bool {
	return start < a.End && a.Start < end
}

// SameDay reports whether the appointment is on the calendar day of d.
func (a Appointment) SameDay(d time.Time) bool {
	return calendar.FormatDate(a.Date) == calendar.FormatDate(d)
}

// Predicate selects appointments for update and delete.
type Predicate func(Appointment) bool

// At matches the appointment starting at date/start whose patient matches ref.
func At(date time.Time, start calendar.TimeOfDay, ref PatientRef, m Matcher) Predicate {
	return func(a Appointment) bool {
		return a.SameDay(date) && a.Start == start && m.Match(ref, a.Patient)
	}
}

// ByID matches a single appointment.
func ByID(id uuid.UUID) Predicate {
	return func(a Appointment) bool { return a.ID == id }
}
