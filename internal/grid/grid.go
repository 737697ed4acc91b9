// Package grid computes the bookable slots of a day from the calendar rules
// and the appointments already on it.
package grid

import (
	"time"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

// Slot is one bookable unit on one agenda. Slots are derived and never
// stored.
type Slot struct {
	Start    calendar.TimeOfDay
	End      calendar.TimeOfDay
	Resource calendar.Resource
	HalfDay  calendar.HalfDay
	Free     bool
}

// Compute returns the slots of date in chronological order, primary agenda
// first at equal start times. The secondary window of a half-day is listed
// only when every primary slot of that half-day is occupied. Appointments on
// other dates are ignored.
func Compute(rules *calendar.Rules, date time.Time, appts []appointment.Appointment) []Slot {
	length := rules.SlotLength()
	var sameDay []appointment.Appointment
	for _, a := range appts {
		if a.SameDay(date) {
			sameDay = append(sameDay, a)
		}
	}

	var out []Slot
	for _, plan := range rules.Sessions(date) {
		primary := window(plan.Primary, length, calendar.Primary, plan.HalfDay, sameDay)
		if len(primary) > 0 && plan.Secondary != nil && !anyFree(primary) {
			secondary := window(*plan.Secondary, length, calendar.Secondary, plan.HalfDay, sameDay)
			primary = merge(primary, secondary)
		}
		out = append(out, primary...)
	}
	return out
}

// Free filters slots down to the free ones.
func Free(slots []Slot) []Slot {
	var out []Slot
	for _, s := range slots {
		if s.Free {
			out = append(out, s)
		}
	}
	return out
}

// Find returns the slot starting at t. When both agendas list t the free
// one wins, primary first.
func Find(slots []Slot, t calendar.TimeOfDay) (Slot, bool) {
	var (
		found Slot
		ok    bool
	)
	for _, s := range slots {
		if s.Start != t {
			continue
		}
		if s.Free {
			return s, true
		}
		if !ok {
			found, ok = s, true
		}
	}
	return found, ok
}

func window(w calendar.Window, length time.Duration, res calendar.Resource, half calendar.HalfDay, appts []appointment.Appointment) []Slot {
	var out []Slot
	for start := w.Open; start.Add(length) <= w.Close; start = start.Add(length) {
		out = append(out, Slot{
			Start:    start,
			End:      start.Add(length),
			Resource: res,
			HalfDay:  half,
			Free:     !occupied(appts, res, start),
		})
	}
	return out
}

func occupied(appts []appointment.Appointment, res calendar.Resource, t calendar.TimeOfDay) bool {
	for _, a := range appts {
		if a.Resource == res && a.Covers(t) {
			return true
		}
	}
	return false
}

func anyFree(slots []Slot) bool {
	for _, s := range slots {
		if s.Free {
			return true
		}
	}
	return false
}

// merge interleaves two chronological slot lists; a wins ties.
func merge(a, b []Slot) []Slot {
	out := make([]Slot, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if b[j].Start < a[i].Start {
			out = append(out, b[j])
			j++
			continue
		}
		out = append(out, a[i])
		i++
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
