package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

var (
	monday   = time.Date(2025, time.May, 5, 0, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC)
)

func booked(date time.Time, h, m int, res calendar.Resource) appointment.Appointment {
	start := calendar.Clock(h, m)
	return appointment.Appointment{
		Date:     date,
		Start:    start,
		End:      start.Add(45 * time.Minute),
		Resource: res,
		Patient:  appointment.PatientRef{Name: "Booked Patient"},
	}
}

func times(slots []Slot, half calendar.HalfDay, res calendar.Resource) []string {
	var out []string
	for _, s := range slots {
		if s.HalfDay == half && s.Resource == res {
			out = append(out, s.Start.String())
		}
	}
	return out
}

func fullMorning(date time.Time) []appointment.Appointment {
	var out []appointment.Appointment
	for _, t := range [][2]int{{10, 15}, {11, 0}, {11, 45}, {12, 30}, {13, 15}} {
		out = append(out, booked(date, t[0], t[1], calendar.Primary))
	}
	return out
}

func TestCompute_ClosedDaysAreEmpty(t *testing.T) {
	rules := calendar.MustDefaultRules()
	assert.Empty(t, Compute(rules, saturday, nil))
	assert.Empty(t, Compute(rules, saturday.AddDate(0, 0, 1), nil))
}

func TestCompute_MondayWithOneBooking(t *testing.T) {
	rules := calendar.MustDefaultRules()
	slots := Compute(rules, monday, []appointment.Appointment{booked(monday, 10, 15, calendar.Primary)})

	morning := times(slots, calendar.Morning, calendar.Primary)
	assert.Equal(t, []string{"10:15", "11:00", "11:45", "12:30", "13:15"}, morning)
	assert.Empty(t, times(slots, calendar.Morning, calendar.Secondary))

	for _, s := range slots {
		if s.HalfDay != calendar.Morning {
			continue
		}
		assert.Equal(t, s.Start != calendar.Clock(10, 15), s.Free, s.Start.String())
	}
	assert.Equal(t, []string{"15:00", "15:45", "16:30", "17:15", "18:00", "18:45", "19:30"},
		times(slots, calendar.Afternoon, calendar.Primary))
}

func TestCompute_FullPrimaryOpensSecondary(t *testing.T) {
	rules := calendar.MustDefaultRules()
	slots := Compute(rules, monday, fullMorning(monday))

	assert.Equal(t, []string{"10:30", "11:15", "12:00", "12:45"}, times(slots, calendar.Morning, calendar.Secondary))
	for _, s := range Free(slots) {
		if s.HalfDay == calendar.Morning {
			assert.Equal(t, calendar.Secondary, s.Resource)
		}
	}
	// afternoon primary still has room
	assert.Empty(t, times(slots, calendar.Afternoon, calendar.Secondary))
}

func TestCompute_OrderIsChronologicalPrimaryFirst(t *testing.T) {
	rules := calendar.MustDefaultRules()
	slots := Compute(rules, monday, fullMorning(monday))

	for i := 1; i < len(slots); i++ {
		prev, cur := slots[i-1], slots[i]
		require.LessOrEqual(t, prev.Start, cur.Start)
		if prev.Start == cur.Start {
			assert.Equal(t, calendar.Primary, prev.Resource)
		}
	}
	assert.Equal(t, "10:15", slots[0].Start.String())
	assert.Equal(t, "10:30", slots[1].Start.String())
	assert.Equal(t, calendar.Secondary, slots[1].Resource)
}

func TestCompute_SecondaryOnlyOnEligibleDays(t *testing.T) {
	rules := calendar.MustDefaultRules()
	tuesday := monday.AddDate(0, 0, 1)
	thursday := monday.AddDate(0, 0, 3)

	assert.Empty(t, times(Compute(rules, tuesday, fullMorning(tuesday)), calendar.Morning, calendar.Secondary))
	assert.Equal(t, []string{"10:30", "11:15", "12:00", "12:45"},
		times(Compute(rules, thursday, fullMorning(thursday)), calendar.Morning, calendar.Secondary))
}

func TestCompute_SecondaryOccupancy(t *testing.T) {
	rules := calendar.MustDefaultRules()
	appts := append(fullMorning(monday), booked(monday, 11, 15, calendar.Secondary))
	slots := Compute(rules, monday, appts)

	s, ok := Find(slots, calendar.Clock(11, 15))
	require.True(t, ok)
	assert.False(t, s.Free)
	assert.Equal(t, calendar.Secondary, s.Resource)

	s, ok = Find(slots, calendar.Clock(12, 0))
	require.True(t, ok)
	assert.True(t, s.Free)
}

func TestCompute_IgnoresOtherDates(t *testing.T) {
	rules := calendar.MustDefaultRules()
	slots := Compute(rules, monday, fullMorning(monday.AddDate(0, 0, 7)))
	assert.Empty(t, times(slots, calendar.Morning, calendar.Secondary))
	assert.Len(t, Free(slots), 12)
}

func TestCompute_OffGridBookingCoversSlotStart(t *testing.T) {
	rules := calendar.MustDefaultRules()
	// a 10:45 booking covers the 11:00 slot start but not 10:15
	slots := Compute(rules, monday, []appointment.Appointment{booked(monday, 10, 45, calendar.Primary)})

	s, _ := Find(slots, calendar.Clock(10, 15))
	assert.True(t, s.Free)
	s, _ = Find(slots, calendar.Clock(11, 0))
	assert.False(t, s.Free)
}

func TestFind_Missing(t *testing.T) {
	slots := Compute(calendar.MustDefaultRules(), monday, nil)
	_, ok := Find(slots, calendar.Clock(10, 30))
	assert.False(t, ok)
}
