package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/grid"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	freeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	takenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Strikethrough(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// renderSlots lists a day's grid grouped by half-day. Taken slots are
// struck through so the operator only types a free time.
func renderSlots(date string, slots []grid.Slot) string {
	if len(slots) == 0 {
		return errorStyle.Render(fmt.Sprintf("The clinic is closed on %s.", date)) + "\n"
	}

	var lines []string
	var half calendar.HalfDay
	for _, s := range slots {
		if s.HalfDay != half {
			half = s.HalfDay
			lines = append(lines, titleStyle.Render(strings.ToUpper(string(half[:1]))+string(half[1:])))
		}
		label := fmt.Sprintf("%s-%s  agenda %s", s.Start, s.End, s.Resource)
		if s.Free {
			lines = append(lines, "  "+freeStyle.Render(label))
		} else {
			lines = append(lines, "  "+takenStyle.Render(label)+" "+dimStyle.Render("taken"))
		}
	}

	free := len(grid.Free(slots))
	header := titleStyle.Render("Availability " + date)
	footer := dimStyle.Render(fmt.Sprintf("%d of %d slots free", free, len(slots)))
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, strings.Join(lines, "\n"), footer)) + "\n"
}

func renderAppointments(appts []appointment.Appointment) string {
	if len(appts) == 0 {
		return dimStyle.Render("No appointments.") + "\n"
	}
	lines := make([]string, 0, len(appts))
	for i, a := range appts {
		lines = append(lines, fmt.Sprintf("%2d. %s", i+1, describeAppointment(a)))
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func renderPatients(records []patient.Record) string {
	lines := make([]string, 0, len(records))
	for i, r := range records {
		lines = append(lines, fmt.Sprintf("%2d. %s  %s  %s  %s",
			i+1, titleStyle.Render(r.ID), r.FullName(), dimStyle.Render(r.Email), dimStyle.Render(r.Phone)))
	}
	return boxStyle.Render(strings.Join(lines, "\n")) + "\n"
}

func renderResult(res scheduling.Result) string {
	var verb string
	switch res.Op {
	case scheduling.OpCreate:
		verb = "Booked"
	case scheduling.OpReschedule:
		verb = "Moved"
	case scheduling.OpCancel:
		verb = "Cancelled"
	}
	out := freeStyle.Render(verb) + " " + describeAppointment(res.Appointment)
	if res.Previous != nil {
		out += "\n" + dimStyle.Render("was "+describeAppointment(*res.Previous))
	}
	return out + "\n"
}

func renderError(err error) string {
	return errorStyle.Render("Error:") + " " + err.Error() + "\n"
}

func describeAppointment(a appointment.Appointment) string {
	return fmt.Sprintf("%s %s %s-%s  %s  (agenda %s, %s, %s)",
		a.Date.Weekday().String()[:3], calendar.FormatDate(a.Date), a.Start, a.End,
		a.Patient.Name, a.Resource, a.Practitioner, a.Room)
}
