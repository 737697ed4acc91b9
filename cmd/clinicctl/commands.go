package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/grid"
	"github.com/hackgods/clinic-agenda-sync/internal/patient"
	"github.com/hackgods/clinic-agenda-sync/internal/scheduling"
)

func patientCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patient",
		Short: "Find or register patients in the directory",
	}

	findCmd := &cobra.Command{
		Use:   "find <identifier-or-email>",
		Short: "Look a patient up by identifier or email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matches, err := c.app.Directory.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				return fmt.Errorf("%w: %q", patient.ErrNotFound, args[0])
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPatients(matches))
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a patient; missing fields are asked for",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r patient.Record
			r.ID, _ = cmd.Flags().GetString("id")
			r.GivenName, _ = cmd.Flags().GetString("given-name")
			r.FamilyName, _ = cmd.Flags().GetString("family-name")
			r.Email, _ = cmd.Flags().GetString("email")
			r.Phone, _ = cmd.Flags().GetString("phone")
			return c.addPatient(cmd.Context(), cmd.OutOrStdout(), r)
		},
	}
	addCmd.Flags().String("id", "", "National identifier")
	addCmd.Flags().String("given-name", "", "Given name")
	addCmd.Flags().String("family-name", "", "Family names")
	addCmd.Flags().String("email", "", "Email address")
	addCmd.Flags().String("phone", "", "Mobile phone")

	cmd.AddCommand(findCmd, addCmd)
	return cmd
}

func slotsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show the slot grid of a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date, err := calendar.ParseDate(raw)
			if err != nil {
				return err
			}
			slots, err := c.app.Engine.Availability(cmd.Context(), date)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSlots(calendar.FormatDate(date), slots))
			return nil
		},
	}
	cmd.Flags().String("date", "", "Day to show (YYYY-MM-DD or DD-MM-YYYY)")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

type bookOptions struct {
	Patient string
	Date    string
	Time    string
	Agenda  int
	Notes   string
}

func bookCmd(c *cli) *cobra.Command {
	var opts bookOptions
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment; without --time the free slots are listed to choose from",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.book(cmd.Context(), cmd.OutOrStdout(), opts)
			return c.report(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&opts.Patient, "patient", "", "Patient identifier, email or agenda name")
	cmd.Flags().StringVar(&opts.Date, "date", "", "Day to book")
	cmd.Flags().StringVar(&opts.Time, "time", "", "Slot start (HH:MM)")
	cmd.Flags().IntVar(&opts.Agenda, "agenda", 0, "Pin agenda 1 or 2")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "Notes for the booking form")
	return cmd
}

type moveOptions struct {
	Patient string
	Date    string
	Time    string
	NewDate string
	NewTime string
	Agenda  int
	Notes   string
}

func rescheduleCmd(c *cli) *cobra.Command {
	var opts moveOptions
	cmd := &cobra.Command{
		Use:   "reschedule",
		Short: "Move an appointment; without --date the patient's appointments are listed",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.reschedule(cmd.Context(), cmd.OutOrStdout(), opts)
			return c.report(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&opts.Patient, "patient", "", "Patient identifier, email or agenda name")
	cmd.Flags().StringVar(&opts.Date, "date", "", "Current day of the appointment")
	cmd.Flags().StringVar(&opts.Time, "time", "", "Current start (HH:MM)")
	cmd.Flags().StringVar(&opts.NewDate, "new-date", "", "Day to move to")
	cmd.Flags().StringVar(&opts.NewTime, "new-time", "", "Slot start to move to (HH:MM)")
	cmd.Flags().IntVar(&opts.Agenda, "agenda", 0, "Pin agenda 1 or 2")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "Notes for the booking form")
	return cmd
}

type cancelOptions struct {
	Patient string
	Date    string
	Time    string
	Yes     bool
}

func cancelCmd(c *cli) *cobra.Command {
	var opts cancelOptions
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an appointment; without --date the patient's appointments are listed",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.cancel(cmd.Context(), cmd.OutOrStdout(), opts)
			return c.report(cmd.OutOrStdout(), res, err)
		},
	}
	cmd.Flags().StringVar(&opts.Patient, "patient", "", "Patient identifier, email or agenda name")
	cmd.Flags().StringVar(&opts.Date, "date", "", "Day of the appointment")
	cmd.Flags().StringVar(&opts.Time, "time", "", "Start of the appointment (HH:MM)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func listCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a patient's cached appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("patient")
			if err := c.prompt.fill(&token, "Patient (identifier, email or name)"); err != nil {
				return err
			}
			ref, err := c.resolvePatient(cmd.Context(), cmd.OutOrStdout(), token)
			if err != nil {
				return err
			}
			appts, err := c.app.Engine.PatientAppointments(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderAppointments(appts))
			return nil
		},
	}
	cmd.Flags().String("patient", "", "Patient identifier, email or agenda name")
	return cmd
}

func syncCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Rebuild the local cache from the remote agenda",
		RunE: func(cmd *cobra.Command, args []string) error {
			from := time.Now()
			if raw, _ := cmd.Flags().GetString("from"); raw != "" {
				d, err := calendar.ParseDate(raw)
				if err != nil {
					return err
				}
				from = d
			}
			weeks, _ := cmd.Flags().GetInt("weeks")
			if weeks == 0 {
				weeks = c.app.Config.RefreshWeeks
			}
			n, err := c.app.Engine.Refresh(cmd.Context(), from, weeks)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d bookings for %d week(s) from %s.\n",
				n, weeks, calendar.FormatDate(calendar.WeekStart(from)))
			return nil
		},
	}
	cmd.Flags().String("from", "", "First day of the range (defaults to today)")
	cmd.Flags().Int("weeks", 0, "Weeks to extract (defaults to REFRESH_WEEKS)")
	return cmd
}

func (c *cli) addPatient(ctx context.Context, out io.Writer, r patient.Record) error {
	fields := []struct {
		dst   *string
		label string
	}{
		{&r.ID, "Identifier"},
		{&r.GivenName, "Given name"},
		{&r.FamilyName, "Family names"},
		{&r.Email, "Email"},
		{&r.Phone, "Mobile phone"},
	}
	for _, f := range fields {
		if err := c.prompt.fill(f.dst, f.label); err != nil {
			return err
		}
	}
	warnings, err := c.app.Directory.Register(ctx, r)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		fmt.Fprintln(out, dimStyle.Render("warning: "+w))
	}
	fmt.Fprintf(out, "Registered %s %s.\n", r.ID, r.FullName())
	return nil
}

func (c *cli) book(ctx context.Context, out io.Writer, opts bookOptions) (scheduling.Result, error) {
	if err := c.prompt.fill(&opts.Patient, "Patient (identifier, email or name)"); err != nil {
		return scheduling.Result{}, err
	}
	ref, err := c.resolvePatient(ctx, out, opts.Patient)
	if err != nil {
		return scheduling.Result{}, err
	}
	if err := c.prompt.fill(&opts.Date, "Date"); err != nil {
		return scheduling.Result{}, err
	}
	date, err := calendar.ParseDate(opts.Date)
	if err != nil {
		return scheduling.Result{}, err
	}
	t, err := c.chooseTime(ctx, out, date, opts.Time)
	if err != nil {
		return scheduling.Result{}, err
	}
	return c.app.Engine.Create(ctx, scheduling.CreateRequest{
		Patient:  ref,
		Date:     date,
		Time:     t,
		Resource: calendar.Resource(opts.Agenda),
		Notes:    opts.Notes,
	})
}

func (c *cli) reschedule(ctx context.Context, out io.Writer, opts moveOptions) (scheduling.Result, error) {
	target, ref, err := c.chooseAppointment(ctx, out, opts.Patient, opts.Date, opts.Time)
	if err != nil {
		return scheduling.Result{}, err
	}
	if err := c.prompt.fill(&opts.NewDate, "New date"); err != nil {
		return scheduling.Result{}, err
	}
	newDate, err := calendar.ParseDate(opts.NewDate)
	if err != nil {
		return scheduling.Result{}, err
	}
	t, err := c.chooseTime(ctx, out, newDate, opts.NewTime)
	if err != nil {
		return scheduling.Result{}, err
	}
	return c.app.Engine.Reschedule(ctx, scheduling.RescheduleRequest{
		Patient:  ref,
		Date:     target.Date,
		Time:     target.Start,
		NewDate:  newDate,
		NewTime:  t,
		Resource: calendar.Resource(opts.Agenda),
		Notes:    opts.Notes,
	})
}

func (c *cli) cancel(ctx context.Context, out io.Writer, opts cancelOptions) (scheduling.Result, error) {
	target, ref, err := c.chooseAppointment(ctx, out, opts.Patient, opts.Date, opts.Time)
	if err != nil {
		return scheduling.Result{}, err
	}
	if !opts.Yes && !c.prompt.confirm("Cancel "+describeAppointment(target)+"?") {
		return scheduling.Result{}, errors.New("cancellation not confirmed")
	}
	return c.app.Engine.Cancel(ctx, scheduling.CancelRequest{Patient: ref, Date: target.Date, Time: target.Start})
}

func (c *cli) report(out io.Writer, res scheduling.Result, err error) error {
	if err != nil {
		fmt.Fprint(out, renderError(err))
		if errors.Is(err, scheduling.ErrLocalPersistenceCorrupt) || errors.Is(err, scheduling.ErrHalted) {
			fmt.Fprintln(out, dimStyle.Render("The local cache no longer matches the remote agenda. Run `clinicctl sync` before any other change."))
		}
		return err
	}
	fmt.Fprint(out, renderResult(res))
	return nil
}

// resolvePatient looks token up in the directory and asks the operator to
// pick when it is shared. A token the directory does not know is taken as
// the name written on the agenda.
func (c *cli) resolvePatient(ctx context.Context, out io.Writer, token string) (appointment.PatientRef, error) {
	rec, err := c.app.Directory.Find(ctx, token)
	var amb *patient.AmbiguousError
	switch {
	case err == nil:
	case errors.As(err, &amb):
		fmt.Fprintln(out, "Several patients match "+token+":")
		fmt.Fprint(out, renderPatients(amb.Matches))
		answer, err := c.prompt.ask("Choose a patient (number or identifier)")
		if err != nil {
			return appointment.PatientRef{}, fmt.Errorf("%w: %w", scheduling.ErrAmbiguous, err)
		}
		if rec, err = patient.Choose(amb, answer); err != nil {
			return appointment.PatientRef{}, err
		}
	case errors.Is(err, patient.ErrNotFound):
		return appointment.PatientRef{Name: strings.TrimSpace(token)}, nil
	default:
		return appointment.PatientRef{}, err
	}
	return appointment.PatientRef{ID: rec.ID, Name: rec.FullName()}, nil
}

// chooseTime returns raw parsed, or lists the free slots of date and reads
// the operator's choice. Only an exact listed start time is accepted.
func (c *cli) chooseTime(ctx context.Context, out io.Writer, date time.Time, raw string) (calendar.TimeOfDay, error) {
	if raw != "" {
		return calendar.ParseTimeOfDay(raw)
	}
	slots, err := c.app.Engine.Availability(ctx, date)
	if err != nil {
		return 0, err
	}
	free := grid.Free(slots)
	if len(free) == 0 {
		return 0, fmt.Errorf("%w: no free slot on %s", scheduling.ErrSlotUnavailable, calendar.FormatDate(date))
	}
	fmt.Fprint(out, renderSlots(calendar.FormatDate(date), slots))

	answer, err := c.prompt.ask("Time (HH:MM)")
	if err != nil {
		return 0, err
	}
	for _, s := range free {
		if s.Start.String() == answer {
			return s.Start, nil
		}
	}
	return 0, fmt.Errorf("%w: %q is not one of the free slots listed", scheduling.ErrInvalidInput, answer)
}

// chooseAppointment finds the appointment to move or cancel, listing the
// patient's appointments when date is not given.
func (c *cli) chooseAppointment(ctx context.Context, out io.Writer, token, rawDate, rawTime string) (appointment.Appointment, appointment.PatientRef, error) {
	var none appointment.Appointment
	if err := c.prompt.fill(&token, "Patient (identifier, email or name)"); err != nil {
		return none, appointment.PatientRef{}, err
	}
	ref, err := c.resolvePatient(ctx, out, token)
	if err != nil {
		return none, ref, err
	}

	appts, err := c.app.Engine.PatientAppointments(ctx, ref)
	if err != nil {
		return none, ref, err
	}

	if rawDate != "" && rawTime != "" {
		date, err := calendar.ParseDate(rawDate)
		if err != nil {
			return none, ref, err
		}
		t, err := calendar.ParseTimeOfDay(rawTime)
		if err != nil {
			return none, ref, err
		}
		for _, a := range appts {
			if a.SameDay(date) && a.Start == t {
				return a, ref, nil
			}
		}
		// let the engine report the miss
		return appointment.Appointment{Date: date, Start: t, Patient: ref}, ref, nil
	}

	if len(appts) == 0 {
		return none, ref, fmt.Errorf("%w: no appointments for %s", scheduling.ErrNotFound, ref.Name)
	}
	fmt.Fprint(out, renderAppointments(appts))
	answer, err := c.prompt.ask("Appointment number")
	if err != nil {
		return none, ref, err
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(appts) {
		return none, ref, fmt.Errorf("%w: no appointment number %q", scheduling.ErrInvalidInput, answer)
	}
	return appts[n-1], ref, nil
}
