// Package remote models the clinic platform that holds the authoritative
// agenda. The engine only talks to it through Service.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

var (
	ErrTransient      = errors.New("remote: transient failure")
	ErrLoginFailed    = errors.New("remote: login failed")
	ErrSessionLost    = errors.New("remote: session lost")
	ErrNoAnchor       = errors.New("remote: no such time anchor on the agenda")
	ErrUnknownBooking = errors.New("remote: booking not found")
	ErrRejected       = errors.New("remote: request rejected")
)

// Booking is a booking as the platform lists it.
type Booking struct {
	Ref          string
	Date         time.Time
	Start        calendar.TimeOfDay
	End          calendar.TimeOfDay
	Resource     calendar.Resource // zero when the platform does not say
	PatientName  string
	Practitioner string
	Room         string
}

// Form is an open booking form. Ref is set when the form edits an existing
// booking.
type Form struct {
	ID       string
	Date     time.Time
	Anchor   calendar.TimeOfDay
	Resource calendar.Resource
	Ref      string
}

// BookingDetails fills a booking form.
type BookingDetails struct {
	PatientName  string
	Date         time.Time
	Time         calendar.TimeOfDay
	Resource     calendar.Resource
	Practitioner string
	Room         string
	Notes        string
}

// Service is the remote appointment platform. Each call operates on a
// single stateful session and must not be issued concurrently.
type Service interface {
	Login(ctx context.Context) error
	FindBookings(ctx context.Context, from, to time.Time) ([]Booking, error)
	OpenBookingForm(ctx context.Context, date time.Time, anchor calendar.TimeOfDay, res calendar.Resource) (Form, error)
	OpenExistingBooking(ctx context.Context, ref string) (Form, error)
	FillBooking(ctx context.Context, form Form, details BookingDetails) error
	// ConfirmBooking submits a filled form and returns the booking reference.
	ConfirmBooking(ctx context.Context, form Form) (string, error)
	CancelBooking(ctx context.Context, ref string) error
}

// Retryable reports whether err is a transient failure that did not run
// out of time.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) && !TimedOut(err)
}

func TimedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Unavailable reports whether err is a session level failure rather than
// one specific to a booking.
func Unavailable(err error) bool {
	return errors.Is(err, ErrLoginFailed) || errors.Is(err, ErrSessionLost)
}
