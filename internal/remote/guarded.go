package remote

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

// Policy bounds every remote call. Reads are retried up to ReadAttempts
// times with a fixed delay; writes get at most WriteRetries extra attempts.
// Only transient failures that did not time out are retried.
type Policy struct {
	CallTimeout  time.Duration
	ReadAttempts int
	ReadDelay    time.Duration
	WriteRetries int
}

func DefaultPolicy() Policy {
	return Policy{
		CallTimeout:  15 * time.Second,
		ReadAttempts: 3,
		ReadDelay:    2 * time.Second,
		WriteRetries: 1,
	}
}

// Guarded wraps a Service with per-call timeouts and the retry policy.
type Guarded struct {
	next   Service
	policy Policy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

var _ Service = (*Guarded)(nil)

func NewGuarded(next Service, policy Policy, logger *zap.Logger) *Guarded {
	if policy.ReadAttempts < 1 {
		policy.ReadAttempts = 1
	}
	if policy.WriteRetries > 1 {
		policy.WriteRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guarded{next: next, policy: policy, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *Guarded) read(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.do(ctx, op, g.policy.ReadAttempts, g.policy.ReadDelay, fn)
}

func (g *Guarded) write(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.do(ctx, op, 1+g.policy.WriteRetries, 0, fn)
}

func (g *Guarded) do(ctx context.Context, op string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = g.call(ctx, fn)
		if err == nil || !Retryable(err) || attempt == attempts {
			break
		}
		g.logger.Warn("remote call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if serr := g.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func (g *Guarded) call(ctx context.Context, fn func(context.Context) error) error {
	if g.policy.CallTimeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.policy.CallTimeout)
	defer cancel()
	return fn(callCtx)
}

func (g *Guarded) Login(ctx context.Context) error {
	return g.read(ctx, "login", g.next.Login)
}

func (g *Guarded) FindBookings(ctx context.Context, from, to time.Time) ([]Booking, error) {
	var out []Booking
	err := g.read(ctx, "find_bookings", func(ctx context.Context) error {
		var err error
		out, err = g.next.FindBookings(ctx, from, to)
		return err
	})
	return out, err
}

func (g *Guarded) OpenBookingForm(ctx context.Context, date time.Time, anchor calendar.TimeOfDay, res calendar.Resource) (Form, error) {
	var form Form
	err := g.read(ctx, "open_booking_form", func(ctx context.Context) error {
		var err error
		form, err = g.next.OpenBookingForm(ctx, date, anchor, res)
		return err
	})
	return form, err
}

func (g *Guarded) OpenExistingBooking(ctx context.Context, ref string) (Form, error) {
	var form Form
	err := g.read(ctx, "open_existing_booking", func(ctx context.Context) error {
		var err error
		form, err = g.next.OpenExistingBooking(ctx, ref)
		return err
	})
	return form, err
}

// FillBooking only edits the open form, so it retries like a read.
func (g *Guarded) FillBooking(ctx context.Context, form Form, details BookingDetails) error {
	return g.read(ctx, "fill_booking", func(ctx context.Context) error {
		return g.next.FillBooking(ctx, form, details)
	})
}

func (g *Guarded) ConfirmBooking(ctx context.Context, form Form) (string, error) {
	var ref string
	err := g.write(ctx, "confirm_booking", func(ctx context.Context) error {
		var err error
		ref, err = g.next.ConfirmBooking(ctx, form)
		return err
	})
	return ref, err
}

func (g *Guarded) CancelBooking(ctx context.Context, ref string) error {
	return g.write(ctx, "cancel_booking", func(ctx context.Context) error {
		return g.next.CancelBooking(ctx, ref)
	})
}
