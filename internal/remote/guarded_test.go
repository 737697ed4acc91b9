package remote

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
)

var day = time.Date(2025, time.May, 5, 0, 0, 0, 0, time.UTC)

func testPolicy() Policy {
	return Policy{CallTimeout: time.Second, ReadAttempts: 3, WriteRetries: 1}
}

func count(calls []Op, op Op) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}

func loggedIn(t *testing.T) (*Memory, *Guarded) {
	t.Helper()
	mem := NewMemory(45 * time.Minute)
	g := NewGuarded(mem, testPolicy(), zap.NewNop())
	require.NoError(t, g.Login(context.Background()))
	return mem, g
}

func TestGuarded_ReadRetriesTransient(t *testing.T) {
	mem, g := loggedIn(t)
	mem.Fail(OpFind, ErrTransient, ErrTransient)

	_, err := g.FindBookings(context.Background(), day, day)
	require.NoError(t, err)
	assert.Equal(t, 3, count(mem.Calls(), OpFind))
}

func TestGuarded_ReadGivesUpAfterAttempts(t *testing.T) {
	mem, g := loggedIn(t)
	mem.Fail(OpFind, ErrTransient, ErrTransient, ErrTransient, ErrTransient)

	_, err := g.FindBookings(context.Background(), day, day)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, count(mem.Calls(), OpFind))
}

func TestGuarded_TimeoutsAreNotRetried(t *testing.T) {
	mem, g := loggedIn(t)
	mem.Fail(OpFind, fmt.Errorf("%w: %w", ErrTransient, context.DeadlineExceeded))

	_, err := g.FindBookings(context.Background(), day, day)
	assert.True(t, TimedOut(err))
	assert.Equal(t, 1, count(mem.Calls(), OpFind))
}

func TestGuarded_WriteRetriedOnce(t *testing.T) {
	mem, g := loggedIn(t)
	ctx := context.Background()
	form, err := g.OpenBookingForm(ctx, day, calendar.Clock(10, 15), calendar.Primary)
	require.NoError(t, err)
	require.NoError(t, g.FillBooking(ctx, form, BookingDetails{PatientName: "Ana Ruiz", Time: calendar.Clock(10, 15), Resource: calendar.Primary}))

	mem.Fail(OpConfirm, ErrTransient, ErrTransient)
	_, err = g.ConfirmBooking(ctx, form)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, count(mem.Calls(), OpConfirm))
	assert.Empty(t, mem.Bookings())
}

func TestGuarded_WriteSucceedsOnRetry(t *testing.T) {
	mem, g := loggedIn(t)
	ctx := context.Background()
	form, err := g.OpenBookingForm(ctx, day, calendar.Clock(10, 15), calendar.Primary)
	require.NoError(t, err)
	require.NoError(t, g.FillBooking(ctx, form, BookingDetails{PatientName: "Ana Ruiz", Time: calendar.Clock(10, 15), Resource: calendar.Primary}))

	mem.Fail(OpConfirm, ErrTransient)
	ref, err := g.ConfirmBooking(ctx, form)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
	assert.Len(t, mem.Bookings(), 1)
}

func TestGuarded_TerminalWriteNotRetried(t *testing.T) {
	mem, g := loggedIn(t)
	mem.Fail(OpCancel, ErrRejected)

	err := g.CancelBooking(context.Background(), "ref-1")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, count(mem.Calls(), OpCancel))
}

type stuck struct {
	*Memory
	calls atomic.Int32
}

func (s *stuck) FindBookings(ctx context.Context, _, _ time.Time) ([]Booking, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGuarded_CallTimeoutBoundsWait(t *testing.T) {
	svc := &stuck{Memory: NewMemory(45 * time.Minute)}
	g := NewGuarded(svc, Policy{CallTimeout: 20 * time.Millisecond, ReadAttempts: 3}, nil)

	start := time.Now()
	_, err := g.FindBookings(context.Background(), day, day)
	assert.True(t, TimedOut(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestGuarded_RetryDelayHonoursContext(t *testing.T) {
	mem := NewMemory(45 * time.Minute)
	g := NewGuarded(mem, Policy{CallTimeout: time.Second, ReadAttempts: 3, ReadDelay: time.Hour}, nil)
	require.NoError(t, g.Login(context.Background()))
	mem.Fail(OpFind, ErrTransient)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.FindBookings(ctx, day, day)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, count(mem.Calls(), OpFind))
}

func TestClassification(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("x: %w", ErrTransient)))
	assert.False(t, Retryable(ErrRejected))
	assert.False(t, Retryable(fmt.Errorf("%w: %w", ErrTransient, context.DeadlineExceeded)))
	assert.True(t, Unavailable(ErrSessionLost))
	assert.True(t, Unavailable(fmt.Errorf("wrapped: %w", ErrLoginFailed)))
	assert.False(t, Unavailable(ErrNoAnchor))
}
