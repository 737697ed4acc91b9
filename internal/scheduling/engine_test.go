package scheduling

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-agenda-sync/internal/appointment"
	"github.com/hackgods/clinic-agenda-sync/internal/calendar"
	"github.com/hackgods/clinic-agenda-sync/internal/journal"
	redisclient "github.com/hackgods/clinic-agenda-sync/internal/redis"
	"github.com/hackgods/clinic-agenda-sync/internal/remote"
)

var (
	now       = time.Date(2025, time.May, 1, 9, 0, 0, 0, time.UTC) // Thursday
	monday    = time.Date(2025, time.May, 5, 0, 0, 0, 0, time.UTC)
	tuesday   = monday.AddDate(0, 0, 1)
	wednesday = monday.AddDate(0, 0, 2)
	ana       = appointment.PatientRef{ID: "11111111A", Name: "Ana Ruiz Soler"}
	luis      = appointment.PatientRef{Name: "Luis Mora"}
)

// flakyStore fails selected writes after the remote side has acted.
type flakyStore struct {
	*appointment.FileStore
	insertErr error
	updateErr error
	deleteErr error
}

func (s *flakyStore) Insert(a appointment.Appointment) (appointment.Appointment, error) {
	if s.insertErr != nil {
		return appointment.Appointment{}, s.insertErr
	}
	return s.FileStore.Insert(a)
}

func (s *flakyStore) Update(match appointment.Predicate, mutate func(*appointment.Appointment)) (int, error) {
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	return s.FileStore.Update(match, mutate)
}

func (s *flakyStore) Delete(match appointment.Predicate) (int, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	return s.FileStore.Delete(match)
}

type fixture struct {
	engine  *Engine
	store   *flakyStore
	remote  *remote.Memory
	journal *journal.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := appointment.OpenFileStore(filepath.Join(t.TempDir(), "appointments.json"))
	require.NoError(t, err)
	f := &fixture{
		store:   &flakyStore{FileStore: fs},
		remote:  remote.NewMemory(45 * time.Minute),
		journal: &journal.Recorder{},
	}
	f.engine = New(calendar.MustDefaultRules(), f.store, f.remote, Options{
		Journal: f.journal,
		Now:     func() time.Time { return now },
	})
	return f
}

func (f *fixture) book(t *testing.T, p appointment.PatientRef, date time.Time, h, m int) appointment.Appointment {
	t.Helper()
	res, err := f.engine.Create(context.Background(), CreateRequest{Patient: p, Date: date, Time: calendar.Clock(h, m)})
	require.NoError(t, err)
	return res.Appointment
}

func (f *fixture) all(t *testing.T) []appointment.Appointment {
	t.Helper()
	all, err := f.store.All()
	require.NoError(t, err)
	return all
}

func count(calls []remote.Op, op remote.Op) int {
	n := 0
	for _, c := range calls {
		if c == op {
			n++
		}
	}
	return n
}

func TestCreate_CommitsRemoteThenLocal(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.NoError(t, err)
	assert.Equal(t, []State{Idle, ResourceIdentified, SlotChosen, RemoteConfirmed, LocalCommitted}, res.Trace)

	a := res.Appointment
	assert.Equal(t, calendar.Primary, a.Resource)
	assert.Equal(t, calendar.Clock(11, 0), a.End)
	assert.Equal(t, "practitioner-a", a.Practitioner)
	assert.Equal(t, "Box 1", a.Room)
	assert.Equal(t, 2, a.Week)
	assert.NotEmpty(t, a.RemoteRef)

	bookings := f.remote.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, a.RemoteRef, bookings[0].Ref)
	assert.Equal(t, "Ana Ruiz Soler", bookings[0].PatientName)
	assert.Equal(t, "practitioner-a", bookings[0].Practitioner)

	require.Len(t, f.all(t), 1)
	assert.Equal(t, []string{journal.EventAppointmentCommitted}, f.journal.Types())
}

func TestCreate_AfternoonMondayPractitioner(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, ana, monday, 15, 0)
	assert.Equal(t, "practitioner-b", a.Practitioner)
}

func TestCreate_SecondaryOncePrimaryIsFull(t *testing.T) {
	f := newFixture(t)
	for _, tm := range [][2]int{{10, 15}, {11, 0}, {11, 45}, {12, 30}, {13, 15}} {
		f.book(t, luis, monday, tm[0], tm[1])
	}

	slots, err := f.engine.Availability(context.Background(), monday)
	require.NoError(t, err)
	var secondary []string
	for _, s := range slots {
		if s.Resource == calendar.Secondary {
			secondary = append(secondary, s.Start.String())
		}
	}
	assert.Equal(t, []string{"10:30", "11:15", "12:00", "12:45"}, secondary)

	a := f.book(t, ana, monday, 10, 30)
	assert.Equal(t, calendar.Secondary, a.Resource)
	assert.Equal(t, "practitioner-c", a.Practitioner)
	assert.Equal(t, "Box 2", a.Room)
}

func TestCreate_RejectsTakenSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, luis, monday, 10, 15)

	res, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, Aborted, res.Trace[len(res.Trace)-1])
	assert.Equal(t, 1, count(f.remote.Calls(), remote.OpConfirm))
	assert.Len(t, f.all(t), 1)
}

func TestCreate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"past date", CreateRequest{Patient: ana, Date: now.AddDate(0, 0, -3), Time: calendar.Clock(10, 15)}, ErrInvalidInput},
		{"saturday", CreateRequest{Patient: ana, Date: monday.AddDate(0, 0, 5), Time: calendar.Clock(10, 15)}, ErrInvalidInput},
		{"no patient name", CreateRequest{Patient: appointment.PatientRef{ID: "1"}, Date: monday, Time: calendar.Clock(10, 15)}, ErrInvalidInput},
		{"off grid time", CreateRequest{Patient: ana, Date: tuesday, Time: calendar.Clock(10, 30)}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, f.remote.Calls())
	assert.Empty(t, f.all(t))
}

func TestCreate_RemoteRejectionLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail(remote.OpConfirm, remote.ErrRejected)

	res, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.Equal(t, []State{Idle, ResourceIdentified, SlotChosen, Aborted}, res.Trace)
	assert.Empty(t, f.all(t))
	assert.Equal(t, []string{journal.EventOperationAborted}, f.journal.Types())
}

func TestCreate_RemoteAnchorMissing(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail(remote.OpOpenForm, remote.ErrNoAnchor)

	_, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Empty(t, f.all(t))
}

func TestCreate_LoginFailure(t *testing.T) {
	f := newFixture(t)
	f.remote.Fail(remote.OpLogin, remote.ErrLoginFailed)

	_, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Empty(t, f.all(t))

	// next operation logs in again
	f.book(t, ana, monday, 10, 15)
}

func TestCreate_SessionLostMidOperation(t *testing.T) {
	f := newFixture(t)
	f.book(t, luis, monday, 10, 15)
	f.remote.DropSession()

	_, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(11, 0)})
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Len(t, f.all(t), 1)

	f.book(t, ana, monday, 11, 0)
	assert.Equal(t, 2, count(f.remote.Calls(), remote.OpLogin))
}

func TestCreate_LocalInsertFailureHaltsEngine(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = errors.New("disk full")

	res, err := f.engine.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrLocalPersistenceCorrupt)
	assert.Equal(t, []State{Idle, ResourceIdentified, SlotChosen, RemoteConfirmed, Aborted}, res.Trace)
	assert.Len(t, f.remote.Bookings(), 1)
	assert.Error(t, f.engine.Halted())
	assert.Contains(t, f.journal.Types(), journal.EventLocalDrift)
}

func TestReschedule_MovesRecord(t *testing.T) {
	f := newFixture(t)
	orig := f.book(t, ana, monday, 10, 15)

	res, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: appointment.PatientRef{Name: "Ruiz Soler Ana"},
		Date:    monday, Time: calendar.Clock(10, 15),
		NewDate: wednesday, NewTime: calendar.Clock(11, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []State{Idle, TargetLocated, RemoteUpdated, LocalUpdated}, res.Trace)
	require.NotNil(t, res.Previous)
	assert.Equal(t, orig.ID, res.Previous.ID)

	all := f.all(t)
	require.Len(t, all, 1)
	moved := all[0]
	assert.Equal(t, orig.ID, moved.ID)
	assert.True(t, moved.SameDay(wednesday))
	assert.Equal(t, calendar.Clock(11, 0), moved.Start)
	assert.Equal(t, calendar.Clock(11, 45), moved.End)
	assert.Equal(t, "practitioner-b", moved.Practitioner)
	assert.Equal(t, "Box 1", moved.Room)
	assert.Equal(t, ana, moved.Patient)

	bookings := f.remote.Bookings()
	require.Len(t, bookings, 1)
	assert.Equal(t, orig.RemoteRef, bookings[0].Ref)
	assert.Equal(t, calendar.Clock(11, 0), bookings[0].Start)
}

func TestReschedule_SameDayIntoOverlappingSlot(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)

	// 11:00 does not overlap 10:15-11:00, the record moves within the day
	_, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: monday, NewTime: calendar.Clock(11, 0),
	})
	require.NoError(t, err)
	all := f.all(t)
	require.Len(t, all, 1)
	assert.Equal(t, calendar.Clock(11, 0), all[0].Start)
}

func TestReschedule_RemoteFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	before := f.all(t)
	f.remote.Fail(remote.OpConfirm, remote.ErrRejected)

	res, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: tuesday, NewTime: calendar.Clock(12, 30),
	})
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.Equal(t, []State{Idle, TargetLocated, Aborted}, res.Trace)
	assert.Equal(t, before, f.all(t))
	assert.True(t, f.remote.Bookings()[0].Date.Equal(monday))
}

func TestReschedule_TargetMissing(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)

	_, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: luis, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: tuesday, NewTime: calendar.Clock(12, 30),
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrAmbiguous)
}

func TestCancel_AmbiguousTargetIsNotGuessed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Replace([]appointment.Appointment{
		{Week: 2, Date: monday, Start: calendar.Clock(12, 0), End: calendar.Clock(12, 45),
			Resource: calendar.Primary, Patient: appointment.PatientRef{Name: "Marta Ruiz Soler"}},
		{Week: 2, Date: monday, Start: calendar.Clock(12, 0), End: calendar.Clock(12, 45),
			Resource: calendar.Secondary, Patient: appointment.PatientRef{Name: "Pablo Ruiz Soler"}},
	}))

	_, err := f.engine.Cancel(context.Background(), CancelRequest{
		Patient: appointment.PatientRef{Name: "Ruiz Soler"}, Date: monday, Time: calendar.Clock(12, 0),
	})
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, count(f.remote.Calls(), remote.OpCancel))
	assert.Len(t, f.all(t), 2)
}

func TestReschedule_TargetSlotTaken(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.book(t, luis, tuesday, 12, 30)

	_, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: tuesday, NewTime: calendar.Clock(12, 30),
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Equal(t, 0, count(f.remote.Calls(), remote.OpOpenExisting))
}

func TestReschedule_LocalUpdateFailure(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.store.updateErr = errors.New("read-only file system")

	_, err := f.engine.Reschedule(context.Background(), RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: tuesday, NewTime: calendar.Clock(12, 30),
	})
	assert.ErrorIs(t, err, ErrLocalPersistenceCorrupt)
	assert.Error(t, f.engine.Halted())
}

func TestCancel_DeletesRemoteThenLocal(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)

	res, err := f.engine.Cancel(context.Background(), CancelRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.NoError(t, err)
	assert.Equal(t, []State{Idle, TargetLocated, RemoteCancelled, LocalDeleted}, res.Trace)
	assert.Empty(t, f.all(t))
	assert.Empty(t, f.remote.Bookings())
	assert.Equal(t, []string{journal.EventAppointmentCommitted, journal.EventAppointmentDeleted}, f.journal.Types())
}

func TestCancel_RemoteFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.remote.Fail(remote.OpCancel, remote.ErrTransient)

	_, err := f.engine.Cancel(context.Background(), CancelRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.Len(t, f.all(t), 1)
	assert.Len(t, f.remote.Bookings(), 1)
}

func TestCancel_LocalDeleteFailureReportsCorruption(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.store.deleteErr = errors.New("disk full")
	ctx := context.Background()

	res, err := f.engine.Cancel(ctx, CancelRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalPersistenceCorrupt)
	assert.Equal(t, Aborted, res.Trace[len(res.Trace)-1])
	assert.Empty(t, f.remote.Bookings())

	// writes are refused until a refresh rebuilds the cache
	_, err = f.engine.Create(ctx, CreateRequest{Patient: luis, Date: monday, Time: calendar.Clock(11, 0)})
	assert.ErrorIs(t, err, ErrHalted)

	f.store.deleteErr = nil
	n, err := f.engine.Refresh(ctx, now, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, f.engine.Halted())
	assert.Empty(t, f.all(t))

	f.book(t, luis, monday, 11, 0)
}

func TestCancel_ResolvesMissingRemoteRef(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.remote.Login(context.Background()))
	f.remote.Seed(remote.Booking{
		Ref: "legacy-1", Date: monday, Start: calendar.Clock(12, 30), End: calendar.Clock(13, 15),
		PatientName: "Luis Mora",
	})
	require.NoError(t, f.store.Replace([]appointment.Appointment{{
		Week: 2, Date: monday, Start: calendar.Clock(12, 30), End: calendar.Clock(13, 15),
		Resource: calendar.Primary, Patient: luis,
	}}))

	_, err := f.engine.Cancel(context.Background(), CancelRequest{Patient: luis, Date: monday, Time: calendar.Clock(12, 30)})
	require.NoError(t, err)
	assert.Empty(t, f.remote.Bookings())
	assert.Empty(t, f.all(t))
}

func TestRescheduleThenCancelLeavesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, ana, monday, 10, 15)

	_, err := f.engine.Reschedule(ctx, RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(10, 15),
		NewDate: tuesday, NewTime: calendar.Clock(15, 45),
	})
	require.NoError(t, err)
	_, err = f.engine.Cancel(ctx, CancelRequest{Patient: ana, Date: tuesday, Time: calendar.Clock(15, 45)})
	require.NoError(t, err)

	left, err := f.engine.PatientAppointments(ctx, ana)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Empty(t, f.remote.Bookings())
}

func TestOperationsNeverOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patients := []appointment.PatientRef{ana, luis, {Name: "Eva Gil"}, {Name: "Jon Sanz"}}
	times := []calendar.TimeOfDay{
		calendar.Clock(10, 15), calendar.Clock(11, 0), calendar.Clock(10, 30),
		calendar.Clock(11, 45), calendar.Clock(12, 0), calendar.Clock(12, 30),
		calendar.Clock(13, 15), calendar.Clock(12, 45), calendar.Clock(15, 0),
	}
	days := []time.Time{monday, tuesday, monday.AddDate(0, 0, 3)}

	for i := 0; i < 60; i++ {
		p := patients[i%len(patients)]
		day := days[i%len(days)]
		tm := times[(i*7)%len(times)]
		switch i % 3 {
		case 0, 1:
			_, _ = f.engine.Create(ctx, CreateRequest{Patient: p, Date: day, Time: tm})
		case 2:
			mine, err := f.engine.PatientAppointments(ctx, p)
			require.NoError(t, err)
			if len(mine) == 0 {
				continue
			}
			a := mine[i%len(mine)]
			if i%2 == 0 {
				_, _ = f.engine.Cancel(ctx, CancelRequest{Patient: a.Patient, Date: a.Date, Time: a.Start})
			} else {
				_, _ = f.engine.Reschedule(ctx, RescheduleRequest{
					Patient: a.Patient, Date: a.Date, Time: a.Start,
					NewDate: days[(i+1)%len(days)], NewTime: times[i%len(times)],
				})
			}
		}
	}

	all := f.all(t)
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if a.Resource == b.Resource && a.SameDay(b.Date) {
				assert.False(t, a.Overlaps(b.Start, b.End), "%v overlaps %v", a, b)
			}
		}
	}
	assert.Len(t, f.remote.Bookings(), len(all))
	assert.NoError(t, f.engine.Halted())
}

func TestRefresh_RebuildsCache(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.remote.Seed(
		remote.Booking{Ref: "r-1", Date: monday.AddDate(0, 0, 7), Start: calendar.Clock(15, 0), PatientName: "Eva Gil"},
		remote.Booking{Ref: "r-2", Date: monday.AddDate(0, 0, 3), Start: calendar.Clock(10, 30), End: calendar.Clock(11, 15), Resource: calendar.Secondary, PatientName: "Jon Sanz"},
		remote.Booking{Ref: "r-3", Date: monday.AddDate(0, 0, 21), Start: calendar.Clock(10, 15), PatientName: "Out Of Range"},
	)

	n, err := f.engine.Refresh(context.Background(), monday, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all := f.all(t)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Week)
	assert.Equal(t, "Jon Sanz", all[1].Patient.Name)
	assert.Equal(t, calendar.Secondary, all[1].Resource)
	assert.Equal(t, "practitioner-c", all[1].Practitioner)
	assert.Equal(t, "Eva Gil", all[2].Patient.Name)
	assert.Equal(t, 2, all[2].Week)
	assert.Equal(t, calendar.Primary, all[2].Resource)
	assert.Equal(t, calendar.Clock(15, 45), all[2].End)
	assert.Equal(t, "Box 1", all[2].Room)
	assert.Contains(t, f.journal.Types(), journal.EventCacheRefreshed)
}

func TestRefresh_RemoteDown(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	f.remote.Fail(remote.OpFind, remote.ErrTransient)

	_, err := f.engine.Refresh(context.Background(), monday, 2)
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Len(t, f.all(t), 1)
}

func TestAvailability_CorruptStore(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, monday, 10, 15)
	require.NoError(t, os.WriteFile(f.store.Path(), []byte("{not json"), 0o644))

	_, err := f.engine.Availability(context.Background(), monday)
	assert.ErrorIs(t, err, ErrLocalPersistenceCorrupt)
	assert.ErrorIs(t, err, appointment.ErrCorrupt)
}

func TestPatientAppointments_Sorted(t *testing.T) {
	f := newFixture(t)
	f.book(t, ana, tuesday, 12, 30)
	f.book(t, ana, monday, 11, 0)
	f.book(t, luis, monday, 10, 15)

	got, err := f.engine.PatientAppointments(context.Background(), appointment.PatientRef{Name: "Ana Ruiz Soler"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].SameDay(monday))
	assert.True(t, got[1].SameDay(tuesday))

	_, err = f.engine.PatientAppointments(context.Background(), appointment.PatientRef{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type stubLocker struct {
	calls int
	err   error
}

func (l *stubLocker) WithSessionLock(ctx context.Context, fn func(ctx context.Context) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

func TestSessionLockWrapsWrites(t *testing.T) {
	fs, err := appointment.OpenFileStore(filepath.Join(t.TempDir(), "appointments.json"))
	require.NoError(t, err)
	locker := &stubLocker{}
	mem := remote.NewMemory(45 * time.Minute)
	e := New(calendar.MustDefaultRules(), fs, mem, Options{Locker: locker, Now: func() time.Time { return now }})
	ctx := context.Background()

	_, err = e.Create(ctx, CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.NoError(t, err)
	assert.Equal(t, 1, locker.calls)

	locker.err = redisclient.ErrLockNotAcquired
	_, err = e.Cancel(ctx, CancelRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Len(t, mem.Bookings(), 1)
}

func TestGuardedRemoteRetriesConfirmOnce(t *testing.T) {
	f := newFixture(t)
	guarded := remote.NewGuarded(f.remote, remote.Policy{CallTimeout: time.Second, ReadAttempts: 3, WriteRetries: 1}, nil)
	e := New(calendar.MustDefaultRules(), f.store, guarded, Options{Now: func() time.Time { return now }})

	f.remote.Fail(remote.OpConfirm, remote.ErrTransient, remote.ErrTransient)
	_, err := e.Create(context.Background(), CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.Equal(t, 2, count(f.remote.Calls(), remote.OpConfirm))
	assert.Empty(t, f.all(t))
}

func TestCreate_RejectsSlotCutByOffGridBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// booked at the front desk, between two grid slots
	f.remote.Seed(remote.Booking{
		Ref: "desk-1", Date: monday, Start: calendar.Clock(10, 30), End: calendar.Clock(11, 15),
		Resource: calendar.Primary, PatientName: "Luis Mora",
	})
	_, err := f.engine.Refresh(ctx, monday, 1)
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.ErrorIs(t, err, ErrSlotUnavailable)

	assert.Zero(t, count(f.remote.Calls(), remote.OpOpenForm), "the platform must not be asked to book")
	assert.Len(t, f.remote.Bookings(), 1)
	assert.NoError(t, f.engine.Halted())

	_, err = f.engine.Create(ctx, CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(11, 45)})
	assert.NoError(t, err)
}

func TestReschedule_RejectsSlotCutByOffGridBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, ana, monday, 12, 30)
	f.remote.Seed(remote.Booking{
		Ref: "desk-1", Date: tuesday, Start: calendar.Clock(11, 30), End: calendar.Clock(12, 15),
		Resource: calendar.Primary, PatientName: "Luis Mora",
	})
	_, err := f.engine.Refresh(ctx, monday, 1)
	require.NoError(t, err)

	_, err = f.engine.Reschedule(ctx, RescheduleRequest{
		Patient: ana, Date: monday, Time: calendar.Clock(12, 30),
		NewDate: tuesday, NewTime: calendar.Clock(11, 0),
	})
	require.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Zero(t, count(f.remote.Calls(), remote.OpOpenExisting))

	mine, err := f.engine.PatientAppointments(ctx, ana)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].SameDay(monday))
}

func TestHalt_ClearedByRebuildFromAnotherProcess(t *testing.T) {
	server := newFixture(t)
	ctx := context.Background()

	server.store.insertErr = errors.New("disk full")
	_, err := server.engine.Create(ctx, CreateRequest{Patient: ana, Date: monday, Time: calendar.Clock(10, 15)})
	require.ErrorIs(t, err, ErrLocalPersistenceCorrupt)
	require.Error(t, server.engine.Halted())
	server.store.insertErr = nil

	// nothing has rebuilt the cache yet
	_, err = server.engine.Create(ctx, CreateRequest{Patient: luis, Date: monday, Time: calendar.Clock(11, 0)})
	require.ErrorIs(t, err, ErrHalted)

	workerStore, err := appointment.OpenFileStore(server.store.Path())
	require.NoError(t, err)
	worker := New(calendar.MustDefaultRules(), workerStore, server.remote, Options{Now: func() time.Time { return now }})
	n, err := worker.Refresh(ctx, monday, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.NoError(t, server.engine.Halted())
	res, err := server.engine.Create(ctx, CreateRequest{Patient: luis, Date: monday, Time: calendar.Clock(11, 0)})
	require.NoError(t, err)
	assert.Equal(t, calendar.Clock(11, 0), res.Appointment.Start)
	assert.Len(t, server.all(t), 2)
}

func TestHalt_SurvivesRebuildOlderThanDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Refresh(ctx, monday, 1)
	require.NoError(t, err)

	f.store.deleteErr = errors.New("read-only file system")
	a := f.book(t, ana, monday, 10, 15)
	_, err = f.engine.Cancel(ctx, CancelRequest{Patient: ana, Date: a.Date, Time: a.Start})
	require.ErrorIs(t, err, ErrLocalPersistenceCorrupt)

	_, err = f.engine.Create(ctx, CreateRequest{Patient: luis, Date: monday, Time: calendar.Clock(11, 0)})
	assert.ErrorIs(t, err, ErrHalted)
	assert.Error(t, f.engine.Halted())
}
