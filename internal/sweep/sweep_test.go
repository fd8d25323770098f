// internal/sweep/sweep_test.go
package sweep

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymnexus/internal/membership"
)

type fakeLifecycle struct {
	overdue    []uuid.UUID
	expiring   map[int][]membership.Membership // keyed by days until end date
	failExpire map[uuid.UUID]error
	base       time.Time

	expired []uuid.UUID
}

func (f *fakeLifecycle) ListOverdueActive(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	return f.overdue, nil
}

func (f *fakeLifecycle) ListExpiringOn(ctx context.Context, endDate time.Time) ([]membership.Membership, error) {
	days := int(endDate.Sub(membership.DateOnly(f.base)).Hours() / 24)
	return f.expiring[days], nil
}

func (f *fakeLifecycle) Expire(ctx context.Context, id uuid.UUID, actor string) (*membership.Result, error) {
	if err := f.failExpire[id]; err != nil {
		return nil, err
	}
	f.expired = append(f.expired, id)
	return &membership.Result{Changed: true}, nil
}

type fakeNotifier struct {
	reminders map[uuid.UUID]int
	fail      error
}

func (f *fakeNotifier) ExpiringSoon(ctx context.Context, m membership.Membership, daysLeft int) error {
	if f.fail != nil {
		return f.fail
	}
	if f.reminders == nil {
		f.reminders = make(map[uuid.UUID]int)
	}
	f.reminders[m.ID] = daysLeft
	return nil
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestSweepOnceExpiresOverdue(t *testing.T) {
	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()
	lc := &fakeLifecycle{overdue: []uuid.UUID{a, b}, base: now}

	report, err := New(lc, &fakeNotifier{}, discardLogger()).SweepOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Expired)
	assert.Equal(t, 0, report.Failures)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, lc.expired)
}

// One failing record must not stop the rest of the pass.
func TestSweepOnceIsolatesFailures(t *testing.T) {
	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	bad, good := uuid.New(), uuid.New()
	lc := &fakeLifecycle{
		overdue:    []uuid.UUID{bad, good},
		failExpire: map[uuid.UUID]error{bad: errors.New("read model unavailable")},
		base:       now,
	}

	report, err := New(lc, &fakeNotifier{}, discardLogger()).SweepOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, []uuid.UUID{good}, lc.expired)
}

func TestSweepOnceSendsReminders(t *testing.T) {
	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	in7 := membership.Membership{ID: uuid.New(), MemberID: uuid.New()}
	in3 := membership.Membership{ID: uuid.New(), MemberID: uuid.New()}
	lc := &fakeLifecycle{
		expiring: map[int][]membership.Membership{
			7: {in7},
			3: {in3},
		},
		base: now,
	}
	notifier := &fakeNotifier{}

	report, err := New(lc, notifier, discardLogger()).SweepOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Reminders)
	assert.Equal(t, 7, notifier.reminders[in7.ID])
	assert.Equal(t, 3, notifier.reminders[in3.ID])
}

func TestSweepOnceCountsReminderFailures(t *testing.T) {
	now := time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC)
	lc := &fakeLifecycle{
		expiring: map[int][]membership.Membership{
			7: {{ID: uuid.New()}},
		},
		base: now,
	}

	report, err := New(lc, &fakeNotifier{fail: errors.New("event store down")}, discardLogger()).SweepOnce(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Reminders)
	assert.Equal(t, 1, report.Failures)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &fakeLifecycle{base: time.Now()}
	sweeper := New(lc, &fakeNotifier{}, discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- sweeper.Run(ctx, time.Hour)
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
