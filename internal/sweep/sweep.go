// internal/sweep/sweep.go
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"gymnexus/internal/membership"
)

// reminderDays are the distances from expiry at which a renewal
// reminder goes out.
var reminderDays = []int{7, 3}

// Lifecycle is the slice of the membership service the sweep drives.
type Lifecycle interface {
	ListOverdueActive(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	ListExpiringOn(ctx context.Context, endDate time.Time) ([]membership.Membership, error)
	Expire(ctx context.Context, id uuid.UUID, actor string) (*membership.Result, error)
}

// Notifier receives the renewal reminders the sweep emits. Satisfied
// by the event-store recorder in production and by fakes in tests.
type Notifier interface {
	ExpiringSoon(ctx context.Context, m membership.Membership, daysLeft int) error
}

// Report summarizes one sweep pass.
type Report struct {
	RanAt     time.Time `json:"ran_at"`
	Scanned   int       `json:"scanned"`
	Expired   int       `json:"expired"`
	Reminders int       `json:"reminders"`
	Failures  int       `json:"failures"`
}

// Sweeper expires overdue memberships and sends renewal reminders once
// a day. Each item is processed independently so one bad record never
// stalls the pass.
type Sweeper struct {
	lifecycle Lifecycle
	notifier  Notifier
	limiter   *rate.Limiter
	logger    *log.Logger
}

func New(lifecycle Lifecycle, notifier Notifier, logger *log.Logger) *Sweeper {
	return &Sweeper{
		lifecycle: lifecycle,
		notifier:  notifier,
		limiter:   rate.NewLimiter(rate.Limit(50), 10), // 50 transitions/sec, burst 10
		logger:    logger,
	}
}

// SweepOnce runs a single pass as of the given instant and reports
// what it did. A pass is idempotent: Expire skips memberships that
// already transitioned, and re-sent reminders carry the same payload.
func (s *Sweeper) SweepOnce(ctx context.Context, asOf time.Time) (*Report, error) {
	report := &Report{RanAt: asOf}

	overdue, err := s.lifecycle.ListOverdueActive(ctx, asOf)
	if err != nil {
		return nil, err
	}
	report.Scanned = len(overdue)

	for _, id := range overdue {
		if err := s.limiter.Wait(ctx); err != nil {
			return report, err
		}
		result, err := s.lifecycle.Expire(ctx, id, "sweep")
		if err != nil {
			report.Failures++
			s.logger.Printf("sweep: expire %s failed: %v", id, err)
			continue
		}
		if result.Changed {
			report.Expired++
		}
	}

	for _, daysLeft := range reminderDays {
		endDate := membership.DateOnly(asOf).AddDate(0, 0, daysLeft)
		expiring, err := s.lifecycle.ListExpiringOn(ctx, endDate)
		if err != nil {
			report.Failures++
			s.logger.Printf("sweep: list expiring on %s failed: %v", endDate.Format("2006-01-02"), err)
			continue
		}
		for _, m := range expiring {
			if err := s.notifier.ExpiringSoon(ctx, m, daysLeft); err != nil {
				report.Failures++
				s.logger.Printf("sweep: reminder for %s failed: %v", m.ID, err)
				continue
			}
			report.Reminders++
		}
	}

	s.logger.Printf("sweep: scanned=%d expired=%d reminders=%d failures=%d",
		report.Scanned, report.Expired, report.Reminders, report.Failures)
	return report, nil
}

// Run executes a pass immediately and then once per interval until the
// context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx, time.Now()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("sweep: pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
