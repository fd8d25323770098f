// internal/membership/implementation.go
package membership

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"gymnexus/internal/catalog"
	"gymnexus/pkg/eventstore"
	"gymnexus/pkg/keylock"
)

// maxConflictRetries bounds how often a serialization conflict is
// retried before it is surfaced to the caller.
const maxConflictRetries = 3

// PlanSource supplies plan records for freeze-precondition checks.
// Satisfied by the catalog HTTP client in production and by stubs in
// tests.
type PlanSource interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*catalog.Plan, error)
}

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	db         *sql.DB
	plans      PlanSource
	locks      *keylock.KeyLock
	limiter    *rate.Limiter
}

// NewService creates a new membership lifecycle service instance.
func NewService(es *eventstore.EventStore, db *sql.DB, plans PlanSource) Service {
	return &service{
		eventStore: es,
		db:         db,
		plans:      plans,
		locks:      keylock.New(),
		limiter:    rate.NewLimiter(rate.Every(1*time.Minute), 5), // 5 enrollments per minute
	}
}

// withMembershipLock serializes the unit of work per membership id and
// retries it a bounded number of times on serialization conflicts.
// Rejections are permanent and never retried.
func (s *service) withMembershipLock(ctx context.Context, id uuid.UUID, op func() (*Result, error)) (*Result, error) {
	var res *Result
	err := s.locks.Do("membership:"+id.String(), func() error {
		r, err := backoff.Retry(ctx, func() (*Result, error) {
			r, err := op()
			if err != nil {
				if errors.Is(err, eventstore.ErrConcurrencyConflict) {
					return nil, err
				}
				return nil, backoff.Permanent(err)
			}
			return r, nil
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(maxConflictRetries),
		)
		res = r
		return err
	})
	return res, err
}

// Enroll creates an active membership for a member on a plan. A member
// may hold at most one current (active or frozen) membership.
func (s *service) Enroll(ctx context.Context, memberID, planID uuid.UUID, startDate time.Time, actor string) (*Result, error) {
	if !s.limiter.Allow() {
		return nil, fmt.Errorf("rate limit exceeded")
	}

	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return s.withMembershipLock(ctx, memberID, func() (*Result, error) {
		var hasCurrent bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM memberships
				WHERE member_id = $1 AND status IN ('active', 'frozen')
			)
		`, memberID).Scan(&hasCurrent)
		if err != nil {
			return nil, fmt.Errorf("failed to check current membership: %w", err)
		}
		if hasCurrent {
			return nil, ErrAlreadyEnrolled
		}

		m := NewMembership(memberID, *plan, startDate)

		events := []Event{{Type: "MembershipEnrolled", Data: MembershipEnrolledEvent{
			ID:        m.ID,
			MemberID:  m.MemberID,
			PlanID:    m.PlanID,
			StartDate: m.StartDate,
			EndDate:   m.EndDate,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, 0, events, actor); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO memberships (id, member_id, plan_id, start_date, end_date, status, frozen_days_used, version)
				VALUES ($1, $2, $3, $4, $5, $6, 0, 1)
			`, m.ID, m.MemberID, m.PlanID, m.StartDate, m.EndDate, m.Status)
			if err != nil {
				// The partial unique index on member_id for current rows
				// catches the race the EXISTS check missed.
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == "23505" {
					return ErrAlreadyEnrolled
				}
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		return &Result{Before: Membership{}, After: m, Changed: true, Events: events}, nil
	})
}

// GetMembership retrieves a membership by its ID.
func (s *service) GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	return s.getMembership(ctx, id)
}

// GetCurrentForMember returns the member's current (active or frozen)
// membership. The reservation engine reads this before admitting a
// booking.
func (s *service) GetCurrentForMember(ctx context.Context, memberID uuid.UUID) (*Membership, error) {
	query := `
		SELECT id, member_id, plan_id, start_date, end_date, status, frozen_at, frozen_days_used, notes, version, created_at, updated_at
		FROM memberships
		WHERE member_id = $1 AND status IN ('active', 'frozen')
		ORDER BY start_date DESC
		LIMIT 1
	`
	m := &Membership{}
	var frozenAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, memberID).Scan(
		&m.ID,
		&m.MemberID,
		&m.PlanID,
		&m.StartDate,
		&m.EndDate,
		&m.Status,
		&frozenAt,
		&m.FrozenDaysUsed,
		&m.Notes,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoCurrentMembership
		}
		return nil, fmt.Errorf("failed to get membership from read model: %w", err)
	}
	if frozenAt.Valid {
		t := DateOnly(frozenAt.Time)
		m.FrozenAt = &t
	}
	return m, nil
}

func (s *service) getMembership(ctx context.Context, id uuid.UUID) (*Membership, error) {
	query := `
		SELECT id, member_id, plan_id, start_date, end_date, status, frozen_at, frozen_days_used, notes, version, created_at, updated_at
		FROM memberships
		WHERE id = $1
	`
	m := &Membership{}
	var frozenAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID,
		&m.MemberID,
		&m.PlanID,
		&m.StartDate,
		&m.EndDate,
		&m.Status,
		&frozenAt,
		&m.FrozenDaysUsed,
		&m.Notes,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("membership with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get membership from read model: %w", err)
	}
	if frozenAt.Valid {
		t := DateOnly(frozenAt.Time)
		m.FrozenAt = &t
	}
	return m, nil
}

// Freeze pauses an active membership's expiration clock and opens a
// freeze history record.
func (s *service) Freeze(ctx context.Context, id uuid.UUID, reason, actor string) (*Result, error) {
	return s.withMembershipLock(ctx, id, func() (*Result, error) {
		m, err := s.getMembership(ctx, id)
		if err != nil {
			return nil, err
		}
		plan, err := s.plans.GetPlan(ctx, m.PlanID)
		if err != nil {
			return nil, fmt.Errorf("failed to get plan: %w", err)
		}

		before := *m
		today := DateOnly(time.Now())
		if err := m.Freeze(*plan, today); err != nil {
			return nil, err
		}

		events := []Event{{Type: "MembershipFrozen", Data: MembershipFrozenEvent{
			ID:       m.ID,
			FrozenAt: *m.FrozenAt,
			Reason:   reason,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE memberships
				SET status = 'frozen', frozen_at = $1, version = version + 1, updated_at = NOW()
				WHERE id = $2 AND version = $3
			`, *m.FrozenAt, m.ID, before.Version)
			if err != nil {
				return err
			}
			if err := requireUpdate(res); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO freeze_records (id, membership_id, start_date, reason)
				VALUES ($1, $2, $3, $4)
			`, uuid.New(), m.ID, *m.FrozenAt, reason)
			return err
		})
		if err != nil {
			return nil, err
		}

		m.Version = before.Version + 1
		return &Result{Before: before, After: *m, Changed: true, Events: events}, nil
	})
}

// Unfreeze reactivates a frozen membership, extending its end date by
// the days spent frozen, and closes the open freeze record.
func (s *service) Unfreeze(ctx context.Context, id uuid.UUID, actor string) (*Result, error) {
	return s.withMembershipLock(ctx, id, func() (*Result, error) {
		m, err := s.getMembership(ctx, id)
		if err != nil {
			return nil, err
		}

		before := *m
		today := DateOnly(time.Now())
		daysFrozen, err := m.Unfreeze(today)
		if err != nil {
			return nil, err
		}

		events := []Event{{Type: "MembershipUnfrozen", Data: MembershipUnfrozenEvent{
			ID:             m.ID,
			DaysFrozen:     daysFrozen,
			NewEndDate:     m.EndDate,
			FrozenDaysUsed: m.FrozenDaysUsed,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE memberships
				SET status = 'active', frozen_at = NULL, end_date = $1, frozen_days_used = $2, version = version + 1, updated_at = NOW()
				WHERE id = $3 AND version = $4
			`, m.EndDate, m.FrozenDaysUsed, m.ID, before.Version)
			if err != nil {
				return err
			}
			if err := requireUpdate(res); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE freeze_records
				SET end_date = $1
				WHERE membership_id = $2 AND end_date IS NULL
			`, today, m.ID)
			return err
		})
		if err != nil {
			return nil, err
		}

		m.Version = before.Version + 1
		return &Result{Before: before, After: *m, Changed: true, Events: events}, nil
	})
}

// Expire transitions an overdue active membership to expired. Calling
// it on anything else is a no-op with Changed=false, so the sweep can
// retry freely.
func (s *service) Expire(ctx context.Context, id uuid.UUID, actor string) (*Result, error) {
	return s.withMembershipLock(ctx, id, func() (*Result, error) {
		m, err := s.getMembership(ctx, id)
		if err != nil {
			return nil, err
		}

		before := *m
		if !m.Expire(DateOnly(time.Now())) {
			return &Result{Before: before, After: *m, Changed: false}, nil
		}

		events := []Event{{Type: "MembershipExpired", Data: MembershipExpiredEvent{
			ID:      m.ID,
			EndDate: m.EndDate,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE memberships
				SET status = 'expired', version = version + 1, updated_at = NOW()
				WHERE id = $1 AND version = $2
			`, m.ID, before.Version)
			if err != nil {
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return requireUpdate(res)
		})
		if err != nil {
			return nil, err
		}

		m.Version = before.Version + 1
		return &Result{Before: before, After: *m, Changed: true, Events: events}, nil
	})
}

// Cancel terminates a membership administratively. An open freeze is
// closed first so the history stays consistent.
func (s *service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Result, error) {
	return s.withMembershipLock(ctx, id, func() (*Result, error) {
		m, err := s.getMembership(ctx, id)
		if err != nil {
			return nil, err
		}

		before := *m
		if err := m.Cancel(); err != nil {
			return nil, err
		}

		events := []Event{{Type: "MembershipCancelled", Data: MembershipCancelledEvent{
			ID:     m.ID,
			Reason: reason,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE memberships
				SET status = 'cancelled', frozen_at = NULL, version = version + 1, updated_at = NOW()
				WHERE id = $1 AND version = $2
			`, m.ID, before.Version)
			if err != nil {
				return err
			}
			if err := requireUpdate(res); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE freeze_records
				SET end_date = $1
				WHERE membership_id = $2 AND end_date IS NULL
			`, DateOnly(time.Now()), m.ID)
			return err
		})
		if err != nil {
			return nil, err
		}

		m.Version = before.Version + 1
		return &Result{Before: before, After: *m, Changed: true, Events: events}, nil
	})
}

// Renew extends a membership. Payment is recorded by the billing
// collaborator; the engine only accepts the resolved request.
func (s *service) Renew(ctx context.Context, id uuid.UUID, months int, actor string) (*Result, error) {
	return s.withMembershipLock(ctx, id, func() (*Result, error) {
		m, err := s.getMembership(ctx, id)
		if err != nil {
			return nil, err
		}

		before := *m
		if err := m.Renew(months, DateOnly(time.Now())); err != nil {
			return nil, err
		}

		events := []Event{{Type: "MembershipRenewed", Data: MembershipRenewedEvent{
			ID:         m.ID,
			OldEndDate: before.EndDate,
			NewEndDate: m.EndDate,
			Months:     months,
		}}}

		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if err := s.appendEvents(ctx, tx, m.ID, before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE memberships
				SET status = 'active', end_date = $1, version = version + 1, updated_at = NOW()
				WHERE id = $2 AND version = $3
			`, m.EndDate, m.ID, before.Version)
			if err != nil {
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return requireUpdate(res)
		})
		if err != nil {
			return nil, err
		}

		m.Version = before.Version + 1
		return &Result{Before: before, After: *m, Changed: true, Events: events}, nil
	})
}

// ListFreezes returns the freeze history for a membership, newest first.
func (s *service) ListFreezes(ctx context.Context, id uuid.UUID) ([]FreezeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, membership_id, start_date, end_date, reason, created_at
		FROM freeze_records
		WHERE membership_id = $1
		ORDER BY start_date DESC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list freeze records: %w", err)
	}
	defer rows.Close()

	var records []FreezeRecord
	for rows.Next() {
		var rec FreezeRecord
		var endDate sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.MembershipID, &rec.StartDate, &endDate, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan freeze record: %w", err)
		}
		if endDate.Valid {
			t := DateOnly(endDate.Time)
			rec.EndDate = &t
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListOverdueActive returns ids of active memberships whose end date
// has passed, for the expiration sweep.
func (s *service) ListOverdueActive(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memberships
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date ASC
	`, DateOnly(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue memberships: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan membership id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListExpiringOn returns active memberships ending on exactly the
// given date, for the sweep's renewal reminders.
func (s *service) ListExpiringOn(ctx context.Context, endDate time.Time) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, plan_id, start_date, end_date, status, frozen_at, frozen_days_used, notes, version, created_at, updated_at
		FROM memberships
		WHERE status = 'active' AND end_date = $1
	`, DateOnly(endDate))
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring memberships: %w", err)
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		var frozenAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.MemberID, &m.PlanID, &m.StartDate, &m.EndDate, &m.Status,
			&frozenAt, &m.FrozenDaysUsed, &m.Notes, &m.Version, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// appendEvents writes the audit events on the caller's transaction, so
// they commit or roll back together with the read-model update.
func (s *service) appendEvents(ctx context.Context, tx *sql.Tx, aggregateID uuid.UUID, expectedVersion int, events []Event, actor string) error {
	stored := make([]eventstore.Event, 0, len(events))
	for _, e := range events {
		jsonData, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		stored = append(stored, eventstore.Event{
			AggregateID:   aggregateID,
			AggregateType: "membership",
			EventType:     e.Type,
			EventData:     jsonData,
			Metadata:      eventstore.WithActor(actor),
		})
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx, aggregateID, "membership", expectedVersion, stored); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return err
		}
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

func (s *service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// requireUpdate maps a guarded UPDATE that matched no row to a
// concurrency conflict, so the bounded retry can re-read and re-check.
func requireUpdate(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return eventstore.ErrConcurrencyConflict
	}
	return nil
}
