// internal/scheduling/implementation.go
package scheduling

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gymnexus/internal/membership"
	"gymnexus/pkg/eventstore"
	"gymnexus/pkg/keylock"
)

// maxConflictRetries bounds how often a serialization conflict is
// retried before it is surfaced to the caller.
const maxConflictRetries = 3

// MembershipSource answers whether a member currently holds an active
// membership. Satisfied by the membership HTTP client in production
// and by stubs in tests.
type MembershipSource interface {
	GetCurrentForMember(ctx context.Context, memberID uuid.UUID) (*membership.Membership, error)
}

// service implements the Service interface.
type service struct {
	eventStore  *eventstore.EventStore
	db          *sqlx.DB
	memberships MembershipSource
	locks       *keylock.KeyLock
}

// NewService creates a new session and reservation service instance.
func NewService(es *eventstore.EventStore, db *sqlx.DB, memberships MembershipSource) Service {
	return &service{
		eventStore:  es,
		db:          db,
		memberships: memberships,
		locks:       keylock.New(),
	}
}

// withSessionLock serializes the unit of work per session id and
// retries it a bounded number of times on serialization conflicts.
// Rejections are permanent and never retried.
func (s *service) withSessionLock(ctx context.Context, sessionID uuid.UUID, op func() (*Result, error)) (*Result, error) {
	var res *Result
	err := s.locks.Do("session:"+sessionID.String(), func() error {
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

// CreateSession registers a new bookable session.
func (s *service) CreateSession(ctx context.Context, session *Session, actor string) error {
	if err := session.Validate(); err != nil {
		return err
	}
	session.ID = uuid.New()

	events := []Event{{Type: "SessionCreated", Data: SessionCreatedEvent{
		ID:       session.ID,
		Title:    session.Title,
		StartsAt: session.StartsAt,
		Capacity: session.Capacity,
	}}}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.appendEvents(ctx, tx, session.ID, "session", 0, events, actor); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, title, starts_at, ends_at, capacity, location)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, session.ID, session.Title, session.StartsAt, session.EndsAt, session.Capacity, session.Location)
		if err != nil {
			return fmt.Errorf("failed to update read model: %w", err)
		}
		return nil
	})
}

const sessionViewQuery = `
	SELECT s.id, s.title, s.starts_at, s.ends_at, s.capacity, s.location, s.created_at, s.updated_at,
		COUNT(*) FILTER (WHERE r.status = 'confirmed') AS confirmed_count,
		COUNT(*) FILTER (WHERE r.status = 'waitlist') AS waitlist_count
	FROM sessions s
	LEFT JOIN reservations r ON r.session_id = s.id
`

// GetSession retrieves a session with its live reservation counts.
// The counts are derived from the reservation rows on every read so
// capacity checks never trust a stale counter.
func (s *service) GetSession(ctx context.Context, id uuid.UUID) (*SessionView, error) {
	view := &SessionView{}
	err := s.db.GetContext(ctx, view, sessionViewQuery+`
		WHERE s.id = $1
		GROUP BY s.id
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get session from read model: %w", err)
	}
	return view, nil
}

// ListSessions returns all sessions with their counts, soonest first.
func (s *service) ListSessions(ctx context.Context) ([]SessionView, error) {
	var views []SessionView
	err := s.db.SelectContext(ctx, &views, sessionViewQuery+`
		GROUP BY s.id
		ORDER BY s.starts_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return views, nil
}

// Book admits a member into a session: into a free spot while one
// exists, otherwise onto the tail of the waitlist. The member must
// hold an active membership and may hold only one live reservation
// per session.
func (s *service) Book(ctx context.Context, sessionID, memberID uuid.UUID, actor string) (*Result, error) {
	current, err := s.memberships.GetCurrentForMember(ctx, memberID)
	if err != nil {
		if errors.Is(err, membership.ErrNoCurrentMembership) {
			return nil, ErrMembershipNotActive
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if current.Status != membership.StatusActive {
		return nil, ErrMembershipNotActive
	}

	return s.withSessionLock(ctx, sessionID, func() (*Result, error) {
		view, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}

		var hasLive bool
		err = s.db.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE session_id = $1 AND member_id = $2 AND status NOT IN ('cancelled')
			)
		`, sessionID, memberID).Scan(&hasLive)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing reservation: %w", err)
		}
		if hasLive {
			return nil, ErrDuplicateReservation
		}

		// The waitlist tail is the highest live position, not the count.
		// Withdrawn entries leave gaps and their numbers stay retired.
		var lastPosition int
		err = s.db.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(waitlist_position), 0)
			FROM reservations
			WHERE session_id = $1 AND status = 'waitlist'
		`, sessionID).Scan(&lastPosition)
		if err != nil {
			return nil, fmt.Errorf("failed to find waitlist tail: %w", err)
		}

		status, position := Admit(view.Capacity, view.ConfirmedCount, lastPosition)
		r := Reservation{
			ID:               uuid.New(),
			SessionID:        sessionID,
			MemberID:         memberID,
			Status:           status,
			WaitlistPosition: position,
			ReservedAt:       time.Now().UTC(),
			Version:          1,
		}

		var events []Event
		if status == ReservationConfirmed {
			events = []Event{{Type: "ReservationConfirmed", Data: ReservationConfirmedEvent{
				ID: r.ID, SessionID: sessionID, MemberID: memberID,
			}}}
		} else {
			events = []Event{{Type: "ReservationWaitlisted", Data: ReservationWaitlistedEvent{
				ID: r.ID, SessionID: sessionID, MemberID: memberID, WaitlistPosition: *position,
			}}}
		}

		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.appendEvents(ctx, tx, r.ID, "reservation", 0, events, actor); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (id, session_id, member_id, status, waitlist_position, reserved_at, version)
				VALUES ($1, $2, $3, $4, $5, $6, 1)
			`, r.ID, r.SessionID, r.MemberID, r.Status, r.WaitlistPosition, r.ReservedAt)
			if err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == "23505" {
					// The one-live-reservation index catches the race the
					// EXISTS check missed. Any other unique violation, such
					// as a contested waitlist position, is a conflict the
					// bounded retry re-reads and re-admits.
					if pqErr.Constraint == "idx_reservations_one_live" {
						return ErrDuplicateReservation
					}
					return eventstore.ErrConcurrencyConflict
				}
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		return &Result{After: r, Events: events}, nil
	})
}

// Cancel releases a confirmed reservation and, in the same
// transaction, promotes the waitlisted member with the smallest
// position into the freed spot.
func (s *service) Cancel(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error) {
	r, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	return s.withSessionLock(ctx, r.SessionID, func() (*Result, error) {
		r, err := s.getReservation(ctx, reservationID)
		if err != nil {
			return nil, err
		}

		before := *r
		now := time.Now().UTC()
		if err := r.Cancel(now); err != nil {
			return nil, err
		}

		waitlist, err := s.listWaitlist(ctx, r.SessionID)
		if err != nil {
			return nil, err
		}
		next := NextInLine(waitlist)

		events := []Event{{Type: "ReservationCancelled", Data: ReservationCancelledEvent{
			ID: r.ID, SessionID: r.SessionID, MemberID: r.MemberID,
		}}}

		var promoted *Reservation
		var promoteEvents []Event
		if next != nil {
			fromPosition := *next.WaitlistPosition
			next.Promote()
			promoteEvents = []Event{{Type: "ReservationPromoted", Data: ReservationPromotedEvent{
				ID: next.ID, SessionID: next.SessionID, MemberID: next.MemberID, FromPosition: fromPosition,
			}}}
			promoted = next
		}

		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.appendEvents(ctx, tx, r.ID, "reservation", before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE reservations
				SET status = 'cancelled', cancelled_at = $1, version = version + 1, updated_at = NOW()
				WHERE id = $2 AND version = $3
			`, now, r.ID, before.Version)
			if err != nil {
				return err
			}
			if err := requireUpdate(res); err != nil {
				return err
			}
			if promoted != nil {
				if err := s.appendEvents(ctx, tx, promoted.ID, "reservation", promoted.Version, promoteEvents, actor); err != nil {
					return err
				}
				res, err := tx.ExecContext(ctx, `
					UPDATE reservations
					SET status = 'confirmed', waitlist_position = NULL, version = version + 1, updated_at = NOW()
					WHERE id = $1 AND version = $2
				`, promoted.ID, promoted.Version)
				if err != nil {
					return err
				}
				if err := requireUpdate(res); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		r.Version = before.Version + 1
		if promoted != nil {
			promoted.Version++
			events = append(events, promoteEvents...)
		}
		return &Result{Before: &before, After: *r, Promoted: promoted, Events: events}, nil
	})
}

// CancelWaitlisted withdraws a waitlisted reservation. Later waitlist
// positions keep their numbers; FIFO order among the remaining entries
// is unchanged.
func (s *service) CancelWaitlisted(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error) {
	r, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	return s.withSessionLock(ctx, r.SessionID, func() (*Result, error) {
		r, err := s.getReservation(ctx, reservationID)
		if err != nil {
			return nil, err
		}

		before := *r
		now := time.Now().UTC()
		if err := r.CancelWaitlisted(now); err != nil {
			return nil, err
		}

		events := []Event{{Type: "ReservationCancelled", Data: ReservationCancelledEvent{
			ID: r.ID, SessionID: r.SessionID, MemberID: r.MemberID,
		}}}
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.appendEvents(ctx, tx, r.ID, "reservation", before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE reservations
				SET status = 'cancelled', waitlist_position = NULL, cancelled_at = $1, version = version + 1, updated_at = NOW()
				WHERE id = $2 AND version = $3
			`, now, r.ID, before.Version)
			if err != nil {
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return requireUpdate(res)
		})
		if err != nil {
			return nil, err
		}

		r.Version = before.Version + 1
		return &Result{Before: &before, After: *r, Events: events}, nil
	})
}

// MarkAttended records that a confirmed member checked in.
func (s *service) MarkAttended(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error) {
	return s.mark(ctx, reservationID, actor, "ReservationAttended", func(r *Reservation, now time.Time) error {
		return r.MarkAttended(now)
	})
}

// MarkNoShow records that a confirmed member did not turn up. The spot
// stays consumed; nobody is promoted.
func (s *service) MarkNoShow(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error) {
	return s.mark(ctx, reservationID, actor, "ReservationNoShow", func(r *Reservation, now time.Time) error {
		return r.MarkNoShow(now)
	})
}

func (s *service) mark(ctx context.Context, reservationID uuid.UUID, actor, eventType string, transition func(*Reservation, time.Time) error) (*Result, error) {
	r, err := s.getReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	return s.withSessionLock(ctx, r.SessionID, func() (*Result, error) {
		r, err := s.getReservation(ctx, reservationID)
		if err != nil {
			return nil, err
		}

		before := *r
		now := time.Now().UTC()
		if err := transition(r, now); err != nil {
			return nil, err
		}

		var data interface{}
		if eventType == "ReservationAttended" {
			data = ReservationAttendedEvent{ID: r.ID, SessionID: r.SessionID, MemberID: r.MemberID}
		} else {
			data = ReservationNoShowEvent{ID: r.ID, SessionID: r.SessionID, MemberID: r.MemberID}
		}
		events := []Event{{Type: eventType, Data: data}}
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if err := s.appendEvents(ctx, tx, r.ID, "reservation", before.Version, events, actor); err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE reservations
				SET status = $1, attended_at = $2, version = version + 1, updated_at = NOW()
				WHERE id = $3 AND version = $4
			`, r.Status, r.AttendedAt, r.ID, before.Version)
			if err != nil {
				return fmt.Errorf("failed to update read model: %w", err)
			}
			return requireUpdate(res)
		})
		if err != nil {
			return nil, err
		}

		r.Version = before.Version + 1
		return &Result{Before: &before, After: *r, Events: events}, nil
	})
}

// GetReservation retrieves a reservation by its ID.
func (s *service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.getReservation(ctx, id)
}

func (s *service) getReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r := &Reservation{}
	err := s.db.GetContext(ctx, r, `
		SELECT id, session_id, member_id, status, waitlist_position, reserved_at, cancelled_at, attended_at, version, created_at, updated_at
		FROM reservations
		WHERE id = $1
	`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("reservation with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get reservation from read model: %w", err)
	}
	return r, nil
}

// ListReservations returns a session's reservations: confirmed set
// first, then the waitlist in position order.
func (s *service) ListReservations(ctx context.Context, sessionID uuid.UUID) ([]Reservation, error) {
	var reservations []Reservation
	err := s.db.SelectContext(ctx, &reservations, `
		SELECT id, session_id, member_id, status, waitlist_position, reserved_at, cancelled_at, attended_at, version, created_at, updated_at
		FROM reservations
		WHERE session_id = $1
		ORDER BY status != 'confirmed', waitlist_position ASC NULLS FIRST, reserved_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

func (s *service) listWaitlist(ctx context.Context, sessionID uuid.UUID) ([]Reservation, error) {
	var waitlist []Reservation
	err := s.db.SelectContext(ctx, &waitlist, `
		SELECT id, session_id, member_id, status, waitlist_position, reserved_at, cancelled_at, attended_at, version, created_at, updated_at
		FROM reservations
		WHERE session_id = $1 AND status = 'waitlist'
		ORDER BY waitlist_position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	return waitlist, nil
}

// appendEvents writes the audit events on the caller's transaction, so
// they commit or roll back together with the read-model update.
func (s *service) appendEvents(ctx context.Context, tx *sqlx.Tx, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event, actor string) error {
	stored := make([]eventstore.Event, 0, len(events))
	for _, e := range events {
		jsonData, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		stored = append(stored, eventstore.Event{
			AggregateID:   aggregateID,
			AggregateType: aggregateType,
			EventType:     e.Type,
			EventData:     jsonData,
			Metadata:      eventstore.WithActor(actor),
		})
	}
	if err := s.eventStore.AppendEventsTx(ctx, tx.Tx, aggregateID, aggregateType, expectedVersion, stored); err != nil {
		if errors.Is(err, eventstore.ErrConcurrencyConflict) {
			return err
		}
		return fmt.Errorf("failed to append events: %w", err)
	}
	return nil
}

func (s *service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
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
