// internal/scheduling/domain.go
package scheduling

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type ReservationStatus string

const (
	ReservationConfirmed  ReservationStatus = "confirmed"
	ReservationWaitlisted ReservationStatus = "waitlist"
	ReservationCancelled  ReservationStatus = "cancelled"
	ReservationAttended   ReservationStatus = "attended"
	ReservationNoShow     ReservationStatus = "no_show"
)

var (
	ErrDuplicateReservation = errors.New("member already holds a reservation for this session")
	ErrNotConfirmed         = errors.New("reservation is not confirmed")
	ErrNotWaitlisted        = errors.New("reservation is not on the waitlist")
	ErrMembershipNotActive  = errors.New("member has no active membership")
	ErrInvalidCapacity      = errors.New("session capacity must be positive")
	ErrInvalidTimeSlot      = errors.New("session must end after it starts")
)

// Session is a fixed, capacity-bounded time slot members book into.
// Sessions are created out-of-band and never moved by this engine.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	StartsAt  time.Time `json:"starts_at" db:"starts_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
	Capacity  int       `json:"capacity" db:"capacity"`
	Location  string    `json:"location" db:"location"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the fields supplied at creation time.
func (s *Session) Validate() error {
	if s.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if !s.EndsAt.After(s.StartsAt) {
		return ErrInvalidTimeSlot
	}
	return nil
}

// SessionView is a session together with its live reservation counts.
// The counts are computed from the reservation set on every read,
// never cached.
type SessionView struct {
	Session
	ConfirmedCount int `json:"confirmed_count" db:"confirmed_count"`
	WaitlistCount  int `json:"waitlist_count" db:"waitlist_count"`
}

func (v *SessionView) AvailableSpots() int {
	return v.Capacity - v.ConfirmedCount
}

func (v *SessionView) IsFull() bool {
	return v.AvailableSpots() <= 0
}

// Reservation is one member's booking against one session. A member
// holds at most one non-cancelled reservation per session.
type Reservation struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	SessionID        uuid.UUID         `json:"session_id" db:"session_id"`
	MemberID         uuid.UUID         `json:"member_id" db:"member_id"`
	Status           ReservationStatus `json:"status" db:"status"`
	WaitlistPosition *int              `json:"waitlist_position,omitempty" db:"waitlist_position"`
	ReservedAt       time.Time         `json:"reserved_at" db:"reserved_at"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	AttendedAt       *time.Time        `json:"attended_at,omitempty" db:"attended_at"`
	Version          int               `json:"version" db:"version"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// Admit decides how a new booking enters a session: confirmed while a
// spot is free, otherwise appended to the waitlist one past the
// highest position still held. Positions are never renumbered, so a
// mid-waitlist withdrawal leaves a gap and the count alone would
// collide with a live position.
func Admit(capacity, confirmedCount, lastWaitlistPosition int) (ReservationStatus, *int) {
	if confirmedCount < capacity {
		return ReservationConfirmed, nil
	}
	pos := lastWaitlistPosition + 1
	return ReservationWaitlisted, &pos
}

// NextInLine picks the waitlist reservation with the smallest position.
// Strict FIFO: no other ordering is considered.
func NextInLine(waitlist []Reservation) *Reservation {
	var next *Reservation
	for i := range waitlist {
		r := &waitlist[i]
		if r.Status != ReservationWaitlisted || r.WaitlistPosition == nil {
			continue
		}
		if next == nil || *r.WaitlistPosition < *next.WaitlistPosition {
			next = r
		}
	}
	return next
}

// Cancel releases a confirmed reservation. The caller promotes the
// next waitlisted member in the same atomic unit.
func (r *Reservation) Cancel(now time.Time) error {
	if r.Status != ReservationConfirmed {
		return ErrNotConfirmed
	}
	r.Status = ReservationCancelled
	r.CancelledAt = &now
	return nil
}

// CancelWaitlisted withdraws a waitlisted reservation. Nobody is
// promoted and later positions keep their numbers.
func (r *Reservation) CancelWaitlisted(now time.Time) error {
	if r.Status != ReservationWaitlisted {
		return ErrNotWaitlisted
	}
	r.Status = ReservationCancelled
	r.WaitlistPosition = nil
	r.CancelledAt = &now
	return nil
}

// Promote converts the head of the waitlist into a confirmed
// reservation.
func (r *Reservation) Promote() {
	r.Status = ReservationConfirmed
	r.WaitlistPosition = nil
}

// MarkAttended records attendance for a confirmed reservation.
func (r *Reservation) MarkAttended(now time.Time) error {
	if r.Status != ReservationConfirmed {
		return ErrNotConfirmed
	}
	r.Status = ReservationAttended
	r.AttendedAt = &now
	return nil
}

// MarkNoShow records a missed confirmed reservation. The slot counts
// as consumed; nobody is promoted.
func (r *Reservation) MarkNoShow(now time.Time) error {
	if r.Status != ReservationConfirmed {
		return ErrNotConfirmed
	}
	r.Status = ReservationNoShow
	return nil
}

// Event represents a domain event related to a session or reservation.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SessionCreatedEvent is published when a session fixture is created.
type SessionCreatedEvent struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
	Capacity int       `json:"capacity"`
}

// ReservationConfirmedEvent is published when a booking is admitted
// directly into a free spot.
type ReservationConfirmedEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	MemberID  uuid.UUID `json:"member_id"`
}

// ReservationWaitlistedEvent is published when a booking lands on the
// waitlist of a full session.
type ReservationWaitlistedEvent struct {
	ID               uuid.UUID `json:"id"`
	SessionID        uuid.UUID `json:"session_id"`
	MemberID         uuid.UUID `json:"member_id"`
	WaitlistPosition int       `json:"waitlist_position"`
}

// ReservationCancelledEvent is published when a reservation is
// withdrawn, from either the confirmed set or the waitlist.
type ReservationCancelledEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	MemberID  uuid.UUID `json:"member_id"`
}

// ReservationPromotedEvent is published when a cancellation pulls the
// head of the waitlist into the confirmed set.
type ReservationPromotedEvent struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	MemberID     uuid.UUID `json:"member_id"`
	FromPosition int       `json:"from_position"`
}

// ReservationAttendedEvent is published when attendance is marked.
type ReservationAttendedEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	MemberID  uuid.UUID `json:"member_id"`
}

// ReservationNoShowEvent is published when a confirmed member does not
// turn up.
type ReservationNoShowEvent struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	MemberID  uuid.UUID `json:"member_id"`
}
