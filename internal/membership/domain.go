// internal/membership/domain.go
package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"gymnexus/internal/catalog"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusFrozen    Status = "frozen"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotActive            = errors.New("membership is not active")
	ErrNotFrozen            = errors.New("membership is not frozen")
	ErrFreezeNotAllowed     = errors.New("plan does not allow freezing")
	ErrFreezeQuotaExhausted = errors.New("freeze day quota exhausted")
	ErrAlreadyTerminal      = errors.New("membership is in a terminal state")
	ErrNotRenewable         = errors.New("membership cannot be renewed in its current state")
	ErrInvalidRenewal       = errors.New("renewal duration must be between 1 and 24 months")
	ErrAlreadyEnrolled      = errors.New("member already has a current membership")
	ErrNoCurrentMembership  = errors.New("member has no current membership")
)

// Membership is a member's time-bounded subscription instance.
// Start and end dates are dates, stored at UTC midnight.
type Membership struct {
	ID             uuid.UUID  `json:"id"`
	MemberID       uuid.UUID  `json:"member_id"`
	PlanID         uuid.UUID  `json:"plan_id"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        time.Time  `json:"end_date"`
	Status         Status     `json:"status"`
	FrozenAt       *time.Time `json:"frozen_at,omitempty"`
	FrozenDaysUsed int        `json:"frozen_days_used"`
	Notes          string     `json:"notes,omitempty"`
	Version        int        `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// FreezeRecord is one entry in the append-only freeze history.
// EndDate stays nil while the freeze is open.
type FreezeRecord struct {
	ID           uuid.UUID  `json:"id"`
	MembershipID uuid.UUID  `json:"membership_id"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// DateOnly truncates a timestamp to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(DateOnly(to).Sub(DateOnly(from)).Hours() / 24)
}

// NewMembership builds the active membership Enroll persists. The end
// date comes from the plan duration, so it is always >= the start date.
func NewMembership(memberID uuid.UUID, plan catalog.Plan, startDate time.Time) Membership {
	start := DateOnly(startDate)
	return Membership{
		ID:        uuid.New(),
		MemberID:  memberID,
		PlanID:    plan.ID,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, plan.DurationDays),
		Status:    StatusActive,
		Version:   1,
	}
}

// DaysRemaining is defined only while the membership is active;
// frozen, expired and cancelled memberships report zero.
func (m *Membership) DaysRemaining(today time.Time) int {
	if m.Status != StatusActive {
		return 0
	}
	days := daysBetween(today, m.EndDate)
	if days < 0 {
		return 0
	}
	return days
}

// IsExpiringSoon reports whether the membership ends within 7 days,
// for renewal reminders.
func (m *Membership) IsExpiringSoon(today time.Time) bool {
	d := m.DaysRemaining(today)
	return d > 0 && d <= 7
}

// Freeze pauses the expiration clock. The quota check compares only
// the days already consumed; it cannot know how long this freeze will
// last, so a freeze opened near the quota may overrun it at unfreeze
// time. That matches the source system and is kept on purpose.
func (m *Membership) Freeze(plan catalog.Plan, today time.Time) error {
	if m.Status != StatusActive {
		return ErrNotActive
	}
	if !plan.CanFreeze {
		return ErrFreezeNotAllowed
	}
	if m.FrozenDaysUsed >= plan.MaxFreezeDays {
		return ErrFreezeQuotaExhausted
	}

	frozenAt := DateOnly(today)
	m.Status = StatusFrozen
	m.FrozenAt = &frozenAt
	return nil
}

// Unfreeze reactivates the membership, extends the end date by the
// days spent frozen and meters those days against the freeze quota.
// No cap is enforced here, mirroring the source.
func (m *Membership) Unfreeze(today time.Time) (daysFrozen int, err error) {
	if m.Status != StatusFrozen || m.FrozenAt == nil {
		return 0, ErrNotFrozen
	}

	daysFrozen = daysBetween(*m.FrozenAt, today)
	m.EndDate = m.EndDate.AddDate(0, 0, daysFrozen)
	m.FrozenDaysUsed += daysFrozen
	m.Status = StatusActive
	m.FrozenAt = nil
	return daysFrozen, nil
}

// Expire transitions an overdue active membership to expired. It
// returns false without touching state in every other case, which
// makes the sweep's calls idempotent. A membership ending today is
// not yet overdue.
func (m *Membership) Expire(today time.Time) bool {
	if m.Status != StatusActive {
		return false
	}
	if !m.EndDate.Before(DateOnly(today)) {
		return false
	}
	m.Status = StatusExpired
	return true
}

// Cancel is the administrative termination path. It is allowed from
// active or frozen (the open freeze is closed by the caller) and is
// terminal.
func (m *Membership) Cancel() error {
	if m.Status == StatusExpired || m.Status == StatusCancelled {
		return ErrAlreadyTerminal
	}
	m.Status = StatusCancelled
	m.FrozenAt = nil
	return nil
}

// Renew extends the membership by 30 days per month, counted from the
// current end date while it is still in the future, otherwise from
// today. An expired membership is revived; frozen and cancelled ones
// are rejected.
func (m *Membership) Renew(months int, today time.Time) error {
	if months < 1 || months > 24 {
		return ErrInvalidRenewal
	}
	if m.Status != StatusActive && m.Status != StatusExpired {
		return ErrNotRenewable
	}

	base := m.EndDate
	if base.Before(DateOnly(today)) {
		base = DateOnly(today)
	}
	m.EndDate = base.AddDate(0, 0, 30*months)
	m.Status = StatusActive
	return nil
}

// Event represents a domain event related to a membership.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MembershipEnrolledEvent is published when a member enrolls or re-enrolls.
type MembershipEnrolledEvent struct {
	ID        uuid.UUID `json:"id"`
	MemberID  uuid.UUID `json:"member_id"`
	PlanID    uuid.UUID `json:"plan_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// MembershipFrozenEvent is published when a freeze begins.
type MembershipFrozenEvent struct {
	ID       uuid.UUID `json:"id"`
	FrozenAt time.Time `json:"frozen_at"`
	Reason   string    `json:"reason,omitempty"`
}

// MembershipUnfrozenEvent is published when a freeze ends.
type MembershipUnfrozenEvent struct {
	ID             uuid.UUID `json:"id"`
	DaysFrozen     int       `json:"days_frozen"`
	NewEndDate     time.Time `json:"new_end_date"`
	FrozenDaysUsed int       `json:"frozen_days_used"`
}

// MembershipExpiredEvent is published when the sweep expires a membership.
type MembershipExpiredEvent struct {
	ID      uuid.UUID `json:"id"`
	EndDate time.Time `json:"end_date"`
}

// MembershipCancelledEvent is published on administrative cancellation.
type MembershipCancelledEvent struct {
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason,omitempty"`
}

// MembershipRenewedEvent is published when a membership is extended.
type MembershipRenewedEvent struct {
	ID         uuid.UUID `json:"id"`
	OldEndDate time.Time `json:"old_end_date"`
	NewEndDate time.Time `json:"new_end_date"`
	Months     int       `json:"months"`
}

// MembershipExpiringSoonEvent is emitted by the sweep for the
// notification collaborator. Deduplication is the collaborator's job.
type MembershipExpiringSoonEvent struct {
	ID            uuid.UUID `json:"id"`
	MemberID      uuid.UUID `json:"member_id"`
	EndDate       time.Time `json:"end_date"`
	DaysRemaining int       `json:"days_remaining"`
}
