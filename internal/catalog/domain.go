// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidDuration = errors.New("plan duration must be at least one day")
	ErrInvalidPrice    = errors.New("plan price must not be negative")
	ErrInvalidFreeze   = errors.New("freezable plan needs a positive freeze-day allowance")
)

// Plan represents a membership plan (monthly, quarterly, annual, ...).
// Plans are immutable once created; retiring one only flips Active.
type Plan struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	PriceCents    int64     `json:"price_cents"`
	DurationDays  int       `json:"duration_days"`
	CanFreeze     bool      `json:"can_freeze"`
	MaxFreezeDays int       `json:"max_freeze_days"`
	Active        bool      `json:"active"`
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Validate checks the fields an operator supplies at creation time.
func (p *Plan) Validate() error {
	if p.DurationDays < 1 {
		return ErrInvalidDuration
	}
	if p.PriceCents < 0 {
		return ErrInvalidPrice
	}
	if p.CanFreeze && p.MaxFreezeDays < 1 {
		return ErrInvalidFreeze
	}
	return nil
}

// PlanAddedEvent is published when an operator creates a plan.
type PlanAddedEvent struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	PriceCents    int64     `json:"price_cents"`
	DurationDays  int       `json:"duration_days"`
	CanFreeze     bool      `json:"can_freeze"`
	MaxFreezeDays int       `json:"max_freeze_days"`
}

// PlanDeactivatedEvent is published when a plan is retired from sale.
// Existing memberships keep referencing the retired plan.
type PlanDeactivatedEvent struct {
	ID uuid.UUID `json:"id"`
}
