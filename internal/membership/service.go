// internal/membership/service.go
package membership

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result is what every mutating lifecycle call returns: the state the
// engine read, the state it wrote, and the events the transition
// emitted. The audit collaborator diffs Before/After; the dispatcher
// consumes Events.
type Result struct {
	Before  Membership `json:"before"`
	After   Membership `json:"after"`
	Changed bool       `json:"changed"`
	Events  []Event    `json:"events,omitempty"`
}

// Service defines the interface for the membership lifecycle engine.
type Service interface {
	Enroll(ctx context.Context, memberID, planID uuid.UUID, startDate time.Time, actor string) (*Result, error)
	GetMembership(ctx context.Context, id uuid.UUID) (*Membership, error)
	GetCurrentForMember(ctx context.Context, memberID uuid.UUID) (*Membership, error)
	Freeze(ctx context.Context, id uuid.UUID, reason, actor string) (*Result, error)
	Unfreeze(ctx context.Context, id uuid.UUID, actor string) (*Result, error)
	Expire(ctx context.Context, id uuid.UUID, actor string) (*Result, error)
	Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Result, error)
	Renew(ctx context.Context, id uuid.UUID, months int, actor string) (*Result, error)
	ListFreezes(ctx context.Context, id uuid.UUID) ([]FreezeRecord, error)
	ListOverdueActive(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	ListExpiringOn(ctx context.Context, endDate time.Time) ([]Membership, error)
}
