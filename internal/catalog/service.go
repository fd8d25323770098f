// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the plan catalog service.
type Service interface {
	AddPlan(ctx context.Context, plan Plan, actor string) (*Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	ListPlans(ctx context.Context, includeInactive bool) ([]*Plan, error)
	DeactivatePlan(ctx context.Context, id uuid.UUID, actor string) error
}
