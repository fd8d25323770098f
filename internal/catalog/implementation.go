// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gymnexus/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	eventStore *eventstore.EventStore
	db         *sql.DB
}

// NewService creates a new catalog service instance.
func NewService(es *eventstore.EventStore, db *sql.DB) Service {
	return &service{
		eventStore: es,
		db:         db,
	}
}

// AddPlan creates a new membership plan.
func (s *service) AddPlan(ctx context.Context, plan Plan, actor string) (*Plan, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	plan.ID = uuid.New()
	plan.Active = true
	plan.Version = 1
	if !plan.CanFreeze {
		plan.MaxFreezeDays = 0
	}

	eventData := PlanAddedEvent{
		ID:            plan.ID,
		Name:          plan.Name,
		PriceCents:    plan.PriceCents,
		DurationDays:  plan.DurationDays,
		CanFreeze:     plan.CanFreeze,
		MaxFreezeDays: plan.MaxFreezeDays,
	}

	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   plan.ID,
		AggregateType: "plan",
		EventType:     "PlanAdded",
		EventData:     jsonData,
		Metadata:      eventstore.WithActor(actor),
		Version:       1,
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.eventStore.AppendEventsTx(ctx, tx, plan.ID, "plan", 0, []eventstore.Event{event}); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		if err := s.insertPlanIntoReadModel(ctx, tx, &plan); err != nil {
			return fmt.Errorf("failed to update read model: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (s *service) insertPlanIntoReadModel(ctx context.Context, tx *sql.Tx, plan *Plan) error {
	query := `
		INSERT INTO plans (id, name, description, price_cents, duration_days, can_freeze, max_freeze_days, active, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.ExecContext(ctx, query, plan.ID, plan.Name, plan.Description, plan.PriceCents,
		plan.DurationDays, plan.CanFreeze, plan.MaxFreezeDays, plan.Active, plan.Version)
	return err
}

// GetPlan retrieves a plan by its ID.
func (s *service) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	query := `
		SELECT id, name, description, price_cents, duration_days, can_freeze, max_freeze_days, active, version, created_at, updated_at
		FROM plans
		WHERE id = $1
	`
	plan := &Plan{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&plan.ID,
		&plan.Name,
		&plan.Description,
		&plan.PriceCents,
		&plan.DurationDays,
		&plan.CanFreeze,
		&plan.MaxFreezeDays,
		&plan.Active,
		&plan.Version,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("plan with ID %s not found", id)
		}
		return nil, fmt.Errorf("failed to get plan from read model: %w", err)
	}

	return plan, nil
}

// ListPlans returns plans ordered by price. Members only see active
// plans; operators may include retired ones.
func (s *service) ListPlans(ctx context.Context, includeInactive bool) ([]*Plan, error) {
	query := `
		SELECT id, name, description, price_cents, duration_days, can_freeze, max_freeze_days, active, version, created_at, updated_at
		FROM plans
	`
	if !includeInactive {
		query += " WHERE active"
	}
	query += " ORDER BY price_cents ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		plan := &Plan{}
		if err := rows.Scan(&plan.ID, &plan.Name, &plan.Description, &plan.PriceCents, &plan.DurationDays,
			&plan.CanFreeze, &plan.MaxFreezeDays, &plan.Active, &plan.Version, &plan.CreatedAt, &plan.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, plan)
	}

	return plans, rows.Err()
}

// DeactivatePlan retires a plan from sale.
func (s *service) DeactivatePlan(ctx context.Context, id uuid.UUID, actor string) error {
	plan, err := s.GetPlan(ctx, id)
	if err != nil {
		return err
	}

	eventData := PlanDeactivatedEvent{ID: id}
	jsonData, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	event := eventstore.Event{
		AggregateID:   id,
		AggregateType: "plan",
		EventType:     "PlanDeactivated",
		EventData:     jsonData,
		Metadata:      eventstore.WithActor(actor),
		Version:       plan.Version + 1,
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.eventStore.AppendEventsTx(ctx, tx, id, "plan", plan.Version, []eventstore.Event{event}); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
		query := `
			UPDATE plans
			SET active = FALSE, version = version + 1, updated_at = $1
			WHERE id = $2 AND version = $3
		`
		_, err := tx.ExecContext(ctx, query, time.Now().UTC(), id, plan.Version)
		return err
	})
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
