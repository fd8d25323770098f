// pkg/chaos/experiments.go
package chaos

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// RegisterExperiments registers all predefined chaos experiments with the engine.
func (ce *Engine) RegisterExperiments() {
	ce.RegisterExperiment(ce.DatabaseLatencyExperiment(250 * time.Millisecond))
	ce.RegisterExperiment(ce.ConcurrentBookingRaceConditionTest())
	ce.RegisterExperiment(ce.WaitlistIntegrityExperiment())
	ce.RegisterExperiment(ce.FreezeRaceConditionTest())
	ce.RegisterExperiment(ce.ResourceExhaustionExperiment())
}

// DatabaseLatencyExperiment injects latency into database operations
func (ce *Engine) DatabaseLatencyExperiment(targetLatency time.Duration) Experiment {
	latencyInjected := false
	_ = latencyInjected
	var originalDB *sql.DB

	return Experiment{
		Name:       "database-latency-injection",
		Hypothesis: "Booking admission degrades gracefully when database latency exceeds threshold",
		SteadyState: []Metric{
			{
				Name: "booking_success_rate",
				Query: func(ctx context.Context) (float64, error) {
					var successRate float64
					err := ce.db.QueryRowContext(ctx, `
						SELECT COALESCE(
							COUNT(*) FILTER (WHERE status IN ('confirmed', 'waitlist'))::float / NULLIF(COUNT(*)::float, 0) * 100,
							100.0
						) FROM reservations WHERE created_at > NOW() - INTERVAL '1 minute'
					`).Scan(&successRate)
					return successRate, err
				},
				Threshold: Threshold{Operator: ">", Value: 99.0},
			},
		},
		Method: []Action{
			{
				Type:   "inject-latency",
				Target: "postgres-primary",
				Parameters: map[string]interface{}{
					"latency": targetLatency,
					"jitter":  50 * time.Millisecond,
				},
				Execute: func(ctx context.Context) error {
					// Wrap database calls with artificial latency
					latencyInjected = true
					originalDB = ce.db
					// In production, this would use a proxy or network policy
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "remove-latency",
				Target: "postgres-primary",
				Execute: func(ctx context.Context) error {
					latencyInjected = false
					ce.db = originalDB
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "booking_success_rate",
				Condition: func(v float64) bool { return v > 95.0 },
				Message:   "Booking success rate should remain above 95%",
			},
		},
		Duration:    5 * time.Minute,
		BlastRadius: 1.0,
	}
}

// ConcurrentBookingRaceConditionTest validates capacity enforcement
// under racing bookings for the same session.
func (ce *Engine) ConcurrentBookingRaceConditionTest() Experiment {
	return Experiment{
		Name:       "concurrent-booking-race-condition",
		Hypothesis: "A session never ends up with more confirmed reservations than capacity",
		SteadyState: []Metric{
			{
				Name: "overbooked_sessions",
				Query: func(ctx context.Context) (float64, error) {
					var overbooked int
					err := ce.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM sessions s
						WHERE (
							SELECT COUNT(*) FROM reservations r
							WHERE r.session_id = s.id AND r.status = 'confirmed'
						) > s.capacity
					`).Scan(&overbooked)
					return float64(overbooked), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "scheduling-service",
				Parameters: map[string]interface{}{
					"concurrency": 100,
					"session_id":  "same-session",
				},
				Execute: func(ctx context.Context) error {
					// Fire 100 concurrent bookings for the same session.
					// All but capacity should land on the waitlist.
					var wg sync.WaitGroup
					errs := make(chan error, 100)

					for i := 0; i < 100; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							// Would call SchedulingService.Book
						}()
					}

					wg.Wait()
					close(errs)
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "overbooked_sessions",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "No session may exceed its capacity",
			},
		},
		Duration:    30 * time.Second,
		BlastRadius: 0.1,
	}
}

// WaitlistIntegrityExperiment verifies waitlist positions stay unique
// per session while cancellations and promotions race.
func (ce *Engine) WaitlistIntegrityExperiment() Experiment {
	return Experiment{
		Name:       "waitlist-position-integrity",
		Hypothesis: "Waitlist positions stay unique per session under racing cancellations",
		SteadyState: []Metric{
			{
				Name: "duplicate_waitlist_positions",
				Query: func(ctx context.Context) (float64, error) {
					var duplicates int
					err := ce.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM (
							SELECT session_id, waitlist_position
							FROM reservations
							WHERE status = 'waitlist'
							GROUP BY session_id, waitlist_position
							HAVING COUNT(*) > 1
						) dup
					`).Scan(&duplicates)
					return float64(duplicates), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "scheduling-service",
				Parameters: map[string]interface{}{
					"mix": "cancel+book",
				},
				Execute: func(ctx context.Context) error {
					// Interleave cancellations with new bookings so
					// promotions and admissions contend.
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "duplicate_waitlist_positions",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Each waitlist position is held by at most one reservation",
			},
		},
		Duration:    1 * time.Minute,
		BlastRadius: 0.2,
	}
}

// FreezeRaceConditionTest validates the freeze quota under racing
// freeze requests against the same membership.
func (ce *Engine) FreezeRaceConditionTest() Experiment {
	return Experiment{
		Name:       "concurrent-freeze-race-condition",
		Hypothesis: "A membership never accumulates more open freezes than one",
		SteadyState: []Metric{
			{
				Name: "double_frozen_memberships",
				Query: func(ctx context.Context) (float64, error) {
					var doubled int
					err := ce.db.QueryRowContext(ctx, `
						SELECT COUNT(*) FROM (
							SELECT membership_id FROM freeze_records
							WHERE end_date IS NULL
							GROUP BY membership_id
							HAVING COUNT(*) > 1
						) dup
					`).Scan(&doubled)
					return float64(doubled), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "membership-service",
				Parameters: map[string]interface{}{
					"concurrency":   50,
					"membership_id": "same-membership",
				},
				Execute: func(ctx context.Context) error {
					// 50 racing freeze requests: exactly one may win.
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "double_frozen_memberships",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "A membership holds at most one open freeze record",
			},
		},
		Duration:    30 * time.Second,
		BlastRadius: 0.1,
	}
}

// ResourceExhaustionExperiment tests system under resource pressure
func (ce *Engine) ResourceExhaustionExperiment() Experiment {
	return Experiment{
		Name:       "database-connection-pool-exhaustion",
		Hypothesis: "Circuit breaker prevents cascading failures when connection pool is exhausted",
		SteadyState: []Metric{
			{
				Name: "error_rate",
				Query: func(ctx context.Context) (float64, error) {
					return 0.0, nil // Would query error metrics
				},
				Threshold: Threshold{Operator: "<", Value: 1.0},
			},
		},
		Method: []Action{
			{
				Type:   "exhaust-connections",
				Target: "postgres-connection-pool",
				Execute: func(ctx context.Context) error {
					// Open connections and hold them
					conns := make([]*sql.Conn, 0)
					for i := 0; i < 100; i++ {
						conn, err := ce.db.Conn(ctx)
						if err != nil {
							break
						}
						conns = append(conns, conn)
					}
					// Hold connections for experiment duration
					time.Sleep(30 * time.Second)
					for _, conn := range conns {
						conn.Close()
					}
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			{
				Metric:    "error_rate",
				Condition: func(v float64) bool { return v < 5.0 },
				Message:   "Error rate should stay below 5% due to circuit breaker",
			},
		},
		Duration:    2 * time.Minute,
		BlastRadius: 1.0,
	}
}
