// internal/scheduling/service.go
package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// Result reports what a reservation operation changed. Before is nil
// for Book, which creates the reservation. Promoted is non-nil when a
// cancellation pulled a waitlisted member into the confirmed set.
type Result struct {
	Before   *Reservation `json:"before,omitempty"`
	After    Reservation  `json:"after"`
	Promoted *Reservation `json:"promoted,omitempty"`
	Events   []Event      `json:"events"`
}

// Service defines the interface for session and reservation operations.
type Service interface {
	CreateSession(ctx context.Context, session *Session, actor string) error
	GetSession(ctx context.Context, id uuid.UUID) (*SessionView, error)
	ListSessions(ctx context.Context) ([]SessionView, error)

	Book(ctx context.Context, sessionID, memberID uuid.UUID, actor string) (*Result, error)
	Cancel(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error)
	CancelWaitlisted(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error)
	MarkAttended(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error)
	MarkNoShow(ctx context.Context, reservationID uuid.UUID, actor string) (*Result, error)

	GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListReservations(ctx context.Context, sessionID uuid.UUID) ([]Reservation, error)
}
