// internal/sweep/notifier.go
package sweep

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gymnexus/internal/membership"
	"gymnexus/pkg/eventstore"
)

// reminderNamespace derives a deterministic reminder stream id from a
// membership id, keeping reminders off the lifecycle stream so they
// never race a transition's version check.
var reminderNamespace = uuid.MustParse("7f1b2a04-3c56-4c89-9f0d-5b7e2d8a1c42")

// EventNotifier records renewal reminders as events on a per-membership
// reminder stream.
type EventNotifier struct {
	eventStore *eventstore.EventStore
}

func NewEventNotifier(es *eventstore.EventStore) *EventNotifier {
	return &EventNotifier{eventStore: es}
}

func (n *EventNotifier) ExpiringSoon(ctx context.Context, m membership.Membership, daysLeft int) error {
	streamID := uuid.NewSHA1(reminderNamespace, m.ID[:])

	version, err := n.eventStore.GetCurrentVersion(ctx, streamID)
	if err != nil {
		return fmt.Errorf("failed to get reminder stream version: %w", err)
	}

	data, err := json.Marshal(membership.MembershipExpiringSoonEvent{
		ID:            m.ID,
		MemberID:      m.MemberID,
		EndDate:       m.EndDate,
		DaysRemaining: daysLeft,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal reminder event: %w", err)
	}

	return n.eventStore.AppendEvents(ctx, streamID, "reminder", version, []eventstore.Event{{
		AggregateID:   streamID,
		AggregateType: "reminder",
		EventType:     "MembershipExpiringSoon",
		EventData:     data,
		Metadata:      eventstore.WithActor("sweep"),
	}})
}
