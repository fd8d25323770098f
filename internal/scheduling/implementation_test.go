// internal/scheduling/implementation_test.go
package scheduling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gymnexus/internal/membership"
)

type staticMembershipSource struct {
	m   *membership.Membership
	err error
}

func (s *staticMembershipSource) GetCurrentForMember(ctx context.Context, memberID uuid.UUID) (*membership.Membership, error) {
	return s.m, s.err
}

// The membership check runs before any session state is touched, so
// these cases need no database behind the service.
func TestBookMembershipCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("surfaces a membership lookup outage as an internal error", func(t *testing.T) {
		svc := NewService(nil, nil, &staticMembershipSource{err: errors.New("connection refused")})
		_, err := svc.Book(ctx, uuid.New(), uuid.New(), "front-desk")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrMembershipNotActive)
	})

	t.Run("rejects a member without a membership", func(t *testing.T) {
		svc := NewService(nil, nil, &staticMembershipSource{err: membership.ErrNoCurrentMembership})
		_, err := svc.Book(ctx, uuid.New(), uuid.New(), "front-desk")
		assert.ErrorIs(t, err, ErrMembershipNotActive)
	})

	t.Run("rejects a frozen membership", func(t *testing.T) {
		svc := NewService(nil, nil, &staticMembershipSource{m: &membership.Membership{Status: membership.StatusFrozen}})
		_, err := svc.Book(ctx, uuid.New(), uuid.New(), "front-desk")
		assert.ErrorIs(t, err, ErrMembershipNotActive)
	})
}
