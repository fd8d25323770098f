// internal/clients/membership_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"gymnexus/internal/membership"
)

// MembershipClient is the HTTP client the scheduling service uses to
// check membership status before admitting a booking.
type MembershipClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewMembershipClient(baseURL string) *MembershipClient {
	return &MembershipClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: newBreaker("membership"),
	}
}

func (c *MembershipClient) GetMembership(ctx context.Context, id uuid.UUID) (*membership.Membership, error) {
	return c.get(ctx, fmt.Sprintf("%s/memberships/%s", c.baseURL, id))
}

// GetCurrentForMember resolves the member's current membership, the
// one booking admission checks against.
func (c *MembershipClient) GetCurrentForMember(ctx context.Context, memberID uuid.UUID) (*membership.Membership, error) {
	return c.get(ctx, fmt.Sprintf("%s/members/%s/membership", c.baseURL, memberID))
}

func (c *MembershipClient) get(ctx context.Context, url string) (*membership.Membership, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			// Not a transport failure, so the breaker must not count it.
			return (*membership.Membership)(nil), nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		var m membership.Membership
		if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
			return nil, err
		}
		return &m, nil
	})
	if err != nil {
		return nil, err
	}
	m := result.(*membership.Membership)
	if m == nil {
		return nil, membership.ErrNoCurrentMembership
	}
	return m, nil
}
