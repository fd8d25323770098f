// internal/clients/catalog_client.go
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"gymnexus/internal/catalog"
)

// CatalogClient is the HTTP client the membership service uses to
// resolve plans. Calls go through a circuit breaker so a struggling
// catalog service fails fast instead of tying up freeze requests.
type CatalogClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: newBreaker("catalog"),
	}
}

func (c *CatalogClient) GetPlan(ctx context.Context, id uuid.UUID) (*catalog.Plan, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/plans/%s", c.baseURL, id), nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		var plan catalog.Plan
		if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
			return nil, err
		}
		return &plan, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*catalog.Plan), nil
}

// newBreaker trips after 5 consecutive failures and probes again
// after 30 seconds.
func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
}
