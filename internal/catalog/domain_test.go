// internal/catalog/domain_test.go
package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanValidate(t *testing.T) {
	plan := Plan{
		Name:          "Monthly Unlimited",
		PriceCents:    4900,
		DurationDays:  30,
		CanFreeze:     true,
		MaxFreezeDays: 15,
	}
	require.NoError(t, plan.Validate())

	t.Run("rejects zero duration", func(t *testing.T) {
		p := plan
		p.DurationDays = 0
		assert.ErrorIs(t, p.Validate(), ErrInvalidDuration)
	})

	t.Run("rejects negative price", func(t *testing.T) {
		p := plan
		p.PriceCents = -1
		assert.ErrorIs(t, p.Validate(), ErrInvalidPrice)
	})

	t.Run("freezable plan needs an allowance", func(t *testing.T) {
		p := plan
		p.MaxFreezeDays = 0
		assert.ErrorIs(t, p.Validate(), ErrInvalidFreeze)
	})

	t.Run("non-freezable plan needs no allowance", func(t *testing.T) {
		p := plan
		p.CanFreeze = false
		p.MaxFreezeDays = 0
		assert.NoError(t, p.Validate())
	})
}
