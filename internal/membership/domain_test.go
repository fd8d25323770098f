package membership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"gymnexus/internal/catalog"
)

func day(n int) time.Time {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, n)
}

func freezablePlan(maxFreezeDays int) catalog.Plan {
	return catalog.Plan{
		ID:            uuid.New(),
		Name:          "Monthly",
		DurationDays:  30,
		CanFreeze:     true,
		MaxFreezeDays: maxFreezeDays,
	}
}

func activeMembership(plan catalog.Plan) Membership {
	return NewMembership(uuid.New(), plan, day(0))
}

func TestNewMembershipEndDateFromPlanDuration(t *testing.T) {
	plan := freezablePlan(15)
	m := NewMembership(uuid.New(), plan, day(0))

	assert.Equal(t, day(0), m.StartDate)
	assert.Equal(t, day(30), m.EndDate)
	assert.Equal(t, StatusActive, m.Status)
	assert.True(t, m.EndDate.After(m.StartDate))
}

func TestFreeze(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("active membership freezes", func(t *testing.T) {
		m := activeMembership(plan)
		require.NoError(t, m.Freeze(plan, day(3)))
		assert.Equal(t, StatusFrozen, m.Status)
		require.NotNil(t, m.FrozenAt)
		assert.Equal(t, day(3), *m.FrozenAt)
	})

	t.Run("quota exhausted is rejected without state change", func(t *testing.T) {
		m := activeMembership(plan)
		m.FrozenDaysUsed = 15

		err := m.Freeze(plan, day(3))
		assert.ErrorIs(t, err, ErrFreezeQuotaExhausted)
		assert.Equal(t, StatusActive, m.Status)
		assert.Nil(t, m.FrozenAt)
	})

	t.Run("plan forbidding freezes is rejected", func(t *testing.T) {
		rigid := plan
		rigid.CanFreeze = false
		m := activeMembership(rigid)

		err := m.Freeze(rigid, day(3))
		assert.ErrorIs(t, err, ErrFreezeNotAllowed)
		assert.Equal(t, StatusActive, m.Status)
	})

	t.Run("non-active statuses are rejected", func(t *testing.T) {
		for _, status := range []Status{StatusFrozen, StatusExpired, StatusCancelled} {
			m := activeMembership(plan)
			m.Status = status
			assert.ErrorIs(t, m.Freeze(plan, day(3)), ErrNotActive, "status %s", status)
		}
	})

	t.Run("quota check is forward blind", func(t *testing.T) {
		// 14 of 15 days used: the freeze is still allowed even though
		// any freeze longer than a day will overrun the quota later.
		m := activeMembership(plan)
		m.FrozenDaysUsed = 14
		require.NoError(t, m.Freeze(plan, day(0)))

		daysFrozen, err := m.Unfreeze(day(10))
		require.NoError(t, err)
		assert.Equal(t, 10, daysFrozen)
		assert.Equal(t, 24, m.FrozenDaysUsed) // over quota, uncapped
	})
}

func TestUnfreeze(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("extends end date by days frozen", func(t *testing.T) {
		m := activeMembership(plan) // ends day 30
		require.NoError(t, m.Freeze(plan, day(0)))

		daysFrozen, err := m.Unfreeze(day(5))
		require.NoError(t, err)

		assert.Equal(t, 5, daysFrozen)
		assert.Equal(t, day(35), m.EndDate)
		assert.Equal(t, 5, m.FrozenDaysUsed)
		assert.Equal(t, StatusActive, m.Status)
		assert.Nil(t, m.FrozenAt)
	})

	t.Run("same-day unfreeze costs nothing", func(t *testing.T) {
		m := activeMembership(plan)
		require.NoError(t, m.Freeze(plan, day(4)))

		daysFrozen, err := m.Unfreeze(day(4))
		require.NoError(t, err)
		assert.Equal(t, 0, daysFrozen)
		assert.Equal(t, day(30), m.EndDate)
		assert.Equal(t, 0, m.FrozenDaysUsed)
	})

	t.Run("non-frozen membership is rejected", func(t *testing.T) {
		m := activeMembership(plan)
		_, err := m.Unfreeze(day(5))
		assert.ErrorIs(t, err, ErrNotFrozen)
		assert.Equal(t, StatusActive, m.Status)
	})
}

func TestFreezeUnfreezeIsInverseOnEndDate(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		plan := freezablePlan(rapid.IntRange(1, 60).Draw(t, "maxFreezeDays"))
		m := activeMembership(plan)
		m.FrozenDaysUsed = rapid.IntRange(0, plan.MaxFreezeDays-1).Draw(t, "alreadyUsed")

		freezeDay := rapid.IntRange(0, 29).Draw(t, "freezeDay")
		duration := rapid.IntRange(0, 90).Draw(t, "duration")

		endBefore := m.EndDate
		usedBefore := m.FrozenDaysUsed

		require.NoError(t, m.Freeze(plan, day(freezeDay)))
		daysFrozen, err := m.Unfreeze(day(freezeDay + duration))
		require.NoError(t, err)

		// Freezing for D days then unfreezing extends the end date by
		// exactly D and meters exactly D against the quota.
		assert.Equal(t, duration, daysFrozen)
		assert.Equal(t, endBefore.AddDate(0, 0, duration), m.EndDate)
		assert.Equal(t, usedBefore+duration, m.FrozenDaysUsed)
		assert.Equal(t, StatusActive, m.Status)
		assert.Nil(t, m.FrozenAt)
	})
}

func TestExpire(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("overdue active membership expires", func(t *testing.T) {
		m := activeMembership(plan) // ends day 30
		assert.True(t, m.Expire(day(31)))
		assert.Equal(t, StatusExpired, m.Status)
	})

	t.Run("end date today is not yet overdue", func(t *testing.T) {
		m := activeMembership(plan)
		assert.False(t, m.Expire(day(30)))
		assert.Equal(t, StatusActive, m.Status)
	})

	t.Run("idempotent on already expired", func(t *testing.T) {
		m := activeMembership(plan)
		require.True(t, m.Expire(day(31)))
		assert.False(t, m.Expire(day(31)))
		assert.Equal(t, StatusExpired, m.Status)
	})

	t.Run("frozen membership is left alone", func(t *testing.T) {
		m := activeMembership(plan)
		require.NoError(t, m.Freeze(plan, day(2)))
		assert.False(t, m.Expire(day(31)))
		assert.Equal(t, StatusFrozen, m.Status)
	})
}

func TestCancel(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("active cancels", func(t *testing.T) {
		m := activeMembership(plan)
		require.NoError(t, m.Cancel())
		assert.Equal(t, StatusCancelled, m.Status)
	})

	t.Run("frozen cancels and clears frozen_at", func(t *testing.T) {
		m := activeMembership(plan)
		require.NoError(t, m.Freeze(plan, day(2)))
		require.NoError(t, m.Cancel())
		assert.Equal(t, StatusCancelled, m.Status)
		assert.Nil(t, m.FrozenAt)
	})

	t.Run("terminal states stay terminal", func(t *testing.T) {
		for _, status := range []Status{StatusExpired, StatusCancelled} {
			m := activeMembership(plan)
			m.Status = status
			assert.ErrorIs(t, m.Cancel(), ErrAlreadyTerminal, "status %s", status)
			assert.Equal(t, status, m.Status)
		}
	})
}

func TestRenew(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("extends from end date while still current", func(t *testing.T) {
		m := activeMembership(plan) // ends day 30
		require.NoError(t, m.Renew(1, day(10)))
		assert.Equal(t, day(60), m.EndDate)
		assert.Equal(t, StatusActive, m.Status)
	})

	t.Run("extends from today once lapsed", func(t *testing.T) {
		m := activeMembership(plan)
		require.True(t, m.Expire(day(40)))
		require.NoError(t, m.Renew(2, day(40)))
		assert.Equal(t, day(100), m.EndDate)
		assert.Equal(t, StatusActive, m.Status)
	})

	t.Run("months out of range rejected", func(t *testing.T) {
		m := activeMembership(plan)
		assert.ErrorIs(t, m.Renew(0, day(0)), ErrInvalidRenewal)
		assert.ErrorIs(t, m.Renew(25, day(0)), ErrInvalidRenewal)
	})

	t.Run("frozen and cancelled rejected", func(t *testing.T) {
		frozen := activeMembership(plan)
		require.NoError(t, frozen.Freeze(plan, day(1)))
		assert.ErrorIs(t, frozen.Renew(1, day(2)), ErrNotRenewable)

		cancelled := activeMembership(plan)
		require.NoError(t, cancelled.Cancel())
		assert.ErrorIs(t, cancelled.Renew(1, day(2)), ErrNotRenewable)
	})
}

func TestDaysRemaining(t *testing.T) {
	plan := freezablePlan(15)

	t.Run("active counts down", func(t *testing.T) {
		m := activeMembership(plan)
		assert.Equal(t, 30, m.DaysRemaining(day(0)))
		assert.Equal(t, 1, m.DaysRemaining(day(29)))
		assert.Equal(t, 0, m.DaysRemaining(day(30)))
		assert.Equal(t, 0, m.DaysRemaining(day(45)))
	})

	t.Run("zero by definition when not active", func(t *testing.T) {
		for _, status := range []Status{StatusFrozen, StatusExpired, StatusCancelled} {
			m := activeMembership(plan)
			m.Status = status
			assert.Equal(t, 0, m.DaysRemaining(day(0)), "status %s", status)
		}
	})
}

func TestIsExpiringSoon(t *testing.T) {
	plan := freezablePlan(15)
	m := activeMembership(plan) // ends day 30

	assert.False(t, m.IsExpiringSoon(day(20))) // 10 days out
	assert.True(t, m.IsExpiringSoon(day(23)))  // 7 days out
	assert.True(t, m.IsExpiringSoon(day(29)))  // 1 day out
	assert.False(t, m.IsExpiringSoon(day(30))) // already due
}
