// internal/scheduling/domain_test.go
package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func confirmedReservation(sessionID uuid.UUID) Reservation {
	return Reservation{
		ID:         uuid.New(),
		SessionID:  sessionID,
		MemberID:   uuid.New(),
		Status:     ReservationConfirmed,
		ReservedAt: time.Now().UTC(),
		Version:    1,
	}
}

func waitlistedReservation(sessionID uuid.UUID, position int) Reservation {
	r := confirmedReservation(sessionID)
	r.Status = ReservationWaitlisted
	r.WaitlistPosition = &position
	return r
}

func TestSessionValidate(t *testing.T) {
	now := time.Now().UTC()

	s := Session{Title: "Spin", StartsAt: now, EndsAt: now.Add(time.Hour), Capacity: 20}
	require.NoError(t, s.Validate())

	s.Capacity = 0
	assert.ErrorIs(t, s.Validate(), ErrInvalidCapacity)

	s.Capacity = 20
	s.EndsAt = s.StartsAt
	assert.ErrorIs(t, s.Validate(), ErrInvalidTimeSlot)
}

func TestSessionViewCounts(t *testing.T) {
	v := SessionView{Session: Session{Capacity: 2}, ConfirmedCount: 1}
	assert.Equal(t, 1, v.AvailableSpots())
	assert.False(t, v.IsFull())

	v.ConfirmedCount = 2
	assert.Equal(t, 0, v.AvailableSpots())
	assert.True(t, v.IsFull())
}

func TestAdmit(t *testing.T) {
	t.Run("confirms while a spot is free", func(t *testing.T) {
		status, pos := Admit(2, 1, 0)
		assert.Equal(t, ReservationConfirmed, status)
		assert.Nil(t, pos)
	})

	t.Run("waitlists when full", func(t *testing.T) {
		status, pos := Admit(2, 2, 0)
		assert.Equal(t, ReservationWaitlisted, status)
		require.NotNil(t, pos)
		assert.Equal(t, 1, *pos)
	})

	t.Run("appends behind the waitlist tail", func(t *testing.T) {
		status, pos := Admit(2, 2, 3)
		assert.Equal(t, ReservationWaitlisted, status)
		require.NotNil(t, pos)
		assert.Equal(t, 4, *pos)
	})
}

// Waitlist holds positions 1, 2 and 3; the member at position 2
// withdraws. The next admission must land one past the tail, never on
// a number a live entry still holds.
func TestAdmitAfterWaitlistWithdrawal(t *testing.T) {
	sessionID := uuid.New()
	now := time.Now().UTC()

	r1 := waitlistedReservation(sessionID, 1)
	r2 := waitlistedReservation(sessionID, 2)
	r3 := waitlistedReservation(sessionID, 3)
	require.NoError(t, r2.CancelWaitlisted(now))

	live := []Reservation{r1, r3}
	lastPosition := 0
	for _, r := range live {
		if *r.WaitlistPosition > lastPosition {
			lastPosition = *r.WaitlistPosition
		}
	}

	status, pos := Admit(1, 1, lastPosition)
	require.Equal(t, ReservationWaitlisted, status)
	require.NotNil(t, pos)
	assert.Equal(t, 4, *pos)
	for _, r := range live {
		assert.NotEqual(t, *r.WaitlistPosition, *pos)
	}
}

// Capacity 2: A and B book into spots, C lands on the waitlist at
// position 1. When A cancels, C is next in line and takes the spot.
func TestCancelPromotesHeadOfWaitlist(t *testing.T) {
	sessionID := uuid.New()
	now := time.Now().UTC()

	a := confirmedReservation(sessionID)
	b := confirmedReservation(sessionID)
	_ = b

	statusC, posC := Admit(2, 2, 0)
	require.Equal(t, ReservationWaitlisted, statusC)
	c := waitlistedReservation(sessionID, *posC)

	require.NoError(t, a.Cancel(now))
	assert.Equal(t, ReservationCancelled, a.Status)
	require.NotNil(t, a.CancelledAt)

	next := NextInLine([]Reservation{c})
	require.NotNil(t, next)
	assert.Equal(t, c.ID, next.ID)

	next.Promote()
	assert.Equal(t, ReservationConfirmed, next.Status)
	assert.Nil(t, next.WaitlistPosition)
}

func TestNextInLinePicksSmallestPosition(t *testing.T) {
	sessionID := uuid.New()

	third := waitlistedReservation(sessionID, 3)
	first := waitlistedReservation(sessionID, 1)
	second := waitlistedReservation(sessionID, 2)

	next := NextInLine([]Reservation{third, first, second})
	require.NotNil(t, next)
	assert.Equal(t, first.ID, next.ID)

	assert.Nil(t, NextInLine(nil))
	assert.Nil(t, NextInLine([]Reservation{confirmedReservation(sessionID)}))
}

func TestCancel(t *testing.T) {
	now := time.Now().UTC()

	t.Run("rejects non-confirmed reservations", func(t *testing.T) {
		r := waitlistedReservation(uuid.New(), 1)
		assert.ErrorIs(t, r.Cancel(now), ErrNotConfirmed)

		r.Status = ReservationCancelled
		assert.ErrorIs(t, r.Cancel(now), ErrNotConfirmed)
	})

	t.Run("waitlist withdrawal keeps later positions", func(t *testing.T) {
		sessionID := uuid.New()
		r1 := waitlistedReservation(sessionID, 1)
		r2 := waitlistedReservation(sessionID, 2)

		require.NoError(t, r1.CancelWaitlisted(now))
		assert.Equal(t, ReservationCancelled, r1.Status)
		assert.Nil(t, r1.WaitlistPosition)

		// r2 is not renumbered and is now the head.
		next := NextInLine([]Reservation{r2})
		require.NotNil(t, next)
		assert.Equal(t, 2, *next.WaitlistPosition)
	})

	t.Run("rejects waitlist withdrawal of a confirmed reservation", func(t *testing.T) {
		r := confirmedReservation(uuid.New())
		assert.ErrorIs(t, r.CancelWaitlisted(now), ErrNotWaitlisted)
	})
}

func TestMarkAttendance(t *testing.T) {
	now := time.Now().UTC()

	t.Run("attended is terminal", func(t *testing.T) {
		r := confirmedReservation(uuid.New())
		require.NoError(t, r.MarkAttended(now))
		assert.Equal(t, ReservationAttended, r.Status)
		require.NotNil(t, r.AttendedAt)

		assert.ErrorIs(t, r.MarkAttended(now), ErrNotConfirmed)
		assert.ErrorIs(t, r.Cancel(now), ErrNotConfirmed)
	})

	t.Run("no-show is terminal and keeps the slot consumed", func(t *testing.T) {
		r := confirmedReservation(uuid.New())
		require.NoError(t, r.MarkNoShow(now))
		assert.Equal(t, ReservationNoShow, r.Status)
		assert.Nil(t, r.AttendedAt)

		assert.ErrorIs(t, r.MarkNoShow(now), ErrNotConfirmed)
		assert.ErrorIs(t, r.MarkAttended(now), ErrNotConfirmed)
	})

	t.Run("waitlisted members cannot be marked", func(t *testing.T) {
		r := waitlistedReservation(uuid.New(), 1)
		assert.ErrorIs(t, r.MarkAttended(now), ErrNotConfirmed)
		assert.ErrorIs(t, r.MarkNoShow(now), ErrNotConfirmed)
	})
}

// Admission never over-fills the confirmed set, positions handed out
// for one session strictly increase, and no new position collides with
// one a live entry still holds, even when members withdraw mid-list.
func TestAdmissionKeepsCapacityAndOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 10).Draw(t, "capacity")
		steps := rapid.IntRange(0, 60).Draw(t, "steps")

		confirmed := 0
		live := map[int]bool{}
		for i := 0; i < steps; i++ {
			if len(live) > 0 && rapid.Bool().Draw(t, "withdraw") {
				for p := range live {
					delete(live, p)
					break
				}
				continue
			}

			lastPosition := 0
			for p := range live {
				if p > lastPosition {
					lastPosition = p
				}
			}

			status, pos := Admit(capacity, confirmed, lastPosition)
			switch status {
			case ReservationConfirmed:
				if pos != nil {
					t.Fatalf("confirmed booking carries waitlist position %d", *pos)
				}
				confirmed++
			case ReservationWaitlisted:
				if pos == nil {
					t.Fatalf("waitlisted booking has no position")
				}
				if live[*pos] {
					t.Fatalf("position %d already held", *pos)
				}
				if *pos != lastPosition+1 {
					t.Fatalf("position %d does not follow tail %d", *pos, lastPosition)
				}
				live[*pos] = true
			}
			if confirmed > capacity {
				t.Fatalf("confirmed count %d exceeds capacity %d", confirmed, capacity)
			}
		}
		if confirmed < capacity && len(live) > 0 {
			t.Fatalf("waitlisted %d members while %d spots were free", len(live), capacity-confirmed)
		}
	})
}

// Promoting the head and withdrawing arbitrary entries never breaks
// the relative FIFO order of the survivors.
func TestWaitlistStaysFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sessionID := uuid.New()
		size := rapid.IntRange(1, 12).Draw(t, "size")

		waitlist := make([]Reservation, 0, size)
		for i := 1; i <= size; i++ {
			waitlist = append(waitlist, waitlistedReservation(sessionID, i))
		}

		ops := rapid.IntRange(0, size).Draw(t, "ops")
		now := time.Now().UTC()
		for i := 0; i < ops; i++ {
			if rapid.Bool().Draw(t, "promote") {
				next := NextInLine(waitlist)
				if next != nil {
					next.Promote()
				}
			} else {
				idx := rapid.IntRange(0, len(waitlist)-1).Draw(t, "idx")
				if waitlist[idx].Status == ReservationWaitlisted {
					require.NoError(t, waitlist[idx].CancelWaitlisted(now))
				}
			}
		}

		// Same input order as insertion: surviving positions must be
		// strictly increasing.
		last := 0
		for _, r := range waitlist {
			if r.Status != ReservationWaitlisted {
				continue
			}
			require.NotNil(t, r.WaitlistPosition)
			if *r.WaitlistPosition <= last {
				t.Fatalf("waitlist out of order: %d after %d", *r.WaitlistPosition, last)
			}
			last = *r.WaitlistPosition
		}
	})
}
