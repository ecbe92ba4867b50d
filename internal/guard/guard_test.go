package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

func newTestGuard(t *testing.T) (*Guard, *timeutil.Manual) {
	t.Helper()
	clock := timeutil.NewManual(time.Unix(1000, 0))
	return New(clock, 5*time.Second, zap.NewNop()), clock
}

func TestGuard_SingleFlightPerCategory(t *testing.T) {
	g, _ := newTestGuard(t)

	p, err := g.Begin(CategoryMoves, nil)
	require.NoError(t, err)
	require.NotEmpty(t, p.RequestID)
	require.True(t, g.IsPending(CategoryMoves))

	_, err = g.Begin(CategoryMoves, nil)
	require.ErrorIs(t, err, ErrAlreadyPending)

	// Other categories are independent.
	_, err = g.Begin(CategoryCapture, nil)
	require.NoError(t, err)
}

func TestGuard_CompleteFreesCategory(t *testing.T) {
	g, _ := newTestGuard(t)

	first, err := g.Begin(CategoryCapture, nil)
	require.NoError(t, err)

	got, ok := g.Complete(CategoryCapture)
	require.True(t, ok)
	require.Equal(t, first.RequestID, got.RequestID)
	require.False(t, g.IsPending(CategoryCapture))

	_, err = g.Begin(CategoryCapture, nil)
	require.NoError(t, err)
}

func TestGuard_TimeoutFiresOnceAndFrees(t *testing.T) {
	g, clock := newTestGuard(t)

	var fired []Pending
	_, err := g.Begin(CategoryMoves, func(p Pending) { fired = append(fired, p) })
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	require.Empty(t, fired)

	clock.Advance(2 * time.Second)
	require.Len(t, fired, 1)
	require.Equal(t, CategoryMoves, fired[0].Category)
	require.False(t, g.IsPending(CategoryMoves))

	// Freed: a new begin works, and the old timer never double-fires.
	_, err = g.Begin(CategoryMoves, func(p Pending) { fired = append(fired, p) })
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.Len(t, fired, 1)
}

func TestGuard_CompleteStopsTimer(t *testing.T) {
	g, clock := newTestGuard(t)

	fired := 0
	_, err := g.Begin(CategorySwitch, func(Pending) { fired++ })
	require.NoError(t, err)

	_, ok := g.Complete(CategorySwitch)
	require.True(t, ok)

	clock.Advance(10 * time.Second)
	require.Zero(t, fired)
}

func TestGuard_StaleTimerDoesNotKillNewRequest(t *testing.T) {
	g, clock := newTestGuard(t)

	fired := 0
	_, err := g.Begin(CategoryMoves, func(Pending) { fired++ })
	require.NoError(t, err)
	g.Complete(CategoryMoves)

	// New request in the same category; its timeout is 5s from now.
	second, err := g.Begin(CategoryMoves, func(Pending) { fired++ })
	require.NoError(t, err)

	// Past the first request's deadline but before the second's.
	clock.Advance(4 * time.Second)
	require.Zero(t, fired)
	require.True(t, g.IsPending(CategoryMoves))

	id, ok := g.RequestID(CategoryMoves)
	require.True(t, ok)
	require.Equal(t, second.RequestID, id)
}

func TestGuard_FailFreesWithoutTimeoutCallback(t *testing.T) {
	g, clock := newTestGuard(t)

	fired := 0
	_, err := g.Begin(CategoryCapture, func(Pending) { fired++ })
	require.NoError(t, err)

	_, ok := g.Fail(CategoryCapture, ErrRequestTimeout)
	require.True(t, ok)
	clock.Advance(time.Minute)
	require.Zero(t, fired)
}

func TestGuard_CloseCancelsEverything(t *testing.T) {
	g, clock := newTestGuard(t)

	fired := 0
	_, err := g.Begin(CategoryMoves, func(Pending) { fired++ })
	require.NoError(t, err)
	_, err = g.Begin(CategorySwitch, func(Pending) { fired++ })
	require.NoError(t, err)

	g.Close()
	clock.Advance(time.Minute)
	require.Zero(t, fired)

	_, err = g.Begin(CategoryMoves, nil)
	require.ErrorIs(t, err, ErrAlreadyPending)
}
