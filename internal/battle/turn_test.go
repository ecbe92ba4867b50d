package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

type fakeSender struct {
	ready bool
	sent  []protocol.ClientMessage
}

func (f *fakeSender) Send(msg protocol.ClientMessage, _ string) bool {
	if !f.ready {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

func (f *fakeSender) Ready() bool { return f.ready }

func (f *fakeSender) countOf(mt protocol.MessageType) int {
	n := 0
	for _, m := range f.sent {
		if m.MessageType() == mt {
			n++
		}
	}
	return n
}

type turnFixture struct {
	clock   *timeutil.Manual
	send    *fakeSender
	bus     *bus.Bus
	session *Session
	turns   *TurnCoordinator
}

func newTurnFixture(t *testing.T) *turnFixture {
	t.Helper()
	clock := timeutil.NewManual(time.Unix(1000, 0))
	send := &fakeSender{ready: true}
	b := bus.New()
	g := guard.New(clock, 5*time.Second, zap.NewNop())
	t.Cleanup(g.Close)

	session := &Session{
		Phase:            PhaseBattle,
		PlayerRole:       "player1",
		CurrentTurnOwner: RoleSelf,
		Active:           true,
	}
	turns := NewTurnCoordinator(session, send, g, b, func(fn func()) { fn() }, zap.NewNop())
	turns.RecomputeWaiting()
	return &turnFixture{clock: clock, send: send, bus: b, session: session, turns: turns}
}

func TestCanSelectActionGate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*turnFixture)
		want   bool
	}{
		{"own turn in battle", func(*turnFixture) {}, true},
		{"opponents turn", func(f *turnFixture) {
			f.turns.HandleTurnChange(protocol.TurnChange{CurrentTurn: "player2", TurnNumber: 2})
		}, false},
		{"battle over", func(f *turnFixture) {
			f.session.Phase = PhaseEnded
		}, false},
		{"action already submitted", func(f *turnFixture) {
			f.turns.MarkActionSubmitted(protocol.ActionAttack)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTurnFixture(t)
			tt.mutate(f)
			assert.Equal(t, tt.want, f.turns.CanSelectAction())
		})
	}
}

func TestAttackRequestsMovesSingleFlight(t *testing.T) {
	f := newTurnFixture(t)

	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	assert.Equal(t, 1, f.send.countOf(protocol.MsgRequestMoves))
	assert.True(t, f.turns.IsWaitingForMoves())

	// The window is still open (no action submitted yet) but a second
	// request must not go out while one is in flight.
	assert.False(t, f.turns.SelectAction(protocol.ActionAttack))
	assert.Equal(t, 1, f.send.countOf(protocol.MsgRequestMoves))
}

func TestMoveSelectionClosesWindowUntilTurnChange(t *testing.T) {
	f := newTurnFixture(t)
	var menus []MovesMenu
	f.bus.Subscribe(bus.TopicMovesReady, func(ev bus.Event) {
		menus = append(menus, ev.Payload.(MovesMenu))
	})

	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	f.turns.HandleMovesResult(protocol.RequestMovesResult{
		Success:     true,
		Moves:       []protocol.MoveInfo{{ID: "tackle", Name: "Tackle", PP: 35}},
		PokemonName: "Rattata",
	})
	require.Len(t, menus, 1)
	assert.False(t, f.turns.IsWaitingForMoves())

	require.True(t, f.turns.SelectMove("tackle"))
	assert.Equal(t, 1, f.send.countOf(protocol.MsgBattleAction))

	// Optimistic lock: no further input until the server reopens the turn.
	assert.False(t, f.turns.CanSelectAction())
	assert.False(t, f.turns.SelectMove("tackle"))
	assert.False(t, f.turns.SelectAction(protocol.ActionAttack))

	f.turns.HandleTurnChange(protocol.TurnChange{CurrentTurn: "player2", TurnNumber: 2})
	assert.False(t, f.turns.CanSelectAction())
	f.turns.HandleTurnChange(protocol.TurnChange{CurrentTurn: "player1", TurnNumber: 3})
	assert.True(t, f.turns.CanSelectAction())
}

func TestRunSubmitsImmediately(t *testing.T) {
	f := newTurnFixture(t)
	require.True(t, f.turns.SelectAction(protocol.ActionRun))
	assert.Equal(t, 1, f.send.countOf(protocol.MsgBattleAction))
	assert.False(t, f.turns.CanSelectAction())
}

func TestMovesTimeoutRecoversAndResyncs(t *testing.T) {
	f := newTurnFixture(t)
	var failures []MovesFailure
	f.bus.Subscribe(bus.TopicMovesError, func(ev bus.Event) {
		failures = append(failures, ev.Payload.(MovesFailure))
	})

	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	f.clock.Advance(5 * time.Second)

	require.Len(t, failures, 1)
	assert.True(t, failures[0].Timeout)
	assert.Equal(t, 1, f.send.countOf(protocol.MsgRequestBattleState))

	// The player is actionable again and may retry.
	assert.True(t, f.turns.CanSelectAction())
	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	assert.Equal(t, 2, f.send.countOf(protocol.MsgRequestMoves))
}

func TestLateMovesResultAfterTimeoutDropped(t *testing.T) {
	f := newTurnFixture(t)
	var menus int
	f.bus.Subscribe(bus.TopicMovesReady, func(bus.Event) { menus++ })

	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	f.clock.Advance(5 * time.Second)

	f.turns.HandleMovesResult(protocol.RequestMovesResult{
		Success: true,
		Moves:   []protocol.MoveInfo{{ID: "tackle"}},
	})
	assert.Zero(t, menus, "a reply arriving after its timeout must be ignored")
	assert.False(t, f.turns.SelectMove("tackle"))
}

func TestCloseMoveMenuDoesNotCancelRequest(t *testing.T) {
	f := newTurnFixture(t)
	require.True(t, f.turns.SelectAction(protocol.ActionAttack))

	f.turns.CloseMoveMenu()
	assert.True(t, f.turns.IsWaitingForMoves(),
		"dismissing the menu must not release the in-flight request")
	assert.False(t, f.turns.SelectAction(protocol.ActionAttack))
}

func TestFailedMovesResultPublishesError(t *testing.T) {
	f := newTurnFixture(t)
	var failures []MovesFailure
	f.bus.Subscribe(bus.TopicMovesError, func(ev bus.Event) {
		failures = append(failures, ev.Payload.(MovesFailure))
	})

	require.True(t, f.turns.SelectAction(protocol.ActionAttack))
	f.turns.HandleMovesResult(protocol.RequestMovesResult{Success: false, Error: "not your turn"})

	require.Len(t, failures, 1)
	assert.Equal(t, "not your turn", failures[0].Reason)
	assert.False(t, failures[0].Timeout)
	assert.False(t, f.turns.IsWaitingForMoves())
}

func TestTransportDownFreesGuard(t *testing.T) {
	f := newTurnFixture(t)
	f.send.ready = false

	assert.False(t, f.turns.SelectAction(protocol.ActionAttack))
	assert.False(t, f.turns.IsWaitingForMoves())

	f.send.ready = true
	assert.True(t, f.turns.SelectAction(protocol.ActionAttack))
}
