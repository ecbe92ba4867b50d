package battle

import (
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
)

// Sender is the slice of the transport the coordinators need.
type Sender interface {
	Send(msg protocol.ClientMessage, requestID string) bool
	Ready() bool
}

// TurnInfo is published on bus.TopicTurnChanged.
type TurnInfo struct {
	TurnNumber int
	Owner      Role
	CanAct     bool
}

// MovesMenu is published on bus.TopicMovesReady when the server answers a
// moves request.
type MovesMenu struct {
	Moves         []protocol.MoveInfo
	PokemonName   string
	ForceStruggle bool
}

// MovesFailure is published on bus.TopicMovesError. The player is back in
// an actionable state when it fires.
type MovesFailure struct {
	Reason  string
	Timeout bool
}

// TurnCoordinator tracks whose turn it is and gates the local player's
// action selection. It is the sole writer of the session's turn fields.
type TurnCoordinator struct {
	session  *Session
	send     Sender
	guard    *guard.Guard
	bus      *bus.Bus
	log      *zap.Logger
	schedule func(fn func())

	waitingForAction bool
	selectedAction   protocol.ActionType
	moveMenuOpen     bool
}

func NewTurnCoordinator(session *Session, send Sender, g *guard.Guard, b *bus.Bus, schedule func(func()), log *zap.Logger) *TurnCoordinator {
	return &TurnCoordinator{
		session:  session,
		send:     send,
		guard:    g,
		bus:      b,
		log:      log,
		schedule: schedule,
	}
}

// CanSelectAction is the hard input gate: true iff the battle is running,
// no action has been submitted this turn, and it is the local player's turn.
func (t *TurnCoordinator) CanSelectAction() bool {
	return t.session.Phase == PhaseBattle &&
		t.waitingForAction &&
		t.session.CurrentTurnOwner == RoleSelf
}

// WaitingForAction reports whether the local action window is open.
func (t *TurnCoordinator) WaitingForAction() bool { return t.waitingForAction }

// IsWaitingForMoves reports whether a moves request is in flight.
func (t *TurnCoordinator) IsWaitingForMoves() bool {
	return t.guard.IsPending(guard.CategoryMoves)
}

// SelectAction handles a top-level menu choice. Returns false, without side
// effects, when input is not currently legal; that rejection is silent by
// design, not an error surfaced to the player.
func (t *TurnCoordinator) SelectAction(action protocol.ActionType) bool {
	if !t.CanSelectAction() {
		t.log.Debug("action rejected outside window",
			zap.String("action", string(action)),
			zap.String("phase", string(t.session.Phase)))
		return false
	}

	switch action {
	case protocol.ActionAttack:
		return t.requestMoves()
	case protocol.ActionRun:
		if !t.send.Send(protocol.BattleAction{ActionType: protocol.ActionRun}, "") {
			return false
		}
		t.MarkActionSubmitted(protocol.ActionRun)
		return true
	default:
		// Item and switch actions are driven by their own coordinators;
		// they reuse CanSelectAction and MarkActionSubmitted.
		t.log.Debug("action not handled here", zap.String("action", string(action)))
		return false
	}
}

func (t *TurnCoordinator) requestMoves() bool {
	p, err := t.guard.Begin(guard.CategoryMoves, func(pending guard.Pending) {
		t.schedule(func() { t.handleMovesTimeout(pending) })
	})
	if err != nil {
		return false
	}
	if !t.send.Send(protocol.RequestMoves{}, p.RequestID) {
		t.guard.Fail(guard.CategoryMoves, ErrTransportUnavailable)
		return false
	}
	t.selectedAction = protocol.ActionAttack
	return true
}

// SelectMove submits the chosen move. Legal only while the move menu is
// open; submission closes the action window optimistically until the next
// turnChange.
func (t *TurnCoordinator) SelectMove(moveID string) bool {
	if !t.moveMenuOpen || t.session.Phase != PhaseBattle {
		return false
	}
	if !t.send.Send(protocol.BattleAction{ActionType: protocol.ActionAttack, MoveID: moveID}, "") {
		return false
	}
	t.moveMenuOpen = false
	t.MarkActionSubmitted(protocol.ActionAttack)
	return true
}

// CloseMoveMenu is the user-cancel hook for the move menu. It does not
// touch the single-flight guard: only a response, timeout, or teardown may
// end an in-flight request.
func (t *TurnCoordinator) CloseMoveMenu() {
	t.moveMenuOpen = false
	t.selectedAction = ""
}

// MarkActionSubmitted closes the input window until the next turnChange.
// Shared with the capture and switch flows, which submit actions too.
func (t *TurnCoordinator) MarkActionSubmitted(action protocol.ActionType) {
	t.waitingForAction = false
	t.selectedAction = action
}

// HandleTurnChange recomputes the input window from the server's view of
// whose turn it is and clears any stale sub-menu state.
func (t *TurnCoordinator) HandleTurnChange(ev protocol.TurnChange) {
	t.session.TurnNumber = ev.TurnNumber
	t.session.CurrentTurnOwner = t.session.RoleFor(ev.CurrentTurn)

	t.waitingForAction = t.session.Phase == PhaseBattle && t.session.CurrentTurnOwner == RoleSelf
	t.moveMenuOpen = false
	t.selectedAction = ""

	t.bus.Publish(bus.Event{Topic: bus.TopicTurnChanged, Payload: TurnInfo{
		TurnNumber: ev.TurnNumber,
		Owner:      t.session.CurrentTurnOwner,
		CanAct:     t.waitingForAction,
	}})
}

// RecomputeWaiting derives the input window from current session state.
// Used after battleStart and after a resync.
func (t *TurnCoordinator) RecomputeWaiting() {
	t.waitingForAction = t.session.Phase == PhaseBattle && t.session.CurrentTurnOwner == RoleSelf
}

// HandleMovesResult resolves the in-flight moves request.
func (t *TurnCoordinator) HandleMovesResult(ev protocol.RequestMovesResult) {
	if !ev.Success {
		if _, ok := t.guard.Fail(guard.CategoryMoves, ErrServerRejected); ok {
			t.bus.Publish(bus.Event{Topic: bus.TopicMovesError, Payload: MovesFailure{Reason: ev.Error}})
		}
		return
	}
	if _, ok := t.guard.Complete(guard.CategoryMoves); !ok {
		// Response with no open request: a late reply after a timeout
		// already recovered. Drop it.
		t.log.Debug("moves result with no pending request")
		return
	}
	t.moveMenuOpen = true
	t.bus.Publish(bus.Event{Topic: bus.TopicMovesReady, Payload: MovesMenu{
		Moves:         ev.Moves,
		PokemonName:   ev.PokemonName,
		ForceStruggle: ev.ForceStruggle,
	}})
}

func (t *TurnCoordinator) handleMovesTimeout(guard.Pending) {
	metrics.RequestTimeouts.WithLabelValues(string(guard.CategoryMoves)).Inc()
	t.selectedAction = ""
	t.bus.Publish(bus.Event{Topic: bus.TopicMovesError, Payload: MovesFailure{
		Reason:  "no response from server",
		Timeout: true,
	}})
	// A timeout may mean a dropped message desynchronized us; ask the
	// server for its current view.
	t.send.Send(protocol.RequestBattleState{}, "")
}

// HandleActionQueued republishes the server's ack that our action is queued
// for resolution.
func (t *TurnCoordinator) HandleActionQueued(ev protocol.ActionQueued) {
	t.bus.Publish(bus.Event{Topic: bus.TopicActionQueued, Payload: ev.ActionType})
}

// HandleStateSync re-seeds turn tracking after a resync response.
func (t *TurnCoordinator) HandleStateSync(ev protocol.BattleStateSync) {
	t.session.ApplySync(ev)
	t.RecomputeWaiting()
	t.bus.Publish(bus.Event{Topic: bus.TopicTurnChanged, Payload: TurnInfo{
		TurnNumber: t.session.TurnNumber,
		Owner:      t.session.CurrentTurnOwner,
		CanAct:     t.waitingForAction,
	}})
}
