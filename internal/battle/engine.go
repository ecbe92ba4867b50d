package battle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/capture"
	"github.com/dsalaz04/pkmn-battle-client/internal/faint"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/history"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/runloop"
	"github.com/dsalaz04/pkmn-battle-client/internal/switches"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
	"github.com/dsalaz04/pkmn-battle-client/internal/transport"
)

// Transport is the slice of the websocket channel the engine needs.
type Transport interface {
	Sender
	On(et protocol.EventType, h transport.Handler) func()
}

type Options struct {
	// GraceDelay is how long terminal messaging gets to play after
	// battleEnd before the session is torn down. Clamped to 1.5s-5s.
	GraceDelay time.Duration

	RequestTimeout time.Duration
	Capture        capture.Config
	Faint          faint.Config
}

func (o Options) withDefaults() Options {
	if o.GraceDelay < 1500*time.Millisecond {
		o.GraceDelay = 1500 * time.Millisecond
	}
	if o.GraceDelay > 5*time.Second {
		o.GraceDelay = 5 * time.Second
	}
	return o
}

// Engine owns the battle run loop and routes every server message to the
// coordinator that owns it. All UI entry points hop onto the loop, so
// coordinators never run concurrently with each other.
type Engine struct {
	log   *zap.Logger
	loop  *runloop.Loop
	clock timeutil.Clock
	ch    Transport
	guard *guard.Guard
	bus   *bus.Bus
	opts  Options

	session  *Session
	turns    *TurnCoordinator
	captures *capture.Sequencer
	faints   *faint.Sequencer
	switches *switches.Coordinator
	hist     *history.Store

	unsubs     []func()
	graceTimer timeutil.Timer
	captured   bool
}

// New builds and wires an engine. hist may be nil to disable battle-history
// persistence.
func New(parent context.Context, ch Transport, b *bus.Bus, clock timeutil.Clock, hist *history.Store, opts Options, log *zap.Logger) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		log:     log,
		loop:    runloop.New(parent),
		clock:   clock,
		ch:      ch,
		guard:   guard.New(clock, opts.RequestTimeout, log.Named("guard")),
		bus:     b,
		opts:    opts,
		session: NewSession(),
		hist:    hist,
	}
	schedule := func(fn func()) { e.loop.Post(fn) }

	e.turns = NewTurnCoordinator(e.session, ch, e.guard, b, schedule, log.Named("turns"))
	e.captures = capture.NewSequencer(ch, e.guard, b, clock, schedule, opts.Capture, log.Named("capture"))
	e.faints = faint.NewSequencer(b, clock, schedule, opts.Faint, e.applyKOCleanup, log.Named("faint"))
	e.switches = switches.NewCoordinator(ch, e.guard, b, clock, schedule, log.Named("switch"))

	e.captures.BindTurnGate(e.turns.CanSelectAction, func() {
		e.turns.MarkActionSubmitted(protocol.ActionItem)
	})
	e.switches.Bind(func() {
		e.turns.MarkActionSubmitted(protocol.ActionSwitch)
	}, e.applySwitched)

	e.unsubs = append(e.unsubs, b.Subscribe(bus.TopicCaptureSucceeded, func(bus.Event) {
		e.captured = true
	}))

	e.subscribe()
	return e
}

// subscribe routes every inbound event type onto the run loop. The set is
// closed: anything else already failed to decode in the transport.
func (e *Engine) subscribe() {
	route := func(et protocol.EventType, h func(ev protocol.ServerEvent)) {
		off := e.ch.On(et, func(ev protocol.ServerEvent, _ string) {
			e.loop.Post(func() { h(ev) })
		})
		e.unsubs = append(e.unsubs, off)
	}

	route(protocol.EvtBattleRoomCreated, func(ev protocol.ServerEvent) {
		e.applyTransition(func() error { return e.session.ApplyRoomCreated(ev.(protocol.BattleRoomCreated)) })
	})
	route(protocol.EvtBattleJoined, func(ev protocol.ServerEvent) {
		e.applyTransition(func() error { return e.session.ApplyJoined(ev.(protocol.BattleJoined)) })
	})
	route(protocol.EvtBattleStart, func(ev protocol.ServerEvent) {
		e.handleBattleStart(ev.(protocol.BattleStart))
	})
	route(protocol.EvtTurnChange, func(ev protocol.ServerEvent) {
		e.turns.HandleTurnChange(ev.(protocol.TurnChange))
	})
	route(protocol.EvtBattleMessage, func(ev protocol.ServerEvent) {
		e.bus.Publish(bus.Event{Topic: bus.TopicBattleMessage, Payload: ev.(protocol.BattleMessage).Message})
	})
	route(protocol.EvtBattleEnd, func(ev protocol.ServerEvent) {
		e.handleBattleEnd(ev.(protocol.BattleEnd))
	})
	route(protocol.EvtBattleError, func(ev protocol.ServerEvent) {
		e.handleBattleError(ev.(protocol.BattleError))
	})
	route(protocol.EvtRequestMovesResult, func(ev protocol.ServerEvent) {
		e.turns.HandleMovesResult(ev.(protocol.RequestMovesResult))
	})
	route(protocol.EvtCaptureResult, func(ev protocol.ServerEvent) {
		e.captures.HandleResult(ev.(protocol.CaptureResult))
	})
	route(protocol.EvtCaptureShake, func(ev protocol.ServerEvent) {
		e.captures.HandleShake(ev.(protocol.CaptureShake))
	})
	route(protocol.EvtCaptureFinal, func(ev protocol.ServerEvent) {
		e.captures.HandleFinal(ev.(protocol.CaptureFinal))
	})
	route(protocol.EvtPokemonFainted, func(ev protocol.ServerEvent) {
		e.faints.HandleFaint(ev.(protocol.PokemonFainted))
	})
	route(protocol.EvtPhaseChanged, func(ev protocol.ServerEvent) {
		// Informational: the concrete windows arrive as their own messages
		// (switchRequired etc). Logged for traceability.
		e.log.Debug("server phase changed", zap.String("phase", ev.(protocol.PhaseChanged).Phase))
	})
	route(protocol.EvtSwitchRequired, func(ev protocol.ServerEvent) {
		req := ev.(protocol.SwitchRequired)
		if e.session.RoleFor(req.PlayerRole) == RoleSelf {
			e.switches.ShowForced(req)
		}
	})
	route(protocol.EvtPokemonSwitched, func(ev protocol.ServerEvent) {
		sw := ev.(protocol.PokemonSwitched)
		if e.session.RoleFor(sw.PlayerRole) == RoleSelf {
			e.switches.HandleSwitched(sw)
			return
		}
		e.bus.Publish(bus.Event{Topic: bus.TopicSwitchDone, Payload: sw})
	})
	route(protocol.EvtSwitchError, func(ev protocol.ServerEvent) {
		e.switches.HandleError(ev.(protocol.SwitchError))
	})
	route(protocol.EvtActionQueued, func(ev protocol.ServerEvent) {
		e.turns.HandleActionQueued(ev.(protocol.ActionQueued))
	})
	route(protocol.EvtBattleStateSync, func(ev protocol.ServerEvent) {
		e.turns.HandleStateSync(ev.(protocol.BattleStateSync))
	})
}

func (e *Engine) applyTransition(fn func() error) {
	if err := fn(); err != nil {
		// Server-driven transitions that do not fit the current phase are
		// logged and dropped, never fatal.
		e.log.Warn("rejected transition", zap.Error(err))
	}
}

func (e *Engine) handleBattleStart(ev protocol.BattleStart) {
	e.applyTransition(func() error { return e.session.ApplyBattleStart(ev) })
	if e.session.Phase != PhaseBattle {
		return
	}
	if len(e.session.Roster.Entries) == 0 {
		// Until a full team payload exists the roster is just the active
		// slot; AliveInactive keeps voluntary switches gated regardless.
		e.session.Roster = TeamRoster{
			Entries:   []Combatant{e.session.Self},
			CanSwitch: true,
		}
	}
	e.turns.RecomputeWaiting()
	e.bus.Publish(bus.Event{Topic: bus.TopicSessionStarted, Payload: e.snapshotLocked()})
	e.bus.Publish(bus.Event{Topic: bus.TopicTurnChanged, Payload: TurnInfo{
		TurnNumber: e.session.TurnNumber,
		Owner:      e.session.CurrentTurnOwner,
		CanAct:     e.turns.WaitingForAction(),
	}})
}

func (e *Engine) handleBattleEnd(ev protocol.BattleEnd) {
	e.applyTransition(func() error { return e.session.ApplyBattleEnd(ev) })
	if e.session.Phase != PhaseEnded {
		return
	}
	e.faints.PlayBattleEnd(ev.Result)
	e.recordHistory(ev.Result)

	// Grace window for terminal messaging, then a full reset; late
	// subscribers never observe a half-closed session.
	e.graceTimer = e.clock.AfterFunc(e.opts.GraceDelay, func() {
		e.loop.Post(e.teardown)
	})
}

func (e *Engine) handleBattleError(ev protocol.BattleError) {
	if !ev.Critical {
		e.bus.Publish(bus.Event{Topic: bus.TopicBattleMessage, Payload: ev.Message})
		return
	}
	err := &CriticalError{Message: ev.Message}
	e.log.Error("critical battle error", zap.Error(err))
	e.bus.Publish(bus.Event{Topic: bus.TopicCriticalError, Payload: err})
	e.graceTimer = e.clock.AfterFunc(e.opts.GraceDelay, func() {
		e.loop.Post(e.teardown)
	})
}

// applyKOCleanup is phase 6 of the KO sequence: the only place a KO touches
// combatant state.
func (e *Engine) applyKOCleanup(ev protocol.PokemonFainted) {
	c := e.session.Combatant(Role(ev.TargetRole))
	c.CurrentHP = 0
	c.Status = StatusKO
	if Role(ev.TargetRole) == RoleSelf {
		r := &e.session.Roster
		if r.ActiveIndex >= 0 && r.ActiveIndex < len(r.Entries) {
			r.Entries[r.ActiveIndex].CurrentHP = 0
			r.Entries[r.ActiveIndex].Status = StatusKO
		}
	}
}

func (e *Engine) applySwitched(ev protocol.PokemonSwitched) {
	r := &e.session.Roster
	if ev.ToPokemonIndex >= 0 && ev.ToPokemonIndex < len(r.Entries) {
		r.ActiveIndex = ev.ToPokemonIndex
		e.session.Self = r.Entries[ev.ToPokemonIndex]
		e.session.Self.Role = RoleSelf
	}
}

func (e *Engine) recordHistory(result string) {
	if e.hist == nil {
		return
	}
	rec := history.Record{
		SessionID:    e.session.ID,
		BattleType:   string(e.session.Type),
		Result:       result,
		Turns:        e.session.TurnNumber,
		OpponentName: e.session.Opponent.Name,
		Captured:     e.captured,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.hist.Record(ctx, rec); err != nil {
			e.log.Warn("record battle history", zap.Error(err))
		}
	}()
}

// teardown resets everything to defaults. Runs on the loop.
func (e *Engine) teardown() {
	if e.graceTimer != nil {
		e.graceTimer.Stop()
		e.graceTimer = nil
	}
	e.faints.ForceStop()
	e.captures.ForceStop()
	e.switches.ForceStop()
	e.guard.CancelAll()
	e.session.Reset()
	e.captured = false
	e.bus.Publish(bus.Event{Topic: bus.TopicSessionEnded, Payload: struct{}{}})
}

// HandleDisconnect force-stops every sequence and resets state. This is the
// abnormal-teardown path; ForceStop on the KO queue exists only for it.
func (e *Engine) HandleDisconnect(err error) {
	e.loop.Post(func() {
		if err != nil {
			e.log.Warn("transport lost", zap.Error(err))
		}
		e.teardown()
	})
}

// Close tears the engine down and stops its loop.
func (e *Engine) Close() {
	e.loop.Call(func() {
		for _, off := range e.unsubs {
			off()
		}
		e.unsubs = nil
		e.teardown()
	})
	e.guard.Close()
	e.loop.Close()
}

// --- UI entry points. Each hops onto the run loop and reports whether the
// input was accepted; a false is a silent gate rejection, not an error. ---

// JoinRoom asks the server to place us in a battle room.
func (e *Engine) JoinRoom(roomID string) bool {
	return e.ch.Send(protocol.JoinRoom{RoomID: roomID}, "")
}

// SelectAction handles the top-level battle menu. Switch opens the
// voluntary switch window; item-based capture goes through AttemptCapture.
func (e *Engine) SelectAction(action protocol.ActionType) bool {
	var ok bool
	e.loop.Call(func() {
		switch action {
		case protocol.ActionSwitch:
			if !e.turns.CanSelectAction() || !e.session.Roster.CanSwitch {
				return
			}
			ok = e.switches.ShowVoluntary(e.session.Roster.AliveInactive())
		default:
			ok = e.turns.SelectAction(action)
		}
	})
	return ok
}

// SelectMove submits a move from the open move menu.
func (e *Engine) SelectMove(moveID string) bool {
	var ok bool
	e.loop.Call(func() { ok = e.turns.SelectMove(moveID) })
	return ok
}

// CloseMoveMenu is the user-cancel hook for the move menu.
func (e *Engine) CloseMoveMenu() {
	e.loop.Call(func() { e.turns.CloseMoveMenu() })
}

// AttemptCapture throws a ball. Only meaningful in wild battles; trainer
// and PvP sessions reject it locally.
func (e *Engine) AttemptCapture(ballType string) bool {
	var ok bool
	e.loop.Call(func() {
		if e.session.Type == TypeTrainer || e.session.Type == TypePvP {
			return
		}
		ok = e.captures.Attempt(ballType)
	})
	return ok
}

// SelectSwitchSlot picks a roster slot in the open switch window.
func (e *Engine) SelectSwitchSlot(index int) bool {
	var ok bool
	e.loop.Call(func() { ok = e.switches.SelectSlot(index) })
	return ok
}

// CancelSwitch dismisses a voluntary switch window.
func (e *Engine) CancelSwitch() bool {
	var ok bool
	e.loop.Call(func() { ok = e.switches.Cancel() })
	return ok
}

// CanSelectAction reports whether the local action window is open.
func (e *Engine) CanSelectAction() bool {
	var ok bool
	e.loop.Call(func() { ok = e.turns.CanSelectAction() })
	return ok
}

// IsWaitingForMoves reports whether a moves request is in flight.
func (e *Engine) IsWaitingForMoves() bool {
	var ok bool
	e.loop.Call(func() { ok = e.turns.IsWaitingForMoves() })
	return ok
}

// Snapshot returns a point-in-time view of the session for the debug
// surface. Never a live reference.
func (e *Engine) Snapshot() View {
	var v View
	e.loop.Call(func() { v = e.snapshotLocked() })
	return v
}

func (e *Engine) snapshotLocked() View {
	return View{
		ID:               e.session.ID,
		Type:             e.session.Type,
		Phase:            e.session.Phase,
		TurnNumber:       e.session.TurnNumber,
		CurrentTurnOwner: e.session.CurrentTurnOwner,
		Active:           e.session.Active,
		WaitingForAction: e.turns.WaitingForAction(),
		Self:             e.session.Self,
		Opponent:         e.session.Opponent,
		Roster:           e.session.Roster,
	}
}
