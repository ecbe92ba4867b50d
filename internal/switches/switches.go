// Package switches manages voluntary and forced Pokémon-switch windows. A
// forced window carries a countdown and cannot be dismissed; when it hits
// zero the lowest available slot is submitted so the player is never left
// without an active combatant.
package switches

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

// errorDisplay is how long a switchError message shows before the window
// returns to the normal prompt.
const errorDisplay = 2 * time.Second

// WindowInfo is published on bus.TopicSwitchWindow whenever the window
// opens, re-arms, or closes.
type WindowInfo struct {
	Open      bool
	Forced    bool
	Available []int
	TimeLimit time.Duration
}

// Failure is published on bus.TopicSwitchError.
type Failure struct {
	Reason  string
	Timeout bool
}

type window struct {
	forced    bool
	available []int
	timeLimit time.Duration
}

type Sender interface {
	Send(msg protocol.ClientMessage, requestID string) bool
}

type Coordinator struct {
	send     Sender
	guard    *guard.Guard
	bus      *bus.Bus
	clock    timeutil.Clock
	schedule func(fn func())
	log      *zap.Logger

	win         *window
	countdown   timeutil.Timer
	errTimer    timeutil.Timer
	autoDone    bool
	onSubmitted func()
	onSwitched  func(ev protocol.PokemonSwitched)
}

func NewCoordinator(send Sender, g *guard.Guard, b *bus.Bus, clock timeutil.Clock, schedule func(func()), log *zap.Logger) *Coordinator {
	return &Coordinator{
		send:     send,
		guard:    g,
		bus:      b,
		clock:    clock,
		schedule: schedule,
		log:      log,
	}
}

// Bind wires the turn coordinator's optimistic lock and the roster update
// applied once the server confirms a switch.
func (c *Coordinator) Bind(onSubmitted func(), onSwitched func(protocol.PokemonSwitched)) {
	c.onSubmitted = onSubmitted
	c.onSwitched = onSwitched
}

// Open reports whether a switch window is showing.
func (c *Coordinator) Open() bool { return c.win != nil }

// Forced reports whether the open window is a forced one.
func (c *Coordinator) Forced() bool { return c.win != nil && c.win.forced }

// Available returns the selectable slot indices, ascending.
func (c *Coordinator) Available() []int {
	if c.win == nil {
		return nil
	}
	out := make([]int, len(c.win.available))
	copy(out, c.win.available)
	return out
}

// ShowVoluntary opens a user-dismissable window over the given eligible
// slots (alive and not active, computed from the roster by the caller).
func (c *Coordinator) ShowVoluntary(available []int) bool {
	if c.win != nil || len(available) == 0 {
		return false
	}
	c.win = &window{available: sortedCopy(available)}
	c.publishWindow()
	return true
}

// ShowForced opens a non-cancellable window from a switchRequired message.
// Eligibility comes from the server verbatim; the rules differ from the
// voluntary case (a Pokémon that just fled may be excluded, for example).
func (c *Coordinator) ShowForced(ev protocol.SwitchRequired) {
	c.closeTimers()
	c.win = &window{
		forced:    true,
		available: sortedCopy(ev.AvailableOptions),
		timeLimit: time.Duration(ev.TimeLimit) * time.Millisecond,
	}
	c.autoDone = false
	if c.win.timeLimit > 0 {
		c.countdown = c.clock.AfterFunc(c.win.timeLimit, func() {
			c.schedule(c.autoSelect)
		})
	}
	c.publishWindow()
}

// SelectSlot submits a switch to slot index. Rejected when no window is
// open, the index is not eligible, or a switch is already in flight.
func (c *Coordinator) SelectSlot(index int) bool {
	if c.win == nil || !contains(c.win.available, index) {
		return false
	}
	p, err := c.guard.Begin(guard.CategorySwitch, func(pending guard.Pending) {
		c.schedule(func() { c.handleTimeout(pending) })
	})
	if err != nil {
		return false
	}
	if !c.send.Send(protocol.BattleAction{ActionType: protocol.ActionSwitch, SwitchIndex: index}, p.RequestID) {
		c.guard.Fail(guard.CategorySwitch, guard.ErrSendFailed)
		return false
	}
	if !c.win.forced && c.onSubmitted != nil {
		c.onSubmitted()
	}
	return true
}

// autoSelect fires when the forced countdown reaches zero: the lowest
// available index is submitted exactly once, as if the user had chosen it.
func (c *Coordinator) autoSelect() {
	if c.win == nil || !c.win.forced || c.autoDone {
		return
	}
	if c.guard.IsPending(guard.CategorySwitch) {
		// The user beat the countdown; their selection is in flight.
		return
	}
	c.autoDone = true
	if len(c.win.available) == 0 {
		c.log.Error("forced switch window with no available slots")
		return
	}
	idx := c.win.available[0]
	c.log.Info("forced switch countdown expired, auto-selecting", zap.Int("slot", idx))
	c.SelectSlot(idx)
}

// Cancel dismisses a voluntary window. Forced windows cannot be cancelled.
func (c *Coordinator) Cancel() bool {
	if c.win == nil || c.win.forced {
		return false
	}
	c.close()
	return true
}

// HandleSwitched confirms the local player's switch: closes the window and
// applies the roster update.
func (c *Coordinator) HandleSwitched(ev protocol.PokemonSwitched) {
	c.guard.Complete(guard.CategorySwitch)
	if c.onSwitched != nil {
		c.onSwitched(ev)
	}
	c.close()
	c.bus.Publish(bus.Event{Topic: bus.TopicSwitchDone, Payload: ev})
}

// HandleError re-arms the window instead of closing it: the error shows for
// a moment, then the normal prompt returns.
func (c *Coordinator) HandleError(ev protocol.SwitchError) {
	c.guard.Fail(guard.CategorySwitch, guard.ErrRejected)
	if c.win == nil {
		return
	}
	c.autoDone = false
	c.bus.Publish(bus.Event{Topic: bus.TopicSwitchError, Payload: Failure{Reason: ev.Error}})
	if c.errTimer != nil {
		c.errTimer.Stop()
	}
	c.errTimer = c.clock.AfterFunc(errorDisplay, func() {
		c.schedule(func() {
			c.errTimer = nil
			if c.win != nil {
				c.publishWindow()
			}
		})
	})
}

func (c *Coordinator) handleTimeout(guard.Pending) {
	metrics.RequestTimeouts.WithLabelValues(string(guard.CategorySwitch)).Inc()
	c.bus.Publish(bus.Event{Topic: bus.TopicSwitchError, Payload: Failure{
		Reason:  "no response from server",
		Timeout: true,
	}})
	c.send.Send(protocol.RequestBattleState{}, "")
	if c.win != nil {
		// Window stays open so the player can try again.
		c.publishWindow()
	}
}

// ForceStop tears the window down regardless of kind. Teardown only.
func (c *Coordinator) ForceStop() {
	c.closeTimers()
	c.win = nil
}

func (c *Coordinator) close() {
	c.closeTimers()
	if c.win == nil {
		return
	}
	c.win = nil
	c.bus.Publish(bus.Event{Topic: bus.TopicSwitchWindow, Payload: WindowInfo{Open: false}})
}

func (c *Coordinator) closeTimers() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
}

func (c *Coordinator) publishWindow() {
	c.bus.Publish(bus.Event{Topic: bus.TopicSwitchWindow, Payload: WindowInfo{
		Open:      true,
		Forced:    c.win.forced,
		Available: c.Available(),
		TimeLimit: c.win.timeLimit,
	}})
}

func sortedCopy(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	sort.Ints(out)
	return out
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
