// Package faint orchestrates knockout resolution. KO events queue FIFO and
// play one at a time through six ordered phases; the authoritative HP-zero
// update is deferred to its own phase so the health bar never reads zero
// before the collapse animation has started.
package faint

import (
	"time"

	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

type PhaseName string

const (
	PhasePreAnimation PhaseName = "pre_animation"
	PhaseCollapse     PhaseName = "collapse"
	PhaseHealthZero   PhaseName = "health_zero"
	PhaseMessage      PhaseName = "message"
	PhaseResidual     PhaseName = "residual"
	PhaseCleanup      PhaseName = "cleanup"
)

var phaseOrder = []PhaseName{
	PhasePreAnimation,
	PhaseCollapse,
	PhaseHealthZero,
	PhaseMessage,
	PhaseResidual,
	PhaseCleanup,
}

// PhaseInfo is published on bus.TopicKOPhase at each phase boundary.
type PhaseInfo struct {
	Phase PhaseName
	Event protocol.PokemonFainted
}

// EndNarrative is published on bus.TopicBattleEndSequence.
type EndNarrative struct {
	Result string // "victory" | "defeat" | "fled" | "captured"
	Stage  string // "message" | "reveal" | "done"
}

type Config struct {
	PreAnimation time.Duration
	Collapse     time.Duration
	HealthZero   time.Duration
	Message      time.Duration
	Residual     time.Duration
	EndStage     time.Duration
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.PreAnimation, 600*time.Millisecond)
	def(&c.Collapse, 900*time.Millisecond)
	def(&c.HealthZero, 400*time.Millisecond)
	def(&c.Message, 1200*time.Millisecond)
	def(&c.Residual, 500*time.Millisecond)
	def(&c.EndStage, time.Second)
	return c
}

func (c Config) durationOf(p PhaseName) time.Duration {
	switch p {
	case PhasePreAnimation:
		return c.PreAnimation
	case PhaseCollapse:
		return c.Collapse
	case PhaseHealthZero:
		return c.HealthZero
	case PhaseMessage:
		return c.Message
	case PhaseResidual:
		return c.Residual
	default:
		return 0
	}
}

type Sequencer struct {
	bus      *bus.Bus
	clock    timeutil.Clock
	schedule func(fn func())
	log      *zap.Logger
	cfg      Config

	// onCleanup applies the combatant state mutation (hp=0, status=ko)
	// atomically with phase 6, never before.
	onCleanup func(ev protocol.PokemonFainted)

	queue      []protocol.PokemonFainted
	current    *protocol.PokemonFainted
	processing bool
	timer      timeutil.Timer

	endActive  bool
	pendingEnd *EndNarrative
}

func NewSequencer(b *bus.Bus, clock timeutil.Clock, schedule func(func()), cfg Config, onCleanup func(protocol.PokemonFainted), log *zap.Logger) *Sequencer {
	return &Sequencer{
		bus:       b,
		clock:     clock,
		schedule:  schedule,
		log:       log,
		cfg:       cfg.withDefaults(),
		onCleanup: onCleanup,
	}
}

// Processing reports whether a KO or terminal narrative is mid-sequence.
func (s *Sequencer) Processing() bool { return s.processing || s.endActive }

// QueueLen reports how many KO events are waiting behind the current one.
func (s *Sequencer) QueueLen() int { return len(s.queue) }

// HandleFaint enqueues a KO. Begins immediately unless another KO (or the
// terminal narrative) is already playing; overlapping KOs resolve strictly
// in arrival order.
func (s *Sequencer) HandleFaint(ev protocol.PokemonFainted) {
	if s.processing || s.endActive {
		s.queue = append(s.queue, ev)
		s.log.Debug("ko queued",
			zap.String("pokemon", ev.PokemonName),
			zap.Int("behind", len(s.queue)))
		return
	}
	s.begin(ev)
}

func (s *Sequencer) begin(ev protocol.PokemonFainted) {
	s.processing = true
	s.current = &ev
	s.runPhase(0)
}

func (s *Sequencer) runPhase(i int) {
	if s.current == nil {
		return
	}
	ev := *s.current
	name := phaseOrder[i]

	s.bus.Publish(bus.Event{Topic: bus.TopicKOPhase, Payload: PhaseInfo{Phase: name, Event: ev}})

	switch name {
	case PhaseHealthZero:
		// Authoritative bar update, deliberately after the collapse phase.
		s.bus.Publish(bus.Event{Topic: bus.TopicKOHealthZeroed, Payload: ev})
	case PhaseCleanup:
		if s.onCleanup != nil {
			s.onCleanup(ev)
		}
		metrics.KOSequences.Inc()
		s.bus.Publish(bus.Event{Topic: bus.TopicKOComplete, Payload: ev})
		s.finishCurrent()
		return
	}

	next := i + 1
	s.timer = s.clock.AfterFunc(s.cfg.durationOf(name), func() {
		s.schedule(func() { s.runPhase(next) })
	})
}

func (s *Sequencer) finishCurrent() {
	s.processing = false
	s.current = nil
	s.timer = nil

	if len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.begin(ev)
		return
	}
	if s.pendingEnd != nil {
		end := *s.pendingEnd
		s.pendingEnd = nil
		s.beginEnd(end)
	}
}

// PlayBattleEnd runs the terminal victory/defeat/flee narrative. Only one
// terminal narrative plays at a time; if a KO is mid-sequence the narrative
// waits for the queue to drain.
func (s *Sequencer) PlayBattleEnd(result string) {
	end := EndNarrative{Result: result, Stage: "message"}
	if s.processing || s.endActive {
		s.pendingEnd = &end
		return
	}
	s.beginEnd(end)
}

func (s *Sequencer) beginEnd(end EndNarrative) {
	s.endActive = true
	s.bus.Publish(bus.Event{Topic: bus.TopicBattleEndSequence, Payload: end})
	s.timer = s.clock.AfterFunc(s.cfg.EndStage, func() {
		s.schedule(func() {
			s.bus.Publish(bus.Event{Topic: bus.TopicBattleEndSequence, Payload: EndNarrative{Result: end.Result, Stage: "reveal"}})
			s.timer = s.clock.AfterFunc(s.cfg.EndStage, func() {
				s.schedule(func() {
					s.endActive = false
					s.timer = nil
					s.bus.Publish(bus.Event{Topic: bus.TopicBattleEndSequence, Payload: EndNarrative{Result: end.Result, Stage: "done"}})
					if len(s.queue) > 0 {
						ev := s.queue[0]
						s.queue = s.queue[1:]
						s.begin(ev)
					}
				})
			})
		})
	})
}

// ForceStop clears the queue and resets processing state. Reserved for hard
// session teardown; never part of the normal path.
func (s *Sequencer) ForceStop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.queue = nil
	s.current = nil
	s.processing = false
	s.endActive = false
	s.pendingEnd = nil
}
