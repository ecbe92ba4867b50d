// Package capture sequences the multi-shake capture reveal. The outcome is
// always computed server-side; this sequencer only plays it out in order and
// guarantees the attempt can never hang, because the request guard's timeout
// fires independently of the shake events.
package capture

import (
	"time"

	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/metrics"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

// maxShakes caps the shake animation count regardless of what the server
// reports.
const maxShakes = 3

type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
)

// Attempt is the lifecycle record of one capture. Created on start,
// transitions exactly once out of pending, then discarded.
type Attempt struct {
	BallType       string
	TargetName     string
	ShakesObserved int
	ShakesRequired int
	Critical       bool
	Outcome        Outcome
}

// ShakeInfo is published on bus.TopicCaptureShake per shake step.
type ShakeInfo struct {
	Shake int
	Total int
}

// Result is published on the succeeded/escaped/error topics.
type Result struct {
	BallType    string
	PokemonName string
	Shakes      int
	Critical    bool
	Captured    bool
	Timeout     bool
	Reason      string
}

type Sender interface {
	Send(msg protocol.ClientMessage, requestID string) bool
}

type Config struct {
	// ShakeInterval separates consecutive shake animations and the final
	// reveal. It encodes game feel, not correctness.
	ShakeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShakeInterval <= 0 {
		c.ShakeInterval = 900 * time.Millisecond
	}
	return c
}

type Sequencer struct {
	send     Sender
	guard    *guard.Guard
	bus      *bus.Bus
	clock    timeutil.Clock
	schedule func(fn func())
	log      *zap.Logger
	cfg      Config

	// canAct and onSubmitted tie the capture into the turn gate: a capture
	// is the turn's action like any other.
	canAct      func() bool
	onSubmitted func()

	attempt   *Attempt
	data      protocol.CaptureData
	timer     timeutil.Timer
	finalized bool
}

func NewSequencer(send Sender, g *guard.Guard, b *bus.Bus, clock timeutil.Clock, schedule func(func()), cfg Config, log *zap.Logger) *Sequencer {
	return &Sequencer{
		send:     send,
		guard:    g,
		bus:      b,
		clock:    clock,
		schedule: schedule,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// BindTurnGate wires the turn coordinator's input gate and optimistic lock.
func (s *Sequencer) BindTurnGate(canAct func() bool, onSubmitted func()) {
	s.canAct = canAct
	s.onSubmitted = onSubmitted
}

// InFlight reports whether an attempt is pending or still revealing.
func (s *Sequencer) InFlight() bool { return s.attempt != nil }

// Attempt starts a capture. Rejected (false) when input is gated, a capture
// is already in flight, or the transport is down.
func (s *Sequencer) Attempt(ballType string) bool {
	if s.canAct != nil && !s.canAct() {
		return false
	}
	if s.attempt != nil {
		return false
	}

	p, err := s.guard.Begin(guard.CategoryCapture, func(pending guard.Pending) {
		s.schedule(func() { s.handleTimeout(pending) })
	})
	if err != nil {
		return false
	}
	if !s.send.Send(protocol.AttemptCapture{BallType: ballType}, p.RequestID) {
		s.guard.Fail(guard.CategoryCapture, guard.ErrSendFailed)
		return false
	}

	s.attempt = &Attempt{BallType: ballType, Outcome: OutcomePending}
	s.finalized = false
	if s.onSubmitted != nil {
		s.onSubmitted()
	}
	s.log.Info("capture attempt sent", zap.String("ball", ballType))
	return true
}

// HandleResult receives the authoritative outcome and starts the reveal.
func (s *Sequencer) HandleResult(ev protocol.CaptureResult) {
	if _, ok := s.guard.Complete(guard.CategoryCapture); !ok {
		s.log.Debug("capture result with no pending request")
		return
	}
	if s.attempt == nil {
		return
	}

	if !ev.Success || ev.CaptureData == nil {
		s.finalize(bus.TopicCaptureError, Result{
			BallType: s.attempt.BallType,
			Reason:   ev.Error,
		}, OutcomeError)
		return
	}

	s.data = *ev.CaptureData
	s.attempt.TargetName = s.data.PokemonName
	s.attempt.Critical = s.data.Critical
	if s.data.Critical {
		// A critical capture is a fixed two-step sequence: one shake, then
		// the success reveal, whatever shakeCount says.
		s.attempt.ShakesRequired = 1
	} else {
		s.attempt.ShakesRequired = min(s.data.ShakeCount, maxShakes)
	}

	if s.attempt.ShakesRequired == 0 {
		s.reveal()
		return
	}
	s.playShake(1)
}

// playShake emits shake n, then schedules either the next shake or the
// reveal. Shakes never overlap.
func (s *Sequencer) playShake(n int) {
	if s.attempt == nil {
		return
	}
	s.attempt.ShakesObserved = n
	s.bus.Publish(bus.Event{Topic: bus.TopicCaptureShake, Payload: ShakeInfo{
		Shake: n,
		Total: s.attempt.ShakesRequired,
	}})

	next := s.reveal
	if n < s.attempt.ShakesRequired {
		next = func() { s.playShake(n + 1) }
	}
	s.timer = s.clock.AfterFunc(s.cfg.ShakeInterval, func() {
		s.schedule(next)
	})
}

func (s *Sequencer) reveal() {
	if s.attempt == nil {
		return
	}
	res := Result{
		BallType:    s.attempt.BallType,
		PokemonName: s.data.PokemonName,
		Shakes:      s.attempt.ShakesObserved,
		Critical:    s.data.Critical,
		Captured:    s.data.Captured,
	}
	if s.data.Captured {
		s.finalize(bus.TopicCaptureSucceeded, res, OutcomeSuccess)
	} else {
		s.finalize(bus.TopicCaptureEscaped, res, OutcomeFailure)
	}
}

// finalize ends the attempt exactly once: records the outcome, clears the
// in-flight state, and notifies listeners. Every path through the sequencer
// funnels here.
func (s *Sequencer) finalize(topic bus.Topic, res Result, outcome Outcome) {
	if s.finalized {
		return
	}
	s.finalized = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.attempt != nil {
		s.attempt.Outcome = outcome
	}
	s.attempt = nil
	s.data = protocol.CaptureData{}

	metrics.Captures.WithLabelValues(string(outcome)).Inc()
	s.bus.Publish(bus.Event{Topic: topic, Payload: res})
}

func (s *Sequencer) handleTimeout(guard.Pending) {
	metrics.RequestTimeouts.WithLabelValues(string(guard.CategoryCapture)).Inc()
	ball := ""
	if s.attempt != nil {
		ball = s.attempt.BallType
	}
	s.finalize(bus.TopicCaptureError, Result{
		BallType: ball,
		Timeout:  true,
		Reason:   "no response from server",
	}, OutcomeError)
	s.send.Send(protocol.RequestBattleState{}, "")
}

// HandleShake consumes a server-pushed shake event. While a local sequence
// is running these are duplicates of what we already play; otherwise they
// are republished for the presentation layer.
func (s *Sequencer) HandleShake(ev protocol.CaptureShake) {
	if s.attempt != nil {
		return
	}
	s.bus.Publish(bus.Event{Topic: bus.TopicCaptureShake, Payload: ShakeInfo{
		Shake: ev.ShakeNumber,
		Total: ev.TotalShakes,
	}})
}

// HandleFinal consumes the server's terminal capture push. The locally
// sequenced reveal is authoritative for presentation; a disagreement is
// logged because it means we desynchronized.
func (s *Sequencer) HandleFinal(ev protocol.CaptureFinal) {
	if s.attempt != nil && s.data.Captured != ev.Captured {
		s.log.Warn("capture final disagrees with sequenced outcome",
			zap.Bool("server", ev.Captured),
			zap.Bool("local", s.data.Captured))
	}
}

// ForceStop aborts any in-flight reveal. Teardown only.
func (s *Sequencer) ForceStop() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.attempt = nil
	s.finalized = false
	s.data = protocol.CaptureData{}
}
