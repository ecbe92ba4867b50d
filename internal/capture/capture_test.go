package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/bus"
	"github.com/dsalaz04/pkmn-battle-client/internal/guard"
	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

type fakeSender struct {
	sent []protocol.ClientMessage
	fail bool
}

func (f *fakeSender) Send(msg protocol.ClientMessage, _ string) bool {
	if f.fail {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

type fixture struct {
	seq    *Sequencer
	sender *fakeSender
	clock  *timeutil.Manual
	bus    *bus.Bus

	shakes    []ShakeInfo
	succeeded []Result
	escaped   []Result
	errors    []Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender: &fakeSender{},
		clock:  timeutil.NewManual(time.Unix(0, 0)),
		bus:    bus.New(),
	}
	g := guard.New(f.clock, 5*time.Second, zap.NewNop())
	// schedule runs continuations inline: tests drive time, not goroutines.
	f.seq = NewSequencer(f.sender, g, f.bus, f.clock, func(fn func()) { fn() }, Config{ShakeInterval: time.Second}, zap.NewNop())

	f.bus.Subscribe(bus.TopicCaptureShake, func(ev bus.Event) {
		f.shakes = append(f.shakes, ev.Payload.(ShakeInfo))
	})
	f.bus.Subscribe(bus.TopicCaptureSucceeded, func(ev bus.Event) {
		f.succeeded = append(f.succeeded, ev.Payload.(Result))
	})
	f.bus.Subscribe(bus.TopicCaptureEscaped, func(ev bus.Event) {
		f.escaped = append(f.escaped, ev.Payload.(Result))
	})
	f.bus.Subscribe(bus.TopicCaptureError, func(ev bus.Event) {
		f.errors = append(f.errors, ev.Payload.(Result))
	})
	return f
}

func result(captured bool, shakes int, critical bool) protocol.CaptureResult {
	return protocol.CaptureResult{
		Success: true,
		CaptureData: &protocol.CaptureData{
			Captured:    captured,
			ShakeCount:  shakes,
			Critical:    critical,
			PokemonName: "Pidgey",
		},
	}
}

func TestCritical_ExactlyOneShakeThenSuccess(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("ultra"))
	f.seq.HandleResult(result(true, 3, true))

	// First shake plays immediately, reveal only after the interval.
	require.Len(t, f.shakes, 1)
	require.Empty(t, f.succeeded)

	f.clock.Advance(time.Second)
	require.Len(t, f.shakes, 1, "critical capture plays exactly one shake")
	require.Len(t, f.succeeded, 1)
	require.True(t, f.succeeded[0].Critical)
	require.False(t, f.seq.InFlight())
}

func TestTwoShakesThenEscape(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	f.seq.HandleResult(result(false, 2, false))

	require.Equal(t, []ShakeInfo{{Shake: 1, Total: 2}}, f.shakes)

	f.clock.Advance(time.Second)
	require.Equal(t, []ShakeInfo{{Shake: 1, Total: 2}, {Shake: 2, Total: 2}}, f.shakes)
	require.Empty(t, f.escaped, "reveal waits for the last inter-shake interval")

	f.clock.Advance(time.Second)
	require.Len(t, f.escaped, 1)
	require.Empty(t, f.succeeded, "a failed capture never plays the success reveal")
	require.Equal(t, 2, f.escaped[0].Shakes)
}

func TestShakeCountIsCapped(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	f.seq.HandleResult(result(true, 9, false))

	f.clock.Advance(10 * time.Second)
	require.Len(t, f.shakes, 3)
	require.Len(t, f.succeeded, 1)
}

func TestSecondAttemptWhileInFlightIsRejected(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	require.False(t, f.seq.Attempt("ultra"))
	require.Len(t, f.sender.sent, 1)
}

func TestServerRejectionRecovers(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	f.seq.HandleResult(protocol.CaptureResult{Success: false, Error: "no balls left"})

	require.Len(t, f.errors, 1)
	require.Equal(t, "no balls left", f.errors[0].Reason)
	require.False(t, f.seq.InFlight())

	// Guard released: a retry is accepted.
	require.True(t, f.seq.Attempt("poke"))
}

func TestTimeoutFinalizesAndResyncs(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	f.clock.Advance(6 * time.Second)

	require.Len(t, f.errors, 1)
	require.True(t, f.errors[0].Timeout)
	require.False(t, f.seq.InFlight())

	// The timeout triggers one resync request.
	var resyncs int
	for _, msg := range f.sender.sent {
		if msg.MessageType() == protocol.MsgRequestBattleState {
			resyncs++
		}
	}
	require.Equal(t, 1, resyncs)

	require.True(t, f.seq.Attempt("poke"), "category freed after timeout")
}

func TestFinalizeFiresExactlyOnce(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.seq.Attempt("poke"))
	f.seq.HandleResult(result(true, 1, false))
	f.clock.Advance(time.Second)
	require.Len(t, f.succeeded, 1)

	// A late duplicate result changes nothing: no open request, no attempt.
	f.seq.HandleResult(result(true, 1, false))
	f.clock.Advance(5 * time.Second)
	require.Len(t, f.succeeded, 1)
	require.Empty(t, f.errors)
}

func TestTurnGateBlocksAttempt(t *testing.T) {
	f := newFixture(t)
	f.seq.BindTurnGate(func() bool { return false }, nil)

	require.False(t, f.seq.Attempt("poke"))
	require.Empty(t, f.sender.sent)
}

func TestTransportDownAttemptFailsCleanly(t *testing.T) {
	f := newFixture(t)
	f.sender.fail = true

	require.False(t, f.seq.Attempt("poke"))
	require.False(t, f.seq.InFlight())

	// Guard must be released so a retry works once the transport is back.
	f.sender.fail = false
	require.True(t, f.seq.Attempt("poke"))
}

func TestServerPushedShakeRepublishedWhenIdle(t *testing.T) {
	f := newFixture(t)

	f.seq.HandleShake(protocol.CaptureShake{ShakeNumber: 2, TotalShakes: 3})
	require.Equal(t, []ShakeInfo{{Shake: 2, Total: 3}}, f.shakes)

	// While a local sequence runs, pushes are duplicates and are dropped.
	require.True(t, f.seq.Attempt("poke"))
	f.seq.HandleResult(result(true, 2, false))
	n := len(f.shakes)
	f.seq.HandleShake(protocol.CaptureShake{ShakeNumber: 1, TotalShakes: 2})
	require.Len(t, f.shakes, n)
}
