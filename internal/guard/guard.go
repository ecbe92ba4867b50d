// Package guard enforces single-flight per request category and bounds every
// outstanding request with a wall-clock timeout. Moves, capture, and switch
// requests all share this one implementation instead of carrying their own
// "is waiting" flags.
package guard

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dsalaz04/pkmn-battle-client/internal/timeutil"
)

type Category string

const (
	CategoryMoves   Category = "moves"
	CategoryCapture Category = "capture"
	CategorySwitch  Category = "switch"
)

var (
	ErrAlreadyPending = errors.New("request already pending")
	ErrRequestTimeout = errors.New("request timed out")
	ErrSendFailed     = errors.New("send failed")
	ErrRejected       = errors.New("rejected by server")
)

// DefaultTimeout is the system-wide upper bound on how long the player can
// be stuck waiting on the server.
const DefaultTimeout = 5 * time.Second

// Pending describes one in-flight request.
type Pending struct {
	RequestID   string
	Category    Category
	SubmittedAt time.Time
	TimeoutAt   time.Time
}

type entry struct {
	Pending
	timer timeutil.Timer
	gen   uint64
}

type Guard struct {
	clock   timeutil.Clock
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending map[Category]*entry
	gen     uint64
	closed  bool
}

func New(clock timeutil.Clock, timeout time.Duration, log *zap.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guard{
		clock:   clock,
		timeout: timeout,
		log:     log,
		pending: make(map[Category]*entry),
	}
}

// Begin opens a request in cat. Exactly one of Complete, Fail, the timeout,
// or Close ends it. onTimeout runs on the clock goroutine when no response
// arrived in time, after the category has already been freed for retry.
func (g *Guard) Begin(cat Category, onTimeout func(Pending)) (Pending, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return Pending{}, ErrAlreadyPending
	}
	if _, ok := g.pending[cat]; ok {
		g.mu.Unlock()
		return Pending{}, ErrAlreadyPending
	}

	now := g.clock.Now()
	g.gen++
	e := &entry{
		Pending: Pending{
			RequestID:   uuid.NewString(),
			Category:    cat,
			SubmittedAt: now,
			TimeoutAt:   now.Add(g.timeout),
		},
		gen: g.gen,
	}
	g.pending[cat] = e

	gen := e.gen
	e.timer = g.clock.AfterFunc(g.timeout, func() {
		g.expire(cat, gen, onTimeout)
	})
	g.mu.Unlock()

	return e.Pending, nil
}

func (g *Guard) expire(cat Category, gen uint64, onTimeout func(Pending)) {
	g.mu.Lock()
	e, ok := g.pending[cat]
	if !ok || e.gen != gen {
		// Stale fire: the request already completed and possibly a new one
		// took its place. Ignore.
		g.mu.Unlock()
		return
	}
	delete(g.pending, cat)
	g.mu.Unlock()

	g.log.Warn("request timed out",
		zap.String("category", string(cat)),
		zap.String("requestId", e.RequestID))
	if onTimeout != nil {
		onTimeout(e.Pending)
	}
}

// Complete clears the pending request in cat after a matching response.
func (g *Guard) Complete(cat Category) (Pending, bool) {
	return g.clear(cat)
}

// Fail clears the pending request in cat after a rejection or local error.
// The caller owns surfacing the reason; the guard only releases the slot.
func (g *Guard) Fail(cat Category, reason error) (Pending, bool) {
	p, ok := g.clear(cat)
	if ok {
		g.log.Debug("request failed",
			zap.String("category", string(cat)),
			zap.Error(reason))
	}
	return p, ok
}

func (g *Guard) clear(cat Category) (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[cat]
	if !ok {
		return Pending{}, false
	}
	delete(g.pending, cat)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e.Pending, true
}

// IsPending reports whether cat has an open request.
func (g *Guard) IsPending(cat Category) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[cat]
	return ok
}

// RequestID returns the correlation id of the open request in cat, if any.
func (g *Guard) RequestID(cat Category) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[cat]
	if !ok {
		return "", false
	}
	return e.RequestID, true
}

// CancelAll cancels every open request without firing timeout callbacks.
// Used on session teardown; unlike Close the guard stays usable afterwards.
func (g *Guard) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for cat, e := range g.pending {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(g.pending, cat)
	}
}

// Close cancels every open request and rejects all future Begins.
func (g *Guard) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.CancelAll()
}
