// Package bus is the in-process fan-out that decouples battle coordinators
// from presentation collaborators. Handlers run synchronously on the
// publisher's goroutine, which in practice is always the battle run loop.
package bus

import "sync"

type Topic string

const (
	TopicSessionStarted    Topic = "session.started"
	TopicSessionEnded      Topic = "session.ended"
	TopicTurnChanged       Topic = "turn.changed"
	TopicBattleMessage     Topic = "battle.message"
	TopicActionQueued      Topic = "action.queued"
	TopicMovesReady        Topic = "moves.ready"
	TopicMovesError        Topic = "moves.error"
	TopicCaptureShake      Topic = "capture.shake"
	TopicCaptureSucceeded  Topic = "capture.succeeded"
	TopicCaptureEscaped    Topic = "capture.escaped"
	TopicCaptureError      Topic = "capture.error"
	TopicKOPhase           Topic = "ko.phase"
	TopicKOHealthZeroed    Topic = "ko.health_zeroed"
	TopicKOComplete        Topic = "ko.complete"
	TopicSwitchWindow      Topic = "switch.window"
	TopicSwitchError       Topic = "switch.error"
	TopicSwitchDone        Topic = "switch.done"
	TopicBattleEndSequence Topic = "battle.end_sequence"
	TopicCriticalError     Topic = "battle.critical_error"
)

type Event struct {
	Topic   Topic
	Payload any
}

type Handler func(Event)

type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[Topic]map[int]Handler
}

func New() *Bus {
	return &Bus{subs: make(map[Topic]map[int]Handler)}
}

// Subscribe registers h for topic and returns its unsubscribe func.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
