package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	b := New()

	var first, second []Event
	b.Subscribe(TopicTurnChanged, func(ev Event) { first = append(first, ev) })
	b.Subscribe(TopicTurnChanged, func(ev Event) { second = append(second, ev) })

	b.Publish(Event{Topic: TopicTurnChanged, Payload: 3})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	require.Equal(t, 3, first[0].Payload)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := New()

	var got []Event
	b.Subscribe(TopicKOComplete, func(ev Event) { got = append(got, ev) })

	b.Publish(Event{Topic: TopicCaptureShake})
	require.Empty(t, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()

	calls := 0
	unsub := b.Subscribe(TopicBattleMessage, func(Event) { calls++ })

	b.Publish(Event{Topic: TopicBattleMessage})
	unsub()
	b.Publish(Event{Topic: TopicBattleMessage})

	require.Equal(t, 1, calls)
}

func TestBus_SubscriberMayUnsubscribeDuringPublish(t *testing.T) {
	b := New()

	var unsub func()
	unsub = b.Subscribe(TopicSessionEnded, func(Event) { unsub() })

	b.Publish(Event{Topic: TopicSessionEnded})
	b.Publish(Event{Topic: TopicSessionEnded})
}
