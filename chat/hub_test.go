package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHubDeliversIndependentCopiesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(8)
	a := hub.Subscribe("m1")
	b := hub.Subscribe("m1")
	other := hub.Subscribe("m2")
	defer other.Cancel()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, hub.Publish(context.Background(), Message{MatchID: "m1", Seq: i}))
	}

	for _, sub := range []*Subscription{a, b} {
		for want := int64(1); want <= 3; want++ {
			got := <-sub.Messages()
			assert.Equal(t, want, got.Seq)
		}
	}
	assert.Len(t, other.Messages(), 0, "other matches receive nothing")

	a.Cancel()
	b.Cancel()
	assert.Equal(t, 0, hub.Subscribers("m1"))
}

func TestHubCancelIsIdempotentAndClosesChannel(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe("m1")

	sub.Cancel()
	sub.Cancel()

	_, open := <-sub.Messages()
	assert.False(t, open)
	hub.Deliver(Message{MatchID: "m1"})
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub(2)
	slow := hub.Subscribe("m1")
	fast := hub.Subscribe("m1")
	defer fast.Cancel()

	for i := int64(0); i < 5; i++ {
		hub.Deliver(Message{MatchID: "m1", Seq: i})
		got := <-fast.Messages()
		assert.Equal(t, i, got.Seq)
	}

	drained := 0
	for range slow.Messages() {
		drained++
	}
	assert.Equal(t, 2, drained, "slow subscriber keeps only what fit before it was dropped")
	assert.Equal(t, 1, hub.Subscribers("m1"))
}

func TestHubCloseDropsEveryone(t *testing.T) {
	hub := NewHub(1)
	s1 := hub.Subscribe("a")
	s2 := hub.Subscribe("b")
	hub.Close()

	_, ok1 := <-s1.Messages()
	_, ok2 := <-s2.Messages()
	assert.False(t, ok1)
	assert.False(t, ok2)
	s1.Cancel()
}
