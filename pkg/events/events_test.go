package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventNamespaceCreated, Namespace: "foo"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventNamespaceCreated, ev.Type)
			assert.Equal(t, "foo", ev.Namespace)
			assert.NotEmpty(t, ev.ID)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventNamespaceDeleted, Namespace: "foo"})
			<-fast
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}
	require.Len(t, slow, cap(slow))
	want := uint64(200 - cap(slow))
	require.Eventually(t, func() bool { return b.Dropped() == want }, time.Second, 5*time.Millisecond)
}

func TestEventTypeEnds(t *testing.T) {
	assert.True(t, EventNamespaceDeleting.Ends())
	assert.True(t, EventNamespaceDeleted.Ends())
	assert.False(t, EventNamespaceCreated.Ends())
	assert.False(t, EventNamespaceDeleteFailed.Ends())
}

func TestBrokerPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	for i := 0; i < 500; i++ {
		b.Publish(&Event{Type: EventNamespaceCreated})
	}
}
