package manager

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscription(connectionID, operationID string) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		ConnectionID: connectionID,
		OperationID:  operationID,
		Context:      ctx,
		CancelFunc:   cancel,
	}
}

func TestSubscribeRejectsDuplicateID(t *testing.T) {
	m := NewManager()

	first := newTestSubscription("c1", "1")
	require.NoError(t, m.Subscribe(first))

	err := m.Subscribe(newTestSubscription("c1", "1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subscriber for 1 already exists")

	// the first registration is undisturbed
	assert.True(t, m.HasSubscription("1"))
	select {
	case <-first.Context.Done():
		t.Fatal("first subscription was cancelled by the duplicate")
	default:
	}
}

func TestUnsubscribeCancelsAndReleases(t *testing.T) {
	m := NewManager()

	sub := newTestSubscription("c1", "1")
	require.NoError(t, m.Subscribe(sub))

	removed := m.Unsubscribe("1")
	require.Same(t, sub, removed)

	select {
	case <-sub.Context.Done():
	default:
		t.Fatal("unsubscribe did not cancel the operation context")
	}

	// id is immediately reusable
	assert.False(t, m.HasSubscription("1"))
	assert.NoError(t, m.Subscribe(newTestSubscription("c1", "1")))
}

func TestUnsubscribeUnknownID(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Unsubscribe("missing"))
}

func TestUnsubscribeOwned(t *testing.T) {
	m := NewManager()

	old := newTestSubscription("c1", "1")
	require.NoError(t, m.Subscribe(old))
	require.NotNil(t, m.Unsubscribe("1"))

	// a successor reuses the id before the old operation's deferred
	// cleanup runs
	successor := newTestSubscription("c1", "1")
	require.NoError(t, m.Subscribe(successor))

	assert.False(t, m.UnsubscribeOwned(old))
	assert.True(t, m.HasSubscription("1"))
	select {
	case <-successor.Context.Done():
		t.Fatal("stale cleanup cancelled the successor")
	default:
	}

	assert.True(t, m.UnsubscribeOwned(successor))
	assert.False(t, m.HasSubscription("1"))
}

func TestSubscriptionCount(t *testing.T) {
	m := NewManager()

	require.NoError(t, m.Subscribe(newTestSubscription("c1", "1")))
	require.NoError(t, m.Subscribe(newTestSubscription("c1", "2")))
	require.NoError(t, m.Subscribe(newTestSubscription("c2", "3")))

	assert.Equal(t, 3, m.SubscriptionCount())
	assert.Equal(t, 2, m.SubscriptionCount("c1"))
	assert.Equal(t, 1, m.SubscriptionCount("c2"))
	assert.Equal(t, 0, m.SubscriptionCount("c3"))
}

func TestOperationIDs(t *testing.T) {
	m := NewManager()

	for _, id := range []string{"b", "c", "a"} {
		require.NoError(t, m.Subscribe(newTestSubscription("c1", id)))
	}

	assert.Equal(t, []string{"a", "b", "c"}, m.OperationIDs())
}

func TestUnsubscribeAll(t *testing.T) {
	m := NewManager()

	subs := make([]*Subscription, 0, 3)
	for i := 0; i < 3; i++ {
		sub := newTestSubscription("c1", fmt.Sprintf("%d", i))
		subs = append(subs, sub)
		require.NoError(t, m.Subscribe(sub))
	}

	m.UnsubscribeAll()

	assert.Equal(t, 0, m.SubscriptionCount())
	for _, sub := range subs {
		select {
		case <-sub.Context.Done():
		default:
			t.Fatalf("subscription %s was not cancelled", sub.OperationID)
		}
	}
}

func TestSubscribeRace(t *testing.T) {
	m := NewManager()

	const attempts = 64
	var wg sync.WaitGroup
	var winners int32
	var mx sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Subscribe(newTestSubscription("c1", "contended")); err == nil {
				mx.Lock()
				winners++
				mx.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners)
	assert.Equal(t, 1, m.SubscriptionCount())
}

func TestSubscribeUnsubscribeInterleaved(t *testing.T) {
	m := NewManager()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := newTestSubscription("c1", "flappy")
			if err := m.Subscribe(sub); err == nil {
				m.UnsubscribeOwned(sub)
			}
		}()
	}
	wg.Wait()

	// every winner removed itself, so the id must be free again
	assert.False(t, m.HasSubscription("flappy"))
	assert.Equal(t, 0, m.SubscriptionCount())
}
