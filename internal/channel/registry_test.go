package channel

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry_AssignCreatesFirstChannel(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	m := newFakeMember("m1")

	ch, err := r.Assign(m)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ch.ID())
	assert.Equal(t, 1, r.Count())
	assert.Same(t, ch, m.Channel())
}

func TestRegistry_AssignReusesChannelWithRoom(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())

	ch1, err := r.Assign(newFakeMember("m1"))
	require.NoError(t, err)
	ch2, err := r.Assign(newFakeMember("m2"))
	require.NoError(t, err)

	assert.Same(t, ch1, ch2)
	assert.Equal(t, 1, r.Count())
}

// With capacity 1, the second assignment must land in a new channel rather
// than overflow the first.
func TestRegistry_AssignOverflowsToNewChannel(t *testing.T) {
	r := NewRegistry(1, zap.NewNop())

	ch1, err := r.Assign(newFakeMember("m1"))
	require.NoError(t, err)
	ch2, err := r.Assign(newFakeMember("m2"))
	require.NoError(t, err)

	assert.NotEqual(t, ch1.ID(), ch2.ID())
	assert.Equal(t, 1, ch1.Len())
	assert.Equal(t, 1, ch2.Len())
}

func TestRegistry_RemoveDeletesEmptyChannel(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	m := newFakeMember("m1")

	ch, err := r.Assign(m)
	require.NoError(t, err)
	id := ch.ID()

	r.Remove(m)

	_, ok := r.Get(id)
	assert.False(t, ok, "empty channel must no longer be retrievable")
	assert.Equal(t, 0, r.Count())
	assert.Nil(t, m.Channel())
}

func TestRegistry_RemoveKeepsPopulatedChannel(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	m1 := newFakeMember("m1")
	m2 := newFakeMember("m2")
	_, err := r.Assign(m1)
	require.NoError(t, err)
	ch, err := r.Assign(m2)
	require.NoError(t, err)

	r.Remove(m1)

	got, ok := r.Get(ch.ID())
	require.True(t, ok)
	assert.Equal(t, 1, got.Len())
}

func TestRegistry_RemoveWithoutChannelIsNoOp(t *testing.T) {
	r := NewRegistry(4, zap.NewNop())
	r.Remove(newFakeMember("loose"))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ShutdownDisconnectsEveryone(t *testing.T) {
	r := NewRegistry(1, zap.NewNop())
	m1 := newFakeMember("m1")
	m2 := newFakeMember("m2")
	_, err := r.Assign(m1)
	require.NoError(t, err)
	_, err = r.Assign(m2)
	require.NoError(t, err)

	r.Shutdown()

	assert.Equal(t, 0, r.Count())
	assert.True(t, m1.isDisconnected())
	assert.True(t, m2.isDisconnected())
}

// Concurrent assignments must never overfill a channel, and every member must
// end up in exactly one channel.
func TestRegistry_ConcurrentAssign(t *testing.T) {
	const clients = 64
	capacity := 5
	r := NewRegistry(capacity, zap.NewNop())

	members := make([]*fakeMember, clients)
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for i := 0; i < clients; i++ {
		members[i] = newFakeMember(fmt.Sprintf("m%d", i))
		wg.Add(1)
		go func(m *fakeMember) {
			defer wg.Done()
			if _, err := r.Assign(m); err != nil {
				errs <- err
			}
		}(members[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("assign failed: %v", err)
	}

	total := 0
	for id := int64(1); id < int64(r.nextID); id++ {
		ch, ok := r.Get(id)
		if !ok {
			continue
		}
		n := ch.Len()
		assert.LessOrEqual(t, n, capacity, "channel %d over capacity", id)
		total += n
	}
	assert.Equal(t, clients, total)

	for _, m := range members {
		require.NotNil(t, m.Channel(), "member %s has no channel", m.ID())
	}
}

// Concurrent assigns and removes leave the registry consistent: surviving
// channels are non-empty and within capacity.
func TestRegistry_ConcurrentAssignAndRemove(t *testing.T) {
	const clients = 48
	r := NewRegistry(3, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := newFakeMember(fmt.Sprintf("m%d", i))
			if _, err := r.Assign(m); err != nil {
				t.Errorf("assign: %v", err)
				return
			}
			if i%2 == 0 {
				r.Remove(m)
			}
		}(i)
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.channels {
		n := ch.Len()
		assert.Greater(t, n, 0, "channel %d kept while empty", id)
		assert.LessOrEqual(t, n, 3, "channel %d over capacity", id)
		assert.Equal(t, id, ch.ID(), "registry key must equal channel id")
	}
}
