package channel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry owns every channel in the process. It hands out monotonically
// increasing channel ids and serialises all compound operations, so a
// scan-for-capacity and a create-new-channel are atomic against concurrent
// assignments.
type Registry struct {
	capacity int
	logger   *zap.Logger

	mu       sync.Mutex
	channels map[int64]*Channel
	nextID   int64
}

// NewRegistry creates an empty registry whose channels admit at most
// capacity members each.
//
// Precondition: capacity must be > 0.
func NewRegistry(capacity int, logger *zap.Logger) *Registry {
	if capacity <= 0 {
		panic("channel.NewRegistry: capacity must be > 0")
	}
	return &Registry{
		capacity: capacity,
		logger:   logger,
		channels: make(map[int64]*Channel),
		nextID:   1,
	}
}

// Create makes a new empty channel and registers it.
func (r *Registry) Create() *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createLocked()
}

func (r *Registry) createLocked() *Channel {
	ch := newChannel(r.nextID, r.capacity, r.logger)
	r.channels[ch.ID()] = ch
	r.nextID++

	r.logger.Info("channel created",
		zap.Int64("channel_id", ch.ID()),
		zap.Int("capacity", r.capacity),
	)
	return ch
}

// Get returns the channel with the given id.
func (r *Registry) Get(id int64) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Assign places m into the first existing channel with free capacity, or a
// newly created one if every channel is full. The scan and the creation are
// atomic with respect to other Assign and Remove calls.
//
// Postcondition: on success m belongs to exactly one channel.
func (r *Registry) Assign(m Member) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// First fit. Channels are large relative to typical party sizes, so no
	// attempt is made at balancing.
	for _, ch := range r.channels {
		if ch.Join(m) {
			return ch, nil
		}
	}

	ch := r.createLocked()
	if !ch.Join(m) {
		// A freshly created channel rejecting a join means the capacity
		// configuration is broken, not a transient race.
		delete(r.channels, ch.ID())
		return nil, fmt.Errorf("assigning member %s: new channel %d refused join", m.ID(), ch.ID())
	}
	return ch, nil
}

// Remove takes m out of whatever channel it belongs to. A channel left with
// zero members is deleted from the registry and is no longer retrievable.
// Safe to call for a member with no channel.
func (r *Registry) Remove(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := m.currentChannel()
	if ch == nil {
		return
	}
	ch.Leave(m)
	if ch.Len() == 0 {
		delete(r.channels, ch.ID())
		r.logger.Info("empty channel removed",
			zap.Int64("channel_id", ch.ID()),
		)
	}
}

// Shutdown tears down every channel, disconnecting all members.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.channels = make(map[int64]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Shutdown()
	}
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}
