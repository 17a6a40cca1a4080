// Package channel provides capacity-bounded client groups with a shared
// broadcast scope, and the registry that assigns connections to them.
package channel

import (
	"sync"

	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/protocol"
)

// Member is a connected client as seen by a channel. Connections implement
// this by embedding a Ref; the channel holds members without owning them.
type Member interface {
	// ID is the member's unique connection identifier.
	ID() string
	// Send delivers one envelope to the member. A failure affects only
	// this member.
	Send(env protocol.Envelope) error
	// Disconnect forcibly terminates the member's connection.
	Disconnect()
	// setChannel binds or clears the member's channel back-reference.
	setChannel(ch *Channel)
	// currentChannel returns the member's channel back-reference, if any.
	currentChannel() *Channel
}

// Ref is a connection's non-owning back-reference to its current channel.
// Embed it (by pointer or value receiver access) in a Member implementation;
// Join and Leave maintain it.
type Ref struct {
	mu sync.Mutex
	ch *Channel
}

func (r *Ref) setChannel(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ch = ch
}

func (r *Ref) currentChannel() *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ch
}

// Channel returns the channel the owning member currently belongs to, or nil.
func (r *Ref) Channel() *Channel {
	return r.currentChannel()
}

// Channel is a bounded group of members sharing a broadcast scope.
type Channel struct {
	id       int64
	capacity int
	logger   *zap.Logger

	mu      sync.Mutex
	members []Member
	live    bool
}

// newChannel is called by the Registry, which owns all channels.
func newChannel(id int64, capacity int, logger *zap.Logger) *Channel {
	return &Channel{
		id:       id,
		capacity: capacity,
		logger:   logger,
		live:     true,
	}
}

// ID returns the channel's identifier.
func (c *Channel) ID() int64 { return c.id }

// Capacity returns the channel's member limit.
func (c *Channel) Capacity() int { return c.capacity }

// Len returns the current member count.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.members)
}

// Join atomically checks capacity and, if there is room, adds m and binds its
// channel back-reference. Returns whether the member was admitted.
//
// Invariant: member count never exceeds capacity.
func (c *Channel) Join(m Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.live || len(c.members) >= c.capacity {
		return false
	}
	c.members = append(c.members, m)
	m.setChannel(c)
	return true
}

// Leave removes m if present and clears its channel back-reference.
// Calling Leave on a non-member is a no-op.
func (c *Channel) Leave(m Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.members {
		if existing == m {
			c.members = append(c.members[:i], c.members[i+1:]...)
			m.setChannel(nil)
			return
		}
	}
}

// Broadcast delivers env to every member except exclude (which may be nil).
// Membership is snapshotted first so no send happens under the channel lock;
// a member that joins before Broadcast is called is guaranteed delivery.
// A send failure to one member is logged and does not abort the rest.
func (c *Channel) Broadcast(env protocol.Envelope, exclude Member) {
	c.mu.Lock()
	targets := make([]Member, 0, len(c.members))
	for _, m := range c.members {
		if m != exclude {
			targets = append(targets, m)
		}
	}
	c.mu.Unlock()

	for _, m := range targets {
		if err := m.Send(env); err != nil {
			c.logger.Warn("broadcast send failed",
				zap.Int64("channel_id", c.id),
				zap.String("member_id", m.ID()),
				zap.Error(err),
			)
		}
	}
}

// Shutdown marks the channel non-live, disconnects every member, and clears
// membership. Used during full server shutdown or explicit channel teardown.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	members := c.members
	c.members = nil
	c.live = false
	for _, m := range members {
		m.setChannel(nil)
	}
	c.mu.Unlock()

	for _, m := range members {
		m.Disconnect()
	}
}

// IsLive reports whether the channel still accepts members.
func (c *Channel) IsLive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}
