package server

import (
	"sync"

	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/protocol"
)

// Tracker is the global set of live connections, across every channel and
// transport. The listener and the WebSocket gateway both register their
// connections here so global broadcasts and shutdown reach everyone.
type Tracker struct {
	logger *zap.Logger

	shutdownOnce sync.Once

	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewTracker creates an empty connection tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		logger: logger,
		conns:  make(map[string]*Conn),
	}
}

// Add registers a connection.
func (t *Tracker) Add(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID()] = c
}

// Remove unregisters a connection. Safe to call for an unknown connection.
func (t *Tracker) Remove(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c.ID())
}

// Count returns the number of tracked connections.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// BroadcastAll delivers one envelope to every tracked connection regardless
// of channel. Sends happen outside the lock; a failure affects only that
// connection.
func (t *Tracker) BroadcastAll(env protocol.Envelope) {
	t.mu.RLock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(env); err != nil {
			t.logger.Debug("global broadcast send failed",
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
		}
	}
}

// Shutdown broadcasts a final notice and disconnects every tracked
// connection. The listener and the WebSocket gateway both call this on
// stop; only the first call does anything, so clients get one notice no
// matter which service stops first.
func (t *Tracker) Shutdown(notice protocol.Envelope) {
	t.shutdownOnce.Do(func() {
		t.BroadcastAll(notice)
		t.DisconnectAll()
	})
}

// DisconnectAll forcibly disconnects every tracked connection. Used during
// server shutdown after the shutdown notice has been broadcast.
func (t *Tracker) DisconnectAll() {
	t.mu.Lock()
	conns := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*Conn)
	t.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}
