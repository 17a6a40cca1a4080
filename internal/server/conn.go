package server

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/channel"
	"github.com/driftmoor/gameserver/internal/protocol"
)

// ConnState tracks where a connection is in its session lifecycle.
type ConnState int32

const (
	// StateConnecting is the initial state after accept, before the read
	// loop starts.
	StateConnecting ConnState = iota
	// StateAuthenticating means the connection is reading frames but has
	// not logged in.
	StateAuthenticating
	// StateActive means the connection is authenticated and in a channel.
	StateActive
	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns a human-readable state name for logging.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Conn owns one accepted client connection: it reads frames, hands decoded
// envelopes to the Handler, and serializes outbound writes. Each Conn is
// served by exactly one goroutine; Send and Disconnect may be called from
// any goroutine.
type Conn struct {
	channel.Ref

	id        string
	transport frameTransport
	logger    *zap.Logger

	state atomic.Int32

	// authMu guards the identity fields set once at login.
	authMu   sync.Mutex
	userID   int64
	username string

	writeMu sync.Mutex

	closeOnce sync.Once
	// release unregisters the connection from the shared structures
	// (channel, registry, world, tracker). Set before Serve.
	release func(*Conn)
}

// NewConn wraps a transport in a connection with a fresh uuid identity.
//
// Precondition: transport and logger must be non-nil.
func NewConn(transport frameTransport, logger *zap.Logger) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		transport: transport,
		logger:    logger,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.transport.RemoteAddr() }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) setState(s ConnState) {
	c.state.Store(int32(s))
}

// SetAuthenticated records the logged-in user and moves the connection to
// Active. Called once, from the connection's own serve goroutine.
func (c *Conn) SetAuthenticated(userID int64, username string) {
	c.authMu.Lock()
	c.userID = userID
	c.username = username
	c.authMu.Unlock()
	c.setState(StateActive)
}

// User returns the authenticated user id and username. Both are zero before
// login.
func (c *Conn) User() (int64, string) {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.userID, c.username
}

// Send encodes and writes one envelope. Write failures are returned to the
// caller; they indicate the connection is no longer usable.
func (c *Conn) Send(env protocol.Envelope) error {
	frame, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encoding envelope for %s: %w", c.id, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.State() == StateDisconnected {
		return fmt.Errorf("connection %s is disconnected", c.id)
	}
	return c.transport.WriteFrame(frame)
}

// Serve runs the read loop until the peer disconnects, a frame read fails,
// or the connection is disconnected from elsewhere. Malformed frames are
// reported to the client and do not end the loop.
//
// Postcondition: the connection is disconnected and released.
func (c *Conn) Serve(ctx context.Context, h *Handler) {
	defer c.Disconnect()
	start := time.Now()
	c.setState(StateAuthenticating)

	for {
		frame, err := c.transport.ReadFrame()
		if err != nil {
			c.logger.Debug("read loop ended",
				zap.String("conn_id", c.id),
				zap.String("remote_addr", c.RemoteAddr()),
				zap.Error(err),
				zap.Duration("session_duration", time.Since(start)),
			)
			return
		}

		// Blank lines between frames are tolerated, not an error.
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.logger.Debug("malformed frame",
				zap.String("conn_id", c.id),
				zap.Error(err),
			)
			if sendErr := c.Send(protocol.Envelope{
				Data: map[string]any{"status": "error", "message": "Malformed message"},
			}); sendErr != nil {
				return
			}
			continue
		}

		h.Dispatch(ctx, c, env)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Disconnect closes the transport and unregisters the connection from the
// channel, registry, world state, and tracker. Idempotent: the second and
// later calls are no-ops.
func (c *Conn) Disconnect() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		_ = c.transport.Close()
		if c.release != nil {
			c.release(c)
		}
		c.logger.Info("client disconnected",
			zap.String("conn_id", c.id),
			zap.String("remote_addr", c.RemoteAddr()),
		)
	})
}
