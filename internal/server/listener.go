package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/config"
	"github.com/driftmoor/gameserver/internal/protocol"
)

// Listener accepts game-protocol TCP connections and serves each one on its
// own goroutine. Implements the Service interface.
type Listener struct {
	cfg     config.ServerConfig
	handler *Handler
	tracker *Tracker
	logger  *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewListener creates a TCP listener with the given configuration.
//
// Precondition: cfg must have a valid port; handler, tracker, and logger
// must be non-nil.
func NewListener(cfg config.ServerConfig, handler *Handler, tracker *Tracker, logger *zap.Logger) *Listener {
	return &Listener{
		cfg:     cfg,
		handler: handler,
		tracker: tracker,
		logger:  logger,
		quit:    make(chan struct{}),
	}
}

// Start binds the listen address and accepts connections until Stop is
// called. An accept failure on a single connection is logged and skipped;
// only Stop or a listening-socket failure ends the loop. Blocks until
// stopped.
func (l *Listener) Start() error {
	start := time.Now()

	listener, err := net.Listen("tcp", l.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", l.cfg.Addr(), err)
	}

	l.mu.Lock()
	l.listener = listener
	l.running = true
	l.mu.Unlock()

	l.logger.Info("game listener started",
		zap.String("addr", listener.Addr().String()),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			select {
			case <-l.quit:
				return nil
			default:
				l.logger.Error("accepting connection", zap.Error(err))
				continue
			}
		}

		l.wg.Add(1)
		go l.handleConn(raw)
	}
}

func (l *Listener) handleConn(raw net.Conn) {
	defer l.wg.Done()

	transport := newTCPTransport(raw, l.cfg.ReadTimeout, l.cfg.WriteTimeout)
	serveSession(l.quit, transport, l.handler, l.tracker, l.logger)
}

// Stop broadcasts a shutdown notice, disconnects every tracked connection,
// closes the listening socket, and waits for all session goroutines to
// finish.
//
// Postcondition: no session goroutines remain when this method returns.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}
	l.running = false

	close(l.quit)
	if l.listener != nil {
		l.listener.Close()
	}

	l.tracker.Shutdown(shutdownNotice())
	l.wg.Wait()

	l.logger.Info("game listener stopped")
}

// Addr returns the actual listening address, or empty string if not yet
// listening. Useful with port 0 in tests.
func (l *Listener) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener != nil {
		return l.listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether the accept loop is active.
func (l *Listener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// serveSession runs one client session over any transport: it registers the
// connection with the tracker, wires up release on disconnect, and blocks in
// the read loop until the session ends.
func serveSession(quit <-chan struct{}, transport frameTransport, handler *Handler, tracker *Tracker, logger *zap.Logger) {
	conn := NewConn(transport, logger)
	conn.release = func(c *Conn) {
		handler.Release(c)
		tracker.Remove(c)
	}
	tracker.Add(conn)

	logger.Info("client connected",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn.Serve(ctx, handler)
}

// shutdownNotice is the last envelope every client receives before the
// server disconnects it.
func shutdownNotice() protocol.Envelope {
	return protocol.Envelope{
		Action: "server_shutdown",
		Data:   map[string]any{"message": "Server is shutting down"},
	}
}
