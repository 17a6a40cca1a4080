package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/config"
)

// WSGateway exposes the game protocol over WebSocket for browser clients.
// Upgraded connections go through the same Handler and Tracker as TCP ones,
// so channels, broadcasts, and shutdown treat both transports alike.
// Implements the Service interface.
type WSGateway struct {
	cfg     config.WebsocketConfig
	handler *Handler
	tracker *Tracker
	logger  *zap.Logger

	upgrader websocket.Upgrader
	srv      *http.Server
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewWSGateway creates a WebSocket gateway with the given configuration.
//
// Precondition: cfg must have a valid port; handler, tracker, and logger
// must be non-nil.
func NewWSGateway(cfg config.WebsocketConfig, handler *Handler, tracker *Tracker, logger *zap.Logger) *WSGateway {
	return &WSGateway{
		cfg:     cfg,
		handler: handler,
		tracker: tracker,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The game protocol carries its own authentication; origin
			// policy is left to the deployment's proxy layer.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit: make(chan struct{}),
	}
}

// Start runs the HTTP upgrade server until Stop is called. Blocks until
// stopped.
func (g *WSGateway) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)

	g.mu.Lock()
	g.srv = &http.Server{
		Addr:    g.cfg.Addr(),
		Handler: mux,
	}
	srv := g.srv
	g.running = true
	g.mu.Unlock()

	g.logger.Info("websocket gateway started",
		zap.String("addr", g.cfg.Addr()),
	)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *WSGateway) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	g.wg.Add(1)
	defer g.wg.Done()

	transport := newWSTransport(ws, 10*time.Second)
	serveSession(g.quit, transport, g.handler, g.tracker, g.logger)
}

// Stop delivers the shutdown notice through the shared tracker, shuts down
// the HTTP server, and waits for active sessions to end.
func (g *WSGateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.running {
		return
	}
	g.running = false

	close(g.quit)
	g.tracker.Shutdown(shutdownNotice())
	if g.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.srv.Shutdown(ctx); err != nil {
			g.logger.Warn("websocket gateway shutdown", zap.Error(err))
		}
	}
	g.wg.Wait()

	g.logger.Info("websocket gateway stopped")
}
