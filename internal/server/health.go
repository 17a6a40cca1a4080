package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable, satisfied by
// postgres.Pool.
type Pinger interface {
	Health(ctx context.Context, timeout time.Duration) error
}

const healthPingTimeout = 5 * time.Second

// HealthChecker pings the database on a fixed interval so lost connectivity
// shows up in the logs before a player request trips over it.
type HealthChecker struct {
	pinger   Pinger
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewHealthChecker creates a health checker pinging p every interval.
//
// Precondition: p and logger must be non-nil; interval must be positive.
func NewHealthChecker(p Pinger, interval time.Duration, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		pinger:   p,
		interval: interval,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ping loop, blocking until Stop is called. Ping failures are
// logged, never fatal; the store may recover on its own.
func (h *HealthChecker) Start() error {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.pinger.Health(context.Background(), healthPingTimeout); err != nil {
				h.logger.Warn("database health check failed", zap.Error(err))
			} else {
				h.logger.Debug("database health check ok")
			}
		case <-h.quit:
			return nil
		}
	}
}

// Stop ends the ping loop and waits for it to exit. Safe to call more than
// once.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
	})
	<-h.done
}
