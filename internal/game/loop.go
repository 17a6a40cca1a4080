package game

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickFunc is invoked once per tick with the elapsed time since the previous
// tick started.
type TickFunc func(dt time.Duration)

// Loop drives the world update at a fixed tick rate, independent of client
// I/O timing. It implements the server Service interface: Start blocks until
// Stop is called, and Stop returns only after the loop goroutine has exited.
type Loop struct {
	interval time.Duration
	fn       TickFunc
	logger   *zap.Logger

	quit chan struct{}
	done chan struct{}

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
}

// NewLoop creates a stopped loop firing ticksPerSecond times per second.
//
// Precondition: ticksPerSecond must be > 0; fn must be non-nil.
func NewLoop(ticksPerSecond int, fn TickFunc, logger *zap.Logger) *Loop {
	if ticksPerSecond <= 0 {
		panic("game.NewLoop: ticksPerSecond must be > 0")
	}
	return &Loop{
		interval: time.Second / time.Duration(ticksPerSecond),
		fn:       fn,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Interval returns the configured tick interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// Start runs the tick loop until Stop is called. Each tick measures the time
// elapsed since the previous tick, runs the tick function, then sleeps for
// whatever remains of the interval. An overrunning tick clamps the sleep to
// zero; it never pushes the next tick further out, and time never runs
// backward.
func (l *Loop) Start() error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	defer close(l.done)

	l.logger.Info("update loop starting",
		zap.Duration("interval", l.interval),
	)

	last := time.Now()
	sleep := l.interval
	for {
		// Waiting on quit here bounds stop latency to one interval, and a
		// stop before the first tick fires is still clean.
		timer := time.NewTimer(sleep)
		select {
		case <-l.quit:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		tickStart := time.Now()
		dt := tickStart.Sub(last)
		if dt < 0 {
			dt = 0
		}
		last = tickStart

		l.fn(dt)

		sleep = l.interval - time.Since(tickStart)
		if sleep < 0 {
			l.logger.Debug("tick overran budget",
				zap.Duration("interval", l.interval),
				zap.Duration("overrun", -sleep),
			)
			sleep = 0
		}
	}
}

// Stop signals the loop to finish and waits for it to exit. Safe to call
// from any goroutine, and more than once. A loop stopped before any tick
// elapsed still stops cleanly.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.quit)
	})

	l.mu.Lock()
	started := l.running
	l.mu.Unlock()
	if started {
		<-l.done
	}
	l.logger.Info("update loop stopped")
}
