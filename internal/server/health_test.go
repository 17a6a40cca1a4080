package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePinger struct {
	calls atomic.Int32
	err   error
}

func (f *fakePinger) Health(ctx context.Context, timeout time.Duration) error {
	f.calls.Add(1)
	return f.err
}

func TestHealthChecker_PingsOnInterval(t *testing.T) {
	p := &fakePinger{}
	h := NewHealthChecker(p, 5*time.Millisecond, zap.NewNop())

	go func() { _ = h.Start() }()
	require.Eventually(t, func() bool {
		return p.calls.Load() >= 3
	}, time.Second, time.Millisecond)

	h.Stop()
}

func TestHealthChecker_StopEndsPinging(t *testing.T) {
	p := &fakePinger{err: errors.New("connection refused")}
	h := NewHealthChecker(p, 5*time.Millisecond, zap.NewNop())

	go func() { _ = h.Start() }()
	require.Eventually(t, func() bool {
		return p.calls.Load() >= 1
	}, time.Second, time.Millisecond)

	h.Stop()
	after := p.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, p.calls.Load())

	// Stop is idempotent.
	h.Stop()
}
