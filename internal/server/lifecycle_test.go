package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingService logs start/stop order into a shared slice.
type recordingService struct {
	name   string
	log    *[]string
	mu     *sync.Mutex
	stopCh chan struct{}
	err    error
}

func newRecordingService(name string, log *[]string, mu *sync.Mutex) *recordingService {
	return &recordingService{name: name, log: log, mu: mu, stopCh: make(chan struct{})}
}

func (s *recordingService) Start() error {
	s.mu.Lock()
	*s.log = append(*s.log, "start:"+s.name)
	s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	<-s.stopCh
	return nil
}

func (s *recordingService) Stop() {
	s.mu.Lock()
	*s.log = append(*s.log, "stop:"+s.name)
	s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func TestLifecycle_StopsInReverseOrder(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	a := newRecordingService("a", &log, &mu)
	b := newRecordingService("b", &log, &mu)

	l := NewLifecycle(zap.NewNop())
	l.Add("a", a)
	l.Add("b", b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Let both services start, then trigger shutdown.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(log) == 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not shut down")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, log, 4)
	assert.Equal(t, "stop:b", log[2], "dependents stop before dependencies")
	assert.Equal(t, "stop:a", log[3])
}

func TestLifecycle_ServiceFailureTriggersShutdown(t *testing.T) {
	var (
		log []string
		mu  sync.Mutex
	)
	healthy := newRecordingService("healthy", &log, &mu)
	broken := newRecordingService("broken", &log, &mu)
	broken.err = errors.New("bind failed")

	l := NewLifecycle(zap.NewNop())
	l.Add("healthy", healthy)
	l.Add("broken", broken)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle did not shut down after service failure")
	}
}
