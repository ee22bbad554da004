package network

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReactor struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReactor) NetworkLost() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "lost")
}

func (r *recordingReactor) NetworkAvailable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "available")
}

func (r *recordingReactor) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestCheckReportsTransitions(t *testing.T) {
	reactor := &recordingReactor{}
	var online atomic.Bool
	online.Store(true)

	w := NewWatcher(reactor, WithProbe(online.Load))

	w.Check()
	w.Check()
	assert.Empty(t, reactor.get())
	assert.True(t, w.Online())

	online.Store(false)
	w.Check()
	w.Check()
	online.Store(true)
	w.Check()

	assert.Equal(t, []string{"lost", "available"}, reactor.get())
}

func TestRunPolls(t *testing.T) {
	reactor := &recordingReactor{}
	var online atomic.Bool
	online.Store(true)

	w := NewWatcher(reactor, WithProbe(online.Load), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	online.Store(false)
	require.Eventually(t, func() bool { return len(reactor.get()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, []string{"lost"}, reactor.get())
}
