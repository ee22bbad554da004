package pool

import (
	"context"
	"sync"
)

// RelayStatus is the per-relay connection status shown to operators
type RelayStatus int

const (
	StatusConnecting RelayStatus = iota
	StatusConnected
	StatusFailed
)

func (s RelayStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type frame struct {
	kind string
	data []byte
}

// relayConn owns one transport. Frames are queued in order and written by a
// single writer goroutine once the transport is connected.
type relayConn struct {
	url       string
	transport Transport
	ctx       context.Context
	cancel    context.CancelFunc

	// connected is guarded by the pool mutex
	connected bool

	qmu   sync.Mutex
	queue []frame
	wake  chan struct{}
}

func newRelayConn(parent context.Context, url string, t Transport) *relayConn {
	ctx, cancel := context.WithCancel(parent)
	return &relayConn{
		url:       url,
		transport: t,
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

func (rc *relayConn) enqueue(kind string, data []byte) {
	rc.qmu.Lock()
	rc.queue = append(rc.queue, frame{kind: kind, data: data})
	rc.qmu.Unlock()

	select {
	case rc.wake <- struct{}{}:
	default:
	}
}

func (rc *relayConn) drain() []frame {
	rc.qmu.Lock()
	defer rc.qmu.Unlock()
	frames := rc.queue
	rc.queue = nil
	return frames
}

func (rc *relayConn) shutdown() {
	rc.cancel()
	rc.transport.Close()
}
