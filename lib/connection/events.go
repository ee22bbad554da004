package connection

import (
	"sync"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

// event is anything the machine loop consumes
type event interface {
	isEvent()
}

type connectRequested struct{ urls []string }
type feedChangeRequested struct {
	urls    []string
	filters nostr.Filters
}
type retryRequested struct{}
type disconnectRequested struct{}
type failureReported struct{ reason string }
type networkLost struct{}
type networkAvailable struct{}
type keepaliveTick struct{}
type graceElapsed struct{ gen uint64 }
type retryDue struct{ gen uint64 }
type relayConnecting struct{ url string }
type relayConnected struct{ url string }
type relayFailed struct {
	url string
	err error
}
type relayDisconnected struct{ url string }
type barrier struct{ done chan struct{} }

func (connectRequested) isEvent()    {}
func (feedChangeRequested) isEvent() {}
func (retryRequested) isEvent()      {}
func (disconnectRequested) isEvent() {}
func (failureReported) isEvent()     {}
func (networkLost) isEvent()         {}
func (networkAvailable) isEvent()    {}
func (keepaliveTick) isEvent()       {}
func (graceElapsed) isEvent()        {}
func (retryDue) isEvent()            {}
func (relayConnecting) isEvent()     {}
func (relayConnected) isEvent()      {}
func (relayFailed) isEvent()         {}
func (relayDisconnected) isEvent()   {}
func (barrier) isEvent()             {}

// queue is an unbounded FIFO so producers never block, including pool
// listeners invoked from the loop goroutine itself
type queue struct {
	mu     sync.Mutex
	events []event
	wake   chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(ev event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}
