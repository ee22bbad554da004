package health

import (
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

// Listener feeds relay pool events into a Tracker
type Listener struct {
	pool.BaseListener
	tracker *Tracker
}

func NewListener(t *Tracker) *Listener {
	return &Listener{tracker: t}
}

func (l *Listener) OnConnecting(relay string) {
	l.tracker.RecordConnectionAttempt(relay)
}

func (l *Listener) OnConnected(relay string) {
	l.tracker.RecordConnectionSuccess(relay)
}

func (l *Listener) OnError(relay string, err error) {
	l.tracker.RecordConnectionFailure(relay, err)
}

func (l *Listener) OnEvent(relay, _ string, _ *nostr.Event) {
	l.tracker.RecordEventReceived(relay)
}
