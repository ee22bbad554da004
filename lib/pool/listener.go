package pool

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

// Listener receives relay lifecycle and protocol events. Callbacks run on the
// relay's dial or read goroutine and must not block.
type Listener interface {
	OnConnecting(relay string)
	OnConnected(relay string)
	OnDisconnected(relay string)
	OnError(relay string, err error)
	OnAuth(relay, challenge string)
	OnOk(relay, eventID string, success bool, message string)
	OnEvent(relay, subID string, ev *nostr.Event)
	OnEOSE(relay, subID string)
	OnNotice(relay, message string)
	OnClosed(relay, subID, reason string)
}

// BaseListener implements every Listener method as a no-op, for embedding
type BaseListener struct{}

func (BaseListener) OnConnecting(string)                  {}
func (BaseListener) OnConnected(string)                   {}
func (BaseListener) OnDisconnected(string)                {}
func (BaseListener) OnError(string, error)                {}
func (BaseListener) OnAuth(string, string)                {}
func (BaseListener) OnOk(string, string, bool, string)    {}
func (BaseListener) OnEvent(string, string, *nostr.Event) {}
func (BaseListener) OnEOSE(string, string)                {}
func (BaseListener) OnNotice(string, string)              {}
func (BaseListener) OnClosed(string, string, string)      {}

type listenerSet struct {
	m *xsync.MapOf[Listener, struct{}]
}

func newListenerSet() listenerSet {
	return listenerSet{m: xsync.NewMapOf[Listener, struct{}]()}
}

func (s listenerSet) add(l Listener)    { s.m.Store(l, struct{}{}) }
func (s listenerSet) remove(l Listener) { s.m.Delete(l) }

func (s listenerSet) each(fn func(Listener)) {
	s.m.Range(func(l Listener, _ struct{}) bool {
		fn(l)
		return true
	})
}
