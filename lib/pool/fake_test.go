package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

var errTransportClosed = errors.New("transport closed")

type fakeTransport struct {
	url        string
	connectErr error
	inbound    chan []byte
	closed     chan struct{}
	closeOnce  sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport(url string, connectErr error) *fakeTransport {
	return &fakeTransport{
		url:        url,
		connectErr: connectErr,
		inbound:    make(chan []byte, 64),
		closed:     make(chan struct{}),
	}
}

func (f *fakeTransport) URL() string { return f.url }

func (f *fakeTransport) Connect(ctx context.Context) error {
	return f.connectErr
}

func (f *fakeTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-f.closed:
		return nil, errTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// sentEnvelopes parses every frame written so far
func (f *fakeTransport) sentEnvelopes() []nostr.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]nostr.Envelope, 0, len(f.sent))
	for _, raw := range f.sent {
		env, err := nostr.ParseFrame(raw)
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (f *fakeTransport) reqs() []*nostr.ReqEnvelope {
	var out []*nostr.ReqEnvelope
	for _, env := range f.sentEnvelopes() {
		if req, ok := env.(*nostr.ReqEnvelope); ok {
			out = append(out, req)
		}
	}
	return out
}

func (f *fakeTransport) closes() []string {
	var out []string
	for _, env := range f.sentEnvelopes() {
		if c, ok := env.(*nostr.CloseEnvelope); ok {
			out = append(out, string(*c))
		}
	}
	return out
}

type fakeNet struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
	failing    map[string]error
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		transports: make(map[string][]*fakeTransport),
		failing:    make(map[string]error),
	}
}

func (n *fakeNet) dial(url string) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := newFakeTransport(url, n.failing[url])
	n.transports[url] = append(n.transports[url], t)
	return t
}

func (n *fakeNet) fail(url string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failing[url] = err
}

func (n *fakeNet) dialCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transports[url])
}

func (n *fakeNet) last(t *testing.T, url string) *fakeTransport {
	t.Helper()
	var ft *fakeTransport
	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		list := n.transports[url]
		if len(list) == 0 {
			return false
		}
		ft = list[len(list)-1]
		return true
	}, time.Second, 5*time.Millisecond)
	return ft
}

type recordingListener struct {
	BaseListener

	mu           sync.Mutex
	connecting   []string
	connected    []string
	disconnected []string
	errors       []string
	eose         []string
	closed       []string
	oks          []string
	auths        []string
}

func (r *recordingListener) OnConnecting(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connecting = append(r.connecting, url)
}

func (r *recordingListener) OnConnected(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, url)
}

func (r *recordingListener) OnDisconnected(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, url)
}

func (r *recordingListener) OnError(url string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, url)
}

func (r *recordingListener) OnEOSE(url, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eose = append(r.eose, subID)
}

func (r *recordingListener) OnClosed(url, subID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, subID+":"+reason)
}

func (r *recordingListener) OnOk(url, id string, ok bool, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oks = append(r.oks, id)
}

func (r *recordingListener) OnAuth(url, challenge string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auths = append(r.auths, url+"|"+challenge)
}

func (r *recordingListener) count(field *[]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(*field)
}

type eventSink struct {
	mu     sync.Mutex
	events []string
}

func (s *eventSink) handle(relay string, ev *nostr.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev.ID)
}

func (s *eventSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func eventFrame(t *testing.T, subID string, ev nostr.Event) []byte {
	t.Helper()
	raw, err := jsoniter.Marshal(nostr.EventEnvelope{SubscriptionID: &subID, Event: ev})
	require.NoError(t, err)
	return raw
}

func textNote(id string, kind int) nostr.Event {
	return nostr.Event{
		ID:        id,
		PubKey:    "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798",
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      nostr.Tags{},
		Content:   "hello",
		Sig:       "00",
	}
}

func waitConnected(t *testing.T, p *Pool, url string) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, ok := p.Status(url)
		return ok && s == StatusConnected
	}, time.Second, 5*time.Millisecond)
}
