package pool

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

const relay1 = "wss://r1.example.com"
const relay2 = "wss://r2.example.com"

func newTestPool(t *testing.T) (*Pool, *fakeNet, *Metrics) {
	t.Helper()
	net := newFakeNet()
	metrics := NewMetrics(prometheus.NewRegistry())
	p := New(net.dial, WithMetrics(metrics), WithDialTimeout(time.Second), WithMaxConcurrentDials(2))
	t.Cleanup(p.Close)
	return p, net, metrics
}

func TestSubscribeSendsReqOnConnect(t *testing.T) {
	p, net, metrics := newTestPool(t)

	filters := nostr.Filters{{Kinds: []int{1}, Limit: 20}}
	sub := p.Subscribe([]string{relay1 + "/"}, filters, nil)
	require.False(t, sub.IsInert())
	assert.Equal(t, []string{relay1}, sub.Relays())

	p.Connect()
	waitConnected(t, p, relay1)

	ft := net.last(t, relay1)
	require.Eventually(t, func() bool { return len(ft.reqs()) == 1 }, time.Second, 5*time.Millisecond)
	req := ft.reqs()[0]
	assert.Equal(t, sub.ID, req.SubscriptionID)
	assert.Equal(t, 20, req.Filters[0].Limit)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSubscriptions))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConnectedRelays))

	// Connect again must not dial a second transport
	p.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, net.dialCount(relay1))
}

func TestCloseTwiceIsNoop(t *testing.T) {
	p, net, metrics := newTestPool(t)

	sub := p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)

	sub.Close()
	sub.Close()
	p.CloseSubscription(sub.ID)
	p.CloseSubscription("unknown")

	require.Eventually(t, func() bool { return len(ft.closes()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{sub.ID}, ft.closes())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ActiveSubscriptions))
	assert.Empty(t, p.Subscriptions())
}

func TestEOSEDoesNotStopDelivery(t *testing.T) {
	p, net, _ := newTestPool(t)
	listener := &recordingListener{}
	p.AddListener(listener)

	sink := &eventSink{}
	sub := p.OpenSubscription("feed", map[string]nostr.Filters{relay1: {{Kinds: []int{1}}}}, sink.handle)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)

	ft.inbound <- eventFrame(t, "feed", textNote("e1", 1))
	ft.inbound <- []byte(`["EOSE","feed"]`)
	ft.inbound <- eventFrame(t, "feed", textNote("e2", 1))

	require.Eventually(t, func() bool { return len(sink.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1", "e2"}, sink.ids())
	assert.Equal(t, 1, listener.count(&listener.eose))
	assert.False(t, sub.IsClosed())
	assert.Empty(t, ft.closes())
}

func TestEventRouting(t *testing.T) {
	p, net, _ := newTestPool(t)

	named := &eventSink{}
	matching := &eventSink{}
	other := &eventSink{}
	elsewhere := &eventSink{}

	// The named subscription asks for kind 7 but the relay sends kind 1 anyway
	p.OpenSubscription("named", map[string]nostr.Filters{relay1: {{Kinds: []int{7}}}}, named.handle)
	p.OpenSubscription("matching", map[string]nostr.Filters{relay1: {{Kinds: []int{1}}}}, matching.handle)
	p.OpenSubscription("other", map[string]nostr.Filters{relay1: {{Kinds: []int{3}}}}, other.handle)
	p.OpenSubscription("elsewhere", map[string]nostr.Filters{relay2: {{Kinds: []int{1}}}}, elsewhere.handle)

	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)

	ft.inbound <- eventFrame(t, "named", textNote("e1", 1))

	require.Eventually(t, func() bool {
		return len(named.ids()) == 1 && len(matching.ids()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"e1"}, named.ids())
	assert.Equal(t, []string{"e1"}, matching.ids())
	assert.Empty(t, other.ids())
	assert.Empty(t, elsewhere.ids())
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	p, net, metrics := newTestPool(t)
	sink := &eventSink{}
	p.OpenSubscription("feed", map[string]nostr.Filters{relay1: {{Kinds: []int{1}}}}, sink.handle)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)

	ft.inbound <- []byte(`["EVENT","feed",{not json`)
	ft.inbound <- []byte(`["UNKNOWN"]`)
	ft.inbound <- eventFrame(t, "feed", textNote("e1", 1))

	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.MalformedFrames.WithLabelValues(relay1)))
	status, _ := p.Status(relay1)
	assert.Equal(t, StatusConnected, status)
}

func TestInertHandles(t *testing.T) {
	p, net, _ := newTestPool(t)

	tests := []struct {
		name    string
		relays  []string
		filters nostr.Filters
	}{
		{"no relays", nil, nostr.Filters{{Kinds: []int{1}}}},
		{"no filters", []string{relay1}, nil},
		{"only empty filters", []string{relay1}, nostr.Filters{{}}},
		{"invalid relay", []string{"https://nope"}, nostr.Filters{{Kinds: []int{1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := p.Subscribe(tt.relays, tt.filters, nil)
			require.NotNil(t, sub)
			assert.True(t, sub.IsInert())
			sub.Close()
			sub.Close()
		})
	}

	p.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, net.dialCount(relay1))
	assert.Empty(t, p.Subscriptions())
}

func TestDialFailureReportsError(t *testing.T) {
	p, net, metrics := newTestPool(t)
	listener := &recordingListener{}
	p.AddListener(listener)

	net.fail(relay1, errors.New("connection refused"))
	p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil)
	p.Connect()

	require.Eventually(t, func() bool { return listener.count(&listener.errors) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, listener.count(&listener.connecting))
	assert.Equal(t, 0, listener.count(&listener.connected))
	status, ok := p.Status(relay1)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Dials.WithLabelValues(relay1, "failure")))

	// A later Connect dials again
	net.fail(relay1, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	assert.Equal(t, 2, net.dialCount(relay1))
}

func TestReadErrorDisconnects(t *testing.T) {
	p, net, metrics := newTestPool(t)
	listener := &recordingListener{}
	p.AddListener(listener)

	p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)

	net.last(t, relay1).Close()

	require.Eventually(t, func() bool { return listener.count(&listener.disconnected) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, listener.count(&listener.errors))
	status, _ := p.Status(relay1)
	assert.Equal(t, StatusFailed, status)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ConnectedRelays))
}

func TestRenewFiltersResendsReq(t *testing.T) {
	p, net, _ := newTestPool(t)

	p.OpenSubscription("a", map[string]nostr.Filters{relay1: {{Kinds: []int{1}}}}, nil)
	p.OpenSubscription("b", map[string]nostr.Filters{relay2: {{Kinds: []int{1}}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)
	require.Eventually(t, func() bool { return len(ft.reqs()) == 1 }, time.Second, 5*time.Millisecond)

	p.RenewFilters("WSS://r1.example.com/")

	require.Eventually(t, func() bool { return len(ft.reqs()) == 2 }, time.Second, 5*time.Millisecond)
	for _, req := range ft.reqs() {
		assert.Equal(t, "a", req.SubscriptionID)
	}
}

func TestReplaceSubscriptionById(t *testing.T) {
	p, net, metrics := newTestPool(t)

	first := p.OpenSubscription("main-1", map[string]nostr.Filters{relay1: {{Kinds: []int{1}, Limit: 10}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)
	require.Eventually(t, func() bool { return len(ft.reqs()) == 1 }, time.Second, 5*time.Millisecond)

	second := p.OpenSubscription("main-1", map[string]nostr.Filters{relay1: {{Kinds: []int{1}, Limit: 50}}}, nil)
	assert.True(t, first.IsClosed())

	require.Eventually(t, func() bool { return len(ft.reqs()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"main-1"}, ft.closes())
	assert.Equal(t, 50, ft.reqs()[1].Filters[0].Limit)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ActiveSubscriptions))

	// Closing the replaced handle must not close the new subscription
	first.Close()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"main-1"}, ft.closes())
	assert.False(t, second.IsClosed())
}

func TestSendBeforeConnect(t *testing.T) {
	p, net, _ := newTestPool(t)

	ev := textNote("e1", 1)
	require.NoError(t, p.Send(&ev, []string{relay1}))

	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)
	require.Eventually(t, func() bool {
		for _, env := range ft.sentEnvelopes() {
			if e, ok := env.(*nostr.EventEnvelope); ok && e.Event.ID == "e1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, p.SendToRelay(relay2, []byte(`["AUTH",{}]`)), ErrRelayNotConnected)
	assert.NoError(t, p.SendToRelay(relay1, []byte(`["NOTICE","x"]`)))
}

func TestListenerFanOut(t *testing.T) {
	p, net, _ := newTestPool(t)
	first := &recordingListener{}
	second := &recordingListener{}
	p.AddListener(first)
	p.AddListener(second)

	p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	ft := net.last(t, relay1)

	ft.inbound <- []byte(`["AUTH","challenge-1"]`)
	ft.inbound <- []byte(`["OK","abc",true,""]`)
	ft.inbound <- []byte(`["CLOSED","x","auth-required: please"]`)

	for _, l := range []*recordingListener{first, second} {
		l := l
		require.Eventually(t, func() bool {
			return l.count(&l.auths) == 1 && l.count(&l.oks) == 1 && l.count(&l.closed) == 1
		}, time.Second, 5*time.Millisecond)
	}
	assert.Equal(t, []string{relay1 + "|challenge-1"}, first.auths)

	p.RemoveListener(second)
	ft.inbound <- []byte(`["OK","def",true,""]`)
	require.Eventually(t, func() bool { return first.count(&first.oks) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, second.count(&second.oks))
}

func TestResetAndDisconnect(t *testing.T) {
	p, net, _ := newTestPool(t)
	listener := &recordingListener{}
	p.AddListener(listener)

	sub := p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil)
	p.Connect()
	waitConnected(t, p, relay1)
	old := net.last(t, relay1)

	p.ResetRelays([]string{relay1})
	require.Eventually(t, func() bool { return net.dialCount(relay1) == 2 }, time.Second, 5*time.Millisecond)
	waitConnected(t, p, relay1)
	assert.True(t, old.isClosed())

	fresh := net.last(t, relay1)
	require.Eventually(t, func() bool { return len(fresh.reqs()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, sub.ID, fresh.reqs()[0].SubscriptionID)
	assert.Equal(t, 0, listener.count(&listener.disconnected))

	p.Disconnect()
	assert.True(t, sub.IsClosed())
	assert.Empty(t, p.Subscriptions())
	assert.Empty(t, p.RelayStatuses())
	assert.True(t, fresh.isClosed())
	assert.Equal(t, 1, listener.count(&listener.disconnected))
}

func TestClosedPoolRejectsWork(t *testing.T) {
	p, _, _ := newTestPool(t)
	p.Close()

	ev := textNote("e1", 1)
	assert.ErrorIs(t, p.Send(&ev, []string{relay1}), ErrPoolClosed)
	assert.True(t, p.Subscribe([]string{relay1}, nostr.Filters{{Kinds: []int{1}}}, nil).IsInert())
}
