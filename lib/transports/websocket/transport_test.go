package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

// newEchoRelay answers every REQ with EOSE and everything else with a NOTICE
func newEchoRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/nostr+json" {
			w.Header().Set("Content-Type", "application/nostr+json")
			w.Write([]byte(`{"name":"test relay","supported_nips":[1,11,42],"limitation":{"auth_required":true}}`))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := nostr.ParseFrame(data)
			if err != nil {
				conn.WriteMessage(websocket.TextMessage, []byte(`["NOTICE","bad frame"]`))
				continue
			}
			if req, ok := env.(*nostr.ReqEnvelope); ok {
				conn.WriteMessage(websocket.TextMessage, []byte(`["EOSE","`+req.SubscriptionID+`"]`))
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte(`["NOTICE","`+env.Label()+`"]`))
		}
	}))
	t.Cleanup(srv.Close)

	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTransportRoundTrip(t *testing.T) {
	_, url := newEchoRelay(t)
	transport := New(url, Options{PingInterval: 50 * time.Millisecond})
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, transport.Connect(ctx))
	assert.Equal(t, url, transport.URL())

	req, err := nostr.EncodeReq("sub1", nostr.Filters{{Kinds: []int{1}, Limit: 1}})
	require.NoError(t, err)
	require.NoError(t, transport.Send(ctx, req))

	frame, err := transport.Read(ctx)
	require.NoError(t, err)
	env, err := nostr.ParseFrame(frame)
	require.NoError(t, err)
	eose, ok := env.(*nostr.EOSEEnvelope)
	require.True(t, ok)
	assert.Equal(t, "sub1", string(*eose))

	require.NoError(t, transport.Send(ctx, []byte(`not a frame`)))
	frame, err = transport.Read(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `["NOTICE","bad frame"]`, string(frame))
}

func TestCloseUnblocksRead(t *testing.T) {
	_, url := newEchoRelay(t)
	transport := New(url, Options{})

	require.NoError(t, transport.Connect(context.Background()))

	errs := make(chan error, 1)
	go func() {
		_, err := transport.Read(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, transport.Close())
	transport.Close()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return after close")
	}
}

func TestConnectFailure(t *testing.T) {
	transport := New("ws://127.0.0.1:1", Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, transport.Connect(ctx))
	assert.ErrorIs(t, transport.Send(ctx, []byte("x")), ErrNotConnected)
	_, err := transport.Read(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, transport.Close())
}

func TestPoolOverWebsocket(t *testing.T) {
	_, url := newEchoRelay(t)

	p := pool.New(NewDialer(Options{}))
	defer p.Close()

	eose := make(chan string, 1)
	p.AddListener(&eoseListener{ch: eose})

	sub := p.Subscribe([]string{url}, nostr.Filters{nostr.ProbeFilter()}, nil)
	p.Connect()

	select {
	case id := <-eose:
		assert.Equal(t, sub.ID, id)
	case <-time.After(3 * time.Second):
		t.Fatal("no EOSE from relay")
	}
}

type eoseListener struct {
	pool.BaseListener
	ch chan string
}

func (l *eoseListener) OnEOSE(_ string, subID string) {
	select {
	case l.ch <- subID:
	default:
	}
}

func TestFetchRelayInfo(t *testing.T) {
	_, url := newEchoRelay(t)

	info, err := FetchRelayInfo(url, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "test relay", info.Name)
	assert.True(t, info.SupportsNIP(42))
	assert.False(t, info.SupportsNIP(50))
	require.NotNil(t, info.Limitation)
	assert.True(t, info.Limitation.AuthRequired)

	assert.Equal(t, "https://relay.example.com", InfoURL("wss://relay.example.com"))
	assert.Equal(t, "http://127.0.0.1:80", InfoURL("ws://127.0.0.1:80"))
}
