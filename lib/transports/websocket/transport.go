// Package websocket implements the relay transport over gorilla/websocket.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

var ErrNotConnected = errors.New("websocket transport not connected")

const (
	defaultReadLimit = 4 << 20
	closeGrace       = time.Second
)

type Options struct {
	Header       http.Header
	ReadLimit    int64
	PingInterval time.Duration
	Dialer       *websocket.Dialer
}

// Transport is a single client connection to a relay
type Transport struct {
	url  string
	opts Options

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewDialer returns a pool.Dialer creating websocket transports with opts
func NewDialer(opts Options) pool.Dialer {
	return func(url string) pool.Transport {
		return New(url, opts)
	}
}

func New(url string, opts Options) *Transport {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReadLimit == 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Transport{
		url:  url,
		opts: opts,
		done: make(chan struct{}),
	}
}

func (t *Transport) URL() string {
	return t.url
}

func (t *Transport) Connect(ctx context.Context) error {
	conn, resp, err := t.opts.Dialer.DialContext(ctx, t.url, t.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}
	conn.SetReadLimit(t.opts.ReadLimit)

	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		conn.Close()
		return ErrNotConnected
	default:
	}
	t.conn = conn
	t.mu.Unlock()

	if t.opts.PingInterval > 0 {
		go t.pingLoop(conn)
	}
	return nil
}

func (t *Transport) current() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// Send writes one text frame; the context deadline bounds the write
func (t *Transport) Send(ctx context.Context, msg []byte) error {
	conn, err := t.current()
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Time{})
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// Read returns the next text frame. Close unblocks a pending Read.
func (t *Transport) Read(ctx context.Context) ([]byte, error) {
	conn, err := t.current()
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		conn := t.conn
		close(t.done)
		t.mu.Unlock()

		if conn == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		err = conn.Close()
	})
	return err
}

func (t *Transport) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.opts.PingInterval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
