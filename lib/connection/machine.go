// Package connection drives the relay pool through the global connection
// lifecycle: connect, subscribe, detect failure, retry and resume.
package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/HORNET-Storage/hornet-relay-client/lib/feed"
	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/observable"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

// Pool is the part of the relay pool the machine drives
type Pool interface {
	AddListener(l pool.Listener)
	RemoveListener(l pool.Listener)
	Connect()
	OpenSubscription(id string, relayFilters map[string]nostr.Filters, onEvent pool.EventHandler) *pool.Subscription
	CloseSubscription(id string)
	ResetRelays(urls []string)
	Disconnect()
}

// BlockFilter removes blocked relays from a candidate set
type BlockFilter interface {
	FilterBlocked(urls []string) []string
}

type intent struct {
	urls      []string
	filters   nostr.Filters
	subscribe bool
}

// Machine serializes every intent and pool notification through one loop
// goroutine. Fields below the loop marker are only touched by that goroutine.
type Machine struct {
	pool   Pool
	blocks BlockFilter
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	dedup   *feed.Deduper
	onEvent pool.EventHandler

	state    *observable.Value[State]
	statuses *observable.Value[map[string]pool.RelayStatus]
	active   *observable.Value[*Feed]

	events    *queue
	listener  *machineListener
	lastEvent atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	// loop owned
	intent     intent
	effective  []string
	relayState map[string]pool.RelayStatus
	lastError  string
	deferred   *feedChangeRequested
	mainSeq    uint64
	mainID     string
	bootSeq    uint64
	bootID     string
	attempts   int
	graceGen   uint64
	retryGen   uint64
	graceTimer *time.Timer
	retryTimer *time.Timer
	resumes    *rate.Limiter
	offline    bool
}

type Option func(*Machine)

// WithDeduper drops events already delivered by another relay
func WithDeduper(d *feed.Deduper) Option {
	return func(m *Machine) { m.dedup = d }
}

// WithFeedHandler receives every main subscription event
func WithFeedHandler(h pool.EventHandler) Option {
	return func(m *Machine) { m.onEvent = h }
}

func WithLogger(l *logging.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(p Pool, blocks BlockFilter, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		pool:       p,
		blocks:     blocks,
		cfg:        cfg,
		logger:     logging.GetLogger().Component("connection"),
		now:        time.Now,
		state:      observable.NewValue[State](Disconnected{}),
		statuses:   observable.NewValue(map[string]pool.RelayStatus{}),
		active:     observable.NewValue[*Feed](nil),
		events:     newQueue(),
		done:       make(chan struct{}),
		relayState: make(map[string]pool.RelayStatus),
		resumes:    rate.NewLimiter(rate.Every(cfg.NetworkDebounce), 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.listener = &machineListener{m: m}
	return m
}

// Start registers with the pool and runs the loop until ctx ends or Close
func (m *Machine) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.pool.AddListener(m.listener)
		go m.run(ctx)
		if m.cfg.KeepaliveInterval > 0 {
			go m.keepalive(ctx)
		}
	})
}

// Close stops the loop. Pool connections are left to the pool owner.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		m.pool.RemoveListener(m.listener)
		if m.cancel != nil {
			m.cancel()
			<-m.done
		}
	})
}

// State is the observable global connection state
func (m *Machine) State() *observable.Value[State] { return m.state }

// RelayStatuses is the observable per-relay status of the effective set
func (m *Machine) RelayStatuses() *observable.Value[map[string]pool.RelayStatus] {
	return m.statuses
}

// ActiveFeed is the observable main subscription, nil when none
func (m *Machine) ActiveFeed() *observable.Value[*Feed] { return m.active }

func (m *Machine) Connect(urls []string) {
	m.events.push(connectRequested{urls: urls})
}

// RequestFeedChange replaces the main subscription. Repeating the active
// feed is a no-op. While connecting the request waits for the grace check.
func (m *Machine) RequestFeedChange(urls []string, filters ...nostr.Filter) {
	m.events.push(feedChangeRequested{urls: urls, filters: filters})
}

// Retry replays the last intent after a failure and resets the backoff
func (m *Machine) Retry() { m.events.push(retryRequested{}) }

func (m *Machine) Disconnect() { m.events.push(disconnectRequested{}) }

// ReportFailure forces ConnectFailed from any active state
func (m *Machine) ReportFailure(reason string) {
	m.events.push(failureReported{reason: reason})
}

func (m *Machine) NetworkLost() { m.events.push(networkLost{}) }

func (m *Machine) NetworkAvailable() { m.events.push(networkAvailable{}) }

// Settle blocks until every intent queued before the call has been handled
func (m *Machine) Settle(ctx context.Context) error {
	b := barrier{done: make(chan struct{})}
	m.events.push(b)
	select {
	case <-b.done:
		return nil
	case <-m.done:
		return fmt.Errorf("connection machine stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)
	defer m.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.events.wake:
		}
		for _, ev := range m.events.drain() {
			m.handle(ev)
		}
	}
}

func (m *Machine) keepalive(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.events.push(keepaliveTick{})
		}
	}
}

func (m *Machine) touch() {
	m.lastEvent.Store(m.now().UnixNano())
}

// after replaces *slot with a timer that queues ev after d
func (m *Machine) after(slot **time.Timer, d time.Duration, ev event) {
	if *slot != nil {
		(*slot).Stop()
	}
	*slot = time.AfterFunc(d, func() { m.events.push(ev) })
}

func (m *Machine) stopTimers() {
	for _, t := range []*time.Timer{m.graceTimer, m.retryTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.graceTimer, m.retryTimer = nil, nil
}

// feedHandler is what the pool delivers main subscription events to
func (m *Machine) feedHandler() pool.EventHandler {
	next := func(relay string, ev *nostr.Event) {
		if m.onEvent != nil {
			m.onEvent(relay, ev)
		}
	}
	handler := pool.EventHandler(next)
	if m.dedup != nil {
		handler = m.dedup.Wrap(handler)
	}
	return func(relay string, ev *nostr.Event) {
		m.touch()
		handler(relay, ev)
	}
}

type machineListener struct {
	pool.BaseListener
	m *Machine
}

func (l *machineListener) OnConnecting(url string) {
	l.m.events.push(relayConnecting{url: url})
}

func (l *machineListener) OnConnected(url string) {
	l.m.events.push(relayConnected{url: url})
}

func (l *machineListener) OnError(url string, err error) {
	l.m.events.push(relayFailed{url: url, err: err})
}

func (l *machineListener) OnDisconnected(url string) {
	l.m.events.push(relayDisconnected{url: url})
}

func (l *machineListener) OnEvent(string, string, *nostr.Event) {
	l.m.touch()
}
