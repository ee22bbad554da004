// Package pool multiplexes subscriptions over a set of relay transports.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

var (
	ErrPoolClosed        = errors.New("relay pool is closed")
	ErrRelayNotConnected = errors.New("relay is not connected")
)

const (
	defaultDialTimeout        = 10 * time.Second
	defaultWriteTimeout       = 5 * time.Second
	defaultMaxConcurrentDials = 8
)

// Pool owns the relay transports and the open subscriptions.
// Every method is safe for concurrent use and none blocks on network I/O.
type Pool struct {
	mu       sync.Mutex
	relays   map[string]*relayConn
	statuses map[string]RelayStatus
	subs     map[string]*Subscription
	closed   bool

	listeners listenerSet
	dialer    Dialer
	dials     errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc

	dialTimeout  time.Duration
	writeTimeout time.Duration
	logger       *logging.Logger
	metrics      *Metrics
}

type Option func(*Pool)

func WithDialTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithMaxConcurrentDials bounds how many handshakes run at once
func WithMaxConcurrentDials(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.dials.SetLimit(n)
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func New(dialer Dialer, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		relays:       make(map[string]*relayConn),
		statuses:     make(map[string]RelayStatus),
		subs:         make(map[string]*Subscription),
		listeners:    newListenerSet(),
		dialer:       dialer,
		ctx:          ctx,
		cancel:       cancel,
		dialTimeout:  defaultDialTimeout,
		writeTimeout: defaultWriteTimeout,
		logger:       logging.GetLogger().Component("pool"),
	}
	p.dials.SetLimit(defaultMaxConcurrentDials)

	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

func (p *Pool) AddListener(l Listener) {
	p.listeners.add(l)
}

func (p *Pool) RemoveListener(l Listener) {
	p.listeners.remove(l)
}

func (p *Pool) emit(fn func(Listener)) {
	p.listeners.each(fn)
}

// Connect starts a dial for every relay of an open subscription that has no transport
func (p *Pool) Connect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var started []*relayConn
	for _, sub := range p.subs {
		for url := range sub.relayFilters {
			if _, ok := p.relays[url]; ok {
				continue
			}
			started = append(started, p.newRelayLocked(url))
		}
	}
	p.mu.Unlock()

	p.startDials(started)
}

// Subscribe opens one subscription with the same filters on every relay
func (p *Pool) Subscribe(relays []string, filters nostr.Filters, onEvent EventHandler) *Subscription {
	relayFilters := make(map[string]nostr.Filters, len(relays))
	for _, url := range relays {
		relayFilters[url] = filters
	}
	return p.OpenSubscription("", relayFilters, onEvent)
}

// OpenSubscription opens a subscription with per-relay filters. An empty id
// gets a generated one. Reusing the id of an open subscription replaces it.
// Relays without usable filters are dropped; when none remain the returned
// handle is inert.
func (p *Pool) OpenSubscription(id string, relayFilters map[string]nostr.Filters, onEvent EventHandler) *Subscription {
	normalized := make(map[string]nostr.Filters, len(relayFilters))
	for url, filters := range relayFilters {
		n := nostr.NormalizeURL(url)
		if n == "" {
			continue
		}
		usable := nostr.Usable(filters)
		if len(usable) == 0 {
			continue
		}
		normalized[n] = append(normalized[n], usable...)
	}

	if id == "" {
		id = uuid.NewString()
	}
	sub := &Subscription{ID: id, relayFilters: normalized, onEvent: onEvent}

	if len(normalized) == 0 {
		p.logger.Debug("Ignoring subscription without relays or filters", map[string]interface{}{"id": id})
		return sub
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return sub
	}

	sub.pool = p
	if old, ok := p.subs[id]; ok {
		old.closed.Store(true)
		p.closeOnRelaysLocked(old)
		p.metrics.ActiveSubscriptions.Dec()
	}
	p.subs[id] = sub
	p.metrics.ActiveSubscriptions.Inc()

	// Relays still dialing get the REQ when their transport connects
	for url := range normalized {
		if rc, ok := p.relays[url]; ok && rc.connected {
			p.enqueueReqLocked(rc, sub)
		}
	}
	return sub
}

// CloseSubscription closes the subscription with id; unknown ids are ignored
func (p *Pool) CloseSubscription(id string) {
	p.mu.Lock()
	sub := p.subs[id]
	p.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (p *Pool) removeSubscription(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subs[s.ID] != s {
		return
	}
	delete(p.subs, s.ID)
	p.metrics.ActiveSubscriptions.Dec()
	p.closeOnRelaysLocked(s)
}

func (p *Pool) closeOnRelaysLocked(s *Subscription) {
	data, err := nostr.EncodeClose(s.ID)
	if err != nil {
		p.logger.Error("Failed to encode CLOSE", map[string]interface{}{"id": s.ID, "error": err})
		return
	}
	for url := range s.relayFilters {
		if rc, ok := p.relays[url]; ok && rc.connected {
			rc.enqueue("CLOSE", data)
		}
	}
}

func (p *Pool) enqueueReqLocked(rc *relayConn, sub *Subscription) {
	data, err := nostr.EncodeReq(sub.ID, sub.relayFilters[rc.url])
	if err != nil {
		p.logger.Error("Failed to encode REQ", map[string]interface{}{"id": sub.ID, "error": err})
		return
	}
	rc.enqueue("REQ", data)
}

// Send publishes ev to relays, dialing the ones without a transport.
// Acceptance arrives later through OnOk.
func (p *Pool) Send(ev *nostr.Event, relays []string) error {
	data, err := nostr.EncodeEvent(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}

	var started []*relayConn
	for _, url := range nostr.NormalizeURLs(relays) {
		rc, ok := p.relays[url]
		if !ok {
			rc = p.newRelayLocked(url)
			started = append(started, rc)
		}
		rc.enqueue("EVENT", data)
	}
	p.mu.Unlock()

	p.startDials(started)
	return nil
}

// SendToRelay queues a raw frame on an existing transport
func (p *Pool) SendToRelay(url string, raw []byte) error {
	url = nostr.NormalizeURL(url)

	p.mu.Lock()
	rc, ok := p.relays[url]
	p.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", url, ErrRelayNotConnected)
	}
	rc.enqueue("RAW", raw)
	return nil
}

// RenewFilters re-sends the REQ of every open subscription that includes url
func (p *Pool) RenewFilters(url string) {
	url = nostr.NormalizeURL(url)

	p.mu.Lock()
	defer p.mu.Unlock()

	rc, ok := p.relays[url]
	if !ok || !rc.connected {
		return
	}
	for _, sub := range p.subs {
		if sub.includes(url) {
			p.enqueueReqLocked(rc, sub)
		}
	}
}

// ResetRelays drops the transports of urls and dials them again.
// Open subscriptions are re-sent once the new transports connect.
func (p *Pool) ResetRelays(urls []string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}

	var old, started []*relayConn
	for _, url := range nostr.NormalizeURLs(urls) {
		if rc, ok := p.relays[url]; ok {
			p.releaseLocked(rc)
			delete(p.relays, url)
			old = append(old, rc)
		}
		started = append(started, p.newRelayLocked(url))
	}
	p.mu.Unlock()

	for _, rc := range old {
		rc.shutdown()
	}
	p.startDials(started)
}

// Disconnect closes every subscription and transport
func (p *Pool) Disconnect() {
	p.mu.Lock()
	for id, sub := range p.subs {
		sub.closed.Store(true)
		delete(p.subs, id)
	}
	p.metrics.ActiveSubscriptions.Set(0)

	old := make([]*relayConn, 0, len(p.relays))
	for _, rc := range p.relays {
		p.releaseLocked(rc)
		old = append(old, rc)
	}
	p.relays = make(map[string]*relayConn)
	p.statuses = make(map[string]RelayStatus)
	p.mu.Unlock()

	for _, rc := range old {
		rc.shutdown()
		url := rc.url
		p.emit(func(l Listener) { l.OnDisconnected(url) })
	}
}

// Close disconnects and rejects any further work
func (p *Pool) Close() {
	p.Disconnect()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// RelayStatuses returns a copy of the per-relay status map
func (p *Pool) RelayStatuses() map[string]RelayStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]RelayStatus, len(p.statuses))
	for url, s := range p.statuses {
		out[url] = s
	}
	return out
}

func (p *Pool) Status(url string) (RelayStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.statuses[nostr.NormalizeURL(url)]
	return s, ok
}

// Subscriptions returns the sorted ids of open subscriptions
func (p *Pool) Subscriptions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.subs))
	for id := range p.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Pool) newRelayLocked(url string) *relayConn {
	rc := newRelayConn(p.ctx, url, p.dialer(url))
	p.relays[url] = rc
	p.statuses[url] = StatusConnecting
	return rc
}

// releaseLocked marks rc as no longer connected
func (p *Pool) releaseLocked(rc *relayConn) {
	if rc.connected {
		rc.connected = false
		p.metrics.ConnectedRelays.Dec()
	}
}

func (p *Pool) startDials(conns []*relayConn) {
	for _, rc := range conns {
		rc := rc
		p.emit(func(l Listener) { l.OnConnecting(rc.url) })
		// errgroup.Go blocks while the limit is reached
		go p.dials.Go(func() error {
			p.dial(rc)
			return nil
		})
	}
}

func (p *Pool) dial(rc *relayConn) {
	if rc.ctx.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(rc.ctx, p.dialTimeout)
	err := rc.transport.Connect(ctx)
	cancel()

	if err != nil {
		p.metrics.Dials.WithLabelValues(rc.url, "failure").Inc()

		p.mu.Lock()
		current := p.relays[rc.url] == rc
		if current {
			delete(p.relays, rc.url)
			p.statuses[rc.url] = StatusFailed
		}
		p.mu.Unlock()

		rc.shutdown()
		if !current {
			return
		}

		p.logger.Warn("Relay connection failed", map[string]interface{}{"relay": rc.url, "error": err})
		p.emit(func(l Listener) { l.OnError(rc.url, err) })
		return
	}

	p.mu.Lock()
	if p.relays[rc.url] != rc {
		// Reset or disconnected while dialing
		p.mu.Unlock()
		rc.shutdown()
		return
	}
	rc.connected = true
	p.statuses[rc.url] = StatusConnected
	for _, sub := range p.subs {
		if sub.includes(rc.url) {
			p.enqueueReqLocked(rc, sub)
		}
	}
	p.mu.Unlock()

	p.metrics.Dials.WithLabelValues(rc.url, "success").Inc()
	p.metrics.ConnectedRelays.Inc()
	p.logger.Debug("Relay connected", map[string]interface{}{"relay": rc.url})

	p.emit(func(l Listener) { l.OnConnected(rc.url) })

	go p.writeLoop(rc)
	go p.readLoop(rc)
}

func (p *Pool) writeLoop(rc *relayConn) {
	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-rc.wake:
		}

		for _, f := range rc.drain() {
			ctx, cancel := context.WithTimeout(rc.ctx, p.writeTimeout)
			err := rc.transport.Send(ctx, f.data)
			cancel()

			if err != nil {
				if rc.ctx.Err() != nil {
					return
				}
				p.dropRelay(rc, fmt.Errorf("write %s: %w", f.kind, err))
				return
			}
			p.metrics.FramesSent.WithLabelValues(rc.url, f.kind).Inc()
		}
	}
}

func (p *Pool) readLoop(rc *relayConn) {
	for {
		raw, err := rc.transport.Read(rc.ctx)
		if err != nil {
			if rc.ctx.Err() != nil {
				return
			}
			p.dropRelay(rc, err)
			return
		}
		p.handleFrame(rc.url, raw)
	}
}

// dropRelay tears down a transport that failed after connecting
func (p *Pool) dropRelay(rc *relayConn, err error) {
	p.mu.Lock()
	current := p.relays[rc.url] == rc
	if current {
		delete(p.relays, rc.url)
		p.statuses[rc.url] = StatusFailed
	}
	p.releaseLocked(rc)
	p.mu.Unlock()

	rc.shutdown()
	if !current {
		return
	}

	p.logger.Warn("Relay connection lost", map[string]interface{}{"relay": rc.url, "error": err})
	p.emit(func(l Listener) { l.OnError(rc.url, err) })
	p.emit(func(l Listener) { l.OnDisconnected(rc.url) })
}

func (p *Pool) handleFrame(url string, raw []byte) {
	env, err := nostr.ParseFrame(raw)
	if err != nil {
		p.metrics.MalformedFrames.WithLabelValues(url).Inc()
		p.logger.Debug("Dropping malformed frame", map[string]interface{}{
			"relay": url,
			"frame": truncate(string(raw), 120),
		})
		return
	}
	p.metrics.FramesReceived.WithLabelValues(url, env.Label()).Inc()

	switch env := env.(type) {
	case *nostr.EventEnvelope:
		p.routeEvent(url, env)
	case *nostr.EOSEEnvelope:
		subID := string(*env)
		p.emit(func(l Listener) { l.OnEOSE(url, subID) })
	case *nostr.NoticeEnvelope:
		msg := string(*env)
		p.logger.Info("Relay notice", map[string]interface{}{"relay": url, "notice": msg})
		p.emit(func(l Listener) { l.OnNotice(url, msg) })
	case *nostr.ClosedEnvelope:
		p.logger.Info("Relay closed subscription", map[string]interface{}{
			"relay":  url,
			"id":     env.SubscriptionID,
			"reason": env.Reason,
		})
		p.emit(func(l Listener) { l.OnClosed(url, env.SubscriptionID, env.Reason) })
	case *nostr.OKEnvelope:
		p.emit(func(l Listener) { l.OnOk(url, env.EventID, env.OK, env.Reason) })
	case *nostr.AuthEnvelope:
		if env.Challenge == nil {
			p.logger.Debug("AUTH frame without challenge", map[string]interface{}{"relay": url})
			return
		}
		challenge := *env.Challenge
		p.emit(func(l Listener) { l.OnAuth(url, challenge) })
	default:
		p.logger.Debug("Ignoring unexpected frame", map[string]interface{}{"relay": url, "type": env.Label()})
	}
}

// routeEvent delivers an event to the subscription it names and to every
// other subscription on this relay whose filters match, once each
func (p *Pool) routeEvent(url string, env *nostr.EventEnvelope) {
	ev := &env.Event
	subID := ""
	if env.SubscriptionID != nil {
		subID = *env.SubscriptionID
	}

	p.mu.Lock()
	var targets []*Subscription
	if named, ok := p.subs[subID]; ok {
		targets = append(targets, named)
	}
	for id, sub := range p.subs {
		if id == subID || !sub.includes(url) {
			continue
		}
		if sub.relayFilters[url].Match(ev) {
			targets = append(targets, sub)
		}
	}
	p.mu.Unlock()

	p.emit(func(l Listener) { l.OnEvent(url, subID, ev) })
	for _, sub := range targets {
		sub.deliver(url, ev)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
