package connection

import (
	"fmt"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

func (m *Machine) handle(ev event) {
	switch e := ev.(type) {
	case connectRequested:
		m.onConnect(e)
	case feedChangeRequested:
		m.onFeedChange(e)
	case retryRequested:
		m.onRetry()
	case disconnectRequested:
		m.onDisconnect()
	case failureReported:
		if m.isActive() {
			m.fail(e.reason)
		}
	case graceElapsed:
		m.onGrace(e.gen)
	case retryDue:
		if e.gen == m.retryGen {
			if _, failed := m.state.Get().(ConnectFailed); failed {
				m.replay()
			}
		}
	case relayConnecting:
		m.setRelay(e.url, pool.StatusConnecting)
	case relayConnected:
		m.setRelay(e.url, pool.StatusConnected)
	case relayFailed:
		if e.err != nil {
			m.lastError = e.err.Error()
		}
		m.onRelayDown(e.url)
	case relayDisconnected:
		m.onRelayDown(e.url)
	case keepaliveTick:
		m.onKeepalive()
	case networkLost:
		if !m.offline {
			m.logger.Info("Network lost")
		}
		m.offline = true
	case networkAvailable:
		m.onNetworkAvailable()
	case barrier:
		close(e.done)
	}
}

func (m *Machine) setState(next State) {
	prev := m.state.Get()
	if prev == next {
		return
	}
	m.state.Set(next)
	m.logger.Info("Connection state changed", map[string]interface{}{
		"from": prev.String(),
		"to":   next.String(),
	})
}

func (m *Machine) isActive() bool {
	switch m.state.Get().(type) {
	case Connecting, Connected, Subscribed:
		return true
	}
	return false
}

// effectiveRelays normalizes urls and removes blocked relays
func (m *Machine) effectiveRelays(urls []string) []string {
	normalized := nostr.NormalizeURLs(urls)
	if m.blocks == nil {
		return normalized
	}
	return m.blocks.FilterBlocked(normalized)
}

func (m *Machine) onConnect(e connectRequested) {
	switch m.state.Get().(type) {
	case Disconnected, ConnectFailed:
	default:
		m.logger.Debug("Ignoring connect while active", map[string]interface{}{"state": m.state.Get().String()})
		return
	}

	effective := m.effectiveRelays(e.urls)
	if len(effective) == 0 {
		m.logger.Warn("No usable relays to connect to", map[string]interface{}{"requested": len(e.urls)})
		return
	}

	m.intent = intent{urls: e.urls}
	m.attempts = 0
	m.retryGen++
	m.bootstrap(effective)
}

// bootstrap opens the probe subscription so the pool has relays to dial,
// then waits one grace period before judging the outcome
func (m *Machine) bootstrap(effective []string) {
	m.closeMain()
	m.closeBootstrap()
	m.useRelays(effective)

	m.bootSeq++
	m.bootID = fmt.Sprintf("bootstrap-%d", m.bootSeq)
	probe := nostr.Filters{nostr.ProbeFilter()}
	relayFilters := make(map[string]nostr.Filters, len(effective))
	for _, url := range effective {
		relayFilters[url] = probe
	}
	m.pool.OpenSubscription(m.bootID, relayFilters, func(string, *nostr.Event) { m.touch() })
	m.pool.Connect()

	m.setState(Connecting{})
	m.graceGen++
	m.after(&m.graceTimer, m.cfg.GracePeriod, graceElapsed{gen: m.graceGen})
}

func (m *Machine) onGrace(gen uint64) {
	if gen != m.graceGen {
		return
	}
	if _, ok := m.state.Get().(Connecting); !ok {
		return
	}
	if m.allFailed() {
		m.fail(m.failureReason())
		return
	}

	m.setState(Connected{})
	if d := m.deferred; d != nil {
		m.deferred = nil
		m.onFeedChange(*d)
	}
}

func (m *Machine) onFeedChange(e feedChangeRequested) {
	effective := m.effectiveRelays(e.urls)
	if len(effective) == 0 {
		m.logger.Warn("Feed change has no usable relays", map[string]interface{}{"requested": len(e.urls)})
		return
	}

	filters := nostr.Usable(e.filters)
	if len(filters) == 0 {
		m.logger.Warn("Feed change has no usable filters")
		return
	}

	switch m.state.Get().(type) {
	case Connecting:
		m.deferred = &feedChangeRequested{urls: e.urls, filters: filters}
		return
	case Subscribed:
		if active := m.active.Get(); active != nil &&
			nostr.SameRelaySet(active.Relays, effective) &&
			nostr.SameIntent(active.Filters, filters) {
			return
		}
	}

	m.intent = intent{urls: e.urls, filters: filters, subscribe: true}
	m.attempts = 0
	m.retryGen++
	m.subscribe(effective, filters)
}

// subscribe replaces the main subscription and moves to Subscribed
func (m *Machine) subscribe(effective []string, filters nostr.Filters) {
	m.closeMain()
	m.closeBootstrap()
	m.useRelays(effective)

	m.mainSeq++
	m.mainID = fmt.Sprintf("main-%d", m.mainSeq)
	relayFilters := make(map[string]nostr.Filters, len(effective))
	for _, url := range effective {
		relayFilters[url] = filters
	}
	if m.dedup != nil {
		m.dedup.Reset()
	}
	m.touch()
	m.pool.OpenSubscription(m.mainID, relayFilters, m.feedHandler())
	m.pool.Connect()

	m.active.Set(&Feed{
		SubscriptionID: m.mainID,
		Relays:         append([]string(nil), effective...),
		Filters:        filters,
	})
	m.setState(Subscribed{})
}

func (m *Machine) closeMain() {
	if m.mainID != "" {
		m.pool.CloseSubscription(m.mainID)
		m.mainID = ""
	}
}

func (m *Machine) closeBootstrap() {
	if m.bootID != "" {
		m.pool.CloseSubscription(m.bootID)
		m.bootID = ""
	}
}

// useRelays makes effective the tracked relay set, keeping known statuses
func (m *Machine) useRelays(effective []string) {
	next := make(map[string]pool.RelayStatus, len(effective))
	for _, url := range effective {
		if s, ok := m.relayState[url]; ok && s != pool.StatusFailed {
			next[url] = s
		} else {
			next[url] = pool.StatusConnecting
		}
	}
	m.effective = effective
	m.relayState = next
	m.publishStatuses()
}

// setRelay updates a tracked relay and reports whether it is tracked
func (m *Machine) setRelay(url string, status pool.RelayStatus) bool {
	if _, ok := m.relayState[url]; !ok {
		return false
	}
	if m.relayState[url] == status {
		return true
	}
	m.relayState[url] = status
	m.publishStatuses()
	return true
}

func (m *Machine) publishStatuses() {
	out := make(map[string]pool.RelayStatus, len(m.relayState))
	for url, s := range m.relayState {
		out[url] = s
	}
	m.statuses.Set(out)
}

func (m *Machine) allFailed() bool {
	if len(m.relayState) == 0 {
		return false
	}
	for _, s := range m.relayState {
		if s != pool.StatusFailed {
			return false
		}
	}
	return true
}

func (m *Machine) failureReason() string {
	if m.lastError != "" {
		return m.lastError
	}
	return "all relays failed"
}

func (m *Machine) onRelayDown(url string) {
	if !m.setRelay(url, pool.StatusFailed) {
		return
	}
	if m.isActive() && m.allFailed() {
		m.fail(m.failureReason())
	}
}

// fail enters ConnectFailed and schedules an automatic retry while
// attempts remain
func (m *Machine) fail(reason string) {
	m.graceGen++
	m.setState(ConnectFailed{Reason: reason})

	if m.attempts >= m.cfg.MaxRetries {
		m.logger.Warn("Giving up automatic reconnects", map[string]interface{}{
			"attempts": m.attempts,
			"reason":   reason,
		})
		return
	}

	delay := m.cfg.RetryDelay
	if m.attempts == 0 {
		delay = m.cfg.FirstRetryDelay
	}
	m.attempts++
	m.retryGen++
	m.logger.Info("Scheduling reconnect", map[string]interface{}{
		"attempt": m.attempts,
		"delay":   delay.String(),
	})
	m.after(&m.retryTimer, delay, retryDue{gen: m.retryGen})
}

func (m *Machine) onRetry() {
	if _, failed := m.state.Get().(ConnectFailed); !failed {
		return
	}
	m.attempts = 0
	m.retryGen++
	m.replay()
}

// replay re-issues the last intent
func (m *Machine) replay() {
	effective := m.effectiveRelays(m.intent.urls)
	if len(effective) == 0 {
		m.logger.Warn("No usable relays left to retry")
		m.onDisconnect()
		return
	}
	m.lastError = ""

	if m.intent.subscribe {
		m.subscribe(effective, m.intent.filters)
		return
	}
	m.bootstrap(effective)
}

func (m *Machine) onDisconnect() {
	m.graceGen++
	m.retryGen++
	m.stopTimers()
	m.deferred = nil
	m.intent = intent{}
	m.attempts = 0
	m.lastError = ""
	m.mainID = ""
	m.bootID = ""

	m.pool.Disconnect()

	m.effective = nil
	m.relayState = make(map[string]pool.RelayStatus)
	m.publishStatuses()
	m.active.Set(nil)
	m.setState(Disconnected{})
}

func (m *Machine) onKeepalive() {
	if _, ok := m.state.Get().(Subscribed); !ok {
		return
	}
	last := time.Unix(0, m.lastEvent.Load())
	if idle := m.now().Sub(last); idle > m.cfg.StaleAfter {
		m.logger.Info("Feed went quiet, resuming", map[string]interface{}{"idle": idle.String()})
		m.resume()
	}
}

func (m *Machine) onNetworkAvailable() {
	if !m.offline {
		return
	}
	m.offline = false

	if !m.resumes.Allow() {
		m.logger.Debug("Network flapping, skipping resume")
		return
	}
	m.logger.Info("Network available, resuming")

	switch m.state.Get().(type) {
	case Connected, Subscribed:
		m.resume()
	case ConnectFailed:
		m.retryGen++
		m.replay()
	}
}

// resume redials every effective relay. Open subscriptions are re-sent
// by the pool when the fresh transports connect. Relays blocked since the
// last subscribe are dropped first.
func (m *Machine) resume() {
	effective := m.effectiveRelays(m.intent.urls)
	if len(effective) == 0 {
		m.logger.Warn("No usable relays left to resume")
		return
	}
	if !nostr.SameRelaySet(effective, m.effective) {
		if m.intent.subscribe {
			m.subscribe(effective, m.intent.filters)
		} else {
			m.bootstrap(effective)
		}
	}

	m.touch()
	for url := range m.relayState {
		m.relayState[url] = pool.StatusConnecting
	}
	m.publishStatuses()
	m.pool.ResetRelays(effective)
}
