package pool

import (
	"sort"
	"sync/atomic"

	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

// EventHandler receives every event routed to a subscription with its source relay
type EventHandler func(relay string, ev *nostr.Event)

// Subscription is a handle for one logical subscription across relays.
// A handle without a pool is inert: Close works and nothing is ever sent.
type Subscription struct {
	ID string

	relayFilters map[string]nostr.Filters
	onEvent      EventHandler
	pool         *Pool
	closed       atomic.Bool
}

// Relays returns the sorted normalized relay urls of the subscription
func (s *Subscription) Relays() []string {
	relays := make([]string, 0, len(s.relayFilters))
	for url := range s.relayFilters {
		relays = append(relays, url)
	}
	sort.Strings(relays)
	return relays
}

// Filters returns the filters sent to relay
func (s *Subscription) Filters(relay string) nostr.Filters {
	return s.relayFilters[nostr.NormalizeURL(relay)]
}

func (s *Subscription) includes(relay string) bool {
	_, ok := s.relayFilters[relay]
	return ok
}

func (s *Subscription) IsInert() bool {
	return s.pool == nil
}

func (s *Subscription) IsClosed() bool {
	return s.closed.Load()
}

// Close sends CLOSE to every relay of the subscription once and unregisters it
func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.pool != nil {
		s.pool.removeSubscription(s)
	}
}

func (s *Subscription) deliver(relay string, ev *nostr.Event) {
	if s.onEvent == nil || s.closed.Load() {
		return
	}
	s.onEvent(relay, ev)
}
