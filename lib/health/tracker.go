// Package health keeps per-relay connection statistics and the user block-list.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

// Tracker is safe for concurrent use. Every url is normalized before use.
type Tracker struct {
	mu        sync.Mutex
	persistMu sync.Mutex // orders block-list writes, taken before mu
	records   map[string]*record
	blocked   map[string]struct{}
	store     BlockListStore
	threshold int
	now       func() time.Time
	logger    *logging.Logger
}

type Option func(*Tracker)

func WithFlagThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker loads the persisted block-list once. A nil store keeps blocks in memory only.
func NewTracker(store BlockListStore, opts ...Option) *Tracker {
	t := &Tracker{
		records:   make(map[string]*record),
		blocked:   make(map[string]struct{}),
		store:     store,
		threshold: DefaultFlagThreshold,
		now:       time.Now,
		logger:    logging.GetLogger().Component("health"),
	}
	for _, opt := range opts {
		opt(t)
	}

	if store != nil {
		urls, err := store.Load()
		if err != nil {
			t.logger.Warn("Failed to load relay block-list", map[string]interface{}{"error": err})
		}
		for _, u := range urls {
			if n := nostr.NormalizeURL(u); n != "" {
				t.blocked[n] = struct{}{}
			}
		}
	}

	return t
}

// recordFor returns the record for a normalized url, creating it lazily; callers hold t.mu
func (t *Tracker) recordFor(url string) *record {
	r, ok := t.records[url]
	if !ok {
		r = &record{Record: Record{URL: url}}
		t.records[url] = r
	}
	return r
}

func (t *Tracker) RecordConnectionAttempt(url string) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordFor(url)
	r.Attempts++
	r.attemptStarted = t.now()
}

// RecordConnectionSuccess clears the failure streak and flag and samples handshake latency
func (t *Tracker) RecordConnectionSuccess(url string) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordFor(url)
	now := t.now()
	if !r.attemptStarted.IsZero() {
		r.addLatency(now.Sub(r.attemptStarted))
		r.attemptStarted = time.Time{}
	}
	r.ConsecutiveFailures = 0
	r.LastConnectedAt = now
	if r.Flagged {
		r.Flagged = false
		t.logger.Info("Relay recovered, flag cleared", map[string]interface{}{"relay": url})
	}
}

// RecordConnectionFailure flags the relay on the call that reaches the threshold
func (t *Tracker) RecordConnectionFailure(url string, err error) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.recordFor(url)
	r.Failures++
	r.ConsecutiveFailures++
	r.LastFailedAt = t.now()
	r.attemptStarted = time.Time{}
	if err != nil {
		r.LastError = err.Error()
	}

	if r.ConsecutiveFailures >= t.threshold && !r.Flagged {
		r.Flagged = true
		t.logger.Warn("Relay flagged as unreliable", map[string]interface{}{
			"relay":    url,
			"failures": r.ConsecutiveFailures,
			"error":    r.LastError,
		})
	}
}

func (t *Tracker) RecordEventReceived(url string) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.recordFor(url).EventsReceived++
}

// Block excludes url from future connections and persists the block-list
func (t *Tracker) Block(url string) {
	t.setBlocked(url, true)
}

func (t *Tracker) Unblock(url string) {
	t.setBlocked(url, false)
}

func (t *Tracker) setBlocked(url string, blocked bool) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}

	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	_, was := t.blocked[url]
	if was == blocked {
		t.mu.Unlock()
		return
	}
	if blocked {
		t.blocked[url] = struct{}{}
	} else {
		delete(t.blocked, url)
	}
	list := t.blockedListLocked()
	t.mu.Unlock()

	t.persist(list)
}

// persist writes list; callers hold t.persistMu. The in-memory block-list
// stays authoritative when the write fails.
func (t *Tracker) persist(list []string) {
	if t.store == nil {
		return
	}
	var err error
	if len(list) == 0 {
		err = t.store.Clear()
	} else {
		err = t.store.Save(list)
	}
	if err != nil {
		t.logger.Error("Failed to persist relay block-list", map[string]interface{}{
			"blocked": len(list),
			"error":   err,
		})
	}
}

// UnblockAll empties the block-list and removes it from storage
func (t *Tracker) UnblockAll() int {
	t.persistMu.Lock()
	defer t.persistMu.Unlock()

	t.mu.Lock()
	n := len(t.blocked)
	t.blocked = make(map[string]struct{})
	t.mu.Unlock()

	if n > 0 {
		t.persist(nil)
	}
	return n
}

func (t *Tracker) blockedListLocked() []string {
	list := make([]string, 0, len(t.blocked))
	for u := range t.blocked {
		list = append(list, u)
	}
	sort.Strings(list)
	return list
}

// BlockedRelays returns the sorted block-list
func (t *Tracker) BlockedRelays() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockedListLocked()
}

func (t *Tracker) IsBlocked(url string) bool {
	url = nostr.NormalizeURL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.blocked[url]
	return ok
}

// FilterBlocked returns the entries of urls that are not blocked, in input order
func (t *Tracker) FilterBlocked(urls []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := t.blocked[nostr.NormalizeURL(u)]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Unflag dismisses the flag and the failure streak without a successful connection
func (t *Tracker) Unflag(url string) {
	url = nostr.NormalizeURL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[url]; ok {
		r.Flagged = false
		r.ConsecutiveFailures = 0
	}
}

// Reset forgets the statistics of url. Block state is kept.
func (t *Tracker) Reset(url string) {
	url = nostr.NormalizeURL(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, url)
}

// SetFlagThreshold changes the consecutive failure count that flags a relay.
// Values below one are ignored.
func (t *Tracker) SetFlagThreshold(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.threshold = n
}

func (t *Tracker) FlagThreshold() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.threshold
}

func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*record)
}

func (t *Tracker) Get(url string) (Record, bool) {
	url = nostr.NormalizeURL(url)
	t.mu.Lock()
	defer t.mu.Unlock()

	_, blocked := t.blocked[url]
	r, ok := t.records[url]
	if !ok {
		if blocked {
			return Record{URL: url, Blocked: true}, true
		}
		return Record{}, false
	}
	return r.snapshot(blocked), true
}

func (t *Tracker) AverageLatency(url string) time.Duration {
	r, _ := t.Get(url)
	return r.AverageLatency()
}

// Snapshot returns every known relay, flagged or blocked first, then by
// consecutive failures and failure rate descending, then by url
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	out := make([]Record, 0, len(t.records)+len(t.blocked))
	for url, r := range t.records {
		_, blocked := t.blocked[url]
		out = append(out, r.snapshot(blocked))
	}
	for url := range t.blocked {
		if _, ok := t.records[url]; !ok {
			out = append(out, Record{URL: url, Blocked: true})
		}
	}
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aw, bw := a.Flagged || a.Blocked, b.Flagged || b.Blocked
		if aw != bw {
			return aw
		}
		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures > b.ConsecutiveFailures
		}
		if ar, br := a.FailureRate(), b.FailureRate(); ar != br {
			return ar > br
		}
		return a.URL < b.URL
	})
	return out
}
