// Package feed de-duplicates events arriving from several relays.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
	"github.com/HORNET-Storage/hornet-relay-client/lib/pool"
)

const DefaultWindow = 10 * time.Minute

// Deduper remembers event ids for a time window
type Deduper struct {
	mu         sync.Mutex
	cache      *bigcache.BigCache
	duplicates atomic.Int64
	logger     *logging.Logger
}

func NewDeduper(ctx context.Context, window time.Duration) (*Deduper, error) {
	if window <= 0 {
		window = DefaultWindow
	}

	cfg := bigcache.DefaultConfig(window)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10000
	cfg.MaxEntrySize = 8
	cfg.HardMaxCacheSize = 8
	cfg.CleanWindow = window / 2
	if cfg.CleanWindow < time.Second {
		cfg.CleanWindow = time.Second
	}
	cfg.Verbose = false

	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &Deduper{cache: cache, logger: logging.GetLogger().Component("feed")}, nil
}

// FirstSeen records id and reports whether it was new
func (d *Deduper) FirstSeen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.cache.Get(id)
	if err == nil {
		d.duplicates.Add(1)
		return false
	}
	if !errors.Is(err, bigcache.ErrEntryNotFound) {
		// Treat cache faults as new so events are never lost
		return true
	}
	if err := d.cache.Set(id, []byte{1}); err != nil {
		d.logger.Warn("Failed to remember event id", map[string]interface{}{"error": err})
	}
	return true
}

// Wrap returns a handler that forwards each event id to next only once
func (d *Deduper) Wrap(next pool.EventHandler) pool.EventHandler {
	return func(relay string, ev *nostr.Event) {
		if ev == nil || !d.FirstSeen(ev.ID) {
			return
		}
		next(relay, ev)
	}
}

func (d *Deduper) Duplicates() int64 {
	return d.duplicates.Load()
}

func (d *Deduper) Len() int {
	return d.cache.Len()
}

// Reset forgets every id, used when the feed changes
func (d *Deduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Reset()
}

func (d *Deduper) Close() error {
	return d.cache.Close()
}
