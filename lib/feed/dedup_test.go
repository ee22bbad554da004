package feed

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HORNET-Storage/hornet-relay-client/lib/logging"
	"github.com/HORNET-Storage/hornet-relay-client/lib/nostr"
)

func newTestDeduper(t *testing.T) *Deduper {
	t.Helper()
	d, err := NewDeduper(context.Background(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestFirstSeen(t *testing.T) {
	d := newTestDeduper(t)

	assert.True(t, d.FirstSeen("e1"))
	assert.False(t, d.FirstSeen("e1"))
	assert.True(t, d.FirstSeen("e2"))
	assert.Equal(t, int64(1), d.Duplicates())
	assert.Equal(t, 2, d.Len())

	d.Reset()
	assert.True(t, d.FirstSeen("e1"))
}

func TestCacheWriteFailureIsLogged(t *testing.T) {
	previous := logging.GetLogger()
	var buf bytes.Buffer
	logging.SetGlobal(logging.NewWriterLogger(logging.DEBUG, &buf))
	t.Cleanup(func() { logging.SetGlobal(previous) })

	d := newTestDeduper(t)

	// larger than a cache shard, so the write is rejected
	huge := strings.Repeat("f", 512*1024)
	assert.True(t, d.FirstSeen(huge))
	assert.True(t, d.FirstSeen(huge))
	assert.Zero(t, d.Len())
	assert.Contains(t, buf.String(), "feed: Failed to remember event id")
}

func TestWrapDeliversOncePerID(t *testing.T) {
	d := newTestDeduper(t)

	var mu sync.Mutex
	var got []string
	handler := d.Wrap(func(relay string, ev *nostr.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, relay+"/"+ev.ID)
	})

	handler("wss://a", &nostr.Event{ID: "e1"})
	handler("wss://b", &nostr.Event{ID: "e1"})
	handler("wss://b", &nostr.Event{ID: "e2"})
	handler("wss://b", nil)

	assert.Equal(t, []string{"wss://a/e1", "wss://b/e2"}, got)
}

func TestConcurrentRelaysDeliverOnce(t *testing.T) {
	d := newTestDeduper(t)

	var mu sync.Mutex
	count := 0
	handler := d.Wrap(func(string, *nostr.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler("wss://relay", &nostr.Event{ID: "same"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, count)
}
