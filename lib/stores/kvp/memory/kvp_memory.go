// Package memory is an in-process kvp store used by tests and ephemeral sessions
package memory

import (
	"sort"
	"sync"

	"github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp"
)

type Buckets struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

type Bucket struct {
	name  string
	store *Buckets
}

func New() *Buckets {
	return &Buckets{data: make(map[string]map[string][]byte)}
}

func (b *Buckets) GetBucket(name string) kvp.KeyValueStoreBucket {
	b.mu.Lock()
	if _, ok := b.data[name]; !ok {
		b.data[name] = make(map[string][]byte)
	}
	b.mu.Unlock()
	return &Bucket{name: name, store: b}
}

func (b *Buckets) GetBucketList() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.data))
	for name := range b.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Buckets) Cleanup() error { return nil }

func (b *Bucket) GetName() string { return b.name }

func (b *Bucket) Get(key string) ([]byte, error) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	value, ok := b.store.data[b.name][key]
	if !ok {
		return nil, kvp.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (b *Bucket) Put(key string, value []byte) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.store.data[b.name][key] = append([]byte(nil), value...)
	return nil
}

func (b *Bucket) Delete(keys []string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, key := range keys {
		delete(b.store.data[b.name], key)
	}
	return nil
}

func (b *Bucket) Keys() ([]string, error) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	keys := make([]string, 0, len(b.store.data[b.name]))
	for key := range b.store.data[b.name] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
