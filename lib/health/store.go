package health

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp"
)

const (
	BucketName = "relay_health"
	blockedKey = "blocked"
)

// BlockListStore persists the set of blocked relay urls
type BlockListStore interface {
	Load() ([]string, error)
	Save(urls []string) error
	Clear() error
}

// KVBlockListStore keeps the block-list cbor-encoded in a kvp bucket
type KVBlockListStore struct {
	bucket kvp.KeyValueStoreBucket
}

func NewKVBlockListStore(store kvp.KeyValueStore) *KVBlockListStore {
	return &KVBlockListStore{bucket: store.GetBucket(BucketName)}
}

func (s *KVBlockListStore) Load() ([]string, error) {
	data, err := s.bucket.Get(blockedKey)
	if errors.Is(err, kvp.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read block-list: %w", err)
	}

	var urls []string
	if err := cbor.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("failed to decode block-list: %w", err)
	}
	return urls, nil
}

func (s *KVBlockListStore) Save(urls []string) error {
	data, err := cbor.Marshal(urls)
	if err != nil {
		return fmt.Errorf("failed to encode block-list: %w", err)
	}
	if err := s.bucket.Put(blockedKey, data); err != nil {
		return fmt.Errorf("failed to write block-list: %w", err)
	}
	return nil
}

func (s *KVBlockListStore) Clear() error {
	if err := s.bucket.Delete([]string{blockedKey}); err != nil {
		return fmt.Errorf("failed to clear block-list: %w", err)
	}
	return nil
}
