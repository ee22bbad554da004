package bbolt

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/HORNET-Storage/hornet-relay-client/lib/stores/kvp"
)

// BucketListName is the internal bucket recording every bucket handed out
const BucketListName = "mbl"

type Buckets struct {
	db *bbolt.DB
	mu sync.RWMutex
}

type Bucket struct {
	name    []byte
	buckets *Buckets
}

type bucketList struct {
	Buckets []string `cbor:"buckets"`
}

func InitBuckets(path string) (*Buckets, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("could not open db: %w", err)
	}

	return &Buckets{
		db: db,
	}, nil
}

func (b *Buckets) Cleanup() error {
	return b.db.Close()
}

func (b *Buckets) GetBucket(name string) kvp.KeyValueStoreBucket {
	if name != BucketListName {
		if err := b.updateBucketList(name); err != nil {
			fmt.Printf("failed to record bucket %s: %v\n", name, err)
		}
	}

	return &Bucket{
		name:    []byte(name),
		buckets: b,
	}
}

func (b *Buckets) updateBucketList(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(BucketListName))
		if err != nil {
			return err
		}

		var list bucketList
		if data := bucket.Get([]byte("list")); data != nil {
			if err := cbor.Unmarshal(data, &list); err != nil {
				return err
			}
		}

		for _, existing := range list.Buckets {
			if existing == name {
				return nil
			}
		}

		list.Buckets = append(list.Buckets, name)
		encoded, err := cbor.Marshal(list)
		if err != nil {
			return err
		}

		return bucket.Put([]byte("list"), encoded)
	})
}

func (b *Buckets) GetBucketList() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var list bucketList
	b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(BucketListName))
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("list"))
		if data == nil {
			return nil
		}

		return cbor.Unmarshal(data, &list)
	})

	return list.Buckets
}

func (b *Bucket) GetName() string {
	return string(b.name)
}

func (b *Bucket) Get(key string) ([]byte, error) {
	var value []byte
	err := b.buckets.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return kvp.ErrNotFound
		}

		result := bucket.Get([]byte(key))
		if result == nil {
			return kvp.ErrNotFound
		}

		// bbolt memory is only valid inside the transaction
		value = make([]byte, len(result))
		copy(value, result)
		return nil
	})

	return value, err
}

func (b *Bucket) Put(key string, value []byte) error {
	return b.buckets.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(b.name)
		if err != nil {
			return fmt.Errorf("could not create bucket: %w", err)
		}

		return bucket.Put([]byte(key), value)
	})
}

func (b *Bucket) Delete(keys []string) error {
	return b.buckets.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return nil
		}

		for _, key := range keys {
			if err := bucket.Delete([]byte(key)); err != nil {
				return err
			}
		}

		return nil
	})
}

func (b *Bucket) Keys() ([]string, error) {
	var keys []string
	err := b.buckets.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(b.name)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	sort.Strings(keys)
	return keys, err
}
