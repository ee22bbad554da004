package kvp

import "errors"

// ErrNotFound is returned by Get when the key or its bucket does not exist
var ErrNotFound = errors.New("kvp: key not found")

// KeyValueStore hands out named buckets backed by durable storage
type KeyValueStore interface {
	GetBucket(name string) KeyValueStoreBucket
	GetBucketList() []string
	Cleanup() error
}

type KeyValueStoreBucket interface {
	GetName() string
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(keys []string) error
	Keys() ([]string, error)
}
