// Package observable holds a value that many readers can watch for changes.
package observable

import "sync"

// Value is a broadcast cell. Subscribers receive the current value on
// subscribe and then the latest value after every change. Slow subscribers
// only ever see the newest value; intermediate values are dropped.
type Value[T any] struct {
	mu     sync.RWMutex
	value  T
	nextID int
	subs   map[int]chan T
}

// NewValue creates a cell holding initial
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		value: initial,
		subs:  make(map[int]chan T),
	}
}

// Get returns the current value
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

// Set replaces the value and notifies subscribers
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	v.broadcast()
}

// Update applies fn to the current value atomically and stores the result
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = fn(v.value)
	v.broadcast()
	return v.value
}

// CompareAndSet stores next only when eq(current, expected) holds
func (v *Value[T]) CompareAndSet(expected, next T, eq func(a, b T) bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !eq(v.value, expected) {
		return false
	}
	v.value = next
	v.broadcast()
	return true
}

// Subscribe returns a channel replaying the current value followed by changes,
// and a cancel func that closes the channel
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	ch <- v.value
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			close(ch)
			v.mu.Unlock()
		})
	}
	return ch, cancel
}

// broadcast conflates into each buffered channel; callers hold v.mu
func (v *Value[T]) broadcast() {
	for _, ch := range v.subs {
		select {
		case ch <- v.value:
			continue
		default:
		}
		// Drop the stale value and push the newest
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v.value:
		default:
		}
	}
}
