// Package store is a small in-memory state container: read the current value,
// replace it, and observe replacements.
package store

import "sync"

type Store[T any] struct {
	mu     sync.RWMutex
	value  T
	nextID int
	subs   map[int]chan T
}

func New[T any](initial T) *Store[T] {
	return &Store[T]{value: initial, subs: make(map[int]chan T)}
}

func (s *Store[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the value and notifies subscribers.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	s.publish(v)
}

// Update replaces the value with fn(current) under the store lock.
func (s *Store[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	s.publish(s.value)
	return s.value
}

// Subscribe returns a channel that always holds the most recent value not yet
// received. Slow readers skip intermediate values. cancel closes the channel.
func (s *Store[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan T, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// publish must be called with mu held for writing.
func (s *Store[T]) publish(v T) {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
