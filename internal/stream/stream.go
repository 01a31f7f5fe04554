// Package stream provides in-memory fanout streams used to decouple the
// change router from feature-level stores.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop values (bounded backpressure).
package stream

import (
	"sync"
	"sync/atomic"
)

// Stream is a multi-subscriber fanout of values of type T.
//
// It intentionally does not own any background goroutines.
type Stream[T any] struct {
	mu   sync.RWMutex
	subs map[uint64]chan T
	seq  atomic.Uint64
}

// New returns an empty stream.
func New[T any]() *Stream[T] {
	return &Stream[T]{subs: map[uint64]chan T{}}
}

// Publish delivers v to every current subscriber without blocking.
// Subscribers whose buffers are full miss this value.
func (s *Stream[T]) Publish(v T) {
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	s.mu.RLock()
	chs := make([]chan T, 0, len(s.subs))
	for _, ch := range s.subs {
		chs = append(chs, ch)
	}
	s.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If a subscriber unsubscribes concurrently and
		// the channel closes, recover from a possible send-on-closed panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- v:
			default:
			}
		}()
	}
}

// Subscribe registers a new subscriber with the given buffer size and returns
// its channel plus an idempotent unsubscribe func that closes the channel.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan T, buffer)
	id := s.seq.Add(1)

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Subscribers reports the current subscriber count.
func (s *Stream[T]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
