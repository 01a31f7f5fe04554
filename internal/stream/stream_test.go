package stream

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()
	s := New[string]()
	a, unsubA := s.Subscribe(4)
	b, unsubB := s.Subscribe(4)
	defer unsubA()
	defer unsubB()

	s.Publish("u1")

	for name, ch := range map[string]<-chan string{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got != "u1" {
				t.Fatalf("subscriber %s: got %q, want u1", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %s: no value received", name)
		}
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	s := New[int]()
	ch, unsub := s.Subscribe(1)
	defer unsub()

	s.Publish(1)
	s.Publish(2) // buffer full, dropped

	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected second value %d", v)
	default:
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	s := New[string]()
	_, unsub := s.Subscribe(1)
	unsub()
	unsub() // no panic

	if n := s.Subscribers(); n != 0 {
		t.Fatalf("subscribers = %d, want 0", n)
	}

	// Publishing after unsubscribe must not panic.
	s.Publish("x")
}
