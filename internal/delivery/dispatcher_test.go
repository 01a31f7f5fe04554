package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []notify.Request
	fail int // fail this many sends before succeeding
}

func (r *recordingSink) Deliver(_ context.Context, req notify.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("transient send failure")
	}
	r.got = append(r.got, req)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never met")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestDispatcherDeliversThroughWorkers(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{Workers: 2, RatePerSec: 1000}, sink, logx.Nop())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	for i := 0; i < 5; i++ {
		if err := d.Deliver(context.Background(), notify.Request{ID: "n", Type: notify.TypeSystem}); err != nil {
			t.Fatalf("deliver %d: %v", i, err)
		}
	}
	waitFor(t, func() bool { return sink.count() == 5 })
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{fail: 2}
	d := NewDispatcher(DispatcherConfig{
		Workers:    1,
		RatePerSec: 1000,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, sink, logx.Nop())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	if err := d.Deliver(context.Background(), notify.Request{ID: "r1", Type: notify.TypeSystem}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestDeliverBeforeStart(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(DispatcherConfig{}, &recordingSink{}, logx.Nop())
	err := d.Deliver(context.Background(), notify.Request{ID: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestDeliverAfterStop(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(DispatcherConfig{Workers: 1, RatePerSec: 1000}, &recordingSink{}, logx.Nop())
	d.Start(context.Background())
	d.Stop(context.Background())

	err := d.Deliver(context.Background(), notify.Request{ID: "x"})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v, want ErrStopped", err)
	}
}

func TestStopDrainsQueue(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	d := NewDispatcher(DispatcherConfig{Workers: 1, RatePerSec: 1000}, sink, logx.Nop())
	d.Start(context.Background())

	for i := 0; i < 10; i++ {
		if err := d.Deliver(context.Background(), notify.Request{ID: "n"}); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	d.Stop(ctx)

	if n := sink.count(); n != 10 {
		t.Fatalf("drained = %d, want 10", n)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "log"}, logx.Nop()); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(Config{Driver: "smtp"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "telegram"}, logx.Nop()); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}
