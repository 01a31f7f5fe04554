package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	logx "pulsesync/pkg/logx"
)

type captureSink struct {
	mu  sync.Mutex
	got []Request
}

func (c *captureSink) Deliver(_ context.Context, req Request) error {
	c.mu.Lock()
	c.got = append(c.got, req)
	c.mu.Unlock()
	return nil
}

func (c *captureSink) all() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.got...)
}

type captureHistory struct {
	mu  sync.Mutex
	got []Request
}

func (c *captureHistory) Append(_ context.Context, req Request) error {
	c.mu.Lock()
	c.got = append(c.got, req)
	c.mu.Unlock()
	return nil
}

func (c *captureHistory) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func newTestScheduler(cfg Config, prefs Preferences, now *time.Time) (*Scheduler, *captureSink, *captureHistory) {
	sink := &captureSink{}
	hist := &captureHistory{}
	s := New(cfg, prefs, sink, hist, logx.Nop())
	if now != nil {
		s.nowFn = func() time.Time { return *now }
	}
	return s, sink, hist
}

func TestDisabledTypeDroppedSilently(t *testing.T) {
	t.Parallel()
	prefs := DefaultPreferences()
	prefs.Enabled = map[Type]bool{TypeWorkoutCompleted: false}
	s, sink, hist := newTestScheduler(Config{}, prefs, nil)
	defer s.Close()

	for i := 0; i < 5; i++ {
		if err := s.Schedule(Request{Type: TypeWorkoutCompleted, Title: "done"}); err != nil {
			t.Fatalf("drop must not error: %v", err)
		}
	}

	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
	if n := hist.count(); n != 0 {
		t.Fatalf("history writes = %d, want 0", n)
	}
}

func TestHourlyCapAndImmediateBypass(t *testing.T) {
	t.Parallel()
	prefs := DefaultPreferences()
	prefs.MaxPerHour = 1
	s, sink, _ := newTestScheduler(Config{}, prefs, nil)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeNewFollower, Priority: PriorityMedium}); err != nil {
		t.Fatalf("first: %v", err)
	}
	err := s.Schedule(Request{Type: TypeNewFollower, Priority: PriorityMedium})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second: got %v, want ErrRateLimited", err)
	}

	// Immediate requests are never capped.
	if err := s.Schedule(Request{Type: TypeSystem, Priority: PriorityImmediate}); err != nil {
		t.Fatalf("immediate: %v", err)
	}
	if n := len(sink.all()); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
}

func TestHourlyCapSlides(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.MaxPerHour = 1
	s, _, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	if err := s.Schedule(Request{Type: TypeNewFollower}); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}

	now = now.Add(61 * time.Minute)
	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatalf("after window slide: %v", err)
	}
}

func TestQuietHoursDeferral(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, sink, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{ID: "n1", Type: TypeKudosReceived}); err != nil {
		t.Fatal(err)
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("delivered during quiet hours: %d", n)
	}

	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	want := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)
	if !pending[0].DeliverAt.Equal(want) {
		t.Fatalf("DeliverAt = %v, want %v", pending[0].DeliverAt, want)
	}
}

func TestQuietHoursBeforeMidnightWrapEnd(t *testing.T) {
	t.Parallel()
	// 06:30 is inside a 22:00->07:00 window; the deferral lands at 07:00 the
	// same day.
	now := time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, _, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{ID: "n1", Type: TypeKudosReceived}); err != nil {
		t.Fatal(err)
	}
	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	want := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	if !pending[0].DeliverAt.Equal(want) {
		t.Fatalf("DeliverAt = %v, want %v", pending[0].DeliverAt, want)
	}
}

func TestOutsideQuietHoursDeliversWithoutDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, sink, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("delivered = %d, want 1", len(got))
	}
	if !got[0].DeliverAt.IsZero() {
		t.Fatalf("DeliverAt set outside quiet hours: %v", got[0].DeliverAt)
	}
}

func TestImmediateSkipsQuietHours(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, sink, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeSystem, Priority: PriorityImmediate}); err != nil {
		t.Fatal(err)
	}
	if n := len(sink.all()); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
}

func TestBatchFlushEmitsOneSummary(t *testing.T) {
	t.Parallel()
	s, sink, _ := newTestScheduler(Config{BatchWindow: time.Hour}, DefaultPreferences(), nil)
	defer s.Close()

	for i := 0; i < 3; i++ {
		err := s.Schedule(Request{
			Type:    TypeKudosReceived,
			GroupID: "kudos_W1",
			Title:   "Kudos!",
		})
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
	}
	if n := len(sink.all()); n != 0 {
		t.Fatalf("delivered before flush: %d", n)
	}
	if n := len(s.Pending()); n != 3 {
		t.Fatalf("pending = %d, want 3", n)
	}

	s.Flush("kudos_W1")

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("delivered = %d, want exactly 1", len(got))
	}
	if got[0].Count != 3 {
		t.Fatalf("Count = %d, want 3", got[0].Count)
	}
	if !strings.Contains(got[0].Title, "3") || !strings.Contains(got[0].Body, "3") {
		t.Fatalf("summary does not reflect count: title=%q body=%q", got[0].Title, got[0].Body)
	}
	if got[0].Type != TypeKudosReceived {
		t.Fatalf("Type = %q, want %q", got[0].Type, TypeKudosReceived)
	}
}

func TestBatchWindowTimerFlushes(t *testing.T) {
	t.Parallel()
	s, sink, _ := newTestScheduler(Config{BatchWindow: 20 * time.Millisecond}, DefaultPreferences(), nil)
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.Schedule(Request{Type: TypeKudosReceived, GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		if got := sink.all(); len(got) == 1 {
			if got[0].Count != 2 {
				t.Fatalf("Count = %d, want 2", got[0].Count)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("batch never flushed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSingleElementBatchDeliveredAsIs(t *testing.T) {
	t.Parallel()
	s, sink, _ := newTestScheduler(Config{BatchWindow: time.Hour}, DefaultPreferences(), nil)
	defer s.Close()

	if err := s.Schedule(Request{ID: "k1", Type: TypeKudosReceived, GroupID: "g", Title: "Kudos!"}); err != nil {
		t.Fatal(err)
	}
	s.Flush("g")

	got := sink.all()
	if len(got) != 1 || got[0].ID != "k1" || got[0].Title != "Kudos!" {
		t.Fatalf("unexpected delivery: %+v", got)
	}
}

func TestCancelDeferredAndIdempotency(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, _, _ := newTestScheduler(Config{}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{ID: "n1", Type: TypeKudosReceived}); err != nil {
		t.Fatal(err)
	}
	s.Cancel("n1")
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	s.Cancel("n1")      // already removed
	s.Cancel("unknown") // never existed
}

func TestCancelBatchedRequest(t *testing.T) {
	t.Parallel()
	s, sink, _ := newTestScheduler(Config{BatchWindow: time.Hour}, DefaultPreferences(), nil)
	defer s.Close()

	ids := []string{"a", "b"}
	for _, id := range ids {
		if err := s.Schedule(Request{ID: id, Type: TypeKudosReceived, GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}
	s.Cancel("a")
	s.Flush("g")

	got := sink.all()
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected delivery after cancel: %+v", got)
	}
}

func TestCancelAllClearsBatchBuffers(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	prefs := DefaultPreferences()
	prefs.QuietHoursEnabled = true
	prefs.QuietStart = ClockTime{Hour: 22}
	prefs.QuietEnd = ClockTime{Hour: 7}
	s, sink, _ := newTestScheduler(Config{BatchWindow: time.Hour}, prefs, &now)
	defer s.Close()

	if err := s.Schedule(Request{ID: "d1", Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	// Move out of quiet hours so the kudos land in a batch, not a deferral.
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Schedule(Request{ID: "k1", Type: TypeKudosReceived, GroupID: "g"}); err != nil {
		t.Fatal(err)
	}

	s.CancelAll()
	if n := len(s.Pending()); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
	s.Flush("g")
	if n := len(sink.all()); n != 0 {
		t.Fatalf("delivered = %d, want 0", n)
	}
}

func TestHistoryRecordsDeliveries(t *testing.T) {
	t.Parallel()
	s, _, hist := newTestScheduler(Config{}, DefaultPreferences(), nil)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	if n := hist.count(); n != 1 {
		t.Fatalf("history writes = %d, want 1", n)
	}
}

func TestUpdatePreferencesAffectsSubsequentOnly(t *testing.T) {
	t.Parallel()
	s, sink, _ := newTestScheduler(Config{}, DefaultPreferences(), nil)
	defer s.Close()

	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	prefs := DefaultPreferences()
	prefs.Enabled = map[Type]bool{TypeNewFollower: false}
	s.UpdatePreferences(prefs)

	if err := s.Schedule(Request{Type: TypeNewFollower}); err != nil {
		t.Fatal(err)
	}
	if n := len(sink.all()); n != 1 {
		t.Fatalf("delivered = %d, want 1", n)
	}
}

func TestScheduleAfterClose(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestScheduler(Config{}, DefaultPreferences(), nil)
	s.Close()
	if err := s.Schedule(Request{Type: TypeSystem}); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}
