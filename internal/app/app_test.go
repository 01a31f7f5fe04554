package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulsesync/internal/config"
	"pulsesync/internal/notify"
	"pulsesync/internal/ratelimit"
	"pulsesync/internal/syncer"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewWiresComponents(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: ERROR
  console: true
quotas:
  follow:
    minutely: 2
notifications:
  max_per_hour: 5
history:
  driver: memory
delivery:
  driver: log
`)

	a, err := New(path, syncer.NewPushFeed())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if a.Limiter() == nil || a.Scheduler() == nil || a.Streams() == nil {
		t.Fatal("missing component")
	}
	if a.History() == nil {
		t.Fatal("history should be enabled")
	}

	// Quotas from the config file are live.
	if err := a.Limiter().Check(ratelimit.ActionFollow, "u1"); err != nil {
		t.Fatalf("first follow: %v", err)
	}
	if err := a.Limiter().Check(ratelimit.ActionFollow, "u1"); err != nil {
		t.Fatalf("second follow: %v", err)
	}
	if err := a.Limiter().Check(ratelimit.ActionFollow, "u1"); err == nil {
		t.Fatal("third follow should exceed minutely quota of 2")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
notifications:
  quiet_hours:
    enabled: true
    start: "25:00"
    end: "07:00"
`)
	if _, err := New(path, syncer.NewPushFeed()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestStartStop(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: ERROR
  console: true
history:
  driver: memory
`)

	feed := syncer.NewPushFeed()
	a, err := New(path, feed)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Feed events reach the typed streams through the router.
	ch, unsub := a.Streams().Profile.Subscribe(1)
	defer unsub()
	feed.Push(syncer.ChangeEvent{
		RecordType: syncer.RecordUserProfile,
		RecordID:   "u42",
		ChangeType: syncer.ChangeUpdated,
	})
	select {
	case got := <-ch:
		if got != "u42" {
			t.Fatalf("profile stream got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for profile update")
	}

	// A scheduled notification lands in history via the log sink pipeline.
	if err := a.Scheduler().Schedule(notify.Request{
		Type:  notify.TypeSystem,
		Title: "maintenance window",
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := a.History().Unread(context.Background())
		if err != nil {
			t.Fatalf("Unread: %v", err)
		}
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history unread = %d, want 1", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestApplyConfigUpdatesPreferences(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: ERROR
  console: true
`)
	a, err := New(path, syncer.NewPushFeed())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	disabled := false
	a.applyConfig(&config.Config{
		Logging: config.LoggingConfig{Level: "ERROR", Console: true},
		Notifications: config.NotificationsConfig{
			PushEnabled: &disabled,
		},
	})
	if a.Scheduler().Preferences().PushEnabled {
		t.Fatal("push should be disabled after reload")
	}
}
