package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return map[string]Store{
		"memory": openMemory(Config{}),
		"sqlite": sqliteStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range storesUnderTest(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()

			reqs := []notify.Request{
				{ID: "n1", Type: notify.TypeKudosReceived, Title: "Kudos!", Count: 1},
				{ID: "n2", Type: notify.TypeNewFollower, Title: "New follower", Count: 1},
			}
			for _, r := range reqs {
				if err := st.Append(ctx, r); err != nil {
					t.Fatalf("append %s: %v", r.ID, err)
				}
			}

			if n, err := st.Unread(ctx); err != nil || n != 2 {
				t.Fatalf("unread = %d (%v), want 2", n, err)
			}

			if err := st.MarkRead(ctx, "n1"); err != nil {
				t.Fatal(err)
			}
			if n, _ := st.Unread(ctx); n != 1 {
				t.Fatalf("unread after MarkRead = %d, want 1", n)
			}

			items, err := st.List(ctx, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(items) != 2 {
				t.Fatalf("list = %d items, want 2", len(items))
			}

			if err := st.MarkAllRead(ctx); err != nil {
				t.Fatal(err)
			}
			if n, _ := st.Unread(ctx); n != 0 {
				t.Fatalf("unread after MarkAllRead = %d, want 0", n)
			}

			if err := st.Delete(ctx, "n2"); err != nil {
				t.Fatal(err)
			}
			if items, _ := st.List(ctx, 10); len(items) != 1 {
				t.Fatalf("list after delete = %d items, want 1", len(items))
			}

			if err := st.Clear(ctx); err != nil {
				t.Fatal(err)
			}
			if items, _ := st.List(ctx, 10); len(items) != 0 {
				t.Fatalf("list after clear = %d items, want 0", len(items))
			}
		})
	}
}

func TestStorePrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, st := range storesUnderTest(t) {
		st := st
		t.Run(name, func(t *testing.T) {
			defer st.Close()

			if err := st.Append(ctx, notify.Request{ID: "old", Type: notify.TypeSystem}); err != nil {
				t.Fatal(err)
			}
			// Everything appended so far is "before" a future cutoff.
			removed, err := st.Prune(ctx, time.Now().Add(time.Minute))
			if err != nil {
				t.Fatal(err)
			}
			if removed != 1 {
				t.Fatalf("removed = %d, want 1", removed)
			}
		})
	}
}

func TestMemoryBounded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openMemory(Config{MaxEntries: 3})
	for i := 0; i < 10; i++ {
		if err := st.Append(ctx, notify.Request{ID: string(rune('a' + i)), Type: notify.TypeSystem}); err != nil {
			t.Fatal(err)
		}
	}
	items, _ := st.List(ctx, 0)
	if len(items) != 3 {
		t.Fatalf("list = %d items, want 3", len(items))
	}
	// Newest first.
	if items[0].ID != "j" {
		t.Fatalf("newest = %q, want j", items[0].ID)
	}
}
