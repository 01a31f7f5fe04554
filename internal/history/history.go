// Package history persists delivered notifications for later retrieval and
// read-state tracking.
//
// It currently supports:
//   - An in-memory ring (default, survives nothing)
//   - A SQLite database file
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

// Config configures the history store.
//
// Driver values:
//   - "memory": bounded in-memory ring
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// MaxEntries bounds the memory driver. 0 means a default of 500.
	MaxEntries int
}

// Item is one delivered notification as stored.
type Item struct {
	ID          string
	Type        string
	Title       string
	Body        string
	Priority    int
	GroupID     string
	Count       int
	DeliveredAt time.Time
	Read        bool
}

// Store is the persistence API used by the scheduler and by feature code
// rendering a notification inbox.
type Store interface {
	Append(ctx context.Context, req notify.Request) error
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Unread(ctx context.Context) (int, error)
	List(ctx context.Context, limit int) ([]Item, error)
	// Prune removes items delivered before cutoff, returning how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return openMemory(cfg), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}

func itemFromRequest(req notify.Request, at time.Time) Item {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	return Item{
		ID:          req.ID,
		Type:        string(req.Type),
		Title:       req.Title,
		Body:        req.Body,
		Priority:    int(req.Priority),
		GroupID:     req.GroupID,
		Count:       count,
		DeliveredAt: at,
	}
}
