// Package ratelimit enforces multi-tier usage quotas per (actor, action) pair.
//
// Windows are true sliding windows: every check keeps the raw event timestamps
// for a key and prunes those older than the largest configured tier, so a
// "minutely" ceiling means "at most N events in the trailing 60 seconds", not
// "per calendar minute".
package ratelimit

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// Action is a categorical kind of rate-limited operation.
type Action string

const (
	ActionFollow      Action = "follow"
	ActionLike        Action = "like"
	ActionComment     Action = "comment"
	ActionSearch      Action = "search"
	ActionWorkoutPost Action = "workout_post"
)

// Quota holds per-tier ceilings for one action. Zero means the tier is
// unbounded.
type Quota struct {
	Minutely int
	Hourly   int
	Daily    int
	Weekly   int
}

// IsZero reports whether no tier is configured.
func (q Quota) IsZero() bool {
	return q.Minutely == 0 && q.Hourly == 0 && q.Daily == 0 && q.Weekly == 0
}

// largestWindow returns the widest configured tier window, or 0 when unbounded.
func (q Quota) largestWindow() time.Duration {
	switch {
	case q.Weekly > 0:
		return 7 * 24 * time.Hour
	case q.Daily > 0:
		return 24 * time.Hour
	case q.Hourly > 0:
		return time.Hour
	case q.Minutely > 0:
		return time.Minute
	default:
		return 0
	}
}

// tiers enumerates configured (window, ceiling) pairs, narrowest first.
func (q Quota) tiers() []tier {
	out := make([]tier, 0, 4)
	if q.Minutely > 0 {
		out = append(out, tier{time.Minute, q.Minutely})
	}
	if q.Hourly > 0 {
		out = append(out, tier{time.Hour, q.Hourly})
	}
	if q.Daily > 0 {
		out = append(out, tier{24 * time.Hour, q.Daily})
	}
	if q.Weekly > 0 {
		out = append(out, tier{7 * 24 * time.Hour, q.Weekly})
	}
	return out
}

type tier struct {
	window  time.Duration
	ceiling int
}

// DefaultQuotas returns the built-in per-action ceilings.
func DefaultQuotas() map[Action]Quota {
	return map[Action]Quota{
		ActionFollow:      {Minutely: 5, Hourly: 60, Daily: 500, Weekly: 1000},
		ActionLike:        {Minutely: 60},
		ActionComment:     {Minutely: 10},
		ActionSearch:      {Minutely: 30},
		ActionWorkoutPost: {Minutely: 2, Hourly: 20, Daily: 50},
	}
}

// ExceededError reports an exhausted quota. ResetAt is the caller's next
// eligible instant.
type ExceededError struct {
	Action  string
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, resets at %s", e.Action, e.ResetAt.Format(time.RFC3339))
}

const shardCount = 64

// Limiter tracks sliding-window usage per (actor, action) key.
//
// State is in-memory only and never survives a restart. Keys are sharded so
// different (actor, action) pairs do not contend on one lock.
type Limiter struct {
	qmu    sync.RWMutex
	quotas map[Action]Quota

	shards [shardCount]shard

	nowFn func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// New creates a limiter with the given quota table. A nil table means
// DefaultQuotas().
func New(quotas map[Action]Quota) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	l := &Limiter{quotas: quotas, nowFn: time.Now}
	for i := range l.shards {
		l.shards[i].entries = map[string][]time.Time{}
	}
	return l
}

// Apply replaces the quota table. Existing per-key state is kept; new ceilings
// take effect on the next check.
func (l *Limiter) Apply(quotas map[Action]Quota) {
	if quotas == nil {
		return
	}
	l.qmu.Lock()
	l.quotas = quotas
	l.qmu.Unlock()
}

// Check verifies the (action, actorID) quota and, when allowed, records one
// usage event across all tiers atomically. On exhaustion it returns an
// *ExceededError and records nothing.
//
// An empty actorID is allowed: all anonymous callers share a single bucket per
// action. Actions without a configured quota are always allowed and leave no
// state behind.
func (l *Limiter) Check(action Action, actorID string) error {
	l.qmu.RLock()
	quota, ok := l.quotas[action]
	l.qmu.RUnlock()
	if !ok || quota.IsZero() {
		return nil
	}

	now := l.nowFn()
	key := string(action) + "\x00" + actorID
	sh := &l.shards[shardFor(key)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	events := pruneBefore(sh.entries[key], now.Add(-quota.largestWindow()))

	var resetAt time.Time
	for _, t := range quota.tiers() {
		cutoff := now.Add(-t.window)
		n, earliest := countSince(events, cutoff)
		if n < t.ceiling {
			continue
		}
		// Tier exhausted: eligible again once its earliest in-window event ages
		// out. With several exhausted tiers, the latest such instant governs.
		if r := earliest.Add(t.window); r.After(resetAt) {
			resetAt = r
		}
	}
	if !resetAt.IsZero() {
		sh.entries[key] = events
		return &ExceededError{Action: string(action), ResetAt: resetAt}
	}

	sh.entries[key] = append(events, now)
	return nil
}

// Usage reports the number of in-window events for one key and tier window.
// Intended for diagnostics; it does not record anything.
func (l *Limiter) Usage(action Action, actorID string, window time.Duration) int {
	now := l.nowFn()
	key := string(action) + "\x00" + actorID
	sh := &l.shards[shardFor(key)]

	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, _ := countSince(sh.entries[key], now.Add(-window))
	return n
}

// PruneIdle drops keys whose newest event is older than their largest window.
// Called periodically by housekeeping so long-gone actors do not pin memory.
// Returns the number of keys removed.
func (l *Limiter) PruneIdle() int {
	l.qmu.RLock()
	quotas := l.quotas
	l.qmu.RUnlock()

	now := l.nowFn()
	removed := 0
	for i := range l.shards {
		sh := &l.shards[i]
		sh.mu.Lock()
		for key, events := range sh.entries {
			action := Action(keyAction(key))
			window := quotas[action].largestWindow()
			if window == 0 {
				window = 7 * 24 * time.Hour
			}
			if len(events) == 0 || events[len(events)-1].Before(now.Add(-window)) {
				delete(sh.entries, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func keyAction(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i]
		}
	}
	return key
}

func shardFor(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64() % shardCount
}

// pruneBefore drops events older than cutoff. Events are appended in order, so
// a single scan for the first in-window index suffices.
func pruneBefore(events []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return events
	}
	return append(events[:0:0], events[i:]...)
}

// countSince returns how many events are at or after cutoff, and the earliest
// such event.
func countSince(events []time.Time, cutoff time.Time) (int, time.Time) {
	i := 0
	for i < len(events) && events[i].Before(cutoff) {
		i++
	}
	if i == len(events) {
		return 0, time.Time{}
	}
	return len(events) - i, events[i]
}
