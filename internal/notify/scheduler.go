// Package notify decides whether, when and how a user-facing notification is
// delivered.
//
// The pipeline, in order: preference filter, immediate-priority bypass,
// trailing-hour cap, quiet-hours deferral, batching, delivery. Filtering never
// errors, the hourly cap is the only rejection, and deferral/batching only
// reshape delivery timing.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "pulsesync/pkg/logx"
)

var (
	// ErrRateLimited reports the scheduler's trailing-hour cap was hit. The
	// caller should treat it as "notification suppressed", not surface it.
	ErrRateLimited = errors.New("notification rate limited")

	// ErrClosed reports scheduling after Close.
	ErrClosed = errors.New("scheduler closed")
)

// Config controls scheduler behavior that is not part of user preferences.
type Config struct {
	// BatchWindow is how long a group accumulates before flushing. Default 30s.
	BatchWindow time.Duration

	// GroupableTypes may be coalesced per GroupID. Default: kudos only.
	GroupableTypes []Type

	// DeliveryTimeout bounds one sink call. Default 10s.
	DeliveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchWindow <= 0 {
		c.BatchWindow = 30 * time.Second
	}
	if len(c.GroupableTypes) == 0 {
		c.GroupableTypes = []Type{TypeKudosReceived}
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 10 * time.Second
	}
	return c
}

// Scheduler is safe for concurrent use. Shared state is split across three
// locks (preferences+cap, deferrals, batches) so unrelated call sites do not
// contend, and no lock is held across a sink call.
type Scheduler struct {
	cfg  Config
	log  logx.Logger
	sink Sink
	hist History

	mu        sync.Mutex
	prefs     Preferences
	accepted  []time.Time
	groupable map[Type]bool
	closed    bool

	pmu     sync.Mutex
	pending map[string]*deferred

	bmu     sync.Mutex
	batches map[string]*batch

	nowFn func() time.Time
}

type deferred struct {
	req   Request
	timer *time.Timer
}

type batch struct {
	groupID string
	reqs    []Request
	timer   *time.Timer
}

// New creates a scheduler delivering through sink and logging delivered
// requests to hist (nil disables history).
func New(cfg Config, prefs Preferences, sink Sink, hist History, log logx.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	groupable := make(map[Type]bool, len(cfg.GroupableTypes))
	for _, t := range cfg.GroupableTypes {
		groupable[t] = true
	}
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		sink:      sink,
		hist:      hist,
		prefs:     prefs,
		groupable: groupable,
		pending:   map[string]*deferred{},
		batches:   map[string]*batch{},
		nowFn:     time.Now,
	}
}

// Schedule runs req through the pipeline. A nil return means the request was
// accepted OR silently dropped by preferences; ErrRateLimited is the only
// rejection.
func (s *Scheduler) Schedule(req Request) error {
	now := s.nowFn()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prefs := s.prefs
	s.mu.Unlock()

	// 1. Preference filter: dropped requests leave no trace, not even a cap
	// acceptance.
	if !prefs.TypeEnabled(req.Type) {
		s.log.Debug("notification dropped by preference", logx.String("type", string(req.Type)))
		return nil
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Count <= 0 {
		req.Count = 1
	}

	// 2. Immediate priority skips cap, quiet hours and batching.
	if req.Priority == PriorityImmediate {
		s.deliver(req)
		return nil
	}

	// 3. Trailing-hour cap, owned by the scheduler.
	s.mu.Lock()
	s.accepted = pruneTimes(s.accepted, now.Add(-time.Hour))
	if prefs.MaxPerHour > 0 && len(s.accepted) >= prefs.MaxPerHour {
		s.mu.Unlock()
		s.log.Debug("notification rate limited",
			logx.String("type", string(req.Type)),
			logx.Int("max_per_hour", prefs.MaxPerHour))
		return ErrRateLimited
	}
	s.accepted = append(s.accepted, now)
	s.mu.Unlock()

	// 4. Quiet hours defer delivery to the window's end; the caller still
	// observes success.
	if prefs.inQuietHours(now) {
		cp := req
		cp.DeliverAt = prefs.nextQuietEnd(now)
		s.deferUntil(cp, now)
		s.log.Debug("notification deferred to quiet hours end",
			logx.String("id", cp.ID), logx.Time("deliver_at", cp.DeliverAt))
		return nil
	}

	// Caller-provided future delivery dates defer the same way.
	if !req.DeliverAt.IsZero() && req.DeliverAt.After(now) {
		s.deferUntil(req, now)
		return nil
	}

	// 5. Groupable requests accumulate into a per-group batch.
	if s.groupable[req.Type] && req.GroupID != "" {
		s.appendBatch(req)
		return nil
	}

	// 6. Everything else goes out now.
	s.deliver(req)
	return nil
}

// Cancel removes a not-yet-delivered request, whether deferred or buffered in
// a batch. It is idempotent: unknown or already-delivered ids are a no-op.
func (s *Scheduler) Cancel(id string) {
	s.pmu.Lock()
	if d, ok := s.pending[id]; ok {
		d.timer.Stop()
		delete(s.pending, id)
		s.pmu.Unlock()
		return
	}
	s.pmu.Unlock()

	s.bmu.Lock()
	defer s.bmu.Unlock()
	for gid, b := range s.batches {
		for i, r := range b.reqs {
			if r.ID != id {
				continue
			}
			b.reqs = append(b.reqs[:i], b.reqs[i+1:]...)
			if len(b.reqs) == 0 {
				b.timer.Stop()
				delete(s.batches, gid)
			}
			return
		}
	}
}

// CancelAll clears every deferred request and every open batch buffer.
func (s *Scheduler) CancelAll() {
	s.pmu.Lock()
	for id, d := range s.pending {
		d.timer.Stop()
		delete(s.pending, id)
	}
	s.pmu.Unlock()

	s.bmu.Lock()
	for gid, b := range s.batches {
		b.timer.Stop()
		delete(s.batches, gid)
	}
	s.bmu.Unlock()
}

// Pending returns a snapshot of not-yet-delivered requests: quiet-hours
// deferrals plus raw requests buffered in open batches, ordered by DeliverAt
// (zero first) then ID.
func (s *Scheduler) Pending() []Request {
	var out []Request

	s.pmu.Lock()
	for _, d := range s.pending {
		out = append(out, d.req)
	}
	s.pmu.Unlock()

	s.bmu.Lock()
	for _, b := range s.batches {
		out = append(out, b.reqs...)
	}
	s.bmu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DeliverAt.Equal(out[j].DeliverAt) {
			return out[i].DeliverAt.Before(out[j].DeliverAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdatePreferences swaps the active preferences. Only subsequently scheduled
// requests see the new values.
func (s *Scheduler) UpdatePreferences(p Preferences) {
	s.mu.Lock()
	s.prefs = p
	s.mu.Unlock()
}

// Preferences returns the active preferences.
func (s *Scheduler) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Flush forces an open batch to emit its summary immediately.
func (s *Scheduler) Flush(groupID string) {
	s.bmu.Lock()
	b, ok := s.batches[groupID]
	if ok {
		b.timer.Stop()
		delete(s.batches, groupID)
	}
	s.bmu.Unlock()
	if !ok || len(b.reqs) == 0 {
		return
	}
	s.deliver(summarize(b.reqs))
}

// Close stops intake and discards all pending state without delivering it.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
}

func (s *Scheduler) deferUntil(req Request, now time.Time) {
	delay := req.DeliverAt.Sub(now)
	if delay < 0 {
		delay = 0
	}
	s.pmu.Lock()
	d := &deferred{req: req}
	d.timer = time.AfterFunc(delay, func() {
		s.pmu.Lock()
		cur, ok := s.pending[req.ID]
		if !ok || cur != d {
			// Cancelled (or replaced) before firing.
			s.pmu.Unlock()
			return
		}
		delete(s.pending, req.ID)
		s.pmu.Unlock()
		s.deliver(cur.req)
	})
	s.pending[req.ID] = d
	s.pmu.Unlock()
}

func (s *Scheduler) appendBatch(req Request) {
	s.bmu.Lock()
	b, ok := s.batches[req.GroupID]
	if !ok {
		b = &batch{groupID: req.GroupID}
		gid := req.GroupID
		b.timer = time.AfterFunc(s.cfg.BatchWindow, func() { s.Flush(gid) })
		s.batches[req.GroupID] = b
	}
	b.reqs = append(b.reqs, req)
	s.bmu.Unlock()
}

// deliver hands req to the sink and appends it to history. No scheduler lock
// is held here; the sink may block on I/O.
func (s *Scheduler) deliver(req Request) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DeliveryTimeout)
	defer cancel()

	if err := s.sink.Deliver(ctx, req); err != nil {
		s.log.Warn("notification delivery failed",
			logx.String("id", req.ID), logx.String("type", string(req.Type)), logx.Err(err))
	}
	if s.hist != nil {
		if err := s.hist.Append(ctx, req); err != nil {
			s.log.Warn("history append failed", logx.String("id", req.ID), logx.Err(err))
		}
	}
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0:0], ts[i:]...)
}
