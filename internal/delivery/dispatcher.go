package delivery

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulsesync/internal/notify"
	logx "pulsesync/pkg/logx"
)

var (
	ErrQueueFull = errors.New("delivery queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

// DispatcherConfig tunes the async delivery pipeline.
type DispatcherConfig struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Dispatcher implements notify.Sink by queueing requests for a worker pool
// that paces sends with a token bucket and retries failures with backoff.
//
// It is safe for concurrent use.
type Dispatcher struct {
	mu sync.Mutex

	log  logx.Logger
	sink notify.Sink

	cfg     DispatcherConfig
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan notify.Request
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// NewDispatcher wraps sink. Call Start before delivering.
func NewDispatcher(cfg DispatcherConfig, sink notify.Sink, log logx.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		log:  log,
		sink: sink,
		cfg:  cfg,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.queue != nil {
		// already running
		d.mu.Unlock()
		return
	}
	d.queue = make(chan notify.Request, d.cfg.QueueSize)
	d.accepting = true
	d.stopDone = make(chan struct{})
	d.runCtx, d.runCancel = context.WithCancel(ctx)
	workers := d.cfg.Workers
	d.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		d.workerWG.Add(1)
		go func() {
			defer d.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("panic in delivery worker",
						logx.Int("worker", i), logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			d.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	q := d.queue
	done := d.stopDone
	cancel := d.runCancel
	if q == nil {
		d.mu.Unlock()
		return
	}
	// Block new deliveries.
	d.accepting = false
	d.mu.Unlock()

	// Wait for in-flight enqueues, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		d.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		d.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	d.mu.Lock()
	d.queue = nil
	d.stopDone = nil
	d.runCancel = nil
	d.runCtx = nil
	d.mu.Unlock()
}

// Deliver enqueues req. It never blocks on the underlying sink.
func (d *Dispatcher) Deliver(ctx context.Context, req notify.Request) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	d.mu.Lock()
	if !d.accepting || d.queue == nil {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	select {
	case q <- req:
		return nil
	default:
		d.log.Warn("delivery dropped, queue full", logx.String("id", req.ID))
		return ErrQueueFull
	}
}

func (d *Dispatcher) workerLoop() {
	d.mu.Lock()
	q := d.queue
	runCtx := d.runCtx
	d.mu.Unlock()

	for req := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		d.sendWithRetry(runCtx, req)
	}
}

func (d *Dispatcher) sendWithRetry(runCtx context.Context, req notify.Request) {
	d.mu.Lock()
	cfg := d.cfg
	lim := d.limiter
	sink := d.sink
	d.mu.Unlock()

	if sink == nil {
		return
	}

	maxAttempts := 1 + cfg.RetryMax

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if lim != nil {
			wctx := runCtx
			if wctx == nil {
				wctx = context.Background()
			}
			if err := lim.Wait(wctx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx := runCtx
		if callCtx == nil {
			callCtx = context.Background()
		}
		callCtx, cancel := context.WithTimeout(callCtx, 10*time.Second)
		err := sink.Deliver(callCtx, req)
		cancel()
		if err == nil {
			return
		}
		d.log.Debug("delivery attempt failed",
			logx.String("id", req.ID), logx.Err(err),
			logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			d.log.Warn("delivery failed permanently", logx.String("id", req.ID), logx.Err(err))
			return
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		rc := runCtx
		if rc == nil {
			rc = context.Background()
		}
		select {
		case <-t.C:
		case <-rc.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}
}

func retryDelay(cfg DispatcherConfig, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	// Exponential backoff: base * 2^(attempt-1), jittered 0.7..1.3.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
