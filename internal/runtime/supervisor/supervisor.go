// Package supervisor runs named goroutines under a shared context with
// panic recovery and restart loops.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "tgrelay/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
// - Named goroutines (for logging/debug)
// - Panic recovery
// - Optional cancel-on-first-error
// - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started atomic.Uint64
	active  atomic.Int64

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	doneOnce    sync.Once
	doneCh      chan struct{}
	wg          sync.WaitGroup

	mu    sync.Mutex
	stats map[string]*GoroutineStats
}

type Option func(*Supervisor)

// Counters are best-effort operational signals, not a synchronization primitive.
type Counters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// GoroutineStats aggregates runs by goroutine name.
type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Panics      uint64    `json:"panics"`
	Restarts    uint64    `json:"restarts"`
	LastStartAt time.Time `json:"last_start_at"`
	LastStopAt  time.Time `json:"last_stop_at,omitzero"`
	LastErr     string    `json:"last_err,omitempty"`
	LastPanic   string    `json:"last_panic,omitempty"`
}

// Snapshot is a point-in-time view of a supervisor.
type Snapshot struct {
	Counters   Counters         `json:"counters"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError makes the first non-nil error from any goroutine cancel
// the supervisor context.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		stats:  map[string]*GoroutineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{Active: s.active.Load(), Started: s.started.Load()}
}

// Snapshot lists goroutines, active first, then by name.
func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	gs := make([]GoroutineStats, 0, len(s.stats))
	for _, st := range s.stats {
		gs = append(gs, *st)
	}
	s.mu.Unlock()

	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Active != gs[j].Active {
			return gs[i].Active > gs[j].Active
		}
		return gs[i].Name < gs[j].Name
	})
	snap.Goroutines = gs
	return snap
}

// record applies fn to the stats entry for name under the lock.
func (s *Supervisor) record(name string, fn func(st *GoroutineStats)) {
	s.mu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &GoroutineStats{Name: name}
		s.stats[name] = st
	}
	fn(st)
	s.mu.Unlock()
}

func (s *Supervisor) noteStart(name string, isRestart bool) {
	s.record(name, func(st *GoroutineStats) {
		st.Started++
		st.Active++
		if isRestart {
			st.Restarts++
		}
		st.LastStartAt = time.Now()
	})
}

func (s *Supervisor) noteStop(name string, err error) {
	s.record(name, func(st *GoroutineStats) {
		if st.Active > 0 {
			st.Active--
		}
		st.LastStopAt = time.Now()
		if err != nil {
			st.LastErr = err.Error()
		}
	})
}

func (s *Supervisor) notePanic(name string, p any) {
	s.record(name, func(st *GoroutineStats) {
		st.Panics++
		st.LastPanic = fmt.Sprint(p)
	})
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A returned error (other than context.Canceled) or a
// panic is recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.noteStart(name, false)
		defer func() {
			if r := recover(); r != nil {
				s.notePanic(name, r)
				err := fmt.Errorf("panic in %s: %v", name, r)
				s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				s.noteStop(name, err)
				s.fail(err)
			}
		}()

		s.log.Debug("goroutine started", logx.String("name", name))
		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)
			s.fail(err)
		} else {
			s.noteStop(name, nil)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	maxRestarts     int // <=0 means unlimited
	publishFirstErr bool
}

// WithRestartBackoff configures the exponential backoff window used between restarts.
func WithRestartBackoff(minD, maxD time.Duration) RestartOption {
	return func(c *restartCfg) {
		if minD > 0 {
			c.minBackoff = minD
		}
		if maxD > 0 {
			c.maxBackoff = maxD
		}
	}
}

// WithMaxRestarts limits restarts before giving up; the first run is not a restart.
// Giving up records the final error on the supervisor.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

// WithPublishFirstError surfaces the first failure via Err while still restarting.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// GoRestart runs fn and restarts it on error or panic with jittered
// exponential backoff until the supervisor context is canceled. A nil
// return ends the task without a restart.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{
		minBackoff: 250 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.minBackoff)

	// The host goroutine uses a distinct name so the logical task's stats
	// only count fn runs.
	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		restarts := 0
		for ctx.Err() == nil {
			s.noteStart(name, restarts > 0)
			startedAt := time.Now()

			err, pan, stack := runGuarded(ctx, fn)
			if pan != nil {
				s.notePanic(name, pan)
				s.log.Error("goroutine panicked (restart)", logx.String("name", name), logx.Any("panic", pan), logx.Stack(stack))
				err = fmt.Errorf("panic: %v", pan)
			}

			// Returning during shutdown is a clean stop.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil)
				return
			}
			if err == nil {
				s.noteStop(name, nil)
				return
			}

			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, err)
			if cfg.publishFirstErr {
				s.setErr(err)
			}

			restarts++
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			if cfg.maxRestarts > 0 && restarts > cfg.maxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts), logx.Err(err))
				s.fail(err)
				return
			}

			wait := min(max(backoff, cfg.minBackoff), cfg.maxBackoff)
			if j := int64(wait) / 5; j > 0 {
				wait += time.Duration(rand.Int64N(j + 1))
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	})
}

func runGuarded(ctx context.Context, fn func(ctx context.Context) error) (err error, pan any, stack string) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			stack = string(debug.Stack())
		}
	}()
	err = fn(ctx)
	return
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}
