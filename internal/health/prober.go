// Package health probes the messaging platform on a schedule and keeps the
// latest result for the /health endpoint.
package health

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tgrelay/internal/eventbus"
	logx "tgrelay/pkg/logx"
)

// EventProbe is published after every probe.
const EventProbe = "health.probe"

const defaultTimeout = 5 * time.Second

// Pinger checks that the platform answers (Telegram getMe).
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls the schedule. Spec "off" (or empty) disables scheduled
// probes; ProbeNow still works.
type Config struct {
	Spec    string
	Timeout time.Duration
}

func (c Config) enabled() bool {
	s := strings.TrimSpace(c.Spec)
	return s != "" && !strings.EqualFold(s, "off")
}

// Status is the latest probe result.
type Status struct {
	Ready     bool      `json:"ready"`
	LastProbe time.Time `json:"last_probe,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Probes    uint64    `json:"probes"`
	Failures  uint64    `json:"failures"`
}

// ProbeEvent is the payload of EventProbe.
type ProbeEvent struct {
	OK   bool          `json:"ok"`
	Took time.Duration `json:"took"`
	Err  string        `json:"err,omitempty"`
}

type Prober struct {
	pinger Pinger
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	ctx     context.Context
	entryID cron.EntryID

	smu    sync.RWMutex
	status Status

	probing atomic.Bool
}

// New builds a prober. ready is the initial readiness (the sender already
// validated its token at construction).
func New(cfg Config, pinger Pinger, ready bool, log logx.Logger, bus eventbus.Bus) *Prober {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Prober{
		pinger: pinger,
		log:    log.With(logx.String("comp", "health")),
		bus:    bus,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		cfg:    cfg,
		status: Status{Ready: ready},
	}
}

// Start schedules probes and runs one immediately in the background.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	p.ctx = ctx
	p.c = cron.New(
		cron.WithParser(p.parser),
		cron.WithChain(cron.Recover(cron.DiscardLogger)),
	)
	if err := p.scheduleLocked(); err != nil {
		p.c = nil
		return err
	}
	p.c.Start()
	go func() { _ = p.ProbeNow(ctx) }()
	p.log.Info("health prober started", logx.String("spec", p.cfg.Spec))
	return nil
}

func (p *Prober) scheduleLocked() error {
	if !p.cfg.enabled() {
		return nil
	}
	id, err := p.c.AddFunc(strings.TrimSpace(p.cfg.Spec), func() {
		p.mu.Lock()
		ctx := p.ctx
		p.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		_ = p.ProbeNow(ctx)
	})
	if err != nil {
		return err
	}
	p.entryID = id
	return nil
}

// Apply replaces the schedule. A running prober is rescheduled in place.
func (p *Prober) Apply(cfg Config) error {
	if cfg.enabled() {
		if _, err := p.parser.Parse(strings.TrimSpace(cfg.Spec)); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.cfg
	p.cfg = cfg
	if p.c == nil || old.Spec == cfg.Spec {
		return nil
	}
	if p.entryID != 0 {
		p.c.Remove(p.entryID)
		p.entryID = 0
	}
	p.log.Info("health probe rescheduled", logx.String("spec", cfg.Spec))
	return p.scheduleLocked()
}

// Stop halts the schedule and waits for a running probe, bounded by ctx.
func (p *Prober) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// ErrProbeRunning is returned when a probe is already in flight.
var ErrProbeRunning = errors.New("probe already running")

// ProbeNow pings once and records the result.
func (p *Prober) ProbeNow(ctx context.Context) error {
	if p.pinger == nil {
		return errors.New("no pinger")
	}
	if !p.probing.CompareAndSwap(false, true) {
		return ErrProbeRunning
	}
	defer p.probing.Store(false)

	p.mu.Lock()
	timeout := p.cfg.Timeout
	p.mu.Unlock()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.pinger.Ping(pctx)
	took := time.Since(start)

	p.smu.Lock()
	wasReady := p.status.Ready
	p.status.Probes++
	p.status.LastProbe = start
	p.status.Ready = err == nil
	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
	} else {
		p.status.LastError = ""
	}
	p.smu.Unlock()

	ev := ProbeEvent{OK: err == nil, Took: took}
	switch {
	case err != nil && wasReady:
		p.log.Warn("telegram probe failed", logx.Err(err), logx.Duration("took", took))
	case err != nil:
		p.log.Debug("telegram probe still failing", logx.Err(err))
	case !wasReady:
		p.log.Info("telegram probe recovered", logx.Duration("took", took))
	}
	if err != nil {
		ev.Err = err.Error()
	}
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: EventProbe, Data: ev})
	}
	return err
}

func (p *Prober) Status() Status {
	p.smu.RLock()
	defer p.smu.RUnlock()
	return p.status
}
