package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tgrelay/internal/eventbus"
	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

var (
	ErrNoSender         = errors.New("delivery: no sender configured")
	ErrEmptyDestination = errors.New("delivery: empty destination")
)

// Engine delivers messages with bounded, classified retries and paces
// multi-destination batches. One Engine is built per process and shared by
// all request handlers; it is safe for concurrent use.
type Engine struct {
	mu     sync.RWMutex
	policy Policy

	sender kit.Sender
	log    logx.Logger
	bus    eventbus.Bus

	// wait blocks for d or until ctx is done. Tests replace it.
	wait func(ctx context.Context, d time.Duration) error

	sent     atomic.Uint64
	failed   atomic.Uint64
	attempts atomic.Uint64
	batches  atomic.Uint64
}

func New(p Policy, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		policy: p.normalized(),
		sender: sender,
		log:    log,
		bus:    bus,
		wait:   sleepCtx,
	}
}

// Apply swaps the retry/pacing policy. In-flight deliveries keep the
// snapshot they started with.
func (e *Engine) Apply(p Policy) {
	e.mu.Lock()
	e.policy = p.normalized()
	e.mu.Unlock()
}

func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

func (e *Engine) Stats() Stats {
	return Stats{
		Sent:     e.sent.Load(),
		Failed:   e.failed.Load(),
		Attempts: e.attempts.Load(),
		Batches:  e.batches.Load(),
	}
}

// DeliverOne sends msg to one destination, retrying transient failures.
//
// It never returns an error: failures are reported in the Outcome.
// Permanent and unclassified failures stop after the attempt that produced
// them. Transient failures are retried until the policy's MaxAttempts, waiting
// BaseDelay*attempt (or the transport's retry hint, when larger) in between.
func (e *Engine) DeliverOne(ctx context.Context, to kit.Destination, msg kit.Message) Outcome {
	return e.deliverOne(ctx, "", to, msg, e.Policy())
}

// DeliverMany sends the same message to each destination in order.
// See DeliverEach.
func (e *Engine) DeliverMany(ctx context.Context, dests []kit.Destination, msg kit.Message) (BatchResult, error) {
	envs := make([]Envelope, len(dests))
	for i, d := range dests {
		envs[i] = Envelope{To: d, Msg: msg}
	}
	return e.DeliverEach(ctx, envs)
}

// DeliverEach delivers each envelope strictly sequentially, pausing
// InterSendDelay between consecutive destinations. A failed destination never
// aborts the rest.
//
// If ctx ends mid-batch, processing stops, the interrupted and remaining
// destinations are left out of the result, and ctx.Err() is returned together
// with the partial result.
func (e *Engine) DeliverEach(ctx context.Context, envs []Envelope) (BatchResult, error) {
	res := newBatchResult(uuid.NewString(), len(envs))
	if len(envs) == 0 {
		return res, nil
	}

	p := e.Policy()
	start := time.Now()
	log := e.log.With(logx.String("batch", res.ID))
	log.Debug("batch started", logx.Int("destinations", len(envs)))

	var cancelErr error
	for i, env := range envs {
		if i > 0 && p.InterSendDelay > 0 {
			if err := e.wait(ctx, p.InterSendDelay); err != nil {
				cancelErr = err
				break
			}
		}
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}
		o := e.deliverOne(ctx, res.ID, env.To, env.Msg, p)
		if o.Canceled {
			cancelErr = o.Err
			break
		}
		res.add(o)
	}
	res.Took = time.Since(start)
	e.batches.Add(1)

	e.publish(EventBatchDone, BatchEvent{
		BatchID:  res.ID,
		Sent:     res.SentCount(),
		Failed:   res.FailedCount(),
		Canceled: cancelErr != nil,
		Took:     res.Took,
		At:       time.Now(),
	})

	if cancelErr != nil {
		log.Warn("batch canceled",
			logx.Int("sent", res.SentCount()),
			logx.Int("failed", res.FailedCount()),
			logx.Int("skipped", len(envs)-res.Total()),
			logx.Err(cancelErr),
		)
		return res, cancelErr
	}
	log.Info("batch finished",
		logx.Int("sent", res.SentCount()),
		logx.Int("failed", res.FailedCount()),
		logx.Duration("took", res.Took),
	)
	return res, nil
}

func (e *Engine) deliverOne(ctx context.Context, batchID string, to kit.Destination, msg kit.Message, p Policy) (out Outcome) {
	out.Destination = to
	start := time.Now()
	defer func() { out.Took = time.Since(start) }()

	log := e.log.With(logx.String("chat_id", to.String()))
	if batchID != "" {
		log = log.With(logx.String("batch", batchID))
	}

	var setupErr error
	switch {
	case e.sender == nil:
		setupErr = ErrNoSender
	case to.IsZero():
		setupErr = ErrEmptyDestination
	}
	if setupErr != nil {
		out.Class = kit.ClassUnclassified
		out.Err = setupErr
		out.Error = setupErr.Error()
		e.failed.Add(1)
		log.Warn("send skipped", logx.Err(setupErr))
		return out
	}

	// Retries resume after the parts a splitting sender already delivered.
	ctx = kit.WithProgress(ctx, &kit.Progress{})
	canceled := func(err error) Outcome {
		out.Canceled = true
		out.Err = err
		out.Error = err.Error()
		return out
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return canceled(err)
		}

		out.Attempts = attempt
		e.attempts.Add(1)
		err := e.attempt(ctx, to, msg, p.AttemptTimeout)
		if err == nil {
			out.Succeeded = true
			out.Class = kit.ClassNone
			out.Reason, out.Error, out.Err = "", "", nil
			e.sent.Add(1)
			log.Info("message delivered", logx.Int("attempt", attempt))
			e.publish(EventSent, AttemptEvent{BatchID: batchID, Destination: to.String(), Attempt: attempt, At: time.Now()})
			return out
		}

		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}

		class, de := kit.Classify(err)
		out.Class = class
		out.Err = err
		out.Error = err.Error()
		out.Reason = ""
		if de != nil {
			out.Reason = de.Reason
		}

		e.publish(EventAttemptFailed, AttemptEvent{
			BatchID:     batchID,
			Destination: to.String(),
			Attempt:     attempt,
			Class:       class,
			Error:       err.Error(),
			At:          time.Now(),
		})

		if class != kit.ClassTransient {
			log.Warn("send failed, not retrying",
				logx.Int("attempt", attempt),
				logx.String("class", string(class)),
				logx.String("reason", out.Reason),
				logx.Err(err),
			)
			break
		}
		if attempt >= p.MaxAttempts {
			log.Warn("send failed, attempts exhausted", logx.Int("attempt", attempt), logx.Err(err))
			break
		}

		delay := p.BaseDelay * time.Duration(attempt)
		if de != nil && de.RetryAfter > delay {
			delay = de.RetryAfter
		}
		log.Warn("send failed, retrying",
			logx.Int("attempt", attempt),
			logx.Int("max", p.MaxAttempts),
			logx.Duration("backoff", delay),
			logx.Err(err),
		)
		if delay > 0 {
			if werr := e.wait(ctx, delay); werr != nil {
				return canceled(werr)
			}
		}
	}

	e.failed.Add(1)
	e.publish(EventFailed, AttemptEvent{
		BatchID:     batchID,
		Destination: to.String(),
		Attempt:     out.Attempts,
		Class:       out.Class,
		Error:       out.Error,
		At:          time.Now(),
	})
	return out
}

// attempt runs a single Send bounded by timeout. A timeout is always reported
// as transient, whatever the sender returned.
func (e *Engine) attempt(ctx context.Context, to kit.Destination, msg kit.Message, timeout time.Duration) error {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := e.sender.Send(actx, to, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		if c, _ := kit.Classify(err); c != kit.ClassTransient {
			return kit.NewTransient(err, "attempt timed out")
		}
	}
	return err
}

func (e *Engine) publish(typ string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
