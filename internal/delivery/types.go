package delivery

import (
	"time"

	kit "tgrelay/internal/transport"
)

// Policy controls retry and pacing. All attempts of one DeliverOne call and
// all sends of one batch use the same snapshot.
type Policy struct {
	// MaxAttempts is the total number of tries per destination (>= 1).
	MaxAttempts int
	// BaseDelay scales the linear backoff: the wait after attempt n is BaseDelay*n.
	BaseDelay time.Duration
	// AttemptTimeout bounds each individual attempt. 0 disables the bound.
	AttemptTimeout time.Duration
	// InterSendDelay is the pause between consecutive destinations of a batch.
	InterSendDelay time.Duration
}

const (
	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultAttemptTimeout = 10 * time.Second
	DefaultInterSendDelay = 100 * time.Millisecond
)

// DefaultPolicy returns the stock retry/pacing settings.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		BaseDelay:      DefaultBaseDelay,
		AttemptTimeout: DefaultAttemptTimeout,
		InterSendDelay: DefaultInterSendDelay,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.AttemptTimeout < 0 {
		p.AttemptTimeout = 0
	}
	if p.InterSendDelay < 0 {
		p.InterSendDelay = 0
	}
	return p
}

// Outcome is the result of delivering one message to one destination.
type Outcome struct {
	Destination kit.Destination `json:"chat_id"`
	Succeeded   bool            `json:"success"`
	Attempts    int             `json:"attempts"`
	Class       kit.Class       `json:"class,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Error       string          `json:"error,omitempty"`
	Took        time.Duration   `json:"took"`

	// Canceled reports that the caller's context ended before an outcome was
	// reached. Canceled outcomes are never recorded in a BatchResult.
	Canceled bool  `json:"-"`
	Err      error `json:"-"`
}

// Envelope pairs a destination with the message it should receive.
type Envelope struct {
	To  kit.Destination
	Msg kit.Message
}

// Status summarizes a batch.
type Status string

const (
	StatusEmpty          Status = "empty"
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// BatchResult aggregates per-destination outcomes in input order.
// Every processed destination appears in exactly one of Succeeded or Failed.
type BatchResult struct {
	ID        string            `json:"id"`
	Succeeded []kit.Destination `json:"success"`
	Failed    []kit.Destination `json:"failed"`
	Outcomes  []Outcome         `json:"outcomes"`
	Took      time.Duration     `json:"took"`
}

func newBatchResult(id string, n int) BatchResult {
	return BatchResult{
		ID:        id,
		Succeeded: make([]kit.Destination, 0, n),
		Failed:    make([]kit.Destination, 0),
		Outcomes:  make([]Outcome, 0, n),
	}
}

func (r *BatchResult) add(o Outcome) {
	if o.Succeeded {
		r.Succeeded = append(r.Succeeded, o.Destination)
	} else {
		r.Failed = append(r.Failed, o.Destination)
	}
	r.Outcomes = append(r.Outcomes, o)
}

func (r BatchResult) SentCount() int   { return len(r.Succeeded) }
func (r BatchResult) FailedCount() int { return len(r.Failed) }
func (r BatchResult) Total() int       { return len(r.Succeeded) + len(r.Failed) }

func (r BatchResult) Status() Status {
	switch {
	case r.Total() == 0:
		return StatusEmpty
	case len(r.Failed) == 0:
		return StatusCompleted
	case len(r.Succeeded) == 0:
		return StatusFailed
	default:
		return StatusPartialFailure
	}
}

// Event topics published on the bus.
const (
	EventAttemptFailed = "delivery.attempt_failed"
	EventSent          = "delivery.sent"
	EventFailed        = "delivery.failed"
	EventBatchDone     = "delivery.batch_done"
)

// AttemptEvent is the payload of per-destination events.
// Keep it small; subscribers may log or serialize it.
type AttemptEvent struct {
	BatchID     string    `json:"batch_id,omitempty"`
	Destination string    `json:"chat_id"`
	Attempt     int       `json:"attempt"`
	Class       kit.Class `json:"class,omitempty"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

// BatchEvent is published once a batch has been fully processed or canceled.
type BatchEvent struct {
	BatchID  string        `json:"batch_id"`
	Sent     int           `json:"sent"`
	Failed   int           `json:"failed"`
	Canceled bool          `json:"canceled,omitempty"`
	Took     time.Duration `json:"took"`
	At       time.Time     `json:"at"`
}

// Stats are process-lifetime counters.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Failed   uint64 `json:"failed"`
	Attempts uint64 `json:"attempts"`
	Batches  uint64 `json:"batches"`
}
