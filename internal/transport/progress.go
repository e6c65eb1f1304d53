package transport

import "context"

// Progress counts the parts of one message that already reached a
// destination. Senders that split a message into several API calls skip
// the counted parts, so a retried Send does not post them twice.
//
// One Progress belongs to one (destination, message) delivery and is used
// by one goroutine at a time.
type Progress struct {
	sent int
}

// Sent reports how many parts were delivered. A nil Progress reports 0.
func (p *Progress) Sent() int {
	if p == nil {
		return 0
	}
	return p.sent
}

// Advance records one more delivered part. No-op on nil.
func (p *Progress) Advance() {
	if p != nil {
		p.sent++
	}
}

type progressKey struct{}

// WithProgress attaches p to ctx for the senders below it.
func WithProgress(ctx context.Context, p *Progress) context.Context {
	return context.WithValue(ctx, progressKey{}, p)
}

// ProgressFrom returns the Progress attached to ctx, or nil.
func ProgressFrom(ctx context.Context) *Progress {
	p, _ := ctx.Value(progressKey{}).(*Progress)
	return p
}
