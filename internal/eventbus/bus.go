package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a small in-memory signal used to decouple the delivery engine
// from observers (logging, health, audit).
//
// Contract:
//   - Publish never blocks.
//   - Subscribers get buffered channels; a slow subscriber drops events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel receiving events whose Type starts with one
	// of prefixes (all events when none are given).
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped reports how many events were discarded because a subscriber was full.
	Dropped() uint64
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*sub
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Send under the read lock so unsubscribe (which closes) cannot race a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
