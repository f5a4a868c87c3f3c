// Package broadcast implements one-producer, many-consumer fan-out with a
// hard backpressure rule: a slow subscriber must never block a fast one.
// Each subscriber gets its own bounded queue; a full queue drops the
// message for that subscriber only.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"
)

// Default threshold policy, per the broadcaster's observability contract.
const (
	DefaultWarnDropRate     = 0.01
	DefaultErrorOccupancy   = 0.90
	DefaultWindow           = 10 * time.Second
)

// Broadcaster fans out values of type T to any number of subscribers.
// The zero value is not usable; construct with New.
type Broadcaster[T any] struct {
	warnDropRate   float64
	errOccupancy   float64
	window         time.Duration
	onThreshold    func(subscriberName string, level string, detail string)

	mu   sync.Mutex
	subs []*subscriber[T]
}

// Option configures a Broadcaster at construction time.
type Option[T any] func(*Broadcaster[T])

// WithThresholds overrides the default drop-rate warn and occupancy error
// thresholds and the rolling window they are evaluated over.
func WithThresholds[T any](warnDropRate, errOccupancy float64, window time.Duration) Option[T] {
	return func(b *Broadcaster[T]) {
		b.warnDropRate = warnDropRate
		b.errOccupancy = errOccupancy
		b.window = window
	}
}

// WithThresholdObserver registers a callback invoked at most once per
// window per subscriber for each level, when that level's threshold is
// crossed. level is "warn" or "error".
func WithThresholdObserver[T any](fn func(subscriberName, level, detail string)) Option[T] {
	return func(b *Broadcaster[T]) { b.onThreshold = fn }
}

// New creates a Broadcaster with no subscribers.
func New[T any](opts ...Option[T]) *Broadcaster[T] {
	b := &Broadcaster[T]{
		warnDropRate: DefaultWarnDropRate,
		errOccupancy: DefaultErrorOccupancy,
		window:       DefaultWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// subscriber holds one subscription's bounded queue and counters.
type subscriber[T any] struct {
	name     string
	ch       chan T
	capacity int
	closed   atomic.Bool

	totalSent    atomic.Uint64
	totalDropped atomic.Uint64

	winMu        sync.Mutex
	winStart     time.Time
	winSent      uint64
	winDropped   uint64
	warnedThisWin  bool
	erroredThisWin bool
}

// Receiver is a subscriber's handle on the fan-out.
type Receiver[T any] struct {
	sub *subscriber[T]
	b   *broadcasterHandle[T]
}

// broadcasterHandle lets a Receiver unsubscribe itself without exposing the
// full Broadcaster type to callers that only hold a Receiver.
type broadcasterHandle[T any] struct {
	unsubscribe func(*subscriber[T])
}

// Subscribe registers a new subscriber with a bounded queue of capacity K.
func (b *Broadcaster[T]) Subscribe(name string, capacity int) *Receiver[T] {
	if capacity <= 0 {
		capacity = 1
	}
	s := &subscriber[T]{name: name, ch: make(chan T, capacity), capacity: capacity}
	s.winStart = time.Now()

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return &Receiver[T]{
		sub: s,
		b:   &broadcasterHandle[T]{unsubscribe: b.unsubscribe},
	}
}

// Chan returns the channel to read delivered values from.
func (r *Receiver[T]) Chan() <-chan T { return r.sub.ch }

// Stats returns a point-in-time snapshot of this subscriber's counters.
func (r *Receiver[T]) Stats() SubscriberStats {
	return statsOf(r.sub)
}

// Unsubscribe marks the receiver dropped and removes it from the
// broadcaster immediately; Broadcast also sweeps out any subscriber still
// marked dropped.
func (r *Receiver[T]) Unsubscribe() {
	r.sub.closed.Store(true)
	r.b.unsubscribe(r.sub)
}

// unsubscribe removes s from subs immediately. Multiple simultaneous
// evictions (the dead-subscriber sweep inside Broadcast) must remove from
// the end of the slice backward so an earlier removal never shifts the
// index of an element not yet visited.
func (b *Broadcaster[T]) unsubscribe(s *subscriber[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.subs) - 1; i >= 0; i-- {
		if b.subs[i] == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Broadcast attempts a non-blocking send to every active subscriber. A
// full subscriber queue drops the message for that subscriber only; it
// never blocks the caller and never blocks another subscriber.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	// Sweep dead subscribers first, reverse order so index shifts from an
	// earlier removal never skip a later element still to be visited.
	for i := len(b.subs) - 1; i >= 0; i-- {
		if b.subs[i].closed.Load() {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
		}
	}
	subs := make([]*subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.deliver(s, v)
	}
}

func (b *Broadcaster[T]) deliver(s *subscriber[T], v T) {
	select {
	case s.ch <- v:
		s.totalSent.Add(1)
		b.recordWindow(s, true)
	default:
		s.totalDropped.Add(1)
		b.recordWindow(s, false)
	}
}

func (b *Broadcaster[T]) recordWindow(s *subscriber[T], sent bool) {
	s.winMu.Lock()
	defer s.winMu.Unlock()

	if time.Since(s.winStart) >= b.window {
		s.winStart = time.Now()
		s.winSent = 0
		s.winDropped = 0
		s.warnedThisWin = false
		s.erroredThisWin = false
	}
	if sent {
		s.winSent++
	} else {
		s.winDropped++
	}

	total := s.winSent + s.winDropped
	if total == 0 {
		return
	}
	dropRate := float64(s.winDropped) / float64(total)
	occupancy := float64(len(s.ch)) / float64(s.capacity)

	if dropRate >= b.warnDropRate && !s.warnedThisWin {
		s.warnedThisWin = true
		b.notify(s.name, "warn", "drop rate above threshold")
	}
	if occupancy >= b.errOccupancy && !s.erroredThisWin {
		s.erroredThisWin = true
		b.notify(s.name, "error", "queue occupancy above threshold")
	}
}

func (b *Broadcaster[T]) notify(name, level, detail string) {
	if b.onThreshold != nil {
		b.onThreshold(name, level, detail)
	}
}

// SubscriberStats is a point-in-time snapshot of one subscriber's counters.
type SubscriberStats struct {
	Name         string
	TotalSent    uint64
	TotalDropped uint64
	Occupancy    int
	Capacity     int
}

func statsOf[T any](s *subscriber[T]) SubscriberStats {
	return SubscriberStats{
		Name:         s.name,
		TotalSent:    s.totalSent.Load(),
		TotalDropped: s.totalDropped.Load(),
		Occupancy:    len(s.ch),
		Capacity:     s.capacity,
	}
}
