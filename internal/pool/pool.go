// Package pool implements the fixed-capacity buffer pool that lets camera
// frames travel producer to engine to subscribers without reallocation or
// copying: lease a mutable buffer, fill it, and either return it or freeze
// it into a reference-counted handle.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Metrics tracks pool utilization. All fields are safe for concurrent use.
type Metrics struct {
	totalAcquires atomic.Uint64
	totalReturns  atomic.Uint64
}

// Snapshot is a point-in-time read of pool metrics.
type Snapshot struct {
	Available     int
	Size          int
	TotalAcquires uint64
	TotalReturns  uint64
}

// Pool is a fixed-size set of pre-allocated, same-capacity byte buffers.
// Capacity is set at construction and never grows; exhaustion is a normal,
// observable condition rather than an error that propagates.
type Pool struct {
	bufCap int
	size   int

	sem *semaphore.Weighted

	mu   sync.Mutex
	free [][]byte

	metrics Metrics
}

// New pre-allocates n buffers of c bytes each. It panics if either n or c
// is zero, matching the pool's role as a fixed, pre-sized resource rather
// than a lazily-growing one.
func New(n, c int) *Pool {
	if n <= 0 {
		panic("pool: size must be positive")
	}
	if c <= 0 {
		panic("pool: buffer capacity must be positive")
	}

	free := make([][]byte, n)
	for i := range free {
		free[i] = make([]byte, c)
	}

	return &Pool{
		bufCap: c,
		size:   n,
		sem:    semaphore.NewWeighted(int64(n)),
		free:   free,
	}
}

// Size returns the pool's fixed capacity.
func (p *Pool) Size() int { return p.size }

// BufferCap returns the capacity of every buffer in the pool.
func (p *Pool) BufferCap() int { return p.bufCap }

// Snapshot returns a point-in-time read of pool metrics.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	avail := len(p.free)
	p.mu.Unlock()
	return Snapshot{
		Available:     avail,
		Size:          p.size,
		TotalAcquires: p.metrics.totalAcquires.Load(),
		TotalReturns:  p.metrics.totalReturns.Load(),
	}
}

func (p *Pool) take() []byte {
	p.mu.Lock()
	n := len(p.free)
	buf := p.free[n-1]
	p.free = p.free[:n-1]
	p.mu.Unlock()
	p.metrics.totalAcquires.Add(1)
	return buf
}

func (p *Pool) put(buf []byte) {
	p.mu.Lock()
	p.free = append(p.free, buf[:p.bufCap])
	p.mu.Unlock()
	p.metrics.totalReturns.Add(1)
	p.sem.Release(1)
}

// TryAcquire attempts a non-blocking lease. ok is false when all buffers
// are currently leased.
func (p *Pool) TryAcquire() (lease *Lease, ok bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	return &Lease{pool: p, buf: p.take()}, true
}

// Acquire blocks until a buffer becomes available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Lease{pool: p, buf: p.take()}, nil
}

// AcquireWithTimeout blocks up to d for a buffer to become available. ok is
// false on timeout; a zero or negative d degrades to TryAcquire.
func (p *Pool) AcquireWithTimeout(d time.Duration) (lease *Lease, ok bool) {
	if d <= 0 {
		return p.TryAcquire()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	l, err := p.Acquire(ctx)
	if err != nil {
		return nil, false
	}
	return l, true
}

// Lease is a checked-out, mutable buffer. It must be terminated exactly
// once, either by Release (return unused) or Freeze (convert to a
// reference-counted handle); using a Lease after either call panics.
type Lease struct {
	pool *Pool
	buf  []byte
	n    int
	done bool
}

// Bytes returns the full-capacity writable slice.
func (l *Lease) Bytes() []byte {
	l.checkAlive()
	return l.buf
}

// Len returns the current length cursor set by SetLen or CopyFromSlice.
func (l *Lease) Len() int { return l.n }

// SetLen sets the length cursor; it panics if n exceeds the buffer's
// capacity.
func (l *Lease) SetLen(n int) {
	l.checkAlive()
	if n < 0 || n > len(l.buf) {
		panic("pool: length out of range")
	}
	l.n = n
}

// CopyFromSlice copies src into the buffer starting at offset 0 and sets
// the length cursor to len(src).
func (l *Lease) CopyFromSlice(src []byte) int {
	l.checkAlive()
	n := copy(l.buf, src)
	l.n = n
	return n
}

// Slice returns the buffer's filled prefix, buf[:Len()].
func (l *Lease) Slice() []byte {
	l.checkAlive()
	return l.buf[:l.n]
}

func (l *Lease) checkAlive() {
	if l.done {
		panic("pool: use of lease after Release or Freeze")
	}
}

// Release returns the buffer to the pool immediately without retaining any
// reference to its contents.
func (l *Lease) Release() {
	l.checkAlive()
	l.done = true
	l.pool.put(l.buf)
}

// Freeze converts the lease's filled prefix into a reference-counted byte
// handle without allocation or copy. The lease is consumed; the underlying
// allocation returns to the pool only when the last FrozenBytes clone is
// released.
func (l *Lease) Freeze() *FrozenBytes {
	l.checkAlive()
	l.done = true
	core := &frozenCore{release: func() { l.pool.put(l.buf) }}
	core.refs.Store(1)
	return &FrozenBytes{data: l.buf[:l.n], core: core}
}

// frozenCore is the shared refcount and release callback behind every
// clone of a FrozenBytes; it must never be copied by value.
type frozenCore struct {
	refs    atomic.Int32
	release func()
}

// FrozenBytes is a reference-counted, read-only view of a pool-owned
// allocation. Clone shares the data with every other live reference; the
// underlying allocation is returned to its pool exactly once, when the
// last reference is released.
type FrozenBytes struct {
	data []byte
	core *frozenCore
}

// Bytes returns the frozen, immutable byte slice. Callers must not mutate
// it: the backing array is recycled once every reference is released.
func (f *FrozenBytes) Bytes() []byte { return f.data }

// Len returns the number of bytes held.
func (f *FrozenBytes) Len() int { return len(f.data) }

// Clone returns a new reference to the same data, incrementing the
// refcount. Each clone must eventually be released.
func (f *FrozenBytes) Clone() *FrozenBytes {
	f.core.refs.Add(1)
	return &FrozenBytes{data: f.data, core: f.core}
}

// Release decrements the refcount; when it reaches zero the underlying
// allocation is returned to its pool.
func (f *FrozenBytes) Release() {
	if f.core.refs.Add(-1) == 0 {
		f.core.release()
	}
}
