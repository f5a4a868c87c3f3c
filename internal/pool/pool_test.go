package pool

import (
	"bytes"
	"testing"
	"time"
)

func TestTryAcquireExhaustionDoesNotDeadlock(t *testing.T) {
	p := New(2, 16)

	l1, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	l2, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected second acquire to succeed")
	}

	if _, ok := p.TryAcquire(); ok {
		t.Fatal("expected pool to be exhausted")
	}
	if _, ok := p.AcquireWithTimeout(0); ok {
		t.Fatal("expected zero-timeout acquire on exhausted pool to fail")
	}

	l1.Release()

	l3, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected acquire to succeed after a release")
	}
	l3.Release()
	l2.Release()

	snap := p.Snapshot()
	if snap.Available != snap.Size {
		t.Fatalf("pool at rest: available=%d size=%d", snap.Available, snap.Size)
	}
	if snap.TotalReturns != snap.TotalAcquires {
		t.Fatalf("pool at rest: acquires=%d returns=%d", snap.TotalAcquires, snap.TotalReturns)
	}
}

func TestAcquireWithTimeoutBlocksThenSucceeds(t *testing.T) {
	p := New(1, 8)
	l, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()

	l2, ok := p.AcquireWithTimeout(500 * time.Millisecond)
	if !ok {
		t.Fatal("expected acquire to succeed once the lease was released")
	}
	l2.Release()
}

func TestFrozenBytesSurviveLease(t *testing.T) {
	p := New(1, 4)
	l, ok := p.TryAcquire()
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	l.CopyFromSlice([]byte{1, 2, 3})

	frozen := l.Freeze()
	clone := frozen.Clone()

	frozen.Release()
	if !bytes.Equal(clone.Bytes(), []byte{1, 2, 3}) {
		t.Fatalf("clone bytes = %v, want [1 2 3]", clone.Bytes())
	}

	if snap := p.Snapshot(); snap.Available != 0 {
		t.Fatalf("expected buffer still checked out while a clone lives, available=%d", snap.Available)
	}

	clone.Release()
	if snap := p.Snapshot(); snap.Available != 1 {
		t.Fatalf("expected buffer returned after last clone released, available=%d", snap.Available)
	}
}

func TestLeaseAfterTerminalOpPanics(t *testing.T) {
	p := New(1, 4)
	l, _ := p.TryAcquire()
	l.Release()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic from use-after-release")
		}
	}()
	l.CopyFromSlice([]byte{1})
}
