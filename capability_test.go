package daq

import (
	"context"
	"testing"
)

func TestParameterRangeValidation(t *testing.T) {
	p := NewParameter("exposure_ms", 10.0, WithRange(1.0, 100.0))

	if err := p.Set(context.Background(), 500.0); err == nil {
		t.Fatal("expected out-of-range set to fail")
	}
	if !IsKind(p.Set(context.Background(), 500.0), KindInvalidArgument) {
		t.Fatal("expected KindInvalidArgument for out-of-range value")
	}
	if err := p.Set(context.Background(), 50.0); err != nil {
		t.Fatalf("expected in-range set to succeed, got %v", err)
	}
	if got := p.Get(); got != 50.0 {
		t.Fatalf("Get() = %v, want 50", got)
	}
}

func TestParameterHardwareWriteRunsBeforeStore(t *testing.T) {
	var written float64
	p := NewParameter("wavelength_nm", 0.0, WithHardwareWrite(func(_ context.Context, v float64) error {
		written = v
		return nil
	}))

	if err := p.Set(context.Background(), 780.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if written != 780.0 {
		t.Fatalf("hardware write saw %v, want 780", written)
	}
	if p.Get() != 780.0 {
		t.Fatalf("stored value %v, want 780", p.Get())
	}
}

func TestParameterOnChangeNotifiesAfterSet(t *testing.T) {
	p := NewParameter("gain", 1.0)
	var oldSeen, newSeen float64
	p.OnChange(func(old, new float64) {
		oldSeen, newSeen = old, new
	})

	if err := p.Set(context.Background(), 2.0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if oldSeen != 1.0 || newSeen != 2.0 {
		t.Fatalf("listener saw (%v, %v), want (1, 2)", oldSeen, newSeen)
	}
}

func TestParameterSetJSONAndSnapshot(t *testing.T) {
	set := NewParameterSet()
	set.Register(NewParameter("shutter_delay_ms", 5.0))

	h, ok := set.Get("shutter_delay_ms")
	if !ok {
		t.Fatal("expected parameter to be registered")
	}
	if err := h.SetJSON(context.Background(), []byte("12.5")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := set.Snapshot()
	if snap["shutter_delay_ms"] != 12.5 {
		t.Fatalf("snapshot = %v, want 12.5", snap["shutter_delay_ms"])
	}
}

func TestShutterUnknownIsFailSafe(t *testing.T) {
	if ShutterUnknown == ShutterOpen {
		t.Fatal("ShutterUnknown and ShutterOpen must be distinct values")
	}
	// Callers treat unknown as open for fail-safe interlocks; this is
	// exercised by devicemock's Laser.EnableEmission.
}
