package registry

import (
	"context"
	"testing"

	daq "github.com/easternanemone/rust-daq-sub004"
)

type fakeStage struct {
	id  string
	pos float64
}

func (f *fakeStage) ID() string { return f.id }
func (f *fakeStage) MoveAbs(_ context.Context, position float64) (float64, error) {
	f.pos = position
	return f.pos, nil
}

type fakeSensor struct{ id string }

func (f *fakeSensor) ID() string                            { return f.id }
func (f *fakeSensor) Read(_ context.Context) (float64, error) { return 42.0, nil }

func TestRegisterAndCapabilityQuery(t *testing.T) {
	r := New()
	r.Register(&fakeStage{id: "stage1"})
	r.Register(&fakeSensor{id: "sensor1"})

	mov, ok := Capability[daq.Movable](r, "stage1")
	if !ok {
		t.Fatal("expected stage1 to answer Movable capability query")
	}
	if _, err := mov.MoveAbs(context.Background(), 1.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := Capability[daq.Readable](r, "stage1"); ok {
		t.Fatal("stage1 should not answer Readable")
	}
	if _, ok := Capability[daq.Readable](r, "sensor1"); !ok {
		t.Fatal("sensor1 should answer Readable")
	}
	if _, ok := Capability[daq.Movable](r, "nonexistent"); ok {
		t.Fatal("unknown device should never satisfy a capability query")
	}
}

func TestUnregisterRemovesDevice(t *testing.T) {
	r := New()
	r.Register(&fakeStage{id: "stage1"})
	r.Unregister("stage1")

	if _, ok := r.Get("stage1"); ok {
		t.Fatal("expected stage1 to be removed")
	}
}

func TestCapabilitiesListsImplementedInterfaces(t *testing.T) {
	r := New()
	r.Register(&fakeStage{id: "stage1"})

	caps := r.Capabilities("stage1")
	found := false
	for _, c := range caps {
		if c == "movable" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected movable in capability list, got %v", caps)
	}
}
