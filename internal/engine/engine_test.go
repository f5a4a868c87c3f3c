package engine

import (
	"context"
	"testing"
	"time"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/pool"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

type fakeCamera struct {
	id      string
	armed   bool
	width   int
	height  int
	pool    *pool.Pool
	frames  *broadcast.Broadcaster[*daq.Frame]
	frameNo int64
}

func newFakeCamera(id string, width, height int) *fakeCamera {
	return &fakeCamera{
		id:     id,
		width:  width,
		height: height,
		pool:   pool.New(4, width*height*2),
		frames: broadcast.New[*daq.Frame](),
	}
}

func (c *fakeCamera) ID() string                    { return c.id }
func (c *fakeCamera) Resolution() (int, int)        { return c.width, c.height }
func (c *fakeCamera) FrameDtype() string             { return "uint16" }
func (c *fakeCamera) Arm(ctx context.Context) error  { c.armed = true; return nil }
func (c *fakeCamera) SubscribeFrames(name string) *broadcast.Receiver[*daq.Frame] {
	return c.frames.Subscribe(name, 4)
}

func (c *fakeCamera) Trigger(ctx context.Context) error {
	lease, ok := c.pool.TryAcquire()
	if !ok {
		return daq.NewDeviceError("trigger", c.id, daq.KindPoolExhausted, "no free buffers")
	}
	lease.SetLen(c.width * c.height * 2)
	c.frameNo++
	frame := &daq.Frame{
		Width:       c.width,
		Height:      c.height,
		Dtype:       "uint16",
		FrameNumber: c.frameNo,
		TimestampNs: time.Now().UnixNano(),
		Data:        lease.Freeze(),
	}
	c.frames.Broadcast(frame)
	return nil
}

func newTestEngine() (*Engine, *registry.Registry) {
	reg := registry.New()
	return New(reg, nil), reg
}

func TestEngineStateTransitionsFromIdle(t *testing.T) {
	e, _ := newTestEngine()
	if e.State() != StateIdle {
		t.Fatalf("new engine state = %v, want idle", e.State())
	}
	if err := e.Pause(); err == nil {
		t.Fatal("expected pause to fail when idle")
	}
	if err := e.Resume(); err == nil {
		t.Fatal("expected resume to fail when idle")
	}
}

func TestQueuePlanIncrementsQueueLen(t *testing.T) {
	e, _ := newTestEngine()
	e.Queue(plan.NewCount(5))
	if e.QueueLen() != 1 {
		t.Fatalf("queue len = %d, want 1", e.QueueLen())
	}
}

func TestStartEmitsStartManifestDescriptorAndStop(t *testing.T) {
	e, _ := newTestEngine()
	recv := e.Subscribe("test")

	e.Queue(plan.NewCount(3))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var types []daq.DocType
	deadline := time.After(2 * time.Second)
	for {
		select {
		case doc := <-recv.Chan():
			types = append(types, doc.DocType())
			if doc.DocType() == daq.DocTypeStop {
				goto done
			}
		case <-deadline:
			t.Fatalf("timed out waiting for documents, got %v", types)
		}
	}
done:
	if types[0] != daq.DocTypeStart {
		t.Fatalf("first document = %v, want start", types[0])
	}
	if types[1] != daq.DocTypeManifest {
		t.Fatalf("second document = %v, want manifest", types[1])
	}
	if types[2] != daq.DocTypeDescriptor {
		t.Fatalf("third document = %v, want descriptor", types[2])
	}
	if types[len(types)-1] != daq.DocTypeStop {
		t.Fatalf("last document = %v, want stop", types[len(types)-1])
	}
}

func TestEngineWithFrameProducerAttachesArrays(t *testing.T) {
	e, reg := newTestEngine()
	cam := newFakeCamera("cam1", 10, 10)
	reg.Register(cam)
	cam.Arm(context.Background())

	recv := e.Subscribe("test")
	e.Queue(plan.NewCount(3).WithDetectors("cam1"))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	var descriptorSeen bool
	eventsSeen := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case doc := <-recv.Chan():
			switch d := doc.(type) {
			case *daq.Descriptor:
				descriptorSeen = true
				if key, ok := d.DataKeys["cam1"]; ok {
					if key.Dtype != "uint16" {
						t.Fatalf("descriptor dtype = %q, want uint16", key.Dtype)
					}
					if len(key.Shape) != 2 || key.Shape[0] != 10 || key.Shape[1] != 10 {
						t.Fatalf("descriptor shape = %v, want [10 10]", key.Shape)
					}
				}
			case *daq.Event:
				eventsSeen++
				if _, ok := d.Arrays["cam1"]; !ok {
					t.Fatal("event missing cam1 array")
				}
			case *daq.Stop:
				goto done
			}
		case <-deadline:
			t.Fatalf("timed out, events seen = %d", eventsSeen)
		}
	}
done:
	if !descriptorSeen {
		t.Fatal("did not receive descriptor")
	}
	if eventsSeen != 3 {
		t.Fatalf("events seen = %d, want 3", eventsSeen)
	}
}

func TestPauseAtCheckpointThenAbortEndsWithAbortStatus(t *testing.T) {
	e, _ := newTestEngine()
	recv := e.Subscribe("test")

	e.Queue(plan.NewCount(50).WithDelay(0.05))
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Give the pump a moment to reach Running before requesting pause.
	time.Sleep(20 * time.Millisecond)
	if err := e.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if e.State() == StatePaused {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for paused state")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := e.Abort("test abort"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	var stop *daq.Stop
	drainDeadline := time.After(2 * time.Second)
	for stop == nil {
		select {
		case doc := <-recv.Chan():
			if s, ok := doc.(*daq.Stop); ok {
				stop = s
			}
		case <-drainDeadline:
			t.Fatal("timed out waiting for stop document")
		}
	}

	if stop.ExitStatus != daq.ExitAbort {
		t.Fatalf("exit status = %v, want abort", stop.ExitStatus)
	}
	if e.State() != StateIdle {
		t.Fatalf("final state = %v, want idle", e.State())
	}
}
