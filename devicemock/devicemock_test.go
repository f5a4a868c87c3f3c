package devicemock

import (
	"context"
	"testing"

	daq "github.com/easternanemone/rust-daq-sub004"
)

func TestStageMoveAbsSettles(t *testing.T) {
	s := NewStage("stage1")
	pos, err := s.MoveAbs(context.Background(), 1.0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if pos != 1.0 {
		t.Fatalf("pos = %v, want 1.0", pos)
	}
}

func TestStageEmergencyStopBlocksFurtherMoves(t *testing.T) {
	s := NewStage("stage1")
	if err := s.EmergencyStop(context.Background()); err != nil {
		t.Fatalf("estop: %v", err)
	}
	if _, err := s.MoveAbs(context.Background(), 5.0); err == nil {
		t.Fatal("expected move to fail after emergency stop")
	}
}

func TestSensorReadIsNearBaseline(t *testing.T) {
	s := NewSensor("sensor1", 42)
	s.baseline.Set(context.Background(), 10.0)
	v, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v < 9.9 || v > 10.1 {
		t.Fatalf("read = %v, want near 10.0", v)
	}
}

func TestCameraTriggerRequiresArm(t *testing.T) {
	c := NewCamera("cam1", 4, 4)
	if err := c.Trigger(context.Background()); !daq.IsKind(err, daq.KindPreconditionFailed) {
		t.Fatalf("expected precondition_failed, got %v", err)
	}
}

func TestCameraTriggerBroadcastsFrame(t *testing.T) {
	c := NewCamera("cam1", 4, 4)
	c.Arm(context.Background())
	recv := c.SubscribeFrames("test")
	if err := c.Trigger(context.Background()); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	frame := <-recv.Chan()
	if frame.Width != 4 || frame.Height != 4 {
		t.Fatalf("frame dims = %dx%d, want 4x4", frame.Width, frame.Height)
	}
	frame.Data.Release()
}

func TestLaserEmissionRequiresClosedShutter(t *testing.T) {
	shutter := NewShutter("shutter1")
	laser := NewLaser("laser1", shutter)

	shutter.OpenShutter(context.Background())
	if err := laser.EnableEmission(context.Background()); !daq.IsKind(err, daq.KindPreconditionFailed) {
		t.Fatalf("expected precondition_failed with open shutter, got %v", err)
	}

	shutter.CloseShutter(context.Background())
	if err := laser.EnableEmission(context.Background()); err != nil {
		t.Fatalf("enable emission with closed shutter: %v", err)
	}
	if !laser.EmissionEnabled() {
		t.Fatal("expected emission enabled")
	}
}
