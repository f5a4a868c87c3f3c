// Package devicemock provides in-memory devices implementing daq's
// capability interfaces, for exercising the engine, registry, and RPC
// surface without real hardware.
package devicemock

import (
	"context"
	"math/rand"
	"time"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
	"github.com/easternanemone/rust-daq-sub004/internal/pool"
)

// Stage is a single-axis motion mock. Moves complete after a configurable
// settle delay proportional to travel distance.
type Stage struct {
	id     string
	params *daq.ParameterSet

	pos      *daq.Parameter[float64]
	velocity *daq.Parameter[float64]
	stopped  bool
}

// NewStage creates a Stage starting at position 0 with a default velocity
// of 10 units/second.
func NewStage(id string) *Stage {
	s := &Stage{id: id, params: daq.NewParameterSet()}
	s.pos = daq.NewParameter("position", 0.0, daq.WithUnit[float64]("mm"))
	s.velocity = daq.NewParameter("velocity", 10.0,
		daq.WithUnit[float64]("mm/s"),
		daq.WithRange(0.1, 1000.0))
	s.params.Register(s.pos)
	s.params.Register(s.velocity)
	return s
}

func (s *Stage) ID() string                    { return s.id }
func (s *Stage) Parameters() *daq.ParameterSet { return s.params }

// MoveAbs simulates a settle delay proportional to distance travelled at
// the current velocity, then reports the new position.
func (s *Stage) MoveAbs(ctx context.Context, position float64) (float64, error) {
	if s.stopped {
		return s.pos.Get(), daq.NewDeviceError("move", s.id, daq.KindPreconditionFailed, "stage is emergency-stopped")
	}
	distance := position - s.pos.Get()
	if distance < 0 {
		distance = -distance
	}
	settle := time.Duration(distance / s.velocity.Get() * float64(time.Second))
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return s.pos.Get(), ctx.Err()
		}
	}
	if err := s.pos.Set(ctx, position); err != nil {
		return s.pos.Get(), err
	}
	return position, nil
}

// EmergencyStop latches the stage so further MoveAbs calls fail until a new
// Stage is constructed; there is no software-level reset for a real
// emergency stop.
func (s *Stage) EmergencyStop(ctx context.Context) error {
	s.stopped = true
	return nil
}

// Sensor is a scalar readback mock that reports a noisy value around a
// settable baseline.
type Sensor struct {
	id       string
	params   *daq.ParameterSet
	baseline *daq.Parameter[float64]
	noise    *daq.Parameter[float64]
	rng      *rand.Rand
}

// NewSensor creates a Sensor with baseline 0 and noise amplitude 0.01.
func NewSensor(id string, seed int64) *Sensor {
	s := &Sensor{id: id, params: daq.NewParameterSet(), rng: rand.New(rand.NewSource(seed))}
	s.baseline = daq.NewParameter("baseline", 0.0)
	s.noise = daq.NewParameter("noise", 0.01, daq.WithRange(0.0, 10.0))
	s.params.Register(s.baseline)
	s.params.Register(s.noise)
	return s
}

func (s *Sensor) ID() string                    { return s.id }
func (s *Sensor) Parameters() *daq.ParameterSet { return s.params }

func (s *Sensor) Read(ctx context.Context) (float64, error) {
	jitter := (s.rng.Float64()*2 - 1) * s.noise.Get()
	return s.baseline.Get() + jitter, nil
}

// Camera is a frame-producing mock that fills each frame with an
// incrementing fill value so tests can distinguish frames by content.
type Camera struct {
	id     string
	params *daq.ParameterSet

	width, height int
	exposureMs    *daq.Parameter[float64]

	armed   bool
	frameNo int64

	pool   *pool.Pool
	frames *broadcast.Broadcaster[*daq.Frame]
}

// NewCamera creates a Camera with the given resolution, backed by a pool
// sized for a handful of in-flight uint16 frames.
func NewCamera(id string, width, height int) *Camera {
	c := &Camera{
		id:     id,
		params: daq.NewParameterSet(),
		width:  width,
		height: height,
		pool:   pool.New(8, width*height*2),
		frames: broadcast.New[*daq.Frame](),
	}
	c.exposureMs = daq.NewParameter("exposure_ms", 10.0,
		daq.WithUnit[float64]("ms"),
		daq.WithRange(0.1, 10000.0))
	c.params.Register(c.exposureMs)
	return c
}

func (c *Camera) ID() string                    { return c.id }
func (c *Camera) Parameters() *daq.ParameterSet { return c.params }
func (c *Camera) Resolution() (int, int)        { return c.width, c.height }
func (c *Camera) FrameDtype() string            { return "uint16" }

func (c *Camera) SetExposureMs(ctx context.Context, ms float64) error {
	return c.exposureMs.Set(ctx, ms)
}
func (c *Camera) ExposureMs() float64 { return c.exposureMs.Get() }

func (c *Camera) Arm(ctx context.Context) error {
	c.armed = true
	return nil
}

// SubscribeFrames opens a new subscription to this camera's frames; each
// call gets its own queue, and every subscriber receives the same frames.
func (c *Camera) SubscribeFrames(subscriberName string) *broadcast.Receiver[*daq.Frame] {
	return c.frames.Subscribe(subscriberName, 8)
}

// Trigger simulates an exposure delay, fills a leased buffer with a
// deterministic pattern, and broadcasts the frozen frame. A full pool
// drops the frame and returns a KindPoolExhausted error rather than
// blocking.
func (c *Camera) Trigger(ctx context.Context) error {
	if !c.armed {
		return daq.NewDeviceError("trigger", c.id, daq.KindPreconditionFailed, "camera not armed")
	}

	exposure := time.Duration(c.exposureMs.Get() * float64(time.Millisecond))
	select {
	case <-time.After(exposure):
	case <-ctx.Done():
		return ctx.Err()
	}

	lease, ok := c.pool.TryAcquire()
	if !ok {
		return daq.NewDeviceError("trigger", c.id, daq.KindPoolExhausted, "no free frame buffers")
	}
	buf := lease.Bytes()
	fill := byte(c.frameNo % 256)
	for i := range buf {
		buf[i] = fill
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

func (c *Camera) EmergencyStop(ctx context.Context) error {
	c.armed = false
	return nil
}

// Shutter is a simple open/closed optical-path gate.
type Shutter struct {
	id    string
	state daq.ShutterState
}

// NewShutter creates a Shutter that starts closed.
func NewShutter(id string) *Shutter {
	return &Shutter{id: id, state: daq.ShutterClosed}
}

func (s *Shutter) ID() string { return s.id }

func (s *Shutter) OpenShutter(ctx context.Context) error {
	s.state = daq.ShutterOpen
	return nil
}

func (s *Shutter) CloseShutter(ctx context.Context) error {
	s.state = daq.ShutterClosed
	return nil
}

func (s *Shutter) ShutterState() daq.ShutterState { return s.state }

func (s *Shutter) EmergencyStop(ctx context.Context) error {
	return s.CloseShutter(ctx)
}

// Laser is a wavelength-tunable emission source. EnableEmission refuses to
// proceed unless paired with a closed Shutter, mirroring a real interlock.
type Laser struct {
	id      string
	params  *daq.ParameterSet
	wlNm    *daq.Parameter[float64]
	enabled bool
	shutter *Shutter
}

// NewLaser creates a Laser tuned to 532nm by default, interlocked against
// the given Shutter.
func NewLaser(id string, interlock *Shutter) *Laser {
	l := &Laser{id: id, params: daq.NewParameterSet(), shutter: interlock}
	l.wlNm = daq.NewParameter("wavelength_nm", 532.0,
		daq.WithUnit[float64]("nm"),
		daq.WithRange(400.0, 1100.0))
	l.params.Register(l.wlNm)
	return l
}

func (l *Laser) ID() string                    { return l.id }
func (l *Laser) Parameters() *daq.ParameterSet { return l.params }

func (l *Laser) SetWavelengthNm(ctx context.Context, nm float64) error {
	return l.wlNm.Set(ctx, nm)
}
func (l *Laser) WavelengthNm() float64 { return l.wlNm.Get() }

// EnableEmission refuses to proceed if the interlocked shutter is anything
// but closed, including an unknown state, matching the fail-safe contract
// of EmissionControl.
func (l *Laser) EnableEmission(ctx context.Context) error {
	if l.shutter == nil || l.shutter.ShutterState() != daq.ShutterClosed {
		return daq.NewDeviceError("enable_emission", l.id, daq.KindPreconditionFailed, "shutter is not closed")
	}
	l.enabled = true
	return nil
}

func (l *Laser) DisableEmission(ctx context.Context) error {
	l.enabled = false
	return nil
}

func (l *Laser) EmissionEnabled() bool { return l.enabled }

func (l *Laser) EmergencyStop(ctx context.Context) error {
	return l.DisableEmission(ctx)
}
