package daq

import (
	"context"
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
)

var paramJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// Device is the minimal identity every registered device carries. Every
// other capability is optional and queried by interface assertion, not by
// inheritance.
type Device interface {
	ID() string
}

// Movable devices can be commanded to an absolute position.
type Movable interface {
	MoveAbs(ctx context.Context, position float64) (float64, error)
}

// Readable devices produce a scalar reading on demand.
type Readable interface {
	Read(ctx context.Context) (float64, error)
}

// Triggerable devices must be armed before they respond to a trigger.
type Triggerable interface {
	Arm(ctx context.Context) error
	Trigger(ctx context.Context) error
}

// Settable devices accept an opaque value without the validation and
// hardware-write machinery of a Parameterized device.
type Settable interface {
	SetValue(ctx context.Context, value any) error
}

// Parameterized devices expose a named set of validated parameters.
type Parameterized interface {
	Parameters() *ParameterSet
}

// FrameProducer devices emit a lazy sequence of frames. SubscribeFrames
// opens a new subscription with its own queue on each call, and every
// subscriber receives the same *Frame values; frames are
// reference-counted and must be released by each subscriber once done.
type FrameProducer interface {
	Resolution() (width, height int)
	FrameDtype() string
	SubscribeFrames(subscriberName string) *broadcast.Receiver[*Frame]
}

// ShutterState is the last known position of a shutter.
type ShutterState int

const (
	// ShutterUnknown is treated as open: emission-enable interlocks are
	// fail-safe and must refuse to proceed on an unknown shutter state.
	ShutterUnknown ShutterState = iota
	ShutterOpen
	ShutterClosed
)

// ShutterControl devices gate an optical path.
type ShutterControl interface {
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
	ShutterState() ShutterState
}

// WavelengthTunable devices can be tuned to a wavelength.
type WavelengthTunable interface {
	SetWavelengthNm(ctx context.Context, nm float64) error
	WavelengthNm() float64
}

// EmissionControl devices gate laser or source emission. Enabling emission
// must first confirm the shutter is closed.
type EmissionControl interface {
	EnableEmission(ctx context.Context) error
	DisableEmission(ctx context.Context) error
	EmissionEnabled() bool
}

// ExposureControl devices (typically cameras) expose an exposure time.
type ExposureControl interface {
	SetExposureMs(ctx context.Context, ms float64) error
	ExposureMs() float64
}

// EmergencyStopper devices accept a best-effort immediate stop signal,
// issued by Halt to every registered device regardless of whether it was
// involved in the current run.
type EmergencyStopper interface {
	EmergencyStop(ctx context.Context) error
}

// ParameterHandle is the type-erased view of a Parameter[T] used by
// ParameterSet so differently-typed parameters can share one collection.
type ParameterHandle interface {
	Name() string
	Description() string
	Unit() string
	Value() any
	SetJSON(ctx context.Context, raw []byte) error
}

// ParameterSet is a device's named collection of validated parameters.
// Registration is rare and serialized; lookups may proceed concurrently.
type ParameterSet struct {
	mu     sync.RWMutex
	params map[string]ParameterHandle
}

// NewParameterSet returns an empty parameter set.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{params: make(map[string]ParameterHandle)}
}

// Register adds a parameter, replacing any existing one of the same name.
func (s *ParameterSet) Register(h ParameterHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[h.Name()] = h
}

// Get returns the named parameter, if any.
func (s *ParameterSet) Get(name string) (ParameterHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.params[name]
	return h, ok
}

// Names returns every registered parameter name.
func (s *ParameterSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.params))
	for name := range s.params {
		names = append(names, name)
	}
	return names
}

// Snapshot returns the current value of every parameter, keyed by name, for
// Manifest capture.
func (s *ParameterSet) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.params))
	for name, h := range s.params {
		out[name] = h.Value()
	}
	return out
}

// Range bounds a parameter's accepted values. Has is false for an
// unbounded parameter.
type Range[T any] struct {
	Min, Max T
	Has      bool
}

// HardwareWriteFunc mutates the physical device to match a new parameter
// value. It runs after validation and before the value is stored.
type HardwareWriteFunc[T any] func(ctx context.Context, value T) error

// Parameter is a named, validated, observable device setting of type T.
type Parameter[T any] struct {
	name        string
	description string
	unit        string
	rng         Range[T]
	validate    func(T) error

	mu        sync.RWMutex
	value     T
	write     HardwareWriteFunc[T]
	listeners []func(old, new T)
}

// ParamOption configures a Parameter at construction.
type ParamOption[T any] func(*Parameter[T])

// WithDescription sets the parameter's human-readable description.
func WithDescription[T any](desc string) ParamOption[T] {
	return func(p *Parameter[T]) { p.description = desc }
}

// WithUnit sets the parameter's unit string.
func WithUnit[T any](unit string) ParamOption[T] {
	return func(p *Parameter[T]) { p.unit = unit }
}

// WithRange bounds accepted values to [min, max].
func WithRange[T any](min, max T) ParamOption[T] {
	return func(p *Parameter[T]) { p.rng = Range[T]{Min: min, Max: max, Has: true} }
}

// WithValidator attaches additional validation beyond range checking.
func WithValidator[T any](fn func(T) error) ParamOption[T] {
	return func(p *Parameter[T]) { p.validate = fn }
}

// WithHardwareWrite attaches the callback that mutates the physical device
// when this parameter is set.
func WithHardwareWrite[T any](fn HardwareWriteFunc[T]) ParamOption[T] {
	return func(p *Parameter[T]) { p.write = fn }
}

// NewParameter creates a parameter named name with the given initial
// value.
func NewParameter[T any](name string, initial T, opts ...ParamOption[T]) *Parameter[T] {
	p := &Parameter[T]{name: name, value: initial}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Parameter[T]) Name() string        { return p.name }
func (p *Parameter[T]) Description() string { return p.description }
func (p *Parameter[T]) Unit() string        { return p.unit }

// Value returns the current value, boxed as any so Parameter[T] satisfies
// ParameterHandle.
func (p *Parameter[T]) Value() any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Get returns the current, typed value.
func (p *Parameter[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// OnChange registers a listener invoked after every successful Set.
func (p *Parameter[T]) OnChange(fn func(old, new T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Set validates value, runs the hardware-write callback if one is
// attached, stores the new value, and notifies listeners.
func (p *Parameter[T]) Set(ctx context.Context, value T) error {
	if err := p.checkRange(value); err != nil {
		return err
	}
	if p.validate != nil {
		if err := p.validate(value); err != nil {
			return &Error{Op: "set_parameter", Kind: KindInvalidArgument, Msg: err.Error()}
		}
	}
	if p.write != nil {
		if err := p.write(ctx, value); err != nil {
			return WrapError("set_parameter", err)
		}
	}

	p.mu.Lock()
	old := p.value
	p.value = value
	listeners := append([]func(old, new T){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(old, value)
	}
	return nil
}

// checkRange enforces an optional [Min, Max] bound. Only float64, float32,
// int, int64 and int32 parameters participate; for any other T a configured
// range is not enforced and this always succeeds.
func (p *Parameter[T]) checkRange(value T) error {
	if !p.rng.Has {
		return nil
	}
	lo, loOK := toFloat64(p.rng.Min)
	hi, hiOK := toFloat64(p.rng.Max)
	v, vOK := toFloat64(value)
	if !loOK || !hiOK || !vOK {
		return nil
	}
	if v < lo || v > hi {
		return &Error{
			Op:   "set_parameter",
			Kind: KindInvalidArgument,
			Msg:  fmt.Sprintf("%s: value %v out of range [%v, %v]", p.name, value, p.rng.Min, p.rng.Max),
		}
	}
	return nil
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	default:
		return 0, false
	}
}

// SetJSON decodes raw as T and calls Set, satisfying ParameterHandle for
// wire and preset-apply callers.
func (p *Parameter[T]) SetJSON(ctx context.Context, raw []byte) error {
	var v T
	if err := paramJSON.Unmarshal(raw, &v); err != nil {
		return &Error{Op: "set_parameter", Device: p.name, Kind: KindInvalidArgument, Msg: fmt.Sprintf("decode %s: %v", p.name, err)}
	}
	return p.Set(ctx, v)
}
