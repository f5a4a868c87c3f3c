package daq

import "github.com/easternanemone/rust-daq-sub004/internal/pool"

// DocType identifies which Document variant a value carries.
type DocType string

const (
	DocTypeStart      DocType = "start"
	DocTypeDescriptor DocType = "descriptor"
	DocTypeEvent      DocType = "event"
	DocTypeStop       DocType = "stop"
	DocTypeManifest   DocType = "manifest"
)

// ExitStatus classifies how a run ended.
type ExitStatus string

const (
	ExitSuccess ExitStatus = "success"
	ExitAbort   ExitStatus = "abort"
	ExitFail    ExitStatus = "fail"
)

// Document is the tagged-union interface implemented by every document
// variant emitted onto a run's broadcast stream. Once constructed, a
// Document value is never mutated; subscribers share the same immutable
// value.
type Document interface {
	DocType() DocType
	DocUID() string
	DocTimeNs() int64
}

// Start opens a run. Exactly one Start is emitted per run, and it is always
// the first document of that run.
type Start struct {
	UID      string
	TimeNs   int64
	PlanType string
	PlanName string
	PlanArgs map[string]string
	Metadata map[string]string
	// Hints lists the device ids the plan will move, for clients that want
	// to render motion ahead of the first MoveTo.
	Hints []string
}

func (s *Start) DocType() DocType { return DocTypeStart }
func (s *Start) DocUID() string   { return s.UID }
func (s *Start) DocTimeNs() int64 { return s.TimeNs }

// DataKey declares the shape and type of one named field produced within a
// stream.
type DataKey struct {
	Dtype     string
	Shape     []int
	Source    string
	Units     string
	Precision int
}

// Descriptor declares the schema of Events that carry its UID as their
// DescriptorUID. A run may have more than one Descriptor, one per stream;
// "primary" is the conventional name for the main acquisition stream.
type Descriptor struct {
	UID        string
	RunUID     string
	TimeNs     int64
	StreamName string
	DataKeys   map[string]DataKey
}

func (d *Descriptor) DocType() DocType { return DocTypeDescriptor }
func (d *Descriptor) DocUID() string   { return d.UID }
func (d *Descriptor) DocTimeNs() int64 { return d.TimeNs }

// Event carries one row of acquired data for a stream. SeqNum is strictly
// monotonic starting at 0 within its descriptor.
type Event struct {
	UID           string
	DescriptorUID string
	SeqNum        int
	TimeNs        int64
	Data          map[string]any
	Arrays        map[string][]byte
	Positions     map[string]float64
	Timestamps    map[string]int64
	Metadata      map[string]string
}

func (e *Event) DocType() DocType { return DocTypeEvent }
func (e *Event) DocUID() string   { return e.UID }
func (e *Event) DocTimeNs() int64 { return e.TimeNs }

// Stop closes a run. Exactly one Stop is emitted per run, and it is always
// the final document of that run.
type Stop struct {
	UID        string
	RunUID     string
	TimeNs     int64
	ExitStatus ExitStatus
	Reason     string
	NumEvents  int
}

func (s *Stop) DocType() DocType { return DocTypeStop }
func (s *Stop) DocUID() string   { return s.UID }
func (s *Stop) DocTimeNs() int64 { return s.TimeNs }

// Manifest snapshots every parameterized device's values at run start. It
// is optional; not every subscriber needs to understand it.
type Manifest struct {
	RunUID            string
	TimeNs            int64
	PlanType          string
	PlanName          string
	ParameterSnapshot map[string]map[string]any
	SystemInfo        map[string]string
}

func (m *Manifest) DocType() DocType { return DocTypeManifest }
func (m *Manifest) DocUID() string   { return m.RunUID }
func (m *Manifest) DocTimeNs() int64 { return m.TimeNs }

// Frame is one reference-counted image produced by a FrameProducer device.
// Data is a clone of the pool-owned allocation; the underlying buffer
// returns to its pool only when every clone, including this one, has been
// released.
type Frame struct {
	Width       int
	Height      int
	Dtype       string
	FrameNumber int64
	TimestampNs int64
	Data        *pool.FrozenBytes
}
