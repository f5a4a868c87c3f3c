package rpcserver

import "github.com/easternanemone/rust-daq-sub004/internal/preset"

// WireDocument is the converted, wire-ready form of a daq.Document. Exactly
// one of the payload fields is non-nil, selected by Type. RunUID is always
// populated by the converter even for variants (Event) whose domain type
// only carries a descriptor id.
type WireDocument struct {
	Type   string `json:"type"`
	RunUID string `json:"run_uid"`

	Start      *WireStart      `json:"start,omitempty"`
	Descriptor *WireDescriptor `json:"descriptor,omitempty"`
	Event      *WireEvent      `json:"event,omitempty"`
	Stop       *WireStop       `json:"stop,omitempty"`
	Manifest   *WireManifest   `json:"manifest,omitempty"`
}

type WireStart struct {
	UID      string            `json:"uid"`
	TimeNs   int64             `json:"time_ns"`
	PlanType string            `json:"plan_type"`
	PlanName string            `json:"plan_name"`
	PlanArgs map[string]string `json:"plan_args"`
	Metadata map[string]string `json:"metadata"`
	Hints    []string          `json:"hints"`
}

type WireDataKey struct {
	Dtype     string `json:"dtype"`
	Shape     []int  `json:"shape"`
	Source    string `json:"source"`
	Units     string `json:"units"`
	Precision int    `json:"precision"`
}

type WireDescriptor struct {
	UID        string                 `json:"uid"`
	TimeNs     int64                  `json:"time_ns"`
	StreamName string                 `json:"stream_name"`
	DataKeys   map[string]WireDataKey `json:"data_keys"`
}

type WireEvent struct {
	UID           string             `json:"uid"`
	DescriptorUID string             `json:"descriptor_uid"`
	SeqNum        int                `json:"seq_num"`
	TimeNs        int64              `json:"time_ns"`
	Data          map[string]any     `json:"data"`
	Arrays        map[string][]byte  `json:"arrays"`
	Positions     map[string]float64 `json:"positions"`
	Timestamps    map[string]int64   `json:"timestamps"`
	Metadata      map[string]string  `json:"metadata"`
}

type WireStop struct {
	UID        string `json:"uid"`
	TimeNs     int64  `json:"time_ns"`
	ExitStatus string `json:"exit_status"`
	Reason     string `json:"reason"`
	NumEvents  int    `json:"num_events"`
}

type WireManifest struct {
	TimeNs            int64                     `json:"time_ns"`
	PlanType          string                    `json:"plan_type"`
	PlanName          string                    `json:"plan_name"`
	ParameterSnapshot map[string]map[string]any `json:"parameter_snapshot"`
	SystemInfo        map[string]string         `json:"system_info"`
}

// Empty is used for RPCs that take or return no fields.
type Empty struct{}

// QueuePlanRequest asks RunEngineService to enqueue a plan by type name
// with string-keyed construction parameters, mirroring plan.Factory.
type QueuePlanRequest struct {
	PlanType string            `json:"plan_type"`
	Params   map[string]string `json:"params"`
	Metadata map[string]string `json:"metadata"`
}

type QueuePlanResponse struct {
	RunUID string `json:"run_uid"`
}

type AbortRequest struct {
	Reason string `json:"reason"`
}

type StatusResponse struct {
	State    string `json:"state"`
	QueueLen int    `json:"queue_len"`
	RunUID   string `json:"run_uid"`
	HasRun   bool   `json:"has_run"`
	// SeqNum is the sequence number reached so far in the current run, if
	// any (see HasRun).
	SeqNum int `json:"seq_num"`
}

type ListPlanTypesResponse struct {
	PlanTypes []string `json:"plan_types"`
}

// StreamDocumentsRequest filters the converted document stream. An empty
// RunUID or DocType matches every value for that field.
type StreamDocumentsRequest struct {
	RunUID  string `json:"run_uid"`
	DocType string `json:"doc_type"`
}

type DeviceInfo struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

type ListDevicesResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

type GetParameterRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
}

type GetParameterResponse struct {
	Value any `json:"value"`
}

type SetParameterRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	// ValueJSON carries the new value pre-encoded, since a gRPC message
	// field can't itself hold a polymorphic "any" over this codec.
	ValueJSON []byte `json:"value_json"`
}

type DeviceActionRequest struct {
	DeviceID string `json:"device_id"`
}

type PresetSaveRequest struct {
	Preset preset.Preset `json:"preset"`
}

type PresetIDRequest struct {
	PresetID string `json:"preset_id"`
}

type PresetResponse struct {
	Preset preset.Preset `json:"preset"`
}

type ListPresetsResponse struct {
	Presets []preset.Metadata `json:"presets"`
}

type ApplyPresetResponse struct {
	Errors []string `json:"errors"`
}

// WireFrame is the wire form of a daq.Frame: Data is a copy, independent
// of the pool-owned allocation the frame arrived with.
type WireFrame struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Dtype       string `json:"dtype"`
	FrameNumber int64  `json:"frame_number"`
	TimestampNs int64  `json:"timestamp_ns"`
	Data        []byte `json:"data"`
}
