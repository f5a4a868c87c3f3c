package rpcserver

import (
	"context"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

// HardwareService lists registered devices with their capability flags and
// lets a client read/write parameters and drive Triggerable/FrameProducer
// devices directly, without a plan. There is no vendor SDK behind it: every
// handler goes through the registry's capability queries, per Non-goals.
type HardwareService struct {
	reg    *registry.Registry
	metric *metrics
}

// NewHardwareService wires a device registry to the gRPC surface. m may be
// nil if no metrics registry is in use.
func NewHardwareService(reg *registry.Registry, m *metrics) *HardwareService {
	return &HardwareService{reg: reg, metric: m}
}

func (s *HardwareService) listDevices(ctx context.Context, _ *Empty) (*ListDevicesResponse, error) {
	ids := s.reg.IDs()
	devices := make([]DeviceInfo, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, DeviceInfo{ID: id, Capabilities: s.reg.Capabilities(id)})
	}
	return &ListDevicesResponse{Devices: devices}, nil
}

func (s *HardwareService) getParameter(ctx context.Context, req *GetParameterRequest) (*GetParameterResponse, error) {
	parameterized, ok := registry.Capability[daq.Parameterized](s.reg, req.DeviceID)
	if !ok {
		return nil, daq.NewDeviceError("get_parameter", req.DeviceID, daq.KindNotFound, "device not found or not parameterized")
	}
	handle, ok := parameterized.Parameters().Get(req.Name)
	if !ok {
		return nil, daq.NewDeviceError("get_parameter", req.DeviceID, daq.KindNotFound, "parameter not found: "+req.Name)
	}
	return &GetParameterResponse{Value: handle.Value()}, nil
}

func (s *HardwareService) setParameter(ctx context.Context, req *SetParameterRequest) (*Empty, error) {
	parameterized, ok := registry.Capability[daq.Parameterized](s.reg, req.DeviceID)
	if !ok {
		return nil, daq.NewDeviceError("set_parameter", req.DeviceID, daq.KindNotFound, "device not found or not parameterized")
	}
	handle, ok := parameterized.Parameters().Get(req.Name)
	if !ok {
		return nil, daq.NewDeviceError("set_parameter", req.DeviceID, daq.KindNotFound, "parameter not found: "+req.Name)
	}
	if err := handle.SetJSON(ctx, req.ValueJSON); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *HardwareService) arm(ctx context.Context, req *DeviceActionRequest) (*Empty, error) {
	triggerable, ok := registry.Capability[daq.Triggerable](s.reg, req.DeviceID)
	if !ok {
		return nil, daq.NewDeviceError("arm", req.DeviceID, daq.KindNotFound, "device not found or not triggerable")
	}
	if err := triggerable.Arm(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *HardwareService) trigger(ctx context.Context, req *DeviceActionRequest) (*Empty, error) {
	triggerable, ok := registry.Capability[daq.Triggerable](s.reg, req.DeviceID)
	if !ok {
		return nil, daq.NewDeviceError("trigger", req.DeviceID, daq.KindNotFound, "device not found or not triggerable")
	}
	if err := triggerable.Trigger(ctx); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

// streamFrames forwards every frame from a FrameProducer device to send,
// until the client disconnects or send fails. Each frame's pool-owned
// bytes are copied into the wire message and released immediately,
// mirroring the engine's own Event.Arrays handling.
func (s *HardwareService) streamFrames(ctx context.Context, req *DeviceActionRequest, send func(*WireFrame) error) error {
	producer, ok := registry.Capability[daq.FrameProducer](s.reg, req.DeviceID)
	if !ok {
		return daq.NewDeviceError("stream_frames", req.DeviceID, daq.KindNotFound, "device not found or not a frame producer")
	}
	recv := producer.SubscribeFrames("rpc-client")
	defer recv.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-recv.Chan():
			if !ok {
				return nil
			}
			data := make([]byte, frame.Data.Len())
			copy(data, frame.Data.Bytes())
			frame.Data.Release()
			wire := &WireFrame{
				Width: frame.Width, Height: frame.Height, Dtype: frame.Dtype,
				FrameNumber: frame.FrameNumber, TimestampNs: frame.TimestampNs, Data: data,
			}
			if err := send(wire); err != nil {
				return err
			}
		}
	}
}
