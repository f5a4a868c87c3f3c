package rpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// unaryHandler adapts a typed RPC method (context, *Req) (*Resp, error) to
// grpc's untyped MethodDesc.Handler, decoding the request with dec and
// mapping any daq error to its grpc status before returning. method and m
// label the rpcErrors counter; m may be nil (no metrics registry wired).
func unaryHandler[Req, Resp any](method string, m *metrics, fn func(context.Context, *Req) (*Resp, error)) func(ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	recordErr := func(err error) {
		if err != nil && m != nil {
			m.rpcErrors.WithLabelValues(method, errKind(err)).Inc()
		}
	}
	return func(ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			resp, err := fn(ctx, req)
			recordErr(err)
			return resp, toStatus(err)
		}
		info := &grpc.UnaryServerInfo{}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := fn(ctx, req.(*Req))
			recordErr(err)
			return resp, toStatus(err)
		}
		return interceptor(ctx, req, info, handler)
	}
}

var runEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: "daq.RunEngineService",
	HandlerType: (*RunEngineService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "QueuePlan", Handler: methodOf("QueuePlan", func(s *RunEngineService) func(context.Context, *QueuePlanRequest) (*QueuePlanResponse, error) {
			return s.queuePlan
		})},
		{MethodName: "StartEngine", Handler: methodOf("StartEngine", func(s *RunEngineService) func(context.Context, *Empty) (*StatusResponse, error) {
			return s.startEngine
		})},
		{MethodName: "PauseEngine", Handler: methodOf("PauseEngine", func(s *RunEngineService) func(context.Context, *Empty) (*StatusResponse, error) {
			return s.pauseEngine
		})},
		{MethodName: "ResumeEngine", Handler: methodOf("ResumeEngine", func(s *RunEngineService) func(context.Context, *Empty) (*StatusResponse, error) {
			return s.resumeEngine
		})},
		{MethodName: "AbortPlan", Handler: methodOf("AbortPlan", func(s *RunEngineService) func(context.Context, *AbortRequest) (*StatusResponse, error) {
			return s.abortPlan
		})},
		{MethodName: "HaltEngine", Handler: methodOf("HaltEngine", func(s *RunEngineService) func(context.Context, *Empty) (*StatusResponse, error) {
			return s.haltEngine
		})},
		{MethodName: "GetEngineStatus", Handler: methodOf("GetEngineStatus", func(s *RunEngineService) func(context.Context, *Empty) (*StatusResponse, error) {
			return s.getEngineStatus
		})},
		{MethodName: "ListPlanTypes", Handler: methodOf("ListPlanTypes", func(s *RunEngineService) func(context.Context, *Empty) (*ListPlanTypesResponse, error) {
			return s.listPlanTypes
		})},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamDocuments", Handler: streamDocumentsHandler, ServerStreams: true},
	},
	Metadata: "daq/runengine.proto",
}

// methodOf closes over a *RunEngineService-shaped bound method and adapts
// it through unaryHandler; srv is type-asserted at dispatch time the way
// grpc-go's generated code does for every service.
func methodOf[Req, Resp any](name string, bind func(*RunEngineService) func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s := srv.(*RunEngineService)
		return unaryHandler(name, s.metric, bind(s))(ctx, dec, interceptor)
	}
}

func streamDocumentsHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*RunEngineService)
	req := new(StreamDocumentsRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	err := s.streamDocuments(stream.Context(), req, func(doc *WireDocument) error {
		return stream.SendMsg(doc)
	})
	if err != nil && s.metric != nil {
		s.metric.rpcErrors.WithLabelValues("StreamDocuments", errKind(err)).Inc()
	}
	return toStatus(err)
}

var hardwareServiceDesc = grpc.ServiceDesc{
	ServiceName: "daq.HardwareService",
	HandlerType: (*HardwareService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListDevices", Handler: hwMethodOf("ListDevices", func(s *HardwareService) func(context.Context, *Empty) (*ListDevicesResponse, error) {
			return s.listDevices
		})},
		{MethodName: "GetParameter", Handler: hwMethodOf("GetParameter", func(s *HardwareService) func(context.Context, *GetParameterRequest) (*GetParameterResponse, error) {
			return s.getParameter
		})},
		{MethodName: "SetParameter", Handler: hwMethodOf("SetParameter", func(s *HardwareService) func(context.Context, *SetParameterRequest) (*Empty, error) {
			return s.setParameter
		})},
		{MethodName: "Arm", Handler: hwMethodOf("Arm", func(s *HardwareService) func(context.Context, *DeviceActionRequest) (*Empty, error) {
			return s.arm
		})},
		{MethodName: "Trigger", Handler: hwMethodOf("Trigger", func(s *HardwareService) func(context.Context, *DeviceActionRequest) (*Empty, error) {
			return s.trigger
		})},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "daq/hardware.proto",
}

func hwMethodOf[Req, Resp any](name string, bind func(*HardwareService) func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s := srv.(*HardwareService)
		return unaryHandler(name, s.metric, bind(s))(ctx, dec, interceptor)
	}
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*HardwareService)
	req := new(DeviceActionRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	err := s.streamFrames(stream.Context(), req, func(frame *WireFrame) error {
		return stream.SendMsg(frame)
	})
	if err != nil && s.metric != nil {
		s.metric.rpcErrors.WithLabelValues("StreamFrames", errKind(err)).Inc()
	}
	return toStatus(err)
}

var presetServiceDesc = grpc.ServiceDesc{
	ServiceName: "daq.PresetService",
	HandlerType: (*PresetService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SavePreset", Handler: presetMethodOf("SavePreset", func(s *PresetService) func(context.Context, *PresetSaveRequest) (*Empty, error) {
			return s.savePreset
		})},
		{MethodName: "LoadPreset", Handler: presetMethodOf("LoadPreset", func(s *PresetService) func(context.Context, *PresetIDRequest) (*PresetResponse, error) {
			return s.loadPreset
		})},
		{MethodName: "DeletePreset", Handler: presetMethodOf("DeletePreset", func(s *PresetService) func(context.Context, *PresetIDRequest) (*Empty, error) {
			return s.deletePreset
		})},
		{MethodName: "ListPresets", Handler: presetMethodOf("ListPresets", func(s *PresetService) func(context.Context, *Empty) (*ListPresetsResponse, error) {
			return s.listPresets
		})},
		{MethodName: "ApplyPreset", Handler: presetMethodOf("ApplyPreset", func(s *PresetService) func(context.Context, *PresetIDRequest) (*ApplyPresetResponse, error) {
			return s.applyPreset
		})},
	},
	Metadata: "daq/preset.proto",
}

func presetMethodOf[Req, Resp any](name string, bind func(*PresetService) func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		s := srv.(*PresetService)
		return unaryHandler(name, s.metric, bind(s))(ctx, dec, interceptor)
	}
}
