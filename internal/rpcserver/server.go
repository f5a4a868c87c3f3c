package rpcserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/easternanemone/rust-daq-sub004/internal/engine"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/preset"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

// Server bundles the three gRPC services onto one grpc.Server, wired to a
// shared Engine, device Registry, and preset Store.
type Server struct {
	GRPC    *grpc.Server
	Metrics *metrics

	conv *converter
}

// Config collects the components a Server is built from.
type Config struct {
	Engine          *engine.Engine
	Plans           *plan.Registry
	Registry        *registry.Registry
	Presets         *preset.Store
	Log             *logging.Logger
	MetricsRegistry prometheus.Registerer
}

// NewServer constructs a grpc.Server with the JSON codec forced (so
// clients need no generated stubs) and all three services registered, and
// starts the single converter goroutine that feeds StreamDocuments.
func NewServer(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = logging.Default()
	}

	m := newMetrics(cfg.MetricsRegistry)
	conv := newConverter(log, m)
	go conv.run(cfg.Engine.Subscribe("rpcserver-converter"))

	grpcServer := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))

	runEngineSvc := NewRunEngineService(cfg.Engine, cfg.Plans, conv, log, m)
	grpcServer.RegisterService(&runEngineServiceDesc, runEngineSvc)

	hardwareSvc := NewHardwareService(cfg.Registry, m)
	grpcServer.RegisterService(&hardwareServiceDesc, hardwareSvc)

	presetSvc := NewPresetService(cfg.Presets, cfg.Registry, m)
	grpcServer.RegisterService(&presetServiceDesc, presetSvc)

	return &Server{GRPC: grpcServer, Metrics: m, conv: conv}
}
