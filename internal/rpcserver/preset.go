package rpcserver

import (
	"context"
	"strings"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/preset"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

// PresetService wires internal/preset.Store to the gRPC surface.
type PresetService struct {
	store  *preset.Store
	reg    *registry.Registry
	metric *metrics
}

// NewPresetService wires a preset Store and device registry (for Apply) to
// the gRPC surface. m may be nil if no metrics registry is in use.
func NewPresetService(store *preset.Store, reg *registry.Registry, m *metrics) *PresetService {
	return &PresetService{store: store, reg: reg, metric: m}
}

func (s *PresetService) savePreset(ctx context.Context, req *PresetSaveRequest) (*Empty, error) {
	if err := s.store.Save(&req.Preset); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *PresetService) loadPreset(ctx context.Context, req *PresetIDRequest) (*PresetResponse, error) {
	p, err := s.store.Load(req.PresetID)
	if err != nil {
		return nil, err
	}
	return &PresetResponse{Preset: *p}, nil
}

func (s *PresetService) deletePreset(ctx context.Context, req *PresetIDRequest) (*Empty, error) {
	if err := s.store.Delete(req.PresetID); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func (s *PresetService) listPresets(ctx context.Context, _ *Empty) (*ListPresetsResponse, error) {
	metas, err := s.store.List()
	if err != nil {
		return nil, err
	}
	return &ListPresetsResponse{Presets: metas}, nil
}

func (s *PresetService) applyPreset(ctx context.Context, req *PresetIDRequest) (*ApplyPresetResponse, error) {
	p, err := s.store.Load(req.PresetID)
	if err != nil {
		return nil, err
	}
	errs := preset.Apply(ctx, s.reg, p)
	if len(errs) == 0 {
		return &ApplyPresetResponse{}, nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return &ApplyPresetResponse{Errors: msgs}, daq.NewError("apply_preset", daq.KindInvalidArgument, strings.Join(msgs, "; "))
}
