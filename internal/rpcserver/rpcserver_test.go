package rpcserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/engine"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/preset"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := &QueuePlanRequest{PlanType: "count", Params: map[string]string{"num_points": "5"}}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var decoded QueuePlanRequest
	require.NoError(t, c.Unmarshal(data, &decoded))
	require.Equal(t, "count", decoded.PlanType)
	require.Equal(t, "5", decoded.Params["num_points"])
}

func TestToStatusMapsErrorKind(t *testing.T) {
	err := daq.NewError("queue_plan", daq.KindNotFound, "unknown plan type")
	st := toStatus(err)
	s, ok := status.FromError(st)
	require.True(t, ok, "expected a grpc status error")
	require.Equal(t, codes.NotFound, s.Code())
}

func TestToStatusPassesThroughExistingStatus(t *testing.T) {
	original := status.Error(codes.Canceled, "client hung up")
	require.Same(t, original, toStatus(original))
}

func newTestRunEngineService() *RunEngineService {
	reg := registry.New()
	eng := engine.New(reg, nil)
	plans := plan.NewRegistry()
	plans.Register("count", func(params map[string]string) (plan.Plan, error) {
		return plan.NewCount(3), nil
	})
	conv := newConverter(nil, nil)
	return NewRunEngineService(eng, plans, conv, nil, nil)
}

func TestQueuePlanUnknownTypeReturnsNotFound(t *testing.T) {
	svc := newTestRunEngineService()
	_, err := svc.queuePlan(context.Background(), &QueuePlanRequest{PlanType: "nonexistent"})
	require.True(t, daq.IsKind(err, daq.KindNotFound))
}

func TestQueuePlanThenStatusReflectsQueueLen(t *testing.T) {
	svc := newTestRunEngineService()
	resp, err := svc.queuePlan(context.Background(), &QueuePlanRequest{PlanType: "count"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.RunUID)

	status := svc.status()
	require.Equal(t, 1, status.QueueLen)
}

func TestHardwareServiceGetParameterUnknownDevice(t *testing.T) {
	reg := registry.New()
	svc := NewHardwareService(reg, nil)
	_, err := svc.getParameter(context.Background(), &GetParameterRequest{DeviceID: "missing", Name: "x"})
	require.True(t, daq.IsKind(err, daq.KindNotFound))
}

func TestPresetServiceListEmptyStore(t *testing.T) {
	store, err := preset.NewStore(t.TempDir(), 0)
	require.NoError(t, err)

	svc := NewPresetService(store, registry.New(), nil)
	resp, err := svc.listPresets(context.Background(), &Empty{})
	require.NoError(t, err)
	require.Empty(t, resp.Presets)
}
