package rpcserver

import (
	"context"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/engine"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
)

// RunEngineService implements the engine control and document streaming
// surface: QueuePlan, StartEngine, PauseEngine, ResumeEngine, AbortPlan,
// HaltEngine, GetEngineStatus, ListPlanTypes, StreamDocuments.
type RunEngineService struct {
	eng    *engine.Engine
	plans  *plan.Registry
	conv   *converter
	log    *logging.Logger
	metric *metrics
}

// NewRunEngineService wires an Engine and plan Registry to the gRPC
// surface, routing the engine's own document broadcast through conv.
func NewRunEngineService(eng *engine.Engine, plans *plan.Registry, conv *converter, log *logging.Logger, m *metrics) *RunEngineService {
	if log == nil {
		log = logging.Default()
	}
	return &RunEngineService{eng: eng, plans: plans, conv: conv, log: log, metric: m}
}

func (s *RunEngineService) queuePlan(ctx context.Context, req *QueuePlanRequest) (*QueuePlanResponse, error) {
	p, err, ok := s.plans.Create(req.PlanType, req.Params)
	if !ok {
		return nil, daq.NewError("queue_plan", daq.KindNotFound, "unknown plan type: "+req.PlanType)
	}
	if err != nil {
		return nil, daq.WrapError("queue_plan", err)
	}
	runUID := s.eng.QueueWithMetadata(p, req.Metadata)
	s.log.Info("plan queued", "plan_type", req.PlanType, "run_uid", runUID)
	return &QueuePlanResponse{RunUID: runUID}, nil
}

func (s *RunEngineService) startEngine(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	if err := s.eng.Start(); err != nil {
		return nil, err
	}
	return s.status(), nil
}

func (s *RunEngineService) pauseEngine(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	if err := s.eng.Pause(); err != nil {
		return nil, err
	}
	return s.status(), nil
}

func (s *RunEngineService) resumeEngine(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	if err := s.eng.Resume(); err != nil {
		return nil, err
	}
	return s.status(), nil
}

func (s *RunEngineService) abortPlan(ctx context.Context, req *AbortRequest) (*StatusResponse, error) {
	if err := s.eng.Abort(req.Reason); err != nil {
		return nil, err
	}
	return s.status(), nil
}

func (s *RunEngineService) haltEngine(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	s.eng.Halt(ctx)
	return s.status(), nil
}

func (s *RunEngineService) getEngineStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	return s.status(), nil
}

func (s *RunEngineService) status() *StatusResponse {
	runUID, hasRun := s.eng.CurrentRunUID()
	seqNum, _ := s.eng.CurrentProgress()
	return &StatusResponse{
		State:    string(s.eng.State()),
		QueueLen: s.eng.QueueLen(),
		RunUID:   runUID,
		HasRun:   hasRun,
		SeqNum:   seqNum,
	}
}

func (s *RunEngineService) listPlanTypes(ctx context.Context, _ *Empty) (*ListPlanTypesResponse, error) {
	return &ListPlanTypesResponse{PlanTypes: s.plans.ListTypes()}, nil
}

// streamDocuments forwards every converted document matching req's filter
// to send, until the client disconnects (ctx.Done()) or send fails.
func (s *RunEngineService) streamDocuments(ctx context.Context, req *StreamDocumentsRequest, send func(*WireDocument) error) error {
	recv := s.conv.subscribe("rpc-client")
	defer recv.Unsubscribe()

	if s.metric != nil {
		s.metric.activeStreams.Inc()
		defer s.metric.activeStreams.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-recv.Chan():
			if !ok {
				return nil
			}
			if !matchesFilter(doc, req) {
				continue
			}
			if err := send(doc); err != nil {
				return err
			}
			if s.metric != nil {
				s.metric.clientDocsSent.WithLabelValues(doc.Type).Inc()
			}
		}
	}
}
