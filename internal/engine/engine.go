// Package engine implements the RunEngine: the state machine that pumps a
// Plan's commands against a device registry and emits documents onto a
// broadcast fan-out.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	daq "github.com/easternanemone/rust-daq-sub004"
	"github.com/easternanemone/rust-daq-sub004/internal/broadcast"
	"github.com/easternanemone/rust-daq-sub004/internal/logging"
	"github.com/easternanemone/rust-daq-sub004/internal/plan"
	"github.com/easternanemone/rust-daq-sub004/internal/registry"
	"github.com/easternanemone/rust-daq-sub004/internal/uid"
)

// State is one of the engine's four states. Terminal transitions all
// return to Idle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePaused   State = "paused"
	StateAborting State = "aborting"
)

// pausePollInterval is how often a Paused run checks for resume or abort.
const pausePollInterval = 100 * time.Millisecond

// docBroadcastCapacity bounds each document subscriber's queue.
const docBroadcastCapacity = 1024

type queuedPlan struct {
	plan     plan.Plan
	metadata map[string]string
	runUID   string
}

// runContext is the pump's private scratchpad for the currently executing
// run. It is created on Start and destroyed the instant the run ends; it
// is never exposed outside the pump goroutine.
type runContext struct {
	runUID         string
	descriptorUID  string
	seqNum         int
	startNs        int64
	pendingReads   map[string]float64
	pendingFrames  map[string]*daq.Frame
	currentPos     map[string]float64
	frameSubs      map[string]*frameSub
}

type frameSub struct {
	deviceID string
	unsub    func()
	frames   <-chan *daq.Frame
}

// Engine is the RunEngine: it owns the plan queue, the device registry,
// and the document broadcast.
type Engine struct {
	registry *registry.Registry
	docs     *broadcast.Broadcaster[daq.Document]
	log      *logging.Logger

	mu             sync.RWMutex
	state          State
	pauseRequested bool
	abortRequested bool
	abortReason    string
	lastCheckpoint string

	queueMu sync.Mutex
	queue   []*queuedPlan

	runMu sync.Mutex
	run   *runContext

	// abortSignal is closed whenever abort or halt fires, to unblock a
	// pump goroutine waiting on a frame subscription. Replaced with a
	// fresh channel at the start of every run.
	abortSignal chan struct{}
}

// New creates an Engine bound to reg. A nil logger uses logging.Default().
func New(reg *registry.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		registry: reg,
		docs:     broadcast.New[daq.Document](),
		log:      log,
		state:    StateIdle,
	}
}

// Subscribe returns a receiver of every document this engine emits,
// across all runs.
func (e *Engine) Subscribe(name string) *broadcast.Receiver[daq.Document] {
	return e.docs.Subscribe(name, docBroadcastCapacity)
}

// State reports the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// QueueLen reports how many plans are waiting to run.
func (e *Engine) QueueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Queue adds p to the FIFO run queue and returns its freshly assigned run
// UID immediately, so a caller can subscribe before the run starts.
func (e *Engine) Queue(p plan.Plan) string {
	return e.QueueWithMetadata(p, nil)
}

// QueueWithMetadata is Queue with caller-supplied run metadata attached to
// the eventual Start document.
func (e *Engine) QueueWithMetadata(p plan.Plan, metadata map[string]string) string {
	runUID := uid.New()
	e.log.WithRun(runUID).With("plan_type", p.PlanType()).Info("queueing plan")

	e.queueMu.Lock()
	e.queue = append(e.queue, &queuedPlan{plan: p, metadata: metadata, runUID: runUID})
	e.queueMu.Unlock()

	return runUID
}

// ClearQueue discards every queued plan that has not yet started.
func (e *Engine) ClearQueue() {
	e.queueMu.Lock()
	e.queue = nil
	e.queueMu.Unlock()
}

// CurrentRunUID returns the run UID of the run in progress, if any.
func (e *Engine) CurrentRunUID() (string, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.run == nil {
		return "", false
	}
	return e.run.runUID, true
}

// CurrentProgress returns the sequence number reached so far in the
// current run, if any.
func (e *Engine) CurrentProgress() (int, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.run == nil {
		return 0, false
	}
	return e.run.seqNum, true
}

// CurrentRunStartNs returns the wall-clock start time of the current run,
// if any.
func (e *Engine) CurrentRunStartNs() (int64, bool) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.run == nil {
		return 0, false
	}
	return e.run.startNs, true
}

// Start dequeues the head plan and begins execution on a background
// goroutine. It returns once the state transition is visible to callers;
// it does not wait for the run to finish.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != StateIdle {
		s := e.state
		e.mu.Unlock()
		return &daq.Error{Op: "start", Kind: daq.KindInvalidState, Msg: fmt.Sprintf("cannot start: engine is %s", s)}
	}
	e.pauseRequested = false
	e.abortRequested = false
	e.abortReason = ""
	e.mu.Unlock()

	e.queueMu.Lock()
	if len(e.queue) == 0 {
		e.queueMu.Unlock()
		return &daq.Error{Op: "start", Kind: daq.KindInvalidState, Msg: "no plans in queue"}
	}
	queued := e.queue[0]
	e.queue = e.queue[1:]
	e.queueMu.Unlock()

	e.abortSignal = make(chan struct{})
	e.setState(StateRunning)
	e.log.Info("engine started", "run_uid", queued.runUID)

	go e.executePlan(queued)
	return nil
}

// Pause requests a pause at the next checkpoint. It does not itself
// transition the state; only the Checkpoint command handler does, once it
// observes the request.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return &daq.Error{Op: "pause", Kind: daq.KindInvalidState, Msg: fmt.Sprintf("cannot pause: engine is %s", e.state)}
	}
	e.log.Info("pause requested")
	e.pauseRequested = true
	return nil
}

// Resume continues a paused run.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return &daq.Error{Op: "resume", Kind: daq.KindInvalidState, Msg: fmt.Sprintf("cannot resume: engine is %s", e.state)}
	}
	e.log.Info("resuming from pause")
	e.pauseRequested = false
	e.state = StateRunning
	return nil
}

// Abort stops the current run at its next safe point.
func (e *Engine) Abort(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateRunning, StatePaused:
		e.log.With("reason", reason).Info("abort requested")
		e.abortRequested = true
		e.abortReason = reason
		e.state = StateAborting
		if e.abortSignal != nil {
			closeOnce(e.abortSignal)
		}
		return nil
	default:
		return &daq.Error{Op: "abort", Kind: daq.KindInvalidState, Msg: fmt.Sprintf("cannot abort: engine is %s", e.state)}
	}
}

// Halt is an emergency stop: abort plus a best-effort stop signal sent to
// every device in the registry, regardless of the engine's current state.
func (e *Engine) Halt(ctx context.Context) {
	e.mu.Lock()
	e.log.Warn("HALT requested - emergency stop")
	e.abortRequested = true
	e.abortReason = "halt"
	e.state = StateAborting
	if e.abortSignal != nil {
		closeOnce(e.abortSignal)
	}
	e.mu.Unlock()

	for _, id := range e.registry.IDs() {
		if stopper, ok := registry.Capability[daq.EmergencyStopper](e.registry, id); ok {
			if err := stopper.EmergencyStop(ctx); err != nil {
				e.log.WithDevice(id).WithError(err).Warn("halt: device stop signal failed")
			}
		}
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// executePlan runs one dequeued plan end to end: Start, Manifest,
// Descriptor, the command pump, and Stop. It always returns the engine to
// Idle, however the run ended.
func (e *Engine) executePlan(queued *queuedPlan) {
	ctx := context.Background()
	p := queued.plan
	runUID := queued.runUID
	startNs := time.Now().UnixNano()

	start := &daq.Start{
		UID:      runUID,
		TimeNs:   startNs,
		PlanType: p.PlanType(),
		PlanName: p.PlanName(),
		PlanArgs: p.PlanArgs(),
		Metadata: queued.metadata,
		Hints:    p.Movers(),
	}
	e.emit(start)

	manifest := e.captureManifest(runUID, startNs, p, queued.metadata)
	e.emit(manifest)

	frameSubs := e.subscribeFrames(p, runUID)
	descriptor := e.buildDescriptor(runUID, p)
	e.emit(descriptor)

	e.runMu.Lock()
	e.run = &runContext{
		runUID:        runUID,
		descriptorUID: descriptor.UID,
		startNs:       startNs,
		pendingReads:  make(map[string]float64),
		pendingFrames: make(map[string]*daq.Frame),
		currentPos:    make(map[string]float64),
		frameSubs:     frameSubs,
	}
	e.runMu.Unlock()

	numEvents, exitStatus, reason := e.pump(ctx, p)

	e.runMu.Lock()
	for _, fs := range e.run.frameSubs {
		fs.unsub()
	}
	e.run = nil
	e.runMu.Unlock()

	stop := &daq.Stop{
		UID:        uid.New(),
		RunUID:     runUID,
		TimeNs:     time.Now().UnixNano(),
		ExitStatus: exitStatus,
		Reason:     reason,
		NumEvents:  numEvents,
	}
	e.emit(stop)

	e.setState(StateIdle)
	e.log.WithRun(runUID).With("exit_status", string(exitStatus)).With("num_events", numEvents).Info("plan execution complete")
}

// pump drives p's commands to completion, abort, or failure and reports
// how the run ended.
func (e *Engine) pump(ctx context.Context, p plan.Plan) (numEvents int, exitStatus daq.ExitStatus, reason string) {
	for {
		e.mu.RLock()
		aborted := e.abortRequested
		abortReason := e.abortReason
		e.mu.RUnlock()
		if aborted {
			return numEvents, daq.ExitAbort, orDefault(abortReason, "user requested abort")
		}

		if e.State() == StatePaused {
			if stop, aReason := e.waitWhilePaused(); stop {
				return numEvents, daq.ExitAbort, aReason
			}
			continue
		}

		cmd, ok := p.NextCommand()
		if !ok {
			return numEvents, daq.ExitSuccess, ""
		}

		emitted, err := e.processCommand(ctx, cmd)
		if err != nil {
			if daq.IsKind(err, daq.KindCancelled) {
				return numEvents, daq.ExitAbort, err.Error()
			}
			e.log.WithError(err).Error("plan execution failed")
			return numEvents, daq.ExitFail, err.Error()
		}
		if emitted {
			numEvents++
		}
	}
}

// waitWhilePaused polls the pause/abort flags at pausePollInterval until
// either resume or abort. It returns (true, reason) if the pause ended in
// abort.
func (e *Engine) waitWhilePaused() (abortedDuringPause bool, reason string) {
	for {
		time.Sleep(pausePollInterval)

		e.mu.RLock()
		aborted := e.abortRequested
		abortReason := e.abortReason
		running := e.state == StateRunning
		e.mu.RUnlock()

		if aborted {
			return true, orDefault(abortReason, "user requested abort during pause")
		}
		if running {
			return false, ""
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// processCommand dispatches one PlanCommand. It returns true if the
// command produced an Event.
func (e *Engine) processCommand(ctx context.Context, cmd plan.PlanCommand) (bool, error) {
	switch cmd.Kind {
	case plan.CmdMoveTo:
		return false, e.doMove(ctx, cmd.Device, cmd.Position)
	case plan.CmdRead:
		return false, e.doRead(ctx, cmd.Device)
	case plan.CmdTrigger:
		return false, e.doTrigger(ctx, cmd.Device)
	case plan.CmdWait:
		time.Sleep(time.Duration(cmd.Seconds * float64(time.Second)))
		return false, nil
	case plan.CmdCheckpoint:
		return false, e.doCheckpoint(cmd.Label)
	case plan.CmdEmitEvent:
		return true, e.doEmitEvent(cmd)
	case plan.CmdSet:
		return false, e.doSet(ctx, cmd.Device, cmd.Parameter, cmd.Value)
	default:
		return false, daq.NewError("process_command", daq.KindInvalidArgument, "unknown command kind")
	}
}

func (e *Engine) doMove(ctx context.Context, deviceID string, position float64) error {
	mover, ok := registry.Capability[daq.Movable](e.registry, deviceID)
	if !ok {
		e.log.WithDevice(deviceID).Warn("device not found or not movable, skipping move")
		return nil
	}
	if _, err := mover.MoveAbs(ctx, position); err != nil {
		return daq.NewDeviceError("move_to", deviceID, daq.KindDeviceFailure, err.Error())
	}

	e.runMu.Lock()
	if e.run != nil {
		e.run.currentPos[deviceID] = position
	}
	e.runMu.Unlock()
	return nil
}

func (e *Engine) doRead(ctx context.Context, deviceID string) error {
	e.runMu.Lock()
	fs, hasFrameSub := e.run.frameSubs[deviceID]
	e.runMu.Unlock()

	if hasFrameSub {
		select {
		case frame, ok := <-fs.frames:
			if !ok {
				e.log.WithDevice(deviceID).Warn("frame subscription closed")
				return nil
			}
			e.runMu.Lock()
			if e.run != nil {
				e.run.pendingFrames[deviceID] = frame
			}
			e.runMu.Unlock()
			return nil
		case <-e.abortSignal:
			return daq.NewDeviceError("read", deviceID, daq.KindCancelled, "aborted while waiting for frame")
		}
	}

	reader, ok := registry.Capability[daq.Readable](e.registry, deviceID)
	if !ok {
		e.log.WithDevice(deviceID).Warn("device not found or not readable, returning 0.0")
		e.runMu.Lock()
		if e.run != nil {
			e.run.pendingReads[deviceID] = 0.0
		}
		e.runMu.Unlock()
		return nil
	}

	value, err := reader.Read(ctx)
	if err != nil {
		return daq.NewDeviceError("read", deviceID, daq.KindDeviceFailure, err.Error())
	}

	e.runMu.Lock()
	if e.run != nil {
		e.run.pendingReads[deviceID] = value
	}
	e.runMu.Unlock()
	return nil
}

func (e *Engine) doTrigger(ctx context.Context, deviceID string) error {
	triggerable, ok := registry.Capability[daq.Triggerable](e.registry, deviceID)
	if !ok {
		e.log.WithDevice(deviceID).Debug("device not triggerable, skipping")
		return nil
	}
	if err := triggerable.Trigger(ctx); err != nil {
		return daq.NewDeviceError("trigger", deviceID, daq.KindDeviceFailure, err.Error())
	}
	return nil
}

func (e *Engine) doCheckpoint(label string) error {
	e.mu.Lock()
	e.lastCheckpoint = label
	pauseWanted := e.pauseRequested
	if pauseWanted && e.state == StateRunning {
		e.log.Info("pausing at checkpoint")
		e.state = StatePaused
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) doEmitEvent(cmd plan.PlanCommand) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.run == nil {
		return daq.NewError("emit_event", daq.KindInvalidState, "no active run context")
	}

	data := make(map[string]any, len(cmd.Data)+len(e.run.pendingReads))
	for k, v := range cmd.Data {
		data[k] = v
	}
	for k, v := range e.run.pendingReads {
		data[k] = v
	}
	e.run.pendingReads = make(map[string]float64)

	// Event.Arrays owns its bytes independently of the pool, so the frame's
	// pooled allocation can return to the pool as soon as this event is
	// built rather than staying leased for however long the event lives.
	arrays := make(map[string][]byte, len(e.run.pendingFrames))
	for k, frame := range e.run.pendingFrames {
		buf := make([]byte, frame.Data.Len())
		copy(buf, frame.Data.Bytes())
		arrays[k] = buf
		frame.Data.Release()
	}
	e.run.pendingFrames = make(map[string]*daq.Frame)

	positions := make(map[string]float64, len(e.run.currentPos)+len(cmd.Positions))
	for k, v := range e.run.currentPos {
		positions[k] = v
	}
	for k, v := range cmd.Positions {
		positions[k] = v
	}

	event := &daq.Event{
		UID:           uid.New(),
		DescriptorUID: e.run.descriptorUID,
		SeqNum:        e.run.seqNum,
		TimeNs:        time.Now().UnixNano(),
		Data:          data,
		Arrays:        arrays,
		Positions:     positions,
	}
	e.run.seqNum++

	e.docs.Broadcast(event)
	return nil
}

func (e *Engine) doSet(ctx context.Context, deviceID, parameter, value string) error {
	if settable, ok := registry.Capability[daq.Settable](e.registry, deviceID); ok {
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		if err := settable.SetValue(ctx, decoded); err != nil {
			return daq.WrapError("set", err)
		}
		return nil
	}

	if parameterized, ok := registry.Capability[daq.Parameterized](e.registry, deviceID); ok {
		handle, ok := parameterized.Parameters().Get(parameter)
		if !ok {
			return daq.NewDeviceError("set", deviceID, daq.KindNotFound, fmt.Sprintf("parameter %q not found", parameter))
		}
		raw := []byte(value)
		if !json.Valid(raw) {
			quoted, err := json.Marshal(value)
			if err != nil {
				return daq.NewDeviceError("set", deviceID, daq.KindInvalidArgument, err.Error())
			}
			raw = quoted
		}
		if err := handle.SetJSON(ctx, raw); err != nil {
			return daq.WrapError("set", err)
		}
		return nil
	}

	return daq.NewDeviceError("set", deviceID, daq.KindNotFound, "device not found or does not support parameter setting")
}

// captureManifest snapshots every parameterized device's current values.
func (e *Engine) captureManifest(runUID string, startNs int64, p plan.Plan, metadata map[string]string) *daq.Manifest {
	snapshot := make(map[string]map[string]any)
	for _, id := range e.registry.IDs() {
		if parameterized, ok := registry.Capability[daq.Parameterized](e.registry, id); ok {
			snapshot[id] = parameterized.Parameters().Snapshot()
		}
	}

	e.log.WithRun(runUID).With("num_devices", len(snapshot)).Info("captured experiment manifest with hardware parameters")

	return &daq.Manifest{
		RunUID:            runUID,
		TimeNs:            startNs,
		PlanType:          p.PlanType(),
		PlanName:          p.PlanName(),
		ParameterSnapshot: snapshot,
		SystemInfo: map[string]string{
			"software_version": "dev",
		},
	}
}

// subscribeFrames opens a frame subscription for every detector that is a
// FrameProducer.
func (e *Engine) subscribeFrames(p plan.Plan, runUID string) map[string]*frameSub {
	subs := make(map[string]*frameSub)
	for _, detID := range p.Detectors() {
		producer, ok := registry.Capability[daq.FrameProducer](e.registry, detID)
		if !ok {
			continue
		}
		recv := producer.SubscribeFrames("run:" + runUID)
		e.log.WithDevice(detID).Info("subscribed to frames")
		subs[detID] = &frameSub{
			deviceID: detID,
			unsub:    recv.Unsubscribe,
			frames:   recv.Chan(),
		}
	}
	return subs
}

// buildDescriptor declares the primary stream's schema: array keys for
// frame producers, scalar keys for everything else a detector or mover
// names.
func (e *Engine) buildDescriptor(runUID string, p plan.Plan) *daq.Descriptor {
	dataKeys := make(map[string]daq.DataKey)

	for _, detID := range p.Detectors() {
		if producer, ok := registry.Capability[daq.FrameProducer](e.registry, detID); ok {
			w, h := producer.Resolution()
			dataKeys[detID] = daq.DataKey{
				Dtype:  producer.FrameDtype(),
				Shape:  []int{h, w},
				Source: detID,
			}
			continue
		}
		dataKeys[detID] = daq.DataKey{Dtype: "float64", Source: detID}
	}
	for _, moverID := range p.Movers() {
		dataKeys[moverID] = daq.DataKey{Dtype: "float64", Source: moverID}
	}

	return &daq.Descriptor{
		UID:        uid.New(),
		RunUID:     runUID,
		TimeNs:     time.Now().UnixNano(),
		StreamName: "primary",
		DataKeys:   dataKeys,
	}
}

func (e *Engine) emit(doc daq.Document) {
	e.log.With("doc_type", string(doc.DocType())).With("uid", doc.DocUID()).Debug("emitting document")
	e.docs.Broadcast(doc)
}
