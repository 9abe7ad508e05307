package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"dvfcli/internal/infrastructure"
)

// Manager runs the registered stages of a pipeline.
type Manager struct {
	registry    *Registry
	config      *Config
	broadcaster *StatusBroadcaster
	tracer      *OperationTracer
	logger      *slog.Logger

	mu         sync.RWMutex
	operations map[string]*runHandle
	// last keeps the final state of the most recent run for status queries.
	last *OperationState
}

type runHandle struct {
	state  *OperationState
	cancel context.CancelFunc
}

// NewManager creates a new operation manager with dependency injection
func NewManager(hub WebSocketHub, registry *Registry, config *Config, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		registry:    registry,
		config:      config,
		broadcaster: NewStatusBroadcaster(hub, logger),
		logger:      logger,
		operations:  make(map[string]*runHandle),
	}
}

// SetTracer enables tracing and run metrics.
func (m *Manager) SetTracer(tracer *OperationTracer) {
	m.tracer = tracer
}

// RegisterStage registers a Step with the operation
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// SetConfig updates the operation configuration
func (m *Manager) SetConfig(config *Config) {
	if config != nil {
		m.config = config
	}
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// GetRegistry returns the registry for accessing registered stages
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetBroadcaster returns the status broadcaster
func (m *Manager) GetBroadcaster() *StatusBroadcaster {
	return m.broadcaster
}

// Close stops the status broadcaster.
func (m *Manager) Close() {
	m.broadcaster.Stop()
}

// ParamManifest is the request parameter carrying a *PipelineManifest to record
// the run into.
const ParamManifest = "manifest"

// Execute runs the pipeline. The request parameter "step" restricts the run to one
// stage. A manifest passed in the ParamManifest parameter is reused, otherwise a
// new one is created.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, error) {
	if req.ID == "" {
		req.ID = infrastructure.NewRunID()
	}
	ctx = infrastructure.WithTraceID(ctx, req.ID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := NewOperationState(req.ID)
	if req.Mode != "" {
		state.SetConfig("mode", req.Mode)
	}
	for k, v := range req.Parameters {
		if k != ParamManifest {
			state.SetConfig(k, v)
		}
	}
	if manifest, ok := req.Parameters[ParamManifest].(*PipelineManifest); ok && manifest != nil {
		state.Manifest = manifest
	} else {
		state.Manifest = NewPipelineManifest(req.ID)
	}

	m.storeOperation(state, cancel)
	defer m.removeOperation(state)

	ctx, span := m.tracer.TraceOperationExecution(ctx, req.ID, req)
	m.logOperationStart(ctx, req)

	steps, err := m.selectSteps(ctx, req)
	if err != nil {
		m.logOperationError(ctx, req.ID, err)
		state.Fail(err)
		state.Manifest.SetStatus(ManifestStatusFailed)
		m.tracer.RecordOperationCompletion(ctx, span, req.ID, req.Mode, state.Duration(), err)
		return m.createResponse(state), err
	}

	ids := make([]string, len(steps))
	for i, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
		ids[i] = step.ID()
	}
	m.broadcaster.CreateOperation(req.ID, ids)
	for _, step := range steps {
		m.broadcaster.SetStepName(req.ID, step.ID(), step.Name())
	}

	state.Start()
	state.Manifest.SetStatus(ManifestStatusRunning)
	m.broadcaster.StartOperation(req.ID)

	err = m.executeSequential(ctx, state, steps)

	switch {
	case err != nil && GetErrorType(err) == ErrorTypeCancellation:
		state.Fail(err)
		state.Cancel()
		state.Manifest.SetStatus(ManifestStatusFailed)
		m.broadcaster.CancelOperation(req.ID)
	case err != nil:
		state.Fail(err)
		state.Manifest.SetStatus(ManifestStatusFailed)
		m.broadcaster.FailOperation(req.ID, err)
	default:
		state.Complete()
		state.Manifest.SetStatus(ManifestStatusCompleted)
		m.broadcaster.CompleteOperation(req.ID, "Operation completed successfully")
	}

	m.logOperationComplete(ctx, req.ID, state.Duration(), string(state.GetStatus()))
	m.tracer.RecordOperationCompletion(ctx, span, req.ID, req.Mode, state.Duration(), err)
	return m.createResponse(state), err
}

func (m *Manager) selectSteps(ctx context.Context, req OperationRequest) ([]Step, error) {
	stepParam, _ := req.Parameters[ContextKeyStep].(string)
	if stepParam != "" && stepParam != ModeFull {
		step, err := m.registry.Get(stepParam)
		if err != nil {
			return nil, NewValidationError(stepParam, err.Error())
		}
		m.logger.InfoContext(ctx, "executing_single_step",
			slog.String("step_id", stepParam),
			slog.String("operation_id", req.ID))
		return []Step{step}, nil
	}

	steps, err := m.registry.GetDependencyOrder()
	if err != nil {
		return nil, NewFatalError("failed to get dependency order", err)
	}
	m.logger.InfoContext(ctx, "executing_full_pipeline",
		slog.Int("step_count", len(steps)),
		slog.String("operation_id", req.ID))
	return steps, nil
}

// executeSequential executes steps one by one. No stage starts before the
// previous one has materialized its output.
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	var firstErr error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			m.logger.WarnContext(ctx, "operation_cancelled",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()))
			return NewCancellationError(step.ID())
		}

		stepState := state.GetStage(step.ID())
		if stepState != nil && stepState.GetStatus() == StepStatusSkipped {
			m.logger.InfoContext(ctx, "stage_skipped",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.Int("stage_number", i+1),
				slog.Int("total_stages", len(steps)))
			continue
		}

		m.logger.InfoContext(ctx, "executing_stage",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(steps)))

		if err := m.executeStage(ctx, state, step); err != nil {
			m.logStageError(ctx, state.ID, step.ID(), err)
			m.skipDependentStages(state, steps, step.ID())
			if !m.config.ContinueOnError || GetErrorType(err) == ErrorTypeValidation || GetErrorType(err) == ErrorTypeCancellation {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			m.logger.WarnContext(ctx, "stage_failed_continuing",
				slog.String("operation_id", state.ID),
				slog.String("step", step.ID()),
				slog.String("error", err.Error()))
		}
	}
	if firstErr != nil {
		return firstErr
	}
	m.logger.InfoContext(ctx, "all_stages_completed",
		slog.String("operation_id", state.ID))
	return nil
}

// executeStage executes a single Step with retry logic
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	m.logStageStart(ctx, state.ID, step.ID())
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError(fmt.Sprintf("state of stage %s not found", step.ID()), nil)
	}

	if err := m.checkDependencies(state, step); err != nil {
		m.skipStage(ctx, state, step, fmt.Sprintf("Dependencies not met: %v", err))
		return err
	}
	if !step.CanRun(state.Manifest) {
		err := NewDependencyError(step.ID(), "", "required inputs are not available")
		m.skipStage(ctx, state, step, err.Message)
		return err
	}
	if err := step.Validate(state); err != nil {
		m.skipStage(ctx, state, step, fmt.Sprintf("Validation failed: %v", err))
		return FromStageError(step.ID(), err)
	}

	timeout := m.config.GetStageTimeout(step.ID())
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	retryConfig := m.config.RetryConfig
	if retryConfig.MaxAttempts < 1 {
		retryConfig.MaxAttempts = 1
	}
	state.Manifest.RecordStageStart(step.ID(), step.Name())

	var lastErr *OperationError
	for attempt := 1; attempt <= retryConfig.MaxAttempts; attempt++ {
		stepState.Start()
		m.broadcaster.StartStep(state.ID, step.ID(), "Step started")

		spanCtx, span := m.tracer.TraceStageExecution(stageCtx, state.ID, step.ID(), attempt)
		startTime := time.Now()
		err := step.Execute(spanCtx, state)
		duration := time.Since(startTime)

		if err == nil && stageCtx.Err() == nil {
			m.tracer.RecordStageCompletion(spanCtx, span, step.ID(), duration, nil)
			m.logStageComplete(ctx, state.ID, step.ID(), duration)
			stepState.Complete()
			state.Manifest.RecordStageCompletion(step.ID(), outputTypes(step), stepState.MetadataSnapshot())
			m.broadcaster.CompleteStep(state.ID, step.ID(), "Step completed successfully")
			return nil
		}

		lastErr = m.classify(ctx, stageCtx, step.ID(), timeout, err)
		m.tracer.RecordStageCompletion(spanCtx, span, step.ID(), duration, lastErr)
		m.logger.ErrorContext(ctx, "stage_execution_failed",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Duration("duration", duration),
			slog.String("error", lastErr.Error()))

		if !lastErr.Retryable || attempt >= retryConfig.MaxAttempts || ctx.Err() != nil {
			break
		}

		delay := m.calculateRetryDelay(attempt, retryConfig)
		m.logger.WarnContext(ctx, "stage_retry",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", retryConfig.MaxAttempts),
			slog.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-stageCtx.Done():
			lastErr = m.classify(ctx, stageCtx, step.ID(), timeout, stageCtx.Err())
			attempt = retryConfig.MaxAttempts
		}
	}

	stepState.Fail(lastErr)
	state.Manifest.RecordStageFailure(step.ID(), lastErr)
	m.broadcaster.FailStep(state.ID, step.ID(), lastErr)
	return lastErr
}

// classify turns a stage failure into an OperationError, distinguishing the run
// being cancelled from the stage exceeding its timeout.
func (m *Manager) classify(ctx, stageCtx context.Context, stepID string, timeout time.Duration, err error) *OperationError {
	switch {
	case ctx.Err() != nil:
		return NewCancellationError(stepID)
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return NewTimeoutError(stepID, timeout.String())
	case err == nil:
		return NewExecutionError(stepID, stageCtx.Err(), false)
	}
	return FromStageError(stepID, err)
}

func (m *Manager) skipStage(ctx context.Context, state *OperationState, step Step, reason string) {
	m.logger.WarnContext(ctx, "stage_not_runnable",
		slog.String("operation_id", state.ID),
		slog.String("step", step.ID()),
		slog.String("reason", reason))
	if stepState := state.GetStage(step.ID()); stepState != nil {
		stepState.Skip(reason)
	}
	state.Manifest.RecordStageSkip(step.ID(), step.Name(), reason)
	m.broadcaster.SkipStep(state.ID, step.ID(), reason)
}

// skipDependentStages marks all steps that depend on the failed Step as skipped
func (m *Manager) skipDependentStages(state *OperationState, steps []Step, failedStageID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep != failedStageID {
				continue
			}
			stepState := state.GetStage(step.ID())
			if stepState != nil && stepState.GetStatus() == StepStatusPending {
				reason := fmt.Sprintf("Dependency %s failed", failedStageID)
				stepState.Skip(reason)
				state.Manifest.RecordStageSkip(step.ID(), step.Name(), reason)
				m.broadcaster.SkipStep(state.ID, step.ID(), reason)
				m.skipDependentStages(state, steps, step.ID())
			}
			break
		}
	}
}

// checkDependencies verifies that all dependencies registered in this run
// have completed. A single-stage run only checks the manifest.
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			continue
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not completed (status: %s)", dep, status))
		}
	}
	return nil
}

// calculateRetryDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

func outputTypes(step Step) []string {
	outputs := step.ProducedOutputs()
	types := make([]string, len(outputs))
	for i, o := range outputs {
		types[i] = o.Type
	}
	return types
}

// createResponse creates a operation response from state
func (m *Manager) createResponse(state *OperationState) *OperationResponse {
	clone := state.Clone()
	return &OperationResponse{
		ID:       clone.ID,
		Status:   clone.Status,
		Duration: clone.Duration(),
		Steps:    clone.Steps,
		Error:    clone.ErrorMessage(),
	}
}

// GetOperation returns a copy of a running operation's state
func (m *Manager) GetOperation(id string) (*OperationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if h, exists := m.operations[id]; exists {
		return h.state.Clone(), nil
	}
	if m.last != nil && m.last.ID == id {
		return m.last.Clone(), nil
	}
	return nil, ErrOperationNotFound
}

// LastOperation returns the most recent run, running or finished.
func (m *Manager) LastOperation() (*OperationState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.last == nil {
		return nil, false
	}
	return m.last.Clone(), true
}

// ListOperations returns all active operations
func (m *Manager) ListOperations() []*OperationState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	operations := make([]*OperationState, 0, len(m.operations))
	for _, h := range m.operations {
		operations = append(operations, h.state.Clone())
	}
	return operations
}

// CancelOperation cancels a running operation
func (m *Manager) CancelOperation(id string) error {
	m.mu.RLock()
	h, exists := m.operations[id]
	m.mu.RUnlock()

	if !exists {
		return ErrOperationNotRunning
	}
	h.cancel()
	return nil
}

func (m *Manager) storeOperation(state *OperationState, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[state.ID] = &runHandle{state: state, cancel: cancel}
	m.last = state
}

func (m *Manager) removeOperation(state *OperationState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.operations, state.ID)
}

func (m *Manager) logOperationStart(ctx context.Context, req OperationRequest) {
	m.logger.InfoContext(ctx, "operation_start",
		slog.String("operation_id", req.ID),
		slog.String("mode", req.Mode))
}

func (m *Manager) logOperationComplete(ctx context.Context, operationID string, duration time.Duration, status string) {
	m.logger.InfoContext(ctx, "operation_complete",
		slog.String("operation_id", operationID),
		slog.String("status", status),
		slog.Duration("duration", duration))
}

func (m *Manager) logOperationError(ctx context.Context, operationID string, err error) {
	m.logger.ErrorContext(ctx, "operation_error",
		slog.String("operation_id", operationID),
		slog.String("error", err.Error()))
}

func (m *Manager) logStageStart(ctx context.Context, operationID, stageID string) {
	m.logger.InfoContext(ctx, "stage_start",
		slog.String("operation_id", operationID),
		slog.String("step", stageID))
}

func (m *Manager) logStageComplete(ctx context.Context, operationID, stageID string, duration time.Duration) {
	m.logger.InfoContext(ctx, "stage_complete",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.Duration("duration", duration))
}

func (m *Manager) logStageError(ctx context.Context, operationID, stageID string, err error) {
	m.logger.ErrorContext(ctx, "stage_error",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.String("error", err.Error()))
}
