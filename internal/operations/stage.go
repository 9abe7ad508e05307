package operations

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DataRequirement names a data set a step consumes.
type DataRequirement struct {
	Type     string `json:"type"`
	MinRows  int    `json:"min_rows"`
	Optional bool   `json:"optional"`
}

// DataOutput names a data set a step produces.
type DataOutput struct {
	Type     string `json:"type"`
	Location string `json:"location,omitempty"`
}

// Step is one stage of the pipeline.
type Step interface {
	ID() string
	Name() string

	// Execute runs the step against the shared operation state.
	Execute(ctx context.Context, state *OperationState) error

	// Validate checks the state before Execute is called.
	Validate(state *OperationState) error

	// GetDependencies returns the IDs of steps that must complete first.
	GetDependencies() []string

	RequiredInputs() []DataRequirement
	ProducedOutputs() []DataOutput

	// CanRun reports whether the manifest holds every required input.
	CanRun(manifest *PipelineManifest) bool
}

// StepStatus represents the current status of a Step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusActive    StepStatus = "active"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepState represents the runtime state of a Step
type StepState struct {
	mu        sync.RWMutex           `json:"-"`
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    StepStatus             `json:"status"`
	StartTime *time.Time             `json:"start_time,omitempty"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
	Progress  float64                `json:"progress"`
	Message   string                 `json:"message"`
	Error     error                  `json:"-"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewStepState creates a pending step state
func NewStepState(id, name string) *StepState {
	return &StepState{
		ID:       id,
		Name:     name,
		Status:   StepStatusPending,
		Metadata: make(map[string]interface{}),
	}
}

// Start marks the Step as active and sets the start time
func (s *StepState) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.StartTime = &now
	s.EndTime = nil
	s.Status = StepStatusActive
	s.Progress = 0
}

// Complete marks the Step as completed and sets the end time
func (s *StepState) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusCompleted
	s.Progress = 100
}

// Fail marks the Step as failed with the given error
func (s *StepState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusFailed
	s.Error = err
}

// Skip marks the Step as skipped with the given reason
func (s *StepState) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.EndTime = &now
	s.Status = StepStatusSkipped
	s.Message = reason
}

// UpdateProgress updates the Step progress and message
func (s *StepState) UpdateProgress(progress float64, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Progress = progress
	s.Message = message
}

// SetMetadata records one metadata value.
func (s *StepState) SetMetadata(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Metadata == nil {
		s.Metadata = make(map[string]interface{})
	}
	s.Metadata[key] = value
}

// MetadataSnapshot returns a copy of the metadata.
func (s *StepState) MetadataSnapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]interface{}, len(s.Metadata))
	for k, v := range s.Metadata {
		out[k] = v
	}
	return out
}

// GetStatus returns the current status.
func (s *StepState) GetStatus() StepStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}

// Duration returns the duration of the Step execution
func (s *StepState) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.StartTime == nil {
		return 0
	}
	if s.EndTime != nil {
		return s.EndTime.Sub(*s.StartTime)
	}
	return time.Since(*s.StartTime)
}

// BaseStage provides common functionality for Step implementations
type BaseStage struct {
	id           string
	name         string
	dependencies []string
	inputs       []DataRequirement
	outputs      []DataOutput
}

// NewBaseStage creates a new base Step
func NewBaseStage(id, name string, dependencies []string) BaseStage {
	if dependencies == nil {
		dependencies = []string{}
	}
	return BaseStage{
		id:           id,
		name:         name,
		dependencies: dependencies,
	}
}

// WithData declares the data a stage consumes and produces.
func (b BaseStage) WithData(inputs []DataRequirement, outputs []DataOutput) BaseStage {
	b.inputs = inputs
	b.outputs = outputs
	return b
}

// ID returns the Step ID
func (b *BaseStage) ID() string {
	if b == nil {
		return ""
	}
	return b.id
}

// Name returns the Step name
func (b *BaseStage) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// GetDependencies returns the Step dependencies
func (b *BaseStage) GetDependencies() []string {
	if b == nil {
		return nil
	}
	return b.dependencies
}

// Validate provides a default validation that always passes
func (b *BaseStage) Validate(state *OperationState) error {
	if b == nil {
		return fmt.Errorf("BaseStage is nil")
	}
	return nil
}

// RequiredInputs returns the declared inputs
func (b *BaseStage) RequiredInputs() []DataRequirement {
	if b == nil {
		return nil
	}
	return b.inputs
}

// ProducedOutputs returns the declared outputs
func (b *BaseStage) ProducedOutputs() []DataOutput {
	if b == nil {
		return nil
	}
	return b.outputs
}

// CanRun checks the required inputs against the manifest. A nil manifest
// satisfies every requirement.
func (b *BaseStage) CanRun(manifest *PipelineManifest) bool {
	if b == nil {
		return false
	}
	return requirementsMet(b.RequiredInputs(), manifest)
}

func requirementsMet(requirements []DataRequirement, manifest *PipelineManifest) bool {
	if manifest == nil {
		return true
	}
	for _, req := range requirements {
		if req.Optional {
			continue
		}
		data, exists := manifest.GetData(req.Type)
		if !exists {
			return false
		}
		if req.MinRows > 0 && data.Rows < req.MinRows {
			return false
		}
	}
	return true
}
