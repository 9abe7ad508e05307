package testutil

import (
	"context"
	"errors"
	"time"

	"dvfcli/internal/operations"
)

// CreateTestConfig returns a configuration with short timeouts and delays.
func CreateTestConfig() *operations.Config {
	return operations.NewConfigBuilder().
		WithRetryConfig(operations.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     100 * time.Millisecond,
			Multiplier:   2.0,
		}).
		WithDefaultTimeout(time.Second).
		Build()
}

// CreateTestRegistry creates a registry with three independent stages
func CreateTestRegistry() *operations.Registry {
	registry := operations.NewRegistry()
	_ = registry.Register(CreateSuccessfulStage("stage1", "Stage 1"))
	_ = registry.Register(CreateSuccessfulStage("stage2", "Stage 2"))
	_ = registry.Register(CreateSuccessfulStage("stage3", "Stage 3"))
	return registry
}

// CreateSuccessfulStage creates a stage that always succeeds
func CreateSuccessfulStage(id, name string, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			if stepState := state.GetStage(id); stepState != nil {
				stepState.UpdateProgress(50, "Processing...")
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			return nil
		},
	}
}

// CreateFailingStage creates a stage that always fails
func CreateFailingStage(id, name string, err error, deps ...string) *MockStage {
	if err == nil {
		err = errors.New("stage failed")
	}
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			return err
		},
	}
}

// CreateRetryableStage creates a stage that fails failCount times with a
// retryable error, then succeeds
func CreateRetryableStage(id, name string, failCount int, deps ...string) *MockStage {
	attempts := 0
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			attempts++
			if attempts <= failCount {
				return operations.NewExecutionError(id, errors.New("temporary failure"), true)
			}
			return nil
		},
	}
}

// CreateSlowStage creates a stage that blocks for duration or until cancelled
func CreateSlowStage(id, name string, duration time.Duration, deps ...string) *MockStage {
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ExecuteFunc: func(ctx context.Context, state *operations.OperationState) error {
			select {
			case <-time.After(duration):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// CreateValidationFailingStage creates a stage whose Validate fails
func CreateValidationFailingStage(id, name string, validationErr error, deps ...string) *MockStage {
	if validationErr == nil {
		validationErr = errors.New("validation failed")
	}
	return &MockStage{
		IDValue:           id,
		NameValue:         name,
		DependenciesValue: deps,
		ValidateFunc: func(state *operations.OperationState) error {
			return validationErr
		},
	}
}

// CreateDiamondStages creates stages with a diamond dependency:
//
//	  A
//	 / \
//	B   C
//	 \ /
//	  D
func CreateDiamondStages() []operations.Step {
	return []operations.Step{
		CreateSuccessfulStage("A", "Stage A"),
		CreateSuccessfulStage("B", "Stage B", "A"),
		CreateSuccessfulStage("C", "Stage C", "A"),
		CreateSuccessfulStage("D", "Stage D", "B", "C"),
	}
}

// StageBuilder provides a fluent interface for creating test stages
type StageBuilder struct {
	step *MockStage
}

// NewStageBuilder creates a new stage builder
func NewStageBuilder(id, name string) *StageBuilder {
	return &StageBuilder{step: &MockStage{IDValue: id, NameValue: name}}
}

// WithDependencies sets the stage dependencies
func (b *StageBuilder) WithDependencies(deps ...string) *StageBuilder {
	b.step.DependenciesValue = deps
	return b
}

// WithInputs sets the required data types
func (b *StageBuilder) WithInputs(types ...string) *StageBuilder {
	for _, t := range types {
		b.step.InputsValue = append(b.step.InputsValue, operations.DataRequirement{Type: t})
	}
	return b
}

// WithOutputs sets the produced data types
func (b *StageBuilder) WithOutputs(types ...string) *StageBuilder {
	for _, t := range types {
		b.step.OutputsValue = append(b.step.OutputsValue, operations.DataOutput{Type: t})
	}
	return b
}

// WithExecute sets the execute function
func (b *StageBuilder) WithExecute(fn func(context.Context, *operations.OperationState) error) *StageBuilder {
	b.step.ExecuteFunc = fn
	return b
}

// WithValidate sets the validate function
func (b *StageBuilder) WithValidate(fn func(*operations.OperationState) error) *StageBuilder {
	b.step.ValidateFunc = fn
	return b
}

// Build returns the constructed stage
func (b *StageBuilder) Build() *MockStage {
	return b.step
}
