package operations

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "dvfcli/internal/errors"
)

func TestFromStageError(t *testing.T) {
	schema := apperrors.NewSchemaError("ledger row does not match schema", errors.New("line 3 column valeur_fonciere value \"abc\": invalid syntax")).
		WithContext("line", 3)

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"schema", schema, ErrorTypeValidation, false},
		{"wrapped schema", fmt.Errorf("read ledger: %w", schema), ErrorTypeValidation, false},
		{"config", apperrors.NewConfigError("bad crs", nil), ErrorTypeValidation, false},
		{"storage", apperrors.NewStorageError("copy failed", errors.New("conn reset")), ErrorTypeExecution, true},
		{"cancelled", fmt.Errorf("collapse: %w", context.Canceled), ErrorTypeCancellation, false},
		{"plain", errors.New("boom"), ErrorTypeExecution, false},
		{"operation error", NewTimeoutError("", "1s"), ErrorTypeTimeout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opErr := FromStageError("read", tt.err)
			require.NotNil(t, opErr)
			assert.Equal(t, tt.wantType, opErr.Type)
			assert.Equal(t, tt.retryable, opErr.Retryable)
			assert.Equal(t, "read", opErr.Step)
		})
	}

	assert.Nil(t, FromStageError("read", nil))

	opErr := FromStageError("read", schema)
	assert.Equal(t, 3, opErr.Context["line"])
	assert.True(t, errors.Is(opErr, schema))
}

func TestOperationError_Error(t *testing.T) {
	err := NewExecutionError("collapse", errors.New("boom"), false)
	assert.Equal(t, "[execution] collapse: stage execution failed: boom", err.Error())

	fatal := NewFatalError("failed to get dependency order", nil)
	assert.Equal(t, "[fatal] failed to get dependency order", fatal.Error())

	var nilErr *OperationError
	assert.Equal(t, "unknown operation error", nilErr.Error())
	assert.Nil(t, nilErr.Unwrap())
}

func TestErrorHelpers(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetErrorType(nil))
	assert.Equal(t, ErrorTypeExecution, GetErrorType(errors.New("x")))
	assert.Equal(t, ErrorTypeDependency, GetErrorType(fmt.Errorf("wrap: %w", NewDependencyError("b", "a", "not done"))))
	assert.False(t, IsRetryable(errors.New("x")))
	assert.True(t, IsRetryable(NewTimeoutError("spatial_join", "1h0m0s")))

	wrapped := WrapError(errors.New("disk full"), "export", "write outputs")
	assert.Equal(t, "export", wrapped.Step)
	assert.Equal(t, ErrorTypeExecution, wrapped.Type)
	assert.Nil(t, WrapError(nil, "export", ""))

	existing := WrapError(NewValidationError("", "no exporter configured"), "export", "setup")
	assert.Equal(t, "export", existing.Step)
	assert.Equal(t, "setup: no exporter configured", existing.Message)
}

func TestErrorList(t *testing.T) {
	var list ErrorList
	assert.False(t, list.HasErrors())
	assert.Equal(t, "no errors", list.Error())

	list.Add(NewExecutionError("outliers", errors.New("a"), false))
	list.Add(nil)
	assert.Equal(t, "[execution] outliers: stage execution failed: a", list.Error())

	list.Add(NewExecutionError("aggregate", errors.New("b"), false))
	assert.Equal(t, "multiple errors: 2 errors occurred", list.Error())
	assert.Len(t, list.GetByStage("aggregate"), 1)
}
