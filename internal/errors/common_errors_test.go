package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      NewAppValidationError("bad input"),
			expected: "[VALIDATION] bad input",
		},
		{
			name:     "with cause",
			err:      NewSchemaError("missing column", fmt.Errorf("id_mutation")),
			expected: "[SCHEMA] missing column: id_mutation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_Fatal(t *testing.T) {
	assert.True(t, NewSchemaError("x", nil).Fatal())
	assert.True(t, NewConfigError("x", nil).Fatal())
	assert.False(t, NewReferenceGapError("region", "99").Fatal())
	assert.False(t, NewDegenerateGroupError("commune 01001", 3).Fatal())
	assert.False(t, NewZeroDivisionError("median").Fatal())
}

func TestReferenceGapError_Context(t *testing.T) {
	err := NewReferenceGapError("region", "975")
	assert.Equal(t, "region", err.Context["table"])
	assert.Equal(t, "975", err.Context["code"])
	assert.Contains(t, err.Error(), `"975"`)
}

func TestIsType(t *testing.T) {
	cause := stderrors.New("disk full")
	wrapped := fmt.Errorf("write aggregates: %w", NewStorageError("write failed", cause))

	assert.True(t, IsType(wrapped, ErrTypeStorage))
	assert.False(t, IsType(wrapped, ErrTypeSchema))
	assert.False(t, IsType(cause, ErrTypeStorage))

	var appErr *AppError
	require.True(t, stderrors.As(wrapped, &appErr))
	assert.ErrorIs(t, wrapped, cause)
}
