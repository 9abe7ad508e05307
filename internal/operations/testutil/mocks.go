package testutil

import (
	"context"
	"sync"
	"time"

	"dvfcli/internal/operations"
)

// MockStage is a configurable mock implementation of the Step interface
type MockStage struct {
	IDValue           string
	NameValue         string
	DependenciesValue []string
	InputsValue       []operations.DataRequirement
	OutputsValue      []operations.DataOutput

	ExecuteFunc  func(ctx context.Context, state *operations.OperationState) error
	ValidateFunc func(state *operations.OperationState) error

	mu            sync.Mutex
	ExecuteCalls  int
	ValidateCalls int
	LastExecuted  time.Time
}

// ID returns the stage ID
func (m *MockStage) ID() string {
	return m.IDValue
}

// Name returns the stage name
func (m *MockStage) Name() string {
	return m.NameValue
}

// GetDependencies returns the stage dependencies
func (m *MockStage) GetDependencies() []string {
	if m.DependenciesValue == nil {
		return []string{}
	}
	return m.DependenciesValue
}

// Execute records the call and runs ExecuteFunc. Declared outputs are added to
// the manifest on success.
func (m *MockStage) Execute(ctx context.Context, state *operations.OperationState) error {
	m.mu.Lock()
	m.ExecuteCalls++
	m.LastExecuted = time.Now()
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		if err := m.ExecuteFunc(ctx, state); err != nil {
			return err
		}
	}
	if state.Manifest != nil {
		for _, out := range m.OutputsValue {
			state.Manifest.AddData(&operations.DataInfo{Type: out.Type, Rows: 1, CreatedBy: m.IDValue})
		}
	}
	return nil
}

// Validate records the call and runs ValidateFunc
func (m *MockStage) Validate(state *operations.OperationState) error {
	m.mu.Lock()
	m.ValidateCalls++
	m.mu.Unlock()

	if m.ValidateFunc != nil {
		return m.ValidateFunc(state)
	}
	return nil
}

// GetExecuteCalls returns the number of Execute calls
func (m *MockStage) GetExecuteCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExecuteCalls
}

// GetValidateCalls returns the number of Validate calls
func (m *MockStage) GetValidateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ValidateCalls
}

// RequiredInputs returns the configured requirements
func (m *MockStage) RequiredInputs() []operations.DataRequirement {
	return m.InputsValue
}

// ProducedOutputs returns the configured outputs
func (m *MockStage) ProducedOutputs() []operations.DataOutput {
	return m.OutputsValue
}

// CanRun checks the configured requirements against the manifest
func (m *MockStage) CanRun(manifest *operations.PipelineManifest) bool {
	if manifest == nil {
		return true
	}
	for _, req := range m.InputsValue {
		if !req.Optional && !manifest.HasData(req.Type) {
			return false
		}
	}
	return true
}

// MockWebSocketHub captures broadcast updates
type MockWebSocketHub struct {
	mu       sync.Mutex
	Messages []WebSocketMessage
}

// WebSocketMessage is one captured update
type WebSocketMessage struct {
	EventType string
	Step      string
	Status    string
	Metadata  interface{}
	Time      time.Time
}

// BroadcastUpdate captures the update
func (m *MockWebSocketHub) BroadcastUpdate(eventType, step, status string, metadata interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Messages = append(m.Messages, WebSocketMessage{
		EventType: eventType,
		Step:      step,
		Status:    status,
		Metadata:  metadata,
		Time:      time.Now(),
	})
}

// GetMessages returns all captured messages
func (m *MockWebSocketHub) GetMessages() []WebSocketMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := make([]WebSocketMessage, len(m.Messages))
	copy(messages, m.Messages)
	return messages
}

// GetMessagesByType returns messages of a specific type
func (m *MockWebSocketHub) GetMessagesByType(eventType string) []WebSocketMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filtered []WebSocketMessage
	for _, msg := range m.Messages {
		if msg.EventType == eventType {
			filtered = append(filtered, msg)
		}
	}
	return filtered
}

// Count returns the number of captured messages
func (m *MockWebSocketHub) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// Clear removes all captured messages
func (m *MockWebSocketHub) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
