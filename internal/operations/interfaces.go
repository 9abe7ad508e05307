package operations

// WebSocketHub interface for sending WebSocket messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// StageOptions contains optional dependencies for steps
type StageOptions struct {
	EnableProgress    bool
	StatusBroadcaster *StatusBroadcaster
}
