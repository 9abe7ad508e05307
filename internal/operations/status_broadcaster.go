package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Progress snapshots are broadcast at most this often; state changes always go out.
const (
	DefaultProgressRate  = rate.Limit(4)
	DefaultProgressBurst = 8
)

// StatusBroadcaster owns the status of every run and broadcasts a full snapshot
// on each change.
type StatusBroadcaster struct {
	mu         sync.RWMutex
	operations map[string]*OperationSnapshot
	hub        WebSocketHub
	logger     *slog.Logger
	limiter    *rate.Limiter
	updates    chan updateRequest
	stop       chan struct{}
	stopOnce   sync.Once
}

// OperationSnapshot is the state of one run as sent to status clients.
type OperationSnapshot struct {
	OperationID string         `json:"operation_id"`
	Status      string         `json:"status"`       // pending|running|completed|failed|cancelled
	Progress    int            `json:"progress"`     // 0-100
	CurrentStep string         `json:"current_step"` // Current active step name
	Steps       []StepSnapshot `json:"steps"`        // All steps with their status
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Message     string         `json:"message,omitempty"`
}

// StepSnapshot represents the state of a single step
type StepSnapshot struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Status   string                 `json:"status"`   // pending|running|completed|failed|skipped
	Progress int                    `json:"progress"` // 0-100
	Message  string                 `json:"message,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type updateRequest struct {
	operationID string
	updateFunc  func(*OperationSnapshot)
	// throttled updates are applied but only broadcast when the limiter allows.
	throttled bool
	done      chan struct{}
}

// NewStatusBroadcaster creates a new status broadcaster
func NewStatusBroadcaster(hub WebSocketHub, logger *slog.Logger) *StatusBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	sb := &StatusBroadcaster{
		operations: make(map[string]*OperationSnapshot),
		hub:        hub,
		logger:     logger,
		limiter:    rate.NewLimiter(DefaultProgressRate, DefaultProgressBurst),
		updates:    make(chan updateRequest, 100),
		stop:       make(chan struct{}),
	}

	go sb.processUpdates()

	return sb
}

// processUpdates handles all updates sequentially to avoid race conditions
func (sb *StatusBroadcaster) processUpdates() {
	for {
		select {
		case <-sb.stop:
			return
		case req := <-sb.updates:
			sb.handleUpdate(req)
		}
	}
}

// handleUpdate processes a single update request
func (sb *StatusBroadcaster) handleUpdate(req updateRequest) {
	defer close(req.done)

	sb.mu.Lock()
	defer sb.mu.Unlock()

	snapshot, exists := sb.operations[req.operationID]
	if !exists {
		snapshot = &OperationSnapshot{
			OperationID: req.operationID,
			Status:      "pending",
			Progress:    0,
			StartedAt:   time.Now(),
			UpdatedAt:   time.Now(),
			Steps:       []StepSnapshot{},
		}
		sb.operations[req.operationID] = snapshot
	}

	req.updateFunc(snapshot)
	snapshot.UpdatedAt = time.Now()

	// Overall progress is the mean step progress; skipped steps count as done.
	if len(snapshot.Steps) > 0 {
		totalProgress := 0
		for _, step := range snapshot.Steps {
			if step.Status == "skipped" {
				totalProgress += 100
				continue
			}
			totalProgress += step.Progress
		}
		snapshot.Progress = totalProgress / len(snapshot.Steps)
	}

	if snapshot.Status == "completed" || snapshot.Status == "failed" || snapshot.Status == "cancelled" {
		if snapshot.CompletedAt == nil {
			now := time.Now()
			snapshot.CompletedAt = &now
		}
	}

	if req.throttled && !sb.limiter.Allow() {
		return
	}
	sb.broadcast(snapshot)
}

// broadcast sends the complete snapshot to all connected clients
func (sb *StatusBroadcaster) broadcast(snapshot *OperationSnapshot) {
	if sb.hub == nil {
		return
	}

	sb.logger.Debug("broadcasting operation snapshot",
		slog.String("operation_id", snapshot.OperationID),
		slog.String("status", snapshot.Status),
		slog.Int("progress", snapshot.Progress),
		slog.String("current_step", snapshot.CurrentStep),
		slog.Int("steps", len(snapshot.Steps)),
	)

	sb.hub.BroadcastUpdate(EventTypeOperationSnapshot, snapshot.OperationID, snapshot.Status, snapshot.clone())
}

// UpdateStatus applies updateFunc to the snapshot of a run and waits until it has
// been applied. Updates sent after Stop are dropped.
func (sb *StatusBroadcaster) UpdateStatus(operationID string, updateFunc func(*OperationSnapshot)) {
	sb.submit(operationID, updateFunc, false)
}

func (sb *StatusBroadcaster) submit(operationID string, updateFunc func(*OperationSnapshot), throttled bool) {
	req := updateRequest{
		operationID: operationID,
		updateFunc:  updateFunc,
		throttled:   throttled,
		done:        make(chan struct{}),
	}

	select {
	case sb.updates <- req:
	case <-sb.stop:
		return
	}
	select {
	case <-req.done:
	case <-sb.stop:
	}
}

// CreateOperation initializes a run with the given step IDs.
func (sb *StatusBroadcaster) CreateOperation(operationID string, stepNames []string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = "pending"
		snapshot.Progress = 0
		snapshot.Steps = make([]StepSnapshot, len(stepNames))
		for i, id := range stepNames {
			snapshot.Steps[i] = StepSnapshot{
				ID:       id,
				Name:     id,
				Status:   "pending",
				Progress: 0,
			}
		}
		snapshot.Message = "Operation created"
	})
}

// StartOperation marks an operation as running
func (sb *StatusBroadcaster) StartOperation(operationID string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = "running"
		snapshot.Message = "Operation started"
	})
}

// UpdateStepProgress updates a specific step's progress
func (sb *StatusBroadcaster) UpdateStepProgress(operationID, stepID string, progress int, message string) {
	sb.UpdateStepWithMetadata(operationID, stepID, progress, message, nil)
}

// UpdateStepWithMetadata updates a specific step's progress with metadata.
// Intermediate progress is rate limited.
func (sb *StatusBroadcaster) UpdateStepWithMetadata(operationID, stepID string, progress int, message string, metadata map[string]interface{}) {
	throttled := progress > 0 && progress < 100
	sb.submit(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			step := &snapshot.Steps[i]
			if step.ID != stepID {
				continue
			}
			// Progress never moves backwards while a step runs.
			if progress >= step.Progress || step.Status != "running" {
				step.Progress = progress
			}
			step.Message = message
			if metadata != nil {
				step.Metadata = metadata
			}
			if progress > 0 && progress < 100 {
				step.Status = "running"
				snapshot.CurrentStep = step.Name
			} else if progress >= 100 {
				step.Status = "completed"
				step.Progress = 100
			}
			return
		}

		status := "running"
		if progress >= 100 {
			status = "completed"
		}
		snapshot.Steps = append(snapshot.Steps, StepSnapshot{
			ID:       stepID,
			Name:     stepID,
			Status:   status,
			Progress: min(max(progress, 0), 100),
			Message:  message,
			Metadata: metadata,
		})
		if progress > 0 && progress < 100 {
			snapshot.CurrentStep = stepID
		}
	}, throttled)
}

// StartStep marks a step as running.
func (sb *StatusBroadcaster) StartStep(operationID, stepID, message string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				snapshot.Steps[i].Status = "running"
				snapshot.Steps[i].Progress = 0
				snapshot.Steps[i].Message = message
				snapshot.Steps[i].Error = ""
				snapshot.CurrentStep = snapshot.Steps[i].Name
				return
			}
		}
	})
}

// SetStepName replaces the display name of a step.
func (sb *StatusBroadcaster) SetStepName(operationID, stepID, name string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				snapshot.Steps[i].Name = name
				return
			}
		}
	})
}

// SkipStep marks a step as skipped.
func (sb *StatusBroadcaster) SkipStep(operationID, stepID, reason string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				snapshot.Steps[i].Status = "skipped"
				snapshot.Steps[i].Message = reason
				return
			}
		}
	})
}

// CompleteStep marks a step as completed
func (sb *StatusBroadcaster) CompleteStep(operationID, stepID string, message string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				snapshot.Steps[i].Status = "completed"
				snapshot.Steps[i].Progress = 100
				snapshot.Steps[i].Message = message
				break
			}
		}
	})
}

// FailStep marks a step as failed
func (sb *StatusBroadcaster) FailStep(operationID, stepID string, err error) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		for i := range snapshot.Steps {
			if snapshot.Steps[i].ID == stepID {
				snapshot.Steps[i].Status = "failed"
				snapshot.Steps[i].Error = err.Error()
				snapshot.Steps[i].Message = "Step failed"
				break
			}
		}
	})
}

// CompleteOperation marks an operation as completed
func (sb *StatusBroadcaster) CompleteOperation(operationID string, message string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = "completed"
		snapshot.Progress = 100
		snapshot.CurrentStep = ""
		snapshot.Message = message
		for i := range snapshot.Steps {
			if snapshot.Steps[i].Status == "running" || snapshot.Steps[i].Status == "pending" {
				snapshot.Steps[i].Status = "completed"
				snapshot.Steps[i].Progress = 100
			}
		}
	})
}

// FailOperation marks an operation as failed
func (sb *StatusBroadcaster) FailOperation(operationID string, err error) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = "failed"
		snapshot.Error = err.Error()
		snapshot.CurrentStep = ""
	})
}

// CancelOperation marks an operation as cancelled
func (sb *StatusBroadcaster) CancelOperation(operationID string) {
	sb.UpdateStatus(operationID, func(snapshot *OperationSnapshot) {
		snapshot.Status = "cancelled"
		snapshot.CurrentStep = ""
		snapshot.Message = "Operation cancelled by user"
	})
}

// GetSnapshot returns the current snapshot for an operation
func (sb *StatusBroadcaster) GetSnapshot(operationID string) (*OperationSnapshot, bool) {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshot, exists := sb.operations[operationID]
	if !exists {
		return nil, false
	}

	return snapshot.clone(), true
}

// GetAllSnapshots returns all current operation snapshots
func (sb *StatusBroadcaster) GetAllSnapshots() []*OperationSnapshot {
	sb.mu.RLock()
	defer sb.mu.RUnlock()

	snapshots := make([]*OperationSnapshot, 0, len(sb.operations))
	for _, snapshot := range sb.operations {
		snapshots = append(snapshots, snapshot.clone())
	}

	return snapshots
}

// CleanupOldOperations removes operations older than the specified duration
func (sb *StatusBroadcaster) CleanupOldOperations(ctx context.Context, maxAge time.Duration) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	now := time.Now()
	for id, snapshot := range sb.operations {
		// Only cleanup completed/failed/cancelled operations
		if snapshot.Status == "completed" || snapshot.Status == "failed" || snapshot.Status == "cancelled" {
			if snapshot.CompletedAt != nil && now.Sub(*snapshot.CompletedAt) > maxAge {
				delete(sb.operations, id)
				sb.logger.Info("cleaned up old operation",
					slog.String("operation_id", id),
					slog.String("status", snapshot.Status),
					slog.Duration("age", now.Sub(*snapshot.CompletedAt)),
				)
			}
		}
	}
}

// Stop shuts the broadcaster down. It is safe to call more than once.
func (sb *StatusBroadcaster) Stop() {
	sb.stopOnce.Do(func() { close(sb.stop) })
}

func (s *OperationSnapshot) clone() *OperationSnapshot {
	c := *s
	c.Steps = make([]StepSnapshot, len(s.Steps))
	for i, step := range s.Steps {
		c.Steps[i] = step
		if step.Metadata != nil {
			c.Steps[i].Metadata = make(map[string]interface{}, len(step.Metadata))
			for k, v := range step.Metadata {
				c.Steps[i].Metadata[k] = v
			}
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
