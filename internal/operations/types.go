package operations

import (
	"time"
)

// Pipeline stage identifiers. The first six match the diagnostics stage names.
const (
	StageIDRead      = "read"
	StageIDCollapse  = "collapse"
	StageIDOutliers  = "outliers"
	StageIDAdjust    = "time_adjustment"
	StageIDSpatial   = "spatial_join"
	StageIDAggregate = "aggregate"
	StageIDExport    = "export"
	StageIDSinks     = "sinks"
)

// Pipeline stage names
const (
	StageNameRead      = "Ledger Ingestion"
	StageNameCollapse  = "Mutation Collapse"
	StageNameOutliers  = "Outlier Filtering"
	StageNameAdjust    = "Time Adjustment"
	StageNameSpatial   = "IRIS Spatial Join"
	StageNameAggregate = "Hierarchical Aggregation"
	StageNameExport    = "Export"
	StageNameSinks     = "Relational Sinks"
)

// Data types tracked by the run manifest.
const (
	DataTypeLedger       = "ledger"
	DataTypeReference    = "reference_tables"
	DataTypeRawRows      = "raw_rows"
	DataTypeTransactions = "transactions"
	DataTypeFiltered     = "filtered_transactions"
	DataTypeFactors      = "adjustment_factors"
	DataTypeJoined       = "joined_transactions"
	DataTypeAggregates   = "aggregates"
	DataTypeExports      = "exports"
)

// Context keys for operation state
const (
	ContextKeyReference     = "reference"
	ContextKeyRawRows       = "raw_rows"
	ContextKeyTransactions  = "transactions"
	ContextKeyFactors       = "factors"
	ContextKeyJoinStats     = "join_stats"
	ContextKeyAggregates    = "aggregates"
	ContextKeyTopCities     = "top_cities"
	ContextKeyOutputs       = "outputs"
	ContextKeyReferenceYear = "reference_year"
	ContextKeyStep          = "step"
)

// ModeFull runs every registered stage.
const ModeFull = "full"

// WebSocket event types
const (
	EventTypeOperationSnapshot = "operation:snapshot"
	EventTypeOperationStatus   = "operation:status"
	EventTypePipelineProgress  = "operation:progress"
	EventTypePipelineComplete  = "operation:complete"
	EventTypeOperationError    = "operation:error"
)

// Default timeouts
const (
	DefaultStageTimeout     = 30 * time.Minute
	DefaultReadTimeout      = 20 * time.Minute
	DefaultSpatialTimeout   = 60 * time.Minute
	DefaultAggregateTimeout = 30 * time.Minute
	DefaultExportTimeout    = 20 * time.Minute
	DefaultSinksTimeout     = 30 * time.Minute
)

// ExecutionMode defines how steps are executed
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
)

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// OperationRequest represents a request to execute a pipeline run
type OperationRequest struct {
	ID         string                 `json:"id"`
	Mode       string                 `json:"mode"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// OperationResponse represents the response from a pipeline run
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Error    string                `json:"error,omitempty"`
}
