package operations

import (
	"time"

	"dvfcli/internal/config"
)

// Config represents the operation execution configuration
type Config struct {
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// StageTimeouts overrides DefaultTimeout per stage.
	StageTimeouts  map[string]time.Duration `json:"stage_timeouts"`
	DefaultTimeout time.Duration            `json:"default_timeout"`

	RetryConfig RetryConfig `json:"retry_config"`

	// ContinueOnError lets later stages run after a failure. Stages whose
	// dependencies failed are still skipped.
	ContinueOnError bool `json:"continue_on_error"`
}

// NewConfig returns the default operation configuration
func NewConfig() *Config {
	return &Config{
		ExecutionMode: ExecutionModeSequential,
		StageTimeouts: map[string]time.Duration{
			StageIDRead:      DefaultReadTimeout,
			StageIDSpatial:   DefaultSpatialTimeout,
			StageIDAggregate: DefaultAggregateTimeout,
			StageIDExport:    DefaultExportTimeout,
			StageIDSinks:     DefaultSinksTimeout,
		},
		DefaultTimeout:  DefaultStageTimeout,
		RetryConfig:     NewRetryConfig(),
		ContinueOnError: false,
	}
}

// ConfigFromApp derives the runtime configuration from the application
// configuration. A non-zero pipeline.stage_timeout applies to every stage.
func ConfigFromApp(cfg *config.Config) *Config {
	c := NewConfig()
	if cfg != nil && cfg.Pipeline.StageTimeout > 0 {
		c.DefaultTimeout = cfg.Pipeline.StageTimeout
		c.StageTimeouts = make(map[string]time.Duration)
	}
	return c
}

// GetStageTimeout returns the timeout for a specific Step
func (c *Config) GetStageTimeout(stageID string) time.Duration {
	if timeout, ok := c.StageTimeouts[stageID]; ok {
		return timeout
	}
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultStageTimeout
}

// SetStageTimeout sets the timeout for a specific Step
func (c *Config) SetStageTimeout(stageID string, timeout time.Duration) {
	if c.StageTimeouts == nil {
		c.StageTimeouts = make(map[string]time.Duration)
	}
	c.StageTimeouts[stageID] = timeout
}

// ConfigBuilder provides a fluent interface for building operation configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: NewConfig(),
	}
}

// WithStageTimeout sets the timeout for a Step
func (b *ConfigBuilder) WithStageTimeout(stageID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetStageTimeout(stageID, timeout)
	return b
}

// WithDefaultTimeout sets the timeout of stages without an override
func (b *ConfigBuilder) WithDefaultTimeout(timeout time.Duration) *ConfigBuilder {
	b.config.DefaultTimeout = timeout
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConfigBuilder) WithRetryConfig(config RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = config
	return b
}

// WithContinueOnError sets whether to continue on errors
func (b *ConfigBuilder) WithContinueOnError(continueOnError bool) *ConfigBuilder {
	b.config.ContinueOnError = continueOnError
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
