package operations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"dvfcli/internal/config"
)

func TestConfig_StageTimeouts(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultSpatialTimeout, cfg.GetStageTimeout(StageIDSpatial))
	assert.Equal(t, DefaultStageTimeout, cfg.GetStageTimeout(StageIDCollapse))

	cfg.SetStageTimeout(StageIDCollapse, time.Minute)
	assert.Equal(t, time.Minute, cfg.GetStageTimeout(StageIDCollapse))

	empty := &Config{}
	assert.Equal(t, DefaultStageTimeout, empty.GetStageTimeout(StageIDRead))
	empty.SetStageTimeout(StageIDRead, time.Second)
	assert.Equal(t, time.Second, empty.GetStageTimeout(StageIDRead))
}

func TestConfigFromApp(t *testing.T) {
	app := config.Default()
	app.Pipeline.StageTimeout = 5 * time.Minute

	cfg := ConfigFromApp(app)
	assert.Equal(t, 5*time.Minute, cfg.GetStageTimeout(StageIDSpatial))
	assert.Equal(t, 5*time.Minute, cfg.GetStageTimeout(StageIDRead))

	app.Pipeline.StageTimeout = 0
	cfg = ConfigFromApp(app)
	assert.Equal(t, DefaultSpatialTimeout, cfg.GetStageTimeout(StageIDSpatial))

	assert.Equal(t, NewConfig().DefaultTimeout, ConfigFromApp(nil).DefaultTimeout)
}

func TestConfigBuilder(t *testing.T) {
	retry := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Second, Multiplier: 3}
	cfg := NewConfigBuilder().
		WithStageTimeout(StageIDExport, time.Minute).
		WithDefaultTimeout(2 * time.Minute).
		WithRetryConfig(retry).
		WithContinueOnError(true).
		Build()

	assert.Equal(t, time.Minute, cfg.GetStageTimeout(StageIDExport))
	assert.Equal(t, 2*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, retry, cfg.RetryConfig)
	assert.True(t, cfg.ContinueOnError)
	assert.Equal(t, ExecutionModeSequential, cfg.ExecutionMode)
}

func TestCalculateRetryDelay(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	defer m.Close()

	retry := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.calculateRetryDelay(tt.attempt, retry), "attempt %d", tt.attempt)
	}
}

func TestProgressTracker(t *testing.T) {
	p := NewProgressTracker(StageIDExport, 4)
	assert.Equal(t, "calculating...", p.GetETA())
	assert.False(t, p.IsComplete())

	p.Increment("transactions")
	p.Increment("aggregates")
	current, total, pct, msg := p.GetProgress()
	assert.Equal(t, 2, current)
	assert.Equal(t, 4, total)
	assert.InDelta(t, 50.0, pct, 1e-9)
	assert.Equal(t, "aggregates", msg)

	p.Update(4, "done")
	assert.True(t, p.IsComplete())
	assert.Contains(t, p.GetElapsedTimeString(), "seconds")
}

func TestFormatSeconds(t *testing.T) {
	assert.Equal(t, "12 seconds", formatSeconds(12))
	assert.Equal(t, "1.5 minutes", formatSeconds(90))
	assert.Equal(t, "2.0 hours", formatSeconds(7200))
}
