package testutil

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBufferedSlogHandler(t *testing.T) {
	t.Run("captures messages and attributes", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Info("stage finished", slog.String("stage", "collapse"), slog.Int64("rows_out", 7))

		assert.True(t, handler.ContainsMessage("stage finished"))
		assert.True(t, handler.ContainsAttr("stage", "collapse"))
		assert.True(t, handler.ContainsAttr("rows_out", int64(7)))
		assert.False(t, handler.ContainsAttr("stage", "outliers"))
		assert.False(t, handler.ContainsMessage("stage failed"))
	})

	t.Run("bound attributes reach every record", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.With("component", "exporter").Warn("partition skipped")
		logger.Info("unrelated")

		assert.True(t, handler.ContainsAttr("component", "exporter"))
		assert.Len(t, handler.snapshot(), 2)
		assert.Empty(t, handler.snapshot()[1].Attrs)
	})

	t.Run("records keep their level", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		logger.Warn("departments missing from region mapping")
		AssertLogContains(t, handler, slog.LevelWarn, "region mapping")

		records := handler.snapshot()
		assert.Len(t, records, 1)
		assert.Equal(t, slog.LevelWarn, records[0].Level)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		logger, handler := NewTestLogger(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				logger.Info("worker done", slog.Int("worker", n))
			}(i)
		}
		wg.Wait()

		assert.Len(t, handler.snapshot(), 10)
	})
}
