package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dvfcli/internal/shared/testutil"
)

type recordedMetric struct {
	stage, reason, kind string
	n                   int64
}

type fakeMetrics struct {
	records []recordedMetric
}

func (f *fakeMetrics) RecordStageRows(_ context.Context, stage string, in, out int64) {
	f.records = append(f.records, recordedMetric{stage, "rows_in", "rows", in}, recordedMetric{stage, "rows_out", "rows", out})
}

func (f *fakeMetrics) RecordRejections(_ context.Context, stage, reason string, n int64) {
	f.records = append(f.records, recordedMetric{stage, reason, "rejected", n})
}

func (f *fakeMetrics) RecordConditions(_ context.Context, stage, reason string, n int64) {
	f.records = append(f.records, recordedMetric{stage, reason, "condition", n})
}

func TestReport_Counts(t *testing.T) {
	r := New("run-1")
	r.SetRows(StageCollapse, 10, 6)
	r.Reject(StageCollapse, ReasonNonResidential, 3)
	r.Reject(StageCollapse, ReasonNonResidential, 1)
	r.Reject(StageCollapse, ReasonLowValue, 0)
	r.Note(StageCollapse, ReasonRegionMissing, 2)

	assert.Equal(t, int64(4), r.Rejected(StageCollapse, ReasonNonResidential))
	assert.Equal(t, int64(0), r.Rejected(StageCollapse, ReasonLowValue))
	assert.Equal(t, int64(2), r.Condition(StageCollapse, ReasonRegionMissing))
	assert.Equal(t, int64(4), r.TotalRejected(StageCollapse))
	assert.Equal(t, int64(0), r.TotalRejected(StageSpatial))

	stages := r.Stages()
	require.Len(t, stages, 1)
	assert.Equal(t, 10, stages[0].RowsIn)
	assert.Equal(t, 6, stages[0].RowsOut)
	assert.NotContains(t, stages[0].Rejected, ReasonLowValue)
}

func TestReport_StageOrder(t *testing.T) {
	r := New("run")
	r.SetRows(StageOutliers, 1, 1)
	r.SetRows(StageCollapse, 1, 1)
	r.Note(StageOutliers, ReasonSmallCommuneGroup, 1)

	stages := r.Stages()
	require.Len(t, stages, 2)
	assert.Equal(t, StageOutliers, stages[0].Stage)
	assert.Equal(t, StageCollapse, stages[1].Stage)
}

func TestReport_NilIsNoop(t *testing.T) {
	var r *Report
	assert.NotPanics(t, func() {
		r.SetRows(StageRead, 1, 1)
		r.Reject(StageRead, ReasonLowValue, 1)
		r.Note(StageRead, ReasonNoZone, 1)
		r.Mirror(context.Background(), &fakeMetrics{})
		r.Log(context.Background(), nil)
	})
	assert.Zero(t, r.Rejected(StageRead, ReasonLowValue))
	assert.Nil(t, r.Stages())
}

func TestReport_ConcurrentUpdates(t *testing.T) {
	r := New("run")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Reject(StageOutliers, ReasonIQRValue, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), r.Rejected(StageOutliers, ReasonIQRValue))
}

func TestReport_Merge(t *testing.T) {
	a := New("run")
	a.Reject(StageSpatial, ReasonNoZone, 1)
	b := New("run")
	b.Reject(StageSpatial, ReasonNoZone, 2)
	b.Note(StageSpatial, ReasonAmbiguousZone, 1)
	b.SetRows(StageSpatial, 5, 5)

	a.Merge(b)
	assert.Equal(t, int64(3), a.Rejected(StageSpatial, ReasonNoZone))
	assert.Equal(t, int64(1), a.Condition(StageSpatial, ReasonAmbiguousZone))
	assert.Equal(t, 5, a.Stages()[0].RowsIn)
}

func TestReport_WriteJSON(t *testing.T) {
	r := New("run-42")
	r.SetReferenceYear(2025)
	r.SetRows(StageAdjust, 3, 3)
	r.Note(StageAdjust, ReasonFactorUndefined, 1)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var got Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, 2025, got.ReferenceYear)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, int64(1), got.Stages[0].Conditions[ReasonFactorUndefined])
}

func TestReport_Mirror(t *testing.T) {
	r := New("run")
	r.SetRows(StageOutliers, 20, 17)
	r.Reject(StageOutliers, ReasonValueOutOfRange, 2)
	r.Reject(StageOutliers, ReasonIQRSurface, 1)
	r.Note(StageOutliers, ReasonSmallCommuneGroup, 4)

	m := &fakeMetrics{}
	r.Mirror(context.Background(), m)

	assert.Equal(t, []recordedMetric{
		{"outliers", "rows_in", "rows", 20},
		{"outliers", "rows_out", "rows", 17},
		{"outliers", "iqr_surface", "rejected", 1},
		{"outliers", "value_out_of_range", "rejected", 2},
		{"outliers", "small_commune_group", "condition", 4},
	}, m.records)
}

func TestReport_Log(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	r := New("run")
	r.SetRows(StageCollapse, 3, 2)
	r.Reject(StageCollapse, ReasonMissingCoordinates, 1)

	r.Log(context.Background(), logger)

	assert.True(t, handler.ContainsMessage("stage diagnostics"))
	assert.True(t, handler.ContainsAttr("stage", "collapse"))
	assert.True(t, handler.ContainsAttr("rejected_missing_coordinates", int64(1)))
}
