package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/000haoji/deep-student-sub000/internal/calllog"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

func pricedModel() *types.ModelConfig {
	return &types.ModelConfig{
		ID:              "m1",
		Provider:        types.ProviderOpenAI,
		ModelName:       "gpt-4o",
		InputCostPer1K:  0.01,
		OutputCostPer1K: 0.03,
	}
}

func TestCostPerDirection(t *testing.T) {
	got := Cost(pricedModel(), types.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500})
	// 1000/1000*0.01 + 500/1000*0.03
	assert.InDelta(t, 0.025, got, 1e-12)
}

func TestCostBlendedFallback(t *testing.T) {
	cfg := &types.ModelConfig{CostPer1K: 0.002}
	got := Cost(cfg, types.Usage{PromptTokens: 400, CompletionTokens: 600, TotalTokens: 1000})
	assert.InDelta(t, 0.002, got, 1e-12)

	// Missing total falls back to the sum of directions.
	got = Cost(cfg, types.Usage{PromptTokens: 400, CompletionTokens: 600})
	assert.InDelta(t, 0.002, got, 1e-12)
}

func TestCostUnpricedModelIsZero(t *testing.T) {
	assert.Zero(t, Cost(&types.ModelConfig{}, types.Usage{TotalTokens: 10_000}))
	assert.Zero(t, Cost(nil, types.Usage{TotalTokens: 10_000}))
}

func TestCostExactSubCentArithmetic(t *testing.T) {
	cfg := &types.ModelConfig{InputCostPer1K: 0.0001, OutputCostPer1K: 0.0003}
	got := Cost(cfg, types.Usage{PromptTokens: 3, CompletionTokens: 7})
	assert.InDelta(t, 0.0000024, got, 1e-15)
}

type recordingStats struct {
	deltas []types.StatsDelta
	ids    []string
	err    error
}

func (r *recordingStats) UpdateStatistics(_ context.Context, id string, delta types.StatsDelta) error {
	r.ids = append(r.ids, id)
	r.deltas = append(r.deltas, delta)
	return r.err
}

func TestCommitWritesOneEntryAndOneDelta(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	stats := &recordingStats{}
	rec := NewRecorder(logStore, stats, nil)

	req := &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "tl;dr"}
	cost := rec.Commit(Record{
		Model:    pricedModel(),
		Request:  req,
		Status:   types.CallSuccess,
		Usage:    types.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		Response: "short summary",
		Duration: 1200 * time.Millisecond,
	})
	assert.InDelta(t, 0.025, cost, 1e-12)

	entries, err := logStore.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "m1", e.ModelID)
	assert.Equal(t, types.CallSuccess, e.Status)
	assert.Equal(t, 1500, e.TotalTokens)
	assert.InDelta(t, 0.025, e.Cost, 1e-12)
	assert.Equal(t, int64(1200), e.DurationMs)
	assert.Contains(t, e.Request, "tl;dr")

	require.Len(t, stats.deltas, 1)
	assert.Equal(t, "m1", stats.ids[0])
	assert.True(t, stats.deltas[0].Success)
	assert.Equal(t, int64(1500), stats.deltas[0].Tokens)
}

func TestCommitFailedRequestRecordsFailure(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	stats := &recordingStats{}
	rec := NewRecorder(logStore, stats, nil)

	rec.Commit(Record{
		Model:    pricedModel(),
		Request:  &types.AIRequest{TaskType: types.TaskOCR, Prompt: "x"},
		Status:   types.CallFailed,
		ErrorMsg: "[all_models_failed] every candidate failed",
		Duration: 3 * time.Second,
	})

	entries, err := logStore.List(context.Background(), calllog.Query{Status: types.CallFailed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ErrorMessage, "all_models_failed")

	require.Len(t, stats.deltas, 1)
	assert.False(t, stats.deltas[0].Success)
}

func TestCommitStatsFailureDoesNotPanicOrSkipLog(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	stats := &recordingStats{err: errors.New("db down")}
	rec := NewRecorder(logStore, stats, nil)

	rec.Commit(Record{
		Model:   pricedModel(),
		Request: &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"},
		Status:  types.CallSuccess,
		Usage:   types.Usage{TotalTokens: 10},
	})

	entries, err := logStore.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type flakyLogStore struct {
	inner    *calllog.MemoryStore
	failures int
	appends  int
}

func (f *flakyLogStore) Append(ctx context.Context, e *types.CallLogEntry) error {
	f.appends++
	if f.failures > 0 {
		f.failures--
		return errors.New("transient store failure")
	}
	return f.inner.Append(ctx, e)
}

func (f *flakyLogStore) List(ctx context.Context, q calllog.Query) ([]types.CallLogEntry, error) {
	return f.inner.List(ctx, q)
}

func TestCommitRetriesTransientAppendFailure(t *testing.T) {
	flaky := &flakyLogStore{inner: calllog.NewMemoryStore(0), failures: 1}
	stats := &recordingStats{}
	rec := NewRecorder(flaky, stats, nil)

	rec.Commit(Record{
		Model:   pricedModel(),
		Request: &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"},
		Status:  types.CallSuccess,
		Usage:   types.Usage{TotalTokens: 10},
	})

	entries, err := flaky.inner.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "a transient append failure must not drop the entry")
	assert.Equal(t, 2, flaky.appends)
	assert.Len(t, stats.deltas, 1, "the delta that landed is not re-written by the retry")
}

func TestCommitGivesUpAfterBoundedRetries(t *testing.T) {
	flaky := &flakyLogStore{inner: calllog.NewMemoryStore(0), failures: 100}
	rec := NewRecorder(flaky, nil, nil)

	rec.Commit(Record{
		Model:   pricedModel(),
		Request: &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"},
		Status:  types.CallSuccess,
	})

	assert.Equal(t, 3, flaky.appends)
}

func TestCommitEstimatesUsageWhenBackendOmitsIt(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	stats := &recordingStats{}
	rec := NewRecorder(logStore, stats, nil)

	cost := rec.Commit(Record{
		Model:    pricedModel(),
		Request:  &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "summarize the quarterly report"},
		Status:   types.CallSuccess,
		Response: "revenue grew and costs held steady",
	})
	assert.Greater(t, cost, 0.0, "estimated tokens still price the call")

	entries, err := logStore.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Greater(t, entries[0].PromptTokens, 0)
	assert.Greater(t, entries[0].CompletionTokens, 0)
	assert.Equal(t, entries[0].PromptTokens+entries[0].CompletionTokens, entries[0].TotalTokens)
}

func TestCommitKeepsReportedUsageOverEstimate(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	rec := NewRecorder(logStore, nil, nil)

	rec.Commit(Record{
		Model:    pricedModel(),
		Request:  &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"},
		Status:   types.CallSuccess,
		Usage:    types.Usage{PromptTokens: 42, CompletionTokens: 8, TotalTokens: 50},
		Response: "a response that would estimate differently",
	})

	entries, err := logStore.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 50, entries[0].TotalTokens)
}

func TestCommitElidesInlineImageBytes(t *testing.T) {
	logStore := calllog.NewMemoryStore(0)
	rec := NewRecorder(logStore, nil, nil)

	rec.Commit(Record{
		Model: pricedModel(),
		Request: &types.AIRequest{
			TaskType: types.TaskOCR,
			Prompt:   "read",
			Image:    &types.ImageInput{Data: make([]byte, 1<<20), MimeType: "image/png"},
		},
		Status: types.CallSuccess,
	})

	entries, err := logStore.List(context.Background(), calllog.Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Less(t, len(entries[0].Request), 1024)
	assert.Contains(t, entries[0].Request, "image/png")
}
