package calllog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

func entry(modelID string, task types.TaskType, status types.CallStatus) *types.CallLogEntry {
	return &types.CallLogEntry{
		ModelID:  modelID,
		TaskType: task,
		Status:   status,
		Request:  `{"prompt":"x"}`,
	}
}

func TestMemoryStoreAppendAssignsIDAndTime(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("m1", types.TaskOCR, types.CallSuccess)))

	got, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestMemoryStoreListFilters(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("m1", types.TaskOCR, types.CallSuccess)))
	require.NoError(t, s.Append(ctx, entry("m1", types.TaskOCR, types.CallFailed)))
	require.NoError(t, s.Append(ctx, entry("m2", types.TaskSummarization, types.CallSuccess)))

	got, err := s.List(ctx, Query{ModelID: "m1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, Query{Status: types.CallFailed})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.List(ctx, Query{TaskType: types.TaskSummarization})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.List(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryStoreListNewestFirst(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()

	first := entry("m1", types.TaskOCR, types.CallSuccess)
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := entry("m2", types.TaskOCR, types.CallSuccess)

	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, second))

	got, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m2", got[0].ModelID)
}

func TestMemoryStoreCapDropsOldest(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, entry("m1", types.TaskOCR, types.CallSuccess)))
	require.NoError(t, s.Append(ctx, entry("m2", types.TaskOCR, types.CallSuccess)))
	require.NoError(t, s.Append(ctx, entry("m3", types.TaskOCR, types.CallSuccess)))

	got, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[0].ModelID)
	assert.Equal(t, "m2", got[1].ModelID)
}

func TestMemoryStoreRejectsNil(t *testing.T) {
	s := NewMemoryStore(0)
	assert.Error(t, s.Append(context.Background(), nil))
}
