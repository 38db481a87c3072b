package ratelimit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

func shortRequest() *types.AIRequest {
	return &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "hi"}
}

func TestAllowUnlimitedByDefault(t *testing.T) {
	l := New()
	cfg := &types.ModelConfig{ID: "a", Provider: types.ProviderOpenAI, ModelName: "gpt-4o"}

	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Allow(cfg, shortRequest()))
	}
}

func TestAllowExhaustsRequestBudget(t *testing.T) {
	l := New()
	cfg := &types.ModelConfig{
		ID: "a", Provider: types.ProviderOpenAI, ModelName: "gpt-4o",
		RequestsPerMinute: 3,
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(cfg, shortRequest()))
	}

	err := l.Allow(cfg, shortRequest())
	require.Error(t, err)
	assert.Equal(t, gwerrors.TypeRateLimit, gwerrors.TypeOf(err))
}

func TestAllowReservesEstimatedPromptTokens(t *testing.T) {
	l := New()
	cfg := &types.ModelConfig{
		ID: "a", Provider: types.ProviderOpenAI, ModelName: "gpt-4o",
		TokensPerMinute: 50,
	}

	// A two-word prompt fits the budget.
	require.NoError(t, l.Allow(cfg, shortRequest()))

	// A prompt far larger than the per-minute budget is rejected on its
	// estimated size, regardless of remaining burst.
	long := &types.AIRequest{
		TaskType: types.TaskSummarization,
		Prompt:   strings.Repeat("budget accounting ", 400),
	}
	err := l.Allow(cfg, long)
	require.Error(t, err)
	assert.Equal(t, gwerrors.TypeRateLimit, gwerrors.TypeOf(err))
}

func TestLimitersAreIndependentPerModel(t *testing.T) {
	l := New()
	a := &types.ModelConfig{ID: "a", Provider: types.ProviderOpenAI, ModelName: "gpt-4o", RequestsPerMinute: 1}
	b := &types.ModelConfig{ID: "b", Provider: types.ProviderDeepSeek, ModelName: "deepseek-chat", RequestsPerMinute: 1}

	require.NoError(t, l.Allow(a, shortRequest()))
	require.Error(t, l.Allow(a, shortRequest()))
	require.NoError(t, l.Allow(b, shortRequest()))
}

func TestEstimateTokensNeverZeroForText(t *testing.T) {
	req := &types.AIRequest{
		TaskType: types.TaskSummarization,
		Prompt:   "Summarize the following meeting notes in two sentences.",
	}

	n := EstimateTokens("gpt-4o", req)
	assert.Greater(t, n, 0)

	// Unknown models fall back to an approximate count.
	n = EstimateTokens("totally-unknown-model", req)
	assert.Greater(t, n, 0)
}

func TestEstimateTokensGrowsWithHistory(t *testing.T) {
	base := &types.AIRequest{TaskType: types.TaskInteractiveAnalysis, Prompt: "hello"}
	long := &types.AIRequest{
		TaskType: types.TaskInteractiveAnalysis,
		Prompt:   "hello",
		History: []types.Message{
			{Role: "user", Content: "first question about the dataset"},
			{Role: "assistant", Content: "a fairly long answer describing the schema in detail"},
		},
	}

	assert.Greater(t, EstimateTokens("gpt-4o", long), EstimateTokens("gpt-4o", base))
}
