package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

func model(id, name string, provider types.ProviderKind, priority int, caps ...types.Capability) types.ModelConfig {
	if len(caps) == 0 {
		caps = []types.Capability{types.CapabilityText}
	}
	return types.ModelConfig{
		ID:           id,
		Provider:     provider,
		ModelName:    name,
		Priority:     priority,
		IsActive:     true,
		Capabilities: caps,
	}
}

func TestSelectFiltersByCapability(t *testing.T) {
	models := []types.ModelConfig{
		model("a", "gpt-4o", types.ProviderOpenAI, 1, types.CapabilityText, types.CapabilityVision),
		model("b", "deepseek-chat", types.ProviderDeepSeek, 2),
	}

	got, err := New(nil).Select(models, &types.AIRequest{TaskType: types.TaskOCR, Prompt: "read this"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestSelectHonorsTaskAllowList(t *testing.T) {
	restricted := model("a", "gpt-4o", types.ProviderOpenAI, 1)
	restricted.SupportedTasks = []types.TaskType{types.TaskTranslation}
	models := []types.ModelConfig{restricted, model("b", "deepseek-chat", types.ProviderDeepSeek, 2)}

	got, err := New(nil).Select(models, &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "tl;dr"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSelectSkipsInactive(t *testing.T) {
	inactive := model("a", "gpt-4o", types.ProviderOpenAI, 1)
	inactive.IsActive = false

	_, err := New(nil).Select([]types.ModelConfig{inactive}, &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, gwerrors.TypeModelSelection, gwerrors.TypeOf(err))
}

func TestSelectOrdersByPriorityThenName(t *testing.T) {
	models := []types.ModelConfig{
		model("c", "z-model", types.ProviderOpenAI, 2),
		model("a", "b-model", types.ProviderOpenAI, 1),
		model("b", "a-model", types.ProviderDeepSeek, 1),
	}

	got, err := New(nil).Select(models, &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a-model", got[0].ModelName)
	assert.Equal(t, "b-model", got[1].ModelName)
	assert.Equal(t, "z-model", got[2].ModelName)
}

func TestSelectNarrowsToPreference(t *testing.T) {
	models := []types.ModelConfig{
		model("a", "gpt-4o", types.ProviderOpenAI, 1),
		model("b", "deepseek-chat", types.ProviderDeepSeek, 2),
	}

	got, err := New(nil).Select(models, &types.AIRequest{
		TaskType:          types.TaskSummarization,
		Prompt:            "x",
		PreferredProvider: types.ProviderDeepSeek,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSelectFallsBackWhenPreferenceMatchesNothing(t *testing.T) {
	models := []types.ModelConfig{
		model("a", "gpt-4o", types.ProviderOpenAI, 1),
		model("b", "deepseek-chat", types.ProviderDeepSeek, 2),
	}

	got, err := New(nil).Select(models, &types.AIRequest{
		TaskType:       types.TaskSummarization,
		Prompt:         "x",
		PreferredModel: "claude-3",
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
