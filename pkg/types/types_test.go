package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredCapabilities(t *testing.T) {
	caps := RequiredCapabilities(TaskOCR)
	assert.Contains(t, caps, CapabilityVision)
	assert.Contains(t, caps, CapabilityText)

	caps = RequiredCapabilities(TaskSummarization)
	assert.Equal(t, []Capability{CapabilityText}, caps)
}

func TestKnownTask(t *testing.T) {
	assert.True(t, KnownTask(TaskStructuredAnalysis))
	assert.False(t, KnownTask(TaskType("poetry")))
}

func TestRequestValidate(t *testing.T) {
	var nilReq *AIRequest
	assert.Error(t, nilReq.Validate())

	assert.Error(t, (&AIRequest{Prompt: "hi"}).Validate())
	assert.Error(t, (&AIRequest{TaskType: TaskSummarization}).Validate())

	assert.NoError(t, (&AIRequest{TaskType: TaskSummarization, Prompt: "hi"}).Validate())
	assert.NoError(t, (&AIRequest{
		TaskType: TaskOCR,
		Image:    &ImageInput{Data: []byte{1}, MimeType: "image/png"},
	}).Validate())
}

func TestSupportsTaskEmptyAllowListAdmitsAll(t *testing.T) {
	m := ModelConfig{}
	assert.True(t, m.SupportsTask(TaskOCR))

	m.SupportedTasks = []TaskType{TaskTranslation}
	assert.True(t, m.SupportsTask(TaskTranslation))
	assert.False(t, m.SupportsTask(TaskOCR))
}

func TestUsageAddRecomputesTotal(t *testing.T) {
	u := Usage{}
	u.Add(Usage{PromptTokens: 10, CompletionTokens: 5})
	assert.Equal(t, 15, u.TotalTokens)

	u.Add(Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2})
	assert.Equal(t, 17, u.TotalTokens)
}

func TestModelKeyIncludesIdentity(t *testing.T) {
	m := ModelConfig{ID: "abc", Provider: ProviderOpenAI, ModelName: "gpt-4o"}
	assert.Equal(t, "openai/gpt-4o/abc", m.Key())
}

func TestStreamEventTerminal(t *testing.T) {
	assert.True(t, (&StreamEvent{Type: EventDone}).Terminal())
	assert.True(t, (&StreamEvent{Type: EventError}).Terminal())
	assert.False(t, (&StreamEvent{Type: EventContent}).Terminal())
	assert.False(t, (&StreamEvent{Type: EventUsage}).Terminal())
}
