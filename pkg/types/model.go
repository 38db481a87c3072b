package types

import (
	"time"
)

// ProviderKind identifies a backend wire-protocol family.
type ProviderKind string

const (
	ProviderOpenAI   ProviderKind = "openai"
	ProviderGemini   ProviderKind = "gemini"
	ProviderDeepSeek ProviderKind = "deepseek"
)

// ModelConfig is one registered backend model. The registry store owns it;
// the gateway holds a read-mostly cached copy with a short TTL.
type ModelConfig struct {
	ID        string       `json:"id"`
	Provider  ProviderKind `json:"provider"`
	ModelName string       `json:"model_name"`

	// APIKey may be a direct secret or a reference such as
	// "env://OPENAI_API_KEY" or "vault://secret/data/openai#api_key".
	// It is resolved once, at adapter construction time.
	APIKey  string `json:"-"`
	BaseURL string `json:"base_url,omitempty"`

	Priority       int          `json:"priority"`
	IsActive       bool         `json:"is_active"`
	Capabilities   []Capability `json:"capabilities"`
	SupportedTasks []TaskType   `json:"supported_tasks,omitempty"` // empty = all tasks

	RequestsPerMinute int               `json:"requests_per_minute,omitempty"`
	TokensPerMinute   int               `json:"tokens_per_minute,omitempty"`
	MaxContextTokens  int               `json:"max_context_tokens,omitempty"`
	MaxOutputTokens   int               `json:"max_output_tokens,omitempty"`
	Timeout           time.Duration     `json:"timeout,omitempty"`
	MaxRetries        int               `json:"max_retries"`
	Headers           map[string]string `json:"headers,omitempty"`

	// Per-direction prices in USD per 1000 tokens. CostPer1K is the blended
	// fallback used when the per-direction prices are absent.
	InputCostPer1K  float64 `json:"input_cost_per_1k,omitempty"`
	OutputCostPer1K float64 `json:"output_cost_per_1k,omitempty"`
	CostPer1K       float64 `json:"cost_per_1k,omitempty"`

	Stats ModelStats `json:"stats"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Key returns the identity used for health tracking and adapter caching.
func (m *ModelConfig) Key() string {
	return string(m.Provider) + "/" + m.ModelName + "/" + m.ID
}

// HasCapability reports whether the model advertises the given capability.
func (m *ModelConfig) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// SupportsTask reports whether the task passes the explicit allow-list.
// An empty allow-list admits every task.
func (m *ModelConfig) SupportsTask(task TaskType) bool {
	if len(m.SupportedTasks) == 0 {
		return true
	}
	for _, t := range m.SupportedTasks {
		if t == task {
			return true
		}
	}
	return false
}

// ModelStats holds the rolling statistics mutated only by the usage
// recorder. AvgResponseMs is an exponential moving average with alpha 0.1.
type ModelStats struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	TotalTokens        int64     `json:"total_tokens"`
	TotalCost          float64   `json:"total_cost"`
	AvgResponseMs      float64   `json:"avg_response_ms"`
	LastUsedAt         time.Time `json:"last_used_at"`
	LastErrorAt        time.Time `json:"last_error_at"`
}

// StatsDelta is the increment applied to a model's rolling statistics
// after one finished request.
type StatsDelta struct {
	Success    bool
	Tokens     int64
	Cost       float64
	LatencyMs  float64
	FinishedAt time.Time
}
