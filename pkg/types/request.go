package types

import "github.com/goccy/go-json"

// OutputFormat selects the desired shape of a task result.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ImageInput carries an image either as inline bytes or as a URL.
// Adapters decide how to ship it: OpenAI-compatible backends take a data
// URL or the URL as-is, Gemini wants inline base64.
type ImageInput struct {
	Data     []byte `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
}

// AIRequest is the caller-facing request for any gateway task.
type AIRequest struct {
	TaskType TaskType          `json:"task_type"`
	Prompt   string            `json:"prompt"`
	Image    *ImageInput       `json:"image,omitempty"`
	Context  map[string]string `json:"context,omitempty"`
	History  []Message         `json:"history,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`

	Stream       bool         `json:"stream,omitempty"`
	OutputFormat OutputFormat `json:"output_format,omitempty"`

	// Caller preferences. When no active model matches, selection falls
	// back to the full candidate set instead of failing.
	PreferredModel    string       `json:"preferred_model,omitempty"`
	PreferredProvider ProviderKind `json:"preferred_provider,omitempty"`
}

// Validate checks the request for fields the gateway cannot work without.
func (r *AIRequest) Validate() error {
	if r == nil {
		return errNilRequest
	}
	if r.TaskType == "" {
		return errMissingTask
	}
	if r.Prompt == "" && len(r.History) == 0 && r.Image == nil {
		return errEmptyRequest
	}
	return nil
}

// Usage is the normalized token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage report, recomputing the total when the
// backend only reports partial counts.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	if other.TotalTokens > 0 {
		u.TotalTokens += other.TotalTokens
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// AIResponse is the single outcome a caller sees for a logical request,
// success or failure. Retry and failover detail never appears here.
type AIResponse struct {
	Success bool `json:"success"`

	Text string          `json:"text,omitempty"`
	JSON json.RawMessage `json:"json,omitempty"`

	ModelID   string       `json:"model_id,omitempty"`
	Provider  ProviderKind `json:"provider,omitempty"`
	ModelName string       `json:"model_name,omitempty"`

	Usage      Usage   `json:"usage"`
	Cost       float64 `json:"cost"`
	DurationMs int64   `json:"duration_ms"`

	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
}
