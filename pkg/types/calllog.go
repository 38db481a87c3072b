package types

import "time"

// CallStatus is the terminal status recorded for a logical request.
type CallStatus string

const (
	CallSuccess   CallStatus = "success"
	CallFailed    CallStatus = "failed"
	CallTimeout   CallStatus = "timeout"
	CallCancelled CallStatus = "cancelled"
)

// CallLogEntry is one append-only ledger record. It is written exactly once
// per logical request, after the terminal outcome is known, and never
// mutated afterwards.
type CallLogEntry struct {
	ID       string     `json:"id"`
	ModelID  string     `json:"model_id"`
	TaskType TaskType   `json:"task_type"`
	Status   CallStatus `json:"status"`

	// Request and Response are serialized snapshots for auditing. For a
	// failed or cancelled stream, Response holds the partial-stream summary.
	Request  string `json:"request"`
	Response string `json:"response,omitempty"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost"`
	DurationMs       int64   `json:"duration_ms"`

	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
