package types

import "errors"

var (
	errNilRequest   = errors.New("request is nil")
	errMissingTask  = errors.New("task_type is required")
	errEmptyRequest = errors.New("prompt, history or image is required")
)

// StreamEventType distinguishes the events a streaming call produces.
type StreamEventType string

const (
	// EventContent carries one content fragment.
	EventContent StreamEventType = "content"
	// EventUsage carries token accounting surfaced mid-stream or at the end.
	EventUsage StreamEventType = "usage"
	// EventError is a terminal failure event.
	EventError StreamEventType = "error"
	// EventDone is the terminal success event.
	EventDone StreamEventType = "done"
)

// StreamEvent is one element of the lazy, finite, non-restartable sequence
// produced by a streaming call. Exactly one terminal event (done or error)
// is surfaced per stream.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
	Usage   *Usage          `json:"usage,omitempty"`

	ErrorMessage string `json:"error,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e *StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
