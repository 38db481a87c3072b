// Package types defines the core data structures exchanged between the
// gateway, its provider adapters, and the external registry and call log
// stores.
package types

// TaskType identifies the kind of inference work a caller wants performed.
type TaskType string

const (
	TaskOCR                 TaskType = "ocr"
	TaskStructuredAnalysis  TaskType = "structured_analysis"
	TaskInteractiveAnalysis TaskType = "interactive_analysis"
	TaskSummarization       TaskType = "summarization"
	TaskTranslation         TaskType = "translation"
)

// Capability describes a modality a model supports.
type Capability string

const (
	CapabilityText      Capability = "text"
	CapabilityVision    Capability = "vision"
	CapabilityEmbedding Capability = "embedding"
	CapabilityAudio     Capability = "audio"
)

// taskCapabilities maps each task type to the capabilities a model must
// have to serve it. OCR needs vision on top of text; everything else is
// text-only.
var taskCapabilities = map[TaskType][]Capability{
	TaskOCR:                 {CapabilityVision, CapabilityText},
	TaskStructuredAnalysis:  {CapabilityText},
	TaskInteractiveAnalysis: {CapabilityText},
	TaskSummarization:       {CapabilityText},
	TaskTranslation:         {CapabilityText},
}

// RequiredCapabilities returns the capability set a model must satisfy to
// serve the given task. Unknown task types default to text-only.
func RequiredCapabilities(task TaskType) []Capability {
	if caps, ok := taskCapabilities[task]; ok {
		return caps
	}
	return []Capability{CapabilityText}
}

// KnownTask reports whether the task type is one the gateway understands.
func KnownTask(task TaskType) bool {
	_, ok := taskCapabilities[task]
	return ok
}
