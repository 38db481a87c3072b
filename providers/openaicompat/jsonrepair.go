package openaicompat

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonrepair"
)

// RepairJSON extracts a JSON document from model output, fixing the usual
// LLM damage: markdown fences, trailing commas, single quotes, truncated
// objects. Unrecoverable input returns an error for the caller to map to a
// parsing failure.
func RepairJSON(text string) (json.RawMessage, error) {
	candidate := stripFences(text)
	if strings.TrimSpace(candidate) == "" {
		return nil, fmt.Errorf("empty output")
	}

	if json.Valid([]byte(candidate)) {
		return json.RawMessage(candidate), nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return nil, fmt.Errorf("repair json: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return nil, fmt.Errorf("repaired output is still invalid json")
	}
	return json.RawMessage(repaired), nil
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		// Drop the language tag line ("json", "JSON", ...).
		first := strings.TrimSpace(trimmed[:idx])
		if len(first) <= 8 {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
