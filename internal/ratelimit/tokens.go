package ratelimit

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

const fallbackEncoding = "cl100k_base"

// EstimateTokens approximates the prompt token count of a request for
// budget reservation and for usage fallback when a backend omits token
// accounting. Exact counts come from the provider's usage report.
func EstimateTokens(model string, req *types.AIRequest) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			// No encoding data available; fall back to a crude
			// chars-per-token heuristic.
			return roughEstimate(req)
		}
	}

	total := len(enc.Encode(req.Prompt, nil, nil))
	for _, m := range req.History {
		total += len(enc.Encode(m.Content, nil, nil))
	}
	if sys := req.Context["system"]; sys != "" {
		total += len(enc.Encode(sys, nil, nil))
	}
	return total
}

// CountText counts tokens in a single string, used for completion-side
// estimation of streamed output.
func CountText(model, text string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return len(text) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}

func roughEstimate(req *types.AIRequest) int {
	chars := len(req.Prompt)
	for _, m := range req.History {
		chars += len(m.Content)
	}
	return chars / 4
}
