package openaicompat

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/goccy/go-json"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// sseStream parses an OpenAI-style SSE body into gateway stream events.
// Malformed chunks are skipped, not surfaced as errors; transport failures
// produce a single terminal error event.
type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	provider string
	model    string

	mu       sync.Mutex
	closed   bool
	finished bool
	usage    *types.Usage
}

func newSSEStream(body io.ReadCloser, providerName, model string) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	return &sseStream{
		body:     body,
		scanner:  scanner,
		provider: providerName,
		model:    model,
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *wireUsage `json:"usage"`
}

// Recv returns the next stream event. After the terminal event it returns
// io.EOF.
func (s *sseStream) Recv() (*types.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data: "))

		if bytes.Equal(line, []byte("[DONE]")) {
			return s.terminalDone()
		}

		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Keep-alive or malformed chunk; skip rather than fail the stream.
			continue
		}

		if chunk.Usage != nil {
			usage := chunk.Usage.normalize()
			s.usage = &usage
			ev := usage
			return &types.StreamEvent{Type: types.EventUsage, Usage: &ev}, nil
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return &types.StreamEvent{
				Type:    types.EventContent,
				Content: chunk.Choices[0].Delta.Content,
			}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.finished = true
		s.closeLocked()
		gwErr := gwerrors.From(err, s.provider, s.model)
		return &types.StreamEvent{
			Type:         types.EventError,
			ErrorMessage: gwErr.Message,
			ErrorType:    gwErr.Type,
		}, nil
	}

	// Body ended without [DONE]; treat as a clean end of stream.
	return s.terminalDone()
}

func (s *sseStream) terminalDone() (*types.StreamEvent, error) {
	s.finished = true
	s.closeLocked()
	return &types.StreamEvent{Type: types.EventDone, Usage: s.usage}, nil
}

// Close releases the underlying connection. Safe to call repeatedly.
func (s *sseStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *sseStream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
