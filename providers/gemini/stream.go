package gemini

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"github.com/goccy/go-json"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// stream parses Gemini's SSE framing (alt=sse) into gateway events.
// Each data line is a full geminiResponse fragment; usageMetadata arrives
// on the final fragment.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	model   string

	mu       sync.Mutex
	closed   bool
	finished bool
	usage    *types.Usage
}

func newStream(body io.ReadCloser, model string) *stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	return &stream{body: body, scanner: scanner, model: model}
}

// Recv returns the next stream event, io.EOF after the terminal one.
func (s *stream) Recv() (*types.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.closed {
		return nil, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data: "))

		var fragment geminiResponse
		if err := json.Unmarshal(line, &fragment); err != nil {
			continue
		}

		if fragment.UsageMetadata != nil {
			usage := fragment.UsageMetadata.normalize()
			s.usage = &usage
		}

		var text bytes.Buffer
		if len(fragment.Candidates) > 0 {
			for _, part := range fragment.Candidates[0].Content.Parts {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			return &types.StreamEvent{Type: types.EventContent, Content: text.String()}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		s.finished = true
		s.closeLocked()
		gwErr := gwerrors.From(err, ProviderName, s.model)
		return &types.StreamEvent{
			Type:         types.EventError,
			ErrorMessage: gwErr.Message,
			ErrorType:    gwErr.Type,
		}, nil
	}

	s.finished = true
	s.closeLocked()
	return &types.StreamEvent{Type: types.EventDone, Usage: s.usage}, nil
}

// Close releases the underlying connection. Safe to call repeatedly.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *stream) closeLocked() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
