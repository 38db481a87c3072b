package gateway

import (
	"github.com/000haoji/deep-student-sub000/internal/streaming"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// StreamSession is a live streaming call. The caller drains it with Recv
// until a terminal event (or io.EOF) and must Close it; abandoning a
// session without a terminal event records it as cancelled with whatever
// partial content and usage had arrived.
type StreamSession struct {
	agg   *streaming.Aggregator
	model *types.ModelConfig
}

// Recv returns the next stream event. Exactly one terminal event is
// surfaced; afterwards Recv returns io.EOF.
func (s *StreamSession) Recv() (*types.StreamEvent, error) {
	return s.agg.Recv()
}

// Close releases the underlying connection. Safe to call after the
// terminal event; required before it if the caller stops early.
func (s *StreamSession) Close() error {
	return s.agg.Close()
}

// Text returns the content accumulated so far.
func (s *StreamSession) Text() string { return s.agg.Text() }

// Usage returns the latest token accounting snapshot.
func (s *StreamSession) Usage() types.Usage { return s.agg.Usage() }

// ModelID identifies the model serving this session.
func (s *StreamSession) ModelID() string { return s.model.ID }

// Provider identifies the backend family serving this session.
func (s *StreamSession) Provider() types.ProviderKind { return s.model.Provider }

// ModelName identifies the backend model serving this session.
func (s *StreamSession) ModelName() string { return s.model.ModelName }
