// Package registry provides access to the external model registry: the
// CRUD store that owns ModelConfig records. The gateway only reads model
// configurations and writes statistics deltas; everything else belongs to
// the registry service itself.
package registry

import (
	"context"
	"errors"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// ErrNotFound is returned when a model id has no registered configuration.
var ErrNotFound = errors.New("model not found")

// ErrDuplicateModel is returned when activating a config would violate the
// (provider, model name) uniqueness invariant among active configs.
var ErrDuplicateModel = errors.New("active model with same provider and name already exists")

// Store is the registry contract the gateway consumes.
type Store interface {
	// ListActiveModels returns every active model configuration.
	ListActiveModels(ctx context.Context) ([]types.ModelConfig, error)

	// GetModel returns one configuration by id, active or not.
	GetModel(ctx context.Context, id string) (*types.ModelConfig, error)

	// UpdateStatistics applies a rolling-statistics delta to one model.
	// Implementations must serialize updates per model id so concurrent
	// requests to the same model cannot lose increments.
	UpdateStatistics(ctx context.Context, id string, delta types.StatsDelta) error
}

// statsAlpha is the smoothing factor of the response-time moving average.
const statsAlpha = 0.1

// applyDelta folds one finished request into the rolling statistics.
func applyDelta(s *types.ModelStats, delta types.StatsDelta) {
	s.TotalRequests++
	if delta.Success {
		s.SuccessfulRequests++
		s.LastUsedAt = delta.FinishedAt
	} else {
		s.FailedRequests++
		s.LastErrorAt = delta.FinishedAt
	}
	s.TotalTokens += delta.Tokens
	s.TotalCost += delta.Cost

	if delta.LatencyMs > 0 {
		if s.AvgResponseMs == 0 {
			s.AvgResponseMs = delta.LatencyMs
		} else {
			s.AvgResponseMs = s.AvgResponseMs*(1-statsAlpha) + delta.LatencyMs*statsAlpha
		}
	}
}
