// Package ratelimit enforces per-model request and token budgets on the
// gateway side, so a model with configured RPM/TPM limits is never even
// dispatched past them. A rejected reservation surfaces as a
// rate_limit_error, which the routing engine treats as an immediate
// failover signal.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// Limiter keeps one pair of token buckets per model key.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*modelLimiter
}

type modelLimiter struct {
	rpm *rate.Limiter // requests per minute, nil when unlimited
	tpm *rate.Limiter // tokens per minute, nil when unlimited
}

// New creates an empty limiter registry.
func New() *Limiter {
	return &Limiter{entries: make(map[string]*modelLimiter)}
}

// Allow reserves one request plus the request's estimated prompt tokens
// against the model's budgets. It never blocks: budget exhaustion returns
// a rate_limit_error immediately.
func (l *Limiter) Allow(cfg *types.ModelConfig, req *types.AIRequest) error {
	ml := l.get(cfg)
	if ml.rpm == nil && ml.tpm == nil {
		return nil
	}

	now := time.Now()
	if ml.rpm != nil && !ml.rpm.AllowN(now, 1) {
		return gwerrors.NewRateLimitError(string(cfg.Provider), cfg.ModelName,
			"request budget exhausted")
	}
	if ml.tpm != nil && req != nil {
		tokens := EstimateTokens(cfg.ModelName, req)
		if tokens > 0 && !ml.tpm.AllowN(now, tokens) {
			return gwerrors.NewRateLimitError(string(cfg.Provider), cfg.ModelName,
				"token budget exhausted")
		}
	}
	return nil
}

func (l *Limiter) get(cfg *types.ModelConfig) *modelLimiter {
	key := cfg.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	ml, ok := l.entries[key]
	if !ok {
		ml = &modelLimiter{}
		if cfg.RequestsPerMinute > 0 {
			ml.rpm = rate.NewLimiter(
				rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)),
				cfg.RequestsPerMinute)
		}
		if cfg.TokensPerMinute > 0 {
			ml.tpm = rate.NewLimiter(
				rate.Limit(float64(cfg.TokensPerMinute)/60.0),
				cfg.TokensPerMinute)
		}
		l.entries[key] = ml
	}
	return ml
}
