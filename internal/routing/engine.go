// Package routing implements the failover engine: the orchestration of
// candidate order, retry-with-backoff, health gating, and error
// aggregation for one logical request.
//
// The engine returns a structured Outcome with a full attempt trace;
// logging and metrics are rendered from the trace by the caller, not
// interleaved with the control flow here.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
	"github.com/000haoji/deep-student-sub000/internal/observability"
)

// AdapterResolver returns a ready adapter for a model config. Resolution
// failures (missing credentials, unknown provider) surface as config
// errors for that candidate.
type AdapterResolver func(ctx context.Context, cfg *types.ModelConfig) (provider.Adapter, error)

// Health is the monitor surface the engine needs: cached reads, outcome
// reporting, and the emergency full re-probe.
type Health interface {
	Healthy(ctx context.Context, key string) bool
	ReportOutcome(key string, success bool)
	ProbeAll(ctx context.Context, keys []string)
}

// Limiter reserves request/token budget before dispatch. The limiter
// estimates the request's prompt tokens itself.
type Limiter interface {
	Allow(cfg *types.ModelConfig, req *types.AIRequest) error
}

// Config tunes the engine.
type Config struct {
	// BackoffUnit is the linear backoff unit: retry n sleeps n*unit.
	BackoffUnit time.Duration
	// RequestTimeout bounds the whole attempt chain across all
	// candidates. Zero means no request-level bound.
	RequestTimeout time.Duration
	// DefaultMaxRetries applies when a model config does not set its own.
	DefaultMaxRetries int
}

// Attempt is one entry of the trace: a dispatch to one candidate, or a
// health-based skip.
type Attempt struct {
	ModelID   string
	Provider  types.ProviderKind
	ModelName string
	Retry     int
	Duration  time.Duration
	ErrType   string
	ErrMsg    string
	Skipped   bool
}

// Outcome is the terminal result of one logical request. Exactly one of
// Result/Err is set; Winner identifies the model that produced Result.
type Outcome struct {
	Result *provider.TaskResult
	Winner *types.ModelConfig
	Err    error
	Trace  []Attempt
}

// StreamOutcome is the terminal result of opening a stream. Failover
// applies only until a stream is handed over; after the first byte the
// stream is committed to its candidate.
type StreamOutcome struct {
	Stream provider.Stream
	Winner *types.ModelConfig
	Err    error
	Trace  []Attempt
}

// Engine coordinates attempts across an ordered candidate list.
type Engine struct {
	cfg     Config
	resolve AdapterResolver
	health  Health
	limiter Limiter
	logger  *slog.Logger
	tracer  trace.Tracer

	// sleep is swapped out by tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a routing engine.
func NewEngine(cfg Config, resolve AdapterResolver, health Health, limiter Limiter, logger *slog.Logger, tracer trace.Tracer) *Engine {
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer(observability.TracerName)
	}
	return &Engine{
		cfg:     cfg,
		resolve: resolve,
		health:  health,
		limiter: limiter,
		logger:  logger,
		tracer:  tracer,
		sleep:   sleepCtx,
	}
}

// Execute runs the failover loop for a single-shot request. At most one
// successful provider call is ever reported, and the caller is expected
// to record exactly one terminal call log entry from the outcome.
func (e *Engine) Execute(ctx context.Context, req *types.AIRequest, candidates []types.ModelConfig) *Outcome {
	outcome := &Outcome{}

	run := func(ctx context.Context, adapter provider.Adapter, cfg *types.ModelConfig) error {
		result, err := adapter.ExecuteTask(ctx, req)
		if err != nil {
			return err
		}
		outcome.Result = result
		outcome.Winner = cfg
		return nil
	}

	outcome.Err = e.loop(ctx, req, candidates, run, &outcome.Trace)
	return outcome
}

// OpenStream runs the failover loop up to the point a stream is opened.
func (e *Engine) OpenStream(ctx context.Context, req *types.AIRequest, candidates []types.ModelConfig) *StreamOutcome {
	outcome := &StreamOutcome{}

	run := func(ctx context.Context, adapter provider.Adapter, cfg *types.ModelConfig) error {
		stream, err := adapter.ExecuteTaskStream(ctx, req)
		if err != nil {
			return err
		}
		outcome.Stream = stream
		outcome.Winner = cfg
		return nil
	}

	outcome.Err = e.loop(ctx, req, candidates, run, &outcome.Trace)
	return outcome
}

type attemptFunc func(ctx context.Context, adapter provider.Adapter, cfg *types.ModelConfig) error

func (e *Engine) loop(ctx context.Context, req *types.AIRequest, candidates []types.ModelConfig, run attemptFunc, traceOut *[]Attempt) error {
	if len(candidates) == 0 {
		return gwerrors.NewModelSelectionError("candidate list is empty")
	}

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	usable := e.gateByHealth(ctx, candidates, traceOut)
	if len(usable) == 0 {
		return gwerrors.NewAllModelsFailedError("all candidates unhealthy after re-probe")
	}

	var failures []string
	for i := range usable {
		cfg := &usable[i]

		if err := ctx.Err(); err != nil {
			return e.deadlineError(err, failures)
		}

		candidateErr := e.tryCandidate(ctx, req, cfg, run, traceOut)
		if candidateErr == nil {
			// Success: the winner is committed, nothing further runs.
			return nil
		}

		gwErr := gwerrors.From(candidateErr, string(cfg.Provider), cfg.ModelName)
		failures = append(failures, fmt.Sprintf("%s/%s: %s", cfg.Provider, cfg.ModelName, gwErr.Error()))
		if gwErr.Type == gwerrors.TypeCancelled || gwErr.Type == gwerrors.TypeTimeout || ctx.Err() != nil {
			cause := ctx.Err()
			if cause == nil {
				cause = gwErr
			}
			return e.deadlineError(cause, failures)
		}

		// config_error with a single candidate is not failed over; the
		// caller should see the configuration problem directly.
		if gwErr.Type == gwerrors.TypeConfig && len(usable) == 1 {
			return gwErr
		}
	}

	return gwerrors.NewAllModelsFailedError(
		"all candidates failed: " + strings.Join(failures, "; "))
}

// tryCandidate attempts one candidate with retry-on-transient and linear
// backoff. Failover across candidates is strictly sequential: a prior
// attempt is fully finished before the next begins, so token usage is
// never double-billed.
func (e *Engine) tryCandidate(ctx context.Context, req *types.AIRequest, cfg *types.ModelConfig, run attemptFunc, traceOut *[]Attempt) error {
	key := cfg.Key()

	adapter, err := e.resolve(ctx, cfg)
	if err != nil {
		gwErr := gwerrors.From(err, string(cfg.Provider), cfg.ModelName)
		if gwErr.Type == gwerrors.TypeNetwork {
			// Resolver failures are configuration problems, not transport ones.
			gwErr = gwerrors.NewConfigError(string(cfg.Provider), cfg.ModelName, gwErr.Message)
		}
		*traceOut = append(*traceOut, Attempt{
			ModelID: cfg.ID, Provider: cfg.Provider, ModelName: cfg.ModelName,
			ErrType: gwErr.Type, ErrMsg: gwErr.Message,
		})
		return gwErr
	}

	if e.limiter != nil {
		if err := e.limiter.Allow(cfg, req); err != nil {
			gwErr := gwerrors.From(err, string(cfg.Provider), cfg.ModelName)
			*traceOut = append(*traceOut, Attempt{
				ModelID: cfg.ID, Provider: cfg.Provider, ModelName: cfg.ModelName,
				ErrType: gwErr.Type, ErrMsg: gwErr.Message,
			})
			return gwErr
		}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.DefaultMaxRetries
	}

	var lastErr error
	for retry := 0; retry <= maxRetries; retry++ {
		if retry > 0 {
			if err := e.sleep(ctx, time.Duration(retry)*e.cfg.BackoffUnit); err != nil {
				return err
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}

		start := time.Now()
		spanCtx, span := observability.StartAttemptSpan(attemptCtx, e.tracer, string(cfg.Provider), cfg.ModelName, retry)
		err := run(spanCtx, adapter, cfg)
		elapsed := time.Since(start)
		if cancel != nil {
			cancel()
		}

		attempt := Attempt{
			ModelID: cfg.ID, Provider: cfg.Provider, ModelName: cfg.ModelName,
			Retry: retry, Duration: elapsed,
		}

		if err == nil {
			span.End()
			*traceOut = append(*traceOut, attempt)
			e.health.ReportOutcome(key, true)
			return nil
		}

		gwErr := gwerrors.From(err, string(cfg.Provider), cfg.ModelName)
		attempt.ErrType = gwErr.Type
		attempt.ErrMsg = gwErr.Message
		*traceOut = append(*traceOut, attempt)
		span.SetStatus(codes.Error, gwErr.Type)
		span.End()

		lastErr = gwErr
		e.health.ReportOutcome(key, false)

		// The caller went away or the request-level deadline passed:
		// stop immediately, no further candidates.
		if ctx.Err() != nil {
			return gwErr
		}
		if !gwerrors.IsTransient(gwErr) {
			return gwErr
		}
	}

	return lastErr
}

// gateByHealth drops candidates the monitor currently marks unhealthy.
// When that leaves nothing, it forces a synchronous re-probe of the full
// list and filters once more before giving up.
func (e *Engine) gateByHealth(ctx context.Context, candidates []types.ModelConfig, traceOut *[]Attempt) []types.ModelConfig {
	healthy := make([]types.ModelConfig, 0, len(candidates))
	for _, cfg := range candidates {
		if e.health.Healthy(ctx, cfg.Key()) {
			healthy = append(healthy, cfg)
		}
	}
	if len(healthy) > 0 {
		if len(healthy) < len(candidates) {
			e.recordSkips(candidates, healthy, traceOut)
		}
		return healthy
	}

	keys := make([]string, len(candidates))
	for i, cfg := range candidates {
		keys[i] = cfg.Key()
	}
	e.health.ProbeAll(ctx, keys)

	for _, cfg := range candidates {
		if e.health.Healthy(ctx, cfg.Key()) {
			healthy = append(healthy, cfg)
		}
	}
	e.recordSkips(candidates, healthy, traceOut)
	return healthy
}

func (e *Engine) recordSkips(all, kept []types.ModelConfig, traceOut *[]Attempt) {
	keptIDs := make(map[string]struct{}, len(kept))
	for _, cfg := range kept {
		keptIDs[cfg.ID] = struct{}{}
	}
	for _, cfg := range all {
		if _, ok := keptIDs[cfg.ID]; ok {
			continue
		}
		*traceOut = append(*traceOut, Attempt{
			ModelID: cfg.ID, Provider: cfg.Provider, ModelName: cfg.ModelName,
			Skipped: true, ErrMsg: "skipped: marked unhealthy",
		})
	}
}

func (e *Engine) deadlineError(err error, failures []string) error {
	detail := ""
	if len(failures) > 0 {
		detail = " after attempts: " + strings.Join(failures, "; ")
	}
	if gwerrors.TypeOf(gwerrors.From(err, "", "")) == gwerrors.TypeCancelled {
		return gwerrors.NewCancelledError("request cancelled" + detail)
	}
	return gwerrors.NewTimeoutError("request timeout exceeded" + detail)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return gwerrors.From(ctx.Err(), "", "")
	case <-timer.C:
		return nil
	}
}
