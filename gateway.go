// Package gateway is a unified access layer for heterogeneous AI model
// providers. Callers describe a task; the gateway selects candidate
// models from the registry, dispatches through provider adapters with
// retry and failover, and records usage, cost and an audit entry for
// every logical request.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/000haoji/deep-student-sub000/internal/calllog"
	"github.com/000haoji/deep-student-sub000/internal/health"
	"github.com/000haoji/deep-student-sub000/internal/observability"
	"github.com/000haoji/deep-student-sub000/internal/ratelimit"
	"github.com/000haoji/deep-student-sub000/internal/registry"
	"github.com/000haoji/deep-student-sub000/internal/routing"
	"github.com/000haoji/deep-student-sub000/internal/secret"
	"github.com/000haoji/deep-student-sub000/internal/selector"
	"github.com/000haoji/deep-student-sub000/internal/streaming"
	"github.com/000haoji/deep-student-sub000/internal/usage"
	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
	"github.com/000haoji/deep-student-sub000/providers"
)

// maxResponseSnapshot bounds the response text stored in a call log row.
const maxResponseSnapshot = 16 << 10

// Gateway is the caller-facing entry point. Create one per process with
// New and share it; all methods are safe for concurrent use.
type Gateway struct {
	logger   *slog.Logger
	accessor *registry.Accessor
	selector *selector.Selector
	monitor  *health.Monitor
	engine   *routing.Engine
	recorder *usage.Recorder
	limiter  *ratelimit.Limiter
	resolver *secret.Resolver
	client   *http.Client
	tracer   trace.Tracer

	adapterMu sync.RWMutex
	adapters  map[string]provider.Adapter
}

// New assembles a gateway from options. Missing options get working
// in-memory defaults, so New with no arguments yields a gateway that only
// needs models registered to serve traffic.
func New(opts ...Option) (*Gateway, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.registryStore == nil {
		o.registryStore = registry.NewMemoryStore()
	}
	if o.callLogStore == nil {
		o.callLogStore = calllog.NewMemoryStore(10_000)
	}
	if o.healthStore == nil {
		o.healthStore = health.NewMemoryStore()
	}
	if o.resolver == nil {
		o.resolver = secret.NewResolver()
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if o.cacheTTL <= 0 {
		o.cacheTTL = registry.DefaultCacheTTL
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(observability.TracerName)
	}

	g := &Gateway{
		logger:   o.logger,
		accessor: registry.NewAccessor(o.registryStore, o.cacheTTL),
		selector: selector.New(o.logger),
		limiter:  ratelimit.New(),
		resolver: o.resolver,
		client:   o.httpClient,
		tracer:   o.tracer,
		adapters: make(map[string]provider.Adapter),
	}

	g.monitor = health.NewMonitor(o.healthConfig, o.healthStore, g.probeModel, o.logger)
	g.recorder = usage.NewRecorder(o.callLogStore, g.accessor, o.logger)
	g.engine = routing.NewEngine(o.routingConfig, g.resolveAdapter, g.monitor, g.limiter, o.logger, o.tracer)

	return g, nil
}

// StartHealthMonitor launches background health probing. The monitor
// stops when ctx is cancelled.
func (g *Gateway) StartHealthMonitor(ctx context.Context) {
	g.monitor.Start(ctx)
}

// Registry exposes the cached registry accessor, e.g. for operational
// endpoints that list models.
func (g *Gateway) Registry() *registry.Accessor {
	return g.accessor
}

// ExecuteTask runs one logical request to completion. The caller sees a
// single response whether it took one attempt or a failover chain, and
// exactly one call log entry is written either way.
func (g *Gateway) ExecuteTask(ctx context.Context, req *types.AIRequest) (*types.AIResponse, error) {
	start := time.Now()

	candidates, err := g.candidates(ctx, req)
	if err != nil {
		return errorResponse(err, time.Since(start)), err
	}

	outcome := g.engine.Execute(ctx, req, candidates)
	elapsed := time.Since(start)
	g.renderTrace(req, outcome.Trace, outcome.Err, elapsed)

	if outcome.Err != nil {
		g.recordFailure(req, candidates, outcome.Trace, outcome.Err, elapsed)
		return errorResponse(outcome.Err, elapsed), outcome.Err
	}

	winner := outcome.Winner
	cost := g.recorder.Commit(usage.Record{
		Model:    winner,
		Request:  req,
		Status:   types.CallSuccess,
		Usage:    outcome.Result.Usage,
		Response: truncate(outcome.Result.Text, maxResponseSnapshot),
		Duration: elapsed,
	})

	observability.RequestsTotal.WithLabelValues(
		string(req.TaskType), string(winner.Provider), winner.ModelName, "success").Inc()
	observability.RequestDuration.WithLabelValues(
		string(req.TaskType), string(winner.Provider), winner.ModelName).Observe(elapsed.Seconds())

	resp := &types.AIResponse{
		Success:    true,
		Text:       outcome.Result.Text,
		JSON:       outcome.Result.JSON,
		ModelID:    winner.ID,
		Provider:   winner.Provider,
		ModelName:  winner.ModelName,
		Usage:      outcome.Result.Usage,
		Cost:       cost,
		DurationMs: elapsed.Milliseconds(),
	}
	return resp, nil
}

// ExecuteTaskStream opens a streaming session. Failover applies until a
// stream is established; after the first byte the session is committed to
// its model and errors surface in-stream. The terminal call log entry is
// written when the session ends, including cancellation.
func (g *Gateway) ExecuteTaskStream(ctx context.Context, req *types.AIRequest) (*StreamSession, error) {
	start := time.Now()

	candidates, err := g.candidates(ctx, req)
	if err != nil {
		return nil, err
	}

	outcome := g.engine.OpenStream(ctx, req, candidates)
	g.renderTrace(req, outcome.Trace, outcome.Err, time.Since(start))

	if outcome.Err != nil {
		g.recordFailure(req, candidates, outcome.Trace, outcome.Err, time.Since(start))
		return nil, outcome.Err
	}

	winner := outcome.Winner
	agg := streaming.NewAggregator(outcome.Stream, func(status types.CallStatus, text string, u types.Usage, errMsg string, elapsed time.Duration) {
		g.recorder.Commit(usage.Record{
			Model:    winner,
			Request:  req,
			Status:   status,
			Usage:    u,
			Response: truncate(text, maxResponseSnapshot),
			ErrorMsg: errMsg,
			Duration: elapsed,
		})
		observability.RequestsTotal.WithLabelValues(
			string(req.TaskType), string(winner.Provider), winner.ModelName, string(status)).Inc()
		observability.RequestDuration.WithLabelValues(
			string(req.TaskType), string(winner.Provider), winner.ModelName).Observe(elapsed.Seconds())
	})

	return &StreamSession{agg: agg, model: winner}, nil
}

// Close releases gateway resources: the secret resolver and idle HTTP
// connections. It does not stop a running health monitor; cancel its
// context for that.
func (g *Gateway) Close() error {
	g.client.CloseIdleConnections()
	return g.resolver.Close()
}

// candidates validates the request and produces the ordered candidate
// list for it.
func (g *Gateway) candidates(ctx context.Context, req *types.AIRequest) ([]types.ModelConfig, error) {
	if err := req.Validate(); err != nil {
		return nil, gwerrors.NewInvalidRequestError("", "", err.Error())
	}
	if !types.KnownTask(req.TaskType) {
		return nil, gwerrors.NewInvalidRequestError("", "", fmt.Sprintf("unknown task type %q", req.TaskType))
	}

	models, err := g.accessor.ListActiveModels(ctx)
	if err != nil {
		return nil, gwerrors.NewModelSelectionError("registry unavailable: " + err.Error())
	}

	candidates, err := g.selector.Select(models, req)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		g.monitor.Track(candidates[i].Key())
	}
	return candidates, nil
}

// adapterFingerprint identifies a model config by the fields that shape
// the adapter. Two configs with the same fingerprint share one adapter;
// changing the API key reference, base URL or headers yields a new one.
func adapterFingerprint(cfg *types.ModelConfig) string {
	var b strings.Builder
	b.WriteString(string(cfg.Provider))
	b.WriteByte('|')
	b.WriteString(cfg.ModelName)
	b.WriteByte('|')
	b.WriteString(cfg.BaseURL)
	b.WriteByte('|')
	b.WriteString(cfg.APIKey)
	b.WriteByte('|')
	b.WriteString(cfg.Timeout.String())
	if len(cfg.Headers) > 0 {
		keys := make([]string, 0, len(cfg.Headers))
		for k := range cfg.Headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte('|')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(cfg.Headers[k])
		}
	}
	return b.String()
}

// resolveAdapter returns a cached adapter for a model config, building it
// on first use. Secret references in the API key are dereferenced here,
// once per distinct configuration, never per request.
func (g *Gateway) resolveAdapter(ctx context.Context, cfg *types.ModelConfig) (provider.Adapter, error) {
	key := adapterFingerprint(cfg)

	g.adapterMu.RLock()
	adapter, ok := g.adapters[key]
	g.adapterMu.RUnlock()
	if ok {
		return adapter, nil
	}

	apiKey, err := g.resolver.Resolve(ctx, cfg.APIKey)
	if err != nil {
		return nil, gwerrors.NewConfigError(string(cfg.Provider), cfg.ModelName,
			"resolve api key: "+err.Error())
	}

	adapter, err = providers.Create(provider.Config{
		Provider:   cfg.Provider,
		ModelName:  cfg.ModelName,
		APIKey:     apiKey,
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		Headers:    cfg.Headers,
		HTTPClient: g.client,
	})
	if err != nil {
		return nil, gwerrors.NewConfigError(string(cfg.Provider), cfg.ModelName, err.Error())
	}

	g.adapterMu.Lock()
	if existing, ok := g.adapters[key]; ok {
		adapter = existing
	} else {
		g.adapters[key] = adapter
	}
	g.adapterMu.Unlock()
	return adapter, nil
}

// probeModel is the health monitor's probe: a minimal adapter call for
// the model identified by key.
func (g *Gateway) probeModel(ctx context.Context, key string) error {
	id := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		id = key[i+1:]
	}

	cfg, err := g.accessor.GetModel(ctx, id)
	if err != nil {
		return err
	}
	adapter, err := g.resolveAdapter(ctx, cfg)
	if err != nil {
		return err
	}

	err = adapter.CheckHealth(ctx)
	healthy := 1.0
	if err != nil {
		healthy = 0
	}
	observability.ModelHealthy.WithLabelValues(string(cfg.Provider), cfg.ModelName).Set(healthy)
	return err
}

// recordFailure writes the single terminal call log entry for a request
// that never produced a result.
func (g *Gateway) recordFailure(req *types.AIRequest, candidates []types.ModelConfig, trace []routing.Attempt, err error, elapsed time.Duration) {
	status := types.CallFailed
	switch gwerrors.TypeOf(err) {
	case gwerrors.TypeTimeout:
		status = types.CallTimeout
	case gwerrors.TypeCancelled:
		status = types.CallCancelled
	}

	model := lastAttempted(candidates, trace)
	g.recorder.Commit(usage.Record{
		Model:    model,
		Request:  req,
		Status:   status,
		ErrorMsg: err.Error(),
		Duration: elapsed,
	})

	providerLabel, modelLabel := "", ""
	if model != nil {
		providerLabel = string(model.Provider)
		modelLabel = model.ModelName
	}
	observability.RequestsTotal.WithLabelValues(
		string(req.TaskType), providerLabel, modelLabel, gwerrors.TypeOf(err)).Inc()
}

// renderTrace turns the attempt trace into logs and metrics. The trace is
// the single source of truth for what happened; nothing in the engine
// logs directly.
func (g *Gateway) renderTrace(req *types.AIRequest, trace []routing.Attempt, err error, elapsed time.Duration) {
	attempted := make(map[string]struct{})
	for _, a := range trace {
		if a.Skipped {
			g.logger.Debug("candidate skipped",
				"task", string(req.TaskType), "provider", string(a.Provider),
				"model", a.ModelName, "reason", a.ErrMsg)
			continue
		}
		attempted[a.ModelID] = struct{}{}

		errType := a.ErrType
		if errType == "" {
			errType = "none"
			g.logger.Debug("attempt succeeded",
				"task", string(req.TaskType), "provider", string(a.Provider),
				"model", a.ModelName, "retry", a.Retry, "duration_ms", a.Duration.Milliseconds())
		} else {
			g.logger.Warn("attempt failed",
				"task", string(req.TaskType), "provider", string(a.Provider),
				"model", a.ModelName, "retry", a.Retry, "error_type", a.ErrType,
				"error", observability.Redact(a.ErrMsg))
		}
		observability.AttemptsTotal.WithLabelValues(string(a.Provider), a.ModelName, errType).Inc()
	}

	if n := len(attempted); n > 1 {
		observability.FailoversTotal.WithLabelValues(string(req.TaskType)).Add(float64(n - 1))
	}

	if err != nil {
		g.logger.Error("request failed",
			"task", string(req.TaskType), "error_type", gwerrors.TypeOf(err),
			"attempts", len(trace), "duration_ms", elapsed.Milliseconds())
	}
}

// lastAttempted maps the trace back to the last candidate that actually
// received a dispatch, for attribution of a failed request.
func lastAttempted(candidates []types.ModelConfig, trace []routing.Attempt) *types.ModelConfig {
	for i := len(trace) - 1; i >= 0; i-- {
		if trace[i].Skipped {
			continue
		}
		for j := range candidates {
			if candidates[j].ID == trace[i].ModelID {
				return &candidates[j]
			}
		}
	}
	return nil
}

func errorResponse(err error, elapsed time.Duration) *types.AIResponse {
	gwErr := gwerrors.From(err, "", "")
	return &types.AIResponse{
		Success:    false,
		Error:      gwErr.Message,
		ErrorType:  gwErr.Type,
		DurationMs: elapsed.Milliseconds(),
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
