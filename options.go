package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/000haoji/deep-student-sub000/internal/calllog"
	"github.com/000haoji/deep-student-sub000/internal/health"
	"github.com/000haoji/deep-student-sub000/internal/registry"
	"github.com/000haoji/deep-student-sub000/internal/routing"
	"github.com/000haoji/deep-student-sub000/internal/secret"
)

// Option configures a Gateway.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	registryStore registry.Store
	callLogStore  calllog.Store
	healthStore   health.Store
	healthConfig  health.Config
	routingConfig routing.Config
	cacheTTL      time.Duration
	resolver      *secret.Resolver
	httpClient    *http.Client
	tracer        trace.Tracer
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistryStore sets the model registry backend. Defaults to an empty
// in-memory store.
func WithRegistryStore(store registry.Store) Option {
	return func(o *options) { o.registryStore = store }
}

// WithCallLogStore sets the call log backend. Defaults to a bounded
// in-memory store.
func WithCallLogStore(store calllog.Store) Option {
	return func(o *options) { o.callLogStore = store }
}

// WithHealthStore sets the health status store, e.g. a Redis-backed one
// shared across gateway instances. Defaults to process-local memory.
func WithHealthStore(store health.Store) Option {
	return func(o *options) { o.healthStore = store }
}

// WithHealthConfig tunes probe TTL, interval, timeout and concurrency.
func WithHealthConfig(cfg health.Config) Option {
	return func(o *options) { o.healthConfig = cfg }
}

// WithRoutingConfig tunes failover behavior: request timeout, backoff
// unit and the default retry budget.
func WithRoutingConfig(cfg routing.Config) Option {
	return func(o *options) { o.routingConfig = cfg }
}

// WithRegistryCacheTTL sets how long the active model list is served from
// cache before the registry is consulted again.
func WithRegistryCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// WithSecretResolver sets the resolver for credential references such as
// env:// and vault://. Defaults to a resolver with env support only.
func WithSecretResolver(r *secret.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithHTTPClient sets the shared HTTP client used by every adapter.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTracer sets the OpenTelemetry tracer for per-attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}
