// Package provider defines the contract every backend adapter implements.
// An adapter translates the gateway's abstract request into one backend
// family's wire format and normalizes the response back.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// TaskResult is the uniform single-shot result an adapter returns
// regardless of backend quirks.
type TaskResult struct {
	Text  string
	JSON  json.RawMessage
	Usage types.Usage
}

// Stream is a lazy, finite, non-restartable sequence of stream events.
// Recv surfaces exactly one terminal event: a done event at a clean end of
// stream, or an error event. After the terminal event Recv returns io.EOF.
type Stream interface {
	Recv() (*types.StreamEvent, error)
	Close() error
}

// Adapter is implemented once per backend family (OpenAI-compatible,
// Gemini, ...). Adapters never mutate model configuration or statistics;
// that is the usage recorder's job.
type Adapter interface {
	// Name returns the backend family identifier.
	Name() string

	// ExecuteTask performs a single-shot call. Failures are returned as
	// *errors.GatewayError values from the gateway taxonomy.
	ExecuteTask(ctx context.Context, req *types.AIRequest) (*TaskResult, error)

	// ExecuteTaskStream starts a streaming call and returns the event
	// sequence. The returned stream owns the network connection.
	ExecuteTaskStream(ctx context.Context, req *types.AIRequest) (Stream, error)

	// CheckHealth issues a minimal low-cost call (a one-token completion)
	// and reports reachability and credential validity. nil means healthy.
	CheckHealth(ctx context.Context) error
}

// Config carries everything an adapter needs at construction time. The
// APIKey here is already resolved: secret references are dereferenced
// before the factory runs, never per call.
type Config struct {
	Provider  types.ProviderKind
	ModelName string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	Headers   map[string]string

	// HTTPClient is the shared pooled client. Factories must use it when
	// set so connection reuse spans all adapters.
	HTTPClient *http.Client
}

// Factory builds an adapter from a resolved configuration.
type Factory func(cfg Config) (Adapter, error)
