package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/000haoji/deep-student-sub000/pkg/errors"
	"github.com/000haoji/deep-student-sub000/pkg/provider"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// scriptedAdapter returns queued errors first, then succeeds.
type scriptedAdapter struct {
	name   string
	errs   []error
	calls  int
	result *provider.TaskResult
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) ExecuteTask(_ context.Context, _ *types.AIRequest) (*provider.TaskResult, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	if a.result != nil {
		return a.result, nil
	}
	return &provider.TaskResult{Text: "ok from " + a.name}, nil
}

func (a *scriptedAdapter) ExecuteTaskStream(ctx context.Context, req *types.AIRequest) (provider.Stream, error) {
	if _, err := a.ExecuteTask(ctx, req); err != nil {
		return nil, err
	}
	return nopStream{}, nil
}

func (a *scriptedAdapter) CheckHealth(context.Context) error { return nil }

type nopStream struct{}

func (nopStream) Recv() (*types.StreamEvent, error) { return &types.StreamEvent{Type: types.EventDone}, nil }
func (nopStream) Close() error                      { return nil }

// fakeHealth marks listed keys unhealthy until a ProbeAll happens.
type fakeHealth struct {
	unhealthy    map[string]bool
	outcomes     map[string][]bool
	probeAlls    int
	probeRevives bool
}

func newFakeHealth() *fakeHealth {
	return &fakeHealth{unhealthy: map[string]bool{}, outcomes: map[string][]bool{}}
}

func (h *fakeHealth) Healthy(_ context.Context, key string) bool { return !h.unhealthy[key] }

func (h *fakeHealth) ReportOutcome(key string, success bool) {
	h.outcomes[key] = append(h.outcomes[key], success)
}

func (h *fakeHealth) ProbeAll(_ context.Context, keys []string) {
	h.probeAlls++
	if h.probeRevives {
		for _, k := range keys {
			delete(h.unhealthy, k)
		}
	}
}

func candidate(id, name string, maxRetries int) types.ModelConfig {
	return types.ModelConfig{
		ID:         id,
		Provider:   types.ProviderOpenAI,
		ModelName:  name,
		MaxRetries: maxRetries,
		IsActive:   true,
	}
}

func newTestEngine(adapters map[string]*scriptedAdapter, health *fakeHealth) *Engine {
	resolve := func(_ context.Context, cfg *types.ModelConfig) (provider.Adapter, error) {
		a, ok := adapters[cfg.ID]
		if !ok {
			return nil, gwerrors.NewConfigError(string(cfg.Provider), cfg.ModelName, "no adapter")
		}
		return a, nil
	}
	e := NewEngine(Config{BackoffUnit: time.Millisecond}, resolve, health, nil, nil, nil)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e
}

func testRequest() *types.AIRequest {
	return &types.AIRequest{TaskType: types.TaskSummarization, Prompt: "x"}
}

func TestExecuteFirstCandidateWins(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {name: "openai"}}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.NoError(t, out.Err)
	assert.Equal(t, "ok from openai", out.Result.Text)
	assert.Equal(t, "a", out.Winner.ID)
	assert.Len(t, out.Trace, 1)
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {
		name: "openai",
		errs: []error{
			gwerrors.NewNetworkError("openai", "gpt-4o", "conn reset"),
			gwerrors.NewAPIError("openai", "gpt-4o", 503, "overloaded"),
		},
	}}
	health := newFakeHealth()
	e := newTestEngine(adapters, health)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 3)})
	require.NoError(t, out.Err)
	assert.Equal(t, 3, adapters["a"].calls)
	assert.Len(t, out.Trace, 3)
	assert.Equal(t, []bool{false, false, true}, health.outcomes["openai/gpt-4o/a"])
}

func TestExecuteFailsOverAfterRetryBudget(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{
			gwerrors.NewNetworkError("openai", "gpt-4o", "down"),
			gwerrors.NewNetworkError("openai", "gpt-4o", "down"),
		}},
		"b": {name: "deepseek"},
	}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 1),
		candidate("b", "deepseek-chat", 1),
	})
	require.NoError(t, out.Err)
	assert.Equal(t, "b", out.Winner.ID)
	// Two attempts on a, one on b.
	assert.Equal(t, 2, adapters["a"].calls)
	assert.Equal(t, 1, adapters["b"].calls)
}

func TestExecuteNonTransientSkipsRetries(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{
			gwerrors.NewAuthenticationError("openai", "gpt-4o", "bad key"),
		}},
		"b": {name: "deepseek"},
	}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 3),
		candidate("b", "deepseek-chat", 0),
	})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, adapters["a"].calls, "auth errors must not be retried")
	assert.Equal(t, "b", out.Winner.ID)
}

func TestExecuteRateLimitFailsOverImmediately(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{
			gwerrors.NewRateLimitError("openai", "gpt-4o", "throttled"),
		}},
		"b": {name: "deepseek"},
	}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 5),
		candidate("b", "deepseek-chat", 0),
	})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, adapters["a"].calls)
	assert.Equal(t, "b", out.Winner.ID)
}

func TestExecuteAllFailedAggregatesReasons(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{
			gwerrors.NewAuthenticationError("openai", "gpt-4o", "bad key"),
		}},
		"b": {name: "deepseek", errs: []error{
			gwerrors.NewAPIError("deepseek", "deepseek-chat", 400, "bad request"),
		}},
	}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 0),
		candidate("b", "deepseek-chat", 0),
	})
	require.Error(t, out.Err)
	assert.Equal(t, gwerrors.TypeAllModelsFailed, gwerrors.TypeOf(out.Err))
	assert.Contains(t, out.Err.Error(), "gpt-4o")
	assert.Contains(t, out.Err.Error(), "deepseek-chat")
	assert.Nil(t, out.Result)
}

func TestExecuteEmptyCandidatesIsSelectionError(t *testing.T) {
	e := newTestEngine(nil, newFakeHealth())
	out := e.Execute(context.Background(), testRequest(), nil)
	require.Error(t, out.Err)
	assert.Equal(t, gwerrors.TypeModelSelection, gwerrors.TypeOf(out.Err))
}

func TestExecuteSkipsUnhealthyCandidates(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai"},
		"b": {name: "deepseek"},
	}
	health := newFakeHealth()
	health.unhealthy["openai/gpt-4o/a"] = true
	e := newTestEngine(adapters, health)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 0),
		candidate("b", "deepseek-chat", 0),
	})
	require.NoError(t, out.Err)
	assert.Equal(t, "b", out.Winner.ID)
	assert.Equal(t, 0, adapters["a"].calls)

	// The skip shows up in the trace for auditing.
	var skipped int
	for _, a := range out.Trace {
		if a.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestExecuteAllUnhealthyTriggersReProbe(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {name: "openai"}}
	health := newFakeHealth()
	health.unhealthy["openai/gpt-4o/a"] = true
	health.probeRevives = true
	e := newTestEngine(adapters, health)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.NoError(t, out.Err)
	assert.Equal(t, 1, health.probeAlls)
	assert.Equal(t, "a", out.Winner.ID)
}

func TestExecuteAllUnhealthyAfterReProbeFails(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {name: "openai"}}
	health := newFakeHealth()
	health.unhealthy["openai/gpt-4o/a"] = true
	e := newTestEngine(adapters, health)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.Error(t, out.Err)
	assert.Equal(t, 1, health.probeAlls)
	assert.Equal(t, gwerrors.TypeAllModelsFailed, gwerrors.TypeOf(out.Err))
	assert.Equal(t, 0, adapters["a"].calls)
}

func TestExecuteCancelledContextStopsChain(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{context.Canceled}},
		"b": {name: "deepseek"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(adapters, newFakeHealth())

	out := e.Execute(ctx, testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 0),
		candidate("b", "deepseek-chat", 0),
	})
	require.Error(t, out.Err)
	assert.Equal(t, gwerrors.TypeCancelled, gwerrors.TypeOf(out.Err))
	assert.Equal(t, 0, adapters["b"].calls, "no candidate runs after cancellation")
}

func TestExecuteRequestTimeoutSurfacesAsTimeout(t *testing.T) {
	slow := &scriptedAdapter{name: "openai", errs: []error{
		gwerrors.NewNetworkError("openai", "gpt-4o", "down"),
		gwerrors.NewNetworkError("openai", "gpt-4o", "down"),
		gwerrors.NewNetworkError("openai", "gpt-4o", "down"),
	}}
	resolve := func(_ context.Context, _ *types.ModelConfig) (provider.Adapter, error) {
		return slow, nil
	}
	e := NewEngine(Config{RequestTimeout: 20 * time.Millisecond, BackoffUnit: 50 * time.Millisecond},
		resolve, newFakeHealth(), nil, nil, nil)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 3)})
	require.Error(t, out.Err)
	assert.Equal(t, gwerrors.TypeTimeout, gwerrors.TypeOf(out.Err))
}

func TestOpenStreamFailsOverOnOpenError(t *testing.T) {
	adapters := map[string]*scriptedAdapter{
		"a": {name: "openai", errs: []error{
			gwerrors.NewAPIError("openai", "gpt-4o", 500, "boom"),
		}},
		"b": {name: "deepseek"},
	}
	e := newTestEngine(adapters, newFakeHealth())

	out := e.OpenStream(context.Background(), testRequest(), []types.ModelConfig{
		candidate("a", "gpt-4o", 0),
		candidate("b", "deepseek-chat", 0),
	})
	require.NoError(t, out.Err)
	require.NotNil(t, out.Stream)
	assert.Equal(t, "b", out.Winner.ID)
}

type capturingLimiter struct {
	reqs []*types.AIRequest
}

func (c *capturingLimiter) Allow(_ *types.ModelConfig, req *types.AIRequest) error {
	c.reqs = append(c.reqs, req)
	return nil
}

func TestExecutePassesRequestToLimiter(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {name: "openai"}}
	resolve := func(_ context.Context, cfg *types.ModelConfig) (provider.Adapter, error) {
		return adapters[cfg.ID], nil
	}
	limiter := &capturingLimiter{}
	e := NewEngine(Config{BackoffUnit: time.Millisecond}, resolve, newFakeHealth(), limiter, nil, nil)

	req := testRequest()
	out := e.Execute(context.Background(), req, []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.NoError(t, out.Err)
	require.Len(t, limiter.reqs, 1)
	assert.Same(t, req, limiter.reqs[0], "the limiter estimates from the actual request")
}

func TestNewEngineDefaultsDependencies(t *testing.T) {
	e := NewEngine(Config{}, nil, nil, nil, nil, nil)
	require.NotNil(t, e.tracer, "a nil tracer must fall back to the global no-op tracer")
	require.NotNil(t, e.logger)
	assert.Equal(t, time.Second, e.cfg.BackoffUnit)
}

func TestExecuteWithoutTracerCompletes(t *testing.T) {
	adapters := map[string]*scriptedAdapter{"a": {name: "openai"}}
	resolve := func(_ context.Context, cfg *types.ModelConfig) (provider.Adapter, error) {
		return adapters[cfg.ID], nil
	}
	e := NewEngine(Config{BackoffUnit: time.Millisecond}, resolve, newFakeHealth(), nil, nil, nil)

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.NoError(t, out.Err)
	assert.Equal(t, "a", out.Winner.ID)
}

func TestResolverFailureIsConfigError(t *testing.T) {
	e := newTestEngine(map[string]*scriptedAdapter{}, newFakeHealth())

	out := e.Execute(context.Background(), testRequest(), []types.ModelConfig{candidate("a", "gpt-4o", 0)})
	require.Error(t, out.Err)
	assert.Equal(t, gwerrors.TypeConfig, gwerrors.TypeOf(out.Err))
}
