package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/000haoji/deep-student-sub000/internal/calllog"
	"github.com/000haoji/deep-student-sub000/internal/observability"
	"github.com/000haoji/deep-student-sub000/internal/ratelimit"
	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// StatsUpdater is the registry surface the recorder writes statistics to.
type StatsUpdater interface {
	UpdateStatistics(ctx context.Context, id string, delta types.StatsDelta) error
}

// Record describes the terminal outcome of one logical request. The
// recorder writes exactly one call log entry and one statistics delta
// from it; callers build one Record per request, never more.
type Record struct {
	Model    *types.ModelConfig
	Request  *types.AIRequest
	Status   types.CallStatus
	Usage    types.Usage
	Response string
	ErrorMsg string
	Duration time.Duration
}

// Recorder pairs the call log append with the statistics update.
// Persistence failures are logged and counted but never propagated: a
// broken audit path must not fail a request that already succeeded.
type Recorder struct {
	log    calllog.Store
	stats  StatsUpdater
	logger *slog.Logger
}

// NewRecorder creates a recorder. Both stores may be nil, in which case
// the corresponding write is skipped.
func NewRecorder(log calllog.Store, stats StatsUpdater, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: log, stats: stats, logger: logger}
}

const (
	// commitAttempts bounds the write retries for the entry/delta pair.
	commitAttempts = 3
	commitBackoff  = 100 * time.Millisecond
)

// Commit computes the cost, persists the call log entry and the stats
// delta, and updates the usage counters. It returns the computed cost so
// the caller can surface it in the response.
//
// The entry and the delta are written as a pair: a transient failure of
// either is retried up to commitAttempts times within the commit window,
// without re-writing the half that already landed. A pair that still
// cannot be persisted is logged and dropped, never surfaced to the caller.
//
// Commit uses context.Background for the writes: the caller's context is
// often already cancelled when a cancelled stream is being recorded, and
// the terminal record must still land.
func (r *Recorder) Commit(rec Record) float64 {
	usage := effectiveUsage(rec)
	cost := Cost(rec.Model, usage)
	finishedAt := time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &types.CallLogEntry{
		ModelID:          modelID(rec.Model),
		TaskType:         taskType(rec.Request),
		Status:           rec.Status,
		Request:          snapshotRequest(rec.Request),
		Response:         rec.Response,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Cost:             cost,
		DurationMs:       rec.Duration.Milliseconds(),
		ErrorMessage:     rec.ErrorMsg,
		CreatedAt:        finishedAt,
	}
	delta := types.StatsDelta{
		Success:    rec.Status == types.CallSuccess,
		Tokens:     int64(usage.TotalTokens),
		Cost:       cost,
		LatencyMs:  float64(rec.Duration.Milliseconds()),
		FinishedAt: finishedAt,
	}

	appended := r.log == nil
	updated := r.stats == nil || rec.Model == nil

	for attempt := 0; attempt < commitAttempts && !(appended && updated); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				attempt = commitAttempts
				continue
			case <-time.After(commitBackoff * time.Duration(attempt)):
			}
		}

		if !appended {
			if err := r.log.Append(ctx, entry); err != nil {
				r.logger.Warn("call log append failed",
					"model_id", entry.ModelID, "status", string(rec.Status),
					"attempt", attempt+1, "error", err)
			} else {
				appended = true
			}
		}
		if !updated {
			if err := r.stats.UpdateStatistics(ctx, rec.Model.ID, delta); err != nil {
				r.logger.Warn("statistics update failed",
					"model_id", rec.Model.ID, "attempt", attempt+1, "error", err)
			} else {
				updated = true
			}
		}
	}

	if !appended {
		r.logger.Error("call log entry dropped", "model_id", entry.ModelID,
			"status", string(rec.Status))
	}
	if !updated {
		r.logger.Error("statistics delta dropped", "model_id", modelID(rec.Model))
	}

	if rec.Model != nil {
		provider := string(rec.Model.Provider)
		model := rec.Model.ModelName
		observability.TokensTotal.WithLabelValues(provider, model, "input").
			Add(float64(usage.PromptTokens))
		observability.TokensTotal.WithLabelValues(provider, model, "output").
			Add(float64(usage.CompletionTokens))
		observability.CostTotal.WithLabelValues(provider, model).Add(cost)
	}

	return cost
}

// effectiveUsage returns the provider-reported usage, or a tokenizer
// estimate when the backend omitted token accounting for work that was
// actually performed.
func effectiveUsage(rec Record) types.Usage {
	u := rec.Usage
	if u.PromptTokens != 0 || u.CompletionTokens != 0 || u.TotalTokens != 0 {
		return u
	}
	if rec.Model == nil || rec.Request == nil {
		return u
	}
	if rec.Status != types.CallSuccess && rec.Status != types.CallCancelled {
		return u
	}

	u.PromptTokens = ratelimit.EstimateTokens(rec.Model.ModelName, rec.Request)
	if rec.Response != "" {
		u.CompletionTokens = ratelimit.CountText(rec.Model.ModelName, rec.Response)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

func modelID(m *types.ModelConfig) string {
	if m == nil {
		return ""
	}
	return m.ID
}

func taskType(r *types.AIRequest) types.TaskType {
	if r == nil {
		return ""
	}
	return r.TaskType
}

// snapshotRequest serializes the request for the audit trail. ModelConfig
// secrets never appear here; inline image bytes are elided to keep rows
// small.
func snapshotRequest(req *types.AIRequest) string {
	if req == nil {
		return ""
	}
	snap := *req
	if snap.Image != nil && len(snap.Image.Data) > 0 {
		img := *snap.Image
		img.Data = nil
		snap.Image = &img
	}
	b, err := json.Marshal(&snap)
	if err != nil {
		return ""
	}
	return string(b)
}
