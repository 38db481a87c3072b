package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// PostgresStore reads model configurations from PostgreSQL. Statistics
// updates run as a single UPDATE so concurrent requests to the same model
// serialize on the row instead of losing increments.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Schema is the DDL for the ai_models table, kept here so operators can
// apply it with their migration tool of choice.
const Schema = `
CREATE TABLE IF NOT EXISTS ai_models (
	id                  TEXT PRIMARY KEY,
	provider            TEXT NOT NULL,
	model_name          TEXT NOT NULL,
	api_key             TEXT NOT NULL,
	base_url            TEXT NOT NULL DEFAULT '',
	priority            INTEGER NOT NULL DEFAULT 100,
	is_active           BOOLEAN NOT NULL DEFAULT TRUE,
	capabilities        JSONB NOT NULL DEFAULT '[]',
	supported_tasks     JSONB NOT NULL DEFAULT '[]',
	requests_per_minute INTEGER NOT NULL DEFAULT 0,
	tokens_per_minute   INTEGER NOT NULL DEFAULT 0,
	max_context_tokens  INTEGER NOT NULL DEFAULT 0,
	max_output_tokens   INTEGER NOT NULL DEFAULT 0,
	timeout_ms          BIGINT NOT NULL DEFAULT 0,
	max_retries         INTEGER NOT NULL DEFAULT 2,
	headers             JSONB NOT NULL DEFAULT '{}',
	input_cost_per_1k   DOUBLE PRECISION NOT NULL DEFAULT 0,
	output_cost_per_1k  DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_per_1k         DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_requests      BIGINT NOT NULL DEFAULT 0,
	successful_requests BIGINT NOT NULL DEFAULT 0,
	failed_requests     BIGINT NOT NULL DEFAULT 0,
	total_tokens        BIGINT NOT NULL DEFAULT 0,
	total_cost          DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_response_ms     DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_used_at        TIMESTAMPTZ,
	last_error_at       TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS ai_models_active_identity
	ON ai_models (provider, model_name) WHERE is_active;
`

const modelColumns = `
	id, provider, model_name, api_key, base_url, priority, is_active,
	capabilities, supported_tasks, requests_per_minute, tokens_per_minute,
	max_context_tokens, max_output_tokens, timeout_ms, max_retries, headers,
	input_cost_per_1k, output_cost_per_1k, cost_per_1k,
	total_requests, successful_requests, failed_requests, total_tokens,
	total_cost, avg_response_ms, last_used_at, last_error_at,
	created_at, updated_at`

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// ListActiveModels returns active configurations ordered by priority then
// name.
func (s *PostgresStore) ListActiveModels(ctx context.Context) ([]types.ModelConfig, error) {
	query := `SELECT ` + modelColumns + ` FROM ai_models WHERE is_active ORDER BY priority, model_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active models: %w", err)
	}
	defer rows.Close()

	var out []types.ModelConfig
	for rows.Next() {
		cfg, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// GetModel returns one configuration by id.
func (s *PostgresStore) GetModel(ctx context.Context, id string) (*types.ModelConfig, error) {
	query := `SELECT ` + modelColumns + ` FROM ai_models WHERE id = $1`

	cfg, err := scanModel(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return cfg, err
}

// UpdateStatistics folds a finished request into the model row. The moving
// average uses alpha 0.1 and is computed inside the UPDATE so the
// read-modify-write is atomic per row.
func (s *PostgresStore) UpdateStatistics(ctx context.Context, id string, delta types.StatsDelta) error {
	query := `
		UPDATE ai_models SET
			total_requests      = total_requests + 1,
			successful_requests = successful_requests + CASE WHEN $2 THEN 1 ELSE 0 END,
			failed_requests     = failed_requests + CASE WHEN $2 THEN 0 ELSE 1 END,
			total_tokens        = total_tokens + $3,
			total_cost          = total_cost + $4,
			avg_response_ms     = CASE
				WHEN $5 <= 0 THEN avg_response_ms
				WHEN avg_response_ms = 0 THEN $5
				ELSE avg_response_ms * 0.9 + $5 * 0.1
			END,
			last_used_at  = CASE WHEN $2 THEN $6 ELSE last_used_at END,
			last_error_at = CASE WHEN $2 THEN last_error_at ELSE $6 END,
			updated_at    = now()
		WHERE id = $1`

	finishedAt := delta.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, query,
		id, delta.Success, delta.Tokens, delta.Cost, delta.LatencyMs, finishedAt)
	if err != nil {
		return fmt.Errorf("update statistics: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(row rowScanner) (*types.ModelConfig, error) {
	var (
		cfg                        types.ModelConfig
		capsJSON, tasksJSON        []byte
		headersJSON                []byte
		timeoutMs                  int64
		baseURL                    sql.NullString
		lastUsedAt, lastErrorAt    sql.NullTime
	)

	err := row.Scan(
		&cfg.ID, &cfg.Provider, &cfg.ModelName, &cfg.APIKey, &baseURL,
		&cfg.Priority, &cfg.IsActive, &capsJSON, &tasksJSON,
		&cfg.RequestsPerMinute, &cfg.TokensPerMinute,
		&cfg.MaxContextTokens, &cfg.MaxOutputTokens, &timeoutMs,
		&cfg.MaxRetries, &headersJSON,
		&cfg.InputCostPer1K, &cfg.OutputCostPer1K, &cfg.CostPer1K,
		&cfg.Stats.TotalRequests, &cfg.Stats.SuccessfulRequests,
		&cfg.Stats.FailedRequests, &cfg.Stats.TotalTokens,
		&cfg.Stats.TotalCost, &cfg.Stats.AvgResponseMs,
		&lastUsedAt, &lastErrorAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.BaseURL = baseURL.String
	cfg.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if lastUsedAt.Valid {
		cfg.Stats.LastUsedAt = lastUsedAt.Time
	}
	if lastErrorAt.Valid {
		cfg.Stats.LastErrorAt = lastErrorAt.Time
	}
	if err := json.Unmarshal(capsJSON, &cfg.Capabilities); err != nil {
		return nil, fmt.Errorf("decode capabilities for %s: %w", cfg.ID, err)
	}
	if err := json.Unmarshal(tasksJSON, &cfg.SupportedTasks); err != nil {
		return nil, fmt.Errorf("decode supported tasks for %s: %w", cfg.ID, err)
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &cfg.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %s: %w", cfg.ID, err)
		}
	}
	return &cfg, nil
}
