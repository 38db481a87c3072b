package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/000haoji/deep-student-sub000/pkg/types"
)

// Schema creates the call log table. Applied with CREATE IF NOT EXISTS
// so repeated startup is safe.
const Schema = `
CREATE TABLE IF NOT EXISTS ai_call_logs (
    id                TEXT PRIMARY KEY,
    model_id          TEXT NOT NULL,
    task_type         TEXT NOT NULL,
    status            TEXT NOT NULL,
    request           TEXT NOT NULL,
    response          TEXT,
    prompt_tokens     INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens      INTEGER NOT NULL DEFAULT 0,
    cost              DOUBLE PRECISION NOT NULL DEFAULT 0,
    duration_ms       BIGINT NOT NULL DEFAULT 0,
    error_message     TEXT,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_call_logs_model_created
    ON ai_call_logs (model_id, created_at DESC);
`

// PostgresStore persists call log entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("calllog: migrate: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, entry *types.CallLogEntry) error {
	if entry == nil {
		return fmt.Errorf("calllog: nil entry")
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO ai_call_logs
            (id, model_id, task_type, status, request, response,
             prompt_tokens, completion_tokens, total_tokens,
             cost, duration_ms, error_message, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		id, entry.ModelID, string(entry.TaskType), string(entry.Status),
		entry.Request, nullString(entry.Response),
		entry.PromptTokens, entry.CompletionTokens, entry.TotalTokens,
		entry.Cost, entry.DurationMs, nullString(entry.ErrorMessage), createdAt,
	)
	if err != nil {
		return fmt.Errorf("calllog: append: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]types.CallLogEntry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.ModelID != "" {
		add("model_id = $%d", q.ModelID)
	}
	if q.TaskType != "" {
		add("task_type = $%d", string(q.TaskType))
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}

	query := `SELECT id, model_id, task_type, status, request, response,
            prompt_tokens, completion_tokens, total_tokens,
            cost, duration_ms, error_message, created_at
        FROM ai_call_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calllog: list: %w", err)
	}
	defer rows.Close()

	var out []types.CallLogEntry
	for rows.Next() {
		var (
			e                  types.CallLogEntry
			response, errorMsg sql.NullString
		)
		if err := rows.Scan(
			&e.ID, &e.ModelID, &e.TaskType, &e.Status, &e.Request, &response,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.Cost, &e.DurationMs, &errorMsg, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("calllog: scan: %w", err)
		}
		e.Response = response.String
		e.ErrorMessage = errorMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
