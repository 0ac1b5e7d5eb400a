package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/tier-router/models"
	"github.com/upb/tier-router/repositories"
	"go.uber.org/zap"
)

// AttemptRepository implements the repositories.AttemptRepository interface
type AttemptRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAttemptRepository creates a new attempt repository
func NewAttemptRepository(db *DB, logger *zap.Logger) repositories.AttemptRepository {
	return &AttemptRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new attempt record
func (r *AttemptRepository) Insert(ctx context.Context, record *models.AttemptRecord) error {
	query := `
		INSERT INTO route_attempts (
			id, call_id, sequence, model, tier, cost_class, outcome,
			error_kind, error_message, status_code,
			prompt_tokens, completion_tokens, latency_ms, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.CallID,
		record.Sequence,
		record.Model,
		record.Tier,
		record.CostClass,
		record.Outcome,
		nullString(record.ErrorKind),
		nullString(record.ErrorMessage),
		nullInt(record.StatusCode),
		record.PromptTokens,
		record.CompletionTokens,
		record.LatencyMs,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	r.logger.Debug("attempt inserted",
		zap.String("id", record.ID.String()),
		zap.String("call_id", record.CallID.String()),
		zap.String("model", record.Model))
	return nil
}

// ListByCall retrieves every attempt of a routed call in sequence order
func (r *AttemptRepository) ListByCall(ctx context.Context, callID uuid.UUID) ([]*models.AttemptRecord, error) {
	query := `
		SELECT id, call_id, sequence, model, tier, cost_class, outcome,
		       error_kind, error_message, status_code,
		       prompt_tokens, completion_tokens, latency_ms, created_at
		FROM route_attempts
		WHERE call_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var records []*models.AttemptRecord
	for rows.Next() {
		rec := &models.AttemptRecord{}
		var errorKind, errorMessage sql.NullString
		var statusCode sql.NullInt64

		if err := rows.Scan(
			&rec.ID,
			&rec.CallID,
			&rec.Sequence,
			&rec.Model,
			&rec.Tier,
			&rec.CostClass,
			&rec.Outcome,
			&errorKind,
			&errorMessage,
			&statusCode,
			&rec.PromptTokens,
			&rec.CompletionTokens,
			&rec.LatencyMs,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		rec.ErrorKind = errorKind.String
		rec.ErrorMessage = errorMessage.String
		rec.StatusCode = int(statusCode.Int64)
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}

	return records, nil
}

// CountByModelSince counts attempts per outcome for a model
func (r *AttemptRepository) CountByModelSince(ctx context.Context, model string, since time.Time) (map[models.AttemptOutcome]int, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM route_attempts
		WHERE model = $1 AND created_at >= $2
		GROUP BY outcome
	`

	rows, err := r.db.QueryContext(ctx, query, model, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.AttemptOutcome]int)
	for rows.Next() {
		var outcome models.AttemptOutcome
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan attempt count: %w", err)
		}
		counts[outcome] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt counts: %w", err)
	}

	return counts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
