package storage

import (
	"context"
	"fmt"
)

// ShadowLogRepository appends primary-vs-shadow comparison results.
// The log is append-only and diagnostic; nothing reads it on the hot path.
type ShadowLogRepository struct {
	db *DB
}

// NewShadowLogRepository creates a new ShadowLogRepository.
func NewShadowLogRepository(db *DB) *ShadowLogRepository {
	return &ShadowLogRepository{db: db}
}

// Append records one comparison of primary and shadow rail output for a
// batch.
func (r *ShadowLogRepository) Append(ctx context.Context, batchID string, primaryPayload, shadowPayload []byte) error {
	sql := `
		INSERT INTO shadow_comparisons (batch_id, primary_payload, shadow_payload)
		VALUES ($1, $2, $3)
	`

	if _, err := r.db.pool.Exec(ctx, sql, batchID, primaryPayload, shadowPayload); err != nil {
		return fmt.Errorf("append shadow comparison: %w", err)
	}
	return nil
}

// ListByBatch returns the comparisons recorded for a batch, newest first.
func (r *ShadowLogRepository) ListByBatch(ctx context.Context, batchID string) ([]ShadowComparison, error) {
	sql := `
		SELECT id, batch_id, primary_payload, shadow_payload, created_at
		FROM shadow_comparisons
		WHERE batch_id = $1
		ORDER BY id DESC
	`

	rows, err := r.db.pool.Query(ctx, sql, batchID)
	if err != nil {
		return nil, fmt.Errorf("query shadow comparisons: %w", err)
	}
	defer rows.Close()

	var comparisons []ShadowComparison
	for rows.Next() {
		var c ShadowComparison
		if err := rows.Scan(&c.ID, &c.BatchID, &c.PrimaryPayload, &c.ShadowPayload, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan shadow comparison: %w", err)
		}
		comparisons = append(comparisons, c)
	}
	return comparisons, rows.Err()
}
