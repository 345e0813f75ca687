package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ExecutionRepository handles per-item execution records for on-chain
// rails. Records are unique per (batch_id, item_id); callers check for an
// existing record before inserting so a sent or confirmed attempt is never
// silently re-created.
type ExecutionRepository struct {
	db *DB
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(db *DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

const executionColumns = `batch_id, item_id, chain_name, asset_symbol, to_address,
       amount_atomic, nonce, tx_hash, status, error_message, created_at, updated_at`

func scanExecution(row pgx.Row) (*ExecutionRecord, error) {
	var rec ExecutionRecord
	err := row.Scan(
		&rec.BatchID, &rec.ItemID, &rec.ChainName, &rec.AssetSymbol, &rec.ToAddress,
		&rec.AmountAtomic, &rec.Nonce, &rec.TxHash, &rec.Status, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByItem retrieves the execution record for one (batch, item) pair.
// Returns nil when no attempt has been recorded.
func (r *ExecutionRepository) GetByItem(ctx context.Context, batchID, itemID string) (*ExecutionRecord, error) {
	sql := `SELECT ` + executionColumns + ` FROM execution_records WHERE batch_id = $1 AND item_id = $2`

	rec, err := scanExecution(r.db.pool.QueryRow(ctx, sql, batchID, itemID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query execution record: %w", err)
	}
	return rec, nil
}

// ListByBatch retrieves all execution records for a batch, in item order.
func (r *ExecutionRepository) ListByBatch(ctx context.Context, batchID string) ([]ExecutionRecord, error) {
	sql := `SELECT ` + executionColumns + ` FROM execution_records WHERE batch_id = $1 ORDER BY item_id`

	rows, err := r.db.pool.Query(ctx, sql, batchID)
	if err != nil {
		return nil, fmt.Errorf("query execution records: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Create inserts a fresh execution record. The (batch_id, item_id) primary
// key rejects duplicate inserts outright; retries of a failed item go
// through UpdateSubmission instead.
func (r *ExecutionRepository) Create(ctx context.Context, rec *ExecutionRecord) error {
	sql := `
		INSERT INTO execution_records (
			batch_id, item_id, chain_name, asset_symbol, to_address,
			amount_atomic, nonce, tx_hash, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.pool.Exec(ctx, sql,
		rec.BatchID, rec.ItemID, rec.ChainName, rec.AssetSymbol, rec.ToAddress,
		rec.AmountAtomic, rec.Nonce, rec.TxHash, rec.Status, rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

// UpdateSubmission rewrites an existing record for a fresh submission
// attempt: new nonce, new transaction hash, new status. Retrying a failed
// item must update in place rather than insert, or the per-item uniqueness
// invariant would reject the attempt.
func (r *ExecutionRepository) UpdateSubmission(ctx context.Context, batchID, itemID string, nonce uint64, txHash string, status ExecStatus, errMsg string) error {
	sql := `
		UPDATE execution_records
		SET nonce = $3,
		    tx_hash = NULLIF($4, ''),
		    status = $5,
		    error_message = NULLIF($6, ''),
		    updated_at = now()
		WHERE batch_id = $1 AND item_id = $2
	`

	tag, err := r.db.pool.Exec(ctx, sql, batchID, itemID, nonce, txHash, status, errMsg)
	if err != nil {
		return fmt.Errorf("update execution submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no execution record for batch %s item %s", batchID, itemID)
	}
	return nil
}

// UpdateStatus advances a record's status as a byproduct of receipt
// polling (sent -> confirmed | failed).
func (r *ExecutionRepository) UpdateStatus(ctx context.Context, batchID, itemID string, status ExecStatus, errMsg string) error {
	sql := `
		UPDATE execution_records
		SET status = $3, error_message = NULLIF($4, ''), updated_at = now()
		WHERE batch_id = $1 AND item_id = $2
	`

	if _, err := r.db.pool.Exec(ctx, sql, batchID, itemID, status, errMsg); err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return nil
}
