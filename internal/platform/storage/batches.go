package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

// BatchRepository handles persistence of payout batches and their items.
type BatchRepository struct {
	db *DB
}

// NewBatchRepository creates a new BatchRepository.
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, status, currency, total_amount, adapter_type, external_ref,
       tx_hash, fee_amount, meta, completed_at, created_at, updated_at`

func scanBatch(row pgx.Row) (*settlement.Batch, error) {
	var b BatchRow
	err := row.Scan(
		&b.ID, &b.Status, &b.Currency, &b.TotalAmount, &b.AdapterType, &b.ExternalRef,
		&b.TxHash, &b.FeeAmount, &b.Meta, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rowToBatch(&b)
}

func rowToBatch(b *BatchRow) (*settlement.Batch, error) {
	batch := &settlement.Batch{
		ID:          b.ID,
		Status:      settlement.BatchStatus(b.Status),
		Currency:    b.Currency,
		TotalAmount: b.TotalAmount,
		CompletedAt: b.CompletedAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.AdapterType != nil {
		batch.AdapterType = *b.AdapterType
	}
	if b.ExternalRef != nil {
		batch.ExternalRef = *b.ExternalRef
	}
	if b.TxHash != nil {
		batch.TxHash = *b.TxHash
	}
	if b.FeeAmount != nil {
		batch.FeeAmount = *b.FeeAmount
	}
	if len(b.Meta) > 0 {
		if err := json.Unmarshal(b.Meta, &batch.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta for batch %s: %w", b.ID, err)
		}
	}
	return batch, nil
}

// Get retrieves a batch by ID. Returns nil when no batch exists.
func (r *BatchRepository) Get(ctx context.Context, id string) (*settlement.Batch, error) {
	sql := `SELECT ` + batchColumns + ` FROM batches WHERE id = $1`

	batch, err := scanBatch(r.db.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query batch: %w", err)
	}
	return batch, nil
}

// FetchQueued returns up to limit queued batches, oldest first. FIFO order
// keeps earlier-queued payouts from being starved by later ones.
func (r *BatchRepository) FetchQueued(ctx context.Context, limit int) ([]*settlement.Batch, error) {
	sql := `
		SELECT ` + batchColumns + `
		FROM batches
		WHERE status = 'queued'
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued batches: %w", err)
	}
	defer rows.Close()

	var batches []*settlement.Batch
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// Claim atomically transitions a batch from queued to processing, recording
// the adapter that will drive it. The conditional update doubles as a
// lightweight distributed lock: only one engine instance can claim a given
// batch, and a zero-row result means it was already claimed elsewhere.
func (r *BatchRepository) Claim(ctx context.Context, id, adapterType string) (bool, error) {
	sql := `
		UPDATE batches
		SET status = 'processing', adapter_type = $2, updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`

	tag, err := r.db.pool.Exec(ctx, sql, id, adapterType)
	if err != nil {
		return false, fmt.Errorf("claim batch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Requeue returns a batch to queued state. Used when a claim succeeded but a
// configuration problem (not a batch-data problem) stopped processing.
func (r *BatchRepository) Requeue(ctx context.Context, id string) error {
	sql := `
		UPDATE batches
		SET status = 'queued', updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	if _, err := r.db.pool.Exec(ctx, sql, id); err != nil {
		return fmt.Errorf("requeue batch: %w", err)
	}
	return nil
}

// UpdateResult persists a rail's execution outcome. completed_at is set only
// on the transition into completed.
func (r *BatchRepository) UpdateResult(ctx context.Context, id string, status settlement.BatchStatus, externalRef, txHash string, feeAmount float64, meta map[string]any) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if meta == nil {
		metaJSON = []byte("{}")
	}

	var completedAt *time.Time
	if status == settlement.BatchCompleted {
		now := time.Now().UTC()
		completedAt = &now
	}

	sql := `
		UPDATE batches
		SET status = $2,
		    external_ref = NULLIF($3, ''),
		    tx_hash = NULLIF($4, ''),
		    fee_amount = CASE WHEN $5::numeric > 0 THEN $5 ELSE fee_amount END,
		    meta = $6,
		    completed_at = COALESCE($7, completed_at),
		    updated_at = now()
		WHERE id = $1
	`

	if _, err := r.db.pool.Exec(ctx, sql, id, string(status), externalRef, txHash, feeAmount, metaJSON, completedAt); err != nil {
		return fmt.Errorf("update batch result: %w", err)
	}
	return nil
}

// MarkFailed marks a batch failed with the reason preserved in meta for
// operator diagnosis.
func (r *BatchRepository) MarkFailed(ctx context.Context, id, reason string) error {
	metaJSON, err := json.Marshal(map[string]any{"error": reason})
	if err != nil {
		return fmt.Errorf("marshal failure meta: %w", err)
	}

	sql := `
		UPDATE batches
		SET status = 'failed', meta = meta || $2::jsonb, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.pool.Exec(ctx, sql, id, metaJSON); err != nil {
		return fmt.Errorf("mark batch failed: %w", err)
	}
	return nil
}

// SetStatus writes a polled status during reconciliation. completed_at is
// set only when the batch enters completed.
func (r *BatchRepository) SetStatus(ctx context.Context, id string, status settlement.BatchStatus) error {
	sql := `
		UPDATE batches
		SET status = $2,
		    completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.pool.Exec(ctx, sql, id, string(status)); err != nil {
		return fmt.Errorf("set batch status: %w", err)
	}
	return nil
}

// ListItems loads the payee lines of a batch.
func (r *BatchRepository) ListItems(ctx context.Context, batchID string) ([]settlement.Item, error) {
	sql := `
		SELECT item_id, wallet, amount
		FROM batch_items
		WHERE batch_id = $1
		ORDER BY item_id
	`

	rows, err := r.db.pool.Query(ctx, sql, batchID)
	if err != nil {
		return nil, fmt.Errorf("query batch items: %w", err)
	}
	defer rows.Close()

	var items []settlement.Item
	for rows.Next() {
		var item settlement.Item
		if err := rows.Scan(&item.ID, &item.Wallet, &item.Amount); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateWithItems inserts a batch and its items in one transaction. The
// engine never creates batches in production; this exists for tests and
// operational backfill.
func (r *BatchRepository) CreateWithItems(ctx context.Context, batch *settlement.Batch, items []settlement.Item) error {
	metaJSON := []byte("{}")
	if batch.Meta != nil {
		var err error
		metaJSON, err = json.Marshal(batch.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta: %w", err)
		}
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		batchSQL := `
			INSERT INTO batches (id, status, currency, total_amount, meta)
			VALUES ($1, $2, $3, $4, $5)
		`
		if _, err := tx.Exec(ctx, batchSQL, batch.ID, string(batch.Status), batch.Currency, batch.TotalAmount, metaJSON); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}

		itemSQL := `
			INSERT INTO batch_items (batch_id, item_id, wallet, amount)
			VALUES ($1, $2, $3, $4)
		`
		for _, item := range items {
			if _, err := tx.Exec(ctx, itemSQL, batch.ID, item.ID, item.Wallet, item.Amount); err != nil {
				return fmt.Errorf("insert item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}
