package storage

import (
	"time"
)

// ExecStatus is the lifecycle state of a per-item execution record.
type ExecStatus string

const (
	ExecPrepared  ExecStatus = "prepared"
	ExecSent      ExecStatus = "sent"
	ExecConfirmed ExecStatus = "confirmed"
	ExecFailed    ExecStatus = "failed"
)

// BatchRow is the persisted shape of a payout batch.
type BatchRow struct {
	ID          string     `db:"id"`
	Status      string     `db:"status"`
	Currency    string     `db:"currency"`
	TotalAmount float64    `db:"total_amount"`
	AdapterType *string    `db:"adapter_type"`
	ExternalRef *string    `db:"external_ref"`
	TxHash      *string    `db:"tx_hash"`
	FeeAmount   *float64   `db:"fee_amount"`
	Meta        []byte     `db:"meta"` // JSONB
	CompletedAt *time.Time `db:"completed_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// ItemRow is one payee line within a batch.
type ItemRow struct {
	BatchID string  `db:"batch_id"`
	ItemID  string  `db:"item_id"`
	Wallet  string  `db:"wallet"`
	Amount  float64 `db:"amount"`
}

// ExecutionRecord tracks one (batch, item) attempt on an on-chain rail.
// Unique per (batch_id, item_id). A record in sent or confirmed state is
// never re-created, only advanced by status polling; a failed record is
// updated in place on retry.
type ExecutionRecord struct {
	BatchID      string     `db:"batch_id"`
	ItemID       string     `db:"item_id"`
	ChainName    string     `db:"chain_name"`
	AssetSymbol  string     `db:"asset_symbol"`
	ToAddress    string     `db:"to_address"`
	AmountAtomic string     `db:"amount_atomic"`
	Nonce        uint64     `db:"nonce"`
	TxHash       *string    `db:"tx_hash"`
	Status       ExecStatus `db:"status"`
	ErrorMessage *string    `db:"error_message"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// ShadowComparison is one appended primary-vs-shadow result pair.
// Diagnostic only; never drives control flow.
type ShadowComparison struct {
	ID             int64     `db:"id"`
	BatchID        string    `db:"batch_id"`
	PrimaryPayload []byte    `db:"primary_payload"`
	ShadowPayload  []byte    `db:"shadow_payload"`
	CreatedAt      time.Time `db:"created_at"`
}
