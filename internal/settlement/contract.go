// Package settlement defines the adapter contract shared by every payout
// rail, plus the domain types that flow through it. A rail is anything that
// can move (or simulate moving) funds for a payout batch: the on-chain EVM
// signer, the deterministic simulator, and the shadow variants used to
// exercise a rail without committing funds.
package settlement

import (
	"context"
	"time"
)

// BatchStatus is the lifecycle state of a payout batch.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// Batch is one unit of settlement work. Items are loaded separately, on
// demand, never embedded.
type Batch struct {
	ID          string
	Status      BatchStatus
	Currency    string
	TotalAmount float64
	AdapterType string
	ExternalRef string
	TxHash      string
	FeeAmount   float64
	Meta        map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Item is a single payee line within a batch. The pair (batch id, item id)
// is the idempotency key for all execution side effects.
type Item struct {
	ID     string
	Wallet string
	Amount float64
}

// Validation is the result of a pure, side-effect-free batch check. Config
// marks a failure caused by rail configuration (a disabled rail, for
// example) rather than by batch data; the engine leaves such batches queued
// for an operator instead of failing them.
type Validation struct {
	Valid  bool
	Config bool
	Err    string
}

// FeeEstimate is a rail's projected cost for executing a batch.
type FeeEstimate struct {
	Amount    float64
	Currency  string
	Breakdown []ItemEstimate
	Meta      map[string]any
}

// ItemEstimate is the per-item portion of a fee estimate.
type ItemEstimate struct {
	ItemID string
	Amount float64
}

// CreateResult is what a rail reports after executing (or simulating) a
// batch. Status must be one of BatchCompleted, BatchProcessing or
// BatchFailed; a rail that cannot complete synchronously reports
// BatchProcessing rather than inventing a false completion.
type CreateResult struct {
	ExternalRef string
	Status      BatchStatus
	TxHash      string
	Meta        map[string]any
}

// StatusResult is a rail's batch-level verdict from polling per-item state.
type StatusResult struct {
	Status BatchStatus
	Meta   map[string]any
}

// CancelResult reports a best-effort cancellation attempt.
type CancelResult struct {
	Success bool
	Detail  string
}

// HealthStatus is a cheap liveness probe result. Probes never fail hard;
// unreachable rails report OK=false with a detail string.
type HealthStatus struct {
	OK        bool
	LatencyMS int64
	Detail    string
}

// Adapter is the capability set every settlement rail exposes.
//
// EstimateBatch must validate first and refuse to estimate an invalid batch.
// GetBatchStatus may update a rail's own per-item execution records as a
// byproduct of polling, but never mutates the Batch itself.
type Adapter interface {
	Name() string
	ValidateBatch(ctx context.Context, batch *Batch, items []Item) Validation
	EstimateBatch(ctx context.Context, batch *Batch, items []Item) (*FeeEstimate, error)
	CreateBatch(ctx context.Context, batch *Batch, items []Item) (*CreateResult, error)
	GetBatchStatus(ctx context.Context, externalRef, batchID string) (*StatusResult, error)
	CancelBatch(ctx context.Context, externalRef string) CancelResult
	HealthCheck(ctx context.Context) HealthStatus
}
