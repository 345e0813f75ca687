// Package simulated provides the deterministic settlement rail: instant,
// no external I/O, no persisted side state. It is the reference
// implementation of the adapter contract and the default rail when no
// configuration is supplied.
package simulated

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

// Name is the registry name of the simulated rail.
const Name = "simulated"

// Adapter settles batches instantly without touching any external system.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates a simulated rail.
func NewAdapter(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger.With("component", "simulated-adapter")}
}

var _ settlement.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return Name }

// ValidateBatch accepts anything with at least one item.
func (a *Adapter) ValidateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) settlement.Validation {
	if len(items) == 0 {
		return settlement.Validation{Valid: false, Err: "batch has no items"}
	}
	return settlement.Validation{Valid: true}
}

// EstimateBatch reports a zero fee; simulation costs nothing.
func (a *Adapter) EstimateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.FeeEstimate, error) {
	if v := a.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}

	breakdown := make([]settlement.ItemEstimate, len(items))
	for i, item := range items {
		breakdown[i] = settlement.ItemEstimate{ItemID: item.ID}
	}

	return &settlement.FeeEstimate{
		Amount:    0,
		Currency:  batch.Currency,
		Breakdown: breakdown,
		Meta:      map[string]any{"simulated": true},
	}, nil
}

// CreateBatch completes immediately with a freshly generated reference.
func (a *Adapter) CreateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.CreateResult, error) {
	if v := a.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}

	ref := fmt.Sprintf("sim-%s-%d", uuid.NewString(), time.Now().UnixNano())

	a.logger.Info("simulated settlement",
		"batch_id", batch.ID,
		"items", len(items),
		"external_ref", ref,
	)

	return &settlement.CreateResult{
		ExternalRef: ref,
		Status:      settlement.BatchCompleted,
		Meta: map[string]any{
			"simulated":  true,
			"item_count": len(items),
		},
	}, nil
}

// GetBatchStatus always reports completed; simulated settlement has no
// asynchronous phase.
func (a *Adapter) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*settlement.StatusResult, error) {
	return &settlement.StatusResult{
		Status: settlement.BatchCompleted,
		Meta:   map[string]any{"simulated": true},
	}, nil
}

// CancelBatch succeeds trivially; there is nothing in flight to cancel.
func (a *Adapter) CancelBatch(ctx context.Context, externalRef string) settlement.CancelResult {
	return settlement.CancelResult{Success: true, Detail: "simulated batch cancelled"}
}

func (a *Adapter) HealthCheck(ctx context.Context) settlement.HealthStatus {
	return settlement.HealthStatus{OK: true, LatencyMS: 0, Detail: "simulated"}
}
