// Package shadow provides rails that exercise a rail's validation and
// estimation paths without committing funds. A shadow rail runs in parallel
// with a trusted primary so the engine can diff their outputs before
// promoting a new adapter to real money.
package shadow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

const (
	// SimulatedName is the registry name of the simulated shadow rail.
	SimulatedName = "shadow_simulated"
	// EvmName is the registry name of the EVM shadow rail.
	EvmName = "shadow_evm"
)

// Simulated behaves like the simulated rail but tags its output as shadow
// and uses a deliberately distinct reference format, so comparison logic
// can always tell primary output from shadow output.
type Simulated struct {
	logger *slog.Logger
}

// NewSimulated creates the simulated shadow rail.
func NewSimulated(logger *slog.Logger) *Simulated {
	return &Simulated{logger: logger.With("component", "shadow-simulated-adapter")}
}

var _ settlement.Adapter = (*Simulated)(nil)

func (s *Simulated) Name() string { return SimulatedName }

func (s *Simulated) ValidateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) settlement.Validation {
	if len(items) == 0 {
		return settlement.Validation{Valid: false, Err: "batch has no items"}
	}
	return settlement.Validation{Valid: true}
}

func (s *Simulated) EstimateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.FeeEstimate, error) {
	if v := s.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}
	return &settlement.FeeEstimate{
		Amount:   0,
		Currency: batch.Currency,
		Meta:     map[string]any{"shadow": true},
	}, nil
}

func (s *Simulated) CreateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.CreateResult, error) {
	if v := s.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}

	ref := fmt.Sprintf("shadow-sim-%s", uuid.NewString())
	s.logger.Info("shadow simulated settlement", "batch_id", batch.ID, "external_ref", ref)

	return &settlement.CreateResult{
		ExternalRef: ref,
		Status:      settlement.BatchCompleted,
		Meta: map[string]any{
			"shadow":     true,
			"item_count": len(items),
		},
	}, nil
}

func (s *Simulated) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*settlement.StatusResult, error) {
	return &settlement.StatusResult{
		Status: settlement.BatchCompleted,
		Meta:   map[string]any{"shadow": true},
	}, nil
}

func (s *Simulated) CancelBatch(ctx context.Context, externalRef string) settlement.CancelResult {
	return settlement.CancelResult{Success: true, Detail: "shadow batch cancelled"}
}

func (s *Simulated) HealthCheck(ctx context.Context) settlement.HealthStatus {
	return settlement.HealthStatus{OK: true, Detail: "shadow simulated"}
}

// Evm wraps the real EVM rail but never submits transactions: CreateBatch
// only runs the wrapped rail's estimation, exercising connectivity, pricing
// and validation. An estimation failure propagates as an error rather than
// being swallowed; a shadow failure is exactly the signal the comparison
// exists to surface.
type Evm struct {
	inner  settlement.Adapter
	logger *slog.Logger
}

// NewEvm wraps an EVM rail in shadow mode.
func NewEvm(inner settlement.Adapter, logger *slog.Logger) *Evm {
	return &Evm{
		inner:  inner,
		logger: logger.With("component", "shadow-evm-adapter"),
	}
}

var _ settlement.Adapter = (*Evm)(nil)

func (s *Evm) Name() string { return EvmName }

func (s *Evm) ValidateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) settlement.Validation {
	return s.inner.ValidateBatch(ctx, batch, items)
}

func (s *Evm) EstimateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.FeeEstimate, error) {
	return s.inner.EstimateBatch(ctx, batch, items)
}

// CreateBatch runs estimation only and reports a synthetic processing
// result. Real transfer submission is never reached.
func (s *Evm) CreateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.CreateResult, error) {
	estimate, err := s.inner.EstimateBatch(ctx, batch, items)
	if err != nil {
		return nil, fmt.Errorf("shadow estimate: %w", err)
	}

	s.logger.Info("shadow EVM estimation",
		"batch_id", batch.ID,
		"fee", estimate.Amount,
		"fee_currency", estimate.Currency,
	)

	return &settlement.CreateResult{
		ExternalRef: fmt.Sprintf("shadow-evm-%s", batch.ID),
		Status:      settlement.BatchProcessing,
		Meta: map[string]any{
			"shadow":        true,
			"estimated_fee": estimate.Amount,
			"fee_currency":  estimate.Currency,
		},
	}, nil
}

func (s *Evm) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*settlement.StatusResult, error) {
	return &settlement.StatusResult{
		Status: settlement.BatchProcessing,
		Meta:   map[string]any{"shadow": true},
	}, nil
}

func (s *Evm) CancelBatch(ctx context.Context, externalRef string) settlement.CancelResult {
	return settlement.CancelResult{Success: true, Detail: "shadow batch cancelled"}
}

func (s *Evm) HealthCheck(ctx context.Context) settlement.HealthStatus {
	return s.inner.HealthCheck(ctx)
}
