package shadow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

type stubRail struct {
	estimate    *settlement.FeeEstimate
	estimateErr error
	created     int
}

func (s *stubRail) Name() string { return "stub" }
func (s *stubRail) ValidateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) settlement.Validation {
	return settlement.Validation{Valid: true}
}
func (s *stubRail) EstimateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.FeeEstimate, error) {
	if s.estimateErr != nil {
		return nil, s.estimateErr
	}
	return s.estimate, nil
}
func (s *stubRail) CreateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.CreateResult, error) {
	s.created++
	return &settlement.CreateResult{Status: settlement.BatchCompleted}, nil
}
func (s *stubRail) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*settlement.StatusResult, error) {
	return &settlement.StatusResult{Status: settlement.BatchCompleted}, nil
}
func (s *stubRail) CancelBatch(ctx context.Context, externalRef string) settlement.CancelResult {
	return settlement.CancelResult{}
}
func (s *stubRail) HealthCheck(ctx context.Context) settlement.HealthStatus {
	return settlement.HealthStatus{OK: true}
}

func TestSimulated_RefFormatDistinctFromPrimary(t *testing.T) {
	s := NewSimulated(slog.Default())
	items := []settlement.Item{{ID: "i1", Wallet: "0xabc", Amount: 1}}

	result, err := s.CreateBatch(context.Background(), &settlement.Batch{ID: "b1"}, items)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if !strings.HasPrefix(result.ExternalRef, "shadow-sim-") {
		t.Errorf("external ref %q does not use the shadow format", result.ExternalRef)
	}
	if result.Meta["shadow"] != true {
		t.Error("result not tagged as shadow")
	}
	if result.Status != settlement.BatchCompleted {
		t.Errorf("status = %s, want completed", result.Status)
	}
}

func TestSimulated_EmptyItemsInvalid(t *testing.T) {
	s := NewSimulated(slog.Default())

	v := s.ValidateBatch(context.Background(), &settlement.Batch{ID: "b1"}, nil)
	if v.Valid {
		t.Fatal("expected empty batch to be invalid")
	}
}

func TestEvm_CreateRunsEstimationOnly(t *testing.T) {
	inner := &stubRail{estimate: &settlement.FeeEstimate{Amount: 0.002, Currency: "ETH"}}
	s := NewEvm(inner, slog.Default())

	items := []settlement.Item{{ID: "i1", Wallet: "0xabc", Amount: 1}}
	result, err := s.CreateBatch(context.Background(), &settlement.Batch{ID: "b1", Currency: "USDT"}, items)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	if inner.created != 0 {
		t.Error("shadow EVM must never call real transfer submission")
	}
	if result.Status != settlement.BatchProcessing {
		t.Errorf("status = %s, want processing", result.Status)
	}
	if result.Meta["estimated_fee"] != 0.002 {
		t.Errorf("estimated_fee = %v, want 0.002", result.Meta["estimated_fee"])
	}
	if result.Meta["shadow"] != true {
		t.Error("result not tagged as shadow")
	}
}

func TestEvm_EstimationFailurePropagates(t *testing.T) {
	inner := &stubRail{estimateErr: fmt.Errorf("rpc unreachable")}
	s := NewEvm(inner, slog.Default())

	items := []settlement.Item{{ID: "i1", Wallet: "0xabc", Amount: 1}}
	_, err := s.CreateBatch(context.Background(), &settlement.Batch{ID: "b1"}, items)
	if err == nil {
		t.Fatal("shadow estimation failure must propagate, it is the signal")
	}
	if !strings.Contains(err.Error(), "rpc unreachable") {
		t.Errorf("error %q lost the underlying cause", err)
	}
}
