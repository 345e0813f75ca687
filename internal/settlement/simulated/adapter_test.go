package simulated

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

func testAdapter() *Adapter {
	return NewAdapter(slog.Default())
}

func TestValidateBatch_EmptyItems(t *testing.T) {
	a := testAdapter()

	v := a.ValidateBatch(context.Background(), &settlement.Batch{ID: "b1"}, nil)
	if v.Valid {
		t.Fatal("expected empty batch to be invalid")
	}
	if v.Err == "" {
		t.Error("expected a validation error message")
	}
}

func TestValidateBatch_WithItems(t *testing.T) {
	a := testAdapter()

	items := []settlement.Item{{ID: "i1", Wallet: "anything", Amount: 5}}
	v := a.ValidateBatch(context.Background(), &settlement.Batch{ID: "b1"}, items)
	if !v.Valid {
		t.Fatalf("expected valid batch, got error: %s", v.Err)
	}
}

func TestCreateBatch_CompletesWithUniqueRef(t *testing.T) {
	a := testAdapter()
	ctx := context.Background()
	items := []settlement.Item{{ID: "i1", Wallet: "0xabc", Amount: 1}}

	seen := make(map[string]bool)
	for _, id := range []string{"b1", "b2", "b3"} {
		result, err := a.CreateBatch(ctx, &settlement.Batch{ID: id, Currency: "USDT"}, items)
		if err != nil {
			t.Fatalf("CreateBatch failed: %v", err)
		}
		if result.Status != settlement.BatchCompleted {
			t.Errorf("status = %s, want completed", result.Status)
		}
		if !strings.HasPrefix(result.ExternalRef, "sim-") {
			t.Errorf("external ref %q does not match simulator pattern", result.ExternalRef)
		}
		if seen[result.ExternalRef] {
			t.Errorf("external ref %q repeated across calls", result.ExternalRef)
		}
		seen[result.ExternalRef] = true
	}
}

func TestCreateBatch_EmptyItemsRejected(t *testing.T) {
	a := testAdapter()

	if _, err := a.CreateBatch(context.Background(), &settlement.Batch{ID: "b1"}, nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestGetBatchStatus_AlwaysCompleted(t *testing.T) {
	a := testAdapter()

	status, err := a.GetBatchStatus(context.Background(), "sim-anything", "b1")
	if err != nil {
		t.Fatalf("GetBatchStatus failed: %v", err)
	}
	if status.Status != settlement.BatchCompleted {
		t.Errorf("status = %s, want completed", status.Status)
	}
}

func TestHealthCheck(t *testing.T) {
	a := testAdapter()

	h := a.HealthCheck(context.Background())
	if !h.OK {
		t.Error("expected simulated health check to be ok")
	}
}
