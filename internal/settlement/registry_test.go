package settlement

import (
	"context"
	"testing"
)

type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }
func (s *stubAdapter) ValidateBatch(ctx context.Context, batch *Batch, items []Item) Validation {
	return Validation{Valid: true}
}
func (s *stubAdapter) EstimateBatch(ctx context.Context, batch *Batch, items []Item) (*FeeEstimate, error) {
	return &FeeEstimate{}, nil
}
func (s *stubAdapter) CreateBatch(ctx context.Context, batch *Batch, items []Item) (*CreateResult, error) {
	return &CreateResult{Status: BatchCompleted}, nil
}
func (s *stubAdapter) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*StatusResult, error) {
	return &StatusResult{Status: BatchCompleted}, nil
}
func (s *stubAdapter) CancelBatch(ctx context.Context, externalRef string) CancelResult {
	return CancelResult{}
}
func (s *stubAdapter) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{OK: true}
}

func TestRegistry_GetMissing(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected lookup miss for unregistered adapter")
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "simulated"})
	r.Register(&stubAdapter{name: "evm"})

	a, ok := r.Get("evm")
	if !ok {
		t.Fatal("expected registered adapter to be found")
	}
	if a.Name() != "evm" {
		t.Errorf("Name() = %s, want evm", a.Name())
	}

	if got := len(r.Names()); got != 2 {
		t.Errorf("Names() returned %d entries, want 2", got)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first := &stubAdapter{name: "evm"}
	second := &stubAdapter{name: "evm"}
	r.Register(first)
	r.Register(second)

	a, _ := r.Get("evm")
	if a != second {
		t.Error("expected second registration to replace the first")
	}
}
