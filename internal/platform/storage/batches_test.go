package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	db, err := New(ctx, DefaultConfig())
	if err != nil {
		t.Skipf("Cannot connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return db
}

func seedBatch(t *testing.T, repo *BatchRepository, currency string, items ...settlement.Item) string {
	t.Helper()
	id := uuid.NewString()
	batch := &settlement.Batch{
		ID:       id,
		Status:   settlement.BatchQueued,
		Currency: currency,
	}
	for _, item := range items {
		batch.TotalAmount += item.Amount
	}
	if err := repo.CreateWithItems(context.Background(), batch, items); err != nil {
		t.Fatalf("CreateWithItems failed: %v", err)
	}
	return id
}

func TestBatchRepository_ClaimOnce(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	id := seedBatch(t, repo, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 10})

	claimed, err := repo.Claim(ctx, id, "simulated")
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("first claim did not win")
	}

	// A second claimer must lose: the batch is no longer queued.
	claimed, err = repo.Claim(ctx, id, "evm")
	if err != nil {
		t.Fatalf("second Claim failed: %v", err)
	}
	if claimed {
		t.Error("second claim won; conditional update is not excluding")
	}

	batch, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if batch.Status != settlement.BatchProcessing {
		t.Errorf("status = %s, want processing", batch.Status)
	}
	if batch.AdapterType != "simulated" {
		t.Errorf("adapter_type = %q, want the first claimer", batch.AdapterType)
	}
}

func TestBatchRepository_FetchQueuedFIFO(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	first := seedBatch(t, repo, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 1})
	time.Sleep(10 * time.Millisecond) // separate created_at
	second := seedBatch(t, repo, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 1})

	queued, err := repo.FetchQueued(ctx, 100)
	if err != nil {
		t.Fatalf("FetchQueued failed: %v", err)
	}

	posFirst, posSecond := -1, -1
	for i, b := range queued {
		switch b.ID {
		case first:
			posFirst = i
		case second:
			posSecond = i
		}
	}
	if posFirst == -1 || posSecond == -1 {
		t.Fatalf("seeded batches missing from queue (first=%d second=%d)", posFirst, posSecond)
	}
	if posFirst > posSecond {
		t.Error("older batch returned after newer one; queue is not FIFO")
	}
}

func TestBatchRepository_UpdateResultCompletedAt(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	id := seedBatch(t, repo, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})
	if _, err := repo.Claim(ctx, id, "evm"); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	meta := map[string]any{"submitted": float64(1)}
	if err := repo.UpdateResult(ctx, id, settlement.BatchProcessing, "evm-ethereum-"+id, "", 0.002, meta); err != nil {
		t.Fatalf("UpdateResult failed: %v", err)
	}

	batch, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if batch.Status != settlement.BatchProcessing {
		t.Errorf("status = %s, want processing", batch.Status)
	}
	if batch.CompletedAt != nil {
		t.Error("completed_at set while still processing")
	}
	if batch.ExternalRef != "evm-ethereum-"+id {
		t.Errorf("external_ref = %q", batch.ExternalRef)
	}
	if batch.FeeAmount != 0.002 {
		t.Errorf("fee_amount = %v, want 0.002", batch.FeeAmount)
	}

	if err := repo.SetStatus(ctx, id, settlement.BatchCompleted); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	batch, err = repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if batch.CompletedAt == nil {
		t.Error("completed_at not set on transition into completed")
	}
}

func TestBatchRepository_MarkFailedPreservesMeta(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	id := seedBatch(t, repo, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})
	if err := repo.MarkFailed(ctx, id, "execute batch: rail exploded"); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}

	batch, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if batch.Status != settlement.BatchFailed {
		t.Errorf("status = %s, want failed", batch.Status)
	}
	if got, _ := batch.Meta["error"].(string); got != "execute batch: rail exploded" {
		t.Errorf("meta.error = %q", got)
	}
}

func TestBatchRepository_GetMissing(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)

	batch, err := repo.Get(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if batch != nil {
		t.Error("expected nil for unknown batch id")
	}
}

func TestBatchRepository_ListItemsOrdered(t *testing.T) {
	db := testDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	id := seedBatch(t, repo, "USDT",
		settlement.Item{ID: "b-item", Wallet: "0xdef", Amount: 2},
		settlement.Item{ID: "a-item", Wallet: "0xabc", Amount: 1},
	)

	items, err := repo.ListItems(ctx, id)
	if err != nil {
		t.Fatalf("ListItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].ID != "a-item" || items[1].ID != "b-item" {
		t.Errorf("items out of order: %s, %s", items[0].ID, items[1].ID)
	}
}
