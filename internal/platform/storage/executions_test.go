package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

func seedExecution(t *testing.T, repo *ExecutionRepository, batchID, itemID string, nonce uint64, status ExecStatus) {
	t.Helper()
	err := repo.Create(context.Background(), &ExecutionRecord{
		BatchID:      batchID,
		ItemID:       itemID,
		ChainName:    "ethereum",
		AssetSymbol:  "USDT",
		ToAddress:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		AmountAtomic: "5000000",
		Nonce:        nonce,
		Status:       status,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
}

func TestExecutionRepository_DuplicateInsertRejected(t *testing.T) {
	db := testDB(t)
	batches := NewBatchRepository(db)
	repo := NewExecutionRepository(db)

	batchID := seedBatch(t, batches, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})
	seedExecution(t, repo, batchID, "i1", 7, ExecSent)

	err := repo.Create(context.Background(), &ExecutionRecord{
		BatchID:      batchID,
		ItemID:       "i1",
		ChainName:    "ethereum",
		AssetSymbol:  "USDT",
		ToAddress:    "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		AmountAtomic: "5000000",
		Nonce:        8,
		Status:       ExecPrepared,
	})
	if err == nil {
		t.Fatal("expected duplicate (batch_id, item_id) insert to fail")
	}
}

func TestExecutionRepository_UpdateSubmissionInPlace(t *testing.T) {
	db := testDB(t)
	batches := NewBatchRepository(db)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	batchID := seedBatch(t, batches, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})
	seedExecution(t, repo, batchID, "i1", 3, ExecFailed)

	if err := repo.UpdateSubmission(ctx, batchID, "i1", 9, "0xaabb", ExecSent, ""); err != nil {
		t.Fatalf("UpdateSubmission failed: %v", err)
	}

	records, err := repo.ListByBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("ListByBatch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (retry must not insert)", len(records))
	}
	rec := records[0]
	if rec.Nonce != 9 {
		t.Errorf("nonce = %d, want 9", rec.Nonce)
	}
	if rec.Status != ExecSent {
		t.Errorf("status = %s, want sent", rec.Status)
	}
	if rec.TxHash == nil || *rec.TxHash != "0xaabb" {
		t.Errorf("tx_hash = %v, want 0xaabb", rec.TxHash)
	}
	if rec.ErrorMessage != nil {
		t.Errorf("error_message = %v, want cleared", rec.ErrorMessage)
	}
}

func TestExecutionRepository_UpdateSubmissionMissingRecord(t *testing.T) {
	db := testDB(t)
	repo := NewExecutionRepository(db)

	err := repo.UpdateSubmission(context.Background(), uuid.NewString(), "ghost", 1, "", ExecSent, "")
	if err == nil {
		t.Fatal("expected error updating a record that was never created")
	}
}

func TestExecutionRepository_UpdateStatus(t *testing.T) {
	db := testDB(t)
	batches := NewBatchRepository(db)
	repo := NewExecutionRepository(db)
	ctx := context.Background()

	batchID := seedBatch(t, batches, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})
	seedExecution(t, repo, batchID, "i1", 4, ExecSent)

	if err := repo.UpdateStatus(ctx, batchID, "i1", ExecConfirmed, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	rec, err := repo.GetByItem(ctx, batchID, "i1")
	if err != nil {
		t.Fatalf("GetByItem failed: %v", err)
	}
	if rec == nil || rec.Status != ExecConfirmed {
		t.Errorf("record = %+v, want confirmed", rec)
	}
}

func TestShadowLogRepository_AppendAndList(t *testing.T) {
	db := testDB(t)
	batches := NewBatchRepository(db)
	repo := NewShadowLogRepository(db)
	ctx := context.Background()

	batchID := seedBatch(t, batches, "USDT", settlement.Item{ID: "i1", Wallet: "0xabc", Amount: 5})

	primary := []byte(`{"status":"completed"}`)
	shadow := []byte(`{"status":"processing"}`)
	if err := repo.Append(ctx, batchID, primary, shadow); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	rows, err := repo.ListByBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("ListByBatch failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d comparisons, want 1", len(rows))
	}
	if string(rows[0].PrimaryPayload) != string(primary) {
		t.Errorf("primary payload = %s", rows[0].PrimaryPayload)
	}
	if string(rows[0].ShadowPayload) != string(shadow) {
		t.Errorf("shadow payload = %s", rows[0].ShadowPayload)
	}
}
