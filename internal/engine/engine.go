// Package engine orchestrates settlement: it pulls queued payout batches,
// resolves the active rail, drives each batch through validate, estimate
// and execute, persists status after every external call, and exposes
// on-demand reconciliation and retry.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/notify"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

var (
	// ErrAlreadyRunning is returned when a ProcessQueue invocation overlaps
	// a still-running one. Overlapping runs could double-claim batches or
	// collide on the shared signer nonce, so they are refused outright.
	ErrAlreadyRunning = errors.New("engine: queue run already in progress")

	// ErrBatchNotFound is returned when the batch id is unknown.
	ErrBatchNotFound = errors.New("engine: batch not found")

	// ErrItemNotFound is returned when the item id is not in the batch.
	ErrItemNotFound = errors.New("engine: item not found in batch")

	// ErrNoExternalRef is returned when reconciliation is requested for a
	// batch that never recorded a rail reference.
	ErrNoExternalRef = errors.New("engine: batch has no external reference")

	// errLeaveQueued marks operator configuration problems. The batch is
	// returned to the queue rather than marked failed; the data is fine,
	// the wiring is not.
	errLeaveQueued = errors.New("engine: configuration problem, batch left queued")
)

// BatchStore is the persistence surface the engine drives. Satisfied by
// *storage.BatchRepository.
type BatchStore interface {
	Get(ctx context.Context, id string) (*settlement.Batch, error)
	FetchQueued(ctx context.Context, limit int) ([]*settlement.Batch, error)
	Claim(ctx context.Context, id, adapterType string) (bool, error)
	Requeue(ctx context.Context, id string) error
	UpdateResult(ctx context.Context, id string, status settlement.BatchStatus, externalRef, txHash string, feeAmount float64, meta map[string]any) error
	MarkFailed(ctx context.Context, id, reason string) error
	SetStatus(ctx context.Context, id string, status settlement.BatchStatus) error
	ListItems(ctx context.Context, batchID string) ([]settlement.Item, error)
}

// FlagReader reads the system flags. Satisfied by *flags.Reader.
type FlagReader interface {
	ActiveAdapter(ctx context.Context) (string, error)
	DryRun(ctx context.Context) (bool, error)
	SafeMode(ctx context.Context) (bool, error)
}

// ShadowLog appends primary-vs-shadow comparison results. Satisfied by
// *storage.ShadowLogRepository.
type ShadowLog interface {
	Append(ctx context.Context, batchID string, primaryPayload, shadowPayload []byte) error
}

// Config holds engine tuning.
type Config struct {
	// QueueLimit bounds how many queued batches one cycle picks up
	QueueLimit int `yaml:"queue_limit"`

	// ShadowAdapter names the rail run in shadow against every primary
	// execution; empty disables shadow comparison
	ShadowAdapter string `yaml:"shadow_adapter"`
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{QueueLimit: 5}
}

// ReconcileResult reports a reconciliation outcome.
type ReconcileResult struct {
	Previous settlement.BatchStatus
	Current  settlement.BatchStatus
}

// Engine is the settlement orchestrator. Batches within one queue run are
// processed strictly sequentially: the EVM rail shares one signer identity
// whose nonce must be assigned in increasing order without gaps.
type Engine struct {
	cfg       Config
	logger    *slog.Logger
	batches   BatchStore
	registry  *settlement.Registry
	flags     FlagReader
	shadowLog ShadowLog
	notifier  notify.Notifier

	running atomic.Bool
}

// New creates the engine.
func New(cfg Config, batches BatchStore, registry *settlement.Registry, flags FlagReader, shadowLog ShadowLog, notifier notify.Notifier, logger *slog.Logger) *Engine {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultConfig().QueueLimit
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Engine{
		cfg:       cfg,
		logger:    logger.With("component", "settlement-engine"),
		batches:   batches,
		registry:  registry,
		flags:     flags,
		shadowLog: shadowLog,
		notifier:  notifier,
	}
}

// ProcessQueue runs one settlement cycle: safety gate, fetch queued batches
// oldest first, process each sequentially. Safe to invoke repeatedly; an
// overlapping invocation is a no-op returning ErrAlreadyRunning.
func (e *Engine) ProcessQueue(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	safeMode, err := e.flags.SafeMode(ctx)
	if err != nil {
		// The flag store being unreachable must halt settlement, not let
		// it run blind.
		e.logger.Error("safe-mode flag unreadable, failing closed", "error", err)
		return fmt.Errorf("read safe-mode flag: %w", err)
	}
	if safeMode {
		e.logger.Warn("safe mode enabled, skipping settlement cycle")
		return nil
	}

	queued, err := e.batches.FetchQueued(ctx, e.cfg.QueueLimit)
	if err != nil {
		return fmt.Errorf("fetch queued batches: %w", err)
	}
	if len(queued) == 0 {
		return nil
	}

	e.logger.Info("processing settlement queue", "batches", len(queued))

	for _, batch := range queued {
		if err := e.ProcessBatch(ctx, batch); err != nil {
			e.logger.Error("batch processing error",
				"batch_id", batch.ID,
				"error", err,
			)
		}
	}

	return nil
}

// ProcessBatch drives one batch through its lifecycle. Adapter resolution
// failures leave the batch queued (operator problem, not batch-data
// problem); anything that goes wrong after the claim marks the batch failed
// with the reason in meta, so a batch is never stranded in processing.
func (e *Engine) ProcessBatch(ctx context.Context, batch *settlement.Batch) error {
	adapterName, err := e.flags.ActiveAdapter(ctx)
	if err != nil {
		e.logger.Error("adapter flag unreadable, leaving batch queued",
			"batch_id", batch.ID,
			"error", err,
		)
		return nil
	}

	adapter, ok := e.registry.Get(adapterName)
	if !ok {
		e.logger.Error("adapter not registered, leaving batch queued",
			"batch_id", batch.ID,
			"adapter", adapterName,
		)
		return nil
	}

	claimed, err := e.batches.Claim(ctx, batch.ID, adapter.Name())
	if err != nil {
		return fmt.Errorf("claim batch %s: %w", batch.ID, err)
	}
	if !claimed {
		e.logger.Info("batch already claimed elsewhere, skipping", "batch_id", batch.ID)
		return nil
	}

	if err := e.runPipeline(ctx, adapter, batch); err != nil {
		if errors.Is(err, errLeaveQueued) {
			e.logger.Warn("configuration problem, requeueing batch",
				"batch_id", batch.ID,
				"error", err,
			)
			return e.batches.Requeue(ctx, batch.ID)
		}

		e.logger.Error("batch failed",
			"batch_id", batch.ID,
			"adapter", adapter.Name(),
			"error", err,
		)
		if markErr := e.batches.MarkFailed(ctx, batch.ID, err.Error()); markErr != nil {
			return fmt.Errorf("mark batch failed: %w (original: %s)", markErr, err)
		}
		e.publish(ctx, batch.ID, settlement.BatchFailed, adapter.Name(), "")
		return nil
	}

	return nil
}

// runPipeline is steps 3-8 of batch processing. A panic anywhere inside is
// converted to an error so the failure handler still runs.
func (e *Engine) runPipeline(ctx context.Context, adapter settlement.Adapter, batch *settlement.Batch) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during settlement: %v", p)
		}
	}()

	items, err := e.batches.ListItems(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}

	if v := adapter.ValidateBatch(ctx, batch, items); !v.Valid {
		// A configuration-class failure (rail disabled) is an operator
		// problem: the batch data is fine and must go back to the queue.
		if v.Config {
			return fmt.Errorf("%w: %s", errLeaveQueued, v.Err)
		}
		return fmt.Errorf("validation failed: %s", v.Err)
	}

	// Estimation is observability, not a gate: transient provider errors
	// degrade to a log line.
	var feeAmount float64
	if estimate, estErr := adapter.EstimateBatch(ctx, batch, items); estErr != nil {
		e.logger.Warn("fee estimation unavailable",
			"batch_id", batch.ID,
			"adapter", adapter.Name(),
			"error", estErr,
		)
	} else {
		feeAmount = estimate.Amount
		e.logger.Info("fee estimate",
			"batch_id", batch.ID,
			"adapter", adapter.Name(),
			"fee", estimate.Amount,
			"fee_currency", estimate.Currency,
		)
	}

	dryRun, err := e.flags.DryRun(ctx)
	if err != nil {
		return fmt.Errorf("%w: read dry-run flag: %s", errLeaveQueued, err)
	}
	if dryRun {
		e.logger.Info("dry run, skipping execution", "batch_id", batch.ID, "adapter", adapter.Name())
		meta := map[string]any{"dry_run": true, "adapter": adapter.Name()}
		if err := e.batches.UpdateResult(ctx, batch.ID, settlement.BatchCompleted, "", "", feeAmount, meta); err != nil {
			return fmt.Errorf("persist dry-run result: %w", err)
		}
		e.publish(ctx, batch.ID, settlement.BatchCompleted, adapter.Name(), "")
		return nil
	}

	result, err := adapter.CreateBatch(ctx, batch, items)
	if err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}

	// An asynchronous rail legitimately reports processing here; that is a
	// valid resting state advanced later by ReconcileBatch, never coerced
	// to failed.
	if err := e.batches.UpdateResult(ctx, batch.ID, result.Status, result.ExternalRef, result.TxHash, feeAmount, result.Meta); err != nil {
		return fmt.Errorf("persist execution result: %w", err)
	}

	e.logger.Info("batch executed",
		"batch_id", batch.ID,
		"adapter", adapter.Name(),
		"status", result.Status,
		"external_ref", result.ExternalRef,
	)
	e.publish(ctx, batch.ID, result.Status, adapter.Name(), result.ExternalRef)

	e.compareShadow(ctx, adapter, batch, items, result)

	return nil
}

// compareShadow runs the configured shadow rail against the same inputs and
// appends both structured outputs to the comparison log. Divergence is
// logged, never acted on: shadow results must not block or alter the
// primary outcome, so every error below is swallowed at this boundary.
func (e *Engine) compareShadow(ctx context.Context, primary settlement.Adapter, batch *settlement.Batch, items []settlement.Item, primaryResult *settlement.CreateResult) {
	if e.cfg.ShadowAdapter == "" || e.cfg.ShadowAdapter == primary.Name() {
		return
	}
	if e.shadowLog == nil {
		return
	}

	shadowAdapter, ok := e.registry.Get(e.cfg.ShadowAdapter)
	if !ok {
		e.logger.Warn("shadow adapter not registered", "adapter", e.cfg.ShadowAdapter)
		return
	}

	shadowResult, shadowErr := shadowAdapter.CreateBatch(ctx, batch, items)

	primaryJSON, err := json.Marshal(primaryResult)
	if err != nil {
		e.logger.Error("marshal primary result for shadow log", "batch_id", batch.ID, "error", err)
		return
	}

	var shadowJSON []byte
	if shadowErr != nil {
		shadowJSON, _ = json.Marshal(map[string]any{"error": shadowErr.Error()})
		e.logger.Warn("shadow rail failed",
			"batch_id", batch.ID,
			"shadow_adapter", shadowAdapter.Name(),
			"error", shadowErr,
		)
	} else {
		shadowJSON, err = json.Marshal(shadowResult)
		if err != nil {
			e.logger.Error("marshal shadow result", "batch_id", batch.ID, "error", err)
			return
		}
		if shadowResult.Status != primaryResult.Status {
			e.logger.Warn("shadow divergence",
				"batch_id", batch.ID,
				"primary_status", primaryResult.Status,
				"shadow_status", shadowResult.Status,
			)
		}
	}

	if err := e.shadowLog.Append(ctx, batch.ID, primaryJSON, shadowJSON); err != nil {
		e.logger.Error("append shadow comparison", "batch_id", batch.ID, "error", err)
	}
}

// ReconcileBatch re-polls the rail for a batch's status and writes the
// batch row only when the polled status differs from the stored one. This
// is the only path by which an asynchronous batch leaves processing.
func (e *Engine) ReconcileBatch(ctx context.Context, batchID string) (*ReconcileResult, error) {
	batch, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch == nil {
		return nil, ErrBatchNotFound
	}
	if batch.ExternalRef == "" {
		return nil, ErrNoExternalRef
	}

	adapter, ok := e.registry.Get(batch.AdapterType)
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", batch.AdapterType)
	}

	polled, err := adapter.GetBatchStatus(ctx, batch.ExternalRef, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("poll batch status: %w", err)
	}

	result := &ReconcileResult{Previous: batch.Status, Current: polled.Status}
	if polled.Status == batch.Status {
		e.logger.Debug("reconciliation: status unchanged",
			"batch_id", batchID,
			"status", batch.Status,
		)
		return result, nil
	}

	if err := e.batches.SetStatus(ctx, batchID, polled.Status); err != nil {
		return nil, fmt.Errorf("write reconciled status: %w", err)
	}

	e.logger.Info("batch reconciled",
		"batch_id", batchID,
		"previous", batch.Status,
		"current", polled.Status,
	)
	e.publish(ctx, batchID, polled.Status, batch.AdapterType, batch.ExternalRef)

	return result, nil
}

// RetryItem re-attempts one failed item by re-invoking whole-batch
// execution; the adapter's per-item idempotency check skips items already
// sent or confirmed and re-submits the failed record in place.
func (e *Engine) RetryItem(ctx context.Context, batchID, itemID string) error {
	batch, err := e.batches.Get(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if batch == nil {
		return ErrBatchNotFound
	}

	adapter, ok := e.registry.Get(batch.AdapterType)
	if !ok {
		return fmt.Errorf("adapter %q not registered", batch.AdapterType)
	}

	items, err := e.batches.ListItems(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load items: %w", err)
	}
	found := false
	for _, item := range items {
		if item.ID == itemID {
			found = true
			break
		}
	}
	if !found {
		return ErrItemNotFound
	}

	e.logger.Info("retrying item",
		"batch_id", batchID,
		"item_id", itemID,
		"adapter", adapter.Name(),
	)

	result, err := adapter.CreateBatch(ctx, batch, items)
	if err != nil {
		if markErr := e.batches.MarkFailed(ctx, batchID, err.Error()); markErr != nil {
			return fmt.Errorf("mark batch failed: %w (original: %s)", markErr, err)
		}
		e.publish(ctx, batchID, settlement.BatchFailed, adapter.Name(), batch.ExternalRef)
		return fmt.Errorf("retry execution: %w", err)
	}

	if err := e.batches.UpdateResult(ctx, batchID, result.Status, result.ExternalRef, result.TxHash, 0, result.Meta); err != nil {
		return fmt.Errorf("persist retry result: %w", err)
	}
	e.publish(ctx, batchID, result.Status, adapter.Name(), result.ExternalRef)

	return nil
}

func (e *Engine) publish(ctx context.Context, batchID string, status settlement.BatchStatus, adapterType, externalRef string) {
	event := notify.BatchEvent{
		BatchID:     batchID,
		Status:      string(status),
		AdapterType: adapterType,
		ExternalRef: externalRef,
		At:          time.Now().UTC(),
	}
	if err := e.notifier.Publish(ctx, event); err != nil {
		e.logger.Warn("notification publish failed",
			"batch_id", batchID,
			"status", status,
			"error", err,
		)
	}
}
