package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/platform/storage"
	"github.com/satelinkinternet-collab/Satelink-Network-sub001/internal/settlement"
)

const (
	// Conservative gas limits, also used as estimation fallbacks when the
	// provider call fails. A degraded estimate is preferable to blocking
	// settlement on an RPC hiccup.
	nativeTransferGas uint64 = 21000
	tokenTransferGas  uint64 = 65000

	// Fallback gas price when SuggestGasPrice is unavailable: 30 gwei.
	fallbackGasPriceWei int64 = 30_000_000_000

	nativeDecimals = 18
)

// transferSelector is the 4-byte selector of ERC-20 transfer(address,uint256).
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// ExecutionStore persists per-item execution records. Satisfied by
// *storage.ExecutionRepository; tests substitute fakes.
type ExecutionStore interface {
	GetByItem(ctx context.Context, batchID, itemID string) (*storage.ExecutionRecord, error)
	ListByBatch(ctx context.Context, batchID string) ([]storage.ExecutionRecord, error)
	Create(ctx context.Context, rec *storage.ExecutionRecord) error
	UpdateSubmission(ctx context.Context, batchID, itemID string, nonce uint64, txHash string, status storage.ExecStatus, errMsg string) error
	UpdateStatus(ctx context.Context, batchID, itemID string, status storage.ExecStatus, errMsg string) error
}

// Adapter is the on-chain settlement rail. It owns the signer identity; all
// execution against the signer flows through the engine's single sequential
// worker, so nonce assignment never interleaves.
type Adapter struct {
	cfg    *Config
	logger *slog.Logger
	client ChainClient
	store  ExecutionStore

	key    *ecdsa.PrivateKey
	from   common.Address
	signer types.Signer
	nonces *NonceManager
}

// NewAdapter creates the EVM rail. The signer key is parsed eagerly so a
// bad credential fails at startup, not mid-batch.
func NewAdapter(cfg *Config, client ChainClient, store ExecutionStore, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{
		cfg:    cfg,
		logger: logger.With("component", "evm-adapter", "chain", cfg.Chain),
		client: client,
		store:  store,
		nonces: NewNonceManager(),
		signer: types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse signer key: %w", err)
		}
		a.key = key
		a.from = crypto.PubkeyToAddress(key.PublicKey)
	} else if cfg.Enabled {
		return nil, fmt.Errorf("enabled EVM rail requires a signer key")
	}

	return a, nil
}

var _ settlement.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return Name }

// SignerAddress returns the rail's signer identity.
func (a *Adapter) SignerAddress() common.Address { return a.from }

// ValidateBatch checks, in order: rail enabled, item-count cap, stable
// aggregate cap, currency support, per-item address format, per-item
// amount. The first failing condition short-circuits.
func (a *Adapter) ValidateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) settlement.Validation {
	if !a.cfg.Enabled {
		return settlement.Validation{Valid: false, Config: true, Err: "EVM rail is disabled"}
	}
	if len(items) == 0 {
		return settlement.Validation{Valid: false, Err: "batch has no items"}
	}
	if len(items) > a.cfg.MaxBatchItems {
		return settlement.Validation{Valid: false, Err: fmt.Sprintf("batch has %d items, cap is %d", len(items), a.cfg.MaxBatchItems)}
	}

	if batch.Currency == a.cfg.StableCurrency {
		var total float64
		for _, item := range items {
			total += item.Amount
		}
		if total > a.cfg.MaxStableAmount {
			return settlement.Validation{Valid: false, Err: fmt.Sprintf("aggregate amount %.2f %s exceeds cap %.2f", total, batch.Currency, a.cfg.MaxStableAmount)}
		}
	}

	if batch.Currency != a.cfg.NativeSymbol {
		if _, ok := a.cfg.Tokens[batch.Currency]; !ok {
			return settlement.Validation{Valid: false, Err: fmt.Sprintf("unsupported currency %q", batch.Currency)}
		}
	}

	for _, item := range items {
		if !common.IsHexAddress(item.Wallet) {
			return settlement.Validation{Valid: false, Err: fmt.Sprintf("item %s: invalid address %q", item.ID, item.Wallet)}
		}
		if item.Amount <= 0 {
			return settlement.Validation{Valid: false, Err: fmt.Sprintf("item %s: amount must be positive", item.ID)}
		}
	}

	return settlement.Validation{Valid: true}
}

// EstimateBatch sums per-item gas costs at the current gas price. Provider
// failures degrade to the hard-coded fallbacks rather than failing the
// batch.
func (a *Adapter) EstimateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.FeeEstimate, error) {
	if v := a.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}

	degraded := false
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		a.logger.Warn("gas price query failed, using fallback", "error", err)
		gasPrice = big.NewInt(fallbackGasPriceWei)
		degraded = true
	}

	var totalGas uint64
	breakdown := make([]settlement.ItemEstimate, 0, len(items))
	for _, item := range items {
		gas, err := a.estimateItemGas(ctx, batch.Currency, item)
		if err != nil {
			a.logger.Warn("gas estimation failed, using fallback",
				"item_id", item.ID,
				"error", err,
			)
			gas = a.fallbackGas(batch.Currency)
			degraded = true
		}
		totalGas += gas
		breakdown = append(breakdown, settlement.ItemEstimate{
			ItemID: item.ID,
			Amount: weiToNative(new(big.Int).Mul(new(big.Int).SetUint64(gas), gasPrice)),
		})
	}

	totalWei := new(big.Int).Mul(new(big.Int).SetUint64(totalGas), gasPrice)

	return &settlement.FeeEstimate{
		Amount:    weiToNative(totalWei),
		Currency:  a.cfg.NativeSymbol,
		Breakdown: breakdown,
		Meta: map[string]any{
			"gas_price_wei": gasPrice.String(),
			"total_gas":     totalGas,
			"degraded":      degraded,
		},
	}, nil
}

func (a *Adapter) estimateItemGas(ctx context.Context, currency string, item settlement.Item) (uint64, error) {
	to := common.HexToAddress(item.Wallet)

	if currency == a.cfg.NativeSymbol {
		return a.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  a.from,
			To:    &to,
			Value: toAtomic(item.Amount, nativeDecimals),
		})
	}

	token := a.cfg.Tokens[currency]
	contract := common.HexToAddress(token.Address)
	return a.client.EstimateGas(ctx, ethereum.CallMsg{
		From: a.from,
		To:   &contract,
		Data: erc20TransferData(to, toAtomic(item.Amount, token.Decimals)),
	})
}

func (a *Adapter) fallbackGas(currency string) uint64 {
	if currency == a.cfg.NativeSymbol {
		return nativeTransferGas
	}
	return tokenTransferGas
}

// CreateBatch submits one transaction per item. For each item the
// idempotency check runs first: an existing record in sent or confirmed
// state is skipped and its hash reused, never re-sent. A failed or prepared
// record is re-submitted in place with a fresh nonce. One item's submission
// error never aborts the remaining items. Returns immediately with
// processing; confirmation is GetBatchStatus's job.
func (a *Adapter) CreateBatch(ctx context.Context, batch *settlement.Batch, items []settlement.Item) (*settlement.CreateResult, error) {
	if v := a.ValidateBatch(ctx, batch, items); !v.Valid {
		return nil, fmt.Errorf("validate batch: %s", v.Err)
	}

	// The starting nonce is fetched once per invocation and incremented
	// locally per item. The local counter is valid only for this single
	// sequential call.
	base, err := a.client.PendingNonceAt(ctx, a.from)
	if err != nil {
		return nil, fmt.Errorf("fetch pending nonce: %w", err)
	}
	a.nonces.Reset(base)

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		a.logger.Warn("gas price query failed, using fallback", "error", err)
		gasPrice = big.NewInt(fallbackGasPriceWei)
	}

	var submitted, skipped, failed int
	for _, item := range items {
		existing, err := a.store.GetByItem(ctx, batch.ID, item.ID)
		if err != nil {
			return nil, fmt.Errorf("load execution record for item %s: %w", item.ID, err)
		}
		if existing != nil && (existing.Status == storage.ExecSent || existing.Status == storage.ExecConfirmed) {
			a.logger.Info("skipping already-submitted item",
				"batch_id", batch.ID,
				"item_id", item.ID,
				"status", existing.Status,
			)
			skipped++
			continue
		}

		nonce := a.nonces.Acquire()
		txHash, sendErr := a.submitItem(ctx, batch.Currency, item, nonce, gasPrice)
		if sendErr != nil {
			// The nonce was never consumed on chain; reuse it for the
			// next item instead of leaving a gap.
			if rbErr := a.nonces.Rollback(nonce); rbErr != nil {
				a.logger.Error("nonce rollback failed", "nonce", nonce, "error", rbErr)
			}
			a.logger.Error("item submission failed",
				"batch_id", batch.ID,
				"item_id", item.ID,
				"error", sendErr,
			)
			if err := a.persistAttempt(ctx, batch, item, existing, nonce, "", storage.ExecFailed, sendErr.Error()); err != nil {
				return nil, err
			}
			failed++
			continue
		}

		a.nonces.Commit(nonce)
		if err := a.persistAttempt(ctx, batch, item, existing, nonce, txHash, storage.ExecSent, ""); err != nil {
			return nil, err
		}
		a.logger.Info("item submitted",
			"batch_id", batch.ID,
			"item_id", item.ID,
			"tx_hash", txHash,
			"nonce", nonce,
		)
		submitted++
	}

	return &settlement.CreateResult{
		ExternalRef: fmt.Sprintf("evm-%s-%s", a.cfg.Chain, batch.ID),
		Status:      settlement.BatchProcessing,
		Meta: map[string]any{
			"chain":     a.cfg.Chain,
			"submitted": submitted,
			"skipped":   skipped,
			"failed":    failed,
		},
	}, nil
}

func (a *Adapter) submitItem(ctx context.Context, currency string, item settlement.Item, nonce uint64, gasPrice *big.Int) (string, error) {
	to := common.HexToAddress(item.Wallet)

	var tx *types.Transaction
	if currency == a.cfg.NativeSymbol {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &to,
			Value:    toAtomic(item.Amount, nativeDecimals),
			Gas:      nativeTransferGas,
			GasPrice: gasPrice,
		})
	} else {
		token := a.cfg.Tokens[currency]
		contract := common.HexToAddress(token.Address)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &contract,
			Value:    big.NewInt(0),
			Gas:      tokenTransferGas,
			GasPrice: gasPrice,
			Data:     erc20TransferData(to, toAtomic(item.Amount, token.Decimals)),
		})
	}

	signed, err := types.SignTx(tx, a.signer, a.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}

func (a *Adapter) persistAttempt(ctx context.Context, batch *settlement.Batch, item settlement.Item, existing *storage.ExecutionRecord, nonce uint64, txHash string, status storage.ExecStatus, errMsg string) error {
	if existing != nil {
		if err := a.store.UpdateSubmission(ctx, batch.ID, item.ID, nonce, txHash, status, errMsg); err != nil {
			return fmt.Errorf("update execution record for item %s: %w", item.ID, err)
		}
		return nil
	}

	rec := &storage.ExecutionRecord{
		BatchID:      batch.ID,
		ItemID:       item.ID,
		ChainName:    a.cfg.Chain,
		AssetSymbol:  batch.Currency,
		ToAddress:    common.HexToAddress(item.Wallet).Hex(),
		AmountAtomic: a.atomicAmount(batch.Currency, item.Amount).String(),
		Nonce:        nonce,
		Status:       status,
	}
	if txHash != "" {
		rec.TxHash = &txHash
	}
	if errMsg != "" {
		rec.ErrorMessage = &errMsg
	}
	if err := a.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("create execution record for item %s: %w", item.ID, err)
	}
	return nil
}

func (a *Adapter) atomicAmount(currency string, amount float64) *big.Int {
	if currency == a.cfg.NativeSymbol {
		return toAtomic(amount, nativeDecimals)
	}
	return toAtomic(amount, a.cfg.Tokens[currency].Decimals)
}

// GetBatchStatus aggregates per-item records into a batch verdict. Fixed
// rule: any failed record fails the batch; all confirmed (at least one)
// completes it; otherwise processing, and each sent record's receipt is
// fetched and the record advanced as a side effect of the poll. Receipt
// polling is the only mechanism by which sent transactions progress.
func (a *Adapter) GetBatchStatus(ctx context.Context, externalRef, batchID string) (*settlement.StatusResult, error) {
	records, err := a.store.ListByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load execution records: %w", err)
	}
	if len(records) == 0 {
		return &settlement.StatusResult{
			Status: settlement.BatchProcessing,
			Meta:   map[string]any{"detail": "no execution records"},
		}, nil
	}

	var confirmed, sent, failed int
	for _, rec := range records {
		switch rec.Status {
		case storage.ExecConfirmed:
			confirmed++
		case storage.ExecFailed:
			failed++
		case storage.ExecSent:
			sent++
		}
	}

	if failed > 0 {
		return &settlement.StatusResult{
			Status: settlement.BatchFailed,
			Meta:   map[string]any{"confirmed": confirmed, "sent": sent, "failed": failed},
		}, nil
	}
	if confirmed == len(records) {
		return &settlement.StatusResult{
			Status: settlement.BatchCompleted,
			Meta:   map[string]any{"confirmed": confirmed},
		}, nil
	}

	for _, rec := range records {
		if rec.Status != storage.ExecSent || rec.TxHash == nil {
			continue
		}
		receipt, err := a.client.TransactionReceipt(ctx, common.HexToHash(*rec.TxHash))
		if err != nil {
			// Not yet mined or a transient RPC problem; the next poll
			// picks it up.
			a.logger.Debug("receipt not available",
				"batch_id", batchID,
				"item_id", rec.ItemID,
				"tx_hash", *rec.TxHash,
				"error", err,
			)
			continue
		}
		if receipt.Status == types.ReceiptStatusSuccessful {
			if err := a.store.UpdateStatus(ctx, batchID, rec.ItemID, storage.ExecConfirmed, ""); err != nil {
				return nil, fmt.Errorf("confirm item %s: %w", rec.ItemID, err)
			}
		} else {
			if err := a.store.UpdateStatus(ctx, batchID, rec.ItemID, storage.ExecFailed, "transaction reverted"); err != nil {
				return nil, fmt.Errorf("fail item %s: %w", rec.ItemID, err)
			}
		}
	}

	return &settlement.StatusResult{
		Status: settlement.BatchProcessing,
		Meta:   map[string]any{"confirmed": confirmed, "sent": sent},
	}, nil
}

// CancelBatch is unsupported: once submitted on chain, transactions cannot
// be recalled.
func (a *Adapter) CancelBatch(ctx context.Context, externalRef string) settlement.CancelResult {
	return settlement.CancelResult{
		Success: false,
		Detail:  "on-chain transactions cannot be cancelled once submitted",
	}
}

func (a *Adapter) HealthCheck(ctx context.Context) settlement.HealthStatus {
	start := time.Now()
	block, err := a.client.BlockNumber(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return settlement.HealthStatus{OK: false, LatencyMS: latency, Detail: err.Error()}
	}
	return settlement.HealthStatus{
		OK:        true,
		LatencyMS: latency,
		Detail:    fmt.Sprintf("block %d", block),
	}
}

func erc20TransferData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 68)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// toAtomic scales an amount to the token's atomic units. The value is
// carried exactly through a rational and rounded to the nearest atomic
// unit, so binary float representation error (0.29 stored as 0.28999...)
// never shaves sub-units off the transfer.
func toAtomic(amount float64, decimals int) *big.Int {
	r := new(big.Rat).SetFloat64(amount)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))

	atomic, rem := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if new(big.Int).Lsh(rem, 1).CmpAbs(r.Denom()) >= 0 {
		atomic.Add(atomic, big.NewInt(1))
	}
	return atomic
}

func weiToNative(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	native, _ := f.Float64()
	return native
}
