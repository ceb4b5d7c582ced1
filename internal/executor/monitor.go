package executor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/glassonion32313/Ought/internal/contract"
	"github.com/glassonion32313/Ought/internal/model"
)

// monitorLoop polls receipts for every pending tx every 10s, parses
// ArbitrageExecuted on success, schedules a withdrawal 5s later through
// the submit loop, and ages stale entries to Dropped after 300s.
func (e *Executor) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.pollPending(ctx)
		}
	}
}

func (e *Executor) pollPending(ctx context.Context) {
	e.mu.Lock()
	hashes := make([]common.Hash, 0, len(e.pending))
	for h, p := range e.pending {
		if p.State == model.Pending {
			hashes = append(hashes, h)
		}
	}
	e.mu.Unlock()

	for _, hash := range hashes {
		receipt, err := e.rpc.GetTransactionReceipt(ctx, hash)
		if err != nil {
			e.checkDropTimeout(hash)
			continue
		}
		e.handleReceipt(ctx, hash, receipt)
	}
}

func (e *Executor) checkDropTimeout(hash common.Hash) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[hash]
	if !ok || p.State != model.Pending {
		return
	}
	if e.clock.Now().Sub(p.SubmittedAt) > droppedAfter {
		p.State = model.Dropped
		if e.metrics != nil {
			e.metrics.TxDropped.Inc()
		}
		ethlog.Warn("executor: pending tx aged out without a receipt", "hash", hash, "nonce", p.Nonce)
	}
}

func (e *Executor) handleReceipt(ctx context.Context, hash common.Hash, receipt *types.Receipt) {
	e.mu.Lock()
	p, ok := e.pending[hash]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if receipt.Status != types.ReceiptStatusSuccessful {
		e.mu.Lock()
		p.State = model.Failed
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.TxFailed.Inc()
		}
		ethlog.Warn("executor: arbitrage tx reverted", "hash", hash, "nonce", p.Nonce)
		return
	}

	e.mu.Lock()
	p.State = model.Included
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.TxIncluded.Inc()
	}

	token, gross, ok := parseArbitrageExecuted(receipt)
	if !ok {
		ethlog.Warn("executor: included tx missing ArbitrageExecuted event", "hash", hash)
		return
	}
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), effectiveGasPrice(receipt, p))
	net := new(big.Int).Sub(gross, gasCost)
	ethlog.Info("executor: arbitrage included", "hash", hash, "gross_profit", gross, "net_profit", net)

	select {
	case e.withdrawals <- withdrawal{token: token, at: e.clock.Now().Add(withdrawDelay)}:
	default:
		ethlog.Warn("executor: withdrawal queue full, dropping scheduled withdrawal", "token", token)
	}
}

func effectiveGasPrice(receipt *types.Receipt, p *model.PendingTx) *big.Int {
	if receipt.EffectiveGasPrice != nil {
		return receipt.EffectiveGasPrice
	}
	return p.FeeCap
}

// parseArbitrageExecuted scans a receipt's logs for the executor
// contract's ArbitrageExecuted event and unpacks token and profit.
func parseArbitrageExecuted(receipt *types.Receipt) (token common.Address, profit *big.Int, ok bool) {
	event, ok := contract.ExecutorABI.Events["ArbitrageExecuted"]
	if !ok {
		return common.Address{}, nil, false
	}
	for _, logEntry := range receipt.Logs {
		if len(logEntry.Topics) == 0 || logEntry.Topics[0] != event.ID {
			continue
		}
		data, err := contract.ExecutorABI.Unpack("ArbitrageExecuted", logEntry.Data)
		if err != nil || len(data) < 2 {
			continue
		}
		profit, ok := data[1].(*big.Int)
		if !ok || len(logEntry.Topics) < 2 {
			continue
		}
		return common.BytesToAddress(logEntry.Topics[1].Bytes()), profit, true
	}
	return common.Address{}, nil, false
}

// submitWithdrawal is invoked by the submit loop itself (never a
// separate goroutine) for a due withdrawal, reusing the same nonce and
// signing path as an ordinary arbitrage submission.
func (e *Executor) submitWithdrawal(ctx context.Context, w withdrawal) {
	if e.clock.Now().Before(w.at) {
		select {
		case e.withdrawals <- w:
		default:
			ethlog.Warn("executor: withdrawal re-queue failed, dropping", "token", w.token)
		}
		return
	}

	data, err := contract.ExecutorABI.Pack("emergencyWithdraw", w.token)
	if err != nil {
		ethlog.Error("executor: pack emergencyWithdraw failed", "token", w.token, "err", err)
		return
	}

	head, err := e.rpc.GetBlock(ctx, true)
	if err != nil {
		ethlog.Warn("executor: withdrawal deferred, could not fetch base fee", "err", err)
		e.requeueWithdrawal(w)
		return
	}
	feeCap, tipCap := computeFees(head.BaseFee(), e.maxGasPriceCap)

	e.mu.Lock()
	nonce := e.nonce
	e.mu.Unlock()

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       fallbackGasLimit,
		To:        &e.contractAddress,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.privateKey)
	if err != nil {
		ethlog.Error("executor: sign withdrawal failed", "err", err)
		return
	}
	if err := e.rpc.SendRawTransaction(ctx, signed); err != nil {
		ethlog.Warn("executor: send withdrawal failed, will retry next cycle", "err", err)
		e.requeueWithdrawal(w)
		return
	}

	e.mu.Lock()
	e.nonce++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.ExecutorNonce.Set(float64(nonce + 1))
	}
	ethlog.Info("executor: submitted profit withdrawal", "token", w.token, "nonce", nonce, "hash", signed.Hash())
}

func (e *Executor) requeueWithdrawal(w withdrawal) {
	w.at = e.clock.Now().Add(withdrawDelay)
	select {
	case e.withdrawals <- w:
	default:
		ethlog.Warn("executor: withdrawal requeue dropped, queue full", "token", w.token)
	}
}

// nonceSyncLoop adopts the on-chain nonce if it diverges from the
// local one every 60s, per spec.md §4.6. It never resubmits or mutates
// any PendingTx.
func (e *Executor) nonceSyncLoop(ctx context.Context) error {
	ticker := time.NewTicker(nonceSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.syncNonce(ctx); err != nil {
				ethlog.Warn("executor: nonce sync failed", "err", err)
			}
		}
	}
}

func (e *Executor) syncNonce(ctx context.Context) error {
	onChain, err := e.rpc.GetTransactionCount(ctx, e.executorAddress)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if onChain != e.nonce {
		ethlog.Warn("executor: adopting on-chain nonce", "local", e.nonce, "chain", onChain)
		e.nonce = onChain
	}
	if e.metrics != nil {
		e.metrics.ExecutorNonce.Set(float64(e.nonce))
	}
	return nil
}

// EmergencyStop replaces every still-Pending transaction with a
// 0-value self-transfer at the same nonce, priced at 1.5x the
// configured gas cap with a 0.2x tip, per spec.md §4.6.
func (e *Executor) EmergencyStop(ctx context.Context) error {
	e.mu.Lock()
	toReplace := make([]*model.PendingTx, 0, len(e.pending))
	for _, p := range e.pending {
		if p.State == model.Pending {
			toReplace = append(toReplace, p)
		}
	}
	e.mu.Unlock()

	feeCap := new(big.Int).Mul(e.maxGasPriceCap, big.NewInt(emergencyFeeCapNum))
	feeCap.Quo(feeCap, big.NewInt(emergencyFeeCapDen))
	tipCap := new(big.Int).Mul(e.maxGasPriceCap, big.NewInt(emergencyTipNum))
	tipCap.Quo(tipCap, big.NewInt(emergencyTipDen))

	for _, p := range toReplace {
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   e.chainID,
			Nonce:     p.Nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       21_000,
			To:        &e.executorAddress,
			Value:     big.NewInt(0),
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.privateKey)
		if err != nil {
			ethlog.Error("executor: sign emergency replacement failed", "nonce", p.Nonce, "err", err)
			continue
		}
		if err := e.rpc.SendRawTransaction(ctx, signed); err != nil {
			ethlog.Error("executor: send emergency replacement failed", "nonce", p.Nonce, "err", err)
			continue
		}
		e.mu.Lock()
		p.State = model.Replaced
		e.mu.Unlock()
		ethlog.Warn("executor: replaced pending tx with self-transfer", "nonce", p.Nonce, "hash", signed.Hash())
	}
	return nil
}
