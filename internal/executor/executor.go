// Package executor submits arbitrage transactions, tracks them to a
// terminal state, and keeps the local nonce in sync with the chain, per
// spec.md §4.6. An Executor owns its own rpcadapter.Adapter instance,
// independent of the Scanner's, per spec.md §3.
package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethlog "github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/contract"
	"github.com/glassonion32313/Ought/internal/errs"
	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/model"
	"github.com/glassonion32313/Ought/internal/oppchannel"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

const (
	receiveTimeout = 2 * time.Second

	monitorInterval   = 10 * time.Second
	nonceSyncInterval = 60 * time.Second

	withdrawDelay      = 5 * time.Second
	droppedAfter       = 300 * time.Second
	maxRouteAge        = 30 * time.Second
	maxGasEstimate     = 800_000
	gasLimitMultiplier = 1.15
	fallbackGasLimit   = 600_000

	baseFeeMultiplierNum   = 3 // 1.5x represented as 3/2 to stay in integer math
	baseFeeMultiplierDen   = 2
	priorityFeeCapWei      = 2_000_000_000 // 2 gwei
	priorityFeeCapDivisor  = 10

	emergencyFeeCapNum = 3 // 1.5x
	emergencyFeeCapDen = 2
	emergencyTipNum    = 1 // 0.2x
	emergencyTipDen    = 5
)

// withdrawal is enqueued onto the submit loop's work channel by the
// monitor loop, resolving spec.md §9's nonce-race open question:
// profit withdrawal is serialized through the same nonce authority
// instead of a fire-and-forget task.
type withdrawal struct {
	token common.Address
	at    time.Time
}

// Executor is started once and stopped once via context cancellation;
// Start blocks until every loop exits.
type Executor struct {
	rpc     rpcadapter.Adapter
	in      *oppchannel.Channel
	metrics *metrics.Metrics
	clock   clock.Clock

	privateKey      *ecdsa.PrivateKey
	executorAddress common.Address
	contractAddress common.Address
	chainID         *big.Int
	maxGasPriceCap  *big.Int

	mu      sync.Mutex
	nonce   uint64
	pending map[common.Hash]*model.PendingTx

	withdrawals chan withdrawal
}

// Config carries the Executor's fixed parameters.
type Config struct {
	PrivateKey      *ecdsa.PrivateKey
	ExecutorAddress common.Address
	ContractAddress common.Address
	ChainID         uint64
	MaxGasPriceCap  *big.Int
}

// New builds an Executor. The starting nonce is fetched by Start,
// before any loop is launched, so construction never blocks on an RPC
// call.
func New(rpc rpcadapter.Adapter, in *oppchannel.Channel, m *metrics.Metrics, c clock.Clock, cfg Config) *Executor {
	if c == nil {
		c = clock.Real()
	}
	return &Executor{
		rpc:             rpc,
		in:              in,
		metrics:         m,
		clock:           c,
		privateKey:      cfg.PrivateKey,
		executorAddress: cfg.ExecutorAddress,
		contractAddress: cfg.ContractAddress,
		chainID:         new(big.Int).SetUint64(cfg.ChainID),
		maxGasPriceCap:  cfg.MaxGasPriceCap,
		pending:         make(map[common.Hash]*model.PendingTx),
		withdrawals:     make(chan withdrawal, 64),
	}
}

// Start launches the submit loop, monitor loop, and nonce sync loop
// under one errgroup and blocks until all three exit.
func (e *Executor) Start(ctx context.Context) error {
	if err := e.syncNonce(ctx); err != nil {
		return fmt.Errorf("executor: initial nonce sync: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.submitLoop(gctx) })
	g.Go(func() error { return e.monitorLoop(gctx) })
	g.Go(func() error { return e.nonceSyncLoop(gctx) })
	return g.Wait()
}

// submitLoop implements spec.md §4.6 steps 1-7: receive, validate,
// price, sign, send, track.
func (e *Executor) submitLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case w := <-e.withdrawals:
			e.submitWithdrawal(ctx, w)
			continue
		default:
		}

		route, ok := e.in.Receive(ctx, receiveTimeout)
		if !ok {
			continue
		}
		if err := e.submitRoute(ctx, route); err != nil {
			if errors.Is(err, errs.ErrInvariant) {
				ethlog.Error("executor: invariant violation, stopping submit loop", "err", err)
				return err
			}
			ethlog.Debug("executor: route rejected", "start_token", route.StartToken, "err", err)
		}
	}
}

// submitRoute validates one route, prices it, signs, and sends it. A
// validation-kind rejection returns a wrapped errs.ErrValidation and is
// never logged above debug, per spec.md §7.
func (e *Executor) submitRoute(ctx context.Context, route model.Route) error {
	if e.clock.Now().Sub(route.CreatedAt) > maxRouteAge {
		return fmt.Errorf("%w: route is stale", errs.ErrValidation)
	}
	if route.NetProfit == nil || route.NetProfit.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive net profit", errs.ErrValidation)
	}

	if err := e.sanityCheckBalance(ctx, route); err != nil {
		return err
	}

	callData, err := encodeExecuteArbitrage(route)
	if err != nil {
		return fmt.Errorf("%w: encode calldata: %v", errs.ErrValidation, err)
	}

	gasEstimate, err := e.rpc.EstimateGas(ctx, buildCallMsg(e.executorAddress, e.contractAddress, callData))
	if err != nil {
		if isTransportShaped(err) {
			ethlog.Warn("executor: estimate gas transport failure, deferring to next cycle", "err", err)
			return fmt.Errorf("%w: estimate gas: %v", errs.ErrTransport, err)
		}
		return fmt.Errorf("%w: estimate gas reverted: %v", errs.ErrValidation, err)
	}
	if gasEstimate > maxGasEstimate {
		return fmt.Errorf("%w: gas estimate %d exceeds cap", errs.ErrValidation, gasEstimate)
	}
	gasLimit := gasEstimate * uint64(gasLimitMultiplier*100) / 100
	if gasLimit == 0 {
		gasLimit = fallbackGasLimit
	}

	head, err := e.rpc.GetBlock(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: fetch head for base fee: %v", errs.ErrTransport, err)
	}
	feeCap, tipCap := computeFees(head.BaseFee(), e.maxGasPriceCap)

	// Reject if gas_limit * max_fee_per_gas >= route.expected_profit, per
	// spec.md's executor pricing check; ExpectedProfit is the pre-gas
	// figure the route was enumerated with, not the route engine's
	// already-gas-netted NetProfit.
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), feeCap)
	if route.ExpectedProfit.Cmp(gasCost) <= 0 {
		return fmt.Errorf("%w: priced gas cost meets or exceeds expected profit", errs.ErrValidation)
	}

	e.mu.Lock()
	nonce := e.nonce
	e.mu.Unlock()

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   e.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &e.contractAddress,
		Data:      callData,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.privateKey)
	if err != nil {
		return fmt.Errorf("%w: sign tx: %v", errs.ErrInvariant, err)
	}

	if err := e.rpc.SendRawTransaction(ctx, signed); err != nil {
		if isTransportShaped(err) {
			ethlog.Warn("executor: send failed, will fail over without resubmitting this cycle", "err", err)
			return fmt.Errorf("%w: send tx: %v", errs.ErrTransport, err)
		}
		return fmt.Errorf("%w: send tx rejected: %v", errs.ErrChain, err)
	}

	e.mu.Lock()
	e.nonce++
	e.pending[signed.Hash()] = &model.PendingTx{
		TxHash:      signed.Hash(),
		Nonce:       nonce,
		Route:       route,
		SubmittedAt: e.clock.Now(),
		FeeCap:      feeCap,
		TipCap:      tipCap,
		State:       model.Pending,
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.TxSubmitted.Inc()
		e.metrics.ExecutorNonce.Set(float64(nonce + 1))
	}
	ethlog.Info("executor: submitted arbitrage tx", "hash", signed.Hash(), "nonce", nonce, "net_profit", route.NetProfit)
	return nil
}

// sanityCheckBalance calls the start token's balanceOf for the
// executor address as a cheap pre-flight, per spec.md §4.6 step 2.
func (e *Executor) sanityCheckBalance(ctx context.Context, route model.Route) error {
	data, err := contract.ERC20ABI.Pack("balanceOf", e.executorAddress)
	if err != nil {
		return fmt.Errorf("%w: pack balanceOf: %v", errs.ErrValidation, err)
	}
	out, err := e.rpc.Call(ctx, buildCallMsg(e.executorAddress, route.StartToken, data))
	if err != nil {
		return fmt.Errorf("%w: balanceOf call: %v", errs.ErrTransport, err)
	}
	result, err := contract.ERC20ABI.Unpack("balanceOf", out)
	if err != nil || len(result) == 0 {
		return fmt.Errorf("%w: unpack balanceOf: %v", errs.ErrValidation, err)
	}
	balance, ok := result[0].(*big.Int)
	if !ok || balance.Cmp(route.AmountIn) < 0 {
		return fmt.Errorf("%w: insufficient start-token balance", errs.ErrValidation)
	}
	return nil
}

// computeFees implements spec.md §4.6's EIP-1559 schedule:
// maxFeePerGas = min(baseFee*1.5, priceCap), maxPriorityFeePerGas =
// min(2 gwei, maxFeePerGas/10).
func computeFees(baseFee, priceCap *big.Int) (feeCap, tipCap *big.Int) {
	scaled := new(big.Int).Mul(baseFee, big.NewInt(baseFeeMultiplierNum))
	scaled.Quo(scaled, big.NewInt(baseFeeMultiplierDen))
	feeCap = scaled
	if priceCap != nil && feeCap.Cmp(priceCap) > 0 {
		feeCap = new(big.Int).Set(priceCap)
	}

	tipCap = big.NewInt(priorityFeeCapWei)
	tenth := new(big.Int).Quo(feeCap, big.NewInt(priorityFeeCapDivisor))
	if tenth.Cmp(tipCap) < 0 {
		tipCap = tenth
	}
	return feeCap, tipCap
}

func buildCallMsg(from, to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{From: from, To: &to, Data: data}
}

// isTransportShaped reports whether err was wrapped with errs.ErrTransport
// by the rpc adapter, so the submit loop can skip resubmitting in the
// same cycle per spec.md §4.6.
func isTransportShaped(err error) bool {
	return errors.Is(err, errs.ErrTransport)
}

func encodeExecuteArbitrage(route model.Route) ([]byte, error) {
	type params struct {
		TokenIn        common.Address
		AmountIn       *big.Int
		DexRouters     []common.Address
		SwapData       [][]byte
		ExpectedProfit *big.Int
	}
	p := params{
		TokenIn:        route.StartToken,
		AmountIn:       route.AmountIn,
		DexRouters:     make([]common.Address, len(route.Hops)),
		SwapData:       make([][]byte, len(route.Hops)),
		ExpectedProfit: route.ExpectedProfit,
	}
	for i, h := range route.Hops {
		p.DexRouters[i] = h.RouterAddress
		p.SwapData[i] = h.SwapCalldata
	}
	return contract.ExecutorABI.Pack("executeArbitrage", p)
}
