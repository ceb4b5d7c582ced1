// Package scanner drives pool-state ingestion and route enumeration,
// per spec.md §4.5. It owns its own rpcadapter.Adapter instance,
// independent of the Executor's, per spec.md §3.
package scanner

import (
	"context"
	"math/big"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	ethlog "github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/model"
	"github.com/glassonion32313/Ought/internal/oppchannel"
	"github.com/glassonion32313/Ought/internal/poolregistry"
	"github.com/glassonion32313/Ought/internal/routeengine"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

// minBackoff and maxBackoff bound the subscription reconnect delay,
// grounded on go-ethereum's own dial-retry doubling idiom.
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 5 * time.Second

	healthInterval  = 30 * time.Second
	slowCycleWarn   = 1 * time.Second
	mempoolRingSize = 256
)

// Scanner is started once and stopped once; Start blocks until every
// loop exits (via ctx cancellation or a fatal error).
type Scanner struct {
	rpc      rpcadapter.Adapter
	registry *poolregistry.Registry
	engine   *routeengine.Engine
	out      *oppchannel.Channel
	metrics  *metrics.Metrics
	clock    clock.Clock

	dexes         []model.DexConfig
	tokens        []common.Address
	enableMempool bool
	useGPU        bool
	minProfit     *big.Int
	gasPriceCap   *big.Int

	mempool *mempoolRing
}

// New builds a Scanner. minProfit and gasPriceCap come from
// config.Config, kept as *big.Int at this layer to avoid a dependency
// on the config package from core logic.
func New(
	rpc rpcadapter.Adapter,
	registry *poolregistry.Registry,
	engine *routeengine.Engine,
	out *oppchannel.Channel,
	m *metrics.Metrics,
	c clock.Clock,
	dexes []model.DexConfig,
	tokens []common.Address,
	enableMempool bool,
	useGPU bool,
	minProfit, gasPriceCap *big.Int,
) *Scanner {
	if c == nil {
		c = clock.Real()
	}
	return &Scanner{
		rpc:           rpc,
		registry:      registry,
		engine:        engine,
		out:           out,
		metrics:       m,
		clock:         c,
		dexes:         dexes,
		tokens:        tokens,
		enableMempool: enableMempool,
		useGPU:        useGPU,
		minProfit:     minProfit,
		gasPriceCap:   gasPriceCap,
		mempool:       newMempoolRing(mempoolRingSize),
	}
}

// Start launches the block loop, the mempool loop (a no-op goroutine
// when EnableMempool is false, kept so the errgroup shape doesn't vary
// by config), and the self-health loop, and blocks until all three
// exit.
func (s *Scanner) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.blockLoop(gctx) })
	g.Go(func() error { return s.mempoolLoop(gctx) })
	g.Go(func() error { return s.healthLoop(gctx) })
	return g.Wait()
}

func (s *Scanner) blockLoop(ctx context.Context) error {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		heads, sub, err := s.rpc.SubscribeNewHeads(ctx)
		if err != nil {
			ethlog.Warn("scanner: subscribe new heads failed, retrying", "err", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

	consume:
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return nil
			case err := <-sub.Err():
				ethlog.Warn("scanner: new-head subscription dropped, resubscribing", "err", err)
				break consume
			case head, ok := <-heads:
				if !ok {
					break consume
				}
				s.analyzeBlock(ctx, head.Number.Uint64())
			}
		}
	}
}

// analyzeBlock refreshes every DEX's pool set concurrently, enumerates
// routes over the combined snapshot, and publishes every profitable
// one. Never blocks the head subscription: it logs and moves on if the
// whole cycle runs long, per spec.md §4.5.
func (s *Scanner) analyzeBlock(ctx context.Context, blockNumber uint64) {
	start := s.clock.Now()

	poolsByDex := make(map[string][]model.PoolSnapshot, len(s.dexes))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, dex := range s.dexes {
		dex := dex
		g.Go(func() error {
			snaps, err := s.registry.Refresh(gctx, dex.ID)
			if err != nil {
				ethlog.Warn("scanner: dex refresh failed, skipping this block", "dex", dex.ID, "err", err)
				return nil
			}
			mu.Lock()
			poolsByDex[dex.ID] = snaps
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	routes := s.engine.Enumerate(ctx, poolsByDex, s.tokens, routeengine.EnumerateConfig{
		MinProfitThreshold: s.minProfit,
		GasPriceCap:        s.gasPriceCap,
		SourceBlock:        blockNumber,
		Parallel:           s.useGPU,
		Clock:              s.clock,
	})

	if s.metrics != nil {
		s.metrics.RoutesEnumerated.Add(float64(len(routes)))
	}
	for _, r := range routes {
		if r.NetProfit == nil || r.NetProfit.Sign() <= 0 {
			continue
		}
		s.out.Publish(r)
		if s.metrics != nil {
			s.metrics.RoutesPublished.Inc()
		}
	}

	if elapsed := s.clock.Now().Sub(start); elapsed > slowCycleWarn {
		ethlog.Warn("scanner: block analysis exceeded 1s", "block", blockNumber, "elapsed", elapsed)
		if s.metrics != nil {
			s.metrics.BlockAnalysisSlow.Inc()
		}
	}
}

// mempoolLoop subscribes to pending transactions and records any that
// target a known router address, for inspection only: spec.md §2
// explicitly excludes mempool-derived routes from publication.
func (s *Scanner) mempoolLoop(ctx context.Context) error {
	if !s.enableMempool {
		<-ctx.Done()
		return nil
	}

	routers := mapset.NewThreadUnsafeSet[common.Address]()
	for _, d := range s.dexes {
		routers.Add(d.Router)
	}

	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		pending, sub, err := s.rpc.SubscribePendingTx(ctx)
		if err != nil {
			ethlog.Warn("scanner: subscribe pending tx failed, retrying", "err", err, "backoff", backoff)
			if !sleepOrDone(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = minBackoff

	consume:
		for {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
				return nil
			case err := <-sub.Err():
				ethlog.Warn("scanner: pending-tx subscription dropped, resubscribing", "err", err)
				break consume
			case hash, ok := <-pending:
				if !ok {
					break consume
				}
				tx, isPending, err := s.rpc.GetTransaction(ctx, hash)
				if err != nil || !isPending || tx == nil || tx.To() == nil {
					continue
				}
				if routers.Contains(*tx.To()) {
					s.mempool.Record(hash, *tx.To(), s.clock.Now())
				}
			}
		}
	}
}

func (s *Scanner) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.metrics != nil {
				s.metrics.ScannerHeartbeat.Set(float64(s.clock.Now().Unix()))
			}
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
