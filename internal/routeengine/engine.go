package routeengine

import (
	"context"
	"fmt"
	"math/big"
	"runtime"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/sync/errgroup"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/model"
)

// probeAmount is the fixed amount_in every candidate cycle is probed
// with, per spec.md §4.3 step 1.
var probeAmount = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// perHopGas is the design constant spec.md §4.3 uses for internal
// filtering; the Executor recomputes the authoritative gas cost.
const perHopGas = 150_000

// EnumerateConfig carries the knobs that vary per call to Enumerate.
type EnumerateConfig struct {
	MinProfitThreshold *big.Int
	GasPriceCap        *big.Int
	SourceBlock        uint64
	Parallel           bool
	Clock              clock.Clock
}

// Engine enumerates candidate cycles across the pool sets the Scanner
// hands it each block.
type Engine struct{}

// New returns a ready-to-use Engine. Engine is stateless: all
// per-refresh data flows through Enumerate's arguments.
func New() *Engine { return &Engine{} }

// Enumerate implements the two-hop cross-DEX search of spec.md §4.3:
// for every start token, every ordered pair of distinct DEXs, every
// pool in the first DEX containing the start token, and every pool in
// the second DEX sharing the intermediate token, compute the round-trip
// AMM output and emit a Route when net profit clears the threshold.
func (e *Engine) Enumerate(ctx context.Context, poolsByDex map[string][]model.PoolSnapshot, tokens []common.Address, cfg EnumerateConfig) []model.Route {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	dexIDs := make([]string, 0, len(poolsByDex))
	for id := range poolsByDex {
		dexIDs = append(dexIDs, id)
	}
	sort.Strings(dexIDs) // deterministic iteration order

	type job struct {
		dexA, dexB string
	}
	var jobs []job
	for _, a := range dexIDs {
		for _, b := range dexIDs {
			if a == b {
				continue
			}
			jobs = append(jobs, job{a, b})
		}
	}

	var (
		mu     sync.Mutex
		routes []model.Route
	)
	emit := func(r model.Route) {
		mu.Lock()
		routes = append(routes, r)
		mu.Unlock()
	}

	runJob := func(j job) {
		for _, start := range tokens {
			for _, p1 := range poolsByDex[j.dexA] {
				if !p1.Routable() {
					continue
				}
				intermediate, ok := p1.OtherToken(start)
				if !ok {
					continue // start is not one of p1's sides
				}
				for _, p2 := range poolsByDex[j.dexB] {
					if !p2.Routable() {
						continue
					}
					closesLoop, ok := p2.OtherToken(intermediate)
					if !ok || closesLoop != start {
						continue // p2 doesn't contain the intermediate, or doesn't return to start
					}
					if route, ok := e.evaluate(start, intermediate, p1, p2, cfg); ok {
						emit(route)
					}
				}
			}
		}
	}

	if cfg.Parallel {
		// Go-native equivalent of the source's CuPy pre-filter kernel:
		// partition the (dexA, dexB) matrix across a worker pool. Every
		// worker uses the same integer AmmOut as the serial path, so
		// there is no separate float pre-filter stage to revalidate —
		// the partitioning itself is the only thing that changes.
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for _, j := range jobs {
			j := j
			g.Go(func() error {
				runJob(j)
				return nil
			})
		}
		_ = g.Wait() // runJob never returns an error
	} else {
		for _, j := range jobs {
			runJob(j)
		}
	}

	sortRoutes(routes)
	return routes
}

// evaluate computes the round-trip output for one (p1, p2) candidate
// and returns a Route if it clears the admission bar.
func (e *Engine) evaluate(start, intermediate common.Address, p1, p2 model.PoolSnapshot, cfg EnumerateConfig) (model.Route, bool) {
	reserveInP1, _ := p1.ReserveOf(start)
	reserveOutP1, _ := p1.ReserveOf(intermediate)
	out1 := AmmOut(probeAmount, reserveInP1, reserveOutP1, p1.FeeNumerator, p1.FeeDenominator)
	if out1.Sign() == 0 {
		return model.Route{}, false
	}

	reserveInP2, _ := p2.ReserveOf(intermediate)
	reserveOutP2, _ := p2.ReserveOf(start)
	out2 := AmmOut(out1, reserveInP2, reserveOutP2, p2.FeeNumerator, p2.FeeDenominator)
	if out2.Sign() == 0 {
		return model.Route{}, false
	}

	profit := new(big.Int).Sub(out2, probeAmount)
	if profit.Sign() <= 0 {
		return model.Route{}, false
	}

	gasCost := gasCostEstimate(2, cfg.GasPriceCap)
	bar := new(big.Int).Add(nonNil(cfg.MinProfitThreshold), gasCost)
	if profit.Cmp(bar) <= 0 {
		return model.Route{}, false
	}

	netProfit := new(big.Int).Sub(profit, gasCost)
	if netProfit.Sign() <= 0 {
		return model.Route{}, false
	}

	hops := []model.Hop{
		{DexID: p1.DexID, PoolAddress: p1.PoolAddress, RouterAddress: p1.Router, SwapCalldata: encodeSwapData(p1.PoolAddress)},
		{DexID: p2.DexID, PoolAddress: p2.PoolAddress, RouterAddress: p2.Router, SwapCalldata: encodeSwapData(p2.PoolAddress)},
	}

	return model.Route{
		StartToken:     start,
		AmountIn:       new(big.Int).Set(probeAmount),
		Hops:           hops,
		ExpectedOutput: out2,
		ExpectedProfit: profit,
		GasEstimate:    perHopGas * uint64(len(hops)),
		GasPriceCap:    nonNil(cfg.GasPriceCap),
		GasCost:        gasCost,
		NetProfit:      netProfit,
		CreatedAt:      cfg.Clock.Now(),
		SourceBlock:    cfg.SourceBlock,
	}, true
}

func gasCostEstimate(hops int, gasPriceCap *big.Int) *big.Int {
	cost := new(big.Int).Mul(big.NewInt(int64(perHopGas*hops)), nonNil(gasPriceCap))
	return cost
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// encodeSwapData is the source's placeholder calldata encoder
// (keccak(pool_address).hex() as bytes). spec.md §9 open question: the
// real on-chain executor's calldata format isn't derivable from the
// source and must come from the contract's interface document; this
// placeholder is carried forward unchanged so the shape of Route.Hops
// matches what a real encoder would fill in.
func encodeSwapData(pool common.Address) []byte {
	return crypto.Keccak256(pool.Bytes())
}

// HashRoute is the tie-break hash spec.md §4.3 sorts by: keccak256 over
// the route's ordered hop pool addresses and amount in.
func HashRoute(r model.Route) [32]byte {
	data := make([]byte, 0, 20*len(r.Hops)+32)
	for _, h := range r.Hops {
		data = append(data, h.PoolAddress.Bytes()...)
	}
	if r.AmountIn != nil {
		data = append(data, r.AmountIn.Bytes()...)
	}
	return [32]byte(crypto.Keccak256(data))
}

func sortRoutes(routes []model.Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if c := routes[i].NetProfit.Cmp(routes[j].NetProfit); c != 0 {
			return c > 0 // net_profit desc
		}
		if !routes[i].CreatedAt.Equal(routes[j].CreatedAt) {
			return routes[i].CreatedAt.Before(routes[j].CreatedAt) // created_at asc
		}
		hi, hj := HashRoute(routes[i]), HashRoute(routes[j])
		return fmt.Sprintf("%x", hi) < fmt.Sprintf("%x", hj) // hash(route) asc
	})
}
