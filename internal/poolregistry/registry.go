// Package poolregistry enumerates and refreshes per-DEX pool reserve
// snapshots, per spec.md §4.2. Owned exclusively by the Scanner.
package poolregistry

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"

	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/glassonion32313/Ought/internal/model"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

// v3PlaceholderTVL is the open-question placeholder spec.md §9 carries
// forward: a real deployment must source concentrated-liquidity state
// from an indexer or direct slot0/liquidity reads instead.
const v3PlaceholderTVL = 1_000_000

const (
	// maxSample and topK mirror the source's "sample up to 100 of the
	// most recently created pairs" / "top 20" constants.
	maxSample = 100
	topK      = 20
)

// Registry caches the last successful refresh per dexID so two
// concurrent refreshes for the same block never race on a shared slice
// — each refresh builds its own slice, and only the final cache.Add is
// shared state, guarded by the cache's own lock. Per spec.md §5: "the
// later result wins if both complete."
type Registry struct {
	rpc   rpcadapter.Adapter
	dexes map[string]model.DexConfig
	cache *lru.Cache // key: dexID -> []model.PoolSnapshot
}

// New builds a Registry over the given RPC adapter and DEX catalog.
func New(rpc rpcadapter.Adapter, dexes []model.DexConfig) (*Registry, error) {
	c, err := lru.New(len(dexes) + 8)
	if err != nil {
		return nil, fmt.Errorf("poolregistry: build cache: %w", err)
	}
	byID := make(map[string]model.DexConfig, len(dexes))
	for _, d := range dexes {
		byID[d.ID] = d
	}
	return &Registry{rpc: rpc, dexes: byID, cache: c}, nil
}

// Refresh rebuilds the top-K pool set for dexID and caches it. A
// factory-level error yields (nil, err); per-pool errors are logged and
// the pool skipped, never aborting the whole refresh.
func (r *Registry) Refresh(ctx context.Context, dexID string) ([]model.PoolSnapshot, error) {
	dex, ok := r.dexes[dexID]
	if !ok {
		return nil, fmt.Errorf("poolregistry: unknown dex %q", dexID)
	}

	var snapshots []model.PoolSnapshot
	var err error
	if dex.Kind == model.ConcentratedV3 {
		snapshots = refreshV3(dex)
	} else {
		snapshots, err = r.refreshV2(ctx, dex)
		if err != nil {
			ethlog.Error("pool registry refresh failed", "dex", dexID, "err", err)
			return nil, err
		}
	}

	r.cache.Add(dexID, snapshots)
	return snapshots, nil
}

// TopK returns up to k cached pools for dexID, or nil if it has never
// been refreshed.
func (r *Registry) TopK(dexID string, k int) []model.PoolSnapshot {
	v, ok := r.cache.Get(dexID)
	if !ok {
		return nil
	}
	snapshots := v.([]model.PoolSnapshot)
	if k >= len(snapshots) {
		return snapshots
	}
	return snapshots[:k]
}

func (r *Registry) refreshV2(ctx context.Context, dex model.DexConfig) ([]model.PoolSnapshot, error) {
	totalPairs, err := r.allPairsLength(ctx, dex.Factory)
	if err != nil {
		return nil, fmt.Errorf("allPairsLength: %w", err)
	}

	sampleSize := maxSample
	if totalPairs < sampleSize {
		sampleSize = totalPairs
	}
	start := totalPairs - sampleSize
	if start < 0 {
		start = 0
	}
	end := start + topK
	if end > totalPairs {
		end = totalPairs
	}

	snapshots := make([]model.PoolSnapshot, 0, end-start)
	for i := start; i < end; i++ {
		snap, err := r.fetchPool(ctx, dex, i)
		if err != nil {
			ethlog.Warn("pool fetch failed, skipping", "dex", dex.ID, "index", i, "err", err)
			continue
		}
		if !snap.Routable() {
			continue
		}
		snapshots = append(snapshots, snap)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		tvlI := new(big.Int).Add(snapshots[i].Reserve0, snapshots[i].Reserve1)
		tvlJ := new(big.Int).Add(snapshots[j].Reserve0, snapshots[j].Reserve1)
		if c := tvlI.Cmp(tvlJ); c != 0 {
			return c > 0 // descending TVL
		}
		// Tie-break: lexicographic pool address ascending.
		return snapshots[i].PoolAddress.Hex() < snapshots[j].PoolAddress.Hex()
	})
	if len(snapshots) > topK {
		snapshots = snapshots[:topK]
	}
	return snapshots, nil
}

// refreshV3 synthesizes placeholder pools for every configured
// pair×fee-tier combination, per spec.md §4.2: "the current core does
// not read live liquidity for these ... records placeholder TVL so
// they participate in routing with deterministic structure."
func refreshV3(dex model.DexConfig) []model.PoolSnapshot {
	snapshots := make([]model.PoolSnapshot, 0, len(dex.Pairs)*len(dex.FeeTiers))
	tvl := big.NewInt(v3PlaceholderTVL)
	for _, pair := range dex.Pairs {
		for _, fee := range dex.FeeTiers {
			snapshots = append(snapshots, model.PoolSnapshot{
				PoolAddress:    syntheticPoolAddress(dex.ID, pair, fee),
				DexID:          dex.ID,
				Router:         dex.Router,
				Token0:         pair[0],
				Token1:         pair[1],
				Reserve0:       new(big.Int).Set(tvl),
				Reserve1:       new(big.Int).Set(tvl),
				FeeNumerator:   1_000_000 - fee,
				FeeDenominator: 1_000_000,
				Kind:           model.ConcentratedV3,
			})
			if len(snapshots) >= topK {
				return snapshots
			}
		}
	}
	return snapshots
}

// syntheticPoolAddress derives a stable placeholder identity for a V3
// pair×fee combination that was never actually read on-chain.
func syntheticPoolAddress(dexID string, pair [2]common.Address, fee uint64) common.Address {
	data := []byte(fmt.Sprintf("%s:%s:%s:%d", dexID, pair[0].Hex(), pair[1].Hex(), fee))
	hash := crypto.Keccak256(data)
	var addr common.Address
	copy(addr[:], hash[:20])
	return addr
}
