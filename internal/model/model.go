// Package model holds the data types shared by every component of the
// arbitrage core: pool snapshots, DEX configuration, candidate routes,
// and submitted-transaction tracking records. Types here are plain
// structs passed by value or by shared-read pointer; nothing in this
// package mutates a Route or PoolSnapshot after construction.
package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolKind tags which AMM invariant a pool follows. The route engine
// dispatches on this instead of duck-typing a map, per spec.md §9.
type PoolKind int

const (
	ConstantProductV2 PoolKind = iota
	ConcentratedV3
)

func (k PoolKind) String() string {
	switch k {
	case ConstantProductV2:
		return "constant_product_v2"
	case ConcentratedV3:
		return "concentrated_v3"
	default:
		return "unknown"
	}
}

// PoolSnapshot is a point-in-time view of one DEX pool's reserves and
// fee schedule. Snapshots are immutable once constructed by the pool
// registry.
type PoolSnapshot struct {
	PoolAddress     common.Address
	DexID           string
	Router          common.Address
	Token0          common.Address
	Token1          common.Address
	Reserve0        *big.Int
	Reserve1        *big.Int
	FeeNumerator    uint64
	FeeDenominator  uint64
	Kind            PoolKind
	ObservedAtBlock uint64
	RefreshedAt     time.Time
}

// Routable reports whether the snapshot may participate in route
// enumeration. spec.md §3: snapshots with either reserve at zero are
// excluded from routing.
func (p PoolSnapshot) Routable() bool {
	return p.Reserve0 != nil && p.Reserve1 != nil &&
		p.Reserve0.Sign() > 0 && p.Reserve1.Sign() > 0
}

// ReserveOf returns the reserve held for the given token, and true if
// the token is one of the pool's two sides.
func (p PoolSnapshot) ReserveOf(token common.Address) (*big.Int, bool) {
	switch token {
	case p.Token0:
		return p.Reserve0, true
	case p.Token1:
		return p.Reserve1, true
	default:
		return nil, false
	}
}

// OtherToken returns the token on the opposite side of the pool from
// the one given, and false if token is not one of the pool's sides.
func (p PoolSnapshot) OtherToken(token common.Address) (common.Address, bool) {
	switch token {
	case p.Token0:
		return p.Token1, true
	case p.Token1:
		return p.Token0, true
	default:
		return common.Address{}, false
	}
}

// DexConfig carries the per-DEX constants the pool registry and route
// engine need: router/factory addresses, default fee, pool kind, and
// (for concentrated-liquidity DEXs) the fee tiers and pair list to
// synthesize placeholder pools from.
type DexConfig struct {
	ID             string
	Router         common.Address
	Factory        common.Address
	Kind           PoolKind
	FeeNumerator   uint64
	FeeDenominator uint64
	// FeeTiers and Pairs are only consulted for ConcentratedV3 DEXs.
	FeeTiers []uint64
	Pairs    [][2]common.Address
}

// Hop is one leg of a Route: a swap on a specific pool via a specific
// router, with its ABI-encoded calldata already computed.
type Hop struct {
	DexID         string
	PoolAddress   common.Address
	RouterAddress common.Address
	SwapCalldata  []byte
}

// Route is a proposed arbitrage cycle: a sequence of hops that returns
// to StartToken.
type Route struct {
	StartToken      common.Address
	AmountIn        *big.Int
	Hops            []Hop
	ExpectedOutput  *big.Int
	ExpectedProfit  *big.Int
	GasEstimate     uint64
	GasPriceCap     *big.Int
	GasCost         *big.Int
	NetProfit       *big.Int
	CreatedAt       time.Time
	SourceBlock     uint64
}

// TxState is a PendingTx's lifecycle stage.
type TxState int

const (
	Pending TxState = iota
	Included
	Failed
	Dropped
	Replaced
)

func (s TxState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Included:
		return "included"
	case Failed:
		return "failed"
	case Dropped:
		return "dropped"
	case Replaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// PendingTx tracks one submitted transaction from send to terminal
// state. Owned exclusively by the Executor.
type PendingTx struct {
	TxHash      common.Hash
	Nonce       uint64
	Route       Route
	SubmittedAt time.Time
	FeeCap      *big.Int
	TipCap      *big.Int
	State       TxState
}

// RpcEndpoint is one entry in an adapter's failover ring.
type RpcEndpoint struct {
	URL          string
	FailureCount int
}
