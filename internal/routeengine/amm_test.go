package routeengine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/model"
)

func TestAmmOut_ZeroReserves(t *testing.T) {
	out := AmmOut(big.NewInt(100), big.NewInt(0), big.NewInt(1000), 997, 1000)
	assert.Equal(t, big.NewInt(0), out)
}

func TestAmmOut_NonPositiveInput(t *testing.T) {
	out := AmmOut(big.NewInt(0), big.NewInt(1000), big.NewInt(1000), 997, 1000)
	assert.Equal(t, big.NewInt(0), out)

	out = AmmOut(big.NewInt(-5), big.NewInt(1000), big.NewInt(1000), 997, 1000)
	assert.Equal(t, big.NewInt(0), out)
}

func TestAmmOut_KnownValue(t *testing.T) {
	// 1000 in, reserves 10000/10000, 0.3% fee.
	out := AmmOut(big.NewInt(1000), big.NewInt(10000), big.NewInt(10000), 997, 1000)
	assert.Equal(t, big.NewInt(906), out)
}

func TestAmmOut_Monotonic(t *testing.T) {
	reserveIn, reserveOut := big.NewInt(1_000_000), big.NewInt(1_000_000)
	prev := big.NewInt(0)
	for _, amt := range []int64{1, 100, 10_000, 1_000_000} {
		out := AmmOut(big.NewInt(amt), reserveIn, reserveOut, 997, 1000)
		assert.True(t, out.Cmp(prev) >= 0, "AmmOut must be non-decreasing in amountIn")
		prev = out
	}
}

func TestAmmOut_NeverExceedsReserveOut(t *testing.T) {
	out := AmmOut(big.NewInt(1_000_000_000), big.NewInt(1000), big.NewInt(1000), 997, 1000)
	assert.True(t, out.Cmp(big.NewInt(1000)) < 0)
}

func TestAmmOut_DeterministicAcrossCalls(t *testing.T) {
	a := AmmOut(big.NewInt(12345), big.NewInt(987654), big.NewInt(123456), 9975, 10000)
	b := AmmOut(big.NewInt(12345), big.NewInt(987654), big.NewInt(123456), 9975, 10000)
	assert.Equal(t, 0, a.Cmp(b))
}

func tokenAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

// reserve parses a decimal literal (underscores allowed) into a
// *big.Int, for reserves too large for an int64.
func reserve(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		panic("bad reserve literal " + s)
	}
	return v
}

func pool(dexID string, router common.Address, t0, t1 common.Address, r0, r1 string, feeNum, feeDen uint64) model.PoolSnapshot {
	return model.PoolSnapshot{
		PoolAddress:    common.BytesToAddress([]byte(dexID + t0.Hex())),
		DexID:          dexID,
		Router:         router,
		Token0:         t0,
		Token1:         t1,
		Reserve0:       reserve(r0),
		Reserve1:       reserve(r1),
		FeeNumerator:   feeNum,
		FeeDenominator: feeDen,
	}
}

// TestEnumerate_ProfitableCycle covers spec scenario 1: an obvious
// cross-DEX imbalance produces a published, profitable route.
func TestEnumerate_ProfitableCycle(t *testing.T) {
	weth := tokenAddr(1)
	usdc := tokenAddr(2)
	routerA := tokenAddr(10)
	routerB := tokenAddr(11)

	// DEX A: WETH expensive relative to USDC; DEX B: WETH cheap.
	poolsByDex := map[string][]model.PoolSnapshot{
		"dexA": {pool("dexA", routerA, weth, usdc, "1_000_000_000_000_000_000_000", "2_000_000_000_000", 997, 1000)},
		"dexB": {pool("dexB", routerB, usdc, weth, "2_000_000_000_000", "1_500_000_000_000_000_000_000", 997, 1000)},
	}

	engine := New()
	routes := engine.Enumerate(context.Background(), poolsByDex, []common.Address{weth}, EnumerateConfig{
		MinProfitThreshold: big.NewInt(0),
		GasPriceCap:        big.NewInt(1),
		SourceBlock:        42,
		Clock:              clock.NewMock(time.Unix(1000, 0)),
	})

	require.NotEmpty(t, routes)
	assert.True(t, routes[0].NetProfit.Sign() > 0)
	assert.Len(t, routes[0].Hops, 2)
	assert.Equal(t, routerA, routes[0].Hops[0].RouterAddress)
}

// TestEnumerate_NoArbitrageWhenBalanced covers spec scenario 2:
// identical reserves across DEXs yield no profitable route.
func TestEnumerate_NoArbitrageWhenBalanced(t *testing.T) {
	weth := tokenAddr(1)
	usdc := tokenAddr(2)

	poolsByDex := map[string][]model.PoolSnapshot{
		"dexA": {pool("dexA", tokenAddr(10), weth, usdc, "1_000_000_000_000_000_000_000", "2_000_000_000_000", 997, 1000)},
		"dexB": {pool("dexB", tokenAddr(11), weth, usdc, "1_000_000_000_000_000_000_000", "2_000_000_000_000", 997, 1000)},
	}

	engine := New()
	routes := engine.Enumerate(context.Background(), poolsByDex, []common.Address{weth}, EnumerateConfig{
		MinProfitThreshold: big.NewInt(0),
		GasPriceCap:        big.NewInt(1),
		Clock:              clock.NewMock(time.Unix(1000, 0)),
	})
	assert.Empty(t, routes)
}

// TestEnumerate_ThresholdExcludesThinMargins covers spec scenario 3:
// a route that is profitable before fees/threshold but doesn't clear
// MinProfitThreshold is dropped.
func TestEnumerate_ThresholdExcludesThinMargins(t *testing.T) {
	weth := tokenAddr(1)
	usdc := tokenAddr(2)

	poolsByDex := map[string][]model.PoolSnapshot{
		"dexA": {pool("dexA", tokenAddr(10), weth, usdc, "1_000_000_000_000_000_000_000", "2_030_000_000_000", 997, 1000)},
		"dexB": {pool("dexB", tokenAddr(11), usdc, weth, "2_000_000_000_000", "1_000_000_000_000_000_000_000", 997, 1000)},
	}

	engine := New()
	routes := engine.Enumerate(context.Background(), poolsByDex, []common.Address{weth}, EnumerateConfig{
		MinProfitThreshold: big.NewInt(1_000_000_000_000_000_000), // 1 token, far above the tiny edge above
		GasPriceCap:        big.NewInt(1),
		Clock:              clock.NewMock(time.Unix(1000, 0)),
	})
	assert.Empty(t, routes)
}
