package scanner

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/model"
	"github.com/glassonion32313/Ought/internal/oppchannel"
	"github.com/glassonion32313/Ought/internal/poolregistry"
	"github.com/glassonion32313/Ought/internal/routeengine"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

func weth() common.Address { return common.HexToAddress("0x4200000000000000000000000000000000000006") }
func usdc() common.Address { return common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913") }

func newTestScanner(t *testing.T) (*Scanner, *rpcadapter.FakeAdapter, *oppchannel.Channel) {
	t.Helper()
	fake := rpcadapter.NewFake([]string{"a"})
	m := metrics.New()
	dexes := []model.DexConfig{
		{
			ID:             "dexA",
			Router:         common.HexToAddress("0xA"),
			Factory:        common.HexToAddress("0xFA"),
			Kind:           model.ConcentratedV3,
			FeeNumerator:   997,
			FeeDenominator: 1000,
			FeeTiers:       []uint64{500},
			Pairs:          [][2]common.Address{{weth(), usdc()}},
		},
		{
			ID:             "dexB",
			Router:         common.HexToAddress("0xB"),
			Factory:        common.HexToAddress("0xFB"),
			Kind:           model.ConcentratedV3,
			FeeNumerator:   997,
			FeeDenominator: 1000,
			FeeTiers:       []uint64{3000},
			Pairs:          [][2]common.Address{{weth(), usdc()}},
		},
	}

	registry, err := poolregistry.New(fake, dexes)
	require.NoError(t, err)
	engine := routeengine.New()
	out := oppchannel.New(m)

	sc := New(fake, registry, engine, out, m, clock.NewMock(time.Unix(1700000000, 0)),
		dexes, []common.Address{weth(), usdc()}, false, false,
		big.NewInt(0), big.NewInt(1))
	return sc, fake, out
}

// TestAnalyzeBlock_PublishesNothingWithoutEdge drives the scanner's block
// analysis against two synthetic V3 placeholder pool sets (identical
// TVL, different fee schedules) end to end through the real route
// engine and into the opportunity channel.
func TestAnalyzeBlock_PublishesNothingWithoutEdge(t *testing.T) {
	sc, _, out := newTestScanner(t)
	sc.analyzeBlock(context.Background(), 100)

	// The V3 placeholder pools use identical synthetic TVL on both
	// sides, so no profitable cycle should surface; this exercises the
	// full refresh -> enumerate -> publish path without asserting a
	// specific route, only that it doesn't panic or deadlock and that
	// the channel stays empty when there is no genuine edge.
	_, ok := out.Receive(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
}

func TestScanner_StopsOnContextCancellation(t *testing.T) {
	sc, fake, _ := newTestScanner(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Start(ctx) }()

	fake.HeadsCh <- &types.Header{Number: big.NewInt(1)}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop after context cancellation")
	}
}
