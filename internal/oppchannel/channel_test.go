package oppchannel

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassonion32313/Ought/internal/model"
)

func route(n int64) model.Route {
	return model.Route{
		StartToken: common.BigToAddress(big.NewInt(n)),
		AmountIn:   big.NewInt(n),
		NetProfit:  big.NewInt(n),
	}
}

func TestChannel_PublishReceiveRoundTrip(t *testing.T) {
	ch := New(nil)
	ch.Publish(route(1))

	got, ok := ch.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.AmountIn.Int64())
}

func TestChannel_ReceiveTimesOutWhenEmpty(t *testing.T) {
	ch := New(nil)
	_, ok := ch.Receive(context.Background(), 10*time.Millisecond)
	assert.False(t, ok)
}

// TestChannel_DropsOldestOnOverflow covers the boundary behavior spec:
// filling the channel to capacity and publishing one more must evict
// the oldest entry, never block, and never evict the newest.
func TestChannel_DropsOldestOnOverflow(t *testing.T) {
	ch := New(nil)
	for i := 0; i < Capacity; i++ {
		ch.Publish(route(int64(i)))
	}
	require.Equal(t, Capacity, ch.Len())

	ch.Publish(route(int64(Capacity)))
	assert.Equal(t, Capacity, ch.Len())
	assert.Equal(t, uint64(1), ch.Dropped())

	first, ok := ch.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(1), first.AmountIn.Int64(), "route 0 should have been evicted, route 1 is now oldest")
}

func TestChannel_ReceiveRespectsContextCancellation(t *testing.T) {
	ch := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := ch.Receive(ctx, time.Second)
	assert.False(t, ok)
}
