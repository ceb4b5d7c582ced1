package executor

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/model"
	"github.com/glassonion32313/Ought/internal/oppchannel"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func newTestExecutor(t *testing.T, fake *rpcadapter.FakeAdapter) *Executor {
	t.Helper()
	ex, _ := newTestExecutorWithClock(t, fake)
	return ex
}

func newTestExecutorWithClock(t *testing.T, fake *rpcadapter.FakeAdapter) (*Executor, *clock.Mock) {
	t.Helper()
	key := testKey(t)
	mock := clock.NewMock(time.Unix(1700000000, 0))
	ex := New(fake, oppchannel.New(nil), nil, mock, Config{
		PrivateKey:      key,
		ExecutorAddress: crypto.PubkeyToAddress(key.PublicKey),
		ContractAddress: common.HexToAddress("0x00000000000000000000000000000000000001"),
		ChainID:         8453,
		MaxGasPriceCap:  big.NewInt(100_000_000_000),
	})
	return ex, mock
}

// TestSyncNonce_AdoptsOnChainValue covers spec scenario 6: the executor
// discovers its local nonce has drifted from the chain's and adopts
// the chain's value.
func TestSyncNonce_AdoptsOnChainValue(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex := newTestExecutor(t, fake)

	fake.Nonces[ex.executorAddress] = 7
	require.NoError(t, ex.syncNonce(context.Background()))
	assert.Equal(t, uint64(7), ex.nonce)

	fake.Nonces[ex.executorAddress] = 12
	require.NoError(t, ex.syncNonce(context.Background()))
	assert.Equal(t, uint64(12), ex.nonce)
}

func TestSyncNonce_NoOpWhenAlreadyInSync(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex := newTestExecutor(t, fake)

	ex.nonce = 5
	fake.Nonces[ex.executorAddress] = 5
	require.NoError(t, ex.syncNonce(context.Background()))
	assert.Equal(t, uint64(5), ex.nonce)
}

// TestSubmitRoute_NonceNeverGoesBackward is the nonce-monotonicity
// invariant: successive successful submissions never reuse or skip a
// nonce.
func TestSubmitRoute_NonceNeverGoesBackward(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex, mock := newTestExecutorWithClock(t, fake)
	ex.nonce = 3
	startToken := common.HexToAddress("0x7777777777777777777777777777777777777777")
	seedBalanceAndBlock(t, fake, startToken, tenTokens)

	for i := 0; i < 2; i++ {
		route := baseRoute(startToken, mock.Now(), big.NewInt(1_000_000_000_000_000), big.NewInt(10_000_000_000))
		require.NoError(t, ex.submitRoute(context.Background(), route))
	}

	require.Len(t, fake.SentTxs, 2)
	assert.Equal(t, uint64(3), fake.SentTxs[0].Nonce())
	assert.Equal(t, uint64(4), fake.SentTxs[1].Nonce())
	assert.Equal(t, uint64(5), ex.nonce)
}

func TestEmergencyStop_ReplacesEveryPendingTx(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex := newTestExecutor(t, fake)

	hash1 := common.HexToHash("0x1")
	hash2 := common.HexToHash("0x2")
	ex.pending[hash1] = &model.PendingTx{TxHash: hash1, Nonce: 1, State: model.Pending}
	ex.pending[hash2] = &model.PendingTx{TxHash: hash2, Nonce: 2, State: model.Pending}

	require.NoError(t, ex.EmergencyStop(context.Background()))

	for _, p := range ex.pending {
		assert.Equal(t, model.Replaced, p.State)
	}
	assert.Len(t, fake.SentTxs, 2)
}

func TestEmergencyStop_SkipsAlreadyTerminalTx(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex := newTestExecutor(t, fake)

	hash := common.HexToHash("0x1")
	ex.pending[hash] = &model.PendingTx{TxHash: hash, Nonce: 1, State: model.Included}

	require.NoError(t, ex.EmergencyStop(context.Background()))

	assert.Equal(t, model.Included, ex.pending[hash].State)
	assert.Empty(t, fake.SentTxs)
}
