package rpcadapter

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeAdapter is a deterministic, in-memory Adapter for tests. Every
// method is driven by a script the test installs; SendRawTransaction
// fails FailCount times with a transport-shaped error, advancing the
// fake's endpoint index each time, to exercise failover.
type FakeAdapter struct {
	mu sync.Mutex

	Endpoints   []string
	current     int
	FailCount   int // times the next send should fail with a transport error

	Blocks       map[common.Hash]*types.Block
	LatestBlock  *types.Block
	Receipts     map[common.Hash]*types.Receipt
	Balances     map[common.Address]*big.Int
	Nonces       map[common.Address]uint64
	CallResults  map[string][]byte
	GasEstimate  uint64
	GasEstimateErr error
	SentTxs      []*types.Transaction

	HeadsCh   chan *types.Header
	PendingCh chan common.Hash
}

// NewFake returns a FakeAdapter with empty maps ready to populate.
func NewFake(endpoints []string) *FakeAdapter {
	return &FakeAdapter{
		Endpoints:   endpoints,
		Blocks:      map[common.Hash]*types.Block{},
		Receipts:    map[common.Hash]*types.Receipt{},
		Balances:    map[common.Address]*big.Int{},
		Nonces:      map[common.Address]uint64{},
		CallResults: map[string][]byte{},
		GasEstimate: 200_000,
		HeadsCh:     make(chan *types.Header, 16),
		PendingCh:   make(chan common.Hash, 16),
	}
}

func (f *FakeAdapter) CurrentEndpoint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Endpoints[f.current]
}

func (f *FakeAdapter) GetBlock(ctx context.Context, latest bool) (*types.Block, error) {
	return f.LatestBlock, nil
}

func (f *FakeAdapter) GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return f.Blocks[hash], nil
}

func (f *FakeAdapter) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}

func (f *FakeAdapter) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, ok := f.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *FakeAdapter) GetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	if b, ok := f.Balances[account]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *FakeAdapter) GetTransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	return f.Nonces[account], nil
}

func (f *FakeAdapter) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return f.CallResults[msg.To.Hex()], nil
}

func (f *FakeAdapter) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.GasEstimate, f.GasEstimateErr
}

// SendRawTransaction fails with a transport-shaped error FailCount
// times (decrementing), then records the tx, mirroring the boundary
// behavior test for RPC failover advancing the ring by exactly one.
func (f *FakeAdapter) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCount > 0 {
		f.FailCount--
		f.current = (f.current + 1) % len(f.Endpoints)
		return errConnectionTimeout
	}
	f.SentTxs = append(f.SentTxs, tx)
	return nil
}

func (f *FakeAdapter) SubscribeNewHeads(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	return f.HeadsCh, noopSubscription{}, nil
}

func (f *FakeAdapter) SubscribePendingTx(ctx context.Context) (<-chan common.Hash, ethereum.Subscription, error) {
	return f.PendingCh, noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}
func (noopSubscription) Err() <-chan error {
	ch := make(chan error)
	return ch
}

var errConnectionTimeout = fakeErr("connection timeout")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }
