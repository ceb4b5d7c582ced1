// Package rpcadapter implements the chain read/write interface spec.md
// §4.1 describes, with multi-endpoint failover. Grounded on
// interfaces/rpc.go's EndpointRequester/RPCOption shape (luxfi-evm) and
// go-ethereum's ethclient.Client; the small rawClient interface below
// is the "RPC provider abstraction" spec.md §9 asks for, so FakeAdapter
// can drive the whole core deterministically in tests.
package rpcadapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/glassonion32313/Ought/internal/errs"
	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/model"
)

// CallTimeout bounds every individual RPC call, per spec.md §5.
const CallTimeout = 10 * time.Second

// callRateLimit caps outbound calls per adapter instance (one limiter
// shared by every endpoint in the ring) so a tight scanner
// loop never trips a public RPC provider's own rate limiter.
const callRateLimit = 50 // requests/second, burst 50

// rawClient is the subset of *ethclient.Client this package depends
// on. *ethclient.Client satisfies it structurally.
type rawClient interface {
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// Adapter is the chain interface every other component depends on
// instead of talking to ethclient directly.
type Adapter interface {
	GetBlock(ctx context.Context, latest bool) (*types.Block, error)
	GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	GetBalance(ctx context.Context, account common.Address) (*big.Int, error)
	GetTransactionCount(ctx context.Context, account common.Address) (uint64, error)
	Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
	SubscribeNewHeads(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error)
	SubscribePendingTx(ctx context.Context) (<-chan common.Hash, ethereum.Subscription, error)
	CurrentEndpoint() string
}

// dialFunc opens a rawClient against a URL. Overridden in tests.
type dialFunc func(ctx context.Context, url string) (rawClient, error)

func defaultDial(ctx context.Context, url string) (rawClient, error) {
	return ethclient.DialContext(ctx, url)
}

// multiAdapter is the production Adapter: an HTTP endpoint ring for
// calls, and a single WebSocket endpoint for subscriptions. Scanner and
// Executor each own an independent instance, per spec.md §3.
type multiAdapter struct {
	mu        sync.Mutex
	endpoints []model.RpcEndpoint
	clients   []rawClient // lazily dialled, index-aligned with endpoints
	current   int
	dial      dialFunc

	wsURL    string
	wsClient rawClient

	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New builds a multiAdapter over httpURLs (ring order significant) and
// wsURL (used only for subscriptions). m may be nil, in which case
// failover events are logged but not counted.
func New(httpURLs []string, wsURL string, m *metrics.Metrics) (Adapter, error) {
	if len(httpURLs) == 0 {
		return nil, fmt.Errorf("%w: no RPC endpoints configured", errs.ErrConfiguration)
	}
	endpoints := make([]model.RpcEndpoint, len(httpURLs))
	for i, u := range httpURLs {
		endpoints[i] = model.RpcEndpoint{URL: u}
	}
	return &multiAdapter{
		endpoints: endpoints,
		clients:   make([]rawClient, len(httpURLs)),
		dial:      defaultDial,
		wsURL:     wsURL,
		limiter:   rate.NewLimiter(rate.Limit(callRateLimit), callRateLimit),
		metrics:   m,
	}, nil
}

func (a *multiAdapter) CurrentEndpoint() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endpoints[a.current].URL
}

// client returns the currently active rawClient, dialling it lazily.
func (a *multiAdapter) client(ctx context.Context) (rawClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientLocked(ctx)
}

func (a *multiAdapter) clientLocked(ctx context.Context) (rawClient, error) {
	if a.clients[a.current] != nil {
		return a.clients[a.current], nil
	}
	c, err := a.dial(ctx, a.endpoints[a.current].URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", errs.ErrTransport, a.endpoints[a.current].URL, err)
	}
	a.clients[a.current] = c
	return c, nil
}

// failover advances the ring by exactly one endpoint, modulo endpoint
// count, per spec.md §8 boundary behavior.
func (a *multiAdapter) failover(ctx context.Context) (rawClient, error) {
	a.mu.Lock()
	old := a.current
	a.endpoints[a.current].FailureCount++
	a.current = (a.current + 1) % len(a.endpoints)
	newURL := a.endpoints[a.current].URL
	a.mu.Unlock()

	log.Warn("rpc failover", "from", a.endpoints[old].URL, "to", newURL)
	if a.metrics != nil {
		a.metrics.RpcFailovers.Inc()
	}
	return a.client(ctx)
}

// isTransportError classifies a network-level failure per spec.md
// §4.1: connection reset, timeout, or non-200 transport.
func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "refused")
}

// withRetry runs fn against the current client; on a transport error it
// fails over once and retries, surfacing the second failure wrapped in
// errs.ErrTransport, per spec.md §4.1: "if the retry fails the error
// surfaces to the caller."
func withRetry[T any](ctx context.Context, a *multiAdapter, fn func(rawClient) (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%w: rate limiter: %v", errs.ErrTransport, err)
	}

	c, err := a.client(ctx)
	if err != nil {
		return zero, err
	}
	result, err := fn(c)
	if err == nil {
		return result, nil
	}
	if !isTransportError(err) {
		return zero, err
	}

	c, ferr := a.failover(ctx)
	if ferr != nil {
		return zero, fmt.Errorf("%w: failover after %v: %v", errs.ErrTransport, err, ferr)
	}
	result, err = fn(c)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", errs.ErrTransport, err)
	}
	return result, nil
}

func (a *multiAdapter) GetBlock(ctx context.Context, latest bool) (*types.Block, error) {
	return withRetry(ctx, a, func(c rawClient) (*types.Block, error) {
		if latest {
			return c.BlockByNumber(ctx, nil)
		}
		return c.BlockByNumber(ctx, big.NewInt(0))
	})
}

func (a *multiAdapter) GetBlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	return withRetry(ctx, a, func(c rawClient) (*types.Block, error) {
		return c.BlockByHash(ctx, hash)
	})
}

func (a *multiAdapter) GetTransaction(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	type result struct {
		tx      *types.Transaction
		pending bool
	}
	r, err := withRetry(ctx, a, func(c rawClient) (result, error) {
		tx, pending, err := c.TransactionByHash(ctx, hash)
		return result{tx, pending}, err
	})
	return r.tx, r.pending, err
}

func (a *multiAdapter) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return withRetry(ctx, a, func(c rawClient) (*types.Receipt, error) {
		return c.TransactionReceipt(ctx, hash)
	})
}

func (a *multiAdapter) GetBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return withRetry(ctx, a, func(c rawClient) (*big.Int, error) {
		return c.BalanceAt(ctx, account, nil)
	})
}

func (a *multiAdapter) GetTransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	return withRetry(ctx, a, func(c rawClient) (uint64, error) {
		return c.NonceAt(ctx, account, nil)
	})
}

func (a *multiAdapter) Call(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return withRetry(ctx, a, func(c rawClient) ([]byte, error) {
		return c.CallContract(ctx, msg, nil)
	})
}

func (a *multiAdapter) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withRetry(ctx, a, func(c rawClient) (uint64, error) {
		return c.EstimateGas(ctx, msg)
	})
}

// SendRawTransaction never silently drops a write, per spec.md §4.1: a
// failure here is always surfaced so the executor can decide whether to
// reuse or skip the nonce.
func (a *multiAdapter) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	_, err := withRetry(ctx, a, func(c rawClient) (struct{}, error) {
		return struct{}{}, c.SendTransaction(ctx, tx)
	})
	return err
}

// SubscribeNewHeads returns a finite sequence of headers that ends when
// the underlying socket closes; the caller must resubscribe, per
// spec.md §4.1.
func (a *multiAdapter) SubscribeNewHeads(ctx context.Context) (<-chan *types.Header, ethereum.Subscription, error) {
	c, err := a.wsClientFor(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan *types.Header, 16)
	sub, err := c.SubscribeNewHead(ctx, ch)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: subscribe new heads: %v", errs.ErrTransport, err)
	}
	return ch, sub, nil
}

// SubscribePendingTx mirrors SubscribeNewHeads for pending transaction
// hashes, via go-ethereum's gethclient (geth's eth_subscribe
// "newPendingTransactions" extension).
func (a *multiAdapter) SubscribePendingTx(ctx context.Context) (<-chan common.Hash, ethereum.Subscription, error) {
	if a.wsURL == "" {
		return nil, nil, fmt.Errorf("%w: WS_RPC_URL not configured", errs.ErrConfiguration)
	}
	rc, err := rpc.DialContext(ctx, a.wsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial ws %s: %v", errs.ErrTransport, a.wsURL, err)
	}
	gc := gethclient.New(rc)
	ch := make(chan common.Hash, 64)
	sub, err := gc.SubscribePendingTransactions(ctx, ch)
	if err != nil {
		rc.Close()
		return nil, nil, fmt.Errorf("%w: subscribe pending tx: %v", errs.ErrTransport, err)
	}
	return ch, sub, nil
}

func (a *multiAdapter) wsClientFor(ctx context.Context) (rawClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wsClient != nil {
		return a.wsClient, nil
	}
	if a.wsURL == "" {
		return nil, fmt.Errorf("%w: WS_RPC_URL not configured", errs.ErrConfiguration)
	}
	c, err := a.dial(ctx, a.wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial ws %s: %v", errs.ErrTransport, a.wsURL, err)
	}
	a.wsClient = c
	return c, nil
}
