package rpcadapter

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassonion32313/Ought/internal/errs"
	"github.com/glassonion32313/Ought/internal/metrics"
)

func newTestAdapter(t *testing.T, urls []string, dial dialFunc) *multiAdapter {
	t.Helper()
	a, err := New(urls, "", metrics.New())
	require.NoError(t, err)
	ma := a.(*multiAdapter)
	ma.dial = dial
	return ma
}

type stubClient struct {
	rawClient
	fail bool
}

func TestNew_RejectsEmptyEndpoints(t *testing.T) {
	_, err := New(nil, "", nil)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
}

// TestFailover_AdvancesRingByExactlyOne covers spec scenario 5's
// boundary behavior: a transport error on the current endpoint moves
// to the very next ring position, never further.
func TestFailover_AdvancesRingByExactlyOne(t *testing.T) {
	dialCalls := map[string]int{}
	ma := newTestAdapter(t, []string{"a", "b", "c"}, func(ctx context.Context, url string) (rawClient, error) {
		dialCalls[url]++
		return &stubClient{}, nil
	})

	assert.Equal(t, "a", ma.CurrentEndpoint())
	_, err := ma.failover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", ma.CurrentEndpoint())

	_, err = ma.failover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "c", ma.CurrentEndpoint())

	// One more failover wraps back to the start of the ring.
	_, err = ma.failover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", ma.CurrentEndpoint())
}

// TestFailover_IncrementsRpcFailoversMetric confirms failover reports
// through to the shared arb_rpc_failovers_total counter rather than only
// logging, so an operator dashboard actually sees endpoint churn.
func TestFailover_IncrementsRpcFailoversMetric(t *testing.T) {
	m := metrics.New()
	a, err := New([]string{"a", "b"}, "", m)
	require.NoError(t, err)
	ma := a.(*multiAdapter)
	ma.dial = func(ctx context.Context, url string) (rawClient, error) {
		return &stubClient{}, nil
	}

	before := testutil.ToFloat64(m.RpcFailovers)
	_, err = ma.failover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(m.RpcFailovers))
}

func TestIsTransportError_ClassifiesKnownShapes(t *testing.T) {
	assert.True(t, isTransportError(context.DeadlineExceeded))
	assert.True(t, isTransportError(errors.New("dial tcp: connection refused")))
	assert.True(t, isTransportError(errors.New("i/o timeout")))
	assert.False(t, isTransportError(errors.New("execution reverted")))
	assert.False(t, isTransportError(nil))
}

// TestWithRetry_FailsOverOnceThenSurfaces covers spec.md §4.1: a
// transport error triggers exactly one failover/retry; if that also
// fails, the error surfaces wrapped in errs.ErrTransport.
func TestWithRetry_FailsOverOnceThenSurfaces(t *testing.T) {
	calls := 0
	ma := newTestAdapter(t, []string{"a", "b"}, func(ctx context.Context, url string) (rawClient, error) {
		return &stubClient{}, nil
	})

	_, err := withRetry(context.Background(), ma, func(c rawClient) (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.Equal(t, 2, calls, "should try current endpoint once, then the failed-over endpoint once")
	assert.Equal(t, "b", ma.CurrentEndpoint())
}

func TestWithRetry_NonTransportErrorNeverFailsOver(t *testing.T) {
	ma := newTestAdapter(t, []string{"a", "b"}, func(ctx context.Context, url string) (rawClient, error) {
		return &stubClient{}, nil
	})

	_, err := withRetry(context.Background(), ma, func(c rawClient) (int, error) {
		return 0, errors.New("execution reverted")
	})

	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrTransport)
	assert.Equal(t, "a", ma.CurrentEndpoint())
}
