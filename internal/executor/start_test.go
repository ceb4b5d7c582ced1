package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/glassonion32313/Ought/internal/rpcadapter"
)

// TestExecutor_StopsOnContextCancellation exercises the submit,
// monitor, and nonce-sync loops together end to end, the long-running
// goroutine path goleak.VerifyTestMain watches for leaks on.
func TestExecutor_StopsOnContextCancellation(t *testing.T) {
	fake := rpcadapter.NewFake([]string{"a"})
	ex, _ := newTestExecutorWithClock(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ex.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after context cancellation")
	}
}
