package scanner

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the block, mempool, and health loops spawned by
// Start leave no goroutine running once a test's context is canceled.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
