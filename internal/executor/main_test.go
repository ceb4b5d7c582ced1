package executor

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutine started by a loop test (submit,
// monitor, nonce-sync) survives past the test it was started in.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
