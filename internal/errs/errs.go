// Package errs defines the error taxonomy shared across the arbitrage
// core. Each sentinel marks one of the kinds spec.md §7 names; call
// sites wrap it with fmt.Errorf("...: %w", ErrX) and callers recover it
// with errors.Is.
package errs

import "errors"

var (
	// ErrConfiguration marks a missing or invalid required config value.
	// Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport marks an RPC connection or timeout failure. Recovered
	// by endpoint failover; surfaces only once every endpoint has failed
	// within a single attempt cycle.
	ErrTransport = errors.New("transport error")

	// ErrChain marks an on-chain rejection: bad nonce, insufficient
	// funds, or a revert on simulate. The triggering route is dropped.
	ErrChain = errors.New("chain error")

	// ErrValidation marks a route that failed a staleness, profitability,
	// or gas check. Dropped silently at debug level.
	ErrValidation = errors.New("validation error")

	// ErrInvariant marks an internal bug, such as a non-monotonic nonce
	// observed by the submit loop. Logged at error level; the owning loop
	// exits so a supervisor can restart it.
	ErrInvariant = errors.New("invariant violation")
)
