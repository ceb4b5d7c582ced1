package scanner

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// mempoolObservation is one pending transaction seen targeting a known
// router. Recorded for inspection and metrics only — never fed into
// route enumeration, per spec.md §2 Non-goals.
type mempoolObservation struct {
	TxHash     common.Hash
	Router     common.Address
	ObservedAt time.Time
}

// mempoolRing is a fixed-capacity ring buffer of recent observations.
// Older entries are overwritten once the buffer fills.
type mempoolRing struct {
	mu     sync.Mutex
	buf    []mempoolObservation
	next   int
	filled bool
}

func newMempoolRing(capacity int) *mempoolRing {
	return &mempoolRing{buf: make([]mempoolObservation, capacity)}
}

func (r *mempoolRing) Record(hash common.Hash, router common.Address, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = mempoolObservation{TxHash: hash, Router: router, ObservedAt: at}
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

// Snapshot returns the currently buffered observations in no particular
// order; used by tests and the (future) /metrics or debug surface.
func (r *mempoolRing) Snapshot() []mempoolObservation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.filled {
		out := make([]mempoolObservation, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]mempoolObservation, len(r.buf))
	copy(out, r.buf)
	return out
}
