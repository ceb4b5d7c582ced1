// Package oppchannel is the bounded handoff between the Scanner, which
// publishes candidate routes, and the Executor, which consumes them.
// Per spec.md §4.4: bounded capacity, drop-oldest on overflow, never
// blocks a publisher.
package oppchannel

import (
	"context"
	"sync"
	"time"

	ethlog "github.com/ethereum/go-ethereum/log"

	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/model"
)

// Capacity is the channel's fixed buffer size, per spec.md §4.4.
const Capacity = 256

// Channel is a bounded, drop-oldest route queue. The zero value is not
// usable; construct with New.
type Channel struct {
	mu      sync.Mutex
	ch      chan model.Route
	metrics *metrics.Metrics
	dropped uint64
}

// New returns a ready Channel with the spec's fixed capacity.
func New(m *metrics.Metrics) *Channel {
	return &Channel{ch: make(chan model.Route, Capacity), metrics: m}
}

// Publish enqueues a route without blocking. If the channel is full it
// drops the oldest queued route, logs a warning, and retries the send
// exactly once; a retry failure (another publisher winning the race to
// refill the slot) drops the new route instead and counts it too.
func (c *Channel) Publish(route model.Route) {
	select {
	case c.ch <- route:
		return
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case old := <-c.ch:
		c.dropped++
		if c.metrics != nil {
			c.metrics.RoutesDropped.WithLabelValues("queue_full").Inc()
		}
		ethlog.Warn("opportunity channel full, dropping oldest route",
			"dropped_start_token", old.StartToken, "dropped_source_block", old.SourceBlock)
	default:
	}

	select {
	case c.ch <- route:
	default:
		c.dropped++
		if c.metrics != nil {
			c.metrics.RoutesDropped.WithLabelValues("queue_full").Inc()
		}
		ethlog.Warn("opportunity channel still full after eviction, dropping new route",
			"start_token", route.StartToken, "source_block", route.SourceBlock)
	}
}

// Receive blocks for up to timeout waiting for a route, or until ctx is
// canceled. ok is false on timeout or cancellation.
func (c *Channel) Receive(ctx context.Context, timeout time.Duration) (route model.Route, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case route = <-c.ch:
		return route, true
	case <-timer.C:
		return model.Route{}, false
	case <-ctx.Done():
		return model.Route{}, false
	}
}

// Dropped returns the cumulative count of routes evicted for capacity.
func (c *Channel) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Len reports the number of routes currently queued.
func (c *Channel) Len() int {
	return len(c.ch)
}
