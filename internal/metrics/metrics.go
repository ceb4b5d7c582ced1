// Package metrics exposes the arbitrage core's counters and gauges as
// Prometheus collectors. Grounded on the examples' use of
// prometheus/client_golang (luxfi-evm's metrics/prometheus package
// bridges go-ethereum's internal registry into a prometheus.Gatherer;
// this codebase has no such internal registry to bridge, so it
// registers collectors directly against a private registry instead —
// see DESIGN.md).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the scanner and executor update.
type Metrics struct {
	Registry *prometheus.Registry

	RoutesEnumerated  prometheus.Counter
	RoutesPublished   prometheus.Counter
	RoutesDropped     *prometheus.CounterVec
	RpcFailovers      prometheus.Counter
	TxSubmitted       prometheus.Counter
	TxIncluded        prometheus.Counter
	TxFailed          prometheus.Counter
	TxDropped         prometheus.Counter
	ExecutorNonce     prometheus.Gauge
	BlockAnalysisSlow prometheus.Counter
	ScannerHeartbeat  prometheus.Gauge
}

// New builds a fresh Metrics against its own registry, so concurrent
// tests never collide on prometheus's global DefaultRegisterer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RoutesEnumerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_routes_enumerated_total",
			Help: "Candidate routes produced by the route engine, profitable or not.",
		}),
		RoutesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_routes_published_total",
			Help: "Routes admitted to the opportunity channel.",
		}),
		RoutesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "arb_routes_dropped_total",
			Help: "Routes dropped, labeled by reason.",
		}, []string{"reason"}),
		RpcFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_rpc_failovers_total",
			Help: "Times an RPC adapter advanced to the next endpoint.",
		}),
		TxSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_transactions_submitted_total",
			Help: "Arbitrage transactions signed and sent.",
		}),
		TxIncluded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_transactions_included_total",
			Help: "Submitted transactions observed with a successful receipt.",
		}),
		TxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_transactions_failed_total",
			Help: "Submitted transactions observed with a reverted receipt.",
		}),
		TxDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_transactions_dropped_total",
			Help: "Submitted transactions that never produced a receipt within the inclusion deadline.",
		}),
		ExecutorNonce: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_executor_nonce",
			Help: "Executor's current local nonce.",
		}),
		BlockAnalysisSlow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "arb_block_analysis_slow_total",
			Help: "Block analysis cycles that exceeded the 1s warning threshold.",
		}),
		ScannerHeartbeat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "arb_scanner_heartbeat_unixtime",
			Help: "Unix time the scanner's self-health loop last ticked.",
		}),
	}
	reg.MustRegister(
		m.RoutesEnumerated,
		m.RoutesPublished,
		m.RoutesDropped,
		m.RpcFailovers,
		m.TxSubmitted,
		m.TxIncluded,
		m.TxFailed,
		m.TxDropped,
		m.ExecutorNonce,
		m.BlockAnalysisSlow,
		m.ScannerHeartbeat,
	)
	return m
}
