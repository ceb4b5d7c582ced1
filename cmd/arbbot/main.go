// Command arbbot runs the on-chain arbitrage core: a Scanner watching
// Base for profitable two-hop cycles, and (unless --scan-only) an
// Executor submitting and tracking the resulting transactions.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethlog "github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/glassonion32313/Ought/internal/clock"
	"github.com/glassonion32313/Ought/internal/config"
	"github.com/glassonion32313/Ought/internal/executor"
	"github.com/glassonion32313/Ought/internal/logging"
	"github.com/glassonion32313/Ought/internal/metrics"
	"github.com/glassonion32313/Ought/internal/oppchannel"
	"github.com/glassonion32313/Ought/internal/poolregistry"
	"github.com/glassonion32313/Ought/internal/routeengine"
	"github.com/glassonion32313/Ought/internal/rpcadapter"
	"github.com/glassonion32313/Ought/internal/scanner"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code: 0 on a clean SIGINT/SIGTERM
// shutdown, 1 on a fatal configuration or startup error, per spec.md
// §6.
func run(args []string) int {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbbot: parsing flags:", err)
		return 1
	}
	cfg, err := config.BuildConfig(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "arbbot: loading config:", err)
		return 1
	}

	if _, err := logging.New(logging.Config{Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		fmt.Fprintln(os.Stderr, "arbbot: configuring logger:", err)
		return 1
	}

	m := metrics.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, m)
	}

	scannerRPC, err := rpcadapter.New(cfg.RpcURLs, cfg.WsRpcURL, m)
	if err != nil {
		ethlog.Error("arbbot: building scanner rpc adapter", "err", err)
		return 1
	}
	registry, err := poolregistry.New(scannerRPC, cfg.Dexes)
	if err != nil {
		ethlog.Error("arbbot: building pool registry", "err", err)
		return 1
	}
	engine := routeengine.New()
	opportunities := oppchannel.New(m)

	sc := scanner.New(
		scannerRPC, registry, engine, opportunities, m, clock.Real(),
		cfg.Dexes, cfg.TokenList, cfg.EnableMempool, cfg.UseGPU,
		cfg.MinProfitThreshold, cfg.MaxGasPriceCap,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sc.Start(gctx) })

	var ex *executor.Executor
	if cfg.ScanOnly {
		g.Go(func() error { return logScanOnlyRoutes(gctx, opportunities) })
	} else {
		executorRPC, err := rpcadapter.New(cfg.RpcURLs, cfg.WsRpcURL, m)
		if err != nil {
			ethlog.Error("arbbot: building executor rpc adapter", "err", err)
			return 1
		}
		ex = executor.New(executorRPC, opportunities, m, clock.Real(), executor.Config{
			PrivateKey:      cfg.PrivateKey,
			ExecutorAddress: cfg.ExecutorAddress,
			ContractAddress: cfg.ContractAddress,
			ChainID:         cfg.ChainID,
			MaxGasPriceCap:  cfg.MaxGasPriceCap,
		})
		g.Go(func() error { return ex.Start(gctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		ethlog.Error("arbbot: fatal component error", "err", err)
		return 1
	}

	if ex != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ex.EmergencyStop(shutdownCtx); err != nil {
			ethlog.Error("arbbot: emergency stop failed", "err", err)
		}
	}

	ethlog.Info("arbbot: shut down cleanly")
	return 0
}

// logScanOnlyRoutes drains the opportunity channel and logs what the
// executor would have submitted, per spec.md §6's --scan-only mode.
func logScanOnlyRoutes(ctx context.Context, ch *oppchannel.Channel) error {
	for {
		route, ok := ch.Receive(ctx, 2*time.Second)
		if !ok {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		ethlog.Info("arbbot: scan-only candidate route",
			"start_token", route.StartToken,
			"net_profit", route.NetProfit,
			"hops", len(route.Hops),
			"source_block", route.SourceBlock,
		)
	}
}

func startMetricsServer(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ethlog.Error("arbbot: metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
