// Command vmhost runs the VM runtime against the process's own
// stdin/stdout as a stand-in serial link, for local manual exercising
// of the dispatcher outside of a real microcontroller (SPEC_FULL.md
// §4.G, §6), in the same spirit as the teacher daemon's main.go wiring
// together its observability, storage, and service layers.
package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netseye/smallvm/internal/broadcast"
	"github.com/netseye/smallvm/internal/config"
	"github.com/netseye/smallvm/internal/dispatch"
	"github.com/netseye/smallvm/internal/hostio"
	"github.com/netseye/smallvm/internal/observability"
	"github.com/netseye/smallvm/internal/store"
)

func main() {
	boardType := flag.String("board", "generic-mcu", "reported board type")
	storePath := flag.String("store", "smallvm.store", "BoltDB persistence file")
	dataShards := flag.Int("data-shards", 4, "Reed-Solomon data shards per record (0 disables parity)")
	parityShards := flag.Int("parity-shards", 2, "Reed-Solomon parity shards per record")
	observAddr := flag.String("observ-addr", "127.0.0.1:8081", "observability server address")
	tickInterval := flag.Duration("tick", time.Millisecond, "dispatcher tick interval")
	flag.Parse()

	instance := dispatch.NewRuntimeInstanceID()
	logger := observability.NewLogger(*boardType, instance, os.Stdout)
	metrics := observability.NewMetrics()

	if shutdown, err := observability.InitTracing(context.Background(), "smallvm-vmhost"); err == nil {
		defer shutdown(context.Background())
	}

	logger.Info("smallvm runtime starting")

	cfg := config.DefaultConfig()
	cfg.BoardType = *boardType
	cfg.PersistencePath = *storePath
	cfg.RecordDataShards = *dataShards
	cfg.RecordParityShards = *parityShards

	log, err := store.Open(cfg.PersistencePath, cfg.RecordDataShards, cfg.RecordParityShards, logger, metrics)
	if err != nil {
		logger.Fatal(err, "failed to open persistence log")
	}
	defer log.Close()

	host := hostio.NewStdio(cfg.BoardType)
	literals := broadcast.NewStaticLiterals()
	rt := dispatch.New(cfg, host, log, literals, logger, metrics)

	go startObservabilityServer(*observAddr, metrics, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runLoop(ctx, rt, *tickInterval)

	logger.Info("smallvm runtime running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()
}

// runLoop drives the cooperative single-thread dispatch loop (spec §5:
// exactly one thread executes the runtime), ticking at a fixed interval
// rather than busy-spinning.
func runLoop(ctx context.Context, rt *dispatch.Runtime, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.Step()
		}
	}
}

func startObservabilityServer(addr string, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{Addr: addr, Handler: mux}
	logger.Info("observability server listening on " + addr + " (metrics, pprof)")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "observability server error")
	}
}
