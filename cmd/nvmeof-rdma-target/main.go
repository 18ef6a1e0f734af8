// File: cmd/nvmeof-rdma-target/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// nvmeof-rdma-target brings up the target-side process scaffolding:
// the connection manager, its timer scheduler, the in-memory backend,
// and a Prometheus metrics endpoint. Binding a real rdma_cm listener
// and ibverbs completion queues is an external-hardware boundary (see
// transport.Listener's doc comment); this entrypoint wires everything
// up to that boundary and leaves the poll group ready for it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/nvmeof-rdma/backend"
	"github.com/momentics/nvmeof-rdma/connmgr"
	"github.com/momentics/nvmeof-rdma/control"
	"github.com/momentics/nvmeof-rdma/internal/concurrency"
	"github.com/momentics/nvmeof-rdma/metrics"
	"github.com/momentics/nvmeof-rdma/pollgroup"
	"github.com/momentics/nvmeof-rdma/rdmacm"
	"github.com/momentics/nvmeof-rdma/tgtreq"
	"github.com/momentics/nvmeof-rdma/transport"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9595", "address to serve /metrics on")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	blockSize := flag.Uint("block-size", 512, "backend namespace block size in bytes")
	numBlocks := flag.Uint64("num-blocks", 1<<20, "backend namespace size in blocks")
	difCheck := flag.Bool("dif-check", false, "enable DIF generate/verify on the backend")
	flag.Parse()

	log := newLogger(*logLevel)

	opts := transport.Default()
	be := backend.New(backend.Config{
		BlockSize:       uint32(*blockSize),
		NumBlocks:       *numBlocks,
		DIFCheckEnabled: *difCheck,
	})
	machine := tgtreq.NewMachine(be)
	_ = machine // bound to a Dispatcher once a real CompletionSource exists

	sched := concurrency.NewScheduler()
	defer sched.Close()

	mgr := connmgr.NewManager(sched, nil, log, func(id connmgr.ID, state rdmacm.State, err error) {
		if err != nil {
			log.Warn("target: connection state transition failed", "id", id, "state", state.String(), "err", err)
			return
		}
		log.Info("target: connection state transition", "id", id, "state", state.String())
	})

	group := pollgroup.NewGroup()
	collector := metrics.New(metrics.GroupProvider{Group: group, Conns: mgr}, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
		collector,
	)

	probes := control.NewDebugProbes()
	probes.RegisterProbe("connmgr.connections", func() any { return mgr.Count() })
	probes.RegisterProbe("pollgroup.pollers", func() any { return len(group.Pollers()) })
	control.RegisterPlatformProbes(probes)
	control.RegisterReloadHook(func() {
		log.Info("target: transport options hot-reload triggered")
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/debug/probes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(probes.DumpState())
	})
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				log.Info("target: SIGHUP received, reloading options")
				control.TriggerHotReload()
			}
		}
	}()

	log.Info("nvmeof-rdma-target starting", "metrics_addr", *metricsAddr,
		"max_queue_depth", opts.MaxQueueDepth, "io_unit_size", opts.IOUnitSize,
		"block_size", *blockSize, "num_blocks", *numBlocks, "dif_check", *difCheck)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Error("metrics server exited with error", "err", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		os.Exit(1)
	}
	group.Stop()
	log.Info("shutdown complete")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
