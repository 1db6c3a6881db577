// Command trackerd runs one tracker: storage liveness supervision plus
// leader election (spec.md sections 4.2 and 4.4). Its shape — logger,
// config, component construction, signal-driven graceful shutdown — is
// grounded on the teacher's cmd/acp-node/main.go, generalized from a
// single gRPC server + grpcServer.GracefulStop() to an oklog/run.Group of
// actors (the control-protocol listener, the election loop, the health
// prober and the metrics server), adapted from prometheus-alertmanager's
// inhibit.Run()-style group usage.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rachitkumar205/trackerd/internal/config"
	"github.com/rachitkumar205/trackerd/internal/election"
	"github.com/rachitkumar205/trackerd/internal/groupstore"
	"github.com/rachitkumar205/trackerd/internal/healthprober"
	"github.com/rachitkumar205/trackerd/internal/metrics"
	"github.com/rachitkumar205/trackerd/internal/statussampler"
	"github.com/rachitkumar205/trackerd/internal/trackerserver"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.LoadFromArgs(os.Args[1:])
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	logger.Info("starting trackerd",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.Strings("peers", cfg.Peers),
		zap.String("http_check_type", string(cfg.HTTPCheckType)))

	table, err := election.ParsePeers(cfg.Peers)
	if err != nil {
		logger.Fatal("invalid tracker table", zap.Error(err))
	}
	selfOrdinal, err := election.DetermineSelfOrdinal(table, cfg.LocalAddrs)
	if err != nil {
		logger.Fatal("failed to determine this tracker's ordinal", zap.Error(err))
	}
	logger.Info("resolved self ordinal", zap.Int("ordinal", selfOrdinal), zap.String("addr", table[selfOrdinal].Addr()))

	restartInterval, err := recordProcessStart(cfg.GroupStorePath + ".uptime.json")
	if err != nil {
		logger.Warn("failed to compute restart interval, defaulting to 0", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, "trackerd")

	store := groupstore.NewStore(cfg.GroupStorePath)

	prober := healthprober.New(store, cfg, logger, m)
	sampler := statussampler.New(cfg.ConnectTimeout, cfg.NetworkTimeout, logger, m)

	loop := election.New(election.Config{
		Table:           table,
		SelfOrdinal:     selfOrdinal,
		ConnectTimeout:  cfg.ConnectTimeout,
		NetworkTimeout:  cfg.NetworkTimeout,
		Sampler:         sampler,
		Store:           store,
		OnLeaderElected: findTrunkServers,
		Logger:          logger,
		Metrics:         m,
		RestartInterval: restartInterval,
		ProcessStart:    time.Now(),
	})

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}
	srv := trackerserver.New(lis, loop, logger, cfg.NetworkTimeout)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	// Control-protocol listener.
	g.Add(func() error {
		logger.Info("control listener started", zap.String("addr", cfg.ListenAddr))
		return srv.Serve()
	}, func(error) {
		lis.Close()
	})

	// Election loop.
	g.Add(func() error {
		return loop.Run(ctx)
	}, func(error) {
		cancel()
	})

	// Health prober.
	prober.Start()
	g.Add(func() error {
		<-ctx.Done()
		return nil
	}, func(error) {
		prober.Stop()
	})

	// Metrics HTTP server.
	g.Add(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}, func(error) {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsServer.Shutdown(shutdownCtx)
	})

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	g.Add(func() error {
		<-sigCh
		logger.Info("received shutdown signal")
		return nil
	}, func(error) {
		signal.Stop(sigCh)
	})

	if err := g.Run(); err != nil {
		logger.Info("trackerd stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// findTrunkServers is the hook named in spec.md section 6, invoked once
// on leader ascension. This repo has no trunk-allocation policy to apply
// — it is a pluggable no-op until a storage-capacity model exists.
func findTrunkServers(_ *groupstore.Store) {}

// recordProcessStart implements the restart_interval half of spec.md
// section 3's TrackerRunningStatus: the gap, in seconds, between this
// process's start and the start recorded before it. It persists a two-entry
// history file; any read/parse failure just yields restartInterval 0,
// matching a first-ever start.
func recordProcessStart(path string) (int32, error) {
	type history struct {
		Starts []int64 `json:"starts"`
	}

	now := time.Now().Unix()
	var h history

	if data, err := os.ReadFile(path); err == nil {
		json.Unmarshal(data, &h)
	}

	var restartInterval int32
	if n := len(h.Starts); n >= 1 {
		restartInterval = int32(now - h.Starts[n-1])
	}

	h.Starts = append(h.Starts, now)
	if len(h.Starts) > 2 {
		h.Starts = h.Starts[len(h.Starts)-2:]
	}

	data, err := json.Marshal(h)
	if err != nil {
		return restartInterval, err
	}
	return restartInterval, os.WriteFile(path, data, 0o644)
}
