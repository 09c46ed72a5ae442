package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/discovery"
	"github.com/ryandielhenn/zephyrcdn/internal/telemetry"
	"github.com/ryandielhenn/zephyrcdn/pkg/health"
	"github.com/ryandielhenn/zephyrcdn/pkg/monitor"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	pulseAddr := envStr("PULSE_ADDR", ":6000")
	queryAddr := envStr("QUERY_ADDR", ":6001")
	directoryAddr := envStr("DIRECTORY_ADDR", "127.0.0.1:5000")
	deadTimeout := envDur("DEAD_TIMEOUT", 8*time.Second, logger)
	sweepEvery := envDur("SWEEP_INTERVAL", time.Second, logger)
	metricsAddr := envStr("METRICS_ADDR", "")
	id := envStr("MONITOR_ID", "monitor-1")

	tracker := health.NewTracker()
	notifier := monitor.NewNotifier(directoryAddr, logger)
	srv := monitor.NewServer(tracker, notifier, deadTimeout, sweepEvery, logger)

	pc, err := net.ListenPacket("udp", pulseAddr)
	if err != nil {
		logger.Fatal("listen udp", zap.String("addr", pulseAddr), zap.Error(err))
	}
	lis, err := net.Listen("tcp", queryAddr)
	if err != nil {
		logger.Fatal("listen tcp", zap.String("addr", queryAddr), zap.Error(err))
	}

	if eps := envStr("ETCD_ENDPOINTS", ""); eps != "" {
		cli, err := discovery.NewClient(strings.Split(eps, ","))
		if err != nil {
			logger.Fatal("etcd client", zap.Error(err))
		}
		defer cli.Close()

		leaseID, cancel, err := discovery.Announce(cli, "monitor", id, pulseAddr, 10)
		if err != nil {
			logger.Fatal("announce", zap.Error(err))
		}
		defer func() {
			cancel()
			_, _ = cli.Revoke(context.TODO(), leaseID)
		}()
		logger.Info("announced in etcd", zap.String("id", id), zap.String("addr", pulseAddr))
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := srv.ServePulses(pc); err != nil {
			logger.Fatal("pulse listener stopped", zap.Error(err))
		}
	}()
	go srv.RunSweeper(context.Background())

	if err := srv.ServeQueries(lis); err != nil {
		logger.Fatal("snapshot reporter stopped", zap.Error(err))
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDur(key string, def time.Duration, logger *zap.Logger) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Fatal("bad duration", zap.String("key", key), zap.String("value", v), zap.Error(err))
	}
	return d
}
