package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/discovery"
	"github.com/ryandielhenn/zephyrcdn/internal/telemetry"
	"github.com/ryandielhenn/zephyrcdn/pkg/catalog"
	"github.com/ryandielhenn/zephyrcdn/pkg/directory"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	addr := envStr("DIRECTORY_ADDR", ":5000")
	metricsAddr := envStr("METRICS_ADDR", "")
	id := envStr("DIRECTORY_ID", "directory-1")

	srv := directory.NewServer(catalog.New(), logger)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", addr), zap.Error(err))
	}

	if eps := envStr("ETCD_ENDPOINTS", ""); eps != "" {
		cli, err := discovery.NewClient(strings.Split(eps, ","))
		if err != nil {
			logger.Fatal("etcd client", zap.Error(err))
		}
		defer cli.Close()

		leaseID, cancel, err := discovery.Announce(cli, "directory", id, addr, 10)
		if err != nil {
			logger.Fatal("announce", zap.Error(err))
		}
		defer func() {
			cancel()
			_, _ = cli.Revoke(context.TODO(), leaseID)
		}()
		logger.Info("announced in etcd", zap.String("id", id), zap.String("addr", addr))
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

	if err := srv.Serve(lis); err != nil {
		logger.Fatal("directory stopped", zap.Error(err))
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
