package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/discovery"
	"github.com/ryandielhenn/zephyrcdn/pkg/content"
)

func main() {
	id := flag.String("id", "", "node id (required)")
	dir := flag.String("dir", "./files", "directory with files to serve")
	dataPort := flag.Int("data-port", 7000, "TCP port for file transfers")
	pulsePort := flag.Int("pulse-port", 7001, "local UDP port pulses are sent from")
	directoryAddr := flag.String("directory", "127.0.0.1:5000", "directory control address")
	monitorAddr := flag.String("monitor", "127.0.0.1:6000", "monitor pulse address")
	advertiseHost := flag.String("advertise-host", "127.0.0.1", "host reported in pulses")
	pulseEvery := flag.Duration("pulse-interval", 2*time.Second, "pulse interval")
	etcd := flag.String("etcd", "", "comma-separated etcd endpoints; overrides -directory/-monitor")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *id == "" {
		logger.Fatal("missing -id")
	}

	if *etcd != "" {
		cli, err := discovery.NewClient(strings.Split(*etcd, ","))
		if err != nil {
			logger.Fatal("etcd client", zap.Error(err))
		}
		defer cli.Close()

		if addr, err := discovery.ResolveOne(cli, "directory"); err == nil {
			*directoryAddr = addr
		} else {
			logger.Fatal("resolve directory", zap.Error(err))
		}
		if addr, err := discovery.ResolveOne(cli, "monitor"); err == nil {
			*monitorAddr = addr
		} else {
			logger.Fatal("resolve monitor", zap.Error(err))
		}
	}

	node := content.NewNode(*id, *dir, logger)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *dataPort))
	if err != nil {
		logger.Fatal("listen", zap.Int("port", *dataPort), zap.Error(err))
	}

	if err := node.RegisterWith(*directoryAddr, *dataPort, *pulsePort); err != nil {
		logger.Fatal("registration failed", zap.Error(err))
	}

	go func() {
		err := node.RunPulse(context.Background(), *monitorAddr, *advertiseHost, *dataPort, *pulsePort, *pulseEvery)
		logger.Fatal("pulse loop stopped", zap.Error(err))
	}()

	if err := node.Serve(lis); err != nil {
		logger.Fatal("content node stopped", zap.Error(err))
	}
}
