// Package monitor is the watchdog service: it ingests pulse datagrams into a
// health.Tracker, periodically sweeps for nodes that went quiet, pushes a
// best-effort down-notification to the directory for each one, and answers
// LIST_SERVERS snapshot queries over TCP.
package monitor

import (
	"bufio"
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/internal/telemetry"
	"github.com/ryandielhenn/zephyrcdn/pkg/health"
	"github.com/ryandielhenn/zephyrcdn/pkg/protocol"
)

type Server struct {
	tracker     *health.Tracker
	notifier    *Notifier
	deadTimeout time.Duration
	sweepEvery  time.Duration
	log         *zap.Logger
}

func NewServer(tr *health.Tracker, n *Notifier, deadTimeout, sweepEvery time.Duration, log *zap.Logger) *Server {
	return &Server{
		tracker:     tr,
		notifier:    n,
		deadTimeout: deadTimeout,
		sweepEvery:  sweepEvery,
		log:         log,
	}
}

// ServePulses reads heartbeat datagrams off pc until a read fails. Malformed
// datagrams are logged and dropped; pulses repeat, so losing one is fine.
func (s *Server) ServePulses(pc net.PacketConn) error {
	s.log.Info("pulse listener up", zap.String("addr", pc.LocalAddr().String()))
	buf := make([]byte, 2048)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return err
		}

		hb, err := protocol.ParseHeartbeat(buf[:n])
		if err != nil {
			telemetry.Pulses.WithLabelValues("invalid").Inc()
			s.log.Warn("dropping pulse", zap.String("from", from.String()), zap.Error(err))
			continue
		}

		sig := s.tracker.Observe(hb.ID, hb.Host, hb.DataPort, hb.Load, hb.FileCount)
		telemetry.Pulses.WithLabelValues(sig.String()).Inc()
		if sig != health.SignalRefreshed {
			s.log.Info("node alive",
				zap.String("id", hb.ID),
				zap.String("host", hb.Host),
				zap.Int("data_port", hb.DataPort),
				zap.Int("load", hb.Load),
				zap.Int("files", hb.FileCount),
				zap.String("signal", sig.String()))
		}
	}
}

// ServeQueries answers snapshot queries on lis, one goroutine per connection.
func (s *Server) ServeQueries(lis net.Listener) error {
	s.log.Info("snapshot reporter up", zap.String("addr", lis.Addr().String()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go s.handleQuery(conn)
	}
}

func (s *Server) handleQuery(conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	if _, ok := protocol.Parse(sc.Text()).(protocol.ListServers); !ok {
		reply(conn, protocol.ErrUnknownCommand)
		return
	}

	for _, r := range s.tracker.Snapshot() {
		reply(conn, protocol.SnapshotLine(r.ID, r.Host, r.DataPort, r.Load, string(r.Status)))
	}
	reply(conn, protocol.RespEnd)
}

// RunSweeper runs the timeout sweep on a fixed interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()
	s.log.Info("sweeper running",
		zap.Duration("interval", s.sweepEvery),
		zap.Duration("dead_timeout", s.deadTimeout))

	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce flips stale records to dead and fires one down-notification per
// newly dead node.
func (s *Server) SweepOnce() {
	for _, id := range s.tracker.Sweep(s.deadTimeout) {
		telemetry.NodesMarkedDead.Inc()
		s.log.Warn("node dead", zap.String("id", id), zap.Duration("timeout", s.deadTimeout))
		s.notifier.NotifyDown(id)
	}
}
