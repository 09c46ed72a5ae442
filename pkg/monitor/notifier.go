package monitor

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/internal/telemetry"
	"github.com/ryandielhenn/zephyrcdn/pkg/protocol"
)

func reply(w io.Writer, line string) {
	_, _ = fmt.Fprintf(w, "%s\n", line)
}

// Notifier pushes SERVER_DOWN lines to the directory. One attempt per death,
// short dial timeout, no retry: if the directory is unreachable its routing
// table simply stays stale until the node re-registers. Callers wanting
// at-least-once delivery need a retry queue; this deliberately isn't one.
type Notifier struct {
	directoryAddr string
	dialTimeout   time.Duration
	log           *zap.Logger
}

func NewNotifier(directoryAddr string, log *zap.Logger) *Notifier {
	return &Notifier{
		directoryAddr: directoryAddr,
		dialTimeout:   2 * time.Second,
		log:           log,
	}
}

// NotifyDown makes the single delivery attempt for id.
func (n *Notifier) NotifyDown(id string) {
	conn, err := net.DialTimeout("tcp", n.directoryAddr, n.dialTimeout)
	if err != nil {
		telemetry.NotifyFailures.Inc()
		n.log.Warn("down-notification failed",
			zap.String("id", id),
			zap.String("directory", n.directoryAddr),
			zap.Error(err))
		return
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(n.dialTimeout))
	if _, err := fmt.Fprintf(conn, "%s\n", protocol.DownLine(id, time.Now().Unix())); err != nil {
		telemetry.NotifyFailures.Inc()
		n.log.Warn("down-notification failed",
			zap.String("id", id),
			zap.String("directory", n.directoryAddr),
			zap.Error(err))
	}
}
