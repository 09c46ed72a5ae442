package monitor

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/pkg/health"
)

type testMonitor struct {
	srv       *Server
	tracker   *health.Tracker
	pulseAddr string
	queryAddr string
}

func startMonitor(t *testing.T, directoryAddr string, deadTimeout time.Duration) *testMonitor {
	t.Helper()

	tr := health.NewTracker()
	srv := NewServer(tr, NewNotifier(directoryAddr, zap.NewNop()), deadTimeout, time.Hour, zap.NewNop())

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	go srv.ServePulses(pc)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go srv.ServeQueries(lis)

	return &testMonitor{
		srv:       srv,
		tracker:   tr,
		pulseAddr: pc.LocalAddr().String(),
		queryAddr: lis.Addr().String(),
	}
}

func sendPulse(t *testing.T, addr, datagram string) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(datagram)); err != nil {
		t.Fatalf("send pulse: %v", err)
	}
}

func listServers(t *testing.T, addr string) []string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial tcp: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "LIST_SERVERS\n")

	var lines []string
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		if sc.Text() == "END" {
			return lines
		}
		lines = append(lines, sc.Text())
	}
	t.Fatalf("reply ended without END (got %v)", lines)
	return nil
}

// waitFor polls cond until it holds or the deadline passes. Pulse delivery
// is asynchronous even on loopback.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPulseThenListServers(t *testing.T) {
	m := startMonitor(t, "127.0.0.1:1", time.Hour)

	sendPulse(t, m.pulseAddr, "HEARTBEAT n1 127.0.0.1 7000 3 2")
	waitFor(t, func() bool { return len(m.tracker.Snapshot()) == 1 }, "pulse ingestion")

	lines := listServers(t, m.queryAddr)
	if len(lines) != 1 || lines[0] != "SERVER n1 127.0.0.1 7000 3 alive" {
		t.Fatalf("LIST_SERVERS = %v", lines)
	}
}

func TestListServersEmpty(t *testing.T) {
	m := startMonitor(t, "127.0.0.1:1", time.Hour)
	if lines := listServers(t, m.queryAddr); len(lines) != 0 {
		t.Fatalf("LIST_SERVERS on empty tracker = %v, want only END", lines)
	}
}

func TestListServersSorted(t *testing.T) {
	m := startMonitor(t, "127.0.0.1:1", time.Hour)
	sendPulse(t, m.pulseAddr, "HEARTBEAT zeta 127.0.0.1 7002 0 0")
	sendPulse(t, m.pulseAddr, "HEARTBEAT alpha 127.0.0.1 7001 0 0")
	waitFor(t, func() bool { return len(m.tracker.Snapshot()) == 2 }, "pulse ingestion")

	lines := listServers(t, m.queryAddr)
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "SERVER alpha ") || !strings.HasPrefix(lines[1], "SERVER zeta ") {
		t.Fatalf("LIST_SERVERS order = %v", lines)
	}
}

func TestMalformedPulseDropped(t *testing.T) {
	m := startMonitor(t, "127.0.0.1:1", time.Hour)

	sendPulse(t, m.pulseAddr, "HEARTBEAT n1 127.0.0.1") // short
	sendPulse(t, m.pulseAddr, "total garbage")
	sendPulse(t, m.pulseAddr, "HEARTBEAT ok 127.0.0.1 7000 0 0")
	waitFor(t, func() bool { return len(m.tracker.Snapshot()) == 1 }, "valid pulse")

	// Only the well-formed pulse landed; the listener survived the rest.
	lines := listServers(t, m.queryAddr)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "SERVER ok ") {
		t.Fatalf("LIST_SERVERS = %v", lines)
	}
}

func TestUnknownQueryCommand(t *testing.T) {
	m := startMonitor(t, "127.0.0.1:1", time.Hour)

	conn, err := net.Dial("tcp", m.queryAddr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "DUMP_EVERYTHING\n")
	sc := bufio.NewScanner(conn)
	if !sc.Scan() || sc.Text() != "ERROR UNKNOWN_COMMAND" {
		t.Fatalf("got %q", sc.Text())
	}
}

func TestSweepNotifiesDirectoryOnce(t *testing.T) {
	// Fake directory capturing whatever the notifier sends.
	dirLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen fake directory: %v", err)
	}
	defer dirLis.Close()
	received := make(chan string, 8)
	go func() {
		for {
			conn, err := dirLis.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				sc := bufio.NewScanner(c)
				for sc.Scan() {
					received <- sc.Text()
				}
			}(conn)
		}
	}()

	m := startMonitor(t, dirLis.Addr().String(), 30*time.Millisecond)

	sendPulse(t, m.pulseAddr, "HEARTBEAT n1 127.0.0.1 7000 0 0")
	waitFor(t, func() bool { return len(m.tracker.Snapshot()) == 1 }, "pulse ingestion")

	time.Sleep(60 * time.Millisecond) // let the record go stale
	m.srv.SweepOnce()

	select {
	case line := <-received:
		if !strings.HasPrefix(line, "SERVER_DOWN n1 ") {
			t.Fatalf("notification = %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no down-notification arrived")
	}

	// Node is dead now; a second sweep must not notify again.
	m.srv.SweepOnce()
	select {
	case line := <-received:
		t.Fatalf("unexpected second notification %q", line)
	case <-time.After(100 * time.Millisecond):
	}

	lines := listServers(t, m.queryAddr)
	if len(lines) != 1 || lines[0] != "SERVER n1 127.0.0.1 7000 0 dead" {
		t.Fatalf("LIST_SERVERS after sweep = %v", lines)
	}
}

func TestPulseRevivesAtMonitorOnly(t *testing.T) {
	// The monitor's view flips back to alive on the next pulse; nothing is
	// pushed to the directory about it. Known asymmetry, preserved from the
	// original design: the directory keeps routing around the node until it
	// re-registers.
	m := startMonitor(t, "127.0.0.1:1", 30*time.Millisecond)

	sendPulse(t, m.pulseAddr, "HEARTBEAT n1 127.0.0.1 7000 0 0")
	waitFor(t, func() bool { return len(m.tracker.Snapshot()) == 1 }, "pulse ingestion")

	time.Sleep(60 * time.Millisecond)
	m.srv.SweepOnce()
	waitFor(t, func() bool { return m.tracker.Snapshot()[0].Status == health.StatusDead }, "death")

	sendPulse(t, m.pulseAddr, "HEARTBEAT n1 127.0.0.1 7000 0 0")
	waitFor(t, func() bool { return m.tracker.Snapshot()[0].Status == health.StatusAlive }, "revival")
}

func TestNotifierToleratesDeadDirectory(t *testing.T) {
	// Single attempt, no retry, no crash.
	n := NewNotifier("127.0.0.1:1", zap.NewNop())
	n.NotifyDown("n1")
}
