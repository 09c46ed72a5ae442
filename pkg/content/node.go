// Package content implements a content node: a flat directory of files
// served over TCP, a one-shot registration handshake with the directory, and
// a pulse loop reporting load to the monitor. Load is the number of client
// connections currently open.
package content

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/pkg/protocol"
)

type Node struct {
	id       string
	filesDir string
	log      *zap.Logger
	active   atomic.Int64
}

func NewNode(id, filesDir string, log *zap.Logger) *Node {
	return &Node{id: id, filesDir: filesDir, log: log}
}

func (n *Node) ID() string { return n.id }

// Load is the number of in-flight client connections.
func (n *Node) Load() int { return int(n.active.Load()) }

type fileEntry struct {
	name string
	size int64
}

// listFiles returns the regular files at the top level of the serving
// directory. Subdirectories are not served.
func (n *Node) listFiles() ([]fileEntry, error) {
	entries, err := os.ReadDir(n.filesDir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", n.filesDir, err)
	}
	var out []fileEntry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, fileEntry{name: e.Name(), size: info.Size()})
	}
	return out, nil
}

// FileCount is the current number of served files, reported in pulses.
func (n *Node) FileCount() int {
	files, err := n.listFiles()
	if err != nil {
		return 0
	}
	return len(files)
}

// Serve runs the data plane: `GET <name>` -> `OK <size>` + raw bytes.
func (n *Node) Serve(lis net.Listener) error {
	n.log.Info("content node listening",
		zap.String("id", n.id),
		zap.String("addr", lis.Addr().String()),
		zap.String("dir", n.filesDir))
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go n.handle(conn)
	}
}

func (n *Node) handle(conn net.Conn) {
	n.active.Add(1)
	defer n.active.Add(-1)
	defer conn.Close()

	log := n.log.With(zap.String("peer", conn.RemoteAddr().String()))

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}
	get, ok := protocol.Parse(sc.Text()).(protocol.Get)
	if !ok {
		fmt.Fprintf(conn, "%s\n", protocol.ErrInvalidCommand)
		return
	}

	// File names are flat; strip any path the client smuggled in.
	path := filepath.Join(n.filesDir, filepath.Base(get.Name))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		fmt.Fprintf(conn, "%s\n", protocol.ErrFileNotFound)
		log.Info("no such file", zap.String("file", get.Name))
		return
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(conn, "%s\n", protocol.ErrFileNotFound)
		log.Warn("open failed", zap.String("file", get.Name), zap.Error(err))
		return
	}
	defer f.Close()

	fmt.Fprintf(conn, "%s\n", protocol.OKHeader(info.Size()))
	sent, err := io.Copy(conn, f)
	if err != nil {
		log.Warn("transfer aborted", zap.String("file", get.Name), zap.Int64("sent", sent), zap.Error(err))
		return
	}
	log.Info("sent file", zap.String("file", get.Name), zap.Int64("bytes", sent), zap.Int("load", n.Load()))
}

// RegisterWith performs the registration handshake against the directory:
// REGISTER, one ADD_FILE per served file, DONE_FILES. The directory records
// our host from the connection itself, so only the ports go on the wire.
func (n *Node) RegisterWith(directoryAddr string, dataPort, pulsePort int) error {
	conn, err := net.DialTimeout("tcp", directoryAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial directory: %w", err)
	}
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	fmt.Fprintf(conn, "REGISTER %s %d %d\n", n.id, dataPort, pulsePort)
	if !sc.Scan() {
		return fmt.Errorf("directory closed during registration")
	}
	if sc.Text() != protocol.RespRegistered {
		return fmt.Errorf("directory rejected registration: %s", sc.Text())
	}

	files, err := n.listFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(conn, "ADD_FILE %s %s %d\n", n.id, f.name, f.size)
	}
	fmt.Fprintf(conn, "DONE_FILES\n")
	if !sc.Scan() {
		return fmt.Errorf("directory closed before acknowledging file list")
	}
	if sc.Text() != protocol.RespFilesAdded {
		return fmt.Errorf("directory rejected file list: %s", sc.Text())
	}

	n.log.Info("registered with directory",
		zap.String("directory", directoryAddr),
		zap.Int("files", len(files)))
	return nil
}

// RunPulse sends one heartbeat datagram per interval until ctx is done.
// Datagrams are fire-and-forget; send errors are logged and the loop keeps
// going, since the next pulse supersedes the lost one anyway.
func (n *Node) RunPulse(ctx context.Context, monitorAddr, advertiseHost string, dataPort, pulsePort int, every time.Duration) error {
	raddr, err := net.ResolveUDPAddr("udp", monitorAddr)
	if err != nil {
		return fmt.Errorf("resolve monitor: %w", err)
	}
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: pulsePort}, raddr)
	if err != nil {
		return fmt.Errorf("open pulse socket: %w", err)
	}
	defer conn.Close()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	n.log.Info("pulsing", zap.String("monitor", monitorAddr), zap.Duration("interval", every))

	for {
		select {
		case <-ticker.C:
			hb := protocol.Heartbeat{
				ID:        n.id,
				Host:      advertiseHost,
				DataPort:  dataPort,
				Load:      n.Load(),
				FileCount: n.FileCount(),
			}
			if _, err := conn.Write([]byte(protocol.HeartbeatLine(hb))); err != nil {
				n.log.Warn("pulse send failed", zap.Error(err))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
