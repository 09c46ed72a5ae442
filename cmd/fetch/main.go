// fetch is the two-hop client: ask the directory who has the file, then pull
// the bytes from that node. -direct skips the directory for testing a node
// on its own.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ryandielhenn/zephyrcdn/discovery"
	"github.com/ryandielhenn/zephyrcdn/pkg/protocol"
)

func main() {
	out := flag.String("out", "", "output path (default: ./downloads/<name>)")
	directoryAddr := flag.String("directory", "127.0.0.1:5000", "directory control address")
	direct := flag.String("direct", "", "host:port of a content node, bypassing the directory")
	etcd := flag.String("etcd", "", "comma-separated etcd endpoints; overrides -directory")
	flag.Parse()

	name := flag.Arg(0)
	if name == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch [flags] <file-name>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	outPath := *out
	if outPath == "" {
		outPath = filepath.Join("downloads", name)
	}

	if *direct != "" {
		size, err := download(normalizeHostPort(*direct, "7000"), name, outPath)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("downloaded %s (%d bytes) -> %s\n", name, size, outPath)
		return
	}

	dirAddr := normalizeHostPort(*directoryAddr, "5000")
	if *etcd != "" {
		cli, err := discovery.NewClient(strings.Split(*etcd, ","))
		if err != nil {
			fatal(err)
		}
		defer cli.Close()
		dirAddr, err = discovery.ResolveOne(cli, "directory")
		if err != nil {
			fatal(err)
		}
	}

	host, port, id, idxSize, err := lookup(dirAddr, name)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("directory routed %s -> %s at %s:%d (size=%d)\n", name, id, host, port, idxSize)

	size, err := download(fmt.Sprintf("%s:%d", host, port), name, outPath)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("downloaded %s (%d bytes) -> %s\n", name, size, outPath)
	if size != idxSize {
		fmt.Fprintf(os.Stderr, "warning: directory said %d bytes, node sent %d\n", idxSize, size)
	}
}

// lookup runs one HELLO + GET exchange. The WELCOME greeting is optional:
// we try to read it with a short deadline and move on either way.
func lookup(addr, name string) (host string, port int, id string, size int64, err error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("dial directory: %w", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	fmt.Fprintf(conn, "HELLO\n")
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _ = r.ReadString('\n') // greeting, or a timeout; either is fine
	_ = conn.SetReadDeadline(time.Time{})

	fmt.Fprintf(conn, "GET %s\n", name)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("directory reply: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if strings.HasPrefix(line, "ERROR") {
		return "", 0, "", 0, fmt.Errorf("directory: %s", line)
	}
	return protocol.ParseServerReply(line)
}

// download pulls name from a content node into outPath, returning the byte
// count the node promised (and delivered).
func download(addr, name, outPath string) (int64, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return 0, fmt.Errorf("dial node: %w", err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	fmt.Fprintf(conn, "GET %s\n", name)
	header, err := r.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("node reply: %w", err)
	}
	header = strings.TrimRight(header, "\r\n")
	if strings.HasPrefix(header, "ERROR") {
		return 0, fmt.Errorf("node: %s", header)
	}
	size, err := protocol.ParseOKHeader(header)
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, err
		}
	}
	f, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := io.CopyN(f, r, size); err != nil {
		return 0, fmt.Errorf("transfer: %w", err)
	}
	return size, nil
}

// normalizeHostPort adds a default port when addr has none.
func normalizeHostPort(addr, defPort string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return addr + ":" + defPort
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fetch:", err)
	os.Exit(1)
}
