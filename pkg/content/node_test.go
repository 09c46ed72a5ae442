package content

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/pkg/catalog"
	"github.com/ryandielhenn/zephyrcdn/pkg/directory"
)

func startNode(t *testing.T, files map[string][]byte) (*Node, string) {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	n := NewNode("n1", dir, zap.NewNop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { lis.Close() })
	go n.Serve(lis)
	return n, lis.Addr().String()
}

func fetch(t *testing.T, addr, name string) (string, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	fmt.Fprintf(conn, "GET %s\n", name)
	r := bufio.NewReader(conn)
	header, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return header[:len(header)-1], body
}

func TestServeFile(t *testing.T) {
	payload := bytes.Repeat([]byte("zephyr"), 1000)
	_, addr := startNode(t, map[string][]byte{"big.bin": payload})

	header, body := fetch(t, addr, "big.bin")
	if header != fmt.Sprintf("OK %d", len(payload)) {
		t.Fatalf("header = %q", header)
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body mismatch: got %d bytes, want %d", len(body), len(payload))
	}
}

func TestServeMissingFile(t *testing.T) {
	_, addr := startNode(t, map[string][]byte{"only.txt": []byte("x")})

	header, _ := fetch(t, addr, "nope.txt")
	if header != "ERROR FILE_NOT_FOUND" {
		t.Fatalf("header = %q", header)
	}
}

func TestServeRejectsNonGet(t *testing.T) {
	_, addr := startNode(t, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "PUT evil.txt\n")
	sc := bufio.NewScanner(conn)
	if !sc.Scan() || sc.Text() != "ERROR INVALID_COMMAND" {
		t.Fatalf("got %q", sc.Text())
	}
}

func TestServeStripsPath(t *testing.T) {
	_, addr := startNode(t, map[string][]byte{"safe.txt": []byte("ok")})

	// A path-y name refers to its base name only.
	header, body := fetch(t, addr, "../../safe.txt")
	if header != "OK 2" || string(body) != "ok" {
		t.Fatalf("header = %q, body = %q", header, body)
	}
}

func TestRegisterWithDirectory(t *testing.T) {
	srv := directory.NewServer(catalog.New(), zap.NewNop())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()
	go srv.Serve(lis)

	dir := t.TempDir()
	for name, data := range map[string][]byte{
		"a.txt": []byte("aaaa"),
		"b.txt": []byte("bb"),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	n := NewNode("n1", dir, zap.NewNop())
	if err := n.RegisterWith(lis.Addr().String(), 7000, 7001); err != nil {
		t.Fatalf("RegisterWith: %v", err)
	}

	r, ok := srv.Catalog().Route("a.txt")
	if !ok || r.ID != "n1" || r.Size != 4 || r.DataPort != 7000 {
		t.Fatalf("Route(a.txt) = %+v, %v", r, ok)
	}
	if r, ok := srv.Catalog().Route("b.txt"); !ok || r.Size != 2 {
		t.Fatalf("Route(b.txt) = %+v, %v", r, ok)
	}
}

func TestFileCount(t *testing.T) {
	n, _ := startNode(t, map[string][]byte{
		"a.txt": []byte("a"),
		"b.txt": []byte("b"),
		"c.txt": []byte("c"),
	})
	if got := n.FileCount(); got != 3 {
		t.Fatalf("FileCount = %d, want 3", got)
	}
	if got := n.Load(); got != 0 {
		t.Fatalf("idle Load = %d, want 0", got)
	}
}
