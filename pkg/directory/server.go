// Package directory implements the control-plane service that content nodes
// register with and clients query for routing decisions.
package directory

import (
	"net"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/pkg/catalog"
)

// Banner sent in the optional WELCOME greeting. Clients must not depend on
// receiving it.
const Banner = "ZEPHYR-CDN"

type Server struct {
	cat *catalog.Catalog
	log *zap.Logger
}

func NewServer(cat *catalog.Catalog, log *zap.Logger) *Server {
	return &Server{cat: cat, log: log}
}

// Serve accepts connections on lis until it fails, handling each session in
// its own goroutine. A session touches the catalog only through its atomic
// operations, so a slow or hostile peer never stalls anyone else.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("directory listening", zap.String("addr", lis.Addr().String()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Catalog exposes the server's store, mainly for inspection in tests.
func (s *Server) Catalog() *catalog.Catalog {
	return s.cat
}
