package directory

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrcdn/internal/telemetry"
	"github.com/ryandielhenn/zephyrcdn/pkg/protocol"
)

func reply(w io.Writer, line string) {
	// A peer that vanished mid-reply is its own problem; the session is
	// ending either way.
	_, _ = fmt.Fprintf(w, "%s\n", line)
}

// handle runs one session. The first line decides what kind of peer this is:
// a registering node, a looking-up client, or the monitor pushing a death.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	log := s.log.With(zap.String("peer", peer))

	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		return
	}

	switch req := protocol.Parse(sc.Text()).(type) {
	case protocol.Register:
		s.registration(conn, sc, req, log)

	case protocol.Hello:
		s.lookup(conn, sc, log)

	case protocol.ServerDown:
		// Fire-and-forget from the monitor's side: no reply.
		s.cat.MarkDown(req.ID)
		telemetry.DirectoryRequests.WithLabelValues("down", "ok").Inc()
		log.Info("node reported down",
			zap.String("id", req.ID),
			zap.Int64("reported_at", req.Timestamp))

	case protocol.Invalid:
		if req.Verb == "REGISTER" {
			reply(conn, protocol.ErrInvalidRegister)
			telemetry.DirectoryRequests.WithLabelValues("register", "error").Inc()
			return
		}
		reply(conn, protocol.ErrUnknownFirst)
		telemetry.DirectoryRequests.WithLabelValues("unknown", "error").Inc()

	default:
		reply(conn, protocol.ErrUnknownFirst)
		telemetry.DirectoryRequests.WithLabelValues("unknown", "error").Inc()
		log.Warn("unknown first command", zap.String("line", sc.Text()))
	}
}

// registration handles `REGISTER` followed by the node's file list. The host
// comes from the peer address, not from the line: nodes don't get to claim
// to be somewhere they aren't connecting from.
func (s *Server) registration(conn net.Conn, sc *bufio.Scanner, req protocol.Register, log *zap.Logger) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	s.cat.Register(req.ID, host, req.DataPort, req.PulsePort)
	reply(conn, protocol.RespRegistered)
	log.Info("registered node",
		zap.String("id", req.ID),
		zap.String("host", host),
		zap.Int("data_port", req.DataPort),
		zap.Int("pulse_port", req.PulsePort))

	files := 0
	for sc.Scan() {
		switch fr := protocol.Parse(sc.Text()).(type) {
		case protocol.AddFile:
			s.cat.AddFile(fr.ID, fr.Name, fr.Size)
			files++

		case protocol.DoneFiles:
			reply(conn, protocol.RespFilesAdded)
			telemetry.DirectoryRequests.WithLabelValues("register", "ok").Inc()
			log.Info("file list received", zap.String("id", req.ID), zap.Int("files", files))
			return

		default:
			// Anything that isn't a well-formed ADD_FILE or DONE_FILES ends
			// the session; files added before the bad line stay added.
			reply(conn, protocol.ErrInvalidFileEntry)
			telemetry.DirectoryRequests.WithLabelValues("register", "error").Inc()
			log.Warn("invalid file entry", zap.String("id", req.ID), zap.String("line", sc.Text()))
			return
		}
	}

	// Peer went away before DONE_FILES.
	telemetry.DirectoryRequests.WithLabelValues("register", "error").Inc()
	log.Warn("registration ended without DONE_FILES", zap.String("id", req.ID))
}

// lookup handles `HELLO` + `GET <name>`. One lookup per connection.
func (s *Server) lookup(conn net.Conn, sc *bufio.Scanner, log *zap.Logger) {
	reply(conn, protocol.Welcome(Banner))

	if !sc.Scan() {
		return
	}
	get, ok := protocol.Parse(sc.Text()).(protocol.Get)
	if !ok {
		reply(conn, protocol.ErrInvalidCommand)
		telemetry.DirectoryRequests.WithLabelValues("lookup", "error").Inc()
		return
	}

	r, found := s.cat.Route(get.Name)
	telemetry.DirectoryRequests.WithLabelValues("lookup", "ok").Inc()
	if !found {
		reply(conn, protocol.ErrFileNotFound)
		telemetry.RoutingDecisions.WithLabelValues("miss").Inc()
		log.Info("lookup miss", zap.String("file", get.Name))
		return
	}

	reply(conn, protocol.ServerReply(r.Host, r.DataPort, r.ID, r.Size))
	telemetry.RoutingDecisions.WithLabelValues("hit").Inc()
	log.Info("routed",
		zap.String("file", get.Name),
		zap.String("id", r.ID),
		zap.String("host", r.Host),
		zap.Int("data_port", r.DataPort))
}
