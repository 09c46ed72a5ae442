// Package protocol defines the line-oriented control protocol shared by the
// directory, the monitor, and the content nodes. Every inbound line is parsed
// into one of a closed set of request variants; unrecognized text becomes an
// Unknown variant carrying the raw line so handlers can decide how rude to be.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply lines. These are the wire bytes (minus the trailing newline).
const (
	RespRegistered = "OK REGISTERED"
	RespFilesAdded = "OK FILES_ADDED"
	RespEnd        = "END"

	ErrInvalidRegister  = "ERROR INVALID_REGISTER"
	ErrInvalidFileEntry = "ERROR INVALID_FILE_ENTRY"
	ErrInvalidCommand   = "ERROR INVALID_COMMAND"
	ErrFileNotFound     = "ERROR FILE_NOT_FOUND"
	ErrUnknownFirst     = "ERROR UNKNOWN_FIRST_COMMAND"
	ErrUnknownCommand   = "ERROR UNKNOWN_COMMAND"
)

// Request is a parsed control-plane line.
type Request interface{ request() }

// Register is `REGISTER <id> <data_port> <pulse_port>`.
type Register struct {
	ID        string
	DataPort  int
	PulsePort int
}

// AddFile is `ADD_FILE <id> <name> <size>`.
type AddFile struct {
	ID   string
	Name string
	Size int64
}

// DoneFiles is `DONE_FILES`, ending a registration session's file list.
type DoneFiles struct{}

// Hello is `HELLO`, opening a lookup session.
type Hello struct{}

// Get is `GET <name>`. Name is everything after the first space, so file
// names may contain spaces.
type Get struct{ Name string }

// ServerDown is `SERVER_DOWN <id> <timestamp>`, pushed by the monitor.
type ServerDown struct {
	ID        string
	Timestamp int64
}

// ListServers is `LIST_SERVERS`, the monitor's snapshot query.
type ListServers struct{}

// Invalid is a line whose verb we recognize but whose shape we don't
// (wrong arity, non-numeric field). Verb is the recognized command word.
type Invalid struct {
	Verb string
	Line string
}

// Unknown is any line whose verb we don't recognize.
type Unknown struct{ Line string }

func (Register) request()    {}
func (AddFile) request()     {}
func (DoneFiles) request()   {}
func (Hello) request()       {}
func (Get) request()         {}
func (ServerDown) request()  {}
func (ListServers) request() {}
func (Invalid) request()     {}
func (Unknown) request()     {}

// Parse turns one control-plane line into a Request. It never fails; bad
// input comes back as Invalid or Unknown.
func Parse(line string) Request {
	line = strings.TrimRight(line, "\r")
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Unknown{Line: line}
	}

	switch fields[0] {
	case "REGISTER":
		if len(fields) != 4 {
			return Invalid{Verb: "REGISTER", Line: line}
		}
		dataPort, err1 := strconv.Atoi(fields[2])
		pulsePort, err2 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil {
			return Invalid{Verb: "REGISTER", Line: line}
		}
		return Register{ID: fields[1], DataPort: dataPort, PulsePort: pulsePort}

	case "ADD_FILE":
		if len(fields) != 4 {
			return Invalid{Verb: "ADD_FILE", Line: line}
		}
		size, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil {
			return Invalid{Verb: "ADD_FILE", Line: line}
		}
		return AddFile{ID: fields[1], Name: fields[2], Size: size}

	case "DONE_FILES":
		if len(fields) != 1 {
			return Invalid{Verb: "DONE_FILES", Line: line}
		}
		return DoneFiles{}

	case "HELLO":
		if len(fields) != 1 {
			return Invalid{Verb: "HELLO", Line: line}
		}
		return Hello{}

	case "GET":
		rest, ok := strings.CutPrefix(line, "GET ")
		if !ok || rest == "" {
			return Invalid{Verb: "GET", Line: line}
		}
		return Get{Name: rest}

	case "SERVER_DOWN":
		if len(fields) != 3 {
			return Invalid{Verb: "SERVER_DOWN", Line: line}
		}
		ts, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Invalid{Verb: "SERVER_DOWN", Line: line}
		}
		return ServerDown{ID: fields[1], Timestamp: ts}

	case "LIST_SERVERS":
		if len(fields) != 1 {
			return Invalid{Verb: "LIST_SERVERS", Line: line}
		}
		return ListServers{}
	}

	return Unknown{Line: line}
}

// Heartbeat is one pulse datagram:
// `HEARTBEAT <id> <host> <data_port> <load> <file_count>`.
type Heartbeat struct {
	ID        string
	Host      string
	DataPort  int
	Load      int
	FileCount int
}

// ParseHeartbeat decodes a pulse datagram. Unlike Parse it returns an error:
// the pulse listener drops bad datagrams and the caller wants to log why.
func ParseHeartbeat(b []byte) (Heartbeat, error) {
	fields := strings.Fields(string(b))
	if len(fields) != 6 || fields[0] != "HEARTBEAT" {
		return Heartbeat{}, fmt.Errorf("malformed heartbeat %q", string(b))
	}
	dataPort, err := strconv.Atoi(fields[3])
	if err != nil {
		return Heartbeat{}, fmt.Errorf("heartbeat data_port: %w", err)
	}
	load, err := strconv.Atoi(fields[4])
	if err != nil {
		return Heartbeat{}, fmt.Errorf("heartbeat load: %w", err)
	}
	count, err := strconv.Atoi(fields[5])
	if err != nil {
		return Heartbeat{}, fmt.Errorf("heartbeat file_count: %w", err)
	}
	return Heartbeat{ID: fields[1], Host: fields[2], DataPort: dataPort, Load: load, FileCount: count}, nil
}

// HeartbeatLine encodes a pulse for sending.
func HeartbeatLine(hb Heartbeat) string {
	return fmt.Sprintf("HEARTBEAT %s %s %d %d %d", hb.ID, hb.Host, hb.DataPort, hb.Load, hb.FileCount)
}

// Welcome is the optional greeting sent to a lookup session.
func Welcome(banner string) string {
	return "WELCOME " + banner
}

// ServerReply is the successful lookup reply:
// `SERVER <host> <data_port> <id> <size>`.
func ServerReply(host string, dataPort int, id string, size int64) string {
	return fmt.Sprintf("SERVER %s %d %s %d", host, dataPort, id, size)
}

// ParseServerReply decodes a lookup reply on the client side.
func ParseServerReply(line string) (host string, dataPort int, id string, size int64, err error) {
	fields := strings.Fields(line)
	if len(fields) != 5 || fields[0] != "SERVER" {
		return "", 0, "", 0, fmt.Errorf("unexpected directory reply %q", line)
	}
	dataPort, err = strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("directory reply port: %w", err)
	}
	size, err = strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return "", 0, "", 0, fmt.Errorf("directory reply size: %w", err)
	}
	return fields[1], dataPort, fields[3], size, nil
}

// SnapshotLine is one row of the monitor's LIST_SERVERS reply:
// `SERVER <id> <host> <data_port> <load> <status>`.
func SnapshotLine(id, host string, dataPort, load int, status string) string {
	return fmt.Sprintf("SERVER %s %s %d %d %s", id, host, dataPort, load, status)
}

// DownLine is the monitor's push to the directory.
func DownLine(id string, ts int64) string {
	return fmt.Sprintf("SERVER_DOWN %s %d", id, ts)
}

// OKHeader is the content node's data-plane header, sent immediately before
// the raw file bytes: `OK <size>`.
func OKHeader(size int64) string {
	return fmt.Sprintf("OK %d", size)
}

// ParseOKHeader decodes the data-plane header on the client side.
func ParseOKHeader(line string) (int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != "OK" {
		return 0, fmt.Errorf("unexpected content header %q", line)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("content header size: %w", err)
	}
	return size, nil
}
