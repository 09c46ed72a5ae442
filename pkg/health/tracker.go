// Package health tracks node liveness as observed from pulse datagrams.
// It is a separate source of truth from the directory's catalog; the two
// are reconciled only through the monitor's down-notification, and only in
// the dead direction.
package health

import (
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusAlive Status = "alive"
	StatusDead  Status = "dead"
)

// Signal classifies an observation. It exists for logging; nothing branches
// on it beyond log level.
type Signal int

const (
	SignalNew Signal = iota
	SignalRevived
	SignalRefreshed
)

func (s Signal) String() string {
	switch s {
	case SignalNew:
		return "new"
	case SignalRevived:
		return "revived"
	default:
		return "refreshed"
	}
}

// Record is the monitor's view of one node.
type Record struct {
	ID        string
	Host      string
	DataPort  int
	Load      int
	FileCount int
	LastSeen  time.Time
	Status    Status
}

// Tracker is a mutex-guarded map of Records. Status moves alive->dead only
// through Sweep and dead->alive only through Observe.
type Tracker struct {
	mu      sync.Mutex
	now     func() time.Time // swappable in tests
	records map[string]*Record
}

func NewTracker() *Tracker {
	return &Tracker{
		now:     time.Now,
		records: make(map[string]*Record),
	}
}

// Observe upserts the record for a pulse and reports whether the node is
// new, came back from the dead, or was already alive.
func (t *Tracker) Observe(id, host string, dataPort, load, fileCount int) Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r, ok := t.records[id]
	if !ok {
		t.records[id] = &Record{
			ID:        id,
			Host:      host,
			DataPort:  dataPort,
			Load:      load,
			FileCount: fileCount,
			LastSeen:  now,
			Status:    StatusAlive,
		}
		return SignalNew
	}

	wasDead := r.Status == StatusDead
	r.Host = host
	r.DataPort = dataPort
	r.Load = load
	r.FileCount = fileCount
	r.LastSeen = now
	r.Status = StatusAlive
	if wasDead {
		return SignalRevived
	}
	return SignalRefreshed
}

// Sweep flips every alive record older than timeout to dead and returns the
// ids that changed on this pass. A record already dead is never returned
// again until a pulse revives it.
func (t *Tracker) Sweep(timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var newlyDead []string
	for id, r := range t.records {
		if r.Status == StatusAlive && now.Sub(r.LastSeen) > timeout {
			r.Status = StatusDead
			newlyDead = append(newlyDead, id)
		}
	}
	sort.Strings(newlyDead)
	return newlyDead
}

// Snapshot returns copies of all records sorted by id.
func (t *Tracker) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
