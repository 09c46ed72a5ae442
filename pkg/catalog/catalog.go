// Package catalog holds the directory's view of the cluster: which nodes
// exist, whether they are routable, and which files each one advertises.
package catalog

import (
	"sync"
	"time"
)

// NodeRecord is one registered content node. Load is whatever the node
// reported at registration (zero); the catalog never updates it on its own,
// so routing decisions can key on stale load. That is inherited behavior,
// not an accident to fix here.
type NodeRecord struct {
	ID        string
	Host      string
	DataPort  int
	PulsePort int
	Load      int
	Alive     bool
	UpdatedAt time.Time
}

// Route is a routing decision: where a client should fetch a file.
type Route struct {
	ID       string
	Host     string
	DataPort int
	Size     int64
}

// Catalog is an in-memory registry of nodes and file availability. All
// operations are atomic with respect to each other; none of them touch the
// network, so the lock is never held across I/O.
type Catalog struct {
	mu    sync.Mutex
	nodes map[string]*NodeRecord
	files map[string]map[string]int64 // file name -> node id -> size
}

func New() *Catalog {
	return &Catalog{
		nodes: make(map[string]*NodeRecord),
		files: make(map[string]map[string]int64),
	}
}

// Register creates or resets the record for id. Re-registration is the only
// way a node marked down becomes routable again.
func (c *Catalog) Register(id, host string, dataPort, pulsePort int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[id] = &NodeRecord{
		ID:        id,
		Host:      host,
		DataPort:  dataPort,
		PulsePort: pulsePort,
		Alive:     true,
		UpdatedAt: time.Now(),
	}
}

// AddFile advertises name with the given size on node id. The id does not
// have to be registered: such entries simply never win a route until it is.
func (c *Catalog) AddFile(id, name string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owners, ok := c.files[name]
	if !ok {
		owners = make(map[string]int64)
		c.files[name] = owners
	}
	owners[id] = size
}

// MarkDown flips id to not-routable. Unknown ids are ignored; the monitor
// may know about nodes the directory never saw.
func (c *Catalog) MarkDown(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[id]; ok {
		n.Alive = false
		n.UpdatedAt = time.Now()
	}
}

// Route picks the cheapest live node serving name. Candidates with no
// NodeRecord or a dead one are skipped. Ties on load break by lexicographic
// node id so the decision is reproducible, not map-iteration luck.
func (c *Catalog) Route(name string) (Route, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *NodeRecord
	var bestSize int64
	for id, size := range c.files[name] {
		n, ok := c.nodes[id]
		if !ok || !n.Alive {
			continue
		}
		if best == nil || n.Load < best.Load || (n.Load == best.Load && n.ID < best.ID) {
			best = n
			bestSize = size
		}
	}
	if best == nil {
		return Route{}, false
	}
	return Route{ID: best.ID, Host: best.Host, DataPort: best.DataPort, Size: bestSize}, true
}

// Node returns a copy of the record for id.
func (c *Catalog) Node(id string) (NodeRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return NodeRecord{}, false
	}
	return *n, true
}

// SetLoad overwrites the reported load for id, if registered. The directory
// itself never calls this; it exists for operators and tests that want to
// exercise load-aware routing.
func (c *Catalog) SetLoad(id string, load int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes[id]; ok {
		n.Load = load
		n.UpdatedAt = time.Now()
	}
}
