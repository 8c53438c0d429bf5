// Package vfs implements the virtual file system mounted into the engine's
// namespace for one compile attempt: eager/lazy/deferred file content,
// read-time marker resolution, font map post-processing, and ls-R
// generation (spec.md §4.3).
package vfs

import "sync"

// State tags a Node's content variant.
type State int

const (
	// StateEager means bytes are resident and the Node is terminal.
	StateEager State = iota
	// StateLazy means the bundle body is resident; a slice is taken on read.
	StateLazy
	// StateDeferred means the bundle body is not resident; a byte-range
	// fetch is required before the content can be read.
	StateDeferred
	// StateEmpty is the content-less state carried by directory nodes. An
	// unresolved Deferred read returns zero-length bytes but leaves its node
	// in StateDeferred.
	StateEmpty
)

func (s State) String() string {
	switch s {
	case StateEager:
		return "eager"
	case StateLazy:
		return "lazy"
	case StateDeferred:
		return "deferred"
	case StateEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// Marker is the (bundle, byte-range) pointer carried by Lazy and Deferred
// nodes.
type Marker struct {
	BundleID string
	Start    int64
	End      int64
}

// Node is one VFS file. Its content is the tagged union described in
// spec.md §3: Eager(bytes) | Lazy{marker} | Deferred{marker}, plus the
// Empty placeholder state. A single mutex protects in-place resolution
// (Deferred/Lazy → Eager) triggered from the read path.
type Node struct {
	mu      sync.Mutex
	state   State
	bytes   []byte
	marker  Marker
	IsDir   bool
}

// NewEagerNode builds a resident, terminal node.
func NewEagerNode(data []byte) *Node {
	return &Node{state: StateEager, bytes: data}
}

// NewLazyNode builds a node whose bytes will be sliced from an
// already-resident bundle body on first read.
func NewLazyNode(bundleID string, start, end int64) *Node {
	return &Node{state: StateLazy, marker: Marker{BundleID: bundleID, Start: start, End: end}}
}

// NewDeferredNode builds a node whose bundle body is not resident; a
// byte-range fetch must happen before the content can be read.
func NewDeferredNode(bundleID string, start, end int64) *Node {
	return &Node{state: StateDeferred, marker: Marker{BundleID: bundleID, Start: start, End: end}}
}

// NewEmptyDirNode builds a directory marker node.
func NewEmptyDirNode() *Node {
	return &Node{state: StateEmpty, IsDir: true}
}

// State returns the node's current content state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Marker returns the node's bundle/byte-range marker. Only meaningful when
// State() is StateLazy or StateDeferred.
func (n *Node) Marker() Marker {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.marker
}

// ResolveEager transitions Lazy or Deferred into a terminal Eager node by
// supplying its resolved bytes in place. Safe to call more than once; later
// calls are no-ops once the node is Eager.
func (n *Node) ResolveEager(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateEager {
		return
	}
	n.state = StateEager
	n.bytes = data
}

// PromoteToLazy transitions a Deferred node to Lazy once its bundle body
// becomes resident in memory, without yet taking the byte slice.
func (n *Node) PromoteToLazy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateDeferred {
		n.state = StateLazy
	}
}

// Bytes returns the node's resident bytes. Only valid when State() is
// StateEager; callers must resolve Lazy/Deferred nodes first.
func (n *Node) Bytes() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bytes
}
