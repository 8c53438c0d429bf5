package vfs

import (
	"fmt"
	"path"
	"strings"
	"sync"
)

// eagerSuffixes lists the path suffixes that must always be loaded eagerly
// (spec.md §4.3 "Eager-load rule"): kpathsea needs directory-listing traces
// and string comparisons against resident bytes, and per-compile font map
// rewriting needs the bytes present.
var eagerSuffixes = []string{".fmt", "texmf.cnf", ".map", ".pfb", ".enc"}

func mustBeEager(fullPath string) bool {
	for _, suf := range eagerSuffixes {
		if strings.HasSuffix(fullPath, suf) {
			return true
		}
	}
	return false
}

// PendingRange is a byte-range request recorded when a Deferred node is
// read and its bytes are not yet available anywhere.
type PendingRange struct {
	BundleID string
	Start    int64
	End      int64
}

// PendingBundle is a whole-bundle fetch request recorded when a Deferred
// node belongs to a bundle whose body is not resident at all (used by
// mount_deferred_bundle, where the fallback is fetching the full body
// instead of a byte range — spec.md §9).
type PendingBundle struct {
	BundleID string
}

// BundleSource supplies manifests for bundles mounted by ID, honoring the
// "prefer global, fall back to per-bundle" rule from spec.md §4.3.
type BundleSource interface {
	// FileLocation looks up a full path's (start, end) inside a specific
	// bundle's manifest. ok is false if the bundle has no such file.
	FileLocation(bundleID, fullPath string) (start, end int64, ok bool)
	// Files lists every (fullPath, start, end) the bundle's manifest
	// contains, in manifest order.
	Files(bundleID string) []BundleFile
}

// BundleFile is one manifest entry resolved to an absolute VFS path.
type BundleFile struct {
	FullPath string
	Start    int64
	End      int64
}

// VFS is the fresh, per-compile-attempt virtual file system. It wraps the
// engine's in-memory filesystem: mount operations populate nodes, the read
// path resolves Lazy/Deferred markers in place, and Finalize() performs
// font-map rewriting and ls-R emission before the engine runs.
type VFS struct {
	mu sync.Mutex

	texRoot string
	nodes   map[string]*Node // full path -> node (files and directories)

	// bundleBodies holds resident bundle bodies keyed by bundle ID. A body
	// present here lets Lazy markers resolve without a network round trip.
	bundleBodies map[string][]byte

	// fontFiles maps a bare font filename (as referenced in a map line) to
	// the absolute VFS path it was mounted at, built while mounting font
	// bundles.
	fontFiles map[string]string

	// queuedMapPaths are auxiliary .map files mounted (not the root
	// pdftex.map) that must be appended to the unified map at Finalize.
	queuedMapPaths []string

	// deferredBundleIDs marks bundles mounted via MountDeferredBundle: a
	// Deferred read against one of these records a whole-bundle fetch
	// request rather than a byte range, since the dependency graph already
	// judged the bundle worth fetching in full (spec.md §9).
	deferredBundleIDs map[string]struct{}

	pendingRanges  []PendingRange
	pendingBundles []PendingBundle
	rangeSeen      map[PendingRange]struct{}
	bundleSeen     map[string]struct{}

	// externalRangeCache holds byte ranges already fetched earlier in this
	// compile session (across retries), so a repeated Deferred read is a
	// hit rather than a new pending request.
	externalRangeCache map[PendingRange][]byte

	finalized bool
}

// New builds a fresh VFS rooted at texRoot. bundleBodies and
// externalRangeCache are shared with the orchestrator across retries within
// one compile() call (spec.md §5: "the engine context's bundle-body map is
// the only shared data structure across retries").
func New(texRoot string, bundleBodies map[string][]byte, externalRangeCache map[PendingRange][]byte) *VFS {
	if bundleBodies == nil {
		bundleBodies = make(map[string][]byte)
	}
	if externalRangeCache == nil {
		externalRangeCache = make(map[PendingRange][]byte)
	}
	v := &VFS{
		texRoot:            texRoot,
		nodes:              make(map[string]*Node),
		bundleBodies:       bundleBodies,
		fontFiles:          make(map[string]string),
		deferredBundleIDs:  make(map[string]struct{}),
		rangeSeen:          make(map[PendingRange]struct{}),
		bundleSeen:         make(map[string]struct{}),
		externalRangeCache: externalRangeCache,
	}
	v.ensureDir(texRoot)
	return v
}

func clean(p string) string {
	return path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
}

// ensureDir creates directory marker nodes for p and every ancestor, as
// "the parent directory is created on demand" (spec.md §4.3).
func (v *VFS) ensureDir(p string) {
	p = clean(p)
	for p != "/" && p != "." {
		if n, ok := v.nodes[p]; ok && n.IsDir {
			return
		}
		v.nodes[p] = NewEmptyDirNode()
		p = path.Dir(p)
	}
	if _, ok := v.nodes["/"]; !ok {
		v.nodes["/"] = NewEmptyDirNode()
	}
}

// Mount writes a file eagerly. A .map file other than the root pdftex.map
// is queued for font-map post-processing.
func (v *VFS) Mount(fullPath string, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fullPath = clean(fullPath)
	v.ensureDir(path.Dir(fullPath))
	v.nodes[fullPath] = NewEagerNode(data)
	if strings.HasSuffix(fullPath, ".map") && path.Base(fullPath) != "pdftex.map" {
		v.queuedMapPaths = append(v.queuedMapPaths, fullPath)
	}
}

// MountLazy creates a file node backed by a Lazy marker.
func (v *VFS) MountLazy(fullPath, bundleID string, start, end int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fullPath = clean(fullPath)
	v.ensureDir(path.Dir(fullPath))
	v.nodes[fullPath] = NewLazyNode(bundleID, start, end)
}

// MountDeferred creates a file node backed by a Deferred marker; the bundle
// body is not required to be resident.
func (v *VFS) MountDeferred(fullPath, bundleID string, start, end int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fullPath = clean(fullPath)
	v.ensureDir(path.Dir(fullPath))
	v.nodes[fullPath] = NewDeferredNode(bundleID, start, end)
}

// MountBundle records body as resident in v.bundleBodies and mounts each
// entry of files (callers take the list from a BundleSource, which prefers
// the global manifest): eager-rule paths are copied immediately, everything
// else becomes Lazy. Font files (.pfb/.enc) register into the font-file
// index for later map rewriting.
func (v *VFS) MountBundle(bundleID string, body []byte, files []BundleFile) error {
	v.mu.Lock()
	v.bundleBodies[bundleID] = body
	v.mu.Unlock()

	for _, f := range files {
		if f.Start < 0 || f.End > int64(len(body)) || f.Start > f.End {
			return fmt.Errorf("mount_bundle %s: entry %s range [%d,%d) out of bounds (body %d bytes)", bundleID, f.FullPath, f.Start, f.End, len(body))
		}
		if mustBeEager(f.FullPath) {
			v.Mount(f.FullPath, body[f.Start:f.End])
		} else {
			v.MountLazy(f.FullPath, bundleID, f.Start, f.End)
		}
		v.registerFontFile(f.FullPath)
	}
	return nil
}

// MountDeferredBundle mounts the bundle's file set as Deferred markers
// without requiring the bundle body to be resident.
func (v *VFS) MountDeferredBundle(bundleID string, files []BundleFile) {
	v.mu.Lock()
	v.deferredBundleIDs[bundleID] = struct{}{}
	v.mu.Unlock()
	for _, f := range files {
		v.MountDeferred(f.FullPath, bundleID, f.Start, f.End)
		v.registerFontFile(f.FullPath)
	}
}

// MountExternalFiles mounts user-provided or fetched-package files eagerly;
// font maps among them are queued for post-processing.
func (v *VFS) MountExternalFiles(files map[string][]byte) {
	for p, data := range files {
		v.Mount(p, data)
		v.registerFontFile(p)
	}
}

func (v *VFS) registerFontFile(fullPath string) {
	if strings.HasSuffix(fullPath, ".pfb") || strings.HasSuffix(fullPath, ".enc") {
		v.mu.Lock()
		v.fontFiles[path.Base(fullPath)] = fullPath
		v.mu.Unlock()
	}
}

// Read implements the patched engine read path (spec.md §4.3): a Lazy
// marker resolves in place from the resident bundle body; a Deferred
// marker whose body is not resident records a pending request (unless
// already pending or already satisfied by the external range cache) —
// a whole-bundle request for bundles mounted via MountDeferredBundle, a
// byte-range request otherwise — and the read returns
// zero-length bytes, which is intentional — it drives the engine to a
// missing-file error that the orchestrator then resolves.
func (v *VFS) Read(fullPath string) ([]byte, error) {
	fullPath = clean(fullPath)
	v.mu.Lock()
	n, ok := v.nodes[fullPath]
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("vfs: no such file %q", fullPath)
	}
	return v.readNode(n)
}

// Mmap is the memory-mapped read path; it is patched symmetrically to Read
// so mmap-based consumers trigger the same marker resolution.
func (v *VFS) Mmap(fullPath string) ([]byte, error) {
	return v.Read(fullPath)
}

func (v *VFS) readNode(n *Node) ([]byte, error) {
	switch n.State() {
	case StateEager:
		return n.Bytes(), nil
	case StateLazy:
		m := n.Marker()
		v.mu.Lock()
		body := v.bundleBodies[m.BundleID]
		v.mu.Unlock()
		if body == nil {
			return nil, fmt.Errorf("vfs: lazy node references unresident bundle %q", m.BundleID)
		}
		if m.Start < 0 || m.End > int64(len(body)) || m.Start > m.End {
			return nil, fmt.Errorf("vfs: lazy marker out of bounds for bundle %q", m.BundleID)
		}
		data := body[m.Start:m.End]
		n.ResolveEager(data)
		return data, nil
	case StateDeferred:
		m := n.Marker()
		v.mu.Lock()
		body, resident := v.bundleBodies[m.BundleID]
		v.mu.Unlock()
		if resident {
			if m.Start < 0 || m.End > int64(len(body)) || m.Start > m.End {
				return nil, fmt.Errorf("vfs: deferred marker out of bounds for bundle %q", m.BundleID)
			}
			data := body[m.Start:m.End]
			n.ResolveEager(data)
			return data, nil
		}
		rng := PendingRange{BundleID: m.BundleID, Start: m.Start, End: m.End}
		v.mu.Lock()
		cached, hit := v.externalRangeCache[rng]
		_, fromDeferredBundle := v.deferredBundleIDs[m.BundleID]
		v.mu.Unlock()
		if hit {
			n.ResolveEager(cached)
			return cached, nil
		}
		if fromDeferredBundle {
			v.recordPendingBundle(m.BundleID)
		} else {
			v.recordPendingRange(rng)
		}
		return []byte{}, nil
	default:
		return []byte{}, nil
	}
}

func (v *VFS) recordPendingRange(rng PendingRange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.rangeSeen[rng]; ok {
		return
	}
	v.rangeSeen[rng] = struct{}{}
	v.pendingRanges = append(v.pendingRanges, rng)
}

func (v *VFS) recordPendingBundle(bundleID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.bundleSeen[bundleID]; ok {
		return
	}
	v.bundleSeen[bundleID] = struct{}{}
	v.pendingBundles = append(v.pendingBundles, PendingBundle{BundleID: bundleID})
}

// PendingRanges returns the byte-range requests accumulated by Deferred
// reads during this VFS's lifetime, for the orchestrator to fetch.
func (v *VFS) PendingRanges() []PendingRange {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PendingRange, len(v.pendingRanges))
	copy(out, v.pendingRanges)
	return out
}

// PendingBundles returns the whole-bundle fetch requests accumulated by
// Deferred reads against deferred-bundle members during this VFS's
// lifetime.
func (v *VFS) PendingBundles() []PendingBundle {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]PendingBundle, len(v.pendingBundles))
	copy(out, v.pendingBundles)
	return out
}

// SatisfyRange supplies the resolved bytes for a previously pending byte
// range, making it available both to this VFS (if rebuilt) and to future
// VFS instances sharing the same externalRangeCache.
func (v *VFS) SatisfyRange(rng PendingRange, data []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.externalRangeCache[rng] = data
}

// SatisfyBundle supplies a previously pending bundle's full body, making it
// resident so every Deferred node referencing it resolves in place.
func (v *VFS) SatisfyBundle(bundleID string, body []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bundleBodies[bundleID] = body
}

// Snapshot resolves and returns every mounted file as a flat path->bytes
// map, for Invoker implementations (DevAdapter) that materialise the VFS
// onto a real filesystem. Unresolved Deferred nodes contribute a
// zero-length entry, mirroring Read's intentional empty-read contract.
func (v *VFS) Snapshot() map[string][]byte {
	v.mu.Lock()
	paths := make([]string, 0, len(v.nodes))
	for p, n := range v.nodes {
		if !n.IsDir {
			paths = append(paths, p)
		}
	}
	v.mu.Unlock()

	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		data, err := v.Read(p)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(p, "/")] = data
	}
	return out
}

// NodeCount reports how many nodes (files and directories) are currently
// mounted. Exposed for tests and stats.
func (v *VFS) NodeCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.nodes)
}

// Paths returns every mounted path (files and directories), unsorted.
func (v *VFS) Paths() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]string, 0, len(v.nodes))
	for p := range v.nodes {
		out = append(out, p)
	}
	return out
}

// node looks up a node by full path without taking the read-path lock
// semantics (used internally by font-map/ls-R processing which already
// holds no external expectations about resolution order).
func (v *VFS) node(fullPath string) (*Node, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nodes[fullPath]
	return n, ok
}
