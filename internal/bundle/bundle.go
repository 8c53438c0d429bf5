// Package bundle defines the packed-archive data model: a bundle body (a
// contiguous byte blob) plus a manifest of (path, name, start, end) entries
// slicing that body into individual files.
package bundle

import "fmt"

// Entry describes one file's location inside a bundle body.
type Entry struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
}

// FullPath is the entry's path joined with its name, unique within a bundle.
func (e Entry) FullPath() string {
	if e.Path == "" {
		return e.Name
	}
	return e.Path + "/" + e.Name
}

// Size is the exact byte length of the entry's slice.
func (e Entry) Size() int64 { return e.End - e.Start }

// Manifest is the ordered entry list for one bundle, as stored in
// `<id>.meta.json`.
type Manifest struct {
	Name      string  `json:"name"`
	Files     []Entry `json:"files"`
	TotalSize int64   `json:"totalSize"`
}

// Validate checks the manifest invariants from the data model: entries are
// non-overlapping, contiguous, cover the body with no padding, and full
// paths are unique.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Files))
	var cursor int64
	for i, e := range m.Files {
		if e.Start != cursor {
			return fmt.Errorf("bundle %s: entry %d (%s) starts at %d, expected %d (gap or overlap)", m.Name, i, e.FullPath(), e.Start, cursor)
		}
		if e.End < e.Start {
			return fmt.Errorf("bundle %s: entry %d (%s) has end %d before start %d", m.Name, i, e.FullPath(), e.End, e.Start)
		}
		full := e.FullPath()
		if _, dup := seen[full]; dup {
			return fmt.Errorf("bundle %s: duplicate path %q", m.Name, full)
		}
		seen[full] = struct{}{}
		cursor = e.End
	}
	if cursor != m.TotalSize {
		return fmt.Errorf("bundle %s: manifest covers %d bytes, totalSize is %d", m.Name, cursor, m.TotalSize)
	}
	return nil
}

// Slice returns body[e.Start:e.End], the exact bytes for one file.
func (e Entry) Slice(body []byte) ([]byte, error) {
	if e.Start < 0 || e.End > int64(len(body)) || e.Start > e.End {
		return nil, fmt.Errorf("entry %s: range [%d,%d) out of bounds for body of length %d", e.FullPath(), e.Start, e.End, len(body))
	}
	return body[e.Start:e.End], nil
}

// FileLocation is a pointer into a bundle: which bundle, and the byte range
// within its body.
type FileLocation struct {
	BundleID string `json:"bundle"`
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
}

// GlobalManifest maps a full VFS path to the bundle + byte range that holds
// it. It is the authoritative index; per-bundle manifests are the fallback
// used when a bundle was fetched dynamically and never indexed globally.
type GlobalManifest map[string]FileLocation

// Registry is the set of known bundle IDs.
type Registry map[string]struct{}

// NewRegistry builds a Registry from a list of bundle IDs.
func NewRegistry(ids []string) Registry {
	r := make(Registry, len(ids))
	for _, id := range ids {
		r[id] = struct{}{}
	}
	return r
}

func (r Registry) Has(id string) bool {
	_, ok := r[id]
	return ok
}

// DependencyGraph is the bundle dependency graph: per-engine required
// bundle sets plus per-bundle "requires" edges and an optional global
// deferred set (spec.md §4.2/§8: Open Question — deferred is engine-wide).
type DependencyGraph struct {
	Engines  map[string]EngineBundles  `json:"engines"`
	Bundles  map[string]BundleRequires `json:"bundles"`
	Deferred []string                  `json:"deferred,omitempty"`
}

type EngineBundles struct {
	Required []string `json:"required"`
}

type BundleRequires struct {
	Requires []string `json:"requires"`
}

// DeferredSet returns the deferred bundle IDs as a set for fast lookup.
func (g DependencyGraph) DeferredSet() map[string]struct{} {
	out := make(map[string]struct{}, len(g.Deferred))
	for _, id := range g.Deferred {
		out[id] = struct{}{}
	}
	return out
}

// ConflictingDeferred returns bundle IDs that are both required for the
// given engine and globally deferred — the ambiguity flagged in spec.md §9's
// Open Questions. Callers should log a warning and treat "required" as
// authoritative (a required bundle can never be force-deferred for that
// engine).
func (g DependencyGraph) ConflictingDeferred(engine string) []string {
	deferred := g.DeferredSet()
	var out []string
	if eb, ok := g.Engines[engine]; ok {
		for _, id := range eb.Required {
			if _, isDeferred := deferred[id]; isDeferred {
				out = append(out, id)
			}
		}
	}
	return out
}
