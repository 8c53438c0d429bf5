package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/gogotex/texfabric/internal/vfs"
)

// ManifestStore resolves a bundle ID's file layout: the global manifest is
// loaded once at init and is authoritative (spec.md §3: "Lifecycles...
// Manifests: loaded once at init, immutable"); a bundle fetched dynamically
// and absent from the global index falls back to its own per-bundle
// manifest, fetched lazily and cached for the process lifetime.
type ManifestStore struct {
	global  GlobalManifest
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	local map[string]Manifest
}

// NewManifestStore builds a store around an immutable global manifest.
func NewManifestStore(global GlobalManifest, baseURL string, client *http.Client) *ManifestStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &ManifestStore{global: global, baseURL: baseURL, client: client, local: make(map[string]Manifest)}
}

// FileLocation implements vfs.BundleSource: prefer the global manifest,
// fall back to the bundle's own manifest.
func (s *ManifestStore) FileLocation(bundleID, fullPath string) (int64, int64, bool) {
	if loc, ok := s.global[fullPath]; ok && loc.BundleID == bundleID {
		return loc.Start, loc.End, true
	}
	m, err := s.ensureLocal(context.Background(), bundleID)
	if err != nil {
		return 0, 0, false
	}
	for _, e := range m.Files {
		if e.FullPath() == fullPath {
			return e.Start, e.End, true
		}
	}
	return 0, 0, false
}

// Files implements vfs.BundleSource, preferring every global-manifest entry
// that belongs to bundleID, falling back to the bundle's own manifest when
// the global index holds nothing for it.
func (s *ManifestStore) Files(bundleID string) []vfs.BundleFile {
	var out []vfs.BundleFile
	for path, loc := range s.global {
		if loc.BundleID == bundleID {
			out = append(out, vfs.BundleFile{FullPath: path, Start: loc.Start, End: loc.End})
		}
	}
	if len(out) > 0 {
		sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
		return out
	}
	m, err := s.ensureLocal(context.Background(), bundleID)
	if err != nil {
		return nil
	}
	out = make([]vfs.BundleFile, 0, len(m.Files))
	for _, e := range m.Files {
		out = append(out, vfs.BundleFile{FullPath: e.FullPath(), Start: e.Start, End: e.End})
	}
	return out
}

func (s *ManifestStore) ensureLocal(ctx context.Context, bundleID string) (Manifest, error) {
	s.mu.Lock()
	if m, ok := s.local[bundleID]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	url := fmt.Sprintf("%s/%s.meta.json", s.baseURL, bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Manifest{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("manifest fetch %s: remote returned %d", bundleID, resp.StatusCode)
	}
	var m Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("manifest fetch %s: decode: %w", bundleID, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("manifest fetch %s: %w", bundleID, err)
	}

	s.mu.Lock()
	s.local[bundleID] = m
	s.mu.Unlock()
	return m, nil
}
