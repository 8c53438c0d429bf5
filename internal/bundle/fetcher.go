// Package bundle also implements the Bundle Fetcher (C2): resolving a
// bundle ID to its resident body through memory, durable blob store, and
// finally a remote compressed endpoint, plus an uncompressed byte-range
// fetch variant for Deferred markers.
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"

	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/pkg/logger"
)

// Fetcher resolves bundle IDs to resident bodies. The in-process memory
// map is the "engine context's bundle-body map" from spec.md §5: it is the
// only state shared across retries within one compile, so a fresh VFS can
// be rebuilt from it without refetching.
type Fetcher struct {
	baseURL string
	client  *http.Client
	cache   *cachefabric.Cache

	mu     sync.Mutex
	memory map[string][]byte
}

// NewFetcher builds a Bundle Fetcher against baseURL (the bundle server's
// root, e.g. "https://texlive.example.org/bundles"). client may be nil, in
// which case http.DefaultClient is used.
func NewFetcher(baseURL string, client *http.Client, cache *cachefabric.Cache) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{baseURL: baseURL, client: client, cache: cache, memory: make(map[string][]byte)}
}

// Fetch resolves a bundle body through memory -> blob store -> remote
// compressed endpoint, in that order, caching at every tier it misses.
func (f *Fetcher) Fetch(ctx context.Context, bundleID string) ([]byte, error) {
	f.mu.Lock()
	if body, ok := f.memory[bundleID]; ok {
		f.mu.Unlock()
		return body, nil
	}
	f.mu.Unlock()

	if f.cache != nil {
		if data, ok, err := f.cache.Get(ctx, cachefabric.KindBundle, bundleID); err == nil && ok {
			f.remember(bundleID, data)
			return data, nil
		}
	}

	url := fmt.Sprintf("%s/%s.data.gz", f.baseURL, bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bundle fetch %s: %w", bundleID, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle fetch %s: %w", bundleID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle fetch %s: remote returned %d", bundleID, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bundle fetch %s: read body: %w", bundleID, err)
	}
	body, err := decodeBody(resp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, fmt.Errorf("bundle fetch %s: decompress: %w", bundleID, err)
	}

	f.remember(bundleID, body)
	if f.cache != nil {
		f.cache.Put(ctx, cachefabric.KindBundle, bundleID, body)
	}
	return body, nil
}

func (f *Fetcher) remember(bundleID string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memory[bundleID] = body
}

// FetchRange retrieves an uncompressed byte range from <base>/<id>.raw, for
// resolving a single Deferred marker without pulling the whole bundle body.
func (f *Fetcher) FetchRange(ctx context.Context, bundleID string, start, end int64) ([]byte, error) {
	url := fmt.Sprintf("%s/%s.raw", f.baseURL, bundleID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("bundle range fetch %s: %w", bundleID, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bundle range fetch %s: %w", bundleID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bundle range fetch %s [%d,%d): remote returned %d", bundleID, start, end, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("bundle range fetch %s: read body: %w", bundleID, err)
	}
	if int64(len(data)) != end-start {
		logger.Warnf("bundle range fetch %s [%d,%d): expected %d bytes, got %d", bundleID, start, end, end-start, len(data))
	}
	return data, nil
}

// decodeBody picks the decompressor by Content-Encoding: "br" means the
// body is Brotli-compressed on the wire (our transport, unlike a browser's
// fetch(), never auto-decodes it), anything else assumes the standard
// gzip encoding the bundle server always applies to *.data.gz bodies.
func decodeBody(contentEncoding string, raw []byte) ([]byte, error) {
	switch contentEncoding {
	case "br":
		r := brotli.NewReader(bytes.NewReader(raw))
		return io.ReadAll(r)
	default:
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		return io.ReadAll(gr)
	}
}
