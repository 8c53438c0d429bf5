// Package formatcache implements the Format Cache (C7): extracting a
// document's preamble, generating a serialised engine format file via
// ini-mode `\dump`, and persisting/retrieving that file keyed by
// (preamble_hash, engine).
package formatcache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/internal/engine"
	"github.com/gogotex/texfabric/internal/fingerprint"
)

const beginDocumentMarker = `\begin{document}`

// ExtractPreamble returns everything in source before the first
// \begin{document} (spec.md §4.5).
func ExtractPreamble(source string) string {
	if idx := strings.Index(source, beginDocumentMarker); idx >= 0 {
		return source[:idx]
	}
	return source
}

// PreambleHash fingerprints a preamble for format-cache lookups.
func PreambleHash(preamble string) uint64 { return fingerprint.DJB2(preamble) }

// cacheKey is the (preamble_hash, engine) pair stringified for use as a
// cache fabric key.
func cacheKey(hash uint64, eng string) string { return fmt.Sprintf("%d_%s", hash, eng) }

// Lookup returns a previously cached format blob for (preambleHash, engine),
// if one exists.
func Lookup(ctx context.Context, cache *cachefabric.Cache, preambleHash uint64, eng string) ([]byte, bool) {
	if cache == nil {
		return nil, false
	}
	data, ok, err := cache.Get(ctx, cachefabric.KindFmt, cacheKey(preambleHash, eng))
	if err != nil || !ok {
		return nil, false
	}
	return data, true
}

// Store persists a newly generated format blob through the cache fabric's
// KindFmt tier under the key <hash>_<engine>, so the blob-store object is
// fmt/<hash>_<engine> and its metadata is keyed by the same pair. No object
// is written under a fmt-cache/ prefix or with a .fmt suffix.
func Store(ctx context.Context, cache *cachefabric.Cache, preambleHash uint64, eng string, fmtBlob []byte) {
	if cache == nil {
		return
	}
	cache.Put(ctx, cachefabric.KindFmt, cacheKey(preambleHash, eng), fmtBlob)
}

// BuildIniSource produces the /myformat.ini contents: the preamble followed
// by \dump on its own line.
func BuildIniSource(preamble string) string {
	return preamble + "\n\\dump\n"
}

// Generate invokes the engine in ini mode to produce a fresh format file
// from vfsFiles (a VFS built identically to a compile VFS, per spec.md
// §4.5), bounded by the 300s format-generation cap.
func Generate(ctx context.Context, inv engine.Invoker, eng string, vfsFiles map[string][]byte) (engine.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, 300*time.Second)
	defer cancel()
	req := engine.FormatRequest(eng)
	return inv.Invoke(ctx, req, vfsFiles)
}
