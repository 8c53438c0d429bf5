package cachefabric

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gogotex/texfabric/pkg/logger"
)

// Kind names one of the six logical caches named in spec.md §4.1:
// "Each logical cache carries an integer version (CTAN, BUNDLE, WASM, AUX,
// DOC, FMT)."
type Kind string

const (
	KindCTAN   Kind = "ctan"   // CTAN package metadata / not_found markers
	KindBundle Kind = "bundle" // bundle bodies
	KindWASM   Kind = "wasm"   // compiled engine image
	KindAux    Kind = "aux"    // auxiliary-file sets keyed by preamble hash
	KindDoc    Kind = "doc"    // compiled PDFs keyed by (document_hash, engine)
	KindFmt    Kind = "fmt"    // format files keyed by (preamble_hash, engine)
)

// Versions holds the code's current version integer for each logical cache.
// Bumping one of these forces a wholesale eviction of that tier the next
// time Cache opens against a store stamped with an older value.
type Versions struct {
	CTAN   int
	Bundle int
	WASM   int
	Aux    int
	Doc    int
	Fmt    int
}

func (v Versions) of(k Kind) int {
	switch k {
	case KindCTAN:
		return v.CTAN
	case KindBundle:
		return v.Bundle
	case KindWASM:
		return v.WASM
	case KindAux:
		return v.Aux
	case KindDoc:
		return v.Doc
	case KindFmt:
		return v.Fmt
	default:
		return 0
	}
}

// Cache is the persistent cache fabric (C1): a memory overlay in front of a
// durable blob store and metadata store, with per-kind integer versioning.
// Reads hit the overlay first, then Redis (if configured), then the blob
// store; a hit at any tier backfills the faster tiers above it.
type Cache struct {
	blob     *BlobStore
	meta     *MetadataStore
	redis    *redis.Client
	versions Versions

	mem map[Kind]*overlay
}

// Config bundles everything needed to stand up the fabric's durable tiers
// plus the in-process memory overlay's bound for the PDF cache.
type Config struct {
	Blob         *BlobStore
	Metadata     *MetadataStore
	Redis        *redis.Client // optional; nil disables the Redis tier
	Versions     Versions
	PDFOverlayN  int // LRU bound for compiled-PDF overlay entries; spec floor is 10
	AuxOverlayN  int
	FmtOverlayN  int
}

// New builds the cache fabric and ensures every tier is stamped with the
// current version, evicting stale generations as needed.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.PDFOverlayN < 10 {
		cfg.PDFOverlayN = 10
	}
	c := &Cache{
		blob:     cfg.Blob,
		meta:     cfg.Metadata,
		redis:    cfg.Redis,
		versions: cfg.Versions,
		mem: map[Kind]*overlay{
			KindCTAN:   newOverlay(0),
			KindBundle: newOverlay(0),
			KindWASM:   newOverlay(0),
			KindAux:    newOverlay(cfg.AuxOverlayN),
			KindDoc:    newOverlay(cfg.PDFOverlayN),
			KindFmt:    newOverlay(cfg.FmtOverlayN),
		},
	}
	for _, k := range []Kind{KindCTAN, KindBundle, KindWASM, KindAux, KindDoc, KindFmt} {
		if err := c.ensureVersion(ctx, k); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func versionMarkerKey(k Kind) string { return "_version:" + string(k) }

// ensureVersion implements "on open, if the stored version is lower than
// the code's version, the tier is cleared and re-stamped" (spec.md §4.1).
func (c *Cache) ensureVersion(ctx context.Context, k Kind) error {
	if c.meta == nil {
		return nil
	}
	current := c.versions.of(k)
	entry, err := c.meta.Get(ctx, versionMarkerKey(k))
	if err != nil {
		return err
	}
	if entry != nil && entry.Version >= current {
		return nil
	}
	if entry != nil {
		logger.Warnf("cache fabric: %s tier version %d < %d, evicting", k, entry.Version, current)
		if err := c.evictKind(ctx, k); err != nil {
			return err
		}
	}
	now := time.Now()
	return c.meta.Upsert(ctx, &Entry{Key: versionMarkerKey(k), Kind: "version", Version: current, CreatedAt: now, UpdatedAt: now})
}

func (c *Cache) evictKind(ctx context.Context, k Kind) error {
	c.mem[k].Clear()
	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, string(k)+":*", 0).Iterator()
		for iter.Next(ctx) {
			c.redis.Del(ctx, iter.Val())
		}
	}
	if c.blob != nil {
		if err := c.blob.DeletePrefix(ctx, string(k)+"/"); err != nil {
			logger.Warnf("cache fabric: evict blob prefix %s: %v", k, err)
		}
	}
	if c.meta != nil {
		if _, err := c.meta.DeleteByKindBelowVersion(ctx, string(k), c.versions.of(k)+1); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves key through overlay -> Redis -> blob store, backfilling
// faster tiers on a hit. Returns a defensive copy in every case.
func (c *Cache) Get(ctx context.Context, kind Kind, key string) ([]byte, bool, error) {
	if data, ok := c.mem[kind].Get(key); ok {
		return data, true, nil
	}
	if c.redis != nil {
		data, err := c.redis.Get(ctx, string(kind)+":"+key).Bytes()
		if err == nil {
			c.mem[kind].Put(key, data)
			out := make([]byte, len(data))
			copy(out, data)
			return out, true, nil
		}
		if err != redis.Nil {
			logger.Warnf("cache fabric: redis get %s/%s: %v", kind, key, err)
		}
	}
	if c.blob == nil {
		return nil, false, nil
	}
	data, ok, err := c.blob.Get(ctx, blobKey(kind, key))
	if err != nil || !ok {
		return nil, false, err
	}
	c.mem[kind].Put(key, data)
	if c.redis != nil {
		c.redis.Set(ctx, string(kind)+":"+key, data, 0)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Put is fire-and-forget into the durable tiers (spec.md §4.1: "failure to
// persist is logged but never fails the compile") but synchronous into the
// memory overlay so the current process sees its own write immediately.
func (c *Cache) Put(ctx context.Context, kind Kind, key string, data []byte) {
	c.mem[kind].Put(key, data)
	if c.redis != nil {
		if err := c.redis.Set(ctx, string(kind)+":"+key, data, 0).Err(); err != nil {
			logger.Warnf("cache fabric: redis put %s/%s: %v", kind, key, err)
		}
	}
	if c.blob != nil {
		if err := c.blob.Put(ctx, blobKey(kind, key), data, "application/octet-stream"); err != nil {
			logger.Warnf("cache fabric: blob put %s/%s: %v", kind, key, err)
		}
	}
	if c.meta != nil {
		now := time.Now()
		entry := &Entry{Key: metaKey(kind, key), Kind: string(kind), Version: c.versions.of(kind), Size: int64(len(data)), CreatedAt: now, UpdatedAt: now}
		if err := c.meta.Upsert(ctx, entry); err != nil {
			logger.Warnf("cache fabric: metadata upsert %s/%s: %v", kind, key, err)
		}
	}
}

// MarkNotFound records a negative-cache marker so a guaranteed-failing
// fetch is skipped on the next compile attempt (spec.md §4.1).
func (c *Cache) MarkNotFound(ctx context.Context, kind Kind, key string) {
	if c.meta == nil {
		return
	}
	now := time.Now()
	entry := &Entry{Key: metaKey(kind, key), Kind: string(kind), Version: c.versions.of(kind), NotFound: true, CreatedAt: now, UpdatedAt: now}
	if err := c.meta.Upsert(ctx, entry); err != nil {
		logger.Warnf("cache fabric: mark not_found %s/%s: %v", kind, key, err)
	}
}

// IsNotFound reports whether key carries a negative-cache marker for kind.
func (c *Cache) IsNotFound(ctx context.Context, kind Kind, key string) bool {
	if c.meta == nil {
		return false
	}
	entry, err := c.meta.Get(ctx, metaKey(kind, key))
	if err != nil || entry == nil {
		return false
	}
	return entry.NotFound
}

// ClearAll evicts every tier entirely, for the explicit cache-clear
// operation (spec.md §7 ClearCache).
func (c *Cache) ClearAll(ctx context.Context) error {
	for _, k := range []Kind{KindCTAN, KindBundle, KindWASM, KindAux, KindDoc, KindFmt} {
		if err := c.evictKind(ctx, k); err != nil {
			return err
		}
		now := time.Now()
		if c.meta != nil {
			if err := c.meta.Upsert(ctx, &Entry{Key: versionMarkerKey(k), Kind: "version", Version: c.versions.of(k), CreatedAt: now, UpdatedAt: now}); err != nil {
				return err
			}
		}
	}
	return nil
}

func blobKey(kind Kind, key string) string { return string(kind) + "/" + key }
func metaKey(kind Kind, key string) string { return string(kind) + ":" + key }
