// Package fabric is the resource fabric's public library surface: Init,
// Compile, GenerateFormat, ClearCache, Terminate, Unload (spec.md §6,
// "External Interfaces — Library API"). It wires every internal component
// (cache fabric, bundle/package fetchers, resolver, orchestrator) from a
// single Config and exposes the compile/format operations a host embeds.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/gogotex/texfabric/internal/bundle"
	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/internal/config"
	"github.com/gogotex/texfabric/internal/engine"
	"github.com/gogotex/texfabric/internal/orchestrator"
	"github.com/gogotex/texfabric/internal/pkgfetch"
	"github.com/gogotex/texfabric/internal/resolver"
	"github.com/gogotex/texfabric/pkg/logger"
)

// Config bundles everything Init needs: the fabric/durable-tier settings
// loaded by config.LoadConfig, the directory holding the static resolver
// data (package-map.json, bundle-deps.json, file-manifest.json,
// registry.json, the optional package-deps.json), and an optional Invoker
// override for tests or a non-DevAdapter engine binding.
type Config struct {
	Fabric  config.FabricConfig
	MongoDB config.MongoDBConfig
	Minio   config.MinioConfig
	Redis   config.RedisConfig

	// StaticDataDir holds the resolver's static JSON inputs, loaded once
	// at Init (spec.md §3: "Manifests: loaded once at init, immutable").
	StaticDataDir string

	// HistoryDir, if set, makes every compile/format attempt persist a
	// JSON record under it (see cachefabric.History). Empty disables
	// history persistence entirely.
	HistoryDir string

	// Invoker overrides the engine binding; nil defaults to
	// &engine.DevAdapter{}, which shells out to a local TeX Live install.
	Invoker engine.Invoker
	// HTTPClient overrides the client used for every bundle/package fetch;
	// nil defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Unloader is implemented by an Invoker that holds an engine image loaded
// in memory (a real sandboxed WASM binding would); Fabric.Unload calls it
// if present.
type Unloader interface {
	Unload() error
}

// Fabric is one initialised resource fabric: the live orchestrator plus
// the durable connections Terminate must close.
type Fabric struct {
	orch    *orchestrator.Orchestrator
	cache   *cachefabric.Cache
	invoker engine.Invoker
	history *cachefabric.History

	redisClient *redis.Client
	mongoClient *mongo.Client
}

// Init builds every collaborator and returns a ready Fabric. Durable tiers
// are entirely optional: an empty Minio.Endpoint skips the blob store, an
// empty MongoDB.URI skips the metadata store, an empty Redis.Host skips
// the Redis tier — the cache fabric degrades to a memory-only overlay
// rather than failing (spec.md §4.1's tiers are all nil-safe).
func Init(ctx context.Context, cfg Config) (*Fabric, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	invoker := cfg.Invoker
	if invoker == nil {
		invoker = &engine.DevAdapter{}
	}

	var blobStore *cachefabric.BlobStore
	if cfg.Minio.Endpoint != "" {
		bs, err := cachefabric.NewBlobStore(&cachefabric.BlobConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Bucket:    cfg.Minio.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("fabric: init blob store: %w", err)
		}
		blobStore = bs
	}

	var metaStore *cachefabric.MetadataStore
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		mc, err := cachefabric.Connect(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
		if err != nil {
			return nil, fmt.Errorf("fabric: init metadata store: %w", err)
		}
		mongoClient = mc
		metaStore = cachefabric.NewMetadataStore(mc, cfg.MongoDB.Database)
	}

	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("fabric: redis ping failed, continuing without the redis tier: %v", err)
			redisClient = nil
		}
	}

	cache, err := cachefabric.New(ctx, cachefabric.Config{
		Blob:     blobStore,
		Metadata: metaStore,
		Redis:    redisClient,
		Versions: cachefabric.Versions{
			CTAN:   cfg.Fabric.CacheVersionCTAN,
			Bundle: cfg.Fabric.CacheVersionBundle,
			WASM:   cfg.Fabric.CacheVersionWASM,
			Aux:    cfg.Fabric.CacheVersionAux,
			Doc:    cfg.Fabric.CacheVersionDoc,
			Fmt:    cfg.Fabric.CacheVersionFmt,
		},
		PDFOverlayN: cfg.Fabric.PDFOverlayEntries,
		AuxOverlayN: cfg.Fabric.AuxOverlayEntries,
		FmtOverlayN: cfg.Fabric.FmtOverlayEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("fabric: init cache fabric: %w", err)
	}

	static, err := loadStaticData(cfg.StaticDataDir)
	if err != nil {
		return nil, fmt.Errorf("fabric: load static resolver data: %w", err)
	}

	manifests := bundle.NewManifestStore(static.globalManifest, cfg.Fabric.BundlesBaseURL, httpClient)
	bundleFetcher := bundle.NewFetcher(cfg.Fabric.BundlesBaseURL, httpClient, cache)
	pkgFetcher := pkgfetch.NewFetcher(cfg.Fabric.PackagesBaseURL, httpClient, cache)
	registry := bundle.NewRegistry(static.registryIDs)

	orch := orchestrator.New(cache, bundleFetcher, manifests, pkgFetcher, invoker,
		static.packageMap, static.packageGraph, static.bundleGraph, registry)

	return &Fabric{
		orch:        orch,
		cache:       cache,
		invoker:     invoker,
		history:     cachefabric.NewHistory(cfg.HistoryDir),
		redisClient: redisClient,
		mongoClient: mongoClient,
	}, nil
}

// History returns the compile-history recorder so callers (internal/api)
// can persist a record per request alongside the Result/error it returns.
func (f *Fabric) History() *cachefabric.History {
	return f.history
}

// Compile runs one document through the compile orchestrator. A
// success=false result is also surfaced as a typed error (NoProgressError
// or CapExceededError) so callers can branch with errors.As, while the
// Result itself always carries the engine's exit code and log per spec.md
// §7's "user-visible failures always include the engine's log" policy.
func (f *Fabric) Compile(ctx context.Context, source string, opts orchestrator.Options) (orchestrator.Result, error) {
	result, err := f.orch.Compile(ctx, source, opts)
	if err != nil {
		return result, err
	}
	if !result.Success {
		if result.Retries >= orchestrator.MaxRetries {
			return result, &CapExceededError{Cap: "retries"}
		}
		return result, &NoProgressError{ExitCode: result.ExitCode, Log: result.Log}
	}
	return result, nil
}

// GenerateFormat produces a serialised engine format file for source's
// preamble, persisting it in the format cache on success.
func (f *Fabric) GenerateFormat(ctx context.Context, source string, engineName string) ([]byte, error) {
	return f.orch.GenerateFormat(ctx, source, engineName)
}

// ClearCache evicts every cache-fabric tier (spec.md §7 ClearCache).
func (f *Fabric) ClearCache(ctx context.Context) error {
	return f.cache.ClearAll(ctx)
}

// Terminate closes every durable connection Init opened. The orchestrator
// itself holds no connections worth closing — each compile attempt gets a
// fresh engine instance by construction (spec.md §9 "Retry without engine
// reuse").
func (f *Fabric) Terminate(ctx context.Context) error {
	var firstErr error
	if f.redisClient != nil {
		if err := f.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fabric: close redis: %w", err)
		}
	}
	if f.mongoClient != nil {
		if err := f.mongoClient.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("fabric: close mongodb: %w", err)
		}
	}
	return firstErr
}

// Unload releases the engine image if the bound Invoker holds one in
// memory; the default DevAdapter spawns a subprocess per call and has
// nothing to release, so this is a no-op for it.
func (f *Fabric) Unload() error {
	if u, ok := f.invoker.(Unloader); ok {
		return u.Unload()
	}
	return nil
}

type staticData struct {
	packageMap     resolver.PackageMap
	packageGraph   resolver.PackageDependencyGraph
	bundleGraph    bundle.DependencyGraph
	globalManifest bundle.GlobalManifest
	registryIDs    []string
}

type bundleDescriptor struct {
	ID string `json:"id"`
}

// loadStaticData reads the five JSON inputs named in spec.md §6 ("Global
// manifests"). package-deps.json is optional; every other file is
// required since the resolver cannot run without them.
func loadStaticData(dir string) (staticData, error) {
	var out staticData

	if err := readJSON(filepath.Join(dir, "package-map.json"), &out.packageMap); err != nil {
		return out, err
	}
	if err := readJSON(filepath.Join(dir, "bundle-deps.json"), &out.bundleGraph); err != nil {
		return out, err
	}
	if err := readJSON(filepath.Join(dir, "file-manifest.json"), &out.globalManifest); err != nil {
		return out, err
	}

	var descriptors []bundleDescriptor
	if err := readJSON(filepath.Join(dir, "registry.json"), &descriptors); err != nil {
		return out, err
	}
	out.registryIDs = make([]string, len(descriptors))
	for i, d := range descriptors {
		out.registryIDs[i] = d.ID
	}

	depsPath := filepath.Join(dir, "package-deps.json")
	if _, err := os.Stat(depsPath); err == nil {
		if err := readJSON(depsPath, &out.packageGraph); err != nil {
			return out, err
		}
	} else {
		out.packageGraph = resolver.PackageDependencyGraph{}
	}

	return out, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

