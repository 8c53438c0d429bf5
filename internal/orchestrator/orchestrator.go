// Package orchestrator implements the Compile Orchestrator (C6): the
// INIT -> RESOLVE -> LOAD_BUNDLES -> BUILD_VFS -> RUN_ENGINE loop, with a
// DIAGNOSE branch that inspects a failed attempt's pending fetch requests
// and engine log to decide what to fetch next before retrying (spec.md
// §4.4). It is the one component that drives every other package built
// for the resource fabric.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogotex/texfabric/internal/bundle"
	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/internal/engine"
	"github.com/gogotex/texfabric/internal/fingerprint"
	"github.com/gogotex/texfabric/internal/formatcache"
	"github.com/gogotex/texfabric/internal/pkgfetch"
	"github.com/gogotex/texfabric/internal/resolver"
	"github.com/gogotex/texfabric/internal/vfs"
	"github.com/gogotex/texfabric/pkg/logger"
	"github.com/gogotex/texfabric/pkg/metrics"
)

// Bounds and caps from spec.md §4.4.
const (
	MaxRetries        = 10
	maxPackageFails   = 2
	packageFetchCap   = 60 * time.Second
	bundleFetchCap    = 60 * time.Second
	byteRangeFetchCap = 30 * time.Second
	wholeCompileCap   = 120 * time.Second
	formatGenCap      = 300 * time.Second
	texRoot           = "/texlive"
)

// Options configures one Compile call.
type Options struct {
	// Engine is "pdflatex", "xelatex", or "" / "auto" to detect from source.
	Engine string
	// UseCache, when false, skips the compiled-PDF and format cache lookups
	// (tests exercising the retry loop want a clean slate every time); a
	// successful result is still written to the cache.
	UseCache bool
}

// Result is the outcome of one Compile call.
type Result struct {
	Success    bool
	ExitCode   int
	Log        string
	PDF        []byte
	PDFHashHex string // sha256 of PDF, for content-addressed storage/dedup
	Aux        map[string][]byte
	Engine     string
	Retries    int
}

// Orchestrator ties together every resource-fabric component built to
// satisfy one compile request.
type Orchestrator struct {
	cache         *cachefabric.Cache
	bundleFetcher *bundle.Fetcher
	manifests     vfs.BundleSource
	pkgFetcher    *pkgfetch.Fetcher
	invoker       engine.Invoker

	pkgMap      resolver.PackageMap
	pkgGraph    resolver.PackageDependencyGraph
	bundleGraph bundle.DependencyGraph
	registry    bundle.Registry
}

// New builds an Orchestrator from its collaborators. manifests is typically
// a *bundle.ManifestStore; pkgMap/pkgGraph/bundleGraph/registry are the
// static resolver inputs loaded once at startup.
func New(
	cache *cachefabric.Cache,
	bundleFetcher *bundle.Fetcher,
	manifests vfs.BundleSource,
	pkgFetcher *pkgfetch.Fetcher,
	invoker engine.Invoker,
	pkgMap resolver.PackageMap,
	pkgGraph resolver.PackageDependencyGraph,
	bundleGraph bundle.DependencyGraph,
	registry bundle.Registry,
) *Orchestrator {
	return &Orchestrator{
		cache:         cache,
		bundleFetcher: bundleFetcher,
		manifests:     manifests,
		pkgFetcher:    pkgFetcher,
		invoker:       invoker,
		pkgMap:        pkgMap,
		pkgGraph:      pkgGraph,
		bundleGraph:   bundleGraph,
		registry:      registry,
	}
}

var microtypePattern = regexp.MustCompile(`\\usepackage(?:\[[^\]]*\])?\{[^}]*\bmicrotype\b[^}]*\}`)
var documentClassPattern = regexp.MustCompile(`\\documentclass`)

// injectMicrotypeWorkaround applies spec.md §4.4's source rewrite: a
// document using microtype gets expansion disabled before the first
// attempt, since font expansion needs .pfb data the sandbox may not have.
func injectMicrotypeWorkaround(source string) string {
	if !microtypePattern.MatchString(source) {
		return source
	}
	loc := documentClassPattern.FindStringIndex(source)
	if loc == nil {
		return source
	}
	const rewrite = "\\PassOptionsToPackage{expansion=false}{microtype}\n"
	return source[:loc[0]] + rewrite + source[loc[0]:]
}

const beginDocumentMarker = `\begin{document}`

func truncateToBody(source string) string {
	if idx := strings.Index(source, beginDocumentMarker); idx >= 0 {
		return source[idx:]
	}
	return source
}

func documentCacheKey(engineName string, source string) string {
	return fmt.Sprintf("%s/%d", engineName, fingerprint.DJB2(engineName+"\x00"+source))
}

// fetchSession carries the mutable state shared across retries within one
// Compile or GenerateFormat call: the accumulated bundle bodies, byte-range
// cache, externally fetched package files, and per-package failure counts
// (spec.md §5: "the engine context's bundle-body map is the only shared
// data structure across retries"). Compile and GenerateFormat both drive a
// session through the same LOAD_BUNDLES/BUILD_VFS/DIAGNOSE steps.
type fetchSession struct {
	o *Orchestrator

	engineName string
	bundleIDs  []string

	deferredSet map[string]struct{}
	conflicting map[string]struct{}

	bundleBodies       map[string][]byte
	externalRangeCache map[vfs.PendingRange][]byte
	externalFiles      map[string][]byte
	packageFails       map[string]int
	resolvedPackages   map[string]struct{}
}

func (o *Orchestrator) newSession(source, engineName string) *fetchSession {
	bundleIDs := resolver.Resolve(source, engineName, o.pkgMap, o.pkgGraph, o.bundleGraph, o.registry)
	conflicting := make(map[string]struct{})
	for _, id := range o.bundleGraph.ConflictingDeferred(engineName) {
		conflicting[id] = struct{}{}
	}
	return &fetchSession{
		o:                  o,
		engineName:         engineName,
		bundleIDs:          bundleIDs,
		deferredSet:        o.bundleGraph.DeferredSet(),
		conflicting:        conflicting,
		bundleBodies:       make(map[string][]byte),
		externalRangeCache: make(map[vfs.PendingRange][]byte),
		externalFiles:      make(map[string][]byte),
		packageFails:       make(map[string]int),
		resolvedPackages:   make(map[string]struct{}),
	}
}

func (s *fetchSession) isDeferredBundle(id string) bool {
	if _, conflict := s.conflicting[id]; conflict {
		return false
	}
	_, deferred := s.deferredSet[id]
	return deferred
}

// loadBundles fetches every resolved, non-deferred bundle not yet resident,
// in parallel (spec.md §5: "the host may initiate parallel bundle and
// package fetches"). A bundle that fails to fetch is simply left absent;
// buildVFS falls back to mounting it as deferred so diagnosis gets another
// chance at it next attempt.
func (s *fetchSession) loadBundles(ctx context.Context) {
	var pending []string
	for _, id := range s.bundleIDs {
		if s.isDeferredBundle(id) {
			continue
		}
		if _, resident := s.bundleBodies[id]; resident {
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return
	}

	bodies := make([][]byte, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range pending {
		i, id := i, id
		g.Go(func() error {
			body, err := s.o.fetchBundle(gctx, id)
			if err != nil {
				logger.Warnf("orchestrator: bundle fetch %s failed: %v", id, err)
				return nil
			}
			bodies[i] = body
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range pending {
		if bodies[i] != nil {
			s.bundleBodies[id] = bodies[i]
		}
	}
}

// buildVFS mounts every resolved bundle (required bundles eagerly when
// their body is resident, deferred-marker otherwise), the externally
// fetched package files, and the extra files the caller supplies.
func (s *fetchSession) buildVFS(extra map[string][]byte) *vfs.VFS {
	v := vfs.New(texRoot, s.bundleBodies, s.externalRangeCache)
	for _, id := range s.bundleIDs {
		files := s.o.manifests.Files(id)
		switch {
		case s.isDeferredBundle(id):
			v.MountDeferredBundle(id, files)
		case s.bundleBodies[id] != nil:
			if err := v.MountBundle(id, s.bundleBodies[id], files); err != nil {
				logger.Warnf("orchestrator: mount bundle %s: %v", id, err)
			}
		default:
			// Could not fetch eagerly; mount as deferred so a failed read
			// records a pending-bundle request for the next diagnosis round
			// instead of silently omitting the files.
			v.MountDeferredBundle(id, files)
		}
	}
	v.MountExternalFiles(s.externalFiles)
	for path, data := range extra {
		v.Mount(path, data)
	}
	v.Finalize()
	return v
}

// Compile runs the INIT -> RESOLVE -> LOAD_BUNDLES -> BUILD_VFS -> RUN_ENGINE
// loop to completion, retrying through DIAGNOSE up to MaxRetries times.
func (o *Orchestrator) Compile(ctx context.Context, source string, opts Options) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, wholeCompileCap)
	defer cancel()

	start := time.Now()
	engineName := opts.Engine
	if engineName == "" || engineName == "auto" {
		engineName = resolver.DetectEngine(source)
	}
	observe := func(outcome string, retries int) {
		metrics.CompileDuration.WithLabelValues(engineName, outcome).Observe(time.Since(start).Seconds())
		metrics.CompileRetries.WithLabelValues(engineName).Observe(float64(retries))
	}

	if opts.UseCache && o.cache != nil {
		docKey := documentCacheKey(engineName, source)
		if pdf, ok, _ := o.cache.Get(ctx, cachefabric.KindDoc, docKey); ok {
			metrics.CacheHits.WithLabelValues(string(cachefabric.KindDoc)).Inc()
			observe("cache_hit", 0)
			return Result{Success: true, ExitCode: 0, PDF: pdf, PDFHashHex: hashHex(pdf), Engine: engineName}, nil
		}
		metrics.CacheMisses.WithLabelValues(string(cachefabric.KindDoc)).Inc()
	}

	preamble := formatcache.ExtractPreamble(source)
	preambleHash := formatcache.PreambleHash(preamble)

	attemptSource := source
	var cachedFmt []byte
	useFormat := false
	if opts.UseCache {
		if blob, ok := formatcache.Lookup(ctx, o.cache, preambleHash, engineName); ok {
			cachedFmt = blob
			useFormat = true
			attemptSource = truncateToBody(source)
		}
	}
	if !useFormat {
		attemptSource = injectMicrotypeWorkaround(attemptSource)
	}

	s := o.newSession(attemptSource, engineName)
	var lastResult engine.Result

	for attempt := 0; attempt < MaxRetries; attempt++ {
		s.loadBundles(ctx)

		extra := map[string][]byte{"document.tex": []byte(attemptSource)}
		if useFormat {
			extra["custom.fmt"] = cachedFmt
		}
		v := s.buildVFS(extra)

		fmtPath := ""
		if useFormat {
			fmtPath = "/custom.fmt"
		}
		req := engine.CompileRequest(engineName, fmtPath)
		result, err := o.invoker.Invoke(ctx, req, v.Snapshot())
		if err != nil {
			return Result{}, fmt.Errorf("orchestrator: engine invoke: %w", err)
		}
		lastResult = result

		if result.ExitCode == 0 && len(result.PDF) > 0 {
			out := Result{
				Success:    true,
				ExitCode:   0,
				Log:        result.Log,
				PDF:        result.PDF,
				PDFHashHex: hashHex(result.PDF),
				Aux:        result.Aux,
				Engine:     engineName,
				Retries:    attempt,
			}
			o.cachePDF(ctx, engineName, source, preambleHash, useFormat, out)
			observe("success", attempt)
			return out, nil
		}

		if !s.diagnoseAndFetch(ctx, v, result.Log) {
			observe("no_progress", attempt)
			return Result{Success: false, ExitCode: result.ExitCode, Log: result.Log, Engine: engineName, Retries: attempt}, nil
		}
	}

	observe("max_retries", MaxRetries)
	return Result{Success: false, ExitCode: lastResult.ExitCode, Log: lastResult.Log, Engine: engineName, Retries: MaxRetries}, nil
}

// GenerateFormat builds a VFS identical to a compile attempt's (same
// resolver, same bundles) for source's preamble and invokes the engine in
// ini mode to produce a serialised format file, applying the same
// diagnose/retry loop as Compile on a missing-package failure (spec.md
// §4.5). On success the blob is persisted in the format cache.
func (o *Orchestrator) GenerateFormat(ctx context.Context, source string, engineName string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, formatGenCap)
	defer cancel()

	if engineName == "" || engineName == "auto" {
		engineName = resolver.DetectEngine(source)
	}
	preamble := formatcache.ExtractPreamble(source)
	preambleHash := formatcache.PreambleHash(preamble)

	s := o.newSession(preamble, engineName)
	iniSource := formatcache.BuildIniSource(preamble)

	var lastResult engine.Result
	for attempt := 0; attempt < MaxRetries; attempt++ {
		s.loadBundles(ctx)
		v := s.buildVFS(map[string][]byte{"myformat.ini": []byte(iniSource)})

		result, err := formatcache.Generate(ctx, o.invoker, engineName, v.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("orchestrator: format generation: %w", err)
		}
		lastResult = result

		if result.ExitCode == 0 && len(result.Fmt) > 0 {
			formatcache.Store(ctx, o.cache, preambleHash, engineName, result.Fmt)
			return result.Fmt, nil
		}

		if !s.diagnoseAndFetch(ctx, v, result.Log) {
			return nil, fmt.Errorf("orchestrator: format generation failed, exit code %d: %s", lastResult.ExitCode, lastResult.Log)
		}
	}
	return nil, fmt.Errorf("orchestrator: format generation exceeded %d retries", MaxRetries)
}

// diagnoseAndFetch implements the DIAGNOSE branch: pending byte ranges,
// then pending deferred bundles, then a log scan for a missing-file
// pattern. Returns true if it made progress worth another RUN_ENGINE
// attempt.
func (s *fetchSession) diagnoseAndFetch(ctx context.Context, v *vfs.VFS, log string) bool {
	o := s.o
	progressed := false

	for _, rng := range v.PendingRanges() {
		rangeCtx, cancel := context.WithTimeout(ctx, byteRangeFetchCap)
		data, err := o.bundleFetcher.FetchRange(rangeCtx, rng.BundleID, rng.Start, rng.End)
		cancel()
		if err != nil {
			logger.Warnf("orchestrator: byte-range fetch %s [%d,%d): %v", rng.BundleID, rng.Start, rng.End, err)
			continue
		}
		s.externalRangeCache[rng] = data
		progressed = true
	}
	if progressed {
		return true
	}

	for _, pb := range v.PendingBundles() {
		body, err := o.fetchBundle(ctx, pb.BundleID)
		if err != nil {
			logger.Warnf("orchestrator: deferred bundle fetch %s: %v", pb.BundleID, err)
			continue
		}
		s.bundleBodies[pb.BundleID] = body
		progressed = true
	}
	if progressed {
		return true
	}

	filename, matched := scanMissingFile(log)
	if !matched || filename == "" {
		return false
	}
	pkg := normalizePackageName(filename)
	if s.packageFails[pkg] >= maxPackageFails {
		return false
	}

	return s.resolvePackage(ctx, pkg)
}

// resolvePackage fetches pkg — via its mapped bundle if the resolver's
// package map names one, otherwise via the remote package fetcher — and,
// on a remote fetch, recurses on every declared dependency the fetcher
// reports (spec.md §4.2 step 3 / §4.6-C3: "returns ... dependencies" so the
// orchestrator can resolve them transitively). visited packages are
// skipped to guard against dependency cycles; packageFails bounds retries
// of a single package the same way a directly missing file would be.
func (s *fetchSession) resolvePackage(ctx context.Context, pkg string) bool {
	o := s.o
	if _, visited := s.resolvedPackages[pkg]; visited {
		return false
	}
	s.resolvedPackages[pkg] = struct{}{}

	if id, ok := o.pkgMap[pkg]; ok {
		if _, resident := s.bundleBodies[id]; !resident {
			body, err := o.fetchBundle(ctx, id)
			if err != nil {
				s.packageFails[pkg]++
				logger.Warnf("orchestrator: fetch bundle %s for package %s: %v", id, pkg, err)
				return false
			}
			s.bundleBodies[id] = body
			s.bundleIDs = appendIfMissing(s.bundleIDs, id)
			return true
		}
		return false
	}

	if s.packageFails[pkg] >= maxPackageFails {
		return false
	}

	pkgCtx, cancel := context.WithTimeout(ctx, packageFetchCap)
	defer cancel()
	res, err := o.pkgFetcher.Fetch(pkgCtx, pkg)
	if err != nil {
		s.packageFails[pkg]++
		logger.Warnf("orchestrator: remote package fetch %s: %v", pkg, err)
		return false
	}
	for p, data := range res.Files {
		s.externalFiles[p] = data
	}

	for _, dep := range res.Dependencies {
		if !s.resolvePackage(ctx, dep) {
			logger.Debugf("orchestrator: dependency %s of package %s already resolved or unavailable", dep, pkg)
		}
	}
	return true
}

func (o *Orchestrator) fetchBundle(ctx context.Context, id string) ([]byte, error) {
	bundleCtx, cancel := context.WithTimeout(ctx, bundleFetchCap)
	defer cancel()
	return o.bundleFetcher.Fetch(bundleCtx, id)
}

func appendIfMissing(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// cachePDF persists the compiled PDF keyed by (engine, source) and the
// aux-file set keyed by (preamble_hash, format-state), fire-and-forget per
// spec.md §4.1.
func (o *Orchestrator) cachePDF(ctx context.Context, engineName, source string, preambleHash uint64, usedFormat bool, result Result) {
	if o.cache == nil {
		return
	}
	o.cache.Put(ctx, cachefabric.KindDoc, documentCacheKey(engineName, source), result.PDF)

	if len(result.Aux) == 0 {
		return
	}
	auxBlob, err := json.Marshal(result.Aux)
	if err != nil {
		logger.Warnf("orchestrator: marshal aux set: %v", err)
		return
	}
	formatMarker := "nofmt"
	if usedFormat {
		formatMarker = "fmt"
	}
	auxKey := fmt.Sprintf("%d_%s_%s", preambleHash, engineName, formatMarker)
	o.cache.Put(ctx, cachefabric.KindAux, auxKey, auxBlob)
}
