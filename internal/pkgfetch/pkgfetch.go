// Package pkgfetch implements the Package Fetcher (C3): given a LaTeX
// package name, resolves its files into the engine's VFS namespace and
// reports its declared dependencies, trying a compressed TAR archive
// endpoint first and a JSON endpoint second.
package pkgfetch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gogotex/texfabric/internal/cachefabric"
	"github.com/gogotex/texfabric/pkg/logger"
)

// Result is one package fetch's output: VFS-namespaced files plus whatever
// dependencies the source declared.
type Result struct {
	Files        map[string][]byte
	Dependencies []string
}

// Fetcher resolves packages via the archive endpoint, then the JSON
// endpoint, with container-name resolution as a last resort, persisting
// results (including not_found markers) into the cache fabric.
type Fetcher struct {
	baseURL string
	client  *http.Client
	cache   *cachefabric.Cache
}

func NewFetcher(baseURL string, client *http.Client, cache *cachefabric.Cache) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{baseURL: baseURL, client: client, cache: cache}
}

// Fetch resolves pkg. It checks the not_found negative cache first, then
// tries the archive endpoint, then the JSON endpoint, then (on failure of
// both) the container-resolution endpoint with a single retry under the
// resolved name.
func (f *Fetcher) Fetch(ctx context.Context, pkg string) (*Result, error) {
	if f.cache != nil && f.cache.IsNotFound(ctx, cachefabric.KindCTAN, pkg) {
		return nil, fmt.Errorf("pkgfetch %s: previously marked not_found", pkg)
	}

	res, err := f.fetchArchive(ctx, pkg)
	if err == nil {
		f.persist(ctx, pkg, res)
		return res, nil
	}
	logger.Debugf("pkgfetch %s: archive endpoint failed: %v", pkg, err)

	res, err = f.fetchJSON(ctx, pkg)
	if err == nil {
		f.persist(ctx, pkg, res)
		return res, nil
	}
	logger.Debugf("pkgfetch %s: json endpoint failed: %v", pkg, err)

	container, cerr := f.resolveContainer(ctx, pkg)
	if cerr == nil && container != "" && container != pkg {
		logger.Infof("pkgfetch %s: retrying under container name %s", pkg, container)
		res, err = f.fetchArchive(ctx, container)
		if err != nil {
			res, err = f.fetchJSON(ctx, container)
		}
		if err == nil {
			f.persist(ctx, pkg, res)
			return res, nil
		}
	}

	if f.cache != nil {
		f.cache.MarkNotFound(ctx, cachefabric.KindCTAN, pkg)
	}
	return nil, fmt.Errorf("pkgfetch %s: not found via archive, json, or container resolution", pkg)
}

func (f *Fetcher) persist(ctx context.Context, pkg string, res *Result) {
	if f.cache == nil {
		return
	}
	for path, data := range res.Files {
		f.cache.Put(ctx, cachefabric.KindCTAN, pkg+"/"+path, data)
	}
}
