// Package resolver implements the Resolver (C4): turning a LaTeX source
// document plus engine choice into the ordered set of bundle IDs required
// to compile it, and deciding which engine to use when the caller asks for
// "auto".
package resolver

import (
	"regexp"
	"strings"

	"github.com/gogotex/texfabric/internal/bundle"
)

var declaredDependencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\\usepackage(?:\[[^\]]*\])?\{([^}]*)\}`),
	regexp.MustCompile(`\\documentclass(?:\[[^\]]*\])?\{([^}]*)\}`),
	regexp.MustCompile(`\\RequirePackage(?:\[[^\]]*\])?\{([^}]*)\}`),
}

// PackageMap maps a LaTeX package (or class) name to the bundle ID that
// contains it.
type PackageMap map[string]string

// PackageDependencyGraph is the optional package-granularity dependency
// graph (spec.md §3: "same shape [as the bundle graph], at package
// granularity").
type PackageDependencyGraph map[string][]string

// Resolve implements spec.md §4.2's five-step algorithm: extract declared
// packages, seed with the engine's mandated bundles, look each package up
// (recursing on both bundle and package dependency edges), then filter to
// the registry.
func Resolve(source, engine string, pkgMap PackageMap, pkgGraph PackageDependencyGraph, bundleGraph bundle.DependencyGraph, registry bundle.Registry) []string {
	packages := extractDeclaredPackages(source)

	bundlesVisited := make(map[string]struct{})
	var ordered []string
	addBundle := func(id string) {
		if _, ok := bundlesVisited[id]; ok {
			return
		}
		bundlesVisited[id] = struct{}{}
		ordered = append(ordered, id)
	}

	var addBundleWithDeps func(id string)
	addBundleWithDeps = func(id string) {
		if _, already := bundlesVisited[id]; already {
			return
		}
		addBundle(id)
		if br, ok := bundleGraph.Bundles[id]; ok {
			for _, dep := range br.Requires {
				addBundleWithDeps(dep)
			}
		}
	}

	if eb, ok := bundleGraph.Engines[engine]; ok {
		for _, id := range eb.Required {
			addBundleWithDeps(id)
		}
	}

	packagesVisited := make(map[string]struct{})
	var visitPackage func(pkg string)
	visitPackage = func(pkg string) {
		if _, already := packagesVisited[pkg]; already {
			return
		}
		packagesVisited[pkg] = struct{}{}
		if id, ok := pkgMap[pkg]; ok {
			addBundleWithDeps(id)
		}
		if pkgGraph != nil {
			for _, dep := range pkgGraph[pkg] {
				visitPackage(dep)
			}
		}
	}
	for _, pkg := range packages {
		visitPackage(pkg)
	}

	out := make([]string, 0, len(ordered))
	for _, id := range ordered {
		if registry.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// extractDeclaredPackages scans source for \usepackage, \documentclass, and
// \RequirePackage, splitting their brace-list argument on commas. Options
// ([...]) are ignored; a document class is treated as a package.
func extractDeclaredPackages(source string) []string {
	var out []string
	for _, re := range declaredDependencyPatterns {
		for _, match := range re.FindAllStringSubmatch(source, -1) {
			for _, name := range strings.Split(match[1], ",") {
				name = strings.TrimSpace(name)
				if name != "" {
					out = append(out, name)
				}
			}
		}
	}
	return out
}
