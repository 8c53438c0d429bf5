package resolver

import (
	"testing"

	"github.com/gogotex/texfabric/internal/bundle"
	"github.com/stretchr/testify/require"
)

func TestResolveExtractsDeclaredPackagesAndFollowsBundleDeps(t *testing.T) {
	source := `\documentclass[11pt]{article}
\usepackage[utf8]{inputenc}
\usepackage{amsmath, amssymb}
\begin{document}
hello
\end{document}`

	pkgMap := PackageMap{
		"article":  "base",
		"inputenc": "base",
		"amsmath":  "amsmath-bundle",
		"amssymb":  "amsmath-bundle",
	}
	bundleGraph := bundle.DependencyGraph{
		Engines: map[string]bundle.EngineBundles{"pdflatex": {Required: []string{"core"}}},
		Bundles: map[string]bundle.BundleRequires{
			"amsmath-bundle": {Requires: []string{"fonts"}},
		},
	}
	registry := bundle.NewRegistry([]string{"core", "base", "amsmath-bundle", "fonts"})

	got := Resolve(source, "pdflatex", pkgMap, nil, bundleGraph, registry)

	require.Contains(t, got, "core")
	require.Contains(t, got, "base")
	require.Contains(t, got, "amsmath-bundle")
	require.Contains(t, got, "fonts")

	// core (engine-mandated) must precede bundles discovered from packages
	coreIdx, amsIdx := -1, -1
	for i, id := range got {
		if id == "core" {
			coreIdx = i
		}
		if id == "amsmath-bundle" {
			amsIdx = i
		}
	}
	require.Less(t, coreIdx, amsIdx)
}

func TestResolveFollowsDependenciesOfEngineMandatedBundles(t *testing.T) {
	source := `\documentclass{article}`
	pkgMap := PackageMap{"article": "base"}
	bundleGraph := bundle.DependencyGraph{
		Engines: map[string]bundle.EngineBundles{"pdflatex": {Required: []string{"core"}}},
		Bundles: map[string]bundle.BundleRequires{
			"core": {Requires: []string{"fonts"}},
		},
	}
	registry := bundle.NewRegistry([]string{"core", "base", "fonts"})

	got := Resolve(source, "pdflatex", pkgMap, nil, bundleGraph, registry)

	require.Contains(t, got, "core")
	require.Contains(t, got, "fonts")
}

func TestResolveFiltersToRegistry(t *testing.T) {
	source := `\usepackage{unknownpkg}`
	pkgMap := PackageMap{"unknownpkg": "ghost-bundle"}
	registry := bundle.NewRegistry([]string{"core"})
	bundleGraph := bundle.DependencyGraph{}

	got := Resolve(source, "pdflatex", pkgMap, nil, bundleGraph, registry)
	require.NotContains(t, got, "ghost-bundle")
}

func TestResolveHandlesDependencyCycles(t *testing.T) {
	source := `\usepackage{a}`
	pkgMap := PackageMap{"a": "bundle-a", "b": "bundle-b"}
	pkgGraph := PackageDependencyGraph{"a": {"b"}, "b": {"a"}}
	registry := bundle.NewRegistry([]string{"bundle-a", "bundle-b"})

	got := Resolve(source, "pdflatex", pkgMap, pkgGraph, bundle.DependencyGraph{}, registry)
	require.ElementsMatch(t, []string{"bundle-a", "bundle-b"}, got)
}

func TestDetectEngineDefaultsToPdflatex(t *testing.T) {
	require.Equal(t, "pdflatex", DetectEngine(`\documentclass{article}`))
}

func TestDetectEngineFontspecTriggersXelatex(t *testing.T) {
	require.Equal(t, "xelatex", DetectEngine(`\usepackage{fontspec}\setmainfont{Arial}`))
}

func TestDetectEnginePolyglossiaTriggersXelatex(t *testing.T) {
	require.Equal(t, "xelatex", DetectEngine(`\usepackage{polyglossia}`))
}
