package vfs

import (
	"path"
	"regexp"
	"strings"
)

// fontRefPattern matches a kpathsea map-file font reference: a "<" or "<<"
// prefix (no embedding marker is optional-include, double is always-embed)
// immediately followed by a filename ending in .pfb or .enc, with no space
// between the prefix and the name.
var fontRefPattern = regexp.MustCompile(`(<{1,2})([^\s<]+\.(?:pfb|enc))`)

// rootMapPaths are the paths ProcessFontMaps checks for the unified map's
// starting content, in order: the spec's canonical root location first,
// then the conventional TeX Live location a bundle's own manifest is
// likely to place pdftex.map at, in case a bundle never gets explicitly
// mounted at the root path.
var rootMapPaths = []string{
	"/pdftex.map",
	"/texlive/texmf-dist/fonts/map/pdftex/updmap/pdftex.map",
}

// ProcessFontMaps rewrites every .pfb/.enc reference in the unified
// pdftex.map to an absolute VFS path, then appends each queued auxiliary
// map file (with the same rewriting) to it. Lines starting with "%" or
// empty lines are preserved verbatim. Must run before ls-R generation, as
// part of Finalize.
func (v *VFS) ProcessFontMaps() {
	const rootMap = "/pdftex.map"

	var unified strings.Builder
	for _, candidate := range rootMapPaths {
		if n, ok := v.node(candidate); ok && n.State() == StateEager {
			unified.WriteString(v.rewriteMapContent(candidate, string(n.Bytes())))
			break
		}
	}

	v.mu.Lock()
	queued := make([]string, len(v.queuedMapPaths))
	copy(queued, v.queuedMapPaths)
	v.mu.Unlock()

	for _, mp := range queued {
		n, ok := v.node(mp)
		if !ok || n.State() != StateEager {
			continue
		}
		if unified.Len() > 0 && !strings.HasSuffix(unified.String(), "\n") {
			unified.WriteString("\n")
		}
		unified.WriteString(v.rewriteMapContent(mp, string(n.Bytes())))
	}

	v.Mount(rootMap, []byte(unified.String()))
}

// rewriteMapContent rewrites font references line by line, preserving
// comment/blank lines verbatim.
func (v *VFS) rewriteMapContent(mapPath, content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "%") {
			continue
		}
		lines[i] = fontRefPattern.ReplaceAllStringFunc(line, func(match string) string {
			sub := fontRefPattern.FindStringSubmatch(match)
			prefix, filename := sub[1], sub[2]
			if resolved := v.resolveFontPath(mapPath, filename); resolved != "" {
				return prefix + resolved
			}
			return match
		})
	}
	return strings.Join(lines, "\n")
}

// resolveFontPath implements the search order from spec.md §4.3:
// (a) fonts/type1/public/<pkg> or fonts/enc/dvips/<pkg> derived from the
// map's own path, (b) the same under cm-super, (c) the map's own
// directory. The font-file index built during bundle mounting is consulted
// first as a fast path, since it already records exactly this mapping for
// bundle-sourced fonts.
func (v *VFS) resolveFontPath(mapPath, filename string) string {
	v.mu.Lock()
	if p, ok := v.fontFiles[filename]; ok {
		v.mu.Unlock()
		return p
	}
	v.mu.Unlock()

	pkg := derivePackageFromMapPath(mapPath)
	var candidates []string
	if pkg != "" {
		if strings.HasSuffix(filename, ".pfb") {
			candidates = append(candidates, path.Join("/texlive/texmf-dist/fonts/type1/public", pkg, filename))
		} else {
			candidates = append(candidates, path.Join("/texlive/texmf-dist/fonts/enc/dvips", pkg, filename))
		}
	}
	if strings.HasSuffix(filename, ".pfb") {
		candidates = append(candidates, path.Join("/texlive/texmf-dist/fonts/type1/public/cm-super", filename))
	} else {
		candidates = append(candidates, path.Join("/texlive/texmf-dist/fonts/enc/dvips/cm-super", filename))
	}
	candidates = append(candidates, path.Join(path.Dir(mapPath), filename))

	for _, c := range candidates {
		if n, ok := v.node(c); ok && !n.IsDir {
			return c
		}
	}
	return ""
}

// derivePackageFromMapPath extracts the package directory component from a
// map file's own path, e.g. ".../fonts/map/dvips/helvetic/psyr.map" -> "helvetic".
func derivePackageFromMapPath(mapPath string) string {
	dir := path.Dir(mapPath)
	return path.Base(dir)
}
