package vfs

import (
	"path"
	"sort"
	"strings"
)

// GenerateLSR walks the mounted file set under the TeX root and emits a
// kpathsea ls-R index: a header, then each directory followed by its
// sorted files and subdirectories, separated by blank lines.
func (v *VFS) GenerateLSR() []byte {
	v.mu.Lock()
	dirFiles := make(map[string][]string)
	for p, n := range v.nodes {
		if p == "/" || !strings.HasPrefix(p, v.texRoot) {
			continue
		}
		dir := path.Dir(p)
		base := path.Base(p)
		if n.IsDir {
			// record as a child-dir entry of its parent, not as a dir itself
			continue
		}
		dirFiles[dir] = append(dirFiles[dir], base)
	}
	// also record subdirectories as entries of their parent
	subdirs := make(map[string][]string)
	for p, n := range v.nodes {
		if !n.IsDir || p == "/" || p == v.texRoot {
			continue
		}
		if !strings.HasPrefix(p, v.texRoot) {
			continue
		}
		parent := path.Dir(p)
		subdirs[parent] = append(subdirs[parent], path.Base(p))
	}
	v.mu.Unlock()

	dirs := make([]string, 0, len(dirFiles)+len(subdirs))
	seen := make(map[string]struct{})
	for d := range dirFiles {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dirs = append(dirs, d)
		}
	}
	for d := range subdirs {
		if _, ok := seen[d]; !ok {
			seen[d] = struct{}{}
			dirs = append(dirs, d)
		}
	}
	sort.Strings(dirs)

	var b strings.Builder
	b.WriteString("% ls-R -- filename database.\n")
	for i, d := range dirs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(d)
		b.WriteString(":\n")
		entries := make([]string, 0, len(dirFiles[d])+len(subdirs[d]))
		entries = append(entries, dirFiles[d]...)
		entries = append(entries, subdirs[d]...)
		sort.Strings(entries)
		for _, e := range entries {
			b.WriteString(e)
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// WriteLSR generates and mounts the ls-R index at <texroot>/ls-R.
func (v *VFS) WriteLSR() {
	data := v.GenerateLSR()
	v.Mount(path.Join(v.texRoot, "ls-R"), data)
}
