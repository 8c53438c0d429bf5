package pkgfetch

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

// texExtensions and fontExtensions gate which archive members survive into
// the VFS (spec.md §4.6): everything else — docs, sources, build files — is
// dropped.
var (
	texExtensions  = map[string]bool{".sty": true, ".cls": true, ".def": true, ".cfg": true, ".tex": true, ".fd": true, ".clo": true, ".ltx": true}
	fontExtensions = map[string]bool{".pfb": true, ".pfm": true, ".afm": true, ".tfm": true, ".vf": true, ".map": true, ".enc": true}
)

// fetchArchive retrieves and parses the XZ-compressed TAR archive endpoint.
// The ustar format is exactly what archive/tar already parses; hand-rolling
// the byte offsets (name, size, typeflag, prefix fields) would just
// reimplement the standard library's own tar reader.
func (f *Fetcher) fetchArchive(ctx context.Context, pkg string) (*Result, error) {
	url := fmt.Sprintf("%s/api/texlive/%s", f.baseURL, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("archive endpoint for %s returned %d", pkg, resp.StatusCode)
	}

	xr, err := xz.NewReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("xz decompress %s: %w", pkg, err)
	}
	tr := tar.NewReader(xr)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar read %s: %w", pkg, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if isExcludedPath(hdr.Name) {
			continue
		}
		ext := strings.ToLower(path.Ext(hdr.Name))
		if !texExtensions[ext] && !fontExtensions[ext] {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("tar extract %s: %w", hdr.Name, err)
		}
		files[graftPath(hdr.Name, pkg, ext)] = data
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("archive for %s contained no eligible files", pkg)
	}
	return &Result{Files: files}, nil
}

// isExcludedPath drops documentation and source-only trees that TeX never
// needs to load at compile time.
func isExcludedPath(tarPath string) bool {
	for _, seg := range strings.Split(tarPath, "/") {
		if seg == "doc" || seg == "source" {
			return true
		}
	}
	return false
}

// graftPath maps one archive member into the engine's VFS namespace: a path
// that already lives under texmf-dist is preserved verbatim (just rooted at
// /texlive), otherwise it is grafted under the extension-appropriate
// texmf-dist subtree, falling back to tex/latex/<pkg> when nothing more
// specific applies.
func graftPath(tarPath, pkg, ext string) string {
	if idx := strings.Index(tarPath, "texmf-dist/"); idx >= 0 {
		return "/texlive/" + tarPath[idx:]
	}
	base := path.Base(tarPath)
	if fontExtensions[ext] {
		return "/texlive/texmf-dist/fonts/" + fontSubdir(ext) + "/" + pkg + "/" + base
	}
	return "/texlive/texmf-dist/tex/latex/" + pkg + "/" + base
}

func fontSubdir(ext string) string {
	switch ext {
	case ".pfb", ".pfm", ".afm":
		return "type1/public"
	case ".tfm":
		return "tfm"
	case ".vf":
		return "vf"
	case ".map":
		return "map/dvips"
	case ".enc":
		return "enc/dvips"
	default:
		return "misc"
	}
}
