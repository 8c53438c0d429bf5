package pkgfetch

import (
	"archive/tar"
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func buildXZTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, err = xw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, xw.Close())
	return xzBuf.Bytes()
}

func TestFetchArchiveFiltersAndGrafts(t *testing.T) {
	archive := buildXZTar(t, map[string]string{
		"amsmath/amsmath.sty":       "sty-content",
		"amsmath/doc/amsmath.pdf":   "doc-content",
		"amsmath/source/amsmath.dtx": "source-content",
		"amsmath/README":            "not eligible",
		"texmf-dist/tex/latex/amsmath/amsopn.sty": "already-namespaced",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	res, err := f.fetchArchive(t.Context(), "amsmath")
	require.NoError(t, err)

	require.Contains(t, res.Files, "/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty")
	require.Equal(t, "sty-content", string(res.Files["/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty"]))
	require.Contains(t, res.Files, "/texlive/texmf-dist/tex/latex/amsmath/amsopn.sty")
	require.NotContains(t, res.Files, "/texlive/texmf-dist/tex/latex/amsmath/amsmath.pdf")
	for p := range res.Files {
		require.NotContains(t, p, "doc")
		require.NotContains(t, p, "README")
	}
	require.Len(t, res.Files, 2)
}

func TestFetchArchiveNotFoundReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	_, err := f.fetchArchive(t.Context(), "nope")
	require.Error(t, err)
}

func TestGraftPathFontSubdir(t *testing.T) {
	require.Equal(t, "/texlive/texmf-dist/fonts/type1/public/cm-super/x.pfb", graftPath("cm-super/x.pfb", "cm-super", ".pfb"))
	require.Equal(t, "/texlive/texmf-dist/fonts/map/dvips/cm-super/x.map", graftPath("cm-super/x.map", "cm-super", ".map"))
}
