package bundle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManifestStorePrefersGlobalManifest(t *testing.T) {
	global := GlobalManifest{
		"/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty": {BundleID: "core", Start: 0, End: 10},
	}
	s := NewManifestStore(global, "http://unused.invalid", nil)
	start, end, ok := s.FileLocation("core", "/texlive/texmf-dist/tex/latex/amsmath/amsmath.sty")
	require.True(t, ok)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(10), end)
}

func TestManifestStoreFallsBackToPerBundleManifest(t *testing.T) {
	m := Manifest{
		Name: "fonts",
		Files: []Entry{
			{Path: "texlive/texmf-dist/fonts/type1/public/foo", Name: "foo.pfb", Start: 0, End: 5},
		},
		TotalSize: 5,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	s := NewManifestStore(GlobalManifest{}, srv.URL, srv.Client())
	start, end, ok := s.FileLocation("fonts", "texlive/texmf-dist/fonts/type1/public/foo/foo.pfb")
	require.True(t, ok)
	require.Equal(t, int64(0), start)
	require.Equal(t, int64(5), end)

	files := s.Files("fonts")
	require.Len(t, files, 1)
	require.Equal(t, "texlive/texmf-dist/fonts/type1/public/foo/foo.pfb", files[0].FullPath)
}

func TestManifestStoreFileLocationMissingReturnsFalse(t *testing.T) {
	s := NewManifestStore(GlobalManifest{}, "http://127.0.0.1:0", nil)
	_, _, ok := s.FileLocation("nope", "/x")
	require.False(t, ok)
}
