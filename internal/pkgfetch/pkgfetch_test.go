package pkgfetch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchFallsBackFromArchiveToJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/texlive/widget", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/fetch/widget", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jsonFetchResponse{
			Files: map[string]jsonFileEntry{"/texlive/texmf-dist/tex/latex/widget/widget.sty": {Content: "x", Encoding: "utf8"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	res, err := f.Fetch(t.Context(), "widget")
	require.NoError(t, err)
	require.Contains(t, res.Files, "/texlive/texmf-dist/tex/latex/widget/widget.sty")
}

func TestFetchRetriesUnderResolvedContainerName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/texlive/subpkg", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("/api/fetch/subpkg", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("/api/ctan-pkg/subpkg", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ctanPkgResponse{ContainedIn: "bigbundle"})
	})
	mux.HandleFunc("/api/texlive/bigbundle", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	mux.HandleFunc("/api/fetch/bigbundle", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jsonFetchResponse{
			Files: map[string]jsonFileEntry{"/texlive/texmf-dist/tex/latex/bigbundle/subpkg.sty": {Content: "y", Encoding: "utf8"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	res, err := f.Fetch(t.Context(), "subpkg")
	require.NoError(t, err)
	require.Contains(t, res.Files, "/texlive/texmf-dist/tex/latex/bigbundle/subpkg.sty")
}

func TestFetchReturnsErrorWhenEverythingFails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	_, err := f.Fetch(t.Context(), "ghost")
	require.Error(t, err)
}
