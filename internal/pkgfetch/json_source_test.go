package pkgfetch

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchJSONDecodesBase64AndPlainContent(t *testing.T) {
	payload := jsonFetchResponse{
		Files: map[string]jsonFileEntry{
			"/texlive/texmf-dist/tex/latex/foo/foo.sty": {Content: "plain text", Encoding: "utf8"},
			"/texlive/texmf-dist/fonts/type1/public/foo/foo.pfb": {
				Content:  base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03}),
				Encoding: "base64",
			},
		},
		Dependencies: []string{"amsmath"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(payload)
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	res, err := f.fetchJSON(t.Context(), "foo")
	require.NoError(t, err)
	require.Equal(t, "plain text", string(res.Files["/texlive/texmf-dist/tex/latex/foo/foo.sty"]))
	require.Equal(t, []byte{0x01, 0x02, 0x03}, res.Files["/texlive/texmf-dist/fonts/type1/public/foo/foo.pfb"])
	require.Equal(t, []string{"amsmath"}, res.Dependencies)
}

func TestFetchJSONErrorFieldIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jsonFetchResponse{Error: "package does not exist"})
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL, srv.Client(), nil)
	_, err := f.fetchJSON(t.Context(), "ghost")
	require.Error(t, err)
}
