package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gogotex/texfabric/internal/engine"
	"github.com/gogotex/texfabric/internal/fabric"
)

// fakeInvoker always returns a successful, fixed-content PDF regardless of
// the request, exercising the HTTP layer without a real TeX installation.
type fakeInvoker struct{}

func (fakeInvoker) Invoke(ctx context.Context, req engine.Request, vfsFiles map[string][]byte) (engine.Result, error) {
	return engine.Result{ExitCode: 0, PDF: []byte("%PDF-1.5 fake")}, nil
}

func newTestFabric(t *testing.T) *fabric.Fabric {
	t.Helper()
	dir := t.TempDir()
	fixtures := map[string]string{
		"package-map.json":   `{}`,
		"bundle-deps.json":   `{"engines":{},"bundles":{}}`,
		"file-manifest.json": `{}`,
		"registry.json":      `[]`,
	}
	for name, content := range fixtures {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	fab, err := fabric.Init(context.Background(), fabric.Config{
		StaticDataDir: dir,
		Invoker:       fakeInvoker{},
	})
	require.NoError(t, err)
	return fab
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(newTestFabric(t), Options{})
	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.engine.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)
}

func TestCompileEndpointReturnsCompiledPDF(t *testing.T) {
	srv := NewServer(newTestFabric(t), Options{Workers: 1})
	body := `{"source":"\\documentclass{article}\\begin{document}hi\\end{document}","engine":"pdflatex","use_cache":false}`
	req := httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	srv.engine.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.Equal(t, "application/pdf", rw.Header().Get("Content-Type"))
	require.NotEmpty(t, rw.Header().Get("X-Compile-Sha256"))
}

func TestCompileEndpointRejectsBadJSON(t *testing.T) {
	srv := NewServer(newTestFabric(t), Options{Workers: 1})
	req := httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(`not json`))
	req.Header.Set("Content-Type", "application/json")
	rw := httptest.NewRecorder()
	srv.engine.ServeHTTP(rw, req)

	require.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestCompileEndpointReusesProjectCacheOnUnchangedSource(t *testing.T) {
	srv := NewServer(newTestFabric(t), Options{Workers: 1})
	body := `{"source":"\\documentclass{article}\\begin{document}hi\\end{document}","engine":"pdflatex","project_id":"proj-1","use_cache":false}`

	first := httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(body))
	first.Header.Set("Content-Type", "application/json")
	rw1 := httptest.NewRecorder()
	srv.engine.ServeHTTP(rw1, first)
	require.Equal(t, http.StatusOK, rw1.Code)
	require.Empty(t, rw1.Header().Get("X-Compile-Cache"))

	second := httptest.NewRequest(http.MethodPost, "/compile", strings.NewReader(body))
	second.Header.Set("Content-Type", "application/json")
	rw2 := httptest.NewRecorder()
	srv.engine.ServeHTTP(rw2, second)
	require.Equal(t, http.StatusOK, rw2.Code)
	require.Equal(t, "project", rw2.Header().Get("X-Compile-Cache"))
	require.Equal(t, rw1.Body.Bytes(), rw2.Body.Bytes())
}

func TestCacheClearEndpointRequiresNoAuthWhenVerifierUnset(t *testing.T) {
	srv := NewServer(newTestFabric(t), Options{})
	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	rw := httptest.NewRecorder()
	srv.engine.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
}
