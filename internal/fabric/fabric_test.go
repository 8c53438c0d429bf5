package fabric

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeStaticFixture(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"package-map.json":  `{"widget":"widgetbundle"}`,
		"bundle-deps.json":  `{"engines":{"pdflatex":{"required":["widgetbundle"]}},"bundles":{},"deferred":["cm-super"]}`,
		"file-manifest.json": `{"/texlive/texmf-dist/tex/latex/widget/widget.sty":{"bundle":"widgetbundle","start":0,"end":10}}`,
		"registry.json":     `[{"id":"widgetbundle"},{"id":"cm-super"}]`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func TestLoadStaticDataWithoutOptionalPackageDeps(t *testing.T) {
	dir := t.TempDir()
	writeStaticFixture(t, dir)

	static, err := loadStaticData(dir)
	require.NoError(t, err)
	require.Equal(t, "widgetbundle", static.packageMap["widget"])
	require.ElementsMatch(t, []string{"widgetbundle", "cm-super"}, static.registryIDs)
	require.Contains(t, static.bundleGraph.Engines, "pdflatex")
	require.Empty(t, static.packageGraph)
}

func TestLoadStaticDataReadsOptionalPackageDeps(t *testing.T) {
	dir := t.TempDir()
	writeStaticFixture(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-deps.json"), []byte(`{"widget":["helper"]}`), 0o644))

	static, err := loadStaticData(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"helper"}, static.packageGraph["widget"])
}

func TestLoadStaticDataMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := loadStaticData(dir)
	require.Error(t, err)
}
