package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildEnvSetsKpathseaVariables(t *testing.T) {
	env := BuildEnv()
	require.Contains(t, env, "TEXMFROOT=/texlive")
	require.Contains(t, env, "TEXMFDIST=/texlive/texmf-dist")
}

func TestCompileRequestIncludesFmtWhenProvided(t *testing.T) {
	req := CompileRequest("pdflatex", "/custom.fmt")
	require.Contains(t, req.Args, "--fmt=/custom.fmt")
	require.Equal(t, "/document.tex", req.Args[len(req.Args)-1])
}

func TestFormatRequestNamesBaseAfterProgram(t *testing.T) {
	req := FormatRequest("xelatex")
	require.Contains(t, req.Args, "&xelatex")
}

func TestRewriteArgsForDirRewritesFlagEmbeddedPaths(t *testing.T) {
	args := rewriteArgsForDir([]string{"--fmt=/custom.fmt", "/document.tex", "--halt-on-error"}, "/scratch")
	require.Equal(t, []string{"--fmt=./custom.fmt", "./document.tex", "--halt-on-error"}, args)
}

func TestDevAdapterRunsProgramAndCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture assumes a POSIX shell")
	}
	scriptDir := t.TempDir()
	script := filepath.Join(scriptDir, "fake-pdflatex.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho compiled > document.pdf\necho ok\n"), 0o755))

	a := &DevAdapter{}
	req := Request{Program: script, Args: []string{"/document.tex"}}
	result, err := a.Invoke(t.Context(), req, map[string][]byte{"document.tex": []byte(`\documentclass{article}`)})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "compiled\n", string(result.PDF))
}
