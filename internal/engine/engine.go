// Package engine defines the boundary between the orchestrator and the
// sandboxed TeX engine. Invoker is the seam: the real engine is an opaque,
// externally supplied WASM collaborator that the orchestrator drives
// through mount/read calls on the VFS and a single argv-style invocation;
// this package only carries the contract plus a development adapter for
// exercising that contract against a local TeX installation.
package engine

import "context"

// Request describes one invocation of the engine, mirroring the argv/env
// contract spec.md §6 documents for pdflatex/xelatex/ini-mode runs.
type Request struct {
	Program string   // "pdflatex" or "xelatex"
	Args    []string // everything after the program name
	Env     []string // TEXMFCNF, TEXMFROOT, TEXMFDIST, TEXMFVAR, search paths
}

// Result is what one engine invocation produced: its exit status and the
// combined log the orchestrator's diagnosis step scans for missing-file
// patterns.
type Result struct {
	ExitCode int
	Log      string
	PDF      []byte // non-nil only on a successful pdflatex/xdvipdfmx run
	Fmt      []byte // non-nil only on a successful ini-mode run

	// Aux holds every file the engine produced beyond the request's inputs
	// (.aux, .log, .out, .toc, …), for the compile orchestrator's aux-file
	// caching (spec.md §4.4 COLLECT_AUX).
	Aux map[string][]byte
}

// Invoker runs one engine request to completion. Engine calls are not
// serialised: internal/api runs Compile and GenerateFormat on a pool of
// worker goroutines, so one Invoker may be called concurrently. DevAdapter
// gives every call its own scratch directory.
type Invoker interface {
	Invoke(ctx context.Context, req Request, vfsFiles map[string][]byte) (Result, error)
}

// BuildEnv assembles the engine environment spec.md §6 requires: kpathsea
// root/search variables rooted under /texlive/texmf-dist with recursive
// (//) descent.
func BuildEnv() []string {
	const root = "/texlive/texmf-dist"
	return []string{
		"TEXMFCNF=" + root + "/web2c",
		"TEXMFROOT=/texlive",
		"TEXMFDIST=" + root,
		"TEXMFVAR=" + root + "/texmf-var",
		"TEXINPUTS=." + root + "//",
		"T1FONTS=." + root + "//",
		"ENCFONTS=." + root + "//",
		"TFMFONTS=." + root + "//",
		"VFFONTS=." + root + "//",
		"TEXFONTMAPS=." + root + "//",
		"TEXPSHEADERS=." + root + "//",
	}
}

// CompileRequest builds the argv for a plain compile attempt.
func CompileRequest(program, fmtPath string) Request {
	args := []string{"--no-shell-escape", "--interaction=nonstopmode", "--halt-on-error"}
	if fmtPath != "" {
		args = append(args, "--fmt="+fmtPath)
	}
	args = append(args, "/document.tex")
	return Request{Program: program, Args: args, Env: BuildEnv()}
}

// FormatRequest builds the argv for ini-mode format generation.
func FormatRequest(program string) Request {
	return Request{
		Program: program,
		Args:    []string{"-ini", "-jobname=myformat", "-interaction=nonstopmode", "&" + program, "/myformat.ini"},
		Env:     BuildEnv(),
	}
}
