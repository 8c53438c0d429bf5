package bundle

import "testing"

func TestManifestValidate(t *testing.T) {
	m := Manifest{
		Name: "latex-base",
		Files: []Entry{
			{Path: "tex/latex/base", Name: "article.cls", Start: 0, End: 10},
			{Path: "tex/latex/base", Name: "book.cls", Start: 10, End: 25},
		},
		TotalSize: 25,
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}
}

func TestManifestValidateRejectsGap(t *testing.T) {
	m := Manifest{
		Files: []Entry{
			{Path: "a", Name: "x", Start: 0, End: 10},
			{Path: "a", Name: "y", Start: 11, End: 20},
		},
		TotalSize: 20,
	}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error for a gap between entries")
	}
}

func TestManifestValidateRejectsDuplicatePath(t *testing.T) {
	m := Manifest{
		Files: []Entry{
			{Path: "a", Name: "x", Start: 0, End: 5},
			{Path: "a", Name: "x", Start: 5, End: 10},
		},
		TotalSize: 10,
	}
	if err := m.Validate(); err == nil {
		t.Fatalf("expected validation error for duplicate full path")
	}
}

func TestEntrySlice(t *testing.T) {
	body := []byte("hello world")
	e := Entry{Path: "p", Name: "n", Start: 6, End: 11}
	got, err := e.Slice(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("got %q, want %q", got, "world")
	}
}

func TestConflictingDeferred(t *testing.T) {
	g := DependencyGraph{
		Engines: map[string]EngineBundles{
			"pdflatex": {Required: []string{"core", "cm-super"}},
		},
		Deferred: []string{"cm-super", "noto"},
	}
	conflicts := g.ConflictingDeferred("pdflatex")
	if len(conflicts) != 1 || conflicts[0] != "cm-super" {
		t.Fatalf("expected [cm-super], got %v", conflicts)
	}
}
