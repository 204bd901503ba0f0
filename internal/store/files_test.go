package store

import (
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	files, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := []doc{{Name: "a", Count: 1}, {Name: "b", Count: 2}}
	if err := files.Save("docs.json", in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out []doc
	if err := files.Load("docs.json", &out); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(out) != 2 || out[0].Name != "a" || out[1].Count != 2 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestLoadMissingDocumentLeavesTargetUntouched(t *testing.T) {
	files, err := New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := []doc{{Name: "seed"}}
	if err := files.Load("absent.json", &out); err != nil {
		t.Fatalf("missing document should not error: %v", err)
	}
	if len(out) != 1 || out[0].Name != "seed" {
		t.Fatalf("target modified: %+v", out)
	}
}

func TestLoadCorruptDocumentStartsFresh(t *testing.T) {
	dir := t.TempDir()
	files, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out []doc
	if err := files.Load("bad.json", &out); err != nil {
		t.Fatalf("corrupt document should not error: %v", err)
	}
	if out != nil {
		t.Fatalf("expected fresh start, got %+v", out)
	}
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	files, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	files.Save("docs.json", []doc{{Name: "old"}})
	files.Save("docs.json", []doc{{Name: "new"}})

	var out []doc
	files.Load("docs.json", &out)
	if len(out) != 1 || out[0].Name != "new" {
		t.Fatalf("expected replacement, got %+v", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "docs.json.tmp")); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}
