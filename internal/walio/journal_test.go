package walio

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndCommit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "log.md")
	j := New(target, time.Second)

	if err := j.WriteEntry("id-1", "line one\n"); err != nil {
		t.Fatalf("WriteEntry() error: %v", err)
	}
	if err := j.Commit("id-1"); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}

	data, err := os.ReadFile(target + ".journal")
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty journal")
	}
}

func TestReplayUncommitted(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "log.md")
	j := New(target, time.Second)

	if err := j.WriteEntry("id-1", "committed line\n"); err != nil {
		t.Fatalf("WriteEntry() error: %v", err)
	}
	if err := j.Commit("id-1"); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if err := j.WriteEntry("id-2", "uncommitted line\n"); err != nil {
		t.Fatalf("WriteEntry() error: %v", err)
	}

	var applied []string
	n, err := j.ReplayUncommitted(func(id, content string) error {
		applied = append(applied, id)
		return nil
	})
	if err != nil {
		t.Fatalf("ReplayUncommitted() error: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed count = %d, want 1", n)
	}
	if len(applied) != 1 || applied[0] != "id-2" {
		t.Fatalf("applied = %v, want [id-2]", applied)
	}

	// Second replay should find nothing left uncommitted (idempotent).
	n2, err := j.ReplayUncommitted(func(id, content string) error {
		t.Fatalf("unexpected replay of %s on second pass", id)
		return nil
	})
	if err != nil {
		t.Fatalf("second ReplayUncommitted() error: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("second replay count = %d, want 0", n2)
	}
}

func TestReplayNoJournal(t *testing.T) {
	dir := t.TempDir()
	j := New(filepath.Join(dir, "log.md"), time.Second)
	n, err := j.ReplayUncommitted(func(string, string) error { return nil })
	if err != nil {
		t.Fatalf("ReplayUncommitted() on missing journal should not error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 replayed, got %d", n)
	}
}
