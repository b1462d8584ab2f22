package rotate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paxocial/scribe-mcp-sub000/internal/config"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/state"
	"github.com/paxocial/scribe-mcp-sub000/internal/template"
)

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	root := t.TempDir()
	store, err := db.Open(filepath.Join(root, ".scribe", "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st, err := state.Open(filepath.Join(root, ".scribe", "state.json"))
	if err != nil {
		t.Fatalf("state.Open() error: %v", err)
	}

	reg := registry.New(store.Queries())
	ctx := context.Background()
	if _, err := reg.EnsureProject(ctx, "demo", root, filepath.Join(root, "PROGRESS_LOG.md")); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}

	cfg := config.DefaultConfig()
	return New(cfg, store, st, reg, template.NullRenderer{}, nil), root
}

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("some log line of reasonable length for estimation purposes\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write fixture log: %v", err)
	}
}

func TestRotateSkipsWhenFileMissing(t *testing.T) {
	e, root := newTestEngine(t)
	res, err := e.Rotate(context.Background(), Options{
		Project: "demo", LogType: "progress", Path: filepath.Join(root, "PROGRESS_LOG.md"),
		Confirm: true, AutoThreshold: true,
	})
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	if !res.RotationSkipped || res.SkipReason != "log_file_missing" {
		t.Fatalf("Rotate() = %+v, want skipped/log_file_missing", res)
	}
}

func TestRotateSkipsBelowThresholdWithAutoThreshold(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")
	writeLines(t, path, 5)

	res, err := e.Rotate(context.Background(), Options{
		Project: "demo", LogType: "progress", Path: path,
		ThresholdEntries: 500, Confirm: true, AutoThreshold: true,
	})
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	if !res.RotationSkipped || res.SkipReason != "threshold_not_reached" {
		t.Fatalf("Rotate() = %+v, want skipped/threshold_not_reached", res)
	}
}

func TestRotateDryRunDoesNotTouchFile(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")
	writeLines(t, path, 50)

	res, err := e.Rotate(context.Background(), Options{
		Project: "demo", LogType: "progress", Path: path,
		ThresholdEntries: 10, DryRun: true,
	})
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	if res.DryRunPlan == nil {
		t.Fatal("Rotate() dry-run returned no plan")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("dry-run should leave the original file in place: %v", err)
	}
}

func TestRotateExecutesAndArchivesFile(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")
	writeLines(t, path, 50)

	res, err := e.Rotate(context.Background(), Options{
		Project: "demo", LogType: "progress", Path: path,
		ThresholdEntries: 10, Confirm: true,
	})
	if err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	if res.ArchivePath == "" || res.RotationID == "" {
		t.Fatalf("Rotate() = %+v, want populated archive/rotation id", res)
	}
	if _, err := os.Stat(res.ArchivePath); err != nil {
		t.Fatalf("archive file not found: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read new log file: %v", err)
	}
	if !strings.Contains(string(data), "Rotated at") {
		t.Fatalf("new log file missing rotation header: %q", string(data))
	}
}

func TestRotateUpdatesHashChainSequence(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")
	writeLines(t, path, 50)

	if _, err := e.Rotate(context.Background(), Options{Project: "demo", LogType: "progress", Path: path, ThresholdEntries: 10, Confirm: true}); err != nil {
		t.Fatalf("first Rotate() error: %v", err)
	}
	chain := e.state.HashChain("demo")
	if chain.LastSequence != 1 {
		t.Fatalf("LastSequence = %d, want 1", chain.LastSequence)
	}

	writeLines(t, path, 50)
	if _, err := e.Rotate(context.Background(), Options{Project: "demo", LogType: "progress", Path: path, ThresholdEntries: 10, Confirm: true}); err != nil {
		t.Fatalf("second Rotate() error: %v", err)
	}
	chain = e.state.HashChain("demo")
	if chain.LastSequence != 2 {
		t.Fatalf("LastSequence = %d, want 2", chain.LastSequence)
	}
}

func TestRotateBlendsEMAIntoLogFileCache(t *testing.T) {
	e, root := newTestEngine(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")
	writeLines(t, path, 50)

	if _, err := e.Rotate(context.Background(), Options{Project: "demo", LogType: "progress", Path: path, ThresholdEntries: 10, Confirm: true}); err != nil {
		t.Fatalf("Rotate() error: %v", err)
	}
	lf, ok := e.state.LogFile("demo", "progress")
	if !ok {
		t.Fatal("expected log file cache entry after rotation")
	}
	if lf.EMABytesPerLine <= 0 {
		t.Fatalf("EMABytesPerLine = %v, want > 0", lf.EMABytesPerLine)
	}
}
