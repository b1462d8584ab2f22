package append

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paxocial/scribe-mcp-sub000/internal/config"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/ratelimit"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/rotate"
	"github.com/paxocial/scribe-mcp-sub000/internal/state"
	"github.com/paxocial/scribe-mcp-sub000/internal/template"
	"github.com/paxocial/scribe-mcp-sub000/internal/walio"
)

func newTestPipeline(t *testing.T) (*Pipeline, string) {
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
	cfg := config.DefaultConfig()
	cfg.LogRateLimitCount = 1000
	rotateEngine := rotate.New(cfg, store, st, reg, template.NullRenderer{}, nil)
	rl := ratelimit.New(cfg.LogRateLimitCount, cfg.LogRateLimitWindow)

	ctx := context.Background()
	if _, err := reg.EnsureProject(ctx, "demo", root, filepath.Join(root, "PROGRESS_LOG.md")); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}

	return New(cfg, store, st, reg, rotateEngine, rl, nil), root
}

func TestRepoSlugSanitizesName(t *testing.T) {
	if got := RepoSlug("/home/user/My Cool Repo!!"); got != "my-cool-repo" {
		t.Fatalf("RepoSlug() = %q, want my-cool-repo", got)
	}
}

func TestRepoSlugEmptyFallsBackToUnknown(t *testing.T) {
	if got := RepoSlug("/"); got == "" {
		t.Fatal("RepoSlug() returned empty string")
	}
}

func TestDeterministicEntryIDIsStableAndOrderIndependentOnMeta(t *testing.T) {
	a := DeterministicEntryID("repo", "proj", "2026-01-01 00:00:00", "agent", "msg", map[string]string{"a": "1", "b": "2"})
	b := DeterministicEntryID("repo", "proj", "2026-01-01 00:00:00", "agent", "msg", map[string]string{"b": "2", "a": "1"})
	if a != b {
		t.Fatalf("DeterministicEntryID() not stable across meta key order: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("DeterministicEntryID() length = %d, want 32", len(a))
	}
}

func TestDeterministicEntryIDChangesWithMessage(t *testing.T) {
	a := DeterministicEntryID("repo", "proj", "ts", "agent", "msg-one", nil)
	b := DeterministicEntryID("repo", "proj", "ts", "agent", "msg-two", nil)
	if a == b {
		t.Fatal("DeterministicEntryID() did not change with different message")
	}
}

func TestAppendSingleEntryWritesLineAndMirrorsEntry(t *testing.T) {
	p, root := newTestPipeline(t)
	ctx := context.Background()

	resp, err := p.Append(ctx, Request{Project: "demo", Message: "did a thing", Agent: "tester"})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("Append() OK = false, warnings=%v failed=%v", resp.Warnings, resp.FailedItems)
	}
	if resp.ID == "" {
		t.Fatal("Append() returned empty ID")
	}

	data, err := os.ReadFile(filepath.Join(root, "PROGRESS_LOG.md"))
	if err != nil {
		t.Fatalf("read progress log: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("progress log is empty after append")
	}
}

func TestDurableAppendReplaySkipsAlreadyWrittenEntry(t *testing.T) {
	p, root := newTestPipeline(t)
	path := filepath.Join(root, "PROGRESS_LOG.md")

	committedLine := "[ℹ️] [2026-01-01 00:00:00 UTC] [Agent: tester] [Project: demo] [ID: abc123] did a thing\n"

	// Simulate a crash after the locked append landed on disk but before
	// the journal commit was written: the content is already present
	// and the journal still has an append record with no matching commit.
	if err := os.WriteFile(path, []byte(committedLine), 0o644); err != nil {
		t.Fatalf("seed target file: %v", err)
	}
	journal := walio.New(path, p.cfg.LockTimeoutSeconds)
	if err := journal.WriteEntry("abc123", committedLine); err != nil {
		t.Fatalf("WriteEntry() error: %v", err)
	}

	newLine := "[ℹ️] [2026-01-01 00:00:01 UTC] [Agent: tester] [Project: demo] [ID: xyz789] another thing\n"
	if err := p.durableAppend(path, "xyz789", newLine); err != nil {
		t.Fatalf("durableAppend() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read target: %v", err)
	}
	if n := strings.Count(string(data), "[ID: abc123]"); n != 1 {
		t.Fatalf("replayed entry appeared %d times, want 1 (no duplicate replay)", n)
	}
	if n := strings.Count(string(data), "[ID: xyz789]"); n != 1 {
		t.Fatalf("new entry appeared %d times, want 1", n)
	}
}

func TestAppendRejectsEmptyMessage(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	resp, err := p.Append(ctx, Request{Project: "demo", Message: ""})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if resp.OK {
		t.Fatal("Append() with empty message should not be OK")
	}
	if len(resp.FailedItems) != 1 {
		t.Fatalf("len(FailedItems) = %d, want 1", len(resp.FailedItems))
	}
}

func TestAppendBugEntryTeesIntoBugsAndProgress(t *testing.T) {
	p, root := newTestPipeline(t)
	ctx := context.Background()

	resp, err := p.Append(ctx, Request{
		Project: "demo", Message: "found a crash", Status: "bug",
		Meta: map[string]string{"severity": "high", "component": "auth"},
	})
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if !resp.OK {
		t.Fatalf("Append() OK = false: %v", resp.FailedItems)
	}

	bugData, err := os.ReadFile(filepath.Join(root, "BUG_LOG.md"))
	if err != nil {
		t.Fatalf("read bug log: %v", err)
	}
	if len(bugData) == 0 {
		t.Fatal("bug log is empty after bug-status append")
	}
}

func TestNormalizeItemsAutoSplitsMultilineMessage(t *testing.T) {
	p, _ := newTestPipeline(t)
	items, err := p.normalizeItems(Request{Message: "line one\nline two\nline three", AutoSplit: true})
	if err != nil {
		t.Fatalf("normalizeItems() error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3", len(items))
	}
}

func TestBulkAppendChunksLargeItemSets(t *testing.T) {
	p, _ := newTestPipeline(t)
	p.cfg.BulkChunkSize = 2
	ctx := context.Background()

	items := make([]Item, 0, 5)
	for i := 0; i < 5; i++ {
		items = append(items, Item{Message: "bulk entry"})
	}
	resp, err := p.BulkAppend(ctx, Request{Project: "demo", Items: items})
	if err != nil {
		t.Fatalf("BulkAppend() error: %v", err)
	}
	if len(resp.WrittenLines) != 5 {
		t.Fatalf("len(WrittenLines) = %d, want 5", len(resp.WrittenLines))
	}
}
