package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
)

func openTestRegistry(t *testing.T) (*Registry, *db.Store) {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store.Queries()), store
}

func TestEnsureProjectCreatesPlanningStatus(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	p, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md")
	if err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	if p.Status != model.StatusPlanning {
		t.Fatalf("Status = %q, want planning", p.Status)
	}
}

func TestTouchEntryPromotesLifecycleWhenDocsReady(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md"); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	for _, doc := range CoreDocs {
		if err := r.RecordDocUpdate(ctx, "demo", doc, "sha-"+doc); err != nil {
			t.Fatalf("RecordDocUpdate(%q) error: %v", doc, err)
		}
	}
	if err := r.TouchEntry(ctx, "demo", model.LogTypeProgress); err != nil {
		t.Fatalf("TouchEntry() error: %v", err)
	}
	p, err := r.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p.Status != model.StatusInProgress {
		t.Fatalf("Status = %q, want in_progress after lifecycle promotion", p.Status)
	}
}

func TestTouchEntryDoesNotPromoteWithoutAllCoreDocs(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md"); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	if err := r.RecordDocUpdate(ctx, "demo", "architecture", "sha-arch"); err != nil {
		t.Fatalf("RecordDocUpdate() error: %v", err)
	}
	if err := r.TouchEntry(ctx, "demo", model.LogTypeProgress); err != nil {
		t.Fatalf("TouchEntry() error: %v", err)
	}
	p, err := r.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p.Status != model.StatusPlanning {
		t.Fatalf("Status = %q, want planning (not all core docs touched)", p.Status)
	}
}

func TestGetProjectMissingReturnsNil(t *testing.T) {
	r, _ := openTestRegistry(t)
	p, err := r.GetProject(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil, got %+v", p)
	}
}

func TestSetStatusUpdatesLifecycle(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md"); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	if err := r.SetStatus(ctx, "demo", string(model.StatusComplete)); err != nil {
		t.Fatalf("SetStatus() error: %v", err)
	}
	p, err := r.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p.Status != model.StatusComplete {
		t.Fatalf("Status = %q, want complete", p.Status)
	}
}

func TestRecordDocUpdateTracksBaselineAndCurrentHashes(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md"); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	if err := r.RecordDocUpdate(ctx, "demo", "architecture", "sha-v1"); err != nil {
		t.Fatalf("RecordDocUpdate() error: %v", err)
	}
	if err := r.RecordDocUpdate(ctx, "demo", "architecture", "sha-v2"); err != nil {
		t.Fatalf("RecordDocUpdate() error: %v", err)
	}
	p, err := r.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p.Docs_.BaselineHashes["architecture"] != "sha-v1" {
		t.Fatalf("baseline = %q, want sha-v1", p.Docs_.BaselineHashes["architecture"])
	}
	if p.Docs_.CurrentHashes["architecture"] != "sha-v2" {
		t.Fatalf("current = %q, want sha-v2", p.Docs_.CurrentHashes["architecture"])
	}
	if !p.Docs_.Flags["architecture_modified"] {
		t.Fatal("expected architecture_modified flag to be set")
	}
	if p.Docs_.UpdateCount != 2 {
		t.Fatalf("UpdateCount = %d, want 2", p.Docs_.UpdateCount)
	}
}

func TestRecordDocUpdatePreservesRegisteredPaths(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	if _, err := r.EnsureProject(ctx, "demo", "/tmp/demo", "/tmp/demo/PROGRESS_LOG.md"); err != nil {
		t.Fatalf("EnsureProject() error: %v", err)
	}
	if err := r.RegisterDoc(ctx, "demo", "runbook", "/tmp/demo/docs/RUNBOOK.md"); err != nil {
		t.Fatalf("RegisterDoc() error: %v", err)
	}
	// A subsequent doc-update write (as every manage_docs edit triggers)
	// must not wipe out the path registered above.
	if err := r.RecordDocUpdate(ctx, "demo", "architecture", "sha-v1"); err != nil {
		t.Fatalf("RecordDocUpdate() error: %v", err)
	}
	p, err := r.GetProject(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProject() error: %v", err)
	}
	if p.Docs["runbook"] != "/tmp/demo/docs/RUNBOOK.md" {
		t.Fatalf("Docs[runbook] = %q, want path to survive RecordDocUpdate", p.Docs["runbook"])
	}
}

func TestListProjectsReturnsAll(t *testing.T) {
	r, _ := openTestRegistry(t)
	ctx := context.Background()
	for _, name := range []string{"alpha", "beta"} {
		if _, err := r.EnsureProject(ctx, name, "/tmp/"+name, "/tmp/"+name+"/PROGRESS_LOG.md"); err != nil {
			t.Fatalf("EnsureProject(%q) error: %v", name, err)
		}
	}
	projects, err := r.ListProjects(ctx)
	if err != nil {
		t.Fatalf("ListProjects() error: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("len(projects) = %d, want 2", len(projects))
	}
}
