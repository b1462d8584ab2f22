package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesSchema(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.DB().Exec(`SELECT 1 FROM scribe_projects LIMIT 0`); err != nil {
		t.Fatalf("scribe_projects table missing: %v", err)
	}
}

func TestUpsertAndGetProject(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Queries().UpsertProject(ctx, UpsertProjectParams{
		Name:            "demo",
		RepoRoot:        "/tmp/demo",
		ProgressLogPath: "/tmp/demo/docs/PROGRESS_LOG.md",
		CreatedAt:       FormatTime(Now()),
	})
	if err != nil {
		t.Fatalf("UpsertProject() error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero project id")
	}

	p, err := store.Queries().GetProjectByName(ctx, "demo")
	if err != nil {
		t.Fatalf("GetProjectByName() error: %v", err)
	}
	if p == nil || p.Name != "demo" {
		t.Fatalf("got %+v, want project named demo", p)
	}
	if p.Status != "planning" {
		t.Errorf("Status = %q, want planning", p.Status)
	}
}

func TestGetProjectByNameMissing(t *testing.T) {
	store := openTestStore(t)
	p, err := store.Queries().GetProjectByName(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetProjectByName() error: %v", err)
	}
	if p != nil {
		t.Fatalf("expected nil for missing project, got %+v", p)
	}
}

func TestInsertEntryAndPaginate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Queries().UpsertProject(ctx, UpsertProjectParams{
		Name: "demo", RepoRoot: "/tmp/demo", ProgressLogPath: "/tmp/demo/PROGRESS_LOG.md",
		CreatedAt: FormatTime(Now()),
	})
	if err != nil {
		t.Fatalf("UpsertProject() error: %v", err)
	}

	for i := 0; i < 5; i++ {
		err := store.Queries().InsertEntry(ctx, InsertEntryParams{
			EntryID:   "entry-" + string(rune('a'+i)),
			ProjectID: id,
			TS:        FormatTime(Now()),
			Message:   "message",
			RawLine:   "raw line",
			SHA256:    "deadbeef",
			LogType:   "progress",
		})
		if err != nil {
			t.Fatalf("InsertEntry() error: %v", err)
		}
	}

	count, err := store.Queries().CountEntries(ctx, id, EntryFilters{LogType: "progress"})
	if err != nil {
		t.Fatalf("CountEntries() error: %v", err)
	}
	if count != 5 {
		t.Fatalf("count = %d, want 5", count)
	}

	entries, err := store.Queries().ListEntriesPaginated(ctx, id, EntryFilters{LogType: "progress"}, 0, 2)
	if err != nil {
		t.Fatalf("ListEntriesPaginated() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(q *Queries) error {
		_, err := q.UpsertProject(ctx, UpsertProjectParams{
			Name: "rollback-me", RepoRoot: "/tmp/x", ProgressLogPath: "/tmp/x/P.md",
			CreatedAt: FormatTime(Now()),
		})
		if err != nil {
			return err
		}
		return context.DeadlineExceeded
	})
	if err == nil {
		t.Fatal("expected error to propagate from WithTx")
	}

	p, err := store.Queries().GetProjectByName(ctx, "rollback-me")
	if err != nil {
		t.Fatalf("GetProjectByName() error: %v", err)
	}
	if p != nil {
		t.Fatal("expected rollback to discard the insert")
	}
}
