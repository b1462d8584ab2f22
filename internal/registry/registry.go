// Package registry implements the project registry: a derived
// view over the SQLite mirror's scribe_projects/scribe_metrics tables,
// limited to six writes (ensure_project, touch_access, touch_entry,
// set_status, record_doc_update, register_doc) and computing staleness/activity/doc-
// drift fields on every read. Grounded on the teacher's
// internal/repo/sqlite.go query shape, generalized from Linear issue
// rows to project rows.
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// Registry is the read/write facade over the project table.
type Registry struct {
	q *db.Queries
}

// New returns a Registry bound to q.
func New(q *db.Queries) *Registry {
	return &Registry{q: q}
}

// projectMeta is the JSON shape persisted in scribe_projects.meta.
type projectMeta struct {
	Docs  model.DocsMeta    `json:"docs"`
	Paths map[string]string `json:"paths,omitempty"`
}

// EnsureProject creates project if it doesn't exist. For an existing
// row it overwrites the repo root and progress log path and keeps the
// other fields (see db.Queries.UpsertProject).
func (r *Registry) EnsureProject(ctx context.Context, name, root, progressLogPath string) (*model.Project, error) {
	now := db.Now()
	_, err := r.q.UpsertProject(ctx, db.UpsertProjectParams{
		Name:            name,
		RepoRoot:        root,
		ProgressLogPath: progressLogPath,
		CreatedAt:       db.FormatTime(now),
	})
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "ensure project", err)
	}
	return r.GetProject(ctx, name)
}

// TouchAccess stamps last_access_at.
func (r *Registry) TouchAccess(ctx context.Context, name string) error {
	if err := r.q.TouchProjectAccess(ctx, name, db.FormatTime(db.Now())); err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "touch access", err)
	}
	return nil
}

// TouchEntry stamps last_entry_at and applies the lifecycle promotion
// rule: a planning project transitions to in_progress the first time a
// progress entry lands and all three core docs have been touched.
func (r *Registry) TouchEntry(ctx context.Context, name, logType string) error {
	now := db.Now()
	if err := r.q.TouchProjectEntry(ctx, name, db.FormatTime(now)); err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "touch entry", err)
	}
	if logType != model.LogTypeProgress {
		return nil
	}

	p, err := r.GetProject(ctx, name)
	if err != nil || p == nil {
		return err
	}
	if p.Status == model.StatusPlanning && docsReadyForWork(p.Docs_.Flags) {
		return r.SetStatus(ctx, name, string(model.StatusInProgress))
	}
	return nil
}

// SetStatus updates a project's lifecycle status.
func (r *Registry) SetStatus(ctx context.Context, name, status string) error {
	if err := r.q.SetProjectStatus(ctx, name, status, db.FormatTime(db.Now())); err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "set status", err)
	}
	return nil
}

// RecordDocUpdate increments the docs update counter and records the
// document's new content hash, recomputing baseline/current/flags.
func (r *Registry) RecordDocUpdate(ctx context.Context, name, doc, sha256 string) error {
	p, err := r.GetProject(ctx, name)
	if err != nil {
		return err
	}
	if p == nil {
		return scribeerr.New(scribeerr.KindProjectResolution, "unknown project: "+name)
	}

	meta := p.Docs_
	if meta.BaselineHashes == nil {
		meta.BaselineHashes = make(map[string]string)
	}
	if meta.CurrentHashes == nil {
		meta.CurrentHashes = make(map[string]string)
	}
	if _, seen := meta.BaselineHashes[doc]; !seen {
		meta.BaselineHashes[doc] = sha256
	}
	meta.CurrentHashes[doc] = sha256
	meta.UpdateCount++
	now := db.Now()
	meta.LastUpdateAt = &now
	meta.Flags = computeDocsFlags(meta)

	encoded, err := json.Marshal(projectMeta{Docs: meta, Paths: p.Docs})
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "marshal project meta", err)
	}
	if err := r.q.UpdateProjectMeta(ctx, name, string(encoded)); err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "record doc update", err)
	}
	return nil
}

// RegisterDoc records path as project.Docs[doc], creating the meta
// blob's path map on first use. Used by manage_docs' create_doc action
// when the new document lands under the project's docs_dir.
func (r *Registry) RegisterDoc(ctx context.Context, name, doc, path string) error {
	row, err := r.q.GetProjectByName(ctx, name)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "register doc", err)
	}
	if row == nil {
		return scribeerr.New(scribeerr.KindProjectResolution, "unknown project: "+name)
	}

	var meta projectMeta
	if metaStr := nullString(row.Meta); metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			return scribeerr.Wrap(scribeerr.KindProjectResolution, "parse project meta", err)
		}
	}
	if meta.Paths == nil {
		meta.Paths = make(map[string]string)
	}
	meta.Paths[doc] = path

	encoded, err := json.Marshal(meta)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "marshal project meta", err)
	}
	if err := r.q.UpdateProjectMeta(ctx, name, string(encoded)); err != nil {
		return scribeerr.Wrap(scribeerr.KindProjectResolution, "register doc", err)
	}
	return nil
}

// GetProject returns a project by name with all computed fields filled
// in, or nil if it doesn't exist.
func (r *Registry) GetProject(ctx context.Context, name string) (*model.Project, error) {
	row, err := r.q.GetProjectByName(ctx, name)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "get project", err)
	}
	if row == nil {
		return nil, nil
	}
	totalEntries, err := r.q.ProjectMetrics(ctx, row.ID)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "get project metrics", err)
	}
	return r.toModel(row, totalEntries)
}

// ListProjects returns every registered project with computed fields.
func (r *Registry) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := r.q.ListProjects(ctx)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "list projects", err)
	}
	out := make([]*model.Project, 0, len(rows))
	for i := range rows {
		totalEntries, err := r.q.ProjectMetrics(ctx, rows[i].ID)
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "list projects metrics", err)
		}
		p, err := r.toModel(&rows[i], totalEntries)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *Registry) toModel(row *db.Project, totalEntries int64) (*model.Project, error) {
	createdAt, err := db.ParseTime(row.CreatedAt)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "parse created_at", err)
	}

	p := &model.Project{
		Name:            row.Name,
		Root:            row.RepoRoot,
		ProgressLogPath: row.ProgressLogPath,
		Status:          model.ProjectStatus(row.Status),
		CreatedAt:       createdAt,
		Description:     nullString(row.Description),
	}
	if tags := nullString(row.Tags); tags != "" {
		p.Tags = strings.Split(tags, ",")
	}
	if lastEntry := nullString(row.LastEntryAt); lastEntry != "" {
		if t, err := db.ParseTime(lastEntry); err == nil {
			p.LastEntryAt = &t
		}
	}
	if lastAccess := nullString(row.LastAccessAt); lastAccess != "" {
		if t, err := db.ParseTime(lastAccess); err == nil {
			p.LastAccessAt = &t
		}
	}
	if lastStatus := nullString(row.LastStatusChange); lastStatus != "" {
		if t, err := db.ParseTime(lastStatus); err == nil {
			p.LastStatusChange = &t
		}
	}

	var meta projectMeta
	if metaStr := nullString(row.Meta); metaStr != "" {
		if err := json.Unmarshal([]byte(metaStr), &meta); err != nil {
			return nil, scribeerr.Wrap(scribeerr.KindProjectResolution, "parse project meta", err)
		}
	}
	if meta.Docs.Flags == nil {
		meta.Docs.Flags = computeDocsFlags(meta.Docs)
	}
	p.Docs_ = meta.Docs
	p.Docs = meta.Paths

	now := db.Now()
	p.Activity = computeActivity(p, totalEntries, now)
	p.Docs_.Flags["doc_drift_suspected"] = computeDocDrift(p, now)

	return p, nil
}

func nullString(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
