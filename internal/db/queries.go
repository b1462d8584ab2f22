package db

import (
	"context"
	"database/sql"
	"fmt"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, following the sqlc
// convention the teacher's own Queries type is modeled on.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the hand-rolled data access layer, styled after the
// teacher's sqlc-shaped Queries type (New(db), WithTx(tx)).
type Queries struct {
	db dbtx
}

// New returns a Queries bound to db (a *sql.DB or, via WithTx, a *sql.Tx).
func New(db dbtx) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// UpsertProject inserts a project row or, on name conflict, overwrites
// repo_root and progress_log_path and keeps the existing description,
// tags and meta; the new values only fill those columns where they are
// NULL (mirrors the teacher's COALESCE-based ensure_project pattern).
func (q *Queries) UpsertProject(ctx context.Context, p UpsertProjectParams) (int64, error) {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO scribe_projects (name, repo_root, progress_log_path, description, status, created_at, tags, meta)
		VALUES (?, ?, ?, ?, 'planning', ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			repo_root = excluded.repo_root,
			progress_log_path = excluded.progress_log_path,
			description = COALESCE(scribe_projects.description, excluded.description),
			tags = COALESCE(scribe_projects.tags, excluded.tags),
			meta = COALESCE(scribe_projects.meta, excluded.meta)
	`, p.Name, p.RepoRoot, p.ProgressLogPath, p.Description, p.CreatedAt, p.Tags, p.Meta)
	if err != nil {
		return 0, fmt.Errorf("upsert project: %w", err)
	}
	row := q.db.QueryRowContext(ctx, `SELECT id FROM scribe_projects WHERE name = ?`, p.Name)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("fetch project id: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `INSERT OR IGNORE INTO scribe_metrics (project_id, total_entries) VALUES (?, 0)`, id); err != nil {
		return 0, fmt.Errorf("ensure metrics row: %w", err)
	}
	return id, nil
}

// GetProjectByName returns nil, nil when the project doesn't exist,
// following the teacher's sql.ErrNoRows -> nil, nil pattern
// (internal/repo/sqlite.go).
func (q *Queries) GetProjectByName(ctx context.Context, name string) (*Project, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, repo_root, progress_log_path, description, status, created_at,
		       last_entry_at, last_access_at, last_status_change, tags, meta
		FROM scribe_projects WHERE name = ?
	`, name)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.RepoRoot, &p.ProgressLogPath, &p.Description, &p.Status,
		&p.CreatedAt, &p.LastEntryAt, &p.LastAccessAt, &p.LastStatusChange, &p.Tags, &p.Meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project by name: %w", err)
	}
	return &p, nil
}

// ListProjects returns every registered project, excluding none (caller
// filters temp/test slugs per scope resolution).
func (q *Queries) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, repo_root, progress_log_path, description, status, created_at,
		       last_entry_at, last_access_at, last_status_change, tags, meta
		FROM scribe_projects ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RepoRoot, &p.ProgressLogPath, &p.Description, &p.Status,
			&p.CreatedAt, &p.LastEntryAt, &p.LastAccessAt, &p.LastStatusChange, &p.Tags, &p.Meta); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetProjectStatus updates status and stamps last_status_change.
func (q *Queries) SetProjectStatus(ctx context.Context, name, status string, changedAt string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scribe_projects SET status = ?, last_status_change = ? WHERE name = ?
	`, status, changedAt, name)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	return nil
}

// TouchProjectAccess stamps last_access_at.
func (q *Queries) TouchProjectAccess(ctx context.Context, name, now string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE scribe_projects SET last_access_at = ? WHERE name = ?`, now, name)
	if err != nil {
		return fmt.Errorf("touch project access: %w", err)
	}
	return nil
}

// TouchProjectEntry stamps last_entry_at.
func (q *Queries) TouchProjectEntry(ctx context.Context, name, now string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE scribe_projects SET last_entry_at = ? WHERE name = ?`, now, name)
	if err != nil {
		return fmt.Errorf("touch project entry: %w", err)
	}
	return nil
}

// InsertEntry mirrors one appended log line into scribe_entries and bumps
// the project's total_entries counter with a second statement. The two
// statements share a transaction only when q is bound to one via WithTx.
func (q *Queries) InsertEntry(ctx context.Context, p InsertEntryParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO scribe_entries (entry_id, project_id, ts, emoji, agent, message, meta, raw_line, sha256, log_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO NOTHING
	`, p.EntryID, p.ProjectID, p.TS, p.Emoji, p.Agent, p.Message, p.Meta, p.RawLine, p.SHA256, p.LogType)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `
		UPDATE scribe_metrics SET total_entries = total_entries + 1 WHERE project_id = ?
	`, p.ProjectID); err != nil {
		return fmt.Errorf("bump metrics: %w", err)
	}
	return nil
}

// ListEntriesPaginated backs the query engine's primary fetch path
//: filters pushed down, ordered by ts DESC.
func (q *Queries) ListEntriesPaginated(ctx context.Context, projectID int64, f EntryFilters, offset, limit int) ([]Entry, error) {
	query := `SELECT entry_id, project_id, ts, emoji, agent, message, meta, raw_line, sha256, log_type
	          FROM scribe_entries WHERE project_id = ?`
	args := []any{projectID}

	if f.LogType != "" {
		query += " AND log_type = ?"
		args = append(args, f.LogType)
	}
	if f.Agent != "" {
		query += " AND agent = ?"
		args = append(args, f.Agent)
	}
	if f.Start != nil {
		query += " AND ts >= ?"
		args = append(args, FormatTime(*f.Start))
	}
	if f.End != nil {
		query += " AND ts <= ?"
		args = append(args, FormatTime(*f.End))
	}
	query += " ORDER BY ts DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries paginated: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.EntryID, &e.ProjectID, &e.TS, &e.Emoji, &e.Agent, &e.Message, &e.Meta, &e.RawLine, &e.SHA256, &e.LogType); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEntries returns the total entry count matching f, for pagination.
func (q *Queries) CountEntries(ctx context.Context, projectID int64, f EntryFilters) (int64, error) {
	query := `SELECT COUNT(*) FROM scribe_entries WHERE project_id = ?`
	args := []any{projectID}
	if f.LogType != "" {
		query += " AND log_type = ?"
		args = append(args, f.LogType)
	}
	if f.Agent != "" {
		query += " AND agent = ?"
		args = append(args, f.Agent)
	}
	if f.Start != nil {
		query += " AND ts >= ?"
		args = append(args, FormatTime(*f.Start))
	}
	if f.End != nil {
		query += " AND ts <= ?"
		args = append(args, FormatTime(*f.End))
	}
	row := q.db.QueryRowContext(ctx, query, args...)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// InsertRotation persists a RotationRecord audit row.
func (q *Queries) InsertRotation(ctx context.Context, r Rotation) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO rotations (rotation_id, project_id, log_type, sequence_number, previous_hash,
		                        archive_path, archive_sha256, rotated_entry_count, rotation_timestamp,
		                        duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RotationID, r.ProjectID, r.LogType, r.SequenceNumber, r.PreviousHash, r.ArchivePath,
		r.ArchiveSHA256, r.RotatedEntryCount, r.RotationTimestamp, r.DurationMS, r.Metadata)
	if err != nil {
		return fmt.Errorf("insert rotation: %w", err)
	}
	return nil
}

// LastRotation returns the most recent rotation for (project, log_type),
// or nil if the log has never been rotated — used to seed the hash chain
// (sequence_number, previous_hash) for the next rotation.
func (q *Queries) LastRotation(ctx context.Context, projectID int64, logType string) (*Rotation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT rotation_id, project_id, log_type, sequence_number, previous_hash, archive_path,
		       archive_sha256, rotated_entry_count, rotation_timestamp, duration_ms, metadata
		FROM rotations WHERE project_id = ? AND log_type = ?
		ORDER BY sequence_number DESC LIMIT 1
	`, projectID, logType)
	var r Rotation
	err := row.Scan(&r.RotationID, &r.ProjectID, &r.LogType, &r.SequenceNumber, &r.PreviousHash,
		&r.ArchivePath, &r.ArchiveSHA256, &r.RotatedEntryCount, &r.RotationTimestamp, &r.DurationMS, &r.Metadata)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last rotation: %w", err)
	}
	return &r, nil
}

// InsertDocChange records a document-manager mutation.
func (q *Queries) InsertDocChange(ctx context.Context, c DocChange) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO doc_changes (project_id, doc, section, action, agent, metadata, sha_before, sha_after, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ProjectID, c.Doc, c.Section, c.Action, c.Agent, c.Metadata, c.SHABefore, c.SHAAfter, c.TS)
	if err != nil {
		return fmt.Errorf("insert doc change: %w", err)
	}
	return nil
}

// UpdateProjectMeta overwrites the project's opaque meta JSON blob,
// used by the registry to persist computed docs.{baseline_hashes,
// current_hashes,flags,update_count,last_update_at,drift_score} and
// tags.
func (q *Queries) UpdateProjectMeta(ctx context.Context, name, metaJSON string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE scribe_projects SET meta = ? WHERE name = ?`, metaJSON, name)
	if err != nil {
		return fmt.Errorf("update project meta: %w", err)
	}
	return nil
}

// ProjectMetrics returns the total_entries counter backing activity
// scoring's entry_rate term.
func (q *Queries) ProjectMetrics(ctx context.Context, projectID int64) (int64, error) {
	row := q.db.QueryRowContext(ctx, `SELECT total_entries FROM scribe_metrics WHERE project_id = ?`, projectID)
	var total int64
	if err := row.Scan(&total); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("project metrics: %w", err)
	}
	return total, nil
}

// UpsertAgentRecentProject records that agentID most recently touched
// projectName, for the state manager's recent-projects view.
func (q *Queries) UpsertAgentRecentProject(ctx context.Context, agentID, projectName, now string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO agent_recent_projects (agent_id, project_name, last_seen)
		VALUES (?, ?, ?)
		ON CONFLICT(agent_id, project_name) DO UPDATE SET last_seen = excluded.last_seen
	`, agentID, projectName, now)
	if err != nil {
		return fmt.Errorf("upsert agent recent project: %w", err)
	}
	return nil
}
