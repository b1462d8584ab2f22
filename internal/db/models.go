package db

import (
	"database/sql"
	"time"
)

// Project is the scribe_projects row shape.
type Project struct {
	ID               int64
	Name             string
	RepoRoot         string
	ProgressLogPath  string
	Description      sql.NullString
	Status           string
	CreatedAt        string
	LastEntryAt      sql.NullString
	LastAccessAt     sql.NullString
	LastStatusChange sql.NullString
	Tags             sql.NullString
	Meta             sql.NullString
}

// UpsertProjectParams are the fields accepted by UpsertProject.
type UpsertProjectParams struct {
	Name            string
	RepoRoot        string
	ProgressLogPath string
	Description     sql.NullString
	CreatedAt       string
	Tags            sql.NullString
	Meta            sql.NullString
}

// Entry is the scribe_entries row shape.
type Entry struct {
	EntryID   string
	ProjectID int64
	TS        string
	Emoji     sql.NullString
	Agent     sql.NullString
	Message   string
	Meta      sql.NullString
	RawLine   string
	SHA256    string
	LogType   string
}

// InsertEntryParams are the fields accepted by InsertEntry.
type InsertEntryParams struct {
	EntryID   string
	ProjectID int64
	TS        string
	Emoji     sql.NullString
	Agent     sql.NullString
	Message   string
	Meta      sql.NullString
	RawLine   string
	SHA256    string
	LogType   string
}

// Rotation is the rotations row shape.
type Rotation struct {
	RotationID        string
	ProjectID         int64
	LogType           string
	SequenceNumber    int64
	PreviousHash      sql.NullString
	ArchivePath       string
	ArchiveSHA256     sql.NullString
	RotatedEntryCount sql.NullInt64
	RotationTimestamp string
	DurationMS        sql.NullInt64
	Metadata          sql.NullString
}

// DocChange is the doc_changes row shape.
type DocChange struct {
	ID          int64
	ProjectID   int64
	Doc         string
	Section     sql.NullString
	Action      string
	Agent       sql.NullString
	Metadata    sql.NullString
	SHABefore   sql.NullString
	SHAAfter    sql.NullString
	TS          string
}

// EntryFilters narrows ListEntriesPaginated/CountEntries.
type EntryFilters struct {
	Agent   string
	LogType string
	Start   *time.Time
	End     *time.Time
	Meta    map[string]string
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringValue(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

// Now returns the current time formatted for SQLite storage: UTC with
// the monotonic reading stripped, matching the teacher's db.Now().
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// FormatTime renders a time.Time the way it should be stored in a TEXT
// column (RFC3339).
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseTime parses a stored timestamp back into a time.Time, trying the
// layouts SQLite and this module's own FormatTime may have produced —
// grounded on the teacher's parseTime helper in internal/repo/sqlite.go,
// which tries a list of layouts for the same reason (values can arrive
// via the modernc.org/sqlite driver's _time_format=sqlite mode or via
// plain RFC3339 text written by this package).
func ParseTime(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
