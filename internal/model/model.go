// Package model defines the domain entities shared across the ledger:
// projects, log entries, log files, rotation records, document changes,
// and sessions.
package model

import "time"

// ProjectStatus is the project lifecycle state.
type ProjectStatus string

const (
	StatusPlanning   ProjectStatus = "planning"
	StatusInProgress ProjectStatus = "in_progress"
	StatusComplete   ProjectStatus = "complete"
)

// StalenessLevel buckets a project by how long it has been quiet.
type StalenessLevel string

const (
	StalenessFresh   StalenessLevel = "fresh"
	StalenessWarming StalenessLevel = "warming"
	StalenessStale   StalenessLevel = "stale"
	StalenessFrozen  StalenessLevel = "frozen"
)

// Canonical log type names. "progress" is the default and every project's
// canonical timeline; bugs/security entries are mirrored into it.
const (
	LogTypeProgress = "progress"
	LogTypeDocs     = "doc_updates"
	LogTypeSecurity = "security"
	LogTypeBugs     = "bugs"
	LogTypeGlobal   = "global"
	LogTypeResearch = "research"
)

// DocsMeta tracks baseline/current hashes and drift flags for a project's
// core documents (architecture, phase_plan, checklist, progress_log, ...).
type DocsMeta struct {
	BaselineHashes map[string]string `json:"baseline_hashes"`
	CurrentHashes  map[string]string `json:"current_hashes"`
	Flags          map[string]bool   `json:"flags"`
	UpdateCount    int               `json:"update_count"`
	LastUpdateAt   *time.Time        `json:"last_update_at,omitempty"`
	DriftScore     float64           `json:"drift_score"`
}

// ActivityMeta holds the computed staleness/activity view of a project.
type ActivityMeta struct {
	ProjectAgeDays     float64        `json:"project_age_days"`
	DaysSinceLastEntry float64        `json:"days_since_last_entry"`
	DaysSinceLastAccess float64       `json:"days_since_last_access"`
	StalenessLevel     StalenessLevel `json:"staleness_level"`
	ActivityScore      float64        `json:"activity_score"`
}

// Project is the registry's unit of ownership: a slug-named repo root with
// a mapping of canonical doc/log paths.
type Project struct {
	Name            string            `json:"name"`
	Root            string            `json:"root"`
	ProgressLogPath string            `json:"progress_log_path"`
	DocsDir         string            `json:"docs_dir,omitempty"`
	Docs            map[string]string `json:"docs"`
	Defaults        map[string]string `json:"defaults"`
	Version         int64             `json:"version"`
	Status          ProjectStatus     `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	LastEntryAt     *time.Time        `json:"last_entry_at,omitempty"`
	LastAccessAt    *time.Time        `json:"last_access_at,omitempty"`
	LastStatusChange *time.Time       `json:"last_status_change,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Description     string            `json:"description,omitempty"`
	Docs_           DocsMeta          `json:"-"`
	Activity        ActivityMeta      `json:"-"`
}

// Slug returns the lowercased, hyphenated form of a project name, used in
// IDs and paths.
func Slug(name string) string {
	out := make([]rune, 0, len(name))
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+32)
			lastDash = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// LogEntry is one immutable line appended to a project's log.
type LogEntry struct {
	ID       string            `json:"id"`
	Project  string            `json:"project"`
	TS       time.Time         `json:"ts"`
	Emoji    string            `json:"emoji"`
	Agent    string            `json:"agent"`
	Message  string            `json:"message"`
	Meta     map[string]string `json:"meta,omitempty"`
	RawLine  string            `json:"raw_line"`
	SHA256   string            `json:"sha256"`
	LogType  string            `json:"log_type"`
}

// LogFile tracks per-(project, log_type) size/estimation bookkeeping.
type LogFile struct {
	Path            string  `json:"path"`
	SizeBytes       int64   `json:"size_bytes"`
	EMABytesPerLine float64 `json:"ema_bytes_per_line"`
	LineCount       int64   `json:"line_count"`
	MTimeNS         int64   `json:"mtime_ns"`
	Inode           uint64  `json:"inode"`
	Initialized     bool    `json:"initialized"`
}

// RotationRecord is the audit row written each time a log file is rotated.
type RotationRecord struct {
	RotationID        string    `json:"rotation_id"`
	Project           string    `json:"project"`
	LogType           string    `json:"log_type"`
	SequenceNumber    int64     `json:"sequence_number"`
	PreviousHash      string    `json:"previous_hash"`
	ArchivePath       string    `json:"archive_path"`
	ArchiveSHA256     string    `json:"archive_sha256"`
	RotatedEntryCount int64     `json:"rotated_entry_count"`
	RotationTimestamp time.Time `json:"rotation_timestamp"`
	DurationMS        int64     `json:"duration_ms"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// DocumentChangeAction enumerates the document-manager mutation kinds.
type DocumentChangeAction string

const (
	ActionReplaceSection  DocumentChangeAction = "replace_section"
	ActionReplaceRange    DocumentChangeAction = "replace_range"
	ActionAppend          DocumentChangeAction = "append"
	ActionApplyPatch      DocumentChangeAction = "apply_patch"
	ActionStatusUpdate    DocumentChangeAction = "status_update"
	ActionNormalizeHeaders DocumentChangeAction = "normalize_headers"
	ActionGenerateTOC     DocumentChangeAction = "generate_toc"
	ActionCreateDoc       DocumentChangeAction = "create_doc"
)

// DocumentChange is the audit row recorded for every byte-mutating
// document-manager action.
type DocumentChange struct {
	Project       string                `json:"project"`
	Doc           string                `json:"doc"`
	SectionAnchor string                `json:"section_anchor,omitempty"`
	Action        DocumentChangeAction  `json:"action"`
	SHABefore     string                `json:"sha_before"`
	SHAAfter      string                `json:"sha_after"`
	Agent         string                `json:"agent"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	Timestamp     time.Time             `json:"ts"`
}

// SessionMode scopes how a session resolves its current project.
type SessionMode string

const (
	SessionGlobal   SessionMode = "global"
	SessionProject  SessionMode = "project"
	SessionSentinel SessionMode = "sentinel"
)

// Session binds an agent's transport session to an optional project.
type Session struct {
	SessionID   string      `json:"session_id"`
	Mode        SessionMode `json:"mode"`
	ProjectName string      `json:"project_name,omitempty"`
	AgentID     string      `json:"agent_id,omitempty"`
}

// HashChain is the per-project rotation tamper-evidence chain.
type HashChain struct {
	LastHash     string `json:"last_hash"`
	RootHash     string `json:"root_hash"`
	LastSequence int64  `json:"last_sequence"`
}
