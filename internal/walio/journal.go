// Package walio implements the write-ahead journal that makes log-file
// appends crash-safe. Grounded on
// original_source/utils/files.py's WriteAheadLog class: journal a
// {op:append,...} line, fsync it, apply the append under the file lock,
// then journal {op:commit, ref_id}. On startup any append without a
// matching commit is replayed and then committed; replay is idempotent
// because the entry's deterministic ID is embedded in the journaled
// content.
package walio

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/paxocial/scribe-mcp-sub000/internal/fileio"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// EntryOp tags a journal line.
type EntryOp string

const (
	OpAppend EntryOp = "append"
	OpCommit EntryOp = "commit"
	OpRotate EntryOp = "rotate"
)

// Entry is one line of the journal file.
type Entry struct {
	Op             EntryOp   `json:"op"`
	ID             string    `json:"id,omitempty"`
	RefID          string    `json:"ref_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Content        string    `json:"content,omitempty"`
	FilePath       string    `json:"file_path,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	RotationID     string    `json:"rotation_id,omitempty"`
	Sequence       int64     `json:"sequence,omitempty"`
	EntriesRotated int64     `json:"entries_rotated,omitempty"`
	LogType        string    `json:"log_type,omitempty"`
}

// Journal is the sibling "<path>.journal" file backing crash-safe
// appends to path.
type Journal struct {
	targetPath  string
	journalPath string
	lockTimeout time.Duration
}

// New returns a Journal for the given target file.
func New(targetPath string, lockTimeout time.Duration) *Journal {
	return &Journal{targetPath: targetPath, journalPath: targetPath + ".journal", lockTimeout: lockTimeout}
}

// WriteEntry journals an append operation under the caller-provided id.
// internal/append passes NewEntryID of the deterministic LogEntry.ID, so
// replay can be matched back to the same logical entry.
func (j *Journal) WriteEntry(id, content string) error {
	entry := Entry{Op: OpAppend, ID: id, Timestamp: time.Now().UTC(), Content: content, FilePath: j.targetPath}
	return j.appendJSONLine(entry)
}

// WriteRotate journals a rotation event. Best-effort: callers log but do not fail the
// rotation if this returns an error.
func (j *Journal) WriteRotate(from, to, rotationID string, sequence, entriesRotated int64, logType string) error {
	entry := Entry{
		Op: OpRotate, Timestamp: time.Now().UTC(), From: from, To: to,
		RotationID: rotationID, Sequence: sequence, EntriesRotated: entriesRotated, LogType: logType,
	}
	return j.appendJSONLine(entry)
}

// Commit marks a previously-journaled append as durable.
func (j *Journal) Commit(id string) error {
	entry := Entry{Op: OpCommit, RefID: id, Timestamp: time.Now().UTC()}
	return j.appendJSONLine(entry)
}

func (j *Journal) appendJSONLine(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "marshal journal entry", err)
	}
	line = append(line, '\n')

	return fileio.WithLock(j.journalPath, j.lockTimeout, func() error {
		f, err := os.OpenFile(j.journalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "open journal", err)
		}
		defer f.Close()
		if _, err := f.Write(line); err != nil {
			return scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "write journal line", err)
		}
		return f.Sync()
	})
}

// ReplayUncommitted scans the journal for append records with no
// matching commit and invokes apply(id, content) for each, in the order
// they were journaled, then commits them. apply is expected to perform
// the idempotent on-disk append (internal/append calls back into its own
// locked-append primitive here). Returns the number of entries replayed.
func (j *Journal) ReplayUncommitted(apply func(id, content string) error) (int, error) {
	f, err := os.Open(j.journalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "open journal for replay", err)
	}
	defer f.Close()

	type pending struct {
		content string
		order   int
	}
	appends := make(map[string]pending)
	committed := make(map[string]bool)
	order := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // a torn/partial final line is expected after a crash; skip it
		}
		switch e.Op {
		case OpAppend:
			appends[e.ID] = pending{content: e.Content, order: order}
			order++
		case OpCommit:
			committed[e.RefID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "scan journal", err)
	}

	type item struct {
		id      string
		content string
		order   int
	}
	var uncommitted []item
	for id, p := range appends {
		if !committed[id] {
			uncommitted = append(uncommitted, item{id: id, content: p.content, order: p.order})
		}
	}
	for i := 0; i < len(uncommitted); i++ {
		for k := i + 1; k < len(uncommitted); k++ {
			if uncommitted[k].order < uncommitted[i].order {
				uncommitted[i], uncommitted[k] = uncommitted[k], uncommitted[i]
			}
		}
	}

	replayed := 0
	for _, it := range uncommitted {
		if err := apply(it.id, it.content); err != nil {
			return replayed, scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "replay append "+it.id, err)
		}
		if err := j.Commit(it.id); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// NewEntryID returns the caller's deterministic id unchanged when it is
// non-empty, and otherwise a fresh UUID, following the teacher's habit
// of UUID-based entity identifiers (internal/api/types.go).
func NewEntryID(deterministicID string) string {
	if deterministicID != "" {
		return deterministicID
	}
	return uuid.NewString()
}
