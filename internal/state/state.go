// Package state implements the in-process state manager: a
// single JSON snapshot persisted to disk on every mutation, guarded by
// one mutex so all writers serialize. Grounded on the teacher's
// internal/config load/save shape (read-whole-file, unmarshal,
// marshal-whole-file, write-whole-file) but persisted via
// internal/fileio's atomic-write-then-rename instead of a bare
// os.WriteFile, since this file is mutated far more often than a
// config file ever is.
package state

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/fileio"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// AgentState is one agent's view of its current project.
type AgentState struct {
	CurrentProject string    `json:"current_project"`
	Version        int64     `json:"version"`
	UpdatedBy      string    `json:"updated_by"`
	SessionID      string    `json:"session_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Snapshot is the full persisted shape.
type Snapshot struct {
	CurrentProject string                          `json:"current_project"`
	Agents         map[string]AgentState            `json:"agents"`
	RecentProjects []string                          `json:"recent_projects"`
	RecentTools    []string                          `json:"recent_tools"`
	LogFiles       map[string]model.LogFile          `json:"log_files"` // key: project+"/"+log_type
	HashChains     map[string]model.HashChain        `json:"hash_chains"` // key: project
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Agents:     make(map[string]AgentState),
		LogFiles:   make(map[string]model.LogFile),
		HashChains: make(map[string]model.HashChain),
	}
}

const maxRecent = 20

// Manager owns the one persisted Snapshot and serializes all mutation
// through mu.
type Manager struct {
	mu   sync.Mutex
	path string
	snap Snapshot
}

// Open loads path if it exists, or starts from an empty snapshot.
func Open(path string) (*Manager, error) {
	m := &Manager{path: path, snap: emptySnapshot()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "read state snapshot", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "parse state snapshot", err)
	}
	if snap.Agents == nil {
		snap.Agents = make(map[string]AgentState)
	}
	if snap.LogFiles == nil {
		snap.LogFiles = make(map[string]model.LogFile)
	}
	if snap.HashChains == nil {
		snap.HashChains = make(map[string]model.HashChain)
	}
	m.snap = snap
	return m, nil
}

func (m *Manager) persistLocked() error {
	data, err := json.MarshalIndent(m.snap, "", "  ")
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "marshal state snapshot", err)
	}
	if err := fileio.AtomicWrite(m.path, data, 0o644); err != nil {
		return err
	}
	return nil
}

// SetCurrentProject sets the session-global current project, or the
// given agent's current project when agent != "". expectedVersion
// enforces optimistic concurrency: a mismatch against the agent's
// stored version returns VersionConflict and no mutation
// happens.
func (m *Manager) SetCurrentProject(agent, project string, expectedVersion int64, updatedBy, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agent == "" {
		m.snap.CurrentProject = project
		m.touchRecentProjectLocked(project)
		return m.persistLocked()
	}

	current, ok := m.snap.Agents[agent]
	if ok && current.Version != expectedVersion {
		return scribeerr.New(scribeerr.KindVersionConflict, "current_project version mismatch").
			WithDetails(map[string]any{"expected": expectedVersion, "actual": current.Version})
	}
	m.snap.Agents[agent] = AgentState{
		CurrentProject: project,
		Version:        current.Version + 1,
		UpdatedBy:      updatedBy,
		SessionID:      sessionID,
		UpdatedAt:      time.Now().UTC(),
	}
	m.touchRecentProjectLocked(project)
	return m.persistLocked()
}

// CurrentProject returns the effective current project for agent,
// falling back to the session-global value when the agent has none set.
func (m *Manager) CurrentProject(agent string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agent != "" {
		if a, ok := m.snap.Agents[agent]; ok && a.CurrentProject != "" {
			return a.CurrentProject
		}
	}
	return m.snap.CurrentProject
}

func (m *Manager) touchRecentProjectLocked(project string) {
	if project == "" {
		return
	}
	m.snap.RecentProjects = pushMostRecent(m.snap.RecentProjects, project, maxRecent)
}

// TouchTool records a tool invocation in the recent_tools ring.
func (m *Manager) TouchTool(tool string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.RecentTools = pushMostRecent(m.snap.RecentTools, tool, maxRecent)
	return m.persistLocked()
}

func pushMostRecent(list []string, item string, max int) []string {
	filtered := make([]string, 0, len(list)+1)
	filtered = append(filtered, item)
	for _, v := range list {
		if v != item {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) > max {
		filtered = filtered[:max]
	}
	return filtered
}

// UpdateLogFile stores the latest size/estimation bookkeeping for
// (project, logType).
func (m *Manager) UpdateLogFile(project, logType string, lf model.LogFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.LogFiles[logFileKey(project, logType)] = lf
	return m.persistLocked()
}

// LogFile returns the cached stats for (project, logType), if any.
func (m *Manager) LogFile(project, logType string) (model.LogFile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lf, ok := m.snap.LogFiles[logFileKey(project, logType)]
	return lf, ok
}

func logFileKey(project, logType string) string {
	return project + "/" + logType
}

// UpdateHashChain stores the latest rotation hash-chain head for project.
func (m *Manager) UpdateHashChain(project string, chain model.HashChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.HashChains[project] = chain
	return m.persistLocked()
}

// HashChain returns the current hash-chain head for project.
func (m *Manager) HashChain(project string) model.HashChain {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.HashChains[project]
}

// RecentProjects returns the most-recent-first, de-duplicated list.
func (m *Manager) RecentProjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.snap.RecentProjects))
	copy(out, m.snap.RecentProjects)
	return out
}
