// Package query implements the read path over the ledger: scope
// resolution across a project's logs (or all projects, or the bugs/
// security/research cross-cuts), SQLite-primary fetch with a log-tail
// fallback when the mirror and the file have drifted, filter
// composition, relevance scoring, and pagination. Grounded on
// original_source/tools/query_entries.py for the scope/scoring
// semantics and on the teacher's internal/repo/sqlite.go query shape for
// the SQLite access pattern.
package query

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paxocial/scribe-mcp-sub000/internal/cache"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/logline"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// readLines reads path into memory as a slice of lines, without
// trailing newlines. Used by the file-tail fallback path and by
// code-reference verification.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// Scope selects which projects and log types a query runs over.
type Scope string

const (
	ScopeProject     Scope = "project"
	ScopeAllProjects Scope = "all_projects"
	ScopeGlobal      Scope = "global"
	ScopeResearch    Scope = "research"
	ScopeBugs        Scope = "bugs"
	ScopeAll         Scope = "all"
)

// MessageMode selects how Request.MessageMatch is matched against an
// entry's message.
type MessageMode string

const (
	MessageModeSubstring MessageMode = "substring"
	MessageModeRegex     MessageMode = "regex"
	MessageModeExact     MessageMode = "exact"
)

// Request is the query engine's public contract.
type Request struct {
	Scope          Scope
	Project        string
	LogType        string
	Agent          string
	Status         string
	Since          *time.Time
	Until          *time.Time
	MessageMatch   string
	MessageMode    MessageMode
	CaseSensitive  bool
	MetaMatch      map[string]string
	Page           int
	PageSize       int
	VerifyCodeRefs bool
	RepoRoot       string
}

// Match is one matched log entry with its computed relevance score.
type Match struct {
	Project   string
	LogType   string
	Entry     model.LogEntry
	Score     float64
	FromCache bool
	CodeRefsValid *bool
}

// Response is the query engine's paginated result set.
type Response struct {
	Matches    []Match
	Total      int64
	Page       int
	PageSize   int
	HasMore    bool
	Approximate bool
}

// Engine runs queries against the SQLite mirror, falling back to a scan
// of the log file when the mirror can't answer for a (project, log type)
// pair: no project row, a query error, or no mirrored rows.
type Engine struct {
	store    *db.Store
	registry *registry.Registry
	cache    *cache.Cache[*Response]
	log      *zap.SugaredLogger
}

// New returns an Engine. cacheTTL of 0 disables caching.
func New(store *db.Store, reg *registry.Registry, cacheTTL time.Duration, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var c *cache.Cache[*Response]
	if cacheTTL > 0 {
		c = cache.New[*Response](cacheTTL, 256)
	}
	return &Engine{store: store, registry: reg, cache: c, log: logger}
}

// Query resolves req's scope into one or more (project, logType) pairs,
// fetches matching entries (SQLite-primary, log-tail fallback), scores
// and sorts them by relevance, and paginates.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	if req.PageSize <= 0 {
		req.PageSize = 50
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	cacheKey := e.cacheKey(req)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			clone := *cached
			clone.Matches = append([]Match(nil), cached.Matches...)
			for i := range clone.Matches {
				clone.Matches[i].FromCache = true
			}
			return &clone, nil
		}
	}

	targets, err := e.resolveScope(ctx, req)
	if err != nil {
		return nil, err
	}

	var all []Match
	approximate := false
	for _, t := range targets {
		matches, approx, err := e.fetchOne(ctx, t.project, t.logType, req)
		if err != nil {
			e.log.Warnw("query fetch fell back to file tail", "project", t.project.Name, "log_type", t.logType, "error", err)
			continue
		}
		approximate = approximate || approx
		all = append(all, matches...)
	}

	filtered, err := applyFilters(all, req)
	if err != nil {
		return nil, err
	}
	scoreMatches(filtered, req)
	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].Score > filtered[j].Score })

	total := int64(len(filtered))
	start := (req.Page - 1) * req.PageSize
	if start > len(filtered) {
		start = len(filtered)
	}
	end := start + req.PageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	page := filtered[start:end]

	if req.VerifyCodeRefs && req.RepoRoot != "" {
		for i := range page {
			valid := verifyCodeRefs(req.RepoRoot, page[i].Entry.Message)
			page[i].CodeRefsValid = &valid
		}
	}

	resp := &Response{Matches: page, Total: total, Page: req.Page, PageSize: req.PageSize, HasMore: end < len(filtered), Approximate: approximate}
	if e.cache != nil {
		e.cache.Set(cacheKey, resp)
	}
	return resp, nil
}

type target struct {
	project *model.Project
	logType string
}

// resolveScope expands req.Scope into the concrete (project, logType)
// pairs to fetch.
func (e *Engine) resolveScope(ctx context.Context, req Request) ([]target, error) {
	switch req.Scope {
	case ScopeProject, "":
		p, err := e.registry.GetProject(ctx, req.Project)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, nil
		}
		if req.LogType != "" {
			return []target{{project: p, logType: req.LogType}}, nil
		}
		return []target{
			{project: p, logType: model.LogTypeProgress},
			{project: p, logType: model.LogTypeDocs},
			{project: p, logType: model.LogTypeBugs},
			{project: p, logType: model.LogTypeSecurity},
		}, nil

	case ScopeAllProjects, ScopeGlobal, ScopeAll:
		projects, err := e.registry.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		logTypes := []string{model.LogTypeProgress}
		if req.Scope == ScopeAll {
			logTypes = []string{model.LogTypeProgress, model.LogTypeDocs, model.LogTypeBugs, model.LogTypeSecurity}
		}
		var out []target
		for _, p := range projects {
			for _, lt := range logTypes {
				out = append(out, target{project: p, logType: lt})
			}
		}
		return out, nil

	case ScopeResearch:
		projects, err := e.registry.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		var out []target
		for _, p := range projects {
			out = append(out, target{project: p, logType: model.LogTypeResearch})
		}
		return out, nil

	case ScopeBugs:
		if req.Project != "" {
			p, err := e.registry.GetProject(ctx, req.Project)
			if err != nil || p == nil {
				return nil, err
			}
			return []target{{project: p, logType: model.LogTypeBugs}}, nil
		}
		projects, err := e.registry.ListProjects(ctx)
		if err != nil {
			return nil, err
		}
		var out []target
		for _, p := range projects {
			out = append(out, target{project: p, logType: model.LogTypeBugs})
		}
		return out, nil
	}
	return nil, nil
}

// fetchOne fetches entries for one (project, logType) pair, preferring
// the SQLite mirror and falling back to parsing every line of the log
// file when the mirror has no project row, fails, or has no rows for
// the log type (mirror/file drift).
func (e *Engine) fetchOne(ctx context.Context, project *model.Project, logType string, req Request) ([]Match, bool, error) {
	row, err := e.store.Queries().GetProjectByName(ctx, project.Name)
	if err != nil || row == nil {
		return e.fetchFromFile(project, logType, req)
	}

	filters := db.EntryFilters{LogType: logType, Agent: req.Agent, Start: req.Since, End: req.Until}
	count, err := e.store.Queries().CountEntries(ctx, row.ID, filters)
	if err != nil {
		return e.fetchFromFile(project, logType, req)
	}
	if count == 0 {
		// Mirror has no rows; the file may still have content if it
		// predates the mirror or a write failed to mirror. Fall back.
		return e.fetchFromFile(project, logType, req)
	}

	rows, err := e.store.Queries().ListEntriesPaginated(ctx, row.ID, filters, 0, 5000)
	if err != nil {
		return e.fetchFromFile(project, logType, req)
	}

	out := make([]Match, 0, len(rows))
	for _, r := range rows {
		ts, _ := db.ParseTime(r.TS)
		var meta map[string]string
		if metaStr := nullStr(r.Meta); metaStr != "" {
			_ = json.Unmarshal([]byte(metaStr), &meta)
		}
		entry := model.LogEntry{
			ID: r.EntryID, Project: project.Name, TS: ts, Emoji: nullStr(r.Emoji), Agent: nullStr(r.Agent),
			Message: r.Message, Meta: meta, RawLine: r.RawLine, SHA256: r.SHA256, LogType: r.LogType,
		}
		out = append(out, Match{Project: project.Name, LogType: logType, Entry: entry})
	}
	return out, false, nil
}

func nullStr(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}

// fetchFromFile parses the raw log file's lines as a fallback when the
// SQLite mirror can't serve the query. The result is marked approximate
// since metadata round-tripping through logline.Parse can lose
// information that was sanitized away on write in edge cases.
func (e *Engine) fetchFromFile(project *model.Project, logType string, req Request) ([]Match, bool, error) {
	path, ok := project.Docs[logType]
	if !ok || path == "" {
		path = project.Root + "/" + logType + ".md"
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, true, err
	}

	out := make([]Match, 0, len(lines))
	for _, line := range lines {
		fields, err := logline.Parse(line)
		if err != nil {
			continue
		}
		entry := model.LogEntry{
			ID: fields.ID, Project: project.Name, TS: fields.TS, Emoji: fields.Emoji, Agent: fields.Agent,
			Message: fields.Message, Meta: fields.Meta, RawLine: line, LogType: logType,
		}
		out = append(out, Match{Project: project.Name, LogType: logType, Entry: entry})
	}
	return out, true, nil
}

// messageMatcher reports whether an entry's message satisfies
// req.MessageMatch under req.MessageMode/req.CaseSensitive.
type messageMatcher func(message string) bool

// buildMessageMatcher compiles req's message filter once per query
// (not per-entry), per §4.8 step 3: substring (the default), regex
// (full-match), or exact.
func buildMessageMatcher(req Request) (messageMatcher, error) {
	if req.MessageMatch == "" {
		return func(string) bool { return true }, nil
	}
	needle := req.MessageMatch
	fold := func(s string) string { return s }
	if !req.CaseSensitive {
		fold = strings.ToLower
		needle = fold(needle)
	}

	switch req.MessageMode {
	case MessageModeRegex:
		pattern := "^(?:" + req.MessageMatch + ")$"
		if !req.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.KindMessageInvalid, "compile message_mode=regex pattern", err)
		}
		return func(message string) bool { return re.MatchString(message) }, nil

	case MessageModeExact:
		return func(message string) bool { return fold(message) == needle }, nil

	case MessageModeSubstring, "":
		return func(message string) bool { return strings.Contains(fold(message), needle) }, nil
	}
	return nil, scribeerr.New(scribeerr.KindMessageInvalid, "unknown message_mode: "+string(req.MessageMode))
}

func applyFilters(matches []Match, req Request) ([]Match, error) {
	matchMessage, err := buildMessageMatcher(req)
	if err != nil {
		return nil, err
	}

	out := matches[:0:0]
	for _, m := range matches {
		if req.Agent != "" && !strings.EqualFold(m.Entry.Agent, req.Agent) {
			continue
		}
		if req.Since != nil && m.Entry.TS.Before(*req.Since) {
			continue
		}
		if req.Until != nil && m.Entry.TS.After(*req.Until) {
			continue
		}
		if !matchMessage(m.Entry.Message) {
			continue
		}
		if req.Status != "" {
			wantEmoji := statusEmojiOrSelf(req.Status)
			if m.Entry.Emoji != wantEmoji {
				continue
			}
		}
		matchesMeta := true
		for k, v := range req.MetaMatch {
			if m.Entry.Meta[k] != v {
				matchesMeta = false
				break
			}
		}
		if !matchesMeta {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func statusEmojiOrSelf(status string) string {
	emojis := map[string]string{
		"info": "ℹ️", "success": "✅", "warn": "⚠️", "error": "❌", "bug": "🐞", "plan": "🧭",
	}
	if e, ok := emojis[status]; ok {
		return e
	}
	return status
}

// scoreMatches assigns a relevance score: message-match strength plus a
// recency bonus that decays over 30 days, so a fresh weak match can
// still outrank a stale strong one within a bounded window.
func scoreMatches(matches []Match, req Request) {
	now := time.Now().UTC()
	for i := range matches {
		score := 1.0
		if req.MessageMatch != "" {
			lower := strings.ToLower(matches[i].Entry.Message)
			needle := strings.ToLower(req.MessageMatch)
			if strings.Contains(lower, needle) {
				score += float64(len(needle)) / float64(len(lower)+1)
			}
		}
		age := now.Sub(matches[i].Entry.TS).Hours() / 24
		recency := math.Exp(-age / 30.0)
		score += recency
		matches[i].Score = score
	}
}

var codeRefPattern = regexp.MustCompile(`([a-zA-Z0-9_./\-]+\.(?:go|py|js|ts|md|yaml|yml|json)):(\d+)`)

// verifyCodeRefs reports whether every "path:line"-shaped reference in
// message still points within a file's current line count under
// repoRoot. A message with no such references is trivially valid.
func verifyCodeRefs(repoRoot, message string) bool {
	matches := codeRefPattern.FindAllStringSubmatch(message, -1)
	if len(matches) == 0 {
		return true
	}
	for _, m := range matches {
		path := repoRoot + "/" + m[1]
		lines, err := readLines(path)
		if err != nil {
			return false
		}
		var lineNum int
		for _, c := range m[2] {
			lineNum = lineNum*10 + int(c-'0')
		}
		if lineNum > len(lines) {
			return false
		}
	}
	return true
}

func (e *Engine) cacheKey(req Request) string {
	var b strings.Builder
	b.WriteString(string(req.Scope))
	b.WriteByte('|')
	b.WriteString(req.Project)
	b.WriteByte('|')
	b.WriteString(req.LogType)
	b.WriteByte('|')
	b.WriteString(req.Agent)
	b.WriteByte('|')
	b.WriteString(req.Status)
	b.WriteByte('|')
	b.WriteString(req.MessageMatch)
	b.WriteByte('|')
	b.WriteString(string(req.MessageMode))
	b.WriteByte('|')
	if req.CaseSensitive {
		b.WriteByte('1')
	}
	return b.String()
}
