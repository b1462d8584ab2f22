// Package append implements the append pipeline: parameter
// normalization, project resolution, rate limiting, deterministic entry
// IDs, line composition, rotation-check, crash-safe durable append,
// SQLite mirroring, tee fan-out, and registry touch. Grounded on
// original_source/tools/append_entry.py (in particular
// _generate_deterministic_entry_id's
// sha256(repo_slug|project_slug|ts|agent|message|meta_sha)[:32] scheme)
// and the teacher's internal/sync/worker.go fan-out idiom for bulk mode.
package append

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/paxocial/scribe-mcp-sub000/internal/config"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/fileio"
	"github.com/paxocial/scribe-mcp-sub000/internal/logline"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/ratelimit"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/rotate"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
	"github.com/paxocial/scribe-mcp-sub000/internal/state"
	"github.com/paxocial/scribe-mcp-sub000/internal/validate"
	"github.com/paxocial/scribe-mcp-sub000/internal/walio"
)

// BugEmojis and SecurityEmojis are the closed emoji sets that trigger a
// tee independent of the explicit status field.
var (
	BugEmojis      = map[string]bool{"🐞": true, "🐛": true}
	SecurityEmojis = map[string]bool{"🔒": true, "🛡️": true}
)

// Item is one entry in bulk-mode input.
type Item struct {
	Message     string
	Status      string
	Emoji       string
	Agent       string
	Meta        map[string]string
	TimestampUTC string
}

// Request is the append pipeline's public contract.
type Request struct {
	Project        string
	Message        string
	Items          []Item
	AutoSplit      bool
	SplitDelimiter string
	StaggerSeconds float64
	Status         string
	Emoji          string
	Agent          string
	AgentID        string
	Meta           map[string]string
	TimestampUTC   string
	LogType        string
	RequireProject bool
}

// WrittenLine reports one successful write in bulk mode.
type WrittenLine struct {
	ID   string
	Path string
}

// FailedItem reports one failed write in bulk mode, by index.
type FailedItem struct {
	Index int
	Error scribeerr.ErrorPayload
}

// Response is the append pipeline's public output.
type Response struct {
	OK             bool
	ID             string
	WrittenLines   []WrittenLine
	FailedItems    []FailedItem
	Path           string
	Paths          []string
	Meta           map[string]string
	Reminders      []string
	RecentProjects []string
	Warnings       []scribeerr.ErrorPayload
}

// Pipeline wires the append pipeline's collaborators together.
type Pipeline struct {
	cfg       *config.Config
	store     *db.Store
	state     *state.Manager
	registry  *registry.Registry
	rotate    *rotate.Engine
	rateLimit *ratelimit.Registry
	log       *zap.SugaredLogger
}

// New returns a Pipeline.
func New(cfg *config.Config, store *db.Store, st *state.Manager, reg *registry.Registry, rotateEngine *rotate.Engine, rateLimit *ratelimit.Registry, logger *zap.SugaredLogger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Pipeline{cfg: cfg, store: store, state: st, registry: reg, rotate: rotateEngine, rateLimit: rateLimit, log: logger}
}

// repoSlugPattern matches the characters the Python original's
// _get_repo_slug allows through.
var repoSlugPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)
var dashRun = regexp.MustCompile(`-+`)

// RepoSlug derives a URL-friendly slug from a repository root path,
// grounded on original_source/tools/append_entry.py's _get_repo_slug.
func RepoSlug(repoRoot string) string {
	name := filepath.Base(repoRoot)
	slug := strings.ToLower(name)
	slug = repoSlugPattern.ReplaceAllString(slug, "-")
	slug = dashRun.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "unknown-repo"
	}
	return slug
}

// DeterministicEntryID computes the deterministic entry ID:
// sha256(repo_slug|project_slug|ts|agent|message|meta_sha)[:32].
func DeterministicEntryID(repoSlug, projectSlug, ts, agent, message string, meta map[string]string) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+meta[k])
	}
	metaStr := strings.Join(pairs, "|")
	metaSum := sha256.Sum256([]byte(metaStr))
	metaSHA := hex.EncodeToString(metaSum[:])

	combined := strings.Join([]string{repoSlug, projectSlug, ts, agent, message, metaSHA}, "|")
	full := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(full[:])[:32]
}

// Append runs the full pipeline for a single-mode or bulk-mode request.
func (p *Pipeline) Append(ctx context.Context, req Request) (*Response, error) {
	logType := req.LogType
	if logType == "" {
		logType = model.LogTypeProgress
	}

	project, err := p.resolveProject(ctx, req)
	if err != nil {
		return nil, err
	}

	items, err := p.normalizeItems(req)
	if err != nil {
		return nil, err
	}

	resp := &Response{OK: true, Meta: map[string]string{}}
	base := time.Now().UTC()
	if req.TimestampUTC != "" {
		if t, err := validate.NormalizeTimestamp(req.TimestampUTC, func() time.Time { return base }); err == nil {
			base = t
		}
	}

	seenPaths := map[string]bool{}
	for i, item := range items {
		ts := base.Add(time.Duration(float64(i) * req.StaggerSeconds * float64(time.Second)))
		if item.TimestampUTC != "" {
			if t, err := validate.NormalizeTimestamp(item.TimestampUTC, func() time.Time { return ts }); err == nil {
				ts = t
			}
		}

		result, writeErr := p.appendOne(ctx, project, logType, item, ts, req.AgentID)
		if writeErr != nil {
			payload := scribeerr.ErrorPayload{Code: "InternalError", Message: writeErr.Error()}
			var se *scribeerr.Error
			if errors.As(writeErr, &se) {
				payload = scribeerr.ErrorPayload{Code: se.Kind, Message: se.Message, Suggestion: se.Suggestion, Details: se.Details}
			}
			resp.FailedItems = append(resp.FailedItems, FailedItem{Index: i, Error: payload})
			continue
		}
		resp.WrittenLines = append(resp.WrittenLines, WrittenLine{ID: result.entry.ID, Path: result.path})
		resp.Warnings = append(resp.Warnings, result.warnings...)
		resp.Reminders = append(resp.Reminders, result.reminders...)
		if !seenPaths[result.path] {
			seenPaths[result.path] = true
			resp.Paths = append(resp.Paths, result.path)
		}
	}

	if len(items) == 1 && len(resp.WrittenLines) == 1 {
		resp.ID = resp.WrittenLines[0].ID
		resp.Path = resp.WrittenLines[0].Path
	}
	if len(resp.FailedItems) > 0 && len(resp.WrittenLines) == 0 {
		resp.OK = false
	}

	resp.RecentProjects = p.state.RecentProjects()
	return resp, nil
}

type writeResult struct {
	entry    model.LogEntry
	path     string
	warnings []scribeerr.ErrorPayload
	reminders []string
}

// appendOne validates, rate-limits, resolves naming/metadata, writes,
// mirrors, and tees a single logical entry.
func (p *Pipeline) appendOne(ctx context.Context, project *model.Project, logType string, item Item, ts time.Time, agentID string) (*writeResult, error) {
	if err := validate.ValidateMessage(item.Message, false, 0); err != nil {
		return nil, err
	}
	if err := p.rateLimit.Allow(project.Name); err != nil {
		return nil, err
	}

	status, _ := validate.NormalizeStatus(item.Status)
	emoji := item.Emoji
	if emoji == "" {
		emoji = validate.StatusEmoji[status]
	}
	if emoji == "" {
		emoji = project.Defaults["emoji"]
	}
	if emoji == "" {
		emoji = "ℹ️"
	}
	agent := item.Agent
	if agent == "" {
		agent = project.Defaults["agent"]
	}
	if agent == "" {
		agent = "Scribe"
	}

	meta, _ := validate.NormalizeMeta(item.Meta)

	ltCfg := p.cfg.LogTypeConfigOrDefault(logType)
	if missing := missingMetaKeys(ltCfg.MetadataRequirements, meta); len(missing) > 0 {
		return nil, scribeerr.New(scribeerr.KindMetadataMissing, "missing required metadata keys").
			WithDetails(map[string]any{"missing": missing})
	}

	repoSlug := RepoSlug(project.Root)
	tsStr := ts.Format("2006-01-02 15:04:05")
	id := DeterministicEntryID(repoSlug, model.Slug(project.Name), tsStr, agent, item.Message, meta)

	metaOrder := orderedKeys(item.Meta, meta)
	line := logline.Compose(logline.Fields{Emoji: emoji, TS: ts, Agent: agent, Project: project.Name, ID: id, Message: item.Message, Meta: meta, MetaOrder: metaOrder})

	path, ok := project.Docs[logType]
	if !ok || path == "" {
		path = filepath.Join(project.Root, ltCfg.PathTemplate)
	}

	var warnings []scribeerr.ErrorPayload
	var reminders []string

	if err := p.checkRotation(ctx, project.Name, logType, path); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, err)
	}

	if err := p.durableAppend(path, id, line); err != nil {
		return nil, err
	}

	entry := model.LogEntry{ID: id, Project: project.Name, TS: ts, Emoji: emoji, Agent: agent, Message: item.Message, Meta: meta, RawLine: line, LogType: logType}
	entry.SHA256 = sha256Hex(line)

	if err := p.mirror(ctx, project.Name, entry); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindMirrorFailure, "mirror entry", err))
	}

	teeWarnings, teeReminders := p.teeFanOut(ctx, project, logType, status, emoji, meta, entry)
	warnings = append(warnings, teeWarnings...)
	reminders = append(reminders, teeReminders...)

	if err := p.registry.TouchEntry(ctx, project.Name, logType); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, err)
	}
	_ = p.registry.TouchAccess(ctx, project.Name)

	return &writeResult{entry: entry, path: path, warnings: warnings, reminders: reminders}, nil
}

func missingMetaKeys(required []string, meta map[string]string) []string {
	var missing []string
	for _, k := range required {
		if _, ok := meta[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

func orderedKeys(original, normalized map[string]string) []string {
	order := make([]string, 0, len(original))
	for k := range original {
		sanitized := k
		if _, ok := normalized[k]; !ok {
			// key was sanitized/changed; find by value match is unreliable,
			// fall back to sorted order for changed keys below.
			continue
		}
		order = append(order, sanitized)
	}
	if len(order) != len(normalized) {
		order = order[:0]
		for k := range normalized {
			order = append(order, k)
		}
		sort.Strings(order)
	}
	return order
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// checkRotation rotates synchronously before the append if the file has
// reached the configured byte threshold.
func (p *Pipeline) checkRotation(ctx context.Context, project, logType, path string) error {
	if p.cfg.LogMaxBytes <= 0 {
		return nil
	}
	size, _, _, err := fileio.Stat(path)
	if err != nil {
		return nil // file doesn't exist yet; nothing to rotate
	}
	if size < p.cfg.LogMaxBytes {
		return nil
	}
	ltCfg := p.cfg.LogTypeConfigOrDefault(logType)
	_, err = p.rotate.Rotate(ctx, rotate.Options{
		Project: project, LogType: logType, Path: path, Confirm: true,
		ThresholdEntries: int64(ltCfg.RotationThresholdEntries),
	})
	return err
}

// durableAppend implements the WAL-then-lock-then-append sequence.
func (p *Pipeline) durableAppend(path, id, content string) error {
	journal := walio.New(path, p.cfg.LockTimeoutSeconds)
	if _, err := journal.ReplayUncommitted(func(replayID, replayContent string) error {
		// A crash between the locked append and the journal commit
		// leaves the content already on disk; replaying it again would
		// duplicate the entry, so check the target for the entry's ID
		// marker before reapplying.
		written, err := fileContainsEntryID(path, replayID)
		if err != nil {
			return err
		}
		if written {
			return nil
		}
		return p.locklessAppend(path, replayContent)
	}); err != nil {
		p.log.Warnw("journal replay failed", "path", path, "error", err)
	}

	entryID := walio.NewEntryID(id)
	if err := journal.WriteEntry(entryID, content); err != nil {
		return scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "journal append", err)
	}

	if err := fileio.WithLock(path, p.cfg.LockTimeoutSeconds, func() error {
		return p.locklessAppend(path, content)
	}); err != nil {
		return err
	}

	return journal.Commit(entryID)
}

func (p *Pipeline) locklessAppend(path, content string) error {
	dir := filepath.Dir(path)
	if err := fileio.EnsureDir(dir); err != nil {
		return err
	}
	return fileio.Append(path, []byte(content))
}

// fileContainsEntryID reports whether path already contains a composed
// line carrying "[ID: id]", i.e. the entry was durably appended before a
// crash interrupted the journal commit. A missing file contains nothing.
func fileContainsEntryID(path, id string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "read target for replay dedup", err)
	}
	return strings.Contains(string(data), "[ID: "+id+"] "), nil
}

// mirror performs a best-effort SQLite insert of the appended entry.
func (p *Pipeline) mirror(ctx context.Context, projectName string, entry model.LogEntry) error {
	row, err := p.store.Queries().GetProjectByName(ctx, projectName)
	if err != nil || row == nil {
		return fmt.Errorf("project not mirrored: %s", projectName)
	}
	metaJSON, _ := encodeMeta(entry.Meta)
	return p.store.Queries().InsertEntry(ctx, db.InsertEntryParams{
		EntryID: entry.ID, ProjectID: row.ID, TS: db.FormatTime(entry.TS),
		Emoji:   sql.NullString{String: entry.Emoji, Valid: entry.Emoji != ""},
		Agent:   sql.NullString{String: entry.Agent, Valid: entry.Agent != ""},
		Message: entry.Message, Meta: sql.NullString{String: metaJSON, Valid: metaJSON != ""},
		RawLine: entry.RawLine, SHA256: entry.SHA256, LogType: entry.LogType,
	})
}

// teeFanOut classifies bug/security entries and fans
// the entry out into auxiliary logs, which are in turn mirrored back
// into progress so a single canonical timeline exists.
func (p *Pipeline) teeFanOut(ctx context.Context, project *model.Project, logType, status, emoji string, meta map[string]string, entry model.LogEntry) ([]scribeerr.ErrorPayload, []string) {
	var warnings []scribeerr.ErrorPayload
	var reminders []string

	teeTo := func(target string) {
		if target == logType {
			return
		}
		ltCfg := p.cfg.LogTypeConfigOrDefault(target)
		if missing := missingMetaKeys(ltCfg.MetadataRequirements, meta); len(missing) > 0 {
			reminders = append(reminders, fmt.Sprintf("%s log requires metadata keys %v (example: severity=high; component=auth)", target, ltCfg.MetadataRequirements))
		}
		path, ok := project.Docs[target]
		if !ok || path == "" {
			path = filepath.Join(project.Root, ltCfg.PathTemplate)
		}
		line := logline.Compose(logline.Fields{Emoji: emoji, TS: entry.TS, Agent: entry.Agent, Project: project.Name, ID: entry.ID, Message: entry.Message, Meta: meta})
		if err := p.durableAppend(path, entry.ID, line); err != nil {
			warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindTeeFailure, "tee to "+target, err))
			return
		}
		teeEntry := entry
		teeEntry.LogType = target
		teeEntry.RawLine = line
		teeEntry.SHA256 = sha256Hex(line)
		if err := p.mirror(ctx, project.Name, teeEntry); err != nil {
			warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindMirrorFailure, "mirror tee", err))
		}
	}

	isBug := status == "bug" || BugEmojis[emoji]
	isSecurity := meta["security_event"] == "1" || meta["security_event"] == "true" || meta["security_event"] == "yes" || SecurityEmojis[emoji]

	if isBug && logType != model.LogTypeBugs {
		teeTo(model.LogTypeBugs)
	}
	if isSecurity && logType != model.LogTypeSecurity {
		teeTo(model.LogTypeSecurity)
	}
	// bug/security entries always also land in progress.
	if (isBug || isSecurity) && logType != model.LogTypeProgress {
		teeTo(model.LogTypeProgress)
	}

	return warnings, reminders
}

func encodeMeta(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// resolveProject resolves the target project: explicit -> agent-scoped ->
// session-scoped -> registry's most-recent, failing with
// ProjectResolutionError when require_project is set and nothing
// resolves.
func (p *Pipeline) resolveProject(ctx context.Context, req Request) (*model.Project, error) {
	name := req.Project
	if name == "" {
		name = p.state.CurrentProject(req.AgentID)
	}
	if name == "" {
		recents := p.state.RecentProjects()
		if len(recents) > 0 {
			name = recents[0]
		}
	}
	if name == "" {
		if req.RequireProject {
			return nil, scribeerr.New(scribeerr.KindProjectResolution, "no active project could be resolved").
				WithDetails(map[string]any{"recent_projects": p.state.RecentProjects()})
		}
		return nil, scribeerr.New(scribeerr.KindProjectResolution, "no project specified")
	}

	project, err := p.registry.GetProject(ctx, name)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, scribeerr.New(scribeerr.KindProjectResolution, "unknown project: "+name).
			WithDetails(map[string]any{"recent_projects": p.state.RecentProjects()})
	}
	if project.Docs == nil {
		project.Docs = map[string]string{}
	}
	if project.Defaults == nil {
		project.Defaults = map[string]string{}
	}
	return project, nil
}

// normalizeItems performs parameter normalization and the bulk-mode item
// preparation: single-mode requests become a one-item slice; bulk items
// are expanded from Items, or from an auto-split multiline Message, and
// inherit shared Status/Emoji/Agent/Meta.
func (p *Pipeline) normalizeItems(req Request) ([]Item, error) {
	if len(req.Items) > 0 {
		return applyInherited(req.Items, req), nil
	}
	if req.AutoSplit && strings.Contains(req.Message, req.splitDelim()) {
		parts := strings.Split(req.Message, req.splitDelim())
		items := make([]Item, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			items = append(items, Item{Message: part})
		}
		return applyInherited(items, req), nil
	}
	return []Item{{Message: req.Message, Status: req.Status, Emoji: req.Emoji, Agent: req.Agent, Meta: req.Meta, TimestampUTC: req.TimestampUTC}}, nil
}

func (r Request) splitDelim() string {
	if r.SplitDelimiter == "" {
		return "\n"
	}
	return r.SplitDelimiter
}

// applyInherited fills each item's unset fields from the request's
// shared defaults.
func applyInherited(items []Item, req Request) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		if it.Status == "" {
			it.Status = req.Status
		}
		if it.Emoji == "" {
			it.Emoji = req.Emoji
		}
		if it.Agent == "" {
			it.Agent = req.Agent
		}
		if it.Meta == nil && req.Meta != nil {
			merged := make(map[string]string, len(req.Meta))
			for k, v := range req.Meta {
				merged[k] = v
			}
			it.Meta = merged
		}
		out[i] = it
	}
	return out
}

// BulkAppend runs Append with worker-pool fan-out across chunks of
// config.BulkChunkSize items, preserving per-chunk write order behind
// the per-file lock. Grounded on the teacher's
// internal/sync/worker.go batching idiom, expressed via
// golang.org/x/sync/errgroup.
func (p *Pipeline) BulkAppend(ctx context.Context, req Request) (*Response, error) {
	chunkSize := p.cfg.BulkChunkSize
	if chunkSize <= 0 {
		chunkSize = 50
	}

	items, err := p.normalizeItems(req)
	if err != nil {
		return nil, err
	}
	if len(items) <= chunkSize {
		return p.Append(ctx, req)
	}

	project, err := p.resolveProject(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks := chunkItems(items, chunkSize)
	responses := make([]*Response, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			chunkReq := req
			chunkReq.Project = project.Name
			chunkReq.Items = chunk
			resp, err := p.Append(gctx, chunkReq)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &Response{OK: true, Meta: map[string]string{}}
	for _, r := range responses {
		if r == nil {
			continue
		}
		merged.WrittenLines = append(merged.WrittenLines, r.WrittenLines...)
		merged.FailedItems = append(merged.FailedItems, r.FailedItems...)
		merged.Warnings = append(merged.Warnings, r.Warnings...)
		merged.Reminders = append(merged.Reminders, r.Reminders...)
		merged.Paths = append(merged.Paths, r.Paths...)
	}
	merged.RecentProjects = p.state.RecentProjects()
	return merged, nil
}

func chunkItems(items []Item, size int) [][]Item {
	var out [][]Item
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
