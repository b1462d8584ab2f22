// Package docmgr implements section-anchored and line-ranged document
// mutation over a project's Markdown documents: content-hash
// preconditions, atomic overwrite, crosslink validation, and self-
// healing special-document renderers (research docs, bug reports,
// review reports, agent report cards). Grounded on
// original_source/tools/manage_docs.py for the anchor/patch semantics
// and on the teacher's internal/marshal Parse/Render frontmatter
// round-trip idiom.
package docmgr

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/estimate"
	"github.com/paxocial/scribe-mcp-sub000/internal/fileio"
	"github.com/paxocial/scribe-mcp-sub000/internal/marshal"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

// anchorPattern matches a section-anchor marker: "<!-- ID: name -->".
var anchorPattern = regexp.MustCompile(`<!--\s*ID:\s*([a-zA-Z0-9_-]+)\s*-->`)

// RegisteredDocs lists the canonical project documents this manager
// knows how to locate and (for special docs) render, keyed by doc name.
var RegisteredDocs = map[string]string{
	"architecture":  "ARCHITECTURE.md",
	"phase_plan":    "PHASE_PLAN.md",
	"checklist":     "CHECKLIST.md",
	"progress_log":  "PROGRESS_LOG.md",
	"research":      "docs/research/%s.md",
	"bug_report":    "docs/bugs/%s.md",
	"review_report": "docs/reviews/%s.md",
	"agent_report":  "docs/agents/%s.md",
}

// EditKind selects how an edit locates its target content.
type EditKind string

const (
	EditReplaceSection  EditKind = "replace_section"
	EditReplaceRange    EditKind = "replace_range"
	EditReplaceText     EditKind = "replace_text"
	EditAppend          EditKind = "append"
	EditApplyPatch      EditKind = "apply_patch"
	EditStatusUpdate    EditKind = "status_update"
	EditNormalizeHeader EditKind = "normalize_headers"
)

// EditRequest is one document-manager mutation.
type EditRequest struct {
	Project       string
	Doc           string
	Kind          EditKind
	SectionAnchor string
	StartLine     int
	EndLine       int
	FindText      string
	Content       string
	ExpectedSHA   string
	Agent         string
	Metadata      map[string]any

	// PatchMode selects apply_patch's variant: "unified" (default) reads
	// Content as a unified-diff-style hunk; "structured" reads
	// Operations as an ordered list of sub-edits, each with its own
	// hash precondition.
	PatchMode  string
	Operations []PatchOperation
}

// PatchOperation is one structured-mode apply_patch sub-edit: the same
// shape as EditRequest's edit-kind-specific fields, applied in order
// against the document's running content, each checked against its own
// ExpectedSHA precondition (taken against the content as it stands
// immediately before that operation, i.e. after prior operations in the
// same patch have already applied).
type PatchOperation struct {
	Kind          EditKind
	SectionAnchor string
	StartLine     int
	EndLine       int
	FindText      string
	Content       string
	ExpectedSHA   string
}

// EditResult reports the outcome of a successful edit.
type EditResult struct {
	SHABefore      string
	SHAAfter       string
	Path           string
	BodyLineOffset int
}

// Manager implements the document editing and rendering operations.
type Manager struct {
	store    *db.Store
	registry *registry.Registry
	log      *zap.SugaredLogger
}

// New returns a Manager.
func New(store *db.Store, reg *registry.Registry, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, registry: reg, log: logger}
}

// resolvePath returns the absolute path for a project's named document,
// failing with DocNotRegistered if doc isn't one of RegisteredDocs.
func (m *Manager) resolvePath(project *model.Project, doc, variant string) (string, error) {
	template, ok := RegisteredDocs[doc]
	if !ok {
		return "", scribeerr.New(scribeerr.KindDocNotRegistered, "unknown document: "+doc)
	}
	rel := template
	if strings.Contains(template, "%s") {
		if variant == "" {
			return "", scribeerr.New(scribeerr.KindDocNotRegistered, "document "+doc+" requires a name")
		}
		rel = fmt.Sprintf(template, variant)
	}
	return fileio.ResolveUnderRoot(project.Root, rel)
}

// Edit applies req against its target document, enforcing the
// content-hash precondition and writing atomically.
func (m *Manager) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	project, err := m.registry.GetProject(ctx, req.Project)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, scribeerr.New(scribeerr.KindDocNotRegistered, "unknown project: "+req.Project)
	}

	path, err := m.resolvePath(project, req.Doc, "")
	if err != nil {
		return nil, err
	}

	current, err := readFileOrEmpty(path)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "read document", err)
	}
	shaBefore := estimate.HashBytes(current)

	if req.ExpectedSHA != "" && req.ExpectedSHA != shaBefore {
		return nil, scribeerr.New(scribeerr.KindPatchHashMismatch, "document changed since expected_sha was read").
			WithDetails(map[string]any{"expected": req.ExpectedSHA, "actual": shaBefore})
	}

	updated, bodyLineOffset, err := applyEdit(string(current), req)
	if err != nil {
		return nil, err
	}

	if err := fileio.AtomicWrite(path, []byte(updated), 0o644); err != nil {
		return nil, err
	}
	shaAfter := estimate.HashBytes([]byte(updated))

	if err := m.recordChange(ctx, project, req, shaBefore, shaAfter); err != nil {
		m.log.Warnw("doc change not mirrored", "project", req.Project, "doc", req.Doc, "error", err)
	}
	if err := m.registry.RecordDocUpdate(ctx, req.Project, req.Doc, shaAfter); err != nil {
		m.log.Warnw("doc update not recorded on registry", "project", req.Project, "doc", req.Doc, "error", err)
	}

	return &EditResult{SHABefore: shaBefore, SHAAfter: shaAfter, Path: path, BodyLineOffset: bodyLineOffset}, nil
}

// BatchResult pairs one batch item's outcome with its index so callers
// can correlate failures back to the request that produced them.
type BatchResult struct {
	Index  int
	Result *EditResult
	Err    error
}

// Batch applies each request in reqs in order, continuing past
// individual failures so one bad edit doesn't abort the rest of the
// batch. Edits to the same document still serialize correctly because
// each one independently re-reads the current content and hash.
func (m *Manager) Batch(ctx context.Context, reqs []EditRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		res, err := m.Edit(ctx, req)
		out[i] = BatchResult{Index: i, Result: res, Err: err}
	}
	return out
}

func readFileOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// applyEdit dispatches to the edit-kind-specific mutation and returns
// the document's full new content plus the body_line_offset (the
// number of lines consumed by frontmatter, if any) so callers can
// translate their body-relative line numbers to file line numbers.
func applyEdit(content string, req EditRequest) (string, int, error) {
	doc, offset, err := splitFrontmatter(content)
	if err != nil {
		return "", 0, scribeerr.Wrap(scribeerr.KindMessageInvalid, "parse frontmatter", err)
	}

	switch req.Kind {
	case EditAppend:
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + req.Content, offset, nil

	case EditReplaceSection:
		out, err := replaceSection(content, req.SectionAnchor, req.Content)
		return out, offset, err

	case EditReplaceRange:
		newBody, err := replaceRange(doc.Body, req.StartLine, req.EndLine, req.Content)
		if err != nil {
			return "", offset, err
		}
		out, err := renderFrontmatter(doc.Frontmatter, newBody)
		return out, offset, err

	case EditStatusUpdate:
		out, err := updateStatusLine(content, req.Content)
		return out, offset, err

	case EditApplyPatch:
		if req.PatchMode == "structured" {
			out, err := applyStructuredPatch(content, req.Operations)
			return out, offset, err
		}
		out, err := applyUnifiedPatch(content, req.Content)
		return out, offset, err

	case EditReplaceText:
		out, err := replaceText(content, req.FindText, req.Content)
		return out, offset, err

	case EditNormalizeHeader:
		return normalizeHeaders(content), offset, nil
	}
	return "", offset, scribeerr.New(scribeerr.KindSectionNotFound, "unknown edit kind: "+string(req.Kind))
}

// splitFrontmatter separates content into its YAML frontmatter (if
// any) and body via internal/marshal, and reports body_line_offset:
// the number of lines occupied by the frontmatter block (including its
// "---" delimiters) in the original file.
func splitFrontmatter(content string) (*marshal.Document, int, error) {
	doc, err := marshal.Parse([]byte(content))
	if err != nil {
		return nil, 0, err
	}
	prefixLen := len(content) - len(doc.Body)
	if prefixLen < 0 || prefixLen > len(content) {
		return doc, 0, nil
	}
	offset := strings.Count(content[:prefixLen], "\n")
	return doc, offset, nil
}

// renderFrontmatter re-assembles frontmatter and body into full file
// content via internal/marshal.Render.
func renderFrontmatter(frontmatter map[string]any, body string) (string, error) {
	out, err := marshal.Render(&marshal.Document{Frontmatter: frontmatter, Body: body})
	if err != nil {
		return "", scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "render frontmatter", err)
	}
	return string(out), nil
}

// replaceText substitutes the first verbatim occurrence of find with
// replacement, failing with SectionNotFound if find is absent and
// PatchHashMismatch if it is ambiguous (appears more than once).
func replaceText(content, find, replacement string) (string, error) {
	if find == "" {
		return "", scribeerr.New(scribeerr.KindMessageInvalid, "replace_text requires non-empty find text")
	}
	if !strings.Contains(content, find) {
		return "", scribeerr.New(scribeerr.KindSectionNotFound, "text not found")
	}
	if strings.Count(content, find) > 1 {
		return "", scribeerr.New(scribeerr.KindPatchHashMismatch, "find text is ambiguous: matches more than once")
	}
	return strings.Replace(content, find, replacement, 1), nil
}

var headingPattern = regexp.MustCompile(`(?m)^(#{1,6})[ \t]*(.+?)[ \t]*#*[ \t]*$`)

// normalizeHeaders trims trailing "#" closers and collapses extra
// whitespace after the leading "#"s of every ATX heading, leaving
// heading level and text untouched otherwise.
func normalizeHeaders(content string) string {
	return headingPattern.ReplaceAllString(content, "$1 $2")
}

// ListSections returns the ordered section anchors declared in
// content via "<!-- ID: anchor -->" markers.
func ListSections(content string) []string {
	matches := anchorPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// ChecklistItem is one "- [ ] label" / "- [x] label" line.
type ChecklistItem struct {
	Line    int
	Label   string
	Checked bool
}

// ListChecklistItems returns every checklist-style line in content in
// document order, 1-indexed by line number.
func ListChecklistItems(content string) []ChecklistItem {
	lines := strings.Split(content, "\n")
	var out []ChecklistItem
	for i, line := range lines {
		m := statusLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, ChecklistItem{Line: i + 1, Label: strings.TrimSpace(m[4]), Checked: strings.EqualFold(m[2], "x")})
	}
	return out
}

// GenerateTOC renders a nested Markdown list of the document's ATX
// headings (level 2 and deeper; the title/level-1 heading is excluded),
// with GitHub-style anchor slugs.
func GenerateTOC(content string) string {
	var b strings.Builder
	for _, m := range headingPattern.FindAllStringSubmatch(content, -1) {
		level := len(m[1])
		if level < 2 {
			continue
		}
		text := m[2]
		b.WriteString(strings.Repeat("  ", level-2))
		b.WriteString("- [")
		b.WriteString(text)
		b.WriteString("](#")
		b.WriteString(slugifyHeading(text))
		b.WriteString(")\n")
	}
	return b.String()
}

var tocSlugStrip = regexp.MustCompile(`[^a-z0-9 -]`)

func slugifyHeading(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = tocSlugStrip.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

// replaceSection finds the "<!-- ID: anchor -->" marker and replaces
// everything between it and the next anchor (or EOF) with newContent,
// preserving the anchor line itself. Returns DuplicateAnchor if the
// anchor appears more than once, SectionNotFound if it's absent.
func replaceSection(content, anchor, newContent string) (string, error) {
	matches := anchorPattern.FindAllStringSubmatchIndex(content, -1)
	var target = -1
	count := 0
	for i, m := range matches {
		name := content[m[2]:m[3]]
		if name == anchor {
			target = i
			count++
		}
	}
	if count > 1 {
		return "", scribeerr.New(scribeerr.KindDuplicateAnchor, "anchor appears more than once: "+anchor)
	}
	if target == -1 {
		return "", scribeerr.New(scribeerr.KindSectionNotFound, "anchor not found: "+anchor)
	}

	sectionStart := matches[target][1] // end of the anchor marker itself
	sectionEnd := len(content)
	if target+1 < len(matches) {
		sectionEnd = matches[target+1][0]
	}

	var b strings.Builder
	b.WriteString(content[:sectionStart])
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(newContent, "\n"))
	b.WriteString("\n")
	b.WriteString(content[sectionEnd:])
	return b.String(), nil
}

// replaceRange replaces lines [startLine, endLine] (1-indexed,
// inclusive, counted from the start of content) with newContent. The
// caller (applyEdit) passes the post-frontmatter body, per spec, not
// the raw file content.
func replaceRange(content string, startLine, endLine int, newContent string) (string, error) {
	lines := strings.Split(content, "\n")
	if startLine < 1 || endLine < startLine || endLine > len(lines) {
		return "", scribeerr.New(scribeerr.KindSectionNotFound, "line range out of bounds").
			WithDetails(map[string]any{"start_line": startLine, "end_line": endLine, "total_lines": len(lines)})
	}
	before := lines[:startLine-1]
	after := lines[endLine:]
	replacement := strings.Split(newContent, "\n")

	out := make([]string, 0, len(before)+len(replacement)+len(after))
	out = append(out, before...)
	out = append(out, replacement...)
	out = append(out, after...)
	return strings.Join(out, "\n"), nil
}

var statusLinePattern = regexp.MustCompile(`(?m)^(\s*-\s*\[)([ xX])(\]\s*)(.*)$`)

// updateStatusLine flips the first unchecked/checked checklist item
// whose label matches newContent's "label: checked|unchecked" form
// ("item text: checked") to the requested state.
func updateStatusLine(content, directive string) (string, error) {
	parts := strings.SplitN(directive, ":", 2)
	if len(parts) != 2 {
		return "", scribeerr.New(scribeerr.KindMessageInvalid, "status_update directive must be \"label: checked|unchecked\"")
	}
	label := strings.TrimSpace(parts[0])
	want := strings.TrimSpace(strings.ToLower(parts[1])) == "checked"

	lines := strings.Split(content, "\n")
	found := false
	for i, line := range lines {
		m := statusLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if strings.TrimSpace(m[4]) != label {
			continue
		}
		mark := " "
		if want {
			mark = "x"
		}
		lines[i] = m[1] + mark + m[3] + m[4]
		found = true
		break
	}
	if !found {
		return "", scribeerr.New(scribeerr.KindSectionNotFound, "checklist item not found: "+label)
	}
	return strings.Join(lines, "\n"), nil
}

// applyUnifiedPatch applies a minimal unified-diff-like patch: a block
// of "-" (remove) and "+" (add) lines anchored by up to 3 lines of
// unchanged context immediately preceding them. This intentionally does
// not implement full fuzzy-hunk matching; it requires an exact,
// unambiguous context match and fails with PatchHashMismatch otherwise,
// letting the caller fall back to replace_section/replace_range.
func applyUnifiedPatch(content, patch string) (string, error) {
	patchLines := strings.Split(strings.TrimRight(patch, "\n"), "\n")
	var contextLines, removals, additions []string
	for _, l := range patchLines {
		switch {
		case strings.HasPrefix(l, "-"):
			removals = append(removals, strings.TrimPrefix(l, "-"))
		case strings.HasPrefix(l, "+"):
			additions = append(additions, strings.TrimPrefix(l, "+"))
		default:
			contextLines = append(contextLines, strings.TrimPrefix(l, " "))
		}
	}
	if len(removals) == 0 && len(contextLines) == 0 {
		return "", scribeerr.New(scribeerr.KindMessageInvalid, "patch has no context or removal lines to anchor on")
	}

	needle := strings.Join(append(append([]string{}, contextLines...), removals...), "\n")
	if needle == "" {
		return content + strings.Join(additions, "\n") + "\n", nil
	}
	idx := strings.Index(content, needle)
	if idx < 0 {
		return "", scribeerr.New(scribeerr.KindPatchHashMismatch, "patch context not found verbatim in document")
	}
	if strings.Count(content, needle) > 1 {
		return "", scribeerr.New(scribeerr.KindPatchHashMismatch, "patch context is ambiguous: matches more than once")
	}

	replacement := strings.Join(append(append([]string{}, contextLines...), additions...), "\n")
	return content[:idx] + replacement + content[idx+len(needle):], nil
}

// applyStructuredPatch applies each operation in ops against content in
// order. Every operation whose ExpectedSHA is set is checked against
// the content's hash as it stands immediately before that operation;
// a mismatch fails the whole patch with PatchHashMismatch and leaves
// the caller's original content (the precondition failure is returned
// before any write happens, per Edit's atomic-overwrite-once design).
func applyStructuredPatch(content string, ops []PatchOperation) (string, error) {
	if len(ops) == 0 {
		return "", scribeerr.New(scribeerr.KindMessageInvalid, "structured apply_patch requires at least one operation")
	}
	cur := content
	for i, op := range ops {
		if op.ExpectedSHA != "" {
			sha := estimate.HashBytes([]byte(cur))
			if sha != op.ExpectedSHA {
				return "", scribeerr.New(scribeerr.KindPatchHashMismatch, "operation hash precondition failed").
					WithDetails(map[string]any{"operation_index": i, "expected": op.ExpectedSHA, "actual": sha})
			}
		}
		next, _, err := applyEdit(cur, EditRequest{
			Kind: op.Kind, SectionAnchor: op.SectionAnchor, StartLine: op.StartLine,
			EndLine: op.EndLine, FindText: op.FindText, Content: op.Content,
		})
		if err != nil {
			return "", err
		}
		cur = next
	}
	return cur, nil
}

func (m *Manager) recordChange(ctx context.Context, project *model.Project, req EditRequest, shaBefore, shaAfter string) error {
	row, err := m.store.Queries().GetProjectByName(ctx, req.Project)
	if err != nil || row == nil {
		return fmt.Errorf("project not mirrored: %s", req.Project)
	}
	metaJSON, _ := encodeAnyMeta(req.Metadata)
	return m.store.Queries().InsertDocChange(ctx, db.DocChange{
		ProjectID: row.ID, Doc: req.Doc, Section: toNullString(req.SectionAnchor), Action: string(req.Kind),
		Agent: toNullString(req.Agent), Metadata: toNullString(metaJSON), SHABefore: toNullString(shaBefore),
		SHAAfter: toNullString(shaAfter), TS: db.FormatTime(db.Now()),
	})
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// CreateDoc writes a brand-new document at relPath (relative to the
// project root) with content, or — if registerExisting is true and the
// file already exists — leaves its bytes untouched and only registers
// it. Per spec §4.9, registration into project.Docs is default-on when
// the resolved path lands under the project's docs_dir.
func (m *Manager) CreateDoc(ctx context.Context, projectName, doc, relPath, content string, registerExisting bool) (string, error) {
	project, err := m.registry.GetProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", scribeerr.New(scribeerr.KindDocNotRegistered, "unknown project: "+projectName)
	}

	path, err := fileio.ResolveUnderRoot(project.Root, relPath)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		if !registerExisting {
			return "", scribeerr.New(scribeerr.KindAtomicWriteFailure, "document already exists: "+relPath)
		}
	} else if !os.IsNotExist(err) {
		return "", scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "stat document", err)
	} else {
		if err := fileio.AtomicWrite(path, []byte(content), 0o644); err != nil {
			return "", err
		}
	}

	if project.DocsDir == "" || strings.HasPrefix(path, project.DocsDir) {
		if err := m.registry.RegisterDoc(ctx, projectName, doc, path); err != nil {
			m.log.Warnw("doc registration failed", "project", projectName, "doc", doc, "error", err)
		}
	}
	return path, nil
}

// CreateResearchDoc renders a fresh research document for slug under
// the project, seeding its frontmatter and a self-healing index entry
// in docs/research/INDEX.md.
func (m *Manager) CreateResearchDoc(ctx context.Context, projectName, slug, title, agent string) (string, error) {
	return m.createSpecialDoc(ctx, projectName, "research", slug, title, agent, researchTemplate(title, agent))
}

// CreateBugReport renders a fresh bug report document.
func (m *Manager) CreateBugReport(ctx context.Context, projectName, slug, title, agent string) (string, error) {
	return m.createSpecialDoc(ctx, projectName, "bug_report", slug, title, agent, bugReportTemplate(title, agent))
}

// CreateReviewReport renders a fresh review report document.
func (m *Manager) CreateReviewReport(ctx context.Context, projectName, slug, title, agent string) (string, error) {
	return m.createSpecialDoc(ctx, projectName, "review_report", slug, title, agent, reviewReportTemplate(title, agent))
}

// CreateAgentReportCard renders a fresh per-agent report card.
func (m *Manager) CreateAgentReportCard(ctx context.Context, projectName, agentSlug, title, agent string) (string, error) {
	return m.createSpecialDoc(ctx, projectName, "agent_report", agentSlug, title, agent, agentReportTemplate(title, agent))
}

func (m *Manager) createSpecialDoc(ctx context.Context, projectName, doc, slug, title, agent, body string) (string, error) {
	project, err := m.registry.GetProject(ctx, projectName)
	if err != nil {
		return "", err
	}
	if project == nil {
		return "", scribeerr.New(scribeerr.KindDocNotRegistered, "unknown project: "+projectName)
	}
	path, err := m.resolvePath(project, doc, slug)
	if err != nil {
		return "", err
	}
	if err := fileio.AtomicWrite(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	if err := m.updateIndex(project, doc, slug, title); err != nil {
		m.log.Warnw("index update failed", "project", projectName, "doc", doc, "error", err)
	}
	if err := m.registry.RecordDocUpdate(ctx, projectName, doc, estimate.HashBytes([]byte(body))); err != nil {
		m.log.Warnw("doc update not recorded", "project", projectName, "doc", doc, "error", err)
	}
	return path, nil
}

// updateIndex appends slug/title to the special document family's
// INDEX.md, creating it if needed and de-duplicating existing entries
// for the same slug (self-healing: a stale entry is replaced, not
// duplicated).
func (m *Manager) updateIndex(project *model.Project, doc, slug, title string) error {
	dirTemplates := map[string]string{
		"research": "docs/research/INDEX.md", "bug_report": "docs/bugs/INDEX.md",
		"review_report": "docs/reviews/INDEX.md", "agent_report": "docs/agents/INDEX.md",
	}
	rel, ok := dirTemplates[doc]
	if !ok {
		return nil
	}
	path, err := fileio.ResolveUnderRoot(project.Root, rel)
	if err != nil {
		return scribeerr.Wrap(scribeerr.KindIndexUpdateFailure, "resolve index path", err)
	}

	existing, _ := readFileOrEmpty(path)
	lines := strings.Split(string(existing), "\n")
	entryPrefix := "- [" + slug + "]"
	var out []string
	replaced := false
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), entryPrefix) {
			if !replaced {
				out = append(out, entryPrefix+"("+slug+".md): "+title)
				replaced = true
			}
			continue
		}
		out = append(out, l)
	}
	if !replaced {
		out = append(out, entryPrefix+"("+slug+".md): "+title)
	}
	content := strings.TrimLeft(strings.Join(out, "\n"), "\n")
	if !strings.HasPrefix(content, "# Index") {
		content = "# Index\n\n" + content
	}
	if err := fileio.AtomicWrite(path, []byte(strings.TrimRight(content, "\n")+"\n"), 0o644); err != nil {
		return scribeerr.Wrap(scribeerr.KindIndexUpdateFailure, "write index", err)
	}
	return nil
}

func researchTemplate(title, agent string) string {
	doc := &marshal.Document{
		Frontmatter: map[string]any{"title": title, "author": agent, "created_at": time.Now().UTC().Format(time.RFC3339)},
		Body: "\n<!-- ID: summary -->\n\n## Summary\n\n" + title + "\n\n<!-- ID: findings -->\n\n## Findings\n\n<!-- ID: references -->\n\n## References\n",
	}
	out, _ := marshal.Render(doc)
	return string(out)
}

func bugReportTemplate(title, agent string) string {
	doc := &marshal.Document{
		Frontmatter: map[string]any{"title": title, "reported_by": agent, "created_at": time.Now().UTC().Format(time.RFC3339), "status": "open"},
		Body: "\n<!-- ID: description -->\n\n## Description\n\n" + title + "\n\n<!-- ID: repro -->\n\n## Reproduction\n\n<!-- ID: resolution -->\n\n## Resolution\n",
	}
	out, _ := marshal.Render(doc)
	return string(out)
}

func reviewReportTemplate(title, agent string) string {
	doc := &marshal.Document{
		Frontmatter: map[string]any{"title": title, "reviewer": agent, "created_at": time.Now().UTC().Format(time.RFC3339)},
		Body: "\n<!-- ID: scope -->\n\n## Scope\n\n" + title + "\n\n<!-- ID: findings -->\n\n## Findings\n\n<!-- ID: verdict -->\n\n## Verdict\n",
	}
	out, _ := marshal.Render(doc)
	return string(out)
}

func agentReportTemplate(title, agent string) string {
	doc := &marshal.Document{
		Frontmatter: map[string]any{"title": title, "agent": agent, "created_at": time.Now().UTC().Format(time.RFC3339)},
		Body: "\n<!-- ID: summary -->\n\n## Summary\n\n" + title + "\n\n<!-- ID: metrics -->\n\n## Metrics\n",
	}
	out, _ := marshal.Render(doc)
	return string(out)
}

// SearchHit is one line within a document that matched a search query.
type SearchHit struct {
	Line int
	Text string
}

// Search scans a project document's body for query (case-insensitive
// substring) and returns every matching line, 1-indexed.
func (m *Manager) Search(ctx context.Context, projectName, doc, query string) ([]SearchHit, error) {
	project, err := m.registry.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, scribeerr.New(scribeerr.KindDocNotRegistered, "unknown project: "+projectName)
	}
	path, err := m.resolvePath(project, doc, "")
	if err != nil {
		return nil, err
	}
	content, err := readFileOrEmpty(path)
	if err != nil {
		return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "read document", err)
	}

	needle := strings.ToLower(query)
	var hits []SearchHit
	for i, line := range strings.Split(string(content), "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			hits = append(hits, SearchHit{Line: i + 1, Text: line})
		}
	}
	return hits, nil
}

// ValidateCrosslinks scans content for "[text](doc:name)" crosslinks
// and reports any that reference a document not in RegisteredDocs. This
// checks the symbolic "doc:" scheme only; see Manager.ValidateCrosslinks
// for checking literal relative-path links against the filesystem.
func ValidateCrosslinks(content string) []string {
	re := regexp.MustCompile(`\]\(doc:([a-zA-Z0-9_-]+)\)`)
	matches := re.FindAllStringSubmatch(content, -1)
	seen := map[string]bool{}
	var broken []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := RegisteredDocs[name]; !ok {
			broken = append(broken, name)
		}
	}
	sort.Strings(broken)
	return broken
}

var markdownLinkPattern = regexp.MustCompile(`\]\(([^)\s]+)\)`)

// ValidateCrosslinks scans every document registered on project —
// RegisteredDocs' core docs that exist on disk plus anything recorded
// in project.Docs by create_doc — for Markdown link targets, and
// reports the broken intra-repo ones per spec §4.9: a "doc:name"
// target is broken if name isn't in RegisteredDocs (symbolic check);
// any other non-external, non-anchor target is resolved relative to
// the project root and is broken if no file exists there. External
// links (http(s)://, mailto:) and pure in-page anchors ("#...") are
// never flagged.
func (m *Manager) ValidateCrosslinks(ctx context.Context, projectName string) (map[string][]string, error) {
	project, err := m.registry.GetProject(ctx, projectName)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, scribeerr.New(scribeerr.KindDocNotRegistered, "unknown project: "+projectName)
	}

	docs := map[string]string{}
	for name, template := range RegisteredDocs {
		if strings.Contains(template, "%s") {
			continue
		}
		path, err := fileio.ResolveUnderRoot(project.Root, template)
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			docs[name] = path
		}
	}
	for name, path := range project.Docs {
		docs[name] = path
	}

	result := make(map[string][]string)
	for doc, path := range docs {
		content, err := readFileOrEmpty(path)
		if err != nil {
			return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "read document: "+doc, err)
		}
		broken := m.brokenLinksIn(project, string(content))
		if len(broken) > 0 {
			sort.Strings(broken)
			result[doc] = broken
		}
	}
	return result, nil
}

func (m *Manager) brokenLinksIn(project *model.Project, content string) []string {
	seen := map[string]bool{}
	var broken []string
	for _, match := range markdownLinkPattern.FindAllStringSubmatch(content, -1) {
		target := match[1]
		if seen[target] {
			continue
		}
		seen[target] = true

		switch {
		case strings.HasPrefix(target, "#"):
			continue
		case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"), strings.HasPrefix(target, "mailto:"):
			continue
		case strings.HasPrefix(target, "doc:"):
			if _, ok := RegisteredDocs[strings.TrimPrefix(target, "doc:")]; !ok {
				broken = append(broken, target)
			}
		default:
			// Targets are resolved relative to the project root rather
			// than the referring document's own directory; good enough
			// for the project-root-relative links every template/index
			// in this package writes.
			rel := strings.SplitN(target, "#", 2)[0]
			if rel == "" {
				continue
			}
			path, err := fileio.ResolveUnderRoot(project.Root, rel)
			if err != nil {
				broken = append(broken, target)
				continue
			}
			if _, err := os.Stat(path); err != nil {
				broken = append(broken, target)
			}
		}
	}
	return broken
}

func encodeAnyMeta(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%q", k, fmt.Sprint(meta[k]))
	}
	b.WriteByte('}')
	return b.String(), nil
}
