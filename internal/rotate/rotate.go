// Package rotate implements the rotation engine: entry-count
// estimation, hysteresis-banded threshold classification, preflight
// backup, WAL-ordered archive-and-rewrite, and hash-chain audit
// metadata. Grounded on original_source/tools/rotate_log.py for the
// estimate/classify/execute sequence and on the teacher's
// internal/sync/worker.go Start/Stop/Running/LastSync/SyncNow skeleton
// for the periodic background checker (worker.go in this package).
package rotate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paxocial/scribe-mcp-sub000/internal/config"
	"github.com/paxocial/scribe-mcp-sub000/internal/db"
	"github.com/paxocial/scribe-mcp-sub000/internal/estimate"
	"github.com/paxocial/scribe-mcp-sub000/internal/fileio"
	"github.com/paxocial/scribe-mcp-sub000/internal/model"
	"github.com/paxocial/scribe-mcp-sub000/internal/registry"
	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
	"github.com/paxocial/scribe-mcp-sub000/internal/state"
	"github.com/paxocial/scribe-mcp-sub000/internal/template"
	"github.com/paxocial/scribe-mcp-sub000/internal/walio"
)

// Engine owns rotation for every project's log files.
type Engine struct {
	cfg      *config.Config
	store    *db.Store
	state    *state.Manager
	registry *registry.Registry
	renderer template.Renderer
	log      *zap.SugaredLogger
}

// New returns an Engine wired to the given collaborators.
func New(cfg *config.Config, store *db.Store, st *state.Manager, reg *registry.Registry, renderer template.Renderer, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{cfg: cfg, store: store, state: st, registry: reg, renderer: renderer, log: logger}
}

// DryRunMode selects how a dry-run estimates entries.
type DryRunMode string

const (
	ModeEstimate DryRunMode = "estimate"
	ModePrecise  DryRunMode = "precise"
)

// Options parameterizes a single-log rotation.
type Options struct {
	Project         string
	LogType         string
	Path            string
	ThresholdEntries int64
	DryRun          bool
	Mode            DryRunMode
	Confirm         bool
	AutoThreshold   bool
}

// Result is the outcome of one log type's rotation attempt.
type Result struct {
	OK                 bool
	RotationSkipped    bool
	SkipReason         string
	EstimationDecision estimate.Classification
	EstimatedCount     int64
	Approximate        bool
	DryRunPlan         *Plan
	RotationID         string
	SequenceNumber     int64
	ArchivePath        string
	ArchiveSHA256      string
	RotatedEntryCount  int64
	DurationMS         int64
	Warnings           []scribeerr.ErrorPayload
}

// Plan is the projected outcome of a dry-run.
type Plan struct {
	ArchivePath        string
	EstimatedCount     int64
	EstimationDecision estimate.Classification
}

// rotationSuffix is the archive-file infix: "<name>.archive_<short>.md".
const rotationSuffix = "archive"

// Rotate implements the full estimate-classify-verify-execute algorithm
// for one (project, logType) log file.
func (e *Engine) Rotate(ctx context.Context, opts Options) (*Result, error) {
	threshold := opts.ThresholdEntries
	if threshold <= 0 {
		threshold = int64(e.cfg.LogTypeConfigOrDefault(opts.LogType).RotationThresholdEntries)
	}
	if threshold <= 0 {
		threshold = int64(e.cfg.RotationThresholdDefault)
	}

	size, mtimeNS, inode, statErr := fileio.Stat(opts.Path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return &Result{OK: true, RotationSkipped: true, SkipReason: "log_file_missing"}, nil
		}
		return nil, scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "stat log file for rotation", statErr)
	}

	lf, hadCache := e.state.LogFile(opts.Project, opts.LogType)
	var cached *estimate.CachedCount
	if hadCache && lf.Initialized {
		cached = &estimate.CachedCount{
			Stats: estimate.FileStats{SizeBytes: lf.SizeBytes, MTimeNS: lf.MTimeNS, Inode: lf.Inode},
			Count: lf.LineCount,
		}
	}
	priorEMA := lf.EMABytesPerLine
	if priorEMA <= 0 {
		priorEMA = estimate.DefaultBytesPerLine
	}
	ema := priorEMA

	est := estimate.EstimateEntryCount(estimate.FileStats{SizeBytes: size, MTimeNS: mtimeNS, Inode: inode}, cached, ema)
	classification := estimate.Classify(est.Count, threshold)

	alpha := estimate.AlphaEstimate
	if classification == estimate.Undecided {
		refined, refinedBPL, err := estimate.RefineWithTailSample(opts.Path, size)
		if err == nil {
			est = refined
			ema = refinedBPL
			classification = estimate.Classify(est.Count, threshold)
		}
		if classification == estimate.Undecided && opts.Mode == ModePrecise {
			report, err := estimate.VerifyFileIntegrity(opts.Path)
			if err == nil {
				est = estimate.EntryCountEstimate{Count: report.LineCount, Approximate: false, Method: estimate.MethodPrecise}
				if report.LineCount > 0 {
					ema = estimate.ClampBytesPerLine(float64(size) / float64(report.LineCount))
				}
				alpha = estimate.AlphaPrecise
				classification = estimate.Classify(est.Count, threshold)
			}
		}
	}

	if opts.AutoThreshold && classification == estimate.Below {
		return &Result{OK: true, RotationSkipped: true, SkipReason: "threshold_not_reached", EstimationDecision: classification, EstimatedCount: est.Count, Approximate: est.Approximate}, nil
	}

	archivePath := e.projectedArchivePath(opts.Path, "")
	if opts.DryRun || !opts.Confirm {
		return &Result{
			OK: true, EstimationDecision: classification, EstimatedCount: est.Count, Approximate: est.Approximate,
			DryRunPlan: &Plan{ArchivePath: archivePath, EstimatedCount: est.Count, EstimationDecision: classification},
		}, nil
	}

	return e.execute(ctx, opts, est, classification, priorEMA, ema, alpha)
}

func (e *Engine) projectedArchivePath(path, rotationIDShort string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if rotationIDShort == "" {
		rotationIDShort = "<rotation_id>"
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s_%s.md", base, rotationSuffix, rotationIDShort))
}

func (e *Engine) execute(ctx context.Context, opts Options, est estimate.EntryCountEstimate, classification estimate.Classification, priorEMA, observedEMA, alpha float64) (*Result, error) {
	start := time.Now()
	var warnings []scribeerr.ErrorPayload

	project, err := e.registry.GetProject(ctx, opts.Project)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, scribeerr.New(scribeerr.KindProjectResolution, "unknown project: "+opts.Project)
	}

	var projectID int64
	if row, err := e.store.Queries().GetProjectByName(ctx, opts.Project); err == nil && row != nil {
		projectID = row.ID
	}

	chain := e.state.HashChain(opts.Project)
	rotationID := uuid.NewString()
	sequence := chain.LastSequence + 1
	previousHash := chain.LastHash
	previousRoot := chain.RootHash

	if _, err := fileio.PreflightBackup(opts.Path); err != nil {
		return nil, err
	}

	rotationIDShort := rotationID
	if len(rotationIDShort) > 8 {
		rotationIDShort = rotationIDShort[:8]
	}
	archivePath := e.projectedArchivePath(opts.Path, rotationIDShort)

	var archiveReport *estimate.IntegrityReport

	lockErr := fileio.WithLock(opts.Path, e.cfg.LockTimeoutSeconds, func() error {
		rollback := func() {}
		dir := filepath.Dir(opts.Path)
		newPath := opts.Path + ".new"

		header := template.RenderOrFallback(e.renderer, e.cfg.LogTypeConfigOrDefault(opts.LogType).TemplateName,
			map[string]any{"project": opts.Project, "log_type": opts.LogType, "rotation_id": rotationID, "rotated_at": time.Now().UTC()},
			func() string { return template.FallbackRotationHeader(opts.Project, opts.LogType, time.Now().UTC()) })

		if err := fileio.AtomicWrite(newPath, []byte(header), 0o644); err != nil {
			return err
		}

		if err := os.Rename(opts.Path, archivePath); err != nil {
			os.Remove(newPath)
			return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "rename log to archive", err)
		}
		rollback = func() {
			if rbErr := os.Rename(archivePath, opts.Path); rbErr != nil {
				e.log.Errorw("rotation rollback failed", "project", opts.Project, "log_type", opts.LogType, "error", rbErr)
			}
		}

		if err := os.Rename(newPath, opts.Path); err != nil {
			rollback()
			return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "rename new header into place", err)
		}
		if err := fileio.FsyncDir(dir); err != nil {
			return scribeerr.Wrap(scribeerr.KindAtomicWriteFailure, "fsync parent directory", err)
		}

		report, err := estimate.VerifyFileIntegrity(archivePath)
		if err != nil {
			warnings = scribeerr.CollectWarnings(warnings, scribeerr.New(scribeerr.KindRotationIntegrityWarning, "could not hash archive: "+err.Error()))
		} else {
			archiveReport = report
		}
		return nil
	})
	if lockErr != nil {
		return nil, lockErr
	}

	journal := walio.New(opts.Path, e.cfg.LockTimeoutSeconds)
	if err := journal.WriteRotate(opts.Path, archivePath, rotationID, sequence, est.Count, opts.LogType); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindJournalReplayFailure, "journal rotation", err))
	}

	var archiveSHA string
	if archiveReport != nil {
		archiveSHA = archiveReport.SHA256
	}

	if projectID != 0 {
		if err := e.store.Queries().InsertRotation(ctx, db.Rotation{
			RotationID: rotationID, ProjectID: projectID, LogType: opts.LogType, SequenceNumber: sequence,
			PreviousHash: nullable(previousHash), ArchivePath: archivePath, ArchiveSHA256: nullable(archiveSHA),
			RotatedEntryCount: nullableInt(est.Count), RotationTimestamp: db.FormatTime(db.Now()),
		}); err != nil {
			warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindMirrorFailure, "record rotation", err))
		}
	}

	rootHash := estimate.HashBytes([]byte(previousRoot + archiveSHA))
	if err := e.state.UpdateHashChain(opts.Project, model.HashChain{LastHash: archiveSHA, RootHash: rootHash, LastSequence: sequence}); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindMirrorFailure, "update hash chain", err))
	}

	newSize, newMTime, newInode, _ := fileio.Stat(opts.Path)
	newEMA := estimate.UpdateEMA(priorEMA, observedEMA, alpha)
	headerLines := int64(strings.Count(template.FallbackRotationHeader(opts.Project, opts.LogType, time.Now().UTC()), "\n"))
	if err := e.state.UpdateLogFile(opts.Project, opts.LogType, model.LogFile{
		Path: opts.Path, SizeBytes: newSize, EMABytesPerLine: newEMA, LineCount: headerLines,
		MTimeNS: newMTime, Inode: newInode, Initialized: true,
	}); err != nil {
		warnings = scribeerr.CollectWarnings(warnings, scribeerr.Wrap(scribeerr.KindMirrorFailure, "update log file cache", err))
	}

	e.log.Infow("rotated log", "project", opts.Project, "log_type", opts.LogType, "rotation_id", rotationID,
		"sequence", sequence, "archive", archivePath, "estimated_entries", est.Count)

	return &Result{
		OK: true, EstimationDecision: classification, EstimatedCount: est.Count, Approximate: est.Approximate,
		RotationID: rotationID, SequenceNumber: sequence, ArchivePath: archivePath, ArchiveSHA256: archiveSHA,
		RotatedEntryCount: est.Count, DurationMS: time.Since(start).Milliseconds(), Warnings: warnings,
	}, nil
}

// RotateAll rotates every configured log type for a project, summarizing
// per-log successes/failures.
func (e *Engine) RotateAll(ctx context.Context, project string, logTypes []string, confirm bool) map[string]*Result {
	out := make(map[string]*Result, len(logTypes))
	for _, lt := range logTypes {
		ltCfg := e.cfg.LogTypeConfigOrDefault(lt)
		p, err := e.registry.GetProject(ctx, project)
		if err != nil || p == nil {
			continue
		}
		path := filepath.Join(p.Root, ltCfg.PathTemplate)
		res, err := e.Rotate(ctx, Options{Project: project, LogType: lt, Path: path, Confirm: confirm, AutoThreshold: true})
		if err != nil {
			out[lt] = &Result{OK: false, Warnings: []scribeerr.ErrorPayload{{Code: "RotationFailed", Message: err.Error()}}}
			continue
		}
		out[lt] = res
	}
	return out
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
