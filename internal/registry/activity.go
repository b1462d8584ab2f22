package registry

import (
	"strings"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/model"
)

// CoreDocs are the three documents that gate lifecycle promotion and
// docs_ready_for_work.
var CoreDocs = []string{"architecture", "phase_plan", "checklist"}

func daysSince(t *time.Time, now time.Time) float64 {
	if t == nil {
		return -1
	}
	return now.Sub(*t).Hours() / 24
}

// staleness maps project_age_days to the closed bucket set.
func staleness(ageDays float64) model.StalenessLevel {
	switch {
	case ageDays <= 2:
		return model.StalenessFresh
	case ageDays <= 7:
		return model.StalenessWarming
	case ageDays <= 30:
		return model.StalenessStale
	default:
		return model.StalenessFrozen
	}
}

// priorityScore maps a "priority:<level>" tag to a numeric weight. A
// project with no priority tag is treated as medium. This mapping is
// not specified further in the source material; it is an explicit
// design decision recorded in the grounding ledger.
func priorityScore(tags []string) float64 {
	for _, tag := range tags {
		switch strings.ToLower(tag) {
		case "priority:high":
			return 1.0
		case "priority:low":
			return 0.0
		case "priority:medium":
			return 0.5
		}
	}
	return 0.5
}

// computeActivity fills in model.ActivityMeta per the recency/entry-rate
// activity_score formula.
func computeActivity(p *model.Project, totalEntries int64, now time.Time) model.ActivityMeta {
	ageDays := now.Sub(p.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	daysSinceEntry := daysSince(p.LastEntryAt, now)
	if daysSinceEntry < 0 {
		daysSinceEntry = ageDays
	}
	daysSinceAccess := daysSince(p.LastAccessAt, now)
	if daysSinceAccess < 0 {
		daysSinceAccess = ageDays
	}

	entryRate := 0.0
	if ageDays >= 1 {
		entryRate = float64(totalEntries) / ageDays
	} else {
		entryRate = float64(totalEntries)
	}

	docsReady := 0.0
	if docsReadyForWork(p.Docs_.Flags) {
		docsReady = 1.0
	}

	score := -daysSinceEntry - 0.5*daysSinceAccess + 1.5*entryRate + 2*docsReady + 0.5*priorityScore(p.Tags)

	return model.ActivityMeta{
		ProjectAgeDays:      ageDays,
		DaysSinceLastEntry:  daysSinceEntry,
		DaysSinceLastAccess: daysSinceAccess,
		StalenessLevel:      staleness(ageDays),
		ActivityScore:       score,
	}
}

func docsReadyForWork(flags map[string]bool) bool {
	for _, doc := range CoreDocs {
		if !flags[doc+"_touched"] {
			return false
		}
	}
	return true
}

// computeDocsFlags derives the docs.flags map from baseline/current
// hashes.
func computeDocsFlags(docs model.DocsMeta) map[string]bool {
	flags := make(map[string]bool)
	for doc, cur := range docs.CurrentHashes {
		flags[doc+"_touched"] = cur != ""
		if base, ok := docs.BaselineHashes[doc]; ok {
			flags[doc+"_modified"] = base != cur
		}
	}
	flags["docs_started"] = len(docs.CurrentHashes) > 0
	flags["docs_ready_for_work"] = docsReadyForWork(flags)
	return flags
}

// computeDocDrift implements the doc_drift predicate.
func computeDocDrift(p *model.Project, now time.Time) bool {
	if p.Status != model.StatusInProgress && p.Status != model.StatusComplete {
		return false
	}
	if !p.Docs_.Flags["docs_ready_for_work"] {
		return true
	}
	if p.LastEntryAt != nil && p.Docs_.LastUpdateAt == nil {
		return true
	}
	if p.LastEntryAt != nil && p.Docs_.LastUpdateAt != nil {
		if p.LastEntryAt.Sub(*p.Docs_.LastUpdateAt) >= 7*24*time.Hour {
			return true
		}
	}
	return false
}
