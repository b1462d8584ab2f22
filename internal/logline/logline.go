// Package logline composes and parses the bit-exact append-log line
// format:
//
//	[{emoji}] [{YYYY-MM-DD HH:MM:SS UTC}] [Agent: {agent}] [Project: {project}] [ID: {id}] {message} | k1=v1; k2=v2
//
// The ID segment is emitted whenever the entry carries a deterministic
// id (always true for appended entries); the trailing " | kv..." suffix
// is omitted entirely when there is no metadata.
package logline

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Fields is the parsed representation of one log line.
type Fields struct {
	Emoji   string
	TS      time.Time
	Agent   string
	Project string
	ID      string
	Message string
	Meta    map[string]string
	// MetaOrder preserves insertion order for round-tripping composition.
	MetaOrder []string
}

// Compose renders fields into the exact append-log byte sequence,
// including the trailing newline.
func Compose(f Fields) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s UTC] [Agent: %s] [Project: %s] ", f.Emoji, f.TS.UTC().Format(timeLayout), f.Agent, f.Project)
	if f.ID != "" {
		fmt.Fprintf(&b, "[ID: %s] ", f.ID)
	}
	b.WriteString(f.Message)

	order := f.MetaOrder
	if order == nil {
		for k := range f.Meta {
			order = append(order, k)
		}
		sort.Strings(order)
	}
	if len(order) > 0 && len(f.Meta) > 0 {
		pairs := make([]string, 0, len(order))
		for _, k := range order {
			v, ok := f.Meta[k]
			if !ok {
				continue
			}
			pairs = append(pairs, k+"="+v)
		}
		if len(pairs) > 0 {
			b.WriteString(" | ")
			b.WriteString(strings.Join(pairs, "; "))
		}
	}
	b.WriteString("\n")
	return b.String()
}

var lineRe = regexp.MustCompile(
	`^\[(?P<emoji>[^\]]+)\] \[(?P<ts>\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) UTC\] \[Agent: (?P<agent>[^\]]*)\] \[Project: (?P<project>[^\]]*)\] (?:\[ID: (?P<id>[^\]]*)\] )?(?P<rest>.*)$`,
)

// Parse decodes a composed line back into its fields, splitting the
// trailing " | k1=v1; k2=v2" metadata suffix (if present) off the
// message. It is the inverse of Compose, used to verify the
// append-then-read round trip.
func Parse(line string) (Fields, error) {
	line = strings.TrimRight(line, "\n")
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Fields{}, fmt.Errorf("logline: does not match expected format: %q", line)
	}
	names := lineRe.SubexpNames()
	group := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		group[name] = m[i]
	}

	ts, err := time.Parse(timeLayout, group["ts"])
	if err != nil {
		return Fields{}, fmt.Errorf("logline: invalid timestamp %q: %w", group["ts"], err)
	}

	message, meta, order := splitMeta(group["rest"])

	return Fields{
		Emoji:     group["emoji"],
		TS:        ts.UTC(),
		Agent:     group["agent"],
		Project:   group["project"],
		ID:        group["id"],
		Message:   message,
		Meta:      meta,
		MetaOrder: order,
	}, nil
}

// splitMeta separates "message | k1=v1; k2=v2" into its message and an
// ordered metadata map. A " | " that appears inside the message itself
// is ambiguous in the original line format; we split on the LAST " | "
// occurrence only when every subsequent "k=v" segment parses cleanly,
// which matches how the line was composed.
func splitMeta(rest string) (message string, meta map[string]string, order []string) {
	idx := strings.LastIndex(rest, " | ")
	if idx < 0 {
		return rest, nil, nil
	}
	candidate := rest[idx+3:]
	segments := strings.Split(candidate, "; ")
	parsed := make(map[string]string, len(segments))
	var ord []string
	for _, seg := range segments {
		kv := strings.SplitN(seg, "=", 2)
		if len(kv) != 2 {
			// Not metadata after all; treat the whole thing as message.
			return rest, nil, nil
		}
		parsed[kv[0]] = kv[1]
		ord = append(ord, kv[0])
	}
	return rest[:idx], parsed, ord
}
