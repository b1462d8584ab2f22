package logline

import (
	"testing"
	"time"
)

func TestComposeWithMetadata(t *testing.T) {
	f := Fields{
		Emoji:     "✅",
		TS:        time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		Agent:     "Scribe",
		Project:   "demo",
		ID:        "abc123",
		Message:   "Parser rewritten",
		Meta:      map[string]string{"component": "parser", "phase": "3"},
		MetaOrder: []string{"component", "phase"},
	}
	got := Compose(f)
	want := "[✅] [2026-01-05 12:00:00 UTC] [Agent: Scribe] [Project: demo] [ID: abc123] Parser rewritten | component=parser; phase=3\n"
	if got != want {
		t.Fatalf("Compose() =\n%q\nwant\n%q", got, want)
	}
}

func TestComposeWithoutMetadataOrID(t *testing.T) {
	f := Fields{
		Emoji:   "ℹ️",
		TS:      time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		Agent:   "Scribe",
		Project: "demo",
		Message: "no metadata here",
	}
	got := Compose(f)
	want := "[ℹ️] [2026-01-05 12:00:00 UTC] [Agent: Scribe] [Project: demo] no metadata here\n"
	if got != want {
		t.Fatalf("Compose() =\n%q\nwant\n%q", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	f := Fields{
		Emoji:     "✅",
		TS:        time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC),
		Agent:     "Scribe",
		Project:   "demo",
		ID:        "deadbeef",
		Message:   "Parser rewritten",
		Meta:      map[string]string{"component": "parser", "phase": "3"},
		MetaOrder: []string{"component", "phase"},
	}
	line := Compose(f)
	parsed, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if parsed.Emoji != f.Emoji || parsed.Agent != f.Agent || parsed.Project != f.Project ||
		parsed.ID != f.ID || parsed.Message != f.Message || !parsed.TS.Equal(f.TS) {
		t.Fatalf("Parse() = %+v, want %+v", parsed, f)
	}
	if parsed.Meta["component"] != "parser" || parsed.Meta["phase"] != "3" {
		t.Fatalf("Parse() meta = %+v", parsed.Meta)
	}
}

func TestParseWithoutMetadata(t *testing.T) {
	line := "[ℹ️] [2026-01-05 12:00:00 UTC] [Agent: Scribe] [Project: demo] no metadata here\n"
	parsed, err := Parse(line)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if parsed.Message != "no metadata here" {
		t.Fatalf("Message = %q", parsed.Message)
	}
	if parsed.Meta != nil {
		t.Fatalf("Meta = %+v, want nil", parsed.Meta)
	}
	if parsed.ID != "" {
		t.Fatalf("ID = %q, want empty", parsed.ID)
	}
}

func TestParseMalformedLine(t *testing.T) {
	if _, err := Parse("this is not a log line"); err == nil {
		t.Fatal("expected error for malformed line")
	}
}
