package validate

import (
	"testing"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

func TestNormalizeWhitespaceCase(t *testing.T) {
	if got := NormalizeWhitespaceCase("  ClaudeCode  "); got != "claudecode" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeStatusDefault(t *testing.T) {
	got, err := NormalizeStatus("")
	if err != nil || got != "info" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestNormalizeStatusCaseInsensitive(t *testing.T) {
	got, err := NormalizeStatus("  SUCCESS ")
	if err != nil || got != "success" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestNormalizeStatusUnknown(t *testing.T) {
	_, err := NormalizeStatus("whoopsie")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := scribeerr.As(err, scribeerr.KindMessageInvalid); !ok {
		t.Fatalf("expected KindMessageInvalid, got %v", err)
	}
}

func TestSanitizeMetaKeyExample(t *testing.T) {
	// boundary example.
	if got := SanitizeMetaKey("bad key|value"); got != "bad_keyvalue" {
		t.Fatalf("SanitizeMetaKey() = %q, want %q", got, "bad_keyvalue")
	}
}

func TestNormalizeMetaTracksChangedKeys(t *testing.T) {
	meta := map[string]string{
		"bad key|value": "v1",
		"clean_key":     "v2",
	}
	normalized, changed := NormalizeMeta(meta)
	if normalized["bad_keyvalue"] != "v1" {
		t.Fatalf("normalized = %+v", normalized)
	}
	if normalized["clean_key"] != "v2" {
		t.Fatalf("normalized = %+v", normalized)
	}
	if len(changed) != 1 || changed[0] != "bad key|value" {
		t.Fatalf("changed = %+v", changed)
	}
}

func TestNormalizeMetaStripsNewlinesAndPipesFromValues(t *testing.T) {
	normalized, _ := NormalizeMeta(map[string]string{"k": "a\nb|c"})
	if normalized["k"] != "a b c" {
		t.Fatalf("normalized[k] = %q", normalized["k"])
	}
}

func TestNormalizeTimestampEmptyUsesNow(t *testing.T) {
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	got, err := NormalizeTimestamp("", func() time.Time { return fixed })
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !got.Equal(fixed) {
		t.Fatalf("got %v, want %v", got, fixed)
	}
}

func TestNormalizeTimestampParsesRFC3339(t *testing.T) {
	got, err := NormalizeTimestamp("2026-01-01T10:30:00Z", time.Now)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
}

func TestNormalizeTimestampInvalid(t *testing.T) {
	_, err := NormalizeTimestamp("not-a-time", time.Now)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestValidateMessageEmpty(t *testing.T) {
	if err := ValidateMessage("   ", false, 0); err == nil {
		t.Fatal("expected error for empty message")
	}
}

func TestValidateMessageEmbeddedNewlineRejectedWithoutAutoSplit(t *testing.T) {
	if err := ValidateMessage("line1\nline2", false, 0); err == nil {
		t.Fatal("expected error for embedded newline")
	}
}

func TestValidateMessageEmbeddedNewlineAllowedWithAutoSplit(t *testing.T) {
	if err := ValidateMessage("line1\nline2", true, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateMessageTooLong(t *testing.T) {
	if err := ValidateMessage("abcdef", false, 3); err == nil {
		t.Fatal("expected error for oversized message")
	}
}
