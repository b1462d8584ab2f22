package estimate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVerifyFileIntegrityTrailingPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.md")
	if err := os.WriteFile(path, []byte("line one\nline two\nno newline"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	report, err := VerifyFileIntegrity(path)
	if err != nil {
		t.Fatalf("VerifyFileIntegrity() error: %v", err)
	}
	if report.LineCount != 3 {
		t.Errorf("LineCount = %d, want 3 (trailing partial line counts)", report.LineCount)
	}
	if report.SizeBytes != int64(len("line one\nline two\nno newline")) {
		t.Errorf("SizeBytes = %d, want %d", report.SizeBytes, len("line one\nline two\nno newline"))
	}
}

func TestClassifyBoundaryExample(t *testing.T) {
	// size 5000B, EMA 80 B/line -> 63 entries.
	est := EstimateEntryCount(FileStats{SizeBytes: 5000}, nil, 80)
	if est.Count != 63 {
		t.Fatalf("estimated count = %d, want 63", est.Count)
	}

	if got := Classify(est.Count, 50); got != Above {
		t.Errorf("Classify(63, 50) = %q, want above", got)
	}
	if got := Classify(est.Count, 500); got != Below {
		t.Errorf("Classify(63, 500) = %q, want below", got)
	}
	if got := Classify(est.Count, 60); got != Undecided {
		t.Errorf("Classify(63, 60) = %q, want undecided", got)
	}
}

func TestComputeBand(t *testing.T) {
	if b := ComputeBand(60); b != 250 {
		t.Errorf("ComputeBand(60) = %d, want 250 (floor)", b)
	}
	if b := ComputeBand(5000); b != 500 {
		t.Errorf("ComputeBand(5000) = %d, want 500", b)
	}
}

func TestEstimateEntryCountCacheHit(t *testing.T) {
	stats := FileStats{SizeBytes: 1000, MTimeNS: 42, Inode: 7}
	cached := &CachedCount{Stats: FileStats{SizeBytes: 1000, MTimeNS: 42, Inode: 99}, Count: 13}

	// size+mtime match exactly -> cache hit even though inode differs in
	// the cached record: the cache-hit check compares size and mtime
	// only, and the inode is not consulted.
	est := EstimateEntryCount(stats, cached, 80)
	if est.Method != MethodCache || est.Count != 13 {
		t.Errorf("expected cache hit with count 13, got %+v", est)
	}
}

func TestEstimateEntryCountEMAFallback(t *testing.T) {
	est := EstimateEntryCount(FileStats{SizeBytes: 800}, nil, 80)
	if est.Method != MethodEMA || est.Approximate != true {
		t.Errorf("expected EMA estimate, got %+v", est)
	}
	if est.Count != 10 {
		t.Errorf("count = %d, want 10", est.Count)
	}
}

func TestRefineWithTailSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.md")
	// 20 bytes per line: above the 16-byte clamp floor, so the refined
	// bytes-per-line is the sample's own average.
	content := strings.Repeat("x line entry padded\n", 100)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	est, bpl, err := RefineWithTailSample(path, int64(len(content)))
	if err != nil {
		t.Fatalf("RefineWithTailSample() error: %v", err)
	}
	if est.Method != MethodTailSample {
		t.Errorf("method = %q, want tail_sample", est.Method)
	}
	if bpl < minBytesPerLine || bpl > maxBytesPerLine {
		t.Errorf("bytes-per-line %v outside clamp band", bpl)
	}
	if est.Count < 90 || est.Count > 110 {
		t.Errorf("refined count = %d, want ~100", est.Count)
	}
}

func TestUpdateEMAClamped(t *testing.T) {
	// 0.8*80 + 0.2*5000 = 1064, above the 512 ceiling.
	v := UpdateEMA(80, 5000, AlphaPrecise)
	if v != maxBytesPerLine {
		t.Errorf("UpdateEMA should clamp to %v, got %v", maxBytesPerLine, v)
	}
	// 0.8*16 + 0.2*1 = 13, below the 16 floor.
	v = UpdateEMA(16, 1, AlphaPrecise)
	if v != minBytesPerLine {
		t.Errorf("UpdateEMA should clamp to %v, got %v", minBytesPerLine, v)
	}
}
