package estimate

import (
	"bytes"
	"io"
	"os"
)

// FileStats identifies a file's on-disk identity for the cache-hit check.
// Inode is recorded alongside size and mtime, but EstimateEntryCount's
// cache-hit check compares only size and mtime.
type FileStats struct {
	SizeBytes int64
	MTimeNS   int64
	Inode     uint64
}

// CachedCount is a previously computed precise line count keyed by the
// file stats it was observed at.
type CachedCount struct {
	Stats FileStats
	Count int64
}

// Method reports how an EntryCountEstimate was derived.
type Method string

const (
	MethodCache       Method = "cache"
	MethodEMA         Method = "ema"
	MethodTailSample  Method = "tail_sample"
	MethodPrecise     Method = "precise"
)

// EntryCountEstimate is the result of step-wise entry-count estimation.
type EntryCountEstimate struct {
	Count       int64
	Approximate bool
	Method      Method
}

// EstimateEntryCount implements the three-step estimation cascade:
// exact-cache-hit, EMA-based estimate, and (by the caller, when the
// estimate lands in the threshold's ambiguity band) tail-sample
// refinement via RefineWithTailSample.
func EstimateEntryCount(stats FileStats, cached *CachedCount, emaBytesPerLine float64) EntryCountEstimate {
	if cached != nil && cached.Stats.SizeBytes == stats.SizeBytes && cached.Stats.MTimeNS == stats.MTimeNS {
		return EntryCountEstimate{Count: cached.Count, Approximate: false, Method: MethodCache}
	}

	if emaBytesPerLine <= 0 {
		emaBytesPerLine = DefaultBytesPerLine
	}
	count := int64(float64(stats.SizeBytes)/emaBytesPerLine + 0.5)
	if count < 1 {
		count = 1
	}
	return EntryCountEstimate{Count: count, Approximate: true, Method: MethodEMA}
}

// RefineWithTailSample reads the trailing min(size, 1 MiB) of path,
// counts whole lines in the sample, derives a refined bytes-per-line
// value (clamped), and recomputes the entry count estimate from it.
// Returns the refined estimate and the bytes-per-line value the caller
// should feed back into the file's EMA.
func RefineWithTailSample(path string, size int64) (EntryCountEstimate, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return EntryCountEstimate{}, 0, err
	}
	defer f.Close()

	sampleSize := size
	if sampleSize > TailSampleBytes {
		sampleSize = TailSampleBytes
	}
	if sampleSize <= 0 {
		return EntryCountEstimate{Count: 1, Approximate: true, Method: MethodTailSample}, DefaultBytesPerLine, nil
	}

	if _, err := f.Seek(size-sampleSize, io.SeekStart); err != nil {
		return EntryCountEstimate{}, 0, err
	}
	buf := make([]byte, sampleSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return EntryCountEstimate{}, 0, err
	}
	buf = buf[:n]

	lineCount := int64(bytes.Count(buf, []byte{'\n'}))
	if lineCount < 1 {
		lineCount = 1
	}

	bytesPerLine := ClampBytesPerLine(float64(n) / float64(lineCount))
	count := int64(float64(size)/bytesPerLine + 0.5)
	if count < 1 {
		count = 1
	}

	return EntryCountEstimate{Count: count, Approximate: true, Method: MethodTailSample}, bytesPerLine, nil
}
