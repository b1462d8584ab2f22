package ratelimit

import (
	"testing"
	"time"

	"github.com/paxocial/scribe-mcp-sub000/internal/scribeerr"
)

func TestAllowWithinLimit(t *testing.T) {
	r := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if err := r.Allow("demo"); err != nil {
			t.Fatalf("Allow() call %d should succeed: %v", i, err)
		}
	}
}

func TestAllowExceedsLimit(t *testing.T) {
	r := New(2, time.Minute)
	if err := r.Allow("demo"); err != nil {
		t.Fatalf("first Allow() error: %v", err)
	}
	if err := r.Allow("demo"); err != nil {
		t.Fatalf("second Allow() error: %v", err)
	}
	err := r.Allow("demo")
	if err == nil {
		t.Fatal("third Allow() within window should be rate limited")
	}
	se, ok := scribeerr.As(err, scribeerr.KindRateLimitExceeded)
	if !ok {
		t.Fatalf("expected KindRateLimitExceeded, got %v", err)
	}
	retryAfter, ok := se.Details["retry_after_seconds"].(int)
	if !ok || retryAfter < 1 || retryAfter > 60 {
		t.Fatalf("retry_after_seconds = %v, want in [1,60]", se.Details["retry_after_seconds"])
	}
}

func TestBucketsAreIsolatedPerProject(t *testing.T) {
	r := New(1, time.Minute)
	if err := r.Allow("a"); err != nil {
		t.Fatalf("Allow(a) error: %v", err)
	}
	if err := r.Allow("b"); err != nil {
		t.Fatalf("Allow(b) should not be limited by project a's bucket: %v", err)
	}
	if err := r.Allow("a"); err == nil {
		t.Fatal("second Allow(a) should be rate limited")
	}
}
