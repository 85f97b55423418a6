package services

import (
	"testing"
	"time"
)

func TestDedupeKeyChangesWithAttemptEpoch(t *testing.T) {
	first := DedupeKey("tenant-1", "step-1", 0)
	second := DedupeKey("tenant-1", "step-1", 1)
	if first == second {
		t.Fatal("a bumped attempt epoch must produce a new dedupe key")
	}
	if first != "tenant-1:step-1:0" {
		t.Fatalf("unexpected dedupe key format: %q", first)
	}
	if DedupeKey("tenant-1", "step-1", 0) != first {
		t.Fatal("dedupe key must be deterministic for the same inputs")
	}
}

func TestNextBackoffGrowsAndCaps(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{10, time.Hour},
	}
	for _, tc := range cases {
		if got := NextBackoff(tc.attempts); got != tc.want {
			t.Fatalf("NextBackoff(%d): expected %s, got %s", tc.attempts, tc.want, got)
		}
	}
}
