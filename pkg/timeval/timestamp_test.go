package timeval

import (
	"testing"
	"time"
)

// TestTimestampPolymorphism is spec.md §8's "Timestamp polymorphism"
// testable property: a native datetime strictly later than an ISO string
// must compare as later, regardless of which side supplied which shape.
func TestTimestampPolymorphism(t *testing.T) {
	obsTime := FromISO("2025-01-08T10:00:00Z")
	remTime := FromNative(time.Date(2025, 1, 8, 11, 0, 0, 0, time.UTC))

	if got := Compare(obsTime, remTime); got != -1 {
		t.Fatalf("Compare(obs, rem) = %d, want -1 (rem strictly later)", got)
	}
	if got := Compare(remTime, obsTime); got != 1 {
		t.Fatalf("Compare(rem, obs) = %d, want 1", got)
	}
}

func TestTimestampAbsentNeverWins(t *testing.T) {
	present := FromISO("2025-01-08T10:00:00Z")
	if got := Compare(Absent, present); got != 0 {
		t.Fatalf("Compare(Absent, present) = %d, want 0 (absent never counts as earlier)", got)
	}
}

func TestFromAnyUnrecognizedShapeIsAbsent(t *testing.T) {
	ts := FromAny(42)
	if !ts.IsAbsent() {
		t.Fatalf("FromAny(42) should be Absent, got parseable timestamp")
	}
}

func TestFromISOMalformedIsUnparseable(t *testing.T) {
	ts := FromISO("not-a-date")
	if _, ok := ts.Time(); ok {
		t.Fatalf("expected malformed ISO string to fail parsing")
	}
}

func TestFromISODateOnly(t *testing.T) {
	ts := FromISO("2025-01-08")
	tm, ok := ts.Time()
	if !ok {
		t.Fatalf("expected date-only ISO string to parse")
	}
	if tm.Year() != 2025 || tm.Month() != 1 || tm.Day() != 8 {
		t.Fatalf("unexpected parsed date: %v", tm)
	}
}
