// Package timeval models the one historical bug the resolver must never
// repeat: Obsidian's modified_at arrives as an ISO 8601 string, Reminders'
// arrives as a native datetime value, and a parser that only handles one
// shape silently degrades to "the other side always wins." Timestamp is a
// closed sum type over Absent/Iso/Native so comparison is total and the
// shape is decided once, at the boundary, instead of implicitly by whichever
// code path happens to run first.
//
// Grounded on the teacher's taskwarrior.CustomTime, which solved the same
// problem (Taskwarrior emits "20060102T150405Z" strings, not RFC3339) by
// giving the heterogeneous shape its own UnmarshalJSON instead of trusting
// callers to parse it consistently.
package timeval

import (
	"time"
)

type kind int

const (
	kindAbsent kind = iota
	kindIso
	kindNative
)

// Timestamp is Absent | Iso(string) | Native(time.Time).
type Timestamp struct {
	kind kind
	iso  string
	t    time.Time
}

// Absent is the zero value: no timestamp on this side.
var Absent = Timestamp{kind: kindAbsent}

// FromISO wraps an ISO 8601 string as received from Obsidian's front matter.
func FromISO(s string) Timestamp {
	if s == "" {
		return Absent
	}
	return Timestamp{kind: kindIso, iso: s}
}

// FromNative wraps a native time.Time as received from the Reminders gateway.
func FromNative(t time.Time) Timestamp {
	if t.IsZero() {
		return Absent
	}
	return Timestamp{kind: kindNative, t: t}
}

// FromAny accepts either shape from a dynamically-typed boundary (e.g. a
// decoded JSON value) and normalizes it once. Unrecognized shapes become
// Absent rather than panicking or guessing — the caller (resolver) treats
// an unparseable field as missing, never as "earlier" (spec.md §4.8).
func FromAny(v interface{}) Timestamp {
	switch x := v.(type) {
	case nil:
		return Absent
	case string:
		return FromISO(x)
	case time.Time:
		return FromNative(x)
	case *time.Time:
		if x == nil {
			return Absent
		}
		return FromNative(*x)
	default:
		return Absent
	}
}

// Time resolves the Timestamp to a concrete time.Time and reports whether
// parsing succeeded. A string that fails every accepted layout reports ok=false.
func (ts Timestamp) Time() (time.Time, bool) {
	switch ts.kind {
	case kindNative:
		return ts.t, true
	case kindIso:
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, ts.iso); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// IsAbsent reports the zero state.
func (ts Timestamp) IsAbsent() bool { return ts.kind == kindAbsent }

// Compare returns -1 if a precedes b, 1 if a follows b, 0 if equal or
// either side is unparseable/absent. Total and monotone: unlike the
// historical bug, there is exactly one parse path regardless of which
// side supplied which shape.
func Compare(a, b Timestamp) int {
	at, aok := a.Time()
	bt, bok := b.Time()
	if !aok || !bok {
		return 0
	}
	switch {
	case at.After(bt):
		return 1
	case bt.After(at):
		return -1
	default:
		return 0
	}
}
