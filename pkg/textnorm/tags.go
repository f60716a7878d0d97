package textnorm

import (
	"regexp"
	"strings"
)

// TagsDelimiter separates free-text notes from the encoded tag block in a
// Reminders task's notes field, since Reminders has no native tag
// attribute. Grounded on original_source/obs_sync/utils/tags.py.
const TagsDelimiter = "\n\n---tags---\n"

var tagRe = regexp.MustCompile(`#([a-zA-Z0-9_\-/]+)`)

// EncodeTags rewrites notes to carry tags behind the delimiter, preserving
// whatever free text preceded any existing delimiter.
func EncodeTags(notes string, tags []string) string {
	userNotes := notes
	if idx := strings.Index(notes, TagsDelimiter); idx >= 0 {
		userNotes = notes[:idx]
	}

	var normalized []string
	for _, t := range tags {
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		normalized = append(normalized, t)
	}

	trimmed := strings.TrimRight(userNotes, " \t\n")
	if len(normalized) == 0 {
		return trimmed
	}
	if trimmed != "" {
		return trimmed + TagsDelimiter + strings.Join(normalized, " ")
	}
	return TagsDelimiter + strings.Join(normalized, " ")
}

// DecodeTags splits notes back into (userNotes, tags).
func DecodeTags(notes string) (string, []string) {
	if notes == "" {
		return "", nil
	}
	idx := strings.Index(notes, TagsDelimiter)
	if idx < 0 {
		return notes, nil
	}

	userNotes := strings.TrimRight(notes[:idx], " \t\n")
	tagSection := notes[idx+len(TagsDelimiter):]

	var tags []string
	for _, m := range tagRe.FindAllStringSubmatch(tagSection, -1) {
		tags = append(tags, "#"+m[1])
	}
	return userNotes, tags
}

// MergeTags unions two tag lists, preserving order and deduping by
// normalized (#-prefixed) form, with the first list's order taking
// precedence — used by the resolver when both sides changed tags.
func MergeTags(a, b []string) []string {
	norm := func(t string) string {
		if strings.HasPrefix(t, "#") {
			return t
		}
		return "#" + t
	}

	seen := make(map[string]bool)
	var out []string
	for _, t := range a {
		n := norm(t)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, t := range b {
		n := norm(t)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// TagSetsDiffer reports whether two tag lists represent different sets,
// ignoring order and # prefix normalization.
func TagSetsDiffer(a, b []string) bool {
	na := normalizedSet(a)
	nb := normalizedSet(b)
	if len(na) != len(nb) {
		return true
	}
	for t := range na {
		if !nb[t] {
			return true
		}
	}
	return false
}

func normalizedSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		if !strings.HasPrefix(t, "#") {
			t = "#" + t
		}
		set[t] = true
	}
	return set
}
