// Package textnorm normalizes task descriptions for matching and
// deduplication, and encodes/decodes the tag block Reminders notes carry
// since Reminders has no native tag field.
//
// Grounded on original_source/obs_sync/utils/text.py (tokenize + Dice
// coefficient) and utils/tags.py (notes delimiter block), in the regex
// style of the teacher's orgmode parser and util.GetTaskIDFromEventDescription.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	urlRe      = regexp.MustCompile(`https?://\S+`)
	markdownRe = regexp.MustCompile(`[*_~` + "`" + `#]`)
	nonWordRe  = regexp.MustCompile(`[^\w\s]`)
	checkboxRe = regexp.MustCompile(`^\s*[-*]\s*\[[xX ]\]\s*`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Tokenize lowercases, strips URLs/markdown punctuation/non-word chars,
// and splits on whitespace. Used by the matcher's description similarity.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	t := strings.ToLower(text)
	t = urlRe.ReplaceAllString(t, "")
	t = markdownRe.ReplaceAllString(t, "")
	t = nonWordRe.ReplaceAllString(t, " ")

	fields := strings.Fields(t)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Dice computes the Dice coefficient between two token lists treated as
// sets: 2*|A∩B| / (|A|+|B|). Empty inputs on either side score 0.
func Dice(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	total := len(setA) + len(setB)
	if total == 0 {
		return 0.0
	}
	return (2.0 * float64(intersection)) / float64(total)
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Jaccard computes tag-set overlap: |A∩B| / |A∪B|. Both empty scores 1.0
// (spec.md §4.2: "1.0 when both sides empty").
func Jaccard(a, b []string) float64 {
	setA := normalizedSet(a)
	setB := normalizedSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	union := make(map[string]bool)
	for t := range setA {
		union[t] = true
		if setB[t] {
			intersection++
		}
	}
	for t := range setB {
		union[t] = true
	}
	return float64(intersection) / float64(len(union))
}

// NormalizeDescription is the deduplicator's contract normalizer: lowercase,
// strip leading checkbox markup, collapse whitespace. Two tasks are
// duplicates iff their normalizations are byte-equal (spec.md §4.6).
func NormalizeDescription(desc string) string {
	if desc == "" {
		return ""
	}
	d := strings.ToLower(desc)
	d = checkboxRe.ReplaceAllString(d, "")
	d = whitespaceRe.ReplaceAllString(d, " ")
	return strings.TrimSpace(d)
}
