// Package sync is the core: the matcher, resolver, deduplicator, link
// store, route dispatcher, and the engine that orchestrates them, per
// the component design the rest of this package's files implement.
package sync

import (
	"sort"
	"strings"
	"time"

	"github.com/harrisonrobin/obs-sync/pkg/model"
	"github.com/harrisonrobin/obs-sync/pkg/textnorm"
	"github.com/harrisonrobin/obs-sync/pkg/timeval"
)

// pruneTopK is the per-row candidate cap applied once bucketing kicks in.
const pruneTopK = 50

// pruneMandatoryThreshold is the |A|*|B| size above which bucketing/top-K
// pruning is mandatory rather than optional.
const pruneMandatoryThreshold = 10_000

// optimalAssignmentCap is the |A|*|B| size above which the matcher
// degrades from the optimal solver to greedy descent.
const optimalAssignmentCap = 250_000

// MatchOptions configures one matcher invocation.
type MatchOptions struct {
	MinScore      float64
	DaysTolerance int
}

// candidate is one proposed pairing with its score, prior to assignment.
type candidate struct {
	i, j  int
	score float64
}

// Matcher re-identifies previously linked tasks is handled by the caller
// (engine.go); Matcher itself only solves the residual-matching problem:
// given disjoint sets A (Obsidian) and B (Reminders), return at most one
// pairing per element with score >= MinScore. Grounded on
// original_source/obs_sync/sync/matcher.py's TaskMatcher, generalized
// from scipy's linear_sum_assignment to an in-package Hungarian solver
// since no third-party assignment-problem library appears anywhere in
// the retrieved corpus (see DESIGN.md).
type Matcher struct {
	opts MatchOptions
}

// NewMatcher builds a Matcher with the given options, falling back to
// spec defaults (min_score 0.75, days_tolerance 1) for zero values.
func NewMatcher(opts MatchOptions) *Matcher {
	if opts.MinScore <= 0 {
		opts.MinScore = 0.75
	}
	if opts.DaysTolerance <= 0 {
		opts.DaysTolerance = 1
	}
	return &Matcher{opts: opts}
}

// Match returns proposed links for unlinked Obsidian tasks a against
// unlinked Reminders tasks b. Results are sorted by (ObsID, RemID) for
// determinism, per spec.md §4.2's tie-break rule.
func (m *Matcher) Match(a []model.ObsidianTask, b []model.RemindersTask) []model.SyncLink {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}

	candidates := m.scoreAll(a, b)
	applyTieBreak(candidates, a, b)

	var pairs []candidate
	n, k := len(a), len(b)
	if int64(n)*int64(k) > pruneMandatoryThreshold {
		pairs = topKPerRow(candidates, n, k, pruneTopK)
	} else {
		pairs = candidates
	}

	var assigned []candidate
	if int64(n)*int64(k) <= optimalAssignmentCap {
		assigned = solveHungarian(pairs, n, k)
	} else {
		assigned = solveGreedy(pairs)
	}

	links := make([]model.SyncLink, 0, len(assigned))
	for _, c := range assigned {
		if c.score < m.opts.MinScore {
			continue
		}
		links = append(links, model.SyncLink{
			ObsID: a[c.i].UUID,
			RemID: b[c.j].UUID,
			Score: c.score,
		})
	}

	sort.Slice(links, func(i, j int) bool {
		if links[i].ObsID != links[j].ObsID {
			return links[i].ObsID < links[j].ObsID
		}
		return links[i].RemID < links[j].RemID
	})
	return links
}

// tieBreakEpsilon is small enough to never invert a genuine score
// difference (scores are compared at a coarser granularity than this
// throughout the matcher) but large enough to survive float64 rounding
// across the assignment solver's internal arithmetic.
const tieBreakEpsilon = 1e-9

// applyTieBreak nudges each candidate's score by a tiny amount favoring
// lexicographically smaller (a.id, b.id), so that when two candidates are
// otherwise exactly tied the solver's choice is deterministic rather than
// an artifact of iteration or solver internals, per spec.md §4.2: "ties
// broken by lexicographic (a.id, b.id) for determinism".
func applyTieBreak(candidates []candidate, a []model.ObsidianTask, b []model.RemindersTask) {
	rankA := rankByID(func(i int) string { return a[i].UUID }, len(a))
	rankB := rankByID(func(j int) string { return b[j].UUID }, len(b))

	for idx := range candidates {
		c := &candidates[idx]
		c.score -= tieBreakEpsilon * (float64(rankA[c.i])*float64(len(b)) + float64(rankB[c.j]))
	}
}

// rankByID returns, for each index 0..n-1, its position in ascending id
// order (0 = lexicographically smallest).
func rankByID(idOf func(int) string, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(x, y int) bool { return idOf(order[x]) < idOf(order[y]) })

	rank := make([]int, n)
	for pos, i := range order {
		rank[i] = pos
	}
	return rank
}

// scoreAll computes the full candidate list, scoring every pair.
func (m *Matcher) scoreAll(a []model.ObsidianTask, b []model.RemindersTask) []candidate {
	out := make([]candidate, 0, len(a)*len(b))
	for i := range a {
		for j := range b {
			out = append(out, candidate{i: i, j: j, score: Score(&a[i], &b[j], m.opts.DaysTolerance)})
		}
	}
	return out
}

// topKPerRow buckets candidates by row and keeps the top K by score,
// then flattens back into a single slice. Mandatory above the size
// threshold per spec.md §4.2.
func topKPerRow(candidates []candidate, n, k, topK int) []candidate {
	byRow := make([][]candidate, n)
	for _, c := range candidates {
		byRow[c.i] = append(byRow[c.i], c)
	}

	out := make([]candidate, 0, n*topK)
	for i := 0; i < n; i++ {
		row := byRow[i]
		sort.Slice(row, func(x, y int) bool { return row[x].score > row[y].score })
		if len(row) > topK {
			row = row[:topK]
		}
		out = append(out, row...)
	}
	return out
}

// Score computes spec.md §4.2's weighted similarity between one Obsidian
// task and one Reminders task: description 0.6, due-date proximity 0.25,
// tag overlap 0.1, priority equality 0.05.
func Score(a *model.ObsidianTask, b *model.RemindersTask, daysTolerance int) float64 {
	descScore := descriptionSimilarity(a.Description, b.Title)
	dateScore := dateProximity(a.DueDay(), b.DueDay(), daysTolerance)
	tagScore := textnorm.Jaccard(a.Tags, b.Tags)
	priScore := 0.0
	if a.Priority == b.Priority {
		priScore = 1.0
	}

	score := 0.6*descScore + 0.25*dateScore + 0.1*tagScore + 0.05*priScore
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	return score
}

// descriptionSimilarity is the Dice coefficient over normalized token
// bags, with the empty-both-sides special case from the original
// (two tasks whose descriptions both normalize away, e.g. URL-only
// lines, are a perfect match if their raw text also matches).
func descriptionSimilarity(obsDesc, remTitle string) float64 {
	obsTokens := textnorm.Tokenize(obsDesc)
	remTokens := textnorm.Tokenize(remTitle)
	if len(obsTokens) == 0 && len(remTokens) == 0 {
		if strings.ToLower(strings.TrimSpace(obsDesc)) == strings.ToLower(strings.TrimSpace(remTitle)) {
			return 1.0
		}
		return 0.0
	}
	return textnorm.Dice(obsTokens, remTokens)
}

// dateProximity scores 1.0 for an exact match, falling off linearly to
// 0.0 over daysTolerance days and 0.0 beyond. Two tasks that both lack a
// due date score a neutral 0.5 (the absence agrees without being the
// positive signal an exact date match is); a date on only one side
// scores 0.0.
func dateProximity(a, b *time.Time, daysTolerance int) float64 {
	if a == nil && b == nil {
		return 0.5
	}
	if a == nil || b == nil {
		return 0.0
	}
	diff := a.Sub(*b)
	if diff < 0 {
		diff = -diff
	}
	days := diff.Hours() / 24
	if days == 0 {
		return 1.0
	}
	if daysTolerance <= 0 {
		return 0.0
	}
	if days >= float64(daysTolerance) {
		return 0.0
	}
	return 1.0 - (days / float64(daysTolerance))
}

// RecoveryScore is the recovery-path score used by the link store
// (spec.md §4.4): the same pairwise score, except that two tasks which
// both lack a due date count as an exact date match (1.0 instead of the
// matcher's 0.5). A match needs only (rem_list_id, rem_title_hash)
// agreement to be considered — the caller pre-filters candidates to that
// anchor before calling this.
func RecoveryScore(a *model.ObsidianTask, b *model.RemindersTask, daysTolerance int) float64 {
	score := Score(a, b, daysTolerance)
	if a.DueDay() == nil && b.DueDay() == nil {
		score += 0.25 * (1.0 - dateProximity(nil, nil, daysTolerance))
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// timestampWinner is used by the resolver: given two heterogeneous
// timestamps, decide which is strictly later.
func timestampWinner(obs, rem timeval.Timestamp) string {
	switch timeval.Compare(obs, rem) {
	case -1:
		return "rem"
	case 1:
		return "obs"
	default:
		return "none"
	}
}
