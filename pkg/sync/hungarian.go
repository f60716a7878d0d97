package sync

import (
	"math"
	"sort"
)

// infeasibleCost marks a pair the caller never proposed (pruned out or
// below threshold); large enough that the solver only picks it when one
// side genuinely has no real candidate left.
const infeasibleCost = 1000.0

// solveHungarian finds the minimum-cost one-to-one assignment over the
// n x k candidate set using the Kuhn-Munkres algorithm with potentials
// (O(max(n,k)^3)), the optimal path spec.md §4.2 requires below the
// 250,000-cell cap. The rectangular problem is solved by padding to a
// square matrix with zero-cost dummy rows/columns, so unmatched real
// rows/columns cost nothing rather than forcing a bad pairing.
func solveHungarian(pairs []candidate, n, k int) []candidate {
	size := n
	if k > size {
		size = k
	}
	if size == 0 {
		return nil
	}

	cost := make([][]float64, size)
	for i := range cost {
		cost[i] = make([]float64, size)
		for j := range cost[i] {
			cost[i][j] = infeasibleCost
			if i >= n || j >= k {
				cost[i][j] = 0
			}
		}
	}
	for _, p := range pairs {
		cost[p.i][p.j] = 1 - p.score
	}

	rowForCol := kuhnMunkres(cost, size)

	out := make([]candidate, 0, size)
	for j := 0; j < k; j++ {
		i := rowForCol[j]
		if i < 0 || i >= n {
			continue
		}
		c := cost[i][j]
		if c >= infeasibleCost {
			continue
		}
		out = append(out, candidate{i: i, j: j, score: 1 - c})
	}
	return out
}

// kuhnMunkres is the classic 1-indexed-internally assignment algorithm:
// returns rowForCol[j] = the row matched to column j, or -1.
func kuhnMunkres(cost [][]float64, n int) []int {
	const inf = math.MaxFloat64 / 2

	u := make([]float64, n+1)
	v := make([]float64, n+1)
	p := make([]int, n+1) // p[j] = row matched to column j (1-indexed), 0 = unmatched
	way := make([]int, n+1)

	for i := 1; i <= n; i++ {
		p[0] = i
		j0 := 0
		minv := make([]float64, n+1)
		used := make([]bool, n+1)
		for j := range minv {
			minv[j] = inf
		}

		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= n; j++ {
				if used[j] {
					continue
				}
				cur := cost[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			for j := 0; j <= n; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}

		for j0 != 0 {
			j1 := way[j0]
			p[j0] = p[j1]
			j0 = j1
		}
	}

	rowForCol := make([]int, n)
	for j := 1; j <= n; j++ {
		if p[j] == 0 {
			rowForCol[j-1] = -1
		} else {
			rowForCol[j-1] = p[j] - 1
		}
	}
	return rowForCol
}

// solveGreedy is the above-cap fallback: sort all candidates by score
// descending and take largest-remaining-first, which is deterministic
// given the caller's (a.id, b.id) tie-break applied before assignment.
// Grounded on original_source/obs_sync/sync/matcher.py's _greedy_matching.
func solveGreedy(pairs []candidate) []candidate {
	sorted := make([]candidate, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].score > sorted[j].score })

	usedRows := make(map[int]bool)
	usedCols := make(map[int]bool)
	var out []candidate
	for _, c := range sorted {
		if usedRows[c.i] || usedCols[c.j] {
			continue
		}
		usedRows[c.i] = true
		usedCols[c.j] = true
		out = append(out, c)
	}
	return out
}
