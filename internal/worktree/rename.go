package worktree

import (
	"sort"

	"github.com/windvcs/wind/pkg/model"
)

// RenameThreshold is the minimum similarity ratio for a heuristic rename
// pairing. Exact content matches pair unconditionally.
const RenameThreshold = 0.80

// Candidate is one side of a potential rename: a path that disappeared from
// the scan, or a path new in it.
type Candidate struct {
	Path    string
	Digest  model.Oid
	Content []byte
}

// RenamePair pairs indexes into the removed and added candidate slices.
type RenamePair struct {
	Removed int
	Added   int
}

// MatchRenames pairs removed paths with added paths. Exact digest equality
// pairs first (unambiguous rename); the rest pair by similarity ratio at or
// above threshold, best score first, ties broken by smallest path edit
// distance and then lexicographic path order so the result is fully
// deterministic. Unmatched candidates stay plain deletes and adds.
//
// This is a pure function over the two candidate sets. The working-copy
// scanner and the Git importer both call it, so renames are detected
// identically in both directions.
func MatchRenames(removed, added []Candidate, threshold float64) (pairs []RenamePair, unmatchedRemoved, unmatchedAdded []int) {
	usedRemoved := make([]bool, len(removed))
	usedAdded := make([]bool, len(added))

	// Pass 1: exact content matches. Deterministic order: removed paths
	// ascending, and for equal content the closest added path wins.
	removedOrder := sortedIndexes(len(removed), func(i, j int) bool {
		return removed[i].Path < removed[j].Path
	})
	for _, ri := range removedOrder {
		best := -1
		for ai := range added {
			if usedAdded[ai] || added[ai].Digest != removed[ri].Digest {
				continue
			}
			if best == -1 || closerPath(removed[ri].Path, added[ai].Path, added[best].Path) {
				best = ai
			}
		}
		if best >= 0 {
			pairs = append(pairs, RenamePair{Removed: ri, Added: best})
			usedRemoved[ri] = true
			usedAdded[best] = true
		}
	}

	// Pass 2: similarity scoring over everything still unmatched.
	type scored struct {
		removed, added int
		ratio          float64
		dist           int
	}
	var candidates []scored
	for ri := range removed {
		if usedRemoved[ri] {
			continue
		}
		for ai := range added {
			if usedAdded[ai] {
				continue
			}
			ratio := SimilarityRatio(removed[ri].Content, added[ai].Content)
			if ratio < threshold {
				continue
			}
			candidates = append(candidates, scored{
				removed: ri,
				added:   ai,
				ratio:   ratio,
				dist:    pathEditDistance(removed[ri].Path, added[ai].Path),
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ratio != b.ratio {
			return a.ratio > b.ratio
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if removed[a.removed].Path != removed[b.removed].Path {
			return removed[a.removed].Path < removed[b.removed].Path
		}
		return added[a.added].Path < added[b.added].Path
	})
	for _, c := range candidates {
		if usedRemoved[c.removed] || usedAdded[c.added] {
			continue
		}
		pairs = append(pairs, RenamePair{Removed: c.removed, Added: c.added})
		usedRemoved[c.removed] = true
		usedAdded[c.added] = true
	}

	for ri := range removed {
		if !usedRemoved[ri] {
			unmatchedRemoved = append(unmatchedRemoved, ri)
		}
	}
	for ai := range added {
		if !usedAdded[ai] {
			unmatchedAdded = append(unmatchedAdded, ai)
		}
	}
	return pairs, unmatchedRemoved, unmatchedAdded
}

// closerPath reports whether candidate is a better path match for from than
// current, by edit distance then lexicographic order.
func closerPath(from, candidate, current string) bool {
	dc, dr := pathEditDistance(from, candidate), pathEditDistance(from, current)
	if dc != dr {
		return dc < dr
	}
	return candidate < current
}

func sortedIndexes(n int, less func(i, j int) bool) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return less(idx[a], idx[b]) })
	return idx
}
