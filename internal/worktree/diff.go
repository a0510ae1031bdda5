package worktree

import (
	"bytes"
	"fmt"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"
)

// binarySniffLen bounds how far IsBinary looks for a NUL byte.
const binarySniffLen = 8000

// IsBinary reports whether content looks like binary data.
func IsBinary(content []byte) bool {
	n := len(content)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(content[:n], 0) >= 0
}

// SimilarityRatio scores how alike two contents are, in [0, 1], via the
// difflib sequence matcher over lines. The score is symmetric enough for
// rename matching and fully deterministic.
func SimilarityRatio(a, b []byte) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	m := difflib.NewMatcher(splitLinesKeepNL(string(a)), splitLinesKeepNL(string(b)))
	return m.Ratio()
}

// UnifiedDiff renders a classic unified patch between two contents. Binary
// content gets a compact placeholder instead of garbage hunks.
func UnifiedDiff(aName, bName string, a, b []byte) (string, error) {
	if IsBinary(a) || IsBinary(b) {
		return fmt.Sprintf("--- %s\n+++ %s\nBinary files differ (%d -> %d bytes)\n",
			aName, bName, len(a), len(b)), nil
	}
	u := difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(a)),
		B:        splitLinesKeepNL(string(b)),
		FromFile: aName,
		ToFile:   bName,
		Context:  3,
	}
	s, err := difflib.GetUnifiedDiffString(u)
	if err != nil {
		return "", fmt.Errorf("worktree: rendering diff: %w", err)
	}
	return s, nil
}

// splitLinesKeepNL splits into lines keeping the trailing newline on each,
// which produces better hunks and ratios.
func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}

// pathEditDistance is the Levenshtein distance between two paths, the
// rename-matching tie-break.
func pathEditDistance(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min3(cur[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
