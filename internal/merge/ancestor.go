package merge

import (
	"errors"
	"sort"

	"github.com/windvcs/wind/pkg/model"
)

// ErrNoCommonAncestor is returned when the two heads share no history.
var ErrNoCommonAncestor = errors.New("merge: no common ancestor")

// Loader resolves a changeset Oid to its decoded changeset. The object store
// satisfies this through a thin adapter in the facade.
type Loader interface {
	Changeset(oid model.Oid) (model.Changeset, error)
}

// Base finds the nearest common ancestor of two changesets with a
// level-synchronized BFS over the parent DAG: both frontiers advance one
// generation per round, so the first intersection found is a nearest
// ancestor. Newly reached parents are visited in Oid order, which makes the
// pick deterministic when several ancestors sit at the same depth.
//
// Criss-cross topologies can have multiple equally valid bases; this walk
// returns the first one found and does not attempt recursive resolution.
func Base(loader Loader, ours, theirs model.Oid) (model.Oid, error) {
	if ours == theirs {
		return ours, nil
	}
	seenOurs := map[model.Oid]bool{ours: true}
	seenTheirs := map[model.Oid]bool{theirs: true}
	frontOurs := []model.Oid{ours}
	frontTheirs := []model.Oid{theirs}

	for len(frontOurs) > 0 || len(frontTheirs) > 0 {
		next, hit, err := advance(loader, frontOurs, seenOurs, seenTheirs)
		if err != nil {
			return model.Oid{}, err
		}
		if hit != nil {
			return *hit, nil
		}
		frontOurs = next

		next, hit, err = advance(loader, frontTheirs, seenTheirs, seenOurs)
		if err != nil {
			return model.Oid{}, err
		}
		if hit != nil {
			return *hit, nil
		}
		frontTheirs = next
	}
	return model.Oid{}, ErrNoCommonAncestor
}

// advance expands one frontier by one generation and reports the first
// parent, in Oid order, already seen by the opposite walk.
func advance(loader Loader, frontier []model.Oid, seen, other map[model.Oid]bool) ([]model.Oid, *model.Oid, error) {
	var next []model.Oid
	for _, oid := range frontier {
		cs, err := loader.Changeset(oid)
		if err != nil {
			return nil, nil, err
		}
		for _, parent := range cs.Parents {
			if seen[parent] {
				continue
			}
			seen[parent] = true
			next = append(next, parent)
		}
	}
	sort.Slice(next, func(i, j int) bool { return next[i].Less(next[j]) })
	for _, oid := range next {
		if other[oid] {
			hit := oid
			return next, &hit, nil
		}
	}
	return next, nil, nil
}
