// Package merge computes three-way manifest merges keyed by NodeID.
//
// The merge is a pure function over three manifests. Because entries are
// keyed by NodeID and not by path, a file renamed on one side and edited on
// the other merges cleanly without any content comparison: the rename is a
// path field change, the edit is a blob field change, and the two are
// orthogonal.
package merge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/windvcs/wind/pkg/model"
)

var (
	// ErrNotConflicted is returned by MarkResolved for an entry that is not
	// waiting on resolution.
	ErrNotConflicted = errors.New("merge: entry is not conflicted")

	// ErrUnknownNode is returned when a NodeID is absent from the manifest.
	ErrUnknownNode = errors.New("merge: unknown node")
)

// ConflictKind classifies how the two sides disagree about one NodeID.
type ConflictKind int

const (
	ConflictAddAdd ConflictKind = iota + 1
	ConflictEditEdit
	ConflictDeleteEdit
	ConflictEditDelete
	ConflictRenameRename
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictAddAdd:
		return "add/add"
	case ConflictEditEdit:
		return "edit/edit"
	case ConflictDeleteEdit:
		return "delete/edit"
	case ConflictEditDelete:
		return "edit/delete"
	case ConflictRenameRename:
		return "rename/rename"
	default:
		return fmt.Sprintf("ConflictKind(%d)", int(k))
	}
}

// Conflict records one NodeID the merge could not resolve. Base, Ours and
// Theirs are nil for the sides where the node is absent. Conflicts are data;
// nothing here attempts resolution.
type Conflict struct {
	NodeID model.NodeID
	Kind   ConflictKind
	Base   *model.ManifestEntry
	Ours   *model.ManifestEntry
	Theirs *model.ManifestEntry
}

// Result is the outcome of one merge. Manifest contains every merged node,
// including conflicted ones, which carry the Unresolved flag until
// MarkResolved supplies final content. Conflicts is sorted by NodeID.
type Result struct {
	Manifest  model.Manifest
	Conflicts []Conflict
}

// Clean reports whether the merge completed without conflicts.
func (r *Result) Clean() bool {
	return len(r.Conflicts) == 0
}

// Manifests merges ours and theirs against their common ancestor base.
// Nodes are processed in NodeID order so the result is deterministic.
func Manifests(base, ours, theirs *model.Manifest) *Result {
	result := &Result{}
	for _, id := range unionNodeIDs(base, ours, theirs) {
		b := lookup(base, id)
		o := lookup(ours, id)
		t := lookup(theirs, id)
		mergeNode(result, id, b, o, t)
	}
	return result
}

// MarkResolved completes a conflicted entry by supplying its final blob and
// clearing the unresolved flag.
func MarkResolved(m *model.Manifest, id model.NodeID, blob model.Oid) error {
	e, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	if !e.Unresolved {
		return fmt.Errorf("%w: %s", ErrNotConflicted, e.Path)
	}
	e.Blob = blob
	e.Unresolved = false
	m.Put(e)
	return nil
}

func mergeNode(result *Result, id model.NodeID, b, o, t *model.ManifestEntry) {
	switch {
	case b == nil:
		mergeAdded(result, id, o, t)
	case o == nil && t == nil:
		// Deleted on both sides.
	case o == nil:
		mergeDeleted(result, id, b, t, ConflictDeleteEdit)
	case t == nil:
		mergeDeleted(result, id, b, o, ConflictEditDelete)
	default:
		mergeBoth(result, id, b, o, t)
	}
}

// mergeAdded handles nodes absent from the base: added on one side or both.
func mergeAdded(result *Result, id model.NodeID, o, t *model.ManifestEntry) {
	switch {
	case o == nil && t == nil:
	case t == nil:
		result.Manifest.Put(*o)
	case o == nil:
		result.Manifest.Put(*t)
	case sameEntry(*o, *t):
		result.Manifest.Put(*o)
	default:
		conflicted := *o
		conflicted.Unresolved = true
		result.Manifest.Put(conflicted)
		result.Conflicts = append(result.Conflicts, Conflict{
			NodeID: id, Kind: ConflictAddAdd, Ours: o, Theirs: t,
		})
	}
}

// mergeDeleted handles a node deleted on one side and still present on the
// other. A clean delete requires the surviving side to be unchanged from
// base.
func mergeDeleted(result *Result, id model.NodeID, b, kept *model.ManifestEntry, kind ConflictKind) {
	if sameEntry(*b, *kept) {
		return
	}
	conflicted := *kept
	conflicted.Unresolved = true
	result.Manifest.Put(conflicted)
	c := Conflict{NodeID: id, Kind: kind, Base: b}
	if kind == ConflictDeleteEdit {
		c.Theirs = kept
	} else {
		c.Ours = kept
	}
	result.Conflicts = append(result.Conflicts, c)
}

// mergeBoth handles a node present on all three sides. Path and content are
// merged as independent fields: a one-sided rename combines with a one-sided
// edit without conflict.
func mergeBoth(result *Result, id model.NodeID, b, o, t *model.ManifestEntry) {
	merged := model.ManifestEntry{NodeID: id}

	path, pathOK := mergeField(b.Path, o.Path, t.Path)
	blob, blobOK := mergeField(b.Blob, o.Blob, t.Blob)
	mode, modeOK := mergeField(b.Mode, o.Mode, t.Mode)
	merged.Path = path
	merged.Blob = blob
	merged.Mode = mode

	if pathOK && blobOK && modeOK {
		result.Manifest.Put(merged)
		return
	}

	kind := ConflictRenameRename
	if !blobOK || !modeOK {
		kind = ConflictEditEdit
	}
	conflicted := *o
	conflicted.Unresolved = true
	if pathOK {
		conflicted.Path = path
	}
	result.Manifest.Put(conflicted)
	result.Conflicts = append(result.Conflicts, Conflict{
		NodeID: id, Kind: kind, Base: b, Ours: o, Theirs: t,
	})
}

// mergeField resolves one field of a three-way merge: an unchanged side
// yields to the changed side, identical changes collapse, and divergent
// changes report false.
func mergeField[T comparable](base, ours, theirs T) (T, bool) {
	switch {
	case ours == base:
		return theirs, true
	case theirs == base:
		return ours, true
	case ours == theirs:
		return ours, true
	default:
		return ours, false
	}
}

func sameEntry(a, b model.ManifestEntry) bool {
	return a.Path == b.Path && a.Blob == b.Blob && a.Mode == b.Mode
}

func lookup(m *model.Manifest, id model.NodeID) *model.ManifestEntry {
	if m == nil {
		return nil
	}
	e, ok := m.Get(id)
	if !ok {
		return nil
	}
	return &e
}

func unionNodeIDs(manifests ...*model.Manifest) []model.NodeID {
	seen := make(map[model.NodeID]struct{})
	var ids []model.NodeID
	for _, m := range manifests {
		if m == nil {
			continue
		}
		for _, e := range m.Entries {
			if _, ok := seen[e.NodeID]; ok {
				continue
			}
			seen[e.NodeID] = struct{}{}
			ids = append(ids, e.NodeID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
