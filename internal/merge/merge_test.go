package merge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/pkg/model"
)

func entry(id model.NodeID, path, content string) model.ManifestEntry {
	return model.ManifestEntry{
		NodeID: id,
		Path:   path,
		Blob:   model.ComputeOid([]byte(content)),
		Mode:   0o644,
	}
}

func manifest(entries ...model.ManifestEntry) *model.Manifest {
	m := &model.Manifest{}
	for _, e := range entries {
		m.Put(e)
	}
	return m
}

func TestMergeNonOverlapping(t *testing.T) {
	n1 := model.NewNodeID()
	n2 := model.NewNodeID()

	base := manifest(entry(n1, "a.txt", "v0"))
	ours := manifest(entry(n1, "a.txt", "v1"))
	theirs := manifest(entry(n1, "a.txt", "v0"), entry(n2, "b.txt", "new"))

	result := Manifests(base, ours, theirs)
	require.True(t, result.Clean())
	require.Len(t, result.Manifest.Entries, 2)

	got, ok := result.Manifest.Get(n1)
	require.True(t, ok)
	assert.Equal(t, model.ComputeOid([]byte("v1")), got.Blob)

	got, ok = result.Manifest.Get(n2)
	require.True(t, ok)
	assert.Equal(t, "b.txt", got.Path)
}

func TestMergeEditEditConflict(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "a.txt", "v0"))
	ours := manifest(entry(n1, "a.txt", "v1"))
	theirs := manifest(entry(n1, "a.txt", "v2"))

	result := Manifests(base, ours, theirs)
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	assert.Equal(t, n1, c.NodeID)
	assert.Equal(t, ConflictEditEdit, c.Kind)
	assert.Equal(t, model.ComputeOid([]byte("v0")), c.Base.Blob)
	assert.Equal(t, model.ComputeOid([]byte("v1")), c.Ours.Blob)
	assert.Equal(t, model.ComputeOid([]byte("v2")), c.Theirs.Blob)

	got, ok := result.Manifest.Get(n1)
	require.True(t, ok)
	assert.True(t, got.Unresolved)
}

func TestMergeIdenticalEdit(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "a.txt", "v0"))
	ours := manifest(entry(n1, "a.txt", "v1"))
	theirs := manifest(entry(n1, "a.txt", "v1"))

	result := Manifests(base, ours, theirs)
	assert.True(t, result.Clean())
	got, _ := result.Manifest.Get(n1)
	assert.Equal(t, model.ComputeOid([]byte("v1")), got.Blob)
}

func TestMergeAddAdd(t *testing.T) {
	n1 := model.NewNodeID()

	t.Run("identical", func(t *testing.T) {
		ours := manifest(entry(n1, "a.txt", "same"))
		theirs := manifest(entry(n1, "a.txt", "same"))
		result := Manifests(manifest(), ours, theirs)
		assert.True(t, result.Clean())
		assert.Len(t, result.Manifest.Entries, 1)
	})

	t.Run("divergent", func(t *testing.T) {
		ours := manifest(entry(n1, "a.txt", "mine"))
		theirs := manifest(entry(n1, "a.txt", "yours"))
		result := Manifests(manifest(), ours, theirs)
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictAddAdd, result.Conflicts[0].Kind)
		assert.Nil(t, result.Conflicts[0].Base)
	})
}

func TestMergeDeletes(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "a.txt", "v0"))

	t.Run("delete vs unchanged", func(t *testing.T) {
		result := Manifests(base, manifest(), manifest(entry(n1, "a.txt", "v0")))
		assert.True(t, result.Clean())
		assert.Empty(t, result.Manifest.Entries)
	})

	t.Run("delete vs delete", func(t *testing.T) {
		result := Manifests(base, manifest(), manifest())
		assert.True(t, result.Clean())
		assert.Empty(t, result.Manifest.Entries)
	})

	t.Run("delete vs edit", func(t *testing.T) {
		result := Manifests(base, manifest(), manifest(entry(n1, "a.txt", "v1")))
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictDeleteEdit, result.Conflicts[0].Kind)
		got, ok := result.Manifest.Get(n1)
		require.True(t, ok)
		assert.True(t, got.Unresolved)
		assert.Equal(t, model.ComputeOid([]byte("v1")), got.Blob)
	})

	t.Run("edit vs delete", func(t *testing.T) {
		result := Manifests(base, manifest(entry(n1, "a.txt", "v1")), manifest())
		require.Len(t, result.Conflicts, 1)
		assert.Equal(t, ConflictEditDelete, result.Conflicts[0].Kind)
	})
}

// A rename on one side and an edit on the other are orthogonal field changes
// of the same node and must merge without conflict.
func TestMergeRenamePlusEdit(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "old.txt", "v0"))
	ours := manifest(entry(n1, "new.txt", "v0"))
	theirs := manifest(entry(n1, "old.txt", "v1"))

	result := Manifests(base, ours, theirs)
	require.True(t, result.Clean())
	got, ok := result.Manifest.Get(n1)
	require.True(t, ok)
	assert.Equal(t, "new.txt", got.Path)
	assert.Equal(t, model.ComputeOid([]byte("v1")), got.Blob)
}

func TestMergeRenameRenameConflict(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "old.txt", "v0"))
	ours := manifest(entry(n1, "mine.txt", "v0"))
	theirs := manifest(entry(n1, "yours.txt", "v0"))

	result := Manifests(base, ours, theirs)
	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ConflictRenameRename, result.Conflicts[0].Kind)
}

func TestMarkResolved(t *testing.T) {
	n1 := model.NewNodeID()
	base := manifest(entry(n1, "a.txt", "v0"))
	result := Manifests(base, manifest(entry(n1, "a.txt", "v1")), manifest(entry(n1, "a.txt", "v2")))
	require.False(t, result.Clean())

	final := model.ComputeOid([]byte("resolved"))
	require.NoError(t, MarkResolved(&result.Manifest, n1, final))
	got, _ := result.Manifest.Get(n1)
	assert.False(t, got.Unresolved)
	assert.Equal(t, final, got.Blob)

	assert.ErrorIs(t, MarkResolved(&result.Manifest, n1, final), ErrNotConflicted)
	assert.ErrorIs(t, MarkResolved(&result.Manifest, model.NewNodeID(), final), ErrUnknownNode)
}

// mapLoader serves changesets from memory for ancestor walks.
type mapLoader map[model.Oid]model.Changeset

func (m mapLoader) Changeset(oid model.Oid) (model.Changeset, error) {
	cs, ok := m[oid]
	if !ok {
		return model.Changeset{}, fmt.Errorf("changeset %s not found", oid)
	}
	return cs, nil
}

// chain builds a linear history and returns the oids root-first.
func chain(loader mapLoader, parent *model.Oid, n int, tag string) []model.Oid {
	oids := make([]model.Oid, 0, n)
	for i := 0; i < n; i++ {
		cs := model.Changeset{Message: fmt.Sprintf("%s-%d", tag, i)}
		if parent != nil {
			cs.Parents = []model.Oid{*parent}
		}
		oid := model.ComputeOid([]byte(cs.Message))
		loader[oid] = cs
		oids = append(oids, oid)
		parent = &oid
	}
	return oids
}

func TestBaseLinearHistory(t *testing.T) {
	loader := mapLoader{}
	trunk := chain(loader, nil, 3, "trunk")
	tip := trunk[len(trunk)-1]
	left := chain(loader, &tip, 2, "left")
	right := chain(loader, &tip, 4, "right")

	base, err := Base(loader, left[len(left)-1], right[len(right)-1])
	require.NoError(t, err)
	assert.Equal(t, tip, base)
}

func TestBaseSameCommit(t *testing.T) {
	loader := mapLoader{}
	trunk := chain(loader, nil, 2, "trunk")
	tip := trunk[len(trunk)-1]

	base, err := Base(loader, tip, tip)
	require.NoError(t, err)
	assert.Equal(t, tip, base)
}

func TestBaseAncestorOfOther(t *testing.T) {
	loader := mapLoader{}
	trunk := chain(loader, nil, 5, "trunk")

	base, err := Base(loader, trunk[1], trunk[4])
	require.NoError(t, err)
	assert.Equal(t, trunk[1], base)
}

func TestBaseNoCommonAncestor(t *testing.T) {
	loader := mapLoader{}
	a := chain(loader, nil, 2, "island-a")
	b := chain(loader, nil, 2, "island-b")

	_, err := Base(loader, a[1], b[1])
	assert.ErrorIs(t, err, ErrNoCommonAncestor)
}

func TestBaseMergeCommitParents(t *testing.T) {
	loader := mapLoader{}
	trunk := chain(loader, nil, 2, "trunk")
	tip := trunk[len(trunk)-1]
	left := chain(loader, &tip, 1, "left")
	right := chain(loader, &tip, 1, "right")

	mergeCS := model.Changeset{
		Parents: []model.Oid{left[0], right[0]},
		Message: "merge",
	}
	mergeOid := model.ComputeOid([]byte(mergeCS.Message))
	loader[mergeOid] = mergeCS
	after := chain(loader, &mergeOid, 1, "after")

	// A branch off one merge parent finds that parent as base.
	side := chain(loader, &right[0], 2, "side")
	base, err := Base(loader, after[0], side[len(side)-1])
	require.NoError(t, err)
	assert.Equal(t, right[0], base)
}
