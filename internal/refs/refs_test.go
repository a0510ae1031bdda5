package refs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/pkg/model"
)

func TestSetGetBranch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	head := model.ComputeOid([]byte("changeset"))
	require.NoError(t, s.SetBranch("main", head))

	got, err := s.Branch("main")
	require.NoError(t, err)
	assert.Equal(t, head, got)

	// Moving the head overwrites in place.
	next := model.ComputeOid([]byte("next"))
	require.NoError(t, s.SetBranch("main", next))
	got, err = s.Branch("main")
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestBranchNotFound(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = s.Branch("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteBranch("missing"), ErrNotFound)
}

func TestNestedBranchNames(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	head := model.ComputeOid([]byte("x"))
	require.NoError(t, s.SetBranch("feature/chunking", head))
	got, err := s.Branch("feature/chunking")
	require.NoError(t, err)
	assert.Equal(t, head, got)

	branches, err := s.List()
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, "feature/chunking", branches[0].Name)
}

func TestInvalidNames(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "a/../b", "/abs", "a//b", "CURRENT"} {
		assert.ErrorIs(t, s.SetBranch(name, model.Oid{}), ErrInvalidName, "name %q", name)
	}
}

func TestListSorted(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.SetBranch(name, model.ComputeOid([]byte(name))))
	}
	branches, err := s.List()
	require.NoError(t, err)
	require.Len(t, branches, 3)
	assert.Equal(t, "alpha", branches[0].Name)
	assert.Equal(t, "mid", branches[1].Name)
	assert.Equal(t, "zeta", branches[2].Name)
}

func TestCurrentBranch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	// Current requires the branch to exist.
	assert.ErrorIs(t, s.SetCurrent("main"), ErrNotFound)

	require.NoError(t, s.SetBranch("main", model.ComputeOid([]byte("head"))))
	require.NoError(t, s.SetCurrent("main"))

	name, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, "main", name)
}

func TestCorruptHead(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.SetBranch("main", model.ComputeOid([]byte("head"))))

	// Heads survive a reopen.
	s2, err := Open(s.dir)
	require.NoError(t, err)
	_, err = s2.Branch("main")
	require.NoError(t, err)

	// A mangled head file surfaces as an error, not a zero oid.
	path, err := s.branchPath("main")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("not a digest\n"), 0o644))
	_, err = s2.Branch("main")
	assert.Error(t, err)
}
