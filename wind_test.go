package wind

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-billy.v4/memfs"
	"gopkg.in/src-d/go-billy.v4/util"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage/memory"

	"github.com/windvcs/wind/internal/merge"
	"github.com/windvcs/wind/internal/worktree"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	r, err := Init(Config{Root: t.TempDir(), Author: "Test Author <test@example.com>"})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func writeWorkFile(t *testing.T, r *Repository, rel, content string) {
	t.Helper()
	abs := filepath.Join(r.Root(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func readWorkFile(t *testing.T, r *Repository, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(r.Root(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestInitAndReopen(t *testing.T) {
	root := t.TempDir()
	r, err := Init(Config{Root: root})
	require.NoError(t, err)

	name, err := r.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, DefaultBranch, name)
	require.NoError(t, r.Close())

	_, err = Init(Config{Root: root})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	r2, err := Open(Config{Root: root})
	require.NoError(t, err)
	defer r2.Close()

	_, err = Open(Config{Root: t.TempDir()})
	assert.ErrorIs(t, err, ErrNotARepository)
}

func TestAddCommitLog(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "readme.md", "hello\n")

	status, err := r.Status()
	require.NoError(t, err)
	require.Len(t, status.Changes, 1)
	assert.Equal(t, worktree.StatusUntracked, status.Changes[0].Status)

	require.NoError(t, r.Add("readme.md"))
	oid, err := r.Commit("initial commit")
	require.NoError(t, err)
	assert.False(t, oid.IsZero())

	status, err = r.Status()
	require.NoError(t, err)
	assert.True(t, status.Clean())

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, oid, head)

	entries, err := r.Log(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "initial commit", entries[0].Message)
	assert.Equal(t, "Test Author <test@example.com>", entries[0].Author)

	_, err = r.Commit("empty")
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestModifyAndCommit(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "a.txt", "version one\n")
	require.NoError(t, r.Add("a.txt"))
	_, err := r.Commit("first")
	require.NoError(t, err)

	writeWorkFile(t, r, "a.txt", "version two\n")
	status, err := r.Status()
	require.NoError(t, err)
	require.Len(t, status.Changes, 1)
	assert.Equal(t, worktree.StatusModified, status.Changes[0].Status)

	diff, err := r.Diff("a.txt")
	require.NoError(t, err)
	assert.Contains(t, diff, "-version one")
	assert.Contains(t, diff, "+version two")

	_, err = r.Commit("second")
	require.NoError(t, err)

	log, err := r.Log(0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "second", log[0].Message)
	assert.Equal(t, "first", log[1].Message)
}

func TestCommitRecordsMTimeInSeconds(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "a.txt", "content\n")
	require.NoError(t, r.Add("a.txt"))
	_, err := r.Commit("initial")
	require.NoError(t, err)

	// The scanner's skip-unchanged shortcut compares Unix seconds, so the
	// commit path must record the same unit or every scan re-reads the tree.
	info, err := os.Stat(filepath.Join(r.Root(), "a.txt"))
	require.NoError(t, err)
	e, err := r.index.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().Unix(), e.MTime)

	// Checkout rebuilds the index through materialization; same unit there.
	require.NoError(t, r.CreateBranch("side"))
	require.NoError(t, r.Checkout("side"))
	info, err = os.Stat(filepath.Join(r.Root(), "a.txt"))
	require.NoError(t, err)
	e, err = r.index.Get("a.txt")
	require.NoError(t, err)
	assert.Equal(t, info.ModTime().Unix(), e.MTime)
}

func TestRenameCommitKeepsHistory(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "notes.txt", "some notes\nmore notes\n")
	require.NoError(t, r.Add("notes.txt"))
	_, err := r.Commit("add notes")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Join(r.Root(), "docs"), 0o755))
	require.NoError(t, os.Rename(
		filepath.Join(r.Root(), "notes.txt"),
		filepath.Join(r.Root(), "docs", "notes.txt"),
	))

	status, err := r.Status()
	require.NoError(t, err)
	require.Len(t, status.Changes, 1)
	require.Equal(t, worktree.StatusRenamed, status.Changes[0].Status)
	nodeID := status.Changes[0].NodeID

	_, err = r.Commit("move notes")
	require.NoError(t, err)

	history, err := r.History(nodeID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "notes.txt", history[0].Path)
	assert.Equal(t, "docs/notes.txt", history[1].Path)
}

func TestBranchAndCheckout(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "a.txt", "base\n")
	require.NoError(t, r.Add("a.txt"))
	_, err := r.Commit("base")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("feature"))
	assert.ErrorIs(t, r.CreateBranch("feature"), ErrBranchExists)
	require.NoError(t, r.Checkout("feature"))

	writeWorkFile(t, r, "a.txt", "feature work\n")
	_, err = r.Commit("feature change")
	require.NoError(t, err)

	require.NoError(t, r.Checkout(DefaultBranch))
	assert.Equal(t, "base\n", readWorkFile(t, r, "a.txt"))

	require.NoError(t, r.Checkout("feature"))
	assert.Equal(t, "feature work\n", readWorkFile(t, r, "a.txt"))

	branches, err := r.Branches()
	require.NoError(t, err)
	assert.Len(t, branches, 2)
}

func TestCleanMerge(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "shared.txt", "shared\n")
	require.NoError(t, r.Add("shared.txt"))
	_, err := r.Commit("base")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("feature"))
	require.NoError(t, r.Checkout("feature"))
	writeWorkFile(t, r, "feature.txt", "from feature\n")
	require.NoError(t, r.Add("feature.txt"))
	_, err = r.Commit("feature adds file")
	require.NoError(t, err)

	require.NoError(t, r.Checkout(DefaultBranch))
	writeWorkFile(t, r, "shared.txt", "shared, edited on main\n")
	_, err = r.Commit("main edits shared")
	require.NoError(t, err)

	outcome, err := r.Merge("feature")
	require.NoError(t, err)
	require.True(t, outcome.Clean())
	assert.False(t, outcome.Oid.IsZero())

	assert.Equal(t, "from feature\n", readWorkFile(t, r, "feature.txt"))
	assert.Equal(t, "shared, edited on main\n", readWorkFile(t, r, "shared.txt"))

	log, err := r.Log(1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Len(t, log[0].Parents, 2)
}

func TestConflictedMergeResolveCommit(t *testing.T) {
	r := newRepo(t)
	writeWorkFile(t, r, "a.txt", "base\n")
	require.NoError(t, r.Add("a.txt"))
	_, err := r.Commit("base")
	require.NoError(t, err)

	require.NoError(t, r.CreateBranch("feature"))
	require.NoError(t, r.Checkout("feature"))
	writeWorkFile(t, r, "a.txt", "feature version\n")
	_, err = r.Commit("feature edit")
	require.NoError(t, err)

	require.NoError(t, r.Checkout(DefaultBranch))
	writeWorkFile(t, r, "a.txt", "main version\n")
	_, err = r.Commit("main edit")
	require.NoError(t, err)

	outcome, err := r.Merge("feature")
	require.NoError(t, err)
	require.Len(t, outcome.Conflicts, 1)
	assert.Equal(t, merge.ConflictEditEdit, outcome.Conflicts[0].Kind)
	assert.True(t, outcome.Oid.IsZero())

	// The pending merge blocks checkout and a second merge.
	assert.ErrorIs(t, r.Checkout("feature"), ErrMergePending)
	_, err = r.Merge("feature")
	assert.ErrorIs(t, err, ErrMergePending)

	// Committing with an open conflict fails.
	_, err = r.Commit("too early")
	assert.ErrorIs(t, err, ErrUnresolved)

	conflicts, err := r.Conflicts()
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	id := conflicts[0].NodeID

	require.NoError(t, r.Resolve(id, []byte("merged version\n")))
	oid, err := r.Commit("merge feature")
	require.NoError(t, err)
	assert.False(t, oid.IsZero())

	assert.Equal(t, "merged version\n", readWorkFile(t, r, "a.txt"))

	// Merge state is gone.
	_, err = r.Conflicts()
	assert.ErrorIs(t, err, ErrNoMergePending)

	log, err := r.Log(1)
	require.NoError(t, err)
	assert.Len(t, log[0].Parents, 2)
}

func TestSyncImportsFromGit(t *testing.T) {
	r := newRepo(t)
	// go-git's default branch is master; follow it for the sync pair.
	require.NoError(t, r.CreateBranch("master"))
	require.NoError(t, r.Checkout("master"))

	fs := memfs.New()
	gitRepo, err := git.Init(memory.NewStorage(), fs)
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(fs, "imported.txt", []byte("from git\n"), 0o644))
	wt, err := gitRepo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("imported.txt")
	require.NoError(t, err)
	sig := &object.Signature{Name: "Git Author", Email: "git@example.com"}
	_, err = wt.Commit("git work", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	report, err := r.Sync(gitRepo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 0, report.Exported)
	assert.Equal(t, "from git\n", readWorkFile(t, r, "imported.txt"))

	// A second sync finds nothing new.
	report, err = r.Sync(gitRepo)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Imported)
	assert.Equal(t, 0, report.Exported)

	log, err := r.Log(0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, "git work", log[0].Message)
}

func TestSyncExportsToGit(t *testing.T) {
	r := newRepo(t)
	require.NoError(t, r.CreateBranch("master"))
	require.NoError(t, r.Checkout("master"))

	writeWorkFile(t, r, "native.txt", "born in wind\n")
	require.NoError(t, r.Add("native.txt"))
	_, err := r.Commit("native work")
	require.NoError(t, err)

	gitRepo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err)

	report, err := r.Sync(gitRepo)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Exported)
	require.False(t, report.GitHead.IsZero())

	commit, err := gitRepo.CommitObject(report.GitHead)
	require.NoError(t, err)
	assert.Equal(t, "native work", commit.Message)
	file, err := commit.File("native.txt")
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	assert.Equal(t, "born in wind\n", content)
}
