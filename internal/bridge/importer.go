// Package bridge converts history between the native changeset graph and a
// Git repository, in both directions, through the mapping database. Both
// directions are idempotent: an already-mapped commit or changeset is skipped,
// so interrupted runs are safe to retry.
package bridge

import (
	"fmt"
	"io"
	"io/ioutil"
	"sort"

	"github.com/sirupsen/logrus"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/utils/merkletrie"

	"github.com/windvcs/wind/internal/mapdb"
	"github.com/windvcs/wind/internal/objectstore"
	"github.com/windvcs/wind/internal/worktree"
	"github.com/windvcs/wind/pkg/model"
)

// Importer replays Git commits as changesets. Commits are processed
// parent-first so every parent changeset exists before its children refer to
// it. NodeIDs are assigned on first sight of a path and then follow the file
// through renames, exactly as the working copy scanner does, because both use
// the same rename heuristic.
type Importer struct {
	repo  *git.Repository
	store *objectstore.Store
	db    *mapdb.DB
	log   *logrus.Logger
}

func NewImporter(repo *git.Repository, store *objectstore.Store, db *mapdb.DB, logger *logrus.Logger) *Importer {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Importer{repo: repo, store: store, db: db, log: logger}
}

// ImportBranch imports every commit reachable from head that has no mapping
// row yet. Returns the number of newly imported commits.
func (im *Importer) ImportBranch(head plumbing.Hash) (int, error) {
	order, err := im.topoOrder(head)
	if err != nil {
		return 0, err
	}
	imported := 0
	for _, h := range order {
		fresh, err := im.importCommit(h)
		if err != nil {
			return imported, fmt.Errorf("import commit %s: %w", h, err)
		}
		if fresh {
			imported++
		}
	}
	return imported, nil
}

// topoOrder returns all unmapped commits reachable from head, parents before
// children. Mapped commits terminate the walk: everything behind them was
// imported by an earlier run.
func (im *Importer) topoOrder(head plumbing.Hash) ([]plumbing.Hash, error) {
	var order []plumbing.Hash
	state := map[plumbing.Hash]int{} // 1 visiting, 2 done
	var visit func(h plumbing.Hash) error
	visit = func(h plumbing.Hash) error {
		switch state[h] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("commit graph cycle at %s", h)
		}
		if im.mapped(h) {
			state[h] = 2
			return nil
		}
		state[h] = 1
		commit, err := im.repo.CommitObject(h)
		if err != nil {
			return err
		}
		for _, p := range commit.ParentHashes {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[h] = 2
		order = append(order, h)
		return nil
	}
	if err := visit(head); err != nil {
		return nil, err
	}
	return order, nil
}

func (im *Importer) mapped(h plumbing.Hash) bool {
	mapped := false
	_ = im.db.View(func(t *mapdb.Txn) error {
		mapped = t.HasSha(h.String())
		return nil
	})
	return mapped
}

// gitOp is one path-level operation extracted from a commit diff, after
// rename pairing.
type gitOp struct {
	kind    model.ChangeKind
	path    string
	oldPath string
	content []byte
	mode    uint32
}

// importCommit converts one commit into a changeset plus its mapping rows.
// Returns false when the commit was already mapped.
func (im *Importer) importCommit(h plumbing.Hash) (bool, error) {
	if im.mapped(h) {
		return false, nil
	}
	commit, err := im.repo.CommitObject(h)
	if err != nil {
		return false, err
	}

	parentOids, parentManifests, err := im.parentState(commit)
	if err != nil {
		return false, err
	}

	ops, err := im.commitOps(commit)
	if err != nil {
		return false, err
	}

	var manifest model.Manifest
	if len(parentManifests) > 0 {
		manifest = parentManifests[0].Clone()
	}
	// Merge parents beyond the first. The diff is taken against the first
	// parent only, so a file merged in from a side branch surfaces as an
	// insert even though it already carries a NodeID.
	var mergeParents []model.Manifest
	if len(parentManifests) > 1 {
		mergeParents = parentManifests[1:]
	}
	cs := model.Changeset{
		Parents:   parentOids,
		Author:    fmt.Sprintf("%s <%s>", commit.Author.Name, commit.Author.Email),
		Timestamp: commit.Author.When.Unix(),
		Message:   commit.Message,
	}

	type nodeUpdate struct {
		id      model.NodeID
		path    string
		deleted bool
		history bool
	}
	var updates []nodeUpdate

	for _, op := range ops {
		switch op.kind {
		case model.ChangeAdd:
			blobOid, err := im.store.StoreFileContent(op.content)
			if err != nil {
				return false, err
			}
			// A NodeID is assigned exactly once per file lifetime. A path
			// already present in another parent keeps the id it received when
			// that branch was imported.
			id, known := nodeAtPath(mergeParents, op.path)
			if !known {
				id = model.NewNodeID()
			}
			manifest.Put(model.ManifestEntry{NodeID: id, Path: op.path, Blob: blobOid, Mode: op.mode})
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: id, Change: model.FileChange{
				Kind: model.ChangeAdd, Path: op.path, Blob: blobOid, Mode: op.mode,
			}})
			updates = append(updates, nodeUpdate{id: id, path: op.path, history: !known})

		case model.ChangeEdit:
			entry, ok := manifest.GetPath(op.path)
			if !ok {
				return false, fmt.Errorf("edit of unknown path %q in %s", op.path, h)
			}
			blobOid, err := im.store.StoreFileContent(op.content)
			if err != nil {
				return false, err
			}
			entry.Blob = blobOid
			entry.Mode = op.mode
			manifest.Put(entry)
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: entry.NodeID, Change: model.FileChange{
				Kind: model.ChangeEdit, Path: op.path, Blob: blobOid, Mode: op.mode,
			}})

		case model.ChangeDelete:
			entry, ok := manifest.GetPath(op.path)
			if !ok {
				return false, fmt.Errorf("delete of unknown path %q in %s", op.path, h)
			}
			manifest.Delete(entry.NodeID)
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: entry.NodeID, Change: model.FileChange{
				Kind: model.ChangeDelete, Path: op.path,
			}})
			updates = append(updates, nodeUpdate{id: entry.NodeID, deleted: true})

		case model.ChangeRename:
			entry, ok := manifest.GetPath(op.oldPath)
			if !ok {
				return false, fmt.Errorf("rename of unknown path %q in %s", op.oldPath, h)
			}
			blobOid, err := im.store.StoreFileContent(op.content)
			if err != nil {
				return false, err
			}
			entry.Path = op.path
			entry.Blob = blobOid
			entry.Mode = op.mode
			manifest.Put(entry)
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: entry.NodeID, Change: model.FileChange{
				Kind: model.ChangeRename, Path: op.path, OldPath: op.oldPath, Blob: blobOid, Mode: op.mode,
			}})
			updates = append(updates, nodeUpdate{id: entry.NodeID, path: op.path, history: true})
		}
	}

	manifestData, manifestOid, err := model.EncodeManifest(&manifest)
	if err != nil {
		return false, err
	}
	if _, err := im.store.Put(model.KindManifest, manifestData); err != nil {
		return false, err
	}
	cs.Manifest = manifestOid
	csData, csOid, err := model.EncodeChangeset(&cs)
	if err != nil {
		return false, err
	}
	if _, err := im.store.Put(model.KindChangeset, csData); err != nil {
		return false, err
	}

	// All mapping rows for this commit commit together. A crash before this
	// point leaves only unreferenced objects in the store.
	err = im.db.Step(func(t *mapdb.Txn) error {
		if err := t.InsertShaMapping(h.String(), csOid); err != nil {
			return err
		}
		for _, u := range updates {
			if u.deleted {
				if err := t.DeleteNodePath(u.id); err != nil {
					return err
				}
				continue
			}
			if err := t.SetNodePath(u.id, u.path); err != nil {
				return err
			}
			if u.history {
				ev := mapdb.PathEvent{Path: u.path, GitSHA: h.String(), Timestamp: commit.Author.When.Unix()}
				if err := t.AppendHistory(u.id, ev); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	im.log.WithFields(logrus.Fields{
		"sha":     h.String(),
		"oid":     csOid.String(),
		"changes": len(cs.Changes),
	}).Debug("imported commit")
	return true, nil
}

// parentState resolves the mapped changeset oids of all parents and loads
// every parent's manifest, first parent first. A root commit gets both
// slices empty.
func (im *Importer) parentState(commit *object.Commit) ([]model.Oid, []model.Manifest, error) {
	var parentOids []model.Oid
	var manifests []model.Manifest
	for _, p := range commit.ParentHashes {
		oid, err := im.db.WindOid(p.String())
		if err != nil {
			return nil, nil, fmt.Errorf("parent %s not imported: %w", p, err)
		}
		parentOids = append(parentOids, oid)
		_, csData, err := im.store.Get(oid)
		if err != nil {
			return nil, nil, err
		}
		parentCS, err := model.DecodeChangeset(csData)
		if err != nil {
			return nil, nil, err
		}
		_, mData, err := im.store.Get(parentCS.Manifest)
		if err != nil {
			return nil, nil, err
		}
		m, err := model.DecodeManifest(mData)
		if err != nil {
			return nil, nil, err
		}
		manifests = append(manifests, *m)
	}
	return parentOids, manifests, nil
}

// nodeAtPath finds an existing NodeID for path in any of the given
// manifests, in order.
func nodeAtPath(manifests []model.Manifest, path string) (model.NodeID, bool) {
	for i := range manifests {
		if e, ok := manifests[i].GetPath(path); ok {
			return e.NodeID, true
		}
	}
	return model.NodeID{}, false
}

// commitOps extracts path operations from a commit by diffing against its
// first parent, then pairs up deletions and insertions through the rename
// heuristic shared with the working copy scanner.
func (im *Importer) commitOps(commit *object.Commit) ([]gitOp, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, err
	}

	var inserts, deletes []worktree.Candidate
	modes := map[string]uint32{}
	var ops []gitOp

	if commit.NumParents() == 0 {
		walker := object.NewTreeWalker(tree, true, nil)
		defer walker.Close()
		for {
			name, te, err := walker.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			if !te.Mode.IsFile() || te.Mode == filemode.Symlink {
				continue
			}
			content, err := im.readBlob(te.Hash)
			if err != nil {
				return nil, err
			}
			inserts = append(inserts, worktree.Candidate{
				Path: name, Digest: model.ComputeOid(content), Content: content,
			})
			modes[name] = gitMode(te.Mode)
		}
	} else {
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, err
		}
		parentTree, err := parent.Tree()
		if err != nil {
			return nil, err
		}
		changes, err := object.DiffTree(parentTree, tree)
		if err != nil {
			return nil, err
		}
		for _, change := range changes {
			action, err := change.Action()
			if err != nil {
				return nil, err
			}
			switch action {
			case merkletrie.Insert:
				te := change.To.TreeEntry
				if !te.Mode.IsFile() || te.Mode == filemode.Symlink {
					continue
				}
				content, err := im.readBlob(te.Hash)
				if err != nil {
					return nil, err
				}
				inserts = append(inserts, worktree.Candidate{
					Path: change.To.Name, Digest: model.ComputeOid(content), Content: content,
				})
				modes[change.To.Name] = gitMode(te.Mode)
			case merkletrie.Delete:
				te := change.From.TreeEntry
				if !te.Mode.IsFile() || te.Mode == filemode.Symlink {
					continue
				}
				content, err := im.readBlob(te.Hash)
				if err != nil {
					return nil, err
				}
				deletes = append(deletes, worktree.Candidate{
					Path: change.From.Name, Digest: model.ComputeOid(content), Content: content,
				})
			case merkletrie.Modify:
				te := change.To.TreeEntry
				if !te.Mode.IsFile() || te.Mode == filemode.Symlink {
					continue
				}
				content, err := im.readBlob(te.Hash)
				if err != nil {
					return nil, err
				}
				ops = append(ops, gitOp{
					kind: model.ChangeEdit, path: change.To.Name,
					content: content, mode: gitMode(te.Mode),
				})
			}
		}
	}

	pairs, unmatchedDeletes, unmatchedInserts := worktree.MatchRenames(deletes, inserts, worktree.RenameThreshold)
	for _, p := range pairs {
		from := deletes[p.Removed]
		to := inserts[p.Added]
		ops = append(ops, gitOp{
			kind: model.ChangeRename, path: to.Path, oldPath: from.Path,
			content: to.Content, mode: modes[to.Path],
		})
	}
	for _, i := range unmatchedDeletes {
		ops = append(ops, gitOp{kind: model.ChangeDelete, path: deletes[i].Path})
	}
	for _, i := range unmatchedInserts {
		ops = append(ops, gitOp{
			kind: model.ChangeAdd, path: inserts[i].Path,
			content: inserts[i].Content, mode: modes[inserts[i].Path],
		})
	}

	// Deterministic op order keeps changeset encoding independent of diff
	// iteration order.
	sort.Slice(ops, func(i, j int) bool { return ops[i].path < ops[j].path })
	return ops, nil
}

func (im *Importer) readBlob(h plumbing.Hash) ([]byte, error) {
	blob, err := im.repo.BlobObject(h)
	if err != nil {
		return nil, err
	}
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

func gitMode(m filemode.FileMode) uint32 {
	if m == filemode.Executable {
		return 0o755
	}
	return 0o644
}
