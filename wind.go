// Package wind is a version control engine that layers a content-addressed,
// deduplicating object store and rename-aware three-way merging on top of a
// plain Git repository. File identity is a NodeID that survives renames;
// histories are kept in sync with Git through a persistent mapping database.
package wind

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"

	"github.com/windvcs/wind/internal/bridge"
	"github.com/windvcs/wind/internal/config"
	"github.com/windvcs/wind/internal/mapdb"
	"github.com/windvcs/wind/internal/merge"
	"github.com/windvcs/wind/internal/objectstore"
	"github.com/windvcs/wind/internal/refs"
	"github.com/windvcs/wind/internal/statuscache"
	"github.com/windvcs/wind/internal/worktree"
	"github.com/windvcs/wind/pkg/model"
)

const (
	stateDirName  = ".wind"
	mergeFileName = "MERGE"
	// DefaultBranch is the branch created by Init.
	DefaultBranch = "main"
)

var (
	ErrNothingToCommit = errors.New("wind: nothing to commit")
	ErrNotARepository  = errors.New("wind: not a repository")
	ErrAlreadyExists   = errors.New("wind: repository already exists")
	ErrMergePending    = errors.New("wind: merge in progress")
	ErrNoMergePending  = errors.New("wind: no merge in progress")
	ErrUnresolved      = errors.New("wind: unresolved conflicts remain")
	ErrBranchExists    = errors.New("wind: branch already exists")
)

// Config configures a repository handle.
type Config struct {
	// Root is the working copy directory.
	Root string
	// Author identifies commits, in "Name <email>" form.
	Author string
	// Logger is optional; nil gets a stderr logger at the configured level.
	Logger *logrus.Logger
}

// Repository is the main handle. All operations are synchronous; the handle
// is safe for use from one goroutine at a time.
type Repository struct {
	root     string
	stateDir string
	author   string
	tuning   config.Tuning
	log      *logrus.Logger

	store   *objectstore.Store
	db      *mapdb.DB
	index   *worktree.Index
	scanner *worktree.Scanner
	refs    *refs.Store
	cache   *statuscache.Cache

	closeOnce sync.Once
}

// LogEntry is one history line, newest first.
type LogEntry struct {
	Oid       model.Oid
	Parents   []model.Oid
	Author    string
	Timestamp time.Time
	Message   string
}

// MergeOutcome reports one merge. A clean merge carries the new changeset
// Oid; a conflicted one carries the conflicts and leaves the merge pending
// until every conflict is resolved and committed.
type MergeOutcome struct {
	Oid       model.Oid
	Conflicts []merge.Conflict
}

func (m *MergeOutcome) Clean() bool { return len(m.Conflicts) == 0 }

// pendingMerge is the on-disk state of a conflicted merge.
type pendingMerge struct {
	Parents  []model.Oid    `cbor:"1,keyasint"`
	Manifest model.Manifest `cbor:"2,keyasint"`
	Message  string         `cbor:"3,keyasint"`
}

// Init creates a new repository in conf.Root and opens it. The default
// branch exists but has no head until the first commit.
func Init(conf Config) (*Repository, error) {
	stateDir := filepath.Join(conf.Root, stateDirName)
	if _, err := os.Stat(stateDir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, conf.Root)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("wind: %w", err)
	}
	return Open(conf)
}

// Open opens an existing repository, or finishes an interrupted Init.
func Open(conf Config) (*Repository, error) {
	stateDir := filepath.Join(conf.Root, stateDirName)
	if _, err := os.Stat(stateDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotARepository, conf.Root)
	}
	tuning, err := config.Load(filepath.Join(stateDir, config.FileName))
	if err != nil {
		return nil, err
	}
	logger := conf.Logger
	if logger == nil {
		logger = logrus.New()
		if level, err := logrus.ParseLevel(tuning.LogLevel); err == nil {
			logger.SetLevel(level)
		}
	}
	author := conf.Author
	if author == "" {
		author = "wind <wind@localhost>"
	}

	store, err := objectstore.Open(objectstore.StoreConfig{
		Root:          filepath.Join(stateDir, "store"),
		MinimumFreeGB: tuning.MinimumFreeGB,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	db, err := mapdb.Open(filepath.Join(stateDir, "mapdb"), logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	index, err := worktree.OpenIndex(filepath.Join(stateDir, "index"), logger)
	if err != nil {
		db.Close()
		store.Close()
		return nil, err
	}
	refStore, err := refs.Open(filepath.Join(stateDir, "refs"))
	if err != nil {
		index.Close()
		db.Close()
		store.Close()
		return nil, err
	}

	r := &Repository{
		root:     conf.Root,
		stateDir: stateDir,
		author:   author,
		tuning:   tuning,
		log:      logger,
		store:    store,
		db:       db,
		index:    index,
		scanner:  worktree.NewScanner(conf.Root, index, store, logger),
		refs:     refStore,
		cache:    statuscache.New(tuning.StatusCacheTTL()),
	}
	if _, err := refStore.Current(); err != nil {
		if err := refStore.InitCurrent(DefaultBranch); err != nil {
			r.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close releases all resources. Idempotent.
func (r *Repository) Close() error {
	var closeErr error
	r.closeOnce.Do(func() {
		if err := r.index.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
		if err := r.db.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
		r.store.Close()
	})
	return closeErr
}

// Root returns the working copy directory.
func (r *Repository) Root() string { return r.root }

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch() (string, error) {
	return r.refs.Current()
}

// Branches lists all branches with their heads.
func (r *Repository) Branches() ([]model.Branch, error) {
	return r.refs.List()
}

// Head returns the current branch head, or a zero Oid before the first
// commit.
func (r *Repository) Head() (model.Oid, error) {
	name, err := r.refs.Current()
	if err != nil {
		return model.Oid{}, err
	}
	head, err := r.refs.Branch(name)
	if errors.Is(err, refs.ErrNotFound) {
		return model.Oid{}, nil
	}
	return head, err
}

// Status reports the working copy state against the index, served from the
// cache when fresh.
func (r *Repository) Status() (*worktree.Status, error) {
	return r.cache.Get(r.scanner.Status)
}

// Add stages paths (files or directories) for the next commit. Content is
// chunked and stored immediately.
func (r *Repository) Add(paths ...string) error {
	for _, p := range paths {
		if err := r.scanner.AddPath(p); err != nil {
			return err
		}
	}
	r.cache.Invalidate()
	return nil
}

// Commit records the staged and changed tracked files as a new changeset and
// advances the current branch. When a conflicted merge is pending, Commit
// finalizes it instead; every conflict must be resolved first.
func (r *Repository) Commit(message string) (model.Oid, error) {
	if pending, err := r.loadPendingMerge(); err == nil {
		return r.commitMerge(pending, message)
	} else if !errors.Is(err, ErrNoMergePending) {
		return model.Oid{}, err
	}

	status, err := r.scanner.Status()
	if err != nil {
		return model.Oid{}, err
	}

	head, err := r.Head()
	if err != nil {
		return model.Oid{}, err
	}
	manifest, err := r.manifestAt(head)
	if err != nil {
		return model.Oid{}, err
	}

	cs := model.Changeset{
		Author:    r.author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	}
	if !head.IsZero() {
		cs.Parents = []model.Oid{head}
	}

	type pathUpdate struct {
		id      model.NodeID
		path    string
		deleted bool
		history bool
	}
	var updates []pathUpdate

	for _, change := range status.Changes {
		switch change.Status {
		case worktree.StatusUntracked:
			continue

		case worktree.StatusAdded:
			// Content is re-stored from disk so edits after staging commit
			// what the file actually holds. Dedup makes the unchanged case
			// free.
			blob, entry, err := r.storeWorkingFile(change.Path)
			if err != nil {
				return model.Oid{}, err
			}
			manifest.Put(model.ManifestEntry{
				NodeID: change.NodeID, Path: change.Path, Blob: blob, Mode: entry.Mode,
			})
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: change.NodeID, Change: model.FileChange{
				Kind: model.ChangeAdd, Path: change.Path, Blob: blob, Mode: entry.Mode,
			}})
			updates = append(updates, pathUpdate{id: change.NodeID, path: change.Path, history: true})
			if err := r.refreshIndexEntry(change.NodeID, change.Path, blob); err != nil {
				return model.Oid{}, err
			}

		case worktree.StatusModified:
			blob, entry, err := r.storeWorkingFile(change.Path)
			if err != nil {
				return model.Oid{}, err
			}
			manifest.Put(model.ManifestEntry{
				NodeID: change.NodeID, Path: change.Path, Blob: blob, Mode: entry.Mode,
			})
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: change.NodeID, Change: model.FileChange{
				Kind: model.ChangeEdit, Path: change.Path, Blob: blob, Mode: entry.Mode,
			}})
			if err := r.refreshIndexEntry(change.NodeID, change.Path, blob); err != nil {
				return model.Oid{}, err
			}

		case worktree.StatusRenamed:
			blob, entry, err := r.storeWorkingFile(change.Path)
			if err != nil {
				return model.Oid{}, err
			}
			manifest.Put(model.ManifestEntry{
				NodeID: change.NodeID, Path: change.Path, Blob: blob, Mode: entry.Mode,
			})
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: change.NodeID, Change: model.FileChange{
				Kind: model.ChangeRename, Path: change.Path, OldPath: change.OldPath, Blob: blob, Mode: entry.Mode,
			}})
			updates = append(updates, pathUpdate{id: change.NodeID, path: change.Path, history: true})
			if err := r.refreshIndexEntry(change.NodeID, change.Path, blob); err != nil {
				return model.Oid{}, err
			}

		case worktree.StatusDeleted:
			manifest.Delete(change.NodeID)
			cs.Changes = append(cs.Changes, model.ChangeRecord{NodeID: change.NodeID, Change: model.FileChange{
				Kind: model.ChangeDelete, Path: change.Path,
			}})
			updates = append(updates, pathUpdate{id: change.NodeID, deleted: true})
			if err := r.index.Remove(change.Path); err != nil && !errors.Is(err, worktree.ErrNotFound) {
				return model.Oid{}, err
			}
		}
	}
	if len(cs.Changes) == 0 {
		return model.Oid{}, ErrNothingToCommit
	}

	csOid, err := r.writeSnapshot(&manifest, &cs)
	if err != nil {
		return model.Oid{}, err
	}

	err = r.db.Step(func(t *mapdb.Txn) error {
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
				ev := mapdb.PathEvent{Path: u.path, Timestamp: cs.Timestamp}
				if err := t.AppendHistory(u.id, ev); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return model.Oid{}, err
	}

	name, err := r.refs.Current()
	if err != nil {
		return model.Oid{}, err
	}
	if err := r.refs.SetBranch(name, csOid); err != nil {
		return model.Oid{}, err
	}
	r.cache.Invalidate()
	r.log.WithFields(logrus.Fields{
		"oid":     csOid.String(),
		"branch":  name,
		"changes": len(cs.Changes),
	}).Info("committed changeset")
	return csOid, nil
}

// Log returns history from the current head, newest first, following first
// parents. limit <= 0 means unlimited.
func (r *Repository) Log(limit int) ([]LogEntry, error) {
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	var entries []LogEntry
	for !head.IsZero() {
		if limit > 0 && len(entries) >= limit {
			break
		}
		cs, err := r.changesetAt(head)
		if err != nil {
			return nil, err
		}
		entries = append(entries, LogEntry{
			Oid:       head,
			Parents:   cs.Parents,
			Author:    cs.Author,
			Timestamp: time.Unix(cs.Timestamp, 0).UTC(),
			Message:   cs.Message,
		})
		if len(cs.Parents) == 0 {
			break
		}
		head = cs.Parents[0]
	}
	return entries, nil
}

// CreateBranch creates a branch at the current head.
func (r *Repository) CreateBranch(name string) error {
	if _, err := r.refs.Branch(name); err == nil {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	head, err := r.Head()
	if err != nil {
		return err
	}
	if err := r.refs.SetBranch(name, head); err != nil {
		return err
	}
	return nil
}

// Checkout switches to branch and rewrites the working copy to its head
// manifest. A pending merge blocks checkout.
func (r *Repository) Checkout(branch string) error {
	if _, err := r.loadPendingMerge(); err == nil {
		return ErrMergePending
	}
	head, err := r.refs.Branch(branch)
	if err != nil {
		return err
	}
	manifest, err := r.manifestAt(head)
	if err != nil {
		return err
	}
	if err := r.materialize(&manifest); err != nil {
		return err
	}
	if err := r.refs.SetCurrent(branch); err != nil {
		return err
	}
	r.cache.Invalidate()
	return nil
}

// Merge merges branch other into the current branch. A clean merge commits
// immediately and updates the working copy. A conflicted merge persists its
// state; resolve each conflict with Resolve, then Commit.
func (r *Repository) Merge(other string) (*MergeOutcome, error) {
	if _, err := r.loadPendingMerge(); err == nil {
		return nil, ErrMergePending
	}
	current, err := r.refs.Current()
	if err != nil {
		return nil, err
	}
	ours, err := r.refs.Branch(current)
	if err != nil {
		return nil, err
	}
	theirs, err := r.refs.Branch(other)
	if err != nil {
		return nil, err
	}

	base, err := merge.Base(storeLoader{r.store}, ours, theirs)
	if err != nil {
		return nil, err
	}
	baseManifest, err := r.manifestAt(base)
	if err != nil {
		return nil, err
	}
	oursManifest, err := r.manifestAt(ours)
	if err != nil {
		return nil, err
	}
	theirsManifest, err := r.manifestAt(theirs)
	if err != nil {
		return nil, err
	}

	result := merge.Manifests(&baseManifest, &oursManifest, &theirsManifest)
	message := fmt.Sprintf("Merge branch '%s' into %s", other, current)
	pending := &pendingMerge{
		Parents:  []model.Oid{ours, theirs},
		Manifest: result.Manifest,
		Message:  message,
	}

	if !result.Clean() {
		if err := r.savePendingMerge(pending); err != nil {
			return nil, err
		}
		r.log.WithFields(logrus.Fields{
			"branch":    other,
			"conflicts": len(result.Conflicts),
		}).Warn("merge produced conflicts")
		return &MergeOutcome{Conflicts: result.Conflicts}, nil
	}

	oid, err := r.commitMerge(pending, message)
	if err != nil {
		return nil, err
	}
	return &MergeOutcome{Oid: oid}, nil
}

// Resolve supplies the final content for one conflicted NodeID of the
// pending merge.
func (r *Repository) Resolve(id model.NodeID, content []byte) error {
	pending, err := r.loadPendingMerge()
	if err != nil {
		return err
	}
	blob, err := r.store.StoreFileContent(content)
	if err != nil {
		return err
	}
	if err := merge.MarkResolved(&pending.Manifest, id, blob); err != nil {
		return err
	}
	return r.savePendingMerge(pending)
}

// Conflicts lists the still-unresolved entries of the pending merge.
func (r *Repository) Conflicts() ([]model.ManifestEntry, error) {
	pending, err := r.loadPendingMerge()
	if err != nil {
		return nil, err
	}
	var out []model.ManifestEntry
	for _, e := range pending.Manifest.Entries {
		if e.Unresolved {
			out = append(out, e)
		}
	}
	return out, nil
}

// Sync reconciles the current branch with a Git repository, importing or
// exporting whichever side has new history.
func (r *Repository) Sync(repo *git.Repository) (*bridge.Report, error) {
	current, err := r.refs.Current()
	if err != nil {
		return nil, err
	}
	windHead, err := r.Head()
	if err != nil {
		return nil, err
	}
	var gitHead plumbing.Hash
	if ref, err := repo.Reference(plumbing.NewBranchReferenceName(current), true); err == nil {
		gitHead = ref.Hash()
	}

	co := bridge.NewCoordinator(repo, r.store, r.db, r.log)
	report, err := co.SyncBranch(current, gitHead, windHead)
	if err != nil {
		return report, err
	}

	if report.Imported > 0 {
		if err := r.refs.SetBranch(current, report.WindHead); err != nil {
			return report, err
		}
		manifest, err := r.manifestAt(report.WindHead)
		if err != nil {
			return report, err
		}
		if err := r.materialize(&manifest); err != nil {
			return report, err
		}
		r.cache.Invalidate()
	}
	return report, nil
}

// SyncPath opens the Git repository at path and syncs against it.
func (r *Repository) SyncPath(path string) (*bridge.Report, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("wind: open git repository %s: %w", path, err)
	}
	return r.Sync(repo)
}

// PackObjects consolidates small loose objects into sealed packs. Returns
// the number of objects packed.
func (r *Repository) PackObjects() (int, error) {
	return r.store.PackLooseObjects(r.tuning.PackThresholdBytes)
}

// History returns the recorded path history of one NodeID, oldest first.
func (r *Repository) History(id model.NodeID) ([]mapdb.PathEvent, error) {
	return r.db.History(id)
}

// Diff renders a unified diff between the stored head content and the
// working copy content of path. Binary files get a placeholder body.
func (r *Repository) Diff(path string) (string, error) {
	entry, err := r.index.Get(path)
	if err != nil {
		return "", err
	}
	old, err := r.store.ReadFileContent(entry.Blob)
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return "", err
	}
	current, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(path)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	return worktree.UnifiedDiff("a/"+path, "b/"+path, old, current)
}

// commitMerge writes the merge changeset from pending state, advances the
// branch, and rewrites the working copy to the merged manifest.
func (r *Repository) commitMerge(pending *pendingMerge, message string) (model.Oid, error) {
	for _, e := range pending.Manifest.Entries {
		if e.Unresolved {
			return model.Oid{}, fmt.Errorf("%w: %s", ErrUnresolved, e.Path)
		}
	}
	if message == "" {
		message = pending.Message
	}
	cs := model.Changeset{
		Parents:   pending.Parents,
		Author:    r.author,
		Timestamp: time.Now().Unix(),
		Message:   message,
	}
	manifest := pending.Manifest
	csOid, err := r.writeSnapshot(&manifest, &cs)
	if err != nil {
		return model.Oid{}, err
	}
	name, err := r.refs.Current()
	if err != nil {
		return model.Oid{}, err
	}
	if err := r.refs.SetBranch(name, csOid); err != nil {
		return model.Oid{}, err
	}
	if err := r.materialize(&manifest); err != nil {
		return model.Oid{}, err
	}
	if err := r.clearPendingMerge(); err != nil {
		return model.Oid{}, err
	}
	r.cache.Invalidate()
	r.log.WithFields(logrus.Fields{"oid": csOid.String(), "branch": name}).Info("merge committed")
	return csOid, nil
}

// writeSnapshot stores the manifest and its changeset, returning the
// changeset Oid.
func (r *Repository) writeSnapshot(manifest *model.Manifest, cs *model.Changeset) (model.Oid, error) {
	mData, mOid, err := model.EncodeManifest(manifest)
	if err != nil {
		return model.Oid{}, err
	}
	if _, err := r.store.Put(model.KindManifest, mData); err != nil {
		return model.Oid{}, err
	}
	cs.Manifest = mOid
	csData, csOid, err := model.EncodeChangeset(cs)
	if err != nil {
		return model.Oid{}, err
	}
	if _, err := r.store.Put(model.KindChangeset, csData); err != nil {
		return model.Oid{}, err
	}
	return csOid, nil
}

// materialize rewrites the working copy and index to match the manifest.
// Tracked files not in the manifest are removed; untracked files are left
// alone.
func (r *Repository) materialize(manifest *model.Manifest) error {
	tracked, err := r.index.List()
	if err != nil {
		return err
	}
	for _, e := range tracked {
		if _, ok := manifest.Get(e.NodeID); ok {
			continue
		}
		abs := filepath.Join(r.root, filepath.FromSlash(e.Path))
		if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("wind: %w", err)
		}
	}
	if err := r.index.Clear(); err != nil {
		return err
	}
	for _, e := range manifest.Entries {
		content, err := r.store.ReadFileContent(e.Blob)
		if err != nil {
			return fmt.Errorf("wind: materialize %s: %w", e.Path, err)
		}
		abs := filepath.Join(r.root, filepath.FromSlash(e.Path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("wind: %w", err)
		}
		mode := os.FileMode(0o644)
		if e.Mode&0o111 != 0 {
			mode = 0o755
		}
		if err := os.WriteFile(abs, content, mode); err != nil {
			return fmt.Errorf("wind: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("wind: %w", err)
		}
		err = r.index.Put(worktree.Entry{
			NodeID: e.NodeID,
			Path:   e.Path,
			Digest: model.ComputeOid(content),
			Blob:   e.Blob,
			MTime:  info.ModTime().Unix(),
			Size:   info.Size(),
			Mode:   e.Mode,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// storeWorkingFile chunks and stores the current content of a tracked path
// and returns its blob Oid along with the index entry.
func (r *Repository) storeWorkingFile(path string) (model.Oid, worktree.Entry, error) {
	entry, err := r.index.Get(path)
	if err != nil && !errors.Is(err, worktree.ErrNotFound) {
		return model.Oid{}, worktree.Entry{}, err
	}
	if errors.Is(err, worktree.ErrNotFound) {
		// Renamed file: the entry still sits under its old path. The caller
		// supplies NodeID; mode comes from disk below.
		entry = worktree.Entry{Path: path, Mode: 0o644}
	}
	abs := filepath.Join(r.root, filepath.FromSlash(path))
	content, err := os.ReadFile(abs)
	if err != nil {
		return model.Oid{}, worktree.Entry{}, fmt.Errorf("wind: %w", err)
	}
	blob, err := r.store.StoreFileContent(content)
	if err != nil {
		return model.Oid{}, worktree.Entry{}, err
	}
	if info, err := os.Stat(abs); err == nil && info.Mode()&0o111 != 0 {
		entry.Mode = 0o755
	} else if entry.Mode == 0 {
		entry.Mode = 0o644
	}
	return blob, entry, nil
}

// refreshIndexEntry records the committed state of one path in the index.
func (r *Repository) refreshIndexEntry(id model.NodeID, path string, blob model.Oid) error {
	abs := filepath.Join(r.root, filepath.FromSlash(path))
	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("wind: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("wind: %w", err)
	}
	mode := uint32(0o644)
	if info.Mode()&0o111 != 0 {
		mode = 0o755
	}
	return r.index.Put(worktree.Entry{
		NodeID: id,
		Path:   path,
		Digest: model.ComputeOid(content),
		Blob:   blob,
		MTime:  info.ModTime().Unix(),
		Size:   info.Size(),
		Mode:   mode,
	})
}

func (r *Repository) manifestAt(head model.Oid) (model.Manifest, error) {
	if head.IsZero() {
		return model.Manifest{}, nil
	}
	cs, err := r.changesetAt(head)
	if err != nil {
		return model.Manifest{}, err
	}
	kind, data, err := r.store.Get(cs.Manifest)
	if err != nil {
		return model.Manifest{}, err
	}
	if kind != model.KindManifest {
		return model.Manifest{}, fmt.Errorf("wind: object %s is %s, not a manifest", cs.Manifest, kind)
	}
	m, err := model.DecodeManifest(data)
	if err != nil {
		return model.Manifest{}, err
	}
	return *m, nil
}

func (r *Repository) changesetAt(oid model.Oid) (*model.Changeset, error) {
	kind, data, err := r.store.Get(oid)
	if err != nil {
		return nil, err
	}
	if kind != model.KindChangeset {
		return nil, fmt.Errorf("wind: object %s is %s, not a changeset", oid, kind)
	}
	return model.DecodeChangeset(data)
}

func (r *Repository) mergeFilePath() string {
	return filepath.Join(r.stateDir, mergeFileName)
}

func (r *Repository) loadPendingMerge() (*pendingMerge, error) {
	data, err := os.ReadFile(r.mergeFilePath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoMergePending
	}
	if err != nil {
		return nil, fmt.Errorf("wind: %w", err)
	}
	var pending pendingMerge
	if err := model.Decode(data, &pending); err != nil {
		return nil, fmt.Errorf("wind: corrupt merge state: %w", err)
	}
	return &pending, nil
}

func (r *Repository) savePendingMerge(pending *pendingMerge) error {
	data, err := model.Encode(pending)
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.mergeFilePath(), data, 0o644); err != nil {
		return fmt.Errorf("wind: %w", err)
	}
	return nil
}

func (r *Repository) clearPendingMerge() error {
	if err := os.Remove(r.mergeFilePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("wind: %w", err)
	}
	return nil
}

// storeLoader adapts the object store to the merge-base walk.
type storeLoader struct {
	store *objectstore.Store
}

func (l storeLoader) Changeset(oid model.Oid) (model.Changeset, error) {
	kind, data, err := l.store.Get(oid)
	if err != nil {
		return model.Changeset{}, err
	}
	if kind != model.KindChangeset {
		return model.Changeset{}, fmt.Errorf("wind: object %s is %s, not a changeset", oid, kind)
	}
	cs, err := model.DecodeChangeset(data)
	if err != nil {
		return model.Changeset{}, err
	}
	return *cs, nil
}
