package worktree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/internal/objectstore"
	"github.com/windvcs/wind/pkg/model"
)

// ScanEntry is one file found on disk.
type ScanEntry struct {
	Path   string
	Digest model.Oid
	Mode   uint32
	Size   int64
	MTime  int64
}

// FileStatus classifies one path in a status report.
type FileStatus uint8

const (
	StatusAdded FileStatus = iota + 1
	StatusModified
	StatusDeleted
	StatusRenamed
	StatusUntracked
)

func (fs FileStatus) String() string {
	switch fs {
	case StatusAdded:
		return "added"
	case StatusModified:
		return "modified"
	case StatusDeleted:
		return "deleted"
	case StatusRenamed:
		return "renamed"
	case StatusUntracked:
		return "untracked"
	default:
		return fmt.Sprintf("status(%d)", uint8(fs))
	}
}

// FileChange is one entry of a status report. OldPath is set only for
// renames.
type FileChange struct {
	Status  FileStatus
	Path    string
	OldPath string
	NodeID  model.NodeID
}

// Status is the full working-copy report, plain data for callers to render.
type Status struct {
	Changes []FileChange
}

// Clean reports whether the working copy matches the index exactly.
func (s *Status) Clean() bool {
	return len(s.Changes) == 0
}

// Scanner walks the working copy and diffs it against the NodeId index.
type Scanner struct {
	root  string
	index *Index
	store *objectstore.Store
	log   *logrus.Logger
}

// NewScanner builds a scanner rooted at root.
func NewScanner(root string, index *Index, store *objectstore.Store, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{root: root, index: index, store: store, log: logger}
}

// skipDirs are control directories never scanned.
var skipDirs = map[string]bool{".wind": true, ".git": true}

// Scan walks the tree and returns one entry per regular file, path-sorted.
// Files whose size and mtime match the index are not re-read; their recorded
// digest is trusted.
func (s *Scanner) Scan() ([]ScanEntry, error) {
	known := make(map[string]Entry)
	indexed, err := s.index.List()
	if err != nil {
		return nil, err
	}
	for _, e := range indexed {
		known[e.Path] = e
	}

	var entries []ScanEntry
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		mtime := info.ModTime().Unix()
		size := info.Size()

		entry := ScanEntry{
			Path:  rel,
			Mode:  uint32(info.Mode().Perm()),
			Size:  size,
			MTime: mtime,
		}
		if prev, ok := known[rel]; ok && prev.MTime == mtime && prev.Size == size {
			entry.Digest = prev.Digest
		} else {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("worktree: reading %s: %w", rel, err)
			}
			entry.Digest = model.ComputeOid(content)
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Status diffs a fresh scan against the index. Removed and new paths go
// through the rename heuristic; a moved file reports a single rename, never
// a delete plus add.
func (s *Scanner) Status() (*Status, error) {
	scan, err := s.Scan()
	if err != nil {
		return nil, err
	}
	indexed, err := s.index.List()
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]Entry, len(indexed))
	for _, e := range indexed {
		byPath[e.Path] = e
	}

	var status Status
	var newPaths []ScanEntry

	seen := make(map[string]bool, len(scan))
	for _, se := range scan {
		seen[se.Path] = true
		prev, tracked := byPath[se.Path]
		if !tracked {
			newPaths = append(newPaths, se)
			continue
		}
		switch {
		case prev.Staged:
			status.Changes = append(status.Changes, FileChange{
				Status: StatusAdded, Path: se.Path, NodeID: prev.NodeID,
			})
		case prev.Digest != se.Digest:
			status.Changes = append(status.Changes, FileChange{
				Status: StatusModified, Path: se.Path, NodeID: prev.NodeID,
			})
		}
	}

	var removedEntries []Entry
	for _, e := range indexed {
		if !seen[e.Path] {
			removedEntries = append(removedEntries, e)
		}
	}
	sort.Slice(removedEntries, func(i, j int) bool {
		return removedEntries[i].Path < removedEntries[j].Path
	})

	removed := make([]Candidate, 0, len(removedEntries))
	for _, e := range removedEntries {
		content, err := s.store.ReadFileContent(e.Blob)
		if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return nil, err
		}
		removed = append(removed, Candidate{Path: e.Path, Digest: e.Digest, Content: content})
	}
	added := make([]Candidate, 0, len(newPaths))
	for _, se := range newPaths {
		content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(se.Path)))
		if err != nil {
			return nil, fmt.Errorf("worktree: reading %s: %w", se.Path, err)
		}
		added = append(added, Candidate{Path: se.Path, Digest: se.Digest, Content: content})
	}

	pairs, unmatchedRemoved, unmatchedAdded := MatchRenames(removed, added, RenameThreshold)
	for _, p := range pairs {
		status.Changes = append(status.Changes, FileChange{
			Status:  StatusRenamed,
			Path:    added[p.Added].Path,
			OldPath: removed[p.Removed].Path,
			NodeID:  removedEntries[p.Removed].NodeID,
		})
	}
	for _, ri := range unmatchedRemoved {
		status.Changes = append(status.Changes, FileChange{
			Status: StatusDeleted,
			Path:   removedEntries[ri].Path,
			NodeID: removedEntries[ri].NodeID,
		})
	}
	for _, ai := range unmatchedAdded {
		status.Changes = append(status.Changes, FileChange{
			Status: StatusUntracked,
			Path:   added[ai].Path,
		})
	}

	sort.Slice(status.Changes, func(i, j int) bool {
		return status.Changes[i].Path < status.Changes[j].Path
	})
	return &status, nil
}

// cleanRel normalizes a user-supplied path into the slash-separated form the
// index stores.
func cleanRel(root, path string) (string, error) {
	abs := path
	if !filepath.IsAbs(path) {
		abs = filepath.Join(root, path)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("worktree: path %s is outside the working copy", path)
	}
	return filepath.ToSlash(rel), nil
}

// AddPath stages one file or every file under a directory: content is
// chunked into the object store and the index entry is written. An untracked
// path gets a fresh NodeID, assigned once for the file's lifetime.
func (s *Scanner) AddPath(path string) error {
	rel, err := cleanRel(s.root, path)
	if err != nil {
		return err
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("worktree: stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if skipDirs[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			return s.addFile(p)
		})
	}
	return s.addFile(abs)
}

func (s *Scanner) addFile(abs string) error {
	rel, err := cleanRel(s.root, abs)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("worktree: reading %s: %w", rel, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	blobOid, err := s.store.StoreFileContent(content)
	if err != nil {
		return err
	}

	entry := Entry{
		Path:   rel,
		Digest: model.ComputeOid(content),
		Blob:   blobOid,
		MTime:  info.ModTime().Unix(),
		Size:   info.Size(),
		Mode:   uint32(info.Mode().Perm()),
		Staged: true,
	}
	if prev, err := s.index.Get(rel); err == nil {
		entry.NodeID = prev.NodeID
		entry.Staged = prev.Staged
	} else {
		entry.NodeID = model.NewNodeID()
	}

	s.log.WithFields(logrus.Fields{
		"path": rel,
		"node": entry.NodeID.String(),
	}).Debug("staged file")
	return s.index.Put(entry)
}

// Index exposes the underlying NodeId index.
func (s *Scanner) Index() *Index {
	return s.index
}

// Root returns the working-copy root.
func (s *Scanner) Root() string {
	return s.root
}
