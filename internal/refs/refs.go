// Package refs stores branch heads as small files, one per branch, plus a
// current-branch pointer. Writes go through a temp file and rename so a
// crash never leaves a half-written head.
package refs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/windvcs/wind/pkg/model"
)

var (
	ErrNotFound    = errors.New("refs: branch not found")
	ErrInvalidName = errors.New("refs: invalid branch name")
)

const currentFile = "CURRENT"

// Store keeps branch heads under <dir>/heads/ and the current-branch name in
// <dir>/CURRENT.
type Store struct {
	dir string
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "heads"), 0o755); err != nil {
		return nil, fmt.Errorf("refs: %w", err)
	}
	return &Store{dir: dir}, nil
}

// SetBranch points name at head, creating the branch if needed.
func (s *Store) SetBranch(name string, head model.Oid) error {
	path, err := s.branchPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("refs: %w", err)
	}
	return writeAtomic(path, []byte(head.String()+"\n"))
}

// Branch returns the head of name.
func (s *Store) Branch(name string) (model.Oid, error) {
	path, err := s.branchPath(name)
	if err != nil {
		return model.Oid{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.Oid{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return model.Oid{}, fmt.Errorf("refs: %w", err)
	}
	oid, err := model.ParseOid(strings.TrimSpace(string(data)))
	if err != nil {
		return model.Oid{}, fmt.Errorf("refs: corrupt head for %s: %w", name, err)
	}
	return oid, nil
}

// DeleteBranch removes name. Deleting an absent branch is an error.
func (s *Store) DeleteBranch(name string) error {
	path, err := s.branchPath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	} else if err != nil {
		return fmt.Errorf("refs: %w", err)
	}
	return nil
}

// List returns all branches sorted by name.
func (s *Store) List() ([]model.Branch, error) {
	root := filepath.Join(s.dir, "heads")
	var branches []model.Branch
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		head, err := s.Branch(name)
		if err != nil {
			return err
		}
		branches = append(branches, model.Branch{Name: name, Head: head})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i].Name < branches[j].Name })
	return branches, nil
}

// SetCurrent records which branch the working copy follows. The branch must
// exist.
func (s *Store) SetCurrent(name string) error {
	if _, err := s.Branch(name); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, currentFile), []byte(name+"\n"))
}

// InitCurrent records the current branch name before its head exists. Used
// once, on repository creation; the head file appears with the first commit.
func (s *Store) InitCurrent(name string) error {
	if _, err := s.branchPath(name); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, currentFile), []byte(name+"\n"))
}

// Current returns the checked-out branch name.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: no current branch", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("refs: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *Store) branchPath(name string) (string, error) {
	if name == "" || name == currentFile || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return filepath.Join(s.dir, "heads", filepath.FromSlash(name)), nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ref-*")
	if err != nil {
		return fmt.Errorf("refs: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("refs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("refs: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("refs: %w", err)
	}
	return nil
}
