package bridge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"

	"github.com/windvcs/wind/internal/mapdb"
	"github.com/windvcs/wind/internal/objectstore"
	"github.com/windvcs/wind/pkg/model"
)

// Exporter materializes changesets as Git commits. The mapping row is the
// commit point: git objects are written first and are harmless orphans if the
// row never lands, since a retry recreates them byte for byte and git
// deduplicates by hash.
type Exporter struct {
	repo  *git.Repository
	store *objectstore.Store
	db    *mapdb.DB
	log   *logrus.Logger
}

func NewExporter(repo *git.Repository, store *objectstore.Store, db *mapdb.DB, logger *logrus.Logger) *Exporter {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Exporter{repo: repo, store: store, db: db, log: logger}
}

// ExportChangeset writes the changeset and all its unexported ancestors as
// Git commits, parents first. Returns the number of commits written and the
// Git hash of the tip.
func (ex *Exporter) ExportChangeset(oid model.Oid) (int, plumbing.Hash, error) {
	exported := 0
	var export func(oid model.Oid) (plumbing.Hash, error)
	export = func(oid model.Oid) (plumbing.Hash, error) {
		if sha, err := ex.db.GitSHA(oid); err == nil {
			return plumbing.NewHash(sha), nil
		}
		cs, err := ex.loadChangeset(oid)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		var parentHashes []plumbing.Hash
		for _, p := range cs.Parents {
			h, err := export(p)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			parentHashes = append(parentHashes, h)
		}
		h, err := ex.writeCommit(cs, parentHashes)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("export changeset %s: %w", oid, err)
		}
		err = ex.db.Step(func(t *mapdb.Txn) error {
			return t.InsertShaMapping(h.String(), oid)
		})
		if err != nil {
			return plumbing.ZeroHash, err
		}
		exported++
		ex.log.WithFields(logrus.Fields{
			"oid": oid.String(),
			"sha": h.String(),
		}).Debug("exported changeset")
		return h, nil
	}
	tip, err := export(oid)
	return exported, tip, err
}

func (ex *Exporter) loadChangeset(oid model.Oid) (*model.Changeset, error) {
	kind, data, err := ex.store.Get(oid)
	if err != nil {
		return nil, err
	}
	if kind != model.KindChangeset {
		return nil, fmt.Errorf("object %s is %s, not a changeset", oid, kind)
	}
	return model.DecodeChangeset(data)
}

func (ex *Exporter) writeCommit(cs *model.Changeset, parents []plumbing.Hash) (plumbing.Hash, error) {
	kind, data, err := ex.store.Get(cs.Manifest)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if kind != model.KindManifest {
		return plumbing.ZeroHash, fmt.Errorf("object %s is %s, not a manifest", cs.Manifest, kind)
	}
	manifest, err := model.DecodeManifest(data)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	treeHash, err := ex.writeTree(manifest)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	name, email := splitAuthor(cs.Author)
	sig := object.Signature{Name: name, Email: email, When: time.Unix(cs.Timestamp, 0).UTC()}
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      cs.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
	}
	obj := ex.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return ex.repo.Storer.SetEncodedObject(obj)
}

// treeNode is one directory level under construction.
type treeNode struct {
	files map[string]object.TreeEntry
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{files: map[string]object.TreeEntry{}, dirs: map[string]*treeNode{}}
}

// writeTree converts a manifest into nested Git tree objects, writing the
// blobs on the way.
func (ex *Exporter) writeTree(manifest *model.Manifest) (plumbing.Hash, error) {
	root := newTreeNode()
	for _, e := range manifest.Entries {
		content, err := ex.store.ReadFileContent(e.Blob)
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("blob for %s: %w", e.Path, err)
		}
		blobHash, err := ex.writeBlob(content)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		mode := filemode.Regular
		if e.Mode&0o111 != 0 {
			mode = filemode.Executable
		}
		node := root
		parts := strings.Split(e.Path, "/")
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newTreeNode()
				node.dirs[dir] = child
			}
			node = child
		}
		base := parts[len(parts)-1]
		node.files[base] = object.TreeEntry{Name: base, Mode: mode, Hash: blobHash}
	}
	return ex.encodeTree(root)
}

func (ex *Exporter) encodeTree(node *treeNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(node.files)+len(node.dirs))
	for _, te := range node.files {
		entries = append(entries, te)
	}
	for name, child := range node.dirs {
		h, err := ex.encodeTree(child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	sortTreeEntries(entries)

	tree := &object.Tree{Entries: entries}
	obj := ex.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, err
	}
	return ex.repo.Storer.SetEncodedObject(obj)
}

func (ex *Exporter) writeBlob(content []byte) (plumbing.Hash, error) {
	obj := ex.repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := w.Write(content); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return ex.repo.Storer.SetEncodedObject(obj)
}

// sortTreeEntries orders entries the way git does: byte order over names,
// with directory names compared as if they had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	sortName := func(te object.TreeEntry) string {
		if te.Mode == filemode.Dir {
			return te.Name + "/"
		}
		return te.Name
	}
	sort.Slice(entries, func(i, j int) bool {
		return sortName(entries[i]) < sortName(entries[j])
	})
}

// splitAuthor undoes the "Name <email>" formatting used at import time.
func splitAuthor(author string) (name, email string) {
	open := strings.LastIndex(author, " <")
	if open < 0 || !strings.HasSuffix(author, ">") {
		return author, ""
	}
	return author[:open], author[open+2 : len(author)-1]
}
