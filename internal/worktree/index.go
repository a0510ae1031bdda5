// Package worktree owns the NodeId index and the working-copy scanner. The
// index is the only mutable, path-sensitive structure in the system: it maps
// each tracked path to its stable NodeID and last-known content, and the
// scanner diffs the filesystem against it to produce a status report.
package worktree

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/pkg/model"
)

// ErrNotFound means the index has no entry for the requested path or node.
var ErrNotFound = errors.New("worktree: index entry not found")

var (
	prefixPath = []byte("e:")
	prefixNode = []byte("n:")
)

// pathKey and nodeKey build keys into fresh backing arrays. Appending to the
// shared prefix slices directly could reuse their backing array across
// concurrent calls.
func pathKey(path []byte) []byte {
	k := make([]byte, 0, len(prefixPath)+len(path))
	k = append(k, prefixPath...)
	return append(k, path...)
}

func nodeKey(id model.NodeID) []byte {
	k := make([]byte, 0, len(prefixNode)+len(id))
	k = append(k, prefixNode...)
	return append(k, id[:]...)
}

// Entry is one tracked file in the NodeId index.
type Entry struct {
	NodeID model.NodeID `cbor:"1,keyasint"`
	Path   string       `cbor:"2,keyasint"`
	// Digest is the content digest of the file's full bytes, used for
	// cheap change detection and exact rename matching.
	Digest model.Oid `cbor:"3,keyasint"`
	// Blob is the chunk-list object holding the file's content.
	Blob model.Oid `cbor:"4,keyasint"`
	// MTime is the file's modification time in Unix seconds; together with
	// Size it drives the scanner's skip-unchanged shortcut, so every writer
	// must use the same unit.
	MTime int64  `cbor:"5,keyasint"`
	Size  int64  `cbor:"6,keyasint"`
	Mode  uint32 `cbor:"7,keyasint"`
	// Staged marks an entry added since the last commit.
	Staged bool `cbor:"8,keyasint,omitempty"`
}

// Index is the persistent NodeId index on badger.
type Index struct {
	badgerDB *badger.DB
	log      *logrus.Logger
}

// OpenIndex opens (or creates) the index database at path.
func OpenIndex(path string, logger *logrus.Logger) (*Index, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("worktree: opening index at %s: %w", path, err)
	}
	return &Index{badgerDB: db, log: logger}, nil
}

// Close closes the underlying store.
func (ix *Index) Close() error {
	return ix.badgerDB.Close()
}

// Put inserts or replaces the entry for e.Path. A NodeID moving to a new
// path drops its previous path row.
func (ix *Index) Put(e Entry) error {
	data, err := model.Encode(&e)
	if err != nil {
		return err
	}
	return ix.badgerDB.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get(nodeKey(e.NodeID)); err == nil {
			oldPath, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(oldPath) != e.Path {
				if err := txn.Delete(pathKey(oldPath)); err != nil {
					return err
				}
			}
		}
		if err := txn.Set(pathKey([]byte(e.Path)), data); err != nil {
			return err
		}
		return txn.Set(nodeKey(e.NodeID), []byte(e.Path))
	})
}

// Remove deletes the entry at path. The NodeID is retired, never reused.
func (ix *Index) Remove(path string) error {
	return ix.badgerDB.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey([]byte(path)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var e Entry
		if err := model.Decode(val, &e); err != nil {
			return err
		}
		if err := txn.Delete(nodeKey(e.NodeID)); err != nil {
			return err
		}
		return txn.Delete(pathKey([]byte(path)))
	})
}

// Get returns the entry at path.
func (ix *Index) Get(path string) (Entry, error) {
	var e Entry
	err := ix.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey([]byte(path)))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return model.Decode(val, &e)
	})
	return e, err
}

// GetByNode returns the entry for a NodeID.
func (ix *Index) GetByNode(id model.NodeID) (Entry, error) {
	var e Entry
	err := ix.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		path, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(pathKey(path))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return model.Decode(val, &e)
	})
	return e, err
}

// List returns all entries, in badger key (path) order.
func (ix *Index) List() ([]Entry, error) {
	var entries []Entry
	err := ix.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixPath
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefixPath); it.ValidForPrefix(prefixPath); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e Entry
			if err := model.Decode(val, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Clear drops every entry. Used when materializing a different changeset
// into the working copy.
func (ix *Index) Clear() error {
	return ix.badgerDB.DropAll()
}
