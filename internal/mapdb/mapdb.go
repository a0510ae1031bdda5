// Package mapdb is the durable mapping database correlating the Git and wind
// sides of the bridge. It holds three tables on one badger instance:
//
//	sha_oid       git SHA <-> changeset Oid, unique both ways
//	node_path     NodeID <-> current path, unique both ways
//	path_history  append-only (NodeID, path, git SHA, timestamp) audit trail
//
// The database is the sole source of truth for what has already crossed the
// bridge. Every importer or exporter step runs inside one Step transaction:
// a crash mid-step leaves the database exactly as it was before the step.
package mapdb

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/windvcs/wind/pkg/model"
)

// ErrNotFound means the requested mapping row does not exist.
var ErrNotFound = errors.New("mapdb: mapping not found")

var (
	prefixShaToOid   = []byte("so:")
	prefixOidToSha   = []byte("os:")
	prefixNodePath   = []byte("np:")
	prefixPathNode   = []byte("pn:")
	prefixHistory    = []byte("ph:")
	prefixHistorySeq = []byte("pq:")
)

// PathEvent is one append-only path_history row.
type PathEvent struct {
	Path      string `cbor:"1,keyasint"`
	GitSHA    string `cbor:"2,keyasint"`
	Timestamp int64  `cbor:"3,keyasint"`
}

// DB wraps the badger instance.
type DB struct {
	badgerDB *badger.DB
	log      *logrus.Logger
}

// Open opens (or creates) the mapping database at path.
func Open(path string, logger *logrus.Logger) (*DB, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("mapdb: opening badger at %s: %w", path, err)
	}
	return &DB{badgerDB: db, log: logger}, nil
}

// Close syncs and closes the underlying store.
func (db *DB) Close() error {
	if err := db.badgerDB.Sync(); err != nil {
		db.log.Warnf("mapdb: sync on close: %v", err)
	}
	return db.badgerDB.Close()
}

// Txn exposes the mapping operations valid inside one step.
type Txn struct {
	txn *badger.Txn
}

// Step runs fn inside a single transaction. If fn returns an error nothing
// written by fn is applied.
func (db *DB) Step(fn func(*Txn) error) error {
	err := db.badgerDB.Update(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
	if err != nil {
		return fmt.Errorf("mapdb: transaction failed: %w", err)
	}
	return nil
}

// View runs fn read-only.
func (db *DB) View(fn func(*Txn) error) error {
	return db.badgerDB.View(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
}

// InsertShaMapping records git SHA <-> changeset Oid in both directions.
func (t *Txn) InsertShaMapping(gitSHA string, oid model.Oid) error {
	if err := t.txn.Set(key(prefixShaToOid, []byte(gitSHA)), oid[:]); err != nil {
		return err
	}
	return t.txn.Set(key(prefixOidToSha, oid[:]), []byte(gitSHA))
}

// WindOid resolves a git SHA to its changeset Oid.
func (t *Txn) WindOid(gitSHA string) (model.Oid, error) {
	val, err := t.get(key(prefixShaToOid, []byte(gitSHA)))
	if err != nil {
		return model.Oid{}, err
	}
	if len(val) != 32 {
		return model.Oid{}, fmt.Errorf("mapdb: malformed oid row for sha %s", gitSHA)
	}
	var oid model.Oid
	copy(oid[:], val)
	return oid, nil
}

// GitSHA resolves a changeset Oid to its git SHA.
func (t *Txn) GitSHA(oid model.Oid) (string, error) {
	val, err := t.get(key(prefixOidToSha, oid[:]))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// SetNodePath records NodeID <-> current path, replacing any previous path
// for the node and any previous node for the path.
func (t *Txn) SetNodePath(id model.NodeID, path string) error {
	// Drop the stale reverse row when the node moves.
	if old, err := t.get(key(prefixNodePath, id[:])); err == nil && string(old) != path {
		if err := t.txn.Delete(key(prefixPathNode, old)); err != nil {
			return err
		}
	}
	if err := t.txn.Set(key(prefixNodePath, id[:]), []byte(path)); err != nil {
		return err
	}
	return t.txn.Set(key(prefixPathNode, []byte(path)), id[:])
}

// DeleteNodePath removes the node_path rows for id. The NodeID itself is
// never reused; only its current-path claim goes away.
func (t *Txn) DeleteNodePath(id model.NodeID) error {
	old, err := t.get(key(prefixNodePath, id[:]))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := t.txn.Delete(key(prefixPathNode, old)); err != nil {
		return err
	}
	return t.txn.Delete(key(prefixNodePath, id[:]))
}

// NodeForPath resolves a current path to its NodeID.
func (t *Txn) NodeForPath(path string) (model.NodeID, error) {
	val, err := t.get(key(prefixPathNode, []byte(path)))
	if err != nil {
		return model.NodeID{}, err
	}
	if len(val) != 16 {
		return model.NodeID{}, fmt.Errorf("mapdb: malformed node row for path %s", path)
	}
	var id model.NodeID
	copy(id[:], val)
	return id, nil
}

// PathForNode resolves a NodeID to its current path.
func (t *Txn) PathForNode(id model.NodeID) (string, error) {
	val, err := t.get(key(prefixNodePath, id[:]))
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// AppendHistory adds one path_history row. History is append-only and never
// mutated; the rows reconstruct a node's rename chain.
func (t *Txn) AppendHistory(id model.NodeID, ev PathEvent) error {
	seq := uint64(0)
	if val, err := t.get(key(prefixHistorySeq, id[:])); err == nil {
		seq = binary.BigEndian.Uint64(val) + 1
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	data, err := model.Encode(&ev)
	if err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	if err := t.txn.Set(key(prefixHistory, id[:], seqBuf[:]), data); err != nil {
		return err
	}
	return t.txn.Set(key(prefixHistorySeq, id[:]), seqBuf[:])
}

// History returns the path_history rows for id in append order.
func (t *Txn) History(id model.NodeID) ([]PathEvent, error) {
	prefix := key(prefixHistory, id[:])
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	var events []PathEvent
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		var ev PathEvent
		if err := model.Decode(val, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

// HasSha reports whether gitSHA already has a sha_oid row.
func (t *Txn) HasSha(gitSHA string) bool {
	_, err := t.get(key(prefixShaToOid, []byte(gitSHA)))
	return err == nil
}

// HasOid reports whether oid already has a sha_oid row.
func (t *Txn) HasOid(oid model.Oid) bool {
	_, err := t.get(key(prefixOidToSha, oid[:]))
	return err == nil
}

func (t *Txn) get(k []byte) ([]byte, error) {
	item, err := t.txn.Get(k)
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func key(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

// Convenience read helpers outside a step.

// WindOid resolves a git SHA to its changeset Oid.
func (db *DB) WindOid(gitSHA string) (model.Oid, error) {
	var oid model.Oid
	err := db.View(func(t *Txn) error {
		var err error
		oid, err = t.WindOid(gitSHA)
		return err
	})
	return oid, err
}

// GitSHA resolves a changeset Oid to its git SHA.
func (db *DB) GitSHA(oid model.Oid) (string, error) {
	var sha string
	err := db.View(func(t *Txn) error {
		var err error
		sha, err = t.GitSHA(oid)
		return err
	})
	return sha, err
}

// History returns the append-only path rows for a node.
func (db *DB) History(id model.NodeID) ([]PathEvent, error) {
	var events []PathEvent
	err := db.View(func(t *Txn) error {
		var err error
		events, err = t.History(id)
		return err
	})
	return events, err
}
