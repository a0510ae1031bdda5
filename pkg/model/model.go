// Package model provides the core data structures of the wind object graph.
package model

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// Oid is the 256-bit BLAKE3 digest of an object's canonical bytes. It is the
// sole key under which objects are stored; identical bytes always yield the
// same Oid.
type Oid [32]byte

// ZeroOid is the absent-object marker. It is never a valid digest of stored
// bytes.
var ZeroOid Oid

// ComputeOid hashes data into its content address.
func ComputeOid(data []byte) Oid {
	return Oid(blake3.Sum256(data))
}

func (o Oid) String() string {
	return hex.EncodeToString(o[:])
}

// IsZero reports whether o is the absent-object marker.
func (o Oid) IsZero() bool {
	return o == ZeroOid
}

// Fanout returns the shard directory and file name for the on-disk layout.
// The first digest byte becomes the directory so no single directory grows
// unbounded.
func (o Oid) Fanout() (dir string, file string) {
	s := o.String()
	return s[:2], s[2:]
}

// ParseOid decodes a 64-character hex string into an Oid.
func ParseOid(s string) (Oid, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Oid{}, fmt.Errorf("parse oid %q: %w", s, err)
	}
	if len(b) != 32 {
		return Oid{}, fmt.Errorf("parse oid %q: expected 32 bytes, got %d", s, len(b))
	}
	var o Oid
	copy(o[:], b)
	return o, nil
}

// Less orders Oids by their raw bytes. Used wherever a deterministic
// traversal order is required.
func (o Oid) Less(other Oid) bool {
	return bytes.Compare(o[:], other[:]) < 0
}

// NodeID is a 128-bit opaque identifier assigned once per tracked file's
// lifetime. It is immutable once assigned, never reused after deletion, and
// survives renames and edits. It has no relationship to the file's path.
type NodeID [16]byte

// NewNodeID draws a fresh identifier from the system entropy source.
func NewNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failing means the platform is unusable anyway.
		panic(fmt.Sprintf("model: reading entropy: %v", err))
	}
	return id
}

func (n NodeID) String() string {
	return hex.EncodeToString(n[:])
}

// IsZero reports whether n is the unassigned marker.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// Less orders NodeIDs by their raw bytes.
func (n NodeID) Less(other NodeID) bool {
	return bytes.Compare(n[:], other[:]) < 0
}

// ParseNodeID decodes a 32-character hex string into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id %q: %w", s, err)
	}
	if len(b) != 16 {
		return NodeID{}, fmt.Errorf("parse node id %q: expected 16 bytes, got %d", s, len(b))
	}
	var n NodeID
	copy(n[:], b)
	return n, nil
}

// ObjectKind identifies the four kinds of objects held by the object store.
type ObjectKind uint8

const (
	// KindBlob is an ordered chunk-Oid list describing one file's content.
	KindBlob ObjectKind = iota + 1
	// KindManifest is a full NodeID -> path/content/mode snapshot.
	KindManifest
	// KindChangeset is an immutable commit-equivalent record.
	KindChangeset
	// KindPackIndex is the trailing index of a sealed pack.
	KindPackIndex
)

func (k ObjectKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindManifest:
		return "manifest"
	case KindChangeset:
		return "changeset"
	case KindPackIndex:
		return "packindex"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Blob is the content reference for one file: the ordered list of chunk Oids
// that concatenate to the file's bytes, plus the total size.
type Blob struct {
	Chunks []Oid  `cbor:"1,keyasint"`
	Size   uint64 `cbor:"2,keyasint"`
}

// ChangeKind enumerates the FileChange variants.
type ChangeKind uint8

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeEdit
	ChangeDelete
	ChangeRename
)

func (c ChangeKind) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeEdit:
		return "edit"
	case ChangeDelete:
		return "delete"
	case ChangeRename:
		return "rename"
	default:
		return fmt.Sprintf("change(%d)", uint8(c))
	}
}

// FileChange records what happened to one NodeID in one changeset. Exactly
// one variant applies per NodeID per changeset. Rename carries both paths;
// a rename may also change content, in which case Blob differs from the
// parent's.
type FileChange struct {
	Kind    ChangeKind `cbor:"1,keyasint"`
	Path    string     `cbor:"2,keyasint"`
	OldPath string     `cbor:"3,keyasint,omitempty"`
	Blob    Oid        `cbor:"4,keyasint,omitempty"`
	Mode    uint32     `cbor:"5,keyasint,omitempty"`
}

// ChangeRecord pairs a NodeID with its FileChange inside a changeset. The
// Changes slice of a changeset is kept sorted by NodeID so the serialized
// form is canonical.
type ChangeRecord struct {
	NodeID NodeID     `cbor:"1,keyasint"`
	Change FileChange `cbor:"2,keyasint"`
}

// ManifestEntry describes one tracked file inside a manifest snapshot.
type ManifestEntry struct {
	NodeID NodeID `cbor:"1,keyasint"`
	Path   string `cbor:"2,keyasint"`
	Blob   Oid    `cbor:"3,keyasint"`
	Mode   uint32 `cbor:"4,keyasint"`

	// Unresolved marks a merge-conflicted entry whose final content has not
	// been supplied yet. Entries never persist unresolved into a committed
	// changeset; the flag exists only on merge output.
	Unresolved bool `cbor:"5,keyasint,omitempty"`
}

// Manifest is the fully materialized snapshot of one changeset: an ordered
// mapping NodeID -> {path, content, mode}. No deltas; lookups are simple at
// the cost of manifest size. Entries are kept sorted by NodeID so identical
// snapshots always serialize to identical bytes.
type Manifest struct {
	Entries []ManifestEntry `cbor:"1,keyasint"`
}

// Get returns the entry for id, if present.
func (m *Manifest) Get(id NodeID) (ManifestEntry, bool) {
	i := sort.Search(len(m.Entries), func(i int) bool {
		return !m.Entries[i].NodeID.Less(id)
	})
	if i < len(m.Entries) && m.Entries[i].NodeID == id {
		return m.Entries[i], true
	}
	return ManifestEntry{}, false
}

// GetPath returns the entry currently at path, if any.
func (m *Manifest) GetPath(path string) (ManifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return ManifestEntry{}, false
}

// Put inserts or replaces the entry for e.NodeID, keeping Entries sorted.
func (m *Manifest) Put(e ManifestEntry) {
	i := sort.Search(len(m.Entries), func(i int) bool {
		return !m.Entries[i].NodeID.Less(e.NodeID)
	})
	if i < len(m.Entries) && m.Entries[i].NodeID == e.NodeID {
		m.Entries[i] = e
		return
	}
	m.Entries = append(m.Entries, ManifestEntry{})
	copy(m.Entries[i+1:], m.Entries[i:])
	m.Entries[i] = e
}

// Delete removes the entry for id if present.
func (m *Manifest) Delete(id NodeID) {
	i := sort.Search(len(m.Entries), func(i int) bool {
		return !m.Entries[i].NodeID.Less(id)
	})
	if i < len(m.Entries) && m.Entries[i].NodeID == id {
		m.Entries = append(m.Entries[:i], m.Entries[i+1:]...)
	}
}

// Clone returns a deep copy that can be mutated independently.
func (m *Manifest) Clone() Manifest {
	out := Manifest{Entries: make([]ManifestEntry, len(m.Entries))}
	copy(out.Entries, m.Entries)
	return out
}

// Changeset is the immutable commit-equivalent unit. Parents form a DAG:
// zero for the root, one for a normal commit, two or more for a merge. Its
// Oid is the digest of the canonical serialization of all fields.
type Changeset struct {
	Parents   []Oid          `cbor:"1,keyasint"`
	Changes   []ChangeRecord `cbor:"2,keyasint"`
	Manifest  Oid            `cbor:"3,keyasint"`
	Author    string         `cbor:"4,keyasint"`
	Timestamp int64          `cbor:"5,keyasint"`
	Message   string         `cbor:"6,keyasint"`
}

// SortChanges orders the change records by NodeID, the canonical order.
func (c *Changeset) SortChanges() {
	sort.Slice(c.Changes, func(i, j int) bool {
		return c.Changes[i].NodeID.Less(c.Changes[j].NodeID)
	})
}

// Branch names a head changeset. Branches are the only mutable pointers into
// the otherwise immutable object graph.
type Branch struct {
	Name string
	Head Oid
}
