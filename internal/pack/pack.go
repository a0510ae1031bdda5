// Package pack batches many small objects into a single compressed container
// with an offset index, amortizing the per-object cost of loose storage.
// A sealed pack is immutable: compaction writes a new pack and marks the old
// one superseded, never edits in place.
package pack

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ulikunitz/xz/lzma"

	"github.com/windvcs/wind/pkg/model"
)

// DefaultSmallObjectThreshold is the size below which a loose object is
// eligible for packing.
const DefaultSmallObjectThreshold = 16 * 1024

// IndexEntry locates one object inside the uncompressed pack body.
type IndexEntry struct {
	Oid    model.Oid        `cbor:"1,keyasint"`
	Kind   model.ObjectKind `cbor:"2,keyasint"`
	Offset uint64           `cbor:"3,keyasint"`
	Length uint32           `cbor:"4,keyasint"`
}

// Index is the trailing index of a sealed pack, stored as its own file next
// to the pack body.
type Index struct {
	Entries []IndexEntry `cbor:"1,keyasint"`
}

// Writer accumulates object bodies for one pack. Not safe for concurrent
// use.
type Writer struct {
	body    bytes.Buffer
	entries []IndexEntry
}

// NewWriter returns an empty pack writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Add appends one object body. Re-adding an Oid already present is a no-op,
// matching the idempotency of the loose store.
func (w *Writer) Add(oid model.Oid, kind model.ObjectKind, data []byte) {
	for _, e := range w.entries {
		if e.Oid == oid {
			return
		}
	}
	offset := uint64(w.body.Len())
	w.body.Write(data)
	w.entries = append(w.entries, IndexEntry{
		Oid:    oid,
		Kind:   kind,
		Offset: offset,
		Length: uint32(len(data)),
	})
}

// Count returns the number of objects added so far.
func (w *Writer) Count() int {
	return len(w.entries)
}

// Size returns the uncompressed body size so far.
func (w *Writer) Size() int {
	return w.body.Len()
}

// Seal compresses the body, derives the pack id from the uncompressed bytes,
// and writes pack-<id>.pack plus pack-<id>.idx into dir. Both files land via
// tmp-file rename so a crash never leaves a torn pack behind.
func (w *Writer) Seal(dir string) (packPath string, idxPath string, err error) {
	if len(w.entries) == 0 {
		return "", "", fmt.Errorf("seal: pack is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("seal: mkdir %s: %w", dir, err)
	}

	id := model.ComputeOid(w.body.Bytes())
	packPath = filepath.Join(dir, fmt.Sprintf("pack-%s.pack", id))
	idxPath = filepath.Join(dir, fmt.Sprintf("pack-%s.idx", id))

	compressed, err := compressLzma(w.body.Bytes())
	if err != nil {
		return "", "", fmt.Errorf("seal: compressing pack body: %w", err)
	}
	if err := writeAtomic(packPath, compressed); err != nil {
		return "", "", err
	}

	sort.Slice(w.entries, func(i, j int) bool {
		return w.entries[i].Oid.Less(w.entries[j].Oid)
	})
	idxData, err := model.Encode(&Index{Entries: w.entries})
	if err != nil {
		return "", "", fmt.Errorf("seal: encoding index: %w", err)
	}
	if err := writeAtomic(idxPath, idxData); err != nil {
		return "", "", err
	}

	return packPath, idxPath, nil
}

// Reader serves lookups from one sealed pack. The body is decompressed
// lazily on first access and then kept in memory.
type Reader struct {
	packPath string
	entries  map[model.Oid]IndexEntry

	once sync.Once
	body []byte
	err  error
}

// OpenReader loads the index file of a sealed pack.
func OpenReader(idxPath string) (*Reader, error) {
	idxData, err := os.ReadFile(idxPath)
	if err != nil {
		return nil, fmt.Errorf("open pack index %s: %w", idxPath, err)
	}
	var idx Index
	if err := model.Decode(idxData, &idx); err != nil {
		return nil, fmt.Errorf("open pack index %s: %w", idxPath, err)
	}

	entries := make(map[model.Oid]IndexEntry, len(idx.Entries))
	for _, e := range idx.Entries {
		entries[e.Oid] = e
	}
	return &Reader{
		packPath: strings.TrimSuffix(idxPath, ".idx") + ".pack",
		entries:  entries,
	}, nil
}

// Has reports whether oid is indexed in this pack.
func (r *Reader) Has(oid model.Oid) bool {
	_, ok := r.entries[oid]
	return ok
}

// Len returns the number of indexed objects.
func (r *Reader) Len() int {
	return len(r.entries)
}

// Oids returns all indexed Oids in index order.
func (r *Reader) Oids() []model.Oid {
	oids := make([]model.Oid, 0, len(r.entries))
	for oid := range r.entries {
		oids = append(oids, oid)
	}
	sort.Slice(oids, func(i, j int) bool { return oids[i].Less(oids[j]) })
	return oids
}

// Get returns the kind and bytes of oid. The bytes are verified against the
// Oid before they are returned.
func (r *Reader) Get(oid model.Oid) (model.ObjectKind, []byte, error) {
	e, ok := r.entries[oid]
	if !ok {
		return 0, nil, fmt.Errorf("pack %s: object %s: not found", filepath.Base(r.packPath), oid)
	}

	r.once.Do(func() {
		compressed, err := os.ReadFile(r.packPath)
		if err != nil {
			r.err = fmt.Errorf("read pack %s: %w", r.packPath, err)
			return
		}
		r.body, r.err = decompressLzma(compressed)
	})
	if r.err != nil {
		return 0, nil, r.err
	}

	end := e.Offset + uint64(e.Length)
	if end > uint64(len(r.body)) {
		return 0, nil, fmt.Errorf("pack %s: object %s: entry beyond pack body", filepath.Base(r.packPath), oid)
	}
	data := make([]byte, e.Length)
	copy(data, r.body[e.Offset:end])

	if model.ComputeOid(data) != oid {
		return 0, nil, fmt.Errorf("pack %s: object %s: stored bytes do not match digest", filepath.Base(r.packPath), oid)
	}
	return e.Kind, data, nil
}

// LoadDir opens all non-superseded packs in dir, sorted by file name for a
// deterministic lookup order.
func LoadDir(dir string) ([]*Reader, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load packs from %s: %w", dir, err)
	}

	var idxPaths []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "pack-") || !strings.HasSuffix(name, ".idx") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name+".superseded")); err == nil {
			continue
		}
		idxPaths = append(idxPaths, filepath.Join(dir, name))
	}
	sort.Strings(idxPaths)

	readers := make([]*Reader, 0, len(idxPaths))
	for _, p := range idxPaths {
		r, err := OpenReader(p)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

// Supersede marks a pack as replaced by a newer pack. Lookups keep working
// until the next LoadDir; the pack file itself is never modified.
func Supersede(idxPath string) error {
	marker := idxPath + ".superseded"
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("supersede %s: %w", idxPath, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-pack-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func compressLzma(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLzma(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
