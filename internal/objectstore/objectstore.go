// Package objectstore is the content-addressed, deduplicating object store.
// Objects are write-once: a Put of bytes already present is a no-op, and
// nothing is ever mutated in place. Storage is split into three on-disk
// areas under one root: loose objects sharded by digest prefix, a chunk area
// with the same shard scheme, and a pack area holding sealed packs plus
// their index files.
package objectstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/windvcs/wind/internal/chunker"
	"github.com/windvcs/wind/internal/pack"
	"github.com/windvcs/wind/pkg/model"
)

var (
	// ErrNotFound means no object is stored under the requested Oid.
	ErrNotFound = errors.New("objectstore: object not found")
	// ErrCorrupt means stored bytes no longer match their digest. The
	// store never silently returns corrupt data.
	ErrCorrupt = errors.New("objectstore: stored bytes do not match digest")
)

// StoreConfig configures a store instance.
type StoreConfig struct {
	// Root is the storage directory holding the loose, chunk and pack
	// areas.
	Root string
	// MinimumFreeGB is a free-space threshold checked on open.
	MinimumFreeGB uint
	// Logger is optional; a default logrus logger is used when nil.
	Logger *logrus.Logger
}

// Store is safe for concurrent use. Concurrent Puts of identical content are
// naturally idempotent; distinct Oids never collide inside a shard.
type Store struct {
	config StoreConfig
	log    *logrus.Logger

	enc *zstd.Encoder
	dec *zstd.Decoder

	packMu sync.RWMutex
	packs  []*pack.Reader
}

const (
	looseDir = "objects"
	chunkDir = "chunks"
	packsDir = "packs"
)

// Open initializes the on-disk layout, checks free space and loads any
// sealed pack indexes.
func Open(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Root == "" {
		return nil, fmt.Errorf("objectstore: no root directory provided")
	}

	for _, sub := range []string{looseDir, chunkDir, packsDir} {
		if err := os.MkdirAll(filepath.Join(config.Root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("objectstore: mkdir %s: %w", sub, err)
		}
	}

	if err := checkFreeSpace(config.Root, config.MinimumFreeGB, config.Logger); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("objectstore: creating zstd decoder: %w", err)
	}

	packs, err := pack.LoadDir(filepath.Join(config.Root, packsDir))
	if err != nil {
		return nil, err
	}

	return &Store{
		config: config,
		log:    config.Logger,
		enc:    enc,
		dec:    dec,
		packs:  packs,
	}, nil
}

// Close releases the compressor state.
func (s *Store) Close() {
	s.enc.Close()
	s.dec.Close()
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.config.Root
}

// Put stores one object and returns its Oid. Re-putting identical bytes is a
// no-op.
func (s *Store) Put(kind model.ObjectKind, data []byte) (model.Oid, error) {
	oid := model.ComputeOid(data)
	path := s.loosePath(oid)

	if _, err := os.Stat(path); err == nil {
		return oid, nil
	}
	if s.inPack(oid) {
		return oid, nil
	}

	framed := make([]byte, 0, len(data)/2+1)
	framed = append(framed, byte(kind))
	framed = s.enc.EncodeAll(data, framed)

	if err := s.writeAtomic(path, framed); err != nil {
		return model.Oid{}, err
	}
	return oid, nil
}

// Get returns the kind and bytes of an object, from the loose area first and
// sealed packs second. Bytes are verified against the Oid before being
// returned; a mismatch is ErrCorrupt, absence is ErrNotFound.
func (s *Store) Get(oid model.Oid) (model.ObjectKind, []byte, error) {
	framed, err := os.ReadFile(s.loosePath(oid))
	if err == nil {
		if len(framed) < 1 {
			return 0, nil, fmt.Errorf("%w: %s: empty object file", ErrCorrupt, oid)
		}
		kind := model.ObjectKind(framed[0])
		data, err := s.dec.DecodeAll(framed[1:], nil)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, oid, err)
		}
		if model.ComputeOid(data) != oid {
			return 0, nil, fmt.Errorf("%w: %s", ErrCorrupt, oid)
		}
		return kind, data, nil
	}
	if !os.IsNotExist(err) {
		return 0, nil, fmt.Errorf("objectstore: reading %s: %w", oid, err)
	}

	s.packMu.RLock()
	defer s.packMu.RUnlock()
	for _, r := range s.packs {
		if !r.Has(oid) {
			continue
		}
		kind, data, err := r.Get(oid)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, oid, err)
		}
		return kind, data, nil
	}

	return 0, nil, fmt.Errorf("%w: %s", ErrNotFound, oid)
}

// Has reports whether the store holds oid, loose or packed.
func (s *Store) Has(oid model.Oid) bool {
	if _, err := os.Stat(s.loosePath(oid)); err == nil {
		return true
	}
	return s.inPack(oid)
}

// PutChunk stores one content-defined chunk in the chunk area. The key is
// the chunk's own digest, so identical chunks across files and commits land
// on the same entry.
func (s *Store) PutChunk(c chunker.Chunk) error {
	path := s.chunkPath(c.Oid)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	framed := s.enc.EncodeAll(c.Data, nil)
	return s.writeAtomic(path, framed)
}

// GetChunk returns the bytes of one chunk, verified against its digest.
func (s *Store) GetChunk(oid model.Oid) ([]byte, error) {
	framed, err := os.ReadFile(s.chunkPath(oid))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, oid)
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: reading chunk %s: %w", oid, err)
	}
	data, err := s.dec.DecodeAll(framed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorrupt, oid, err)
	}
	if model.ComputeOid(data) != oid {
		return nil, fmt.Errorf("%w: chunk %s", ErrCorrupt, oid)
	}
	return data, nil
}

// HasChunk reports whether the chunk area holds oid.
func (s *Store) HasChunk(oid model.Oid) bool {
	_, err := os.Stat(s.chunkPath(oid))
	return err == nil
}

// StoreFileContent chunks data, persists the chunks concurrently, writes the
// chunk-list blob object and returns its Oid. This is the write path for
// every file that enters the object graph.
func (s *Store) StoreFileContent(data []byte) (model.Oid, error) {
	chunks, err := chunker.ChunkBytes(data)
	if err != nil {
		return model.Oid{}, fmt.Errorf("objectstore: chunking: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			return s.PutChunk(c)
		})
	}
	if err := g.Wait(); err != nil {
		return model.Oid{}, err
	}

	blob := &model.Blob{Size: uint64(len(data))}
	for _, c := range chunks {
		blob.Chunks = append(blob.Chunks, c.Oid)
	}
	blobData, _, err := model.EncodeBlob(blob)
	if err != nil {
		return model.Oid{}, err
	}
	return s.Put(model.KindBlob, blobData)
}

// ReadFileContent materializes a file from its chunk-list blob.
func (s *Store) ReadFileContent(blobOid model.Oid) ([]byte, error) {
	kind, data, err := s.Get(blobOid)
	if err != nil {
		return nil, err
	}
	if kind != model.KindBlob {
		return nil, fmt.Errorf("objectstore: %s is a %s, not a blob", blobOid, kind)
	}
	blob, err := model.DecodeBlob(data)
	if err != nil {
		return nil, err
	}

	content := make([]byte, 0, blob.Size)
	for _, chunkOid := range blob.Chunks {
		chunk, err := s.GetChunk(chunkOid)
		if err != nil {
			return nil, err
		}
		content = append(content, chunk...)
	}
	return content, nil
}

// PackLooseObjects moves loose objects smaller than threshold into a new
// sealed pack and removes their loose copies. Objects stay readable
// throughout: the pack index is registered before any loose file goes away.
func (s *Store) PackLooseObjects(threshold int) (int, error) {
	if threshold <= 0 {
		threshold = pack.DefaultSmallObjectThreshold
	}

	w := pack.NewWriter()
	var packedPaths []string

	root := filepath.Join(s.config.Root, looseDir)
	shards, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("objectstore: reading loose area: %w", err)
	}
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, shard.Name()))
		if err != nil {
			return 0, fmt.Errorf("objectstore: reading shard %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			oid, err := model.ParseOid(shard.Name() + f.Name())
			if err != nil {
				continue
			}
			kind, data, err := s.Get(oid)
			if err != nil {
				return 0, err
			}
			if len(data) >= threshold {
				continue
			}
			w.Add(oid, kind, data)
			packedPaths = append(packedPaths, filepath.Join(root, shard.Name(), f.Name()))
		}
	}

	if w.Count() == 0 {
		return 0, nil
	}

	_, idxPath, err := w.Seal(filepath.Join(s.config.Root, packsDir))
	if err != nil {
		return 0, err
	}
	reader, err := pack.OpenReader(idxPath)
	if err != nil {
		return 0, err
	}

	s.packMu.Lock()
	s.packs = append(s.packs, reader)
	s.packMu.Unlock()

	for _, p := range packedPaths {
		if err := os.Remove(p); err != nil {
			s.log.WithFields(logrus.Fields{
				"path": p,
			}).Warnf("could not remove packed loose object: %v", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"objects": w.Count(),
		"bytes":   w.Size(),
	}).Info("sealed loose objects into pack")
	return w.Count(), nil
}

func (s *Store) inPack(oid model.Oid) bool {
	s.packMu.RLock()
	defer s.packMu.RUnlock()
	for _, r := range s.packs {
		if r.Has(oid) {
			return true
		}
	}
	return false
}

func (s *Store) loosePath(oid model.Oid) string {
	dir, file := oid.Fanout()
	return filepath.Join(s.config.Root, looseDir, dir, file)
}

func (s *Store) chunkPath(oid model.Oid) string {
	dir, file := oid.Fanout()
	return filepath.Join(s.config.Root, chunkDir, dir, file)
}

// writeAtomic writes via a temp file and rename. Two concurrent writers of
// the same Oid both succeed; the content is identical by construction.
func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("objectstore: mkdir shard: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-obj-*")
	if err != nil {
		return fmt.Errorf("objectstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: renaming into place: %w", err)
	}
	return nil
}
