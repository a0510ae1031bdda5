package pack

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/pkg/model"
)

func TestSealAndReadBack(t *testing.T) {
	dir := t.TempDir()

	bodies := map[string][]byte{
		"one":   []byte("first object body"),
		"two":   []byte("second object body"),
		"three": make([]byte, 8192),
	}

	w := NewWriter()
	oids := make(map[string]model.Oid)
	for name, body := range bodies {
		oid := model.ComputeOid(body)
		oids[name] = oid
		w.Add(oid, model.KindBlob, body)
	}
	require.Equal(t, len(bodies), w.Count())

	packPath, idxPath, err := w.Seal(dir)
	require.NoError(t, err)
	assert.FileExists(t, packPath)
	assert.FileExists(t, idxPath)

	r, err := OpenReader(idxPath)
	require.NoError(t, err)
	require.Equal(t, len(bodies), r.Len())

	for name, body := range bodies {
		kind, data, err := r.Get(oids[name])
		require.NoError(t, err, "object %s", name)
		assert.Equal(t, model.KindBlob, kind)
		assert.Equal(t, body, data)
	}

	_, _, err = r.Get(model.ComputeOid([]byte("absent")))
	assert.Error(t, err)
}

func TestAddIsIdempotent(t *testing.T) {
	w := NewWriter()
	body := []byte("same object twice")
	oid := model.ComputeOid(body)

	w.Add(oid, model.KindBlob, body)
	w.Add(oid, model.KindBlob, body)
	assert.Equal(t, 1, w.Count())
	assert.Equal(t, len(body), w.Size())
}

func TestSealEmptyPackFails(t *testing.T) {
	w := NewWriter()
	_, _, err := w.Seal(t.TempDir())
	assert.Error(t, err)
}

func TestPackIsCompressed(t *testing.T) {
	dir := t.TempDir()

	// Highly compressible body.
	body := make([]byte, 64*1024)
	w := NewWriter()
	w.Add(model.ComputeOid(body), model.KindBlob, body)

	packPath, _, err := w.Seal(dir)
	require.NoError(t, err)

	info, err := os.Stat(packPath)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(body)))
}

func TestLoadDirSkipsSuperseded(t *testing.T) {
	dir := t.TempDir()

	w1 := NewWriter()
	w1.Add(model.ComputeOid([]byte("a")), model.KindBlob, []byte("a"))
	_, idx1, err := w1.Seal(dir)
	require.NoError(t, err)

	w2 := NewWriter()
	w2.Add(model.ComputeOid([]byte("b")), model.KindBlob, []byte("b"))
	_, _, err = w2.Seal(dir)
	require.NoError(t, err)

	readers, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, readers, 2)

	require.NoError(t, Supersede(idx1))
	readers, err = LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, readers, 1)
	assert.True(t, readers[0].Has(model.ComputeOid([]byte("b"))))
}

func TestCorruptPackBodyDetected(t *testing.T) {
	dir := t.TempDir()

	body := []byte("object body that will be corrupted")
	oid := model.ComputeOid(body)
	w := NewWriter()
	w.Add(oid, model.KindBlob, body)
	packPath, idxPath, err := w.Seal(dir)
	require.NoError(t, err)

	// Re-seal a different body under the same index to simulate on-disk
	// corruption of the pack data.
	other := NewWriter()
	other.Add(model.ComputeOid([]byte("x")), model.KindBlob, []byte("x"))
	otherPack, _, err := other.Seal(filepath.Join(dir, "other"))
	require.NoError(t, err)
	corrupted, err := os.ReadFile(otherPack)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(packPath, corrupted, 0o644))

	r, err := OpenReader(idxPath)
	require.NoError(t, err)
	_, _, err = r.Get(oid)
	assert.Error(t, err)
}

func TestLoadDirMissing(t *testing.T) {
	readers, err := LoadDir(filepath.Join(t.TempDir(), "nonexistent"))
	require.NoError(t, err)
	assert.Empty(t, readers)
}
