package mapdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windvcs/wind/pkg/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestShaMappingBothDirections(t *testing.T) {
	db := newTestDB(t)

	oid := model.ComputeOid([]byte("changeset"))
	sha := "aaaabbbbccccddddeeeeffff0000111122223333"

	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.InsertShaMapping(sha, oid)
	}))

	got, err := db.WindOid(sha)
	require.NoError(t, err)
	assert.Equal(t, oid, got)

	gotSha, err := db.GitSHA(oid)
	require.NoError(t, err)
	assert.Equal(t, sha, gotSha)
}

func TestMissingMappingIsNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.WindOid("0000000000000000000000000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.GitSHA(model.ComputeOid([]byte("nope")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNodePathMapping(t *testing.T) {
	db := newTestDB(t)
	id := model.NewNodeID()

	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.SetNodePath(id, "a.txt")
	}))

	require.NoError(t, db.View(func(tx *Txn) error {
		path, err := tx.PathForNode(id)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", path)

		got, err := tx.NodeForPath("a.txt")
		require.NoError(t, err)
		assert.Equal(t, id, got)
		return nil
	}))

	// A rename must retire the old reverse row.
	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.SetNodePath(id, "b/a.txt")
	}))
	require.NoError(t, db.View(func(tx *Txn) error {
		_, err := tx.NodeForPath("a.txt")
		assert.ErrorIs(t, err, ErrNotFound)
		got, err := tx.NodeForPath("b/a.txt")
		require.NoError(t, err)
		assert.Equal(t, id, got)
		return nil
	}))
}

func TestHistoryIsAppendOnlyAndOrdered(t *testing.T) {
	db := newTestDB(t)
	id := model.NewNodeID()

	events := []PathEvent{
		{Path: "a.txt", GitSHA: "sha1", Timestamp: 100},
		{Path: "b/a.txt", GitSHA: "sha2", Timestamp: 200},
		{Path: "c/a.txt", GitSHA: "sha3", Timestamp: 300},
	}
	for _, ev := range events {
		ev := ev
		require.NoError(t, db.Step(func(tx *Txn) error {
			return tx.AppendHistory(id, ev)
		}))
	}

	got, err := db.History(id)
	require.NoError(t, err)
	assert.Equal(t, events, got)
}

func TestStepRollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	id := model.NewNodeID()
	boom := errors.New("boom")

	err := db.Step(func(tx *Txn) error {
		if err := tx.SetNodePath(id, "x.txt"); err != nil {
			return err
		}
		if err := tx.InsertShaMapping("deadbeef", model.ComputeOid([]byte("cs"))); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Nothing from the failed step may be visible.
	require.NoError(t, db.View(func(tx *Txn) error {
		_, err := tx.PathForNode(id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, tx.HasSha("deadbeef"))
		return nil
	}))
}

func TestDeleteNodePath(t *testing.T) {
	db := newTestDB(t)
	id := model.NewNodeID()

	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.SetNodePath(id, "gone.txt")
	}))
	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.DeleteNodePath(id)
	}))
	require.NoError(t, db.View(func(tx *Txn) error {
		_, err := tx.PathForNode(id)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = tx.NodeForPath("gone.txt")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))

	// Deleting an absent node is a no-op.
	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.DeleteNodePath(model.NewNodeID())
	}))
}

func TestReimportIdempotencyHelpers(t *testing.T) {
	db := newTestDB(t)
	oid := model.ComputeOid([]byte("cs1"))

	require.NoError(t, db.Step(func(tx *Txn) error {
		return tx.InsertShaMapping("cafe", oid)
	}))
	require.NoError(t, db.View(func(tx *Txn) error {
		assert.True(t, tx.HasSha("cafe"))
		assert.True(t, tx.HasOid(oid))
		assert.False(t, tx.HasSha("face"))
		return nil
	}))
}
