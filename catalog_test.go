package tidestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 6: catalog root. After a fresh database is created, the root
// catalog's "root" record is typed "container", lists the two index ids
// {2, 4}, and is the only record. A record carries one type for the whole
// record; no per-index type is stored.
func TestCatalogRootSchema(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	cat, err := OpenCatalog(tx)
	require.NoError(t, err)

	root, ok, err := cat.Lookup(tx, "root")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "root", root.Name)
	assert.Equal(t, "container", root.Type)
	assert.ElementsMatch(t, []uint64{2, 4}, root.IndexIDs)

	var all []SchemaRecord
	require.NoError(t, cat.All(tx, func(r SchemaRecord) bool {
		all = append(all, r)
		return true
	}))
	assert.Len(t, all, 1)
}

func TestCatalogRegisterAndLookup(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	cat, err := OpenCatalog(tx)
	require.NoError(t, err)

	id, err := cat.AllocateIndexID(tx)
	require.NoError(t, err)

	require.NoError(t, cat.Register(tx, SchemaRecord{Name: "users", Type: "btree", IndexIDs: []uint64{id}}))

	rec, ok, err := cat.Lookup(tx, "users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "btree", rec.Type)
	assert.Equal(t, []uint64{id}, rec.IndexIDs)

	dropped, err := cat.Drop(tx, "users")
	require.NoError(t, err)
	assert.True(t, dropped)

	_, ok, err = cat.Lookup(tx, "users")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogOpenFromReadTransactionAfterCreate(t *testing.T) {
	db := openTestDB(t)

	writeTx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	_, err = OpenCatalog(writeTx)
	require.NoError(t, err)
	require.NoError(t, writeTx.Commit())
	require.NoError(t, writeTx.Close())

	readTx, err := db.Begin(TxRead)
	require.NoError(t, err)
	defer readTx.Close()

	cat, err := OpenCatalog(readTx)
	require.NoError(t, err)
	_, ok, err := cat.Lookup(readTx, "root")
	require.NoError(t, err)
	assert.True(t, ok)
}
