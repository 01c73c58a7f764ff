package tidestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxnCommitTwiceFails(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Commit())
	err = tx.Commit()
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestTxnReadTransactionCannotCommitOrAbort(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxRead)
	require.NoError(t, err)
	defer tx.Close()

	assert.True(t, IsKind(tx.Commit(), KindInvalidArgument))
	assert.True(t, IsKind(tx.Abort(), KindInvalidArgument))
}

func TestTxnAbortThenCommitFails(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	require.NoError(t, tx.Abort())
	err = tx.Commit()
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestTxnCloseIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)

	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close())
}

func TestTxnCloseAfterNoCommitAbortsImplicitly(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)

	tree, err := CreateTree(tx, 30)
	require.NoError(t, err)
	require.NoError(t, tree.Set(tx, []byte("k"), []byte("v")))

	require.NoError(t, tx.Close())

	tx2, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx2.Close()

	meta, err := tx2.getMetadata(tree.RootPage())
	require.NoError(t, err)
	assert.Equal(t, PageKindFree, meta.Kind, "uncommitted writes must not be visible after Close without Commit")
}

func TestTxnSecondConcurrentWriterIsBusy(t *testing.T) {
	db := openTestDB(t)
	tx1, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx1.Close()

	_, err = db.Begin(TxWrite)
	assert.True(t, IsKind(err, KindBusy))
}
