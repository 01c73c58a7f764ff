package tidestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorMultiPageRunTagsContinuationPages(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	first, _, err := tx.allocatePage(3, 0, PageKindOverflow)
	require.NoError(t, err)

	meta, err := tx.getMetadata(first)
	require.NoError(t, err)
	assert.Equal(t, PageKindOverflow, meta.Kind)
	assert.Equal(t, uint32(3), meta.NumberOfPages)

	for _, cont := range []uint64{first + 1, first + 2} {
		m, err := tx.getMetadata(cont)
		require.NoError(t, err)
		assert.Equal(t, PageKindOverflow, m.Kind)
		assert.Equal(t, uint32(0), m.NumberOfPages)
	}
}

func TestAllocatorDoubleFreeRejected(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	p, _, err := tx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)

	require.NoError(t, tx.freePage(p))
	err = tx.freePage(p)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

// A page freed by one write transaction is not reused while an older read
// transaction (begun before the free) is still open; it becomes reusable
// only once that reader closes and a later writer sweeps the deferred
// free in.
func TestAllocatorDefersReclaimUntilOldestReaderCloses(t *testing.T) {
	db := openTestDB(t)

	setupTx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	p, _, err := setupTx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	require.NoError(t, setupTx.Commit())
	require.NoError(t, setupTx.Close())

	reader, err := db.Begin(TxRead)
	require.NoError(t, err)

	freeingTx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	require.NoError(t, freeingTx.freePage(p))
	require.NoError(t, freeingTx.Commit())
	require.NoError(t, freeingTx.Close())

	// The reader that predates the free is still open, so the next writer
	// must not reuse p yet.
	blockedTx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	other, _, err := blockedTx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	assert.NotEqual(t, p, other)
	require.NoError(t, blockedTx.Commit())
	require.NoError(t, blockedTx.Close())

	require.NoError(t, reader.Close())

	reusingTx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer reusingTx.Close()
	reused, _, err := reusingTx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	assert.Equal(t, p, reused)
}
