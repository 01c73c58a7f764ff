package tidestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 1: allocate then read back page number.
func TestAllocateThenReadBackPageNumber(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	first, _, err := tx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)

	second, _, err := tx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), second)
}

// Scenario 2: out of space. Options {minimum_size=maximum_size=128KiB}
// (32 pages total, capped: growth past the preformatted file is refused).
// Pages 0 (header) and 1 (bitmap) are reserved at format time, leaving 30
// pages free; the 31st single-page allocation request must fail with
// NO_SPACE since it would require growing the file past maximum_size.
func TestOutOfSpace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out_of_space.tidestore")
	opts := DefaultOptions
	opts.MinimumSize = 128 * 1024
	opts.MaximumSize = 128 * 1024
	db, err := Open(path, opts)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	allocated := 0
	var lastErr error
	for i := 0; i < 64; i++ {
		_, _, err := tx.allocatePage(1, 0, PageKindOverflow)
		if err != nil {
			lastErr = err
			break
		}
		allocated++
	}

	require.Error(t, lastErr)
	assert.Equal(t, 30, allocated)
	assert.True(t, IsKind(lastErr, KindNoSpace))
}

// Scenario 3: reuse after free.
func TestReuseAfterFree(t *testing.T) {
	db := openTestDB(t)

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	p, _, err := tx.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)

	require.NoError(t, tx.freePage(p))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())

	tx2, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx2.Close()

	reused, _, err := tx2.allocatePage(1, 0, PageKindOverflow)
	require.NoError(t, err)
	assert.Equal(t, p, reused)
}

// Scenario 4: durability after crash.
func TestDurabilityAfterCrash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.tidestore")
	opts := DefaultOptions
	opts.MinimumSize = 4 * 1024 * 1024

	db, err := Open(path, opts)
	require.NoError(t, err)

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)

	buf, err := tx.rawModifyPage(3, 1)
	require.NoError(t, err)
	copy(buf, "Hello Gavran\x00")
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Close())

	// Simulate a crash: close without any further graceful shutdown step.
	require.NoError(t, db.Close())

	reopened, err := Open(path, opts)
	require.NoError(t, err)
	defer reopened.Close()

	readTx, err := reopened.Begin(TxRead)
	require.NoError(t, err)
	defer readTx.Close()

	readBuf, err := readTx.rawGetPage(3, 1)
	require.NoError(t, err)
	assert.Equal(t, "Hello Gavran", string(readBuf[:len("Hello Gavran")]))
}
