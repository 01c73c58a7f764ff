package tidestore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 5: B+tree split. Inserting 1024 sequential, zero-padded keys
// forces the root to split at least once, and every key must still read
// back correctly afterward.
func TestTreeSplitAndLookup(t *testing.T) {
	path := t.TempDir() + "/tree_split.tidestore"
	opts := DefaultOptions
	opts.MinimumSize = 4 * 1024 * 1024
	db, err := Open(path, opts)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 10)
	require.NoError(t, err)

	const n = 1024
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("%04d", i))
		value := []byte(fmt.Sprintf("%d", i))
		require.NoError(t, tree.Set(tx, key, value))
	}

	for j := 0; j < n; j++ {
		key := []byte(fmt.Sprintf("%04d", j))
		v, ok, err := tree.Get(tx, key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("%d", j), string(v))
	}

	sawBranch := false
	stack, err := tree.descend(tx, []byte("0000"))
	require.NoError(t, err)
	if len(stack) > 1 {
		sawBranch = true
	}
	assert.True(t, sawBranch, "root split should have produced at least one branch page")
}

func TestTreeScanIsOrdered(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 11)
	require.NoError(t, err)

	keys := []string{"delta", "bravo", "foxtrot", "alpha", "charlie"}
	for _, k := range keys {
		require.NoError(t, tree.Set(tx, []byte(k), []byte(k)))
	}

	var seen []string
	require.NoError(t, tree.Scan(tx, nil, func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	}))

	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "foxtrot"}, seen)
}

func TestTreeCompareAndSwap(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 12)
	require.NoError(t, err)

	swapped, _, err := tree.CompareAndSwap(tx, []byte("k"), nil, []byte("v1"))
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, actual, err := tree.CompareAndSwap(tx, []byte("k"), []byte("wrong"), []byte("v2"))
	require.NoError(t, err)
	assert.False(t, swapped)
	assert.Equal(t, []byte("v1"), actual)

	swapped, actual, err = tree.CompareAndSwap(tx, []byte("k"), []byte("v1"), []byte("v2"))
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, []byte("v2"), actual)
}

func TestTreeDelete(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 13)
	require.NoError(t, err)

	require.NoError(t, tree.Set(tx, []byte("k"), []byte("v")))
	existed, err := tree.Delete(tx, []byte("k"))
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err := tree.Get(tx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)

	existed, err = tree.Delete(tx, []byte("k"))
	require.NoError(t, err)
	assert.False(t, existed)
}
