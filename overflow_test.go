package tidestore

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSetGetLargeValueSpillsToOverflowPages(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 20)
	require.NoError(t, err)

	big := make([]byte, PageSize*3)
	_, err = rand.New(rand.NewSource(1)).Read(big)
	require.NoError(t, err)

	require.NoError(t, tree.Set(tx, []byte("blob"), big))

	got, ok, err := tree.Get(tx, []byte("blob"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, big, got)
}

func TestTreeLargeValueRoundTripsWithCompression(t *testing.T) {
	path := t.TempDir() + "/overflow_compressed.tidestore"
	opts := DefaultOptions
	opts.Compression = CompressionSnappy
	db, err := Open(path, opts)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 21)
	require.NoError(t, err)

	value := bytes.Repeat([]byte("compressible-payload-"), 1000)
	require.NoError(t, tree.Set(tx, []byte("k"), value))

	got, ok, err := tree.Get(tx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value, got)
}

func TestTreeOverwriteLargeValueWithSmallOneGoesInline(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 22)
	require.NoError(t, err)

	big := bytes.Repeat([]byte("x"), maxInlineValueSize*2)
	require.NoError(t, tree.Set(tx, []byte("k"), big))

	small := []byte("tiny")
	require.NoError(t, tree.Set(tx, []byte("k"), small))

	got, ok, err := tree.Get(tx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, small, got)
}

func TestTreeScanResolvesOverflowValues(t *testing.T) {
	db := openTestDB(t)
	tx, err := db.Begin(TxWrite)
	require.NoError(t, err)
	defer tx.Close()

	tree, err := CreateTree(tx, 23)
	require.NoError(t, err)

	big := bytes.Repeat([]byte("y"), maxInlineValueSize*2)
	require.NoError(t, tree.Set(tx, []byte("a"), big))
	require.NoError(t, tree.Set(tx, []byte("b"), []byte("small")))

	seen := map[string]int{}
	require.NoError(t, tree.Scan(tx, nil, func(key, value []byte) bool {
		seen[string(key)] = len(value)
		return true
	}))

	assert.Equal(t, len(big), seen["a"])
	assert.Equal(t, len("small"), seen["b"])
}
