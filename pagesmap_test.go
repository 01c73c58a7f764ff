package tidestore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPagesMapPutNewDuplicateFails(t *testing.T) {
	m := newPagesMap(8)
	require.NoError(t, m.putNew(&pageBuffer{pageNum: 5}))
	err := m.putNew(&pageBuffer{pageNum: 5})
	require.True(t, IsKind(err, KindInvalidArgument))
}

func TestPagesMapLookupHitAndMiss(t *testing.T) {
	m := newPagesMap(8)
	require.NoError(t, m.putNew(&pageBuffer{pageNum: 42, numberOfPages: 3}))

	got, ok := m.lookup(42)
	require.True(t, ok)
	require.EqualValues(t, 3, got.numberOfPages)

	_, ok = m.lookup(7)
	require.False(t, ok)
}

func TestPagesMapResizeVisitsEachInsertedPageOnce(t *testing.T) {
	m := newPagesMap(4)
	inserted := map[uint64]bool{}
	for i := uint64(0); i < 500; i++ {
		pn := i * 7 // spread out, some collisions mod small bucket counts
		require.NoError(t, m.putNew(&pageBuffer{pageNum: pn}))
		inserted[pn] = true
	}

	seen := map[uint64]int{}
	state := 0
	for {
		pb, ok := m.getNext(&state)
		if !ok {
			break
		}
		seen[pb.pageNum]++
	}

	require.Len(t, seen, len(inserted))
	for pn := range inserted {
		require.Equal(t, 1, seen[pn], "page_num %d should be visited exactly once", pn)
	}
}

func TestPagesMapTryAdd(t *testing.T) {
	m := newPagesMap(8)
	require.True(t, m.tryAdd(9))
	require.False(t, m.tryAdd(9))
	_, ok := m.lookup(9)
	require.True(t, ok)
}
