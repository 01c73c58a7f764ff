package tidestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFreeBitmap(pages int) bitmapView {
	buf := make([]byte, pages/8)
	view := bitmapView{buf: buf}
	view.setRange(0, view.totalBits())
	return view
}

func TestBitmapSetClearRoundTrip(t *testing.T) {
	view := newFreeBitmap(512)
	assert.True(t, view.isSet(10))
	view.clearRange(10, 1)
	assert.False(t, view.isSet(10))
	view.setRange(10, 1)
	assert.True(t, view.isSet(10))
}

func TestBitmapSearchFindsFirstRun(t *testing.T) {
	view := newFreeBitmap(512)
	view.clearRange(0, 10) // pages 0..9 allocated

	state, ok := bitmapSearch(view, 3, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(10), state.foundPosition)
}

func TestBitmapSearchWrapsAround(t *testing.T) {
	view := newFreeBitmap(128)
	view.clearRange(4, 124) // only pages 0..3 free, before the search start

	state, ok := bitmapSearch(view, 4, 50)
	require.True(t, ok)
	assert.Equal(t, uint64(0), state.foundPosition)
}

func TestBitmapSearchFailsWhenNoRunFits(t *testing.T) {
	view := newFreeBitmap(128)
	view.clearRange(0, 128)
	view.setRange(0, 2) // only a 2-page run free

	_, ok := bitmapSearch(view, 3, 0)
	assert.False(t, ok)
}

func TestFindAcceptableRunAvoidsMetadataBoundary(t *testing.T) {
	buf := make([]byte, int(PagesInMetadata*4)/8)
	view := bitmapView{buf: buf} // everything allocated except...
	view.setRange(PagesInMetadata, 2)

	pos, ok := findAcceptableRun(view, 1, PagesInMetadata)
	require.True(t, ok)
	assert.NotEqual(t, uint64(0), pos&uint64(PagesInMetadataMask), "allocation must not land on a metadata page")
	assert.Equal(t, uint64(PagesInMetadata+1), pos)
}

func TestPopcountFreeMatchesSetBits(t *testing.T) {
	view := newFreeBitmap(128)
	view.clearRange(0, 100)
	assert.Equal(t, uint64(28), popcountFree(view))
}
