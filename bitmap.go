package tidestore

import (
	"encoding/binary"
	"math/bits"
)

// bitmapView is a word-addressable overlay over a free-space bitmap's raw
// bytes. Bit i set means page i is free. Words are
// stored little-endian so bit 0 of word 0 is page 0.
type bitmapView struct {
	buf []byte
}

func (b bitmapView) totalBits() uint64 { return uint64(len(b.buf)) * 8 }

func (b bitmapView) wordCount() int { return len(b.buf) / 8 }

func (b bitmapView) word(i int) uint64 {
	return binary.LittleEndian.Uint64(b.buf[i*8 : i*8+8])
}

func (b bitmapView) setWord(i int, w uint64) {
	binary.LittleEndian.PutUint64(b.buf[i*8:i*8+8], w)
}

func (b bitmapView) isSet(pos uint64) bool {
	wi := pos / 64
	bi := pos % 64
	return b.word(int(wi))&(uint64(1)<<bi) != 0
}

func (b bitmapView) set(pos uint64, free bool) {
	wi := int(pos / 64)
	bi := pos % 64
	w := b.word(wi)
	if free {
		w |= uint64(1) << bi
	} else {
		w &^= uint64(1) << bi
	}
	b.setWord(wi, w)
}

// clearRange marks [start, start+n) as allocated (bits cleared).
func (b bitmapView) clearRange(start, n uint64) {
	for i := uint64(0); i < n; i++ {
		b.set(start+i, false)
	}
}

// setRange marks [start, start+n) as free (bits set).
func (b bitmapView) setRange(start, n uint64) {
	for i := uint64(0); i < n; i++ {
		b.set(start+i, true)
	}
}

// bitmapSearchState mirrors original_source/include/gavran/internal.h's
// bitmap_search_state_t: separate input/output/internal sections so the
// shift policies in isAcceptableMatch can mutate the candidate in place.
type bitmapSearchState struct {
	spaceRequired            uint64
	nearPosition             uint64
	foundPosition            uint64
	spaceAvailableAtPosition uint64
}

// bitmapSearch performs a word-at-a-time scan for the first run of
// spaceRequired consecutive free bits at or after nearPosition, wrapping
// around to the start of the bitmap once. It is a candidate only: the
// caller must still run isAcceptableMatch to avoid metadata pages.
func bitmapSearch(view bitmapView, spaceRequired, nearPosition uint64) (bitmapSearchState, bool) {
	total := view.totalBits()
	if spaceRequired == 0 || spaceRequired > total {
		return bitmapSearchState{}, false
	}

	start := nearPosition % total
	visited := uint64(0)
	pos := start
	var runStart uint64
	var runLen uint64
	inRun := false

	for visited < total*2 { // one full wrap plus slack to close a run that started near the end
		bitPos := pos % total
		if bitPos == 0 {
			inRun = false // a run cannot continue from the last bit into bit 0
		}
		free := view.isSet(bitPos)
		if free {
			if !inRun {
				runStart = bitPos
				runLen = 0
				inRun = true
			}
			runLen++
			if runLen >= spaceRequired {
				return bitmapSearchState{
					spaceRequired:            spaceRequired,
					nearPosition:             nearPosition,
					foundPosition:            runStart,
					spaceAvailableAtPosition: runLen,
				}, true
			}
		} else {
			inRun = false
		}
		pos++
		visited++
		if visited >= total && !inRun {
			break
		}
	}
	return bitmapSearchState{}, false
}

// isAcceptableSmallMatch implements
// original_source/ch06/code/bitmap.range.c:bitmap_is_acceptable_small_match.
func isAcceptableSmallMatch(s *bitmapSearchState) bool {
	if s.foundPosition&uint64(PagesInMetadataMask) == 0 {
		// Falls exactly on a metadata page; shift by one and shrink.
		s.foundPosition++
		s.spaceAvailableAtPosition--
		return s.spaceRequired <= s.spaceAvailableAtPosition
	}

	start := s.foundPosition &^ uint64(PagesInMetadataMask)
	end := (s.foundPosition + s.spaceRequired - 1) &^ uint64(PagesInMetadataMask)
	if start == end {
		return true // same 128-page block, nothing to do
	}

	newStart := start + PagesInMetadata + 1
	if newStart+s.spaceRequired > s.foundPosition+s.spaceAvailableAtPosition {
		return false // not enough room to shift past the next metadata page
	}
	s.spaceAvailableAtPosition -= newStart - s.foundPosition
	s.foundPosition = newStart
	return true
}

// isAcceptableMatch implements
// original_source/ch06/code/bitmap.range.c:bitmap_is_acceptable_match.
func isAcceptableMatch(s *bitmapSearchState) bool {
	if s.spaceRequired > s.spaceAvailableAtPosition {
		return false
	}
	if s.spaceRequired < PagesInMetadata {
		return isAcceptableSmallMatch(s)
	}

	size := s.foundPosition + s.spaceRequired
	if size%PagesInMetadata == 0 {
		return true // already ends just before a metadata page
	}

	newEnd := (s.foundPosition+s.spaceRequired)&^uint64(PagesInMetadataMask) + PagesInMetadata
	if newEnd > s.foundPosition+s.spaceAvailableAtPosition {
		return false
	}
	s.spaceAvailableAtPosition -= newEnd - s.foundPosition - s.spaceRequired
	s.foundPosition = newEnd - s.spaceRequired
	return true
}

// findAcceptableRun searches for a run and applies the shift policy,
// retrying forward past rejected candidates until the bitmap is exhausted.
func findAcceptableRun(view bitmapView, spaceRequired, nearPosition uint64) (uint64, bool) {
	total := view.totalBits()
	near := nearPosition % total
	tries := uint64(0)
	for tries < total {
		state, ok := bitmapSearch(view, spaceRequired, near)
		if !ok {
			return 0, false
		}
		if isAcceptableMatch(&state) {
			return state.foundPosition, true
		}
		// Move past this rejected run and keep looking.
		near = (state.foundPosition + 1) % total
		tries += state.spaceAvailableAtPosition + 1
	}
	return 0, false
}

// popcountFree reports how many bits in view are set (free), used by
// tests and diagnostics only.
func popcountFree(view bitmapView) uint64 {
	var n uint64
	for i := 0; i < view.wordCount(); i++ {
		n += uint64(bits.OnesCount64(view.word(i)))
	}
	return n
}
