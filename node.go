package tidestore

import (
	"bytes"
	"encoding/binary"

	"github.com/tidestore/tidestore/varint"
)

// Slot-directory page layout for tree_leaf and tree_branch pages: a fixed
// 8-byte header, a packed array of 16-bit slot offsets growing upward from
// the header, and varint-length-prefixed entries packed from the end of
// the page growing downward. Slots are kept in key order, so slot index i
// doubles as the i'th key in sorted order and a binary search over slots
// is a binary search over keys.
//
//	[ count:2 | lower:2 | upper:2 | reserved:2 | slot0:2 | slot1:2 | ... | ... free ... | entryN | ... | entry0 ]
const nodeHeaderSize = 8

func nodeCount(buf []byte) int        { return int(binary.LittleEndian.Uint16(buf[0:2])) }
func nodeLower(buf []byte) int        { return int(binary.LittleEndian.Uint16(buf[2:4])) }
func nodeUpper(buf []byte) int        { return int(binary.LittleEndian.Uint16(buf[4:6])) }
func setNodeCount(buf []byte, v int)  { binary.LittleEndian.PutUint16(buf[0:2], uint16(v)) }
func setNodeLower(buf []byte, v int)  { binary.LittleEndian.PutUint16(buf[2:4], uint16(v)) }
func setNodeUpper(buf []byte, v int)  { binary.LittleEndian.PutUint16(buf[4:6], uint16(v)) }

func initNodePage(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	setNodeCount(buf, 0)
	setNodeLower(buf, nodeHeaderSize)
	setNodeUpper(buf, len(buf))
}

func slotOffset(i int) int { return nodeHeaderSize + i*2 }

func getSlot(buf []byte, i int) int {
	return int(binary.LittleEndian.Uint16(buf[slotOffset(i) : slotOffset(i)+2]))
}

func setSlot(buf []byte, i int, entryOff int) {
	binary.LittleEndian.PutUint16(buf[slotOffset(i):slotOffset(i)+2], uint16(entryOff))
}

func nodeFreeSpace(buf []byte) int {
	return nodeUpper(buf) - nodeLower(buf)
}

// leaf entries: varint(keyLen) key varint(valueLen) value
func encodeLeafEntry(key, value []byte) []byte {
	out := make([]byte, 0, varint.MaxLen+len(key)+varint.MaxLen+len(value))
	out = varint.Encode(uint64(len(key)), out)
	out = append(out, key...)
	out = varint.Encode(uint64(len(value)), out)
	out = append(out, value...)
	return out
}

func decodeLeafEntry(buf []byte) (key, value []byte) {
	rest, klen, err := varint.Decode(buf)
	if err != nil {
		return nil, nil
	}
	key = rest[:klen]
	rest = rest[klen:]
	rest2, vlen, err := varint.Decode(rest)
	if err != nil {
		return key, nil
	}
	value = rest2[:vlen]
	return key, value
}

// branch entries: varint(keyLen) key uint64(childPageNum)
func encodeBranchEntry(key []byte, child uint64) []byte {
	out := make([]byte, 0, varint.MaxLen+len(key)+8)
	out = varint.Encode(uint64(len(key)), out)
	out = append(out, key...)
	var childBuf [8]byte
	binary.LittleEndian.PutUint64(childBuf[:], child)
	out = append(out, childBuf[:]...)
	return out
}

func decodeBranchEntry(buf []byte) (key []byte, child uint64) {
	rest, klen, err := varint.Decode(buf)
	if err != nil {
		return nil, 0
	}
	key = rest[:klen]
	rest = rest[klen:]
	child = binary.LittleEndian.Uint64(rest[:8])
	return key, child
}

func entryKey(buf []byte, isLeaf bool, i int) []byte {
	off := getSlot(buf, i)
	entry := buf[off:]
	if isLeaf {
		k, _ := decodeLeafEntry(entry)
		return k
	}
	k, _ := decodeBranchEntry(entry)
	return k
}

// searchNode returns the index of the first slot whose key is >= key
// (the floor/ceiling search original_source's btree.stack.c performs),
// and whether that slot's key is an exact match.
func searchNode(buf []byte, isLeaf bool, key []byte) (index int, exact bool) {
	count := nodeCount(buf)
	lo, hi := 0, count
	for lo < hi {
		mid := (lo + hi) / 2
		cmp := bytes.Compare(entryKey(buf, isLeaf, mid), key)
		if cmp < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < count && bytes.Equal(entryKey(buf, isLeaf, lo), key) {
		return lo, true
	}
	return lo, false
}

// insertAt inserts entry's bytes at slot index, shifting subsequent slots
// right. Reports false if there isn't enough free space (caller must
// split).
func insertAt(buf []byte, index int, entry []byte) bool {
	need := 2 + len(entry)
	if nodeFreeSpace(buf) < need {
		return false
	}
	count := nodeCount(buf)
	lower := nodeLower(buf)
	upper := nodeUpper(buf) - len(entry)
	copy(buf[upper:], entry)

	// Shift slots [index, count) right by one to open a hole.
	copy(buf[slotOffset(index+1):slotOffset(count+1)], buf[slotOffset(index):slotOffset(count)])
	setSlot(buf, index, upper)

	setNodeLower(buf, lower+2)
	setNodeUpper(buf, upper)
	setNodeCount(buf, count+1)
	return true
}

func kindForLeaf(isLeaf bool) PageKind {
	if isLeaf {
		return PageKindTreeLeaf
	}
	return PageKindTreeBranch
}

// collectEntries returns every entry currently referenced by buf's slots,
// re-encoded, in slot (key) order.
func collectEntries(buf []byte, isLeaf bool) [][]byte {
	count := nodeCount(buf)
	entries := make([][]byte, count)
	for i := 0; i < count; i++ {
		rest := buf[getSlot(buf, i):]
		if isLeaf {
			k, v := decodeLeafEntry(rest)
			entries[i] = encodeLeafEntry(k, v)
		} else {
			k, child := decodeBranchEntry(rest)
			entries[i] = encodeBranchEntry(k, child)
		}
	}
	return entries
}

func entryKeyOf(entry []byte, isLeaf bool) []byte {
	if isLeaf {
		k, _ := decodeLeafEntry(entry)
		return k
	}
	k, _ := decodeBranchEntry(entry)
	return k
}

func insertEntrySlice(entries [][]byte, index int, entry []byte) [][]byte {
	entries = append(entries, nil)
	copy(entries[index+1:], entries[index:])
	entries[index] = entry
	return entries
}

// rewritePage clears buf and reinserts entries in order, failing with
// KindCorruption if any entry doesn't fit — a midpoint-by-count split can
// still overflow one half's own free-space budget when keys are large and
// unevenly distributed, even though the combined two-page budget fits.
func rewritePage(buf []byte, entries [][]byte) error {
	initNodePage(buf)
	for i, e := range entries {
		if !insertAt(buf, i, e) {
			return newErr("rewritePage", KindCorruption, "entry does not fit in its half of the split page")
		}
	}
	return nil
}

// insertOrSplit inserts entry (whose key is key) into buf in sorted
// position, replacing any existing exact-match slot. If the result still
// fits on one page, buf is rewritten in place and split is false. If not,
// buf is rewritten as the left half, a new page of the same kind is
// allocated for the right half, and the smallest key of the right half is
// returned as the separator to promote to the parent (spec: "promote the
// separator key — smallest key of the right sibling for leaves; the split
// key for branches").
func insertOrSplit(tx *Txn, pageNum uint64, buf []byte, isLeaf bool, key, entry []byte, treeID uint64) (rightPageNum uint64, separator []byte, split bool, err error) {
	idx, exact := searchNode(buf, isLeaf, key)
	entries := collectEntries(buf, isLeaf)
	if exact {
		entries = append(entries[:idx], entries[idx+1:]...)
	}
	entries = insertEntrySlice(entries, idx, entry)

	total := nodeHeaderSize
	for _, e := range entries {
		total += 2 + len(e)
	}
	if total <= len(buf) {
		if err := rewritePage(buf, entries); err != nil {
			return 0, nil, false, err
		}
		return 0, nil, false, nil
	}

	mid := len(entries) / 2
	left, right := entries[:mid], entries[mid:]
	if err := rewritePage(buf, left); err != nil {
		return 0, nil, false, err
	}

	rightPageNum, rightBuf, err := tx.allocatePage(1, pageNum, kindForLeaf(isLeaf))
	if err != nil {
		return 0, nil, false, err
	}
	metaEntry, save, err := tx.modifyMetadata(rightPageNum)
	if err != nil {
		return 0, nil, false, err
	}
	metaEntry.TreeID = treeID
	save(*metaEntry)

	if err := rewritePage(rightBuf, right); err != nil {
		return 0, nil, false, err
	}
	return rightPageNum, append([]byte(nil), entryKeyOf(right[0], isLeaf)...), true, nil
}
