package tidestore

import "github.com/tidestore/tidestore/varint"

// maxInlineValueSize bounds how large a value can be before it spills to
// an overflow page run instead of living inline in its leaf entry. A
// quarter of a page leaves room for several such entries plus their keys
// on one leaf without forcing a split on every insert.
const maxInlineValueSize = PageSize / 4

const (
	valueMarkerInline   byte = 0
	valueMarkerOverflow byte = 1
)

// encodeValuePayload returns the bytes stored as a leaf entry's value:
// either a one-byte inline marker followed by value verbatim, or a
// one-byte overflow marker followed by a descriptor pointing at a
// compressed copy of value stored across one or more overflow pages.
func (t *Tree) encodeValuePayload(tx *Txn, value []byte) ([]byte, error) {
	if len(value) <= maxInlineValueSize {
		out := make([]byte, 0, 1+len(value))
		out = append(out, valueMarkerInline)
		return append(out, value...), nil
	}

	algo := tx.db.options.Compression
	compressed, err := compressPayload(algo, value)
	if err != nil {
		return nil, err
	}

	numberOfPages := uint32((len(compressed) + PageSize - 1) / PageSize)
	if numberOfPages == 0 {
		numberOfPages = 1
	}
	pageNum, buf, err := tx.allocatePage(numberOfPages, 0, PageKindOverflow)
	if err != nil {
		return nil, err
	}
	copy(buf, compressed)

	out := make([]byte, 0, 1+varint.MaxLen*4)
	out = append(out, valueMarkerOverflow)
	out = varint.Encode(uint64(len(value)), out)
	out = varint.Encode(uint64(len(compressed)), out)
	out = varint.Encode(pageNum, out)
	out = varint.Encode(uint64(algo), out)
	return out, nil
}

// decodeValuePayload reverses encodeValuePayload, reading and
// decompressing from overflow pages when the value spilled.
func (t *Tree) decodeValuePayload(tx *Txn, payload []byte) ([]byte, error) {
	if len(payload) == 0 || payload[0] == valueMarkerInline {
		return append([]byte(nil), payload[1:]...), nil
	}

	rest := payload[1:]
	rest, originalLen, err := varint.Decode(rest)
	if err != nil {
		return nil, wrapErrf("Tree.decodeValuePayload", KindCorruption, err, "decoding original_len field")
	}
	rest, storedLen, err := varint.Decode(rest)
	if err != nil {
		return nil, wrapErrf("Tree.decodeValuePayload", KindCorruption, err, "decoding stored_len field")
	}
	rest, pageNum, err := varint.Decode(rest)
	if err != nil {
		return nil, wrapErrf("Tree.decodeValuePayload", KindCorruption, err, "decoding page_num field")
	}
	_, algo, err := varint.Decode(rest)
	if err != nil {
		return nil, wrapErrf("Tree.decodeValuePayload", KindCorruption, err, "decoding compression_algo field")
	}

	buf, _, err := tx.getPage(pageNum)
	if err != nil {
		return nil, err
	}
	if uint64(len(buf)) < storedLen {
		return nil, newErr("Tree.decodeValuePayload", KindCorruption, "overflow page run shorter than recorded length")
	}
	value, err := decompressPayload(CompressionAlgorithm(algo), buf[:storedLen])
	if err != nil {
		return nil, err
	}
	if uint64(len(value)) != originalLen {
		return nil, newErr("Tree.decodeValuePayload", KindCorruption, "decompressed overflow value has unexpected length")
	}
	return value, nil
}
