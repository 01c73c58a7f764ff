package tidestore

// pageStore is the page-level read/write boundary: get(tx, page_num,
// n_pages) returns a view, write(page_num, bytes, n_pages) persists one.
// mmap mode returns a view into the mapped region; writes always go
// through positional pal writes, never through a writable mapping, so
// crash semantics stay simple.
type pageStore struct {
	db *DB
}

// get returns a read-only view of nPages pages starting at pageNum. In
// mmap mode the view aliases the transaction's snapshot mapping; in
// buffered mode it aliases a freshly read, transaction-owned buffer
// recorded in the transaction's working set.
func (ps *pageStore) get(tx *Txn, pageNum uint64, nPages uint32) ([]byte, error) {
	if nPages == 0 {
		nPages = 1
	}
	size := int64(nPages) * PageSize
	offset := int64(pageNum) * PageSize

	if ps.db.options.AvoidMmapIO {
		if wb, ok := tx.working.lookup(pageNum); ok && wb.numberOfPages >= nPages {
			return wb.data[:size], nil
		}
		buf := make([]byte, size)
		if err := ps.db.handle.ReadFile(offset, buf); err != nil {
			return nil, wrapErr("pageStore.get", KindIO, err)
		}
		if err := ps.db.transform(buf, pageNum, directionDecode); err != nil {
			return nil, err
		}
		_ = tx.working.putNew(&pageBuffer{pageNum: pageNum, numberOfPages: nPages, data: buf})
		return buf, nil
	}

	if offset+size > tx.mapSize {
		return nil, newErr("pageStore.get", KindOutOfRange, "requested page range exceeds mapped size")
	}
	return tx.mapAddress[offset : offset+size], nil
}

// write issues a positional write of data (nPages*PageSize bytes) to the
// file at pageNum's offset. Always used for durability, regardless of
// page-store mode.
func (ps *pageStore) write(pageNum uint64, data []byte, nPages uint32) error {
	offset := int64(pageNum) * PageSize
	out := data
	if ps.db.hasTransform() {
		out = append([]byte(nil), data...)
		if err := ps.db.transform(out, pageNum, directionEncode); err != nil {
			return err
		}
	}
	if err := ps.db.handle.WriteFile(offset, out); err != nil {
		return wrapErr("pageStore.write", KindIO, err)
	}
	return nil
}
