package tidestore

import "github.com/tidestore/tidestore/pal"

// durabilityCommit implements the double-write commit protocol: every
// modified page except page 0 is written and fsynced first, then page 0
// (which carries both the metadata entry array and the file header) is
// written and fsynced last. A crash between the two leaves the previous
// header intact and pointing only at fully-written pages, so recovery
// never has to interpret a half-written commit.
func (db *DB) durabilityCommit(tx *Txn) error {
	hdr, save, err := tx.modifyFileHeader()
	if err != nil {
		return err
	}
	hdr.LastCommittedTxID = tx.id
	save(*hdr)

	var page0 *pageBuffer
	var state int
	for {
		pb, ok := tx.modified.getNext(&state)
		if !ok {
			break
		}
		if pb.pageNum == 0 {
			page0 = pb
			continue
		}
		if err := db.store.write(pb.pageNum, pb.data, pb.numberOfPages); err != nil {
			return err
		}
	}

	if err := db.handle.Fsync(); err != nil {
		return err
	}

	if page0 == nil {
		return newErr("durabilityCommit", KindCorruption, "write transaction committed without touching the file header")
	}
	if err := db.store.write(0, page0.data, 1); err != nil {
		return err
	}
	if err := db.handle.Fsync(); err != nil {
		return err
	}

	db.mu.Lock()
	db.header = decodeFileHeader(page0.data[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize])
	db.deferredFrees = append(db.deferredFrees, tx.pendingFrees...)
	grew := tx.numberOfPages < db.header.NumberOfPages
	db.mu.Unlock()

	if grew && !db.options.AvoidMmapIO {
		if err := db.growMapping(); err != nil {
			return err
		}
	}

	return nil
}

// growMapping maps a fresh view of the (now larger) file and publishes it
// as the current generation. The outgoing generation is left for its
// existing readers to release naturally; if nothing ever acquired it, it
// is unmapped right away instead of leaking.
func (db *DB) growMapping() error {
	size := db.handle.Size()
	span, err := db.handle.Mmap(0, size)
	if err != nil {
		return wrapErr("growMapping", KindIO, err)
	}
	next := &mmapGeneration{span: span, numberOfPages: uint64(size / PageSize)}

	db.mu.Lock()
	old := db.currentGen
	db.currentGen = next
	db.mu.Unlock()

	if old != nil && !old.buffered && old.refCount == 0 {
		_ = pal.Unmap(old.span)
	}
	return nil
}
