package tidestore

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// TxFlags selects a transaction's flavor.
type TxFlags int

const (
	// TxRead opens an immutable snapshot that may run concurrently with
	// any number of other readers and with one writer.
	TxRead TxFlags = iota
	// TxWrite opens the single, exclusive write transaction.
	TxWrite
)

type txState int

const (
	txCreated txState = iota
	txMutating
	txCommitted
	txAborted
	txClosed
)

// Txn is a single transaction: a copy-on-write modify set over an
// immutable snapshot view.
//
// Invalid-state misuse (modifying a free page, a second commit, a double
// free) is reported as KindInvalidArgument rather than a dedicated kind —
// the closest fit, and the one errors.go already uses for API misuse (see
// DESIGN.md).
type Txn struct {
	db    *DB
	flags TxFlags
	id    uint64
	state txState

	gen           *mmapGeneration
	mapAddress    []byte
	mapSize       int64
	numberOfPages uint64

	modified *pagesMap // write transactions only
	working  *pagesMap // buffered mode only (both flavors)

	sweep        []deferredFree // frees swept in from a prior transaction, applied first
	pendingFrees []deferredFree // frees this transaction itself performed, published at commit
}

// create builds a new Txn snapshotting the database's current committed
// state.
func (db *DB) create(flags TxFlags) (*Txn, error) {
	db.mu.Lock()
	if flags == TxWrite && db.writerActive {
		db.mu.Unlock()
		return nil, newErr("Txn.create", KindBusy, "a write transaction is already in progress")
	}
	if flags == TxWrite {
		db.writerActive = true
	}
	gen := db.currentGen
	gen.acquire()
	db.mu.Unlock()

	tx := &Txn{
		db:            db,
		flags:         flags,
		gen:           gen,
		mapAddress:    gen.span.Address,
		mapSize:       gen.span.Size,
		numberOfPages: gen.numberOfPages,
		state:         txCreated,
	}

	if db.options.AvoidMmapIO {
		tx.working = newPagesMap(8)
	}

	if flags == TxWrite {
		tx.id = db.header.LastCommittedTxID + 1
		tx.modified = newPagesMap(8)
		tx.state = txMutating
		tx.sweepDeferredFrees()
	} else {
		tx.id = db.header.LastCommittedTxID
		db.registerReader(tx.id)
	}

	return tx, nil
}

// sweepDeferredFrees folds in any frees that became eligible for reuse
// since the last writer ran (see DESIGN.md for the sweep-on-next-writer
// reclamation policy).
func (tx *Txn) sweepDeferredFrees() {
	tx.db.mu.Lock()
	oldest := tx.db.oldestLiveReaderLocked()
	var keep []deferredFree
	for _, f := range tx.db.deferredFrees {
		if f.canFreeAfterTxID < oldest {
			tx.sweep = append(tx.sweep, f)
		} else {
			keep = append(keep, f)
		}
	}
	tx.db.deferredFrees = keep
	tx.db.mu.Unlock()

	for _, f := range tx.sweep {
		_ = tx.db.allocator.reclaimBits(tx, f.pageNum, f.numberOfPages) // best effort; a failure here just leaves it deferred forever, acceptable for reclaimed space
	}
}

// rawGetPage returns the bytes for a page already known to be nPages long,
// preferring the transaction's own modified-set view of it.
func (tx *Txn) rawGetPage(pageNum uint64, nPages uint32) ([]byte, error) {
	if tx.modified != nil {
		if pb, ok := tx.modified.lookup(pageNum); ok {
			return pb.data, nil
		}
	}
	return tx.db.store.get(tx, pageNum, nPages)
}

// rawModifyPage returns a private, mutable buffer for nPages pages
// starting at pageNum, copy-on-write from the current contents.
func (tx *Txn) rawModifyPage(pageNum uint64, nPages uint32) ([]byte, error) {
	if tx.flags != TxWrite {
		return nil, newErr("Txn.rawModifyPage", KindInvalidArgument, "read transactions cannot modify pages")
	}
	if pb, ok := tx.modified.lookup(pageNum); ok {
		return pb.data, nil
	}
	if nPages == 0 {
		nPages = 1
	}
	original, err := tx.rawGetPage(pageNum, nPages)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int64(nPages)*PageSize)
	copy(buf, original)
	pb := &pageBuffer{pageNum: pageNum, numberOfPages: nPages, data: buf, previous: original}
	if err := tx.modified.putNew(pb); err != nil {
		return nil, err
	}
	return buf, nil
}

// getMetadata returns the metadata entry for pageNum.
func (tx *Txn) getMetadata(pageNum uint64) (MetadataEntry, error) {
	metaPage := metadataPageNumber(pageNum)
	buf, err := tx.rawGetPage(metaPage, 1)
	if err != nil {
		return MetadataEntry{}, err
	}
	if err := validateMetadataPageKind(buf, metaPage); err != nil {
		return MetadataEntry{}, err
	}
	idx := metadataEntryIndex(pageNum)
	return decodeMetadataEntry(buf[entryOffset(idx) : entryOffset(idx)+metadataEntrySize]), nil
}

// modifyMetadata returns a mutable view of pageNum's metadata entry inside
// the transaction's private copy of its metadata page.
func (tx *Txn) modifyMetadata(pageNum uint64) (*MetadataEntry, func(MetadataEntry), error) {
	metaPage := metadataPageNumber(pageNum)
	buf, err := tx.rawModifyPage(metaPage, 1)
	if err != nil {
		return nil, nil, err
	}
	if err := validateMetadataPageKind(buf, metaPage); err != nil {
		return nil, nil, err
	}
	idx := metadataEntryIndex(pageNum)
	entry := decodeMetadataEntry(buf[entryOffset(idx) : entryOffset(idx)+metadataEntrySize])
	save := func(e MetadataEntry) {
		e.encode(buf[entryOffset(idx) : entryOffset(idx)+metadataEntrySize])
	}
	return &entry, save, nil
}

// getFileHeader returns the current file header, read through this
// transaction's view of page 0.
func (tx *Txn) getFileHeader() (FileHeader, error) {
	buf, err := tx.rawGetPage(0, 1)
	if err != nil {
		return FileHeader{}, err
	}
	return decodeFileHeader(buf[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize]), nil
}

// modifyFileHeader returns a mutable view of the file header inside this
// write transaction's private copy of page 0.
func (tx *Txn) modifyFileHeader() (*FileHeader, func(FileHeader), error) {
	buf, err := tx.rawModifyPage(0, 1)
	if err != nil {
		return nil, nil, err
	}
	hdr := decodeFileHeader(buf[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize])
	save := func(h FileHeader) {
		h.encode(buf[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize])
	}
	return &hdr, save, nil
}

func validateMetadataPageKind(metaPageBuf []byte, metaPageNum uint64) error {
	kind := PageKind(metaPageBuf[0])
	if metaPageNum == 0 {
		if kind != PageKindFileHeader {
			return newErr("validateMetadataPageKind", KindCorruption, "page 0 does not carry a file_header kind")
		}
		return nil
	}
	if kind != PageKindMetadata {
		return newErr("validateMetadataPageKind", KindCorruption, "metadata page does not carry a metadata kind")
	}
	return nil
}

// getPage infers number_of_pages from the metadata entry before fetching.
func (tx *Txn) getPage(pageNum uint64) ([]byte, uint32, error) {
	meta, err := tx.getMetadata(pageNum)
	if err != nil {
		return nil, 0, err
	}
	n := numberOfPagesFor(meta)
	buf, err := tx.rawGetPage(pageNum, n)
	return buf, n, err
}

// modifyPage infers number_of_pages from the metadata entry before
// copy-on-write modifying. Modifying a free page is rejected.
func (tx *Txn) modifyPage(pageNum uint64) ([]byte, uint32, error) {
	meta, err := tx.getMetadata(pageNum)
	if err != nil {
		return nil, 0, err
	}
	if meta.Kind == PageKindFree {
		return nil, 0, newErr("Txn.modifyPage", KindInvalidArgument, "page is free; allocate it first")
	}
	n := numberOfPagesFor(meta)
	buf, err := tx.rawModifyPage(pageNum, n)
	return buf, n, err
}

func numberOfPagesFor(meta MetadataEntry) uint32 {
	switch meta.Kind {
	case PageKindOverflow, PageKindFreeSpaceBitmap:
		if meta.NumberOfPages == 0 {
			return 1
		}
		return meta.NumberOfPages
	default:
		return 1
	}
}

// allocatePage reserves n contiguous pages via the bitmap allocator,
// tags the metadata entry with kind, and returns its first page number
// plus a ready-to-modify buffer.
func (tx *Txn) allocatePage(n uint32, near uint64, kind PageKind) (uint64, []byte, error) {
	if tx.flags != TxWrite {
		return 0, nil, newErr("Txn.allocatePage", KindInvalidArgument, "read transactions cannot allocate")
	}
	pageNum, err := tx.db.allocator.allocate(tx, uint64(n), near, kind)
	if err != nil {
		return 0, nil, err
	}
	buf, err := tx.rawModifyPage(pageNum, n)
	if err != nil {
		return 0, nil, err
	}
	return pageNum, buf, nil
}

// allocateTreePage allocates a single page of kind (tree_leaf or
// tree_branch), tags it with treeID, and returns it ready to initialize.
func (tx *Txn) allocateTreePage(kind PageKind, near uint64, treeID uint64) (uint64, []byte, error) {
	pageNum, buf, err := tx.allocatePage(1, near, kind)
	if err != nil {
		return 0, nil, err
	}
	entry, save, err := tx.modifyMetadata(pageNum)
	if err != nil {
		return 0, nil, err
	}
	entry.TreeID = treeID
	save(*entry)
	return pageNum, buf, nil
}

// freePage releases pageNum back to the allocator. The metadata kind flips
// to free immediately, so this and all subsequent transactions see it as
// unallocated right away; the underlying bitmap bit is only released once
// no live reader could still hold a reference into its pre-free contents
// (see DESIGN.md's reclamation policy).
func (tx *Txn) freePage(pageNum uint64) error {
	if tx.flags != TxWrite {
		return newErr("Txn.freePage", KindInvalidArgument, "read transactions cannot free pages")
	}
	n, err := tx.db.allocator.logicalFree(tx, pageNum)
	if err != nil {
		return err
	}
	tx.pendingFrees = append(tx.pendingFrees, deferredFree{pageNum: pageNum, numberOfPages: n, canFreeAfterTxID: tx.id})
	return nil
}

// Commit publishes the transaction's modified set via the double-write
// protocol. Must be called at most once.
func (tx *Txn) Commit() error {
	if tx.flags != TxWrite {
		return newErr("Txn.Commit", KindInvalidArgument, "only write transactions can commit")
	}
	if tx.state != txMutating {
		return newErr("Txn.Commit", KindInvalidArgument, "transaction already committed or aborted")
	}

	if err := tx.db.durabilityCommit(tx); err != nil {
		return err
	}

	tx.state = txCommitted
	log.WithFields(log.Fields{"tx_id": tx.id}).Debug("tidestore: transaction committed")
	return nil
}

// Abort discards the transaction's modified set without publishing it.
func (tx *Txn) Abort() error {
	if tx.flags != TxWrite {
		return newErr("Txn.Abort", KindInvalidArgument, "only write transactions can abort")
	}
	if tx.state != txMutating {
		return newErr("Txn.Abort", KindInvalidArgument, "transaction already committed or aborted")
	}
	tx.state = txAborted
	return nil
}

// Close releases every modified buffer and the modified-set table. Safe
// to call repeatedly.
func (tx *Txn) Close() error {
	if tx.state == txClosed {
		return nil
	}

	if tx.flags == TxWrite && tx.state == txMutating {
		tx.state = txAborted
	}

	if tx.flags == TxWrite {
		tx.db.mu.Lock()
		tx.db.writerActive = false
		tx.db.mu.Unlock()
	} else {
		tx.db.unregisterReader(tx.id)
	}

	// The current generation stays mapped for the database (Close unmaps
	// it); only a generation already replaced by growMapping is unmapped
	// when its last transaction lets go of it.
	tx.db.mu.Lock()
	current := tx.gen == tx.db.currentGen
	if current {
		atomic.AddInt32(&tx.gen.refCount, -1)
	}
	tx.db.mu.Unlock()
	if !current {
		tx.gen.release()
	}
	tx.modified = nil
	tx.working = nil
	tx.state = txClosed
	return nil
}
