package tidestore

import (
	"os"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/tidestore/tidestore/pal"
)

// deferredFree is a free that cannot be applied to the bitmap yet because a
// still-live reader may be observing the page's old contents through an
// older mmap generation; it is swept in once no such reader remains (see
// Txn.sweepDeferredFrees and DESIGN.md).
type deferredFree struct {
	pageNum          uint64
	numberOfPages    uint32
	canFreeAfterTxID uint64
}

// mmapGeneration is one version of the file's memory mapping. Growing the
// file produces a new generation; the old one is kept mapped, refcounted,
// until the last transaction that observed it closes, matching "mmap spans
// are shared by concurrent read transactions; their lifetime equals the
// longest-living transaction that observes them".
type mmapGeneration struct {
	span          pal.Span
	numberOfPages uint64
	refCount      int32
	buffered      bool // true in AvoidMmapIO mode: no real mapping backs this generation
}

func (g *mmapGeneration) acquire() {
	atomic.AddInt32(&g.refCount, 1)
}

func (g *mmapGeneration) release() {
	if atomic.AddInt32(&g.refCount, -1) == 0 && !g.buffered {
		_ = pal.Unmap(g.span)
	}
}

// DB is a single open tidestore file: one writer at a time, any number of
// concurrent readers, each against its own immutable snapshot.
type DB struct {
	mu sync.Mutex

	handle  *pal.Handle
	options Options
	header  FileHeader

	store     *pageStore
	allocator *bitmapAllocator

	transformFn Transform

	currentGen   *mmapGeneration
	writerActive bool
	liveReaders  map[uint64]int

	deferredFrees []deferredFree

	maxPagesCapacity uint64

	closed bool
}

// Open creates the file at path if it does not exist, or validates and
// attaches to it if it does, per "create/open the file; extend to
// minimum_size if smaller".
func Open(path string, opts Options) (*DB, error) {
	if err := opts.validate("Open"); err != nil {
		return nil, err
	}

	existed := true
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, wrapErr("Open", KindIO, err)
		}
		existed = false
	}

	handle, err := pal.CreateFile(path, opts.palFlags())
	if err != nil {
		return nil, wrapErr("Open", KindIO, err)
	}

	if err := handle.SetFileSize(opts.MinimumSize, opts.MaximumSize); err != nil {
		handle.Close()
		return nil, wrapErr("Open", KindIO, err)
	}

	db := &DB{
		handle:      handle,
		options:     opts,
		liveReaders: make(map[uint64]int),
		allocator:   &bitmapAllocator{},
	}
	db.store = &pageStore{db: db}

	if len(opts.EncryptionKey) > 0 {
		transform, err := newAESCTRTransform(opts.EncryptionKey)
		if err != nil {
			handle.Close()
			return nil, err
		}
		db.transformFn = transform
	}

	db.maxPagesCapacity = computeCapacityPages(opts)

	if !existed || isZeroedHeader(db) {
		if err := db.format(); err != nil {
			handle.Close()
			return nil, err
		}
	} else {
		if err := db.recover(); err != nil {
			handle.Close()
			return nil, err
		}
	}

	if err := db.remap(); err != nil {
		handle.Close()
		return nil, err
	}

	log.WithFields(log.Fields{"path": path, "pages": db.header.NumberOfPages}).Info("tidestore: database open")
	return db, nil
}

// Create is Open with the expectation that path does not yet hold a valid
// tidestore file; it behaves identically to Open, so a path that already
// holds a valid file is opened as-is rather than reformatted. Kept as a
// distinct, explicit entry point for callers that want to
// state their intent, matching the convention of keeping an explicit Create entry point distinct from Open.
func Create(path string, opts Options) (*DB, error) {
	return Open(path, opts)
}

// isZeroedHeader reports whether page 0's on-disk header region is still
// all zero, i.e. nothing has ever been formatted into this file. Reading
// straight off the handle avoids standing up a Txn before the store exists.
func isZeroedHeader(db *DB) bool {
	buf := make([]byte, PageSize)
	if err := db.handle.ReadFile(0, buf); err != nil {
		return true
	}
	for _, b := range buf[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize] {
		if b != 0 {
			return false
		}
	}
	return true
}

// computeCapacityPages derives the fixed upper bound on number_of_pages a
// file can ever grow to without reformatting, and sizes the free-space
// bitmap to cover it in full up front (see DESIGN.md: "bitmap sized for
// capacity, not current size" resolves the otherwise circular dependency
// between growing the file and growing the bitmap that describes it).
func computeCapacityPages(opts Options) uint64 {
	var roughPages int64
	if opts.MaximumSize > 0 {
		roughPages = opts.MaximumSize / PageSize
	} else {
		roughPages = (opts.MinimumSize / PageSize) * 8
	}
	bitmapBytesNeeded := (roughPages + 7) / 8
	bitmapNumberOfPages := (bitmapBytesNeeded + PageSize - 1) / PageSize
	if bitmapNumberOfPages < 1 {
		bitmapNumberOfPages = 1
	}
	return uint64(bitmapNumberOfPages) * PageSize * 8
}

// format lays down a fresh file: page 0 is the metadata page carrying the
// file header, followed by the free-space bitmap sized for
// maxPagesCapacity. Every bit within that capacity is marked free, except
// positions that land on a future metadata-page boundary, which are left
// reserved (never free) since those pages can only ever hold a metadata
// page, not user data.
func (db *DB) format() error {
	bitmapNumberOfPages := uint32((db.maxPagesCapacity / 8) / PageSize)
	if bitmapNumberOfPages < 1 {
		bitmapNumberOfPages = 1
	}

	initialPages := uint64(db.handle.Size() / PageSize)
	neededPages := uint64(1 + bitmapNumberOfPages)
	if neededPages > initialPages {
		if err := db.handle.SetFileSize(int64(neededPages)*PageSize, db.options.MaximumSize); err != nil {
			return wrapErr("format", KindIO, err)
		}
		initialPages = neededPages
	}

	page0 := make([]byte, PageSize)
	MetadataEntry{Kind: PageKindFileHeader, NumberOfPages: 1}.encode(page0[entryOffset(0) : entryOffset(0)+metadataEntrySize])
	if uint64(1) < PagesInMetadata {
		MetadataEntry{Kind: PageKindFreeSpaceBitmap, NumberOfPages: bitmapNumberOfPages}.encode(
			page0[entryOffset(1) : entryOffset(1)+metadataEntrySize])
	}
	for i := uint32(1); i < bitmapNumberOfPages; i++ {
		idx := uint64(1 + i)
		if idx >= PagesInMetadata {
			break // covered by a later metadata page, handled when that region is formatted/grown
		}
		MetadataEntry{Kind: PageKindFreeSpaceBitmap}.encode(page0[entryOffset(idx) : entryOffset(idx)+metadataEntrySize])
	}

	hdr := FileHeader{
		Magic:               FileMagic,
		Version:             FileVersion,
		PageSizePower:       pageSizePow,
		NumberOfPages:       initialPages,
		LastCommittedTxID:   0,
		CatalogTreeID:       0,
		CatalogRootPage:     0, // 0 is a sentinel: catalog not yet created
		BitmapRootPage:      1,
		BitmapNumberOfPages: bitmapNumberOfPages,
		NextIndexID:         4, // 2 is reserved for the bitmap itself; the catalog claims 4 on first use
	}
	hdr.encode(page0[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize])

	if err := db.handle.WriteFile(0, page0); err != nil {
		return wrapErr("format", KindIO, err)
	}

	bitmapBuf := make([]byte, int64(bitmapNumberOfPages)*PageSize)
	view := bitmapView{buf: bitmapBuf}
	view.setRange(0, view.totalBits())
	// Pages 0 (header) and [1, 1+bitmapNumberOfPages) (the bitmap itself)
	// are never free.
	view.clearRange(0, uint64(1+bitmapNumberOfPages))
	for boundary := uint64(0); boundary < view.totalBits(); boundary += PagesInMetadata {
		view.set(boundary, false)
	}
	if err := db.handle.WriteFile(PageSize, bitmapBuf); err != nil {
		return wrapErr("format", KindIO, err)
	}

	if err := db.handle.Fsync(); err != nil {
		return wrapErr("format", KindIO, err)
	}

	db.header = hdr
	return nil
}

// recover validates the on-disk header against an already-existing file,
// per "the file header is validated at open; mismatches fail with
// WRONG_FORMAT" (mapped here to KindCorruption, the taxonomy's closest
// entry).
func (db *DB) recover() error {
	buf := make([]byte, PageSize)
	if err := db.handle.ReadFile(0, buf); err != nil {
		return wrapErr("recover", KindIO, err)
	}
	region := buf[fileHeaderOffset : fileHeaderOffset+fileHeaderEncodedSize]
	hdr := decodeFileHeader(region)
	if !hdr.checksumValid(region) {
		return newErr("recover", KindCorruption, "file header checksum mismatch")
	}
	if hdr.Magic != FileMagic {
		return newErr("recover", KindCorruption, "file header magic mismatch")
	}
	if hdr.Version != FileVersion {
		return newErr("recover", KindCorruption, "unsupported file format version")
	}
	db.header = hdr
	return nil
}

// remap (re)establishes the current mmap generation from the file's
// present size. In AvoidMmapIO mode this is a lightweight bookkeeping-only
// generation; no mapping is made.
func (db *DB) remap() error {
	size := db.handle.Size()
	if db.options.AvoidMmapIO {
		db.currentGen = &mmapGeneration{numberOfPages: uint64(size / PageSize), buffered: true}
		return nil
	}
	span, err := db.handle.Mmap(0, size)
	if err != nil {
		return wrapErr("remap", KindIO, err)
	}
	db.currentGen = &mmapGeneration{span: span, numberOfPages: uint64(size / PageSize)}
	return nil
}

// registerReader records that a read transaction at txID is live, for the
// deferred-free sweep's oldest-reader computation.
func (db *DB) registerReader(txID uint64) {
	db.mu.Lock()
	db.liveReaders[txID]++
	db.mu.Unlock()
}

func (db *DB) unregisterReader(txID uint64) {
	db.mu.Lock()
	db.liveReaders[txID]--
	if db.liveReaders[txID] <= 0 {
		delete(db.liveReaders, txID)
	}
	db.mu.Unlock()
}

// oldestLiveReaderLocked returns the smallest live reader transaction id,
// or the next write id if there are none (i.e. everything is reclaimable).
// Caller must hold db.mu.
func (db *DB) oldestLiveReaderLocked() uint64 {
	oldest := db.header.LastCommittedTxID + 1
	for id := range db.liveReaders {
		if id < oldest {
			oldest = id
		}
	}
	return oldest
}

// ensureCapacity grows the file, if necessary, so that throughPage is
// within number_of_pages, bounded by maximum_size. The bitmap was already
// sized to cover maxPagesCapacity at format time, so growth never touches
// the bitmap itself — it only extends the underlying file and initializes
// any newly-reachable metadata-page boundary as a proper metadata page.
func (db *DB) ensureCapacity(tx *Txn, throughPage uint64) error {
	hdr, savePtr, err := tx.modifyFileHeader()
	if err != nil {
		return err
	}
	if throughPage < hdr.NumberOfPages {
		return nil
	}
	if throughPage >= db.maxPagesCapacity {
		return newErr("ensureCapacity", KindNoSpace, "requested page exceeds the database's fixed capacity")
	}

	newNumberOfPages := throughPage + 1
	newSize := int64(newNumberOfPages) * PageSize
	if err := tx.db.handle.SetFileSize(newSize, tx.db.options.MaximumSize); err != nil {
		return wrapErr("ensureCapacity", KindNoSpace, err)
	}

	for boundary := hdr.NumberOfPages &^ uint64(PagesInMetadataMask); boundary < newNumberOfPages; boundary += PagesInMetadata {
		if boundary < hdr.NumberOfPages {
			continue
		}
		entry, save, err := tx.modifyMetadata(boundary)
		if err != nil {
			return err
		}
		entry.Kind = PageKindMetadata
		entry.NumberOfPages = 1
		save(*entry)
	}

	grown := *hdr
	grown.NumberOfPages = newNumberOfPages
	savePtr(grown)
	return nil
}

// Close flushes nothing beyond what Commit already guaranteed, releases the
// current mapping, and closes the underlying file. Safe to call more than
// once; later calls do nothing and return nil.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.currentGen != nil && !db.currentGen.buffered {
		_ = pal.Unmap(db.currentGen.span)
	}
	if err := db.handle.Close(); err != nil {
		return wrapErr("Close", KindIO, err)
	}
	return nil
}

// Begin starts a new transaction. flags == TxWrite fails at once with
// KindBusy if a writer is already active; it does not wait.
func (db *DB) Begin(flags TxFlags) (*Txn, error) {
	return db.create(flags)
}
