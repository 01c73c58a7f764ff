package tidestore

import "encoding/binary"

// PageSize is the fixed size of every page in the file.
const PageSize = 4096

// PagesInMetadata is the number of pages described by one metadata page:
// every 128 consecutive pages begins with a metadata page.
const PagesInMetadata = 128

// PagesInMetadataMask masks the low bits of a page number to find its
// containing metadata block (page_num & ~PagesInMetadataMask).
const PagesInMetadataMask = PagesInMetadata - 1

// metadataPageNumber returns the page number of the metadata page that
// covers pageNum.
func metadataPageNumber(pageNum uint64) uint64 {
	return pageNum &^ uint64(PagesInMetadataMask)
}

// metadataEntryIndex returns the index of pageNum's entry within its
// metadata page.
func metadataEntryIndex(pageNum uint64) uint64 {
	return pageNum & uint64(PagesInMetadataMask)
}

// PageKind tags how a page's body is interpreted: a closed sum type
// rather than open polymorphism, since the set of page kinds is fixed.
type PageKind uint8

const (
	PageKindFree PageKind = iota
	PageKindFileHeader
	PageKindMetadata
	PageKindFreeSpaceBitmap
	PageKindOverflow
	PageKindTreeLeaf
	PageKindTreeBranch
)

func (k PageKind) String() string {
	switch k {
	case PageKindFree:
		return "free"
	case PageKindFileHeader:
		return "file_header"
	case PageKindMetadata:
		return "metadata"
	case PageKindFreeSpaceBitmap:
		return "free_space_bitmap"
	case PageKindOverflow:
		return "overflow"
	case PageKindTreeLeaf:
		return "tree_leaf"
	case PageKindTreeBranch:
		return "tree_branch"
	default:
		return "unknown"
	}
}

// metadataEntrySize is the on-disk size of one MetadataEntry. 128 entries
// of this size occupy exactly half a page (2048 bytes); the remaining half
// of metadata page 0 holds the FileHeader (see fileHeaderOffset).
const metadataEntrySize = 16

// metadataEntriesAreaSize is the byte span, at the front of every metadata
// page, occupied by its 128 fixed-size entries.
const metadataEntriesAreaSize = PagesInMetadata * metadataEntrySize

// fileHeaderOffset is where the FileHeader lives within page 0, clear of
// the metadata entry array that also lives in page 0.
const fileHeaderOffset = metadataEntriesAreaSize

// MetadataEntry is the per-page sidecar record: kind, overflow/run
// length, and (for tree pages) the owning tree id.
type MetadataEntry struct {
	Kind          PageKind
	NumberOfPages uint32
	TreeID        uint64
}

func (e MetadataEntry) encode(buf []byte) {
	_ = buf[metadataEntrySize-1]
	buf[0] = byte(e.Kind)
	buf[1], buf[2], buf[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(buf[4:8], e.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[8:16], e.TreeID)
}

func decodeMetadataEntry(buf []byte) MetadataEntry {
	_ = buf[metadataEntrySize-1]
	return MetadataEntry{
		Kind:          PageKind(buf[0]),
		NumberOfPages: binary.LittleEndian.Uint32(buf[4:8]),
		TreeID:        binary.LittleEndian.Uint64(buf[8:16]),
	}
}

func entryOffset(index uint64) int {
	return int(index) * metadataEntrySize
}

// FileHeader is the file's single root of truth: magic, format version,
// total size, the last committed transaction id, and pointers to the
// catalog and free-space bitmap.
type FileHeader struct {
	Magic               uint64
	Version             uint16
	PageSizePower       uint8
	NumberOfPages       uint64
	LastCommittedTxID   uint64
	CatalogTreeID       uint64
	CatalogRootPage     uint64
	BitmapRootPage      uint64
	BitmapNumberOfPages uint32
	NextIndexID         uint64
	Checksum            uint32
}

// FileMagic identifies a tidestore file. Version must equal 1 for this
// format.
const (
	FileMagic   uint64 = 0x65726f7473656469 // little-endian tag, "idestore"
	FileVersion uint16 = 1
	pageSizePow uint8  = 12 // 2^12 == 4096
)

const fileHeaderEncodedSize = 68

func (h FileHeader) encode(buf []byte) {
	_ = buf[fileHeaderEncodedSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	buf[10] = h.PageSizePower
	buf[11] = 0
	binary.LittleEndian.PutUint64(buf[12:20], h.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[20:28], h.LastCommittedTxID)
	binary.LittleEndian.PutUint64(buf[28:36], h.CatalogTreeID)
	binary.LittleEndian.PutUint64(buf[36:44], h.CatalogRootPage)
	binary.LittleEndian.PutUint64(buf[44:52], h.BitmapRootPage)
	binary.LittleEndian.PutUint32(buf[52:56], h.BitmapNumberOfPages)
	binary.LittleEndian.PutUint64(buf[56:64], h.NextIndexID)
	binary.LittleEndian.PutUint32(buf[64:68], crc32Checksum(buf[:64]))
}

func decodeFileHeader(buf []byte) FileHeader {
	_ = buf[fileHeaderEncodedSize-1]
	return FileHeader{
		Magic:               binary.LittleEndian.Uint64(buf[0:8]),
		Version:             binary.LittleEndian.Uint16(buf[8:10]),
		PageSizePower:       buf[10],
		NumberOfPages:       binary.LittleEndian.Uint64(buf[12:20]),
		LastCommittedTxID:   binary.LittleEndian.Uint64(buf[20:28]),
		CatalogTreeID:       binary.LittleEndian.Uint64(buf[28:36]),
		CatalogRootPage:     binary.LittleEndian.Uint64(buf[36:44]),
		BitmapRootPage:      binary.LittleEndian.Uint64(buf[44:52]),
		BitmapNumberOfPages: binary.LittleEndian.Uint32(buf[52:56]),
		NextIndexID:         binary.LittleEndian.Uint64(buf[56:64]),
		Checksum:            binary.LittleEndian.Uint32(buf[64:68]),
	}
}

func (h FileHeader) checksumValid(buf []byte) bool {
	return h.Checksum == crc32Checksum(buf[:64])
}
