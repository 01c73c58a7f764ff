package tidestore

// pageBuffer is a single entry in a transaction's modified set: an owned,
// private, page-aligned buffer shadowing the mapped or on-disk image of
// one or more pages.
type pageBuffer struct {
	pageNum       uint64
	numberOfPages uint32
	data          []byte
	previous      []byte // the page view this buffer was copied from, if any
}

// pagesMap is an open-addressed, linear-probing table keyed by page_num.
// Used as a write transaction's modified set, and, in buffered mode, as
// its working set.
//
// Resize is deferred: load factor >= 3/4 only sets resizeRequired; the
// actual doubling-and-rehash happens on the *next* putNew call, so an
// in-flight getNext iteration never observes a resize mid-stride.
type pagesMap struct {
	buckets        []*pageBuffer
	count          int
	resizeRequired bool
}

func newPagesMap(initialBuckets int) *pagesMap {
	if initialBuckets < 8 {
		initialBuckets = 8
	}
	return &pagesMap{buckets: make([]*pageBuffer, initialBuckets)}
}

func (m *pagesMap) bucketFor(pageNum uint64, bucketCount int) int {
	return int(pageNum % uint64(bucketCount))
}

// putNew inserts pb, failing with KindInvalidArgument (DUPLICATE) if its
// page number is already present.
func (m *pagesMap) putNew(pb *pageBuffer) error {
	if m.resizeRequired {
		m.grow()
	}
	idx := m.bucketFor(pb.pageNum, len(m.buckets))
	for i := 0; i < len(m.buckets); i++ {
		slot := (idx + i) % len(m.buckets)
		if m.buckets[slot] == nil {
			m.buckets[slot] = pb
			m.count++
			if 4*m.count >= 3*len(m.buckets) {
				m.resizeRequired = true
			}
			return nil
		}
		if m.buckets[slot].pageNum == pb.pageNum {
			return newErr("pagesMap.putNew", KindInvalidArgument, "duplicate page_num in modified set")
		}
	}
	// Every slot scanned without finding a home or a match means the
	// table is entirely full; grow once more and retry.
	m.grow()
	return m.putNew(pb)
}

// lookup returns the entry for pageNum, if present.
func (m *pagesMap) lookup(pageNum uint64) (*pageBuffer, bool) {
	if len(m.buckets) == 0 {
		return nil, false
	}
	idx := m.bucketFor(pageNum, len(m.buckets))
	for i := 0; i < len(m.buckets); i++ {
		slot := (idx + i) % len(m.buckets)
		b := m.buckets[slot]
		if b == nil {
			return nil, false
		}
		if b.pageNum == pageNum {
			return b, true
		}
	}
	return nil, false
}

// tryAdd inserts a bare placeholder entry for pageNum if one isn't already
// present, reporting whether it added one.
func (m *pagesMap) tryAdd(pageNum uint64) bool {
	if _, ok := m.lookup(pageNum); ok {
		return false
	}
	_ = m.putNew(&pageBuffer{pageNum: pageNum, numberOfPages: 1})
	return true
}

// getNext iterates entries in bucket order. Pass a pointer to an int
// initialized to 0; it is advanced in place. Returns false once every
// bucket has been visited.
func (m *pagesMap) getNext(state *int) (*pageBuffer, bool) {
	for *state < len(m.buckets) {
		b := m.buckets[*state]
		*state++
		if b != nil {
			return b, true
		}
	}
	return nil, false
}

func (m *pagesMap) grow() {
	old := m.buckets
	next := make([]*pageBuffer, len(old)*2)
	for _, b := range old {
		if b == nil {
			continue
		}
		idx := int(b.pageNum % uint64(len(next)))
		for i := 0; i < len(next); i++ {
			slot := (idx + i) % len(next)
			if next[slot] == nil {
				next[slot] = b
				break
			}
		}
	}
	m.buckets = next
	m.resizeRequired = false
}
