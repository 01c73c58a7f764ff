package tidestore

// bitmapAllocator ties the pure bit-twiddling in bitmap.go to the
// metadata layer and transaction engine, implementing the allocate/free
// entry points pages move through on their way into and out of use.
type bitmapAllocator struct{}

// allocate finds a run of n consecutive free pages near `near`, clears
// their bits, tags the first page's metadata entry with kind, and returns
// the first page number. Growing the file when the bitmap has room but
// the file doesn't yet is handled transparently.
func (a *bitmapAllocator) allocate(tx *Txn, n uint64, near uint64, kind PageKind) (uint64, error) {
	hdr, err := tx.getFileHeader()
	if err != nil {
		return 0, err
	}

	bitBuf, err := tx.rawModifyPage(hdr.BitmapRootPage, hdr.BitmapNumberOfPages)
	if err != nil {
		return 0, err
	}
	view := bitmapView{buf: bitBuf}

	pos, ok := findAcceptableRun(view, n, near)
	if !ok {
		return 0, newErr("bitmapAllocator.allocate", KindNoSpace, "no run of free pages satisfies the request")
	}

	if pos+n > hdr.NumberOfPages {
		if err := tx.db.ensureCapacity(tx, pos+n-1); err != nil {
			return 0, err
		}
	}

	view.clearRange(pos, n)

	entry, save, err := tx.modifyMetadata(pos)
	if err != nil {
		return 0, err
	}
	entry.Kind = kind
	entry.NumberOfPages = uint32(n)
	save(*entry)

	// Continuation pages of a multi-page run get a non-free marker too
	// (invariant 1), even though callers always address the run by its
	// first page; NumberOfPages == 0 distinguishes "continuation" from
	// "a one-page allocation of its own".
	for i := uint64(1); i < n; i++ {
		cont, saveCont, err := tx.modifyMetadata(pos + i)
		if err != nil {
			return 0, err
		}
		cont.Kind = kind
		cont.NumberOfPages = 0
		saveCont(*cont)
	}

	return pos, nil
}

// logicalFree marks a page's metadata entry free immediately but leaves its
// bitmap bit allocated; the bit itself is only released once no live
// reader could still be holding a reference into its pre-free contents
// (see Txn.sweepDeferredFrees and DESIGN.md's reclamation policy). Freeing
// an already-free page fails.
func (a *bitmapAllocator) logicalFree(tx *Txn, pageNum uint64) (uint32, error) {
	entry, err := tx.getMetadata(pageNum)
	if err != nil {
		return 0, err
	}
	if entry.Kind == PageKindFree {
		return 0, newErr("bitmapAllocator.logicalFree", KindInvalidArgument, "page is already free")
	}
	n := numberOfPagesFor(entry)

	metaEntry, save, err := tx.modifyMetadata(pageNum)
	if err != nil {
		return 0, err
	}
	metaEntry.Kind = PageKindFree
	metaEntry.NumberOfPages = 0
	metaEntry.TreeID = 0
	save(*metaEntry)
	return n, nil
}

// reclaimBits releases a previously logically-freed page's bitmap bits,
// making it reusable by future allocations. Only called from
// Txn.sweepDeferredFrees once it is safe to do so.
func (a *bitmapAllocator) reclaimBits(tx *Txn, pageNum uint64, n uint32) error {
	hdr, err := tx.getFileHeader()
	if err != nil {
		return err
	}
	bitBuf, err := tx.rawModifyPage(hdr.BitmapRootPage, hdr.BitmapNumberOfPages)
	if err != nil {
		return err
	}
	bitmapView{buf: bitBuf}.setRange(pageNum, uint64(n))
	return nil
}
