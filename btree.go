package tidestore

import "bytes"

// Tree is a B+tree index: the user-facing ordered map and, via Catalog,
// the schema catalog are both just a Tree underneath. RootPage changes
// whenever the root splits; callers that persist a tree's identity (the
// file header, for the root catalog; a schema record, for user trees)
// must re-read RootPage after every Set/Delete/CompareAndSwap and persist
// it if it changed.
type Tree struct {
	id       uint64
	rootPage uint64
}

// CreateTree allocates a single empty leaf page and returns a Tree
// handle bound to id (the logical index id recorded on every leaf and
// branch page of this tree; overflow pages holding its values are not
// tagged).
func CreateTree(tx *Txn, id uint64) (*Tree, error) {
	pageNum, buf, err := tx.allocateTreePage(PageKindTreeLeaf, 0, id)
	if err != nil {
		return nil, err
	}
	initNodePage(buf)
	return &Tree{id: id, rootPage: pageNum}, nil
}

// OpenTree wraps an existing root page as a Tree handle, for reattaching
// to a tree whose root page number was persisted elsewhere (a schema
// record, the file header's catalog pointer).
func OpenTree(id uint64, rootPage uint64) *Tree {
	return &Tree{id: id, rootPage: rootPage}
}

// ID returns the tree's logical index id.
func (t *Tree) ID() uint64 { return t.id }

// RootPage returns the tree's current root page number.
func (t *Tree) RootPage() uint64 { return t.rootPage }

// descend walks from the root to the leaf that would contain key,
// returning every page number visited (root first, leaf last). Pages are
// only read, never modified, during the walk.
func (t *Tree) descend(tx *Txn, key []byte) ([]uint64, error) {
	stack := []uint64{t.rootPage}
	pageNum := t.rootPage
	for {
		meta, err := tx.getMetadata(pageNum)
		if err != nil {
			return nil, err
		}
		if meta.Kind == PageKindTreeLeaf {
			return stack, nil
		}
		buf, _, err := tx.getPage(pageNum)
		if err != nil {
			return nil, err
		}
		pageNum = branchChildFor(buf, key)
		stack = append(stack, pageNum)
	}
}

// branchChildFor returns the child pointer to follow for key: the child
// of the largest slot whose key is <= key (slot 0's key may be empty,
// standing for "less than everything").
func branchChildFor(buf []byte, key []byte) uint64 {
	idx, exact := searchNode(buf, false, key)
	childIdx := idx
	if !exact {
		if idx > 0 {
			childIdx = idx - 1
		} else {
			childIdx = 0
		}
	}
	_, child := decodeBranchEntry(buf[getSlot(buf, childIdx):])
	return child
}

// Get returns the value stored for key, if present.
func (t *Tree) Get(tx *Txn, key []byte) ([]byte, bool, error) {
	stack, err := t.descend(tx, key)
	if err != nil {
		return nil, false, err
	}
	leaf := stack[len(stack)-1]
	buf, _, err := tx.getPage(leaf)
	if err != nil {
		return nil, false, err
	}
	idx, exact := searchNode(buf, true, key)
	if !exact {
		return nil, false, nil
	}
	_, payload := decodeLeafEntry(buf[getSlot(buf, idx):])
	v, err := t.decodeValuePayload(tx, payload)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set inserts or overwrites key's value, splitting pages and, if
// necessary, the root as it goes.
func (t *Tree) Set(tx *Txn, key, value []byte) error {
	stack, err := t.descend(tx, key)
	if err != nil {
		return err
	}
	payload, err := t.encodeValuePayload(tx, value)
	if err != nil {
		return err
	}
	return t.insertAlongStack(tx, stack, key, encodeLeafEntry(key, payload))
}

// insertAlongStack performs the leaf insert and, on overflow, promotes the
// split separator up through stack one level at a time; if the root
// itself must split, a new tree_branch root is allocated and t.rootPage
// is updated.
func (t *Tree) insertAlongStack(tx *Txn, stack []uint64, key, entry []byte) error {
	leafPageNum := stack[len(stack)-1]
	leafBuf, _, err := tx.modifyPage(leafPageNum)
	if err != nil {
		return err
	}

	rightPageNum, separator, split, err := insertOrSplit(tx, leafPageNum, leafBuf, true, key, entry, t.id)
	if err != nil {
		return err
	}

	i := len(stack) - 2
	for split && i >= 0 {
		parentPageNum := stack[i]
		parentBuf, _, perr := tx.modifyPage(parentPageNum)
		if perr != nil {
			return perr
		}
		rightPageNum, separator, split, err = insertOrSplit(tx, parentPageNum, parentBuf, false, separator, encodeBranchEntry(separator, rightPageNum), t.id)
		if err != nil {
			return err
		}
		i--
	}

	if split {
		newRootPageNum, newRootBuf, rerr := tx.allocateTreePage(PageKindTreeBranch, stack[0], t.id)
		if rerr != nil {
			return rerr
		}
		initNodePage(newRootBuf)
		insertAt(newRootBuf, 0, encodeBranchEntry(nil, stack[0]))
		insertAt(newRootBuf, 1, encodeBranchEntry(separator, rightPageNum))
		t.rootPage = newRootPageNum
	}
	return nil
}

// Delete removes key, reporting whether it was present. No merge or
// rebalance is performed on underflow and no page is freed: a page
// emptied by deletes stays in the tree (see DESIGN.md).
func (t *Tree) Delete(tx *Txn, key []byte) (bool, error) {
	stack, err := t.descend(tx, key)
	if err != nil {
		return false, err
	}
	leafPageNum := stack[len(stack)-1]
	buf, _, err := tx.modifyPage(leafPageNum)
	if err != nil {
		return false, err
	}
	idx, exact := searchNode(buf, true, key)
	if !exact {
		return false, nil
	}
	entries := collectEntries(buf, true)
	entries = append(entries[:idx], entries[idx+1:]...)
	if err := rewritePage(buf, entries); err != nil {
		return false, err
	}
	return true, nil
}

// CompareAndSwap mutates key's value to newValue only if its current
// value matches expected (nil meaning "key is absent"), reporting whether
// the swap happened and the value actually present afterward.
func (t *Tree) CompareAndSwap(tx *Txn, key, expected, newValue []byte) (swapped bool, actual []byte, err error) {
	stack, err := t.descend(tx, key)
	if err != nil {
		return false, nil, err
	}
	leafPageNum := stack[len(stack)-1]
	buf, _, err := tx.getPage(leafPageNum)
	if err != nil {
		return false, nil, err
	}
	idx, exact := searchNode(buf, true, key)
	var current []byte
	if exact {
		_, payload := decodeLeafEntry(buf[getSlot(buf, idx):])
		current, err = t.decodeValuePayload(tx, payload)
		if err != nil {
			return false, nil, err
		}
	}
	if !exact != (expected == nil) || !bytes.Equal(current, expected) {
		return false, append([]byte(nil), current...), nil
	}
	newPayload, err := t.encodeValuePayload(tx, newValue)
	if err != nil {
		return false, nil, err
	}
	if err := t.insertAlongStack(tx, stack, key, encodeLeafEntry(key, newPayload)); err != nil {
		return false, nil, err
	}
	return true, append([]byte(nil), newValue...), nil
}

// Scan visits every key/value pair from the smallest key >= start (or the
// very first key, if start is nil) in order, stopping early if fn returns
// false.
func (t *Tree) Scan(tx *Txn, start []byte, fn func(key, value []byte) bool) error {
	c := newCursor(tx, t)
	var key, value []byte
	var ok bool
	var err error
	if start == nil {
		key, value, ok, err = c.First()
	} else {
		key, value, ok, err = c.Seek(start)
	}
	for {
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(key, value) {
			return nil
		}
		key, value, ok, err = c.Next()
	}
}
