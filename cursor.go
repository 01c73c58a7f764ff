package tidestore

// cursorFrame is one level of a Cursor's traversal stack: the page
// currently being visited at that level and which slot is selected.
// Grounded on the stack-of-page-references walk in
// original_source/ch16/code/btree.stack.c.
type cursorFrame struct {
	pageNum uint64
	buf     []byte
	isLeaf  bool
	index   int
	count   int
}

// Cursor walks a tree's leaves in key order without requiring leaf pages
// to carry next-sibling pointers: when a page is exhausted the stack pops
// to its parent and advances to the next child instead.
type Cursor struct {
	tx   *Txn
	root uint64
	tree *Tree

	stack []cursorFrame
}

func newCursor(tx *Txn, tree *Tree) *Cursor {
	return &Cursor{tx: tx, root: tree.rootPage, tree: tree}
}

func (c *Cursor) frame(pageNum uint64) (cursorFrame, error) {
	buf, _, err := c.tx.getPage(pageNum)
	if err != nil {
		return cursorFrame{}, err
	}
	meta, err := c.tx.getMetadata(pageNum)
	if err != nil {
		return cursorFrame{}, err
	}
	return cursorFrame{pageNum: pageNum, buf: buf, isLeaf: meta.Kind == PageKindTreeLeaf, count: nodeCount(buf)}, nil
}

func (c *Cursor) pushLeftmost(pageNum uint64) error {
	for {
		f, err := c.frame(pageNum)
		if err != nil {
			return err
		}
		c.stack = append(c.stack, f)
		if f.isLeaf {
			return nil
		}
		_, child := decodeBranchEntry(f.buf[getSlot(f.buf, 0):])
		pageNum = child
	}
}

func (c *Cursor) current() (key, value []byte, ok bool, err error) {
	if len(c.stack) == 0 {
		return nil, nil, false, nil
	}
	top := c.stack[len(c.stack)-1]
	if top.index >= top.count {
		return nil, nil, false, nil
	}
	entry := top.buf[getSlot(top.buf, top.index):]
	k, payload := decodeLeafEntry(entry)
	v, derr := c.tree.decodeValuePayload(c.tx, payload)
	if derr != nil {
		return nil, nil, false, derr
	}
	return k, v, true, nil
}

// First positions the cursor at the smallest key in the tree.
func (c *Cursor) First() (key, value []byte, ok bool, err error) {
	c.stack = c.stack[:0]
	if err := c.pushLeftmost(c.root); err != nil {
		return nil, nil, false, err
	}
	return c.current()
}

// Seek positions the cursor at the smallest key >= key.
func (c *Cursor) Seek(key []byte) (k, v []byte, ok bool, err error) {
	c.stack = c.stack[:0]
	pageNum := c.root
	for {
		f, ferr := c.frame(pageNum)
		if ferr != nil {
			return nil, nil, false, ferr
		}
		idx, exact := searchNode(f.buf, f.isLeaf, key)
		f.index = idx
		c.stack = append(c.stack, f)
		if f.isLeaf {
			break
		}
		childIdx := idx
		if !exact {
			if idx > 0 {
				childIdx = idx - 1
			} else {
				childIdx = 0
			}
		}
		c.stack[len(c.stack)-1].index = childIdx
		_, child := decodeBranchEntry(f.buf[getSlot(f.buf, childIdx):])
		pageNum = child
	}
	if top := c.stack[len(c.stack)-1]; top.index >= top.count {
		// key is past this leaf's last key; the answer is in a later leaf.
		return c.Next()
	}
	return c.current()
}

// Next advances the cursor to the next key in order.
func (c *Cursor) Next() (key, value []byte, ok bool, err error) {
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		top.index++
		if top.index < top.count {
			if top.isLeaf {
				return c.current()
			}
			_, child := decodeBranchEntry(top.buf[getSlot(top.buf, top.index):])
			if err := c.pushLeftmost(child); err != nil {
				return nil, nil, false, err
			}
			return c.current()
		}
		c.stack = c.stack[:len(c.stack)-1]
	}
	return nil, nil, false, nil
}
