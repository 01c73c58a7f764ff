package tidestore

import "github.com/tidestore/tidestore/varint"

// SchemaRecord is one entry in the root catalog: a name, the kind of
// resource it describes, and the logical index ids that resource owns.
type SchemaRecord struct {
	Name     string
	Type     string
	IndexIDs []uint64
}

// Catalog is the root schema catalog: a B+tree, itself registered in
// itself, whose keys are schema names and whose values describe what kind
// of resource that name refers to and which logical index ids it owns.
type Catalog struct {
	tree *Tree
}

// OpenCatalog returns the database's root catalog, creating it on first
// use. Creating it requires a write transaction; opening an
// already-created catalog works from either flavor.
func OpenCatalog(tx *Txn) (*Catalog, error) {
	hdr, err := tx.getFileHeader()
	if err != nil {
		return nil, err
	}
	if hdr.CatalogRootPage != 0 {
		return &Catalog{tree: OpenTree(hdr.CatalogTreeID, hdr.CatalogRootPage)}, nil
	}
	if tx.flags != TxWrite {
		return nil, newErr("OpenCatalog", KindInvalidArgument, "root catalog does not exist yet; create it from a write transaction")
	}
	return createCatalog(tx)
}

// createCatalog lays down the catalog tree and its own self-describing
// "root" entry. The bitmap claims logical index id 2 at format time (see
// DESIGN.md); the catalog claims the next id, 4, for itself here.
func createCatalog(tx *Txn) (*Catalog, error) {
	hdr, save, err := tx.modifyFileHeader()
	if err != nil {
		return nil, err
	}
	catalogID := hdr.NextIndexID
	tree, err := CreateTree(tx, catalogID)
	if err != nil {
		return nil, err
	}
	hdr.CatalogTreeID = catalogID
	hdr.CatalogRootPage = tree.RootPage()
	hdr.NextIndexID = catalogID + 2
	save(*hdr)

	cat := &Catalog{tree: tree}
	root := SchemaRecord{Name: "root", Type: "container", IndexIDs: []uint64{bitmapIndexID, catalogID}}
	if err := cat.Register(tx, root); err != nil {
		return nil, err
	}
	return cat, nil
}

// bitmapIndexID is the logical id the free-space bitmap reserves for
// itself at format time.
const bitmapIndexID = 2

// AllocateIndexID hands out and reserves the next logical index id,
// skipping one id as a reserved companion slot for whatever registers it
// (e.g. a future overflow or statistics page for the same resource).
func (c *Catalog) AllocateIndexID(tx *Txn) (uint64, error) {
	hdr, save, err := tx.modifyFileHeader()
	if err != nil {
		return 0, err
	}
	id := hdr.NextIndexID
	hdr.NextIndexID = id + 2
	save(*hdr)
	return id, nil
}

// Register writes or overwrites a schema record by name.
func (c *Catalog) Register(tx *Txn, rec SchemaRecord) error {
	if err := c.tree.Set(tx, []byte(rec.Name), encodeSchemaRecord(rec)); err != nil {
		return err
	}
	return c.persistRootPage(tx)
}

// Lookup returns the schema record for name, if any.
func (c *Catalog) Lookup(tx *Txn, name string) (SchemaRecord, bool, error) {
	v, ok, err := c.tree.Get(tx, []byte(name))
	if err != nil || !ok {
		return SchemaRecord{}, ok, err
	}
	rec := decodeSchemaRecord(v)
	rec.Name = name
	return rec, true, nil
}

// Drop removes a schema record by name, reporting whether it existed.
func (c *Catalog) Drop(tx *Txn, name string) (bool, error) {
	existed, err := c.tree.Delete(tx, []byte(name))
	if err != nil {
		return false, err
	}
	if existed {
		if err := c.persistRootPage(tx); err != nil {
			return false, err
		}
	}
	return existed, nil
}

// All visits every schema record in name order.
func (c *Catalog) All(tx *Txn, fn func(SchemaRecord) bool) error {
	return c.tree.Scan(tx, nil, func(key, value []byte) bool {
		rec := decodeSchemaRecord(value)
		rec.Name = string(key)
		return fn(rec)
	})
}

// persistRootPage writes the catalog tree's current root page back into
// the file header, in case the last mutation split the catalog's own
// root.
func (c *Catalog) persistRootPage(tx *Txn) error {
	hdr, save, err := tx.modifyFileHeader()
	if err != nil {
		return err
	}
	if hdr.CatalogRootPage == c.tree.RootPage() {
		return nil
	}
	hdr.CatalogRootPage = c.tree.RootPage()
	save(*hdr)
	return nil
}

func encodeSchemaRecord(r SchemaRecord) []byte {
	var buf []byte
	buf = appendVarintString(buf, r.Type)
	buf = appendVarint(buf, uint64(len(r.IndexIDs)))
	for _, id := range r.IndexIDs {
		buf = appendVarint(buf, id)
	}
	return buf
}

func decodeSchemaRecord(buf []byte) SchemaRecord {
	rest, typ := readVarintString(buf)
	rest, count := readVarint(rest)
	ids := make([]uint64, count)
	for i := range ids {
		rest, ids[i] = readVarint(rest)
	}
	return SchemaRecord{Type: typ, IndexIDs: ids}
}

func appendVarint(buf []byte, v uint64) []byte {
	return varint.Encode(v, buf)
}

func appendVarintString(buf []byte, s string) []byte {
	buf = appendVarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func readVarint(buf []byte) (rest []byte, v uint64) {
	rest, v, err := varint.Decode(buf)
	if err != nil {
		return buf, 0
	}
	return rest, v
}

func readVarintString(buf []byte) (rest []byte, s string) {
	rest, n := readVarint(buf)
	s = string(rest[:n])
	return rest[n:], s
}
