package recordstore

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/cachalotdb/store/internal/record"
)

// primaryIndex maps a primary-key scalar to the one record it addresses.
type primaryIndex struct {
	byKey map[record.Scalar]recordID
}

func newPrimaryIndex() *primaryIndex {
	return &primaryIndex{byKey: make(map[record.Scalar]recordID)}
}

// uniqueIndex is identical in shape to primaryIndex but is declared
// per-type, one per unique key field.
type uniqueIndex = primaryIndex

func newUniqueIndex() *uniqueIndex { return newPrimaryIndex() }

// dictIndex is an equality index: scalar -> bitmap of recordIDs carrying it.
type dictIndex struct {
	buckets map[record.Scalar]*roaring.Bitmap
}

func newDictIndex() *dictIndex {
	return &dictIndex{buckets: make(map[record.Scalar]*roaring.Bitmap)}
}

func (d *dictIndex) add(value record.Scalar, id recordID) {
	b, ok := d.buckets[value]
	if !ok {
		b = roaring.New()
		d.buckets[value] = b
	}
	b.Add(id)
}

func (d *dictIndex) remove(value record.Scalar, id recordID) {
	b, ok := d.buckets[value]
	if !ok {
		return
	}
	b.Remove(id)
	if b.IsEmpty() {
		delete(d.buckets, value)
	}
}

// lookup returns the bitmap for value, or nil if no record carries it.
func (d *dictIndex) lookup(value record.Scalar) *roaring.Bitmap {
	return d.buckets[value]
}

// lookupIn returns the union of the bitmaps for every value in values.
func (d *dictIndex) lookupIn(values []record.Scalar) *roaring.Bitmap {
	out := roaring.New()
	for _, v := range values {
		if b := d.buckets[v]; b != nil {
			out.Or(b)
		}
	}
	return out
}

// listIndex is a dictIndex used for list-index keys: every element of the
// list maps back to the owning record, so the same dict-index machinery
// (bucket per scalar, union for the multi-value contains() form) applies.
type listIndex = dictIndex

func newListIndex() *listIndex { return newDictIndex() }

// orderedEntry is one (key, recordID) pair stored in the ordered index's
// btree. Ties on key are broken by recordID. The arena reuses the
// recordIDs of removed or replaced records, so recordID order is not
// necessarily Put order.
type orderedEntry struct {
	key record.Scalar
	id  recordID
}

func orderedLess(a, b orderedEntry) bool {
	if !a.key.Equal(b.key) {
		return a.key.Less(b.key)
	}
	return a.id < b.id
}

// orderedIndex additionally maintains a btree of (key, id) pairs for range
// predicates, alongside the same bucket map a plain dictIndex would have
// (equality lookups on an ordered field are still O(1) via buckets).
type orderedIndex struct {
	dictIndex
	tree *btree.BTreeG[orderedEntry]
}

func newOrderedIndex() *orderedIndex {
	return &orderedIndex{
		dictIndex: *newDictIndex(),
		tree:      btree.NewG(32, orderedLess),
	}
}

func (o *orderedIndex) add(value record.Scalar, id recordID) {
	o.dictIndex.add(value, id)
	o.tree.ReplaceOrInsert(orderedEntry{key: value, id: id})
}

func (o *orderedIndex) remove(value record.Scalar, id recordID) {
	o.dictIndex.remove(value, id)
	o.tree.Delete(orderedEntry{key: value, id: id})
}

// rangeOp names the range predicate kind the ordered index evaluates.
type rangeOp int

const (
	RangeLT rangeOp = iota
	RangeLTE
	RangeGT
	RangeGTE
	RangeBetween
)

// scan walks the ordered index for op against lo (and hi, for Between),
// returning the matching recordIDs as a bitmap.
func (o *orderedIndex) scan(op rangeOp, lo, hi record.Scalar) *roaring.Bitmap {
	out := roaring.New()
	visit := func(e orderedEntry) bool {
		out.Add(e.id)
		return true
	}
	switch op {
	case RangeLT:
		o.tree.AscendLessThan(orderedEntry{key: lo}, visit)
	case RangeLTE:
		o.tree.AscendLessThan(orderedEntry{key: lo, id: ^recordID(0)}, visit)
	case RangeGT:
		o.tree.AscendGreaterOrEqual(orderedEntry{key: lo, id: ^recordID(0)}, visit)
	case RangeGTE:
		o.tree.AscendGreaterOrEqual(orderedEntry{key: lo}, visit)
	case RangeBetween:
		o.tree.AscendRange(orderedEntry{key: lo}, orderedEntry{key: hi, id: ^recordID(0)}, visit)
	}
	return out
}
