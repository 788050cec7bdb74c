package query

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/recordstore"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/storeerr"
)

// Store is the subset of *recordstore.Store the evaluator needs. Declared
// as an interface so tests can exercise the evaluator against a fake.
type Store interface {
	Description() schema.TypeDescription
	PrimaryLookup(record.Scalar) (uint32, bool)
	UniqueLookup(field string, value record.Scalar) (uint32, bool)
	DictBucket(field string, value record.Scalar) *roaring.Bitmap
	DictBucketsIn(field string, values []record.Scalar) *roaring.Bitmap
	OrderedScan(field string, op recordstore.RangeOp, lo, hi record.Scalar) (*roaring.Bitmap, bool)
	ListContains(field string, values []record.Scalar) (*roaring.Bitmap, bool)
	HasOrderedField(field string) bool
	HasListField(field string) bool
	HasDictField(field string) bool
	GetByID(id uint32) (record.Record, bool)
	Touch()
}

// Validate checks q's fields and operators against desc before evaluation,
// returning InvalidQuery on the first problem found.
func Validate(desc schema.TypeDescription, q Query) error {
	for _, block := range q.Or {
		for _, p := range block.Predicates {
			field, ok := desc.FieldByName(p.Field)
			if !ok {
				return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("unknown field %q", p.Field))
			}
			idx, isIndex := desc.IndexByName(p.Field)
			switch p.Op {
			case OpContains:
				if !isIndex || !idx.List {
					return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("contains used against non-list field %q", p.Field))
				}
			case OpLT, OpLTE, OpGT, OpGTE:
				if !isIndex || !idx.Ordered {
					return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("range operator used against non-ordered field %q", p.Field))
				}
			default:
				if isIndex && idx.List {
					return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("scalar operator used against list field %q", p.Field))
				}
			}
			if len(p.Values) == 0 {
				return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("predicate on %q carries no operand", p.Field))
			}
			for _, v := range p.Values {
				if v.Kind != field.Kind {
					return storeerr.New(storeerr.InvalidQuery, "Validate", fmt.Sprintf("field %q: operand kind %s != declared %s", p.Field, v.Kind, field.Kind))
				}
			}
		}
	}
	return nil
}

// Evaluate runs q against s, returning the bitmap of matching recordIDs.
// It is the single code path EvalQuery and GetMany both use, which is what
// makes their results structurally consistent.
func Evaluate(s Store, q Query) (*roaring.Bitmap, error) {
	desc := s.Description()
	if err := Validate(desc, q); err != nil {
		return nil, err
	}

	result := roaring.New()
	touched := false
	for _, block := range q.Or {
		ids, ok, err := evalAndBlock(s, desc, block)
		if err != nil {
			return nil, err
		}
		if ok {
			touched = true
		}
		result.Or(ids)
	}
	if touched {
		s.Touch()
	}
	return result, nil
}

// evalAndBlock picks a driving predicate, gets its candidate set, and
// filters the remaining predicates by reading each candidate record's key
// values directly (no further index lookups).
func evalAndBlock(s Store, desc schema.TypeDescription, block AndBlock) (*roaring.Bitmap, bool, error) {
	driveIdx, ok := pickDriver(s, desc, block.Predicates)
	if !ok {
		return nil, false, storeerr.New(storeerr.NotIndexable, "Evaluate", "and-block has no indexable predicate")
	}
	candidates := drive(s, block.Predicates[driveIdx])

	out := roaring.New()
	it := candidates.Iterator()
	any := false
	for it.HasNext() {
		id := it.Next()
		r, ok := s.GetByID(id)
		if !ok {
			continue
		}
		any = true
		matches := true
		for i, p := range block.Predicates {
			if i == driveIdx {
				continue
			}
			if !matchPredicate(r, p) {
				matches = false
				break
			}
		}
		if matches {
			out.Add(id)
		}
	}
	return out, any, nil
}

// pickDriver selects the cheapest driving predicate's index, in preference
// order: primary eq > unique eq > dict eq > ordered range > list contains.
func pickDriver(s Store, desc schema.TypeDescription, preds []Predicate) (int, bool) {
	rank := func(p Predicate) int {
		switch {
		case p.Op == OpEq && p.Field == desc.PrimaryKey.Name:
			return 0
		case p.Op == OpEq && desc.IsUnique(p.Field):
			return 1
		case (p.Op == OpEq || p.Op == OpIn) && s.HasDictField(p.Field):
			return 2
		case (p.Op == OpLT || p.Op == OpLTE || p.Op == OpGT || p.Op == OpGTE) && s.HasOrderedField(p.Field):
			return 3
		case p.Op == OpContains && s.HasListField(p.Field):
			return 4
		default:
			return -1
		}
	}
	best, bestRank := -1, 5
	for i, p := range preds {
		r := rank(p)
		if r >= 0 && r < bestRank {
			best, bestRank = i, r
		}
	}
	return best, best >= 0
}

// drive produces the driving predicate's candidate bitmap.
func drive(s Store, p Predicate) *roaring.Bitmap {
	switch p.Op {
	case OpEq:
		if p.Field == s.Description().PrimaryKey.Name {
			b := roaring.New()
			if id, ok := s.PrimaryLookup(p.Values[0]); ok {
				b.Add(id)
			}
			return b
		}
		if id, ok := s.UniqueLookup(p.Field, p.Values[0]); ok {
			b := roaring.New()
			b.Add(id)
			return b
		}
		if b := s.DictBucket(p.Field, p.Values[0]); b != nil {
			return b.Clone()
		}
		return roaring.New()
	case OpIn:
		return s.DictBucketsIn(p.Field, p.Values)
	case OpLT:
		b, _ := s.OrderedScan(p.Field, recordstore.OpLT, p.Values[0], record.Scalar{})
		return b
	case OpLTE:
		b, _ := s.OrderedScan(p.Field, recordstore.OpLTE, p.Values[0], record.Scalar{})
		return b
	case OpGT:
		b, _ := s.OrderedScan(p.Field, recordstore.OpGT, p.Values[0], record.Scalar{})
		return b
	case OpGTE:
		b, _ := s.OrderedScan(p.Field, recordstore.OpGTE, p.Values[0], record.Scalar{})
		return b
	case OpContains:
		b, _ := s.ListContains(p.Field, p.Values)
		return b
	default:
		return roaring.New()
	}
}

// matchPredicate filters a single candidate record against p by direct
// comparison against the record's own key values, without any index lookup.
func matchPredicate(r record.Record, p Predicate) bool {
	kv, ok := r.Get(p.Field)
	if !ok {
		return false
	}
	switch p.Op {
	case OpEq:
		return kv.Scalar.Equal(p.Values[0])
	case OpNeq:
		return !kv.Scalar.Equal(p.Values[0])
	case OpLT:
		return kv.Scalar.Less(p.Values[0])
	case OpLTE:
		return kv.Scalar.Less(p.Values[0]) || kv.Scalar.Equal(p.Values[0])
	case OpGT:
		return p.Values[0].Less(kv.Scalar)
	case OpGTE:
		return p.Values[0].Less(kv.Scalar) || kv.Scalar.Equal(p.Values[0])
	case OpIn:
		for _, v := range p.Values {
			if kv.Scalar.Equal(v) {
				return true
			}
		}
		return false
	case OpContains:
		for _, el := range kv.Elements {
			for _, v := range p.Values {
				if el.Equal(v) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}
