// Package recordstore implements the per-type record store: the arena of
// live records plus the primary, unique, dictionary, ordered and
// list-index structures derived from the type's TypeDescription.
package recordstore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/storeerr"
)

// Store holds every live record of one registered type, plus its indexes.
// All index mutation happens under mu; readers take the read lock.
type Store struct {
	desc schema.TypeDescription

	mu sync.RWMutex

	arena   *arena
	primary *primaryIndex
	unique  map[string]*uniqueIndex // keyed by unique field name
	dict    map[string]*dictIndex   // keyed by index field name (unordered, scalar)
	ordered map[string]*orderedIndex
	list    map[string]*listIndex // keyed by index field name (list)

	hitCount atomic.Int64
}

// New constructs an empty Store for desc, with one index per declared
// unique key and index field.
func New(desc schema.TypeDescription) *Store {
	s := &Store{
		desc:    desc,
		arena:   newArena(),
		primary: newPrimaryIndex(),
		unique:  make(map[string]*uniqueIndex, len(desc.UniqueKeys)),
		dict:    make(map[string]*dictIndex),
		ordered: make(map[string]*orderedIndex),
		list:    make(map[string]*listIndex),
	}
	for _, f := range desc.UniqueKeys {
		s.unique[f.Name] = newUniqueIndex()
	}
	for _, idx := range desc.Indexes {
		switch {
		case idx.List:
			s.list[idx.Field.Name] = newListIndex()
		case idx.Ordered:
			s.ordered[idx.Field.Name] = newOrderedIndex()
		default:
			s.dict[idx.Field.Name] = newDictIndex()
		}
	}
	return s
}

// Description returns the type's immutable schema.
func (s *Store) Description() schema.TypeDescription { return s.desc }

// Put inserts r, or replaces the existing record sharing its primary key.
// A replacing Put fully unindexes the old record before indexing the new
// one, under the same write-lock critical section, so no concurrent reader
// ever observes the old and new record both indexed, or neither indexed.
func (s *Store) Put(r record.Record) error {
	if err := record.Validate(s.desc, r); err != nil {
		return err
	}
	r = r.Clone()
	primary := r.Primary()

	s.mu.Lock()
	defer s.mu.Unlock()

	if oldID, exists := s.primary.byKey[primary.Scalar]; exists {
		old, _ := s.arena.get(oldID)
		s.unindex(old, oldID)
		s.arena.retire(oldID)
	}

	id := s.arena.put(r)
	s.index(r, id)
	return nil
}

// index adds r (already stored at id) to every declared index.
func (s *Store) index(r record.Record, id recordID) {
	s.primary.byKey[r.Primary().Scalar] = id
	for name, ui := range s.unique {
		if kv, ok := r.Get(name); ok {
			ui.byKey[kv.Scalar] = id
		}
	}
	for name, di := range s.dict {
		if kv, ok := r.Get(name); ok {
			di.add(kv.Scalar, id)
		}
	}
	for name, oi := range s.ordered {
		if kv, ok := r.Get(name); ok {
			oi.add(kv.Scalar, id)
		}
	}
	for name, li := range s.list {
		if kv, ok := r.Get(name); ok {
			for _, el := range kv.Elements {
				li.add(el, id)
			}
		}
	}
}

// unindex removes r (still stored at id) from every declared index.
func (s *Store) unindex(r record.Record, id recordID) {
	delete(s.primary.byKey, r.Primary().Scalar)
	for name, ui := range s.unique {
		if kv, ok := r.Get(name); ok {
			delete(ui.byKey, kv.Scalar)
		}
	}
	for name, di := range s.dict {
		if kv, ok := r.Get(name); ok {
			di.remove(kv.Scalar, id)
		}
	}
	for name, oi := range s.ordered {
		if kv, ok := r.Get(name); ok {
			oi.remove(kv.Scalar, id)
		}
	}
	for name, li := range s.list {
		if kv, ok := r.Get(name); ok {
			for _, el := range kv.Elements {
				li.remove(el, id)
			}
		}
	}
}

// Remove deletes the record with the given primary-key scalar.
// Returns a storeerr NotFound error if no such record exists.
func (s *Store) Remove(primaryKey record.Scalar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.primary.byKey[primaryKey]
	if !ok {
		return storeerr.New(storeerr.NotFound, "Remove", fmt.Sprintf("primary key %v not found", primaryKey))
	}
	r, _ := s.arena.get(id)
	s.unindex(r, id)
	s.arena.retire(id)
	return nil
}

// GetOne returns the record for the given primary or unique key name/value,
// or (zero, false) if none. A successful lookup that finds a record
// increments the type's hit counter.
func (s *Store) GetOne(keyName string, value record.Scalar) (record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var id recordID
	var ok bool
	if keyName == s.desc.PrimaryKey.Name {
		id, ok = s.primary.byKey[value]
	} else if ui, known := s.unique[keyName]; known {
		id, ok = ui.byKey[value]
	}
	if !ok {
		return record.Record{}, false
	}
	r, ok := s.arena.get(id)
	if ok {
		s.hitCount.Add(1)
	}
	return r, ok
}

// GetByID returns the live record at id, for use by the query evaluator,
// which already holds recordIDs from index lookups.
func (s *Store) GetByID(id recordID) (record.Record, bool) {
	return s.arena.get(id)
}

// Snapshot returns every live recordID, for full-type scans such as Dump.
func (s *Store) Snapshot() *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := roaring.New()
	for id, live := range s.arena.live {
		if live {
			out.Add(recordID(id))
		}
	}
	return out
}

// RLock/RUnlock/Lock/Unlock expose the store's lock to callers (package
// server, around query evaluation) that need to hold it across multiple
// index lookups without tearing the lock down between them.
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }

// Touch increments the hit counter; used by the query evaluator after a
// GetMany/EvalQuery pass that visited at least one record.
func (s *Store) Touch() { s.hitCount.Add(1) }

// Count returns the number of currently live records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.arena.count()
}

// HitCount returns the number of successful reads since the last Truncate.
func (s *Store) HitCount() int64 { return s.hitCount.Load() }

// Truncate clears every record and every index, and resets the hit counter.
func (s *Store) Truncate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.arena.reset()
	s.primary = newPrimaryIndex()
	for name := range s.unique {
		s.unique[name] = newUniqueIndex()
	}
	for name := range s.dict {
		s.dict[name] = newDictIndex()
	}
	for name := range s.ordered {
		s.ordered[name] = newOrderedIndex()
	}
	for name := range s.list {
		s.list[name] = newListIndex()
	}
	s.hitCount.Store(0)
}

// DictBucket returns the bitmap for an equality lookup on a scalar index
// field, or nil. Exported for the query evaluator (package query). Ordered
// fields keep their own bucket map (orderedIndex embeds a dictIndex), so an
// equality lookup on an ordered field is served from there instead.
func (s *Store) DictBucket(field string, value record.Scalar) *roaring.Bitmap {
	if di, ok := s.dict[field]; ok {
		return di.lookup(value)
	}
	if oi, ok := s.ordered[field]; ok {
		return oi.dictIndex.lookup(value)
	}
	return nil
}

// DictBucketsIn returns the union of buckets for every value in values.
func (s *Store) DictBucketsIn(field string, values []record.Scalar) *roaring.Bitmap {
	if di, ok := s.dict[field]; ok {
		return di.lookupIn(values)
	}
	if oi, ok := s.ordered[field]; ok {
		return oi.dictIndex.lookupIn(values)
	}
	return roaring.New()
}

// UniqueLookup resolves an equality predicate on a declared unique key.
func (s *Store) UniqueLookup(field string, value record.Scalar) (recordID, bool) {
	if ui, ok := s.unique[field]; ok {
		id, ok := ui.byKey[value]
		return id, ok
	}
	return 0, false
}

// PrimaryLookup resolves an equality predicate on the primary key.
func (s *Store) PrimaryLookup(value record.Scalar) (recordID, bool) {
	id, ok := s.primary.byKey[value]
	return id, ok
}

// OrderedScan evaluates a range predicate against an ordered index field.
func (s *Store) OrderedScan(field string, op rangeOp, lo, hi record.Scalar) (*roaring.Bitmap, bool) {
	oi, ok := s.ordered[field]
	if !ok {
		return nil, false
	}
	return oi.scan(op, lo, hi), true
}

// ListContains evaluates a contains predicate against a list-index field,
// unioning the buckets for every operand.
func (s *Store) ListContains(field string, values []record.Scalar) (*roaring.Bitmap, bool) {
	li, ok := s.list[field]
	if !ok {
		return nil, false
	}
	return li.lookupIn(values), true
}

// HasOrderedField reports whether field is a declared ordered index.
func (s *Store) HasOrderedField(field string) bool {
	_, ok := s.ordered[field]
	return ok
}

// HasListField reports whether field is a declared list index.
func (s *Store) HasListField(field string) bool {
	_, ok := s.list[field]
	return ok
}

// HasDictField reports whether field is a declared scalar (dict or ordered) index.
func (s *Store) HasDictField(field string) bool {
	if _, ok := s.dict[field]; ok {
		return true
	}
	_, ok := s.ordered[field]
	return ok
}

// Clone returns a fresh Store carrying the same schema and every currently
// live record, built by replaying a Snapshot through New+Put rather than by
// copying index internals directly. This is the staging copy ImportDump
// mutates; the original Store is never touched until the caller swaps it in,
// which is what gives rollback-on-failure its all-or-nothing behavior.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	ids := make([]recordID, 0, s.arena.count())
	for id, live := range s.arena.live {
		if live {
			ids = append(ids, recordID(id))
		}
	}
	records := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		r, _ := s.arena.get(id)
		records = append(records, r)
	}
	hits := s.hitCount.Load()
	s.mu.RUnlock()

	out := New(s.desc)
	for _, r := range records {
		// already validated when first Put into s; Clone never fails.
		_ = out.Put(r)
	}
	out.hitCount.Store(hits)
	return out
}

// RangeOp re-exports rangeOp's constants for package query.
type RangeOp = rangeOp

const (
	OpLT      = RangeLT
	OpLTE     = RangeLTE
	OpGT      = RangeGT
	OpGTE     = RangeGTE
	OpBetween = RangeBetween
)
