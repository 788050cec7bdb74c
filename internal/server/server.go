// Package server wires the schema registry, per-type record stores, the
// query evaluator, the domain-completeness trackers, the transaction log,
// the sequence generator and the dump/import subsystem into one Server with
// a Start/Stop lifecycle.
package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cachalotdb/store/internal/domaintracker"
	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/recordstore"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/sequence"
	"github.com/cachalotdb/store/internal/storeerr"
	"github.com/cachalotdb/store/internal/txlog"
)

const txlogFileName = "txlog"

// typeState bundles everything the server keeps per registered type. The
// writeMu here is deliberately separate from Store's own internal RWMutex:
// it is the per-type "write lock spans the mutation and the log append"
// lock, while Store.mu keeps protecting index integrity for any caller
// (e.g. the query evaluator) that only ever goes through Store.
type typeState struct {
	store   *recordstore.Store
	tracker *domaintracker.Tracker
	writeMu sync.Mutex
}

// Server is the in-process core of the cache: schema registry, per-type
// stores, query evaluation, domain tracking, durability and dump/import.
// It has no wire transport of its own; callers reach it in-process or via
// package dispatcher.
type Server struct {
	log      *zap.Logger
	dataPath string

	registry *schema.Registry
	seq      *sequence.Generator
	tx       *txlog.Log

	// adminMu is the server-wide locking discipline: ordinary per-type
	// operations hold it for reading (so they never race an admin
	// operation), admin operations (Dump/ImportDump/InitializeFromDump/
	// DeclareDomain) hold it for writing.
	adminMu sync.RWMutex

	typesMu sync.RWMutex // guards the types map itself, not its contents
	types   map[string]*typeState

	// getManyGroup coalesces concurrent identical GetMany calls into one
	// evaluation: a burst of clients re-running the same query against a
	// type that isn't being mutated shares a single index walk instead of
	// repeating it once per caller.
	getManyGroup singleflight.Group
}

// ObjectDescription is one GetObjectDescriptions result row.
type ObjectDescription struct {
	TypeName   string
	PrimaryKey record.Scalar
	UniqueKeys map[string]record.Scalar
	IndexKeys  map[string]record.KeyValue
}

// TypeStats is one GetServerDescription result row.
type TypeStats struct {
	TypeName string
	Count    int
	HitCount int64
	Schema   schema.TypeDescription
}

// New constructs a Server that will keep its transaction log and dumps
// under dataPath. Call Start before issuing any other operation.
func New(log *zap.Logger, dataPath string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log.Named("server"),
		dataPath: dataPath,
		registry: schema.NewRegistry(),
		seq:      sequence.New(),
		types:    make(map[string]*typeState),
	}
}

// Start opens the transaction log and replays it into an empty in-memory
// store as startup recovery. It must be called exactly once, before any
// other Server method.
func (s *Server) Start(ctx context.Context) error {
	path := filepath.Join(s.dataPath, txlogFileName)

	if err := txlog.Replay(path, s.log, s.applyReplayedEntry); err != nil {
		return fmt.Errorf("replay transaction log: %w", err)
	}

	tx, err := txlog.Open(path, s.log)
	if err != nil {
		return fmt.Errorf("open transaction log: %w", err)
	}
	s.tx = tx
	s.log.Info("server started", zap.String("data_path", s.dataPath))
	return nil
}

// Stop closes the transaction log.
func (s *Server) Stop(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Close()
}

// Register adds desc to the schema registry and creates its per-type store
// and domain tracker if this is the first time desc.FullName is seen. A
// structurally identical re-registration is a no-op, matching a client
// reconnecting and re-declaring its schema.
func (s *Server) Register(desc schema.TypeDescription) error {
	s.typesMu.Lock()
	defer s.typesMu.Unlock()

	alreadyKnown := false
	if existing, ok := s.registry.Describe(desc.FullName); ok {
		alreadyKnown = existing.Equal(desc)
	}

	if err := s.registry.Register(desc); err != nil {
		return storeerr.Wrap(storeerr.AlreadyRegisteredWithDifferentSchema, "Register", desc.FullName, err)
	}
	if _, ok := s.types[desc.FullName]; !ok {
		s.types[desc.FullName] = &typeState{
			store:   recordstore.New(desc),
			tracker: domaintracker.New(),
		}
	}
	if !alreadyKnown && s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindRegisterType, TypeDesc: desc}); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "Register", "journal append", err)
		}
	}
	return nil
}

func (s *Server) typeOf(name string) (*typeState, error) {
	s.typesMu.RLock()
	ts, ok := s.types[name]
	s.typesMu.RUnlock()
	if !ok {
		return nil, storeerr.New(storeerr.UnknownType, "typeOf", name)
	}
	return ts, nil
}

// Put validates and indexes r, journals the mutation, and returns once both
// are durable.
func (s *Server) Put(r record.Record) error {
	ts, err := s.typeOf(r.TypeName)
	if err != nil {
		return err
	}

	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.writeMu.Lock()
	defer ts.writeMu.Unlock()

	if err := ts.store.Put(r); err != nil {
		return err
	}
	if s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindPut, TypeName: r.TypeName, Record: r}); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "Put", "journal append", err)
		}
	}
	return nil
}

// Remove deletes the record with the given primary key, journaling the
// mutation. Returns NotFound if no such record exists.
func (s *Server) Remove(typeName string, pk record.Scalar) error {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return err
	}

	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.writeMu.Lock()
	defer ts.writeMu.Unlock()

	if err := ts.store.Remove(pk); err != nil {
		return err
	}
	if s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindRemove, TypeName: typeName, PrimaryKey: pk}); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "Remove", "journal append", err)
		}
	}
	return nil
}

// GetOne looks up a single record by primary or unique key.
func (s *Server) GetOne(typeName, keyName string, value record.Scalar) (record.Record, bool, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return record.Record{}, false, err
	}
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()
	r, ok := ts.store.GetOne(keyName, value)
	return r, ok, nil
}

// GetMany returns every record matching q. Concurrent callers issuing the
// exact same (typeName, q) share one evaluation via getManyGroup; none of
// them mutates the returned slice, so sharing it across callers is safe.
func (s *Server) GetMany(typeName string, q query.Query) ([]record.Record, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%#v", typeName, q)
	v, err, _ := s.getManyGroup.Do(key, func() (interface{}, error) {
		s.adminMu.RLock()
		defer s.adminMu.RUnlock()

		ts.store.RLock()
		defer ts.store.RUnlock()

		ids, err := query.Evaluate(ts.store, q)
		if err != nil {
			return nil, err
		}
		out := make([]record.Record, 0, ids.GetCardinality())
		it := ids.Iterator()
		for it.HasNext() {
			if r, ok := ts.store.GetByID(it.Next()); ok {
				out = append(out, r)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]record.Record), nil
}

// EvalQuery returns (authoritative, count) for q. count is always
// len(GetMany(q)) because both share query.Evaluate.
func (s *Server) EvalQuery(typeName string, q query.Query) (bool, int, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return false, 0, err
	}
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.store.RLock()
	ids, evalErr := query.Evaluate(ts.store, q)
	ts.store.RUnlock()
	if evalErr != nil {
		return false, 0, evalErr
	}
	return ts.tracker.Authoritative(q), int(ids.GetCardinality()), nil
}

// GetAvailableItems looks up every key in keys by primary key, optionally
// filtering the found set further by filter, and reports which keys were
// not found.
func (s *Server) GetAvailableItems(typeName string, keys []record.Scalar, filter *query.Query) ([]record.Record, []record.Scalar, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return nil, nil, err
	}
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.store.RLock()
	defer ts.store.RUnlock()

	var filterIDs *roaring.Bitmap
	if filter != nil {
		filterIDs, err = query.Evaluate(ts.store, *filter)
		if err != nil {
			return nil, nil, err
		}
	}

	found := make([]record.Record, 0, len(keys))
	var notFound []record.Scalar
	for _, k := range keys {
		id, ok := ts.store.PrimaryLookup(k)
		if !ok {
			notFound = append(notFound, k)
			continue
		}
		if filterIDs != nil && !filterIDs.Contains(id) {
			notFound = append(notFound, k)
			continue
		}
		r, ok := ts.store.GetByID(id)
		if !ok {
			notFound = append(notFound, k)
			continue
		}
		found = append(found, r)
	}
	return found, notFound, nil
}

// GetObjectDescriptions returns (primaryKey, uniqueKeys, indexKeys) for
// every record matching q.
func (s *Server) GetObjectDescriptions(typeName string, q query.Query) ([]ObjectDescription, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return nil, err
	}
	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.store.RLock()
	defer ts.store.RUnlock()

	ids, err := query.Evaluate(ts.store, q)
	if err != nil {
		return nil, err
	}
	desc := ts.store.Description()

	out := make([]ObjectDescription, 0, ids.GetCardinality())
	it := ids.Iterator()
	for it.HasNext() {
		r, ok := ts.store.GetByID(it.Next())
		if !ok {
			continue
		}
		od := ObjectDescription{
			TypeName:   typeName,
			PrimaryKey: r.Primary().Scalar,
			UniqueKeys: make(map[string]record.Scalar, len(desc.UniqueKeys)),
			IndexKeys:  make(map[string]record.KeyValue, len(desc.Indexes)),
		}
		for _, f := range desc.UniqueKeys {
			if kv, ok := r.Get(f.Name); ok {
				od.UniqueKeys[f.Name] = kv.Scalar
			}
		}
		for _, idx := range desc.Indexes {
			if kv, ok := r.Get(idx.Field.Name); ok {
				od.IndexKeys[idx.Field.Name] = kv
			}
		}
		out = append(out, od)
	}
	return out, nil
}

// Truncate clears every record of typeName, journaling the mutation.
func (s *Server) Truncate(typeName string) error {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return err
	}

	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.writeMu.Lock()
	defer ts.writeMu.Unlock()

	ts.store.Truncate()
	if s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindTruncate, TypeName: typeName}); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "Truncate", "journal append", err)
		}
	}
	return nil
}

// DeleteMany removes every record matching q and returns how many were
// deleted, journaling one KindRemove entry per deleted record.
func (s *Server) DeleteMany(typeName string, q query.Query) (int, error) {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return 0, err
	}

	s.adminMu.RLock()
	defer s.adminMu.RUnlock()

	ts.writeMu.Lock()
	defer ts.writeMu.Unlock()

	ts.store.RLock()
	ids, evalErr := query.Evaluate(ts.store, q)
	var primaries []record.Scalar
	if evalErr == nil {
		it := ids.Iterator()
		for it.HasNext() {
			if r, ok := ts.store.GetByID(it.Next()); ok {
				primaries = append(primaries, r.Primary().Scalar)
			}
		}
	}
	ts.store.RUnlock()
	if evalErr != nil {
		return 0, evalErr
	}

	count := 0
	for _, pk := range primaries {
		if err := ts.store.Remove(pk); err != nil {
			continue // already gone; tolerate a race with a concurrent Remove
		}
		if s.tx != nil {
			if err := s.tx.Append(txlog.Entry{Kind: txlog.KindRemove, TypeName: typeName, PrimaryKey: pk}); err != nil {
				return count, storeerr.Wrap(storeerr.IOFailure, "DeleteMany", "journal append", err)
			}
		}
		count++
	}
	return count, nil
}

// DeclareDomain applies desc to typeName's domain tracker under mode, and
// journals the declaration.
func (s *Server) DeclareDomain(typeName string, desc domaintracker.Description, mode domaintracker.Mode) error {
	ts, err := s.typeOf(typeName)
	if err != nil {
		return err
	}

	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	ts.tracker.Declare(desc, mode)

	if s.tx != nil {
		covered, encErr := encodeCovered(desc.Covered)
		if encErr != nil {
			return storeerr.Wrap(storeerr.Internal, "DeclareDomain", "encode covered set", encErr)
		}
		entry := txlog.Entry{
			Kind:          txlog.KindDeclareDomain,
			TypeName:      typeName,
			DomainMode:    int(mode),
			DomainLoaded:  desc.FullyLoaded,
			DomainCovered: covered,
		}
		if err := s.tx.Append(entry); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "DeclareDomain", "journal append", err)
		}
	}
	return nil
}

// GetKnownTypes returns every registered TypeDescription.
func (s *Server) GetKnownTypes() []schema.TypeDescription {
	s.typesMu.RLock()
	defer s.typesMu.RUnlock()
	known := s.registry.Known()
	sort.Slice(known, func(i, j int) bool { return known[i].FullName < known[j].FullName })
	return known
}

// GetServerDescription returns per-type count, hit count, and schema.
func (s *Server) GetServerDescription() []TypeStats {
	s.typesMu.RLock()
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	s.typesMu.RUnlock()
	sort.Strings(names)

	out := make([]TypeStats, 0, len(names))
	for _, name := range names {
		ts, err := s.typeOf(name)
		if err != nil {
			continue
		}
		out = append(out, TypeStats{
			TypeName: name,
			Count:    ts.store.Count(),
			HitCount: ts.store.HitCount(),
			Schema:   ts.store.Description(),
		})
	}
	return out
}

// GenerateUniqueIds advances sequence name by n and returns the reserved
// range, journaling the new high-water mark before returning it.
func (s *Server) GenerateUniqueIds(name string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, storeerr.New(storeerr.InvalidQuery, "GenerateUniqueIds", "n must be positive")
	}
	ids, newMax := s.seq.Reserve(name, n)
	if s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindSequenceReserve, SequenceName: name, SequenceMax: newMax}); err != nil {
			return nil, storeerr.Wrap(storeerr.IOFailure, "GenerateUniqueIds", "journal append", err)
		}
	}
	return ids, nil
}
