package server

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cachalotdb/store/internal/domaintracker"
	"github.com/cachalotdb/store/internal/dump"
	"github.com/cachalotdb/store/internal/faultinjector"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/recordstore"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/storeerr"
	"github.com/cachalotdb/store/internal/txlog"
)

// Dump writes every registered type's live records, plus the schema and
// every sequence's high-water mark, under path/YYYY-MM-DD/.
// The directory is assembled under a sibling temp name and renamed into
// place on completion, so a reader never observes a partially written dump.
func (s *Server) Dump(path string) error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	day := time.Now().Format("2006-01-02")
	finalDir := filepath.Join(path, day)
	tmpDir := filepath.Join(path, ".tmp-"+uuid.NewString())

	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "create staging directory", err)
	}

	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)

	descs := make([]schema.TypeDescription, len(names))
	for i, name := range names {
		descs[i] = s.types[name].store.Description()
	}

	// Each type's records are snapshotted and written independently, so the
	// partitioning work fans out across types rather than running one type
	// at a time.
	var g errgroup.Group
	for _, name := range names {
		name := name
		ts := s.types[name]
		g.Go(func() error {
			snapshot := ts.store.Snapshot()
			records := make([]record.Record, 0, snapshot.GetCardinality())
			it := snapshot.Iterator()
			for it.HasNext() {
				if r, ok := ts.store.GetByID(it.Next()); ok {
					records = append(records, r)
				}
			}
			sort.Slice(records, func(i, j int) bool {
				return records[i].Primary().Scalar.Less(records[j].Primary().Scalar)
			})

			if _, err := dump.WriteTypeData(tmpDir, name, records); err != nil {
				return fmt.Errorf("write data for type %q: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.RemoveAll(tmpDir)
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "write type data", err)
	}

	if err := dump.WriteSequences(tmpDir, s.seq.Snapshot()); err != nil {
		os.RemoveAll(tmpDir)
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "write sequences", err)
	}

	// schema.json is written last: its presence is what marks a dump complete.
	if err := dump.WriteSchema(tmpDir, descs); err != nil {
		os.RemoveAll(tmpDir)
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "write schema", err)
	}

	if err := os.RemoveAll(finalDir); err != nil && !os.IsNotExist(err) {
		os.RemoveAll(tmpDir)
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "clear previous dump directory", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return storeerr.Wrap(storeerr.IOFailure, "Dump", "rename staging directory into place", err)
	}

	s.log.Info("dump complete", zap.String("dir", finalDir), zap.Int("types", len(names)))
	return nil
}

// InitializeFromDump imports dir into an empty store. It is an error if any
// registered type already carries records.
func (s *Server) InitializeFromDump(dir string) error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	for name, ts := range s.types {
		if ts.store.Count() > 0 {
			return storeerr.New(storeerr.StoreNotEmpty, "InitializeFromDump", fmt.Sprintf("type %q already has records", name))
		}
	}
	return s.importDumpCore(dir, true)
}

// ImportDump streams dir's records in and upserts them into the existing
// store by primary key. Sequences are restored by taking the max of
// current and dumped value. On any failure the store is left exactly as it
// was before the call.
func (s *Server) ImportDump(dir string) error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.importDumpCore(dir, true)
}

// importDumpCore assumes adminMu is already held for writing (or, during
// Start's replay, that it is not yet contended). journal controls whether
// a successful import appends a KindImportDump entry; replay passes false
// so re-applying a journaled import does not re-journal it.
func (s *Server) importDumpCore(dir string, journal bool) error {
	if !dump.IsComplete(dir) {
		return storeerr.New(storeerr.DumpCorrupt, "ImportDump", fmt.Sprintf("%s has no schema.json (partial or missing dump)", dir))
	}

	descs, err := dump.ReadSchema(dir)
	if err != nil {
		return storeerr.Wrap(storeerr.DumpCorrupt, "ImportDump", "read schema", err)
	}
	descByName := make(map[string]schema.TypeDescription, len(descs))
	for _, d := range descs {
		descByName[d.FullName] = d
	}

	dataFiles, err := dump.ListDataFiles(dir)
	if err != nil {
		return storeerr.Wrap(storeerr.DumpCorrupt, "ImportDump", "list data files", err)
	}

	// Stage a clone per type touched by the dump. The originals are never
	// mutated; on any failure below we simply discard the staging map and
	// every pre-import record and count is exactly as it was.
	staged := make(map[string]*recordstore.Store, len(descByName))
	for name, desc := range descByName {
		if ts, ok := s.types[name]; ok {
			staged[name] = ts.store.Clone()
		} else {
			staged[name] = recordstore.New(desc)
		}
	}

	step := 0
	for _, df := range dataFiles {
		target, ok := staged[df.TypeName]
		if !ok {
			continue // dump carries a type this server never saw registered; skip it
		}
		err := dump.IterateDataFile(df.Path, func(r record.Record) error {
			if err := faultinjector.Global.Checkpoint(); err != nil {
				return err
			}
			step++
			return target.Put(r)
		})
		if err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "ImportDump", fmt.Sprintf("apply data file %s", df.Path), err)
		}
	}

	sequences, err := dump.ReadSequences(dir)
	if err != nil {
		return storeerr.Wrap(storeerr.DumpCorrupt, "ImportDump", "read sequences", err)
	}

	// Everything above succeeded: commit. Registration and sequence restore
	// happen only now, so a failure above never partially applies either.
	for name, desc := range descByName {
		if _, ok := s.types[name]; !ok {
			if err := s.registry.Register(desc); err != nil {
				return storeerr.Wrap(storeerr.Internal, "ImportDump", fmt.Sprintf("register type %q from dump", name), err)
			}
			s.types[name] = &typeState{tracker: domaintracker.New()}
		}
		s.types[name].store = staged[name]
	}
	for name, value := range sequences {
		s.seq.Restore(name, value)
	}
	if journal && s.tx != nil {
		if err := s.tx.Append(txlog.Entry{Kind: txlog.KindImportDump, ImportDir: dir}); err != nil {
			return storeerr.Wrap(storeerr.IOFailure, "ImportDump", "journal import marker", err)
		}
	}

	s.log.Info("import complete", zap.String("dir", dir), zap.Int("records_applied", step))
	return nil
}
