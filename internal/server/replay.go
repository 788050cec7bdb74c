package server

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"go.uber.org/zap"

	"github.com/cachalotdb/store/internal/domaintracker"
	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/recordstore"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/txlog"
)

// applyReplayedEntry reconstructs one journaled mutation into the
// in-memory state, called once per frame by txlog.Replay during Start.
// It runs before s.tx exists, so none of these calls re-journal.
func (s *Server) applyReplayedEntry(e txlog.Entry) error {
	switch e.Kind {
	case txlog.KindRegisterType:
		return s.replayRegisterType(e.TypeDesc)
	case txlog.KindPut:
		ts, ok := s.types[e.TypeName]
		if !ok {
			s.log.Warn("replay: Put for unregistered type, skipping", zap.String("type", e.TypeName))
			return nil
		}
		return ts.store.Put(e.Record)
	case txlog.KindRemove:
		ts, ok := s.types[e.TypeName]
		if !ok {
			s.log.Warn("replay: Remove for unregistered type, skipping", zap.String("type", e.TypeName))
			return nil
		}
		if err := ts.store.Remove(e.PrimaryKey); err != nil {
			s.log.Warn("replay: Remove target already absent", zap.String("type", e.TypeName))
		}
		return nil
	case txlog.KindTruncate:
		ts, ok := s.types[e.TypeName]
		if !ok {
			return nil
		}
		ts.store.Truncate()
		return nil
	case txlog.KindDeclareDomain:
		ts, ok := s.types[e.TypeName]
		if !ok {
			return nil
		}
		covered, err := decodeCovered(e.DomainCovered)
		if err != nil {
			return fmt.Errorf("replay DeclareDomain: %w", err)
		}
		ts.tracker.Declare(domaintracker.Description{FullyLoaded: e.DomainLoaded, Covered: covered}, domaintracker.Mode(e.DomainMode))
		return nil
	case txlog.KindSequenceReserve:
		s.seq.Restore(e.SequenceName, e.SequenceMax)
		return nil
	case txlog.KindImportDump:
		if err := s.importDumpCore(e.ImportDir, false); err != nil {
			s.log.Warn("replay: could not re-apply journaled import, dump directory may be gone",
				zap.String("dir", e.ImportDir), zap.Error(err))
		}
		return nil
	default:
		return fmt.Errorf("replay: unknown entry kind %d", e.Kind)
	}
}

// replayRegisterType is Register's replay-time counterpart: types and
// trackers map access is unguarded here because Start runs before any
// concurrent caller can reach the server.
func (s *Server) replayRegisterType(desc schema.TypeDescription) error {
	if err := s.registry.Register(desc); err != nil {
		return fmt.Errorf("replay RegisterType: %w", err)
	}
	if _, ok := s.types[desc.FullName]; !ok {
		s.types[desc.FullName] = &typeState{
			store:   recordstore.New(desc),
			tracker: domaintracker.New(),
		}
	}
	return nil
}

func encodeCovered(blocks []query.AndBlock) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blocks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCovered(data []byte) ([]query.AndBlock, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var blocks []query.AndBlock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}
