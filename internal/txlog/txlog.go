// Package txlog implements an append-only transaction log: every successful
// mutation is framed, checksummed, and fsynced before the operation it
// records is acknowledged; the log is replayed in full at startup into an
// empty store.
package txlog

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
)

// EntryKind identifies one framed log record's mutation kind.
type EntryKind int

const (
	KindRegisterType EntryKind = iota
	KindPut
	KindRemove
	KindTruncate
	KindDeclareDomain
	KindSequenceReserve
	KindImportDump
)

// Entry is one journaled mutation. Only the fields relevant to Kind are
// populated; gob encodes the zero-valued rest cheaply.
//
// KindRegisterType is not a named mutating operation itself, but without it
// a replay into an empty store has no TypeDescription to build a
// recordstore.Store from before the first KindPut arrives; journaling it is
// what makes Replay self-contained.
type Entry struct {
	Kind              EntryKind
	TimestampUnixNano int64

	// KindRegisterType
	TypeDesc schema.TypeDescription

	// KindPut
	TypeName string
	Record   record.Record

	// KindRemove
	PrimaryKey record.Scalar

	// KindTruncate uses TypeName above.

	// KindDeclareDomain
	DomainMode    int
	DomainLoaded  bool
	DomainCovered []byte // gob-encoded []query.AndBlock, kept opaque here to avoid an import cycle

	// KindSequenceReserve
	SequenceName string
	SequenceMax  int64

	// KindImportDump names the dump directory a successful ImportDump or
	// InitializeFromDump applied, so Replay can re-apply the same import
	// against an empty store rather than re-journaling every record.
	ImportDir string
}

// Log is one append-only log file. Appends are serialized by appendMu and
// fsynced before Append returns, so the log strictly precedes the
// acknowledgement of any successful mutation.
type Log struct {
	log *zap.Logger

	appendMu sync.Mutex
	f        *os.File
	w        *bufio.Writer
}

// Open opens (creating if necessary) the log file at path for appending,
// and returns a Log ready to accept Append calls. It does not replay; call
// Replay separately with the same path.
func Open(path string, log *zap.Logger) (*Log, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return &Log{log: log.Named("txlog"), f: f, w: bufio.NewWriter(f)}, nil
}

// Append frames, checksums, writes and fsyncs entry, in that order. It
// returns only once the bytes are durable. entry.TimestampUnixNano is
// stamped with the current time if the caller left it zero.
func (l *Log) Append(entry Entry) error {
	if entry.TimestampUnixNano == 0 {
		entry.TimestampUnixNano = time.Now().UnixNano()
	}
	payload, err := encode(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	sum := xxhash.Sum64(payload)

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	var header [12]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint64(header[4:12], sum)

	if _, err := l.w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := l.w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	if err := l.w.Flush(); err != nil {
		return fmt.Errorf("flush log buffer: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("fsync log: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	if err := l.w.Flush(); err != nil {
		return err
	}
	return l.f.Close()
}

// Replay reads every complete frame from path in order and invokes apply
// for each. A truncated trailing frame (a partial write from a crash) is
// detected by a short read and silently dropped rather than treated as
// corruption.
func Replay(path string, log *zap.Logger, apply func(Entry) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("txlog")

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log %s for replay: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	n := 0
	for {
		var header [12]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			log.Warn("truncated log header; stopping replay", zap.Int("records_replayed", n))
			break
		}
		length := binary.BigEndian.Uint32(header[0:4])
		wantSum := binary.BigEndian.Uint64(header[4:12])

		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			log.Warn("truncated log payload; stopping replay", zap.Int("records_replayed", n))
			break
		}
		if gotSum := xxhash.Sum64(payload); gotSum != wantSum {
			log.Warn("checksum mismatch; stopping replay", zap.Int("records_replayed", n))
			break
		}

		entry, err := decode(payload)
		if err != nil {
			return fmt.Errorf("decode log entry %d: %w", n, err)
		}
		if err := apply(entry); err != nil {
			return fmt.Errorf("apply log entry %d: %w", n, err)
		}
		n++
	}
	log.Info("replay complete", zap.Int("records_replayed", n))
	return nil
}

func encode(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(payload []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
