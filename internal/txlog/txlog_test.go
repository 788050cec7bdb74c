package txlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
)

func TestAppendReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tx.log")

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entries := []Entry{
		{Kind: KindRegisterType, TypeDesc: schema.TypeDescription{FullName: "Item"}},
		{Kind: KindPut, TypeName: "Item", Record: record.Record{TypeName: "Item"}},
		{Kind: KindRemove, TypeName: "Item", PrimaryKey: record.IntScalar(schema.KindInt, 1)},
		{Kind: KindSequenceReserve, SequenceName: "orders", SequenceMax: 5},
	}
	for _, e := range entries {
		if err := l.Append(e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var replayed []Entry
	err = Replay(path, nil, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replayed) != len(entries) {
		t.Fatalf("expected %d replayed entries, got %d", len(entries), len(replayed))
	}
	for i, e := range replayed {
		if e.Kind != entries[i].Kind {
			t.Fatalf("entry %d: expected kind %v, got %v", i, entries[i].Kind, e.Kind)
		}
	}
}

func TestReplayMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	err := Replay(filepath.Join(dir, "absent.log"), nil, func(Entry) error {
		t.Fatalf("apply should never be called for a missing log")
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error replaying a nonexistent log, got %v", err)
	}
}

// TestReplayStopsAtTruncatedTrailingFrame models a crash mid-append: the
// last frame's payload is cut short. Replay must apply every complete
// frame before it and stop cleanly rather than erroring.
func TestReplayStopsAtTruncatedTrailingFrame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tx.log")

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(Entry{Kind: KindSequenceReserve, SequenceName: "a", SequenceMax: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(Entry{Kind: KindSequenceReserve, SequenceName: "b", SequenceMax: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()-3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	var replayed []Entry
	err = Replay(path, nil, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error from a truncated trailing frame, got %v", err)
	}
	if len(replayed) != 1 {
		t.Fatalf("expected exactly the first complete frame to replay, got %d", len(replayed))
	}
}

func TestReplayStopsOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tx.log")

	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := l.Append(Entry{Kind: KindSequenceReserve, SequenceName: "a", SequenceMax: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Flip a byte inside the payload, past the 12-byte header, to corrupt
	// the checksum without changing the declared frame length.
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var replayed []Entry
	err = Replay(path, nil, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	})
	if err != nil {
		t.Fatalf("expected no hard error on checksum mismatch, got %v", err)
	}
	if len(replayed) != 0 {
		t.Fatalf("expected the corrupted frame to be dropped, got %d replayed", len(replayed))
	}
}
