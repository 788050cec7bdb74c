// Package dump implements the on-disk dump format: schema.json, one or
// more <type>_<n>.data files (capped at 1000 records, partitioned by
// primary-key order), and a sequence file, written to a temporary name
// and renamed into place atomically on completion.
package dump

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/moby/sys/atomicwriter"

	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
)

// MaxRecordsPerPartition bounds each .data file's record count.
const MaxRecordsPerPartition = 1000

const schemaFileName = "schema.json"
const sequenceFileName = "sequence"

// WriteSchema writes the concatenated TypeDescriptions to dir/schema.json.
func WriteSchema(dir string, descs []schema.TypeDescription) error {
	data, err := json.MarshalIndent(descs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	return atomicwriter.WriteFile(filepath.Join(dir, schemaFileName), data, 0o644)
}

// ReadSchema reads dir/schema.json, returning DumpCorrupt-shaped errors if
// it is absent (a partially-written dump) or malformed.
func ReadSchema(dir string) ([]schema.TypeDescription, error) {
	data, err := os.ReadFile(filepath.Join(dir, schemaFileName))
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var descs []schema.TypeDescription
	if err := json.Unmarshal(data, &descs); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return descs, nil
}

// IsComplete reports whether dir contains a schema.json, the marker a
// fully-written dump always has and a partially-written one never does.
func IsComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, schemaFileName))
	return err == nil
}

// WriteSequences writes every named sequence's high-water mark to
// dir/sequence as JSON.
func WriteSequences(dir string, seqs map[string]int64) error {
	data, err := json.MarshalIndent(seqs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sequences: %w", err)
	}
	return atomicwriter.WriteFile(filepath.Join(dir, sequenceFileName), data, 0o644)
}

// ReadSequences reads dir/sequence.
func ReadSequences(dir string) (map[string]int64, error) {
	data, err := os.ReadFile(filepath.Join(dir, sequenceFileName))
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	var seqs map[string]int64
	if err := json.Unmarshal(data, &seqs); err != nil {
		return nil, fmt.Errorf("unmarshal sequences: %w", err)
	}
	return seqs, nil
}

// WriteTypeData partitions records (already given in primary-key order)
// into <type>_<n>.data files of at most MaxRecordsPerPartition records
// each, and returns how many partitions were written.
func WriteTypeData(dir, typeName string, records []record.Record) (int, error) {
	if len(records) == 0 {
		// still write one empty partition so the type's presence survives a
		// dump/restore round-trip even with zero live records.
		return 1, writePartition(dir, typeName, 0, nil)
	}
	partitions := 0
	for start := 0; start < len(records); start += MaxRecordsPerPartition {
		end := start + MaxRecordsPerPartition
		if end > len(records) {
			end = len(records)
		}
		if err := writePartition(dir, typeName, partitions, records[start:end]); err != nil {
			return partitions, err
		}
		partitions++
	}
	return partitions, nil
}

func writePartition(dir, typeName string, n int, records []record.Record) error {
	var buf bytes.Buffer
	if err := writeString(&buf, typeName); err != nil {
		return err
	}
	for _, r := range records {
		payload, err := encodeRecord(r)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := writeFrame(&buf, payload); err != nil {
			return err
		}
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.data", typeName, n))
	return atomicwriter.WriteFile(path, buf.Bytes(), 0o644)
}

// DataFile names a discovered <type>_<n>.data file inside a dump directory.
type DataFile struct {
	Path     string
	TypeName string
}

// ListDataFiles returns every *.data file under dir.
func ListDataFiles(dir string) ([]DataFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dump dir: %w", err)
	}
	var out []DataFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".data" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		typeName, err := peekTypeName(path)
		if err != nil {
			return nil, fmt.Errorf("peek type name in %s: %w", path, err)
		}
		out = append(out, DataFile{Path: path, TypeName: typeName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func peekTypeName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return readString(bufio.NewReader(f))
}

// IterateDataFile streams every record out of the .data file at path,
// invoking fn for each.
func IterateDataFile(path string, fn func(record.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open data file %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if _, err := readString(r); err != nil { // type name header, already known to the caller
		return fmt.Errorf("read type header: %w", err)
	}
	for {
		payload, err := readFrame(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		rec, err := decodeRecord(payload)
		if err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func writeString(w io.Writer, s string) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func encodeRecord(r record.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(payload []byte) (record.Record, error) {
	var r record.Record
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&r); err != nil {
		return record.Record{}, err
	}
	return r, nil
}
