// Package jsonl reads and writes newline-delimited JSON files. Writes are
// atomic (temp file, fsync, rename); paths ending in ".sz" are wrapped in
// snappy framing on both read and write.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// CompressedExt marks a snappy-framed JSONL file.
const CompressedExt = ".sz"

// maxLine bounds a single record; catalog rows are far smaller.
const maxLine = 4 << 20

// Compressed reports whether path uses snappy framing.
func Compressed(path string) bool {
	return strings.HasSuffix(path, CompressedExt)
}

// Read reads path and returns each non-empty, parseable line as a
// json.RawMessage. Malformed lines are skipped and counted.
func Read(path string) ([]json.RawMessage, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if Compressed(path) {
		r = snappy.NewReader(f)
	}
	records, skipped, err := Decode(r)
	if err != nil {
		return nil, skipped, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, skipped, nil
}

// Decode reads JSONL from r. Malformed lines are skipped and counted.
func Decode(r io.Reader) ([]json.RawMessage, int, error) {
	var records []json.RawMessage
	skipped := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if !json.Valid(line) {
			skipped++
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, err
	}
	return records, skipped, nil
}

// Encode writes records to w, one per line.
func Encode(w io.Writer, records []json.RawMessage) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := bw.Write(rec); err != nil {
			return fmt.Errorf("writing record: %w", err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return fmt.Errorf("writing newline: %w", err)
		}
	}
	return bw.Flush()
}

// Marshal encodes each value as one JSONL record.
func Marshal[T any](values []T) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(values))
	for i := range values {
		b, err := json.Marshal(values[i])
		if err != nil {
			return nil, fmt.Errorf("marshaling record %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Write atomically replaces path with records using the temp-file, fsync,
// rename pattern.
func Write(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", step, err)
	}

	if Compressed(path) {
		sw := snappy.NewBufferedWriter(tmp)
		if err := Encode(sw, records); err != nil {
			return fail("encoding records", err)
		}
		if err := sw.Close(); err != nil {
			return fail("closing snappy writer", err)
		}
	} else if err := Encode(tmp, records); err != nil {
		return fail("encoding records", err)
	}

	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
