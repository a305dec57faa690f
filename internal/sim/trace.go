package sim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/sibexico/ReplEngine/replacement"
)

// Source yields accesses until it returns io.EOF.
type Source interface {
	Next() (replacement.Access, error)
}

// TraceReader parses a text trace with one access per line:
//
//	<ip> <address> [type]
//
// Numbers are decimal or 0x-prefixed hex. type is a name (load, rfo,
// prefetch, write, translation) or its numeric code and defaults to load.
// Blank lines and lines starting with '#' are skipped.
type TraceReader struct {
	scanner *bufio.Scanner
	line    int
	instr   uint64
}

// NewTraceReader reads a trace from r.
func NewTraceReader(r io.Reader) *TraceReader {
	return &TraceReader{scanner: bufio.NewScanner(r)}
}

// Next returns the next access or io.EOF.
func (t *TraceReader) Next() (replacement.Access, error) {
	for t.scanner.Scan() {
		t.line++
		text := strings.TrimSpace(t.scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		acc, err := parseTraceLine(text)
		if err != nil {
			return replacement.Access{}, fmt.Errorf("trace line %d: %w", t.line, err)
		}
		acc.InstrID = t.instr
		t.instr++
		return acc, nil
	}
	if err := t.scanner.Err(); err != nil {
		return replacement.Access{}, fmt.Errorf("failed to read trace: %w", err)
	}
	return replacement.Access{}, io.EOF
}

func parseTraceLine(text string) (replacement.Access, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 || len(fields) > 3 {
		return replacement.Access{}, fmt.Errorf("expected 2 or 3 fields, got %d", len(fields))
	}

	ip, err := parseNumber(fields[0])
	if err != nil {
		return replacement.Access{}, fmt.Errorf("bad ip %q: %w", fields[0], err)
	}
	addr, err := parseNumber(fields[1])
	if err != nil {
		return replacement.Access{}, fmt.Errorf("bad address %q: %w", fields[1], err)
	}

	typ := replacement.AccessLoad
	if len(fields) == 3 {
		var ok bool
		if typ, ok = replacement.ParseAccessType(strings.ToLower(fields[2])); !ok {
			return replacement.Access{}, fmt.Errorf("unknown access type %q", fields[2])
		}
	}
	return replacement.Access{IP: ip, Address: addr, Type: typ}, nil
}

// parseNumber accepts decimal or 0x-prefixed hex. A leading zero does not
// mean octal.
func parseNumber(s string) (uint64, error) {
	if hex, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		return strconv.ParseUint(hex, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// TraceFile is a trace opened from disk.
type TraceFile struct {
	*TraceReader
	file *os.File
}

// OpenTrace opens a trace file. Files ending in .lz4 are read as LZ4 frames
// and files ending in .sz or .snappy as Snappy framed streams.
func OpenTrace(path string) (*TraceFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}

	var r io.Reader = file
	switch {
	case strings.HasSuffix(path, ".lz4"):
		r = lz4.NewReader(file)
	case strings.HasSuffix(path, ".sz"), strings.HasSuffix(path, ".snappy"):
		r = snappy.NewReader(file)
	}
	return &TraceFile{TraceReader: NewTraceReader(r), file: file}, nil
}

// Close closes the underlying file.
func (f *TraceFile) Close() error {
	return f.file.Close()
}
