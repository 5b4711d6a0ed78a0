// Package tracefile decodes trace files into raw trace records.
//
// Three formats are understood: OTLP JSON (a single
// ExportTraceServiceRequest or an array of them), binary OTLP protobuf,
// and the flat records JSON document. Load detects the format from the
// file extension and the document shape.
package tracefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Mr-Dark-debug/traviz/internal/trace"
)

// ErrUnknownFormat is returned when a document matches none of the
// supported formats.
var ErrUnknownFormat = errors.New("unknown trace file format")

// Format names a trace file encoding.
type Format string

const (
	FormatAuto      Format = ""
	FormatOTLPJSON  Format = "otlp-json"
	FormatOTLPProto Format = "otlp-proto"
	FormatRecords   Format = "records"
)

// Load reads and decodes the trace file at path and builds the raw trace.
// It honours ctx between the read, decode and build steps.
func Load(ctx context.Context, path string) (*trace.RawTrace, error) {
	records, err := ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return trace.Build(records), nil
}

// ReadFile reads and decodes path without building a trace.
func ReadFile(ctx context.Context, path string) ([]trace.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := Decode(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

// FormatFromPath guesses the format from the file extension. Anything
// other than a protobuf extension is sniffed later.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pb", ".bin", ".binpb":
		return FormatOTLPProto
	default:
		return FormatAuto
	}
}

// Decode parses data in format f. FormatAuto inspects the document.
func Decode(data []byte, f Format) ([]trace.Record, error) {
	if f == FormatAuto {
		var err error
		if f, err = Detect(data); err != nil {
			return nil, err
		}
	}
	switch f {
	case FormatOTLPJSON:
		return decodeOTLPJSON(data)
	case FormatOTLPProto:
		return decodeOTLPProto(data)
	case FormatRecords:
		return DecodeRecords(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Detect identifies a JSON document's format by its top-level shape.
func Detect(data []byte) (Format, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return FormatAuto, fmt.Errorf("%w: empty document", ErrUnknownFormat)
	}
	switch trimmed[0] {
	case '[':
		return FormatOTLPJSON, nil
	case '{':
		keys, err := topLevelKeys(trimmed)
		if err != nil {
			return FormatAuto, fmt.Errorf("%w: %v", ErrUnknownFormat, err)
		}
		switch {
		case keys["resourceSpans"] || keys["resource_spans"]:
			return FormatOTLPJSON, nil
		case keys["spans"]:
			return FormatRecords, nil
		}
		return FormatAuto, fmt.Errorf("%w: no resourceSpans or spans field", ErrUnknownFormat)
	}
	return FormatAuto, fmt.Errorf("%w: not a JSON document", ErrUnknownFormat)
}
