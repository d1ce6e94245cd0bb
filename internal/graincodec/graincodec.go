// Package graincodec implements C2: pure, deterministic raw-deflate
// compression of a single grain's bytes.
package graincodec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// Level is one of the three compression levels the format supports.
// The numeric values match flate's own level constants, so they can be
// passed straight through to flate.NewWriter.
type Level int

const (
	Fast     Level = 1
	Balanced Level = 6
	Max      Level = 9
)

// Valid reports whether l is one of Fast, Balanced, or Max.
func (l Level) Valid() bool {
	switch l {
	case Fast, Balanced, Max:
		return true
	}
	return false
}

func (l Level) String() string {
	switch l {
	case Fast:
		return "fast"
	case Balanced:
		return "balanced"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// ParseLevel maps the CLI-facing names onto a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "fast":
		return Fast, nil
	case "balanced":
		return Balanced, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown compression level %q (want fast, balanced, or max)", s)
	}
}

// Compress returns the raw deflate (RFC 1951, no zlib framing) encoding
// of b at the given level. It is a pure function: identical (b, level)
// always yields byte-identical output, which is what lets the parallel
// pipeline's worker assignment vary without affecting the archive's
// bytes.
func Compress(b []byte, level Level) ([]byte, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("graincodec: invalid level %d", int(level))
	}

	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, int(level))
	if err != nil {
		return nil, fmt.Errorf("graincodec: compress: %w", err)
	}

	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("graincodec: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("graincodec: compress: %w", err)
	}

	return buf.Bytes(), nil
}

// Decompress inflates a raw-deflate grain payload. sizeHint, when > 0,
// preallocates the output buffer; it need not be exact. Used by the
// round-trip test suite, not by the encoder itself.
func Decompress(b []byte, sizeHint int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()

	if sizeHint <= 0 {
		sizeHint = 64 * 1024
	}

	out := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("graincodec: decompress: %w", err)
	}

	return out.Bytes(), nil
}
