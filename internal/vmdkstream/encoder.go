// Package vmdkstream implements C4: a bit-exact writer for VMware's
// stream-optimized sparse VMDK container — header, grain-marker stream,
// grain tables, grain directory, footer, and end-of-stream marker.
//
// Adapted from the teacher's pkg/vmdk/stream-optimized.go. Two changes
// versus the teacher: grain tables are batched one marker + one 512-entry
// block per 512 grains (the teacher only ever emitted a single table,
// which is wrong for disks with more than 512 grains — spec.md's
// REDESIGN FLAGS supersede that), and no descriptor is embedded (grain
// payloads start immediately after the single-sector header rather than
// after a reserved GrainSizeBytes region, matching spec.md §9's note
// that VMware's reader tolerates the unreserved overhead field).
package vmdkstream

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmxport/vmxport/internal/sectorio"
)

// Encoder writes one complete stream-optimized VMDK to w. Its methods
// must be called in the sequence WriteGrain(0), WriteGrain(1), ...,
// WriteGrain(n-1), Finish() — exactly the order the parallel pipeline's
// reorder stage guarantees.
type Encoder struct {
	w io.Writer

	header        sectorio.Header
	capacityBytes int64
	totalGrains   int64

	// ElideZeroGrains, when true, skips writing the marker and payload
	// for a grain whose raw bytes were all zero, leaving its grain
	// table entry at 0 ("not allocated, read as zero"). Default false:
	// every grain is written, trading size for bit-reproducibility with
	// the reference exporter (spec.md §9's Open Question, decided in
	// DESIGN.md).
	ElideZeroGrains bool

	bytesWritten int64
	nextSeq      int64
	grainOffsets []uint32
}

// Result summarizes a finished encode, carrying the per-disk fields C6
// threads through to the OVF/manifest stage.
type Result struct {
	CapacityBytes        int64
	CapacitySectors      int64
	GrainCount           int64
	CompressedBytes      int64
	GrainDirectorySector int64
}

// NewEncoder prepares an encoder for a disk of capacityBytes logical
// size and immediately writes the 512-byte sparse extent header.
func NewEncoder(w io.Writer, capacityBytes int64) (*Encoder, error) {
	e := &Encoder{
		w:             w,
		header:        sectorio.NewHeader(capacityBytes),
		capacityBytes: capacityBytes,
		totalGrains:   sectorio.GrainCount(capacityBytes),
	}
	e.grainOffsets = make([]uint32, e.totalGrains)

	if err := e.write(e.header); err != nil {
		return nil, fmt.Errorf("vmdkstream: write header: %w", err)
	}

	return e, nil
}

func (e *Encoder) write(v interface{}) error {
	before := e.bytesWritten
	if b, ok := v.([]byte); ok {
		n, err := e.w.Write(b)
		e.bytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("vmdkstream: i/o error at byte offset %d: %w", before, err)
		}
		return nil
	}

	counter := &countingWriter{w: e.w}
	if err := binary.Write(counter, binary.LittleEndian, v); err != nil {
		e.bytesWritten += counter.n
		return fmt.Errorf("vmdkstream: i/o error at byte offset %d: %w", before, err)
	}
	e.bytesWritten += counter.n
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (e *Encoder) sector() int64 {
	return e.bytesWritten / sectorio.SectorSize
}

func (e *Encoder) padToSector() error {
	rem := e.bytesWritten % sectorio.SectorSize
	if rem == 0 {
		return nil
	}
	pad := make([]byte, sectorio.SectorSize-rem)
	return e.write(pad)
}

func isAllZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// WriteGrain writes one grain's compressed payload (or elides it, per
// ElideZeroGrains and raw) in ascending sequence order. raw is the
// grain's uncompressed bytes, used only to detect an all-zero grain when
// ElideZeroGrains is set; compressed is what graincodec.Compress
// produced from it.
func (e *Encoder) WriteGrain(seq int64, raw, compressed []byte, isLast bool) error {
	if seq != e.nextSeq {
		panic(fmt.Sprintf("vmdkstream: internal invariant violated: expected grain %d, got %d", e.nextSeq, seq))
	}
	e.nextSeq++

	if e.ElideZeroGrains && isAllZero(raw) {
		return nil
	}

	offset := e.sector()

	marker := sectorio.GrainMarker{
		LBA:  uint64(seq * sectorio.SectorsPerGrain),
		Size: uint32(len(compressed)),
	}
	if err := e.write(marker); err != nil {
		return err
	}
	if err := e.write(compressed); err != nil {
		return err
	}
	if err := e.padToSector(); err != nil {
		return err
	}

	e.grainOffsets[seq] = uint32(offset)
	return nil
}

// Finish writes the grain tables, grain directory, footer, and
// end-of-stream marker, completing the archive. It must be called
// exactly once, after every grain has been passed to WriteGrain.
func (e *Encoder) Finish() (Result, error) {
	if e.nextSeq != e.totalGrains {
		panic(fmt.Sprintf("vmdkstream: internal invariant violated: finished after %d/%d grains", e.nextSeq, e.totalGrains))
	}

	var gdEntries []uint32

	for start := int64(0); start < e.totalGrains; start += sectorio.GTEsPerGT {
		end := start + sectorio.GTEsPerGT
		if end > e.totalGrains {
			end = e.totalGrains
		}

		gdEntries = append(gdEntries, uint32(e.sector()))

		m := sectorio.Marker{
			NumSectors: (sectorio.GTEsPerGT * 4) / sectorio.SectorSize,
			Size:       sectorio.GTEsPerGT * 4,
			Type:       sectorio.MarkerGT,
		}
		if err := e.write(m); err != nil {
			return Result{}, err
		}

		entries := make([]uint32, sectorio.GTEsPerGT)
		copy(entries, e.grainOffsets[start:end])
		if err := e.write(entries); err != nil {
			return Result{}, err
		}
	}

	gdSector := e.sector()

	gdSize := uint32(len(gdEntries) * 4)
	gdMarker := sectorio.Marker{
		NumSectors: uint64(sectorio.SectorCount(int64(gdSize))),
		Size:       gdSize,
		Type:       sectorio.MarkerGD,
	}
	if err := e.write(gdMarker); err != nil {
		return Result{}, err
	}
	if err := e.write(gdEntries); err != nil {
		return Result{}, err
	}
	if err := e.padToSector(); err != nil {
		return Result{}, err
	}

	footerMarker := sectorio.Marker{NumSectors: 1, Size: 0, Type: sectorio.MarkerFooter}
	if err := e.write(footerMarker); err != nil {
		return Result{}, err
	}

	footer := e.header
	footer.GDOffset = uint64(gdSector)
	if err := e.write(footer); err != nil {
		return Result{}, err
	}

	eos := sectorio.Marker{}
	if err := e.write(eos); err != nil {
		return Result{}, err
	}

	return Result{
		CapacityBytes:        e.capacityBytes,
		CapacitySectors:      sectorio.SectorCount(e.capacityBytes),
		GrainCount:           e.totalGrains,
		CompressedBytes:      e.bytesWritten,
		GrainDirectorySector: gdSector,
	}, nil
}
