// Package flatsource provides random-access, memory-mapped reads of a
// monolithic flat VMDK extent (C1 in the design).
package flatsource

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/vmxport/vmxport/internal/sectorio"
)

// Source is a read-only view of a flat extent file, memory-mapped so the
// OS pages the (potentially hundred-GB) file in on demand rather than
// the implementation faulting it all in eagerly.
type Source struct {
	path string
	f    *os.File
	m    mmap.MMap
}

// Open memory-maps path read-only. Failure names the path, per the
// Input-missing error kind.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("flat extent %q: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flat extent %q: stat: %w", path, err)
	}

	if fi.Size() == 0 {
		// mmap.Map rejects zero-length mappings; treat a zero-length
		// flat file as a valid, if degenerate, empty disk.
		return &Source{path: path, f: f, m: nil}, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flat extent %q: mmap: %w", path, err)
	}

	return &Source{path: path, f: f, m: m}, nil
}

// Path returns the extent's source path, for diagnostics.
func (s *Source) Path() string {
	return s.path
}

// Size returns the flat extent's length in bytes.
func (s *Source) Size() int64 {
	return int64(len(s.m))
}

// IndexedGrain is one grain's raw bytes tagged with its sequence number
// within the disk and whether it is the final (possibly short) grain.
type IndexedGrain struct {
	Sequence int64
	Bytes    []byte
	IsLast   bool
}

// Grains streams successive non-overlapping grainSize windows of the
// mapping over the returned channel, in ascending sequence order, the
// last window being the residual tail (1..grainSize bytes). The channel
// is closed once the whole file (or nothing, for a zero-length file) has
// been produced. Grains returned here share the underlying mapping;
// callers must not retain them past Close.
func (s *Source) Grains(grainSize int) <-chan IndexedGrain {
	out := make(chan IndexedGrain)

	go func() {
		defer close(out)

		total := sectorio.GrainCount(s.Size())
		if total == 0 {
			// A zero-length flat extent has an empty grain table
			// (sectorio.GrainCount(0) == 0); nothing to stream.
			return
		}

		var seq int64
		for off := int64(0); off < int64(len(s.m)); off += int64(grainSize) {
			end := off + int64(grainSize)
			if end > int64(len(s.m)) {
				end = int64(len(s.m))
			}
			out <- IndexedGrain{
				Sequence: seq,
				Bytes:    s.m[off:end],
				IsLast:   seq == total-1,
			}
			seq++
		}
	}()

	return out
}

// Close unmaps the file and closes the underlying descriptor. The
// mapping must not be used again afterwards.
func (s *Source) Close() error {
	var err error
	if s.m != nil {
		err = s.m.Unmap()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
