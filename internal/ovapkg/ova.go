// Package ovapkg implements C5: a POSIX ustar TAR assembler specialized
// for OVA output — member payloads are digested with SHA-256 inline as
// they stream through, with no second I/O pass, and a member of unknown
// size (the disk, whose size is only known once C4 finishes encoding
// it) is supported by reserving its header, streaming the payload, then
// seeking back to patch in the final size and checksum.
//
// Adapted from the teacher's pkg/ova/ova.go, which wrapped archive/tar
// and a tempfile for the one unknown-size member it ever wrote. No
// third-party ustar implementation appears anywhere in the retrieval
// pack (archive/tar is the ecosystem's own answer for this format, and
// govmomi — the one example repo that references OVF/OVA — vendors its
// own tar usage through the same package), so this stays on
// archive/tar rather than reaching for a facade with nothing to add.
package ovapkg

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/vmxport/vmxport/pkg/vio"
)

// Writer assembles a POSIX ustar OVA archive into an io.WriteSeeker,
// tracking a manifest of (name, sha256) pairs in write order.
type Writer struct {
	w        io.WriteSeeker
	tw       *tar.Writer
	manifest []ManifestEntry
	closed   bool
}

// ManifestEntry is one line of the `.mf` manifest: a member name and the
// lowercase hex SHA-256 of its payload.
type ManifestEntry struct {
	Name       string
	SHA256Hex  string
	PayloadLen int64
}

// NewWriter wraps w via vio.WriteSeeker, so any io.Writer works for
// members whose size is known up front. The disk member is the
// exception: patching its header in place after streaming requires a
// true backward seek, which only works when w is also an io.Seeker
// (BeginDiskMember/Close will fail on a plain pipe or socket).
func NewWriter(w io.Writer) (*Writer, error) {
	ws, err := vio.WriteSeeker(w)
	if err != nil {
		return nil, fmt.Errorf("ovapkg: wrap output: %w", err)
	}
	return &Writer{
		w:  ws,
		tw: tar.NewWriter(ws),
	}, nil
}

// WriteMember appends a complete, known-length member by copying every
// byte read from r, computing its SHA-256 digest inline.
func (o *Writer) WriteMember(name string, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:   name,
		Mode:   0644,
		Size:   size,
		Format: tar.FormatUSTAR,
	}
	if err := o.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("ovapkg: write header for %q: %w", name, err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(o.tw, h), r)
	if err != nil {
		return fmt.Errorf("ovapkg: stream member %q: %w", name, err)
	}
	if n != size {
		return fmt.Errorf("ovapkg: member %q: declared size %d but wrote %d bytes", name, size, n)
	}

	o.manifest = append(o.manifest, ManifestEntry{
		Name:       name,
		SHA256Hex:  hex.EncodeToString(h.Sum(nil)),
		PayloadLen: n,
	})
	return nil
}

// DiskMemberWriter is returned by BeginDiskMember. Callers write the
// encoded disk payload to it as it is produced, then call Close once the
// encoder finishes to patch the header and close out the member.
type DiskMemberWriter struct {
	o            *Writer
	name         string
	headerOffset int64
	digest       interface {
		io.Writer
		Sum(b []byte) []byte
	}
	n int64
}

// Write implements io.Writer, streaming the payload straight to the
// underlying writer while digesting it. It deliberately bypasses o.tw:
// the reserved header declared Size 0, and archive/tar.Writer rejects
// any Write past a member's declared size with ErrWriteTooLong, so the
// real byte count can only be patched in afterwards (see Close), never
// declared up front.
func (d *DiskMemberWriter) Write(p []byte) (int, error) {
	n, err := d.o.w.Write(p)
	d.n += int64(n)
	d.digest.Write(p[:n])
	return n, err
}

// BeginDiskMember reserves a 512-byte header slot for name and returns a
// writer that streams the payload straight into the archive while
// digesting it, for use when the payload length is not known up front
// (spec's recommended option (b): reserve, stream, seek back and patch).
func (o *Writer) BeginDiskMember(name string) (*DiskMemberWriter, error) {
	// archive/tar buffers nothing for a header of a known Size; to
	// "reserve" the slot we flush any pending writer state, record the
	// current stream offset, and write a zero-size placeholder header
	// that gets overwritten once the true size is known.
	if err := o.tw.Flush(); err != nil {
		return nil, fmt.Errorf("ovapkg: begin disk member %q: %w", name, err)
	}
	offset, err := o.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("ovapkg: begin disk member %q: %w", name, err)
	}

	hdr := &tar.Header{
		Name:   name,
		Mode:   0644,
		Size:   0,
		Format: tar.FormatUSTAR,
	}
	if err := o.tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("ovapkg: reserve header for %q: %w", name, err)
	}

	return &DiskMemberWriter{
		o:            o,
		name:         name,
		headerOffset: offset,
		digest:       sha256.New(),
	}, nil
}

// Close finalizes a disk member: it pads the payload to the 512-byte
// boundary archive/tar expects, seeks back to the reserved header slot,
// rewrites it with the true size and checksum, then seeks forward past
// the payload so subsequent members append correctly.
func (d *DiskMemberWriter) Close() error {
	pad := (512 - (d.n % 512)) % 512
	if pad > 0 {
		// Raw write, for the same reason Write is: o.tw still thinks
		// this member's declared size is 0 and would reject it.
		if _, err := d.o.w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("ovapkg: pad disk member %q: %w", d.name, err)
		}
	}
	endOffset, err := d.o.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("ovapkg: finalize disk member %q: %w", d.name, err)
	}

	if _, err := d.o.w.Seek(d.headerOffset, io.SeekStart); err != nil {
		return fmt.Errorf("ovapkg: seek back to patch %q header: %w", d.name, err)
	}

	hdr := &tar.Header{
		Name:   d.name,
		Mode:   0644,
		Size:   d.n,
		Format: tar.FormatUSTAR,
	}
	if err := writeRawHeader(d.o.w, hdr); err != nil {
		return fmt.Errorf("ovapkg: patch header for %q: %w", d.name, err)
	}

	if _, err := d.o.w.Seek(endOffset, io.SeekStart); err != nil {
		return fmt.Errorf("ovapkg: seek past patched member %q: %w", d.name, err)
	}

	d.o.manifest = append(d.o.manifest, ManifestEntry{
		Name:       d.name,
		SHA256Hex:  hex.EncodeToString(d.digest.Sum(nil)),
		PayloadLen: d.n,
	})

	// archive/tar's internal byte-accounting for the member we just
	// patched around no longer matches what physically landed on disk;
	// reopen a fresh tar.Writer at the current offset so the next
	// WriteHeader call starts clean.
	d.o.tw = tar.NewWriter(d.o.w)
	return nil
}

// writeRawHeader writes a single 512-byte ustar header for hdr directly,
// bypassing archive/tar.Writer's internal offset bookkeeping, which is
// necessary because we're patching a header in place out of stream
// order.
func writeRawHeader(w io.Writer, hdr *tar.Header) error {
	tw := tar.NewWriter(&limitedHeaderSink{w: w})
	return tw.WriteHeader(hdr)
}

// limitedHeaderSink passes through, and counts, the bytes
// archive/tar.Writer emits for a WriteHeader call. For a ustar header
// that is exactly one 512-byte block; nothing is filtered or discarded.
type limitedHeaderSink struct {
	w io.Writer
	n int
}

func (s *limitedHeaderSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.n += n
	return n, err
}

// WriteManifest appends the `.mf` manifest member summarizing every
// member written so far, named name. It must be called last.
func (o *Writer) WriteManifest(name string) error {
	var buf []byte
	for _, e := range o.manifest {
		line := fmt.Sprintf("SHA256(%s)= %s\n", e.Name, e.SHA256Hex)
		buf = append(buf, line...)
	}
	return o.WriteMember(name, int64(len(buf)), bytesReader(buf))
}

// Manifest returns the manifest entries recorded so far, in write order.
func (o *Writer) Manifest() []ManifestEntry {
	return append([]ManifestEntry(nil), o.manifest...)
}

// Close finalizes the TAR archive by writing the two trailing all-zero
// blocks.
func (o *Writer) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	if err := o.tw.Close(); err != nil {
		return fmt.Errorf("ovapkg: close archive: %w", err)
	}
	return nil
}

func bytesReader(b []byte) io.Reader {
	return &byteSliceReader{b: b}
}

type byteSliceReader struct {
	b []byte
	i int
}

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
