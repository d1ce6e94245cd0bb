// Package sectorio holds the wire-format constants and binary layouts
// shared by the stream-optimized VMDK encoder and its tests. Nothing in
// this package performs I/O; it only describes the byte geometry of the
// format.
package sectorio

// Magic identifies a VMware sparse extent ("VMDK" little-endian).
const Magic = 0x564D444B

// SectorSize is the fixed on-disk unit of all VMDK offsets.
const SectorSize = 512

// GrainSizeBytes is the fixed size of one compressible unit of the
// virtual disk's address space.
const GrainSizeBytes = 128 * SectorSize // 65536

// SectorsPerGrain is GrainSizeBytes expressed in sectors.
const SectorsPerGrain = GrainSizeBytes / SectorSize

// GTEsPerGT is the number of grain-table entries per grain table.
const GTEsPerGT = 512

// Version is the only stream-optimized sparse extent version this
// encoder produces.
const Version = 3

// CompressAlgorithmDeflate is the only compression algorithm the
// stream-optimized format defines.
const CompressAlgorithmDeflate = 1

// Marker types, tagged by the 4-byte type field of a metadata marker.
const (
	MarkerEOS    uint32 = 0
	MarkerGT     uint32 = 1
	MarkerGD     uint32 = 2
	MarkerFooter uint32 = 3
)

// flag bits combined into the header's Flags field.
const (
	flagValidNewlineDetection = 1 << 0
	flagRedundantGTCoalesced  = 1 << 16
	flagCompressedGrains      = 1 << 17
)

// HeaderFlags is the Flags field value for a stream-optimized,
// compressed, coalesced-grain-table sparse extent.
const HeaderFlags = flagValidNewlineDetection | flagRedundantGTCoalesced | flagCompressedGrains

// GrainCount returns the number of logical grains needed to cover
// sizeBytes, i.e. ceil(sizeBytes / GrainSizeBytes). A zero-length disk
// has an empty grain table (GrainCount(0) == 0).
func GrainCount(sizeBytes int64) int64 {
	if sizeBytes <= 0 {
		return 0
	}
	return (sizeBytes + GrainSizeBytes - 1) / GrainSizeBytes
}

// SectorCount returns ceil(sizeBytes / SectorSize).
func SectorCount(sizeBytes int64) int64 {
	return (sizeBytes + SectorSize - 1) / SectorSize
}

// Header is the 512-byte sparse extent header, byte-identical in layout
// to a copy of it written as the archive footer (gd_offset differs).
type Header struct {
	MagicNumber       uint32
	Version           uint32
	Flags             uint32
	Capacity          uint64
	GrainSize         uint64
	DescriptorOffset  uint64
	DescriptorSize    uint64
	NumGTEsPerGT      uint32
	RGDOffset         uint64
	GDOffset          uint64
	OverHead          uint64
	UncleanShutdown   byte
	SingleEndLineChar byte
	NonEndLineChar    byte
	DoubleEndLineChar [2]byte
	CompressAlgorithm uint16
	Pad               [433]byte
}

// NewHeader builds the header for a disk of the given byte capacity.
// GDOffset is left at the sentinel 0xFFFFFFFFFFFFFFFF; callers patch it
// in when writing the footer, once the grain directory's location is
// known.
func NewHeader(capacityBytes int64) Header {
	return Header{
		MagicNumber:       Magic,
		Version:           Version,
		Flags:             HeaderFlags,
		Capacity:          uint64(SectorCount(capacityBytes)),
		GrainSize:         SectorsPerGrain,
		DescriptorOffset:  0,
		DescriptorSize:    0,
		NumGTEsPerGT:      GTEsPerGT,
		RGDOffset:         0,
		GDOffset:          0xFFFFFFFFFFFFFFFF,
		OverHead:          128,
		UncleanShutdown:   0,
		SingleEndLineChar: '\n',
		NonEndLineChar:    ' ',
		DoubleEndLineChar: [2]byte{'\r', '\n'},
		CompressAlgorithm: CompressAlgorithmDeflate,
	}
}

// GrainMarker precedes every compressed grain payload in the stream.
type GrainMarker struct {
	LBA  uint64
	Size uint32
}

// Marker is the 512-byte metadata marker preceding grain tables, the
// grain directory, and the footer.
type Marker struct {
	NumSectors uint64
	Size       uint32
	Type       uint32
	Pad        [496]byte
}
