package vmxcfg

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// ExtentType enumerates the access types a VMDK descriptor extent line
// can declare. Only Flat is supported for input per spec.md's Non-goals;
// the rest are recognized so an unsupported descriptor fails with a
// precise message rather than a parse error.
type ExtentType int

const (
	ExtentFlat ExtentType = iota
	ExtentSparse
	ExtentZero
	ExtentVMFS
	ExtentVMFSSparse
	ExtentVMFSRDM
	ExtentVMFSRaw
)

func parseExtentType(s string) (ExtentType, error) {
	switch strings.ToUpper(s) {
	case "FLAT":
		return ExtentFlat, nil
	case "SPARSE":
		return ExtentSparse, nil
	case "ZERO":
		return ExtentZero, nil
	case "VMFS":
		return ExtentVMFS, nil
	case "VMFSSPARSE":
		return ExtentVMFSSparse, nil
	case "VMFSRDM":
		return ExtentVMFSRDM, nil
	case "VMFSRAW":
		return ExtentVMFSRaw, nil
	default:
		return 0, fmt.Errorf("unrecognized extent type %q", s)
	}
}

// Extent is one `RW <sectors> <type> "<path>" [offset]` line of a VMDK
// descriptor.
type Extent struct {
	Sectors int64
	Type    ExtentType
	Path    string // resolved relative to the descriptor's directory
	Offset  int64
}

// Descriptor is the parsed contents of a VMDK descriptor text file.
type Descriptor struct {
	CreateType string
	Extents    []Extent
	Geometry   struct {
		Cylinders, Heads, Sectors int64
	}
	AdapterType string
}

var extentLineRE = regexp.MustCompile(`^(RW|RDONLY|NOACCESS)\s+(\d+)\s+(\S+)\s+"([^"]+)"(?:\s+(\d+))?\s*$`)

// ParseDescriptorFile parses the VMDK descriptor at path. Only
// createType "monolithicFlat" is accepted; anything else is rejected
// with an "unsupported VMDK type" error, which internal/export reports
// as a Parse failure.
func ParseDescriptorFile(path string) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vmdk descriptor %q: %w", path, err)
	}
	defer f.Close()

	d := &Descriptor{}
	dir := dirName(path)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := extentLineRE.FindStringSubmatch(line); m != nil {
			sectors, _ := strconv.ParseInt(m[2], 10, 64)
			typ, err := parseExtentType(m[3])
			if err != nil {
				return nil, fmt.Errorf("vmdk descriptor %q line %d: %w", path, lineNo, err)
			}
			var offset int64
			if m[5] != "" {
				offset, _ = strconv.ParseInt(m[5], 10, 64)
			}
			d.Extents = append(d.Extents, Extent{
				Sectors: sectors,
				Type:    typ,
				Path:    resolvePath(dir, m[4]),
				Offset:  offset,
			})
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			// A line that is neither a comment, an extent line, nor a
			// key=value pair is ignored rather than fatal, since the
			// format allows vendor extensions.
			continue
		}

		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.Trim(strings.TrimSpace(line[idx+1:]), `"`)

		switch key {
		case "createtype":
			d.CreateType = val
		case "ddb.adaptertype":
			d.AdapterType = val
		case "ddb.geometry.cylinders":
			d.Geometry.Cylinders, _ = strconv.ParseInt(val, 10, 64)
		case "ddb.geometry.heads":
			d.Geometry.Heads, _ = strconv.ParseInt(val, 10, 64)
		case "ddb.geometry.sectors":
			d.Geometry.Sectors, _ = strconv.ParseInt(val, 10, 64)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vmdk descriptor %q: %w", path, err)
	}

	if d.CreateType != "monolithicFlat" {
		return nil, fmt.Errorf("vmdk descriptor %q: unsupported VMDK type %q (only monolithicFlat is supported)", path, d.CreateType)
	}
	if len(d.Extents) == 0 {
		return nil, fmt.Errorf("vmdk descriptor %q: no extents found", path)
	}

	return d, nil
}

// FlatExtentPath returns the path of the descriptor's single flat
// extent. Only one monolithic flat extent is supported.
func (d *Descriptor) FlatExtentPath() (string, error) {
	if len(d.Extents) != 1 {
		return "", fmt.Errorf("unsupported: split VMDKs (%d extents) are not supported", len(d.Extents))
	}
	if d.Extents[0].Type != ExtentFlat {
		return "", fmt.Errorf("unsupported: extent type is not FLAT")
	}
	return d.Extents[0].Path, nil
}

// CapacityBytes returns the total extent size in bytes.
func (d *Descriptor) CapacityBytes() int64 {
	var sectors int64
	for _, e := range d.Extents {
		sectors += e.Sectors
	}
	return sectors * 512
}
