package export

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmxport/vmxport/internal/graincodec"
	"github.com/vmxport/vmxport/internal/vmxcfg"
)

// buildFixtureVM writes a minimal but complete VMware Workstation VM
// (.vmx + monolithicFlat descriptor + flat extent) to a temp directory
// and returns its parsed VMConfig, so tests exercise the same path
// cmd/vmxport drives in production.
func buildFixtureVM(t *testing.T, flatBytes []byte) *vmxcfg.VMConfig {
	t.Helper()
	dir := t.TempDir()

	flatPath := filepath.Join(dir, "disk-flat.vmdk")
	require.NoError(t, os.WriteFile(flatPath, flatBytes, 0644))

	descPath := filepath.Join(dir, "disk.vmdk")
	sectors := len(flatBytes) / 512
	if len(flatBytes)%512 != 0 {
		sectors++
	}
	descContent := `createType="monolithicFlat"

RW ` + itoa(sectors) + ` FLAT "disk-flat.vmdk" 0

ddb.adapterType = "lsilogic"
`
	require.NoError(t, os.WriteFile(descPath, []byte(descContent), 0644))

	vmxPath := filepath.Join(dir, "fixture.vmx")
	vmxContent := `displayName = "FixtureVM"
guestOS = "ubuntu-64"
numvcpus = "2"
memsize = "1024"
scsi0:0.fileName = "disk.vmdk"
scsi0:0.present = "TRUE"
`
	require.NoError(t, os.WriteFile(vmxPath, []byte(vmxContent), 0644))

	cfg, err := vmxcfg.ParseVMXFile(vmxPath)
	require.NoError(t, err)
	return cfg
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func rampData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func tarMemberNames(t *testing.T, ovaPath string) []string {
	t.Helper()
	data, err := os.ReadFile(ovaPath)
	require.NoError(t, err)
	require.Equal(t, 0, len(data)%512, "OVA length must be a multiple of 512")

	var names []string
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	return names
}

func TestExportSingleSmallDisk(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(65536))
	outPath := filepath.Join(t.TempDir(), "fixture.ova")

	result, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast, Threads: 2})
	require.NoError(t, err)
	require.Len(t, result.Disks, 1)

	names := tarMemberNames(t, outPath)
	assert.Contains(t, names, "FixtureVM-disk0.vmdk")
	assert.Contains(t, names, "FixtureVM.ovf")
	assert.Contains(t, names, "FixtureVM.mf")

	require.Len(t, result.Manifest, 3)
	assert.Equal(t, "FixtureVM-disk0.vmdk", result.Manifest[0].Name)
	assert.Equal(t, "FixtureVM.ovf", result.Manifest[1].Name)
}

func TestExportOddLengthDisk(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(100000))
	outPath := filepath.Join(t.TempDir(), "fixture.ova")

	result, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Balanced, Threads: 4})
	require.NoError(t, err)
	require.Len(t, result.Disks, 1)
	assert.Equal(t, int64(2), result.Disks[0].GrainCount)
}

func TestExportMultiGrainTableDisk(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(640*65536))
	outPath := filepath.Join(t.TempDir(), "fixture.ova")

	result, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast, Threads: 8})
	require.NoError(t, err)
	require.Len(t, result.Disks, 1)
	assert.Equal(t, int64(640), result.Disks[0].GrainCount)
}

func TestExportDeterministicAcrossThreadCounts(t *testing.T) {
	raw := rampData(65536 * 12)

	cfg1 := buildFixtureVM(t, raw)
	out1 := filepath.Join(t.TempDir(), "one.ova")
	_, err := Export(context.Background(), cfg1, out1, Options{Compression: graincodec.Balanced, Threads: 1})
	require.NoError(t, err)

	cfg8 := buildFixtureVM(t, raw)
	out8 := filepath.Join(t.TempDir(), "eight.ova")
	_, err = Export(context.Background(), cfg8, out8, Options{Compression: graincodec.Balanced, Threads: 8})
	require.NoError(t, err)

	data1, err := os.ReadFile(out1)
	require.NoError(t, err)
	data8, err := os.ReadFile(out8)
	require.NoError(t, err)

	// The disk member's bytes must be identical regardless of worker
	// count; the surrounding OVF/manifest differ only by embedded
	// per-run UUIDs, so compare disk payloads extracted from the tar
	// rather than the whole archive.
	assert.Equal(t, extractMember(t, data1, "FixtureVM-disk0.vmdk"), extractMember(t, data8, "FixtureVM-disk0.vmdk"))
}

func extractMember(t *testing.T, data []byte, name string) []byte {
	t.Helper()
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			t.Fatalf("member %q not found", name)
		}
		require.NoError(t, err)
		if hdr.Name == name {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			return content
		}
	}
}

func TestExportZeroLengthDiskIsUnsupported(t *testing.T) {
	cfg := buildFixtureVM(t, nil)
	outPath := filepath.Join(t.TempDir(), "fixture.ova")

	_, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast})
	require.Error(t, err)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, KindUnsupported, exportErr.Kind)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr), "partial output must not be left behind on failure")
}

func TestExportMissingDiskIsInputMissing(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(65536))
	cfg.Disks[0].VMDKPath = filepath.Join(t.TempDir(), "does-not-exist.vmdk")
	outPath := filepath.Join(t.TempDir(), "fixture.ova")

	_, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast})
	require.Error(t, err)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, KindInputMissing, exportErr.Kind)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExportMalformedDescriptorIsParse(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(65536))

	// Replace the valid descriptor with one whose createType is
	// unsupported, so the file opens fine but fails to parse.
	require.NoError(t, os.WriteFile(cfg.Disks[0].VMDKPath, []byte(`createType="twoGbMaxExtentSparse"
RW 100 SPARSE "disk-s001.vmdk"
`), 0644))

	outPath := filepath.Join(t.TempDir(), "fixture.ova")
	_, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast})
	require.Error(t, err)

	var exportErr *Error
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, KindParse, exportErr.Kind)
}

func TestExportUnwritableOutputPathLeavesNoFile(t *testing.T) {
	cfg := buildFixtureVM(t, rampData(65536))
	outPath := filepath.Join(t.TempDir(), "no-such-dir", "fixture.ova")

	_, err := Export(context.Background(), cfg, outPath, Options{Compression: graincodec.Fast})
	require.Error(t, err)

	_, statErr := os.Stat(outPath)
	assert.True(t, os.IsNotExist(statErr))
}
