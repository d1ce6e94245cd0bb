package ovapkg

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteMemberAndManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ova")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)

	payload := []byte("hello world")
	require.NoError(t, w.WriteMember("greeting.txt", int64(len(payload)), bytes.NewReader(payload)))
	require.NoError(t, w.WriteManifest("manifest.mf"))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0, len(data)%512, "archive length must be a multiple of 512")

	trailer := data[len(data)-1024:]
	assert.True(t, isAllZero(trailer), "archive must end with two all-zero blocks")

	tr := tar.NewReader(bytes.NewReader(data))
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)

		if hdr.Name == "manifest.mf" {
			content, err := io.ReadAll(tr)
			require.NoError(t, err)
			sum := sha256.Sum256(payload)
			want := "SHA256(greeting.txt)= " + hex.EncodeToString(sum[:]) + "\n"
			assert.Equal(t, want, string(content))
		}
	}
	assert.Equal(t, []string{"greeting.txt", "manifest.mf"}, names)
}

func TestDiskMemberReserveAndPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ova")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)

	diskData := bytes.Repeat([]byte{0xAB}, 10000)

	dw, err := w.BeginDiskMember("disk0.vmdk")
	require.NoError(t, err)
	n, err := dw.Write(diskData)
	require.NoError(t, err)
	require.Equal(t, len(diskData), n)
	require.NoError(t, dw.Close())

	require.NoError(t, w.WriteManifest("vm.mf"))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(data))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "disk0.vmdk", hdr.Name)
	assert.Equal(t, int64(len(diskData)), hdr.Size)

	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(diskData, content))

	manifest := w.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "disk0.vmdk", manifest[0].Name)
	sum := sha256.Sum256(diskData)
	assert.Equal(t, hex.EncodeToString(sum[:]), manifest[0].SHA256Hex)
}

// The .mf payload never lists itself (see TestWriteMemberAndManifest);
// the Manifest accessor, by contrast, records every member written,
// including the manifest member as the last entry.
func TestManifestAccessorIncludesManifestMember(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ova")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := NewWriter(f)
	require.NoError(t, err)

	require.NoError(t, w.WriteMember("a.txt", 1, strings.NewReader("a")))
	require.NoError(t, w.WriteManifest("a.mf"))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	manifest := w.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "a.txt", manifest[0].Name)
	assert.Equal(t, "a.mf", manifest[1].Name)
}

func isAllZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
