package flatsource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.img")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestOpenAndSize(t *testing.T) {
	data := make([]byte, 100000)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(len(data)), src.Size())
}

func TestGrainsOddLength(t *testing.T) {
	data := make([]byte, 100000)
	path := writeTempFile(t, data)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	var grains []IndexedGrain
	for g := range src.Grains(65536) {
		grains = append(grains, g)
	}

	require.Len(t, grains, 2)
	assert.Equal(t, int64(0), grains[0].Sequence)
	assert.Len(t, grains[0].Bytes, 65536)
	assert.False(t, grains[0].IsLast)

	assert.Equal(t, int64(1), grains[1].Sequence)
	assert.Len(t, grains[1].Bytes, 100000-65536)
	assert.True(t, grains[1].IsLast)
}

func TestGrainsExactMultiple(t *testing.T) {
	data := make([]byte, 65536)
	path := writeTempFile(t, data)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	var grains []IndexedGrain
	for g := range src.Grains(65536) {
		grains = append(grains, g)
	}

	require.Len(t, grains, 1)
	assert.Len(t, grains[0].Bytes, 65536)
	assert.True(t, grains[0].IsLast)
}

func TestEmptySource(t *testing.T) {
	path := writeTempFile(t, nil)

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, int64(0), src.Size())

	var grains []IndexedGrain
	for g := range src.Grains(65536) {
		grains = append(grains, g)
	}
	assert.Len(t, grains, 0)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "does-not-exist.img"))
	assert.Error(t, err)
}
