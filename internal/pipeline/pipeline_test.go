package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmxport/vmxport/internal/flatsource"
	"github.com/vmxport/vmxport/internal/graincodec"
)

func openSource(t *testing.T, size int) *flatsource.Source {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "flat.img")
	require.NoError(t, os.WriteFile(path, data, 0644))
	src, err := flatsource.Open(path)
	require.NoError(t, err)
	return src
}

type recordingSink struct {
	mu   sync.Mutex
	seqs []int64
}

func (r *recordingSink) WriteGrain(seq int64, raw, compressed []byte, isLast bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, seq)
	return nil
}

func TestOrderingSingleWorker(t *testing.T) {
	src := openSource(t, 65536*10)
	defer src.Close()

	sink := &recordingSink{}
	err := Run(context.Background(), src, 65536, sink, Options{Workers: 1, Level: graincodec.Fast})
	require.NoError(t, err)

	for i, seq := range sink.seqs {
		assert.Equal(t, int64(i), seq)
	}
}

func TestOrderingManyWorkers(t *testing.T) {
	src := openSource(t, 65536*64)
	defer src.Close()

	sink := &recordingSink{}
	err := Run(context.Background(), src, 65536, sink, Options{Workers: 64, Level: graincodec.Fast})
	require.NoError(t, err)

	require.Len(t, sink.seqs, 64)
	for i, seq := range sink.seqs {
		assert.Equal(t, int64(i), seq)
	}
}

type failingSink struct {
	failAt int64
}

func (f *failingSink) WriteGrain(seq int64, raw, compressed []byte, isLast bool) error {
	if seq == f.failAt {
		return errors.New("boom")
	}
	return nil
}

func TestSinkErrorPropagates(t *testing.T) {
	src := openSource(t, 65536*20)
	defer src.Close()

	sink := &failingSink{failAt: 5}
	err := Run(context.Background(), src, 65536, sink, Options{Workers: 4, Level: graincodec.Fast})
	require.Error(t, err)
}

func TestProgressCallback(t *testing.T) {
	src := openSource(t, 65536*4)
	defer src.Close()

	sink := &recordingSink{}
	var lastSeen int64
	opts := Options{
		Workers: 2,
		Level:   graincodec.Fast,
		Progress: func(bytesDone int64) {
			lastSeen = bytesDone
		},
	}
	require.NoError(t, Run(context.Background(), src, 65536, sink, opts))
	assert.Equal(t, int64(65536*4), lastSeen)
}

func TestNormalizedDefaults(t *testing.T) {
	opts := Options{}.normalized()
	assert.Greater(t, opts.Workers, 0)
	assert.Equal(t, 2*opts.Workers, opts.QueueSize)
}
