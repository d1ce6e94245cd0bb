// Package export implements C6, the orchestrator: for each disk named
// in a parsed VMX configuration, it drives C1 (flatsource) through C3
// (pipeline) into C4 (vmdkstream), writing the encoded disk directly
// into a C5 (ovapkg) TAR member; once every disk is written it appends
// the C7 OVF descriptor and the manifest, and finalizes the archive.
//
// Modeled on the teacher's pkg/vconvert orchestration: options carried
// in a plain struct, logging and progress routed through pkg/elog's
// View interface, every failure path removing the partial output file
// before returning.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/vmxport/vmxport/internal/flatsource"
	"github.com/vmxport/vmxport/internal/graincodec"
	"github.com/vmxport/vmxport/internal/ovapkg"
	"github.com/vmxport/vmxport/internal/ovfbuild"
	"github.com/vmxport/vmxport/internal/pipeline"
	"github.com/vmxport/vmxport/internal/vmdkstream"
	"github.com/vmxport/vmxport/internal/vmxcfg"
	"github.com/vmxport/vmxport/pkg/elog"
)

// Options configures one export run.
type Options struct {
	// Compression is the deflate level applied to every grain of every
	// disk in this export.
	Compression graincodec.Level
	// Threads is the worker-pool size. 0 selects runtime.NumCPU() (see
	// pipeline.Options).
	Threads int
	// ChunkSizeMiB bounds the number of raw megabytes allowed in flight
	// across the pipeline's queues at once; 0 selects the pipeline's
	// own default (2 * Threads grains). Expressed in MiB because that's
	// the unit the CLI surface exposes; translated to a grain-queue
	// depth internally.
	ChunkSizeMiB int
	// Logger receives progress and diagnostic output. A nil Logger
	// disables all reporting.
	Logger elog.View
}

// Result summarizes a completed export.
type Result struct {
	OutputPath string
	Disks      []vmdkstream.Result
	Manifest   []ovapkg.ManifestEntry
}

// Export converts the VM described by cfg into a single OVA at
// outputPath. On any failure, outputPath is removed before returning so
// no partial archive is ever left behind (spec.md §7).
func Export(ctx context.Context, cfg *vmxcfg.VMConfig, outputPath string, opts Options) (*Result, error) {
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, wrap(KindIOWrite, "create output %q: %w", outputPath, err)
	}

	result, err := runExport(ctx, cfg, out, opts)
	closeErr := out.Close()

	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	if closeErr != nil {
		os.Remove(outputPath)
		return nil, wrap(KindIOWrite, "close output %q: %w", outputPath, closeErr)
	}

	result.OutputPath = outputPath
	return result, nil
}

func runExport(ctx context.Context, cfg *vmxcfg.VMConfig, out *os.File, opts Options) (*Result, error) {
	ova, err := ovapkg.NewWriter(out)
	if err != nil {
		return nil, wrap(KindIOWrite, "%w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = &elog.CLI{DisableTTY: true}
	}

	var diskResults []vmdkstream.Result
	var ovfDisks []ovfbuild.DiskRef

	for i, diskRef := range cfg.Disks {
		memberName := fmt.Sprintf("%s-disk%d.vmdk", cfg.Name, i)
		logger.Infof("exporting disk %d (%s) as %s", i, diskRef.VMDKPath, memberName)

		diskID := fmt.Sprintf("vmdisk-%s", uuid.NewString())
		fileRef := fmt.Sprintf("file%d", i+1)

		descResult, vres, err := exportOneDisk(ctx, diskRef.VMDKPath, ova, memberName, opts, logger)
		if err != nil {
			return nil, err
		}

		diskResults = append(diskResults, vres)
		ovfDisks = append(ovfDisks, ovfbuild.DiskRef{
			DiskID:          diskID,
			FileRef:         fileRef,
			FileName:        memberName,
			CapacityBytes:   descResult,
			CompressedBytes: vres.CompressedBytes,
		})
	}

	ovfXML, err := ovfbuild.Build(ovfbuild.Config{
		Name:     cfg.Name,
		GuestOS:  cfg.GuestOS,
		NumCPU:   cfg.NumCPU,
		MemoryMB: cfg.MemoryMB,
		Disks:    ovfDisks,
	})
	if err != nil {
		return nil, wrap(KindInternalInvariant, "build OVF: %w", err)
	}

	ovfName := cfg.Name + ".ovf"
	if err := ova.WriteMember(ovfName, int64(len(ovfXML)), byteReader(ovfXML)); err != nil {
		return nil, wrap(KindIOWrite, "write OVF member: %w", err)
	}

	manifestName := cfg.Name + ".mf"
	if err := ova.WriteManifest(manifestName); err != nil {
		return nil, wrap(KindIOWrite, "write manifest: %w", err)
	}

	if err := ova.Close(); err != nil {
		return nil, wrap(KindIOWrite, "finalize archive: %w", err)
	}

	return &Result{
		Disks:    diskResults,
		Manifest: ova.Manifest(),
	}, nil
}

// exportOneDisk parses diskRef's VMDK descriptor, opens its flat extent,
// and streams a complete stream-optimized VMDK directly into a new OVA
// member named memberName. It returns the disk's logical capacity in
// bytes and the vmdkstream.Result describing the encoded output.
func exportOneDisk(ctx context.Context, vmdkPath string, ova *ovapkg.Writer, memberName string, opts Options, logger elog.View) (capacityBytes int64, vres vmdkstream.Result, err error) {
	desc, err := vmxcfg.ParseDescriptorFile(vmdkPath)
	if err != nil {
		// A missing or unreadable descriptor file is Input-missing per
		// spec.md §7; a descriptor that opened fine but doesn't parse
		// (unsupported createType, no extents, malformed extent line)
		// is Parse.
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return 0, vmdkstream.Result{}, wrap(KindInputMissing, "%w", err)
		}
		return 0, vmdkstream.Result{}, wrap(KindParse, "%w", err)
	}

	flatPath, err := desc.FlatExtentPath()
	if err != nil {
		return 0, vmdkstream.Result{}, wrap(KindUnsupported, "%w", err)
	}

	src, err := flatsource.Open(flatPath)
	if err != nil {
		return 0, vmdkstream.Result{}, wrap(KindInputMissing, "%w", err)
	}
	defer src.Close()

	if src.Size() == 0 {
		return 0, vmdkstream.Result{}, wrap(KindUnsupported, "flat extent %q is zero-length", flatPath)
	}

	diskWriter, err := ova.BeginDiskMember(memberName)
	if err != nil {
		return 0, vmdkstream.Result{}, wrap(KindIOWrite, "%w", err)
	}

	enc, err := vmdkstream.NewEncoder(diskWriter, src.Size())
	if err != nil {
		return 0, vmdkstream.Result{}, wrap(KindIOWrite, "%w", err)
	}

	pipelineOpts := pipeline.Options{
		Workers: opts.Threads,
		Level:   opts.Compression,
	}
	if opts.ChunkSizeMiB > 0 {
		grainsPerChunk := (opts.ChunkSizeMiB * 1024 * 1024) / 65536
		if grainsPerChunk > 0 {
			pipelineOpts.QueueSize = grainsPerChunk
		}
	}
	if logger != nil {
		bar := logger.NewProgress(memberName, "bytes", src.Size())
		var lastDone int64
		pipelineOpts.Progress = func(bytesDone int64) {
			bar.Increment(bytesDone - lastDone)
			lastDone = bytesDone
		}
		defer func() { bar.Finish(err == nil) }()
	}

	if runErr := pipeline.Run(ctx, src, 65536, enc, pipelineOpts); runErr != nil {
		err = classifyPipelineError(runErr)
		return 0, vmdkstream.Result{}, err
	}

	vres, err = enc.Finish()
	if err != nil {
		err = wrap(KindIOWrite, "%w", err)
		return 0, vmdkstream.Result{}, err
	}

	if closeErr := diskWriter.Close(); closeErr != nil {
		err = wrap(KindIOWrite, "%w", closeErr)
		return 0, vmdkstream.Result{}, err
	}

	capacityBytes = desc.CapacityBytes()
	return capacityBytes, vres, nil
}

func classifyPipelineError(err error) error {
	if err == nil {
		return nil
	}
	return wrap(KindCompression, "%w", err)
}

func byteReader(b []byte) *byteSliceReader {
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
