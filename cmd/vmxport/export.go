package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thediveo/enumflag/v2"

	"github.com/vmxport/vmxport/internal/export"
	"github.com/vmxport/vmxport/internal/graincodec"
	"github.com/vmxport/vmxport/internal/vmxcfg"
)

// compressionFlag is the enumflag-backed --compression value, matching
// the fast/balanced/max levels the pipeline's graincodec understands.
type compressionFlag enumflag.Flag

const (
	compressionFast compressionFlag = iota
	compressionBalanced
	compressionMax
)

var compressionFlagIDs = map[compressionFlag][]string{
	compressionFast:     {"fast"},
	compressionBalanced: {"balanced"},
	compressionMax:      {"max"},
}

func (c compressionFlag) level() graincodec.Level {
	switch c {
	case compressionFast:
		return graincodec.Fast
	case compressionMax:
		return graincodec.Max
	default:
		return graincodec.Balanced
	}
}

var (
	flagOutput      string
	flagCompression = compressionBalanced
	flagThreads     int
	flagChunkSizeMB int
	flagConfigFile  string
)

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&flagOutput, "output", "o", "", "output OVA path (default: <vmx-basename>.ova)")
	f.VarP(enumflag.New(&flagCompression, "compression", compressionFlagIDs, enumflag.EnumCaseInsensitive), "compression", "c", "grain compression level: fast, balanced, or max")
	f.IntVarP(&flagThreads, "threads", "t", 0, "compression worker count (default: logical CPU count)")
	f.IntVar(&flagChunkSizeMB, "chunk-size", 0, "upper bound, in MiB, on raw bytes in flight (default: 2 * threads grains)")
	f.StringVar(&flagConfigFile, "config", "", "path to a vmxport config file")
}

var exportCmd = &cobra.Command{
	Use:   "export <vmx-file>",
	Short: "Export a VMware Workstation VM to an OVA file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		initConfig(flagConfigFile)

		vmxPath := args[0]
		cfg, err := vmxcfg.ParseVMXFile(vmxPath)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if len(cfg.Disks) == 0 {
			return fmt.Errorf("export: %s declares no disks", vmxPath)
		}

		outPath := flagOutput
		if outPath == "" {
			base := strings.TrimSuffix(filepath.Base(vmxPath), filepath.Ext(vmxPath))
			outPath = base + ".ova"
		}

		level := flagCompression.level()
		if !cmd.Flags().Changed("compression") {
			if lvl, err := graincodec.ParseLevel(viper.GetString("compression")); err == nil {
				level = lvl
			}
		}
		threads := flagThreads
		if threads == 0 {
			threads = viper.GetInt("threads")
		}
		chunkSize := flagChunkSizeMB
		if chunkSize == 0 {
			chunkSize = viper.GetInt("chunk-size")
		}

		log.Infof("exporting %s -> %s (compression=%s threads=%d)", vmxPath, outPath, level, threads)

		opts := export.Options{
			Compression:  level,
			Threads:      threads,
			ChunkSizeMiB: chunkSize,
			Logger:       log,
		}

		result, err := export.Export(context.Background(), cfg, outPath, opts)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}

		log.Printf("wrote %s (%d disk(s), %d manifest entries)", result.OutputPath, len(result.Disks), len(result.Manifest))
		return nil
	},
}
