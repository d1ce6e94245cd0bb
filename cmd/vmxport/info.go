package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vmxport/vmxport/internal/vmxcfg"
)

var infoCmd = &cobra.Command{
	Use:   "info <vmx-file>",
	Short: "Print a VM's name, guest OS, CPU count, memory, and disk list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := vmxcfg.ParseVMXFile(args[0])
		if err != nil {
			return fmt.Errorf("info: %w", err)
		}

		fmt.Printf("Name:     %s\n", cfg.Name)
		fmt.Printf("Guest OS: %s\n", cfg.GuestOS)
		fmt.Printf("CPUs:     %d\n", cfg.NumCPU)
		fmt.Printf("Memory:   %d MB\n", cfg.MemoryMB)
		fmt.Printf("Disks:\n")
		for i, d := range cfg.Disks {
			fmt.Printf("  [%d] %s:%d  %s\n", i, d.Controller, d.Unit, d.VMDKPath)
		}
		return nil
	},
}
