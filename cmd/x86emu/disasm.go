// disasm.go - Static disassembly of a flat binary
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"

	"github.com/intuitionamiga/x86emu"
	"github.com/spf13/cobra"
)

func newDisasmCmd() *cobra.Command {
	var (
		bits  int
		org   uint32
		skip  uint32
		count int
	)
	cmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Disassemble a flat binary image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bits != 16 && bits != 32 {
				return fmt.Errorf("--bits must be 16 or 32")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if int64(skip) > int64(len(data)) {
				return fmt.Errorf("--skip %#x is past the end of %s", skip, args[0])
			}
			n := count
			if n <= 0 {
				n = len(data)
			}
			printDisasm(stdout, x86emu.Disassemble(data[skip:], org+skip, bits, n), ^uint32(0))
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 16, "code size, 16 or 32")
	cmd.Flags().Uint32Var(&org, "org", 0x7c00, "address of the first byte")
	cmd.Flags().Uint32Var(&skip, "skip", 0, "start this many bytes into the image")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "instructions to list (0 = whole image)")
	return cmd
}
