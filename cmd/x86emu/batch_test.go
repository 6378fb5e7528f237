// batch_test.go - Parallel batch run tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/intuitionamiga/x86emu"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunBatch(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	images := map[string][]byte{
		"halt.bin": {0x40, 0xF4},                   // INC AX ; HLT
		"loop.bin": {0xEB, 0xFE},                   // JMP $
		"io.bin":   {0xB0, 0x07, 0xE6, 0x80, 0xF4}, // MOV AL,7 ; OUT 0x80,AL ; HLT
	}
	var paths []string
	for _, name := range []string{"halt.bin", "loop.bin", "io.bin", "missing.bin"} {
		p := filepath.Join(dir, name)
		if code, ok := images[name]; ok {
			require.NoError(t, os.WriteFile(p, code, 0o644))
		}
		paths = append(paths, p)
	}

	cmd := &cobra.Command{Use: "test"}
	mf := addMachineFlags(cmd)
	require.NoError(t, cmd.Flags().Parse([]string{"--max", "50", "--trace", "io", "--ports", "0x80:w", "--console-port", "0"}))

	results, err := runBatch(context.Background(), mf, paths, 2)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, x86emu.StopHalted, results[0].reason)
	assert.Equal(t, uint64(2), results[0].tsc)
	assert.Equal(t, x86emu.StopMaxInstr, results[1].reason)
	assert.Equal(t, uint64(50), results[1].tsc)
	assert.Equal(t, x86emu.StopHalted, results[2].reason)
	assert.Error(t, results[3].err)

	trace, err := os.ReadFile(paths[2] + ".trace")
	require.NoError(t, err)
	assert.Contains(t, string(trace), "out [0080] = 07")

	var out bytes.Buffer
	failed := printBatch(&out, results)
	assert.Equal(t, 1, failed)
	assert.Contains(t, out.String(), "IMAGE")
	assert.Contains(t, out.String(), "halt.bin")
	assert.Contains(t, out.String(), "instruction limit")
	assert.Contains(t, out.String(), "missing.bin")
}
