// machine_config_test.go - YAML machine description tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePerm(t *testing.T) {
	tests := []struct {
		in   string
		want byte
	}{
		{"rwx", PermR | PermW | PermX},
		{"RX", PermR | PermX},
		{"-w-", PermW},
		{"", 0},
	}
	for _, tt := range tests {
		got, err := ParsePerm(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParsePerm("rq")
	assert.ErrorIs(t, err, ErrBadPermission)
}

func TestMachineConfig_Apply(t *testing.T) {
	dir := t.TempDir()
	// MOV AX,[0x500] ; OUT 0x80,AL ; HLT
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boot.bin"), []byte{0xA1, 0x00, 0x05, 0xE6, 0x80, 0xF4}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rom.bin"), []byte{0xEA, 0x00, 0x7C, 0x00, 0x00}, 0o644))

	cfgPath := filepath.Join(dir, "machine.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
default_perm: rw
max_instr: 500
image: boot.bin
load_addr: 0x7c00
entry_cs: 0
entry_ip: 0x7c00
regions:
  - {addr: 0x7c00, size: 0x200, perm: rx}
  - {addr: 0xffff0, size: 16, perm: rx, file: rom.bin}
  - {addr: 0x500, size: 2, perm: r, bytes: "34 12"}
ports:
  - {from: 0x80, to: 0x80, perm: w}
registers:
  ss: 0
  sp: 0x7000
  ds: 0
trace: [io]
check_exec: true
stop_on_loop: true
`), 0o644))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, RunMaxInstr|RunCheckExec|RunStopOnLoop, cfg.RunFlags())

	ports := newFakePorts()
	cpu := New(WithIOMap(NewIOMap(ports)), WithLogBuffer(1<<16, nil))
	require.NoError(t, cfg.Apply(cpu))

	assert.Equal(t, uint64(500), cpu.MaxInstr)
	assert.Equal(t, byte(PermR|PermW), cpu.Mem.DefaultPerm())
	assert.Equal(t, byte(PermR|PermX), cpu.Mem.Perm(0x7C00))
	assert.Equal(t, byte(PermR), cpu.Mem.Perm(0x501))
	assert.Equal(t, uint16(0x7000), cpu.SP())
	assert.Equal(t, TraceIO, cpu.Trace())
	v, _ := cpu.Mem.Peek(0xFFFF0)
	assert.Equal(t, byte(0xEA), v)

	require.Equal(t, StopHalted, cpu.Run(cfg.RunFlags()))
	assert.Equal(t, uint16(0x1234), cpu.AX())
	assert.Equal(t, []portWrite{{0x80, 1, 0x34}}, ports.writes)
	assert.Contains(t, cpu.Log().String(), "* out [0080] = 34")
}

func TestMachineConfig_Errors(t *testing.T) {
	_, err := ParseConfig([]byte("unknown_key: 1\n"))
	assert.Error(t, err, "unknown keys are rejected")

	cfg, err := ParseConfig([]byte("default_perm: rwz\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Apply(New()), ErrBadPermission)

	cfg, err = ParseConfig([]byte("registers:\n  bogus: 1\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Apply(New()), ErrUnknownRegister)

	cfg, err = ParseConfig([]byte("trace: [nothing]\n"))
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.Apply(New()), ErrUnknownFlag)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMachineConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "rwx", cfg.DefaultPerm)
	assert.Equal(t, RunFlags(0), cfg.RunFlags())

	cpu := New()
	require.NoError(t, cfg.Apply(cpu))
	assert.Equal(t, uint32(0xFFF0), cpu.EIP, "no image leaves the reset vector")
}
