// luacheck_test.go - Lua code check tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/intuitionamiga/x86emu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "check.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func TestLuaCheck_StopsOnRegister(t *testing.T) {
	script := writeScript(t, "function check(r) return r.eax == 3 end\n")
	// INC AX x4 ; HLT
	m, _ := buildMachine(t, []byte{0x40, 0x40, 0x40, 0x40, 0xF4}, "--check-script", script)

	require.Equal(t, x86emu.StopCodeCheck, m.cpu.Run(m.flags))
	assert.Equal(t, uint16(3), m.cpu.AX())
	assert.Equal(t, uint64(3), m.cpu.TSC)
	assert.NoError(t, m.check.Err())
}

func TestLuaCheck_Peek(t *testing.T) {
	script := writeScript(t, `
function check(r)
  return peek(0x500) == 0x42
end
`)
	// MOV BYTE [0x500],0x42 ; NOP ; HLT
	m, _ := buildMachine(t, []byte{0xC6, 0x06, 0x00, 0x05, 0x42, 0x90, 0xF4}, "--check-script", script)

	require.Equal(t, x86emu.StopCodeCheck, m.cpu.Run(m.flags))
	assert.Equal(t, uint64(1), m.cpu.TSC)
	assert.Zero(t, m.cpu.Mem.Attr(0x500)&x86emu.AccR, "peek leaves no read history")
}

func TestLuaCheck_NeverTrue(t *testing.T) {
	script := writeScript(t, "function check(r) return r.tsc > 100 end\n")
	m, _ := buildMachine(t, []byte{0x90, 0xF4}, "--check-script", script)
	assert.Equal(t, x86emu.StopHalted, m.cpu.Run(m.flags))
}

func TestLuaCheck_RuntimeError(t *testing.T) {
	script := writeScript(t, `function check(r) error("boom") end`)
	m, _ := buildMachine(t, []byte{0x90, 0xF4}, "--check-script", script)

	assert.Equal(t, x86emu.StopCodeCheck, m.cpu.Run(m.flags))
	require.Error(t, m.check.Err())
	assert.Contains(t, m.check.Err().Error(), "boom")
}

func TestLuaCheck_LoadErrors(t *testing.T) {
	_, err := loadLuaCheck(writeScript(t, "x = 1\n"))
	assert.ErrorContains(t, err, "no check function")

	_, err = loadLuaCheck(writeScript(t, "function check(r\n"))
	assert.Error(t, err)

	_, err = loadLuaCheck(filepath.Join(t.TempDir(), "missing.lua"))
	assert.Error(t, err)
}
