// trace_test.go - Tracing and disassembly tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_ParseFlags(t *testing.T) {
	f, err := ParseTraceFlags([]string{"code", " IO ", "ints"})
	require.NoError(t, err)
	assert.Equal(t, TraceCode|TraceIO|TraceInts, f)

	f, err = ParseTraceFlags([]string{"all"})
	require.NoError(t, err)
	assert.Equal(t, TraceAll, f)

	_, err = ParseTraceFlags([]string{"code", "bogus"})
	assert.ErrorIs(t, err, ErrUnknownFlag)
}

func TestTrace_CodeLines(t *testing.T) {
	// MOV AX,0x1234 ; HLT
	cpu := newTestCPU(t, []byte{0xB8, 0x34, 0x12, 0xF4}, WithLogBuffer(1<<16, nil))
	cpu.SetTrace(TraceCode)
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))

	lines := strings.Split(strings.TrimSpace(cpu.Log().String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "00000000: 0000:00007c00 b8 34 12"), lines[0])
	assert.Contains(t, lines[0], "mov ax, 0x1234")
	assert.Contains(t, lines[1], "hlt")
}

func TestTrace_RegsAndData(t *testing.T) {
	// MOV [0x600],AL
	cpu := newTestCPU(t, []byte{0xA2, 0x00, 0x06, 0xF4}, WithLogBuffer(1<<16, nil))
	cpu.EAX = 0x5A
	cpu.SetTrace(TraceRegs | TraceData | TraceAcc)
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))

	log := cpu.Log().String()
	assert.Contains(t, log, "eax 0000005a")
	assert.Contains(t, log, "* w [00000600] = 5a")
	assert.Contains(t, log, "* acc byte ds:00000600")
	assert.Equal(t, TraceRegs|TraceData|TraceAcc, cpu.Trace())
}

func TestDisassemble(t *testing.T) {
	// NOP ; JMP $ ; invalid 0F 0B is UD2 which decodes, so use a lone 0F
	code := []byte{0x90, 0xEB, 0xFE, 0x0F}
	lines := Disassemble(code, 0x100, 16, 10)
	require.Len(t, lines, 3)

	assert.Equal(t, "nop", lines[0].Text)
	assert.Equal(t, uint32(0x101), lines[1].Addr)
	assert.Equal(t, []byte{0xEB, 0xFE}, lines[1].Bytes)
	assert.Contains(t, lines[1].Text, "jmp")
	assert.Equal(t, "db 0x0f", lines[2].Text)
	assert.True(t, strings.HasPrefix(lines[0].String(), "00000100: 90"))

	assert.Len(t, Disassemble(code, 0, 16, 1), 1)

	// Prefix-only and truncated input.
	lines = Disassemble([]byte{0x66, 0x0F}, 0, 32, 4)
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0].Text, "db 0x"), lines[0].Text)
	assert.Equal(t, "(bad)", disasm([]byte{0x0F}, 0, 16))
	assert.Equal(t, "nop", disasm([]byte{0x90}, 0, 16))
}

func TestDisassembleAt(t *testing.T) {
	cpu := newTestCPU(t, []byte{0x66, 0x40, 0x90})
	lines := cpu.DisassembleAt(SegCS, testCodeAddr, 2)
	require.Len(t, lines, 2)
	assert.Equal(t, "inc eax", lines[0].Text)
	assert.Equal(t, uint32(testCodeAddr+2), lines[1].Addr)
	assert.Zero(t, cpu.Mem.Attr(testCodeAddr)&AccR, "listing must not count as a read")
}
