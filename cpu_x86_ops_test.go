// cpu_x86_ops_test.go - Instruction semantics tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCode runs code (with HLT appended) from 0000:7C00 and requires a halt.
func runCode(t *testing.T, code []byte, setup func(c *CPU)) *CPU {
	t.Helper()
	cpu := newTestCPU(t, append(code, 0xF4))
	if setup != nil {
		setup(cpu)
	}
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	return cpu
}

// =============================================================================
// Arithmetic and flags
// =============================================================================

func TestOps_AddFlags(t *testing.T) {
	tests := []struct {
		name           string
		a, b           byte
		want           byte
		cf, zf, sf, of bool
	}{
		{"simple", 0x01, 0x02, 0x03, false, false, false, false},
		{"carry", 0xFF, 0x01, 0x00, true, true, false, false},
		{"overflow", 0x7F, 0x01, 0x80, false, false, true, true},
		{"neg overflow", 0x80, 0x80, 0x00, true, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// MOV AL,a ; ADD AL,b
			cpu := runCode(t, []byte{0xB0, tt.a, 0x04, tt.b}, nil)
			assert.Equal(t, tt.want, cpu.AL())
			assert.Equal(t, tt.cf, cpu.CF(), "CF")
			assert.Equal(t, tt.zf, cpu.ZF(), "ZF")
			assert.Equal(t, tt.sf, cpu.SF(), "SF")
			assert.Equal(t, tt.of, cpu.OF(), "OF")
		})
	}
}

func TestOps_SubAndCompare(t *testing.T) {
	// MOV AX,5 ; SUB AX,7
	cpu := runCode(t, []byte{0xB8, 0x05, 0x00, 0x2D, 0x07, 0x00}, nil)
	assert.Equal(t, uint16(0xFFFE), cpu.AX())
	assert.True(t, cpu.CF())
	assert.True(t, cpu.SF())

	// MOV BL,3 ; CMP BL,3
	cpu = runCode(t, []byte{0xB3, 0x03, 0x80, 0xFB, 0x03}, nil)
	assert.Equal(t, byte(3), cpu.BL())
	assert.True(t, cpu.ZF())
	assert.False(t, cpu.CF())
}

func TestOps_AdcSbbUseCarry(t *testing.T) {
	// STC ; MOV AL,1 ; ADC AL,1 ; STC ; SBB AL,1
	cpu := runCode(t, []byte{0xF9, 0xB0, 0x01, 0x14, 0x01, 0xF9, 0x1C, 0x01}, nil)
	assert.Equal(t, byte(1), cpu.AL())
}

func TestOps_LogicClearsCarry(t *testing.T) {
	// STC ; MOV AL,0xF0 ; AND AL,0x0F
	cpu := runCode(t, []byte{0xF9, 0xB0, 0xF0, 0x24, 0x0F}, nil)
	assert.Zero(t, cpu.AL())
	assert.True(t, cpu.ZF())
	assert.False(t, cpu.CF())
	assert.True(t, cpu.PF())
}

func TestOps_IncKeepsCarry(t *testing.T) {
	// STC ; MOV AL,0xFF ; INC AL  (FE C0)
	cpu := runCode(t, []byte{0xF9, 0xB0, 0xFF, 0xFE, 0xC0}, nil)
	assert.Zero(t, cpu.AL())
	assert.True(t, cpu.ZF())
	assert.True(t, cpu.CF())
}

func TestOps_MulDiv(t *testing.T) {
	// MOV AX,300 ; MOV BX,200 ; MUL BX
	cpu := runCode(t, []byte{0xB8, 0x2C, 0x01, 0xBB, 0xC8, 0x00, 0xF7, 0xE3}, nil)
	assert.Equal(t, uint16(60000), cpu.AX())
	assert.Zero(t, cpu.DX())
	assert.False(t, cpu.CF())

	// MOV DX,1 ; MOV AX,0 ; MOV CX,3 ; DIV CX  -> 0x10000 / 3
	cpu = runCode(t, []byte{0xBA, 0x01, 0x00, 0xB8, 0x00, 0x00, 0xB9, 0x03, 0x00, 0xF7, 0xF1}, nil)
	assert.Equal(t, uint16(0x5555), cpu.AX())
	assert.Equal(t, uint16(1), cpu.DX())

	// MOV AX,-7 ; MOV CL,2 ; IDIV CL -> AL=-3, AH=-1
	cpu = runCode(t, []byte{0xB8, 0xF9, 0xFF, 0xB1, 0x02, 0xF6, 0xF9}, nil)
	assert.Equal(t, byte(0xFD), cpu.AL())
	assert.Equal(t, byte(0xFF), cpu.AH())
}

func TestOps_IMulThreeOperand(t *testing.T) {
	// MOV BX,-3 ; IMUL AX,BX,7  (6B C3 07)
	cpu := runCode(t, []byte{0xBB, 0xFD, 0xFF, 0x6B, 0xC3, 0x07}, nil)
	assert.Equal(t, uint16(0xFFEB), cpu.AX())
	assert.False(t, cpu.OF())
}

func TestOps_Shifts(t *testing.T) {
	// MOV AL,0x81 ; SHL AL,1
	cpu := runCode(t, []byte{0xB0, 0x81, 0xD0, 0xE0}, nil)
	assert.Equal(t, byte(0x02), cpu.AL())
	assert.True(t, cpu.CF())

	// MOV AL,0x81 ; SAR AL,1
	cpu = runCode(t, []byte{0xB0, 0x81, 0xD0, 0xF8}, nil)
	assert.Equal(t, byte(0xC0), cpu.AL())
	assert.True(t, cpu.CF())

	// MOV AL,0x81 ; ROL AL,1
	cpu = runCode(t, []byte{0xB0, 0x81, 0xD0, 0xC0}, nil)
	assert.Equal(t, byte(0x03), cpu.AL())

	// STC ; MOV AL,0x01 ; RCR AL,1
	cpu = runCode(t, []byte{0xF9, 0xB0, 0x01, 0xD0, 0xD8}, nil)
	assert.Equal(t, byte(0x80), cpu.AL())
	assert.True(t, cpu.CF())

	// STC ; MOV AX,0x1234 ; MOV CL,0 ; SHL AX,CL  -> no change, CF kept
	cpu = runCode(t, []byte{0xF9, 0xB8, 0x34, 0x12, 0xB1, 0x00, 0xD3, 0xE0}, nil)
	assert.Equal(t, uint16(0x1234), cpu.AX())
	assert.True(t, cpu.CF())
}

func TestOps_NegAndNot(t *testing.T) {
	// MOV AL,1 ; NEG AL ; MOV BL,0x0F ; NOT BL
	cpu := runCode(t, []byte{0xB0, 0x01, 0xF6, 0xD8, 0xB3, 0x0F, 0xF6, 0xD3}, nil)
	assert.Equal(t, byte(0xFF), cpu.AL())
	assert.True(t, cpu.CF())
	assert.Equal(t, byte(0xF0), cpu.BL())
}

func TestOps_CbwCwd(t *testing.T) {
	// MOV AL,0x80 ; CBW ; CWD
	cpu := runCode(t, []byte{0xB0, 0x80, 0x98, 0x99}, nil)
	assert.Equal(t, uint16(0xFF80), cpu.AX())
	assert.Equal(t, uint16(0xFFFF), cpu.DX())
}

func TestOps_Daa(t *testing.T) {
	// MOV AL,0x19 ; ADD AL,0x28 ; DAA  -> 0x47
	cpu := runCode(t, []byte{0xB0, 0x19, 0x04, 0x28, 0x27}, nil)
	assert.Equal(t, byte(0x47), cpu.AL())
}

// =============================================================================
// Data movement
// =============================================================================

func TestOps_MovMemory(t *testing.T) {
	// MOV BX,0x0500 ; MOV word [BX+2],0xCAFE ; MOV CX,[BX+2]
	cpu := runCode(t, []byte{
		0xBB, 0x00, 0x05,
		0xC7, 0x47, 0x02, 0xFE, 0xCA,
		0x8B, 0x4F, 0x02,
	}, nil)
	assert.Equal(t, uint16(0xCAFE), cpu.CX())
	assert.Equal(t, uint16(0xCAFE), peek16(cpu, 0x502))
}

func TestOps_LeaAndXchg(t *testing.T) {
	// MOV BX,0x10 ; MOV SI,0x20 ; LEA AX,[BX+SI+5] ; XCHG AX,BX
	cpu := runCode(t, []byte{0xBB, 0x10, 0x00, 0xBE, 0x20, 0x00, 0x8D, 0x40, 0x05, 0x93}, nil)
	assert.Equal(t, uint16(0x10), cpu.AX())
	assert.Equal(t, uint16(0x35), cpu.BX())
}

func TestOps_PushPop(t *testing.T) {
	// MOV AX,0x1111 ; PUSH AX ; PUSH 0x2222 ; POP BX ; POP CX
	cpu := runCode(t, []byte{0xB8, 0x11, 0x11, 0x50, 0x68, 0x22, 0x22, 0x5B, 0x59}, nil)
	assert.Equal(t, uint16(0x2222), cpu.BX())
	assert.Equal(t, uint16(0x1111), cpu.CX())
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
}

func TestOps_PushaPopa(t *testing.T) {
	setup := func(c *CPU) {
		c.EAX, c.ECX, c.EDX, c.EBX = 1, 2, 3, 4
		c.EBP, c.ESI, c.EDI = 6, 7, 8
	}
	// PUSHA ; XOR AX,AX ; XOR DI,DI ; POPA
	cpu := runCode(t, []byte{0x60, 0x31, 0xC0, 0x31, 0xFF, 0x61}, setup)
	assert.Equal(t, uint32(1), cpu.EAX)
	assert.Equal(t, uint32(8), cpu.EDI)
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
	assert.Equal(t, uint16(testStackTop), peek16(cpu, testStackTop-10), "saved SP is the value before PUSHA")
}

func TestOps_PushfPopfMasksReserved(t *testing.T) {
	// PUSH 0xFFFF ; POPF ; PUSHF ; POP AX
	cpu := runCode(t, []byte{0x68, 0xFF, 0xFF, 0x9D, 0x9C, 0x58}, nil)
	assert.NotZero(t, cpu.AX()&uint16(FlagCF))
	assert.NotZero(t, cpu.AX()&flagOne)
	assert.Zero(t, cpu.AX()&(1<<3), "reserved bit 3 stays clear")
	assert.Zero(t, cpu.AX()&(1<<5), "reserved bit 5 stays clear")
}

func TestOps_MovSegAndLds(t *testing.T) {
	// MOV AX,0x2000 ; MOV ES,AX ; LDS SI,[0x600]
	cpu := runCode(t, []byte{0xB8, 0x00, 0x20, 0x8E, 0xC0, 0xC5, 0x36, 0x00, 0x06}, func(c *CPU) {
		put16(c, 0x600, 0x1234)
		put16(c, 0x602, 0x3000)
	})
	assert.Equal(t, uint32(0x20000), cpu.Seg[SegES].Base)
	assert.Equal(t, uint16(0x1234), cpu.SI())
	assert.Equal(t, uint16(0x3000), cpu.Seg[SegDS].Sel)
}

func TestOps_MovCSRaisesUD(t *testing.T) {
	cpu := newTestCPU(t, []byte{0x8E, 0xC8})
	cpu.SetIntrHandler(VecInvalid, func(c *CPU, _ byte, _ IntrType) bool {
		c.halt(StopHalted)
		return true
	})
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.Zero(t, cpu.Seg[SegCS].Sel)
}

func TestOps_Movzx(t *testing.T) {
	// MOV BL,0x80 ; MOVZX AX,BL ; MOVSX CX,BL
	cpu := runCode(t, []byte{0xB3, 0x80, 0x0F, 0xB6, 0xC3, 0x0F, 0xBE, 0xCB}, nil)
	assert.Equal(t, uint16(0x0080), cpu.AX())
	assert.Equal(t, uint16(0xFF80), cpu.CX())
}

func TestOps_BitScanAndTest(t *testing.T) {
	// MOV AX,0x0110 ; BSF CX,AX ; BSR DX,AX ; BT AX,4
	cpu := runCode(t, []byte{
		0xB8, 0x10, 0x01,
		0x0F, 0xBC, 0xC8,
		0x0F, 0xBD, 0xD0,
		0x0F, 0xBA, 0xE0, 0x04,
	}, nil)
	assert.Equal(t, uint16(4), cpu.CX())
	assert.Equal(t, uint16(8), cpu.DX())
	assert.True(t, cpu.CF())
}

func TestOps_Setcc(t *testing.T) {
	// MOV AL,1 ; CMP AL,2 ; SETB BL ; SETZ BH
	cpu := runCode(t, []byte{0xB0, 0x01, 0x3C, 0x02, 0x0F, 0x92, 0xC3, 0x0F, 0x94, 0xC7}, nil)
	assert.Equal(t, byte(1), cpu.BL())
	assert.Equal(t, byte(0), cpu.BH())
}

// =============================================================================
// Control flow
// =============================================================================

func TestOps_CallRet(t *testing.T) {
	// 7C00: CALL 7C05 ; HLT-padding via JMP
	// 7C00 E8 02 00    CALL +2 -> 7C05
	// 7C03 EB 04       JMP  +4 -> 7C09
	// 7C05 40          INC AX
	// 7C06 C3          RET
	// 7C07 90 90
	// 7C09 F4          HLT
	cpu := newTestCPU(t, []byte{0xE8, 0x02, 0x00, 0xEB, 0x04, 0x40, 0xC3, 0x90, 0x90, 0xF4})
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.Equal(t, uint16(1), cpu.AX())
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
	assert.Equal(t, uint32(0x7C0A), cpu.EIP)
}

func TestOps_RetImmAdjustsStack(t *testing.T) {
	// PUSH 1 ; CALL +1 ; HLT ; RET 2  -- returns to HLT with the argument popped
	cpu := newTestCPU(t, []byte{0x6A, 0x01, 0xE8, 0x01, 0x00, 0xF4, 0xC2, 0x02, 0x00})
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
}

func TestOps_FarCallRetf(t *testing.T) {
	// CALL 0x0800:0x0000 ; HLT   target 0x8000: MOV AX,CS ; RETF
	cpu := newTestCPU(t, []byte{0x9A, 0x00, 0x00, 0x00, 0x08, 0xF4})
	cpu.Mem.Load(0x8000, []byte{0x8C, 0xC8, 0xCB})
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.Equal(t, uint16(0x0800), cpu.AX())
	assert.Zero(t, cpu.Seg[SegCS].Sel)
	assert.Equal(t, uint32(testCodeAddr+6), cpu.EIP)
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
}

func TestOps_Loop(t *testing.T) {
	// MOV CX,5 ; XOR AX,AX ; (loop) INC AX ; LOOP loop
	cpu := runCode(t, []byte{0xB9, 0x05, 0x00, 0x31, 0xC0, 0x40, 0xE2, 0xFD}, nil)
	assert.Equal(t, uint16(5), cpu.AX())
	assert.Zero(t, cpu.CX())
}

func TestOps_JcxzAndJcc(t *testing.T) {
	// XOR CX,CX ; JCXZ +2 ; MOV AL,1 ; CMP CX,1 ; JL +2 ; MOV BL,1
	cpu := runCode(t, []byte{0x31, 0xC9, 0xE3, 0x02, 0xB0, 0x01, 0x83, 0xF9, 0x01, 0x7C, 0x02, 0xB3, 0x01}, nil)
	assert.Zero(t, cpu.AL())
	assert.Zero(t, cpu.BL())
}

func TestOps_JmpNearIndirect(t *testing.T) {
	// MOV BX,0x7C07 ; JMP BX ; INC AX ; HLT(7C07)
	cpu := newTestCPU(t, []byte{0xBB, 0x07, 0x7C, 0xFF, 0xE3, 0x40, 0x40, 0xF4})
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.Zero(t, cpu.AX())
}

func TestOps_EnterLeave(t *testing.T) {
	// ENTER 4,0 ; MOV word [BP-2],7 ; LEAVE
	cpu := runCode(t, []byte{0xC8, 0x04, 0x00, 0x00, 0xC7, 0x46, 0xFE, 0x07, 0x00, 0xC9}, func(c *CPU) {
		c.EBP = 0x1234
	})
	assert.Equal(t, uint32(testStackTop), cpu.ESP)
	assert.Equal(t, uint16(0x1234), cpu.BP())
	assert.Equal(t, uint16(7), peek16(cpu, testStackTop-4))
}

// =============================================================================
// Strings
// =============================================================================

func TestOps_RepMovsb(t *testing.T) {
	// MOV SI,0x600 ; MOV DI,0x700 ; MOV CX,4 ; CLD ; REP MOVSB
	cpu := runCode(t, []byte{0xBE, 0x00, 0x06, 0xBF, 0x00, 0x07, 0xB9, 0x04, 0x00, 0xFC, 0xF3, 0xA4}, func(c *CPU) {
		c.Mem.Load(0x600, []byte("abcd"))
	})
	assert.Equal(t, uint32(0x64636261), peek32(cpu, 0x700))
	assert.Zero(t, cpu.CX())
	assert.Equal(t, uint16(0x604), cpu.SI())
	assert.Equal(t, uint16(0x704), cpu.DI())
}

func TestOps_StdStosw(t *testing.T) {
	// STD ; MOV AX,0xAAAA ; MOV DI,0x702 ; MOV CX,2 ; REP STOSW
	cpu := runCode(t, []byte{0xFD, 0xB8, 0xAA, 0xAA, 0xBF, 0x02, 0x07, 0xB9, 0x02, 0x00, 0xF3, 0xAB}, nil)
	assert.Equal(t, uint32(0xAAAAAAAA), peek32(cpu, 0x700))
	assert.Equal(t, uint16(0x06FE), cpu.DI())
}

func TestOps_RepeScasb(t *testing.T) {
	// MOV DI,0x600 ; MOV AL,'a' ; MOV CX,8 ; REPE SCASB
	cpu := runCode(t, []byte{0xBF, 0x00, 0x06, 0xB0, 0x61, 0xB9, 0x08, 0x00, 0xF3, 0xAE}, func(c *CPU) {
		c.Mem.Load(0x600, []byte("aaab"))
	})
	assert.Equal(t, uint16(0x604), cpu.DI())
	assert.Equal(t, uint16(4), cpu.CX())
	assert.False(t, cpu.ZF())
}

func TestOps_RepWithZeroCount(t *testing.T) {
	cpu := runCode(t, []byte{0x31, 0xC9, 0xF3, 0xA4}, nil)
	assert.Zero(t, cpu.SI())
	assert.Zero(t, cpu.DI())
}

func TestOps_Lodsb(t *testing.T) {
	// MOV SI,0x600 ; LODSB ; LODSB
	cpu := runCode(t, []byte{0xBE, 0x00, 0x06, 0xAC, 0xAC}, func(c *CPU) {
		c.Mem.Load(0x600, []byte{1, 2})
	})
	assert.Equal(t, byte(2), cpu.AL())
	assert.Equal(t, uint16(0x602), cpu.SI())
}

// =============================================================================
// Port I/O
// =============================================================================

func TestOps_InOut(t *testing.T) {
	ports := newFakePorts()
	ports.values[0x60] = 0x1C
	io := NewIOMap(ports)
	io.SetPerm(0x60, 0x64, PermR|PermW)

	// IN AL,0x60 ; MOV DX,0x64 ; OUT DX,AL ; OUT 0x80,AL
	cpu := newTestCPU(t, []byte{0xE4, 0x60, 0xBA, 0x64, 0x00, 0xEE, 0xE6, 0x80, 0xF4}, WithIOMap(io))
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))

	assert.Equal(t, byte(0x1C), cpu.AL())
	assert.Equal(t, []portWrite{{0x64, 1, 0x1C}}, ports.writes, "denied port 0x80 never reaches the backend")
	assert.True(t, io.Invalid())
	assert.NotZero(t, io.Attr(0x80)&AccInvalid)
}

func TestOps_TraceIO(t *testing.T) {
	ports := newFakePorts()
	io := NewIOMap(ports)
	io.SetPerm(0x70, 0x71, PermR|PermW)

	cpu := newTestCPU(t, []byte{0xB0, 0x0A, 0xE6, 0x70, 0xE4, 0x71, 0xF4}, WithIOMap(io), WithTrace(TraceIO), WithLogBuffer(1<<16, nil))
	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	log := cpu.Log().String()
	assert.Contains(t, log, "* out [0070] = 0a")
	assert.Contains(t, log, "* in [0071] = 00")
}

// =============================================================================
// Protected mode
// =============================================================================

func TestOps_EnterProtectedMode(t *testing.T) {
	// LGDT [0x600] ; MOV EAX,CR0 ; OR AL,1 ; MOV CR0,EAX ; JMP 0x08:0x7C20
	code := []byte{
		0x0F, 0x01, 0x16, 0x00, 0x06,
		0x0F, 0x20, 0xC0,
		0x0C, 0x01,
		0x0F, 0x22, 0xC0,
		0xEA, 0x20, 0x7C, 0x08, 0x00,
	}
	cpu := newTestCPU(t, code)
	flatGDT(cpu, 0x1000)
	cpu.GDT = DescTable{}
	put16(cpu, 0x600, 23)
	put32(cpu, 0x602, 0x1000)
	// 32-bit code at 0x7C20: MOV EAX,0x11223344 ; HLT
	cpu.Mem.Load(0x7C20, []byte{0xB8, 0x44, 0x33, 0x22, 0x11, 0xF4})

	require.Equal(t, StopHalted, cpu.Run(testRunFlags))
	assert.True(t, cpu.ProtectedMode())
	assert.Equal(t, DescTable{Base: 0x1000, Limit: 23}, cpu.GDT)
	assert.Equal(t, uint16(0x08), cpu.Seg[SegCS].Sel)
	assert.Equal(t, uint32(0x11223344), cpu.EAX)
	assert.Equal(t, uint32(0x7C26), cpu.EIP)
}

func TestOps_RdtscReportsInstructionCount(t *testing.T) {
	// NOP ; NOP ; RDTSC
	cpu := runCode(t, []byte{0x90, 0x90, 0x0F, 0x31}, nil)
	assert.Equal(t, uint32(2), cpu.EAX)
	assert.Zero(t, cpu.EDX)
}
