// cpu_x86_modrm_test.go - Effective address decoding tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// decodeAt decodes a ModR/M sequence placed at CS:EIP under the given mode.
func decodeAt(t *testing.T, mode uint32, code []byte, setup func(c *CPU)) (*CPU, modRM) {
	t.Helper()
	c := newTestCPU(t, code)
	if setup != nil {
		setup(c)
	}
	c.mode = mode
	c.defaultSeg = segNone
	return c, c.fetchModRM()
}

func TestModRM_Addressing16(t *testing.T) {
	regs := func(c *CPU) {
		c.EBX = 0x1000
		c.ESI = 0x0020
		c.EDI = 0x0030
		c.EBP = 0x2000
	}

	tests := []struct {
		name string
		code []byte
		ofs  uint32
		seg  SegReg
		len  int
	}{
		{"bx+si", []byte{0x00}, 0x1020, SegDS, 1},
		{"bx+si+disp8", []byte{0x40, 0x05}, 0x1025, SegDS, 2},
		{"bx+di-disp8", []byte{0x41, 0xFF}, 0x102F, SegDS, 2},
		{"bp+si", []byte{0x02}, 0x2020, SegSS, 1},
		{"bp+disp8", []byte{0x46, 0x04}, 0x2004, SegSS, 2},
		{"disp16", []byte{0x06, 0x34, 0x12}, 0x1234, SegDS, 3},
		{"bx+disp16", []byte{0x87, 0x00, 0xF0}, 0x0000, SegDS, 3},
		{"di", []byte{0x05}, 0x0030, SegDS, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := decodeAt(t, 0, tt.code, regs)
			assert.False(t, m.op.isReg)
			assert.Equal(t, tt.ofs, m.op.ofs)
			assert.Equal(t, tt.seg, m.op.seg)
			assert.Equal(t, tt.len, c.instrLen)
		})
	}
}

func TestModRM_SegmentOverrideBeatsStackDefault(t *testing.T) {
	c := newTestCPU(t, []byte{0x46, 0x00})
	c.mode = 0
	c.defaultSeg = SegES
	m := c.fetchModRM()
	assert.Equal(t, SegES, m.op.seg)
}

func TestModRM_Addressing32(t *testing.T) {
	regs := func(c *CPU) {
		c.EAX = 0x100
		c.ECX = 0x10
		c.EBP = 0x8000
		c.ESP = 0x6000
	}

	tests := []struct {
		name string
		code []byte
		ofs  uint32
		seg  SegReg
	}{
		{"eax", []byte{0x00}, 0x100, SegDS},
		{"disp32", []byte{0x05, 0x78, 0x56, 0x34, 0x12}, 0x12345678, SegDS},
		{"ebp+disp8", []byte{0x45, 0xFC}, 0x7FFC, SegSS},
		{"sib ebp+ecx*4+disp8", []byte{0x44, 0x8D, 0x10}, 0x8000 + 0x40 + 0x10, SegSS},
		{"sib disp32+eax", []byte{0x04, 0x05, 0x00, 0x10, 0x00, 0x00}, 0x1100, SegDS},
		{"sib esp", []byte{0x04, 0x24}, 0x6000, SegSS},
		{"sib eax+ecx*8+disp32", []byte{0x84, 0xC8, 0x01, 0x00, 0x00, 0x00}, 0x100 + 0x80 + 1, SegDS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := decodeAt(t, modeAddr32, tt.code, regs)
			assert.Equal(t, tt.ofs, m.op.ofs)
			assert.Equal(t, tt.seg, m.op.seg)
			assert.Equal(t, len(tt.code), c.instrLen)
		})
	}
}

func TestModRM_RegisterOperand(t *testing.T) {
	c, m := decodeAt(t, 0, []byte{0xD9}, nil) // mod 3, reg 3, rm 1
	assert.Equal(t, byte(3), m.reg)
	assert.Equal(t, regOp(1), m.op)

	c.ECX = 0xAABBCCDD
	assert.Equal(t, uint32(0xCCDD), c.readOp(m.op, 2))
	c.writeOp(m.op, 1, 0x11)
	assert.Equal(t, uint32(0xAABBCC11), c.ECX)
}

func TestModRM_WriteOpSuppressedWhileFaultPending(t *testing.T) {
	c := New()
	c.ECX = 5
	c.raiseGP(0)
	c.writeOp(regOp(1), 4, 9)
	assert.Equal(t, uint32(5), c.ECX)
}

func TestModRM_Mod3AddressRaisesUD(t *testing.T) {
	c := New()
	c.decodeRMAddress(3, 0)
	nr, _, _, ok := c.PendingIntr()
	assert.True(t, ok)
	assert.Equal(t, byte(VecInvalid), nr)
}

func TestModRM_AddrMask(t *testing.T) {
	c := New()
	c.mode = 0
	assert.Equal(t, uint32(0x5678), c.addrMask(0x12345678))
	c.mode = modeAddr32
	assert.Equal(t, uint32(0x12345678), c.addrMask(0x12345678))
}
