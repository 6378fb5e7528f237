// cpu_x86_ops_0f.go - x86 two-byte (0F xx) opcode implementations
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"math/bits"
)

func (c *CPU) initExtendedOps() {
	for i := range c.extendedOps {
		c.extendedOps[i] = nil
	}

	c.extendedOps[0x00] = (*CPU).opGrp6
	c.extendedOps[0x01] = (*CPU).opGrp7
	c.extendedOps[0x06] = (*CPU).opCLTS
	c.extendedOps[0x08] = (*CPU).opNOP // INVD
	c.extendedOps[0x09] = (*CPU).opNOP // WBINVD
	c.extendedOps[0x20] = (*CPU).opMOV_CR
	c.extendedOps[0x21] = (*CPU).opMOV_CR
	c.extendedOps[0x22] = (*CPU).opMOV_CR
	c.extendedOps[0x23] = (*CPU).opMOV_CR
	c.extendedOps[0x31] = (*CPU).opRDTSC

	for cc := 0; cc < 16; cc++ {
		c.extendedOps[0x80+cc] = (*CPU).opJcc_rel
		c.extendedOps[0x90+cc] = (*CPU).opSETcc
	}

	c.extendedOps[0xA0] = (*CPU).opPUSH_FSGS
	c.extendedOps[0xA1] = (*CPU).opPOP_FSGS
	c.extendedOps[0xA3] = (*CPU).opBT_Ev_Gv
	c.extendedOps[0xA4] = (*CPU).opSHxD
	c.extendedOps[0xA5] = (*CPU).opSHxD
	c.extendedOps[0xA8] = (*CPU).opPUSH_FSGS
	c.extendedOps[0xA9] = (*CPU).opPOP_FSGS
	c.extendedOps[0xAB] = (*CPU).opBT_Ev_Gv
	c.extendedOps[0xAC] = (*CPU).opSHxD
	c.extendedOps[0xAD] = (*CPU).opSHxD
	c.extendedOps[0xAF] = (*CPU).opIMUL_Gv_Ev
	c.extendedOps[0xB2] = (*CPU).opLoadFarPtr0F
	c.extendedOps[0xB3] = (*CPU).opBT_Ev_Gv
	c.extendedOps[0xB4] = (*CPU).opLoadFarPtr0F
	c.extendedOps[0xB5] = (*CPU).opLoadFarPtr0F
	c.extendedOps[0xB6] = (*CPU).opMOVX
	c.extendedOps[0xB7] = (*CPU).opMOVX
	c.extendedOps[0xBA] = (*CPU).opGrp8
	c.extendedOps[0xBB] = (*CPU).opBT_Ev_Gv
	c.extendedOps[0xBC] = (*CPU).opBSF
	c.extendedOps[0xBD] = (*CPU).opBSR
	c.extendedOps[0xBE] = (*CPU).opMOVX
	c.extendedOps[0xBF] = (*CPU).opMOVX
}

// =============================================================================
// System instructions
// =============================================================================

// opGrp6 is SLDT, STR, LLDT, LTR. It does not exist in real mode.
func (c *CPU) opGrp6(op byte) {
	if !c.ProtectedMode() {
		c.raiseUD()
		return
	}
	m := c.fetchModRM()
	switch m.reg {
	case 0:
		c.writeOp(m.op, 2, uint32(c.LDT.Sel))
	case 1:
		c.writeOp(m.op, 2, uint32(c.TR.Sel))
	case 2:
		sel := uint16(c.readOp(m.op, 2))
		if !c.faultPending() {
			c.loadSystemSegment(&c.LDT, sel)
		}
	case 3:
		sel := uint16(c.readOp(m.op, 2))
		if !c.faultPending() {
			c.loadSystemSegment(&c.TR, sel)
		}
	default:
		c.raiseUD()
	}
}

// opGrp7 is SGDT, SIDT, LGDT, LIDT, SMSW, LMSW and INVLPG.
func (c *CPU) opGrp7(op byte) {
	m := c.fetchModRM()
	switch m.reg {
	case 0, 1, 2, 3:
		if m.op.isReg {
			c.raiseUD()
			return
		}
		table := &c.GDT
		if m.reg&1 != 0 {
			table = &c.IDT
		}
		if m.reg < 2 {
			c.writeSeg(m.op.seg, m.op.ofs, 2, table.Limit)
			c.writeSeg(m.op.seg, m.op.ofs+2, 4, table.Base)
			return
		}
		limit := c.readSeg(m.op.seg, m.op.ofs, 2)
		base := c.readSeg(m.op.seg, m.op.ofs+2, 4)
		if c.faultPending() {
			return
		}
		if !c.data32() {
			base &= 0xFFFFFF
		}
		*table = DescTable{Base: base, Limit: limit}
	case 4: // SMSW
		c.writeOp(m.op, 2, c.CR[0]&0xFFFF)
	case 6: // LMSW; PE can be set but not cleared
		v := c.readOp(m.op, 2)
		if !c.faultPending() {
			c.CR[0] = c.CR[0]&^0xE | v&0xF | c.CR[0]&cr0PE
		}
	case 7: // INVLPG
		if m.op.isReg {
			c.raiseUD()
		}
	default:
		c.raiseUD()
	}
}

func (c *CPU) opCLTS(op byte) { c.CR[0] &^= 1 << 3 }

// opMOV_CR moves between a general register and a control or debug
// register. The mod field is ignored.
func (c *CPU) opMOV_CR(op byte) {
	_, reg, rm := splitModRM(c.fetch8())
	regs := &c.CR
	if op&1 != 0 {
		regs = &c.DR
	} else if reg == 1 || reg > 4 {
		c.raiseUD()
		return
	}
	if op&2 == 0 {
		c.setReg32(rm, regs[reg])
	} else {
		regs[reg] = c.getReg32(rm)
	}
}

func (c *CPU) opRDTSC(op byte) {
	c.EAX = uint32(c.TSC)
	c.EDX = uint32(c.TSC >> 32)
}

// =============================================================================
// Jcc rel16/32 and SETcc
// =============================================================================

func (c *CPU) opJcc_rel(op byte) {
	size := c.opSize()
	disp := signExtend(c.fetchImm(size), size)
	if c.condition(op & 0x0F) {
		c.jumpRel(disp)
	}
}

func (c *CPU) opSETcc(op byte) {
	m := c.fetchModRM()
	c.writeOp(m.op, 1, b2u(c.condition(op&0x0F)))
}

// =============================================================================
// FS/GS and far pointer loads
// =============================================================================

func (c *CPU) fsgs(op byte) SegReg {
	if op < 0xA8 {
		return SegFS
	}
	return SegGS
}

func (c *CPU) opPUSH_FSGS(op byte) {
	c.push(c.opSize(), uint32(c.Seg[c.fsgs(op)].Sel))
}

func (c *CPU) opPOP_FSGS(op byte) { c.popSeg(c.fsgs(op)) }

// opLoadFarPtr0F is LSS (B2), LFS (B4) and LGS (B5).
func (c *CPU) opLoadFarPtr0F(op byte) {
	switch op {
	case 0xB2:
		c.loadFarPtr(SegSS)
	case 0xB4:
		c.loadFarPtr(SegFS)
	default:
		c.loadFarPtr(SegGS)
	}
}

// =============================================================================
// Bit operations
// =============================================================================

const (
	bitTest = iota
	bitSet
	bitReset
	bitComplement
)

// opBT_Ev_Gv is BT (A3), BTS (AB), BTR (B3) and BTC (BB).
func (c *CPU) opBT_Ev_Gv(op byte) {
	m := c.fetchModRM()
	kind := int(op>>3) & 3
	c.bitOp(kind, m.op, c.getReg(m.reg, c.opSize()), true)
}

// opGrp8 is BT/BTS/BTR/BTC Ev,Ib.
func (c *CPU) opGrp8(op byte) {
	m := c.fetchModRM()
	bit := uint32(c.fetch8())
	if m.reg < 4 {
		c.raiseUD()
		return
	}
	c.bitOp(int(m.reg-4), m.op, bit, false)
}

// bitOp tests and updates one bit. With a register bit offset a memory
// operand addresses bits outside the operand itself.
func (c *CPU) bitOp(kind int, o operand, bit uint32, signedOffset bool) {
	size := c.opSize()
	width := uint32(8 * size)
	if !o.isReg && signedOffset {
		shift := uint(4)
		if size == 4 {
			shift = 5
		}
		sbit := int32(signExtend(bit, size))
		o.ofs = c.addrMask(o.ofs + uint32((sbit>>shift)*int32(size)))
	}
	bit &= width - 1

	v := c.readOp(o, size)
	mask := uint32(1) << bit
	c.setFlag(FlagCF, v&mask != 0)
	switch kind {
	case bitSet:
		c.writeOp(o, size, v|mask)
	case bitReset:
		c.writeOp(o, size, v&^mask)
	case bitComplement:
		c.writeOp(o, size, v^mask)
	}
}

func (c *CPU) opBSF(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	v := c.readOp(m.op, size) & sizeMask(size)
	c.setFlag(FlagZF, v == 0)
	if v != 0 {
		c.writeOp(regOp(m.reg), size, uint32(bits.TrailingZeros32(v)))
	}
}

func (c *CPU) opBSR(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	v := c.readOp(m.op, size) & sizeMask(size)
	c.setFlag(FlagZF, v == 0)
	if v != 0 {
		c.writeOp(regOp(m.reg), size, uint32(bits.Len32(v)-1))
	}
}

// =============================================================================
// Double shifts, IMUL, MOVZX/MOVSX
// =============================================================================

// opSHxD is SHLD (A4/A5) and SHRD (AC/AD); odd opcodes take the count in CL.
func (c *CPU) opSHxD(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	var count byte
	if op&1 == 0 {
		count = c.fetch8()
	} else {
		count = c.CL()
	}
	if count&0x1F == 0 {
		return
	}
	dst := c.readOp(m.op, size)
	r := c.shiftDouble(op < 0xA8, dst, c.getReg(m.reg, size), count, size)
	c.writeOp(m.op, size, r)
}

func (c *CPU) opIMUL_Gv_Ev(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	r := c.imul3(c.getReg(m.reg, size), c.readOp(m.op, size), size)
	c.writeOp(regOp(m.reg), size, r)
}

// opMOVX is MOVZX (B6/B7) and MOVSX (BE/BF).
func (c *CPU) opMOVX(op byte) {
	src := 1
	if op&1 != 0 {
		src = 2
	}
	m := c.fetchModRM()
	v := c.readOp(m.op, src)
	if op >= 0xBE {
		v = signExtend(v, src)
	}
	size := c.opSize()
	c.writeOp(regOp(m.reg), size, v&sizeMask(size))
}
