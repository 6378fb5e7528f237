// cpu_x86_ops.go - x86 one-byte opcode implementations
//
// Handlers are width generic: bit 0 of most opcodes selects byte or
// word/dword operands and the operand-size prefix picks word or dword.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

func (c *CPU) initBaseOps() {
	for i := range c.baseOps {
		c.baseOps[i] = nil
	}

	// ADD OR ADC SBB AND SUB XOR CMP, six forms each
	for kind := 0; kind < 8; kind++ {
		for form := 0; form < 6; form++ {
			c.baseOps[kind<<3|form] = (*CPU).opALU
		}
	}

	c.baseOps[0x06] = (*CPU).opPushSeg
	c.baseOps[0x07] = (*CPU).opPopSeg
	c.baseOps[0x0E] = (*CPU).opPushSeg
	c.baseOps[0x0F] = (*CPU).opExtended
	c.baseOps[0x16] = (*CPU).opPushSeg
	c.baseOps[0x17] = (*CPU).opPopSeg
	c.baseOps[0x1E] = (*CPU).opPushSeg
	c.baseOps[0x1F] = (*CPU).opPopSeg
	c.baseOps[0x27] = (*CPU).opDAA
	c.baseOps[0x2F] = (*CPU).opDAS
	c.baseOps[0x37] = (*CPU).opAAA
	c.baseOps[0x3F] = (*CPU).opAAS

	for r := 0; r < 8; r++ {
		c.baseOps[0x40+r] = (*CPU).opINC_reg
		c.baseOps[0x48+r] = (*CPU).opDEC_reg
		c.baseOps[0x50+r] = (*CPU).opPUSH_reg
		c.baseOps[0x58+r] = (*CPU).opPOP_reg
		c.baseOps[0x90+r] = (*CPU).opXCHG_AX
		c.baseOps[0xB0+r] = (*CPU).opMOV_r8_Ib
		c.baseOps[0xB8+r] = (*CPU).opMOV_r_Iv
	}

	c.baseOps[0x60] = (*CPU).opPUSHA
	c.baseOps[0x61] = (*CPU).opPOPA
	c.baseOps[0x68] = (*CPU).opPUSH_Iv
	c.baseOps[0x69] = (*CPU).opIMUL_Gv_Ev_I
	c.baseOps[0x6A] = (*CPU).opPUSH_Ib
	c.baseOps[0x6B] = (*CPU).opIMUL_Gv_Ev_I
	c.baseOps[0x6C] = (*CPU).opString
	c.baseOps[0x6D] = (*CPU).opString
	c.baseOps[0x6E] = (*CPU).opString
	c.baseOps[0x6F] = (*CPU).opString

	for cc := 0; cc < 16; cc++ {
		c.baseOps[0x70+cc] = (*CPU).opJcc_rel8
	}

	c.baseOps[0x80] = (*CPU).opGrp1
	c.baseOps[0x81] = (*CPU).opGrp1
	c.baseOps[0x82] = (*CPU).opGrp1
	c.baseOps[0x83] = (*CPU).opGrp1
	c.baseOps[0x84] = (*CPU).opTEST_Ev_Gv
	c.baseOps[0x85] = (*CPU).opTEST_Ev_Gv
	c.baseOps[0x86] = (*CPU).opXCHG_Ev_Gv
	c.baseOps[0x87] = (*CPU).opXCHG_Ev_Gv
	c.baseOps[0x88] = (*CPU).opMOV_Ev_Gv
	c.baseOps[0x89] = (*CPU).opMOV_Ev_Gv
	c.baseOps[0x8A] = (*CPU).opMOV_Gv_Ev
	c.baseOps[0x8B] = (*CPU).opMOV_Gv_Ev
	c.baseOps[0x8C] = (*CPU).opMOV_Ew_Sw
	c.baseOps[0x8D] = (*CPU).opLEA
	c.baseOps[0x8E] = (*CPU).opMOV_Sw_Ew
	c.baseOps[0x8F] = (*CPU).opPOP_Ev

	c.baseOps[0x98] = (*CPU).opCBW
	c.baseOps[0x99] = (*CPU).opCWD
	c.baseOps[0x9A] = (*CPU).opCALL_far
	c.baseOps[0x9B] = (*CPU).opNOP // WAIT
	c.baseOps[0x9C] = (*CPU).opPUSHF
	c.baseOps[0x9D] = (*CPU).opPOPF
	c.baseOps[0x9E] = (*CPU).opSAHF
	c.baseOps[0x9F] = (*CPU).opLAHF

	c.baseOps[0xA0] = (*CPU).opMOV_moffs
	c.baseOps[0xA1] = (*CPU).opMOV_moffs
	c.baseOps[0xA2] = (*CPU).opMOV_moffs
	c.baseOps[0xA3] = (*CPU).opMOV_moffs
	for op := 0xA4; op <= 0xAF; op++ {
		c.baseOps[op] = (*CPU).opString
	}
	c.baseOps[0xA8] = (*CPU).opTEST_AX_Iv
	c.baseOps[0xA9] = (*CPU).opTEST_AX_Iv

	c.baseOps[0xC0] = (*CPU).opGrp2
	c.baseOps[0xC1] = (*CPU).opGrp2
	c.baseOps[0xC2] = (*CPU).opRET
	c.baseOps[0xC3] = (*CPU).opRET
	c.baseOps[0xC4] = (*CPU).opLoadFarPtr
	c.baseOps[0xC5] = (*CPU).opLoadFarPtr
	c.baseOps[0xC6] = (*CPU).opMOV_Ev_Iv
	c.baseOps[0xC7] = (*CPU).opMOV_Ev_Iv
	c.baseOps[0xC8] = (*CPU).opENTER
	c.baseOps[0xC9] = (*CPU).opLEAVE
	c.baseOps[0xCA] = (*CPU).opRETF
	c.baseOps[0xCB] = (*CPU).opRETF
	c.baseOps[0xCC] = (*CPU).opINT3
	c.baseOps[0xCD] = (*CPU).opINT
	c.baseOps[0xCE] = (*CPU).opINTO
	c.baseOps[0xCF] = (*CPU).opIRET

	c.baseOps[0xD0] = (*CPU).opGrp2
	c.baseOps[0xD1] = (*CPU).opGrp2
	c.baseOps[0xD2] = (*CPU).opGrp2
	c.baseOps[0xD3] = (*CPU).opGrp2
	c.baseOps[0xD4] = (*CPU).opAAM
	c.baseOps[0xD5] = (*CPU).opAAD
	c.baseOps[0xD6] = (*CPU).opSALC
	c.baseOps[0xD7] = (*CPU).opXLAT
	for op := 0xD8; op <= 0xDF; op++ {
		c.baseOps[op] = (*CPU).opFPU
	}

	c.baseOps[0xE0] = (*CPU).opLOOP
	c.baseOps[0xE1] = (*CPU).opLOOP
	c.baseOps[0xE2] = (*CPU).opLOOP
	c.baseOps[0xE3] = (*CPU).opLOOP
	c.baseOps[0xE4] = (*CPU).opIN
	c.baseOps[0xE5] = (*CPU).opIN
	c.baseOps[0xE6] = (*CPU).opOUT
	c.baseOps[0xE7] = (*CPU).opOUT
	c.baseOps[0xE8] = (*CPU).opCALL_rel
	c.baseOps[0xE9] = (*CPU).opJMP_rel
	c.baseOps[0xEA] = (*CPU).opJMP_far
	c.baseOps[0xEB] = (*CPU).opJMP_rel
	c.baseOps[0xEC] = (*CPU).opIN
	c.baseOps[0xED] = (*CPU).opIN
	c.baseOps[0xEE] = (*CPU).opOUT
	c.baseOps[0xEF] = (*CPU).opOUT

	c.baseOps[0xF4] = (*CPU).opHLT
	c.baseOps[0xF5] = (*CPU).opFlagOp
	c.baseOps[0xF6] = (*CPU).opGrp3
	c.baseOps[0xF7] = (*CPU).opGrp3
	for op := 0xF8; op <= 0xFD; op++ {
		c.baseOps[op] = (*CPU).opFlagOp
	}
	c.baseOps[0xFE] = (*CPU).opGrp4
	c.baseOps[0xFF] = (*CPU).opGrp5
}

// sizeOf returns the operand size selected by bit 0 of op.
func (c *CPU) sizeOf(op byte) int {
	if op&1 == 0 {
		return 1
	}
	return c.opSize()
}

// addrSize returns the address size in bytes.
func (c *CPU) addrSize() int {
	if c.addr32() {
		return 4
	}
	return 2
}

// counter is CX or ECX depending on the address size.
func (c *CPU) counter() uint32 {
	if c.addr32() {
		return c.ECX
	}
	return uint32(c.CX())
}

func (c *CPU) setCounter(v uint32) {
	if c.addr32() {
		c.ECX = v
	} else {
		c.SetCX(uint16(v))
	}
}

// setEIP stores a branch target truncated to the operand size.
func (c *CPU) setEIP(v uint32) {
	if c.data32() {
		c.EIP = v
	} else {
		c.EIP = v & 0xFFFF
	}
}

func (c *CPU) jumpRel(disp uint32) { c.setEIP(c.EIP + disp) }

// jumpFar loads CS first; on #GP neither CS nor EIP change.
func (c *CPU) jumpFar(sel uint16, ofs uint32) {
	if c.loadSegment(&c.Seg[SegCS], sel) {
		c.setEIP(ofs)
	}
}

// setFlagsValue loads the writable flag bits from v. Word-sized loads keep
// the upper half of EFLAGS.
func (c *CPU) setFlagsValue(v uint32, size int) {
	mask := uint32(FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagTF |
		FlagIF | FlagDF | FlagOF | FlagIOPL | FlagNT)
	if size == 2 {
		mask &= 0xFFFF
	}
	c.Flags = c.Flags&^mask | v&mask | flagOne
}

// =============================================================================
// Arithmetic and logic
// =============================================================================

// opALU covers opcodes 0x00-0x3D: Eb,Gb / Ev,Gv / Gb,Eb / Gv,Ev / AL,Ib / eAX,Iv.
func (c *CPU) opALU(op byte) {
	kind := int(op >> 3)
	size := c.sizeOf(op)

	var dst operand
	var a, b uint32
	switch op & 7 {
	case 0, 1:
		m := c.fetchModRM()
		dst = m.op
		a, b = c.readOp(m.op, size), c.getReg(m.reg, size)
	case 2, 3:
		m := c.fetchModRM()
		dst = regOp(m.reg)
		a, b = c.getReg(m.reg, size), c.readOp(m.op, size)
	default:
		dst = regOp(0)
		a, b = c.getReg(0, size), c.fetchImm(size)
	}

	r := c.alu(kind, a, b, size)
	if kind != aluCMP {
		c.writeOp(dst, size, r)
	}
}

func (c *CPU) opTEST_Ev_Gv(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	c.logic(c.readOp(m.op, size)&c.getReg(m.reg, size), size)
}

func (c *CPU) opTEST_AX_Iv(op byte) {
	size := c.sizeOf(op)
	c.logic(c.getReg(0, size)&c.fetchImm(size), size)
}

func (c *CPU) opINC_reg(op byte) {
	size := c.opSize()
	c.setReg(op&7, size, c.inc(c.getReg(op&7, size), size))
}

func (c *CPU) opDEC_reg(op byte) {
	size := c.opSize()
	c.setReg(op&7, size, c.dec(c.getReg(op&7, size), size))
}

func (c *CPU) opIMUL_Gv_Ev_I(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	a := c.readOp(m.op, size)
	var b uint32
	if op == 0x6B {
		b = signExtend(uint32(c.fetch8()), 1)
	} else {
		b = c.fetchImm(size)
	}
	c.writeOp(regOp(m.reg), size, c.imul3(a, b, size))
}

// =============================================================================
// BCD adjust
// =============================================================================

func (c *CPU) opDAA(op byte) {
	al, cf := c.AL(), c.CF()
	r := al
	if al&0x0F > 9 || c.getFlag(FlagAF) {
		r += 6
		c.setFlag(FlagAF, true)
	} else {
		c.setFlag(FlagAF, false)
	}
	if al > 0x99 || cf {
		r += 0x60
		c.setFlag(FlagCF, true)
	} else {
		c.setFlag(FlagCF, false)
	}
	c.SetAL(r)
	c.setFlagsSZP(uint32(r), 1)
}

func (c *CPU) opDAS(op byte) {
	al, cf := c.AL(), c.CF()
	r := al
	if al&0x0F > 9 || c.getFlag(FlagAF) {
		r -= 6
		c.setFlag(FlagAF, true)
	} else {
		c.setFlag(FlagAF, false)
	}
	if al > 0x99 || cf {
		r -= 0x60
		c.setFlag(FlagCF, true)
	} else {
		c.setFlag(FlagCF, false)
	}
	c.SetAL(r)
	c.setFlagsSZP(uint32(r), 1)
}

func (c *CPU) opAAA(op byte) {
	adjust := c.AL()&0x0F > 9 || c.getFlag(FlagAF)
	if adjust {
		c.SetAX(c.AX() + 0x106)
	}
	c.setFlag(FlagAF, adjust)
	c.setFlag(FlagCF, adjust)
	c.SetAL(c.AL() & 0x0F)
}

func (c *CPU) opAAS(op byte) {
	adjust := c.AL()&0x0F > 9 || c.getFlag(FlagAF)
	if adjust {
		c.SetAX(c.AX() - 6)
		c.SetAH(c.AH() - 1)
	}
	c.setFlag(FlagAF, adjust)
	c.setFlag(FlagCF, adjust)
	c.SetAL(c.AL() & 0x0F)
}

func (c *CPU) opAAM(op byte) {
	base := c.fetch8()
	if base == 0 {
		c.raiseDE()
		return
	}
	al := c.AL()
	c.SetAH(al / base)
	c.SetAL(al % base)
	c.setFlagsSZP(uint32(c.AL()), 1)
}

func (c *CPU) opAAD(op byte) {
	base := c.fetch8()
	c.SetAL(c.AL() + c.AH()*base)
	c.SetAH(0)
	c.setFlagsSZP(uint32(c.AL()), 1)
}

func (c *CPU) opSALC(op byte) {
	if c.CF() {
		c.SetAL(0xFF)
	} else {
		c.SetAL(0)
	}
}

// =============================================================================
// Data movement
// =============================================================================

func (c *CPU) opMOV_Ev_Gv(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	c.writeOp(m.op, size, c.getReg(m.reg, size))
}

func (c *CPU) opMOV_Gv_Ev(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	c.writeOp(regOp(m.reg), size, c.readOp(m.op, size))
}

func (c *CPU) opMOV_Ew_Sw(op byte) {
	m := c.fetchModRM()
	if m.reg >= byte(segCount) {
		c.raiseUD()
		return
	}
	size := 2
	if m.op.isReg {
		size = c.opSize()
	}
	c.writeOp(m.op, size, uint32(c.Seg[m.reg].Sel))
}

func (c *CPU) opMOV_Sw_Ew(op byte) {
	m := c.fetchModRM()
	if m.reg >= byte(segCount) || SegReg(m.reg) == SegCS {
		c.raiseUD()
		return
	}
	sel := uint16(c.readOp(m.op, 2))
	if c.faultPending() {
		return
	}
	c.loadSegment(&c.Seg[m.reg], sel)
}

func (c *CPU) opLEA(op byte) {
	m := c.fetchModRM()
	if m.op.isReg {
		c.raiseUD()
		return
	}
	c.writeOp(regOp(m.reg), c.opSize(), m.op.ofs)
}

func (c *CPU) opMOV_Ev_Iv(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	c.writeOp(m.op, size, c.fetchImm(size))
}

func (c *CPU) opMOV_r8_Ib(op byte) { c.setReg8(op&7, c.fetch8()) }

func (c *CPU) opMOV_r_Iv(op byte) {
	size := c.opSize()
	c.setReg(op&7, size, c.fetchImm(size))
}

// opMOV_moffs covers A0-A3: accumulator to or from a direct offset.
func (c *CPU) opMOV_moffs(op byte) {
	size := c.sizeOf(op)
	ofs := c.fetchImm(c.addrSize())
	if op&2 == 0 {
		v := c.readData(ofs, size)
		c.writeOp(regOp(0), size, v)
	} else {
		c.writeData(ofs, size, c.getReg(0, size))
	}
}

func (c *CPU) opXCHG_Ev_Gv(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	a := c.readOp(m.op, size)
	c.writeOp(m.op, size, c.getReg(m.reg, size))
	c.writeOp(regOp(m.reg), size, a)
}

func (c *CPU) opXCHG_AX(op byte) {
	idx := op & 7
	if idx == 0 {
		return
	}
	size := c.opSize()
	a := c.getReg(0, size)
	c.setReg(0, size, c.getReg(idx, size))
	c.setReg(idx, size, a)
}

func (c *CPU) opNOP(op byte) {}

func (c *CPU) opCBW(op byte) {
	if c.data32() {
		c.EAX = uint32(int32(int16(c.AX())))
	} else {
		c.SetAX(uint16(int16(int8(c.AL()))))
	}
}

func (c *CPU) opCWD(op byte) {
	if c.data32() {
		c.EDX = uint32(int32(c.EAX) >> 31)
	} else {
		c.SetDX(uint16(int16(c.AX()) >> 15))
	}
}

func (c *CPU) opLAHF(op byte) { c.SetAH(byte(c.Flags) | flagOne) }

func (c *CPU) opSAHF(op byte) {
	const mask = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF
	c.Flags = c.Flags&^mask | uint32(c.AH())&mask | flagOne
}

func (c *CPU) opXLAT(op byte) {
	ofs := c.addrMask(c.EBX + uint32(c.AL()))
	c.SetAL(byte(c.readData(ofs, 1)))
}

// opLoadFarPtr is LES (C4) and LDS (C5).
func (c *CPU) opLoadFarPtr(op byte) {
	seg := SegES
	if op == 0xC5 {
		seg = SegDS
	}
	c.loadFarPtr(seg)
}

// loadFarPtr reads an offset:selector pair and loads seg and the register.
func (c *CPU) loadFarPtr(seg SegReg) {
	m := c.fetchModRM()
	if m.op.isReg {
		c.raiseUD()
		return
	}
	size := c.opSize()
	ofs := c.readSeg(m.op.seg, m.op.ofs, size)
	sel := uint16(c.readSeg(m.op.seg, m.op.ofs+uint32(size), 2))
	if c.faultPending() || !c.loadSegment(&c.Seg[seg], sel) {
		return
	}
	c.setReg(m.reg, size, ofs)
}

// opFPU consumes the ModR/M operand of an x87 escape and does nothing else.
func (c *CPU) opFPU(op byte) { c.fetchModRM() }

// =============================================================================
// Stack
// =============================================================================

func (c *CPU) opPUSH_reg(op byte) {
	size := c.opSize()
	c.push(size, c.getReg(op&7, size))
}

func (c *CPU) opPOP_reg(op byte) {
	size := c.opSize()
	c.setReg(op&7, size, c.pop(size))
}

// opPushSeg and opPopSeg cover ES, CS, SS, DS; the register is op>>3.
func (c *CPU) opPushSeg(op byte) {
	c.push(c.opSize(), uint32(c.Seg[op>>3].Sel))
}

func (c *CPU) opPopSeg(op byte) { c.popSeg(SegReg(op >> 3)) }

// popSeg leaves SP unchanged if the selector is rejected.
func (c *CPU) popSeg(seg SegReg) {
	sp := c.sp()
	sel := uint16(c.pop(c.opSize()))
	if !c.loadSegment(&c.Seg[seg], sel) {
		c.setSPValue(sp)
	}
}

func (c *CPU) opPUSH_Iv(op byte) {
	size := c.opSize()
	c.push(size, c.fetchImm(size))
}

func (c *CPU) opPUSH_Ib(op byte) {
	c.push(c.opSize(), signExtend(uint32(c.fetch8()), 1))
}

func (c *CPU) opPUSHA(op byte) {
	size := c.opSize()
	sp := c.getReg(4, size)
	for r := byte(0); r < 8; r++ {
		v := c.getReg(r, size)
		if r == 4 {
			v = sp
		}
		c.push(size, v)
	}
}

func (c *CPU) opPOPA(op byte) {
	size := c.opSize()
	for r := 7; r >= 0; r-- {
		v := c.pop(size)
		if r != 4 {
			c.setReg(byte(r), size, v)
		}
	}
}

func (c *CPU) opPOP_Ev(op byte) {
	size := c.opSize()
	m := c.fetchModRM()
	c.writeOp(m.op, size, c.pop(size))
}

func (c *CPU) opPUSHF(op byte) { c.push(c.opSize(), c.Flags) }

func (c *CPU) opPOPF(op byte) {
	size := c.opSize()
	c.setFlagsValue(c.pop(size), size)
}

func (c *CPU) opENTER(op byte) {
	size := c.opSize()
	frameSize := uint32(c.fetch16())
	level := c.fetch8() & 0x1F

	c.push(size, c.getReg(5, size))
	frame := c.sp()
	if level > 0 {
		bp := c.getReg(5, 4)
		for i := byte(1); i < level; i++ {
			bp -= uint32(size)
			if !c.stack32() {
				bp &= 0xFFFF
			}
			c.push(size, c.readSeg(SegSS, bp, size))
		}
		c.push(size, frame)
	}
	c.setReg(5, size, frame)
	c.setSPValue(c.sp() - frameSize)
}

func (c *CPU) opLEAVE(op byte) {
	c.setSPValue(c.EBP)
	size := c.opSize()
	c.setReg(5, size, c.pop(size))
}

// =============================================================================
// Control transfer
// =============================================================================

func (c *CPU) opJcc_rel8(op byte) {
	disp := signExtend(uint32(c.fetch8()), 1)
	if c.condition(op & 0x0F) {
		c.jumpRel(disp)
	}
}

// opJMP_rel is E9 (rel16/32) and EB (rel8).
func (c *CPU) opJMP_rel(op byte) {
	var disp uint32
	if op == 0xEB {
		disp = signExtend(uint32(c.fetch8()), 1)
	} else {
		size := c.opSize()
		disp = signExtend(c.fetchImm(size), size)
	}
	c.jumpRel(disp)
}

func (c *CPU) opCALL_rel(op byte) {
	size := c.opSize()
	disp := signExtend(c.fetchImm(size), size)
	c.push(size, c.EIP)
	c.jumpRel(disp)
}

func (c *CPU) opJMP_far(op byte) {
	ofs := c.fetchImm(c.opSize())
	c.jumpFar(c.fetch16(), ofs)
}

func (c *CPU) opCALL_far(op byte) {
	size := c.opSize()
	ofs := c.fetchImm(size)
	sel := c.fetch16()
	c.callFar(sel, ofs)
}

func (c *CPU) callFar(sel uint16, ofs uint32) {
	size := c.opSize()
	cs, eip := c.Seg[SegCS].Sel, c.EIP
	if !c.loadSegment(&c.Seg[SegCS], sel) {
		return
	}
	c.push(size, uint32(cs))
	c.push(size, eip)
	c.setEIP(ofs)
}

// opRET is C2 (with stack adjustment) and C3.
func (c *CPU) opRET(op byte) {
	var adj uint32
	if op == 0xC2 {
		adj = uint32(c.fetch16())
	}
	size := c.opSize()
	c.setEIP(c.pop(size))
	c.setSPValue(c.sp() + adj)
}

func (c *CPU) opRETF(op byte) {
	var adj uint32
	if op == 0xCA {
		adj = uint32(c.fetch16())
	}
	size := c.opSize()
	sp := c.sp()
	eip := c.pop(size)
	cs := uint16(c.pop(size))
	if !c.loadSegment(&c.Seg[SegCS], cs) {
		c.setSPValue(sp)
		return
	}
	c.setEIP(eip)
	c.setSPValue(c.sp() + adj)
}

func (c *CPU) opIRET(op byte) {
	size := c.opSize()
	sp := c.sp()
	eip := c.pop(size)
	cs := uint16(c.pop(size))
	flags := c.pop(size)
	if !c.loadSegment(&c.Seg[SegCS], cs) {
		c.setSPValue(sp)
		return
	}
	c.setEIP(eip)
	c.setFlagsValue(flags, size)
}

// opLOOP covers LOOPNE, LOOPE, LOOP and JCXZ.
func (c *CPU) opLOOP(op byte) {
	disp := signExtend(uint32(c.fetch8()), 1)
	if op == 0xE3 {
		if c.counter() == 0 {
			c.jumpRel(disp)
		}
		return
	}

	n := c.counter() - 1
	c.setCounter(n)
	if !c.addr32() {
		n &= 0xFFFF
	}
	taken := n != 0
	switch op {
	case 0xE0:
		taken = taken && !c.ZF()
	case 0xE1:
		taken = taken && c.ZF()
	}
	if taken {
		c.jumpRel(disp)
	}
}

func (c *CPU) opINT3(op byte) { c.Intr(VecBreak, IntrSoft, 0) }

func (c *CPU) opINT(op byte) { c.Intr(c.fetch8(), IntrSoft, 0) }

func (c *CPU) opINTO(op byte) {
	if c.OF() {
		c.Intr(VecInto, IntrSoft, 0)
	}
}

func (c *CPU) opHLT(op byte) { c.halt(StopHalted) }

// =============================================================================
// Flag control
// =============================================================================

func (c *CPU) opFlagOp(op byte) {
	switch op {
	case 0xF5:
		c.setFlag(FlagCF, !c.CF())
	case 0xF8:
		c.setFlag(FlagCF, false)
	case 0xF9:
		c.setFlag(FlagCF, true)
	case 0xFA:
		c.setFlag(FlagIF, false)
	case 0xFB:
		c.setFlag(FlagIF, true)
	case 0xFC:
		c.setFlag(FlagDF, false)
	case 0xFD:
		c.setFlag(FlagDF, true)
	}
}

// =============================================================================
// Port I/O
// =============================================================================

// opIN is E4/E5 (immediate port) and EC/ED (port in DX).
func (c *CPU) opIN(op byte) {
	size := c.sizeOf(op)
	port := c.DX()
	if op < 0xE8 {
		port = uint16(c.fetch8())
	}
	v := c.IO.inN(port, size)
	if c.trace&TraceIO != 0 {
		c.logf("* in [%04x] = %0*x\n", port, size*2, v)
	}
	c.setReg(0, size, v)
}

func (c *CPU) opOUT(op byte) {
	size := c.sizeOf(op)
	port := c.DX()
	if op < 0xE8 {
		port = uint16(c.fetch8())
	}
	v := c.getReg(0, size)
	if c.trace&TraceIO != 0 {
		c.logf("* out [%04x] = %0*x\n", port, size*2, v)
	}
	c.IO.outN(port, size, v)
}

// opExtended dispatches the two-byte 0F xx opcode space.
func (c *CPU) opExtended(op byte) {
	op2 := c.fetch8()
	if h := c.extendedOps[op2]; h != nil {
		h(c, op2)
		return
	}
	c.undefined(op2)
}
