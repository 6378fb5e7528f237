// cpu_x86_grp.go - x86 group opcodes (Grp1-5): immediate ALU, shifts,
// multiply/divide, INC/DEC and indirect control transfer
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

// =============================================================================
// Group 1 (ADD, OR, ADC, SBB, AND, SUB, XOR, CMP with immediate)
// =============================================================================

// opGrp1 is 80 Eb,Ib / 81 Ev,Iv / 82 Eb,Ib / 83 Ev,Ib (sign-extended).
func (c *CPU) opGrp1(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	a := c.readOp(m.op, size)

	var b uint32
	if op == 0x81 {
		b = c.fetchImm(size)
	} else {
		b = signExtend(uint32(c.fetch8()), 1)
	}

	kind := int(m.reg)
	r := c.alu(kind, a, b, size)
	if kind != aluCMP {
		c.writeOp(m.op, size, r)
	}
}

// =============================================================================
// Group 2 (ROL, ROR, RCL, RCR, SHL, SHR, SAL, SAR)
// =============================================================================

// opGrp2 is C0/C1 (count Ib), D0/D1 (count 1) and D2/D3 (count CL).
func (c *CPU) opGrp2(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()
	v := c.readOp(m.op, size)

	var count byte
	switch op & 0xFE {
	case 0xC0:
		count = c.fetch8()
	case 0xD0:
		count = 1
	default:
		count = c.CL()
	}

	if count&0x1F == 0 {
		return
	}
	c.writeOp(m.op, size, c.shift(m.reg, v, count, size))
}

// =============================================================================
// Group 3 (TEST, NOT, NEG, MUL, IMUL, DIV, IDIV)
// =============================================================================

func (c *CPU) opGrp3(op byte) {
	size := c.sizeOf(op)
	m := c.fetchModRM()

	switch m.reg {
	case 0, 1: // TEST
		v := c.readOp(m.op, size)
		c.logic(v&c.fetchImm(size), size)
	case 2: // NOT
		c.writeOp(m.op, size, ^c.readOp(m.op, size)&sizeMask(size))
	case 3: // NEG
		v := c.readOp(m.op, size)
		r := c.sub(0, v, 0, size)
		c.setFlag(FlagCF, v&sizeMask(size) != 0)
		c.writeOp(m.op, size, r)
	case 4:
		c.mul(c.readOp(m.op, size), size, false)
	case 5:
		c.mul(c.readOp(m.op, size), size, true)
	case 6:
		c.div(c.readOp(m.op, size), size, false)
	case 7:
		c.div(c.readOp(m.op, size), size, true)
	}
}

// =============================================================================
// Group 4 (INC/DEC Eb) and Group 5 (INC, DEC, CALL, CALLF, JMP, JMPF, PUSH)
// =============================================================================

func (c *CPU) opGrp4(op byte) {
	m := c.fetchModRM()
	switch m.reg {
	case 0:
		c.writeOp(m.op, 1, c.inc(c.readOp(m.op, 1), 1))
	case 1:
		c.writeOp(m.op, 1, c.dec(c.readOp(m.op, 1), 1))
	default:
		c.raiseUD()
	}
}

func (c *CPU) opGrp5(op byte) {
	size := c.opSize()
	m := c.fetchModRM()

	switch m.reg {
	case 0:
		c.writeOp(m.op, size, c.inc(c.readOp(m.op, size), size))
	case 1:
		c.writeOp(m.op, size, c.dec(c.readOp(m.op, size), size))
	case 2: // CALL Ev
		target := c.readOp(m.op, size)
		if c.faultPending() {
			return
		}
		c.push(size, c.EIP)
		c.setEIP(target)
	case 3, 5: // CALL/JMP Mp
		if m.op.isReg {
			c.raiseUD()
			return
		}
		ofs := c.readSeg(m.op.seg, m.op.ofs, size)
		sel := uint16(c.readSeg(m.op.seg, m.op.ofs+uint32(size), 2))
		if c.faultPending() {
			return
		}
		if m.reg == 3 {
			c.callFar(sel, ofs)
		} else {
			c.jumpFar(sel, ofs)
		}
	case 4: // JMP Ev
		target := c.readOp(m.op, size)
		if c.faultPending() {
			return
		}
		c.setEIP(target)
	case 6:
		c.push(size, c.readOp(m.op, size))
	default:
		c.raiseUD()
	}
}
