// cpu_x86_string.go - x86 string instructions with REP/REPE/REPNE
//
// The source operand is DS:SI (override allowed), the destination is always
// ES:DI. SI/DI/CX are 16 or 32 bits wide depending on the address size.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

func (c *CPU) opString(op byte) {
	size := c.sizeOf(op)
	compares := op == 0xA6 || op == 0xA7 || op == 0xAE || op == 0xAF

	if c.mode&(modeRepe|modeRepne) == 0 {
		c.stringOnce(op, size)
		return
	}

	for c.counter() != 0 {
		c.stringOnce(op, size)
		if c.intr.typ != 0 || c.Halted() {
			return
		}
		c.setCounter(c.counter() - 1)
		if compares {
			if c.mode&modeRepe != 0 && !c.ZF() {
				return
			}
			if c.mode&modeRepne != 0 && c.ZF() {
				return
			}
		}
	}
}

// stringOnce executes a single element of a string instruction.
func (c *CPU) stringOnce(op byte, size int) {
	switch op &^ 1 {
	case 0xA4: // MOVS
		v := c.readData(c.index(6), size)
		c.writeSeg(SegES, c.index(7), size, v)
		c.advance(6, size)
		c.advance(7, size)
	case 0xA6: // CMPS
		a := c.readData(c.index(6), size)
		b := c.readSeg(SegES, c.index(7), size)
		c.sub(a, b, 0, size)
		c.advance(6, size)
		c.advance(7, size)
	case 0xAA: // STOS
		c.writeSeg(SegES, c.index(7), size, c.getReg(0, size))
		c.advance(7, size)
	case 0xAC: // LODS
		v := c.readData(c.index(6), size)
		c.writeOp(regOp(0), size, v)
		c.advance(6, size)
	case 0xAE: // SCAS
		c.sub(c.getReg(0, size), c.readSeg(SegES, c.index(7), size), 0, size)
		c.advance(7, size)
	case 0x6C: // INS
		v := c.IO.inN(c.DX(), size)
		if c.trace&TraceIO != 0 {
			c.logf("* in [%04x] = %0*x\n", c.DX(), size*2, v)
		}
		c.writeSeg(SegES, c.index(7), size, v)
		c.advance(7, size)
	case 0x6E: // OUTS
		v := c.readData(c.index(6), size)
		if c.trace&TraceIO != 0 {
			c.logf("* out [%04x] = %0*x\n", c.DX(), size*2, v)
		}
		c.IO.outN(c.DX(), size, v)
		c.advance(6, size)
	}
}

// index returns SI (6) or DI (7) at the current address size.
func (c *CPU) index(reg byte) uint32 {
	return c.addrMask(c.getReg32(reg))
}

// advance steps SI or DI by size in the direction given by DF.
func (c *CPU) advance(reg byte, size int) {
	d := uint32(size)
	if c.DF() {
		d = -d
	}
	if c.addr32() {
		c.setReg32(reg, c.getReg32(reg)+d)
	} else {
		c.setReg16(reg, c.getReg16(reg)+uint16(d))
	}
}
