// cpu_x86_modrm.go - ModR/M and SIB effective address decoding
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

// operand is a decoded r/m operand: a register or a segment:offset pair.
type operand struct {
	isReg bool
	reg   byte
	seg   SegReg
	ofs   uint32
}

// modRM is a fetched ModR/M byte with its r/m operand resolved.
type modRM struct {
	mod, reg, rm byte
	op           operand
}

func splitModRM(b byte) (mod, reg, rm byte) {
	return b >> 6, (b >> 3) & 7, b & 7
}

// fetchModRM fetches the ModR/M byte plus any SIB and displacement bytes.
func (c *CPU) fetchModRM() modRM {
	m := modRM{}
	m.mod, m.reg, m.rm = splitModRM(c.fetch8())
	if m.mod == 3 {
		m.op = operand{isReg: true, reg: m.rm}
		return m
	}
	ofs := c.decodeRMAddress(m.mod, m.rm)
	m.op = operand{seg: c.dataSeg(), ofs: ofs}
	return m
}

// decodeRMAddress returns the offset for a memory operand and records
// whether it is stack based. mod 3 has no address and raises #UD.
func (c *CPU) decodeRMAddress(mod, rm byte) uint32 {
	switch {
	case mod == 3:
		c.raiseUD()
		return 0
	case c.addr32():
		return c.decodeRM32(mod, rm)
	}
	return c.decodeRM16(mod, rm)
}

func (c *CPU) decodeRM16(mod, rm byte) uint32 {
	if mod == 0 && rm == 6 {
		return uint32(c.fetch16())
	}

	var ofs uint16
	switch rm {
	case 0:
		ofs = c.BX() + c.SI()
	case 1:
		ofs = c.BX() + c.DI()
	case 2:
		ofs = c.BP() + c.SI()
		c.mode |= modeSegDSSS
	case 3:
		ofs = c.BP() + c.DI()
		c.mode |= modeSegDSSS
	case 4:
		ofs = c.SI()
	case 5:
		ofs = c.DI()
	case 6:
		ofs = c.BP()
		c.mode |= modeSegDSSS
	case 7:
		ofs = c.BX()
	}

	switch mod {
	case 1:
		ofs += uint16(int8(c.fetch8()))
	case 2:
		ofs += c.fetch16()
	}
	return uint32(ofs)
}

func (c *CPU) decodeRM32(mod, rm byte) uint32 {
	var ofs uint32
	switch {
	case rm == 4:
		ofs = c.decodeSIB(mod)
	case rm == 5 && mod == 0:
		return c.fetch32()
	default:
		ofs = c.getReg32(rm)
		if rm == 5 {
			c.mode |= modeSegDSSS
		}
	}

	switch mod {
	case 1:
		ofs += uint32(int8(c.fetch8()))
	case 2:
		ofs += c.fetch32()
	}
	return ofs
}

// decodeSIB consumes the SIB byte and returns base + index<<scale. Any
// displacement belonging to mod 1/2 is left for the caller.
func (c *CPU) decodeSIB(mod byte) uint32 {
	sib := c.fetch8()
	scale, index, base := sib>>6, (sib>>3)&7, sib&7

	var ofs uint32
	if base == 5 && mod == 0 {
		ofs = c.fetch32()
	} else {
		ofs = c.getReg32(base)
		if base == 4 || base == 5 {
			c.mode |= modeSegDSSS
		}
	}
	if index != 4 {
		ofs += c.getReg32(index) << scale
	}
	return ofs
}

// readOp and writeOp access an r/m operand of size bytes.
func (c *CPU) readOp(o operand, size int) uint32 {
	if o.isReg {
		return c.getReg(o.reg, size)
	}
	return c.readSeg(o.seg, o.ofs, size)
}

// writeOp drops register results too once a fault is pending, so a
// restarted instruction sees its original operands.
func (c *CPU) writeOp(o operand, size int, v uint32) {
	if o.isReg {
		if c.faultPending() {
			return
		}
		c.setReg(o.reg, size, v)
		return
	}
	c.writeSeg(o.seg, o.ofs, size, v)
}

func regOp(idx byte) operand { return operand{isReg: true, reg: idx} }

// addrMask truncates an offset to the current address size.
func (c *CPU) addrMask(v uint32) uint32 {
	if c.addr32() {
		return v
	}
	return v & 0xFFFF
}
