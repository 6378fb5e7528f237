// cpu_x86_alu.go - Width-generic ALU primitives and flag computation
//
// Operands are carried in uint32 regardless of width; size is the operand
// size in bytes (1, 2 or 4).
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

// ALU operations in the order used by opcodes 0x00-0x3F and group 1.
const (
	aluADD = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

func sizeMask(size int) uint32 { return 0xFFFFFFFF >> (32 - 8*uint(size)) }
func signBit(size int) uint32  { return 1 << (8*uint(size) - 1) }

// signExtend widens a size-byte value to 32 bits.
func signExtend(v uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(int8(v))
	case 2:
		return uint32(int16(v))
	}
	return v
}

// parity reports even parity of the low byte.
func parity(v byte) bool {
	v ^= v >> 4
	v ^= v >> 2
	v ^= v >> 1
	return v&1 == 0
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (c *CPU) setFlagsSZP(r uint32, size int) {
	c.setFlag(FlagZF, r&sizeMask(size) == 0)
	c.setFlag(FlagSF, r&signBit(size) != 0)
	c.setFlag(FlagPF, parity(byte(r)))
}

func (c *CPU) add(a, b, carry uint32, size int) uint32 {
	m := sizeMask(size)
	a, b = a&m, b&m
	full := uint64(a) + uint64(b) + uint64(carry)
	r := uint32(full) & m
	c.setFlag(FlagCF, full > uint64(m))
	c.setFlag(FlagOF, ^(a^b)&(a^r)&signBit(size) != 0)
	c.setFlag(FlagAF, (a^b^r)&0x10 != 0)
	c.setFlagsSZP(r, size)
	return r
}

func (c *CPU) sub(a, b, borrow uint32, size int) uint32 {
	m := sizeMask(size)
	a, b = a&m, b&m
	r := (a - b - borrow) & m
	c.setFlag(FlagCF, uint64(a) < uint64(b)+uint64(borrow))
	c.setFlag(FlagOF, (a^b)&(a^r)&signBit(size) != 0)
	c.setFlag(FlagAF, (a^b^r)&0x10 != 0)
	c.setFlagsSZP(r, size)
	return r
}

func (c *CPU) logic(r uint32, size int) uint32 {
	r &= sizeMask(size)
	c.setFlag(FlagCF, false)
	c.setFlag(FlagOF, false)
	c.setFlag(FlagAF, false)
	c.setFlagsSZP(r, size)
	return r
}

// alu runs one of the eight basic operations; CMP returns a unchanged.
func (c *CPU) alu(kind int, a, b uint32, size int) uint32 {
	switch kind {
	case aluADD:
		return c.add(a, b, 0, size)
	case aluOR:
		return c.logic(a|b, size)
	case aluADC:
		return c.add(a, b, b2u(c.CF()), size)
	case aluSBB:
		return c.sub(a, b, b2u(c.CF()), size)
	case aluAND:
		return c.logic(a&b, size)
	case aluSUB:
		return c.sub(a, b, 0, size)
	case aluXOR:
		return c.logic(a^b, size)
	}
	c.sub(a, b, 0, size)
	return a & sizeMask(size)
}

// inc and dec leave CF alone.
func (c *CPU) inc(v uint32, size int) uint32 {
	cf := c.CF()
	r := c.add(v, 1, 0, size)
	c.setFlag(FlagCF, cf)
	return r
}

func (c *CPU) dec(v uint32, size int) uint32 {
	cf := c.CF()
	r := c.sub(v, 1, 0, size)
	c.setFlag(FlagCF, cf)
	return r
}

// shift implements group 2: ROL ROR RCL RCR SHL SHR SAL SAR, selected by
// kind. A masked count of zero changes nothing.
func (c *CPU) shift(kind byte, v uint32, count byte, size int) uint32 {
	count &= 0x1F
	if count == 0 {
		return v & sizeMask(size)
	}
	bits := uint(8 * size)
	m := sizeMask(size)
	sb := signBit(size)
	v &= m

	var r uint32
	switch kind & 7 {
	case 0: // ROL
		n := uint(count) % bits
		r = (v<<n | v>>(bits-n)) & m
		c.setFlag(FlagCF, r&1 != 0)
		c.setFlag(FlagOF, (r&sb != 0) != (r&1 != 0))
	case 1: // ROR
		n := uint(count) % bits
		r = (v>>n | v<<(bits-n)) & m
		c.setFlag(FlagCF, r&sb != 0)
		c.setFlag(FlagOF, (r^r<<1)&sb != 0)
	case 2: // RCL
		r = v
		cf := c.CF()
		for i := uint(0); i < uint(count)%(bits+1); i++ {
			out := r&sb != 0
			r = (r<<1 | b2u(cf)) & m
			cf = out
		}
		c.setFlag(FlagCF, cf)
		c.setFlag(FlagOF, (r&sb != 0) != cf)
	case 3: // RCR
		r = v
		cf := c.CF()
		for i := uint(0); i < uint(count)%(bits+1); i++ {
			out := r&1 != 0
			r = r>>1 | b2u(cf)<<(bits-1)
			cf = out
		}
		c.setFlag(FlagCF, cf)
		c.setFlag(FlagOF, (r^r<<1)&sb != 0)
	case 4, 6: // SHL/SAL
		wide := uint64(v) << count
		r = uint32(wide) & m
		cf := (wide>>bits)&1 != 0
		c.setFlag(FlagCF, cf)
		c.setFlag(FlagOF, (r&sb != 0) != cf)
		c.setFlagsSZP(r, size)
	case 5: // SHR
		c.setFlag(FlagCF, (v>>(count-1))&1 != 0)
		c.setFlag(FlagOF, v&sb != 0)
		r = v >> count
		c.setFlagsSZP(r, size)
	case 7: // SAR
		sv := int64(int32(signExtend(v, size)))
		c.setFlag(FlagCF, (sv>>(count-1))&1 != 0)
		c.setFlag(FlagOF, false)
		r = uint32(sv>>count) & m
		c.setFlagsSZP(r, size)
	}
	return r
}

// shiftDouble implements SHLD/SHRD.
func (c *CPU) shiftDouble(left bool, dst, src uint32, count byte, size int) uint32 {
	count &= 0x1F
	if count == 0 {
		return dst
	}
	bits := uint(8 * size)
	m := sizeMask(size)
	sb := signBit(size)
	var r uint32
	if left {
		wide := uint64(dst&m)<<bits | uint64(src&m)
		wide <<= count
		r = uint32(wide>>bits) & m
		c.setFlag(FlagCF, uint(count) <= bits && ((dst&m)>>(bits-uint(count)))&1 != 0)
	} else {
		wide := uint64(src&m)<<bits | uint64(dst&m)
		c.setFlag(FlagCF, (wide>>(count-1))&1 != 0)
		r = uint32(wide>>count) & m
	}
	c.setFlag(FlagOF, (r^dst)&sb != 0)
	c.setFlagsSZP(r, size)
	return r
}

// mul performs unsigned or signed multiply of the accumulator. The double
// width result goes to AX, DX:AX or EDX:EAX.
func (c *CPU) mul(v uint32, size int, signed bool) {
	a := c.getReg(0, size)
	var full uint64
	var overflow bool
	if signed {
		p := int64(int32(signExtend(a, size))) * int64(int32(signExtend(v, size)))
		full = uint64(p)
		overflow = p != int64(int32(signExtend(uint32(p)&sizeMask(size), size)))
	} else {
		full = uint64(a) * uint64(v&sizeMask(size))
		overflow = full>>(8*uint(size)) != 0
	}

	switch size {
	case 1:
		c.SetAX(uint16(full))
	case 2:
		c.SetAX(uint16(full))
		c.SetDX(uint16(full >> 16))
	default:
		c.EAX = uint32(full)
		c.EDX = uint32(full >> 32)
	}
	c.setFlag(FlagCF, overflow)
	c.setFlag(FlagOF, overflow)
	c.setFlagsSZP(uint32(full), size)
}

// imul3 is the two and three operand IMUL form.
func (c *CPU) imul3(a, b uint32, size int) uint32 {
	p := int64(int32(signExtend(a, size))) * int64(int32(signExtend(b, size)))
	r := uint32(p) & sizeMask(size)
	overflow := p != int64(int32(signExtend(r, size)))
	c.setFlag(FlagCF, overflow)
	c.setFlag(FlagOF, overflow)
	c.setFlagsSZP(r, size)
	return r
}

// div divides AX, DX:AX or EDX:EAX by v. A zero divisor or a quotient that
// does not fit raises #DE and leaves the registers alone.
func (c *CPU) div(v uint32, size int, signed bool) {
	v &= sizeMask(size)
	if v == 0 {
		c.raiseDE()
		return
	}

	var dividend uint64
	switch size {
	case 1:
		dividend = uint64(c.AX())
	case 2:
		dividend = uint64(c.DX())<<16 | uint64(c.AX())
	default:
		dividend = uint64(c.EDX)<<32 | uint64(c.EAX)
	}

	var q, r uint64
	if signed {
		bits := 16 * uint(size)
		sd := int64(dividend<<(64-bits)) >> (64 - bits)
		sv := int64(int32(signExtend(v, size)))
		sq, sr := sd/sv, sd%sv
		lim := int64(1) << (8*uint(size) - 1)
		if sq >= lim || sq < -lim {
			c.raiseDE()
			return
		}
		q, r = uint64(sq), uint64(sr)
	} else {
		q, r = dividend/uint64(v), dividend%uint64(v)
		if q>>(8*uint(size)) != 0 {
			c.raiseDE()
			return
		}
	}

	switch size {
	case 1:
		c.SetAL(byte(q))
		c.SetAH(byte(r))
	case 2:
		c.SetAX(uint16(q))
		c.SetDX(uint16(r))
	default:
		c.EAX = uint32(q)
		c.EDX = uint32(r)
	}
}

// condition evaluates the 4-bit Jcc/SETcc condition code.
func (c *CPU) condition(cc byte) bool {
	var t bool
	switch cc >> 1 {
	case 0:
		t = c.OF()
	case 1:
		t = c.CF()
	case 2:
		t = c.ZF()
	case 3:
		t = c.CF() || c.ZF()
	case 4:
		t = c.SF()
	case 5:
		t = c.PF()
	case 6:
		t = c.SF() != c.OF()
	case 7:
		t = c.ZF() || c.SF() != c.OF()
	}
	if cc&1 != 0 {
		return !t
	}
	return t
}
