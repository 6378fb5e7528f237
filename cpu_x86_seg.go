// cpu_x86_seg.go - Segment loading and segmented memory access
//
// Real mode: base = selector << 4, limit and access rights unchanged.
// Protected mode: descriptors come from the GDT or LDT; any failure raises
// #GP(selector) and leaves the register untouched.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"github.com/sirupsen/logrus"
)

// SetSeg loads a segment register. It reports false if a #GP was raised.
func (c *CPU) SetSeg(seg SegReg, sel uint16) bool {
	if seg < 0 || seg >= segCount {
		return false
	}
	return c.loadSegment(&c.Seg[seg], sel)
}

// loadSegment commits the new selector only once the descriptor is known to
// be good.
func (c *CPU) loadSegment(seg *Segment, sel uint16) bool {
	if !c.ProtectedMode() {
		seg.Sel = sel
		seg.Base = uint32(sel) << 4
		return true
	}

	ofs := uint32(sel &^ 7)
	if ofs == 0 {
		*seg = Segment{}
		return true
	}

	table := DescTable{Base: c.GDT.Base, Limit: c.GDT.Limit}
	if sel&4 != 0 {
		table = DescTable{Base: c.LDT.Base, Limit: c.LDT.Limit}
	}

	if ofs+7 <= table.Limit {
		d := c.readDescriptor(table.Base + ofs)
		if d.Acc&AccP != 0 && d.Acc&AccS != 0 {
			d.Sel = sel
			*seg = d
			return true
		}
	}

	c.log.WithFields(logrus.Fields{
		"sel": sel,
		"cs":  c.savedCS,
		"eip": c.savedEIP,
	}).Debug("segment load failed")
	c.raiseGP(uint32(sel))
	return false
}

// loadSystemSegment loads LDTR or TR from a GDT system descriptor.
func (c *CPU) loadSystemSegment(seg *Segment, sel uint16) bool {
	ofs := uint32(sel &^ 7)
	if ofs == 0 {
		*seg = Segment{Sel: sel}
		return true
	}
	if sel&4 == 0 && ofs+7 <= c.GDT.Limit {
		d := c.readDescriptor(c.GDT.Base + ofs)
		if d.Acc&AccP != 0 && d.Acc&AccS == 0 {
			d.Sel = sel
			*seg = d
			return true
		}
	}
	c.raiseGP(uint32(sel))
	return false
}

func (c *CPU) readDescriptor(addr uint32) Segment {
	return unpackDescriptor(c.Mem.Read32(addr), c.Mem.Read32(addr+4))
}

// unpackDescriptor decodes an 8-byte descriptor given as low and high
// dwords. The limit is scaled when the granularity bit is set.
func unpackDescriptor(dl, dh uint32) Segment {
	acc := uint16((dh>>8)&0xFF) | uint16((dh>>12)&0xF00)
	limit := dl&0xFFFF | dh&0xF0000
	if acc&AccG != 0 {
		limit = limit<<12 | 0xFFF
	}
	return Segment{
		Base:  dl>>16 | (dh&0xFF)<<16 | dh&0xFF000000,
		Limit: limit,
		Acc:   acc,
	}
}

// EncodeDescriptor builds the 8-byte descriptor unpackDescriptor decodes.
// acc uses the Segment.Acc layout.
func EncodeDescriptor(base, limit uint32, acc uint16) (dl, dh uint32) {
	if acc&AccG != 0 {
		limit >>= 12
	}
	dl = limit&0xFFFF | base<<16
	dh = (base>>16)&0xFF | uint32(acc&0xFF)<<8 | limit&0xF0000 |
		uint32(acc&0xF00)<<12 | base&0xFF000000
	return dl, dh
}

// -----------------------------------------------------------------------------
// Segmented data access
// -----------------------------------------------------------------------------

// dataSeg returns the segment for the current memory operand: an override
// prefix wins, then SS for stack based addressing, then DS.
func (c *CPU) dataSeg() SegReg {
	if c.defaultSeg != segNone {
		return c.defaultSeg
	}
	if c.mode&modeSegDSSS != 0 {
		return SegSS
	}
	return SegDS
}

// checkAccess raises #GP(sel) if [ofs, ofs+size) is outside the limit.
func (c *CPU) checkAccess(seg SegReg, ofs uint32, size int) bool {
	s := &c.Seg[seg]
	if c.trace&TraceAcc != 0 {
		c.logf("* acc %s %s:%08x\n", accessWidth(size), seg, ofs)
	}
	if uint64(ofs)+uint64(size)-1 > uint64(s.Limit) {
		c.raiseGP(uint32(s.Sel))
		return false
	}
	return true
}

// faultPending reports whether a fault is waiting; memory writes are
// suppressed until it is delivered.
func (c *CPU) faultPending() bool { return c.intr.typ.Class() == IntrFault }

func (c *CPU) readSeg(seg SegReg, ofs uint32, size int) uint32 {
	if !c.checkAccess(seg, ofs, size) {
		return 0xFFFFFFFF >> (32 - 8*size)
	}
	addr := c.Seg[seg].Base + ofs
	v := c.Mem.readN(addr, size)
	if c.trace&TraceData != 0 {
		c.logf("* r [%08x] = %0*x\n", addr, size*2, v)
	}
	return v
}

func (c *CPU) writeSeg(seg SegReg, ofs uint32, size int, v uint32) {
	if !c.checkAccess(seg, ofs, size) || c.faultPending() {
		return
	}
	addr := c.Seg[seg].Base + ofs
	if c.trace&TraceData != 0 {
		c.logf("* w [%08x] = %0*x\n", addr, size*2, v)
	}
	c.Mem.writeN(addr, size, v)
	c.checkWrite()
}

// checkWrite stops the loop after a denied or self-modifying write.
func (c *CPU) checkWrite() {
	switch {
	case c.Mem.deniedWrite:
		c.Mem.deniedWrite = false
		c.log.WithFields(logrus.Fields{"cs": c.savedCS, "eip": c.savedEIP}).Warn("write to protected memory")
		c.halt(StopInvalidWrite)
	case c.Mem.selfModify && c.runFlags&RunNoSelfModify != 0:
		c.Mem.selfModify = false
		c.halt(StopSelfModify)
	}
	c.Mem.selfModify = false
}

func (c *CPU) readData(ofs uint32, size int) uint32 { return c.readSeg(c.dataSeg(), ofs, size) }

func (c *CPU) writeData(ofs uint32, size int, v uint32) { c.writeSeg(c.dataSeg(), ofs, size, v) }

// -----------------------------------------------------------------------------
// Instruction fetch
// -----------------------------------------------------------------------------

func (c *CPU) fetch8() byte {
	addr := c.Seg[SegCS].Base + c.EIP
	var v byte
	if c.runFlags&RunCheckExec != 0 {
		v = c.Mem.Exec8(addr)
		if c.Mem.deniedExec {
			c.Mem.deniedExec = false
			c.halt(StopExecDenied)
		}
	} else {
		v = c.Mem.Fetch8(addr)
	}

	if c.code32() {
		c.EIP++
	} else {
		c.SetIP(c.IP() + 1)
	}
	if c.instrLen < maxInstrLen {
		c.instr[c.instrLen] = v
		c.instrLen++
	}
	return v
}

func (c *CPU) fetch16() uint16 {
	lo := c.fetch8()
	return uint16(lo) | uint16(c.fetch8())<<8
}

func (c *CPU) fetch32() uint32 {
	lo := c.fetch16()
	return uint32(lo) | uint32(c.fetch16())<<16
}

// fetchImm fetches an immediate of size bytes.
func (c *CPU) fetchImm(size int) uint32 {
	switch size {
	case 1:
		return uint32(c.fetch8())
	case 2:
		return uint32(c.fetch16())
	}
	return c.fetch32()
}

// -----------------------------------------------------------------------------
// Stack
// -----------------------------------------------------------------------------

func (c *CPU) sp() uint32 {
	if c.stack32() {
		return c.ESP
	}
	return uint32(c.SP())
}

func (c *CPU) setSPValue(v uint32) {
	if c.stack32() {
		c.ESP = v
	} else {
		c.SetSP(uint16(v))
	}
}

// push stores size bytes (2 or 4) below the stack pointer.
func (c *CPU) push(size int, v uint32) {
	sp := c.sp() - uint32(size)
	if !c.stack32() {
		sp &= 0xFFFF
	}
	c.setSPValue(sp)
	c.writeSeg(SegSS, sp, size, v)
}

func (c *CPU) pop(size int) uint32 {
	sp := c.sp()
	v := c.readSeg(SegSS, sp, size)
	sp += uint32(size)
	if !c.stack32() {
		sp &= 0xFFFF
	}
	c.setSPValue(sp)
	return v
}

func (c *CPU) push16(v uint16) { c.push(2, uint32(v)) }
func (c *CPU) push32(v uint32) { c.push(4, v) }
func (c *CPU) pop16() uint16   { return uint16(c.pop(2)) }
func (c *CPU) pop32() uint32   { return c.pop(4) }

func accessWidth(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	}
	return "dword"
}
