// cpu_x86_intr.go - Synchronous interrupt and exception delivery
//
// One interrupt can be pending at a time; the first raise wins until the
// dispatch loop delivers it at the end of the instruction.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"github.com/sirupsen/logrus"
)

// IntrType holds the interrupt class in the low byte plus delivery mode bits.
type IntrType uint32

const (
	IntrSoft  IntrType = 1 // INT n, INT3, INTO, host injected
	IntrFault IntrType = 2 // CPU detected

	IntrRestart IntrType = 0x100 // return to the faulting instruction
	IntrErrCode IntrType = 0x200 // push an error code
)

// Class strips the mode bits.
func (t IntrType) Class() IntrType { return t & 0xFF }

// Exception vectors
const (
	VecDivide  = 0x00
	VecBreak   = 0x03
	VecInto    = 0x04
	VecInvalid = 0x06
	VecGP      = 0x0D
)

// IntrHandler overrides built-in delivery of one vector. Returning true
// means the interrupt was handled and no frame is pushed.
type IntrHandler func(c *CPU, nr byte, typ IntrType) bool

// SetIntrHandler installs (or with nil removes) a per-vector callback.
func (c *CPU) SetIntrHandler(nr byte, h IntrHandler) { c.intrTable[nr] = h }

// Intr raises an interrupt to be delivered after the current instruction.
// It is ignored while another interrupt is pending. A typ without a class
// is raised as IntrSoft.
func (c *CPU) Intr(nr byte, typ IntrType, errCode uint32) {
	if c.intr.typ != 0 {
		return
	}
	if typ.Class() == 0 {
		typ |= IntrSoft
	}
	c.intr = pendingIntr{nr: nr, typ: typ, errCode: errCode}
}

// PendingIntr returns the pending interrupt, if any.
func (c *CPU) PendingIntr() (nr byte, typ IntrType, errCode uint32, ok bool) {
	return c.intr.nr, c.intr.typ, c.intr.errCode, c.intr.typ != 0
}

// IntrStats returns how often each vector has been delivered.
func (c *CPU) IntrStats() [256]uint64 { return c.intrStats }

func (c *CPU) raiseGP(errCode uint32) {
	c.Intr(VecGP, IntrFault|IntrRestart|IntrErrCode, errCode)
}

func (c *CPU) raiseUD() { c.Intr(VecInvalid, IntrFault|IntrRestart, 0) }

func (c *CPU) raiseDE() { c.Intr(VecDivide, IntrSoft|IntrRestart, 0) }

// handleInterrupt delivers the pending interrupt, if any, and clears the slot.
func (c *CPU) handleInterrupt() {
	if c.intr.typ == 0 {
		return
	}
	p := c.intr
	c.intr = pendingIntr{}

	if c.trace&TraceInts != 0 {
		if p.typ.Class() == IntrFault {
			c.logf("* fault %02x (err %x)\n", p.nr, p.errCode)
		} else {
			c.logf("* int %02x\n", p.nr)
		}
	}
	c.generateInt(p.nr, p.typ, p.errCode)
}

// generateInt runs the host callback or pushes the CPU frame and vectors.
func (c *CPU) generateInt(nr byte, typ IntrType, errCode uint32) {
	c.intrStats[nr]++

	if h := c.intrTable[nr]; h != nil && h(c, nr, typ) {
		return
	}

	cs, eip := c.Seg[SegCS].Sel, c.EIP
	if typ&IntrRestart != 0 {
		cs, eip = c.savedCS, c.savedEIP
	}

	gate, ok := c.idtLookup(nr)
	if !ok {
		c.log.WithFields(logrus.Fields{
			"vector": nr,
			"cs":     c.savedCS,
			"eip":    c.savedEIP,
		}).Error("interrupt gate unusable")
		c.halt(StopIntr)
		return
	}

	if gate.big {
		c.push32(c.Flags)
		c.push32(uint32(cs))
		c.push32(eip)
	} else {
		c.push16(uint16(c.Flags))
		c.push16(cs)
		c.push16(uint16(eip))
	}
	if typ&IntrErrCode != 0 {
		c.push32(errCode)
	}

	if !gate.trap {
		c.setFlag(FlagIF, false)
	}
	c.setFlag(FlagTF, false)

	if !c.loadSegment(&c.Seg[SegCS], gate.sel) {
		c.intr = pendingIntr{}
		c.log.WithFields(logrus.Fields{"vector": nr, "sel": gate.sel}).Error("interrupt target selector invalid")
		c.halt(StopIntr)
		return
	}
	c.EIP = gate.offset
}

type intrGate struct {
	sel    uint16
	offset uint32
	big    bool // 32-bit frame
	trap   bool // keep IF
}

// idtLookup resolves a vector through the real mode vector table or the
// protected mode IDT. Only interrupt and trap gates are supported.
func (c *CPU) idtLookup(nr byte) (intrGate, bool) {
	if !c.ProtectedMode() {
		addr := c.IDT.Base + uint32(nr)*4
		return intrGate{
			offset: uint32(c.Mem.Read16(addr)),
			sel:    c.Mem.Read16(addr + 2),
		}, true
	}

	ofs := uint32(nr) * 8
	if ofs+7 > c.IDT.Limit {
		return intrGate{}, false
	}
	lo := c.Mem.Read32(c.IDT.Base + ofs)
	hi := c.Mem.Read32(c.IDT.Base + ofs + 4)
	if hi&(1<<15) == 0 {
		return intrGate{}, false
	}

	g := intrGate{
		sel:    uint16(lo >> 16),
		offset: lo&0xFFFF | hi&0xFFFF0000,
	}
	switch (hi >> 8) & 0x1F {
	case 0x06:
	case 0x07:
		g.trap = true
	case 0x0E:
		g.big = true
	case 0x0F:
		g.big, g.trap = true, true
	default:
		return intrGate{}, false
	}
	if !g.big {
		g.offset &= 0xFFFF
	}
	return g, true
}

// EncodeGate builds a protected mode IDT gate. kind is the 5-bit type field
// (0x06/0x07 16-bit interrupt/trap, 0x0E/0x0F 32-bit interrupt/trap).
func EncodeGate(sel uint16, offset uint32, kind byte) (lo, hi uint32) {
	lo = offset&0xFFFF | uint32(sel)<<16
	hi = offset&0xFFFF0000 | 1<<15 | uint32(kind&0x1F)<<8
	return lo, hi
}
