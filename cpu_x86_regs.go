// cpu_x86_regs.go - Name-keyed register access for state files, the
// monitor and machine configs
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"fmt"
	"strings"
)

// RegisterInfo describes one named register and its current value.
type RegisterInfo struct {
	Name     string
	BitWidth int
	Value    uint64
	Group    string // "general", "flags", "segment", "system", "counter"
}

type regSpec struct {
	name  string
	width int
	group string
	get   func(c *CPU) uint64
	set   func(c *CPU, v uint64) error
}

func gpr(name string, idx byte) regSpec {
	return regSpec{
		name: name, width: 32, group: "general",
		get: func(c *CPU) uint64 { return uint64(c.getReg32(idx)) },
		set: func(c *CPU, v uint64) error { c.setReg32(idx, uint32(v)); return nil },
	}
}

func u32Reg(name, group string, p func(c *CPU) *uint32) regSpec {
	return regSpec{
		name: name, width: 32, group: group,
		get: func(c *CPU) uint64 { return uint64(*p(c)) },
		set: func(c *CPU, v uint64) error { *p(c) = uint32(v); return nil },
	}
}

func selReg(seg SegReg) regSpec {
	return regSpec{
		name: seg.String(), width: 16, group: "segment",
		get: func(c *CPU) uint64 { return uint64(c.Seg[seg].Sel) },
		set: func(c *CPU, v uint64) error {
			if !c.SetSeg(seg, uint16(v)) {
				c.intr = pendingIntr{}
				return fmt.Errorf("%s=%#x: %w", seg, v, ErrSegmentRejected)
			}
			return nil
		},
	}
}

// regTable lists the registers in the order they are reported and saved.
var regTable = buildRegTable()

func buildRegTable() []regSpec {
	t := []regSpec{
		gpr("eax", 0), gpr("ebx", 3), gpr("ecx", 1), gpr("edx", 2),
		gpr("esi", 6), gpr("edi", 7), gpr("ebp", 5), gpr("esp", 4),
		u32Reg("eip", "general", func(c *CPU) *uint32 { return &c.EIP }),
		{
			name: "eflags", width: 32, group: "flags",
			get: func(c *CPU) uint64 { return uint64(c.Flags) },
			set: func(c *CPU, v uint64) error { c.Flags = uint32(v) | flagOne; return nil },
		},
	}

	// Selectors go first so a later base/limit/acc line can override the
	// cache they load.
	for s := SegES; s < segCount; s++ {
		t = append(t, selReg(s))
	}
	for s := SegES; s < segCount; s++ {
		seg := s
		t = append(t,
			u32Reg(seg.String()+".base", "segment", func(c *CPU) *uint32 { return &c.Seg[seg].Base }),
			u32Reg(seg.String()+".limit", "segment", func(c *CPU) *uint32 { return &c.Seg[seg].Limit }),
			regSpec{
				name: seg.String() + ".acc", width: 16, group: "segment",
				get:  func(c *CPU) uint64 { return uint64(c.Seg[seg].Acc) },
				set:  func(c *CPU, v uint64) error { c.Seg[seg].Acc = uint16(v); return nil },
			},
		)
	}

	t = append(t,
		u32Reg("gdt.base", "system", func(c *CPU) *uint32 { return &c.GDT.Base }),
		u32Reg("gdt.limit", "system", func(c *CPU) *uint32 { return &c.GDT.Limit }),
		u32Reg("idt.base", "system", func(c *CPU) *uint32 { return &c.IDT.Base }),
		u32Reg("idt.limit", "system", func(c *CPU) *uint32 { return &c.IDT.Limit }),
		regSpec{
			name: "ldt", width: 16, group: "system",
			get:  func(c *CPU) uint64 { return uint64(c.LDT.Sel) },
			set:  func(c *CPU, v uint64) error { return c.loadSystemReg(&c.LDT, "ldt", v) },
		},
		u32Reg("ldt.base", "system", func(c *CPU) *uint32 { return &c.LDT.Base }),
		u32Reg("ldt.limit", "system", func(c *CPU) *uint32 { return &c.LDT.Limit }),
		regSpec{
			name: "tr", width: 16, group: "system",
			get:  func(c *CPU) uint64 { return uint64(c.TR.Sel) },
			set:  func(c *CPU, v uint64) error { return c.loadSystemReg(&c.TR, "tr", v) },
		},
	)
	for i := 0; i < 5; i++ {
		n := i
		t = append(t, u32Reg(fmt.Sprintf("cr%d", n), "system", func(c *CPU) *uint32 { return &c.CR[n] }))
	}
	for i := 0; i < 8; i++ {
		n := i
		t = append(t, u32Reg(fmt.Sprintf("dr%d", n), "system", func(c *CPU) *uint32 { return &c.DR[n] }))
	}
	t = append(t, regSpec{
		name: "tsc", width: 64, group: "counter",
		get:  func(c *CPU) uint64 { return c.TSC },
		set:  func(c *CPU, v uint64) error { c.TSC = v; return nil },
	})
	return t
}

// loadSystemReg sets LDTR or TR. In real mode only the selector is stored.
func (c *CPU) loadSystemReg(seg *Segment, name string, v uint64) error {
	if !c.ProtectedMode() {
		seg.Sel = uint16(v)
		return nil
	}
	if !c.loadSystemSegment(seg, uint16(v)) {
		c.intr = pendingIntr{}
		return fmt.Errorf("%s=%#x: %w", name, v, ErrSegmentRejected)
	}
	return nil
}

// 16 and 8-bit views accepted by SetRegister in addition to the table.
var subRegs = map[string]struct {
	idx  byte
	size int
}{
	"ax": {0, 2}, "cx": {1, 2}, "dx": {2, 2}, "bx": {3, 2},
	"sp": {4, 2}, "bp": {5, 2}, "si": {6, 2}, "di": {7, 2},
	"al": {0, 1}, "cl": {1, 1}, "dl": {2, 1}, "bl": {3, 1},
	"ah": {4, 1}, "ch": {5, 1}, "dh": {6, 1}, "bh": {7, 1},
}

func lookupReg(name string) *regSpec {
	name = strings.ToLower(name)
	for i := range regTable {
		if regTable[i].name == name {
			return &regTable[i]
		}
	}
	return nil
}

// Register returns a register by name (case-insensitive).
func (c *CPU) Register(name string) (uint64, bool) {
	name = strings.ToLower(name)
	switch name {
	case "ip":
		return uint64(c.IP()), true
	case "flags":
		return uint64(c.Flags), true
	}
	if r, ok := subRegs[name]; ok {
		return uint64(c.getReg(r.idx, r.size)), true
	}
	if r := lookupReg(name); r != nil {
		return r.get(c), true
	}
	return 0, false
}

// SetRegister writes a register by name. Selector writes go through the
// segment resolver and fail if the descriptor is rejected.
func (c *CPU) SetRegister(name string, v uint64) error {
	name = strings.ToLower(name)
	switch name {
	case "ip":
		c.SetIP(uint16(v))
		return nil
	case "flags":
		c.Flags = c.Flags&^0xFFFF | uint32(v)&0xFFFF | flagOne
		return nil
	}
	if r, ok := subRegs[name]; ok {
		c.setReg(r.idx, r.size, uint32(v))
		return nil
	}
	if r := lookupReg(name); r != nil {
		return r.set(c, v)
	}
	return fmt.Errorf("%q: %w", name, ErrUnknownRegister)
}

// Registers returns every named register with its value.
func (c *CPU) Registers() []RegisterInfo {
	out := make([]RegisterInfo, len(regTable))
	for i, r := range regTable {
		out[i] = RegisterInfo{Name: r.name, BitWidth: r.width, Value: r.get(c), Group: r.group}
	}
	return out
}
