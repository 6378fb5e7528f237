// helpers_test.go - Shared fixtures for the interpreter tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"testing"
)

const (
	testCodeAddr  = 0x7C00
	testStackTop  = 0x7000
	testMaxInstr  = 10000
	testRunFlags  = RunMaxInstr
	testHandlerIP = 0x8000
)

// newTestCPU loads code at 0000:7C00 with a real mode stack at 0000:7000.
func newTestCPU(t *testing.T, code []byte, opts ...Option) *CPU {
	t.Helper()
	c := New(opts...)
	c.Mem.Load(testCodeAddr, code)
	if !c.SetSeg(SegCS, 0) || !c.SetSeg(SegSS, 0) || !c.SetSeg(SegDS, 0) || !c.SetSeg(SegES, 0) {
		t.Fatal("real mode segment load failed")
	}
	c.EIP = testCodeAddr
	c.ESP = testStackTop
	c.MaxInstr = testMaxInstr
	return c
}

// setVector points a real mode IVT entry at seg:ofs.
func setVector(c *CPU, nr byte, seg, ofs uint16) {
	c.Mem.Load(uint32(nr)*4, []byte{byte(ofs), byte(ofs >> 8), byte(seg), byte(seg >> 8)})
}

// put16 and put32 seed little-endian values without permission checks.
func put16(c *CPU, addr uint32, v uint16) {
	c.Mem.Load(addr, []byte{byte(v), byte(v >> 8)})
}

func put32(c *CPU, addr uint32, v uint32) {
	c.Mem.Load(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// peek16 reads guest memory without touching access history.
func peek16(c *CPU, addr uint32) uint16 {
	lo, _ := c.Mem.Peek(addr)
	hi, _ := c.Mem.Peek(addr + 1)
	return uint16(lo) | uint16(hi)<<8
}

func peek32(c *CPU, addr uint32) uint32 {
	return uint32(peek16(c, addr)) | uint32(peek16(c, addr+2))<<16
}

// fakePorts is a PortBackend recording every access.
type fakePorts struct {
	values     map[uint16]byte
	reads      []uint16
	writes     []portWrite
	privileged bool
}

type portWrite struct {
	port uint16
	size int
	v    uint32
}

func newFakePorts() *fakePorts {
	return &fakePorts{values: make(map[uint16]byte), privileged: true}
}

func (f *fakePorts) Privileged() bool { return f.privileged }

func (f *fakePorts) in(port uint16, size int) uint32 {
	f.reads = append(f.reads, port)
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(f.values[port+uint16(i)]) << (8 * i)
	}
	return v
}

func (f *fakePorts) out(port uint16, size int, v uint32) {
	f.writes = append(f.writes, portWrite{port, size, v})
	for i := 0; i < size; i++ {
		f.values[port+uint16(i)] = byte(v >> (8 * i))
	}
}

func (f *fakePorts) In8(port uint16) byte         { return byte(f.in(port, 1)) }
func (f *fakePorts) In16(port uint16) uint16      { return uint16(f.in(port, 2)) }
func (f *fakePorts) In32(port uint16) uint32      { return f.in(port, 4) }
func (f *fakePorts) Out8(port uint16, v byte)     { f.out(port, 1, uint32(v)) }
func (f *fakePorts) Out16(port uint16, v uint16)  { f.out(port, 2, uint32(v)) }
func (f *fakePorts) Out32(port uint16, v uint32)  { f.out(port, 4, v) }

// flatGDT builds a GDT at base with a null entry, a flat 32-bit code
// segment (0x08) and a flat 32-bit data segment (0x10).
func flatGDT(c *CPU, base uint32) {
	code := uint16(0x9B | AccD | AccG)
	data := uint16(0x93 | AccD | AccG)
	for i, acc := range []uint16{code, data} {
		dl, dh := EncodeDescriptor(0, 0xFFFFFFFF, acc)
		put32(c, base+8*uint32(i+1), dl)
		put32(c, base+8*uint32(i+1)+4, dh)
	}
	c.GDT = DescTable{Base: base, Limit: 3*8 - 1}
}
