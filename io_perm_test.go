// io_perm_test.go - Port permission map tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOMap_NoPermissionsFloats(t *testing.T) {
	ports := newFakePorts()
	io := NewIOMap(ports)

	assert.False(t, io.Privileged())
	assert.Equal(t, byte(0xFF), io.In8(0x60))
	assert.Equal(t, uint32(0xFFFFFFFF), io.In32(0x60))
	io.Out8(0x60, 1)
	assert.Empty(t, ports.reads)
	assert.Empty(t, ports.writes)
	assert.False(t, io.Invalid(), "floating I/O is not a permission violation")
}

func TestIOMap_UnprivilegedBackend(t *testing.T) {
	ports := newFakePorts()
	ports.privileged = false
	io := NewIOMap(ports)
	io.SetPerm(0x60, 0x60, PermR|PermW)

	assert.False(t, io.Privileged())
	assert.Equal(t, byte(0xFF), io.In8(0x60))
	assert.Empty(t, ports.reads)

	ports.privileged = true
	io.SetBackend(ports)
	assert.True(t, io.Privileged())
}

func TestIOMap_NilBackend(t *testing.T) {
	io := NewIOMap(nil)
	io.SetPerm(0, 0xFFFF, PermR|PermW)
	assert.False(t, io.Privileged())
	assert.Equal(t, uint16(0xFFFF), io.In16(0x3F8))
}

func TestIOMap_DeniedPort(t *testing.T) {
	ports := newFakePorts()
	ports.values[0x61] = 0x12
	io := NewIOMap(ports)
	io.SetPerm(0x60, 0x60, PermR)

	assert.Equal(t, byte(0xFF), io.In8(0x61))
	assert.True(t, io.Invalid())
	assert.Equal(t, byte(AccInvalid), io.Attr(0x61))

	io.Out8(0x60, 5) // read only
	assert.Empty(t, ports.writes)
	assert.Equal(t, byte(PermR|AccInvalid), io.Attr(0x60))
}

func TestIOMap_WideAccessDecomposes(t *testing.T) {
	ports := newFakePorts()
	ports.values[0x64] = 0x34
	ports.values[0x65] = 0x12
	io := NewIOMap(ports)
	io.SetPerm(0x64, 0x64, PermR|PermW)

	// 0x65 is denied so the word read falls back to byte accesses.
	assert.Equal(t, uint16(0xFF34), io.In16(0x64))
	assert.Equal(t, []uint16{0x64}, ports.reads)
	assert.True(t, io.Invalid())

	io.Out16(0x64, 0xBEEF)
	assert.Equal(t, []portWrite{{0x64, 1, 0xEF}}, ports.writes)

	// Fully permitted spans go through as one access.
	io.SetPerm(0x64, 0x67, PermR|PermW)
	ports.writes = nil
	io.Out32(0x64, 0x01020304)
	assert.Equal(t, []portWrite{{0x64, 4, 0x01020304}}, ports.writes)

	in, out := io.Stats(0x65)
	assert.Equal(t, uint32(0), in)
	assert.Equal(t, uint32(1), out)
}

func TestIOMap_SpanPastTopPortSplits(t *testing.T) {
	ports := newFakePorts()
	io := NewIOMap(ports)
	io.SetPerm(0xFFFE, 0xFFFF, PermR)

	io.In32(0xFFFE)
	assert.Equal(t, []uint16{0xFFFE, 0xFFFF}, ports.reads)
}

func TestIOMap_ResetAndClone(t *testing.T) {
	ports := newFakePorts()
	io := NewIOMap(ports)
	io.SetPerm(0x70, 0x71, PermR|PermW)
	io.Out8(0x70, 1)
	io.In8(0x72)

	n := io.Clone()
	n.SetPerm(0x70, 0x70, 0)
	assert.Equal(t, byte(PermR|PermW), io.Perm(0x70))
	assert.Same(t, io.Backend(), n.Backend())

	io.ResetAccessStats()
	assert.False(t, io.Invalid())
	assert.Equal(t, byte(PermR|PermW), io.Attr(0x70))
	in, out := io.Stats(0x70)
	assert.Zero(t, in+out)
}

type latchDevice struct {
	last   uint32
	offset uint16
	size   int
}

func (d *latchDevice) Read(offset uint16, size int) uint32 {
	return d.last + uint32(offset)
}

func (d *latchDevice) Write(offset uint16, size int, v uint32) {
	d.last, d.offset, d.size = v, offset, size
}

func TestPortDevices_Routing(t *testing.T) {
	devs := NewPortDevices()
	latch := &latchDevice{}
	devs.Attach(0x3F8, 8, latch)

	io := NewIOMap(devs)
	io.SetPerm(0x3F8, 0x3FF, PermR|PermW)
	io.SetPerm(0x200, 0x201, PermR)
	require.True(t, io.Privileged())

	io.Out16(0x3FA, 0x4142)
	assert.Equal(t, uint32(0x4142), latch.last)
	assert.Equal(t, uint16(2), latch.offset)
	assert.Equal(t, 2, latch.size)

	assert.Equal(t, byte(0x43), io.In8(0x3F9))
	assert.Equal(t, uint16(0xFFFF), io.In16(0x200), "unclaimed ports float")
}
