// io_perm.go - Port I/O permission map
//
// Uses the same permission/history encoding as guest memory, one entry per
// port. Granted accesses are forwarded to a PortBackend.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

const ioPorts = 0x10000

// PortBackend performs the actual port access once the map has granted it.
type PortBackend interface {
	In8(port uint16) byte
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out8(port uint16, v byte)
	Out16(port uint16, v uint16)
	Out32(port uint16, v uint32)
}

// privilegeChecker is implemented by backends whose access depends on host
// privilege.
type privilegeChecker interface {
	Privileged() bool
}

// IOMap gates guest port I/O.
type IOMap struct {
	attr     [ioPorts]byte
	inStats  [ioPorts]uint32
	outStats [ioPorts]uint32

	backend PortBackend
	iopl    bool
	invalid bool
}

// NewIOMap returns a map with no port permitted. backend may be nil, in
// which case all I/O floats.
func NewIOMap(backend PortBackend) *IOMap {
	return &IOMap{backend: backend}
}

// Backend returns the attached backend.
func (io *IOMap) Backend() PortBackend { return io.backend }

// SetBackend replaces the backend and re-evaluates the privilege state.
func (io *IOMap) SetBackend(b PortBackend) {
	io.backend = b
	io.updatePrivilege()
}

// SetPerm sets the permission bits of ports [start, end], keeping history.
func (io *IOMap) SetPerm(start, end uint16, perm byte) {
	if end < start {
		return
	}
	perm &= PermR | PermW
	for p := int(start); p <= int(end); p++ {
		io.attr[p] = io.attr[p]&^permMask | perm
	}
	io.updatePrivilege()
}

func (io *IOMap) updatePrivilege() {
	io.iopl = false
	if io.backend == nil {
		return
	}
	if pc, ok := io.backend.(privilegeChecker); ok && !pc.Privileged() {
		return
	}
	for _, a := range io.attr {
		if a&(PermR|PermW) != 0 {
			io.iopl = true
			return
		}
	}
}

// Privileged reports whether any port I/O can reach the backend.
func (io *IOMap) Privileged() bool { return io.iopl }

// Attr returns the attribute byte of a port.
func (io *IOMap) Attr(port uint16) byte { return io.attr[port] }

// Perm returns just the permission bits for port.
func (io *IOMap) Perm(port uint16) byte { return io.attr[port] & permMask }

// Stats returns how many granted reads and writes touched the port.
func (io *IOMap) Stats(port uint16) (in, out uint32) {
	return io.inStats[port], io.outStats[port]
}

// Invalid reports whether a denied port access happened.
func (io *IOMap) Invalid() bool { return io.invalid }

// ResetAccessStats clears counters, history and the invalid flag.
func (io *IOMap) ResetAccessStats() {
	for i := range io.attr {
		io.attr[i] &= permMask
	}
	io.inStats = [ioPorts]uint32{}
	io.outStats = [ioPorts]uint32{}
	io.invalid = false
}

// Clone copies permissions and statistics. The backend is shared.
func (io *IOMap) Clone() *IOMap {
	n := *io
	return &n
}

// granted checks that every port of an n byte access has perm and that the
// span does not run past 0xFFFF.
func (io *IOMap) granted(port uint16, n int, perm byte) bool {
	if int(port)+n > ioPorts {
		return false
	}
	for i := 0; i < n; i++ {
		if io.attr[int(port)+i]&perm == 0 {
			return false
		}
	}
	return true
}

func (io *IOMap) account(port uint16, n int, hist byte, stats *[ioPorts]uint32) {
	for i := 0; i < n; i++ {
		io.attr[int(port)+i] |= hist
		stats[int(port)+i]++
	}
}

func (io *IOMap) deny(port uint16) {
	io.attr[port] |= AccInvalid
	io.invalid = true
}

func (io *IOMap) In8(port uint16) byte {
	if !io.iopl {
		return 0xFF
	}
	if !io.granted(port, 1, PermR) {
		io.deny(port)
		return 0xFF
	}
	io.account(port, 1, AccR, &io.inStats)
	return io.backend.In8(port)
}

func (io *IOMap) In16(port uint16) uint16 {
	if !io.iopl {
		return 0xFFFF
	}
	if io.granted(port, 2, PermR) {
		io.account(port, 2, AccR, &io.inStats)
		return io.backend.In16(port)
	}
	return uint16(io.In8(port)) | uint16(io.In8(port+1))<<8
}

func (io *IOMap) In32(port uint16) uint32 {
	if !io.iopl {
		return 0xFFFFFFFF
	}
	if io.granted(port, 4, PermR) {
		io.account(port, 4, AccR, &io.inStats)
		return io.backend.In32(port)
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(io.In8(port+uint16(i))) << (8 * i)
	}
	return v
}

func (io *IOMap) Out8(port uint16, v byte) {
	if !io.iopl {
		return
	}
	if !io.granted(port, 1, PermW) {
		io.deny(port)
		return
	}
	io.account(port, 1, AccW, &io.outStats)
	io.backend.Out8(port, v)
}

func (io *IOMap) Out16(port uint16, v uint16) {
	if !io.iopl {
		return
	}
	if io.granted(port, 2, PermW) {
		io.account(port, 2, AccW, &io.outStats)
		io.backend.Out16(port, v)
		return
	}
	io.Out8(port, byte(v))
	io.Out8(port+1, byte(v>>8))
}

func (io *IOMap) Out32(port uint16, v uint32) {
	if !io.iopl {
		return
	}
	if io.granted(port, 4, PermW) {
		io.account(port, 4, AccW, &io.outStats)
		io.backend.Out32(port, v)
		return
	}
	for i := 0; i < 4; i++ {
		io.Out8(port+uint16(i), byte(v>>(8*i)))
	}
}

// inN and outN move size bytes (1, 2 or 4).
func (io *IOMap) inN(port uint16, size int) uint32 {
	switch size {
	case 1:
		return uint32(io.In8(port))
	case 2:
		return uint32(io.In16(port))
	}
	return io.In32(port)
}

func (io *IOMap) outN(port uint16, size int, v uint32) {
	switch size {
	case 1:
		io.Out8(port, byte(v))
	case 2:
		io.Out16(port, uint16(v))
	default:
		io.Out32(port, v)
	}
}

// -----------------------------------------------------------------------------
// Emulated devices
// -----------------------------------------------------------------------------

// PortDevice is an emulated device claiming a range of ports. offset is
// relative to the first claimed port; size is 1, 2 or 4.
type PortDevice interface {
	Read(offset uint16, size int) uint32
	Write(offset uint16, size int, v uint32)
}

type portClaim struct {
	base uint16
	dev  PortDevice
}

// PortDevices is a PortBackend that routes accesses to emulated devices.
// Unclaimed ports read as all ones and ignore writes.
type PortDevices struct {
	claims map[uint16]portClaim
}

func NewPortDevices() *PortDevices {
	return &PortDevices{claims: make(map[uint16]portClaim)}
}

// Attach claims ports [base, base+n) for dev.
func (d *PortDevices) Attach(base uint16, n int, dev PortDevice) {
	for i := 0; i < n && int(base)+i < ioPorts; i++ {
		d.claims[base+uint16(i)] = portClaim{base: base, dev: dev}
	}
}

func (d *PortDevices) read(port uint16, size int) uint32 {
	c, ok := d.claims[port]
	if !ok {
		return 0xFFFFFFFF >> (32 - 8*size)
	}
	return c.dev.Read(port-c.base, size)
}

func (d *PortDevices) write(port uint16, size int, v uint32) {
	if c, ok := d.claims[port]; ok {
		c.dev.Write(port-c.base, size, v)
	}
}

func (d *PortDevices) In8(port uint16) byte          { return byte(d.read(port, 1)) }
func (d *PortDevices) In16(port uint16) uint16       { return uint16(d.read(port, 2)) }
func (d *PortDevices) In32(port uint16) uint32       { return d.read(port, 4) }
func (d *PortDevices) Out8(port uint16, v byte)      { d.write(port, 1, uint32(v)) }
func (d *PortDevices) Out16(port uint16, v uint16)   { d.write(port, 2, uint32(v)) }
func (d *PortDevices) Out32(port uint16, v uint32)   { d.write(port, 4, v) }
