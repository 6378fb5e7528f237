// mem_perm.go - Permission-tracked sparse guest memory
//
// A 32-bit address is split 10/10/12 into directory, table and page
// offset. Tables and pages live in arenas and are referenced by index; a
// zero index means "not allocated yet". Every data byte has an attribute
// byte holding its permissions and access history.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"fmt"
)

// Permission bits
const (
	PermR = 1 << 0
	PermW = 1 << 1
	PermX = 1 << 2

	permMask = PermR | PermW | PermX
)

// Access history bits
const (
	AccR       = 1 << 4 // was read
	AccW       = 1 << 5 // was written
	AccX       = 1 << 6 // was executed
	AccInvalid = 1 << 7 // denied or uninitialized access

	accMask = AccR | AccW | AccX | AccInvalid
)

const (
	PageBits   = 12
	PageSize   = 1 << PageBits
	ptableBits = 10
	pdirBits   = 10

	pageMask   = PageSize - 1
	ptableSize = 1 << ptableBits
	pdirSize   = 1 << pdirBits
)

type memPage struct {
	data   []byte
	attr   [PageSize]byte
	mapped bool // data is caller-owned
}

type memTable struct {
	pages [ptableSize]int32 // index+1 into Memory.pages
}

// Memory is a sparse, lazily populated 4 GiB guest address space.
type Memory struct {
	defPerm byte

	dir    [pdirSize]int32 // index+1 into tables
	tables []memTable
	pages  []memPage

	invalid     bool
	deniedWrite bool
	deniedExec  bool
	selfModify  bool
}

// NewMemory returns an empty address space whose pages start with defPerm.
func NewMemory(defPerm byte) *Memory {
	return &Memory{defPerm: defPerm & permMask}
}

// DefaultPerm returns the permission new pages are created with.
func (m *Memory) DefaultPerm() byte { return m.defPerm }

// SetDefaultPerm changes the permission for pages allocated from now on.
func (m *Memory) SetDefaultPerm(perm byte) { m.defPerm = perm & permMask }

func splitAddr(addr uint32) (dir, table, ofs uint32) {
	return addr >> (32 - pdirBits), (addr >> PageBits) & (ptableSize - 1), addr & pageMask
}

// lookup returns the page holding addr, allocating directory entries and the
// page itself if create is set. Nil means absent.
func (m *Memory) lookup(addr uint32, create bool) *memPage {
	d, t, _ := splitAddr(addr)

	ti := m.dir[d]
	if ti == 0 {
		if !create {
			return nil
		}
		m.tables = append(m.tables, memTable{})
		ti = int32(len(m.tables))
		m.dir[d] = ti
	}
	table := &m.tables[ti-1]

	pi := table.pages[t]
	if pi == 0 {
		if !create {
			return nil
		}
		m.pages = append(m.pages, memPage{data: make([]byte, PageSize)})
		pi = int32(len(m.pages))
		table.pages[t] = pi
		p := &m.pages[pi-1]
		for i := range p.attr {
			p.attr[i] = m.defPerm
		}
	}
	return &m.pages[pi-1]
}

// Read8 reads one byte as a data access.
func (m *Memory) Read8(addr uint32) byte {
	p := m.lookup(addr, true)
	ofs := addr & pageMask
	a := &p.attr[ofs]

	if *a&PermR == 0 {
		*a |= AccInvalid
		m.invalid = true
		return 0xFF
	}
	*a |= AccR
	if *a&AccW == 0 {
		*a |= AccInvalid
		m.invalid = true
	}
	return p.data[ofs]
}

// Exec8 reads one byte as an instruction fetch that requires PermX.
func (m *Memory) Exec8(addr uint32) byte { return m.fetch8(addr, PermX) }

// Fetch8 reads one byte as an instruction fetch that only requires PermR.
// The byte is still recorded as executed.
func (m *Memory) Fetch8(addr uint32) byte { return m.fetch8(addr, PermR) }

func (m *Memory) fetch8(addr uint32, need byte) byte {
	p := m.lookup(addr, true)
	ofs := addr & pageMask
	a := &p.attr[ofs]

	if *a&need == 0 {
		*a |= AccInvalid
		m.invalid = true
		if need == PermX {
			m.deniedExec = true
		}
		return 0xFF
	}
	*a |= AccX
	if *a&AccW == 0 {
		*a |= AccInvalid
		m.invalid = true
	}
	return p.data[ofs]
}

// Write8 writes one byte as a data access. A denied write leaves the data
// untouched.
func (m *Memory) Write8(addr uint32, v byte) {
	p := m.lookup(addr, true)
	ofs := addr & pageMask
	a := &p.attr[ofs]

	if *a&PermW == 0 {
		*a |= AccInvalid
		m.invalid = true
		m.deniedWrite = true
		return
	}
	if *a&AccX != 0 {
		m.selfModify = true
	}
	*a |= AccW
	p.data[ofs] = v
}

func (m *Memory) Read16(addr uint32) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

func (m *Memory) Read32(addr uint32) uint32 {
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

func (m *Memory) Read64(addr uint32) uint64 {
	return uint64(m.Read32(addr)) | uint64(m.Read32(addr+4))<<32
}

func (m *Memory) Write16(addr uint32, v uint16) {
	m.Write8(addr, byte(v))
	m.Write8(addr+1, byte(v>>8))
}

func (m *Memory) Write32(addr uint32, v uint32) {
	m.Write16(addr, uint16(v))
	m.Write16(addr+2, uint16(v>>16))
}

func (m *Memory) Write64(addr uint32, v uint64) {
	m.Write32(addr, uint32(v))
	m.Write32(addr+4, uint32(v>>32))
}

// readN and writeN move size bytes (1, 2 or 4) little-endian.
func (m *Memory) readN(addr uint32, size int) uint32 {
	switch size {
	case 1:
		return uint32(m.Read8(addr))
	case 2:
		return uint32(m.Read16(addr))
	}
	return m.Read32(addr)
}

func (m *Memory) writeN(addr uint32, size int, v uint32) {
	switch size {
	case 1:
		m.Write8(addr, byte(v))
	case 2:
		m.Write16(addr, uint16(v))
	default:
		m.Write32(addr, v)
	}
}

// Peek returns the byte at addr without permission checks or history
// updates. ok is false if the page was never allocated.
func (m *Memory) Peek(addr uint32) (v byte, ok bool) {
	p := m.lookup(addr, false)
	if p == nil {
		return 0, false
	}
	return p.data[addr&pageMask], true
}

// Poke stores a byte on behalf of the host, ignoring permissions. The byte
// counts as initialized afterwards.
func (m *Memory) Poke(addr uint32, v byte) {
	p := m.lookup(addr, true)
	ofs := addr & pageMask
	p.data[ofs] = v
	p.attr[ofs] |= AccW
}

// Load copies data into guest memory starting at addr via Poke.
func (m *Memory) Load(addr uint32, data []byte) {
	for i, b := range data {
		m.Poke(addr+uint32(i), b)
	}
}

// Attr returns the attribute byte for addr. Unallocated memory reports the
// default permission with no history.
func (m *Memory) Attr(addr uint32) byte {
	p := m.lookup(addr, false)
	if p == nil {
		return m.defPerm
	}
	return p.attr[addr&pageMask]
}

// Perm returns just the permission bits for addr.
func (m *Memory) Perm(addr uint32) byte { return m.Attr(addr) & permMask }

// SetPerm replaces the permission bits of every byte in [start, end],
// keeping access history.
func (m *Memory) SetPerm(start, end uint32, perm byte) {
	if end < start {
		return
	}
	perm &= permMask
	for addr := start; ; addr++ {
		p := m.lookup(addr, true)
		a := &p.attr[addr&pageMask]
		*a = *a&^permMask | perm
		if addr == end {
			break
		}
	}
}

// MapPage backs the page at addr with buf, which must be exactly one page.
// The page gets the default permission and is treated as initialized.
func (m *Memory) MapPage(addr uint32, buf []byte) error {
	if addr&pageMask != 0 {
		return fmt.Errorf("map page 0x%08x: %w", addr, ErrPageAlignment)
	}
	if len(buf) != PageSize {
		return fmt.Errorf("map page 0x%08x (%d bytes): %w", addr, len(buf), ErrPageSize)
	}
	p := m.lookup(addr, true)
	p.data = buf
	p.mapped = true
	for i := range p.attr {
		p.attr[i] = m.defPerm | AccW
	}
	return nil
}

// Invalid reports whether any access since the last ClearInvalid was denied
// or touched uninitialized memory.
func (m *Memory) Invalid() bool { return m.invalid }

// ClearInvalid resets all session invalid-access flags.
func (m *Memory) ClearInvalid() {
	m.invalid = false
	m.deniedWrite = false
	m.deniedExec = false
	m.selfModify = false
}

// ResetAccessStats clears read/execute history and invalid marks on every
// allocated byte. Written bits stay so initialized data remains initialized.
func (m *Memory) ResetAccessStats() {
	for i := range m.pages {
		p := &m.pages[i]
		for j := range p.attr {
			p.attr[j] &^= AccR | AccX | AccInvalid
		}
	}
	m.ClearInvalid()
}

// PageInfo describes one allocated page.
type PageInfo struct {
	Addr   uint32
	Mapped bool
}

// Pages lists allocated pages in address order.
func (m *Memory) Pages() []PageInfo {
	var out []PageInfo
	for d, ti := range m.dir {
		if ti == 0 {
			continue
		}
		for t, pi := range m.tables[ti-1].pages {
			if pi == 0 {
				continue
			}
			out = append(out, PageInfo{
				Addr:   uint32(d)<<(32-pdirBits) | uint32(t)<<PageBits,
				Mapped: m.pages[pi-1].mapped,
			})
		}
	}
	return out
}

// Clone makes a deep copy. Mapped pages are copied into private storage.
func (m *Memory) Clone() *Memory {
	n := &Memory{
		defPerm:     m.defPerm,
		dir:         m.dir,
		tables:      append([]memTable(nil), m.tables...),
		pages:       make([]memPage, len(m.pages)),
		invalid:     m.invalid,
		deniedWrite: m.deniedWrite,
		deniedExec:  m.deniedExec,
		selfModify:  m.selfModify,
	}
	for i := range m.pages {
		n.pages[i] = m.pages[i]
		n.pages[i].data = append([]byte(nil), m.pages[i].data...)
		n.pages[i].mapped = false
	}
	return n
}
