// cpu_x86.go - x86 interpreter context (real mode + partial protected mode)
//
// This implements the CPU side of the interpreter:
// - 32-bit register file with 8/16-bit views
// - Segment registers with cached base/limit/access rights
// - Mode bits recomputed per instruction from CS/SS descriptors
// - Pending synchronous interrupt slot and instruction counter
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"github.com/sirupsen/logrus"
)

// SegReg indexes the segment register file.
type SegReg int

const (
	SegES SegReg = iota
	SegCS
	SegSS
	SegDS
	SegFS
	SegGS
	segCount

	segNone SegReg = -1
)

var segNames = [segCount]string{"es", "cs", "ss", "ds", "fs", "gs"}

func (s SegReg) String() string {
	if s < 0 || s >= segCount {
		return "--"
	}
	return segNames[s]
}

// Segment is a segment register together with its descriptor cache.
type Segment struct {
	Sel   uint16
	Base  uint32
	Limit uint32
	Acc   uint16
}

// Access-rights bits as stored in Segment.Acc (descriptor bytes 5 and 6, nibble-packed).
const (
	AccAccessed = 1 << 0
	AccRW       = 1 << 1
	AccExec     = 1 << 3
	AccS        = 1 << 4
	AccDPL      = 3 << 5
	AccP        = 1 << 7
	AccD        = 1 << 10
	AccG        = 1 << 11
)

// Big reports whether the descriptor's default-size bit is set.
func (s Segment) Big() bool { return s.Acc&AccD != 0 }

// DescTable is a GDTR/IDTR style base+limit pair.
type DescTable struct {
	Base  uint32
	Limit uint32
}

// Flag bits
const (
	FlagCF   = 1 << 0
	flagOne  = 1 << 1 // always set
	FlagPF   = 1 << 2
	FlagAF   = 1 << 4
	FlagZF   = 1 << 6
	FlagSF   = 1 << 7
	FlagTF   = 1 << 8
	FlagIF   = 1 << 9
	FlagDF   = 1 << 10
	FlagOF   = 1 << 11
	FlagIOPL = 3 << 12
	FlagNT   = 1 << 14
)

// CR0 protection enable
const cr0PE = 1

// Per-instruction mode bits
const (
	modeSegDSSS = 1 << iota // effective address is stack based
	modeRepe
	modeRepne
	modeData32
	modeAddr32
	modeStack32
	modeCode32
	modeHalted
)

const maxInstrLen = 32

type pendingIntr struct {
	nr      byte
	typ     IntrType
	errCode uint32
}

// OpHandler executes one opcode. Further instruction bytes are fetched by the
// handler itself.
type OpHandler func(c *CPU, op byte)

// CodeCheckFunc runs before each instruction fetch; returning true stops the loop.
type CodeCheckFunc func(c *CPU) bool

// CPU is one independent interpreter instance.
type CPU struct {
	EAX uint32
	EBX uint32
	ECX uint32
	EDX uint32
	ESI uint32
	EDI uint32
	EBP uint32
	ESP uint32
	EIP uint32

	Flags uint32

	Seg [segCount]Segment
	LDT Segment
	TR  Segment
	GDT DescTable
	IDT DescTable
	CR  [8]uint32
	DR  [8]uint32

	// MaxInstr caps TSC when running with RunMaxInstr.
	MaxInstr uint64
	// TSC counts retired instructions.
	TSC uint64

	Mem *Memory
	IO  *IOMap

	mode       uint32
	defaultSeg SegReg
	savedCS    uint16
	savedEIP   uint32
	intr       pendingIntr
	instr      [maxInstrLen]byte
	instrLen   int
	runFlags   RunFlags
	stop       StopReason
	stopReq    uint32 // set atomically by Stop

	baseOps     [256]OpHandler
	extendedOps [256]OpHandler
	intrTable   [256]IntrHandler
	codeCheck   CodeCheckFunc
	intrStats   [256]uint64

	log    logrus.FieldLogger
	trace  TraceFlags
	logBuf *LogBuffer

	// Order: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	regs32 [8]*uint32
}

// Option configures a CPU at construction time.
type Option func(*CPU)

// WithMemory attaches an existing memory object.
func WithMemory(m *Memory) Option { return func(c *CPU) { c.Mem = m } }

// WithIOMap attaches an existing port map.
func WithIOMap(io *IOMap) Option { return func(c *CPU) { c.IO = io } }

// WithLogger routes diagnostics to l.
func WithLogger(l logrus.FieldLogger) Option { return func(c *CPU) { c.log = l } }

// WithLogBuffer sets up the trace log buffer.
func WithLogBuffer(size int, flush FlushFunc) Option {
	return func(c *CPU) { c.logBuf = NewLogBuffer(size, flush) }
}

// WithTrace selects which events are written to the log buffer.
func WithTrace(f TraceFlags) Option { return func(c *CPU) { c.trace = f } }

// WithCodeCheck installs the per-instruction code check hook.
func WithCodeCheck(f CodeCheckFunc) Option { return func(c *CPU) { c.codeCheck = f } }

// New creates an interpreter in power-on state. Without options it gets
// private RWX memory and a port map with no backend.
func New(opts ...Option) *CPU {
	c := &CPU{}
	for _, o := range opts {
		o(c)
	}
	if c.Mem == nil {
		c.Mem = NewMemory(PermR | PermW | PermX)
	}
	if c.IO == nil {
		c.IO = NewIOMap(nil)
	}
	if c.log == nil {
		c.log = defaultLogger()
	}
	c.bindRegs()
	c.initBaseOps()
	c.initExtendedOps()
	c.Reset()
	return c
}

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func (c *CPU) bindRegs() {
	c.regs32 = [8]*uint32{
		&c.EAX, &c.ECX, &c.EDX, &c.EBX,
		&c.ESP, &c.EBP, &c.ESI, &c.EDI,
	}
}

// Reset restores the architectural power-on state. Memory and port
// permissions are left alone.
func (c *CPU) Reset() {
	c.EAX, c.EBX, c.ECX, c.EDX = 0, 0, 0, 0
	c.ESI, c.EDI, c.EBP, c.ESP = 0, 0, 0, 0
	c.Flags = flagOne

	for i := range c.Seg {
		c.Seg[i] = Segment{Limit: 0xFFFF, Acc: 0x93}
	}
	c.Seg[SegCS] = Segment{Sel: 0xF000, Base: 0xF0000, Limit: 0xFFFF, Acc: 0x9B}
	c.EIP = 0xFFF0

	c.LDT = Segment{}
	c.TR = Segment{}
	c.GDT = DescTable{Limit: 0xFFFF}
	c.IDT = DescTable{Limit: 0xFFFF}
	c.CR = [8]uint32{}
	c.DR = [8]uint32{}

	c.mode = 0
	c.defaultSeg = segNone
	c.intr = pendingIntr{}
	c.instrLen = 0
	c.TSC = 0
	c.stop = StopNone
	c.intrStats = [256]uint64{}
}

// Clone returns an independent copy of the interpreter, including memory and
// port permissions. Hooks are shared; the log buffer is not.
func (c *CPU) Clone() *CPU {
	n := *c
	n.bindRegs()
	n.Mem = c.Mem.Clone()
	n.IO = c.IO.Clone()
	n.logBuf = nil
	return &n
}

// Halted reports whether the loop has stopped on its own.
func (c *CPU) Halted() bool { return c.mode&modeHalted != 0 }

// StopReason returns why the last Run or Step returned.
func (c *CPU) StopReason() StopReason { return c.stop }

// ProtectedMode reports CR0.PE.
func (c *CPU) ProtectedMode() bool { return c.CR[0]&cr0PE != 0 }

func (c *CPU) data32() bool  { return c.mode&modeData32 != 0 }
func (c *CPU) addr32() bool  { return c.mode&modeAddr32 != 0 }
func (c *CPU) stack32() bool { return c.mode&modeStack32 != 0 }
func (c *CPU) code32() bool  { return c.mode&modeCode32 != 0 }

// opSize returns the operand size in bytes for word-sized instructions.
func (c *CPU) opSize() int {
	if c.data32() {
		return 4
	}
	return 2
}

// -----------------------------------------------------------------------------
// Register views
// -----------------------------------------------------------------------------

func (c *CPU) AX() uint16     { return uint16(c.EAX) }
func (c *CPU) SetAX(v uint16) { c.EAX = c.EAX&^0xFFFF | uint32(v) }
func (c *CPU) AL() byte       { return byte(c.EAX) }
func (c *CPU) SetAL(v byte)   { c.EAX = c.EAX&^0xFF | uint32(v) }
func (c *CPU) AH() byte       { return byte(c.EAX >> 8) }
func (c *CPU) SetAH(v byte)   { c.EAX = c.EAX&^0xFF00 | uint32(v)<<8 }

func (c *CPU) BX() uint16     { return uint16(c.EBX) }
func (c *CPU) SetBX(v uint16) { c.EBX = c.EBX&^0xFFFF | uint32(v) }
func (c *CPU) BL() byte       { return byte(c.EBX) }
func (c *CPU) SetBL(v byte)   { c.EBX = c.EBX&^0xFF | uint32(v) }
func (c *CPU) BH() byte       { return byte(c.EBX >> 8) }
func (c *CPU) SetBH(v byte)   { c.EBX = c.EBX&^0xFF00 | uint32(v)<<8 }
func (c *CPU) CX() uint16     { return uint16(c.ECX) }
func (c *CPU) SetCX(v uint16) { c.ECX = c.ECX&^0xFFFF | uint32(v) }
func (c *CPU) CL() byte       { return byte(c.ECX) }
func (c *CPU) DX() uint16     { return uint16(c.EDX) }
func (c *CPU) SetDX(v uint16) { c.EDX = c.EDX&^0xFFFF | uint32(v) }

func (c *CPU) SI() uint16     { return uint16(c.ESI) }
func (c *CPU) SetSI(v uint16) { c.ESI = c.ESI&^0xFFFF | uint32(v) }
func (c *CPU) DI() uint16     { return uint16(c.EDI) }
func (c *CPU) SetDI(v uint16) { c.EDI = c.EDI&^0xFFFF | uint32(v) }
func (c *CPU) BP() uint16     { return uint16(c.EBP) }
func (c *CPU) SetBP(v uint16) { c.EBP = c.EBP&^0xFFFF | uint32(v) }
func (c *CPU) SP() uint16     { return uint16(c.ESP) }
func (c *CPU) SetSP(v uint16) { c.ESP = c.ESP&^0xFFFF | uint32(v) }
func (c *CPU) IP() uint16     { return uint16(c.EIP) }
func (c *CPU) SetIP(v uint16) { c.EIP = c.EIP&^0xFFFF | uint32(v) }

// CS returns the code segment selector.
func (c *CPU) CS() uint16 { return c.Seg[SegCS].Sel }

// getReg8 returns AL, CL, DL, BL, AH, CH, DH, BH by index.
func (c *CPU) getReg8(idx byte) byte {
	r := *c.regs32[idx&3]
	if idx&4 != 0 {
		return byte(r >> 8)
	}
	return byte(r)
}

func (c *CPU) setReg8(idx byte, v byte) {
	r := c.regs32[idx&3]
	if idx&4 != 0 {
		*r = *r&^0xFF00 | uint32(v)<<8
	} else {
		*r = *r&^0xFF | uint32(v)
	}
}

func (c *CPU) getReg16(idx byte) uint16 { return uint16(*c.regs32[idx&7]) }

func (c *CPU) setReg16(idx byte, v uint16) {
	r := c.regs32[idx&7]
	*r = *r&^0xFFFF | uint32(v)
}

func (c *CPU) getReg32(idx byte) uint32    { return *c.regs32[idx&7] }
func (c *CPU) setReg32(idx byte, v uint32) { *c.regs32[idx&7] = v }

// getReg reads a register of the given size (1, 2 or 4 bytes).
func (c *CPU) getReg(idx byte, size int) uint32 {
	switch size {
	case 1:
		return uint32(c.getReg8(idx))
	case 2:
		return uint32(c.getReg16(idx))
	}
	return c.getReg32(idx)
}

func (c *CPU) setReg(idx byte, size int, v uint32) {
	switch size {
	case 1:
		c.setReg8(idx, byte(v))
	case 2:
		c.setReg16(idx, uint16(v))
	default:
		c.setReg32(idx, v)
	}
}

// -----------------------------------------------------------------------------
// Flags
// -----------------------------------------------------------------------------

func (c *CPU) getFlag(flag uint32) bool { return c.Flags&flag != 0 }

func (c *CPU) setFlag(flag uint32, set bool) {
	if set {
		c.Flags |= flag
	} else {
		c.Flags &^= flag
	}
}

func (c *CPU) CF() bool { return c.getFlag(FlagCF) }
func (c *CPU) ZF() bool { return c.getFlag(FlagZF) }
func (c *CPU) SF() bool { return c.getFlag(FlagSF) }
func (c *CPU) OF() bool { return c.getFlag(FlagOF) }
func (c *CPU) PF() bool { return c.getFlag(FlagPF) }
func (c *CPU) DF() bool { return c.getFlag(FlagDF) }
func (c *CPU) IF() bool { return c.getFlag(FlagIF) }
