// trace.go - Instruction, register, data and port tracing
//
// Trace lines go to the CPU's LogBuffer; nothing is written when no buffer
// is configured.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// TraceFlags select which events are logged.
type TraceFlags uint32

const (
	TraceCode TraceFlags = 1 << iota // each executed instruction
	TraceRegs                        // register file before each instruction
	TraceData                        // memory reads and writes
	TraceAcc                         // segment limit checks
	TraceIO                          // port accesses
	TraceInts                        // interrupt and fault delivery

	TraceAll = TraceCode | TraceRegs | TraceData | TraceAcc | TraceIO | TraceInts
)

var traceNames = map[string]TraceFlags{
	"code": TraceCode,
	"regs": TraceRegs,
	"data": TraceData,
	"acc":  TraceAcc,
	"io":   TraceIO,
	"ints": TraceInts,
	"all":  TraceAll,
}

// ParseTraceFlags converts names like "code" or "io" into flags.
func ParseTraceFlags(names []string) (TraceFlags, error) {
	var f TraceFlags
	for _, n := range names {
		v, ok := traceNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("trace flag %q: %w", n, ErrUnknownFlag)
		}
		f |= v
	}
	return f, nil
}

// SetTrace changes the active trace flags.
func (c *CPU) SetTrace(f TraceFlags) { c.trace = f }

// Trace returns the active trace flags.
func (c *CPU) Trace() TraceFlags { return c.trace }

func (c *CPU) logRegs() {
	c.logf("eax %08x  ebx %08x  ecx %08x  edx %08x\n", c.EAX, c.EBX, c.ECX, c.EDX)
	c.logf("esi %08x  edi %08x  ebp %08x  esp %08x\n", c.ESI, c.EDI, c.EBP, c.ESP)
	c.logf("cs %04x  ss %04x  ds %04x  es %04x  fs %04x  gs %04x  eip %08x  efl %08x\n",
		c.Seg[SegCS].Sel, c.Seg[SegSS].Sel, c.Seg[SegDS].Sel,
		c.Seg[SegES].Sel, c.Seg[SegFS].Sel, c.Seg[SegGS].Sel, c.EIP, c.Flags)
}

// logCode writes the instruction just executed: counter, address, bytes and
// disassembly.
func (c *CPU) logCode() {
	bits := 16
	if c.code32() {
		bits = 32
	}
	code := c.instr[:c.instrLen]
	c.logf("%08x: %04x:%08x %-24s %s\n", c.TSC, c.savedCS, c.savedEIP,
		hexBytes(code), disasm(code, c.savedEIP, bits))
}

func hexBytes(code []byte) string {
	parts := make([]string, len(code))
	for i, b := range code {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

func disasm(code []byte, pc uint32, bits int) string {
	inst, err := x86asm.Decode(code, bits)
	if !decoded(inst, err) {
		return "(bad)"
	}
	return strings.ToLower(x86asm.IntelSyntax(inst, uint64(pc), nil))
}

// decoded reports whether Decode produced a real instruction. Truncated or
// prefix-only input can come back without an error but with no opcode.
func decoded(inst x86asm.Inst, err error) bool {
	return err == nil && inst.Len > 0 && inst.Op != 0
}

// DisasmLine is one decoded instruction of a static listing.
type DisasmLine struct {
	Addr  uint32
	Bytes []byte
	Text  string
}

func (l DisasmLine) String() string {
	return fmt.Sprintf("%08x: %-24s %s", l.Addr, hexBytes(l.Bytes), l.Text)
}

// Disassemble decodes up to n instructions from code, which is loaded at
// addr. Undecodable bytes are emitted as single "db" lines. bits is 16 or 32.
func Disassemble(code []byte, addr uint32, bits, n int) []DisasmLine {
	var out []DisasmLine
	for ofs := 0; ofs < len(code) && len(out) < n; {
		inst, err := x86asm.Decode(code[ofs:], bits)
		if !decoded(inst, err) {
			out = append(out, DisasmLine{
				Addr:  addr + uint32(ofs),
				Bytes: code[ofs : ofs+1],
				Text:  fmt.Sprintf("db 0x%02x", code[ofs]),
			})
			ofs++
			continue
		}
		pc := addr + uint32(ofs)
		out = append(out, DisasmLine{
			Addr:  pc,
			Bytes: code[ofs : ofs+inst.Len],
			Text:  strings.ToLower(x86asm.IntelSyntax(inst, uint64(pc), nil)),
		})
		ofs += inst.Len
	}
	return out
}

// DisassembleAt decodes n instructions from guest memory at seg:ofs using
// the current code size. Reads go through Peek so access history is left
// untouched.
func (c *CPU) DisassembleAt(seg SegReg, ofs uint32, n int) []DisasmLine {
	bits := 16
	if c.Seg[SegCS].Big() {
		bits = 32
	}
	base := c.Seg[seg].Base
	code := make([]byte, 16*n)
	for i := range code {
		code[i], _ = c.Mem.Peek(base + ofs + uint32(i))
	}
	return Disassemble(code, ofs, bits, n)
}
