// dump.go - Formatted machine state dump
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"fmt"
	"io"
	"strings"

	"github.com/xlab/treeprint"
)

// DumpFlags select the sections written by Dump.
type DumpFlags uint32

const (
	DumpRegs     DumpFlags = 1 << iota // register file and descriptor caches
	DumpMem                            // all allocated memory
	DumpAccMem                         // only bytes with access history
	DumpInvMem                         // only bytes marked invalid
	DumpAttr                           // show attribute letters per byte
	DumpASCII                          // append an ASCII column
	DumpIO                             // per-port access counters
	DumpInts                           // per-vector delivery counters
	DumpTime                           // instruction counter
	DumpPageTree                       // page directory/table tree
)

var dumpNames = map[string]DumpFlags{
	"regs":   DumpRegs,
	"mem":    DumpMem,
	"accmem": DumpAccMem,
	"invmem": DumpInvMem,
	"attr":   DumpAttr,
	"ascii":  DumpASCII,
	"io":     DumpIO,
	"ints":   DumpInts,
	"time":   DumpTime,
	"tree":   DumpPageTree,
}

// ParseDumpFlags converts names like "regs" or "accmem" into flags.
func ParseDumpFlags(names []string) (DumpFlags, error) {
	var f DumpFlags
	for _, n := range names {
		v, ok := dumpNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("dump flag %q: %w", n, ErrUnknownFlag)
		}
		f |= v
	}
	return f, nil
}

// Dump writes the selected state sections to w.
func (c *CPU) Dump(w io.Writer, flags DumpFlags) {
	if flags&DumpTime != 0 {
		fmt.Fprintf(w, "time: %d instructions\n", c.TSC)
	}
	if flags&(DumpMem|DumpAccMem|DumpInvMem) != 0 {
		c.dumpMem(w, flags)
	}
	if flags&DumpPageTree != 0 {
		fmt.Fprint(w, c.Mem.PageTree().String())
	}
	if flags&DumpIO != 0 {
		c.dumpIO(w)
	}
	if flags&DumpInts != 0 {
		c.dumpInts(w)
	}
	if flags&DumpRegs != 0 {
		c.dumpRegs(w)
	}
}

// attrLetters renders an attribute byte: a permitted access is a lowercase
// letter, upper case once it happened, '-' if not permitted; '!' marks an
// invalid access.
func attrLetters(a byte) string {
	var b [4]byte
	for i, l := range [3]byte{'r', 'w', 'x'} {
		switch {
		case a&(AccR<<i) != 0:
			b[i] = l - 'a' + 'A'
		case a&(PermR<<i) != 0:
			b[i] = l
		default:
			b[i] = '-'
		}
	}
	b[3] = ' '
	if a&AccInvalid != 0 {
		b[3] = '!'
	}
	return string(b[:])
}

func (c *CPU) dumpMem(w io.Writer, flags DumpFlags) {
	show := func(a byte) bool {
		switch {
		case flags&DumpMem != 0:
			return true
		case flags&DumpInvMem != 0 && a&AccInvalid != 0:
			return true
		case flags&DumpAccMem != 0 && a&(AccR|AccW|AccX) != 0:
			return true
		}
		return false
	}

	row := uint32(16)
	if flags&DumpAttr != 0 {
		row = 8
	}

	fmt.Fprintln(w, "memory:")
	for _, p := range c.Mem.Pages() {
		for ofs := uint32(0); ofs < PageSize; ofs += row {
			base := p.Addr + ofs
			var hex, ascii strings.Builder
			hit := false
			for i := uint32(0); i < row; i++ {
				addr := base + i
				a := c.Mem.Attr(addr)
				v, _ := c.Mem.Peek(addr)
				if !show(a) {
					hex.WriteString("   ")
					if flags&DumpAttr != 0 {
						hex.WriteString("     ")
					}
					ascii.WriteByte(' ')
					continue
				}
				hit = true
				fmt.Fprintf(&hex, " %02x", v)
				if flags&DumpAttr != 0 {
					hex.WriteString(" " + attrLetters(a))
				}
				if v >= 0x20 && v < 0x7F {
					ascii.WriteByte(v)
				} else {
					ascii.WriteByte('.')
				}
			}
			if !hit {
				continue
			}
			line := fmt.Sprintf("  %08x:%s", base, hex.String())
			if flags&DumpASCII != 0 {
				line += "  " + ascii.String()
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
}

func (c *CPU) dumpIO(w io.Writer) {
	fmt.Fprintln(w, "io:")
	for port := 0; port < ioPorts; port++ {
		in, out := c.IO.Stats(uint16(port))
		if in == 0 && out == 0 {
			continue
		}
		fmt.Fprintf(w, "  %04x: in %d out %d %s\n", port, in, out, attrLetters(c.IO.Attr(uint16(port))))
	}
}

func (c *CPU) dumpInts(w io.Writer) {
	fmt.Fprintln(w, "interrupts:")
	for nr, n := range c.intrStats {
		if n != 0 {
			fmt.Fprintf(w, "  %02x: %d\n", nr, n)
		}
	}
}

// flagLetters renders the arithmetic and control flags, upper case when set.
func flagLetters(f uint32) string {
	names := []struct {
		bit uint32
		l   byte
	}{
		{FlagOF, 'o'}, {FlagDF, 'd'}, {FlagIF, 'i'}, {FlagTF, 't'},
		{FlagSF, 's'}, {FlagZF, 'z'}, {FlagAF, 'a'}, {FlagPF, 'p'}, {FlagCF, 'c'},
	}
	b := make([]byte, len(names))
	for i, n := range names {
		b[i] = n.l
		if f&n.bit != 0 {
			b[i] = n.l - 'a' + 'A'
		}
	}
	return string(b)
}

func (c *CPU) dumpRegs(w io.Writer) {
	fmt.Fprintln(w, "registers:")
	fmt.Fprintf(w, "  eax %08x  ebx %08x  ecx %08x  edx %08x\n", c.EAX, c.EBX, c.ECX, c.EDX)
	fmt.Fprintf(w, "  esi %08x  edi %08x  ebp %08x  esp %08x\n", c.ESI, c.EDI, c.EBP, c.ESP)
	fmt.Fprintf(w, "  eip %08x  eflags %08x %s\n", c.EIP, c.Flags, flagLetters(c.Flags))
	for s := SegES; s < segCount; s++ {
		seg := c.Seg[s]
		fmt.Fprintf(w, "  %s %04x base %08x limit %08x acc %04x\n", s, seg.Sel, seg.Base, seg.Limit, seg.Acc)
	}
	fmt.Fprintf(w, "  ldt %04x base %08x limit %08x acc %04x\n", c.LDT.Sel, c.LDT.Base, c.LDT.Limit, c.LDT.Acc)
	fmt.Fprintf(w, "  tr %04x base %08x limit %08x acc %04x\n", c.TR.Sel, c.TR.Base, c.TR.Limit, c.TR.Acc)
	fmt.Fprintf(w, "  gdt base %08x limit %08x  idt base %08x limit %08x\n", c.GDT.Base, c.GDT.Limit, c.IDT.Base, c.IDT.Limit)
	fmt.Fprintf(w, "  cr0 %08x cr2 %08x cr3 %08x cr4 %08x\n", c.CR[0], c.CR[2], c.CR[3], c.CR[4])
	fmt.Fprintf(w, "  dr0 %08x dr1 %08x dr2 %08x dr3 %08x dr6 %08x dr7 %08x\n",
		c.DR[0], c.DR[1], c.DR[2], c.DR[3], c.DR[6], c.DR[7])
}

// PageTree renders the allocated pages grouped by page directory entry.
func (m *Memory) PageTree() treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("memory (default %s)", strings.TrimSpace(attrLetters(m.defPerm))))

	var table treeprint.Tree
	lastDir := -1
	for _, p := range m.Pages() {
		d := int(p.Addr >> (32 - pdirBits))
		t := int(p.Addr>>PageBits) & (1<<ptableBits - 1)
		if d != lastDir {
			table = tree.AddBranch(fmt.Sprintf("dir %03x", d))
			lastDir = d
		}
		kind := "private"
		if p.Mapped {
			kind = "mapped"
		}
		table.AddNode(fmt.Sprintf("%03x: %08x %s", t, p.Addr, kind))
	}
	return tree
}
