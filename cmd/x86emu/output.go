// output.go - Colored terminal output helpers
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/intuitionamiga/x86emu"
	"golang.org/x/term"
)

var stdout io.Writer = os.Stdout

var (
	colorOK      = color.New(color.FgGreen, color.Bold)
	colorFault   = color.New(color.FgRed, color.Bold)
	colorAddr    = color.New(color.FgCyan)
	colorChanged = color.New(color.FgYellow, color.Bold)
)

// setupColor disables color when asked to or when stdout is not a terminal.
func setupColor(noColor bool) {
	if noColor || !term.IsTerminal(int(os.Stdout.Fd())) {
		color.NoColor = true
		return
	}
	stdout = color.Output
}

// stopColor picks the color a stop reason is shown in.
func stopColor(r x86emu.StopReason) *color.Color {
	if r.Fault() {
		return colorFault
	}
	return colorOK
}

// printStop writes "stop: <reason> at cs:eip after n instructions".
func printStop(w io.Writer, cpu *x86emu.CPU, r x86emu.StopReason) {
	fmt.Fprintf(w, "stop: %s at %s after %d instructions\n",
		stopColor(r).Sprint(r), colorAddr.Sprint(csip(cpu)), cpu.TSC)
}

func csip(cpu *x86emu.CPU) string {
	return fmt.Sprintf("%04x:%08x", cpu.CS(), cpu.EIP)
}

// printRegs writes the general and segment registers four to a line,
// highlighting values that differ from prev. prev may be nil.
func printRegs(w io.Writer, regs []x86emu.RegisterInfo, prev map[string]uint64) {
	var line strings.Builder
	n := 0
	for _, r := range regs {
		switch {
		case r.Group != "general" && r.Group != "segment" && r.Group != "flags":
			continue
		case strings.Contains(r.Name, "."):
			continue // descriptor cache fields
		}
		text := fmt.Sprintf("%0*x", r.BitWidth/4, r.Value)
		if old, ok := prev[r.Name]; ok && old != r.Value {
			text = colorChanged.Sprint(text)
		}
		fmt.Fprintf(&line, "%-6s %s  ", r.Name, text)
		n++
		if n%4 == 0 {
			fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
			line.Reset()
		}
	}
	if line.Len() > 0 {
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}

// regSnapshot captures register values by name for change highlighting.
func regSnapshot(regs []x86emu.RegisterInfo) map[string]uint64 {
	m := make(map[string]uint64, len(regs))
	for _, r := range regs {
		m[r.Name] = r.Value
	}
	return m
}

// printDisasm writes listing lines with the address column highlighted.
func printDisasm(w io.Writer, lines []x86emu.DisasmLine, mark uint32) {
	for _, l := range lines {
		text := l.String()
		addr, rest, _ := strings.Cut(text, ":")
		prefix := "  "
		if l.Addr == mark {
			prefix = "> "
		}
		fmt.Fprintf(w, "%s%s:%s\n", prefix, colorAddr.Sprint(addr), rest)
	}
}
