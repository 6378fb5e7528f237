// monitor.go - Interactive machine monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/intuitionamiga/x86emu"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const maxBackstep = 32

// MonitorCommand is a parsed command with name and arguments.
type MonitorCommand struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
func ParseCommand(input string) MonitorCommand {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return MonitorCommand{}
	}
	return MonitorCommand{Name: strings.ToLower(parts[0]), Args: parts[1:]}
}

// ParseAddress parses a number as $hex, 0xhex, #decimal or bare hex.
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	base := 16
	switch {
	case strings.HasPrefix(s, "#"):
		s, base = s[1:], 10
	case strings.HasPrefix(s, "$"):
		s = s[1:]
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	v, err := strconv.ParseUint(s, base, 64)
	return v, err == nil
}

// EvalAddress evaluates <term> [+|- <term>]*, where a term is a register
// name or a number. "seg:ofs" gives the linear address using the segment
// register's cached base, or selector*16 for a plain number.
func EvalAddress(expr string, cpu *x86emu.CPU) (uint64, bool) {
	if seg, ofs, ok := strings.Cut(expr, ":"); ok {
		o, ok := evalSum(ofs, cpu)
		if !ok {
			return 0, false
		}
		name := strings.ToLower(strings.TrimSpace(seg))
		if cpu != nil {
			if base, ok := cpu.Register(name + ".base"); ok {
				return uint64(uint32(base + o)), true
			}
		}
		s, ok := evalSum(seg, cpu)
		if !ok {
			return 0, false
		}
		return uint64(uint32(s<<4 + o)), true
	}
	return evalSum(expr, cpu)
}

func evalSum(expr string, cpu *x86emu.CPU) (uint64, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, false
	}

	type token struct {
		text string
		op   byte
	}
	var tokens []token
	var current strings.Builder
	op := byte(0)
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if (ch == '+' || ch == '-') && i > 0 {
			if t := strings.TrimSpace(current.String()); t != "" {
				tokens = append(tokens, token{t, op})
			}
			op = ch
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	if t := strings.TrimSpace(current.String()); t != "" {
		tokens = append(tokens, token{t, op})
	}
	if len(tokens) == 0 {
		return 0, false
	}

	var result uint64
	for _, tok := range tokens {
		var (
			val uint64
			ok  bool
		)
		if cpu != nil {
			val, ok = cpu.Register(tok.text)
		}
		if !ok {
			val, ok = ParseAddress(tok.text)
		}
		if !ok {
			return 0, false
		}
		if tok.op == '-' {
			result -= val
		} else {
			result += val
		}
	}
	return result, true
}

// Monitor drives one interpreter interactively.
type Monitor struct {
	m   *machine
	out io.Writer

	breaks    map[uint32]bool
	history   []*x86emu.CPU
	prevRegs  map[string]uint64
	resumeTSC uint64
	logSize   int

	// interrupt, when set, is called around long runs to connect Ctrl-C to
	// cpu.Stop.
	interrupt func(stop func()) (release func())
}

func newMonitor(m *machine, out io.Writer, logSize int) *Monitor {
	mon := &Monitor{
		m:       m,
		out:     out,
		breaks:  make(map[uint32]bool),
		logSize: logSize,
	}
	mon.install()
	mon.saveCurrentRegs()
	return mon
}

func (mon *Monitor) cpu() *x86emu.CPU { return mon.m.cpu }

// install hooks the breakpoint check in front of any scripted check.
func (mon *Monitor) install() {
	mon.cpu().SetCodeCheck(mon.codeCheck)
}

func (mon *Monitor) codeCheck(c *x86emu.CPU) bool {
	if len(mon.breaks) > 0 && c.TSC != mon.resumeTSC {
		if mon.breaks[c.Seg[x86emu.SegCS].Base+c.EIP] {
			return true
		}
	}
	if mon.m.check != nil {
		return mon.m.check.Check(c)
	}
	return false
}

func (mon *Monitor) printf(format string, args ...any) {
	fmt.Fprintf(mon.out, format, args...)
}

func (mon *Monitor) errorf(format string, args ...any) {
	fmt.Fprintln(mon.out, colorFault.Sprintf(format, args...))
}

// ExecuteCommand runs one command line. It returns true when the monitor
// should exit.
func (mon *Monitor) ExecuteCommand(input string) bool {
	cmd := ParseCommand(input)
	switch cmd.Name {
	case "":
		return false
	case "r":
		mon.cmdRegisters(cmd)
	case "d":
		mon.cmdDisassemble(cmd)
	case "m":
		mon.cmdMemoryDump(cmd)
	case "w":
		mon.cmdWrite(cmd)
	case "f":
		mon.cmdFill(cmd)
	case "s":
		mon.cmdStep(cmd)
	case "bs":
		mon.cmdBackstep(cmd)
	case "g":
		mon.cmdGo(cmd)
	case "u":
		mon.cmdRunUntil(cmd)
	case "b":
		mon.cmdBreakpointSet(cmd)
	case "bc":
		mon.cmdBreakpointClear(cmd)
	case "bl":
		mon.cmdBreakpointList(cmd)
	case "io":
		mon.cmdPorts(cmd)
	case "dump":
		mon.cmdDump(cmd)
	case "trace":
		mon.cmdTrace(cmd)
	case "ss":
		mon.cmdSaveState(cmd)
	case "sl":
		mon.cmdLoadState(cmd)
	case "?", "help":
		mon.cmdHelp(cmd)
	case "x", "q", "quit":
		return true
	default:
		mon.errorf("Unknown command: %s", cmd.Name)
	}
	return false
}

func (mon *Monitor) saveCurrentRegs() {
	mon.prevRegs = regSnapshot(mon.cpu().Registers())
}

// pushHistory snapshots the machine before a command that changes it.
func (mon *Monitor) pushHistory() {
	mon.history = append(mon.history, mon.cpu().Clone())
	if len(mon.history) > maxBackstep {
		mon.history = mon.history[len(mon.history)-maxBackstep:]
	}
}

func (mon *Monitor) cmdRegisters(cmd MonitorCommand) {
	if len(cmd.Args) >= 2 {
		v, ok := EvalAddress(cmd.Args[1], mon.cpu())
		if !ok {
			mon.errorf("Invalid value: %s", cmd.Args[1])
			return
		}
		mon.pushHistory()
		if err := mon.cpu().SetRegister(cmd.Args[0], v); err != nil {
			mon.errorf("%v", err)
			return
		}
	}
	mon.showRegisters()
}

func (mon *Monitor) showRegisters() {
	printRegs(mon.out, mon.cpu().Registers(), mon.prevRegs)
	mon.saveCurrentRegs()
}

func (mon *Monitor) cmdDisassemble(cmd MonitorCommand) {
	count := 8
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			count = int(v)
		}
	}
	if len(cmd.Args) == 0 {
		mon.showDisassembly(count)
		return
	}
	addr, ok := EvalAddress(cmd.Args[0], mon.cpu())
	if !ok {
		mon.errorf("Invalid address: %s", cmd.Args[0])
		return
	}
	c := mon.cpu()
	bits := 16
	if c.Seg[x86emu.SegCS].Big() {
		bits = 32
	}
	printDisasm(mon.out, x86emu.Disassemble(mon.peek(uint32(addr), 16*count), uint32(addr), bits, count),
		c.Seg[x86emu.SegCS].Base+c.EIP)
}

// showDisassembly lists count instructions from CS:EIP.
func (mon *Monitor) showDisassembly(count int) {
	c := mon.cpu()
	printDisasm(mon.out, c.DisassembleAt(x86emu.SegCS, c.EIP, count), c.EIP)
}

// peek reads guest memory without recording access history. Unallocated
// bytes read as zero.
func (mon *Monitor) peek(addr uint32, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i], _ = mon.cpu().Mem.Peek(addr + uint32(i))
	}
	return data
}

func (mon *Monitor) cmdMemoryDump(cmd MonitorCommand) {
	c := mon.cpu()
	addr := uint64(c.Seg[x86emu.SegDS].Base)
	lines := 8
	if len(cmd.Args) >= 1 {
		v, ok := EvalAddress(cmd.Args[0], c)
		if !ok {
			mon.errorf("Invalid address: %s", cmd.Args[0])
			return
		}
		addr = v
	}
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			lines = int(v)
		}
	}

	for i := 0; i < lines; i++ {
		a := uint32(addr) + uint32(16*i)
		data := mon.peek(a, 16)
		var hexParts []string
		ascii := make([]byte, 16)
		for j, b := range data {
			text := fmt.Sprintf("%02x", b)
			if c.Mem.Attr(a+uint32(j))&x86emu.AccInvalid != 0 {
				text = colorFault.Sprint(text)
			}
			hexParts = append(hexParts, text)
			ascii[j] = '.'
			if b >= 0x20 && b < 0x7F {
				ascii[j] = b
			}
		}
		mon.printf("%s: %s  %s  %s\n", colorAddr.Sprintf("%08x", a),
			strings.Join(hexParts[:8], " "), strings.Join(hexParts[8:], " "), ascii)
	}
}

// parseBytes reads a list of byte values.
func parseBytes(args []string) ([]byte, bool) {
	out := make([]byte, 0, len(args))
	for _, a := range args {
		v, ok := ParseAddress(a)
		if !ok || v > 0xFF {
			return nil, false
		}
		out = append(out, byte(v))
	}
	return out, true
}

func (mon *Monitor) cmdWrite(cmd MonitorCommand) {
	if len(cmd.Args) < 2 {
		mon.errorf("Usage: w <addr> <bytes..>")
		return
	}
	addr, ok := EvalAddress(cmd.Args[0], mon.cpu())
	if !ok {
		mon.errorf("Invalid address: %s", cmd.Args[0])
		return
	}
	data, ok := parseBytes(cmd.Args[1:])
	if !ok {
		mon.errorf("Invalid byte list")
		return
	}
	mon.pushHistory()
	mon.cpu().Mem.Load(uint32(addr), data)
	mon.printf("Wrote %d byte(s) at %08x\n", len(data), uint32(addr))
}

func (mon *Monitor) cmdFill(cmd MonitorCommand) {
	if len(cmd.Args) != 3 {
		mon.errorf("Usage: f <start> <end> <byte>")
		return
	}
	start, ok1 := EvalAddress(cmd.Args[0], mon.cpu())
	end, ok2 := EvalAddress(cmd.Args[1], mon.cpu())
	val, ok3 := parseBytes(cmd.Args[2:])
	if !ok1 || !ok2 || !ok3 || end < start {
		mon.errorf("Usage: f <start> <end> <byte>")
		return
	}
	mon.pushHistory()
	for a := start; a <= end; a++ {
		mon.cpu().Mem.Poke(uint32(a), val[0])
	}
	mon.printf("Filled %08x-%08x with %02x\n", uint32(start), uint32(end), val[0])
}

func (mon *Monitor) cmdStep(cmd MonitorCommand) {
	count := 1
	if len(cmd.Args) >= 1 {
		if v, ok := ParseAddress(cmd.Args[0]); ok && v > 0 {
			count = int(v)
		}
	}

	mon.pushHistory()
	c := mon.cpu()
	// Stepping is explicit, so a breakpoint on the current instruction is
	// not taken.
	reason := x86emu.StopNone
	for i := 0; i < count && reason == x86emu.StopNone; i++ {
		mon.resumeTSC = c.TSC
		reason = c.Step(mon.m.flags)
	}
	c.ClearLog(true)
	if reason != x86emu.StopNone {
		printStop(mon.out, c, reason)
	}
	mon.showRegisters()
	mon.showDisassembly(1)
}

func (mon *Monitor) cmdBackstep(_ MonitorCommand) {
	if len(mon.history) == 0 {
		mon.errorf("No step history available")
		return
	}
	snap := mon.history[len(mon.history)-1]
	mon.history = mon.history[:len(mon.history)-1]

	snap.SetLogBuffer(mon.cpu().Log())
	mon.m.cpu = snap
	mon.install()

	mon.printf("Backstep: restored to %s\n", colorAddr.Sprint(csip(snap)))
	mon.showRegisters()
	mon.showDisassembly(1)
}

// run executes until something stops the loop. A breakpoint at the
// starting instruction is passed over.
func (mon *Monitor) run() {
	mon.pushHistory()
	c := mon.cpu()
	mon.resumeTSC = c.TSC
	if mon.interrupt != nil {
		release := mon.interrupt(c.Stop)
		defer release()
	}
	reason := c.Run(mon.m.flags)
	c.ClearLog(true)
	if reason == x86emu.StopCodeCheck && mon.breaks[c.Seg[x86emu.SegCS].Base+c.EIP] {
		mon.printf("Breakpoint at %s\n", colorAddr.Sprint(csip(c)))
	} else {
		printStop(mon.out, c, reason)
	}
	mon.showRegisters()
	mon.showDisassembly(1)
}

func (mon *Monitor) cmdGo(cmd MonitorCommand) {
	if len(cmd.Args) >= 1 {
		v, ok := EvalAddress(cmd.Args[0], mon.cpu())
		if !ok {
			mon.errorf("Invalid address: %s", cmd.Args[0])
			return
		}
		mon.cpu().EIP = uint32(v)
	}
	mon.run()
}

// cmdRunUntil runs to a temporary breakpoint.
func (mon *Monitor) cmdRunUntil(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: u <addr>")
		return
	}
	addr, ok := EvalAddress(cmd.Args[0], mon.cpu())
	if !ok {
		mon.errorf("Invalid address: %s", cmd.Args[0])
		return
	}
	a := uint32(addr)
	if !mon.breaks[a] {
		mon.breaks[a] = true
		defer delete(mon.breaks, a)
	}
	mon.run()
}

func (mon *Monitor) cmdBreakpointSet(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: b <addr>")
		return
	}
	addr, ok := EvalAddress(cmd.Args[0], mon.cpu())
	if !ok {
		mon.errorf("Invalid address: %s", cmd.Args[0])
		return
	}
	mon.breaks[uint32(addr)] = true
	mon.printf("Breakpoint set at %08x\n", uint32(addr))
}

func (mon *Monitor) cmdBreakpointClear(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: bc <addr|*>")
		return
	}
	if cmd.Args[0] == "*" {
		n := len(mon.breaks)
		clear(mon.breaks)
		mon.printf("Cleared %d breakpoint(s)\n", n)
		return
	}
	addr, ok := EvalAddress(cmd.Args[0], mon.cpu())
	if !ok {
		mon.errorf("Invalid address: %s", cmd.Args[0])
		return
	}
	if !mon.breaks[uint32(addr)] {
		mon.errorf("No breakpoint at %08x", uint32(addr))
		return
	}
	delete(mon.breaks, uint32(addr))
	mon.printf("Breakpoint cleared at %08x\n", uint32(addr))
}

func (mon *Monitor) cmdBreakpointList(_ MonitorCommand) {
	if len(mon.breaks) == 0 {
		mon.printf("No breakpoints set\n")
		return
	}
	addrs := make([]uint32, 0, len(mon.breaks))
	for a := range mon.breaks {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	for _, a := range addrs {
		mon.printf("  %s\n", colorAddr.Sprintf("%08x", a))
	}
}

// cmdPorts shows the permission and counters of a port range.
func (mon *Monitor) cmdPorts(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: io <port> [count]")
		return
	}
	port, ok := ParseAddress(cmd.Args[0])
	if !ok || port > 0xFFFF {
		mon.errorf("Invalid port: %s", cmd.Args[0])
		return
	}
	n := uint64(1)
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok && v > 0 {
			n = v
		}
	}
	ports := mon.cpu().IO
	for p := port; p < port+n && p <= 0xFFFF; p++ {
		in, out := ports.Stats(uint16(p))
		mon.printf("%s  perm %s  in %d  out %d\n", colorAddr.Sprintf("%04x", p), permString(ports.Perm(uint16(p))), in, out)
	}
}

func permString(p byte) string {
	b := []byte("---")
	if p&x86emu.PermR != 0 {
		b[0] = 'r'
	}
	if p&x86emu.PermW != 0 {
		b[1] = 'w'
	}
	if p&x86emu.PermX != 0 {
		b[2] = 'x'
	}
	return string(b)
}

func (mon *Monitor) cmdDump(cmd MonitorCommand) {
	names := cmd.Args
	if len(names) == 0 {
		names = []string{"regs", "time"}
	}
	flags, err := x86emu.ParseDumpFlags(names)
	if err != nil {
		mon.errorf("%v", err)
		return
	}
	mon.cpu().Dump(mon.out, flags)
}

func (mon *Monitor) cmdTrace(cmd MonitorCommand) {
	c := mon.cpu()
	if len(cmd.Args) == 0 {
		mon.printf("Trace flags: %#x\n", uint32(c.Trace()))
		return
	}
	if len(cmd.Args) == 1 && strings.EqualFold(cmd.Args[0], "off") {
		c.SetTrace(0)
		mon.printf("Trace off\n")
		return
	}
	flags, err := x86emu.ParseTraceFlags(cmd.Args)
	if err != nil {
		mon.errorf("%v", err)
		return
	}
	if c.Log() == nil {
		c.SetLogBuffer(x86emu.NewLogBuffer(mon.logSize, writerFlush(mon.out)))
	}
	c.SetTrace(flags)
	mon.printf("Trace flags: %#x\n", uint32(flags))
}

func (mon *Monitor) cmdSaveState(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: ss <file>")
		return
	}
	f, err := os.Create(cmd.Args[0])
	if err != nil {
		mon.errorf("%v", err)
		return
	}
	err = mon.cpu().SaveState(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		mon.errorf("%v", err)
		return
	}
	mon.printf("State saved to %s\n", cmd.Args[0])
}

func (mon *Monitor) cmdLoadState(cmd MonitorCommand) {
	if len(cmd.Args) < 1 {
		mon.errorf("Usage: sl <file>")
		return
	}
	f, err := os.Open(cmd.Args[0])
	if err != nil {
		mon.errorf("%v", err)
		return
	}
	defer f.Close()

	mon.pushHistory()
	if err := mon.cpu().LoadState(f); err != nil {
		mon.errorf("%s: %v", cmd.Args[0], err)
		return
	}
	mon.printf("State loaded from %s\n", cmd.Args[0])
	mon.showRegisters()
	mon.showDisassembly(1)
}

func (mon *Monitor) cmdHelp(_ MonitorCommand) {
	helpLines := []string{
		"Monitor commands:",
		"  r                  Show registers",
		"  r <name> <value>   Set register",
		"  d [addr] [count]   Disassemble (default CS:EIP)",
		"  m [addr] [count]   Memory dump, 16 bytes per line",
		"  w <addr> <bytes..> Write bytes",
		"  f <start> <end> <byte>  Fill memory",
		"  s [count]          Single-step",
		"  bs                 Backstep (undo last change)",
		"  g [eip]            Run until a stop",
		"  u <addr>           Run until address",
		"  b <addr>           Set breakpoint",
		"  bc <addr|*>        Clear breakpoint(s)",
		"  bl                 List breakpoints",
		"  io <port> [count]  Port permissions and counters",
		"  dump [sections..]  Dump state (regs,mem,accmem,invmem,attr,ascii,io,ints,time,tree)",
		"  trace <flags..|off>  Set trace events (code,regs,data,acc,io,ints,all)",
		"  ss <file>          Save machine state",
		"  sl <file>          Load machine state",
		"  x                  Exit",
		"",
		"Addresses are linear: $hex, 0xhex, bare hex, #decimal, reg, expr+expr, seg:ofs",
	}
	for _, line := range helpLines {
		fmt.Fprintln(mon.out, line)
	}
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor [image]",
		Short: "Load an image and debug it interactively",
		Args:  cobra.MaximumNArgs(1),
	}
	mf := addMachineFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		image := ""
		if len(args) == 1 {
			image = args[0]
		}
		m, err := mf.build(image, stdout)
		if err != nil {
			return err
		}
		defer m.Close()

		mon := newMonitor(m, stdout, mf.logSize)
		mon.interrupt = func(stop func()) func() {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			after := context.AfterFunc(ctx, stop)
			return func() {
				after()
				cancel()
			}
		}
		mon.showRegisters()
		mon.showDisassembly(1)

		if term.IsTerminal(int(os.Stdin.Fd())) {
			return mon.repl()
		}
		return mon.script(os.Stdin)
	}
	return cmd
}

// repl reads commands with line editing and history.
func (mon *Monitor) repl() error {
	cfg := &readline.Config{Prompt: "x86emu> "}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, ".x86emu_history")
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return err
	}
	defer rl.Close()

	for {
		rl.SetPrompt(fmt.Sprintf("%s> ", csip(mon.cpu())))
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if mon.ExecuteCommand(line) {
			return nil
		}
	}
}

// script executes commands from r, one per line. ';' starts a comment.
func (mon *Monitor) script(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), ";")
		if mon.ExecuteCommand(line) {
			return nil
		}
	}
	return sc.Err()
}
