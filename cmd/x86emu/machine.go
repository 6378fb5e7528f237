// machine.go - Build an interpreter instance from flags and a machine config
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/intuitionamiga/x86emu"
	"github.com/spf13/cobra"
)

// machineFlags are shared by every command that runs guest code. Values
// given on the command line override the machine config file.
type machineFlags struct {
	configPath  string
	loadAddr    uint32
	entryCS     uint16
	entryIP     uint32
	maxInstr    uint64
	trace       []string
	dump        []string
	checkScript string
	checkExec   bool
	noSelfMod   bool
	stopOnLoop  bool
	hostIO      bool
	ports       []string
	consolePort uint16
	logSize     int

	cmd *cobra.Command
}

func addMachineFlags(cmd *cobra.Command) *machineFlags {
	mf := &machineFlags{cmd: cmd}
	f := cmd.Flags()
	f.StringVar(&mf.configPath, "config", "", "YAML machine description")
	f.Uint32Var(&mf.loadAddr, "load", 0x7c00, "linear address the image is loaded at")
	f.Uint16Var(&mf.entryCS, "cs", 0, "entry code segment selector")
	f.Uint32Var(&mf.entryIP, "ip", 0x7c00, "entry instruction pointer")
	f.Uint64Var(&mf.maxInstr, "max", 0, "stop after this many instructions (0 = no limit)")
	f.StringSliceVar(&mf.trace, "trace", nil, "trace events: code,regs,data,acc,io,ints,all")
	f.StringSliceVar(&mf.dump, "dump", []string{"time", "regs"}, "dump sections after the run: regs,mem,accmem,invmem,attr,ascii,io,ints,time,tree")
	f.StringVar(&mf.checkScript, "check-script", "", "Lua file defining check(regs); returning true stops the run")
	f.BoolVar(&mf.checkExec, "check-exec", false, "require execute permission for instruction fetch")
	f.BoolVar(&mf.noSelfMod, "no-self-modify", false, "stop when code writes to bytes it executed")
	f.BoolVar(&mf.stopOnLoop, "stop-on-loop", false, "stop on a jump to itself")
	f.BoolVar(&mf.hostIO, "host-io", false, "forward permitted port I/O to the host (/dev/port, root only)")
	f.StringSliceVar(&mf.ports, "ports", nil, "permit port ranges, e.g. 0x60-0x64:rw,0x80:w")
	f.Uint16Var(&mf.consolePort, "console-port", 0xe9, "port whose writes are echoed as text (0 = none)")
	f.IntVar(&mf.logSize, "log-size", 1<<20, "trace buffer size in bytes")
	return mf
}

func (mf *machineFlags) changed(name string) bool { return mf.cmd.Flags().Changed(name) }

// machine is a configured interpreter plus the resources it holds.
type machine struct {
	cpu     *x86emu.CPU
	flags   x86emu.RunFlags
	dump    x86emu.DumpFlags
	check   *luaCheck
	closers []io.Closer
}

func (m *machine) Close() error {
	var first error
	if m.check != nil {
		m.check.Close()
	}
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// config loads the machine description, or returns an empty one.
func (mf *machineFlags) config() (*x86emu.MachineConfig, error) {
	if mf.configPath != "" {
		return x86emu.LoadConfig(mf.configPath)
	}
	return x86emu.ParseConfig(nil)
}

// build creates an interpreter for image (may be empty when the config or a
// state file provides the code). Trace output goes to traceOut.
func (mf *machineFlags) build(image string, traceOut io.Writer) (*machine, error) {
	cfg, err := mf.config()
	if err != nil {
		return nil, err
	}

	// Without an image in the config, the entry point comes from the flags.
	useFlags := mf.configPath == "" || cfg.Image == ""
	if image != "" {
		abs, err := filepath.Abs(image)
		if err != nil {
			return nil, err
		}
		cfg.Image = abs
	}
	if useFlags || mf.changed("load") {
		cfg.LoadAddr = mf.loadAddr
	}
	if useFlags || mf.changed("cs") {
		cfg.EntryCS = mf.entryCS
	}
	if useFlags || mf.changed("ip") {
		cfg.EntryIP = mf.entryIP
	}
	if mf.changed("max") {
		cfg.MaxInstr = mf.maxInstr
	}
	if mf.changed("trace") {
		cfg.Trace = mf.trace
	}
	if mf.changed("log-size") || cfg.LogSize == 0 {
		cfg.LogSize = mf.logSize
	}
	cfg.CheckExec = cfg.CheckExec || mf.checkExec
	cfg.NoSelfMod = cfg.NoSelfMod || mf.noSelfMod
	cfg.StopOnLoop = cfg.StopOnLoop || mf.stopOnLoop

	m := &machine{flags: cfg.RunFlags()}

	backend, err := mf.portBackend(m)
	if err != nil {
		return nil, err
	}

	opts := []x86emu.Option{
		x86emu.WithIOMap(x86emu.NewIOMap(backend)),
		x86emu.WithLogger(log),
	}
	if len(cfg.Trace) > 0 {
		opts = append(opts, x86emu.WithLogBuffer(cfg.LogSize, writerFlush(traceOut)))
	}
	m.cpu = x86emu.New(opts...)

	if err := cfg.Apply(m.cpu); err != nil {
		m.Close()
		return nil, err
	}
	if mf.consolePort != 0 && !mf.hostIO {
		m.cpu.IO.SetPerm(mf.consolePort, mf.consolePort, x86emu.PermW)
	}
	for _, spec := range mf.ports {
		from, to, perm, err := parsePortRange(spec)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.cpu.IO.SetPerm(from, to, perm)
	}

	if mf.checkScript != "" {
		m.check, err = loadLuaCheck(mf.checkScript)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.cpu.SetCodeCheck(m.check.Check)
	}

	m.dump, err = x86emu.ParseDumpFlags(mf.dump)
	if err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// portBackend picks the host or the emulated device backend.
func (mf *machineFlags) portBackend(m *machine) (x86emu.PortBackend, error) {
	if mf.hostIO {
		hp, err := x86emu.OpenHostPorts()
		if err != nil {
			return nil, err
		}
		m.closers = append(m.closers, hp)
		return hp, nil
	}
	devs := x86emu.NewPortDevices()
	if mf.consolePort != 0 {
		devs.Attach(mf.consolePort, 1, &consoleDevice{w: stdout})
	}
	return devs, nil
}

// writerFlush adapts an io.Writer to a trace log flush callback.
func writerFlush(w io.Writer) x86emu.FlushFunc {
	if w == nil {
		return nil
	}
	return func(p []byte) { _, _ = w.Write(p) }
}

// parsePortRange reads "from-to:perm" or "port:perm". A missing perm means rw.
func parsePortRange(s string) (from, to uint16, perm byte, err error) {
	rng, permText, ok := strings.Cut(s, ":")
	if !ok {
		permText = "rw"
	}
	perm, err = x86emu.ParsePerm(permText)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("port range %q: %w", s, err)
	}

	lo, hi, isRange := strings.Cut(rng, "-")
	f, err := strconv.ParseUint(strings.TrimSpace(lo), 0, 16)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("port range %q: %w", s, err)
	}
	t := f
	if isRange {
		t, err = strconv.ParseUint(strings.TrimSpace(hi), 0, 16)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("port range %q: %w", s, err)
		}
	}
	if t < f {
		return 0, 0, 0, fmt.Errorf("port range %q: end before start", s)
	}
	return uint16(f), uint16(t), perm, nil
}

// consoleDevice echoes bytes written to its port, like the Bochs/QEMU
// debug console on port 0xe9.
type consoleDevice struct {
	w io.Writer
}

func (d *consoleDevice) Read(offset uint16, size int) uint32 { return 0xFFFFFFFF >> (32 - 8*size) }

func (d *consoleDevice) Write(offset uint16, size int, v uint32) {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(v >> (8 * i))
	}
	_, _ = d.w.Write(buf)
}
