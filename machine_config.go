// machine_config.go - YAML machine description
//
// Example:
//
//	default_perm: rwx
//	max_instr: 100000
//	image: boot.bin
//	load_addr: 0x7c00
//	entry_cs: 0
//	entry_ip: 0x7c00
//	regions:
//	  - {addr: 0xf0000, size: 0x10000, perm: rx, file: bios.rom}
//	  - {addr: 0x500, size: 4, perm: rw, bytes: "00 00 00 00"}
//	ports:
//	  - {from: 0x60, to: 0x64, perm: rw}
//	registers:
//	  ss: 0
//	  sp: 0x7c00
//	trace: [code, ints]
//	log_size: 1048576
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// MachineConfig describes the initial machine for the CLI and for tests.
type MachineConfig struct {
	DefaultPerm string         `yaml:"default_perm"`
	MaxInstr    uint64         `yaml:"max_instr"`
	Image       string         `yaml:"image"`
	LoadAddr    uint32         `yaml:"load_addr"`
	EntryCS     uint16         `yaml:"entry_cs"`
	EntryIP     uint32         `yaml:"entry_ip"`
	Regions     []RegionConfig `yaml:"regions"`
	Ports       []PortConfig   `yaml:"ports"`
	Registers   yaml.MapSlice  `yaml:"registers"` // applied in file order
	Trace       []string       `yaml:"trace"`
	LogSize     int            `yaml:"log_size"`
	CheckExec   bool           `yaml:"check_exec"`
	NoSelfMod   bool           `yaml:"no_self_modify"`
	StopOnLoop  bool           `yaml:"stop_on_loop"`

	dir string // relative file paths resolve against this
}

// RegionConfig is a memory range with permissions and optional contents.
type RegionConfig struct {
	Addr  uint32 `yaml:"addr"`
	Size  uint32 `yaml:"size"`
	Perm  string `yaml:"perm"`
	File  string `yaml:"file"`
	Bytes string `yaml:"bytes"` // hex, whitespace allowed
}

// PortConfig is an inclusive port range with permissions.
type PortConfig struct {
	From uint16 `yaml:"from"`
	To   uint16 `yaml:"to"`
	Perm string `yaml:"perm"`
}

// LoadConfig reads a machine description from path.
func LoadConfig(path string) (*MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// ParseConfig decodes a machine description. Unknown keys are an error.
func ParseConfig(data []byte) (*MachineConfig, error) {
	cfg := &MachineConfig{DefaultPerm: "rwx"}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse machine config: %w", err)
	}
	return cfg, nil
}

// ParsePerm converts a string of 'r', 'w' and 'x' letters into permission
// bits. "" and "-" mean no access.
func ParsePerm(s string) (byte, error) {
	var p byte
	for _, ch := range strings.ToLower(strings.TrimSpace(s)) {
		switch ch {
		case 'r':
			p |= PermR
		case 'w':
			p |= PermW
		case 'x':
			p |= PermX
		case '-':
		default:
			return 0, fmt.Errorf("%q: %w", s, ErrBadPermission)
		}
	}
	return p, nil
}

// RunFlags returns the run flags the description asks for.
func (cfg *MachineConfig) RunFlags() RunFlags {
	var f RunFlags
	if cfg.MaxInstr > 0 {
		f |= RunMaxInstr
	}
	if cfg.CheckExec {
		f |= RunCheckExec
	}
	if cfg.NoSelfMod {
		f |= RunNoSelfModify
	}
	if cfg.StopOnLoop {
		f |= RunStopOnLoop
	}
	return f
}

func (cfg *MachineConfig) path(name string) string {
	if filepath.IsAbs(name) || cfg.dir == "" {
		return name
	}
	return filepath.Join(cfg.dir, name)
}

// Apply sets up memory, ports, registers and trace flags on c.
func (cfg *MachineConfig) Apply(c *CPU) error {
	perm, err := ParsePerm(cfg.DefaultPerm)
	if err != nil {
		return fmt.Errorf("default_perm: %w", err)
	}
	c.Mem.SetDefaultPerm(perm)
	c.MaxInstr = cfg.MaxInstr

	for i, r := range cfg.Regions {
		if err := cfg.applyRegion(c, r); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}

	for i, p := range cfg.Ports {
		perm, err := ParsePerm(p.Perm)
		if err != nil {
			return fmt.Errorf("port range %d: %w", i, err)
		}
		c.IO.SetPerm(p.From, p.To, perm)
	}

	if cfg.Image != "" {
		data, err := os.ReadFile(cfg.path(cfg.Image))
		if err != nil {
			return fmt.Errorf("load image: %w", err)
		}
		c.Mem.Load(cfg.LoadAddr, data)
		if !c.SetSeg(SegCS, cfg.EntryCS) {
			c.intr = pendingIntr{}
			return fmt.Errorf("entry_cs %#x: %w", cfg.EntryCS, ErrSegmentRejected)
		}
		c.EIP = cfg.EntryIP
	}

	for _, item := range cfg.Registers {
		name := fmt.Sprint(item.Key)
		v, err := yamlUint(item.Value)
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		if err := c.SetRegister(name, v); err != nil {
			return err
		}
	}

	trace, err := ParseTraceFlags(cfg.Trace)
	if err != nil {
		return err
	}
	c.SetTrace(trace)
	return nil
}

func (cfg *MachineConfig) applyRegion(c *CPU, r RegionConfig) error {
	if r.Size == 0 {
		return nil
	}
	perm, err := ParsePerm(r.Perm)
	if err != nil {
		return err
	}

	var data []byte
	switch {
	case r.File != "":
		data, err = os.ReadFile(cfg.path(r.File))
		if err != nil {
			return fmt.Errorf("read %s: %w", r.File, err)
		}
	case r.Bytes != "":
		data, err = hex.DecodeString(strings.Join(strings.Fields(r.Bytes), ""))
		if err != nil {
			return fmt.Errorf("bytes: %w", err)
		}
	}
	if uint32(len(data)) > r.Size {
		data = data[:r.Size]
	}
	c.Mem.Load(r.Addr, data)
	c.Mem.SetPerm(r.Addr, r.Addr+r.Size-1, perm)
	return nil
}

func yamlUint(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case int:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case uint64:
		return n, nil
	case string:
		return parseUint(n)
	}
	return 0, fmt.Errorf("value %v: %w", v, ErrBadStateLine)
}
