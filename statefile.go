// statefile.go - Text machine state format
//
// Lines are one of:
//
//	# comment
//	reg=value        value in Go integer syntax (0x1f, 31, 0o37)
//	addr: bb bb ...  hex address followed by hex bytes
//
// Memory lines store through Poke, so permissions do not apply and the
// bytes count as initialized.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LoadState applies a state description to the CPU and its memory.
func (c *CPU) LoadState(r io.Reader) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		var err error
		switch {
		case strings.Contains(text, "="):
			err = c.loadRegLine(text)
		case strings.Contains(text, ":"):
			err = c.loadMemLine(text)
		default:
			err = ErrBadStateLine
		}
		if err != nil {
			return fmt.Errorf("state line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func (c *CPU) loadRegLine(text string) error {
	name, val, _ := strings.Cut(text, "=")
	v, err := parseUint(val)
	if err != nil {
		return fmt.Errorf("%q: %w", text, ErrBadStateLine)
	}
	return c.SetRegister(strings.TrimSpace(name), v)
}

func (c *CPU) loadMemLine(text string) error {
	addrText, data, _ := strings.Cut(text, ":")
	addr, err := parseHex(addrText, 32)
	if err != nil {
		return fmt.Errorf("%q: %w", text, ErrBadStateLine)
	}
	for i, f := range strings.Fields(data) {
		b, err := parseHex(f, 8)
		if err != nil {
			return fmt.Errorf("%q: %w", text, ErrBadStateLine)
		}
		c.Mem.Poke(uint32(addr)+uint32(i), byte(b))
	}
	return nil
}

// parseUint accepts Go integer syntax: decimal, 0x hex, 0o octal, 0b binary.
func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 0, 64)
}

// parseHex accepts hex with or without a 0x prefix.
func parseHex(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, bits)
}

// SaveState writes the register file followed by every initialized memory
// byte in the format LoadState reads.
func (c *CPU) SaveState(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, r := range c.Registers() {
		fmt.Fprintf(bw, "%s=%#x\n", r.Name, r.Value)
	}

	for _, p := range c.Mem.Pages() {
		var run []byte
		var start uint32
		emit := func() {
			if len(run) > 0 {
				fmt.Fprintf(bw, "%08x: %s\n", start, hexBytes(run))
				run = run[:0]
			}
		}
		for ofs := uint32(0); ofs < PageSize; ofs++ {
			addr := p.Addr + ofs
			if c.Mem.Attr(addr)&AccW == 0 {
				emit()
				continue
			}
			if len(run) == 0 {
				start = addr
			}
			v, _ := c.Mem.Peek(addr)
			run = append(run, v)
			if len(run) == 16 {
				emit()
			}
		}
		emit()
	}
	return bw.Flush()
}
