// host_ports_linux.go - Host port I/O through /dev/port
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

//go:build linux

package x86emu

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// HostPorts forwards granted port accesses to the real machine. Each byte of
// a wide access becomes one single-byte port access on the host.
type HostPorts struct {
	fd int
}

// OpenHostPorts opens /dev/port. It requires root.
func OpenHostPorts() (*HostPorts, error) {
	if unix.Geteuid() != 0 {
		return nil, fmt.Errorf("open /dev/port: %w", ErrNoHostPorts)
	}
	fd, err := unix.Open("/dev/port", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/port: %w", err)
	}
	return &HostPorts{fd: fd}, nil
}

// Privileged reports whether the descriptor is usable.
func (h *HostPorts) Privileged() bool { return h.fd >= 0 }

// Close releases /dev/port.
func (h *HostPorts) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

func (h *HostPorts) read(port uint16, buf []byte) {
	if _, err := unix.Pread(h.fd, buf, int64(port)); err != nil {
		for i := range buf {
			buf[i] = 0xFF
		}
	}
}

func (h *HostPorts) write(port uint16, buf []byte) {
	_, _ = unix.Pwrite(h.fd, buf, int64(port))
}

func (h *HostPorts) In8(port uint16) byte {
	var b [1]byte
	h.read(port, b[:])
	return b[0]
}

func (h *HostPorts) In16(port uint16) uint16 {
	var b [2]byte
	h.read(port, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func (h *HostPorts) In32(port uint16) uint32 {
	var b [4]byte
	h.read(port, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (h *HostPorts) Out8(port uint16, v byte) { h.write(port, []byte{v}) }

func (h *HostPorts) Out16(port uint16, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	h.write(port, b[:])
}

func (h *HostPorts) Out32(port uint16, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	h.write(port, b[:])
}
