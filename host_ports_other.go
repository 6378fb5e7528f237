// host_ports_other.go - Host port I/O stub for non-Linux hosts
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

//go:build !linux

package x86emu

import "fmt"

// HostPorts is unavailable on this platform.
type HostPorts struct{}

func OpenHostPorts() (*HostPorts, error) {
	return nil, fmt.Errorf("open host ports: %w", ErrNoHostPorts)
}

func (h *HostPorts) Privileged() bool            { return false }
func (h *HostPorts) Close() error                { return nil }
func (h *HostPorts) In8(port uint16) byte        { return 0xFF }
func (h *HostPorts) In16(port uint16) uint16     { return 0xFFFF }
func (h *HostPorts) In32(port uint16) uint32     { return 0xFFFFFFFF }
func (h *HostPorts) Out8(port uint16, v byte)    {}
func (h *HostPorts) Out16(port uint16, v uint16) {}
func (h *HostPorts) Out32(port uint16, v uint32) {}
