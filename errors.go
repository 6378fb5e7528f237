// errors.go - Sentinel errors for setup-time APIs
//
// Guest-visible failures are never returned as errors; they become
// interrupts, invalid-access flags or stop reasons.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import "errors"

var (
	ErrPageAlignment   = errors.New("address not page aligned")
	ErrPageSize        = errors.New("buffer is not one page")
	ErrBadStateLine    = errors.New("malformed state line")
	ErrUnknownRegister = errors.New("unknown register")
	ErrBadPermission   = errors.New("bad permission string")
	ErrNoHostPorts     = errors.New("host port access unavailable")
	ErrUnknownFlag     = errors.New("unknown flag name")
	ErrSegmentRejected = errors.New("selector rejected by segment check")
)
