// cpu_x86_exec.go - Fetch/decode/dispatch loop
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// RunFlags select optional checks for Run and Step.
type RunFlags uint32

const (
	RunMaxInstr     RunFlags = 1 << iota // stop once TSC reaches MaxInstr
	RunCheckExec                         // fetch requires PermX
	RunNoSelfModify                      // stop on a write to executed code
	RunStopOnLoop                        // stop on a jump to itself
)

// StopReason says why the loop returned.
type StopReason int

const (
	StopNone StopReason = iota
	StopHalted
	StopMaxInstr
	StopCodeCheck
	StopRequested
	StopLoop

	// Fault stops
	StopInvalidWrite
	StopExecDenied
	StopSelfModify
	StopIntr
)

var stopNames = [...]string{
	StopNone:         "none",
	StopHalted:       "halted",
	StopMaxInstr:     "instruction limit",
	StopCodeCheck:    "code check",
	StopRequested:    "stop requested",
	StopLoop:         "jump to self",
	StopInvalidWrite: "invalid write",
	StopExecDenied:   "execute denied",
	StopSelfModify:   "self-modifying code",
	StopIntr:         "interrupt delivery failed",
}

func (r StopReason) String() string {
	if r < 0 || int(r) >= len(stopNames) {
		return "unknown"
	}
	return stopNames[r]
}

// Fault reports whether the stop was caused by a fatal access or delivery
// failure rather than a clean condition.
func (r StopReason) Fault() bool { return r >= StopInvalidWrite }

// halt sets the halted mode bit. The first reason recorded wins.
func (c *CPU) halt(r StopReason) {
	c.mode |= modeHalted
	if c.stop == StopNone {
		c.stop = r
	}
}

// Stop asks the loop to end after the current instruction.
func (c *CPU) Stop() { atomic.StoreUint32(&c.stopReq, 1) }

// Run executes instructions until something stops the loop.
func (c *CPU) Run(flags RunFlags) StopReason {
	c.begin(flags)
	for !c.step() {
	}
	return c.stop
}

// Step executes a single instruction.
func (c *CPU) Step(flags RunFlags) StopReason {
	c.begin(flags)
	c.step()
	return c.stop
}

func (c *CPU) begin(flags RunFlags) {
	c.runFlags = flags
	c.stop = StopNone
	atomic.StoreUint32(&c.stopReq, 0)
	c.Mem.deniedWrite = false
	c.Mem.deniedExec = false
	c.Mem.selfModify = false

	// A host injected interrupt waiting from before the run is taken first.
	if c.intr.typ != 0 {
		c.mode = 0
		if c.Seg[SegSS].Big() {
			c.mode |= modeStack32
		}
		c.savedCS, c.savedEIP = c.Seg[SegCS].Sel, c.EIP
		c.handleInterrupt()
	}
}

// step runs one loop iteration and reports whether the loop must end.
func (c *CPU) step() bool {
	c.instrLen = 0
	c.mode = 0
	if c.Seg[SegCS].Big() {
		c.mode |= modeData32 | modeAddr32 | modeCode32
	}
	if c.Seg[SegSS].Big() {
		c.mode |= modeStack32
	}
	c.defaultSeg = segNone
	c.savedCS, c.savedEIP = c.Seg[SegCS].Sel, c.EIP

	if c.trace&TraceRegs != 0 {
		c.logRegs()
	}

	if c.codeCheck != nil && c.codeCheck(c) {
		c.stop = StopCodeCheck
		return true
	}

	op := c.fetchPrefixes()
	if c.mode&modeHalted == 0 {
		c.dispatch(op)
	}

	c.handleInterrupt()

	if c.trace&TraceCode != 0 {
		c.logCode()
	}
	c.TSC++

	if atomic.LoadUint32(&c.stopReq) != 0 {
		c.halt(StopRequested)
	}
	if c.runFlags&RunStopOnLoop != 0 && c.Seg[SegCS].Sel == c.savedCS && c.EIP == c.savedEIP {
		c.halt(StopLoop)
	}
	if c.mode&modeHalted != 0 {
		return true
	}
	if c.runFlags&RunMaxInstr != 0 && c.TSC >= c.MaxInstr {
		c.stop = StopMaxInstr
		return true
	}
	return false
}

// maxPrefixes bounds a prefix run so an endless stream of prefix bytes still
// makes progress.
const maxPrefixes = 14

// fetchPrefixes consumes legacy prefixes and returns the opcode byte.
func (c *CPU) fetchPrefixes() byte {
	for n := 0; ; n++ {
		op := c.fetch8()
		if n == maxPrefixes {
			return op
		}
		switch op {
		case 0x26:
			c.defaultSeg = SegES
		case 0x2E:
			c.defaultSeg = SegCS
		case 0x36:
			c.defaultSeg = SegSS
		case 0x3E:
			c.defaultSeg = SegDS
		case 0x64:
			c.defaultSeg = SegFS
		case 0x65:
			c.defaultSeg = SegGS
		case 0x66:
			c.mode ^= modeData32
		case 0x67:
			c.mode ^= modeAddr32
		case 0xF0: // LOCK
		case 0xF2:
			c.mode |= modeRepne
		case 0xF3:
			c.mode |= modeRepe
		default:
			return op
		}
	}
}

func (c *CPU) dispatch(op byte) {
	if h := c.baseOps[op]; h != nil {
		h(c, op)
		return
	}
	c.undefined(op)
}

func (c *CPU) undefined(op byte) {
	c.log.WithFields(logrus.Fields{
		"op":  op,
		"cs":  c.savedCS,
		"eip": c.savedEIP,
	}).Debug("undefined opcode")
	c.raiseUD()
}

// SetOpHandler replaces the handler for a one-byte opcode. A nil handler
// makes the opcode raise #UD.
func (c *CPU) SetOpHandler(op byte, h OpHandler) { c.baseOps[op] = h }

// SetCodeCheck installs or clears the per-instruction code check hook.
func (c *CPU) SetCodeCheck(f CodeCheckFunc) { c.codeCheck = f }
