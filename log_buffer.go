// log_buffer.go - Bounded trace log with flush callback
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package x86emu

import (
	"fmt"
)

// FlushFunc receives the buffered log text when the buffer fills up or is
// cleared with flushing.
type FlushFunc func(p []byte)

const logFullMark = "*** LOG FULL ***\n"

// LogBuffer collects trace lines up to a fixed size. With a flush callback
// it hands off its contents when full; without one it stops accepting text
// and ends with a LOG FULL marker.
type LogBuffer struct {
	buf   []byte
	size  int
	full  bool
	flush FlushFunc
}

// NewLogBuffer creates a buffer holding at most size bytes.
func NewLogBuffer(size int, flush FlushFunc) *LogBuffer {
	if size < len(logFullMark) {
		size = len(logFullMark)
	}
	return &LogBuffer{buf: make([]byte, 0, size), size: size, flush: flush}
}

// Write appends p. It never fails.
func (l *LogBuffer) Write(p []byte) (int, error) {
	if l.full {
		return len(p), nil
	}

	if l.flush != nil {
		if len(l.buf)+len(p) > l.size {
			l.flushNow()
			if len(p) > l.size {
				l.flush(p)
				return len(p), nil
			}
		}
		l.buf = append(l.buf, p...)
		return len(p), nil
	}

	if len(l.buf)+len(p) > l.size-len(logFullMark) {
		l.buf = append(l.buf, logFullMark...)
		l.full = true
		return len(p), nil
	}
	l.buf = append(l.buf, p...)
	return len(p), nil
}

// Printf formats a line into the buffer.
func (l *LogBuffer) Printf(format string, args ...any) {
	fmt.Fprintf(l, format, args...)
}

func (l *LogBuffer) flushNow() {
	if len(l.buf) > 0 {
		l.flush(l.buf)
	}
	l.buf = l.buf[:0]
}

// Clear empties the buffer, first passing the contents to the flush
// callback if flush is set and a callback exists.
func (l *LogBuffer) Clear(flush bool) {
	if flush && l.flush != nil {
		l.flushNow()
	}
	l.buf = l.buf[:0]
	l.full = false
}

// Full reports whether text has been dropped.
func (l *LogBuffer) Full() bool { return l.full }

// Len returns the number of buffered bytes.
func (l *LogBuffer) Len() int { return len(l.buf) }

// Bytes returns the buffered text. The slice is valid until the next write.
func (l *LogBuffer) Bytes() []byte { return l.buf }

func (l *LogBuffer) String() string { return string(l.buf) }

// logf writes to the trace log if one is configured.
func (c *CPU) logf(format string, args ...any) {
	if c.logBuf == nil {
		return
	}
	c.logBuf.Printf(format, args...)
}

// Log returns the trace log buffer, or nil if none was configured.
func (c *CPU) Log() *LogBuffer { return c.logBuf }

// SetLogBuffer replaces the trace log buffer; nil disables trace output.
func (c *CPU) SetLogBuffer(l *LogBuffer) { c.logBuf = l }

// ClearLog empties the trace log, flushing it first if flush is set.
func (c *CPU) ClearLog(flush bool) {
	if c.logBuf != nil {
		c.logBuf.Clear(flush)
	}
}
