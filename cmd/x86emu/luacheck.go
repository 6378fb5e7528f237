// luacheck.go - Lua scripted code check hook
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"

	"github.com/intuitionamiga/x86emu"
	lua "github.com/yuin/gopher-lua"
)

// luaCheck runs a script's check(regs) function before every instruction.
// The script may call peek(addr) to read guest memory without touching the
// access history. A true result stops the run.
type luaCheck struct {
	L    *lua.LState
	fn   lua.LValue
	cpu  *x86emu.CPU
	regs *lua.LTable
	err  error
}

func loadLuaCheck(path string) (*luaCheck, error) {
	L := lua.NewState()
	lc := &luaCheck{L: L, regs: L.NewTable()}

	L.SetGlobal("peek", L.NewFunction(lc.peek))
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("check script %s: %w", path, err)
	}
	lc.fn = L.GetGlobal("check")
	if lc.fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("check script %s: no check function defined", path)
	}
	return lc, nil
}

// peek(addr) returns the byte at a linear address, or nil if unallocated.
func (lc *luaCheck) peek(L *lua.LState) int {
	addr := uint32(L.CheckNumber(1))
	if lc.cpu == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := lc.cpu.Mem.Peek(addr)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

// Check is an x86emu.CodeCheckFunc.
func (lc *luaCheck) Check(c *x86emu.CPU) bool {
	lc.cpu = c
	for _, r := range c.Registers() {
		lc.regs.RawSetString(r.Name, lua.LNumber(r.Value))
	}
	if err := lc.L.CallByParam(lua.P{Fn: lc.fn, NRet: 1, Protect: true}, lc.regs); err != nil {
		lc.err = err
		log.WithError(err).WithField("tsc", c.TSC).Error("check script failed")
		return true
	}
	ret := lc.L.Get(-1)
	lc.L.Pop(1)
	return lua.LVAsBool(ret)
}

// Err returns the script error that stopped the run, if any.
func (lc *luaCheck) Err() error { return lc.err }

func (lc *luaCheck) Close() { lc.L.Close() }
