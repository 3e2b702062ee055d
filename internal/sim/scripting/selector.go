// Package scripting lets operators override where wandering agents head
// next with a small Lua file.
package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"walkersim.dev/internal/sim/population"
)

const chooseFn = "choose_target"

// Selector runs choose_target(ctx) from a Lua script. One VM, scheduler
// goroutine only.
type Selector struct {
	vm  *lua.LState
	fn  lua.LValue
	ctx *lua.LTable
	log *zap.Logger

	failures int
}

var _ population.TargetSelector = (*Selector)(nil)

// Load compiles the script at path.
func Load(path string, log *zap.Logger) (*Selector, error) {
	return newSelector(log, func(vm *lua.LState) error { return vm.DoFile(path) }, path)
}

// LoadString compiles an in-memory script.
func LoadString(src string, log *zap.Logger) (*Selector, error) {
	return newSelector(log, func(vm *lua.LState) error { return vm.DoString(src) }, "<string>")
}

func newSelector(log *zap.Logger, load func(*lua.LState) error, name string) (*Selector, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{SkipOpenLibs: true})
	// no io or os
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.MathLibName, lua.OpenMath},
		{lua.StringLibName, lua.OpenString},
	} {
		vm.Push(vm.NewFunction(lib.fn))
		vm.Push(lua.LString(lib.name))
		vm.Call(1, 0)
	}
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	if err := load(vm); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load target script %s: %w", name, err)
	}
	fn := vm.GetGlobal(chooseFn)
	if fn.Type() != lua.LTFunction {
		vm.Close()
		return nil, fmt.Errorf("target script %s: %s is not defined", name, chooseFn)
	}
	log.Info("target script loaded", zap.String("script", name))
	return &Selector{vm: vm, fn: fn, ctx: vm.NewTable(), log: log.Named("scripting")}, nil
}

func (s *Selector) Close() { s.vm.Close() }

// Failures counts script errors and unrecognised return values.
func (s *Selector) Failures() int { return s.failures }

// SelectTarget falls back to the built-in rules when the script errors or
// returns something it does not recognise.
func (s *Selector) SelectTarget(q population.TargetQuery) population.TargetKind {
	t := s.ctx
	t.RawSetString("id", lua.LNumber(q.AgentID))
	t.RawSetString("x", lua.LNumber(q.Pos.X))
	t.RawSetString("z", lua.LNumber(q.Pos.Z))
	t.RawSetString("visited", lua.LNumber(len(q.Visited)))
	t.RawSetString("blood_moon", lua.LBool(q.BloodMoon))
	if n := len(q.Visited); n > 0 {
		t.RawSetString("last_visited", lua.LString(q.Visited[n-1].Kind.String()))
	} else {
		t.RawSetString("last_visited", lua.LNil)
	}

	if err := s.vm.CallByParam(lua.P{Fn: s.fn, NRet: 1, Protect: true}, t); err != nil {
		s.fail("lua choose_target error", zap.Error(err))
		return population.TargetDefault
	}
	ret := s.vm.Get(-1)
	s.vm.Pop(1)

	switch ret {
	case lua.LNil:
		return population.TargetDefault
	case lua.LString("poi"):
		return population.TargetPOI
	case lua.LString("world"):
		return population.TargetWorld
	case lua.LString("player"):
		return population.TargetPlayer
	}
	s.fail("lua choose_target returned unknown kind", zap.String("value", ret.String()))
	return population.TargetDefault
}

func (s *Selector) fail(msg string, fields ...zap.Field) {
	s.failures++
	// first failure at warn, repeats at debug
	if s.failures == 1 {
		s.log.Warn(msg, fields...)
		return
	}
	s.log.Debug(msg, fields...)
}
