package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// ScriptInstaller loads one Lua source file into its own *lua.LState and
// wires pre_<variant>/post_<variant> globals it defines as hooks for every
// variant.
//
// Each request handle crosses the Lua boundary as a table, built by
// round-tripping the Go value through JSON; a pre-hook mutates the table
// in place and the mutated fields are read back into the original pointer
// afterward, same observable contract as a shared mutable handle.
type ScriptInstaller struct {
	mu    sync.Mutex
	state *lua.LState
}

// LoadScript compiles and runs path once (top-level statements plus any
// pre_*/post_* function definitions), holding the resulting LState for the
// plugin's lifetime. One LState per script, and mu serializes every hook
// call on it: Lua values aren't safe to share across goroutines, and hooks
// run on each connection's own read goroutine.
func LoadScript(path string) (*ScriptInstaller, error) {
	l := lua.NewState()
	if err := l.DoFile(path); err != nil {
		l.Close()
		return nil, fmt.Errorf("plugin: load script %s: %w", path, err)
	}
	return &ScriptInstaller{state: l}, nil
}

// Close releases the underlying Lua state.
func (s *ScriptInstaller) Close() { s.state.Close() }

var allVariants = []Variant{
	VariantAuthEmail, VariantAuthDeviceId, VariantAuthCustomId, VariantLogout,
	VariantRefreshToken, VariantRestoreToken, VariantUserConnected, VariantUserDisconnected,
	VariantGetUserInformation, VariantUpdateUser,
	VariantCreateRoom, VariantUpdateRoom, VariantJoinToRoom, VariantProcessWaitingUser,
	VariantKickUserFromRoom, VariantDisconnectFromRoom, VariantMessageToRoom,
	VariantRoomList, VariantGetRoom, VariantPlay,
}

// Install registers whichever pre_*/post_* globals the script actually
// defines; a variant with neither is simply never looked up at run time.
func (s *ScriptInstaller) Install(b *Builder) {
	for _, v := range allVariants {
		variant := v
		if fn, ok := s.lookupFunc("pre_" + string(variant)); ok {
			fn := fn
			b.Pre(variant, func(ctx context.Context, req any) error {
				return s.callPre(fn, req)
			})
		}
		if fn, ok := s.lookupFunc("post_" + string(variant)); ok {
			fn := fn
			b.Post(variant, func(ctx context.Context, req any, success bool) error {
				return s.callPost(fn, req, success)
			})
		}
	}
}

func (s *ScriptInstaller) lookupFunc(name string) (*lua.LFunction, bool) {
	fn, ok := s.state.GetGlobal(name).(*lua.LFunction)
	return fn, ok
}

// callPre marshals req to a Lua table, invokes fn(table), and reads the
// (possibly mutated) table back into req. A script that wants to veto the
// request returns a string error message, which becomes a Validation error.
func (s *ScriptInstaller) callPre(fn *lua.LFunction, req any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := goToLuaTable(s.state, req)
	if err != nil {
		return Internal("marshal request for script: %v", err)
	}

	if err := s.state.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, table); err != nil {
		return Internal("script error: %v", err)
	}
	ret := s.state.Get(-1)
	s.state.Pop(1)

	if msg, ok := ret.(lua.LString); ok && msg != "" {
		return Validation("%s", string(msg))
	}

	return luaTableInto(table, req)
}

// callPost invokes fn(table, success); its error is logged and swallowed by
// Executor.RunPost, matching the post-hook's observe-only contract.
func (s *ScriptInstaller) callPost(fn *lua.LFunction, req any, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, err := goToLuaTable(s.state, req)
	if err != nil {
		return Internal("marshal request for script: %v", err)
	}
	if err := s.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, table, lua.LBool(success)); err != nil {
		return Internal("script error: %v", err)
	}
	return nil
}

func goToLuaTable(l *lua.LState, v any) (*lua.LTable, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	lv := goToLua(l, decoded)
	table, ok := lv.(*lua.LTable)
	if !ok {
		table = l.NewTable()
	}
	return table, nil
}

func goToLua(l *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		table := l.NewTable()
		for i, item := range val {
			table.RawSetInt(i+1, goToLua(l, item))
		}
		return table
	case map[string]any:
		table := l.NewTable()
		for key, item := range val {
			table.RawSetString(key, goToLua(l, item))
		}
		return table
	default:
		return lua.LNil
	}
}

// luaTableInto reads table back to JSON and decodes it into req, which must
// be a pointer to the original request struct.
func luaTableInto(table *lua.LTable, req any) error {
	decoded := luaToGo(table)
	raw, err := json.Marshal(decoded)
	if err != nil {
		return Internal("marshal mutated table: %v", err)
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return Internal("apply mutated table: %v", err)
	}
	return nil
}

func luaToGo(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if val.Len() > 0 {
			out := make([]any, 0, val.Len())
			val.ForEach(func(_, v lua.LValue) { out = append(out, luaToGo(v)) })
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) { out[k.String()] = luaToGo(v) })
		return out
	default:
		return nil
	}
}
