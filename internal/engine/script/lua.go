package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
)

type (
	// LuaEnv evaluates Lua skip conditions. Conditions are compiled once
	// to bytecode and run on pooled interpreter states that only expose
	// the base, string, table and math libraries
	LuaEnv struct {
		*compiler[*CompiledLua]
		states sync.Pool
	}

	// CompiledLua is a precompiled Lua chunk. The chunk receives the
	// condition inputs as varargs and binds them to locals
	CompiledLua struct {
		bytecode []byte
		args     []string
	}
)

const (
	luaCacheSize = 4096
	luaChunkName = "condition"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var (
	luaLibraries = []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
	}

	luaBlockedGlobals = []string{
		"collectgarbage", "dofile", "load", "loadfile", "print",
	}
)

// NewLuaEnv creates a Lua environment
func NewLuaEnv() *LuaEnv {
	e := &LuaEnv{}
	e.states.New = func() any {
		return newSandbox()
	}
	e.compiler = newCompiler(luaCacheSize, compileLua)
	return e
}

// EvaluatePredicate runs a compiled condition and reports its truthiness
func (e *LuaEnv) EvaluatePredicate(c Compiled, inputs Args) (bool, error) {
	chunk, ok := c.(*CompiledLua)
	if !ok || chunk == nil {
		return false, nil
	}

	L := e.states.Get().(*lua.State)
	defer func() {
		L.SetTop(0)
		e.states.Put(L)
	}()

	err := L.Load(bytes.NewReader(chunk.bytecode), luaChunkName, "b")
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	for _, name := range chunk.args {
		pushLuaValue(L, inputs[name])
	}
	if err := L.ProtectedCall(len(chunk.args), 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}
	return L.ToBoolean(-1), nil
}

func compileLua(script string) (*CompiledLua, error) {
	src := "local " + strings.Join(argNames, ", ") + " = ...\n" + script

	L := lua.NewState()
	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	return &CompiledLua{
		bytecode: buf.Bytes(),
		args:     argNames,
	}, nil
}

func newSandbox() *lua.State {
	L := lua.NewState()
	for _, lib := range luaLibraries {
		lua.Require(L, lib.Name, lib.Function, true)
		L.Pop(1)
	}
	for _, name := range luaBlockedGlobals {
		L.PushNil()
		L.SetGlobal(name)
	}
	return L
}

func pushLuaValue(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(v)
	case string:
		L.PushString(v)
	case int:
		L.PushInteger(v)
	case int32:
		L.PushInteger(int(v))
	case int64:
		L.PushInteger(int(v))
	case float32:
		L.PushNumber(float64(v))
	case float64:
		L.PushNumber(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			L.PushNumber(f)
			return
		}
		L.PushString(v.String())
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			pushLuaValue(L, item)
			L.RawSetInt(-2, i+1)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for key, item := range v {
			pushLuaValue(L, item)
			L.SetField(-2, key)
		}
	case map[string]string:
		L.CreateTable(0, len(v))
		for key, item := range v {
			L.PushString(item)
			L.SetField(-2, key)
		}
	default:
		L.PushString(fmt.Sprint(v))
	}
}
