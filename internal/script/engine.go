// Package script hosts the Lua handler engine used by game types.
//
// A handler is a compiled Lua chunk. When executed, global name lookups that
// the chunk does not define itself resolve through the engine's current
// binding: first the primary environment (the session), then the fallback
// variable scope injected for that event. The binding is established on entry
// and restored on every exit path, so nested handler execution never leaks
// one event's variables into another's.
package script

import (
	"fmt"

	"github.com/Shopify/go-lua"
)

const actionTypeName = "matchbox.action"

// Environment resolves and mutates named values during handler execution.
// The session is the primary implementation; Vars provides ad-hoc scopes.
type Environment interface {
	// LookupValue resolves a name, reporting whether it was found.
	LookupValue(name string) (any, bool)
	// StoreValue assigns a value to a name.
	StoreValue(name string, value any) error
}

// Vars is a map-backed Environment used for injected event variables.
type Vars map[string]any

// LookupValue implements Environment.
func (v Vars) LookupValue(name string) (any, bool) {
	value, ok := v[name]
	return value, ok
}

// StoreValue implements Environment.
func (v Vars) StoreValue(name string, value any) error {
	v[name] = value
	return nil
}

// Action is a native command produced by a handler builtin. Executing it
// mutates the environment it is run against.
type Action struct {
	Name string
	Run  func(env Environment) error
}

// Handler is a compiled chunk parked in the Lua registry.
type Handler struct {
	Name string
	key  string
	env  string
}

// Env is an isolated environment table parked in the Lua registry. Chunks
// bound to it see its definitions first and fall through to the shared
// globals (builtins, the dynamic resolver) for everything else. Definitions
// a bound chunk makes land in the table, never in the globals.
type Env struct {
	key string
}

// Engine wraps a single Lua state. It is not safe for concurrent use; the
// host serializes all session work on one logical thread.
type Engine struct {
	state *lua.State
	env   Environment
	vars  Environment
	seq   int
}

// NewEngine creates an engine with builtins and the global resolver installed.
func NewEngine() *Engine {
	l := lua.NewState()
	lua.OpenLibraries(l)

	e := &Engine{state: l}
	lua.NewMetaTable(l, actionTypeName)
	l.Pop(1)
	e.installGlobalResolver()
	e.installBuiltins()
	return e
}

// installGlobalResolver routes global reads the chunk does not define through
// the engine's current (environment, fallback) binding.
func (e *Engine) installGlobalResolver() {
	l := e.state
	l.RawGetInt(lua.RegistryIndex, lua.RegistryIndexGlobals)
	l.NewTable()
	l.PushGoFunction(func(l *lua.State) int {
		if l.TypeOf(2) != lua.TypeString {
			l.PushNil()
			return 1
		}
		name, _ := l.ToString(2)
		if v, ok := e.resolve(name); ok {
			pushValue(l, v)
		} else {
			l.PushNil()
		}
		return 1
	})
	l.SetField(-2, "__index")
	l.SetMetaTable(-2)
	l.Pop(1)
}

func (e *Engine) resolve(name string) (any, bool) {
	if e.env != nil {
		if v, ok := e.env.LookupValue(name); ok {
			return v, true
		}
	}
	if e.vars != nil {
		if v, ok := e.vars.LookupValue(name); ok {
			return v, true
		}
	}
	return nil, false
}

// installBuiltins registers the globals handlers use to produce native
// commands. Builtins never mutate anything directly; they return actions the
// command interpreter runs against the session.
func (e *Engine) installBuiltins() {
	l := e.state

	l.PushGoFunction(func(l *lua.State) int {
		key := lua.CheckString(l, 1)
		val := toGoValue(l, 2)
		pushValue(l, &Action{
			Name: "set " + key,
			Run: func(env Environment) error {
				return env.StoreValue(key, val)
			},
		})
		return 1
	})
	l.SetGlobal("set")

	l.PushGoFunction(func(l *lua.State) int {
		line := lua.CheckString(l, 1)
		pushValue(l, &Action{
			Name: "log_message",
			Run: func(env Environment) error {
				return env.StoreValue("log_message", line)
			},
		})
		return 1
	})
	l.SetGlobal("log_message")

	l.PushGoFunction(func(l *lua.State) int {
		name := lua.CheckString(l, 1)
		var arg any
		if !l.IsNoneOrNil(2) {
			arg = toGoValue(l, 2)
		}
		pushValue(l, &Action{
			Name: "fire_event " + name,
			Run: func(env Environment) error {
				return env.StoreValue("event", map[string]any{"event": name, "arg": arg})
			},
		})
		return 1
	})
	l.SetGlobal("fire_event")
}

// envPrologue rebinds a chunk's _ENV to the environment table passed as its
// sole argument, so bound chunks resolve and define names there.
const envPrologue = "local _ENV = ...\n"

// NewEnv creates an isolated environment table whose lookups fall through to
// the shared globals.
func (e *Engine) NewEnv() *Env {
	l := e.state
	l.NewTable()
	l.NewTable()
	l.RawGetInt(lua.RegistryIndex, lua.RegistryIndexGlobals)
	l.SetField(-2, "__index")
	l.SetMetaTable(-2)
	e.seq++
	key := fmt.Sprintf("matchbox.env.%d", e.seq)
	l.SetField(lua.RegistryIndex, key)
	return &Env{key: key}
}

// Compile loads source once and parks the compiled function in the registry.
// The chunk runs against the shared globals.
func (e *Engine) Compile(name, source string) (*Handler, error) {
	return e.CompileIn(nil, name, source)
}

// CompileIn is Compile bound to an environment table. Game types compile
// their handlers against a per-type environment so one type's function
// definitions never collide with another's.
func (e *Engine) CompileIn(env *Env, name, source string) (*Handler, error) {
	l := e.state
	top := l.Top()
	envKey := ""
	if env != nil {
		source = envPrologue + source
		envKey = env.key
	}
	if err := lua.LoadString(l, source); err != nil {
		l.SetTop(top)
		return nil, fmt.Errorf("compile handler %q: %w", name, err)
	}
	e.seq++
	key := fmt.Sprintf("matchbox.handler.%d", e.seq)
	l.SetField(lua.RegistryIndex, key)
	return &Handler{Name: name, key: key, env: envKey}, nil
}

// Run executes a chunk for its side effects against the shared globals.
func (e *Engine) Run(source string) error {
	return e.RunIn(nil, source)
}

// RunIn executes a chunk for its side effects with the given environment as
// its _ENV. Game types run their function prelude here once at load.
func (e *Engine) RunIn(env *Env, source string) error {
	l := e.state
	top := l.Top()
	if env != nil {
		source = envPrologue + source
	}
	if err := lua.LoadString(l, source); err != nil {
		l.SetTop(top)
		return fmt.Errorf("compile chunk: %w", err)
	}
	nargs := 0
	if env != nil {
		l.Field(lua.RegistryIndex, env.key)
		nargs = 1
	}
	if err := l.ProtectedCall(nargs, 0, 0); err != nil {
		l.SetTop(top)
		return fmt.Errorf("run chunk: %w", err)
	}
	return nil
}

// Execute runs a compiled handler under the given binding and returns the
// chunk's result converted to a Go value.
func (e *Engine) Execute(h *Handler, env Environment, vars Environment) (any, error) {
	if h == nil {
		return nil, nil
	}
	prevEnv, prevVars := e.env, e.vars
	e.env, e.vars = env, vars
	defer func() {
		e.env, e.vars = prevEnv, prevVars
	}()

	l := e.state
	top := l.Top()
	l.Field(lua.RegistryIndex, h.key)
	nargs := 0
	if h.env != "" {
		l.Field(lua.RegistryIndex, h.env)
		nargs = 1
	}
	if err := l.ProtectedCall(nargs, 1, 0); err != nil {
		l.SetTop(top)
		return nil, fmt.Errorf("execute handler %q: %w", h.Name, err)
	}
	result := toGoValue(l, -1)
	l.SetTop(top)
	return result, nil
}

// ExecuteExpression compiles and runs an inline expression command. The
// argument bundle is the only environment visible to it.
func (e *Engine) ExecuteExpression(source string, vars Environment) (any, error) {
	l := e.state
	top := l.Top()
	if err := lua.LoadString(l, source); err != nil {
		l.SetTop(top)
		return nil, fmt.Errorf("compile expression: %w", err)
	}

	prevEnv, prevVars := e.env, e.vars
	e.env, e.vars = vars, nil
	defer func() {
		e.env, e.vars = prevEnv, prevVars
	}()

	if err := l.ProtectedCall(0, 1, 0); err != nil {
		l.SetTop(top)
		return nil, fmt.Errorf("execute expression: %w", err)
	}
	result := toGoValue(l, -1)
	l.SetTop(top)
	return result, nil
}
