// Package gametype loads and registers the per-type compiled handler tables
// sessions dispatch against.
//
// A game type is a YAML file in the registry directory:
//
//	functions: |        # optional Lua prelude, run once into the type's
//	                    # own environment at load
//	  function flip(side) return 1 - side end
//	handlers:
//	  create: |         # Lua chunk whose return value is a command
//	    return set("doc", { board = {} })
//
// The file's base name (lowercased) is the type name. Types are immutable
// once loaded; Reload swaps the whole table as an explicit admin action.
package gametype

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/louisbranch/matchbox/internal/script"
)

// Type is one immutable game type: a name plus its compiled handler table.
type Type struct {
	Name     string
	Handlers map[string]*script.Handler
}

// Handler looks up the compiled handler for an event name.
func (t *Type) Handler(name string) (*script.Handler, bool) {
	h, ok := t.Handlers[name]
	return h, ok
}

type definition struct {
	Functions string            `yaml:"functions"`
	Handlers  map[string]string `yaml:"handlers"`
}

// Registry holds the loaded game types.
type Registry struct {
	engine *script.Engine
	dir    string
	types  map[string]*Type
}

// NewRegistry loads every game type definition found in dir.
func NewRegistry(engine *script.Engine, dir string) (*Registry, error) {
	r := &Registry{engine: engine, dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the registry directory and replaces the loaded table.
// A broken definition aborts the reload and keeps the previous table.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read game type dir: %w", err)
	}

	types := make(map[string]*Type)
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		typeName := strings.ToLower(strings.TrimSuffix(name, ext))
		loaded, err := r.loadFile(typeName, filepath.Join(r.dir, name))
		if err != nil {
			return err
		}
		types[typeName] = loaded
		log.Printf("loaded game type %q (%d handlers)", typeName, len(loaded.Handlers))
	}

	r.types = types
	return nil
}

func (r *Registry) loadFile(typeName, path string) (*Type, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read game type %q: %w", typeName, err)
	}

	var def definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse game type %q: %w", typeName, err)
	}

	// Each type gets its own function environment: the prelude's definitions
	// are visible to this type's handlers only, and a load that aborts
	// midway leaves nothing behind in the shared globals.
	env := r.engine.NewEnv()
	if strings.TrimSpace(def.Functions) != "" {
		if err := r.engine.RunIn(env, def.Functions); err != nil {
			return nil, fmt.Errorf("game type %q functions: %w", typeName, err)
		}
	}

	handlers := make(map[string]*script.Handler, len(def.Handlers))
	for event, source := range def.Handlers {
		h, err := r.engine.CompileIn(env, typeName+"."+event, source)
		if err != nil {
			return nil, fmt.Errorf("game type %q: %w", typeName, err)
		}
		handlers[event] = h
	}

	return &Type{Name: typeName, Handlers: handlers}, nil
}

// Lookup returns the type registered under name, case-insensitively.
func (r *Registry) Lookup(name string) (*Type, bool) {
	t, ok := r.types[strings.ToLower(name)]
	return t, ok
}

// Names lists the registered type names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
