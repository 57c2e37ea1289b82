package game

import (
	"errors"
	"testing"
)

func TestSequenceCommandRunsInOrder(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"turn": `return {
  set("log_message", "one"),
  set("log_message", "two"),
  set("log_message", "three"),
}`,
	}, Options{})

	if err := s.HandleEvent("turn", nil); err != nil {
		t.Fatalf("turn error = %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(s.Log()) != len(want) {
		t.Fatalf("log = %v, want %v", s.Log(), want)
	}
	for n, w := range want {
		if s.Log()[n] != w {
			t.Errorf("log[%d] = %s, want %s", n, s.Log()[n], w)
		}
	}
}

func TestSequenceStopsOnFailure(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"turn": `return {
  set("log_message", "before"),
  set("no_such_key", 1),
  set("log_message", "after"),
}`,
	}, Options{})

	if err := s.HandleEvent("turn", nil); err == nil {
		t.Fatal("bad store key accepted")
	}
	if len(s.Log()) != 1 || s.Log()[0] != "before" {
		t.Errorf("log = %v, want execution stopped after first element", s.Log())
	}
}

func TestExpressionCommand(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"turn": `return {
  execute = "return set('log_message', 'rolled ' .. roll)",
  arg = { roll = 6 },
}`,
	}, Options{})

	if err := s.HandleEvent("turn", nil); err != nil {
		t.Fatalf("turn error = %v", err)
	}
	if len(s.Log()) != 1 || s.Log()[0] != "rolled 6" {
		t.Errorf("log = %v, want expression result", s.Log())
	}
}

func TestExpressionCommandMissingArg(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"turn": `return { execute = "return nil" }`,
	}, Options{})

	err := s.HandleEvent("turn", nil)
	if !errors.Is(err, ErrMissingArg) {
		t.Fatalf("error = %v, want ErrMissingArg", err)
	}
}

func TestIgnorableResultShapes(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"nil", `return nil`},
		{"scalar", `return 42`},
		{"string", `return "noop"`},
		{"plain map", `return { note = "not a command" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, map[string]string{"turn": tt.source}, Options{})
			if err := s.HandleEvent("turn", nil); err != nil {
				t.Fatalf("result %s rejected: %v", tt.name, err)
			}
		})
	}
}

func TestNestedSequences(t *testing.T) {
	s, _ := newTestSession(t, map[string]string{
		"turn": `return {
  { set("log_message", "a"), set("log_message", "b") },
  set("log_message", "c"),
}`,
	}, Options{})

	if err := s.HandleEvent("turn", nil); err != nil {
		t.Fatalf("turn error = %v", err)
	}
	want := []string{"a", "b", "c"}
	for n, w := range want {
		if n >= len(s.Log()) || s.Log()[n] != w {
			t.Fatalf("log = %v, want %v", s.Log(), want)
		}
	}
}
