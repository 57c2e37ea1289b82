package game

import (
	"errors"
	"fmt"

	"github.com/louisbranch/matchbox/internal/script"
)

// ErrMissingArg indicates an expression command without its argument bundle.
// Such commands are always hand-authored by game-type scripts, so the
// omission is a fatal construction error rather than a silent skip.
var ErrMissingArg = errors.New("execute command requires an arg bundle")

// Command is one state mutation described by a handler's return value. The
// union is decided at construction time by parseCommand; shapes that match
// nothing are dropped there as no-ops.
type Command interface {
	run(s *Session) error
}

// sequenceCommand executes elements in order. Engine failures propagate out
// of the whole sequence; the containing message-handling step is abandoned.
type sequenceCommand []any

func (c sequenceCommand) run(s *Session) error {
	for _, el := range c {
		if err := s.executeCommand(el); err != nil {
			return err
		}
	}
	return nil
}

// nativeCommand runs a builtin-produced action with direct mutation access.
type nativeCommand struct {
	action *script.Action
}

func (c nativeCommand) run(s *Session) error {
	if err := c.action.Run(s); err != nil {
		return fmt.Errorf("native command %s: %w", c.action.Name, err)
	}
	return nil
}

// expressionCommand compiles an inline expression against its argument
// bundle and feeds the result back into command execution, supporting
// chained command generation.
type expressionCommand struct {
	source string
	arg    map[string]any
}

func (c expressionCommand) run(s *Session) error {
	result, err := s.engine.ExecuteExpression(c.source, script.Vars(c.arg))
	if err != nil {
		return err
	}
	return s.executeCommand(result)
}

// parseCommand decides the command union for a handler result. Scalars,
// nils, and unmatched maps yield a nil command, which is ignored.
func parseCommand(v any) (Command, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return sequenceCommand(t), nil
	case *script.Action:
		return nativeCommand{action: t}, nil
	case map[string]any:
		source, ok := t["execute"].(string)
		if !ok {
			return nil, nil
		}
		arg, ok := t["arg"].(map[string]any)
		if !ok {
			return nil, ErrMissingArg
		}
		return expressionCommand{source: source, arg: arg}, nil
	default:
		return nil, nil
	}
}

// executeCommand interprets a handler's return value.
func (s *Session) executeCommand(v any) error {
	cmd, err := parseCommand(v)
	if err != nil {
		return err
	}
	if cmd == nil {
		return nil
	}
	return cmd.run(s)
}
