// Package bot provides AI controllers that play matches in place of human
// clients. Two implementations exist: an in-process controller driven by the
// game type's bot handler, and a remote controller that defers decisions to
// a networked bot service.
package bot

import (
	"fmt"

	"github.com/louisbranch/matchbox/internal/game"
)

// Mode selects the controller implementation for new bot slots.
type Mode string

const (
	// ModeScript runs the game type's bot handler in process.
	ModeScript Mode = "script"
	// ModeRemote defers moves to an external bot service.
	ModeRemote Mode = "remote"
)

// Factory returns a controller factory for the given mode. Remote mode
// requires the bot service endpoint.
func Factory(mode Mode, endpoint string) (game.ControllerFactory, error) {
	switch mode {
	case "", ModeScript:
		return func(s *game.Session, playerIndex int, info map[string]any) (game.Controller, error) {
			return NewScript(s, playerIndex), nil
		}, nil
	case ModeRemote:
		if endpoint == "" {
			return nil, fmt.Errorf("remote bot mode requires an endpoint")
		}
		return func(s *game.Session, playerIndex int, info map[string]any) (game.Controller, error) {
			return NewRemote(s, playerIndex, endpoint), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown bot mode %q", mode)
	}
}
