package bot

import (
	"log"

	"github.com/louisbranch/matchbox/internal/game"
)

// Script drives a bot slot with the game type's bot handler. Each call asks
// the handler for the slot's next protocol message; a nil result means the
// bot has nothing more to play this pass.
type Script struct {
	session *game.Session
	index   int
}

// NewScript binds an in-process controller to a player slot.
func NewScript(s *game.Session, playerIndex int) *Script {
	return &Script{session: s, index: playerIndex}
}

// PlayerIndex implements game.Controller.
func (c *Script) PlayerIndex() int { return c.index }

// Next implements game.Controller.
func (c *Script) Next() (map[string]any, bool) {
	result, ok, err := c.session.QueryHandler("bot", map[string]any{"nplayer": c.index})
	if err != nil {
		log.Printf("game %d: bot handler for slot %d: %v", c.session.ID(), c.index, err)
		return nil, false
	}
	if !ok || result == nil {
		return nil, false
	}
	msg, ok := result.(map[string]any)
	if !ok {
		log.Printf("game %d: bot handler for slot %d returned %T, want message", c.session.ID(), c.index, result)
		return nil, false
	}
	return msg, true
}

var _ game.Controller = (*Script)(nil)
