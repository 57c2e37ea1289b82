package bot

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/matchbox/internal/game"
)

// Remote defers bot decisions to an external bot service. Each call posts
// the current match view and expects either a protocol message or null when
// the service has nothing to play.
type Remote struct {
	session  *game.Session
	index    int
	endpoint string
	client   *http.Client
}

// NewRemote binds a networked controller to a player slot.
func NewRemote(s *game.Session, playerIndex int, endpoint string) *Remote {
	return &Remote{
		session:  s,
		index:    playerIndex,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// PlayerIndex implements game.Controller.
func (c *Remote) PlayerIndex() int { return c.index }

type moveRequest struct {
	GameID   int    `json:"game_id"`
	GameType string `json:"game_type"`
	NPlayer  int    `json:"nplayer"`
	StateID  int    `json:"state_id"`
	State    any    `json:"state"`
}

// Next implements game.Controller. Service failures end the bot's pass; the
// orchestrator will ask again on the next trigger.
func (c *Remote) Next() (map[string]any, bool) {
	body, err := json.Marshal(moveRequest{
		GameID:   c.session.ID(),
		GameType: c.session.GameType().Name,
		NPlayer:  c.index,
		StateID:  c.session.StateID(),
		State:    c.session.Doc(),
	})
	if err != nil {
		log.Printf("game %d: encode bot request: %v", c.session.ID(), err)
		return nil, false
	}

	resp, err := c.client.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("game %d: bot service: %v", c.session.ID(), err)
		return nil, false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		log.Printf("game %d: bot service: %s", c.session.ID(), resp.Status)
		return nil, false
	}

	var msg map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		log.Printf("game %d: decode bot move: %v", c.session.ID(), err)
		return nil, false
	}
	if msg == nil {
		return nil, false
	}
	return msg, true
}

var _ game.Controller = (*Remote)(nil)
