// Package ws exposes match sessions over websocket connections. The hub owns
// every live session and serializes all access to them: connection
// goroutines and the tick loop both funnel through one mutex, preserving the
// sessions' single-threaded execution model.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/matchbox/internal/game"
	"github.com/louisbranch/matchbox/internal/gametype"
	"github.com/louisbranch/matchbox/internal/script"
	"github.com/louisbranch/matchbox/internal/telemetry"
)

// Hub routes websocket clients to match sessions.
type Hub struct {
	mu       sync.Mutex
	registry *gametype.Registry
	engine   *script.Engine
	opts     game.Options
	emitter  *telemetry.Emitter
	matches  map[int]*match
	clock    func() time.Time
}

type match struct {
	session        *game.Session
	clients        map[*Client]struct{}
	disconnectedAt map[int]time.Time
	finished       bool
}

// NewHub creates a hub serving sessions built from the given registry. The
// options are passed through to every session; the hub layers its own
// winner hook on top to record the outcome and retire the match.
func NewHub(registry *gametype.Registry, engine *script.Engine, opts game.Options, emitter *telemetry.Emitter) *Hub {
	h := &Hub{
		registry: registry,
		engine:   engine,
		opts:     opts,
		emitter:  emitter,
		matches:  make(map[int]*match),
		clock:    time.Now,
	}
	if opts.Clock != nil {
		h.clock = opts.Clock
	}
	return h
}

// sessionOptions wraps the host options so the hub observes the outcome
// before the deployment hook runs.
func (h *Hub) sessionOptions(m *match) game.Options {
	opts := h.opts
	hostHook := opts.OnWinner
	opts.OnWinner = func(winner any) {
		m.finished = true
		s := m.session
		if s != nil {
			_ = h.emitter.Emit(context.Background(), telemetry.Event{
				EventName: "game_finished",
				GameID:    s.ID(),
				GameType:  s.GameType().Name,
				Attrs:     map[string]any{"winner": winner},
			})
		}
		if hostHook != nil {
			hostHook(winner)
		}
	}
	return opts
}

// Matches returns the number of live matches.
func (h *Hub) Matches() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.matches)
}

// Tick advances every live session one cycle: the periodic process event
// fires, overdue disconnects are flagged, and anything the sessions queued
// is delivered. Finished matches with no remaining clients are retired.
func (h *Hub) Tick() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock()
	for id, m := range h.matches {
		if err := m.session.Process(); err != nil {
			m.session.SendError(fmt.Sprintf("process: %v", err), game.ObserverRecipient)
		}
		if m.session.Started() {
			if err := m.session.AIPlay(); err != nil {
				m.session.SendError(fmt.Sprintf("ai play: %v", err), game.ObserverRecipient)
			}
		}
		for nplayer, at := range m.disconnectedAt {
			elapsed := int(now.Sub(at).Milliseconds())
			if err := m.session.PlayerDisconnectedFor(nplayer, elapsed); err != nil {
				m.session.SendError(fmt.Sprintf("disconnect check: %v", err), game.ObserverRecipient)
			}
		}
		h.flush(m)
		if m.finished && len(m.clients) == 0 {
			delete(h.matches, id)
		}
	}
}

// Reload reloads the game type registry.
func (h *Hub) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry.Reload()
}

// flush delivers everything the session queued since the last flush.
// Recipient indices address players, the observer index addresses every
// observer, and an empty list is a broadcast to all bound clients.
func (h *Hub) flush(m *match) {
	for _, msg := range m.session.SwapOutgoing() {
		for c := range m.clients {
			if c.wants(msg.Recipients) {
				c.write(msg.Contents)
			}
		}
	}
}

func (h *Hub) createGame(c *Client, msg map[string]any) error {
	if c.match != nil {
		return fmt.Errorf("already bound to game %d", c.match.session.ID())
	}

	m := &match{
		clients:        make(map[*Client]struct{}),
		disconnectedAt: make(map[int]time.Time),
	}
	s, err := game.NewSession(h.registry, h.engine, msg, h.sessionOptions(m))
	if err != nil {
		return err
	}
	m.session = s
	h.matches[s.ID()] = m

	nick, _ := msg["nick"].(string)
	if nick == "" {
		nick = "player"
	}
	s.AddPlayer(nick)
	h.bind(c, m, 0, nick)

	if players, ok := msg["players"].([]any); ok {
		for _, entry := range players {
			spec, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			name, _ := spec["name"].(string)
			if name == "" || name == nick {
				continue
			}
			if isBot, _ := spec["bot"].(bool); isBot {
				if err := s.AddAIPlayer(name, spec); err != nil {
					// A failed create leaves no state behind.
					h.unbind(c)
					delete(h.matches, s.ID())
					return fmt.Errorf("add bot %q: %w", name, err)
				}
			} else {
				s.AddPlayer(name)
			}
		}
	}

	_ = h.emitter.Emit(context.Background(), telemetry.Event{
		EventName: "game_created",
		GameID:    s.ID(),
		GameType:  s.GameType().Name,
		Player:    nick,
	})
	c.send(map[string]any{"type": "game_created", "game_id": s.ID()})
	h.flush(m)
	return nil
}

func (h *Hub) joinGame(c *Client, msg map[string]any) error {
	if c.match != nil {
		return fmt.Errorf("already bound to game %d", c.match.session.ID())
	}
	m, err := h.lookupMatch(msg)
	if err != nil {
		return err
	}
	nick, _ := msg["nick"].(string)
	if nick == "" {
		return fmt.Errorf("join requires a nick")
	}
	s := m.session

	if idx := s.PlayerIndex(nick); idx >= 0 {
		// Known nickname: this is a reconnect to the existing slot.
		h.bind(c, m, idx, nick)
		delete(m.disconnectedAt, idx)
		s.PlayerReconnect(idx)
		if err := s.SendGameState(idx, -1); err != nil {
			return err
		}
		h.flush(m)
		return nil
	}

	if s.Started() {
		return fmt.Errorf("game %d already started", s.ID())
	}
	idx := len(s.Players())
	s.AddPlayer(nick)
	h.bind(c, m, idx, nick)
	_ = h.emitter.Emit(context.Background(), telemetry.Event{
		EventName: "player_joined",
		GameID:    s.ID(),
		GameType:  s.GameType().Name,
		Player:    nick,
	})
	if err := s.SendGameState(idx, -1); err != nil {
		return err
	}
	h.flush(m)
	return nil
}

func (h *Hub) observeGame(c *Client, msg map[string]any) error {
	if c.match != nil {
		return fmt.Errorf("already bound to game %d", c.match.session.ID())
	}
	m, err := h.lookupMatch(msg)
	if err != nil {
		return err
	}
	nick, _ := msg["nick"].(string)
	h.bind(c, m, game.ObserverRecipient, nick)

	envelope, err := m.session.Write(game.ObserverRecipient, -1)
	if err != nil {
		return err
	}
	if err := m.session.QueueMessage(envelope, game.ObserverRecipient); err != nil {
		return err
	}
	h.flush(m)
	return nil
}

func (h *Hub) lookupMatch(msg map[string]any) (*match, error) {
	id, ok := intValue(msg["game_id"])
	if !ok {
		return nil, fmt.Errorf("game_id is required")
	}
	m, ok := h.matches[id]
	if !ok {
		return nil, fmt.Errorf("unknown game %d", id)
	}
	return m, nil
}

func (h *Hub) bind(c *Client, m *match, nplayer int, nick string) {
	c.match = m
	c.nplayer = nplayer
	c.nick = nick
	m.clients[c] = struct{}{}
}

func (h *Hub) unbind(c *Client) {
	if c.match != nil {
		delete(c.match.clients, c)
	}
	c.match = nil
	c.nplayer = game.ObserverRecipient
	c.nick = ""
}

// handle processes one decoded inbound message for a bound or unbound
// client. Hub-level message types manage the binding; everything else goes
// to the bound session's dispatcher.
func (h *Hub) handle(c *Client, msg map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msgType, _ := msg["type"].(string)
	var err error
	switch msgType {
	case "create_game":
		err = h.createGame(c, msg)
	case "join_game":
		err = h.joinGame(c, msg)
	case "observe_game":
		err = h.observeGame(c, msg)
	default:
		if c.match == nil {
			err = fmt.Errorf("not bound to a game")
			break
		}
		err = c.match.session.HandleMessage(c.nplayer, msg)
		if err == nil {
			err = c.match.session.AIPlay()
		}
		h.flush(c.match)
	}
	if err != nil {
		c.send(map[string]any{"type": "error", "message": err.Error()})
	}
}

// drop unbinds a client whose connection closed. Player slots stay reserved
// so the nickname can reconnect; the session is told so peers hear about it.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := c.match
	if m == nil {
		return
	}
	delete(m.clients, c)
	c.match = nil
	if c.nplayer >= 0 {
		m.disconnectedAt[c.nplayer] = h.clock()
		m.session.PlayerDisconnect(c.nplayer)
		h.flush(m)
	}
}

func intValue(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
