package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/louisbranch/matchbox/internal/game"
	"github.com/louisbranch/matchbox/internal/gametype"
	"github.com/louisbranch/matchbox/internal/script"
)

type fakeConn struct {
	writes [][]byte
	closed bool
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// sent decodes everything written to the connection and resets it.
func (c *fakeConn) sent(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, data := range c.writes {
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode written message: %v", err)
		}
		out = append(out, msg)
	}
	c.writes = nil
	return out
}

// replayConn feeds scripted frames to Serve before failing like a closed
// connection.
type replayConn struct {
	fakeConn
	frames [][]byte
	// hold keeps the connection open after the frames run out until closed.
	hold chan struct{}
}

func (c *replayConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		if c.hold != nil {
			<-c.hold
		}
		return 0, nil, errors.New("closed")
	}
	data := c.frames[0]
	c.frames = c.frames[1:]
	return websocket.TextMessage, data, nil
}

const arenaType = `
handlers:
  create: |
    return set("doc", { round = 0 })
  start: |
    return {
      set("doc", { round = 1 }),
      set("state_id", state_id + 1),
    }
  message: |
    if message.type == "finish" then
      return set("winner", "alice")
    end
    return {
      set("doc", { round = message.round }),
      set("state_id", state_id + 1),
    }
`

func newTestHub(t *testing.T, clock func() time.Time) *Hub {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "arena.yaml"), []byte(arenaType), 0o644); err != nil {
		t.Fatalf("write type: %v", err)
	}
	engine := script.NewEngine()
	registry, err := gametype.NewRegistry(engine, dir)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return NewHub(registry, engine, game.Options{Clock: clock}, nil)
}

func connect(h *Hub) (*Client, *fakeConn) {
	fc := &fakeConn{}
	return NewClient(h, fc), fc
}

func createGame(t *testing.T, h *Hub, c *Client, fc *fakeConn, msg map[string]any) int {
	t.Helper()
	h.handle(c, msg)
	for _, reply := range fc.sent(t) {
		if reply["type"] == "game_created" {
			return int(reply["game_id"].(float64))
		}
		if reply["type"] == "error" {
			t.Fatalf("create_game error: %v", reply["message"])
		}
	}
	t.Fatal("no game_created reply")
	return 0
}

func TestCreateGame(t *testing.T) {
	h := newTestHub(t, nil)
	c, fc := connect(h)

	id := createGame(t, h, c, fc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	if id == 0 {
		t.Fatal("no game id assigned")
	}
	if h.Matches() != 1 {
		t.Fatalf("matches = %d, want 1", h.Matches())
	}
	if c.match == nil || c.nplayer != 0 || c.nick != "alice" {
		t.Fatalf("creator binding = %+v", c)
	}
	// The doc is the handler's Lua value as converted, so whole numbers
	// arrive as ints; JSON floats only appear in written envelopes.
	if doc, ok := c.match.session.Doc().(map[string]any); !ok || doc["round"] != 0 {
		t.Errorf("create handler did not seed doc: %#v", c.match.session.Doc())
	}
}

func TestCreateGameUnknownType(t *testing.T) {
	h := newTestHub(t, nil)
	c, fc := connect(h)

	h.handle(c, map[string]any{"type": "create_game", "game_type": "citadel", "nick": "alice"})
	replies := fc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "error" {
		t.Fatalf("replies = %v, want one error", replies)
	}
	if h.Matches() != 0 {
		t.Errorf("failed creation left %d matches", h.Matches())
	}
}

func TestCreateGameWithRoster(t *testing.T) {
	h := newTestHub(t, nil)
	c, fc := connect(h)

	id := createGame(t, h, c, fc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
		"players": []any{
			map[string]any{"name": "alice"},
			map[string]any{"name": "bob"},
			map[string]any{"name": "rover", "bot": true},
		},
	})
	m := h.matches[id]
	players := m.session.Players()
	if len(players) != 3 {
		t.Fatalf("players = %d, want 3", len(players))
	}
	if players[2].Human {
		t.Error("bot slot marked human")
	}
}

func TestJoinGame(t *testing.T) {
	h := newTestHub(t, nil)
	creator, cfc := connect(h)
	id := createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})

	joiner, jfc := connect(h)
	h.handle(joiner, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	if joiner.nplayer != 1 {
		t.Fatalf("joiner slot = %d, want 1", joiner.nplayer)
	}
	replies := jfc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "game" {
		t.Fatalf("join replies = %v, want state envelope", replies)
	}
}

func TestJoinStartedGameRejected(t *testing.T) {
	h := newTestHub(t, nil)
	creator, cfc := connect(h)
	id := createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	h.handle(creator, map[string]any{"type": "start_game"})
	cfc.sent(t)

	late, lfc := connect(h)
	h.handle(late, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "carol"})
	replies := lfc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "error" {
		t.Fatalf("late join replies = %v, want error", replies)
	}
}

func TestReconnectKeepsSlot(t *testing.T) {
	h := newTestHub(t, nil)
	creator, cfc := connect(h)
	id := createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	joiner, jfc := connect(h)
	h.handle(joiner, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	jfc.sent(t)

	h.drop(joiner)
	notices := cfc.sent(t)
	if len(notices) == 0 || notices[len(notices)-1]["type"] != "player_disconnect" {
		t.Fatalf("creator notices = %v, want player_disconnect", notices)
	}

	again, afc := connect(h)
	h.handle(again, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	if again.nplayer != 1 {
		t.Fatalf("reconnect slot = %d, want original 1", again.nplayer)
	}
	replies := afc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "game" {
		t.Fatalf("reconnect replies = %v, want state envelope", replies)
	}
	m := h.matches[id]
	if _, still := m.disconnectedAt[1]; still {
		t.Error("reconnect left the slot flagged disconnected")
	}
}

func TestGameplayRouting(t *testing.T) {
	h := newTestHub(t, nil)
	creator, cfc := connect(h)
	id := createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	joiner, jfc := connect(h)
	h.handle(joiner, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	observer, ofc := connect(h)
	h.handle(observer, map[string]any{"type": "observe_game", "game_id": float64(id)})

	obsReplies := ofc.sent(t)
	if len(obsReplies) != 1 || obsReplies[0]["observer"] != true {
		t.Fatalf("observe replies = %v, want observer envelope", obsReplies)
	}
	cfc.sent(t)
	jfc.sent(t)

	h.handle(creator, map[string]any{"type": "start_game"})
	h.handle(creator, map[string]any{"type": "move", "round": 2})

	for name, fc := range map[string]*fakeConn{"creator": cfc, "joiner": jfc, "observer": ofc} {
		replies := fc.sent(t)
		if len(replies) != 2 {
			t.Fatalf("%s got %d envelopes, want start + move", name, len(replies))
		}
		last := replies[1]
		if last["state_id"] != float64(2) {
			t.Errorf("%s state_id = %v, want 2", name, last["state_id"])
		}
	}
}

func TestServeRepliesInterleaveWithFlushes(t *testing.T) {
	h := newTestHub(t, nil)

	const bad = 25
	frames := make([][]byte, bad)
	for i := range frames {
		frames[i] = []byte("{not json")
	}
	rc := &replayConn{frames: frames, hold: make(chan struct{})}
	creator := NewClient(h, rc)
	id := createGame(t, h, creator, &rc.fakeConn, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	joiner, _ := connect(h)
	h.handle(joiner, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	h.handle(creator, map[string]any{"type": "start_game"})
	rc.sent(t)

	// Serve replies to the undecodable frames on its own goroutine while
	// the joiner's moves flush state envelopes to the same connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		creator.Serve()
	}()
	for i := 0; i < bad; i++ {
		h.handle(joiner, map[string]any{"type": "move", "round": float64(i + 2)})
	}
	close(rc.hold)
	<-done

	var errReplies, envelopes int
	for _, msg := range rc.sent(t) {
		switch {
		case msg["type"] == "error" && msg["message"] == "invalid message":
			errReplies++
		case msg["state_id"] != nil:
			envelopes++
		}
	}
	if errReplies != bad {
		t.Errorf("error replies = %d, want %d", errReplies, bad)
	}
	if envelopes != bad {
		t.Errorf("state envelopes = %d, want %d", envelopes, bad)
	}
}

func TestFailedRosterLeavesNoState(t *testing.T) {
	h := newTestHub(t, nil)
	h.opts.ControllerFactory = func(s *game.Session, idx int, info map[string]any) (game.Controller, error) {
		return nil, errors.New("unavailable")
	}

	c, fc := connect(h)
	h.handle(c, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
		"players": []any{map[string]any{"name": "rover", "bot": true}},
	})
	replies := fc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "error" {
		t.Fatalf("replies = %v, want one error", replies)
	}
	if h.Matches() != 0 {
		t.Errorf("failed create left %d matches", h.Matches())
	}
	if c.match != nil || c.nplayer != game.ObserverRecipient {
		t.Errorf("failed create left the client bound (slot %d)", c.nplayer)
	}
}

func TestUnboundGameplayRejected(t *testing.T) {
	h := newTestHub(t, nil)
	c, fc := connect(h)
	h.handle(c, map[string]any{"type": "move"})
	replies := fc.sent(t)
	if len(replies) != 1 || replies[0]["type"] != "error" {
		t.Fatalf("replies = %v, want error", replies)
	}
}

func TestTickFlagsLongDisconnects(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	h := newTestHub(t, clock)

	creator, cfc := connect(h)
	id := createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	joiner, _ := connect(h)
	h.handle(joiner, map[string]any{"type": "join_game", "game_id": float64(id), "nick": "bob"})
	h.handle(creator, map[string]any{"type": "start_game"})
	cfc.sent(t)

	h.drop(joiner)
	cfc.sent(t)

	now = now.Add(61 * time.Second)
	h.Tick()
	replies := cfc.sent(t)
	if len(replies) == 0 {
		t.Fatal("overdue disconnect broadcast nothing")
	}
	m := h.matches[id]
	if got, _ := m.session.LookupValue("players_disconnected"); len(got.([]any)) != 1 {
		t.Errorf("players_disconnected = %v, want one slot", got)
	}
}

func TestFinishedMatchRetired(t *testing.T) {
	h := newTestHub(t, nil)
	creator, cfc := connect(h)
	createGame(t, h, creator, cfc, map[string]any{
		"type": "create_game", "game_type": "arena", "nick": "alice",
	})
	h.handle(creator, map[string]any{"type": "finish"})
	h.drop(creator)

	h.Tick()
	if h.Matches() != 0 {
		t.Errorf("matches = %d, want finished match retired", h.Matches())
	}
}

func TestReloadEndpoint(t *testing.T) {
	h := newTestHub(t, nil)
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/admin/reload", "", nil)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/admin/reload")
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", resp.StatusCode)
	}
}
