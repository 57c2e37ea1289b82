// Package game implements the session-authoritative core of a turn-based
// match: the player registry, the protocol dispatcher, the command
// interpreter, per-player delta synchronization, and the AI orchestration
// loop. A session is single-threaded and cooperative; the host serializes
// all access to it.
package game

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/louisbranch/matchbox/internal/gametype"
	"github.com/louisbranch/matchbox/internal/script"
)

// Status describes the lifecycle state of a session.
type Status int

const (
	// StatusSetup is the initial state: players may join, play has not begun.
	StatusSetup Status = iota
	// StatusPlaying indicates the match has started.
	StatusPlaying
)

var (
	// ErrUnknownGameType indicates session creation against an unregistered
	// game type name.
	ErrUnknownGameType = errors.New("unknown game type")
	// ErrStateIDRegression indicates an attempt to move the version counter
	// backwards.
	ErrStateIDRegression = errors.New("state id must not decrease")
)

// Reporter delivers the final match outcome to an external service.
type Reporter interface {
	ReportResult(gameID int, winner any) error
}

// Options carries the host-supplied collaborators for a session.
type Options struct {
	// ControllerFactory builds AI controllers for bot slots. Nil disables
	// controller construction (the add_bot event still fires).
	ControllerFactory ControllerFactory
	// Reporter receives the winner when a handler declares one. Nil skips
	// reporting.
	Reporter Reporter
	// OnWinner is invoked after the outcome report; deployment policy hooks
	// (such as exiting the process) live here.
	OnWinner func(winner any)
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Session is the authoritative entity for one match.
type Session struct {
	id      int
	gt      *gametype.Type
	engine  *script.Engine
	status  Status
	started bool
	stateID int
	cycle   int
	doc     any

	players      []*Player
	outgoing     []Message
	log          []string
	controllers  []Controller
	disconnected []int

	currentMessage string

	controllerFactory ControllerFactory
	reporter          Reporter
	onWinner          func(winner any)
	clock             func() time.Time
}

var lastGameID atomic.Int64

func nextGameID() int {
	lastGameID.CompareAndSwap(0, time.Now().Unix())
	return int(lastGameID.Add(1))
}

// NewSession creates a session from a create_game message. The game_type
// field selects the registered type; an unknown name is a creation failure.
// The create event fires with the full message bound as msg.
func NewSession(registry *gametype.Registry, engine *script.Engine, msg map[string]any, opts Options) (*Session, error) {
	typeName, _ := msg["game_type"].(string)
	gt, ok := registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, typeName)
	}

	s := New(gt, engine, opts)
	if err := s.handleEvent("create", script.Vars{"msg": msg}); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// RestoreSession rebuilds a session from a previously written envelope.
func RestoreSession(registry *gametype.Registry, engine *script.Engine, typeName string, doc map[string]any, opts Options) (*Session, error) {
	gt, ok := registry.Lookup(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGameType, typeName)
	}

	s := New(gt, engine, opts)
	if id, ok := intValue(doc["id"]); ok {
		s.id = id
	}
	if started, ok := doc["started"].(bool); ok && started {
		s.started = true
		s.status = StatusPlaying
	}
	if stateID, ok := intValue(doc["state_id"]); ok {
		s.stateID = stateID
	}
	if cycle, ok := intValue(doc["cycle"]); ok {
		s.cycle = cycle
	}
	s.doc = doc["state"]
	if logStr, ok := doc["log"].(string); ok && logStr != "" {
		s.log = strings.Split(logStr, "\n")
	}
	if players, ok := doc["players"].([]any); ok {
		for _, name := range players {
			if n, ok := name.(string); ok {
				s.AddPlayer(n)
			}
		}
	}
	return s, nil
}

// New creates a session directly against a resolved game type. Hosts
// normally go through NewSession, which also fires the create event.
func New(gt *gametype.Type, engine *script.Engine, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		id:                nextGameID(),
		gt:                gt,
		engine:            engine,
		status:            StatusSetup,
		controllerFactory: opts.ControllerFactory,
		reporter:          opts.Reporter,
		onWinner:          opts.OnWinner,
		clock:             clock,
	}
}

// ID returns the session identity used in outbound envelopes.
func (s *Session) ID() int { return s.id }

// GameType returns the immutable type this session was created against.
func (s *Session) GameType() *gametype.Type { return s.gt }

// Status returns the lifecycle state.
func (s *Session) Status() Status { return s.status }

// Started reports whether play has begun.
func (s *Session) Started() bool { return s.started }

// StateID returns the current version counter.
func (s *Session) StateID() int { return s.stateID }

// Cycle returns the tick counter.
func (s *Session) Cycle() int { return s.cycle }

// Doc returns the authoritative state document.
func (s *Session) Doc() any { return s.doc }

// SetMessage attaches a transient message included in the next broadcast.
func (s *Session) SetMessage(msg string) { s.currentMessage = msg }

// StartGame transitions the session to PLAYING, fires the start event,
// broadcasts full state, and runs the AI orchestrator. When the game already
// started, the triggering player additionally receives a notice.
func (s *Session) StartGame(nplayer int) error {
	if s.started {
		s.SendNotify("The game has started.", nplayer)
	}

	s.status = StatusPlaying
	s.started = true
	if err := s.handleEvent("start", nil); err != nil {
		return err
	}
	if err := s.SendGameState(-1, noProcessingTime); err != nil {
		return err
	}
	return s.AIPlay()
}

// Process runs one periodic tick: the process event fires and, when it moved
// the version counter, the new state is broadcast.
func (s *Session) Process() error {
	if !s.started {
		return nil
	}
	startingStateID := s.stateID
	if err := s.handleEvent("process", nil); err != nil {
		return err
	}
	s.cycle++
	if s.stateID != startingStateID {
		return s.SendGameState(-1, noProcessingTime)
	}
	return nil
}

// CancelGame eagerly aborts the session: players, queued messages, AI
// controllers, and the state document are all cleared in one step.
func (s *Session) CancelGame() {
	s.players = nil
	s.outgoing = nil
	s.doc = nil
	s.controllers = nil
	s.disconnected = nil
}

// Log returns the accumulated log lines.
func (s *Session) Log() []string { return s.log }

// handleEvent looks up name in the type's handler table and executes it with
// the session as the primary environment and vars as the fallback scope. An
// absent handler is a silent no-op so type definitions can add and remove
// events freely.
func (s *Session) handleEvent(name string, vars script.Vars) error {
	handler, ok := s.gt.Handler(name)
	if !ok {
		return nil
	}
	result, err := s.engine.Execute(handler, s, vars)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	return s.executeCommand(result)
}

// HandleEvent fires a named event from the host.
func (s *Session) HandleEvent(name string, vars map[string]any) error {
	return s.handleEvent(name, varsFromMap(vars))
}

// QueryHandler executes a named handler for its value instead of its
// effects. The result is returned uninterpreted; an absent handler reports
// ok false. AI controllers use it to ask the type definition for a move.
func (s *Session) QueryHandler(name string, vars map[string]any) (any, bool, error) {
	handler, ok := s.gt.Handler(name)
	if !ok {
		return nil, false, nil
	}
	result, err := s.engine.Execute(handler, s, varsFromMap(vars))
	if err != nil {
		return nil, true, fmt.Errorf("query %q: %w", name, err)
	}
	return result, true, nil
}

// LookupValue implements script.Environment. These are the names handlers
// can read directly.
func (s *Session) LookupValue(name string) (any, bool) {
	switch name {
	case "doc":
		return s.doc, true
	case "state_id":
		return s.stateID, true
	case "cycle":
		return s.cycle, true
	case "started":
		return s.started, true
	case "nplayers":
		return len(s.players), true
	case "players":
		names := make([]any, len(s.players))
		for n, p := range s.players {
			names[n] = p.Name
		}
		return names, true
	case "players_disconnected":
		out := make([]any, len(s.disconnected))
		for n, idx := range s.disconnected {
			out[n] = idx
		}
		return out, true
	case "ai_players":
		names := s.AIPlayerNames()
		out := make([]any, len(names))
		for n, name := range names {
			out[n] = name
		}
		return out, true
	default:
		return nil, false
	}
}

// StoreValue implements script.Environment. These are the mutations native
// commands can apply.
func (s *Session) StoreValue(name string, v any) error {
	switch name {
	case "doc":
		s.doc = v
		return nil
	case "state_id":
		stateID, ok := intValue(v)
		if !ok {
			return fmt.Errorf("state_id: expected integer, got %T", v)
		}
		if stateID < s.stateID {
			return fmt.Errorf("%w: %d -> %d", ErrStateIDRegression, s.stateID, stateID)
		}
		s.stateID = stateID
		return nil
	case "log_message":
		if v == nil {
			return nil
		}
		line, ok := v.(string)
		if !ok {
			return fmt.Errorf("log_message: expected string, got %T", v)
		}
		s.log = append(s.log, line)
		return nil
	case "event":
		switch ev := v.(type) {
		case string:
			return s.handleEvent(ev, nil)
		case map[string]any:
			name, _ := ev["event"].(string)
			arg, _ := ev["arg"].(map[string]any)
			return s.handleEvent(name, varsFromMap(arg))
		default:
			return fmt.Errorf("event: expected string or map, got %T", v)
		}
	case "winner":
		s.declareWinner(v)
		return nil
	default:
		return fmt.Errorf("unknown session key %q", name)
	}
}

// declareWinner reports the outcome and invokes the deployment hook. The
// report is best effort: a failure is logged, never fatal, since the session
// is about to end anyway.
func (s *Session) declareWinner(winner any) {
	log.Printf("game %d winner: %v", s.id, winner)
	if s.reporter != nil {
		if err := s.reporter.ReportResult(s.id, winner); err != nil {
			log.Printf("game %d: report match outcome: %v", s.id, err)
		}
	}
	if s.onWinner != nil {
		s.onWinner(winner)
	}
}

func varsFromMap(m map[string]any) script.Vars {
	if m == nil {
		return nil
	}
	return script.Vars(m)
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
