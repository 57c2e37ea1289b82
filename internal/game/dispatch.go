package game

import (
	"errors"

	"github.com/louisbranch/matchbox/internal/script"
)

// ErrMissingType indicates an inbound message without the required type
// field.
var ErrMissingType = errors.New("inbound message requires a type")

// HandleMessage dispatches one inbound message from the player at nplayer
// (or an observer when negative). Messages without a special-cased type are
// routed to the game type's message handler and followed by a broadcast
// tagged with the processing time.
func (s *Session) HandleMessage(nplayer int, msg map[string]any) error {
	msgType, ok := msg["type"].(string)
	if !ok || msgType == "" {
		return ErrMissingType
	}

	switch msgType {
	case "start_game":
		return s.StartGame(nplayer)
	case "request_updates":
		return s.handleRequestUpdates(nplayer, msg)
	case "chat_message":
		s.handleChat(nplayer, msg)
		return nil
	case "ping_game":
		s.queueTo(map[string]any{"type": "pong_game", "payload": msg}, nplayer)
		return nil
	}

	start := s.clock()
	handlerErr := s.handleEvent("message", script.Vars{"message": msg, "player": nplayer})
	elapsed := int(s.clock().Sub(start).Milliseconds())

	// State goes out regardless of the handler outcome so clients converge
	// even when a scripted step failed partway.
	if err := s.SendGameState(-1, elapsed); err != nil {
		return err
	}
	return handlerErr
}

// handleRequestUpdates reconciles a client's declared version against the
// server's bookkeeping. A mismatch records the client-declared version as
// confirmed and pushes a resync; a match that differs from the stored
// confirmation is the real acknowledgement and is announced to the other
// human players.
func (s *Session) handleRequestUpdates(nplayer int, msg map[string]any) error {
	declared, ok := intValue(msg["state_id"])
	if !ok || s.doc == nil {
		return nil
	}
	if nplayer < 0 || nplayer >= len(s.players) {
		return nil
	}
	p := s.players[nplayer]

	// Delta eligibility downgrades one way, never back.
	if allow, ok := msg["allow_deltas"].(bool); ok && !allow {
		p.AllowDeltas = false
	}

	if declared != s.stateID {
		p.ConfirmedStateID = declared
		return s.SendGameState(nplayer, noProcessingTime)
	}

	if p.ConfirmedStateID != s.stateID {
		p.ConfirmedStateID = s.stateID
		notice := map[string]any{"type": "confirm_sync", "player": nplayer, "state_id": s.stateID}
		for n, other := range s.players {
			if n != nplayer && other.Human {
				s.queueTo(notice, n)
			}
		}
	}
	return nil
}

// handleChat annotates the message with the sender's display name and
// broadcasts it verbatim. Chat is not persisted to the session log.
func (s *Session) handleChat(nplayer int, msg map[string]any) {
	annotated := make(map[string]any, len(msg)+1)
	for k, v := range msg {
		annotated[k] = v
	}
	if nplayer >= 0 && nplayer < len(s.players) {
		annotated["nick"] = s.players[nplayer].Name
	} else {
		nick := "observer"
		if existing, ok := msg["nick"].(string); ok {
			nick = existing + " (obs)"
		}
		annotated["nick"] = nick
	}
	s.queueTo(annotated, -1)
}
