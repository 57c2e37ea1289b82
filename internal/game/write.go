package game

import (
	"fmt"
	"strings"

	"github.com/louisbranch/matchbox/internal/script"
	"github.com/louisbranch/matchbox/internal/value"
)

// noProcessingTime omits the server_time field from an envelope.
const noProcessingTime = -1

// Write builds the outbound envelope for one recipient, or for observers
// when nplayer is negative.
//
// The decision rule for incremental sync: a delta is sent only when the
// recipient allows deltas, their last-sent version equals their
// last-confirmed version, and a previous snapshot exists. Anything else gets
// the full payload base. After writing, eligible recipients have their sent
// version and reference snapshot recorded; observers and ineligible players
// are never tracked, which keeps at most one unconfirmed version in flight
// per eligible player.
func (s *Session) Write(nplayer, processingMS int) (map[string]any, error) {
	envelope := map[string]any{
		"id":        s.id,
		"type":      "game",
		"game_type": s.gt.Name,
		"started":   s.started,
		"state_id":  s.stateID,
	}
	if processingMS != noProcessingTime {
		envelope["server_time"] = processingMS
	}

	// Observers see the perspective of the first player.
	perspective := nplayer
	if perspective < 0 {
		perspective = 0
	}
	envelope["nplayer"] = perspective

	names := make([]any, len(s.players))
	for n, p := range s.players {
		names[n] = p.Name
	}
	envelope["players"] = names

	if s.currentMessage != "" {
		envelope["message"] = s.currentMessage
	}
	if nplayer < 0 {
		envelope["observer"] = true
	}

	tracked := nplayer >= 0 && nplayer < len(s.players)
	sendDelta := false
	if tracked {
		p := s.players[nplayer]
		sendDelta = p.AllowDeltas && p.StateIDSent != -1 && p.StateIDSent == p.ConfirmedStateID
	}

	stateDoc, err := s.payloadBase(perspective)
	if err != nil {
		return nil, err
	}

	if sendDelta {
		p := s.players[nplayer]
		delta, err := value.Diff(p.StateSent, stateDoc)
		if err != nil {
			return nil, fmt.Errorf("diff state for player %d: %w", nplayer, err)
		}
		envelope["delta"] = delta
		envelope["delta_basis"] = p.ConfirmedStateID
	} else {
		envelope["state"] = stateDoc
	}

	if tracked && s.players[nplayer].AllowDeltas {
		s.players[nplayer].StateIDSent = s.stateID
		s.players[nplayer].StateSent = stateDoc
	}

	envelope["log"] = strings.Join(s.log, "\n")
	return envelope, nil
}

// payloadBase deep-clones the canonical document and, when the type defines
// a transform handler, lets it redact the clone for the given perspective.
// The handler's return value replaces the clone; the canonical document is
// never exposed.
func (s *Session) payloadBase(perspective int) (any, error) {
	clone, err := value.Clone(s.doc)
	if err != nil {
		return nil, fmt.Errorf("clone state document: %w", err)
	}

	handler, ok := s.gt.Handler("transform")
	if !ok {
		return clone, nil
	}
	redacted, err := s.engine.Execute(handler, s, script.Vars{"state": clone, "nplayer": perspective})
	if err != nil {
		return nil, fmt.Errorf("transform state: %w", err)
	}
	if redacted == nil {
		return clone, nil
	}
	return redacted, nil
}

// SendGameState queues the current state for one player, or for every player
// plus the observer channel when nplayer is negative.
func (s *Session) SendGameState(nplayer, processingMS int) error {
	if nplayer < 0 {
		for n := range s.players {
			if err := s.SendGameState(n, processingMS); err != nil {
				return err
			}
		}
		envelope, err := s.Write(ObserverRecipient, noProcessingTime)
		if err != nil {
			return err
		}
		if err := s.QueueMessage(envelope, ObserverRecipient); err != nil {
			return err
		}
		s.currentMessage = ""
		return nil
	}

	if nplayer >= len(s.players) {
		return nil
	}
	envelope, err := s.Write(nplayer, processingMS)
	if err != nil {
		return err
	}
	return s.QueueMessage(envelope, nplayer)
}
