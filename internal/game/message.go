package game

import (
	"encoding/json"
	"fmt"
	"log"
)

// ObserverRecipient is the reserved recipient index addressing all observers.
const ObserverRecipient = -1

// Message is one queued outbound envelope. Contents are serialized at queue
// time so later session mutations cannot alter a message already in flight.
// An empty recipient list means broadcast to everyone attached, players and
// observers alike.
type Message struct {
	Contents   []byte
	Recipients []int
}

// QueueMessage serializes v and appends it to the outbound queue for the
// given recipients. FIFO order per session is preserved through to delivery.
func (s *Session) QueueMessage(v any, recipients ...int) error {
	contents, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}
	s.outgoing = append(s.outgoing, Message{Contents: contents, Recipients: recipients})
	return nil
}

// queueTo queues v for a single player, or as a broadcast when nplayer is
// negative.
func (s *Session) queueTo(v any, nplayer int) {
	var err error
	if nplayer >= 0 {
		err = s.QueueMessage(v, nplayer)
	} else {
		err = s.QueueMessage(v)
	}
	if err != nil {
		log.Printf("game %d: drop outbound message: %v", s.id, err)
	}
}

// SendError queues an error notice for one player.
func (s *Session) SendError(msg string, nplayer int) {
	s.queueTo(map[string]any{"type": "error", "message": msg}, nplayer)
}

// SendNotify queues an informational notice for one player, or for everyone
// when nplayer is negative.
func (s *Session) SendNotify(msg string, nplayer int) {
	s.queueTo(map[string]any{"type": "message", "message": msg}, nplayer)
}

// SwapOutgoing hands the queued messages to the transport and resets the
// queue. Ordering within the returned batch is the generation order.
func (s *Session) SwapOutgoing() []Message {
	out := s.outgoing
	s.outgoing = nil
	return out
}
