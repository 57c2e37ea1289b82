package game

// Player is one slot in the session's registry. Side indices are assigned
// append-only for the life of a session instance; removing a player does not
// renumber the survivors.
type Player struct {
	Name  string
	Side  int
	Human bool

	// ConfirmedStateID is the last version the client acknowledged.
	ConfirmedStateID int
	// StateIDSent is the last version actually written to the client.
	StateIDSent int
	// StateSent is the reference snapshot used as the next diff base.
	StateSent any
	// AllowDeltas downgrades one way: once cleared it is never re-enabled.
	AllowDeltas bool
}

func newPlayer(name string, side int, human bool) *Player {
	return &Player{
		Name:             name,
		Side:             side,
		Human:            human,
		ConfirmedStateID: -1,
		StateIDSent:      -1,
		AllowDeltas:      true,
	}
}

// AddPlayer appends a human player with the next sequential side index.
func (s *Session) AddPlayer(name string) {
	s.players = append(s.players, newPlayer(name, len(s.players), true))
}

// AddAIPlayer appends a bot player, fires the add_bot event with info as the
// injected variables, and asks the controller factory for a controller bound
// to the new slot.
func (s *Session) AddAIPlayer(name string, info map[string]any) error {
	side := len(s.players)
	s.players = append(s.players, newPlayer(name, side, false))

	if err := s.handleEvent("add_bot", varsFromMap(info)); err != nil {
		return err
	}

	if s.controllerFactory != nil {
		controller, err := s.controllerFactory(s, side, info)
		if err != nil {
			return err
		}
		s.controllers = append(s.controllers, controller)
	}
	return nil
}

// RemovePlayer removes the first player matching name along with any AI
// controller bound to that slot. Side indices of the remaining players are
// left untouched.
func (s *Session) RemovePlayer(name string) {
	for n, p := range s.players {
		if p.Name != name {
			continue
		}
		s.players = append(s.players[:n], s.players[n+1:]...)
		for m, c := range s.controllers {
			if c.PlayerIndex() == n {
				s.controllers = append(s.controllers[:m], s.controllers[m+1:]...)
				break
			}
		}
		return
	}
}

// PlayerIndex returns the slot index for nick, or -1 when the nickname is
// unknown or currently controlled by an AI. Callers use the -1 result to
// tell human re-identification apart from bot slots.
func (s *Session) PlayerIndex(nick string) int {
	for n, p := range s.players {
		if p.Name != nick {
			continue
		}
		for _, c := range s.controllers {
			if c.PlayerIndex() == n {
				return -1
			}
		}
		return n
	}
	return -1
}

// Players returns the registry slots in side order.
func (s *Session) Players() []*Player {
	return s.players
}

// AIPlayerNames lists the names of slots driven by registered controllers.
func (s *Session) AIPlayerNames() []string {
	var names []string
	for _, c := range s.controllers {
		idx := c.PlayerIndex()
		if idx >= 0 && idx < len(s.players) {
			names = append(names, s.players[idx].Name)
		}
	}
	return names
}

// PlayerDisconnect notifies the other players that a player dropped.
func (s *Session) PlayerDisconnect(nplayer int) {
	s.notifyPeers(nplayer, "player_disconnect")
}

// PlayerReconnect notifies the other players that a player came back.
func (s *Session) PlayerReconnect(nplayer int) {
	s.notifyPeers(nplayer, "player_reconnect")
}

func (s *Session) notifyPeers(nplayer int, eventType string) {
	if nplayer < 0 || nplayer >= len(s.players) {
		return
	}
	msg := map[string]any{"type": eventType, "player": s.players[nplayer].Name}
	for n := range s.players {
		if n != nplayer {
			s.queueTo(msg, n)
		}
	}
}

// PlayerDisconnectedFor flags a player who has been gone for at least a
// minute. The flag is set exactly once: the player_disconnected event fires
// and full state is broadcast on the first crossing only. Forfeiture, if any,
// is left to the scripted handler.
func (s *Session) PlayerDisconnectedFor(nplayer, elapsedMS int) error {
	if elapsedMS < disconnectThresholdMS {
		return nil
	}
	for _, n := range s.disconnected {
		if n == nplayer {
			return nil
		}
	}
	s.disconnected = append(s.disconnected, nplayer)
	if err := s.handleEvent("player_disconnected", nil); err != nil {
		return err
	}
	return s.SendGameState(-1, noProcessingTime)
}

const disconnectThresholdMS = 60000
