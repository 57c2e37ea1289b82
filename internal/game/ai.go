package game

// Controller is a synchronous participant that synthesizes protocol messages
// in place of a human client. It is bound to a fixed player index for its
// lifetime.
type Controller interface {
	PlayerIndex() int
	// Next returns the controller's next message, or false when it has
	// nothing more to play this pass.
	Next() (map[string]any, bool)
}

// ControllerFactory builds a controller for a freshly added bot slot. The
// deployment mode (in-process scripted bot vs. networked bot service)
// decides the implementation.
type ControllerFactory func(s *Session, playerIndex int, info map[string]any) (Controller, error)

// AIPlay drives each registered controller in registration order, feeding
// every synthesized message through the dispatcher before moving on to the
// next controller. Controllers never interleave within one pass, so bot
// turns are deterministic given deterministic controller decisions.
func (s *Session) AIPlay() error {
	for _, c := range s.controllers {
		for {
			msg, ok := c.Next()
			if !ok || msg == nil {
				break
			}
			if err := s.HandleMessage(c.PlayerIndex(), msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Controllers returns the registered AI controllers in registration order.
func (s *Session) Controllers() []Controller {
	return s.controllers
}

// AddController registers an externally built controller, used by hosts that
// construct controllers outside the factory path.
func (s *Session) AddController(c Controller) {
	s.controllers = append(s.controllers, c)
}
