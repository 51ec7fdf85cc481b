package driver

import "fmt"

// State represents driver's state
type State string

const (
	// StateClosed means that the driver has not been opened, so its geometry is
	// still unknown.
	StateClosed State = "closed"
	// StateOpened means that the geometry is negotiated but no frames flow yet.
	StateOpened State = "opened"
	// StateRunning means that the driver is delivering frames to its observer.
	StateRunning State = "running"
)

var transitions = map[State][]State{
	StateClosed:  {StateOpened},
	StateOpened:  {StateRunning, StateClosed},
	StateRunning: {StateOpened, StateClosed},
}

// Update moves s to next if the transition is allowed and f succeeds. On any
// error s is left unchanged.
func (s *State) Update(next State, f func() error) error {
	if !s.canMoveTo(next) {
		return fmt.Errorf("invalid state: driver is %s, can't become %s", *s, next)
	}

	if err := f(); err != nil {
		return err
	}
	*s = next
	return nil
}

func (s State) canMoveTo(next State) bool {
	current := s
	if current == "" {
		current = StateClosed
	}
	for _, allowed := range transitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
