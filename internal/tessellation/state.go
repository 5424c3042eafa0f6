package tessellation

import (
	"errors"
	"fmt"
)

// State is the progress of one tessellation run.
type State int

const (
	StateIdle State = iota
	StateGridGenerated
	StateScored
	StateDiffused
	StatePackaged
)

var stateNames = [...]string{"idle", "grid_generated", "scored", "diffused", "packaged"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ErrInvalidTransition is returned when a run skips or repeats a step.
var ErrInvalidTransition = errors.New("invalid state transition")

// run enforces the Idle -> GridGenerated -> Scored -> Diffused -> Packaged
// order for one request.
type run struct {
	state State
	cells int
}

func (r *run) advance(next State) error {
	if next != r.state+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.state = next
	return nil
}

// gridGenerated records the generated cell count.
func (r *run) gridGenerated(cells int) error {
	if err := r.advance(StateGridGenerated); err != nil {
		return err
	}
	r.cells = cells
	return nil
}

// scored requires a zone for every generated cell.
func (r *run) scored(zones int) error {
	if r.state == StateGridGenerated && zones != r.cells {
		return fmt.Errorf("%w: %d zones for %d cells", ErrInvalidTransition, zones, r.cells)
	}
	return r.advance(StateScored)
}
