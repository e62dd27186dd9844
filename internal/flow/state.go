package flow

import (
	"fmt"
	"time"
)

type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Skipped:
		return "SKIPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the observable state of a task in a run.
type Outcome struct {
	Name    string
	State   State
	Value   any
	Err     error
	Seeded  bool
	Started time.Time
	Stopped time.Time
}

func (o Outcome) Duration() time.Duration {
	if o.Started.IsZero() || o.Stopped.IsZero() {
		return 0
	}
	return o.Stopped.Sub(o.Started)
}

// Inputs maps a dependency name to its output.
type Inputs map[string]any

// Output returns the output of dependency name as T.
func Output[T any](in Inputs, name string) (T, error) {
	var zero T
	v, ok := in[name]
	if !ok {
		return zero, fmt.Errorf("%w: no output of %q", ErrMissingInput, name)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: output of %q is %T, expected %T", ErrMissingInput, name, v, zero)
	}
	return t, nil
}
