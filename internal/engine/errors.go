package engine

import (
	"errors"
	"fmt"
	"strings"
)

var ErrClosed = errors.New("engine client closed")

// StepError is returned when a step exits with a non zero code.
type StepError struct {
	Pipeline string
	Args     []string
	ExitCode int
	Output   string
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %q exited with code %d", e.Pipeline, strings.Join(e.Args, " "), e.ExitCode)
}
