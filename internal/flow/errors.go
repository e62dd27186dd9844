package flow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph   = errors.New("invalid task graph")
	ErrCycle          = errors.New("cycle detected")
	ErrUnknownTask    = errors.New("unknown task")
	ErrMissingInput   = errors.New("missing task input")
	ErrUpstreamFailed = errors.New("upstream task did not succeed")
)

// GraphError wraps graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

// Unwrap reports Kind and ErrInvalidGraph.
func (e *GraphError) Unwrap() []error {
	if e.Kind == ErrInvalidGraph {
		return []error{e.Kind}
	}
	return []error{e.Kind, ErrInvalidGraph}
}

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycle, Msg: strings.Join(path, " -> ")}
}

// UpstreamError is the error of a task skipped because a dependency did not succeed.
type UpstreamError struct {
	Task     string
	Upstream string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("task %s skipped: upstream %s did not succeed", e.Task, e.Upstream)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamFailed }
