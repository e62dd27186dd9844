// Package enginetest provides an engine.Client which records pipelines
// instead of executing them.
package enginetest

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/airbytehq/airbyte-platform/internal/engine"
)

// RunFunc is called for every recorded pipeline after its workspace exists.
// Returning an error fails the pipeline.
type RunFunc func(ctx context.Context, p engine.Pipeline) error

type Client struct {
	mx     sync.Mutex
	runs   []engine.Pipeline
	fail   map[string]int
	onRun  RunFunc
	closed int
}

func New() *Client {
	return &Client{fail: make(map[string]int)}
}

// Fail makes the last step of pipeline name exit with code.
func (c *Client) Fail(name string, code int) *Client {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.fail[name] = code
	return c
}

// OnRun installs fn, see RunFunc.
func (c *Client) OnRun(fn RunFunc) *Client {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.onRun = fn
	return c
}

func (c *Client) Run(ctx context.Context, p engine.Pipeline) (engine.Artifact, error) {
	if err := p.Validate(); err != nil {
		return engine.Artifact{}, err
	}

	c.mx.Lock()
	if c.closed > 0 {
		c.mx.Unlock()
		return engine.Artifact{}, engine.ErrClosed
	}
	c.runs = append(c.runs, p)
	code, failing := c.fail[p.Name()]
	onRun := c.onRun
	c.mx.Unlock()

	artifact := engine.Artifact{Name: p.Name(), Dir: p.Workdir()}
	if err := os.MkdirAll(p.Workdir(), 0o755); err != nil {
		return artifact, fmt.Errorf("creating workspace: %w", err)
	}
	if onRun != nil {
		if err := onRun(ctx, p); err != nil {
			return artifact, err
		}
	}

	steps := p.Steps()
	for i, step := range steps {
		out := engine.StepOutput{Args: step}
		if failing && i == len(steps)-1 {
			out.ExitCode = code
			out.Output = "failed"
			artifact.Steps = append(artifact.Steps, out)
			return artifact, &engine.StepError{Pipeline: p.Name(), Args: step, ExitCode: code, Output: out.Output}
		}
		artifact.Steps = append(artifact.Steps, out)
	}
	return artifact, nil
}

func (c *Client) Close(context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.closed++
	return nil
}

// Runs returns the recorded pipelines in the order Run was called.
func (c *Client) Runs() []engine.Pipeline {
	c.mx.Lock()
	defer c.mx.Unlock()
	return slices.Clone(c.runs)
}

// Pipeline returns the last recorded pipeline called name.
func (c *Client) Pipeline(name string) (engine.Pipeline, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	for i := len(c.runs) - 1; i >= 0; i-- {
		if c.runs[i].Name() == name {
			return c.runs[i], true
		}
	}
	return engine.Pipeline{}, false
}

// Count returns how often a pipeline called name was run.
func (c *Client) Count(name string) int {
	c.mx.Lock()
	defer c.mx.Unlock()
	var n int
	for _, p := range c.runs {
		if p.Name() == name {
			n++
		}
	}
	return n
}

// Closed returns how often Close was called.
func (c *Client) Closed() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.closed
}
