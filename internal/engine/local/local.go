// Package local runs pipelines as processes on the host.
//
// The pipeline image is ignored and steps run directly in the workspace
// directory. Mount container paths are ignored as well; a mount with Env set
// exports its host path. Services are started as containers with published
// ports, so binding services still needs a docker daemon.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/engine/docker"
)

// ServiceStarter starts a service and returns its address as seen from the host.
type ServiceStarter func(ctx context.Context, s engine.Service) (*docker.Service, error)

type Client struct {
	startService ServiceStarter
	mx           sync.Mutex
	closed       bool
}

func New() *Client {
	return &Client{
		startService: func(ctx context.Context, s engine.Service) (*docker.Service, error) {
			return docker.StartService(ctx, s, nil)
		},
	}
}

// WithServiceStarter replaces the way services are started.
func (c *Client) WithServiceStarter(fn ServiceStarter) *Client {
	c.startService = fn
	return c
}

func (c *Client) Run(ctx context.Context, p engine.Pipeline) (engine.Artifact, error) {
	c.mx.Lock()
	closed := c.closed
	c.mx.Unlock()
	if closed {
		return engine.Artifact{}, engine.ErrClosed
	}
	if err := p.Validate(); err != nil {
		return engine.Artifact{}, err
	}

	artifact := engine.Artifact{Name: p.Name(), Dir: p.Workdir()}
	if err := os.MkdirAll(p.Workdir(), 0o755); err != nil {
		return artifact, fmt.Errorf("creating workspace: %w", err)
	}

	env := os.Environ()
	for _, e := range p.Env() {
		env = append(env, e.Name+"="+e.Value)
	}
	for _, m := range p.Mounts() {
		if err := os.MkdirAll(m.HostPath, 0o755); err != nil {
			return artifact, fmt.Errorf("creating mount %s: %w", m.HostPath, err)
		}
		if m.Env != "" {
			env = append(env, m.Env+"="+m.HostPath)
		}
	}

	for _, s := range p.Services() {
		svc, err := c.startService(ctx, s)
		if err != nil {
			return artifact, fmt.Errorf("starting service %s: %w", s.Alias, err)
		}
		defer svc.Terminate(context.WithoutCancel(ctx))
		hostVar, portVar := engine.ServiceEnv(s.Alias)
		env = append(env, hostVar+"="+svc.Host, portVar+"="+strconv.Itoa(svc.Port))
	}

	runner := NewRunner()
	for _, step := range p.Steps() {
		out, err := c.exec(ctx, runner, p, step, env)
		artifact.Steps = append(artifact.Steps, out)
		if err != nil {
			return artifact, err
		}
	}
	return artifact, nil
}

func (c *Client) exec(ctx context.Context, runner *Runner, p engine.Pipeline, step []string, env []string) (engine.StepOutput, error) {
	slog.DebugContext(ctx, "running step", "pipeline", p.Name(), "args", step)
	var stderr bytes.Buffer
	var stderrMx sync.Mutex
	onStderr := func(ctx context.Context, line string) {
		slog.DebugContext(ctx, "stderr", "pipeline", p.Name(), "line", line)
		stderrMx.Lock()
		stderr.WriteString(line)
		stderr.WriteByte('\n')
		stderrMx.Unlock()
	}

	cmd := Command{
		Path: step[0],
		Args: step[1:],
		Env:  env,
		Dir:  p.Workdir(),
	}
	out := engine.StepOutput{Args: step, ExitCode: -1}
	if err := runner.Start(ctx, cmd, onStderr); err != nil {
		return out, fmt.Errorf("%s: starting %q: %w", p.Name(), step[0], err)
	}
	res := <-runner.WaitChan()

	combined := res.Stdout.Bytes()
	stderrMx.Lock()
	combined = append(combined, stderr.Bytes()...)
	stderrMx.Unlock()
	out.Output = engine.Tail(combined)
	out.ExitCode = res.ExitCode()

	if errors.Is(res.Err, exec.ErrWaitDelay) && out.ExitCode == 0 {
		slog.WarnContext(ctx, "step left its output open", "pipeline", p.Name(), "args", step)
		res.Err = nil
	}
	if res.Err != nil || out.ExitCode != 0 {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return out, &engine.StepError{
			Pipeline: p.Name(),
			Args:     step,
			ExitCode: out.ExitCode,
			Output:   out.Output,
		}
	}
	return out, nil
}

func (c *Client) Close(context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.closed = true
	return nil
}
