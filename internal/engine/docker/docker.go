// Package docker runs pipelines in containers through testcontainers.
//
// A Client owns one bridge network. Every Run starts a builder container
// from the pipeline image with the workspace bind mounted at WorkspacePath,
// executes the steps with docker exec and removes the container. Services
// join the same network under their alias.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/network"
)

const WorkspacePath = "/airbyte"

type Client struct {
	network *testcontainers.DockerNetwork
	mx      sync.Mutex
	closed  bool
}

func New(ctx context.Context) (*Client, error) {
	nw, err := network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating docker network: %w", err)
	}
	slog.DebugContext(ctx, "docker network created", "network", nw.Name)
	return &Client{network: nw}, nil
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
	if p.Image() == "" {
		return engine.Artifact{}, fmt.Errorf("%w: %s: no image", engine.ErrInvalidPipeline, p.Name())
	}

	artifact := engine.Artifact{Name: p.Name(), Dir: p.Workdir()}
	if err := os.MkdirAll(p.Workdir(), 0o755); err != nil {
		return artifact, fmt.Errorf("creating workspace: %w", err)
	}
	for _, m := range p.Mounts() {
		if err := os.MkdirAll(m.HostPath, 0o755); err != nil {
			return artifact, fmt.Errorf("creating mount %s: %w", m.HostPath, err)
		}
	}

	for _, s := range p.Services() {
		svc, err := StartService(ctx, s, c.network)
		if err != nil {
			return artifact, fmt.Errorf("starting service %s: %w", s.Alias, err)
		}
		defer svc.Terminate(context.WithoutCancel(ctx))
	}

	req, err := builderRequest(p, c.network.Name)
	if err != nil {
		return artifact, err
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if ctr != nil {
		defer func() {
			if err := ctr.Terminate(context.WithoutCancel(ctx)); err != nil {
				slog.WarnContext(ctx, "terminating builder failed", "pipeline", p.Name(), "error", err)
			}
		}()
	}
	if err != nil {
		return artifact, fmt.Errorf("starting %s builder: %w", p.Name(), err)
	}

	env := stepEnv(p)
	for _, step := range p.Steps() {
		out, err := exec(ctx, ctr, p.Name(), step, env)
		artifact.Steps = append(artifact.Steps, out)
		if err != nil {
			return artifact, err
		}
	}
	return artifact, nil
}

func exec(ctx context.Context, ctr testcontainers.Container, name string, step []string, env []string) (engine.StepOutput, error) {
	slog.DebugContext(ctx, "running step", "pipeline", name, "args", step)
	out := engine.StepOutput{Args: step, ExitCode: -1}
	code, reader, err := ctr.Exec(ctx, step,
		tcexec.Multiplexed(),
		tcexec.WithWorkingDir(WorkspacePath),
		tcexec.WithEnv(env),
	)
	if err != nil {
		return out, fmt.Errorf("%s: exec %q: %w", name, step[0], err)
	}
	b, err := io.ReadAll(reader)
	if err != nil {
		return out, fmt.Errorf("%s: reading output of %q: %w", name, step[0], err)
	}
	out.ExitCode = code
	out.Output = engine.Tail(b)
	if code != 0 {
		return out, &engine.StepError{Pipeline: name, Args: step, ExitCode: code, Output: out.Output}
	}
	return out, nil
}

// builderRequest describes the container the steps of p are executed in.
func builderRequest(p engine.Pipeline, networkName string) (testcontainers.ContainerRequest, error) {
	workdir, err := filepath.Abs(p.Workdir())
	if err != nil {
		return testcontainers.ContainerRequest{}, err
	}
	binds := []string{workdir + ":" + WorkspacePath}
	for _, m := range p.Mounts() {
		if m.ContainerPath == "" {
			continue
		}
		host, err := filepath.Abs(m.HostPath)
		if err != nil {
			return testcontainers.ContainerRequest{}, err
		}
		binds = append(binds, host+":"+m.ContainerPath)
	}

	req := testcontainers.ContainerRequest{
		Image:      p.Image(),
		Entrypoint: []string{"sleep", "infinity"},
		WorkingDir: WorkspacePath,
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Binds = append(hc.Binds, binds...)
		},
	}
	if networkName != "" {
		req.Networks = []string{networkName}
	}
	return req, nil
}

// stepEnv is the environment of every step: pipeline variables, mounts and
// service addresses as seen from inside the network.
func stepEnv(p engine.Pipeline) []string {
	var env []string
	for _, e := range p.Env() {
		env = append(env, e.Name+"="+e.Value)
	}
	for _, m := range p.Mounts() {
		if m.Env != "" && m.ContainerPath != "" {
			env = append(env, m.Env+"="+m.ContainerPath)
		}
	}
	for _, s := range p.Services() {
		hostVar, portVar := engine.ServiceEnv(s.Alias)
		env = append(env, hostVar+"="+s.Alias, portVar+"="+strconv.Itoa(s.Port))
	}
	return env
}

func (c *Client) Close(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.network.Remove(ctx); err != nil {
		return fmt.Errorf("removing docker network: %w", err)
	}
	return nil
}
