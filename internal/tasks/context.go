package tasks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/airbytehq/airbyte-platform/internal/artifacts"
	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/engine/docker"
	"github.com/airbytehq/airbyte-platform/internal/engine/local"
	"github.com/airbytehq/airbyte-platform/internal/settings"
	"github.com/google/uuid"
)

// EngineFactory creates the execution environment of a run.
type EngineFactory func(ctx context.Context, s *settings.Settings) (engine.Client, error)

// NewEngine creates the client selected by s.Engine.
func NewEngine(ctx context.Context, s *settings.Settings) (engine.Client, error) {
	switch s.Engine {
	case settings.EngineDocker:
		return docker.New(ctx)
	case settings.EngineLocal:
		return local.New(), nil
	default:
		return nil, fmt.Errorf("unsupported engine %q", s.Engine)
	}
}

// RunContext is the state of one run shared by all of its tasks.
type RunContext struct {
	ID        string
	Settings  *settings.Settings
	Publisher artifacts.Publisher
	// Out receives the human readable result of the ci task.
	Out io.Writer

	factory EngineFactory

	mx      sync.Mutex // guards created, client and err
	created bool
	client  engine.Client
	err     error
}

// NewRunContext returns a context with a fresh run id. A nil factory
// selects NewEngine.
func NewRunContext(s *settings.Settings, factory EngineFactory) *RunContext {
	if factory == nil {
		factory = NewEngine
	}
	return &RunContext{
		ID:        uuid.NewString(),
		Settings:  s,
		Publisher: artifacts.Multi{},
		Out:       os.Stdout,
		factory:   factory,
	}
}

// Engine returns the execution environment of the run. It is created on the
// first call; later calls return the same handle, or the same error.
func (rc *RunContext) Engine(ctx context.Context) (engine.Client, error) {
	rc.mx.Lock()
	defer rc.mx.Unlock()
	if !rc.created {
		rc.created = true
		rc.client, rc.err = rc.factory(ctx, rc.Settings)
		if rc.err != nil {
			rc.err = fmt.Errorf("creating execution environment: %w", rc.err)
		}
	}
	return rc.client, rc.err
}

// Close releases the execution environment if one was created. Engine
// returns engine.ErrClosed afterwards.
func (rc *RunContext) Close(ctx context.Context) error {
	rc.mx.Lock()
	client := rc.client
	rc.created = true
	rc.client = nil
	rc.err = engine.ErrClosed
	rc.mx.Unlock()
	if client == nil {
		return nil
	}
	return client.Close(ctx)
}

// Dir returns the directory the run keeps its workspaces in.
func (rc *RunContext) Dir() string {
	return filepath.Join(rc.Settings.WorkDir, rc.ID)
}

func (rc *RunContext) workspace(name string) string {
	return filepath.Join(rc.Dir(), name)
}

func (rc *RunContext) out() io.Writer {
	if rc.Out == nil {
		return io.Discard
	}
	return rc.Out
}
