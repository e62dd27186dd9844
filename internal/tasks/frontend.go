package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/airbytehq/airbyte-platform/internal/engine"
)

const webappDir = "airbyte-webapp"

// FrontendResult gathers the three frontend tasks. They only read sources,
// so none of them depends on another.
type FrontendResult struct {
	Build     engine.Artifact
	Storybook engine.Artifact
	Test      engine.Artifact
}

// frontend returns a pipeline on a fresh copy of the webapp sources.
func (rc *RunContext) frontend(ctx context.Context, name string) (engine.Pipeline, error) {
	ws := rc.workspace(name)
	src := filepath.Join(rc.Settings.SourceDir, webappDir)
	n, err := engine.Export(ctx, src, ws, []string{"**"}, []string{
		"**/node_modules/**",
		"build/**",
		"storybook-static/**",
	})
	if err != nil {
		return engine.Pipeline{}, fmt.Errorf("exporting frontend sources: %w", err)
	}
	slog.DebugContext(ctx, "frontend sources exported", "files", n)

	return engine.New(name).
		From(rc.Settings.Images.Node).
		In(ws).
		WithEnv("CI", "true").
		WithEnv("COREPACK_ENABLE_DOWNLOAD_PROMPT", "0").
		WithExec("corepack", "enable").
		WithExec("pnpm", "install", "--frozen-lockfile"), nil
}

// FrontendBuild installs dependencies, validates licenses and the lockfile
// and builds the webapp.
func FrontendBuild(ctx context.Context, rc *RunContext, client engine.Client) (engine.Artifact, error) {
	p, err := rc.frontend(ctx, FrontendBuildTask)
	if err != nil {
		return engine.Artifact{}, err
	}
	return client.Run(ctx, p.
		WithExec("pnpm", "run", "license-check").
		WithExec("pnpm", "run", "validate-lock").
		WithExec("pnpm", "build"))
}

func StorybookBuild(ctx context.Context, rc *RunContext, client engine.Client) (engine.Artifact, error) {
	p, err := rc.frontend(ctx, StorybookBuildTask)
	if err != nil {
		return engine.Artifact{}, err
	}
	return client.Run(ctx, p.WithExec("pnpm", "run", "build:storybook"))
}

// FrontendTest runs the unit tests against the sources, not the build output.
func FrontendTest(ctx context.Context, rc *RunContext, client engine.Client) (engine.Artifact, error) {
	p, err := rc.frontend(ctx, FrontendTestTask)
	if err != nil {
		return engine.Artifact{}, err
	}
	return client.Run(ctx, p.WithExec("pnpm", "run", "test:ci"))
}
