package tasks

import (
	"context"
	"fmt"
	"io"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/flow"
)

const (
	EngineTask         = "engine"
	BackendBuildTask   = "backend-build"
	FrontendBuildTask  = "frontend-build"
	StorybookBuildTask = "storybook-build"
	FrontendTestTask   = "frontend-test"
	FrontendTask       = "frontend"
	BuildTask          = "build"
	BackendTestTask    = "backend-test"
	BackendCheckTask   = "backend-check"
	TestTask           = "test"
	CITask             = "ci"
)

// BuildResult is the output of the build task. Backend comes first
// regardless of which branch finished first.
type BuildResult struct {
	Backend  BackendArtifact
	Frontend FrontendResult
}

type TestResult struct {
	Test  engine.Artifact
	Check engine.Artifact
}

// Command binds a task to the command line.
type Command struct {
	Group  string // empty for top level commands
	Name   string
	Help   string
	Target string
}

var Commands = []Command{
	{Name: "build", Help: "Build the backend and the frontend", Target: BuildTask},
	{Name: "test", Help: "Build, then run backend tests and checks", Target: TestTask},
	{Name: "ci", Help: "Run the whole CI flow and print its result", Target: CITask},
	{Group: "backend", Name: "build", Help: "Assemble the backend and publish it to maven local", Target: BackendBuildTask},
	{Group: "backend", Name: "test", Help: "Run the backend tests", Target: BackendTestTask},
	{Group: "backend", Name: "check", Help: "Run the backend static checks", Target: BackendCheckTask},
	{Group: "frontend", Name: "build", Help: "Build the webapp", Target: FrontendBuildTask},
	{Group: "frontend", Name: "test", Help: "Run the webapp unit tests", Target: FrontendTestTask},
	{Group: "storybook", Name: "build", Help: "Build the component catalog", Target: StorybookBuildTask},
}

func client(in flow.Inputs) (engine.Client, error) {
	return flow.Output[engine.Client](in, EngineTask)
}

func backendOf(in flow.Inputs) (engine.Client, BackendArtifact, error) {
	c, err := client(in)
	if err != nil {
		return nil, BackendArtifact{}, err
	}
	build, err := flow.Output[BuildResult](in, BuildTask)
	if err != nil {
		return nil, BackendArtifact{}, err
	}
	return c, build.Backend, nil
}

// frontendTask adapts one of the frontend task functions.
func frontendTask(rc *RunContext, name, description string, fn func(context.Context, *RunContext, engine.Client) (engine.Artifact, error)) flow.Task {
	return flow.Task{
		Name:        name,
		Description: description,
		Deps:        []string{EngineTask},
		Run: func(ctx context.Context, in flow.Inputs) (any, error) {
			c, err := client(in)
			if err != nil {
				return nil, err
			}
			return fn(ctx, rc, c)
		},
	}
}

// Graph returns the task graph of a run. scan is passed to every gradle
// task.
func Graph(rc *RunContext, scan bool) *flow.Graph {
	return flow.MustGraph(
		flow.Task{
			Name:        EngineTask,
			Description: "Create the execution environment",
			Run: func(ctx context.Context, _ flow.Inputs) (any, error) {
				return rc.Engine(ctx)
			},
		},
		flow.Task{
			Name:        BackendBuildTask,
			Description: "Assemble the backend",
			Deps:        []string{EngineTask},
			Run: func(ctx context.Context, in flow.Inputs) (any, error) {
				c, err := client(in)
				if err != nil {
					return nil, err
				}
				return BackendBuild(ctx, rc, c, scan)
			},
		},
		frontendTask(rc, FrontendBuildTask, "Build the webapp", FrontendBuild),
		frontendTask(rc, StorybookBuildTask, "Build the component catalog", StorybookBuild),
		frontendTask(rc, FrontendTestTask, "Run the webapp unit tests", FrontendTest),
		flow.Task{
			Name:        FrontendTask,
			Description: "Gather the frontend tasks",
			Deps:        []string{FrontendBuildTask, StorybookBuildTask, FrontendTestTask},
			Run: func(_ context.Context, in flow.Inputs) (any, error) {
				var ret FrontendResult
				var err error
				if ret.Build, err = flow.Output[engine.Artifact](in, FrontendBuildTask); err != nil {
					return nil, err
				}
				if ret.Storybook, err = flow.Output[engine.Artifact](in, StorybookBuildTask); err != nil {
					return nil, err
				}
				if ret.Test, err = flow.Output[engine.Artifact](in, FrontendTestTask); err != nil {
					return nil, err
				}
				return ret, nil
			},
		},
		flow.Task{
			Name:        BuildTask,
			Description: "Join the backend and frontend builds",
			Deps:        []string{BackendBuildTask, FrontendTask},
			Run: func(_ context.Context, in flow.Inputs) (any, error) {
				backend, err := flow.Output[BackendArtifact](in, BackendBuildTask)
				if err != nil {
					return nil, err
				}
				frontend, err := flow.Output[FrontendResult](in, FrontendTask)
				if err != nil {
					return nil, err
				}
				return BuildResult{Backend: backend, Frontend: frontend}, nil
			},
		},
		flow.Task{
			Name:        BackendTestTask,
			Description: "Run the backend tests",
			Deps:        []string{EngineTask, BuildTask},
			Run: func(ctx context.Context, in flow.Inputs) (any, error) {
				c, build, err := backendOf(in)
				if err != nil {
					return nil, err
				}
				return BackendTest(ctx, rc, c, build, scan)
			},
		},
		flow.Task{
			Name:        BackendCheckTask,
			Description: "Run the backend static checks",
			Deps:        []string{EngineTask, BuildTask},
			Run: func(ctx context.Context, in flow.Inputs) (any, error) {
				c, build, err := backendOf(in)
				if err != nil {
					return nil, err
				}
				return BackendCheck(ctx, rc, c, build, scan)
			},
		},
		flow.Task{
			Name:        TestTask,
			Description: "Join the backend tests and checks",
			Deps:        []string{BackendTestTask, BackendCheckTask},
			Run: func(_ context.Context, in flow.Inputs) (any, error) {
				test, err := flow.Output[engine.Artifact](in, BackendTestTask)
				if err != nil {
					return nil, err
				}
				check, err := flow.Output[engine.Artifact](in, BackendCheckTask)
				if err != nil {
					return nil, err
				}
				return TestResult{Test: test, Check: check}, nil
			},
		},
		flow.Task{
			Name:        CITask,
			Description: "Run everything",
			Deps:        []string{TestTask},
			Run: func(_ context.Context, in flow.Inputs) (any, error) {
				return flow.Output[TestResult](in, TestTask)
			},
			OnComplete: func(_ context.Context, o flow.Outcome) {
				printOutcome(rc.out(), o)
			},
		},
	)
}

func printOutcome(w io.Writer, o flow.Outcome) {
	fmt.Fprintf(w, "%s: %s\n", o.Name, o.State)
	if o.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", o.Err)
	}
	if r, ok := o.Value.(TestResult); ok {
		for _, a := range []engine.Artifact{r.Test, r.Check} {
			fmt.Fprintf(w, "  %s: %d steps, workspace %s\n", a.Name, len(a.Steps), a.Dir)
		}
	}
}

type runOptions struct {
	build *BuildResult
}

type RunOption func(*runOptions)

// WithBuild provides a precomputed build result. The build task and its
// dependencies are not run again.
func WithBuild(b BuildResult) RunOption {
	return func(o *runOptions) {
		o.build = &b
	}
}

// Run executes target and everything it depends on.
func Run(ctx context.Context, rc *RunContext, target string, scan bool, opts ...RunOption) (*flow.Report, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	flowOpts := []flow.Option{flow.WithRunID(rc.ID)}
	if o.build != nil {
		flowOpts = append(flowOpts, flow.WithSeed(BuildTask, *o.build))
	}
	return flow.Run(ctx, Graph(rc, scan), target, flowOpts...)
}

// Build runs the build aggregator.
func Build(ctx context.Context, rc *RunContext, scan bool) (BuildResult, error) {
	report, err := Run(ctx, rc, BuildTask, scan)
	if err != nil {
		return BuildResult{}, err
	}
	return report.Value().(BuildResult), nil
}

// Test runs backend tests and checks. A nil build makes it run the build
// aggregator first.
func Test(ctx context.Context, rc *RunContext, scan bool, build *BuildResult) (TestResult, error) {
	var opts []RunOption
	if build != nil {
		opts = append(opts, WithBuild(*build))
	}
	report, err := Run(ctx, rc, TestTask, scan, opts...)
	if err != nil {
		return TestResult{}, err
	}
	return report.Value().(TestResult), nil
}
