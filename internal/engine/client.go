package engine

import "context"

// Client is a handle to an execution environment.
type Client interface {
	// Run executes the steps of p in order and stops at the first failing
	// one. The returned Artifact describes the workspace also on error.
	Run(ctx context.Context, p Pipeline) (Artifact, error)
	Close(ctx context.Context) error
}
