package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/airbytehq/airbyte-platform/internal/parallel"
	"github.com/airbytehq/airbyte-platform/internal/walk"
	"github.com/bmatcuk/doublestar/v4"
)

// maxOutput bounds the captured output of a step.
const maxOutput = 64 * 1024

type StepOutput struct {
	Args     []string
	ExitCode int
	Output   string
}

// Artifact is the workspace of a finished pipeline.
type Artifact struct {
	Name  string
	Dir   string
	Steps []StepOutput
}

// ReadFile reads a file relative to the artifact directory.
func (a Artifact) ReadFile(name string) ([]byte, error) {
	root, err := os.OpenRoot(a.Dir)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = root.Close()
	}()
	return root.ReadFile(name)
}

// Tail keeps the last maxOutput bytes of out.
func Tail(out []byte) string {
	if len(out) > maxOutput {
		out = out[len(out)-maxOutput:]
	}
	return string(out)
}

// Export copies files of src matching one of include and none of exclude
// into dst and returns the number of copied files. Patterns are doublestar
// globs over slash separated relative paths.
func Export(ctx context.Context, src, dst string, include, exclude []string) (int, error) {
	for _, p := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return 0, fmt.Errorf("invalid pattern %q", p)
		}
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return 0, fmt.Errorf("creating %s: %w", dst, err)
	}

	srcRoot, err := os.OpenRoot(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() {
		_ = srcRoot.Close()
	}()
	dstRoot, err := os.OpenRoot(dst)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", dst, err)
	}
	defer func() {
		_ = dstRoot.Close()
	}()

	var n atomic.Int64
	err = parallel.Each(ctx, parallel.DefaultLimit, walk.Roots(ctx, srcRoot), func(_ context.Context, entry walk.Entry) error {
		rel := filepath.ToSlash(entry.Rel())
		if !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}
		if err := walk.CopyFile(dstRoot, entry); err != nil {
			return err
		}
		n.Add(1)
		return nil
	})
	return int(n.Load()), err
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if doublestar.MatchUnvalidated(p, name) {
			return true
		}
	}
	return false
}
