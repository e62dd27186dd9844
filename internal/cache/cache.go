// Package cache keeps a build cache across runs.
//
// The durable directory lives for as long as the host keeps it. Every run
// works on a transient copy which is mounted into the execution environment.
// A Lease restores the transient copy when acquired and syncs it back on Save.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/airbytehq/airbyte-platform/internal/parallel"
	"github.com/airbytehq/airbyte-platform/internal/walk"
)

// locks serializes syncs touching the same durable directory.
var locks sync.Map // string -> *sync.Mutex

func lock(durable string) func() {
	key := filepath.Clean(durable)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	v, _ := locks.LoadOrStore(key, &sync.Mutex{})
	mx := v.(*sync.Mutex)
	mx.Lock()
	return mx.Unlock
}

type Lease struct {
	Durable   string
	Transient string
}

// Acquire restores durable into transient. Both directories are created when
// missing.
func Acquire(ctx context.Context, durable, transient string) (*Lease, error) {
	l := &Lease{Durable: durable, Transient: transient}
	for _, dir := range []string{durable, transient} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	unlock := lock(durable)
	n, err := mirror(ctx, durable, transient)
	unlock()
	if err != nil {
		return nil, fmt.Errorf("restoring cache %s: %w", durable, err)
	}
	slog.DebugContext(ctx, "cache restored", "durable", durable, "files", n)
	return l, nil
}

// Save syncs the transient copy back. The caller decides whether a failure
// matters; it is always logged.
func (l *Lease) Save(ctx context.Context) error {
	unlock := lock(l.Durable)
	n, err := mirror(ctx, l.Transient, l.Durable)
	unlock()
	if err != nil {
		slog.ErrorContext(ctx, "saving cache failed", "durable", l.Durable, "files", n, "error", err)
		return fmt.Errorf("saving cache %s: %w", l.Durable, err)
	}
	slog.DebugContext(ctx, "cache saved", "durable", l.Durable, "files", n)
	return nil
}

// mirror copies regular files of src which are missing in dst or differ in
// size or modification time.
func mirror(ctx context.Context, src, dst string) (int, error) {
	srcRoot, err := os.OpenRoot(src)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = srcRoot.Close()
	}()
	dstRoot, err := os.OpenRoot(dst)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = dstRoot.Close()
	}()

	var n atomic.Int64
	err = parallel.Each(ctx, parallel.DefaultLimit, walk.Roots(ctx, srcRoot), func(_ context.Context, entry walk.Entry) error {
		info, err := entry.Stat()
		if err != nil {
			return err
		}
		if cur, err := dstRoot.Stat(filepath.FromSlash(entry.Rel())); err == nil &&
			cur.Mode().IsRegular() &&
			cur.Size() == info.Size() &&
			cur.ModTime().Equal(info.ModTime()) {
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
