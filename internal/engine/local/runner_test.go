package local_test

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/engine/local"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	t.Parallel()
	yes, err := exec.LookPath("yes")
	if err != nil {
		t.Skipf("skipped, binary yes not available: %v", err)
	}

	runner := local.NewRunner()
	t.Run("not yet started", func(t *testing.T) {
		res := <-runner.WaitChan()
		require.ErrorIs(t, res.Err, local.ErrNotStarted)
	})

	cmd := local.Command{
		Path: yes,
		Args: []string{"golang"},
		Env:  []string{"LC_ALL=C"},
	}
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	t.Cleanup(cancel)

	t.Run("start", func(t *testing.T) {
		err = runner.Start(ctx, cmd, nil)
		require.NoError(t, err)
	})
	t.Run("in progress", func(t *testing.T) {
		err = runner.Start(ctx, cmd, nil)
		require.ErrorIs(t, err, local.ErrInProgress)
	})
	t.Run("wait", func(t *testing.T) {
		res := <-runner.WaitChan()
		require.Equal(t, yes, res.Path)
		require.Equal(t, []string{"golang"}, res.Args)
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)
		require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 50*time.Millisecond)
		require.Error(t, res.Err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)

		require.Greater(t, res.Stdout.Len(), 1024)
		require.True(t, strings.HasPrefix(
			string(res.Stdout.Bytes()[:256]),
			"golang\ngolang\n",
		))
	})
	t.Run("wait after finish", func(t *testing.T) {
		res := <-runner.WaitChan()
		require.Equal(t, yes, res.Path)
	})
	t.Run("exec error", func(t *testing.T) {
		noCmd := local.Command{
			Path: "does not exist",
		}
		err := runner.Start(t.Context(), noCmd, nil)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
	})
}

func TestStderr(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := local.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; printf 'stderr\\nstderr\\n' 1>&2"},
	}

	var stderr []string
	handle := func(_ context.Context, line string) {
		stderr = append(stderr, line)
	}

	runner := local.NewRunner()
	err = runner.Start(t.Context(), cmd, handle)
	require.NoError(t, err)
	res := <-runner.WaitChan()
	require.NoError(t, res.Err)
	require.Equal(t, 0, res.ExitCode())
	require.Equal(t, "stdout\n", res.Stdout.String())
	require.Equal(t, []string{"stderr", "stderr"}, stderr)
}

func TestWaitDelay(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	// the background sleep inherits stdout and stderr and outlives sh
	cmd := local.Command{
		Path:      sh,
		Args:      []string{"-c", "sleep 5 & echo started; echo warming 1>&2"},
		WaitDelay: 200 * time.Millisecond,
	}
	var lines []string
	runner := local.NewRunner()
	require.NoError(t, runner.Start(t.Context(), cmd, func(_ context.Context, line string) {
		lines = append(lines, line)
	}))

	select {
	case res := <-runner.WaitChan():
		require.Equal(t, 0, res.ExitCode())
		if res.Err != nil {
			require.ErrorIs(t, res.Err, exec.ErrWaitDelay)
		}
		require.Equal(t, "started\n", res.Stdout.String())
		require.Equal(t, []string{"warming"}, lines)
	case <-time.After(3 * time.Second):
		t.Fatal("runner waited for the background process")
	}
}
