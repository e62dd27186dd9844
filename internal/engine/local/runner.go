package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("command not started")
	ErrInProgress = errors.New("command in progress")
)

type StderrFunc func(ctx context.Context, line string)

// DefaultWaitDelay bounds how long a step waits for its output pipes once
// the process exited or its context is done. A daemon started by the step
// may keep the pipes open long after the step itself finished.
const DefaultWaitDelay = 10 * time.Second

// Runner runs one process at a time and captures its stdout.
type Runner struct {
	mx     sync.Mutex
	cmd    *exec.Cmd
	result Result
	waits  []chan Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrNotStarted},
	}
}

type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	// WaitDelay, zero selects DefaultWaitDelay. See exec.Cmd.WaitDelay.
	WaitDelay time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Err     error
}

// ExitCode returns the exit code of the process or -1 if it did not exit.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Start runs the underlying process. It returns ErrInProgress or an exec
// error, otherwise nil. Does NOT wait on command to finish, use WaitChan.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	r.cmd = exec.CommandContext(ctx, r.result.Path, r.result.Args...)
	r.cmd.Env = append([]string(nil), proto.Env...)
	r.cmd.Dir = proto.Dir
	r.cmd.WaitDelay = proto.WaitDelay
	if r.cmd.WaitDelay <= 0 {
		r.cmd.WaitDelay = DefaultWaitDelay
	}
	// stderr goes through an io.Pipe rather than StderrPipe, so Wait owns
	// the copy and WaitDelay applies to it
	var stderrR *io.PipeReader
	var stderrW *io.PipeWriter
	if stderrFunc != nil {
		stderrR, stderrW = io.Pipe()
		r.cmd.Stderr = stderrW
	}
	var buf bytes.Buffer
	r.result.Stdout = &buf
	r.cmd.Stdout = &buf

	r.result.Started = time.Now().UTC()
	if err := r.cmd.Start(); err != nil {
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		r.cmd = nil
		if stderrW != nil {
			_ = stderrW.Close()
			_ = stderrR.Close()
		}
		return err
	}

	var stderrDone chan struct{}
	if stderrR != nil {
		stderrDone = make(chan struct{})
		go func() {
			defer close(stderrDone)
			processStderr(ctx, stderrR, stderrFunc)
		}()
	}
	go r.wait(r.cmd, stderrW, stderrDone)
	return nil
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
	// a blocked writer would hold Wait until WaitDelay
	_, _ = io.Copy(io.Discard, stderr)
}

func (r *Runner) wait(cmd *exec.Cmd, stderrW *io.PipeWriter, stderrDone <-chan struct{}) {
	err := cmd.Wait()
	if stderrW != nil {
		_ = stderrW.Close()
		<-stderrDone
	}
	stopped := time.Now().UTC()

	r.mx.Lock()
	defer r.mx.Unlock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.cmd = nil
	for _, ch := range r.waits {
		ch <- r.result
		close(ch)
	}
	r.waits = nil
}

// WaitChan returns a channel receiving the result of the running program.
// The channel is closed once the program ends. When nothing is running, the
// last result is delivered immediately.
func (r *Runner) WaitChan() <-chan Result {
	ch := make(chan Result, 1)
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd == nil {
		ch <- r.result
		close(ch)
		return ch
	}
	r.waits = append(r.waits, ch)
	return ch
}
