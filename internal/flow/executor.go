package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/log"
)

type Option func(*options)

type options struct {
	runID     string
	seeds     map[string]any
	observers []func(context.Context, Outcome)
}

// WithSeed marks task name as succeeded with value. Its dependencies are
// not run.
func WithSeed(name string, value any) Option {
	return func(o *options) {
		o.seeds[name] = value
	}
}

// WithObserver registers fn to be called on every state change of a task.
// Calls are serialized.
func WithObserver(fn func(context.Context, Outcome)) Option {
	return func(o *options) {
		o.observers = append(o.observers, fn)
	}
}

func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

// Report is the result of Run.
type Report struct {
	RunID    string
	Target   string
	Outcomes []Outcome // topological order
}

func (r *Report) Outcome(name string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Value returns the output of the target task.
func (r *Report) Value() any {
	o, _ := r.Outcome(r.Target)
	return o.Value
}

// Failed returns the tasks which failed by themselves, skipped tasks are not included.
func (r *Report) Failed() []Outcome {
	var ret []Outcome
	for _, o := range r.Outcomes {
		if o.State == Failed {
			ret = append(ret, o)
		}
	}
	return ret
}

type node struct {
	task    *Task
	done    chan struct{}
	outcome Outcome
}

type run struct {
	opts    options
	nodes   map[string]*node
	notifyM sync.Mutex
}

// Run executes target and its dependency closure and waits for all started
// tasks to finish. The returned error is nil only when target succeeded. It
// wraps the error of the first failed task in topological order.
func Run(ctx context.Context, g *Graph, target string, opts ...Option) (*Report, error) {
	o := options{seeds: make(map[string]any)}
	for _, opt := range opts {
		opt(&o)
	}
	for name := range o.seeds {
		if _, ok := g.tasks[name]; !ok {
			return nil, fmt.Errorf("%w: seed %q", ErrUnknownTask, name)
		}
	}

	names, err := g.Closure(target, func(name string) bool {
		_, seeded := o.seeds[name]
		return seeded
	})
	if err != nil {
		return nil, err
	}

	r := &run{
		opts:  o,
		nodes: make(map[string]*node, len(names)),
	}
	for _, name := range names {
		r.nodes[name] = &node{
			task:    g.tasks[name],
			done:    make(chan struct{}),
			outcome: Outcome{Name: name, State: Pending},
		}
	}

	if o.runID != "" {
		ctx = log.ContextAttrs(ctx, slog.String("run_id", o.runID))
	}
	slog.DebugContext(ctx, "starting flow", "target", target, "tasks", names)

	var wg sync.WaitGroup
	for _, name := range names {
		n := r.nodes[name]
		if v, ok := o.seeds[name]; ok {
			now := time.Now().UTC()
			r.finish(ctx, n, Outcome{Name: name, State: Succeeded, Value: v, Seeded: true, Started: now, Stopped: now})
			continue
		}
		wg.Go(func() {
			r.execute(ctx, n)
		})
	}
	wg.Wait()

	report := &Report{
		RunID:    o.runID,
		Target:   target,
		Outcomes: make([]Outcome, 0, len(names)),
	}
	for _, name := range names {
		report.Outcomes = append(report.Outcomes, r.nodes[name].outcome)
	}

	final, _ := report.Outcome(target)
	if final.State == Succeeded {
		return report, nil
	}
	if failed := report.Failed(); len(failed) > 0 {
		cause := failed[0]
		return report, fmt.Errorf("%s: task %s failed: %w", target, cause.Name, cause.Err)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%s: %w", target, err)
	}
	return report, fmt.Errorf("%s: %w", target, final.Err)
}

func (r *run) execute(ctx context.Context, n *node) {
	name := n.task.Name
	ctx = log.ContextAttrs(ctx, slog.String("task", name))

	inputs := make(Inputs, len(n.task.Deps))
	for _, dep := range n.task.Deps {
		d := r.nodes[dep]
		select {
		case <-d.done:
		case <-ctx.Done():
			r.skip(ctx, n, ctx.Err())
			return
		}
		if d.outcome.State != Succeeded {
			slog.WarnContext(ctx, "skipping task due to upstream failure", "upstream", dep)
			r.skip(ctx, n, &UpstreamError{Task: name, Upstream: dep})
			return
		}
		inputs[dep] = d.outcome.Value
	}
	if err := ctx.Err(); err != nil {
		r.skip(ctx, n, err)
		return
	}

	started := time.Now().UTC()
	r.notify(ctx, Outcome{Name: name, State: Running, Started: started})
	slog.InfoContext(ctx, "task started")

	value, err := call(ctx, n.task.Run, inputs)
	outcome := Outcome{Name: name, Value: value, Err: err, Started: started, Stopped: time.Now().UTC()}
	if err != nil {
		outcome.State = Failed
		outcome.Value = nil
		slog.ErrorContext(ctx, "task failed", "error", err, "duration", outcome.Duration().String())
	} else {
		outcome.State = Succeeded
		slog.InfoContext(ctx, "task succeeded", "duration", outcome.Duration().String())
	}
	r.finish(ctx, n, outcome)
}

func (r *run) skip(ctx context.Context, n *node, err error) {
	now := time.Now().UTC()
	r.finish(ctx, n, Outcome{Name: n.task.Name, State: Skipped, Err: err, Started: now, Stopped: now})
}

// finish publishes the terminal outcome and unblocks dependents.
func (r *run) finish(ctx context.Context, n *node, o Outcome) {
	n.outcome = o
	r.notify(ctx, o)
	if n.task.OnComplete != nil {
		r.notifyM.Lock()
		n.task.OnComplete(ctx, o)
		r.notifyM.Unlock()
	}
	close(n.done)
}

func (r *run) notify(ctx context.Context, o Outcome) {
	if len(r.opts.observers) == 0 {
		return
	}
	r.notifyM.Lock()
	defer r.notifyM.Unlock()
	for _, fn := range r.opts.observers {
		fn(ctx, o)
	}
}

func call(ctx context.Context, fn Func, in Inputs) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panicked: %v", p)
		}
	}()
	return fn(ctx, in)
}
