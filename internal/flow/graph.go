package flow

import (
	"context"
	"fmt"
	"slices"
)

// Func is the body of a task. in holds the outputs of the declared dependencies.
type Func func(ctx context.Context, in Inputs) (any, error)

// Task is a named unit of work with declared dependencies.
type Task struct {
	Name        string
	Description string
	Deps        []string
	Run         Func
	// OnComplete is called once the task reaches a terminal state.
	OnComplete func(ctx context.Context, o Outcome)
}

// Graph is an immutable, validated set of tasks.
type Graph struct {
	tasks map[string]*Task
	order []string // topological, ties broken by registration order
}

func NewGraph(tasks ...Task) (*Graph, error) {
	g := &Graph{
		tasks: make(map[string]*Task, len(tasks)),
	}
	names := make([]string, 0, len(tasks))
	for i := range tasks {
		t := tasks[i]
		if t.Name == "" {
			return nil, invalidf("task #%d has no name", i)
		}
		if t.Run == nil {
			return nil, invalidf("task %q has no Run function", t.Name)
		}
		if _, ok := g.tasks[t.Name]; ok {
			return nil, invalidf("duplicate task %q", t.Name)
		}
		t.Deps = slices.Clone(t.Deps)
		g.tasks[t.Name] = &t
		names = append(names, t.Name)
	}

	for _, name := range names {
		seen := make(map[string]struct{})
		for _, dep := range g.tasks[name].Deps {
			if dep == name {
				return nil, invalidf("task %q depends on itself", name)
			}
			if _, ok := g.tasks[dep]; !ok {
				return nil, invalidf("task %q depends on unknown task %q", name, dep)
			}
			if _, ok := seen[dep]; ok {
				return nil, invalidf("task %q lists dependency %q twice", name, dep)
			}
			seen[dep] = struct{}{}
		}
	}

	order, ok := g.topoOrder(names)
	if !ok {
		return nil, cycleError(g.findCycle(names))
	}
	g.order = order
	return g, nil
}

// MustGraph is like NewGraph but panics on an invalid graph. It is meant
// for graphs declared in code.
func MustGraph(tasks ...Task) *Graph {
	g, err := NewGraph(tasks...)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Graph) Task(name string) (Task, bool) {
	t, ok := g.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Names returns all task names in topological order.
func (g *Graph) Names() []string {
	return slices.Clone(g.order)
}

// Closure returns target and everything it transitively depends on, in
// topological order. The walk does not descend below tasks for which stop
// returns true.
func (g *Graph) Closure(target string, stop func(string) bool) ([]string, error) {
	if _, ok := g.tasks[target]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, target)
	}
	in := make(map[string]bool)
	var visit func(string)
	visit = func(name string) {
		if in[name] {
			return
		}
		in[name] = true
		if stop != nil && stop(name) {
			return
		}
		for _, dep := range g.tasks[name].Deps {
			visit(dep)
		}
	}
	visit(target)

	ret := make([]string, 0, len(in))
	for _, name := range g.order {
		if in[name] {
			ret = append(ret, name)
		}
	}
	return ret, nil
}

// topoOrder is Kahn's algorithm, the ready set is scanned in registration order.
func (g *Graph) topoOrder(names []string) ([]string, bool) {
	indeg := make(map[string]int, len(names))
	for _, name := range names {
		indeg[name] = len(g.tasks[name].Deps)
	}
	done := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for len(out) < len(names) {
		progress := false
		for _, name := range names {
			if done[name] || indeg[name] != 0 {
				continue
			}
			done[name] = true
			out = append(out, name)
			progress = true
			for _, other := range names {
				if slices.Contains(g.tasks[other].Deps, name) {
					indeg[other]--
				}
			}
		}
		if !progress {
			return nil, false
		}
	}
	return out, true
}

// findCycle returns one cycle as a path of names, first and last being equal.
func (g *Graph) findCycle(names []string) []string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(names))
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, dep := range g.tasks[name].Deps {
			switch color[dep] {
			case gray:
				start := slices.Index(stack, dep)
				cycle = append(slices.Clone(stack[start:]), dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range names {
		if color[name] == white && dfs(name) {
			return cycle
		}
	}
	return nil
}
