package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrInvalidPipeline = errors.New("invalid pipeline")

type EnvVar struct {
	Name  string
	Value string
}

// Mount makes a host directory visible to the steps.
type Mount struct {
	HostPath      string
	ContainerPath string
	// Env, if set, is exported to the steps with the path they see the mount at.
	Env string
}

// File is a file placed into a service container before it starts.
type File struct {
	Path    string
	Content []byte
	Mode    int64
}

// Service is a long running dependency reachable from the steps of a pipeline.
// Its address is exported as <ALIAS>_HOST and <ALIAS>_PORT.
type Service struct {
	Alias string
	Image string
	Port  int
	Cmd   []string
	Env   map[string]string
	Files []File
}

type Pipeline struct {
	name     string
	image    string
	workdir  string
	env      []EnvVar
	mounts   []Mount
	services []Service
	steps    [][]string
}

func New(name string) Pipeline {
	return Pipeline{name: name}
}

func (p Pipeline) Name() string    { return p.name }
func (p Pipeline) Image() string   { return p.image }
func (p Pipeline) Workdir() string { return p.workdir }

func (p Pipeline) Env() []EnvVar       { return slices.Clone(p.env) }
func (p Pipeline) Mounts() []Mount     { return slices.Clone(p.mounts) }
func (p Pipeline) Services() []Service { return slices.Clone(p.services) }
func (p Pipeline) Steps() [][]string {
	ret := make([][]string, len(p.steps))
	for i, s := range p.steps {
		ret[i] = slices.Clone(s)
	}
	return ret
}

// From sets the container image, the local backend ignores it.
func (p Pipeline) From(image string) Pipeline {
	p.image = image
	return p
}

// In sets the host workspace directory.
func (p Pipeline) In(dir string) Pipeline {
	p.workdir = dir
	return p
}

// WithEnv sets name, replacing a previous value.
func (p Pipeline) WithEnv(name, value string) Pipeline {
	env := make([]EnvVar, 0, len(p.env)+1)
	for _, e := range p.env {
		if e.Name != name {
			env = append(env, e)
		}
	}
	p.env = append(env, EnvVar{Name: name, Value: value})
	return p
}

func (p Pipeline) WithMount(m Mount) Pipeline {
	p.mounts = append(slices.Clone(p.mounts), m)
	return p
}

func (p Pipeline) WithService(s Service) Pipeline {
	p.services = append(slices.Clone(p.services), s)
	return p
}

// WithExec appends a step. Steps run in order, each one sees the workspace
// the previous one left.
func (p Pipeline) WithExec(args ...string) Pipeline {
	p.steps = append(slices.Clone(p.steps), slices.Clone(args))
	return p
}

func (p Pipeline) Validate() error {
	if p.name == "" {
		return fmt.Errorf("%w: no name", ErrInvalidPipeline)
	}
	if p.workdir == "" {
		return fmt.Errorf("%w: %s: no workspace", ErrInvalidPipeline, p.name)
	}
	if len(p.steps) == 0 {
		return fmt.Errorf("%w: %s: no steps", ErrInvalidPipeline, p.name)
	}
	for i, s := range p.steps {
		if len(s) == 0 || s[0] == "" {
			return fmt.Errorf("%w: %s: step %d is empty", ErrInvalidPipeline, p.name, i)
		}
	}
	seen := make(map[string]struct{}, len(p.services))
	for _, s := range p.services {
		if s.Alias == "" || s.Image == "" || s.Port <= 0 {
			return fmt.Errorf("%w: %s: service %q needs an alias, image and port", ErrInvalidPipeline, p.name, s.Alias)
		}
		if _, ok := seen[s.Alias]; ok {
			return fmt.Errorf("%w: %s: service alias %q used twice", ErrInvalidPipeline, p.name, s.Alias)
		}
		seen[s.Alias] = struct{}{}
	}
	return nil
}

// ServiceEnv returns the names of the variables holding the address of alias.
func ServiceEnv(alias string) (host, port string) {
	prefix := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(alias))
	return prefix + "_HOST", prefix + "_PORT"
}
