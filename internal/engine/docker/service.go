package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Service is a running service binding.
type Service struct {
	Alias string
	Host  string
	Port  int

	container   testcontainers.Container
	onTerminate func()
}

// NewStaticService describes a service which is already running elsewhere.
// onTerminate, if not nil, is called by Terminate.
func NewStaticService(alias, host string, port int, onTerminate func()) *Service {
	return &Service{Alias: alias, Host: host, Port: port, onTerminate: onTerminate}
}

// Terminate stops the service container. Errors are only logged.
func (s *Service) Terminate(ctx context.Context) {
	if s.container != nil {
		if err := s.container.Terminate(ctx); err != nil {
			slog.WarnContext(ctx, "terminating service failed", "alias", s.Alias, "error", err)
		}
	}
	if s.onTerminate != nil {
		s.onTerminate()
	}
}

func servicePort(s engine.Service) nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", s.Port))
}

func serviceRequest(s engine.Service, networkName string) testcontainers.ContainerRequest {
	port := servicePort(s)
	req := testcontainers.ContainerRequest{
		Image:        s.Image,
		Cmd:          s.Cmd,
		Env:          s.Env,
		ExposedPorts: []string{string(port)},
		WaitingFor:   wait.ForListeningPort(port),
	}
	for _, f := range s.Files {
		req.Files = append(req.Files, testcontainers.ContainerFile{
			Reader:            bytes.NewReader(f.Content),
			ContainerFilePath: f.Path,
			FileMode:          f.Mode,
		})
	}
	if networkName != "" {
		req.Networks = []string{networkName}
		req.NetworkAliases = map[string][]string{networkName: {s.Alias}}
	}
	return req
}

// StartService starts s as a container. With a network the service is
// reachable under its alias and container port from the network, otherwise
// under the mapped port on the docker host.
func StartService(ctx context.Context, s engine.Service, nw *testcontainers.DockerNetwork) (*Service, error) {
	var networkName string
	if nw != nil {
		networkName = nw.Name
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: serviceRequest(s, networkName),
		Started:          true,
	})
	if err != nil {
		if ctr != nil {
			_ = ctr.Terminate(context.WithoutCancel(ctx))
		}
		return nil, fmt.Errorf("starting %s: %w", s.Image, err)
	}

	svc := &Service{Alias: s.Alias, Host: s.Alias, Port: s.Port, container: ctr}
	if nw != nil {
		return svc, nil
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		svc.Terminate(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("resolving host of %s: %w", s.Alias, err)
	}
	mapped, err := ctr.MappedPort(ctx, servicePort(s))
	if err != nil {
		svc.Terminate(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("resolving port of %s: %w", s.Alias, err)
	}
	svc.Host = host
	svc.Port = mapped.Int()
	return svc, nil
}
