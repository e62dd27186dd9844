package tasks_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/airbytehq/airbyte-platform/internal/artifacts"
	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/engine/enginetest"
	"github.com/airbytehq/airbyte-platform/internal/settings"
	"github.com/airbytehq/airbyte-platform/internal/tasks"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is an artifacts.Publisher keeping links in memory.
type recorder struct {
	mx    sync.Mutex
	links []artifacts.Link
}

func (r *recorder) Publish(_ context.Context, link artifacts.Link) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.links = append(r.links, link)
	return nil
}

func (r *recorder) Links() []artifacts.Link {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]artifacts.Link(nil), r.links...)
}

func writeFile(t *testing.T, path, content string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

// sourceTree creates a minimal platform checkout.
func sourceTree(t *testing.T) string {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "gradlew"), "#!/bin/sh\n", 0o755)
	writeFile(t, filepath.Join(src, "settings.gradle.kts"), "", 0o644)
	writeFile(t, filepath.Join(src, "gradle.properties"), "VERSION=dev\n", 0o644)
	writeFile(t, filepath.Join(src, "airbyte-server", "build.gradle.kts"), "", 0o644)
	writeFile(t, filepath.Join(src, "airbyte-server", "src", "main", "kotlin", "Server.kt"), "", 0o644)
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref: refs/heads/main\n", 0o644)
	writeFile(t, filepath.Join(src, "airbyte-webapp", "package.json"), "{}", 0o644)
	writeFile(t, filepath.Join(src, "airbyte-webapp", "src", "index.tsx"), "", 0o644)
	writeFile(t, filepath.Join(src, "airbyte-webapp", "node_modules", "left-pad", "index.js"), "", 0o644)
	return src
}

type fixture struct {
	rc        *tasks.RunContext
	client    *enginetest.Client
	publisher *recorder
	out       *bytes.Buffer
	settings  *settings.Settings
}

func newFixture(t *testing.T, client *enginetest.Client) fixture {
	t.Helper()
	s, err := settings.Load(settings.Options{
		LookupEnv: func(string) (string, bool) { return "", false },
	})
	require.NoError(t, err)
	s.SourceDir = sourceTree(t)
	s.WorkDir = t.TempDir()
	s.CacheDir = t.TempDir()
	s.OutputDir = t.TempDir()
	return newFixtureWith(t, &s, client)
}

func newFixtureWith(t *testing.T, s *settings.Settings, client *enginetest.Client) fixture {
	t.Helper()
	rc := tasks.NewRunContext(s, func(context.Context, *settings.Settings) (engine.Client, error) {
		return client, nil
	})
	f := fixture{
		rc:        rc,
		client:    client,
		publisher: &recorder{},
		out:       &bytes.Buffer{},
		settings:  s,
	}
	rc.Publisher = f.publisher
	rc.Out = f.out
	return f
}
