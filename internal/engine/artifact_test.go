package engine_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExport(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	for _, rel := range []string{
		"gradlew",
		"settings.gradle.kts",
		"airbyte-server/build.gradle.kts",
		"airbyte-server/src/main/Server.kt",
		"airbyte-server/build/libs/server.jar",
		"airbyte-webapp/package.json",
		"airbyte-webapp/node_modules/x/index.js",
	} {
		write(t, src, rel, rel)
	}

	dst := filepath.Join(t.TempDir(), "subset")
	n, err := engine.Export(t.Context(), src, dst,
		[]string{"gradlew", "*.gradle.kts", "airbyte-*/**"},
		[]string{"airbyte-webapp/**", "**/build/**"},
	)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	var got []string
	err = filepath.WalkDir(dst, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(dst, path)
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"gradlew",
		"settings.gradle.kts",
		"airbyte-server/build.gradle.kts",
		"airbyte-server/src/main/Server.kt",
	}, got)

	a := engine.Artifact{Name: "subset", Dir: dst}
	b, err := a.ReadFile("airbyte-server/src/main/Server.kt")
	require.NoError(t, err)
	require.Equal(t, "airbyte-server/src/main/Server.kt", string(b))

	_, err = a.ReadFile("../escape")
	require.Error(t, err)
}

func TestExportInvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := engine.Export(t.Context(), t.TempDir(), t.TempDir(), []string{"[a-"}, nil)
	require.Error(t, err)
}

func TestTail(t *testing.T) {
	t.Parallel()
	short := []byte("ok")
	require.Equal(t, "ok", engine.Tail(short))
	long := []byte(strings.Repeat("a", 70*1024) + "end")
	tail := engine.Tail(long)
	require.Len(t, tail, 64*1024)
	require.True(t, strings.HasSuffix(tail, "end"))
}
