package artifacts_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/artifacts"
	"github.com/stretchr/testify/require"
)

var link = artifacts.Link{
	Key:     "oss-build-gradle-scan",
	URL:     "https://gradle.com/s/abc",
	Task:    "backend-build",
	RunID:   "9c4c7d4e-2b0e-4c53-9d1d-000000000001",
	Created: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
}

func TestWriterPublisher(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := artifacts.NewWriterPublisher(&buf)
	require.NoError(t, p.Publish(t.Context(), link))
	require.NoError(t, p.Publish(t.Context(), link))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var got artifacts.Link
	require.NoError(t, json.Unmarshal(lines[0], &got))
	require.Equal(t, link, got)
}

func TestDirPublisher(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	p, err := artifacts.NewDirPublisher(dir)
	require.NoError(t, err)
	require.NoError(t, p.Publish(t.Context(), link))
	require.NoError(t, p.Close())

	b, err := os.ReadFile(filepath.Join(dir, "oss-build-gradle-scan-9c4c7d4e-2b0e-4c53-9d1d-000000000001.json"))
	require.NoError(t, err)
	var got artifacts.Link
	require.NoError(t, json.Unmarshal(b, &got))
	require.Equal(t, link, got)

	require.Error(t, p.Publish(t.Context(), link))
	require.Error(t, p.Close())
}

func TestFileName(t *testing.T) {
	t.Parallel()
	var tests = []struct {
		scenario string
		given    artifacts.Link
		then     string
	}{
		{
			scenario: "run id",
			given:    artifacts.Link{Key: "k", RunID: "r"},
			then:     "k-r.json",
		},
		{
			scenario: "timestamp",
			given:    artifacts.Link{Key: "k", Created: time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)},
			then:     "k-2024-05-06-07-08-09.json",
		},
		{
			scenario: "unsafe characters",
			given:    artifacts.Link{Key: "../k", RunID: "a/b"},
			then:     ".._k-a_b.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.then, artifacts.FileName(tt.given))
		})
	}
}

type failing struct{ err error }

func (f failing) Publish(context.Context, artifacts.Link) error { return f.err }

func TestMulti(t *testing.T) {
	t.Parallel()
	errA := errors.New("a")
	errB := errors.New("b")
	var buf bytes.Buffer
	m := artifacts.Multi{failing{errA}, artifacts.NewWriterPublisher(&buf), failing{errB}}

	err := m.Publish(t.Context(), link)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
	require.NotEmpty(t, buf.String())
}
