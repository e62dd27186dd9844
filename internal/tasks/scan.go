package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/artifacts"
	"github.com/airbytehq/airbyte-platform/internal/engine"
)

const (
	ScanFlag    = "--scan"
	ScanJournal = "scan-journal.log"

	BuildScanKey = "oss-build-gradle-scan"
	TestScanKey  = "oss-test-gradle-scan"
	CheckScanKey = "oss-check-gradle-scan"
)

var ErrMalformedScanJournal = errors.New("malformed scan journal")

// ParseScanJournal extracts the build scan url from a journal line of the
// form "<date> - <scan id> - <url>". The last non empty line wins.
func ParseScanJournal(contents string) (string, error) {
	lines := strings.Split(strings.TrimSpace(contents), "\n")
	line := lines[len(lines)-1]
	parts := strings.Split(line, " - ")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: expected 3 fields separated by %q, got %d", ErrMalformedScanJournal, " - ", len(parts))
	}
	url := strings.TrimSpace(parts[2])
	if url == "" {
		return "", fmt.Errorf("%w: empty url", ErrMalformedScanJournal)
	}
	return url, nil
}

// publishScan publishes the build scan link found in a. Failures are logged
// and never fail the task.
func publishScan(ctx context.Context, rc *RunContext, a engine.Artifact, key string) {
	b, err := a.ReadFile(ScanJournal)
	if err != nil {
		slog.ErrorContext(ctx, "reading scan journal failed", "key", key, "error", err)
		return
	}
	url, err := ParseScanJournal(string(b))
	if err != nil {
		slog.ErrorContext(ctx, "parsing scan journal failed", "key", key, "error", err)
		return
	}
	link := artifacts.Link{
		Key:         key,
		URL:         url,
		Description: "Gradle build scan of " + a.Name,
		Task:        a.Name,
		RunID:       rc.ID,
		Created:     time.Now().UTC(),
	}
	if err := rc.Publisher.Publish(ctx, link); err != nil {
		slog.ErrorContext(ctx, "publishing scan link failed", "key", key, "error", err)
		return
	}
	slog.InfoContext(ctx, "build scan published", "key", key, "url", url)
}
