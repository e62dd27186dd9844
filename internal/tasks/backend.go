package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbytehq/airbyte-platform/internal/cache"
	"github.com/airbytehq/airbyte-platform/internal/engine"
	"github.com/airbytehq/airbyte-platform/internal/settings"
)

const (
	gradleHome     = "/root/.gradle"
	mavenLocalPath = "/root/.m2"
)

// excludedTests are skipped by the backend test task: the webapp has its own
// test task and the others are known to be flaky in CI.
var excludedTests = []string{
	":airbyte-webapp:test",
	":airbyte-container-orchestrator:test",
	":airbyte-workload-launcher:test",
}

// excludedChecks are skipped by the backend check task in addition to test.
var excludedChecks = []string{
	":airbyte-webapp:check",
	":airbyte-webapp:test",
}

// backendTestInclude is the part of the backend build the tests need.
var backendTestInclude = []string{
	"gradlew",
	"gradle/**",
	"gradle.properties",
	"settings.gradle*",
	"build.gradle*",
	"deps.toml",
	"buildSrc/**",
	"**/build.gradle*",
	"**/src/**",
	"**/build/**",
}

var backendTestExclude = []string{
	"airbyte-webapp/**",
	"**/build/tmp/**",
	"**/build/docker/**",
	"**/node_modules/**",
}

// BackendArtifact is the backend workspace after assemble and the maven local
// repository it published to.
type BackendArtifact struct {
	engine.Artifact
	MavenLocal string
}

func withScan(args []string, scan bool) []string {
	if scan {
		return append(args, ScanFlag)
	}
	return args
}

func excludeAll(flag string, names []string) []string {
	var ret []string
	for _, n := range names {
		ret = append(ret, flag, n)
	}
	return ret
}

// BackendBuildArgs is the command of the backend build task. The scan flag,
// if requested, is always the last element.
func BackendBuildArgs(scan bool) []string {
	args := []string{
		"./gradlew", "assemble",
		"-x", "buildDockerImage",
		"-x", "dockerBuildImage",
		"publishToMavenLocal",
		"--build-cache", "--no-daemon",
	}
	return withScan(args, scan)
}

func BackendTestArgs(scan bool) []string {
	args := []string{"./gradlew", "test"}
	args = append(args, excludeAll("-x", excludedTests)...)
	args = append(args, "--build-cache", "--no-daemon")
	return withScan(args, scan)
}

func BackendCheckArgs(scan bool) []string {
	args := []string{"./gradlew", "check", "-x", "test"}
	args = append(args, excludeAll("-x", excludedChecks)...)
	args = append(args, "--build-cache", "--no-daemon")
	return withScan(args, scan)
}

// sourceExcludes keeps directories of the run itself out of the exported
// sources when they live inside the source tree.
func sourceExcludes(s *settings.Settings, extra ...string) []string {
	ret := []string{".git/**", "**/.gradle/**", "**/build/**", "**/node_modules/**"}
	for _, dir := range []string{s.WorkDir, s.CacheDir, s.OutputDir} {
		if rel, ok := within(s.SourceDir, dir); ok {
			ret = append(ret, filepath.ToSlash(rel)+"/**")
		}
	}
	return append(ret, extra...)
}

// within returns the path of dir relative to base when dir lies below base.
// Both are made absolute first, so a relative base still matches an
// absolute dir.
func within(base, dir string) (string, bool) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(absBase, absDir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

func backendEnv(s *settings.Settings) []engine.EnvVar {
	return []engine.EnvVar{
		{Name: "VERSION", Value: s.Version},
		{Name: "DEPLOYMENT_MODE", Value: s.DeploymentMode},
		{Name: "LOG_LEVEL", Value: s.LogLevel},
		{Name: "DATABASE_USER", Value: s.Database.User},
		{Name: "DATABASE_PASSWORD", Value: s.Database.Password},
		{Name: "DATABASE_URL", Value: s.DatabaseURL()},
		{Name: "STORAGE_TYPE", Value: s.Storage.Type},
		{Name: "MINIO_ENDPOINT", Value: s.Storage.Endpoint},
		{Name: "AWS_ACCESS_KEY_ID", Value: s.Storage.AccessKey},
		{Name: "AWS_SECRET_ACCESS_KEY", Value: s.Storage.SecretKey},
		{Name: "STORAGE_BUCKET_LOG", Value: s.Storage.Bucket},
	}
}

func (rc *RunContext) acquireCache(ctx context.Context, name string) (*cache.Lease, error) {
	return cache.Acquire(ctx,
		filepath.Join(rc.Settings.CacheDir, "gradle"),
		filepath.Join(rc.Dir(), "cache", name),
	)
}

// gradle returns the base pipeline of the backend tasks.
func (rc *RunContext) gradle(name string, lease *cache.Lease, mavenLocal string) engine.Pipeline {
	p := engine.New(name).
		From(rc.Settings.Images.JDK).
		In(rc.workspace(name)).
		WithMount(engine.Mount{HostPath: lease.Transient, ContainerPath: gradleHome, Env: "GRADLE_USER_HOME"}).
		WithMount(engine.Mount{HostPath: mavenLocal, ContainerPath: mavenLocalPath})
	for _, e := range backendEnv(rc.Settings) {
		p = p.WithEnv(e.Name, e.Value)
	}
	return p
}

// saveCache syncs lease back; a failure is logged by the lease and does not
// change the result of the task.
func saveCache(ctx context.Context, lease *cache.Lease) {
	_ = lease.Save(context.WithoutCancel(ctx))
}

// BackendBuild assembles the backend and publishes it to the maven local
// repository of the run. The build cache is saved whatever the outcome.
func BackendBuild(ctx context.Context, rc *RunContext, client engine.Client, scan bool) (BackendArtifact, error) {
	s := rc.Settings
	ws := rc.workspace(BackendBuildTask)
	n, err := engine.Export(ctx, s.SourceDir, ws, []string{"**"}, sourceExcludes(s, "airbyte-webapp/**"))
	if err != nil {
		return BackendArtifact{}, fmt.Errorf("exporting backend sources: %w", err)
	}
	slog.DebugContext(ctx, "backend sources exported", "files", n)

	lease, err := rc.acquireCache(ctx, BackendBuildTask)
	if err != nil {
		return BackendArtifact{}, err
	}
	defer saveCache(ctx, lease)

	mavenLocal := filepath.Join(rc.Dir(), "m2")
	p := rc.gradle(BackendBuildTask, lease, mavenLocal).
		WithExec(BackendBuildArgs(scan)...)
	a, err := client.Run(ctx, p)
	ret := BackendArtifact{Artifact: a, MavenLocal: mavenLocal}
	if err != nil {
		return ret, err
	}
	if scan {
		publishScan(ctx, rc, a, BuildScanKey)
	}
	return ret, nil
}

// BackendTest runs the backend tests against the allow-listed part of build
// with the proxy services bound. The build cache is saved on success only.
func BackendTest(ctx context.Context, rc *RunContext, client engine.Client, build BackendArtifact, scan bool) (engine.Artifact, error) {
	s := rc.Settings
	ws := rc.workspace(BackendTestTask)
	n, err := engine.Export(ctx, build.Dir, ws, backendTestInclude, backendTestExclude)
	if err != nil {
		return engine.Artifact{}, fmt.Errorf("exporting backend build: %w", err)
	}
	slog.DebugContext(ctx, "backend build exported", "files", n)

	services, err := proxyServices(s)
	if err != nil {
		return engine.Artifact{}, err
	}
	lease, err := rc.acquireCache(ctx, BackendTestTask)
	if err != nil {
		return engine.Artifact{}, err
	}

	p := rc.gradle(BackendTestTask, lease, build.MavenLocal).
		WithEnv("MICROMETER_METRICS_ENABLED", "false").
		WithEnv("PROXY_USER", s.Proxy.User).
		WithEnv("PROXY_PASSWORD", s.Proxy.Password).
		WithEnv("PROXY_PASSWORD_NEW", s.Proxy.NewPassword).
		WithEnv("PROXY_TIMEOUT", strconv.Itoa(int(s.Proxy.Timeout.Seconds())))
	for _, svc := range services {
		p = p.WithService(svc)
	}
	p = p.WithExec(BackendTestArgs(scan)...)

	a, err := client.Run(ctx, p)
	if err != nil {
		return a, err
	}
	saveCache(ctx, lease)
	if scan {
		publishScan(ctx, rc, a, TestScanKey)
	}
	return a, nil
}

// BackendCheck runs the static checks of the backend. The build cache is
// saved whatever the outcome.
func BackendCheck(ctx context.Context, rc *RunContext, client engine.Client, build BackendArtifact, scan bool) (engine.Artifact, error) {
	ws := rc.workspace(BackendCheckTask)
	n, err := engine.Export(ctx, build.Dir, ws, backendTestInclude, backendTestExclude)
	if err != nil {
		return engine.Artifact{}, fmt.Errorf("exporting backend build: %w", err)
	}
	slog.DebugContext(ctx, "backend build exported", "files", n)

	lease, err := rc.acquireCache(ctx, BackendCheckTask)
	if err != nil {
		return engine.Artifact{}, err
	}
	defer saveCache(ctx, lease)

	p := rc.gradle(BackendCheckTask, lease, build.MavenLocal).
		WithExec(BackendCheckArgs(scan)...)
	a, err := client.Run(ctx, p)
	if err != nil {
		return a, err
	}
	if scan {
		publishScan(ctx, rc, a, CheckScanKey)
	}
	return a, nil
}

