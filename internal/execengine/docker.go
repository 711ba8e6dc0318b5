// Optional Docker-backed execution path (spec.md §9's Open Question #1):
// selected only via EXECUTION_BACKEND=docker, never the default. Adapted
// from internal/sandbox/v2/executor.go's DockerExecutor.
package execengine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"sessionbroker/internal/brokererr"
	"sessionbroker/internal/langregistry"
	"sessionbroker/internal/metrics"
)

// images maps a language id to the container image used to run it. Callers
// are expected to have these images present locally (PullImages is not
// attempted here, matching the teacher's conservative default).
var images = map[string]string{
	"python":     "python:3.12-slim",
	"javascript": "node:20-slim",
	"typescript": "node:20-slim",
	"go":         "golang:1.23-bookworm",
	"ruby":       "ruby:3.3-slim",
	"php":        "php:8.3-cli",
}

// DockerBackend runs code inside a throwaway container per execution,
// instead of as a local subprocess.
type DockerBackend struct {
	cli   *client.Client
	quota ResourceQuotaSet
}

// ResourceQuotaSet is the container limit set (memory, pids) taken from the
// teacher's quota table (internal/sandbox/v2/manager.go's
// defaultLanguageQuotas). One set, DefaultResourceQuotaSet, is applied to
// every language on the container-backed path; the local-subprocess path
// has no container limits to set.
type ResourceQuotaSet struct {
	MemoryBytes int64
	PidsLimit   int64
}

// DefaultResourceQuotaSet matches the teacher's default quota.
func DefaultResourceQuotaSet() ResourceQuotaSet {
	return ResourceQuotaSet{MemoryBytes: 256 * 1024 * 1024, PidsLimit: 64}
}

// NewDockerBackend connects to the local Docker daemon via DOCKER_HOST /
// the default socket.
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker backend: %w", err)
	}
	return &DockerBackend{cli: cli, quota: DefaultResourceQuotaSet()}, nil
}

// Execute runs desc's recipe inside a fresh container, writing code in via
// a tar archive and reading captured stdout/stderr back out.
func (b *DockerBackend) Execute(ctx context.Context, desc langregistry.Descriptor, code, stdin string, timeout time.Duration) (*Result, error) {
	image, ok := images[desc.ID]
	if !ok {
		return nil, brokererr.New(brokererr.Unsupported, "no container image configured for "+desc.ID)
	}

	srcName := "code" + desc.Suffix
	runArgv := substituteArgs(desc.Recipe.Run, "/workspace/"+srcName, "/workspace/a.out", "/workspace", "code")

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := b.cli.ContainerCreate(execCtx, &container.Config{
		Image:      image,
		Cmd:        runArgv,
		WorkingDir: "/workspace",
		Tty:        false,
		OpenStdin:  stdin != "",
	}, &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:     b.quota.MemoryBytes,
			PidsLimit:  &b.quota.PidsLimit,
		},
		ReadonlyRootfs: false,
	}, nil, nil, "")
	metrics.Get().RecordContainerOperation("create", err)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.SpawnFailed, "container create failed", err)
	}
	defer func() {
		_ = b.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	if err := b.copySource(execCtx, resp.ID, srcName, code); err != nil {
		return nil, brokererr.Wrap(brokererr.SpawnFailed, "failed to inject source", err)
	}

	start := time.Now()
	startErr := b.cli.ContainerStart(execCtx, resp.ID, container.StartOptions{})
	metrics.Get().RecordContainerOperation("start", startErr)
	if startErr != nil {
		return nil, brokererr.Wrap(brokererr.SpawnFailed, "container start failed", startErr)
	}

	statusCh, errCh := b.cli.ContainerWait(execCtx, resp.ID, container.WaitConditionNotRunning)
	var result Result
	select {
	case <-execCtx.Done():
		_ = b.cli.ContainerKill(context.Background(), resp.ID, "SIGKILL")
		metrics.Get().RecordContainerOperation("wait", execCtx.Err())
		result.ExitCode = 124
		result.WallTimeMs = time.Since(start).Milliseconds()
		b.fillLogs(&result, resp.ID)
		return &result, nil
	case err := <-errCh:
		metrics.Get().RecordContainerOperation("wait", err)
		if err != nil {
			return nil, brokererr.NewInternal("container wait failed", err)
		}
	case status := <-statusCh:
		metrics.Get().RecordContainerOperation("wait", nil)
		result.ExitCode = int(status.StatusCode)
	}
	result.WallTimeMs = time.Since(start).Milliseconds()
	b.fillLogs(&result, resp.ID)
	return &result, nil
}

func (b *DockerBackend) fillLogs(result *Result, containerID string) {
	out, err := b.cli.ContainerLogs(context.Background(), containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return
	}
	defer out.Close()
	var stdoutBuf, stderrBuf bytes.Buffer
	_, _ = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, out)
	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
}

func (b *DockerBackend) copySource(ctx context.Context, containerID, name, code string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(code))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := tw.Write([]byte(code)); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return b.cli.CopyToContainer(ctx, containerID, "/workspace", &buf, container.CopyToContainerOptions{})
}

func (b *DockerBackend) Close() error {
	return b.cli.Close()
}

func substituteArgs(argv []string, file, out, dir, class string) []string {
	res := make([]string, len(argv))
	for i, a := range argv {
		a = strings.ReplaceAll(a, "{file}", file)
		a = strings.ReplaceAll(a, "{out}", out)
		a = strings.ReplaceAll(a, "{dir}", dir)
		a = strings.ReplaceAll(a, "{class}", class)
		res[i] = a
	}
	return res
}
