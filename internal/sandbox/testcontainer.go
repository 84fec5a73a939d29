package sandbox

import (
	"bytes"
	"context"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
)

// tcHandle adapts a *testcontainers.DockerContainer to containerHandle.
type tcHandle struct {
	container testcontainers.Container
}

// newTestcontainer starts manifest.Image with the manifest's CPU and memory
// ceilings applied to the container's cgroup, alongside the wall-clock limit
// Run enforces via ctx (spec §4.4: all three resource limits apply together).
func newTestcontainer(ctx context.Context, manifest LanguageManifest) (containerHandle, error) {
	req := testcontainers.ContainerRequest{
		Image:      manifest.Image,
		Cmd:        []string{"sleep", "infinity"},
		WaitingFor: nil,
		HostConfigModifier: func(hc *container.HostConfig) { applyResourceLimits(hc, manifest) },
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("starting sandbox container %s: %w", manifest.Image, err)
	}
	return &tcHandle{container: c}, nil
}

// applyResourceLimits sets hc's CPU and memory ceilings from manifest,
// leaving Docker's defaults (unlimited) untouched when a limit is unset.
func applyResourceLimits(hc *container.HostConfig, manifest LanguageManifest) {
	if manifest.CPULimit > 0 {
		hc.Resources.NanoCPUs = int64(manifest.CPULimit * 1e9)
	}
	if manifest.MemoryLimit > 0 {
		hc.Resources.Memory = manifest.MemoryLimit
	}
}

func (h *tcHandle) CopyFile(ctx context.Context, path, content string) error {
	return h.container.CopyToContainer(ctx, []byte(content), "/workspace/"+path, 0o644)
}

func (h *tcHandle) Exec(ctx context.Context, cmd []string) (int, string, string, error) {
	exitCode, reader, err := h.container.Exec(ctx, cmd)
	if err != nil {
		return -1, "", "", err
	}
	var out bytes.Buffer
	if reader != nil {
		_, _ = out.ReadFrom(reader)
	}
	return exitCode, out.String(), "", nil
}

func (h *tcHandle) Terminate(ctx context.Context) error {
	return h.container.Terminate(ctx)
}
