// Package docker drives the container engine through the Docker API.
// It covers exactly what the Silk images need: pull an image, run a
// container to completion, start a detached one and manage containers
// by their exact name.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

// LabelOwner marks every container this tool creates.
const LabelOwner = "kg-football.owner"

type Client struct {
	api  *client.Client
	pull string
}

// New connects to the daemon and pings it, so a missing daemon fails
// fast instead of on the first container operation.
func New(ctx context.Context, cfg *model.Docker) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	pull := model.PullMissing
	if cfg != nil {
		if cfg.Host != "" {
			opts = append(opts, client.WithHost(cfg.Host))
		}
		if cfg.Pull != nil {
			pull = *cfg.Pull
		}
	}

	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if _, err := api.Ping(ctx); err != nil {
		_ = api.Close()
		return nil, fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	return &Client{api: api, pull: pull}, nil
}

func (c *Client) Close() error {
	return c.api.Close()
}

// EnsureImage makes ref available locally, honoring the configured pull
// policy. The pull progress stream is drained, not displayed.
func (c *Client) EnsureImage(ctx context.Context, ref string) error {
	switch c.pull {
	case model.PullNever:
		return nil
	case model.PullMissing:
		_, err := c.api.ImageInspect(ctx, ref)
		if err == nil {
			return nil
		}
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("inspecting image %s: %w", ref, err)
		}
	}

	slog.InfoContext(ctx, "pulling image", "image", ref)
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer func() {
		_ = rc.Close()
	}()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("reading pull progress of %s: %w", ref, err)
	}
	return nil
}

// RunAndWait runs spec in the foreground: create, start, stream the
// demuxed output to spec writers and wait for the exit. The container
// is removed afterwards. A non-zero exit status is returned as
// *model.ExitError.
func (c *Client) RunAndWait(ctx context.Context, spec model.ContainerSpec) error {
	id, err := c.create(ctx, spec)
	if err != nil {
		return err
	}
	defer func() {
		// removal must survive a canceled ctx
		rmCtx := context.WithoutCancel(ctx)
		err := c.api.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true})
		if err != nil && !client.IsErrNotFound(err) {
			slog.WarnContext(ctx, "removing finished container failed", "id", shortID(id), "error", err)
		}
	}()

	// subscribe before start, so a fast exit is not missed
	waitCh, waitErrCh := c.api.ContainerWait(ctx, id, container.WaitConditionNextExit)

	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", shortID(id), err)
	}
	slog.DebugContext(ctx, "container started", "id", shortID(id), "image", spec.Image)

	logsDone := c.streamLogs(ctx, id, spec.Stdout, spec.Stderr)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-waitErrCh:
		return fmt.Errorf("waiting for container %s: %w", shortID(id), err)
	case resp := <-waitCh:
		<-logsDone
		if resp.Error != nil {
			return fmt.Errorf("container %s wait: %s", shortID(id), resp.Error.Message)
		}
		if resp.StatusCode != 0 {
			return &model.ExitError{Code: resp.StatusCode}
		}
		return nil
	}
}

// StartDetached creates and starts spec without waiting, returning the
// container ID.
func (c *Client) StartDetached(ctx context.Context, spec model.ContainerSpec) (string, error) {
	id, err := c.create(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("starting container %s: %w", shortID(id), err)
	}
	slog.DebugContext(ctx, "container started", "id", shortID(id), "image", spec.Image)
	return id, nil
}

// FindByName looks a container up by its exact name, including stopped
// ones. The daemon name filter matches substrings, so the result list
// is narrowed down here. Returns model.ErrNotFound when absent.
func (c *Client) FindByName(ctx context.Context, name string) (model.ContainerInfo, error) {
	list, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return model.ContainerInfo{}, fmt.Errorf("listing containers: %w", err)
	}
	for _, it := range list {
		for _, n := range it.Names {
			if strings.TrimPrefix(n, "/") != name {
				continue
			}
			return model.ContainerInfo{
				ID:    it.ID,
				Name:  name,
				Image: it.Image,
				State: model.ContainerState(it.State),
			}, nil
		}
	}
	return model.ContainerInfo{}, fmt.Errorf("container %s: %w", name, model.ErrNotFound)
}

// RemoveByName force removes a named container. A missing container is
// not an error: the desired state is reached already.
func (c *Client) RemoveByName(ctx context.Context, name string) error {
	info, err := c.FindByName(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		slog.DebugContext(ctx, "container not present", "name", name)
		return nil
	}
	if err != nil {
		return err
	}

	err = c.api.ContainerRemove(ctx, info.ID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("removing container %s: %w", name, err)
	}
	slog.DebugContext(ctx, "container removed", "name", name, "id", shortID(info.ID))
	return nil
}

func (c *Client) create(ctx context.Context, spec model.ContainerSpec) (string, error) {
	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	hostCfg := &container.HostConfig{Mounts: mounts}
	if spec.HostNetwork {
		hostCfg.NetworkMode = "host"
	}

	labels := map[string]string{LabelOwner: "kgctl"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	resp, err := c.api.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: labels,
	}, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("creating container from %s: %w", spec.Image, err)
	}
	return resp.ID, nil
}

func (c *Client) streamLogs(ctx context.Context, id string, stdout, stderr io.Writer) <-chan struct{} {
	done := make(chan struct{})
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	rc, err := c.api.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		slog.WarnContext(ctx, "attaching to container logs failed", "id", shortID(id), "error", err)
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer func() {
			_ = rc.Close()
		}()
		if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && !errors.Is(err, context.Canceled) {
			slog.DebugContext(ctx, "container log stream ended", "id", shortID(id), "error", err)
		}
	}()
	return done
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
