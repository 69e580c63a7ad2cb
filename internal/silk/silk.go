// Package silk turns linking jobs and the workbench lifecycle into
// container runs. It only orchestrates: the matching itself happens
// inside the Silk images, configured by the XML files in the workspace
// whose paths are passed through untouched.
package silk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/log"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

// Container side paths of the Silk images.
const (
	jobWorkspaceMount = "/silk"
	jobLinksMount     = "/links"
	jobJarPath        = "/silk-singlemachine.jar"

	workbenchWorkspaceMount = "/opt/silk/workspace"
	workbenchLinksMount     = "/opt/silk/workspace/links"

	// The workbench listens on this fixed port. With host networking
	// there is no port mapping to configure.
	WorkbenchPort = 9000
)

const lockFileName = ".workbench.lock"

// Engine is the container runtime surface the launcher needs.
type Engine interface {
	EnsureImage(ctx context.Context, ref string) error
	RunAndWait(ctx context.Context, spec model.ContainerSpec) error
	StartDetached(ctx context.Context, spec model.ContainerSpec) (string, error)
	FindByName(ctx context.Context, name string) (model.ContainerInfo, error)
	RemoveByName(ctx context.Context, name string) error
}

// WorkbenchState is the convergence target of Up: whatever the starting
// state, afterwards exactly one instance is running.
type WorkbenchState string

const (
	WorkbenchAbsent  WorkbenchState = "absent"
	WorkbenchStopped WorkbenchState = "stopped"
	WorkbenchRunning WorkbenchState = "running"
)

type WorkbenchStatus struct {
	State WorkbenchState
	ID    string
	URL   string // set when running
}

// Launcher drives Silk containers over an Engine. Workspace and links
// are kept as absolute paths, bind mounts require them.
type Launcher struct {
	engine    Engine
	silk      model.Silk
	workspace string
	links     string
	stdout    io.Writer
	stderr    io.Writer
}

func NewLauncher(engine Engine, cfg model.Config) (*Launcher, error) {
	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	links, err := filepath.Abs(cfg.Links)
	if err != nil {
		return nil, fmt.Errorf("resolving links path: %w", err)
	}
	return &Launcher{
		engine:    engine,
		silk:      cfg.Silk,
		workspace: workspace,
		links:     links,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}, nil
}

// WithOutput redirects the container output streams. This method exists
// for unit testing only.
func (l *Launcher) WithOutput(stdout, stderr io.Writer) *Launcher {
	l.stdout = stdout
	l.stderr = stderr
	return l
}

// Links is the absolute output directory the job containers write into.
func (l *Launcher) Links() string {
	return l.links
}

// RunJob runs one linking job synchronously and propagates its exit.
// The links directory is created first, Silk refuses to write into a
// missing output mount. No retries: the first failure is returned.
func (l *Launcher) RunJob(ctx context.Context, job model.LinkJob) error {
	if _, err := os.Stat(l.workspace); err != nil {
		return fmt.Errorf("workspace %s is not usable: %w", l.workspace, err)
	}
	if err := os.MkdirAll(l.links, 0o755); err != nil {
		return fmt.Errorf("creating links dir %s: %w", l.links, err)
	}

	if err := l.engine.EnsureImage(ctx, l.silk.Image); err != nil {
		return err
	}

	if l.silk.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.silk.Timeout.Duration)
		defer cancel()
	}

	name := "silk-job-" + job.Name + "-" + uuid.NewString()[:8]
	ctx = log.ContextAttrs(ctx, slog.String("job", job.Name))
	slog.InfoContext(ctx, "starting linking job", "config", job.Config, "container", name)

	started := time.Now()
	err := l.engine.RunAndWait(ctx, model.ContainerSpec{
		Image:       l.silk.Image,
		Name:        name,
		Cmd:         l.jobCommand(job),
		Mounts:      l.jobMounts(),
		HostNetwork: true,
		Labels:      map[string]string{"kg-football.job": job.Name},
		Stdout:      l.stdout,
		Stderr:      l.stderr,
	})
	if err != nil {
		return fmt.Errorf("linking job %s: %w", job.Name, err)
	}

	slog.InfoContext(ctx, "linking finished, links written",
		"dir", l.links,
		"alignment", job.AlignmentFile(),
		"took", time.Since(started).Round(time.Millisecond).String(),
	)
	return nil
}

func (l *Launcher) jobCommand(job model.LinkJob) []string {
	cmd := []string{
		"java",
		"-Xmx" + l.silk.Heap,
		"-DconfigFile=" + path.Join(jobWorkspaceMount, job.Config),
	}
	if l.silk.Threads > 0 {
		cmd = append(cmd, "-Dthreads="+strconv.Itoa(l.silk.Threads))
	}
	return append(cmd, "-jar", jobJarPath)
}

func (l *Launcher) jobMounts() []model.Mount {
	return []model.Mount{
		{Source: l.workspace, Target: jobWorkspaceMount},
		{Source: l.links, Target: jobLinksMount},
	}
}

// StartWorkbench converges to exactly one running workbench instance:
// any previous container with the configured name is force removed, a
// missing one is fine, then a fresh detached instance is started.
// Concurrent launches are serialized through a lock file inside the
// workspace, the loser fails with model.ErrLaunchLocked.
//
// Success means the launch went through. The workbench still boots for
// a while, use WaitReady for a readiness barrier.
func (l *Launcher) StartWorkbench(ctx context.Context) (string, error) {
	for _, dir := range []string{l.workspace, l.links} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating dir %s: %w", dir, err)
		}
	}

	unlock, err := acquireLaunchLock(filepath.Join(l.workspace, lockFileName))
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := l.engine.EnsureImage(ctx, l.silk.WorkbenchImage); err != nil {
		return "", err
	}
	if err := l.engine.RemoveByName(ctx, l.silk.WorkbenchName); err != nil {
		return "", fmt.Errorf("removing previous workbench: %w", err)
	}

	id, err := l.engine.StartDetached(ctx, model.ContainerSpec{
		Image: l.silk.WorkbenchImage,
		Name:  l.silk.WorkbenchName,
		Mounts: []model.Mount{
			{Source: l.workspace, Target: workbenchWorkspaceMount},
			{Source: l.links, Target: workbenchLinksMount},
		},
		HostNetwork: true,
		Labels:      map[string]string{"kg-football.role": "workbench"},
	})
	if err != nil {
		return "", fmt.Errorf("starting workbench: %w", err)
	}

	url := WorkbenchURL()
	slog.InfoContext(ctx, "workbench running", "name", l.silk.WorkbenchName, "id", shortID(id), "url", url)
	return url, nil
}

// StopWorkbench force removes the workbench container. Absence is the
// desired state, so a missing container is not an error.
func (l *Launcher) StopWorkbench(ctx context.Context) error {
	if err := l.engine.RemoveByName(ctx, l.silk.WorkbenchName); err != nil {
		return fmt.Errorf("removing workbench: %w", err)
	}
	slog.InfoContext(ctx, "workbench stopped", "name", l.silk.WorkbenchName)
	return nil
}

// Status reports the current workbench state without changing it.
func (l *Launcher) Status(ctx context.Context) (WorkbenchStatus, error) {
	info, err := l.engine.FindByName(ctx, l.silk.WorkbenchName)
	if errors.Is(err, model.ErrNotFound) {
		return WorkbenchStatus{State: WorkbenchAbsent}, nil
	}
	if err != nil {
		return WorkbenchStatus{}, err
	}
	if info.State.Running() {
		return WorkbenchStatus{State: WorkbenchRunning, ID: info.ID, URL: WorkbenchURL()}, nil
	}
	return WorkbenchStatus{State: WorkbenchStopped, ID: info.ID}, nil
}

// WaitReady blocks until the workbench accepts TCP connections or ctx
// is done.
func (l *Launcher) WaitReady(ctx context.Context) error {
	addr := net.JoinHostPort("localhost", strconv.Itoa(WorkbenchPort))
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("workbench did not become ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func WorkbenchURL() string {
	return "http://localhost:" + strconv.Itoa(WorkbenchPort)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
