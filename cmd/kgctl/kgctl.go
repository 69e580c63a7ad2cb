package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/api"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/docker"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/fuseki"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/log"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/service"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/silk"

	"github.com/spf13/cobra"
)

func doRun(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher, closeEngine, err := newLauncher(ctx, config)
	if err != nil {
		return err
	}
	defer closeEngine()

	supervisor, err := service.NewSupervisor(ctx, config, launcher)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func doLink(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	jobs, err := selectJobs(config.Jobs, args)
	if err != nil {
		return err
	}

	cfg := config
	cfg.Jobs = jobs
	cfg.Service.Mode = model.ServiceModeManual

	launcher, closeEngine, err := newLauncher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeEngine()

	supervisor, err := service.NewSupervisor(ctx, cfg, launcher)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func doSameas(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	jobs, err := selectJobs(config.Jobs, args)
	if err != nil {
		return err
	}

	links, err := filepath.Abs(config.Links)
	if err != nil {
		return fmt.Errorf("resolving links path: %w", err)
	}

	cfg := config
	cfg.Jobs = jobs
	cfg.Service.Mode = model.ServiceModeManual

	supervisor, err := service.NewSupervisor(ctx, cfg, reuseLinker{links: links})
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

// reuseLinker skips the Silk run and lets the pipeline postprocess
// whatever alignment files the previous run left behind.
type reuseLinker struct {
	links string
}

func (l reuseLinker) RunJob(_ context.Context, job model.LinkJob) error {
	path := filepath.Join(l.links, job.AlignmentFile())
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("alignment %s is not usable: %w", path, err)
	}
	return nil
}

func (l reuseLinker) Links() string {
	return l.links
}

func doLoad(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	if config.Load == nil {
		return fmt.Errorf("load is not configured")
	}
	if !model.Enabled(config.Fuseki.Enabled, true) {
		return fmt.Errorf("fuseki is disabled in the configuration")
	}

	client, err := fuseki.New(config.Fuseki)
	if err != nil {
		return err
	}

	results, err := client.LoadDir(ctx, *config.Load)
	if err != nil {
		return err
	}
	report := fuseki.NewReport(results)

	reportPath := config.Load.ReportFile()
	if !filepath.IsAbs(reportPath) {
		reportPath = filepath.Join(config.Workspace, reportPath)
	}
	f, err := os.Create(reportPath)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := report.Write(io.MultiWriter(os.Stdout, f)); err != nil {
		return fmt.Errorf("writing load report: %w", err)
	}

	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed to load", len(report.Failed), len(results))
	}
	return nil
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !model.Enabled(config.Fuseki.Enabled, true) {
		return fmt.Errorf("fuseki is disabled in the configuration")
	}
	client, err := fuseki.New(config.Fuseki)
	if err != nil {
		return err
	}

	var apiCfg model.API
	if config.API != nil {
		apiCfg = *config.API
	}
	addr := ":8080"
	if apiCfg.Listen.TCPAddr != nil {
		addr = apiCfg.Listen.String()
	}

	server := api.NewServer(client, apiCfg)
	return server.Run(ctx, addr)
}

func doWorkbenchUp(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	launcher, closeEngine, err := newLauncher(ctx, config)
	if err != nil {
		return err
	}
	defer closeEngine()

	url, err := launcher.StartWorkbench(ctx)
	if err != nil {
		return err
	}

	if flagWorkbenchWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, flagWorkbenchWait)
		defer cancel()
		if err := launcher.WaitReady(waitCtx); err != nil {
			return err
		}
	}

	fmt.Printf("workbench: %s\n", url)
	return nil
}

func doWorkbenchDown(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	launcher, closeEngine, err := newLauncher(ctx, config)
	if err != nil {
		return err
	}
	defer closeEngine()

	return launcher.StopWorkbench(ctx)
}

func doWorkbenchStatus(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	launcher, closeEngine, err := newLauncher(ctx, config)
	if err != nil {
		return err
	}
	defer closeEngine()

	status, err := launcher.Status(ctx)
	if err != nil {
		return err
	}
	switch status.State {
	case silk.WorkbenchRunning:
		fmt.Printf("workbench: running id=%s url=%s\n", status.ID, status.URL)
	case silk.WorkbenchStopped:
		fmt.Printf("workbench: stopped id=%s\n", status.ID)
	default:
		fmt.Println("workbench: absent")
	}
	return nil
}

// newLauncher assembles the container engine and the Silk launcher on
// top of it. The returned func closes the engine and must be deferred.
func newLauncher(ctx context.Context, cfg model.Config) (*silk.Launcher, func(), error) {
	engine, err := docker.New(ctx, cfg.Docker)
	if err != nil {
		return nil, nil, err
	}
	launcher, err := silk.NewLauncher(engine, cfg)
	if err != nil {
		_ = engine.Close()
		return nil, nil, err
	}
	closeEngine := func() {
		if err := engine.Close(); err != nil {
			slog.WarnContext(ctx, "closing docker client failed", "error", err)
		}
	}
	return launcher, closeEngine, nil
}

// selectJobs keeps the configured order regardless of the argument
// order, so `kgctl link external internal` still runs internal first.
func selectJobs(configured []model.LinkJob, names []string) ([]model.LinkJob, error) {
	if len(names) == 0 {
		return configured, nil
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	var selected []model.LinkJob
	for _, job := range configured {
		if wanted[job.Name] {
			selected = append(selected, job)
			delete(wanted, job.Name)
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("job %q is not configured", name)
	}
	return selected, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	attrs := slog.Group("kgctl",
		slog.String("cmd", cmd.Name()),
		slog.Int("pid", os.Getpid()),
	)
	return log.ContextAttrs(cmd.Context(), attrs)
}
