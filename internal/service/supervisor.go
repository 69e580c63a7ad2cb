package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	gocron "github.com/go-co-op/gocron/v2"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/align"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

// All triggers every configured job.
const All = "**"

// Linker runs one Silk linking job and leaves its alignment file in
// the links directory.
type Linker interface {
	RunJob(ctx context.Context, job model.LinkJob) error
	Links() string
}

// Result is the terminal outcome of a single job run. Artifact is nil
// when the run produced nothing to publish, either because sameas
// postprocessing is off or because no match survived the filter.
type Result struct {
	Job      string
	Artifact *model.Artifact
	Took     time.Duration
	Err      error
}

type Supervisor struct {
	linker     Linker
	publishers []model.Publisher
	jobs       []model.LinkJob
	oneshot    bool
	scheduler  gocron.Scheduler
	start      chan string
	results    chan Result
	busy       map[string]*atomic.Bool
	runMx      sync.Mutex
	wg         sync.WaitGroup
}

func NewSupervisor(ctx context.Context, cfg model.Config, linker Linker) (*Supervisor, error) {
	publishers, err := publishers(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing publishers: %w", err)
	}

	var supervisor = &Supervisor{}
	var scheduler gocron.Scheduler
	if cfg.Service.Mode == model.ServiceModeTimer {
		var err error
		scheduler, err = newScheduler(ctx, cfg.Service.Schedule, func() { supervisor.Start(All) })
		if err != nil {
			return nil, fmt.Errorf("timer mode failed: %w", err)
		}
	}

	busy := make(map[string]*atomic.Bool, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		busy[job.Name] = &atomic.Bool{}
	}

	supervisor.linker = linker
	supervisor.publishers = publishers
	supervisor.jobs = cfg.Jobs
	supervisor.oneshot = (cfg.Service.Mode == model.ServiceModeManual)
	supervisor.scheduler = scheduler
	supervisor.start = make(chan string, 1)
	supervisor.results = make(chan Result, 1)
	supervisor.busy = busy

	return supervisor, nil
}

// WithPublishers swaps the publishers of an initialized Supervisor.
// This method exists for a unit testing only.
func (s *Supervisor) WithPublishers(ctx context.Context, publishers ...model.Publisher) *Supervisor {
	s.closePublishers(ctx)
	s.publishers = publishers
	return s
}

// Start tells supervisor to run a job - this is a hint, so this ends
// immediately and without any error.
// start All ("**") will trigger all configured jobs
func (s *Supervisor) Start(name string) {
	s.start <- name
}

// Do runs the supervisor event loop.
// It multiplexes three concerns:
//  1. Start triggers: job names received on s.start launch those jobs.
//  2. Job results: the produced Turtle is published, failures are logged.
//  3. Context cancellation: terminates the loop and begins shutdown.
//
// Modes:
//   - Oneshot (manual): every job is triggered once on entry; the first run or
//     publish error is returned and the loop ends when all jobs reported.
//   - Timer: errors are only logged; the loop runs until ctx is cancelled.
//
// Startup: starts the scheduler (if present).
// Shutdown (deferred order): cancel run context -> closePublishers -> wait on s.wg.
// Returns nil on graceful cancellation, or the first error in oneshot mode.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting the linking supervisor")

	if s.scheduler != nil {
		s.scheduler.Start()
		defer func() {
			err := s.scheduler.Shutdown()
			if err != nil {
				slog.ErrorContext(ctx, "shutting down gocron has failed", "error", err)
			}
		}()
	}

	defer func() {
		s.wg.Wait()
	}()

	defer func() {
		s.closePublishers(ctx)
	}()

	// Cancelling unblocks job goroutines still trying to deliver a
	// result after the loop has returned.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pending int
	if s.oneshot {
		pending = s.callStart(ctx, All)
		if pending == 0 {
			slog.WarnContext(ctx, "no linking jobs configured")
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-s.start:
			pending += s.callStart(ctx, name)
		case result := <-s.results:
			err := s.handleResult(ctx, result)
			if s.oneshot {
				if err != nil {
					return err
				}
				pending--
				if pending == 0 {
					return nil
				}
			}
		}
	}
}

// handleResult publishes what the run produced. The returned error is
// only acted on in oneshot mode, timer mode logs and moves on.
func (s *Supervisor) handleResult(ctx context.Context, result Result) error {
	if result.Err != nil {
		slog.ErrorContext(ctx, "linking run failed", "job", result.Job, "error", result.Err)
		return result.Err
	}

	if result.Artifact == nil {
		slog.InfoContext(ctx, "nothing to publish", "job", result.Job, "took", result.Took.String())
		return nil
	}

	slog.DebugContext(ctx, "linking run succeeded: publishing", "job", result.Job, "took", result.Took.String())
	err := s.publish(ctx, *result.Artifact)
	if err != nil {
		slog.ErrorContext(ctx, "publishing failed", "job", result.Job, "error", err)
		return err
	}
	return nil
}

// callStart launches the named job, or every configured job for All.
// Returns how many runs were actually started, a job still running
// from the previous trigger is skipped.
func (s *Supervisor) callStart(ctx context.Context, name string) int {
	var selected []model.LinkJob
	for _, job := range s.jobs {
		if name == All || job.Name == name {
			selected = append(selected, job)
		}
	}
	if len(selected) == 0 {
		slog.WarnContext(ctx, "cannot start job: not known", "job", name)
		return 0
	}

	started := 0
	for _, job := range selected {
		if !s.busy[job.Name].CompareAndSwap(false, true) {
			slog.WarnContext(ctx, "job already running: ignoring start", "job", job.Name)
			continue
		}
		started++
		slog.DebugContext(ctx, "starting a job", "job", job.Name)

		s.wg.Go(func() {
			// Silk runs are memory hungry, one container at a time.
			s.runMx.Lock()
			result := s.runOne(ctx, job)
			s.runMx.Unlock()

			// The job is startable again once its run finished, not
			// only after the loop drained the result.
			s.busy[job.Name].Store(false)

			select {
			case s.results <- result:
			case <-ctx.Done():
			}
		})
	}
	return started
}

// runOne executes the whole pipeline for a single job: the Silk
// container, alignment parsing, filtering and Turtle rendering.
func (s *Supervisor) runOne(ctx context.Context, job model.LinkJob) Result {
	started := time.Now()
	result := Result{Job: job.Name}

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	if err := s.linker.RunJob(ctx, job); err != nil {
		result.Err = err
		return result
	}

	sameas := job.SameAs
	if sameas == nil || !model.Enabled(sameas.Enabled, true) {
		result.Took = time.Since(started)
		return result
	}

	matches, err := align.ParseFile(filepath.Join(s.linker.Links(), job.AlignmentFile()))
	if err != nil {
		result.Err = err
		return result
	}

	rule := align.Rule{
		Threshold: sameas.Threshold,
		DropExact: model.Enabled(sameas.DropExact, false),
	}
	kept := align.Filter(matches, rule)
	slog.InfoContext(ctx, "alignment filtered",
		"job", job.Name, "cells", len(matches), "kept", len(kept))

	if len(kept) > 0 {
		result.Artifact = &model.Artifact{
			Job:   job.Name,
			Name:  job.SameAsFile(),
			Graph: sameas.Graph,
			Data:  align.SameAsTTL(kept),
		}
	}
	result.Took = time.Since(started)
	return result
}

func (s *Supervisor) publish(ctx context.Context, artifact model.Artifact) error {
	var errs []error
	for _, p := range s.publishers {
		err := p.Publish(ctx, artifact)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) closePublishers(ctx context.Context) {
	for _, publisher := range s.publishers {
		if closer, ok := publisher.(model.PublishCloser); ok {
			err := closer.Close()
			if err != nil {
				slog.ErrorContext(ctx, "closing publisher have failed", "error", err)
			}
		}
	}
}

func newScheduler(ctx context.Context, cfgp *model.TimerSchedule, startFunc func()) (gocron.Scheduler, error) {
	if cfgp == nil {
		return nil, fmt.Errorf("service.schedule is nil")
	}
	cfg := *cfgp
	var job gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		interval, err := CronInterval(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.cron: %w", err)
		}
		job = gocron.CronJob(cfg.Cron, false)
		slog.DebugContext(ctx, "successfully parsed", "cron", cfg.Cron, "about_every", interval.String())
	case cfg.Every != "":
		d, err := ParseEvery(cfg.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing service.schedule.every: %w", err)
		}
		slog.DebugContext(ctx, "successfully parsed", "every", d.String())
		job = gocron.DurationJob(d)
	default:
		return nil, errors.New("both cron and every are empty")
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(startFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
