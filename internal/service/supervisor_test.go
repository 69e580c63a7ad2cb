package service_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/service"
)

const supervisorAlignment = `<?xml version="1.0" encoding="utf-8" ?>
<rdf:RDF xmlns="http://knowledgeweb.semanticweb.org/heterogeneity/alignment#"
         xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
  <Alignment>
    <map>
      <Cell>
        <entity1 rdf:resource="https://kg-football.vn/resource/player/nguyen-van-a"/>
        <entity2 rdf:resource="https://kg-football.vn/resource/player/nguyen-van-a-2"/>
        <measure>0.97</measure>
      </Cell>
    </map>
    <map>
      <Cell>
        <entity1 rdf:resource="https://kg-football.vn/resource/club/ha-noi-fc"/>
        <entity2 rdf:resource="https://kg-football.vn/resource/club/ha-noi-fc"/>
        <measure>1.0</measure>
      </Cell>
    </map>
    <map>
      <Cell>
        <entity1 rdf:resource="https://kg-football.vn/resource/club/slna"/>
        <entity2 rdf:resource="http://dbpedia.org/resource/Song_Lam_Nghe_An_FC"/>
        <measure>0.71</measure>
      </Cell>
    </map>
  </Alignment>
</rdf:RDF>
`

func testConfig(t *testing.T, mode string) model.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := model.Config{
		Workspace: filepath.Join(dir, "linking"),
		Links:     filepath.Join(dir, "linking", "links"),
		Jobs: []model.LinkJob{
			{
				Name:   "internal",
				Config: "internal_linking.xml",
				SameAs: &model.SameAs{Threshold: 0.95, DropExact: ptr(true)},
			},
			{
				Name:   "external",
				Config: "external_linking.xml",
				SameAs: &model.SameAs{Threshold: 0.7, Graph: "http://kg.local/gold/external"},
			},
		},
		Service: model.Service{Mode: mode},
		Fuseki:  model.Fuseki{Enabled: ptr(false)},
	}
	if mode == model.ServiceModeTimer {
		cfg.Service.Schedule = &model.TimerSchedule{Cron: "0 3 * * *"}
	}
	return cfg
}

func newSupervisor(t *testing.T, cfg model.Config, linker *fakeLinker) (*service.Supervisor, *collectPublisher) {
	t.Helper()

	collect := &collectPublisher{}
	supervisor, err := service.NewSupervisor(t.Context(), cfg, linker)
	require.NoError(t, err)
	supervisor.WithPublishers(t.Context(), collect)
	return supervisor, collect
}

func TestSupervisorOneshot(t *testing.T) {
	t.Parallel()

	t.Run("runs all jobs and publishes", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment}
		supervisor, collect := newSupervisor(t, cfg, linker)

		require.NoError(t, supervisor.Do(t.Context()))

		require.ElementsMatch(t, []string{"internal", "external"}, linker.ran())

		byJob := map[string]model.Artifact{}
		for _, artifact := range collect.list() {
			byJob[artifact.Job] = artifact
		}
		require.Len(t, byJob, 2)

		internal := byJob["internal"]
		require.Equal(t, "internal_linking.ttl", internal.Name)
		require.Empty(t, internal.Graph)
		require.Contains(t, string(internal.Data), "# Measure: 0.97")
		require.NotContains(t, string(internal.Data), "ha-noi-fc")
		require.NotContains(t, string(internal.Data), "slna")

		external := byJob["external"]
		require.Equal(t, "external_linking.ttl", external.Name)
		require.Equal(t, "http://kg.local/gold/external", external.Graph)
		require.Contains(t, string(external.Data), "# Measure: 0.71")
		require.Contains(t, string(external.Data), "ha-noi-fc")
	})

	t.Run("returns the first run error", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		cfg.Jobs = cfg.Jobs[:1]
		linker := &fakeLinker{
			links: cfg.Links,
			doc:   supervisorAlignment,
			fail:  map[string]error{"internal": errors.New("silk exploded")},
		}
		supervisor, collect := newSupervisor(t, cfg, linker)

		require.ErrorContains(t, supervisor.Do(t.Context()), "silk exploded")
		require.Empty(t, collect.list())
	})

	t.Run("returns publish errors", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		cfg.Jobs = cfg.Jobs[:1]
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment}
		supervisor, collect := newSupervisor(t, cfg, linker)
		collect.err = errors.New("disk full")

		require.ErrorContains(t, supervisor.Do(t.Context()), "disk full")
	})

	t.Run("publishes nothing when the filter strips everything", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		cfg.Jobs = cfg.Jobs[:1]
		cfg.Jobs[0].SameAs.Threshold = 0.999
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment}
		supervisor, collect := newSupervisor(t, cfg, linker)

		require.NoError(t, supervisor.Do(t.Context()))
		require.Empty(t, collect.list())
	})

	t.Run("publishes nothing when sameas is off", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		cfg.Jobs = cfg.Jobs[:1]
		cfg.Jobs[0].SameAs = nil
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment}
		supervisor, collect := newSupervisor(t, cfg, linker)

		require.NoError(t, supervisor.Do(t.Context()))
		require.Equal(t, []string{"internal"}, linker.ran())
		require.Empty(t, collect.list())
	})

	t.Run("no jobs configured", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeManual)
		cfg.Jobs = nil
		linker := &fakeLinker{links: cfg.Links}
		supervisor, _ := newSupervisor(t, cfg, linker)

		require.NoError(t, supervisor.Do(t.Context()))
	})
}

func TestSupervisorTimer(t *testing.T) {
	t.Parallel()

	t.Run("serves start requests until cancelled", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeTimer)
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment}
		supervisor, collect := newSupervisor(t, cfg, linker)

		ctx, cancel := context.WithCancel(t.Context())
		t.Cleanup(cancel)

		var g sync.WaitGroup
		g.Go(func() {
			require.NoError(t, supervisor.Do(ctx))
		})

		supervisor.Start("internal")
		require.Eventually(t, func() bool { return len(collect.list()) == 1 }, time.Second, 10*time.Millisecond)

		supervisor.Start(service.All)
		require.Eventually(t, func() bool { return len(collect.list()) == 3 }, time.Second, 10*time.Millisecond)

		cancel()
		g.Wait()
	})

	t.Run("a run failure does not stop the loop", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeTimer)
		linker := &fakeLinker{
			links: cfg.Links,
			doc:   supervisorAlignment,
			fail:  map[string]error{"internal": errors.New("silk exploded")},
		}
		supervisor, collect := newSupervisor(t, cfg, linker)

		ctx, cancel := context.WithCancel(t.Context())
		t.Cleanup(cancel)

		var g sync.WaitGroup
		g.Go(func() {
			require.NoError(t, supervisor.Do(ctx))
		})

		supervisor.Start("internal")
		supervisor.Start("external")
		require.Eventually(t, func() bool { return len(collect.list()) == 1 }, time.Second, 10*time.Millisecond)
		require.Equal(t, "external", collect.list()[0].Job)

		cancel()
		g.Wait()
	})

	t.Run("start while running is ignored", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t, model.ServiceModeTimer)
		cfg.Jobs = cfg.Jobs[:1]
		gate := make(chan struct{})
		linker := &fakeLinker{links: cfg.Links, doc: supervisorAlignment, gate: gate}
		supervisor, collect := newSupervisor(t, cfg, linker)

		ctx, cancel := context.WithCancel(t.Context())
		t.Cleanup(cancel)

		var g sync.WaitGroup
		g.Go(func() {
			require.NoError(t, supervisor.Do(ctx))
		})

		supervisor.Start("internal")
		require.Eventually(t, func() bool { return len(linker.ran()) == 1 }, time.Second, 10*time.Millisecond)

		// Start buffers one name, so by the time the second no-such-job
		// send returns the loop has consumed the duplicate trigger and
		// dropped it, while the first run is still blocked on the gate.
		supervisor.Start("internal")
		supervisor.Start("no-such-job")
		supervisor.Start("no-such-job")
		close(gate)

		require.Eventually(t, func() bool { return len(collect.list()) == 1 }, time.Second, 10*time.Millisecond)
		require.Len(t, linker.ran(), 1)

		cancel()
		g.Wait()
	})
}

type fakeLinker struct {
	links string
	doc   string
	fail  map[string]error
	gate  chan struct{}

	mx   sync.Mutex
	runs []string
}

func (f *fakeLinker) RunJob(ctx context.Context, job model.LinkJob) error {
	f.mx.Lock()
	f.runs = append(f.runs, job.Name)
	f.mx.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := f.fail[job.Name]; err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(f.links, job.AlignmentFile()), []byte(f.doc), 0o644)
}

func (f *fakeLinker) Links() string {
	return f.links
}

func (f *fakeLinker) ran() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.runs...)
}

type collectPublisher struct {
	mx        sync.Mutex
	artifacts []model.Artifact
	err       error
}

func (p *collectPublisher) Publish(_ context.Context, artifact model.Artifact) error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.err != nil {
		return p.err
	}
	p.artifacts = append(p.artifacts, artifact)
	return nil
}

func (p *collectPublisher) list() []model.Artifact {
	p.mx.Lock()
	defer p.mx.Unlock()
	return append([]model.Artifact(nil), p.artifacts...)
}

func ptr[T any](v T) *T {
	return &v
}
