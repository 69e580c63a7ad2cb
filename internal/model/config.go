package model

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Enum helpers (optional).
const (
	ServiceModeManual = "manual"
	ServiceModeTimer  = "timer"

	PullAlways  = "always"
	PullMissing = "missing"
	PullNever   = "never"
)

// Defaults shared with the published container images and the Fuseki
// deployment of the football knowledge graph.
const (
	DefaultSilkImage      = "silkframework/silk-singlemachine:latest"
	DefaultWorkbenchImage = "silkframework/silk-workbench:latest"
	DefaultWorkbenchName  = "silk-workbench"

	DefaultFusekiURL = "http://localhost:3030"
	DefaultDataset   = "football"
	DefaultGraphBase = "http://kg.local/silver/"

	DefaultResourceBase = "https://kg-football.vn/resource/"
	DefaultOntologyBase = "https://kg-football.vn/ontology#"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

type Config struct {
	Version   int       `json:"version" yaml:"version"` // fixed 0 for now
	Workspace string    `json:"workspace" yaml:"workspace"`
	Links     string    `json:"links" yaml:"links"`
	Docker    *Docker   `json:"docker,omitempty" yaml:"docker,omitempty"`
	Silk      Silk      `json:"silk" yaml:"silk"`
	Jobs      []LinkJob `json:"jobs,omitempty" yaml:"jobs,omitempty"`
	Service   Service   `json:"service" yaml:"service"`
	Fuseki    Fuseki    `json:"fuseki" yaml:"fuseki"`
	Load      *Load     `json:"load,omitempty" yaml:"load,omitempty"`
	API       *API      `json:"api,omitempty" yaml:"api,omitempty"`
}

// Docker daemon connection settings.
type Docker struct {
	Host string  `json:"host,omitempty" yaml:"host,omitempty"` // e.g. unix:///var/run/docker.sock, empty => environment
	Pull *string `json:"pull,omitempty" yaml:"pull,omitempty"` // "always" | "missing" | "never"
}

// Silk container images and JVM settings for the one shot runs.
type Silk struct {
	Image          string   `json:"image" yaml:"image"`
	WorkbenchImage string   `json:"workbench_image" yaml:"workbench_image"`
	WorkbenchName  string   `json:"workbench_name" yaml:"workbench_name"`
	Heap           string   `json:"heap" yaml:"heap"` // -Xmx value, e.g. 4g
	Threads        int      `json:"threads,omitempty" yaml:"threads,omitempty"`
	Timeout        Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"` // per job run, zero => none
}

// LinkJob is a single Silk linking task driven by a config file inside
// the workspace. Alignment and output names default from the job name.
type LinkJob struct {
	Name      string  `json:"name" yaml:"name"`
	Config    string  `json:"config" yaml:"config"`                           // relative to workspace
	Alignment string  `json:"alignment,omitempty" yaml:"alignment,omitempty"` // relative to links dir
	SameAs    *SameAs `json:"sameas,omitempty" yaml:"sameas,omitempty"`
}

// AlignmentFile is the alignment XML the Silk run leaves in the links dir.
func (j LinkJob) AlignmentFile() string {
	if j.Alignment != "" {
		return j.Alignment
	}
	return j.Name + "_linking.xml"
}

// SameAsFile is the produced owl:sameAs Turtle file name.
func (j LinkJob) SameAsFile() string {
	if j.SameAs != nil && j.SameAs.Output != "" {
		return j.SameAs.Output
	}
	return strings.TrimSuffix(j.AlignmentFile(), ".xml") + ".ttl"
}

// SameAs controls the alignment postprocessing stage.
type SameAs struct {
	Enabled   *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	DropExact *bool   `json:"drop_exact,omitempty" yaml:"drop_exact,omitempty"` // drop measure >= 1.0 and self links
	Output    string  `json:"output,omitempty" yaml:"output,omitempty"`
	Graph     string  `json:"graph,omitempty" yaml:"graph,omitempty"` // named graph, empty => default graph
}

// Service supervisor settings.
type Service struct {
	Mode     string         `json:"mode" yaml:"mode"` // "manual" | "timer"
	Verbose  *bool          `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Dir      *string        `json:"dir,omitempty" yaml:"dir,omitempty"` // extra timestamped copies of produced Turtle
	Schedule *TimerSchedule `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}

// TimerSchedule configures the timer mode, exactly one field must be set.
type TimerSchedule struct {
	Cron  string `json:"cron,omitempty" yaml:"cron,omitempty"`   // 5 field cron expression
	Every string `json:"every,omitempty" yaml:"every,omitempty"` // e.g. 1d12h, 30m
}

// Fuseki server endpoint and credentials.
type Fuseki struct {
	Enabled  *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	URL      URL    `json:"url" yaml:"url"`
	Dataset  string `json:"dataset" yaml:"dataset"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// Load is the bulk Turtle loading configuration.
type Load struct {
	Dir       string `json:"dir" yaml:"dir"`
	GraphBase string `json:"graph_base" yaml:"graph_base"`
	Workers   int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	Report    string `json:"report,omitempty" yaml:"report,omitempty"`
}

func (l Load) ReportFile() string {
	if l.Report != "" {
		return l.Report
	}
	return "load_report.txt"
}

// API is the dereferenceable resource server configuration.
type API struct {
	Listen       TCPAddr `json:"listen" yaml:"listen"`
	ResourceBase string  `json:"resource_base,omitempty" yaml:"resource_base,omitempty"`
	OntologyBase string  `json:"ontology_base,omitempty" yaml:"ontology_base,omitempty"`
}

// LoadConfig validates YAML from r against the CUE schema and decodes
// it. Schema defaults are applied, cross field rules are checked by
// Validate afterwards.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("kgctl.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Validate holds the rules the schema cannot express, plus the ones
// needed for configurations assembled in code.
func (c Config) Validate() error {
	if c.Version != 0 {
		return fmt.Errorf("config version %d is not supported, expected 0", c.Version)
	}
	if c.Workspace == "" {
		return fmt.Errorf("workspace must not be empty")
	}
	if c.Links == "" {
		return fmt.Errorf("links must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d].name must not be empty", i)
		}
		if _, ok := seen[job.Name]; ok {
			return fmt.Errorf("jobs[%d].name %q is duplicated", i, job.Name)
		}
		seen[job.Name] = struct{}{}
		if job.Config == "" {
			return fmt.Errorf("jobs[%d].config must not be empty", i)
		}
		if job.SameAs != nil && (job.SameAs.Threshold < 0 || job.SameAs.Threshold > 1) {
			return fmt.Errorf("jobs[%d].sameas.threshold %v is outside [0,1]", i, job.SameAs.Threshold)
		}
	}

	switch c.Service.Mode {
	case ServiceModeManual:
	case ServiceModeTimer:
		if c.Service.Schedule == nil {
			return fmt.Errorf("service.schedule is required in timer mode")
		}
		if (c.Service.Schedule.Cron == "") == (c.Service.Schedule.Every == "") {
			return fmt.Errorf("service.schedule needs exactly one of cron or every")
		}
	default:
		return fmt.Errorf("service.mode %q is not one of (%s,%s)", c.Service.Mode, ServiceModeManual, ServiceModeTimer)
	}

	if Enabled(c.Fuseki.Enabled, true) {
		if c.Fuseki.URL.URL == nil {
			return fmt.Errorf("fuseki.url must not be empty")
		}
		if c.Fuseki.Dataset == "" {
			return fmt.Errorf("fuseki.dataset must not be empty")
		}
	}
	return nil
}

// DefaultConfig mirrors the layout of the football knowledge graph
// repository: Silk configs in linking/, results in linking/links/.
func DefaultConfig() Config {
	fusekiURL, err := url.Parse(DefaultFusekiURL)
	if err != nil {
		panic(err)
	}
	return Config{
		Version:   0,
		Workspace: "linking",
		Links:     "linking/links",
		Silk: Silk{
			Image:          DefaultSilkImage,
			WorkbenchImage: DefaultWorkbenchImage,
			WorkbenchName:  DefaultWorkbenchName,
			Heap:           "4g",
		},
		Jobs: []LinkJob{
			{
				Name:   "internal",
				Config: "internal_linking.xml",
				SameAs: &SameAs{
					Threshold: 0.95,
					DropExact: ptr(true),
				},
			},
			{
				Name:   "external",
				Config: "external_linking.xml",
				SameAs: &SameAs{
					Threshold: 0.7,
				},
			},
		},
		Service: Service{
			Mode: ServiceModeManual,
		},
		Fuseki: Fuseki{
			URL:      URL{URL: fusekiURL},
			Dataset:  DefaultDataset,
			Username: "admin",
			Password: "admin",
		},
		Load: &Load{
			Dir:       "silver/ttl",
			GraphBase: DefaultGraphBase,
			Workers:   4,
		},
		API: &API{
			Listen: TCPAddr{TCPAddr: &net.TCPAddr{Port: 8080}},
		},
	}
}

// Enabled dereferences a tristate flag with a default for nil.
func Enabled(pt *bool, dflt bool) bool {
	if pt == nil {
		return dflt
	}
	return *pt
}

func ptr[T any](v T) *T {
	return &v
}
