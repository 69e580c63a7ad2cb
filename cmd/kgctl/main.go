package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/log"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/kgctl on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagWorkbenchWait  time.Duration
)

func init() {
	d, err := os.UserConfigDir()
	if err == nil {
		userConfigPath = filepath.Join(d, "kgctl")
	}
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is kgctl.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	workbenchUpCmd.Flags().DurationVar(&flagWorkbenchWait, "wait", 0, "wait up to the given duration until the workbench accepts connections")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initKgctl

	workbenchCmd.AddCommand(workbenchUpCmd)
	workbenchCmd.AddCommand(workbenchDownCmd)
	workbenchCmd.AddCommand(workbenchStatusCmd)

	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(workbenchCmd)
	rootCmd.AddCommand(sameasCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("kgctl failed", "err", err)

		// tool failures keep their exit status
		var exitErr *model.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "kgctl",
	Short:        "kgctl builds and serves the football knowledge graph",
	SilenceUsage: true,
}

var linkCmd = &cobra.Command{
	Use:   "link [job...]",
	Short: "link runs the configured Silk linking jobs once and publishes the results",
	RunE:  doLink,
}

var workbenchCmd = &cobra.Command{
	Use:   "workbench",
	Short: "workbench manages the persistent Silk Workbench container",
}

var workbenchUpCmd = &cobra.Command{
	Use:   "up",
	Short: "up starts a fresh workbench instance, replacing any previous one",
	RunE:  doWorkbenchUp,
}

var workbenchDownCmd = &cobra.Command{
	Use:   "down",
	Short: "down removes the workbench container",
	RunE:  doWorkbenchDown,
}

var workbenchStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "status reports the workbench container state",
	RunE:  doWorkbenchStatus,
}

var sameasCmd = &cobra.Command{
	Use:   "sameas [job...]",
	Short: "sameas rebuilds owl:sameAs links from alignments of a previous run",
	RunE:  doSameas,
}

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "load uploads a directory of Turtle files into Fuseki named graphs",
	RunE:  doLoad,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run command reads the configuration and executes the linking service",
	RunE:  doRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve exposes the knowledge graph over HTTP",
	RunE:  doServe,
}

// initKgctl finds and parses a config file, stores a default config if
// none exists yet, and makes logging settings effective.
func initKgctl(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("KGCTLCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "kgctl.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		// store default configuration
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "kgctl.yaml")
		if err := os.MkdirAll(userConfigPath, 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", userConfigPath, err)
		}
		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() { _ = f.Close() }()
		if err := yaml.NewEncoder(f).Encode(config); err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening %s: %w", configPath, err)
		}
		defer func() { _ = f.Close() }()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.LogAttrs(cmd.Context(), slog.LevelError, "invalid configuration", d.Attr("detail"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over the config file
	if flagVerbose {
		config.Service.Verbose = &flagVerbose
	}

	slog.SetDefault(log.New(model.Enabled(config.Service.Verbose, false)))
	slog.Debug("kgctl run", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version prints version information",
	Run: func(_ *cobra.Command, _ []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("kgctl: version info not available")
			return
		}
		fmt.Printf("kgctl: config=%s version=%s go=%s\n", configPath, info.Main.Version, info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision", "vcs.time", "vcs.modified":
				fmt.Printf("kgctl: %s=%s\n", s.Key, s.Value)
			}
		}
	},
}
