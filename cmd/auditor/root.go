package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/EstifanosTeklay/automaton-auditor/internal/aggregation"
	"github.com/EstifanosTeklay/automaton-auditor/internal/config"
	"github.com/EstifanosTeklay/automaton-auditor/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// cfg is loaded from the environment and flag overrides before any
// subcommand runs.
var cfg *config.Config

var rootFlags struct {
	logLevel     string
	logFormat    string
	rubric       string
	db           string
	metricsAddr  string
	threshold    float64
	nodeTimeout  time.Duration
	maxParallel  int
	abortOnFatal bool
	allowLocal   bool
	temporalHost string
	namespace    string
	taskQueue    string
}

var rootCmd = &cobra.Command{
	Use:   "auditor",
	Short: "Evidence-based audits of agent repositories and their reports",
	Long: "auditor runs a repository investigator and a document analyst concurrently\n" +
		"over a submission, then aggregates their evidence per rubric dimension.",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.logLevel, "log-level", config.DefaultLogLevel, "Log level: debug, info, warn, error")
	f.StringVar(&rootFlags.logFormat, "log-format", config.DefaultLogFormat, "Log format: text or json")
	f.StringVar(&rootFlags.rubric, "rubric", "", "Rubric file (JSON or YAML); built-in rubric when empty")
	f.StringVar(&rootFlags.db, "db", config.DefaultDBPath, "Run history database path")
	f.StringVar(&rootFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.Float64Var(&rootFlags.threshold, "threshold", aggregation.DefaultThreshold, "Confidence needed for a passing item to pass its dimension")
	f.DurationVar(&rootFlags.nodeTimeout, "node-timeout", config.DefaultNodeTimeout, "Per-node timeout")
	f.IntVar(&rootFlags.maxParallel, "max-parallel", 0, "Maximum concurrently running nodes (0 = unbounded)")
	f.BoolVar(&rootFlags.abortOnFatal, "abort-on-fatal", false, "Cancel running nodes after a fatal failure")
	f.BoolVar(&rootFlags.allowLocal, "allow-local-repo", false, "Accept a local directory as the repository locator")
	f.StringVar(&rootFlags.temporalHost, "temporal-host", config.DefaultTemporalHost, "Temporal frontend host:port")
	f.StringVar(&rootFlags.namespace, "namespace", config.DefaultNamespace, "Temporal namespace")
	f.StringVar(&rootFlags.taskQueue, "task-queue", config.DefaultTaskQueue, "Temporal task queue")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.Version = version
}

// loadConfig reads the environment, applies explicitly set flags on top and
// initializes logging.
func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("log-level", func() { c.LogLevel = rootFlags.logLevel })
	set("log-format", func() { c.LogFormat = rootFlags.logFormat })
	set("rubric", func() { c.RubricPath = rootFlags.rubric })
	set("db", func() { c.DBPath = rootFlags.db })
	set("metrics-addr", func() { c.MetricsAddr = rootFlags.metricsAddr })
	set("threshold", func() { c.Threshold = rootFlags.threshold })
	set("node-timeout", func() { c.NodeTimeout = rootFlags.nodeTimeout })
	set("max-parallel", func() { c.MaxParallel = rootFlags.maxParallel })
	set("abort-on-fatal", func() { c.AbortOnFatal = rootFlags.abortOnFatal })
	set("allow-local-repo", func() { c.AllowLocalRepos = rootFlags.allowLocal })
	set("temporal-host", func() { c.Temporal.HostPort = rootFlags.temporalHost })
	set("namespace", func() { c.Temporal.Namespace = rootFlags.namespace })
	set("task-queue", func() { c.Temporal.TaskQueue = rootFlags.taskQueue })
	if err := c.Validate(); err != nil {
		return err
	}

	logging.Init(c.Level(), c.LogFormat, cmd.ErrOrStderr())
	cfg = c
	return nil
}
