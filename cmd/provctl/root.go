package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"provenance/internal/config"
	"provenance/internal/format"
	"provenance/internal/logging"
	"provenance/internal/metrics"
)

// errVerificationFailed is returned when a document does not verify. The
// report has already been printed, so main only sets the exit status.
var errVerificationFailed = errors.New("verification failed")

// app carries state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *logging.Logger
	metrics *metrics.Metrics
	builder *format.Builder
	clock   func() time.Time

	out    io.Writer
	errOut io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut, clock: time.Now}

	root := &cobra.Command{
		Use:           "provctl",
		Short:         "Inspect, verify and archive writing-process provenance documents",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.logger.Close()
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: "+config.ConfigPath()+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		a.newVerifyCmd(),
		a.newStatsCmd(),
		a.newReplayCmd(),
		a.newNewCmd(),
		a.newRecordCmd(),
		a.newArchiveCmd(),
		a.newServeCmd(),
	)
	return root
}

// setup loads configuration and builds the logger, metrics and document
// builder used by subcommands.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	lc.Component = "provctl"
	if lc.Output == "stderr" {
		lc.Writer = a.errOut
	}
	logger, err := logging.New(lc)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.New()
	a.builder = &format.Builder{Clock: a.clock, EditorVersion: cfg.Document.EditorVersion}
	return nil
}
