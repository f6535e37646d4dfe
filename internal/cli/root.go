// CLAUDE:SUMMARY rendercheck cobra command tree: config/flag/env loading via viper, JSON slog setup, subcommand registration.
// Package cli implements the rendercheck command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hazyhaar/rendercheck/config"
)

// Version is set at build time.
var Version = "dev"

// app carries state shared by every subcommand.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the rendercheck command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New(), stdout: os.Stdout, stderr: os.Stderr}

	root := &cobra.Command{
		Use:   "rendercheck",
		Short: "Visual regression harness for MapLibre GL JS render fixtures",
		Long: `rendercheck serves MapLibre render-test fixtures as HTML pages, renders each
one in headless Chrome, compares the canvas with the baseline images and
writes a summary plus an interactive report.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file (YAML)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.Int("port", 0, "fixture server port (default 3900)")
	pf.String("fixtures-dir", "", "fixture corpus directory (default ./fixtures)")
	pf.String("results-dir", "", "results directory (default ./results)")
	for _, name := range []string{"config", "log-level", "port", "fixtures-dir", "results-dir"} {
		mustBind(a.v, name, pf.Lookup(name))
	}

	a.v.SetEnvPrefix("RENDERCHECK")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newCorpusCmd(a),
		newReportCmd(a),
		newHistoryCmd(a),
		newMCPCmd(a),
	)
	return root
}

// Execute runs the root command with ctx and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rendercheck:", err)
		return 1
	}
	return 0
}

func (a *app) load() error {
	cfg, err := config.Load(a.v.GetString("config"), config.Overrides{
		LogLevel:    a.v.GetString("log-level"),
		Port:        a.v.GetInt("port"),
		FixturesDir: a.v.GetString("fixtures-dir"),
		ResultsDir:  a.v.GetString("results-dir"),
	})
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	for _, w := range cfg.Warnings() {
		a.logger.Warn("config: non-upstream setting", "detail", w)
	}
	return nil
}

func mustBind(v *viper.Viper, key string, f *pflag.Flag) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}
