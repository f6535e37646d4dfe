package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/rendercheck/compare"
	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/harness"
	"github.com/hazyhaar/rendercheck/history"
	"github.com/hazyhaar/rendercheck/report"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render every fixture in the manifest and compare with baselines",
		Long: `run renders each manifest fixture in headless Chrome, writes
results/summary.json plus diff artifacts for failures, and exits non-zero
when the error rate reaches 10% or the pass rate is not above 80%.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHarness(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.Bool("serve", true, "start the fixture server in-process")
	f.Bool("no-history", false, "do not record the run in the history database")
	f.String("markdown", "", "also write a Markdown summary to this path (- for stdout)")
	f.Bool("allow-unhealthy", false, "exit 0 even when the health bounds fail")
	f.StringSlice("only", nil, "render only fixtures in these categories")
	f.Bool("crop-mismatched", false, "score size mismatches by cropping or padding to the baseline and counting pixels outside the overlap, "+
		"as the upstream render-test harness does; by default any size mismatch is a full difference")

	mustBind(a.v, "run.serve", f.Lookup("serve"))
	mustBind(a.v, "run.no_history", f.Lookup("no-history"))
	mustBind(a.v, "run.markdown", f.Lookup("markdown"))
	mustBind(a.v, "run.allow_unhealthy", f.Lookup("allow-unhealthy"))
	mustBind(a.v, "run.only", f.Lookup("only"))
	mustBind(a.v, "run.crop_mismatched", f.Lookup("crop-mismatched"))
	return cmd
}

func (a *app) runHarness(ctx context.Context) error {
	cfg := a.cfg
	log := a.logger

	entries, err := fixture.LoadManifest(cfg.ManifestPath())
	if errors.Is(err, fixture.ErrManifestMissing) {
		return fmt.Errorf("%w (run `rendercheck corpus` first)", err)
	}
	if err != nil {
		return err
	}
	entries = onlyCategories(entries, a.v.GetStringSlice("run.only"))
	if n := cfg.ApplyDefaults(entries); n > 0 {
		log.Warn("run: tolerance defaults overridden", "fixtures", n)
	}

	if a.v.GetBool("run.crop_mismatched") {
		cfg.Compare.CropMismatched = true
	}

	if a.v.GetBool("run.serve") {
		stop, err := a.startServer(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	browser := harness.NewChrome(cfg.Browser, log)
	defer browser.Close()

	opts := []harness.Option{
		harness.WithBrowser(browser),
		harness.WithComparator(compare.New(cfg.CompareOptions()...)),
	}

	var store *history.Store
	if !cfg.History.Disabled && !a.v.GetBool("run.no_history") {
		store, err = history.Open(cfg.History.Path, log)
		if err != nil {
			return err
		}
		defer store.Close()
		metrics := history.NewMetrics(store.DB(), log, cfg.History.MetricsBuffer, cfg.History.MetricsFlush)
		defer metrics.Close()
		opts = append(opts, harness.WithRecorder(store), harness.WithMetrics(metrics))
	}

	hcfg := cfg.Harness
	hcfg.Logger = log
	runner := harness.New(hcfg, opts...)
	sum, err := runner.Run(ctx, entries)
	if err != nil {
		return err
	}

	if path := a.v.GetString("run.markdown"); path != "" {
		if err := a.writeMarkdown(*sum, path); err != nil {
			log.Warn("run: markdown summary", "error", err)
		}
	}
	if store != nil && cfg.History.Retention > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-cfg.History.Retention))
		if err != nil {
			log.Warn("run: prune history", "error", err)
		} else if n > 0 {
			log.Info("run: pruned history", "runs", n)
		}
	}

	h, herr := report.CheckHealth(*sum)
	log.Info("run: finished", "run_id", runner.RunID(), "tested", h.Tested,
		"error_rate", h.ErrorRate, "pass_rate", h.PassRate)
	if herr != nil && !a.v.GetBool("run.allow_unhealthy") {
		return herr
	}
	return nil
}

func (a *app) writeMarkdown(sum report.Summary, path string) error {
	md, err := report.Markdown(sum)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = fmt.Fprint(a.stdout, md)
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(md); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// onlyCategories keeps entries whose category is listed; no list keeps all.
func onlyCategories(entries []fixture.Entry, cats []string) []fixture.Entry {
	if len(cats) == 0 {
		return entries
	}
	want := make(map[string]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	out := entries[:0]
	for _, e := range entries {
		if want[e.Category()] {
			out = append(out, e)
		}
	}
	return out
}
