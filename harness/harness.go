// CLAUDE:SUMMARY Render harness: sequential fixture runner with skip list, breaker, refresh/recycle, capture, compare, periodic summary flush.
// Package harness drives a browser tab through every fixture in the
// manifest, compares each canvas capture with its baselines and records
// the outcome. Fixtures are rendered strictly one after another on a single
// tab; no per-fixture failure aborts the run.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/rendercheck/compare"
	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/history"
	"github.com/hazyhaar/rendercheck/idgen"
	"github.com/hazyhaar/rendercheck/report"
)

// Result reasons.
const (
	ReasonUnsupported    = "unsupported category"
	ReasonNoExpected     = "no expected images"
	ReasonUnstable       = "rendering backend unstable"
	ReasonSuiteTimeout   = "suite timeout"
	ReasonRefreshCrashed = "browser crashed during refresh"
)

// Config configures a Runner.
type Config struct {
	// BaseURL is the fixture server origin. Default: http://localhost:3900.
	BaseURL string `yaml:"base_url"`
	// FixturesDir holds the baselines next to each style.json.
	FixturesDir string `yaml:"fixtures_dir"`
	// ResultsDir receives summary.json and diffs/<id>/{actual,diff}.png.
	ResultsDir string `yaml:"results_dir"`
	// SkipPrefixes lists unsupported categories. nil = fixture.DefaultSkipPrefixes.
	SkipPrefixes []string `yaml:"skip"`

	// RefreshInterval is the number of attempted fixtures between blank-page
	// refreshes. Default: 50.
	RefreshInterval int `yaml:"refresh_interval"`
	// RefreshPause is the idle time after a refresh. Default: 100ms.
	RefreshPause time.Duration `yaml:"refresh_pause"`
	// FlushInterval is the number of attempted fixtures between summary
	// writes. Default: 25.
	FlushInterval int `yaml:"flush_interval"`
	// BreakerThreshold is the consecutive infra error count that stops
	// rendering. Default: 5.
	BreakerThreshold int `yaml:"breaker_threshold"`
	// RecycleAfterErrors restarts the browser after this many consecutive
	// infra errors. Default: 3. Negative disables.
	RecycleAfterErrors int `yaml:"recycle_after_errors"`
	// RecycleEvery restarts the browser every N attempted fixtures. 0 disables.
	RecycleEvery int `yaml:"recycle_every"`

	NavigateTimeout time.Duration `yaml:"navigate_timeout"` // default 8s
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`    // default 8s
	CanvasTimeout   time.Duration `yaml:"canvas_timeout"`   // default 5s
	ReadyPoll       time.Duration `yaml:"ready_poll"`       // default 50ms
	// SuiteTimeout bounds the whole run. Default: 600s.
	SuiteTimeout time.Duration `yaml:"suite_timeout"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3900"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.FixturesDir == "" {
		c.FixturesDir = "fixtures"
	}
	if c.ResultsDir == "" {
		c.ResultsDir = "results"
	}
	if c.SkipPrefixes == nil {
		c.SkipPrefixes = fixture.DefaultSkipPrefixes
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 50
	}
	if c.RefreshPause <= 0 {
		c.RefreshPause = 100 * time.Millisecond
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 25
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.RecycleAfterErrors == 0 {
		c.RecycleAfterErrors = 3
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 8 * time.Second
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 8 * time.Second
	}
	if c.CanvasTimeout <= 0 {
		c.CanvasTimeout = 5 * time.Second
	}
	if c.ReadyPoll <= 0 {
		c.ReadyPoll = 50 * time.Millisecond
	}
	if c.SuiteTimeout <= 0 {
		c.SuiteTimeout = 600 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Recorder persists runs and their results. history.Store implements it.
type Recorder interface {
	BeginRun(ctx context.Context, runID string, startedAt time.Time, total int) error
	RecordResults(ctx context.Context, runID string, results []report.Result) error
	FinishRun(ctx context.Context, runID string, finishedAt time.Time, sum report.Summary, healthy bool) error
}

// Metrics receives timing datapoints. history.Metrics implements it.
type Metrics interface {
	Observe(runID, name, fixtureID string, d time.Duration)
	Count(runID, name string, n int)
}

// Option configures a Runner.
type Option func(*Runner)

// WithBrowser sets the browser backend; the caller keeps ownership.
// Default: NewChrome with zero config, closed when Run returns.
func WithBrowser(b Browser) Option {
	return func(r *Runner) { r.browser = b }
}

// WithComparator sets the image comparator. Default: compare.New().
func WithComparator(c *compare.Comparator) Option {
	return func(r *Runner) { r.cmp = c }
}

// WithRecorder records the run into a history store.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithMetrics records per-fixture timings.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRunID fixes the run identifier. Default: idgen.RunID().
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(r *Runner) { r.now = fn }
}

// Runner renders fixtures. A Runner is single-use: call Run once.
type Runner struct {
	cfg      Config
	log      *slog.Logger
	browser  Browser
	cmp      *compare.Comparator
	repo     *fixture.Repository
	skip     fixture.SkipList
	breaker  *Breaker
	recorder Recorder
	metrics  Metrics
	runID    string
	now      func() time.Time

	ownsBrowser bool

	tab          Tab
	attempted    int
	sinceRecycle int
	results      []report.Result
	recorded     int
}

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	cfg.defaults()
	r := &Runner{
		cfg:  cfg,
		log:  cfg.Logger,
		repo: fixture.NewRepository(cfg.FixturesDir),
		skip: fixture.NewSkipList(cfg.SkipPrefixes),
		now:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.browser == nil {
		r.browser = NewChrome(BrowserConfig{}, r.log)
		r.ownsBrowser = true
	}
	if r.cmp == nil {
		r.cmp = compare.New()
	}
	if r.runID == "" {
		r.runID = idgen.RunID()
	}
	r.breaker = NewBreaker(WithBreakerThreshold(cfg.BreakerThreshold), WithBreakerClock(r.now))
	return r
}

// RunID returns the identifier this run is recorded under.
func (r *Runner) RunID() string { return r.runID }

// Breaker exposes the run's circuit breaker.
func (r *Runner) Breaker() *Breaker { return r.breaker }

// Run renders every fixture in order and returns the final summary. The
// summary is written every FlushInterval attempted fixtures and at the end.
// Per-fixture failures are recorded as results, never returned. Run returns
// an error only when no tab can be opened, when ctx is cancelled, or when
// the final summary cannot be written.
func (r *Runner) Run(ctx context.Context, fixtures []fixture.Entry) (*report.Summary, error) {
	if r.ownsBrowser {
		defer r.browser.Close()
	}
	tab, err := r.browser.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("harness: open tab: %w", err)
	}
	r.tab = tab
	defer r.closeTab()

	r.results = make([]report.Result, 0, len(fixtures))
	if r.recorder != nil {
		if err := r.recorder.BeginRun(ctx, r.runID, r.now(), len(fixtures)); err != nil {
			r.log.Warn("harness: begin run", "run_id", r.runID, "error", err)
		}
	}

	suiteCtx, cancel := context.WithTimeout(ctx, r.cfg.SuiteTimeout)
	defer cancel()

	r.log.Info("harness: run started", "run_id", r.runID, "fixtures", len(fixtures), "base_url", r.cfg.BaseURL)
	progress := newProgress(r.log)

	for _, fx := range fixtures {
		if err := ctx.Err(); err != nil {
			r.flush(context.WithoutCancel(ctx), fixtures)
			return nil, fmt.Errorf("harness: run cancelled: %w", err)
		}
		res, attempted := r.step(suiteCtx, fx)
		r.results = append(r.results, res)
		progress.add(res)

		if attempted && r.attempted%r.cfg.FlushInterval == 0 {
			r.flush(ctx, fixtures)
		}
	}
	progress.done()

	sum, err := r.flush(ctx, fixtures)
	if err != nil {
		return &sum, err
	}
	_, herr := report.CheckHealth(sum)
	r.finish(ctx, sum, herr == nil)
	logOutcome(r.log, sum)
	return &sum, nil
}

// step moves one fixture from queued to recorded. attempted reports
// whether it counted toward the refresh and flush intervals.
func (r *Runner) step(ctx context.Context, fx fixture.Entry) (report.Result, bool) {
	id := fx.ID
	if r.skip.Skips(id) {
		return report.Skip(id, ReasonUnsupported), false
	}
	if fx.ExpectedCount == 0 {
		return report.Skip(id, ReasonNoExpected), false
	}
	if ctx.Err() != nil {
		return report.Errored(id, ReasonSuiteTimeout), false
	}
	if !r.breaker.Allow() {
		return report.Skip(id, ReasonUnstable), false
	}

	r.attempted++
	r.sinceRecycle++
	r.log.Info("harness: fixture", "n", r.attempted, "id", id)

	if r.attempted > 1 && r.attempted%r.cfg.RefreshInterval == 0 {
		if err := r.refresh(ctx); err != nil {
			r.log.Error("harness: refresh failed, stopping", "id", id, "error", err)
			r.breaker.Trip()
			return report.Errored(id, ReasonRefreshCrashed+": "+err.Error()), true
		}
	}
	if r.cfg.RecycleEvery > 0 && r.sinceRecycle > r.cfg.RecycleEvery {
		if err := r.recycle(ctx, "interval"); err != nil {
			r.breaker.Trip()
			return report.Errored(id, err.Error()), true
		}
		r.sinceRecycle = 1
	}

	start := r.now()
	res, err := r.render(ctx, fx)
	elapsed := r.now().Sub(start)
	res.DurationMS = elapsed.Milliseconds()
	if r.metrics != nil {
		r.metrics.Observe(r.runID, history.MetricRenderMS, id, elapsed)
	}

	switch {
	case err == nil:
		r.breaker.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
		res = report.Errored(id, ReasonSuiteTimeout)
	case IsInfraError(err):
		n := r.breaker.RecordFailure()
		r.log.Warn("harness: session failure", "id", id, "consecutive", n, "error", err)
		if n == r.cfg.RecycleAfterErrors && r.breaker.Allow() {
			if rerr := r.recycle(ctx, "errors"); rerr != nil {
				r.breaker.Trip()
			}
		}
	default:
		r.breaker.RecordSuccess()
	}
	return res, true
}

// render runs navigate, await-ready, capture and compare for one fixture.
// The returned error is non-nil only for navigation, readiness and capture
// failures; it is already reflected in the result.
func (r *Runner) render(ctx context.Context, fx fixture.Entry) (report.Result, error) {
	id := fx.ID
	errored := func(err error) (report.Result, error) {
		return report.Errored(id, err.Error()), err
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigateTimeout)
	err := r.tab.Navigate(navCtx, r.FixtureURL(id))
	cancel()
	if err != nil {
		return errored(err)
	}

	st, err := r.awaitReady(ctx)
	if err != nil {
		return errored(err)
	}
	if st.Error != "" {
		return report.Errored(id, st.Error), nil
	}

	capCtx, cancel := context.WithTimeout(ctx, r.cfg.CanvasTimeout)
	png, err := r.tab.Capture(capCtx, fx.PixelRatio)
	cancel()
	if err != nil {
		return errored(err)
	}

	cmpStart := r.now()
	expected, err := r.repo.Expected(id)
	if err != nil {
		return report.Errored(id, err.Error()), nil
	}
	v, err := r.cmp.Compare(png, expected, fx.Threshold, fx.Allowed)
	if r.metrics != nil {
		r.metrics.Observe(r.runID, history.MetricCompareMS, id, r.now().Sub(cmpStart))
	}
	if err != nil {
		return report.Errored(id, err.Error()), nil
	}
	if v.Pass {
		return report.Pass(id, v.Difference, fx.Allowed), nil
	}
	diff, err := r.writeArtifacts(fx, v)
	if err != nil {
		r.log.Warn("harness: write diff artifacts", "id", id, "error", err)
	}
	return report.Fail(id, v.Difference, fx.Allowed, diff), nil
}

func (r *Runner) awaitReady(ctx context.Context) (PageState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ReadyTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.ReadyPoll)
	defer ticker.Stop()
	for {
		st, err := r.tab.State(ctx)
		if err != nil {
			return st, err
		}
		if st.Ready {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, fmt.Errorf("harness: fixture not ready after %s: %w", r.cfg.ReadyTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// refresh parks the tab on a blank page so the GPU context can recover.
func (r *Runner) refresh(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigateTimeout)
	defer cancel()
	if err := r.tab.Navigate(navCtx, "about:blank"); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cfg.RefreshPause):
	}
	return nil
}

func (r *Runner) recycle(ctx context.Context, reason string) error {
	r.log.Info("harness: recycling browser", "reason", reason, "attempted", r.attempted)
	r.closeTab()
	if err := r.browser.Recycle(ctx); err != nil {
		r.log.Error("harness: recycle failed", "error", err)
		return fmt.Errorf("harness: recycle: %w", err)
	}
	tab, err := r.browser.Open(ctx)
	if err != nil {
		r.log.Error("harness: reopen tab failed", "error", err)
		return fmt.Errorf("harness: reopen tab: %w", err)
	}
	r.tab = tab
	r.sinceRecycle = 0
	if r.metrics != nil {
		r.metrics.Count(r.runID, history.MetricBrowserRecycle, 1)
	}
	return nil
}

func (r *Runner) closeTab() {
	if r.tab == nil {
		return
	}
	if err := r.tab.Close(); err != nil {
		r.log.Debug("harness: close tab", "error", err)
	}
	r.tab = closedTab{}
}

// FixtureURL is the page URL for id. '#' is percent-encoded so the rest
// of the id is not parsed as a fragment.
func (r *Runner) FixtureURL(id string) string {
	return r.cfg.BaseURL + "/fixture/" + strings.ReplaceAll(id, "#", "%23")
}

// DiffPath is the diff artifact path for id, relative to the results dir.
func DiffPath(id string) string {
	return path.Join("diffs", id, "diff.png")
}

func (r *Runner) writeArtifacts(fx fixture.Entry, v *compare.Verdict) (string, error) {
	dir := filepath.Join(r.cfg.ResultsDir, "diffs", filepath.FromSlash(fx.ID))
	w, h := fx.ReportWidth, fx.ReportHeight
	if err := compare.WritePNG(filepath.Join(dir, "actual.png"), compare.Resize(v.Actual, w, h)); err != nil {
		return "", err
	}
	if v.Diff == nil {
		return "", nil
	}
	if err := compare.WritePNG(filepath.Join(dir, "diff.png"), compare.Resize(v.Diff, w, h)); err != nil {
		return "", err
	}
	return DiffPath(fx.ID), nil
}

// flush writes the summary so far and records new results in history.
// A failed write is logged; the error only matters for the final flush.
func (r *Runner) flush(ctx context.Context, fixtures []fixture.Entry) (report.Summary, error) {
	sum := report.Build(fixtures, r.results)
	err := report.Write(r.cfg.ResultsDir, sum)
	if err != nil {
		r.log.Warn("harness: flush summary", "error", err)
	}
	if r.recorder != nil && r.recorded < len(r.results) {
		if rerr := r.recorder.RecordResults(ctx, r.runID, r.results[r.recorded:]); rerr != nil {
			r.log.Warn("harness: record results", "run_id", r.runID, "error", rerr)
		} else {
			r.recorded = len(r.results)
		}
	}
	return sum, err
}

func (r *Runner) finish(ctx context.Context, sum report.Summary, healthy bool) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.FinishRun(ctx, r.runID, r.now(), sum, healthy); err != nil {
		r.log.Warn("harness: finish run", "run_id", r.runID, "error", err)
	}
}

// closedTab stands in after the tab is closed so later use fails as a
// session error instead of a nil dereference.
type closedTab struct{}

func (closedTab) Navigate(context.Context, string) error { return ErrSessionClosed }
func (closedTab) State(context.Context) (PageState, error) {
	return PageState{}, ErrSessionClosed
}
func (closedTab) Capture(context.Context, float64) ([]byte, error) { return nil, ErrSessionClosed }
func (closedTab) Close() error                                     { return nil }
