package harness

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/hazyhaar/rendercheck/harness/internal/browser"
)

// canvasSelector is the element the fixture page renders into.
const canvasSelector = "#map canvas"

// BrowserConfig configures the Chrome backend.
type BrowserConfig struct {
	// RemoteURL connects to an existing Chrome DevTools endpoint instead of
	// launching one.
	RemoteURL string `yaml:"remote_url"`
	// Bin is the Chrome binary. Empty = launcher lookup.
	Bin string `yaml:"bin"`
	// Headful shows the browser window.
	Headful bool `yaml:"headful"`
	// Stealth opens tabs through go-rod/stealth.
	Stealth bool `yaml:"stealth"`
	// Flags replace the default software-GL switches when non-nil.
	Flags []string `yaml:"flags"`
	// Viewport is the square viewport size. Default: 1024.
	Viewport int `yaml:"viewport"`
}

// DefaultChromeFlags are the switches used when BrowserConfig.Flags is nil.
func DefaultChromeFlags() []string {
	return append([]string(nil), browser.DefaultFlags...)
}

// NewChrome returns a Browser backed by go-rod. Chrome starts on the first
// Open.
func NewChrome(cfg BrowserConfig, logger *slog.Logger) Browser {
	return &chrome{mgr: browser.NewManager(browser.Config{
		RemoteURL: cfg.RemoteURL,
		Bin:       cfg.Bin,
		Headful:   cfg.Headful,
		Stealth:   cfg.Stealth,
		Flags:     cfg.Flags,
		Viewport:  cfg.Viewport,
		Logger:    logger,
	})}
}

type chrome struct {
	mgr *browser.Manager
}

func (c *chrome) Open(ctx context.Context) (Tab, error) {
	if err := c.mgr.Start(ctx); err != nil {
		return nil, err
	}
	t, err := browser.OpenTab(ctx, c.mgr)
	if err != nil {
		return nil, err
	}
	return &chromeTab{tab: t}, nil
}

func (c *chrome) Recycle(ctx context.Context) error { return c.mgr.Recycle(ctx) }

func (c *chrome) Close() error { return c.mgr.Close() }

type chromeTab struct {
	mu     sync.Mutex
	tab    *browser.Tab
	closed bool
}

func (t *chromeTab) live() (*browser.Tab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrSessionClosed
	}
	return t.tab, nil
}

func (t *chromeTab) Navigate(ctx context.Context, url string) error {
	tab, err := t.live()
	if err != nil {
		return err
	}
	return tab.Navigate(ctx, url)
}

func (t *chromeTab) State(ctx context.Context) (PageState, error) {
	tab, err := t.live()
	if err != nil {
		return PageState{}, err
	}
	st, err := tab.State(ctx)
	return PageState{Ready: st.Ready, Error: st.Error}, err
}

func (t *chromeTab) Capture(ctx context.Context, pixelRatio float64) ([]byte, error) {
	tab, err := t.live()
	if err != nil {
		return nil, err
	}
	return tab.Canvas(ctx, canvasSelector, pixelRatio > 1)
}

func (t *chromeTab) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.tab.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
