package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrNoBrowser is returned when a tab is requested before Start.
var ErrNoBrowser = errors.New("browser: no active browser")

// PageState is the fixture page's readiness report.
type PageState struct {
	Ready bool   `json:"ready"`
	Error string `json:"error"`
}

const stateJS = `() => ({
	ready: window.__fixtureReady === true,
	error: window.__fixtureError ? String(window.__fixtureError) : ""
})`

const dataURLJS = `(sel) => {
	const c = document.querySelector(sel);
	return c ? c.toDataURL("image/png") : "";
}`

// Tab wraps a Rod page sized to the manager's viewport.
type Tab struct {
	Page    *rod.Page
	manager *Manager
}

// OpenTab creates a new blank tab with the configured viewport.
func OpenTab(ctx context.Context, mgr *Manager) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, ErrNoBrowser
	}

	var page *rod.Page
	var err error
	if mgr.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	err = page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             mgr.cfg.Viewport,
		Height:            mgr.cfg.Viewport,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}
	return &Tab{Page: page, manager: mgr}, nil
}

// Navigate loads url and waits for the window load event.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	p := t.Page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	return nil
}

// State reads the readiness flag and error field in one evaluation.
func (t *Tab) State(ctx context.Context) (PageState, error) {
	var st PageState
	res, err := t.Page.Context(ctx).Eval(stateJS)
	if err != nil {
		return st, fmt.Errorf("browser: read page state: %w", err)
	}
	if err := res.Value.Unmarshal(&st); err != nil {
		return st, fmt.Errorf("browser: decode page state: %w", err)
	}
	return st, nil
}

// Canvas waits for the element matching selector to be visible and returns
// it as PNG. With backingStore the canvas is read through toDataURL, which
// yields its device-pixel size rather than its CSS size.
func (t *Tab) Canvas(ctx context.Context, selector string, backingStore bool) ([]byte, error) {
	p := t.Page.Context(ctx)
	el, err := p.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("browser: find %s: %w", selector, err)
	}
	if err := el.WaitVisible(); err != nil {
		return nil, fmt.Errorf("browser: wait visible %s: %w", selector, err)
	}
	if !backingStore {
		data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
		if err != nil {
			return nil, fmt.Errorf("browser: screenshot: %w", err)
		}
		return data, nil
	}

	res, err := p.Eval(dataURLJS, selector)
	if err != nil {
		return nil, fmt.Errorf("browser: read canvas: %w", err)
	}
	return decodeDataURL(res.Value.Str())
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

func decodeDataURL(s string) ([]byte, error) {
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(meta, "data:image/png") || !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("browser: unexpected canvas data url %.40q", s)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("browser: decode canvas data: %w", err)
	}
	return data, nil
}
