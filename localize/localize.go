// Package localize rewrites local:// and mapbox:// resource references in a
// style document so they resolve against the fixture server's asset tree.
//
// All rewrites mutate the given document in place.
package localize

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/rendercheck/fixture"
)

const (
	localScheme  = "local://"
	vendorScheme = "mapbox://"
)

// Localizer rewrites style URLs for a fixture server listening on Port.
type Localizer struct {
	Port int
	// AssetsDir resolves setStyle operations that reference a local:// style.
	AssetsDir string
	Logger    *slog.Logger
}

// New returns a Localizer for the given port and asset tree.
func New(port int, assetsDir string, logger *slog.Logger) *Localizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Localizer{Port: port, AssetsDir: assetsDir, Logger: logger}
}

func (l *Localizer) assetsBase() string {
	return fmt.Sprintf("http://localhost:%d/assets/", l.Port)
}

func (l *Localizer) log() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// Style localizes the style's own URLs and then the sources and styles
// embedded in metadata.test.operations. A setStyle operation naming a
// local:// document is inlined: the file is read from AssetsDir, localized,
// and replaces the argument, with the options argument set to {"diff": false}.
// Unreadable or invalid documents are logged and that operation is left as is.
func (l *Localizer) Style(style map[string]any) {
	l.URLs(style)

	test := fixture.TestSection(style)
	if test == nil {
		return
	}
	ops, _ := test["operations"].([]any)
	for i, raw := range ops {
		op, ok := raw.([]any)
		if !ok || len(op) < 2 {
			continue
		}
		verb, _ := op[0].(string)
		switch verb {
		case "addSource":
			if len(op) > 2 {
				if src, ok := op[2].(map[string]any); ok {
					l.source(src)
				}
			}
		case "setStyle":
			switch arg := op[1].(type) {
			case map[string]any:
				l.URLs(arg)
			case string:
				inlined, err := l.readStyle(arg)
				if err != nil {
					l.log().Warn("localize: setStyle skipped", "style", arg, "error", err)
					continue
				}
				l.URLs(inlined)
				op[1] = inlined
				opts := map[string]any{"diff": false}
				if len(op) > 2 {
					op[2] = opts
				} else {
					ops[i] = append(op, opts)
				}
			}
		}
	}
}

func (l *Localizer) readStyle(ref string) (map[string]any, error) {
	rel := strings.TrimPrefix(ref, localScheme)
	data, err := os.ReadFile(filepath.Join(l.AssetsDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	return fixture.DecodeStyle(data)
}

// URLs localizes sources, sprite and glyphs of a style document.
func (l *Localizer) URLs(style map[string]any) {
	if sources, ok := style["sources"].(map[string]any); ok {
		for _, s := range sources {
			if src, ok := s.(map[string]any); ok {
				l.source(src)
			}
		}
	}

	switch sprite := style["sprite"].(type) {
	case string:
		style["sprite"] = l.local(l.vendorSprite(sprite))
	case []any:
		for _, item := range sprite {
			if m, ok := item.(map[string]any); ok {
				if u, ok := m["url"].(string); ok {
					m["url"] = l.local(l.vendorSprite(u))
				}
			}
		}
	}

	if glyphs, ok := style["glyphs"].(string); ok {
		style["glyphs"] = l.local(l.vendorFonts(glyphs))
	}
}

func (l *Localizer) source(src map[string]any) {
	if tiles, ok := src["tiles"].([]any); ok {
		for i, t := range tiles {
			if s, ok := t.(string); ok {
				tiles[i] = l.local(l.vendor(s, "tiles/"))
			}
		}
	}
	if urls, ok := src["urls"].([]any); ok {
		for i, u := range urls {
			if s, ok := u.(string); ok {
				urls[i] = l.local(l.vendor(s, "tilesets/"))
			}
		}
	}
	if u, ok := src["url"].(string); ok {
		src["url"] = l.local(l.vendor(u, "tilesets/"))
	}
	if d, ok := src["data"].(string); ok {
		src["data"] = l.local(d)
	}
}

func (l *Localizer) local(u string) string {
	if rest, ok := strings.CutPrefix(u, localScheme); ok {
		return l.assetsBase() + rest
	}
	return u
}

func (l *Localizer) vendor(u, dir string) string {
	if rest, ok := strings.CutPrefix(u, vendorScheme); ok {
		return l.assetsBase() + dir + rest
	}
	return u
}

// vendorSprite maps mapbox://sprites/<name> and mapbox://<name> alike onto
// the assets root.
func (l *Localizer) vendorSprite(u string) string {
	if rest, ok := strings.CutPrefix(u, vendorScheme+"sprites/"); ok {
		return l.assetsBase() + rest
	}
	return l.vendor(u, "")
}

func (l *Localizer) vendorFonts(u string) string {
	if rest, ok := strings.CutPrefix(u, vendorScheme+"fonts"); ok {
		return strings.TrimSuffix(l.assetsBase(), "/") + "/glyphs" + rest
	}
	return u
}
