// CLAUDE:SUMMARY Fixture metadata record, upstream-compatible defaults, and resolution of style.metadata.test over them.
// Package fixture models the on-disk render test corpus: fixture ids, their
// resolved metadata, the manifest, the skip list and the corpus builder.
package fixture

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Defaults shared with the upstream render test suite. Baseline images were
// produced with these values, so changing any of them causes spurious diffs.
const (
	DefaultWidth      = 512
	DefaultHeight     = 512
	DefaultPixelRatio = 1.0
	DefaultAllowed    = 0.00025
	DefaultThreshold  = 0.1285
)

// Operation is one scripted step applied to the live map: [verb, args...].
type Operation []any

// Verb returns the operation name, or "" when the tuple is malformed.
func (op Operation) Verb() string {
	if len(op) == 0 {
		return ""
	}
	s, _ := op[0].(string)
	return s
}

// Args returns the positional arguments following the verb.
func (op Operation) Args() []any {
	if len(op) <= 1 {
		return nil
	}
	return op[1:]
}

// FakeCanvas describes a canvas element painted with a fixture image before
// the map is created, for canvas-source fixtures.
type FakeCanvas struct {
	ID    string `json:"id"`
	Image string `json:"image"`
}

// Metadata is the resolved per-fixture test record.
type Metadata struct {
	ID         string  `json:"id"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixelRatio"`
	Allowed    float64 `json:"allowed"`
	Threshold  float64 `json:"threshold"`

	FadeDuration             *float64 `json:"fadeDuration,omitempty"`
	LocalIdeographFontFamily any      `json:"localIdeographFontFamily,omitempty"` // string or false
	CrossSourceCollisions    *bool    `json:"crossSourceCollisions,omitempty"`
	MaxPitch                 *float64 `json:"maxPitch,omitempty"`
	ContinuesRepaint         *bool    `json:"continuesRepaint,omitempty"`

	Debug                 bool `json:"debug,omitempty"`
	ShowOverdrawInspector bool `json:"showOverdrawInspector,omitempty"`
	ShowPadding           bool `json:"showPadding,omitempty"`
	CollisionDebug        bool `json:"collisionDebug,omitempty"`

	Operations    []Operation `json:"operations,omitempty"`
	AddFakeCanvas *FakeCanvas `json:"addFakeCanvas,omitempty"`
	ReportWidth   int         `json:"reportWidth,omitempty"`
	ReportHeight  int         `json:"reportHeight,omitempty"`
}

// Defaults returns the metadata a fixture gets when its style declares nothing.
func Defaults(id string) Metadata {
	return Metadata{
		ID:         id,
		Width:      DefaultWidth,
		Height:     DefaultHeight,
		PixelRatio: DefaultPixelRatio,
		Allowed:    DefaultAllowed,
		Threshold:  DefaultThreshold,
	}
}

// Category returns the leading path segment of the fixture id.
func (m Metadata) Category() string { return Category(m.ID) }

// Category returns the part of a fixture id before the first slash.
func Category(id string) string {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return id[:i]
	}
	return id
}

// Resolve merges style.metadata.test over the defaults. Fields absent from
// the style keep their default; the id always comes from the caller.
func Resolve(id string, style map[string]any) (Metadata, error) {
	m := Defaults(id)
	test := TestSection(style)
	if test == nil {
		return m, nil
	}
	data, err := json.Marshal(test)
	if err != nil {
		return m, fmt.Errorf("fixture: resolve %s: %w", id, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Defaults(id), fmt.Errorf("fixture: resolve %s: %w", id, err)
	}
	m.ID = id
	if m.Width <= 0 {
		m.Width = DefaultWidth
	}
	if m.Height <= 0 {
		m.Height = DefaultHeight
	}
	if m.PixelRatio <= 0 {
		m.PixelRatio = DefaultPixelRatio
	}
	return m, nil
}

// TestSection returns style.metadata.test, or nil when absent.
func TestSection(style map[string]any) map[string]any {
	meta, ok := style["metadata"].(map[string]any)
	if !ok {
		return nil
	}
	test, _ := meta["test"].(map[string]any)
	return test
}
