package fixture

import "strings"

// DefaultSkipPrefixes lists categories the software GPU backend cannot render
// reliably. The list is hand-maintained; SkipList.Unused and the run history
// are how it gets checked against reality.
var DefaultSkipPrefixes = []string{
	"hillshade", "heatmap", "icon", "symbol", "text", "line", "canvas",
	"custom-layer", "terrain", "sky", "projection", "globe", "video",
	"color-relief", "debug", "real-world", "mlt", "satellite", "bright",
	"collator", "is-supported-script", "raster", "regressions",
	"fill-extrusion", "runtime-styling", "remove-feature-state",
	"feature-state", "geojson", "high-pitch", "within", "distance",
	"sparse-tileset", "tms", "pixel-ratio",
}

// SkipList matches fixture categories against a set of prefixes. A prefix p
// matches category c when c == p or c starts with p + "-".
type SkipList struct {
	prefixes []string
}

// NewSkipList builds a skip list. A nil slice yields an empty list.
func NewSkipList(prefixes []string) SkipList {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return SkipList{prefixes: out}
}

// Prefixes returns a copy of the configured prefixes.
func (s SkipList) Prefixes() []string {
	return append([]string(nil), s.prefixes...)
}

// Match returns the first prefix matching category.
func (s SkipList) Match(category string) (string, bool) {
	for _, p := range s.prefixes {
		if category == p || strings.HasPrefix(category, p+"-") {
			return p, true
		}
	}
	return "", false
}

// Skips reports whether the fixture id's category is on the list.
func (s SkipList) Skips(id string) bool {
	_, ok := s.Match(Category(id))
	return ok
}

// Unused returns prefixes that match none of the given fixture ids.
func (s SkipList) Unused(ids []string) []string {
	used := make(map[string]bool, len(s.prefixes))
	for _, id := range ids {
		if p, ok := s.Match(Category(id)); ok {
			used[p] = true
		}
	}
	var out []string
	for _, p := range s.prefixes {
		if !used[p] {
			out = append(out, p)
		}
	}
	return out
}
