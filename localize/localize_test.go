package localize

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/rendercheck/fixture"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	style, err := fixture.DecodeStyle([]byte(s))
	require.NoError(t, err)
	return style
}

func TestStyle_SpriteVendorScheme(t *testing.T) {
	style := map[string]any{"sprite": "mapbox://sprites/foo"}
	New(3900, "", nil).Style(style)
	assert.Equal(t, "http://localhost:3900/assets/foo", style["sprite"])
}

func TestURLs_FieldSpecificMappings(t *testing.T) {
	style := decode(t, `{
		"version": 8,
		"sprite": [{"id": "a", "url": "local://sprites/sprite"}, {"id": "b", "url": "mapbox://sprites/b"}],
		"glyphs": "mapbox://fonts/{fontstack}/{range}.pbf",
		"sources": {
			"vec": {"type": "vector", "tiles": ["mapbox://mapbox.streets/{z}/{x}/{y}.pbf", "local://tiles/{z}-{x}-{y}.mvt"]},
			"tj": {"type": "vector", "url": "mapbox://mapbox.satellite"},
			"multi": {"type": "vector", "urls": ["mapbox://a", "local://tilesets/b.json"]},
			"geo": {"type": "geojson", "data": "local://data/points.geojson"},
			"inline": {"type": "geojson", "data": {"type": "FeatureCollection", "features": []}}
		}
	}`)
	New(2900, "", nil).URLs(style)

	sprites := style["sprite"].([]any)
	assert.Equal(t, "http://localhost:2900/assets/sprites/sprite", sprites[0].(map[string]any)["url"])
	assert.Equal(t, "http://localhost:2900/assets/b", sprites[1].(map[string]any)["url"])
	assert.Equal(t, "http://localhost:2900/assets/glyphs/{fontstack}/{range}.pbf", style["glyphs"])

	sources := style["sources"].(map[string]any)
	tiles := sources["vec"].(map[string]any)["tiles"].([]any)
	assert.Equal(t, "http://localhost:2900/assets/tiles/mapbox.streets/{z}/{x}/{y}.pbf", tiles[0])
	assert.Equal(t, "http://localhost:2900/assets/tiles/{z}-{x}-{y}.mvt", tiles[1])
	assert.Equal(t, "http://localhost:2900/assets/tilesets/mapbox.satellite", sources["tj"].(map[string]any)["url"])
	urls := sources["multi"].(map[string]any)["urls"].([]any)
	assert.Equal(t, []any{"http://localhost:2900/assets/tilesets/a", "http://localhost:2900/assets/tilesets/b.json"}, urls)
	assert.Equal(t, "http://localhost:2900/assets/data/points.geojson", sources["geo"].(map[string]any)["data"])
	assert.IsType(t, map[string]any{}, sources["inline"].(map[string]any)["data"])
}

func TestStyle_NoReferencesIsNoop(t *testing.T) {
	src := `{
		"version": 8,
		"sprite": "https://example.com/sprite",
		"sources": {"s": {"type": "geojson", "data": {"type": "Point", "coordinates": [0, 0]}},
		            "r": {"type": "raster", "tiles": ["http://example.com/{z}/{x}/{y}.png"], "tileSize": 256}},
		"layers": [{"id": "bg", "type": "background"}],
		"metadata": {"test": {"operations": [["wait"], ["setStyle", {"version": 8, "sources": {}, "layers": []}]]}}
	}`
	style := decode(t, src)
	New(3900, t.TempDir(), nil).Style(style)
	assert.Equal(t, decode(t, src), style)
}

func TestStyle_Operations(t *testing.T) {
	assets := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(assets, "styles"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "styles", "next.json"),
		[]byte(`{"version":8,"glyphs":"local://glyphs/{fontstack}/{range}.pbf","sources":{},"layers":[]}`), 0o644))

	style := decode(t, `{
		"version": 8,
		"metadata": {"test": {"operations": [
			["addSource", "extra", {"type": "vector", "url": "mapbox://mapbox.streets"}],
			["setStyle", "local://styles/next.json"],
			["setStyle", "local://styles/next.json", {"diff": true}],
			["setStyle", {"version": 8, "sprite": "local://sprites/s"}],
			["setStyle", "local://styles/missing.json"],
			["wait"]
		]}}
	}`)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	New(3900, assets, logger).Style(style)

	ops := fixture.TestSection(style)["operations"].([]any)
	require.Len(t, ops, 6)

	add := ops[0].([]any)
	assert.Equal(t, "http://localhost:3900/assets/tilesets/mapbox.streets", add[2].(map[string]any)["url"])

	for _, i := range []int{1, 2} {
		op := ops[i].([]any)
		require.Len(t, op, 3, "op %d", i)
		inlined, ok := op[1].(map[string]any)
		require.True(t, ok, "op %d argument inlined", i)
		assert.Equal(t, "http://localhost:3900/assets/glyphs/{fontstack}/{range}.pbf", inlined["glyphs"])
		assert.Equal(t, map[string]any{"diff": false}, op[2])
	}

	obj := ops[3].([]any)[1].(map[string]any)
	assert.Equal(t, "http://localhost:3900/assets/sprites/s", obj["sprite"])

	missing := ops[4].([]any)
	assert.Equal(t, "local://styles/missing.json", missing[1])
	assert.Len(t, missing, 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n"))[0], &entry))
	assert.Equal(t, "localize: setStyle skipped", entry["msg"])
}
