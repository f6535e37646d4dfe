package fixturepage

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/hazyhaar/rendercheck/fixture"
)

type parsedPage struct {
	title      string
	css        string
	scriptSrcs []string
	links      []string
	inline     []string
}

func parsePage(t *testing.T, page []byte) parsedPage {
	t.Helper()
	doc, err := html.Parse(bytes.NewReader(page))
	require.NoError(t, err)

	var p parsedPage
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				p.title = text(n)
			case "style":
				p.css += text(n)
			case "link":
				p.links = append(p.links, attr(n, "href"))
			case "script":
				if src := attr(n, "src"); src != "" {
					p.scriptSrcs = append(p.scriptSrcs, src)
				} else {
					p.inline = append(p.inline, text(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return p
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func TestGenerate_Structure(t *testing.T) {
	meta := fixture.Defaults("regressions/mapbox-gl-js#5631")
	meta.Width, meta.Height = 64, 32
	page, err := Generate(map[string]any{"version": 8}, meta, PageOptions{BaseURL: "http://localhost:3900/"})
	require.NoError(t, err)

	p := parsePage(t, page)
	assert.Equal(t, "Fixture: regressions/mapbox-gl-js#5631", p.title)
	assert.Contains(t, p.css, "width: 64px")
	assert.Contains(t, p.css, "height: 32px")
	assert.Contains(t, p.css, "box-sizing: content-box")
	assert.Equal(t, []string{"http://localhost:3900/cdn/maplibre-gl.js"}, p.scriptSrcs)
	assert.Contains(t, p.links, "http://localhost:3900/cdn/maplibre-gl.css")
	require.Len(t, p.inline, 1)
	assert.Contains(t, p.inline[0], `"http://localhost:3900/fixtures/regressions/mapbox-gl-js%235631/"`)
	assert.Contains(t, p.inline[0], `const rcAssetBase = "http://localhost:3900/assets/";`)
}

func TestGenerate_StyleInjectionIsEscaped(t *testing.T) {
	style := map[string]any{"name": "</script><script>alert(1)</script>"}
	page, err := Generate(style, fixture.Defaults("a/b"), PageOptions{BaseURL: "http://localhost:3900"})
	require.NoError(t, err)
	p := parsePage(t, page)
	require.Len(t, p.inline, 1)
	assert.NotContains(t, string(page), "<script>alert(1)")
}

// runPage executes the page's inline script against a fake maplibregl and
// returns the environment after the load event has been delivered.
func runPage(t *testing.T, meta fixture.Metadata, mapSetup string) *jsEnv {
	t.Helper()
	page, err := Generate(map[string]any{"version": 8, "layers": []any{}}, meta, PageOptions{BaseURL: "http://localhost:3900"})
	require.NoError(t, err)
	p := parsePage(t, page)
	require.Len(t, p.inline, 1)

	env := newJSEnv(t)
	env.run(t, `
var created = null;
var map = new FakeMap();
`+mapSetup+`
var maplibregl = { Map: function (opts) { created = opts; return map; } };
`)
	env.run(t, p.inline[0])
	env.run(t, `setTimeout(function () { map.fire('load'); }, 5);`)
	env.drain(t)
	return env
}

func TestGenerate_PageSignalsReady(t *testing.T) {
	meta := fixture.Defaults("circle-color/op")
	meta.Operations = []fixture.Operation{{"wait", 500}, {"setPaintProperty", "layer", "circle-color", "#ff0000"}}
	env := runPage(t, meta, "")

	assert.True(t, env.run(t, "window.__fixtureReady").ToBoolean())
	assert.True(t, goNull(env.run(t, "window.__fixtureError").Export()))
	assert.Equal(t,
		`[["_render",505],["setPaintProperty",505,"layer","circle-color","#ff0000"]]`,
		env.json(t, "map.calls"))

	assert.False(t, env.run(t, "created.interactive").ToBoolean())
	assert.False(t, env.run(t, "created.attributionControl").ToBoolean())
	assert.Equal(t, int64(0), env.run(t, "created.fadeDuration").ToInteger())
	assert.False(t, env.run(t, "created.localIdeographFontFamily").ToBoolean())
	assert.True(t, env.run(t, "created.crossSourceCollisions").ToBoolean())
	assert.Equal(t, int64(1), env.run(t, "created.pixelRatio").ToInteger())
	assert.Equal(t, `[8192,8192]`, env.json(t, "created.maxCanvasSize"))
	assert.True(t, env.run(t, "created.canvasContextAttributes.preserveDrawingBuffer").ToBoolean())
	assert.True(t, env.run(t, "map.repaint").ToBoolean())
}

func TestGenerate_DebugFlagsAndCollisionDebug(t *testing.T) {
	meta := fixture.Defaults("debug/flags")
	repaint := false
	meta.ContinuesRepaint = &repaint
	meta.Debug, meta.ShowOverdrawInspector, meta.ShowPadding, meta.CollisionDebug = true, true, true, true
	env := runPage(t, meta, "")

	assert.True(t, env.run(t, "window.__fixtureReady").ToBoolean())
	assert.True(t, env.run(t, "map.showTileBoundaries").ToBoolean())
	assert.True(t, env.run(t, "map.showOverdrawInspector").ToBoolean())
	assert.True(t, env.run(t, "map.showPadding").ToBoolean())
	assert.True(t, env.run(t, "map.showCollisionBoxes").ToBoolean())
	assert.False(t, env.run(t, "map.repaint").ToBoolean())
	require.NotEmpty(t, env.logs)
	assert.Equal(t, `Running operation: ["wait"]`, env.logs[len(env.logs)-1])
}

func TestGenerate_ErrorStillSignalsReady(t *testing.T) {
	meta := fixture.Defaults("broken/op")
	meta.Operations = []fixture.Operation{{"setPaintProperty", "missing-layer", "x", 1}}
	env := runPage(t, meta, `map.setPaintProperty = function () { throw new Error('layer missing-layer does not exist'); };`)

	assert.True(t, env.run(t, "window.__fixtureReady").ToBoolean())
	assert.Equal(t, "layer missing-layer does not exist", env.run(t, "window.__fixtureError").String())
	require.NotEmpty(t, env.errors)
}

func TestEscapeID(t *testing.T) {
	assert.Equal(t, "a/b%231", EscapeID("a/b#1"))
	assert.Equal(t, "a/b%3Fx%20y%25", EscapeID("a/b?x y%"))
}

func goNull(v any) bool { return v == nil }
