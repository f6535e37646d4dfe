// Package fixturepage generates the HTML page that renders one fixture in
// the browser and flags completion through window.__fixtureReady.
package fixturepage

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/hazyhaar/rendercheck/fixture"
)

// PageOptions configures page generation.
type PageOptions struct {
	// BaseURL is the fixture server origin, e.g. http://localhost:3900.
	BaseURL string
	// EventTimeout bounds in-page event waits. Default: DefaultEventTimeout.
	EventTimeout time.Duration
}

type pageData struct {
	ID         string
	Width      int
	Height     int
	CSSURL     string
	JSURL      string
	FixtureURL string
	Style      map[string]any
	Options    fixture.Metadata
	Operations template.JS
}

var pageTmpl = template.Must(template.New("fixture").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Fixture: {{.ID}}</title>
  <link rel="icon" href="about:blank">
  <link rel="stylesheet" href="{{.CSSURL}}">
  <style>
    body { margin: 0; padding: 0; }
    #map { box-sizing: content-box; width: {{.Width}}px; height: {{.Height}}px; }
  </style>
</head>
<body>
  <div id="map"></div>
  <script src="{{.JSURL}}"></script>
  <script>
    window.__fixtureReady = false;
    window.__fixtureError = null;

    {{.Operations}}

    function addFakeCanvas(fake, base) {
      return new Promise(function (resolve, reject) {
        const img = new Image();
        img.onload = function () {
          const canvas = document.createElement('canvas');
          canvas.id = fake.id;
          canvas.width = img.width;
          canvas.height = img.height;
          canvas.style.display = 'none';
          canvas.getContext('2d').drawImage(img, 0, 0);
          document.body.appendChild(canvas);
          resolve(canvas);
        };
        img.onerror = function () { reject(new Error('fake canvas image failed to load: ' + fake.image)); };
        img.src = new URL(fake.image, base).href;
      });
    }

    (async function () {
      try {
        const style = {{.Style}};
        const options = {{.Options}};

        if (options.addFakeCanvas) {
          await addFakeCanvas(options.addFakeCanvas, {{.FixtureURL}});
        }

        const map = new maplibregl.Map({
          container: 'map',
          style: style,
          interactive: false,
          attributionControl: false,
          maxPitch: options.maxPitch,
          pixelRatio: options.pixelRatio,
          canvasContextAttributes: { preserveDrawingBuffer: true, powerPreference: 'default' },
          fadeDuration: options.fadeDuration || 0,
          localIdeographFontFamily: options.localIdeographFontFamily || false,
          crossSourceCollisions: options.crossSourceCollisions !== undefined ? options.crossSourceCollisions : true,
          maxCanvasSize: [8192, 8192]
        });

        map.repaint = options.continuesRepaint !== undefined ? options.continuesRepaint : true;
        if (options.debug) map.showTileBoundaries = true;
        if (options.showOverdrawInspector) map.showOverdrawInspector = true;
        if (options.showPadding) map.showPadding = true;

        await map.once('load');

        if (options.collisionDebug) {
          map.showCollisionBoxes = true;
          options.operations = (options.operations || []).concat([['wait']]);
        }

        await applyOperations(options, map);
        window.__fixtureReady = true;
      } catch (err) {
        console.error('Fixture error:', err);
        window.__fixtureError = (err && err.message) || String(err);
        window.__fixtureReady = true;
      }
    })();
  </script>
</body>
</html>
`))

// Generate renders the fixture page for a localized style and its resolved
// metadata. The map container is sized exactly meta.Width x meta.Height.
func Generate(style map[string]any, meta fixture.Metadata, opts PageOptions) ([]byte, error) {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	data := pageData{
		ID:         meta.ID,
		Width:      meta.Width,
		Height:     meta.Height,
		CSSURL:     base + "/cdn/maplibre-gl.css",
		JSURL:      base + "/cdn/maplibre-gl.js",
		FixtureURL: base + "/fixtures/" + EscapeID(meta.ID) + "/",
		Style:      style,
		Options:    meta,
		Operations: template.JS(OperationsScript(ScriptOptions{
			AssetBaseURL: base + "/assets/",
			EventTimeout: opts.EventTimeout,
		})),
	}
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("fixturepage: render %s: %w", meta.ID, err)
	}
	return buf.Bytes(), nil
}

// EscapeID percent-encodes the characters of a fixture id that would break
// a URL path, keeping the slashes that separate its segments.
func EscapeID(id string) string {
	return strings.NewReplacer("%", "%25", "#", "%23", "?", "%3F", " ", "%20").Replace(id)
}
