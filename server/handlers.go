package server

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/fixturepage"
	"github.com/hazyhaar/rendercheck/shield"
)

const (
	cacheLong = "public, max-age=3600"
	cacheNone = "no-cache"
)

// contentTypes covers map data formats mime.TypeByExtension does not know.
var contentTypes = map[string]string{
	".pbf":     "application/x-protobuf",
	".mvt":     "application/vnd.mapbox-vector-tile",
	".geojson": "application/geo+json",
	".json":    "application/json",
	".webp":    "image/webp",
	".png":     "image/png",
	".js":      "application/javascript; charset=utf-8",
	".css":     "text/css; charset=utf-8",
}

func contentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// requestPath returns the percent-decoded remainder of the request path
// after prefix. The escaped form is used so %2F and %23 decode exactly once.
func requestPath(r *http.Request, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(r.URL.EscapedPath(), prefix)
	if !ok {
		return "", false
	}
	p, err := url.PathUnescape(rest)
	if err != nil {
		return "", false
	}
	return p, true
}

func (s *Server) handleFixture(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())

	raw, ok := requestPath(r, "/fixture/")
	if !ok {
		http.Error(w, "bad fixture path", http.StatusBadRequest)
		return
	}
	id, err := fixture.CleanID(raw)
	if err != nil || !strings.Contains(id, "/") {
		http.Error(w, "invalid fixture id", http.StatusBadRequest)
		return
	}

	style, err := s.repo.ReadStyle(id)
	if errors.Is(err, fixture.ErrNotFound) {
		http.Error(w, "fixture not found: "+id, http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("server: read style", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.localizer.Style(style)
	meta, err := fixture.Resolve(id, style)
	if err != nil {
		log.Error("server: resolve metadata", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	fixturepage.LogUnknown(log, id, meta.Operations)

	page, err := fixturepage.Generate(style, meta, fixturepage.PageOptions{
		BaseURL:      s.BaseURL(),
		EventTimeout: s.cfg.EventTimeout,
	})
	if err != nil {
		log.Error("server: generate page", "id", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", cacheNone)
	w.Write(page)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	p := filepath.Join(s.cfg.FixturesDir, fixture.ManifestFile)
	if _, err := os.Stat(p); err != nil {
		http.Error(w, "manifest not found; run `rendercheck corpus` first", http.StatusNotFound)
		return
	}
	serveFile(w, r, p, cacheNone)
}

// fileHandler serves files under root for paths below prefix. Paths are
// decoded, cleaned, and confined to root; directories are not listed.
func (s *Server) fileHandler(prefix, root, cacheControl string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rel, ok := requestPath(r, prefix)
		if !ok || strings.ContainsRune(rel, 0) || strings.Contains(rel, `\`) {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
		if rel == "" {
			http.NotFound(w, r)
			return
		}
		serveFile(w, r, filepath.Join(root, filepath.FromSlash(rel)), cacheControl)
	}
}

func serveFile(w http.ResponseWriter, r *http.Request, name, cacheControl string) {
	f, err := os.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType(name))
	w.Header().Set("Cache-Control", cacheControl)
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}
