package report

import (
	_ "embed"
	"net/http"
)

//go:embed static/report.html
var reportHTML []byte

// Page returns the report viewer document. It fetches /results/summary.json
// and loads images from /fixtures/<id>/ and /results/diffs/<id>/.
func Page() []byte {
	return reportHTML
}

// ServeViewer writes the report viewer.
func ServeViewer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(reportHTML)
}
