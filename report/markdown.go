package report

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// Listing limits shared by the console summary and the markdown report.
const (
	MaxListedFailures = 20
	MaxListedErrors   = 10
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	),
)

var summaryHTML = template.Must(template.New("summary").Funcs(template.FuncMap{
	"pct": func(d *float64) string {
		if d == nil {
			return "-"
		}
		return fmt.Sprintf("%.4f%%", *d*100)
	},
}).Parse(`<h2>Render test summary</h2>
<table>
<thead><tr><th>Total</th><th>Pass</th><th>Fail</th><th>Error</th><th>Skip</th></tr></thead>
<tbody><tr><td>{{.S.Total}}</td><td>{{.S.Pass}}</td><td>{{.S.Fail}}</td><td>{{.S.Error}}</td><td>{{.S.Skip}}</td></tr></tbody>
</table>
{{if .Categories}}<h3>By category</h3>
<table>
<thead><tr><th>Category</th><th>Pass</th><th>Fail</th><th>Error</th><th>Skip</th></tr></thead>
<tbody>{{range .Categories}}<tr><td>{{.Category}}</td><td>{{.Pass}}</td><td>{{.Fail}}</td><td>{{.Error}}</td><td>{{.Skip}}</td></tr>{{end}}</tbody>
</table>{{end}}
{{if .Failures}}<h3>Failures ({{.S.Fail}})</h3>
<table>
<thead><tr><th>Fixture</th><th>Difference</th><th>Allowed</th></tr></thead>
<tbody>{{range .Failures}}<tr><td><code>{{.ID}}</code></td><td>{{pct .Difference}}</td><td>{{pct .Allowed}}</td></tr>{{end}}</tbody>
</table>{{end}}
{{if .Errors}}<h3>Errors ({{.S.Error}})</h3>
<ul>{{range .Errors}}<li><code>{{.ID}}</code>: {{.Error}}</li>{{end}}</ul>{{end}}
`))

// Markdown renders the summary as a markdown document: totals, per-category
// counts, and the first failures and errors.
func Markdown(s Summary) (string, error) {
	var buf bytes.Buffer
	err := summaryHTML.Execute(&buf, struct {
		S          Summary
		Categories []CategoryStats
		Failures   []Result
		Errors     []Result
	}{
		S:          s,
		Categories: s.Categories(),
		Failures:   s.Filter(StatusFail, MaxListedFailures),
		Errors:     s.Filter(StatusError, MaxListedErrors),
	})
	if err != nil {
		return "", fmt.Errorf("report: render summary: %w", err)
	}
	md, err := mdConverter.ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("report: convert markdown: %w", err)
	}
	return md, nil
}
