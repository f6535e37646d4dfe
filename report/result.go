// CLAUDE:SUMMARY Test result taxonomy, summary aggregation with atomic persistence, health bounds, per-category stats.
// Package report aggregates per-fixture results into the summary document
// the report viewer reads, and checks the run's aggregate health.
package report

import (
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/rendercheck/fixture"
)

// Status is the outcome class of one fixture.
type Status string

const (
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusSkip  Status = "skip"
	StatusError Status = "error"
)

// Result is the immutable record of one fixture's run.
type Result struct {
	ID         string   `json:"id"`
	Status     Status   `json:"status"`
	Difference *float64 `json:"difference,omitempty"`
	Allowed    *float64 `json:"allowed,omitempty"`
	Error      string   `json:"error,omitempty"`
	Diff       string   `json:"diff,omitempty"`
	DurationMS int64    `json:"durationMs,omitempty"`
}

// Pass records a comparison within tolerance.
func Pass(id string, difference, allowed float64) Result {
	return Result{ID: id, Status: StatusPass, Difference: &difference, Allowed: &allowed}
}

// Fail records a comparison outside tolerance; diff is the artifact path.
func Fail(id string, difference, allowed float64, diff string) Result {
	return Result{ID: id, Status: StatusFail, Difference: &difference, Allowed: &allowed, Diff: diff}
}

// Skip records a fixture that was not rendered.
func Skip(id, reason string) Result {
	return Result{ID: id, Status: StatusSkip, Error: cleanText(reason)}
}

// Errored records a fixture that could not be rendered or captured.
func Errored(id, msg string) Result {
	return Result{ID: id, Status: StatusError, Error: cleanText(msg)}
}

var textPolicy = bluemonday.StrictPolicy()

// cleanText strips markup from messages that may originate in the page, so
// the viewer only ever receives plain text.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.ContainsAny(s, "<>&") {
		return s
	}
	return html.UnescapeString(textPolicy.Sanitize(s))
}

// Summary is the persisted aggregate of a run.
type Summary struct {
	Total   int      `json:"total"`
	Pass    int      `json:"pass"`
	Fail    int      `json:"fail"`
	Error   int      `json:"error"`
	Skip    int      `json:"skip"`
	Results []Result `json:"results"`
}

// Build recomputes the summary from scratch. Total is the number of
// fixtures in the run, processed or not.
func Build(fixtures []fixture.Entry, results []Result) Summary {
	s := Summary{Total: len(fixtures), Results: make([]Result, len(results))}
	copy(s.Results, results)
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			s.Pass++
		case StatusFail:
			s.Fail++
		case StatusError:
			s.Error++
		case StatusSkip:
			s.Skip++
		}
	}
	return s
}

// Filter returns the results with the given status, at most limit of them
// (limit <= 0 means all).
func (s Summary) Filter(status Status, limit int) []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status != status {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Find returns the result for a fixture id.
func (s Summary) Find(id string) (Result, bool) {
	for _, r := range s.Results {
		if r.ID == id {
			return r, true
		}
	}
	return Result{}, false
}

// CategoryStats counts outcomes for one fixture category.
type CategoryStats struct {
	Category string `json:"category"`
	Pass     int    `json:"pass"`
	Fail     int    `json:"fail"`
	Error    int    `json:"error"`
	Skip     int    `json:"skip"`
}

// Categories groups results by category, sorted by name.
func (s Summary) Categories() []CategoryStats {
	idx := map[string]*CategoryStats{}
	for _, r := range s.Results {
		cat := fixture.Category(r.ID)
		c, ok := idx[cat]
		if !ok {
			c = &CategoryStats{Category: cat}
			idx[cat] = c
		}
		switch r.Status {
		case StatusPass:
			c.Pass++
		case StatusFail:
			c.Fail++
		case StatusError:
			c.Error++
		case StatusSkip:
			c.Skip++
		}
	}
	out := make([]CategoryStats, 0, len(idx))
	for _, c := range idx {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
