package harness

import (
	"log/slog"

	"github.com/hazyhaar/rendercheck/fixture"
	"github.com/hazyhaar/rendercheck/report"
)

// progress logs one line per category as the run moves past it. Manifests
// are sorted by id, so a category's fixtures are contiguous.
type progress struct {
	log      *slog.Logger
	category string
	counts   map[report.Status]int
}

func newProgress(log *slog.Logger) *progress {
	return &progress{log: log, counts: map[report.Status]int{}}
}

func (p *progress) add(res report.Result) {
	cat := fixture.Category(res.ID)
	if cat != p.category {
		p.done()
		p.category = cat
	}
	p.counts[res.Status]++
}

func (p *progress) done() {
	if p.category == "" {
		return
	}
	p.log.Info("harness: category done",
		"category", p.category,
		"pass", p.counts[report.StatusPass],
		"fail", p.counts[report.StatusFail],
		"error", p.counts[report.StatusError],
		"skip", p.counts[report.StatusSkip])
	p.category = ""
	clear(p.counts)
}

// logOutcome prints the totals and the first failures and errors.
func logOutcome(log *slog.Logger, s report.Summary) {
	log.Info("harness: results",
		"pass", s.Pass, "fail", s.Fail, "skip", s.Skip, "error", s.Error, "total", s.Total)

	failures := s.Filter(report.StatusFail, 0)
	for i, f := range failures {
		if i == report.MaxListedFailures {
			log.Info("harness: more failures", "count", len(failures)-report.MaxListedFailures)
			break
		}
		log.Info("harness: failed fixture", "id", f.ID, "difference", deref(f.Difference), "allowed", deref(f.Allowed))
	}

	errs := s.Filter(report.StatusError, 0)
	for i, e := range errs {
		if i == report.MaxListedErrors {
			log.Info("harness: more errors", "count", len(errs)-report.MaxListedErrors)
			break
		}
		log.Info("harness: errored fixture", "id", e.ID, "error", e.Error)
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
