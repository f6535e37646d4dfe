package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// SummaryFile is the summary's name under the results directory.
const SummaryFile = "summary.json"

// ErrUnhealthy is returned by CheckHealth when the run breaches its bounds.
var ErrUnhealthy = errors.New("report: unhealthy run")

// Health bounds over non-skip results.
const (
	MaxErrorRate = 0.1
	MinPassRate  = 0.8
)

// Write replaces <dir>/summary.json with s. The document is written to a
// temporary file and renamed, so readers never observe a partial file.
func Write(dir string, s Summary) error {
	if s.Results == nil {
		s.Results = []Result{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("report: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".summary-*.json")
	if err != nil {
		return fmt.Errorf("report: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("report: write summary: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: close summary: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, SummaryFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("report: rename summary: %w", err)
	}
	return nil
}

// Read loads <dir>/summary.json.
func Read(dir string) (Summary, error) {
	data, err := os.ReadFile(filepath.Join(dir, SummaryFile))
	if err != nil {
		return Summary{}, fmt.Errorf("report: read summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("report: parse summary: %w", err)
	}
	return s, nil
}

// Health is the aggregate health of a finished run.
type Health struct {
	Tested    int     `json:"tested"`
	ErrorRate float64 `json:"errorRate"`
	PassRate  float64 `json:"passRate"`
}

// CheckHealth computes error and pass rates among non-skip results and
// returns ErrUnhealthy when the error rate reaches MaxErrorRate or the pass
// rate does not exceed MinPassRate. A run that tested nothing, because every
// fixture was skipped, has no rates to check and is healthy.
func CheckHealth(s Summary) (Health, error) {
	h := Health{Tested: s.Pass + s.Fail + s.Error}
	if h.Tested == 0 {
		return h, nil
	}
	h.ErrorRate = float64(s.Error) / float64(h.Tested)
	h.PassRate = float64(s.Pass) / float64(h.Tested)
	switch {
	case h.ErrorRate >= MaxErrorRate:
		return h, fmt.Errorf("%w: error rate %.1f%% (%d/%d) exceeds %.0f%%",
			ErrUnhealthy, h.ErrorRate*100, s.Error, h.Tested, MaxErrorRate*100)
	case h.PassRate <= MinPassRate:
		return h, fmt.Errorf("%w: pass rate %.1f%% (%d/%d) is not above %.0f%%",
			ErrUnhealthy, h.PassRate*100, s.Pass, h.Tested, MinPassRate*100)
	}
	return h, nil
}
