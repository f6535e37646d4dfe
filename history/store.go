// CLAUDE:SUMMARY SQLite run history: runs, per-fixture outcomes, flaky detection across recent runs, buffered render metrics.
// Package history persists render runs and their per-fixture outcomes so
// fixtures that flip between pass and fail can be found across runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/rendercheck/dbopen"
	"github.com/hazyhaar/rendercheck/report"
)

// Store reads and writes the history database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an already-initialised database.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Run is one recorded render run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or if the run was interrupted
	Total      int
	Pass       int
	Fail       int
	Error      int
	Skip       int
	Healthy    *bool
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, runID string, startedAt time.Time, total int) error {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO runs (run_id, started_at, total) VALUES (?, ?, ?)`,
		runID, startedAt.UnixMilli(), total)
	if err != nil {
		return fmt.Errorf("history: begin run: %w", err)
	}
	return nil
}

// RecordResults upserts a batch of outcomes for a run in one transaction.
func (s *Store) RecordResults(ctx context.Context, runID string, results []report.Result) error {
	if len(results) == 0 {
		return nil
	}
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO results (run_id, fixture_id, status, difference, allowed, error, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, fixture_id) DO UPDATE SET
				status = excluded.status,
				difference = excluded.difference,
				allowed = excluded.allowed,
				error = excluded.error,
				duration_ms = excluded.duration_ms`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range results {
			if _, err := stmt.ExecContext(ctx, runID, r.ID, string(r.Status),
				nullFloat(r.Difference), nullFloat(r.Allowed), r.Error, r.DurationMS); err != nil {
				return fmt.Errorf("insert %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: record results: %w", err)
	}
	return nil
}

// FinishRun stores the final counts and health verdict of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, finishedAt time.Time, sum report.Summary, healthy bool) error {
	_, err := dbopen.Exec(ctx, s.db, `
		UPDATE runs SET finished_at = ?, total = ?, pass = ?, fail = ?, error = ?, skip = ?, healthy = ?
		WHERE run_id = ?`,
		finishedAt.UnixMilli(), sum.Total, sum.Pass, sum.Fail, sum.Error, sum.Skip, healthy, runID)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	return nil
}

// Runs lists the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, total, pass, fail, error, skip, healthy
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			healthy  sql.NullBool
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Total, &r.Pass, &r.Fail, &r.Error, &r.Skip, &healthy); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			r.FinishedAt = time.UnixMilli(finished.Int64)
		}
		if healthy.Valid {
			r.Healthy = &healthy.Bool
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Outcome is one fixture's result within a recorded run.
type Outcome struct {
	RunID      string
	StartedAt  time.Time
	Status     report.Status
	Difference *float64
	Error      string
	DurationMS int64
}

// FixtureHistory returns a fixture's outcomes across runs, newest first.
func (s *Store) FixtureHistory(ctx context.Context, fixtureID string, limit int) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, ru.started_at, r.status, r.difference, r.error, r.duration_ms
		FROM results r JOIN runs ru ON ru.run_id = r.run_id
		WHERE r.fixture_id = ?
		ORDER BY ru.started_at DESC, r.run_id DESC LIMIT ?`, fixtureID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query fixture: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o       Outcome
			started int64
			status  string
			diff    sql.NullFloat64
		)
		if err := rows.Scan(&o.RunID, &started, &status, &diff, &o.Error, &o.DurationMS); err != nil {
			return nil, fmt.Errorf("history: scan outcome: %w", err)
		}
		o.StartedAt = time.UnixMilli(started)
		o.Status = report.Status(status)
		if diff.Valid {
			o.Difference = &diff.Float64
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// FlakyFixtures finds fixtures whose non-skip status changed at least once
// over the lastRuns most recent runs. The most unstable come first.
func (s *Store) FlakyFixtures(ctx context.Context, lastRuns, limit int) ([]report.FlakyFixture, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.fixture_id, r.status
		FROM results r
		JOIN (SELECT run_id, started_at FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?) recent
			ON recent.run_id = r.run_id
		WHERE r.status != 'skip'
		ORDER BY r.fixture_id, recent.started_at, r.run_id`, lastRuns)
	if err != nil {
		return nil, fmt.Errorf("history: query flaky: %w", err)
	}
	defer rows.Close()

	var (
		out  []report.FlakyFixture
		cur  *report.FlakyFixture
		last string
	)
	flush := func() {
		if cur != nil && cur.Transitions > 0 {
			out = append(out, *cur)
		}
	}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("history: scan flaky: %w", err)
		}
		if cur == nil || cur.ID != id {
			flush()
			cur = &report.FlakyFixture{ID: id}
			last = ""
		}
		cur.Runs++
		switch report.Status(status) {
		case report.StatusPass:
			cur.Pass++
		case report.StatusFail:
			cur.Fail++
		case report.StatusError:
			cur.Error++
		}
		if last != "" && last != status {
			cur.Transitions++
		}
		last = status
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: scan flaky: %w", err)
	}
	flush()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Transitions != out[j].Transitions {
			return out[i].Transitions > out[j].Transitions
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune deletes runs started before the cutoff, with their results and
// metrics, and returns the number of runs removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		cutoff := before.UnixMilli()
		if _, err := tx.ExecContext(ctx, `DELETE FROM metrics_timeseries WHERE timestamp < ?`, cutoff); err != nil {
			return err
		}
		// Pragmas are per connection, so cascades are not relied on here.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM results WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	s.logger.Info("history: pruned runs", "removed", n, "before", before.Format(time.RFC3339))
	return n, nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
