package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/rendercheck/dbopen"
)

// Metric names recorded during a run.
const (
	MetricRenderMS       = "fixture_render_ms"
	MetricCompareMS      = "fixture_compare_ms"
	MetricBrowserRecycle = "browser_recycle_count"
)

// Metric is a single timeseries datapoint.
type Metric struct {
	RunID     string
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string // "ms", "count"
}

// Metrics buffers datapoints and flushes them to the history database in
// batches. Persistence is asynchronous; a failed flush is logged and the
// batch dropped, so recording never blocks a render.
type Metrics struct {
	db            *sql.DB
	logger        *slog.Logger
	bufferSize    int
	flushInterval time.Duration
	buffer        []*Metric
	mu            sync.Mutex
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewMetrics starts a buffered metrics writer. Typical values: bufferSize
// 100, flushInterval 5s.
func NewMetrics(db *sql.DB, logger *slog.Logger, bufferSize int, flushInterval time.Duration) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	m := &Metrics{
		db:            db,
		logger:        logger,
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		buffer:        make([]*Metric, 0, bufferSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.flushLoop()
	return m
}

// Record queues a datapoint. Non-blocking apart from a full-buffer flush.
func (m *Metrics) Record(p *Metric) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, p)
	if len(m.buffer) >= m.bufferSize {
		m.flushLocked()
	}
}

// Observe records a duration in milliseconds for a fixture.
func (m *Metrics) Observe(runID, name, fixtureID string, d time.Duration) {
	m.Record(&Metric{
		RunID:  runID,
		Name:   name,
		Value:  float64(d.Milliseconds()),
		Labels: map[string]string{"fixture": fixtureID},
		Unit:   "ms",
	})
}

// Count records a counter increment.
func (m *Metrics) Count(runID, name string, n int) {
	m.Record(&Metric{RunID: runID, Name: name, Value: float64(n), Unit: "count"})
}

// Query returns datapoints for a metric name within a run, newest first.
// An empty runID matches every run.
func (m *Metrics) Query(ctx context.Context, runID, name string, limit int) ([]*Metric, error) {
	q := `SELECT run_id, metric_name, timestamp, value, labels, unit FROM metrics_timeseries WHERE metric_name = ?`
	args := []any{name}
	if runID != "" {
		q += " AND run_id = ?"
		args = append(args, runID)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var (
			p          Metric
			ts         int64
			labelsJSON sql.NullString
			unit       sql.NullString
		)
		if err := rows.Scan(&p.RunID, &p.Name, &ts, &p.Value, &labelsJSON, &unit); err != nil {
			return nil, fmt.Errorf("history: scan metric: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts)
		p.Unit = unit.String
		if labelsJSON.Valid {
			var labels map[string]string
			if json.Unmarshal([]byte(labelsJSON.String), &labels) == nil {
				p.Labels = labels
			}
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Close flushes remaining datapoints and stops the background goroutine.
func (m *Metrics) Close() error {
	m.closeOnce.Do(func() { close(m.stop) })
	<-m.done
	return nil
}

func (m *Metrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.mu.Lock()
			m.flushLocked()
			m.mu.Unlock()
		}
	}
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	defer func() { m.buffer = m.buffer[:0] }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, m.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO metrics_timeseries (run_id, metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, p := range m.buffer {
			var labelsJSON sql.NullString
			if len(p.Labels) > 0 {
				if b, err := json.Marshal(p.Labels); err == nil {
					labelsJSON = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, p.RunID, p.Name, p.Timestamp.UnixMilli(), p.Value, labelsJSON, p.Unit); err != nil {
				return fmt.Errorf("insert %s: %w", p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("history metrics: flush", "points", len(m.buffer), "error", err)
	}
}
