package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crypto-trading-bot/internal/types"
)

// CreateMetric appends one time-series value.
func (s *Store) CreateMetric(ctx context.Context, m *types.Metric) error {
	if m.Ts.IsZero() {
		m.Ts = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (key, value, ts) VALUES (?, ?, ?)`,
		m.Key, m.Value, m.Ts)
	if err != nil {
		return fmt.Errorf("create metric %s: %w", m.Key, err)
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// LatestMetric returns the current (latest) value for key, or (nil, nil).
func (s *Store) LatestMetric(ctx context.Context, key string) (*types.Metric, error) {
	var m types.Metric
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key, value, ts FROM metrics
		 WHERE key = ? ORDER BY ts DESC, id DESC LIMIT 1`, key).
		Scan(&m.ID, &m.Key, &m.Value, &m.Ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest metric %s: %w", key, err)
	}
	return &m, nil
}

// MetricHistory returns values for key within [from, to], oldest first.
func (s *Store) MetricHistory(ctx context.Context, key string, from, to time.Time) ([]types.Metric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, value, ts FROM metrics
		 WHERE key = ? AND ts >= ? AND ts <= ? ORDER BY ts`,
		key, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query metric history %s: %w", key, err)
	}
	defer rows.Close()

	var out []types.Metric
	for rows.Next() {
		var m types.Metric
		if err := rows.Scan(&m.ID, &m.Key, &m.Value, &m.Ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
