package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// Operational settings the CLI persists next to the jobs so every process
// opening the same database file agrees on them.
const (
	ConfigMaxConcurrency    = "max_concurrency"
	ConfigPollInterval      = "poll_interval"
	ConfigDefaultMaxRetries = "default_max_retries"
	ConfigRetryBaseDelay    = "retry_base_delay"
	ConfigRetryMaxDelay     = "retry_max_delay"
	ConfigLiveness          = "liveness_threshold"
)

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return storeErr("set config", err)
	}
	return nil
}

// GetConfig returns the stored value for key, or "" when the key was never
// set.
func (s *Store) GetConfig(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get config", err)
	}
	return val, nil
}

func (s *Store) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, storeErr("all config", err)
	}
	defer rows.Close()

	result := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// IntConfig returns the key parsed as an int, falling back to defaultVal
// when unset or malformed.
func (s *Store) IntConfig(ctx context.Context, key string, defaultVal int) int {
	val, err := s.GetConfig(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// DurationConfig returns the key parsed as a duration, falling back to
// defaultVal when unset or malformed.
func (s *Store) DurationConfig(ctx context.Context, key string, defaultVal time.Duration) time.Duration {
	val, err := s.GetConfig(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
