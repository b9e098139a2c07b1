package jobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"bemflow/internal/jobs"
)

// Stats returns a count of recorded jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[jobs.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[jobs.Status]int)
	for rows.Next() {
		var status jobs.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// DatabaseHealth captures diagnostic information about the history database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}

// CheckHealth returns diagnostic information about the history database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("history database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat history database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("history database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping history database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = integrity == "ok"

	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&health.TotalJobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	return health, nil
}
