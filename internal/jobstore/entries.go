package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bemflow/internal/jobs"
)

// Entry is the persisted view of one terminal job.
type Entry struct {
	ID          string
	Name        string
	Status      jobs.Status
	CreatedAt   time.Time
	StartedAt   time.Time
	EndedAt     time.Time
	FailedStage string
	ErrorDetail string
	Result      jobs.Result
	RecordedAt  time.Time
}

// Duration reports how long the job ran.
func (e Entry) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.EndedAt.IsZero() {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Statuses []jobs.Status
	Name     string
	Limit    int
}

const entryColumns = `id, name, status, created_at, started_at, ended_at,
    failed_stage, error_detail, result_json, recorded_at`

// RecordJob upserts a job and replaces its stage reports. It implements the
// scheduler's recorder hook.
func (s *Store) RecordJob(ctx context.Context, rec jobs.Record) error {
	result := rec.Result
	stages := result.Stages
	result.Stages = nil
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	var rounds any
	var stopReason any
	if it := rec.Result.Iteration; it != nil {
		rounds = it.Rounds
		stopReason = nullableString(it.StopReason)
	}

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin record tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (
                id, name, status, created_at, started_at, ended_at, failed_stage,
                error_detail, iteration_rounds, stop_reason, result_json, recorded_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                name = excluded.name, status = excluded.status,
                started_at = excluded.started_at, ended_at = excluded.ended_at,
                failed_stage = excluded.failed_stage, error_detail = excluded.error_detail,
                iteration_rounds = excluded.iteration_rounds, stop_reason = excluded.stop_reason,
                result_json = excluded.result_json, recorded_at = excluded.recorded_at`,
			rec.ID,
			rec.Name,
			rec.Status,
			formatTime(rec.CreatedAt),
			nullableTime(rec.StartedAt),
			nullableTime(rec.EndedAt),
			nullableString(rec.FailedStage),
			nullableString(rec.ErrorDetail),
			rounds,
			stopReason,
			string(resultJSON),
			formatTime(s.now()),
		); err != nil {
			return fmt.Errorf("upsert job: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM job_stages WHERE job_id = ?`, rec.ID); err != nil {
			return fmt.Errorf("clear stages: %w", err)
		}
		for seq, st := range stages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO job_stages (
                    job_id, seq, name, outcome, fatal, finalizer, started_at,
                    duration_ms, reason, error
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.ID,
				seq,
				st.Name,
				st.Outcome,
				boolToInt(st.Fatal),
				boolToInt(st.Finalizer),
				nullableTime(st.StartedAt),
				st.Duration.Milliseconds(),
				nullableString(st.Reason),
				nullableString(st.Error),
			); err != nil {
				return fmt.Errorf("insert stage %s: %w", st.Name, err)
			}
		}
		return tx.Commit()
	})
}

// Get fetches a job with its stage reports. It returns nil when the job is
// not in the history.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM jobs WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	stages, err := s.stages(ctx, id)
	if err != nil {
		return nil, err
	}
	entry.Result.Stages = stages
	return entry, nil
}

func (s *Store) stages(ctx context.Context, id string) ([]jobs.StageReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, outcome, fatal, finalizer, started_at, duration_ms, reason, error
         FROM job_stages WHERE job_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query stages: %w", err)
	}
	defer rows.Close()

	var out []jobs.StageReport
	for rows.Next() {
		var (
			st                       jobs.StageReport
			fatal, finalizer         int
			started, reason, message sql.NullString
			durationMS               int64
		)
		if err := rows.Scan(&st.Name, &st.Outcome, &fatal, &finalizer, &started, &durationMS, &reason, &message); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Fatal = fatal == 1
		st.Finalizer = finalizer == 1
		st.StartedAt = parseNullTime(started)
		st.Duration = time.Duration(durationMS) * time.Millisecond
		st.Reason = reason.String
		st.Error = message.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// List returns jobs newest first. Stage reports are not loaded.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if filter.Name != "" {
		clauses = append(clauses, "name = ?")
		args = append(args, filter.Name)
	}
	query := `SELECT ` + entryColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

// Prune deletes jobs that ended before the cutoff and reports how many were
// removed. Stage rows cascade.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM jobs WHERE ended_at IS NOT NULL AND ended_at < ?`,
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes one job from the history.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry                                 Entry
		created, recorded                     string
		started, ended, failedStage, errorMsg sql.NullString
		resultJSON                            sql.NullString
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.Name,
		&entry.Status,
		&created,
		&started,
		&ended,
		&failedStage,
		&errorMsg,
		&resultJSON,
		&recorded,
	); err != nil {
		return nil, err
	}
	entry.CreatedAt, _ = parseTimeString(created)
	entry.RecordedAt, _ = parseTimeString(recorded)
	entry.StartedAt = parseNullTime(started)
	entry.EndedAt = parseNullTime(ended)
	entry.FailedStage = failedStage.String
	entry.ErrorDetail = errorMsg.String
	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &entry.Result); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", entry.ID, err)
		}
	}
	return &entry, nil
}
