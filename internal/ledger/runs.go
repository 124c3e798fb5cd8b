package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cvt2bids/internal/services"
)

// timestampLayout is fixed width so stored values sort chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run status values.
const (
	RunRunning  = "running"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Run is one invocation of the convert command.
type Run struct {
	ID                  string
	InputDir            string
	OutputDir           string
	RegistryPath        string
	SubjectID           string
	Parallel            bool
	DryRun              bool
	StartedAt           time.Time
	FinishedAt          time.Time
	JobsTotal           int
	JobsConverted       int
	JobsFailed          int
	JobsSkipped         int
	ParticipantsCreated int
	Status              string
}

// Job is the recorded outcome of one dcm2bids invocation.
type Job struct {
	RunID         string
	ParticipantID string
	Directory     string
	OutputDir     string
	Session       string
	Outcome       string
	ErrorMessage  string
	Duration      time.Duration
	FinishedAt    time.Time
}

// Totals are the counters written when a run finishes.
type Totals struct {
	Jobs                int
	Converted           int
	Failed              int
	Skipped             int
	ParticipantsCreated int
	Status              string
}

// BeginRun inserts run with status running.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return services.Wrap(services.ErrValidation, "ledger", "begin run", "run id is empty", nil)
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return s.exec(ctx,
		`INSERT INTO runs (id, input_dir, output_dir, registry_path, subject_id, parallel, dry_run, started_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.InputDir, run.OutputDir, run.RegistryPath, run.SubjectID,
		boolToInt(run.Parallel), boolToInt(run.DryRun),
		started.UTC().Format(timestampLayout), RunRunning,
	)
}

// RecordJob appends a job outcome to a run.
func (s *Store) RecordJob(ctx context.Context, job Job) error {
	finished := job.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return s.exec(ctx,
		`INSERT INTO jobs (run_id, participant_id, directory, output_dir, session, outcome, error_message, duration_ms, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID, job.ParticipantID, job.Directory, job.OutputDir, job.Session,
		job.Outcome, job.ErrorMessage, job.Duration.Milliseconds(),
		finished.UTC().Format(timestampLayout),
	)
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, totals Totals) error {
	status := totals.Status
	if status == "" {
		status = RunFinished
	}
	return s.exec(ctx,
		`UPDATE runs SET finished_at = ?, jobs_total = ?, jobs_converted = ?, jobs_failed = ?,
		 jobs_skipped = ?, participants_created = ?, status = ? WHERE id = ?`,
		time.Now().UTC().Format(timestampLayout),
		totals.Jobs, totals.Converted, totals.Failed, totals.Skipped, totals.ParticipantsCreated,
		status, runID,
	)
}

// Converted reports whether directory was converted successfully into
// outputDir for session by any earlier run.
func (s *Store) Converted(ctx context.Context, outputDir, directory, session string) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM jobs WHERE output_dir = ? AND directory = ? AND session = ? AND outcome = ?`,
			outputDir, directory, session, services.OutcomeConverted,
		).Scan(&count)
	})
	if err != nil {
		return false, fmt.Errorf("query converted: %w", err)
	}
	return count > 0, nil
}

const runColumns = "id, input_dir, output_dir, registry_path, subject_id, parallel, dry_run, started_at, finished_at, jobs_total, jobs_converted, jobs_failed, jobs_skipped, participants_created, status"

// ListRuns returns the most recent runs first. A zero since disables the
// time filter; limit <= 0 returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int, since time.Time) ([]Run, error) {
	ctx = ensureContext(ctx)
	query := "SELECT " + runColumns + " FROM runs"
	var args []any
	if !since.IsZero() {
		query += " WHERE started_at >= ?"
		args = append(args, since.UTC().Format(timestampLayout))
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var runs []Run
	err := retryOnBusy(ctx, func() error {
		runs = runs[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			run, err := scanRun(rows)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// GetRun loads a single run.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, services.Wrap(services.ErrNotFound, "ledger", "get run", runID, nil)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListJobs returns the jobs of a run in insertion order.
func (s *Store) ListJobs(ctx context.Context, runID string) ([]Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, participant_id, directory, output_dir, session, outcome, error_message, duration_ms, finished_at
		 FROM jobs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			job         Job
			durationMS  int64
			finishedRaw string
		)
		if err := rows.Scan(&job.RunID, &job.ParticipantID, &job.Directory, &job.OutputDir,
			&job.Session, &job.Outcome, &job.ErrorMessage, &durationMS, &finishedRaw); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Duration = time.Duration(durationMS) * time.Millisecond
		job.FinishedAt = parseTime(finishedRaw)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run         Run
		parallel    int
		dryRun      int
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.InputDir,
		&run.OutputDir,
		&run.RegistryPath,
		&run.SubjectID,
		&parallel,
		&dryRun,
		&startedRaw,
		&finishedRaw,
		&run.JobsTotal,
		&run.JobsConverted,
		&run.JobsFailed,
		&run.JobsSkipped,
		&run.ParticipantsCreated,
		&run.Status,
	); err != nil {
		return Run{}, err
	}
	run.Parallel = parallel != 0
	run.DryRun = dryRun != 0
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		run.FinishedAt = parseTime(finishedRaw.String)
	}
	return run, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
