// Package jobstore provides SQLite-backed persistence for runs, jobs and
// publish records. The jobs table doubles as the distributed queue: claims
// are serialized through a guarded pending→running UPDATE so no two workers
// ever hold the same job.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/patchstorm/patchstorm/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or job does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed job persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Serialize writers; the claim path relies on single-statement atomicity
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun persists a run and its serialized task definition
func (s *Store) CreateRun(run *domain.Run) error {
	defJSON, err := json.Marshal(run.Definition)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, task_hash, definition, created_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.TaskHash, string(defJSON), run.CreatedAt)
	return err
}

// GetRun retrieves a run and deserializes its task definition
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`SELECT id, task_hash, definition, created_at FROM runs WHERE id = ?`, id)

	var run domain.Run
	var defJSON string
	if err := row.Scan(&run.ID, &run.TaskHash, &defJSON, &run.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var def domain.TaskDefinition
	if err := json.Unmarshal([]byte(defJSON), &def); err != nil {
		return nil, fmt.Errorf("decoding task definition: %w", err)
	}
	run.Definition = &def
	return &run, nil
}

// LatestRunID returns the most recently created run
func (s *Store) LatestRunID() (string, error) {
	row := s.db.QueryRow(`SELECT id FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// EnqueueJob inserts a job unless an active (pending or running) job with the
// same idempotency key already exists. Returns true if the job was enqueued.
func (s *Store) EnqueueJob(job *domain.Job) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE key = ? AND status IN ('pending', 'running')
	`, job.Key).Scan(&active)
	if err != nil {
		return false, err
	}
	if active > 0 {
		return false, tx.Commit()
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO jobs (id, run_id, key, repo, status, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.RunID, job.Key, job.Repo.String(), string(domain.JobPending), now, now, now)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// ClaimNext claims the oldest claimable pending job and moves it to running,
// incrementing its attempt count. Returns nil when nothing is claimable. The
// pending-status guard on the UPDATE gives at-most-one-claim semantics.
func (s *Store) ClaimNext() (*domain.Job, error) {
	now := time.Now().UTC()

	row := s.db.QueryRow(`
		SELECT id FROM jobs
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY created_at, rowid
		LIMIT 1
	`, now)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// lost the race; caller polls again
		return nil, nil
	}

	return s.GetJob(id)
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*domain.Job, error) {
	row := s.db.QueryRow(`
		SELECT id, run_id, key, repo, status, reason, step_index, attempts, last_error, run_after, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// FinishJob records the terminal outcome of a job
func (s *Store) FinishJob(id string, status domain.JobStatus, reason domain.FailReason, stepIndex int, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = ?, reason = ?, step_index = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(status), string(reason), stepIndex, lastError, time.Now().UTC(), id)
	return err
}

// RequeueJob returns a running job to pending with a delayed claim time.
// Used when a worker gives a job back (shutdown) rather than failing it.
func (s *Store) RequeueJob(id string, runAfter time.Time, lastError string) error {
	_, err := s.db.Exec(`
		UPDATE jobs SET status = 'pending', last_error = ?, run_after = ?, updated_at = ?
		WHERE id = ? AND status = 'running'
	`, lastError, runAfter.UTC(), time.Now().UTC(), id)
	return err
}

// CancelPending marks all still-pending jobs of a run cancelled. Running jobs
// are left alone; they finish their current work. Returns the number of jobs
// cancelled.
func (s *Store) CancelPending(runID string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = 'cancelled', updated_at = ?
		WHERE run_id = ? AND status = 'pending'
	`, time.Now().UTC(), runID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ListJobs returns all jobs of a run in creation order
func (s *Store) ListJobs(runID string) ([]*domain.Job, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, key, repo, status, reason, step_index, attempts, last_error, run_after, created_at, updated_at
		FROM jobs WHERE run_id = ? ORDER BY created_at, rowid
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountsByStatus returns per-status job counts for a run
func (s *Store) CountsByStatus(runID string) (map[domain.JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// SavePublish records a publish outcome for a job, replacing any earlier
// record from a previous delivery of the same job.
func (s *Store) SavePublish(rec *domain.PublishRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO publishes (job_id, branch, commit_sha, pr_number, pr_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			branch = excluded.branch,
			commit_sha = excluded.commit_sha,
			pr_number = excluded.pr_number,
			pr_url = excluded.pr_url
	`, rec.JobID, rec.Branch, rec.CommitSHA, rec.PRNumber, rec.PRURL, time.Now().UTC())
	return err
}

// GetPublish retrieves the publish record for a job, if any
func (s *Store) GetPublish(jobID string) (*domain.PublishRecord, error) {
	row := s.db.QueryRow(`
		SELECT job_id, branch, commit_sha, COALESCE(pr_number, 0), COALESCE(pr_url, ''), created_at
		FROM publishes WHERE job_id = ?
	`, jobID)

	var rec domain.PublishRecord
	if err := row.Scan(&rec.JobID, &rec.Branch, &rec.CommitSHA, &rec.PRNumber, &rec.PRURL, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListPublishes returns all publish records for a run's jobs
func (s *Store) ListPublishes(runID string) ([]*domain.PublishRecord, error) {
	rows, err := s.db.Query(`
		SELECT p.job_id, p.branch, p.commit_sha, COALESCE(p.pr_number, 0), COALESCE(p.pr_url, ''), p.created_at
		FROM publishes p JOIN jobs j ON j.id = p.job_id
		WHERE j.run_id = ?
		ORDER BY p.created_at
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.PublishRecord
	for rows.Next() {
		var rec domain.PublishRecord
		if err := rows.Scan(&rec.JobID, &rec.Branch, &rec.CommitSHA, &rec.PRNumber, &rec.PRURL, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var repo, status, reason string
	err := row.Scan(&job.ID, &job.RunID, &job.Key, &repo, &status, &reason,
		&job.StepIndex, &job.Attempts, &job.LastError, &job.RunAfter, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Repo, err = domain.ParseRepoID(repo)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.Reason = domain.FailReason(reason)
	return &job, nil
}
