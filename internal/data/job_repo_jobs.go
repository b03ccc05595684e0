package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/data/pgxutil"
	"github.com/docchat/docchat-go/internal/domain/model"
)

const (
	defaultRetryDelaySeconds = 60
	defaultMaxAttempts       = 3
)

func (r *JobRepo) retryDelay() int {
	if r.cfg.RetryDelaySeconds > 0 {
		return r.cfg.RetryDelaySeconds
	}
	return defaultRetryDelaySeconds
}

func (r *JobRepo) maxAttempts() int {
	if r.cfg.MaxAttempts > 0 {
		return r.cfg.MaxAttempts
	}
	return defaultMaxAttempts
}

// SQL used by ClaimNext to atomically claim the next job. The inner SELECT
// locks one eligible row, skipping rows already locked by concurrent
// claimers, so two workers can never claim the same job. The attempts
// counter is incremented here, in the claim transaction, not at failure time.
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending' AND run_at <= $1
    ORDER BY created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'running',
    attempts = j.attempts + 1,
    lease_expires_at = $2,
    updated_at = $3
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.type, j.status, j.payload, j.attempts, j.max_attempts, j.last_error, j.run_at, j.lease_expires_at, j.created_at, j.updated_at`

// Create creates a new pending job.
func (r *JobRepo) Create(
	ctx context.Context,
	req *model.CreateJobRequest,
) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	query, args := r.buildInsertQuery(req)

	job, err := scanJobFromRow(r.DB.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// CreateInTx inserts a job within an existing SQL transaction. Callers use
// this to make enqueue atomic with another write, such as an event insert.
func (r *JobRepo) CreateInTx(
	ctx context.Context,
	sqlTx *sql.Tx,
	req *model.CreateJobRequest,
) (*model.Job, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	query, args := r.buildInsertQuery(req)

	job, err := scanJobFromRow(sqlTx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// buildInsertQuery builds an INSERT statement for a job based on the request.
func (r *JobRepo) buildInsertQuery(req *model.CreateJobRequest) (string, []any) {
	query := `
      INSERT INTO jobs(type, status, payload, run_at, max_attempts)
      VALUES ($1,'pending',$2,$3,$4)
      RETURNING ` + jobColumns

	var runAt time.Time
	if req.RunAt != nil {
		runAt = req.RunAt.UTC()
	} else {
		runAt = r.clock.Now().UTC()
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.maxAttempts()
	}

	args := []any{
		req.Type,
		[]byte(req.Payload),
		runAt,
		maxAttempts,
	}
	return query, args
}

// Advisory lock keys for requeueExpired so concurrent workers do not race on
// the reclaim scan.
const (
	advisoryLockRequeueMajor int64 = 1001
	advisoryLockRequeueMinor int64 = 1
)

// requeueExpired flips running jobs whose lease has lapsed back to pending
// and returns the number of jobs reclaimed. A worker that silently died keeps
// its claim only until the lease expires.
func (r *JobRepo) requeueExpired(ctx context.Context) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, advisoryLockRequeueMinor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.clock.Now()
			res, err := tx.ExecContext(ctx, `
          UPDATE jobs
          SET status = 'pending', lease_expires_at = NULL
          WHERE status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $1
        `, currentTime.UTC())
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// ClaimNext atomically claims the oldest eligible pending job for processing.
// Returns model.ErrNoJobsAvailable when nothing is claimable.
func (r *JobRepo) ClaimNext(
	ctx context.Context,
	leaseSeconds int,
) (*model.Job, error) {
	if reclaimed, err := r.requeueExpired(ctx); err != nil {
		return nil, fmt.Errorf("requeue expired jobs: %w", err)
	} else if reclaimed > 0 && r.logger != nil {
		r.logger.InfoContext(ctx, "requeued expired jobs", "count", reclaimed)
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.clock.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				claimNextUpdateSQL,
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.clock.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	query := `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkDone marks a running job as done. Returns false when the job was not
// running, which happens when a lapsed lease already handed it elsewhere.
func (r *JobRepo) MarkDone(ctx context.Context, id string) (bool, error) {
	currentTime := r.clock.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'done',
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`

	res, err := r.DB.ExecContext(ctx, query, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark job done: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark done rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkFailed records a failure on a running job. With Reschedule set and
// attempt budget remaining the job goes back to pending with run_at pushed
// out by the retry delay; otherwise it lands in failed. Attempts were already
// counted at claim time, so the comparison is against the current value.
func (r *JobRepo) MarkFailed(ctx context.Context, params core.MarkJobFailedParams) (bool, error) {
	retryDelay := r.retryDelay()
	currentTime := r.clock.Now()
	retryRunAt := currentTime.Add(time.Duration(retryDelay) * time.Second)

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        status = CASE WHEN $3::boolean AND attempts < max_attempts THEN 'pending' ELSE 'failed' END,
        run_at = CASE WHEN $3::boolean AND attempts < max_attempts THEN $4::timestamptz ELSE run_at END,
        lease_expires_at = NULL,
        updated_at = $5
      WHERE id = $1 AND status = 'running'
      RETURNING status
    `

	var status string
	err := r.DB.QueryRowContext(
		ctx,
		query,
		params.ID,
		params.ErrMsg,
		params.Reschedule,
		retryRunAt.UTC(),
		currentTime.UTC(),
	).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail job: %w", err)
	}

	if r.logger != nil && status == string(model.JobStatusFailed) {
		r.logger.WarnContext(ctx, "job reached terminal failure",
			"job_id", params.ID,
			"error", params.ErrMsg,
		)
	}

	return true, nil
}

// Stats returns counts of jobs in each lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending') AS pending,
    count(*) FILTER (WHERE status = 'running') AS running,
    count(*) FILTER (WHERE status = 'done')    AS done,
    count(*) FILTER (WHERE status = 'failed')  AS failed
  FROM jobs
  `).Scan(
		&s.Pending,
		&s.Running,
		&s.Done,
		&s.Failed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanJobFromRow(r.DB.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListRecent returns the most recently created jobs, newest first.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, scanErr := scanJobFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list jobs: %w", rowsErr)
	}
	return jobs, nil
}
