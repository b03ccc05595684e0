package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/data/pgxutil"
)

// Reaper queries take a transaction-scoped advisory lock keyed as
// (major, minor) so concurrent reaper instances skip instead of stacking up.
// Major key 1000 is reserved for the reaper.
const (
	advisoryLockReaperMajor            = 1000
	advisoryLockReaperFailPending      = 1
	advisoryLockReaperDelete           = 2
	advisoryLockReaperDeleteDeliveries = 3
)

// reaperBatch runs stmt inside a transaction holding the reaper advisory
// lock with the given minor key. If another instance holds the lock the call
// is a no-op reporting zero rows.
func (r *JobRepo) reaperBatch(
	ctx context.Context,
	lockMinor int,
	stmt func(tx *sql.Tx) (sql.Result, error),
) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			err := tx.QueryRowContext(
				ctx,
				"SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, lockMinor,
			).Scan(&locked)
			if err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}

			res, err := stmt(tx)
			if err != nil {
				return err
			}
			rowsAffected, err = res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// FailStalePendingJobs fails pending jobs created more than maxAge ago, at
// most batchSize per call so a large backlog cannot hold row locks for long.
// Returns the number of jobs failed.
func (r *JobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.reaperBatch(ctx, advisoryLockReaperFailPending, func(tx *sql.Tx) (sql.Result, error) {
		currentTime := r.clock.Now()
		cutoffTime := currentTime.Add(-maxAge)

		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'failed',
				last_error = 'Job timed out in pending status',
				updated_at = $1
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'pending'
				  AND created_at < $2
				ORDER BY created_at
				LIMIT $3
			)
		`, currentTime.UTC(), cutoffTime.UTC(), batchSize)
		if err != nil {
			return nil, fmt.Errorf("fail stale pending jobs: %w", err)
		}
		return res, nil
	})
}

// DeleteOldJobs deletes jobs in the given terminal status whose last update
// is older than MaxAge, at most BatchSize per call. Returns the number of
// jobs deleted.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid job status: %s", params.Status)
	}

	return r.reaperBatch(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) (sql.Result, error) {
		cutoffTime := r.clock.Now().Add(-params.MaxAge)

		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND updated_at < $2
				ORDER BY updated_at
				LIMIT $3
			)
		`, params.Status, cutoffTime.UTC(), params.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("delete old jobs: %w", err)
		}
		return res, nil
	})
}

// DeleteOldDeliveries deletes webhook delivery rows in a terminal status
// whose last update is older than MaxAge, at most BatchSize per call.
func (r *JobRepo) DeleteOldDeliveries(ctx context.Context, params core.DeleteOldDeliveriesParams) (int64, error) {
	if !params.Status.Valid() {
		return 0, fmt.Errorf("invalid delivery status: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}

	return r.reaperBatch(ctx, advisoryLockReaperDeleteDeliveries, func(tx *sql.Tx) (sql.Result, error) {
		cutoffTime := r.clock.Now().Add(-params.MaxAge).UTC()

		res, err := tx.ExecContext(ctx, `
			DELETE FROM webhook_deliveries
			WHERE id IN (
				SELECT id FROM webhook_deliveries
				WHERE status = $1
				  AND updated_at < $2
				ORDER BY updated_at
				LIMIT $3
			)
		`, params.Status, cutoffTime, params.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("delete old deliveries: %w", err)
		}
		return res, nil
	})
}
