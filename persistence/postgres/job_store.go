package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"go.uber.org/zap"
)

const jobColumns = `id, seq, flow_id, block_index, recipient, subject, body, fire_at, state,
	attempt_count, last_error, created_at, updated_at, claimed_at, finished_at`

const staleRequeueReason = "stale claim requeued"

var _ persistence.JobStore = new(postgresJobStore)

// postgresJobStore relies on single row conditional UPDATEs for every state
// change. Under READ COMMITTED a concurrent UPDATE re-evaluates its WHERE
// clause after the row lock is released, so only one claim can match.
type postgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *postgresJobStore {
	return &postgresJobStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.JobSpec, error) {
	var job model.JobSpec
	var state string
	var claimedAt, finishedAt sql.NullTime
	err := row.Scan(
		&job.Id, &job.Seq, &job.FlowId, &job.BlockIndex, &job.Recipient, &job.Subject, &job.Body,
		&job.FireAt, &state, &job.AttemptCount, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
		&claimedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	job.State = model.JobState(state)
	if claimedAt.Valid {
		job.ClaimedAt = claimedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = finishedAt.Time
	}
	return &job, nil
}

func (s *postgresJobStore) InsertBatch(ctx context.Context, jobs []*model.JobSpec) error {
	if len(jobs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("error starting insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	seqs := make([]int64, len(jobs))
	for i, job := range jobs {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO drip_jobs (id, flow_id, block_index, recipient, subject, body, fire_at, state,
				attempt_count, last_error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING seq`,
			job.Id, job.FlowId, job.BlockIndex, job.Recipient, job.Subject, job.Body, job.FireAt,
			string(job.State), job.AttemptCount, job.LastError, job.CreatedAt, job.UpdatedAt,
		).Scan(&seqs[i])
		if err != nil {
			return storageError("error inserting job", err, zap.String("job", job.Id))
		}
	}
	if err := tx.Commit(); err != nil {
		return storageError("error committing jobs", err, zap.Int("count", len(jobs)))
	}
	for i, job := range jobs {
		job.Seq = seqs[i]
	}
	return nil
}

func (s *postgresJobStore) MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobSpec, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE drip_jobs SET state = 'RUNNING', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'SCHEDULED'
		RETURNING `+jobColumns, id, now)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.exists(ctx, id); err != nil {
			return nil, err
		}
		return nil, persistence.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, storageError("error claiming job", err, zap.String("job", id))
	}
	return job, nil
}

func (s *postgresJobStore) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.finish(ctx, id, model.COMPLETED, "", now)
}

func (s *postgresJobStore) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	return s.finish(ctx, id, model.FAILED, reason, now)
}

func (s *postgresJobStore) finish(ctx context.Context, id string, state model.JobState, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drip_jobs SET state = $2, attempt_count = attempt_count + 1, finished_at = $3, updated_at = $3,
			last_error = CASE WHEN $4 = '' THEN last_error ELSE $4 END
		WHERE id = $1 AND state = 'RUNNING'`, id, string(state), now, reason)
	if err != nil {
		return storageError("error finishing job", err, zap.String("job", id), zap.String("state", string(state)))
	}
	return s.transitionResult(ctx, id, res)
}

func (s *postgresJobStore) Reschedule(ctx context.Context, id string, fireAt time.Time, reason string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drip_jobs SET state = 'SCHEDULED',
			attempt_count = CASE WHEN state = 'RUNNING' THEN attempt_count + 1 ELSE 0 END,
			fire_at = $2, claimed_at = NULL, finished_at = NULL, updated_at = $3,
			last_error = CASE WHEN $4 = '' THEN last_error ELSE $4 END
		WHERE id = $1 AND state IN ('RUNNING', 'FAILED')`, id, fireAt, now, reason)
	if err != nil {
		return storageError("error rescheduling job", err, zap.String("job", id))
	}
	return s.transitionResult(ctx, id, res)
}

func (s *postgresJobStore) CancelAll(ctx context.Context, flowId string, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drip_jobs SET state = 'CANCELLED', finished_at = $2, updated_at = $2
		WHERE flow_id = $1 AND state IN ('SCHEDULED', 'RUNNING')`, flowId, now)
	if err != nil {
		return 0, storageError("error cancelling flow jobs", err, zap.String("flow", flowId))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("error cancelling flow jobs", err, zap.String("flow", flowId))
	}
	return int(n), nil
}

func (s *postgresJobStore) QueryDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM drip_jobs
		WHERE state = 'SCHEDULED' AND fire_at <= $1 ORDER BY fire_at, seq LIMIT $2`, now, limitArg(limit))
}

func (s *postgresJobStore) QueryStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM drip_jobs
		WHERE state = 'RUNNING' AND claimed_at <= $1 ORDER BY claimed_at LIMIT $2`, claimedBefore, limitArg(limit))
}

func (s *postgresJobStore) Requeue(ctx context.Context, id string, claimedBefore time.Time, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE drip_jobs SET state = 'SCHEDULED', attempt_count = attempt_count + 1,
			fire_at = $3, claimed_at = NULL, updated_at = $3, last_error = $4
		WHERE id = $1 AND state = 'RUNNING' AND claimed_at <= $2`, id, claimedBefore, now, staleRequeueReason)
	if err != nil {
		return false, storageError("error requeueing job", err, zap.String("job", id))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError("error requeueing job", err, zap.String("job", id))
	}
	if n == 0 {
		return false, s.exists(ctx, id)
	}
	return true, nil
}

func (s *postgresJobStore) QueryExpired(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM drip_jobs
		WHERE state IN ('COMPLETED', 'FAILED', 'CANCELLED') AND finished_at <= $1
		ORDER BY finished_at LIMIT $2`, finishedBefore, limitArg(limit))
}

func (s *postgresJobStore) Purge(ctx context.Context, jobs []*model.JobSpec) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.Id)
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM drip_jobs WHERE id = ANY($1) AND state IN ('COMPLETED', 'FAILED', 'CANCELLED')`, ids)
	if err != nil {
		return storageError("error purging jobs", err, zap.Int("count", len(ids)))
	}
	return nil
}

func (s *postgresJobStore) Get(ctx context.Context, id string) (*model.JobSpec, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM drip_jobs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrJobNotFound
	}
	if err != nil {
		return nil, storageError("error reading job", err, zap.String("job", id))
	}
	return job, nil
}

func (s *postgresJobStore) ListByFlow(ctx context.Context, flowId string) ([]*model.JobSpec, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM drip_jobs WHERE flow_id = $1 ORDER BY seq`, flowId)
}

func (s *postgresJobStore) ListByState(ctx context.Context, state model.JobState, limit int) ([]*model.JobSpec, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM drip_jobs
		WHERE state = $1 ORDER BY updated_at DESC, seq LIMIT $2`, string(state), limitArg(limit))
}

func (s *postgresJobStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *postgresJobStore) query(ctx context.Context, query string, args ...any) ([]*model.JobSpec, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("error querying jobs", err)
	}
	defer rows.Close()
	res := make([]*model.JobSpec, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageError("error scanning job", err)
		}
		res = append(res, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("error querying jobs", err)
	}
	return res, nil
}

func (s *postgresJobStore) exists(ctx context.Context, id string) error {
	var found bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM drip_jobs WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return storageError("error reading job", err, zap.String("job", id))
	}
	if !found {
		return persistence.ErrJobNotFound
	}
	return nil
}

func (s *postgresJobStore) transitionResult(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageError("error reading update result", err, zap.String("job", id))
	}
	if n == 1 {
		return nil
	}
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	return persistence.ErrInvalidTransition
}

// limitArg maps a non positive limit to NULL, which postgres treats as no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func storageError(msg string, err error, fields ...zap.Field) error {
	logger.Error(msg, append(fields, zap.Error(err))...)
	return persistence.StorageLayerError{Message: err.Error()}
}
