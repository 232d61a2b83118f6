package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/drip/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

var ErrJobNotFound = errors.New("job not found")
var ErrFlowNotFound = errors.New("flow not found")

// ErrAlreadyClaimed is returned by MarkRunning when the job is no longer
// SCHEDULED, either because another dispatcher claimed it or because it was
// cancelled.
var ErrAlreadyClaimed = errors.New("job already claimed")

var ErrInvalidTransition = errors.New("invalid job state transition")

type JobStore interface {
	// InsertBatch persists all jobs or none and assigns their Seq.
	InsertBatch(ctx context.Context, jobs []*model.JobSpec) error
	// MarkRunning moves SCHEDULED to RUNNING atomically and returns the
	// claimed job.
	MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobSpec, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) error
	MarkFailed(ctx context.Context, id string, reason string, now time.Time) error
	// Reschedule moves RUNNING (retry) or FAILED (operator retry) back to
	// SCHEDULED at fireAt.
	Reschedule(ctx context.Context, id string, fireAt time.Time, reason string, now time.Time) error
	CancelAll(ctx context.Context, flowId string, now time.Time) (int, error)
	// QueryDue returns SCHEDULED jobs with FireAt <= now ordered by FireAt,
	// then insertion order.
	QueryDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSpec, error)
	QueryStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.JobSpec, error)
	// Requeue moves a RUNNING job claimed at or before claimedBefore back to
	// SCHEDULED. It reports false when the job was finished or reclaimed in
	// the meantime.
	Requeue(ctx context.Context, id string, claimedBefore time.Time, now time.Time) (bool, error)
	QueryExpired(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.JobSpec, error)
	// Purge deletes the given jobs that are still terminal and skips the rest.
	Purge(ctx context.Context, jobs []*model.JobSpec) error
	Get(ctx context.Context, id string) (*model.JobSpec, error)
	ListByFlow(ctx context.Context, flowId string) ([]*model.JobSpec, error)
	ListByState(ctx context.Context, state model.JobState, limit int) ([]*model.JobSpec, error)
	Ping(ctx context.Context) error
}

type FlowStore interface {
	SaveFlow(ctx context.Context, fl *model.Flow) error
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	ListFlows(ctx context.Context) ([]model.FlowSummary, error)
	DeleteFlow(ctx context.Context, id string) error
}
