package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/drip/cache"
	"github.com/mohitkumar/drip/container"
	"github.com/mohitkumar/drip/flow"
	"github.com/mohitkumar/drip/logger"
	"github.com/mohitkumar/drip/metrics"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/schedule"
	"go.uber.org/zap"
)

const SCHEDULED_MESSAGE = "Email sequence scheduled successfully"

// InvalidRequestError is returned for requests that are malformed before any
// flow or schedule validation runs.
type InvalidRequestError struct {
	Message string
}

func (e InvalidRequestError) Error() string {
	return e.Message
}

type SchedulingService struct {
	container *container.DIContiner
	compiler  *schedule.Compiler
	flowCache *cache.FlowCache
	now       func() time.Time
}

func NewSchedulingService(container *container.DIContiner, compiler *schedule.Compiler, flowCache *cache.FlowCache) *SchedulingService {
	return &SchedulingService{
		container: container,
		compiler:  compiler,
		flowCache: flowCache,
		now:       time.Now,
	}
}

// ScheduleSequence compiles an ad hoc block sequence under a fresh flow id
// and stores all of its jobs in one batch.
func (s *SchedulingService) ScheduleSequence(ctx context.Context, seq model.Sequence) (*model.ScheduleResponse, error) {
	return s.schedule(ctx, uuid.NewString(), seq)
}

func (s *SchedulingService) schedule(ctx context.Context, flowId string, seq model.Sequence) (*model.ScheduleResponse, error) {
	t0 := s.now().UTC().Truncate(time.Millisecond)
	res, err := s.compiler.Compile(flowId, seq, t0)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		logger.Warn("schedule warning", zap.String("flowId", flowId), zap.String("warning", w))
	}
	if err := s.container.GetJobStore().InsertBatch(ctx, res.Jobs); err != nil {
		logger.Error("error storing scheduled jobs", zap.String("flowId", flowId), zap.Int("jobs", len(res.Jobs)), zap.Error(err))
		return nil, fmt.Errorf("store jobs: %w", err)
	}
	metrics.Add(ctx, metrics.JobsScheduled, len(res.Jobs))
	logger.Info("flow scheduled", zap.String("flowId", flowId), zap.Int("jobs", len(res.Jobs)))
	return &model.ScheduleResponse{
		Message:         SCHEDULED_MESSAGE,
		ScheduledEmails: len(res.Jobs),
		FlowId:          flowId,
		Warnings:        res.Warnings,
	}, nil
}

// SaveFlow creates a flow or replaces the stored definition with the same id.
// Drafts are stored without structural checks; they run on ScheduleFlow.
func (s *SchedulingService) SaveFlow(ctx context.Context, fl *model.Flow) (*model.Flow, error) {
	fl.Name = strings.TrimSpace(fl.Name)
	if fl.Name == "" {
		return nil, InvalidRequestError{Message: "flow name is required"}
	}
	now := s.now().UTC()
	if fl.Id == "" {
		fl.Id = uuid.NewString()
		fl.CreatedAt = now
	} else {
		existing, err := s.container.GetFlowStore().GetFlow(ctx, fl.Id)
		switch {
		case err == nil:
			fl.CreatedAt = existing.CreatedAt
		case errors.Is(err, persistence.ErrFlowNotFound):
			fl.CreatedAt = now
		default:
			return nil, err
		}
	}
	fl.UpdatedAt = now
	if err := s.container.GetFlowStore().SaveFlow(ctx, fl); err != nil {
		return nil, err
	}
	s.flowCache.SaveFlow(fl)
	return fl, nil
}

func (s *SchedulingService) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	if fl, ok := s.flowCache.GetFlow(id); ok {
		return fl, nil
	}
	fl, err := s.container.GetFlowStore().GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	s.flowCache.SaveFlow(fl)
	return fl, nil
}

func (s *SchedulingService) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	return s.container.GetFlowStore().ListFlows(ctx)
}

// DeleteFlow removes the definition only. Jobs already scheduled from it keep
// running unless the flow is cancelled.
func (s *SchedulingService) DeleteFlow(ctx context.Context, id string) error {
	s.flowCache.DeleteFlow(id)
	return s.container.GetFlowStore().DeleteFlow(ctx, id)
}

// ScheduleFlow linearizes a stored flow and schedules it under the flow's id.
func (s *SchedulingService) ScheduleFlow(ctx context.Context, id string) (*model.ScheduleResponse, error) {
	fl, err := s.GetFlow(ctx, id)
	if err != nil {
		return nil, err
	}
	seq, err := flow.Linearize(fl.Nodes, fl.Edges)
	if err != nil {
		return nil, err
	}
	return s.schedule(ctx, fl.Id, seq)
}

func (s *SchedulingService) CancelFlow(ctx context.Context, flowId string) (int, error) {
	n, err := s.container.GetJobStore().CancelAll(ctx, flowId, s.now().UTC())
	if err != nil {
		return 0, err
	}
	metrics.Add(ctx, metrics.JobsCancelled, n)
	logger.Info("flow cancelled", zap.String("flowId", flowId), zap.Int("jobs", n))
	return n, nil
}

func (s *SchedulingService) GetJob(ctx context.Context, id string) (*model.JobSpec, error) {
	return s.container.GetJobStore().Get(ctx, id)
}

func (s *SchedulingService) ListFlowJobs(ctx context.Context, flowId string) ([]*model.JobSpec, error) {
	return s.container.GetJobStore().ListByFlow(ctx, flowId)
}

func (s *SchedulingService) ListJobsByState(ctx context.Context, state model.JobState, limit int) ([]*model.JobSpec, error) {
	if !state.IsValid() {
		return nil, InvalidRequestError{Message: fmt.Sprintf("unknown job state %q", state)}
	}
	return s.container.GetJobStore().ListByState(ctx, state, limit)
}

// RetryJob moves a FAILED job back to SCHEDULED, due immediately, with a
// fresh attempt budget.
func (s *SchedulingService) RetryJob(ctx context.Context, id string) (*model.JobSpec, error) {
	store := s.container.GetJobStore()
	job, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != model.FAILED {
		return nil, fmt.Errorf("job %s is %s: %w", id, job.State, persistence.ErrInvalidTransition)
	}
	now := s.now().UTC()
	if err := store.Reschedule(ctx, id, now, "", now); err != nil {
		return nil, err
	}
	logger.Info("job retried by operator", zap.String("jobId", id))
	return store.Get(ctx, id)
}

func (s *SchedulingService) Health(ctx context.Context) error {
	return s.container.GetJobStore().Ping(ctx)
}
