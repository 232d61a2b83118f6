package service

import (
	"context"
	"testing"
	"time"

	"github.com/mohitkumar/drip/cache"
	"github.com/mohitkumar/drip/config"
	"github.com/mohitkumar/drip/container"
	"github.com/mohitkumar/drip/flow"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/schedule"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *SchedulingService {
	d := container.NewDiContainer()
	require.NoError(t, d.Init(context.Background(), config.Config{StorageType: config.STORAGE_TYPE_INMEM}))
	s := NewSchedulingService(d, schedule.NewCompiler(schedule.Config{}), cache.NewFlowCache(time.Minute))
	s.now = func() time.Time { return t0 }
	return s
}

func dripFlow() *model.Flow {
	return &model.Flow{
		Name: "welcome",
		Nodes: []model.Node{
			{Id: "send", Type: model.BLOCK_TYPE_SEND_EMAIL, Data: model.NodeData{Subject: "hi", Body: "body"}},
			{Id: "list", Type: model.BLOCK_TYPE_EMAIL_LIST, Data: model.NodeData{Emails: model.Recipients{"a@x.com", "b@x.com"}}},
			{Id: "wait", Type: model.BLOCK_TYPE_WAIT, Data: model.NodeData{Duration: "10", Unit: "seconds"}},
		},
		Edges: []model.Edge{{Source: "list", Target: "wait"}, {Source: "wait", Target: "send"}},
	}
}

func TestScheduleSequence(t *testing.T) {
	s := newTestService(t)
	seq := model.Sequence{
		{Type: model.BLOCK_TYPE_EMAIL_LIST, Emails: model.Recipients{"a@x.com", "b@x.com"}},
		{Type: model.BLOCK_TYPE_WAIT, Duration: "10", Unit: "seconds"},
		{Type: model.BLOCK_TYPE_SEND_EMAIL, Subject: "hi", Body: "body"},
	}
	res, err := s.ScheduleSequence(context.Background(), seq)
	require.NoError(t, err)
	require.Equal(t, "Email sequence scheduled successfully", res.Message)
	require.Equal(t, 2, res.ScheduledEmails)
	require.NotEmpty(t, res.FlowId)

	jobs, err := s.ListFlowJobs(context.Background(), res.FlowId)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, t0.Add(10000*time.Millisecond), job.FireAt)
		require.Equal(t, model.SCHEDULED, job.State)
	}
}

func TestScheduleSequenceValidationStoresNothing(t *testing.T) {
	s := newTestService(t)
	seq := model.Sequence{
		{Type: model.BLOCK_TYPE_EMAIL_LIST, Emails: model.Recipients{"a@x.com"}},
		{Type: model.BLOCK_TYPE_SEND_EMAIL, Subject: "hi"},
		{Type: model.BLOCK_TYPE_WAIT, Duration: "-5", Unit: "seconds"},
	}
	_, err := s.ScheduleSequence(context.Background(), seq)
	var vErr schedule.ValidationError
	require.ErrorAs(t, err, &vErr)

	jobs, err := s.ListJobsByState(context.Background(), model.SCHEDULED, 0)
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestFlowLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.SaveFlow(ctx, &model.Flow{Name: "  "})
	var reqErr InvalidRequestError
	require.ErrorAs(t, err, &reqErr)

	saved, err := s.SaveFlow(ctx, dripFlow())
	require.NoError(t, err)
	require.NotEmpty(t, saved.Id)
	require.Equal(t, t0, saved.CreatedAt)

	got, err := s.GetFlow(ctx, saved.Id)
	require.NoError(t, err)
	require.Equal(t, "welcome", got.Name)

	list, err := s.ListFlows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	res, err := s.ScheduleFlow(ctx, saved.Id)
	require.NoError(t, err)
	require.Equal(t, saved.Id, res.FlowId)
	require.Equal(t, 2, res.ScheduledEmails)

	n, err := s.CancelFlow(ctx, saved.Id)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	jobs, err := s.ListFlowJobs(ctx, saved.Id)
	require.NoError(t, err)
	for _, job := range jobs {
		require.Equal(t, model.CANCELLED, job.State)
	}

	require.NoError(t, s.DeleteFlow(ctx, saved.Id))
	_, err = s.GetFlow(ctx, saved.Id)
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestSaveFlowKeepsCreatedAt(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	saved, err := s.SaveFlow(ctx, dripFlow())
	require.NoError(t, err)

	s.now = func() time.Time { return t0.Add(time.Hour) }
	update := dripFlow()
	update.Id = saved.Id
	update.Name = "welcome v2"
	updated, err := s.SaveFlow(ctx, update)
	require.NoError(t, err)
	require.Equal(t, t0, updated.CreatedAt)
	require.Equal(t, t0.Add(time.Hour), updated.UpdatedAt)

	got, err := s.GetFlow(ctx, saved.Id)
	require.NoError(t, err)
	require.Equal(t, "welcome v2", got.Name)
}

func TestScheduleFlowStructuralError(t *testing.T) {
	s := newTestService(t)
	fl := dripFlow()
	fl.Edges = append(fl.Edges, model.Edge{Source: "send", Target: "list"})
	saved, err := s.SaveFlow(context.Background(), fl)
	require.NoError(t, err)

	_, err = s.ScheduleFlow(context.Background(), saved.Id)
	var cycle flow.CycleError
	require.ErrorAs(t, err, &cycle)
}

func TestRetryJob(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	res, err := s.ScheduleSequence(ctx, model.Sequence{
		{Type: model.BLOCK_TYPE_EMAIL_LIST, Emails: model.Recipients{"a@x.com"}},
		{Type: model.BLOCK_TYPE_SEND_EMAIL, Subject: "hi"},
	})
	require.NoError(t, err)
	jobs, err := s.ListFlowJobs(ctx, res.FlowId)
	require.NoError(t, err)
	id := jobs[0].Id

	_, err = s.RetryJob(ctx, id)
	require.ErrorIs(t, err, persistence.ErrInvalidTransition)

	store := s.container.GetJobStore()
	_, err = store.MarkRunning(ctx, id, t0)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id, "550", t0))

	failed, err := s.ListJobsByState(ctx, model.FAILED, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	job, err := s.RetryJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULED, job.State)
	require.Equal(t, 0, job.AttemptCount)

	_, err = s.RetryJob(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func TestListJobsByStateRejectsUnknownState(t *testing.T) {
	s := newTestService(t)
	_, err := s.ListJobsByState(context.Background(), "DONE", 10)
	var reqErr InvalidRequestError
	require.ErrorAs(t, err, &reqErr)
	require.NoError(t, s.Health(context.Background()))
}
