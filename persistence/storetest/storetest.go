// Package storetest holds the behaviour every JobStore and FlowStore
// implementation must share. Store packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

func newJob(flowId string, recipient string, fireAt time.Time) *model.JobSpec {
	return &model.JobSpec{
		Id:        uuid.NewString(),
		FlowId:    flowId,
		Recipient: recipient,
		Subject:   "subject",
		Body:      "body",
		FireAt:    fireAt,
		State:     model.SCHEDULED,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func requireTime(t *testing.T, want time.Time, got time.Time) {
	t.Helper()
	require.True(t, want.Equal(got), "want %s got %s", want, got)
}

func ids(jobs []*model.JobSpec) []string {
	res := make([]string, 0, len(jobs))
	for _, j := range jobs {
		res = append(res, j.Id)
	}
	return res
}

func RunJobStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.JobStore) {
	for scenario, fn := range map[string]func(t *testing.T, store persistence.JobStore){
		"insert and get":          testInsertAndGet,
		"due order":               testDueOrder,
		"claim":                   testClaim,
		"concurrent claim":        testConcurrentClaim,
		"complete":                testComplete,
		"retry":                   testRetry,
		"operator retry":          testOperatorRetry,
		"cancel":                  testCancel,
		"stale requeue":           testStaleRequeue,
		"expire and purge":        testExpireAndPurge,
		"list by flow":            testListByFlow,
		"list by state":           testListByState,
		"empty batch":             testEmptyBatch,
		"missing job transitions": testMissingJob,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func testInsertAndGet(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	jobs := []*model.JobSpec{
		newJob("f1", "a@x.com", base),
		newJob("f1", "b@x.com", base.Add(time.Second)),
	}
	require.NoError(t, store.InsertBatch(ctx, jobs))
	require.Less(t, jobs[0].Seq, jobs[1].Seq)

	got, err := store.Get(ctx, jobs[1].Id)
	require.NoError(t, err)
	require.Equal(t, "b@x.com", got.Recipient)
	require.Equal(t, "f1", got.FlowId)
	require.Equal(t, "subject", got.Subject)
	require.Equal(t, "body", got.Body)
	require.Equal(t, model.SCHEDULED, got.State)
	require.Equal(t, 0, got.AttemptCount)
	require.Equal(t, jobs[1].Seq, got.Seq)
	requireTime(t, base.Add(time.Second), got.FireAt)
	require.True(t, got.ClaimedAt.IsZero())

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func testDueOrder(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	late := newJob("f1", "a@x.com", base.Add(2*time.Second))
	first := newJob("f1", "b@x.com", base.Add(time.Second))
	second := newJob("f1", "c@x.com", base.Add(time.Second))
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{late, first, second}))

	due, err := store.QueryDue(ctx, base, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	due, err = store.QueryDue(ctx, base.Add(time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, []string{first.Id, second.Id}, ids(due))

	due, err = store.QueryDue(ctx, base.Add(time.Minute), 2)
	require.NoError(t, err)
	require.Equal(t, []string{first.Id, second.Id}, ids(due))

	due, err = store.QueryDue(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, []string{first.Id, second.Id, late.Id}, ids(due))
}

func testClaim(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	job := newJob("f1", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))

	now := base.Add(time.Second)
	claimed, err := store.MarkRunning(ctx, job.Id, now)
	require.NoError(t, err)
	require.Equal(t, model.RUNNING, claimed.State)
	require.Equal(t, "a@x.com", claimed.Recipient)
	requireTime(t, now, claimed.ClaimedAt)

	_, err = store.MarkRunning(ctx, job.Id, now)
	require.ErrorIs(t, err, persistence.ErrAlreadyClaimed)

	due, err := store.QueryDue(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, due)
}

func testConcurrentClaim(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	job := newJob("f1", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MarkRunning(ctx, job.Id, base)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func testComplete(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	job := newJob("f1", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))

	require.ErrorIs(t, store.MarkFailed(ctx, job.Id, "x", base), persistence.ErrInvalidTransition)

	_, err := store.MarkRunning(ctx, job.Id, base)
	require.NoError(t, err)
	done := base.Add(time.Second)
	require.NoError(t, store.MarkCompleted(ctx, job.Id, done))

	got, err := store.Get(ctx, job.Id)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, got.State)
	require.Equal(t, 1, got.AttemptCount)
	requireTime(t, done, got.FinishedAt)

	require.ErrorIs(t, store.MarkCompleted(ctx, job.Id, done), persistence.ErrInvalidTransition)
	require.ErrorIs(t, store.Reschedule(ctx, job.Id, done, "", done), persistence.ErrInvalidTransition)
}

func testRetry(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	job := newJob("f1", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))
	_, err := store.MarkRunning(ctx, job.Id, base)
	require.NoError(t, err)

	next := base.Add(10 * time.Second)
	require.NoError(t, store.Reschedule(ctx, job.Id, next, "smtp 451", base))

	got, err := store.Get(ctx, job.Id)
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULED, got.State)
	require.Equal(t, 1, got.AttemptCount)
	require.Equal(t, "smtp 451", got.LastError)
	requireTime(t, next, got.FireAt)

	due, err := store.QueryDue(ctx, next.Add(-time.Millisecond), 10)
	require.NoError(t, err)
	require.Empty(t, due)
	due, err = store.QueryDue(ctx, next, 10)
	require.NoError(t, err)
	require.Equal(t, []string{job.Id}, ids(due))

	_, err = store.MarkRunning(ctx, job.Id, next)
	require.NoError(t, err)
}

func testOperatorRetry(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	job := newJob("f1", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))
	_, err := store.MarkRunning(ctx, job.Id, base)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.Id, "mailbox unavailable", base))

	failed, err := store.ListByState(ctx, model.FAILED, 10)
	require.NoError(t, err)
	require.Equal(t, []string{job.Id}, ids(failed))
	require.Equal(t, 1, failed[0].AttemptCount)
	require.Equal(t, "mailbox unavailable", failed[0].LastError)

	require.NoError(t, store.Reschedule(ctx, job.Id, base.Add(time.Minute), "", base.Add(time.Minute)))
	got, err := store.Get(ctx, job.Id)
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULED, got.State)
	require.Equal(t, 0, got.AttemptCount)
	require.True(t, got.FinishedAt.IsZero())

	failed, err = store.ListByState(ctx, model.FAILED, 10)
	require.NoError(t, err)
	require.Empty(t, failed)
	expired, err := store.QueryExpired(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, expired)
}

func testCancel(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	a1 := newJob("fa", "a@x.com", base)
	a2 := newJob("fa", "b@x.com", base.Add(time.Minute))
	a3 := newJob("fa", "c@x.com", base)
	b1 := newJob("fb", "a@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{a1, a2, a3}))
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{b1}))

	_, err := store.MarkRunning(ctx, a1.Id, base)
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, a3.Id, base)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, a3.Id, base))

	n, err := store.CancelAll(ctx, "fa", base)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{a1.Id, a2.Id} {
		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.CANCELLED, got.State)
	}
	got, err := store.Get(ctx, a3.Id)
	require.NoError(t, err)
	require.Equal(t, model.COMPLETED, got.State)

	_, err = store.MarkRunning(ctx, a2.Id, base)
	require.ErrorIs(t, err, persistence.ErrAlreadyClaimed)
	require.ErrorIs(t, store.MarkCompleted(ctx, a1.Id, base), persistence.ErrInvalidTransition)

	due, err := store.QueryDue(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, []string{b1.Id}, ids(due))

	n, err = store.CancelAll(ctx, "fa", base)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func testStaleRequeue(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	old := newJob("f1", "a@x.com", base)
	fresh := newJob("f1", "b@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{old, fresh}))
	_, err := store.MarkRunning(ctx, old.Id, base)
	require.NoError(t, err)
	_, err = store.MarkRunning(ctx, fresh.Id, base.Add(time.Minute))
	require.NoError(t, err)

	stale, err := store.QueryStale(ctx, base.Add(-time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	cutoff := base.Add(time.Second)
	stale, err = store.QueryStale(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Equal(t, []string{old.Id}, ids(stale))

	now := base.Add(2 * time.Minute)
	ok, err := store.Requeue(ctx, old.Id, cutoff, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := store.Get(ctx, old.Id)
	require.NoError(t, err)
	require.Equal(t, model.SCHEDULED, got.State)
	require.Equal(t, 1, got.AttemptCount)
	require.Equal(t, "stale claim requeued", got.LastError)
	requireTime(t, now, got.FireAt)

	ok, err = store.Requeue(ctx, old.Id, cutoff, now)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.Requeue(ctx, fresh.Id, cutoff, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func testExpireAndPurge(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	done := newJob("f1", "a@x.com", base)
	pending := newJob("f1", "b@x.com", base)
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{done, pending}))
	_, err := store.MarkRunning(ctx, done.Id, base)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, done.Id, base))

	expired, err := store.QueryExpired(ctx, base.Add(-time.Second), 10)
	require.NoError(t, err)
	require.Empty(t, expired)

	expired, err = store.QueryExpired(ctx, base.Add(time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, []string{done.Id}, ids(expired))

	require.NoError(t, store.Purge(ctx, append(expired, pending)))
	_, err = store.Get(ctx, done.Id)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
	_, err = store.Get(ctx, pending.Id)
	require.NoError(t, err)

	jobs, err := store.ListByFlow(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []string{pending.Id}, ids(jobs))
}

func testListByFlow(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	batch := []*model.JobSpec{
		newJob("f1", "a@x.com", base.Add(time.Minute)),
		newJob("f1", "b@x.com", base),
		newJob("f2", "c@x.com", base),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))

	jobs, err := store.ListByFlow(ctx, "f1")
	require.NoError(t, err)
	require.Equal(t, []string{batch[0].Id, batch[1].Id}, ids(jobs))

	jobs, err = store.ListByFlow(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func testListByState(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	batch := []*model.JobSpec{
		newJob("f1", "a@x.com", base),
		newJob("f1", "b@x.com", base),
		newJob("f1", "c@x.com", base),
	}
	require.NoError(t, store.InsertBatch(ctx, batch))
	_, err := store.MarkRunning(ctx, batch[0].Id, base)
	require.NoError(t, err)

	scheduled, err := store.ListByState(ctx, model.SCHEDULED, 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{batch[1].Id, batch[2].Id}, ids(scheduled))

	scheduled, err = store.ListByState(ctx, model.SCHEDULED, 1)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	running, err := store.ListByState(ctx, model.RUNNING, 10)
	require.NoError(t, err)
	require.Equal(t, []string{batch[0].Id}, ids(running))

	completed, err := store.ListByState(ctx, model.COMPLETED, 10)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func testEmptyBatch(t *testing.T, store persistence.JobStore) {
	require.NoError(t, store.InsertBatch(context.Background(), nil))
	require.NoError(t, store.Ping(context.Background()))
}

func testMissingJob(t *testing.T, store persistence.JobStore) {
	ctx := context.Background()
	_, err := store.MarkRunning(ctx, "missing", base)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
	require.ErrorIs(t, store.MarkCompleted(ctx, "missing", base), persistence.ErrJobNotFound)
	require.ErrorIs(t, store.MarkFailed(ctx, "missing", "x", base), persistence.ErrJobNotFound)
	require.ErrorIs(t, store.Reschedule(ctx, "missing", base, "", base), persistence.ErrJobNotFound)
	_, err = store.Requeue(ctx, "missing", base, base)
	require.ErrorIs(t, err, persistence.ErrJobNotFound)
}

func RunFlowStoreSuite(t *testing.T, newStore func(t *testing.T) persistence.FlowStore) {
	t.Run("save get list delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		older := &model.Flow{
			Id:        "f1",
			Name:      "welcome",
			Nodes:     []model.Node{{Id: "n1", Type: model.BLOCK_TYPE_EMAIL_LIST, Data: model.NodeData{Emails: model.Recipients{"a@x.com"}}}},
			CreatedAt: base,
			UpdatedAt: base,
		}
		newer := &model.Flow{Id: "f2", Name: "nurture", CreatedAt: base, UpdatedAt: base.Add(time.Hour)}
		require.NoError(t, store.SaveFlow(ctx, older))
		require.NoError(t, store.SaveFlow(ctx, newer))

		got, err := store.GetFlow(ctx, "f1")
		require.NoError(t, err)
		require.Equal(t, "welcome", got.Name)
		require.Len(t, got.Nodes, 1)
		require.Equal(t, model.Recipients{"a@x.com"}, got.Nodes[0].Data.Emails)

		list, err := store.ListFlows(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "f2", list[0].Id)
		require.Equal(t, "f1", list[1].Id)

		older.Name = "welcome v2"
		require.NoError(t, store.SaveFlow(ctx, older))
		got, err = store.GetFlow(ctx, "f1")
		require.NoError(t, err)
		require.Equal(t, "welcome v2", got.Name)

		require.NoError(t, store.DeleteFlow(ctx, "f1"))
		_, err = store.GetFlow(ctx, "f1")
		require.ErrorIs(t, err, persistence.ErrFlowNotFound)
		require.ErrorIs(t, store.DeleteFlow(ctx, "f1"), persistence.ErrFlowNotFound)
	})
}
