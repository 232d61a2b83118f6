package redis

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/persistence/storetest"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	mr := miniredis.RunT(t)
	return Config{
		Addrs:     []string{mr.Addr()},
		Namespace: "test",
	}
}

func TestRedisJobStore(t *testing.T) {
	storetest.RunJobStoreSuite(t, func(t *testing.T) persistence.JobStore {
		store := NewRedisJobStore(testConfig(t))
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestRedisFlowStore(t *testing.T) {
	storetest.RunFlowStoreSuite(t, func(t *testing.T) persistence.FlowStore {
		store := NewRedisFlowStore(testConfig(t))
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func TestRedisJobStoreKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisJobStore(Config{Addrs: []string{mr.Addr()}, Namespace: "drip"})
	defer store.Close()

	ctx := context.Background()
	fireAt := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	job := &model.JobSpec{Id: uuid.NewString(), FlowId: "f1", Recipient: "a@x.com", FireAt: fireAt, State: model.SCHEDULED}
	require.NoError(t, store.InsertBatch(ctx, []*model.JobSpec{job}))

	require.True(t, mr.Exists("{drip}:JOB:"+job.Id))
	require.Equal(t, "SCHEDULED", mr.HGet("{drip}:JOB:"+job.Id, "state"))
	members, err := mr.ZMembers("{drip}:SCHEDULED")
	require.NoError(t, err)
	require.Equal(t, []string{memberOf(job)}, members)
	score, err := mr.ZScore("{drip}:SCHEDULED", memberOf(job))
	require.NoError(t, err)
	require.Equal(t, float64(fireAt.UnixMilli()), score)
	isMember, err := mr.SIsMember("{drip}:FLOW_JOBS:f1", job.Id)
	require.NoError(t, err)
	require.True(t, isMember)
}

// hashTag returns the part of a key that decides its cluster slot.
func hashTag(key string) string {
	start := strings.Index(key, "{")
	if start < 0 {
		return key
	}
	end := strings.Index(key[start+1:], "}")
	if end <= 0 {
		return key
	}
	return key[start+1 : start+1+end]
}

func TestRedisKeysShareOneSlot(t *testing.T) {
	mr := miniredis.RunT(t)
	conf := Config{Addrs: []string{mr.Addr()}, Namespace: "drip"}
	jobs := NewRedisJobStore(conf)
	defer jobs.Close()
	flows := NewRedisFlowStore(conf)
	defer flows.Close()

	ctx := context.Background()
	now := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	a := &model.JobSpec{Id: uuid.NewString(), FlowId: "f1", Recipient: "a@x.com", FireAt: now, State: model.SCHEDULED}
	b := &model.JobSpec{Id: uuid.NewString(), FlowId: "f1", Recipient: "b@x.com", FireAt: now, State: model.SCHEDULED}
	require.NoError(t, jobs.InsertBatch(ctx, []*model.JobSpec{a, b}))
	_, err := jobs.MarkRunning(ctx, a.Id, now)
	require.NoError(t, err)
	require.NoError(t, jobs.MarkFailed(ctx, a.Id, "550", now))
	_, err = jobs.CancelAll(ctx, "f1", now)
	require.NoError(t, err)
	require.NoError(t, flows.SaveFlow(ctx, &model.Flow{Id: "f1", Name: "welcome"}))

	keys := mr.Keys()
	require.NotEmpty(t, keys)
	for _, key := range keys {
		require.Equal(t, "drip", hashTag(key), key)
	}
}

func TestRedisJobStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisJobStore(Config{Addrs: []string{mr.Addr()}, Namespace: "drip"})
	defer store.Close()
	mr.Close()

	_, err := store.QueryDue(context.Background(), time.Now(), 10)
	var storageErr persistence.StorageLayerError
	require.ErrorAs(t, err, &storageErr)
	require.Error(t, store.Ping(context.Background()))
}

func TestIdsOf(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, idsOf([]string{"00000000000000000001:a", "b"}))
}
