package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
	"github.com/mohitkumar/drip/util"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const JOB string = "JOB"
const FLOW_JOBS string = "FLOW_JOBS"
const SCHEDULED_INDEX string = "SCHEDULED"
const RUNNING_INDEX string = "RUNNING"
const TERMINAL_INDEX string = "TERMINAL"
const FAILED_INDEX string = "FAILED"
const JOB_SEQ string = "JOB_SEQ"

const staleRequeueReason = "stale claim requeued"

var _ persistence.JobStore = new(redisJobStore)

// redisJobStore keeps each job in a hash. The immutable part is stored as
// JSON under "spec" and the lifecycle fields are kept as separate hash fields
// so scripts can update them in place. Times are unix nanoseconds in the hash
// and unix milliseconds as sorted set scores.
//
// SCHEDULED is scored by fireAt with members "<seq>:<id>", so ties on fireAt
// come back in insertion order. RUNNING is scored by claimedAt, TERMINAL and
// FAILED by finishedAt.
type redisJobStore struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.JobSpec]
}

func NewRedisJobStore(conf Config) *redisJobStore {
	return &redisJobStore{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.JobSpec](),
	}
}

func (s *redisJobStore) jobKey(id string) string {
	return s.getNamespaceKey(JOB, id)
}

func (s *redisJobStore) InsertBatch(ctx context.Context, jobs []*model.JobSpec) error {
	if len(jobs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(jobs))
	for _, job := range jobs {
		keys = append(keys, s.jobKey(job.Id))
	}
	existing, err := s.redisClient.Exists(ctx, keys...).Result()
	if err != nil {
		return s.storageError("error checking job ids", err)
	}
	if existing > 0 {
		return persistence.StorageLayerError{Message: "duplicate job id in batch"}
	}

	last, err := s.redisClient.IncrBy(ctx, s.getNamespaceKey(JOB_SEQ), int64(len(jobs))).Result()
	if err != nil {
		return s.storageError("error reserving job sequence", err)
	}
	first := last - int64(len(jobs)) + 1
	for i, job := range jobs {
		job.Seq = first + int64(i)
	}

	_, err = s.redisClient.TxPipelined(ctx, func(pipe rd.Pipeliner) error {
		for _, job := range jobs {
			data, err := s.encoderDecoder.Encode(*job)
			if err != nil {
				return err
			}
			member := memberOf(job)
			pipe.HSet(ctx, s.jobKey(job.Id), map[string]interface{}{
				"spec":       string(data),
				"member":     member,
				"state":      string(job.State),
				"attempt":    job.AttemptCount,
				"fireAt":     nanos(job.FireAt),
				"claimedAt":  nanos(job.ClaimedAt),
				"finishedAt": nanos(job.FinishedAt),
				"updatedAt":  nanos(job.UpdatedAt),
				"lastError":  job.LastError,
			})
			pipe.ZAdd(ctx, s.getNamespaceKey(SCHEDULED_INDEX), rd.Z{Score: millis(job.FireAt), Member: member})
			pipe.SAdd(ctx, s.getNamespaceKey(FLOW_JOBS, job.FlowId), job.Id)
		}
		return nil
	})
	if err != nil {
		return s.storageError("error inserting jobs", err, zap.Int("count", len(jobs)))
	}
	return nil
}

func (s *redisJobStore) MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobSpec, error) {
	keys := []string{s.jobKey(id), s.getNamespaceKey(SCHEDULED_INDEX), s.getNamespaceKey(RUNNING_INDEX)}
	res, err := claimScript.Run(ctx, s.redisClient, keys, nanos(now), millis(now), id).Int()
	if err != nil {
		return nil, s.storageError("error claiming job", err, zap.String("job", id))
	}
	switch res {
	case -1:
		return nil, persistence.ErrJobNotFound
	case 0:
		return nil, persistence.ErrAlreadyClaimed
	}
	return s.Get(ctx, id)
}

func (s *redisJobStore) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.finish(ctx, id, model.COMPLETED, "", now)
}

func (s *redisJobStore) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	return s.finish(ctx, id, model.FAILED, reason, now)
}

func (s *redisJobStore) finish(ctx context.Context, id string, state model.JobState, reason string, now time.Time) error {
	keys := []string{
		s.jobKey(id),
		s.getNamespaceKey(RUNNING_INDEX),
		s.getNamespaceKey(TERMINAL_INDEX),
		s.getNamespaceKey(FAILED_INDEX),
	}
	res, err := finishScript.Run(ctx, s.redisClient, keys, nanos(now), millis(now), string(state), reason, id).Int()
	if err != nil {
		return s.storageError("error finishing job", err, zap.String("job", id), zap.String("state", string(state)))
	}
	return transitionResult(res)
}

func (s *redisJobStore) Reschedule(ctx context.Context, id string, fireAt time.Time, reason string, now time.Time) error {
	keys := []string{
		s.jobKey(id),
		s.getNamespaceKey(RUNNING_INDEX),
		s.getNamespaceKey(SCHEDULED_INDEX),
		s.getNamespaceKey(TERMINAL_INDEX),
		s.getNamespaceKey(FAILED_INDEX),
	}
	res, err := rescheduleScript.Run(ctx, s.redisClient, keys, nanos(now), nanos(fireAt), millis(fireAt), reason, id).Int()
	if err != nil {
		return s.storageError("error rescheduling job", err, zap.String("job", id))
	}
	return transitionResult(res)
}

func (s *redisJobStore) CancelAll(ctx context.Context, flowId string, now time.Time) (int, error) {
	keys := []string{
		s.getNamespaceKey(FLOW_JOBS, flowId),
		s.getNamespaceKey(SCHEDULED_INDEX),
		s.getNamespaceKey(RUNNING_INDEX),
		s.getNamespaceKey(TERMINAL_INDEX),
	}
	count, err := cancelScript.Run(ctx, s.redisClient, keys, nanos(now), millis(now), s.jobKey("")).Int()
	if err != nil {
		return 0, s.storageError("error cancelling flow jobs", err, zap.String("flow", flowId))
	}
	return count, nil
}

func (s *redisJobStore) QueryDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSpec, error) {
	members, err := s.rangeByScore(ctx, SCHEDULED_INDEX, now, limit)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, idsOf(members), func(j *model.JobSpec) bool { return j.State == model.SCHEDULED })
}

func (s *redisJobStore) QueryStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	ids, err := s.rangeByScore(ctx, RUNNING_INDEX, claimedBefore, limit)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, ids, func(j *model.JobSpec) bool { return j.State == model.RUNNING })
}

func (s *redisJobStore) Requeue(ctx context.Context, id string, claimedBefore time.Time, now time.Time) (bool, error) {
	keys := []string{s.jobKey(id), s.getNamespaceKey(RUNNING_INDEX), s.getNamespaceKey(SCHEDULED_INDEX)}
	res, err := requeueScript.Run(ctx, s.redisClient, keys, nanos(now), millis(now), millis(claimedBefore), id, staleRequeueReason).Int()
	if err != nil {
		return false, s.storageError("error requeueing job", err, zap.String("job", id))
	}
	if res == -1 {
		return false, persistence.ErrJobNotFound
	}
	return res == 1, nil
}

func (s *redisJobStore) QueryExpired(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	ids, err := s.rangeByScore(ctx, TERMINAL_INDEX, finishedBefore, limit)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, ids, func(j *model.JobSpec) bool { return j.State.IsTerminal() })
}

func (s *redisJobStore) Purge(ctx context.Context, jobs []*model.JobSpec) error {
	for _, job := range jobs {
		keys := []string{
			s.jobKey(job.Id),
			s.getNamespaceKey(TERMINAL_INDEX),
			s.getNamespaceKey(FAILED_INDEX),
			s.getNamespaceKey(FLOW_JOBS, job.FlowId),
		}
		if err := purgeScript.Run(ctx, s.redisClient, keys, job.Id).Err(); err != nil {
			return s.storageError("error purging job", err, zap.String("job", job.Id))
		}
	}
	return nil
}

func (s *redisJobStore) Get(ctx context.Context, id string) (*model.JobSpec, error) {
	fields, err := s.redisClient.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, s.storageError("error reading job", err, zap.String("job", id))
	}
	if len(fields) == 0 {
		return nil, persistence.ErrJobNotFound
	}
	return s.decode(fields)
}

func (s *redisJobStore) ListByFlow(ctx context.Context, flowId string) ([]*model.JobSpec, error) {
	ids, err := s.redisClient.SMembers(ctx, s.getNamespaceKey(FLOW_JOBS, flowId)).Result()
	if err != nil {
		return nil, s.storageError("error listing flow jobs", err, zap.String("flow", flowId))
	}
	jobs, err := s.fetch(ctx, ids, nil)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })
	return jobs, nil
}

func (s *redisJobStore) ListByState(ctx context.Context, state model.JobState, limit int) ([]*model.JobSpec, error) {
	var index string
	switch state {
	case model.SCHEDULED:
		index = SCHEDULED_INDEX
	case model.RUNNING:
		index = RUNNING_INDEX
	case model.FAILED:
		index = FAILED_INDEX
	case model.COMPLETED, model.CANCELLED:
		index = TERMINAL_INDEX
	default:
		return nil, fmt.Errorf("unknown job state %s", state)
	}
	members, err := s.redisClient.ZRange(ctx, s.getNamespaceKey(index), 0, -1).Result()
	if err != nil {
		return nil, s.storageError("error listing jobs by state", err, zap.String("state", string(state)))
	}
	if index == SCHEDULED_INDEX {
		members = idsOf(members)
	}
	jobs, err := s.fetch(ctx, members, func(j *model.JobSpec) bool { return j.State == state })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt) })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *redisJobStore) Ping(ctx context.Context) error {
	return s.redisClient.Ping(ctx).Err()
}

func (s *redisJobStore) rangeByScore(ctx context.Context, index string, max time.Time, limit int) ([]string, error) {
	opt := &rd.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(max.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	key := s.getNamespaceKey(index)
	res, err := s.redisClient.ZRangeByScore(ctx, key, opt).Result()
	if err != nil && !errors.Is(err, rd.Nil) {
		return nil, s.storageError("error reading index", err, zap.String("index", key))
	}
	return res, nil
}

// fetch loads jobs in one pipeline. Ids whose hash is gone are skipped, as are
// jobs rejected by keep.
func (s *redisJobStore) fetch(ctx context.Context, ids []string, keep func(*model.JobSpec) bool) ([]*model.JobSpec, error) {
	if len(ids) == 0 {
		return []*model.JobSpec{}, nil
	}
	pipe := s.redisClient.Pipeline()
	cmds := make([]*rd.MapStringStringCmd, 0, len(ids))
	for _, id := range ids {
		cmds = append(cmds, pipe.HGetAll(ctx, s.jobKey(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, s.storageError("error reading jobs", err, zap.Int("count", len(ids)))
	}
	res := make([]*model.JobSpec, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		job, err := s.decode(fields)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(job) {
			res = append(res, job)
		}
	}
	return res, nil
}

func (s *redisJobStore) decode(fields map[string]string) (*model.JobSpec, error) {
	job, err := s.encoderDecoder.Decode([]byte(fields["spec"]))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "corrupt job payload: " + err.Error()}
	}
	attempt, _ := strconv.Atoi(fields["attempt"])
	job.State = model.JobState(fields["state"])
	job.AttemptCount = attempt
	job.FireAt = fromNanos(fields["fireAt"])
	job.ClaimedAt = fromNanos(fields["claimedAt"])
	job.FinishedAt = fromNanos(fields["finishedAt"])
	job.UpdatedAt = fromNanos(fields["updatedAt"])
	job.LastError = fields["lastError"]
	return job, nil
}

func transitionResult(res int) error {
	switch res {
	case -1:
		return persistence.ErrJobNotFound
	case 0:
		return persistence.ErrInvalidTransition
	}
	return nil
}

func memberOf(job *model.JobSpec) string {
	return fmt.Sprintf("%020d:%s", job.Seq, job.Id)
}

func idsOf(members []string) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		_, id, found := strings.Cut(m, ":")
		if !found {
			id = m
		}
		ids = append(ids, id)
	}
	return ids
}

func nanos(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func millis(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func fromNanos(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
