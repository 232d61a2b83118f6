package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
)

var _ persistence.JobStore = new(memoryJobStore)

// memoryJobStore keeps jobs in process memory. It honours the same state
// machine as the durable stores and is used for tests and single process runs.
type memoryJobStore struct {
	mu     sync.Mutex
	jobs   map[string]*model.JobSpec
	byFlow map[string]map[string]bool
	seq    int64
}

func NewMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{
		jobs:   make(map[string]*model.JobSpec),
		byFlow: make(map[string]map[string]bool),
	}
}

func (s *memoryJobStore) InsertBatch(ctx context.Context, jobs []*model.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		if _, ok := s.jobs[job.Id]; ok {
			return persistence.StorageLayerError{Message: "duplicate job id " + job.Id}
		}
	}
	for _, job := range jobs {
		s.seq++
		job.Seq = s.seq
		s.jobs[job.Id] = job.Clone()
		if _, ok := s.byFlow[job.FlowId]; !ok {
			s.byFlow[job.FlowId] = make(map[string]bool)
		}
		s.byFlow[job.FlowId][job.Id] = true
	}
	return nil
}

func (s *memoryJobStore) MarkRunning(ctx context.Context, id string, now time.Time) (*model.JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}
	if job.State != model.SCHEDULED {
		return nil, persistence.ErrAlreadyClaimed
	}
	job.State = model.RUNNING
	job.ClaimedAt = now
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (s *memoryJobStore) MarkCompleted(ctx context.Context, id string, now time.Time) error {
	return s.finish(id, model.COMPLETED, "", now)
}

func (s *memoryJobStore) MarkFailed(ctx context.Context, id string, reason string, now time.Time) error {
	return s.finish(id, model.FAILED, reason, now)
}

func (s *memoryJobStore) finish(id string, state model.JobState, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return persistence.ErrJobNotFound
	}
	if job.State != model.RUNNING {
		return persistence.ErrInvalidTransition
	}
	job.State = state
	job.AttemptCount++
	job.FinishedAt = now
	job.UpdatedAt = now
	if len(reason) != 0 {
		job.LastError = reason
	}
	return nil
}

func (s *memoryJobStore) Reschedule(ctx context.Context, id string, fireAt time.Time, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return persistence.ErrJobNotFound
	}
	switch job.State {
	case model.RUNNING:
		job.AttemptCount++
	case model.FAILED:
		job.AttemptCount = 0
	default:
		return persistence.ErrInvalidTransition
	}
	job.State = model.SCHEDULED
	job.FireAt = fireAt
	job.ClaimedAt = time.Time{}
	job.FinishedAt = time.Time{}
	job.UpdatedAt = now
	if len(reason) != 0 {
		job.LastError = reason
	}
	return nil
}

func (s *memoryJobStore) CancelAll(ctx context.Context, flowId string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id := range s.byFlow[flowId] {
		job := s.jobs[id]
		if job.State.IsTerminal() {
			continue
		}
		job.State = model.CANCELLED
		job.FinishedAt = now
		job.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *memoryJobStore) QueryDue(ctx context.Context, now time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(limit, func(j *model.JobSpec) bool {
		return j.State == model.SCHEDULED && !j.FireAt.After(now)
	}, func(a, b *model.JobSpec) bool {
		if !a.FireAt.Equal(b.FireAt) {
			return a.FireAt.Before(b.FireAt)
		}
		return a.Seq < b.Seq
	}), nil
}

func (s *memoryJobStore) QueryStale(ctx context.Context, claimedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(limit, func(j *model.JobSpec) bool {
		return j.State == model.RUNNING && !j.ClaimedAt.After(claimedBefore)
	}, func(a, b *model.JobSpec) bool {
		return a.ClaimedAt.Before(b.ClaimedAt)
	}), nil
}

func (s *memoryJobStore) Requeue(ctx context.Context, id string, claimedBefore time.Time, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, persistence.ErrJobNotFound
	}
	if job.State != model.RUNNING || job.ClaimedAt.After(claimedBefore) {
		return false, nil
	}
	job.State = model.SCHEDULED
	job.AttemptCount++
	job.FireAt = now
	job.ClaimedAt = time.Time{}
	job.UpdatedAt = now
	job.LastError = "stale claim requeued"
	return true, nil
}

func (s *memoryJobStore) QueryExpired(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.JobSpec, error) {
	return s.query(limit, func(j *model.JobSpec) bool {
		return j.State.IsTerminal() && !j.FinishedAt.After(finishedBefore)
	}, func(a, b *model.JobSpec) bool {
		return a.FinishedAt.Before(b.FinishedAt)
	}), nil
}

func (s *memoryJobStore) Purge(ctx context.Context, jobs []*model.JobSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		stored, ok := s.jobs[job.Id]
		if !ok || !stored.State.IsTerminal() {
			continue
		}
		delete(s.jobs, job.Id)
		if ids, ok := s.byFlow[job.FlowId]; ok {
			delete(ids, job.Id)
			if len(ids) == 0 {
				delete(s.byFlow, job.FlowId)
			}
		}
	}
	return nil
}

func (s *memoryJobStore) Get(ctx context.Context, id string) (*model.JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *memoryJobStore) ListByFlow(ctx context.Context, flowId string) ([]*model.JobSpec, error) {
	s.mu.Lock()
	ids := s.byFlow[flowId]
	res := make([]*model.JobSpec, 0, len(ids))
	for id := range ids {
		res = append(res, s.jobs[id].Clone())
	}
	s.mu.Unlock()
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (s *memoryJobStore) ListByState(ctx context.Context, state model.JobState, limit int) ([]*model.JobSpec, error) {
	return s.query(limit, func(j *model.JobSpec) bool {
		return j.State == state
	}, func(a, b *model.JobSpec) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	}), nil
}

func (s *memoryJobStore) Ping(ctx context.Context) error {
	return nil
}

func (s *memoryJobStore) query(limit int, match func(*model.JobSpec) bool, less func(a, b *model.JobSpec) bool) []*model.JobSpec {
	s.mu.Lock()
	res := make([]*model.JobSpec, 0)
	for _, job := range s.jobs {
		if match(job) {
			res = append(res, job.Clone())
		}
	}
	s.mu.Unlock()
	sort.SliceStable(res, func(i, j int) bool { return less(res[i], res[j]) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res
}
