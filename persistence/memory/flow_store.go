package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/mohitkumar/drip/model"
	"github.com/mohitkumar/drip/persistence"
)

var _ persistence.FlowStore = new(memoryFlowStore)

type memoryFlowStore struct {
	mu    sync.RWMutex
	flows map[string]model.Flow
}

func NewMemoryFlowStore() *memoryFlowStore {
	return &memoryFlowStore{
		flows: make(map[string]model.Flow),
	}
}

func (s *memoryFlowStore) SaveFlow(ctx context.Context, fl *model.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[fl.Id] = *fl
	return nil
}

func (s *memoryFlowStore) GetFlow(ctx context.Context, id string) (*model.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fl, ok := s.flows[id]
	if !ok {
		return nil, persistence.ErrFlowNotFound
	}
	return &fl, nil
}

func (s *memoryFlowStore) ListFlows(ctx context.Context) ([]model.FlowSummary, error) {
	s.mu.RLock()
	res := make([]model.FlowSummary, 0, len(s.flows))
	for _, fl := range s.flows {
		res = append(res, model.FlowSummary{Id: fl.Id, Name: fl.Name, UpdatedAt: fl.UpdatedAt})
	}
	s.mu.RUnlock()
	sort.Slice(res, func(i, j int) bool { return res[i].UpdatedAt.After(res[j].UpdatedAt) })
	return res, nil
}

func (s *memoryFlowStore) DeleteFlow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flows[id]; !ok {
		return persistence.ErrFlowNotFound
	}
	delete(s.flows, id)
	return nil
}
