package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/attachflow/relay/internal/model"
)

// MemoryStore implements Store on in-memory maps, for dev mode and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	flows map[string]model.FlowConfig // keyed by flow id
	runs  []model.FlowRun
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flows: make(map[string]model.FlowConfig)}
}

func (s *MemoryStore) CreateFlow(_ context.Context, flow *model.FlowConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now
	s.flows[flow.ID] = *flow
	return nil
}

func (s *MemoryStore) GetFlow(_ context.Context, userID, flowID string) (*model.FlowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flow, ok := s.flows[flowID]
	if !ok || flow.UserID != userID {
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

func (s *MemoryStore) ListFlows(_ context.Context, userID string) ([]model.FlowConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flows []model.FlowConfig
	for _, flow := range s.flows {
		if flow.UserID == userID {
			flows = append(flows, flow)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		return flows[i].CreatedAt.After(flows[j].CreatedAt)
	})
	return flows, nil
}

func (s *MemoryStore) UpdateFlow(_ context.Context, flow *model.FlowConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flows[flow.ID]
	if !ok || existing.UserID != flow.UserID {
		return ErrFlowNotFound
	}
	flow.CreatedAt = existing.CreatedAt
	flow.UpdatedAt = time.Now().UTC()
	s.flows[flow.ID] = *flow
	return nil
}

func (s *MemoryStore) DeleteFlow(_ context.Context, userID, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.flows[flowID]
	if !ok || existing.UserID != userID {
		return ErrFlowNotFound
	}
	delete(s.flows, flowID)
	return nil
}

func (s *MemoryStore) RecordRun(_ context.Context, run *model.FlowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].RequestID == run.RequestID {
			s.runs[i] = *run
			return nil
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryStore) ListRuns(_ context.Context, userID, flowID string, limit int) ([]model.FlowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var runs []model.FlowRun
	for _, run := range s.runs {
		if run.FlowID == flowID && run.UserID == userID {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].FinishedAt.After(runs[j].FinishedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
