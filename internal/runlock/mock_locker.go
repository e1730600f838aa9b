package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/attachflow/relay/internal/model"
)

// MockLocker implements Locker using an in-memory map, for dev mode and
// tests.
type MockLocker struct {
	locks       map[string]*model.RunLock
	mu          sync.Mutex
	ttlDuration time.Duration
}

// NewMockLocker creates a new MockLocker with the default TTL.
func NewMockLocker() *MockLocker {
	return &MockLocker{
		locks:       make(map[string]*model.RunLock),
		ttlDuration: DefaultTTL,
	}
}

func (m *MockLocker) Acquire(ctx context.Context, flowID, userID, requestID string) (*model.RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.locks[flowID]; ok && existing.ExpiresAt > now {
		return nil, ErrFlowRunning
	}

	lock := &model.RunLock{
		FlowID:    flowID,
		UserID:    userID,
		RequestID: requestID,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.locks[flowID] = lock
	return lock, nil
}

func (m *MockLocker) Release(ctx context.Context, flowID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[flowID]
	if !ok || existing.RequestID != requestID {
		return fmt.Errorf("run lock not found or not owned by request %s", requestID)
	}

	delete(m.locks, flowID)
	return nil
}

func (m *MockLocker) Status(ctx context.Context, flowID string) (*model.RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[flowID]
	if !ok {
		return nil, nil
	}
	if existing.ExpiresAt < time.Now().Unix() {
		return nil, nil // expired
	}
	return existing, nil
}
