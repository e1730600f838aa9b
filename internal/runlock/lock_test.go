package runlock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockLocker_AcquireAndRelease(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	lock, err := m.Acquire(ctx, "flow1", "user1", "req-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if lock.FlowID != "flow1" || lock.UserID != "user1" || lock.RequestID != "req-1" {
		t.Errorf("Lock mismatch: got %+v", lock)
	}

	if err := m.Release(ctx, "flow1", "req-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	status, _ := m.Status(ctx, "flow1")
	if status != nil {
		t.Error("Expected nil lock status after release")
	}
}

func TestMockLocker_SecondAcquireRejected(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "flow1", "user1", "req-1"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	// Even the same user may not start a second run of the same flow.
	_, err := m.Acquire(ctx, "flow1", "user1", "req-2")
	if !errors.Is(err, ErrFlowRunning) {
		t.Errorf("Expected ErrFlowRunning, got %v", err)
	}
}

func TestMockLocker_OtherFlowsUnaffected(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	m.Acquire(ctx, "flow1", "user1", "req-1")

	if _, err := m.Acquire(ctx, "flow2", "user1", "req-2"); err != nil {
		t.Errorf("Different flow should acquire independently: %v", err)
	}
}

func TestMockLocker_ExpiredLockReacquired(t *testing.T) {
	m := NewMockLocker()
	m.ttlDuration = -1 * time.Second // already expired
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "flow1", "user1", "req-1"); err != nil {
		t.Fatalf("First acquire failed: %v", err)
	}

	if _, err := m.Acquire(ctx, "flow1", "user2", "req-2"); err != nil {
		t.Errorf("Should acquire expired lock: %v", err)
	}
}

func TestMockLocker_Status_Active(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	m.Acquire(ctx, "flow1", "user1", "req-1")

	status, err := m.Status(ctx, "flow1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status == nil {
		t.Fatal("Expected non-nil lock status")
	}
	if status.RequestID != "req-1" {
		t.Errorf("Expected requestID 'req-1', got '%s'", status.RequestID)
	}
}

func TestMockLocker_Status_Nonexistent(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	status, err := m.Status(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Status unexpected error: %v", err)
	}
	if status != nil {
		t.Error("Expected nil for nonexistent lock")
	}
}

func TestMockLocker_Release_WrongRequest(t *testing.T) {
	m := NewMockLocker()
	ctx := context.Background()

	m.Acquire(ctx, "flow1", "user1", "req-1")

	if err := m.Release(ctx, "flow1", "req-other"); err == nil {
		t.Error("Expected error when releasing lock owned by another request")
	}
}
