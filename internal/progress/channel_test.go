package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/attachflow/relay/internal/model"
)

func event(requestID, status string, pct int) model.ProgressEvent {
	return model.ProgressEvent{
		Type:      "status_update",
		Status:    status,
		RequestID: requestID,
		Timestamp: time.Now(),
		Data:      &model.ProgressData{Percentage: pct},
	}
}

func TestChannel_SubscribeAndIngest(t *testing.T) {
	c := NewChannel(DefaultRetention)
	ch, unsubscribe := c.Subscribe("req-1")
	defer unsubscribe()

	c.Ingest(event("req-1", model.ProgressStarted, 0))

	select {
	case ev := <-ch:
		if ev.Status != model.ProgressStarted {
			t.Errorf("expected started, got %s", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestChannel_GetProgressReflectsLastIngested(t *testing.T) {
	c := NewChannel(time.Minute)

	// Out-of-order and duplicate delivery must not crash and the last
	// ingested event wins.
	c.Ingest(event("req-2", model.ProgressProcessing, 50))
	c.Ingest(event("req-2", model.ProgressCompleted, 100))
	c.Ingest(event("req-2", model.ProgressProcessing, 80))

	latest := c.GetProgress("req-2")
	if latest == nil {
		t.Fatal("expected retained progress")
	}
	if latest.Status != model.ProgressProcessing || latest.Data.Percentage != 80 {
		t.Errorf("expected last-ingested event, got %+v", latest)
	}
}

func TestChannel_UnknownRequestDroppedSilently(t *testing.T) {
	c := NewChannel(time.Minute)
	_, unsubscribe := c.Subscribe("req-3")
	unsubscribe()

	// Must not panic or deliver.
	c.Ingest(event("req-3", model.ProgressProcessing, 10))
	c.Ingest(event("", model.ProgressProcessing, 10))
}

func TestChannel_UnsubscribeIsIdempotent(t *testing.T) {
	c := NewChannel(time.Minute)
	_, unsubscribe := c.Subscribe("req-4")
	unsubscribe()
	unsubscribe()
	unsubscribe()
}

func TestChannel_GetProgressUnknownID(t *testing.T) {
	c := NewChannel(time.Minute)
	if got := c.GetProgress("nope"); got != nil {
		t.Errorf("expected nil for unknown id, got %+v", got)
	}
}

func TestChannel_EvictionAfterTerminal(t *testing.T) {
	c := NewChannel(20 * time.Millisecond)

	c.Ingest(event("req-5", model.ProgressProcessing, 40))
	c.Ingest(event("req-5", model.ProgressCompleted, 100))

	// Still readable inside the grace period.
	if got := c.GetProgress("req-5"); got == nil || got.Status != model.ProgressCompleted {
		t.Fatalf("expected terminal event within grace period, got %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.GetProgress("req-5") == nil {
			if c.Len() != 0 {
				t.Errorf("expected empty registry after eviction, got %d", c.Len())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("state was not evicted after the terminal grace period")
}

func TestChannel_SlowSubscriberDoesNotBlockIngest(t *testing.T) {
	c := NewChannel(time.Minute)
	_, unsubscribe := c.Subscribe("req-6")
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		// Nobody drains the subscription; ingest far more than the buffer.
		for i := 0; i < subscriberBuffer*4; i++ {
			c.Ingest(event("req-6", model.ProgressProcessing, i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingest blocked on a slow subscriber")
	}
}

func TestChannel_IngestDuringTeardown(t *testing.T) {
	c := NewChannel(time.Minute)

	// Deliveries racing subscriber teardown must be dropped, never panic.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.Ingest(event("req-x", model.ProgressProcessing, 1))
				}
			}
		}()
	}
	for i := 0; i < 500; i++ {
		_, unsubscribe := c.Subscribe("req-x")
		unsubscribe()
	}
	close(stop)
	wg.Wait()
}

func TestChannel_ResubscribeReplacesSubscriber(t *testing.T) {
	c := NewChannel(time.Minute)
	old, unsubOld := c.Subscribe("req-8")
	defer unsubOld()
	cur, unsubCur := c.Subscribe("req-8")
	defer unsubCur()

	c.Ingest(event("req-8", model.ProgressProcessing, 25))

	select {
	case ev := <-cur:
		if ev.Data.Percentage != 25 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("current subscriber received nothing")
	}
	select {
	case ev := <-old:
		t.Errorf("replaced subscriber still receives events: %+v", ev)
	default:
	}
}

func TestChannel_ConcurrentIngestAndRead(t *testing.T) {
	c := NewChannel(time.Minute)
	ch, unsubscribe := c.Subscribe("req-7")
	defer unsubscribe()

	go func() {
		for i := 0; i < 100; i++ {
			c.Ingest(event("req-7", model.ProgressProcessing, i))
		}
		c.Ingest(event("req-7", model.ProgressCompleted, 100))
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Terminal() {
				return
			}
		case <-deadline:
			t.Fatal("terminal event never observed")
		}
	}
}
