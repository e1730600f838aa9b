// Package progress implements the in-process pub/sub registry that routes
// webhook progress events to interested subscribers, keyed by request id.
package progress

import (
	"sync"
	"time"

	"github.com/attachflow/relay/internal/model"
)

// DefaultRetention is how long state for a request id is kept after its
// terminal event, so a final read can still complete before eviction.
const DefaultRetention = 5 * time.Second

// subscriberBuffer bounds per-subscriber queueing. Delivery is best-effort:
// when a subscriber is not draining, newer events overwrite the backlog
// rather than blocking the webhook receiver.
const subscriberBuffer = 16

type entry struct {
	latest *model.ProgressEvent
	ch     chan model.ProgressEvent
	evict  *time.Timer
}

// Channel is a bounded per-request-id cache plus subscriber registry. Events
// for ids nobody ever subscribed to are still cached for polling reads and
// evicted on the same schedule.
type Channel struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
}

// NewChannel creates a Channel with the given post-terminal retention.
// retention <= 0 uses DefaultRetention.
func NewChannel(retention time.Duration) *Channel {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Channel{
		entries:   make(map[string]*entry),
		retention: retention,
	}
}

// Subscribe registers interest in events for requestID. The returned channel
// receives every event ingested while the subscription is live. One
// subscriber per request id: a re-subscribe replaces the previous channel,
// which simply stops receiving. The returned unsubscribe func stops delivery;
// calling it more than once is safe.
func (c *Channel) Subscribe(requestID string) (<-chan model.ProgressEvent, func()) {
	c.mu.Lock()
	e := c.entries[requestID]
	if e == nil {
		e = &entry{}
		c.entries[requestID] = e
	}
	ch := make(chan model.ProgressEvent, subscriberBuffer)
	e.ch = ch
	c.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			cur, ok := c.entries[requestID]
			if !ok || cur.ch != ch {
				return
			}
			cur.ch = nil
			if cur.latest == nil {
				c.removeLocked(requestID, cur)
			}
		})
	}
	return ch, unsubscribe
}

// Ingest records the event as the latest state for its request id and routes
// it to the matching subscriber, if any; without a subscriber the event is
// only cached for polling reads. Out-of-order and duplicate events are
// accepted as-is; the latest-ingested event wins.
func (c *Channel) Ingest(event model.ProgressEvent) {
	if event.RequestID == "" {
		return
	}

	c.mu.Lock()
	e := c.entries[event.RequestID]
	if e == nil {
		e = &entry{}
		c.entries[event.RequestID] = e
	}

	ev := event
	e.latest = &ev

	if ev.Terminal() && e.evict == nil {
		id := event.RequestID
		e.evict = time.AfterFunc(c.retention, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if cur, ok := c.entries[id]; ok {
				c.removeLocked(id, cur)
			}
		})
	}
	if e.ch != nil {
		// Delivered while holding the lock so subscriber teardown cannot
		// race the send.
		deliver(e.ch, ev)
	}
	c.mu.Unlock()
}

// deliver performs a non-blocking send; a full buffer sheds the oldest event
// first.
func deliver(ch chan model.ProgressEvent, ev model.ProgressEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
			default:
				return
			}
		}
	}
}

// GetProgress returns the most recently ingested event for requestID, or nil
// if none is retained. It never blocks.
func (c *Channel) GetProgress(requestID string) *model.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[requestID]; ok {
		return e.latest
	}
	return nil
}

// Len reports how many request ids currently hold state, for tests and
// health reporting.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked drops an entry. Subscriber channels are never closed; an
// abandoned channel is just garbage collected once its readers let go.
func (c *Channel) removeLocked(id string, e *entry) {
	if e.evict != nil {
		e.evict.Stop()
	}
	delete(c.entries, id)
}
