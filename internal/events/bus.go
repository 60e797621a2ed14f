// Package events fans out notifications after committed mutations. Publishing
// happens outside the transactional write path: a slow or absent consumer
// never blocks or fails a financial operation.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds published by the lifecycle service and ledger.
const (
	KindTaskCreated     = "task.created"
	KindTaskAccepted    = "task.accepted"
	KindTaskStarted     = "task.started"
	KindTaskSubmitted   = "task.submitted"
	KindTaskCompleted   = "task.completed"
	KindTaskCancelled   = "task.cancelled"
	KindTaskDisputed    = "task.disputed"
	KindDisputeResolved = "dispute.resolved"
	KindWalletChanged   = "wallet.changed"
)

type Event struct {
	Kind   string     `json:"kind"`
	TaskID *uuid.UUID `json:"task_id,omitempty"`
	UserID *uuid.UUID `json:"user_id,omitempty"`
	At     time.Time  `json:"at"`
}

// Bus is the fan-out interface. An in-process implementation is provided; a
// broker-backed one can replace it without touching the services.
type Bus interface {
	Publish(e Event)
}

// NopBus discards everything. Used in tests and as the default.
type NopBus struct{}

func (NopBus) Publish(Event) {}

// ChannelBus delivers events to subscriber channels. Delivery is best-effort:
// a subscriber with a full buffer misses the event rather than blocking the
// publisher.
type ChannelBus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{subs: make(map[int]chan Event)}
}

func (b *ChannelBus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered event channel and a cancel func that closes it.
func (b *ChannelBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}
