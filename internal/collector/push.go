package collector

import (
	"context"
	"sync"

	"horse.fit/sentinel/internal/store"
)

// PushSourceType is the source type served by the push buffer.
const PushSourceType = "push"

// PushBuffer holds externally submitted items per source until the next
// collection run for that source drains them. It backs the HTTP ingest
// endpoint. Safe for concurrent use.
type PushBuffer struct {
	mu     sync.Mutex
	queues map[string][]Item
}

func NewPushBuffer() *PushBuffer {
	return &PushBuffer{queues: map[string][]Item{}}
}

// Enqueue appends items to the source's queue and returns the new depth.
func (b *PushBuffer) Enqueue(sourceID string, items ...Item) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[sourceID] = append(b.queues[sourceID], items...)
	return len(b.queues[sourceID])
}

// Drain removes and returns everything queued for the source.
func (b *PushBuffer) Drain(sourceID string) []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.queues[sourceID]
	delete(b.queues, sourceID)
	return items
}

// Factory satisfies the registry contract for the push source type.
func (b *PushBuffer) Factory(source *store.Source) (Collector, error) {
	return &pushCollector{buffer: b, sourceID: source.ID}, nil
}

type pushCollector struct {
	buffer   *PushBuffer
	sourceID string
}

func (c *pushCollector) Collect(ctx context.Context, emit func(Item) error) error {
	for _, item := range c.buffer.Drain(c.sourceID) {
		if err := ctx.Err(); err != nil {
			return NewError(c.sourceID, err)
		}
		if err := emit(item); err != nil {
			return err
		}
	}
	return nil
}
