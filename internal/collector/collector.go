// Package collector defines the boundary between source-specific fetchers
// and the processing pipeline. Concrete collectors live behind the Collector
// interface and are looked up by source type through a registry.
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"horse.fit/sentinel/internal/store"
)

// Item is a normalized item produced by a collector. It is immutable once
// produced; the pipeline stage currently processing it owns it.
type Item struct {
	GUID        string            `json:"guid"`
	Title       string            `json:"title"`
	URL         string            `json:"url,omitempty"`
	Author      string            `json:"author,omitempty"`
	Content     string            `json:"content,omitempty"`
	Summary     string            `json:"summary,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	CollectedAt time.Time         `json:"collected_at"`
	ImageURL    string            `json:"image_url,omitempty"`
	MediaURLs   []string          `json:"media_urls,omitempty"`
	Language    string            `json:"language,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// ContentHash returns the normalized digest of the item's textual fields,
// used as the secondary dedup key across sources and guids.
func (i Item) ContentHash() string {
	return HashContent(i.Title, i.Content, i.Summary)
}

// Collector produces a stream of normalized items for one source. Collect
// calls emit once per item, stops on normal exhaustion, and returns a
// *collector.Error on unrecoverable fetch or parse failures. A non-nil error
// from emit aborts the stream.
type Collector interface {
	Collect(ctx context.Context, emit func(Item) error) error
}

// Factory builds a collector bound to one source.
type Factory func(source *store.Source) (Collector, error)

// Error is an unrecoverable collection failure, tagged with the source it
// belongs to so the scheduler can record it on the right status row.
type Error struct {
	SourceID string
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collector failed for source %s: %v", e.SourceID, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError wraps cause as a collector failure for the given source.
func NewError(sourceID string, cause error) *Error {
	return &Error{SourceID: sourceID, Cause: cause}
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates a source type with a collector factory. Later
// registrations for the same type win.
func Register(sourceType string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[sourceType] = factory
}

// ForSource builds a collector for the source's type.
func ForSource(source *store.Source) (Collector, error) {
	if source == nil {
		return nil, fmt.Errorf("source is nil")
	}

	registryMu.RLock()
	factory, ok := registry[source.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no collector registered for source type %q", source.Type)
	}
	return factory(source)
}

// RegisteredTypes lists the source types with registered collectors.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for sourceType := range registry {
		types = append(types, sourceType)
	}
	sort.Strings(types)
	return types
}
