package store

import (
	"encoding/json"
	"time"
)

// Source is a monitored content source plus its runtime collection status.
// The scheduler mutates the status fields after every collection attempt.
type Source struct {
	ID              string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"size:256"`
	Type            string `gorm:"index;size:32"`
	URL             string `gorm:"size:1024"`
	Enabled         bool   `gorm:"index"`
	IntervalMinutes int
	Priority        int    // 1=high, 2=normal, 3=low
	Category        string `gorm:"index;size:64"`
	TagsJSON        string `gorm:"type:text"`
	ConfigJSON      string `gorm:"type:text"`

	LastCheck         *time.Time
	LastSuccess       *time.Time
	LastError         string `gorm:"type:text"`
	ConsecutiveErrors int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tags decodes the source tag set.
func (s *Source) Tags() []string {
	return decodeStringSlice(s.TagsJSON)
}

// SetTags encodes the source tag set.
func (s *Source) SetTags(tags []string) {
	s.TagsJSON = encodeStringSlice(tags)
}

// SetConfig encodes the opaque per-source configuration map.
func (s *Source) SetConfig(cfg map[string]string) error {
	if len(cfg) == 0 {
		s.ConfigJSON = ""
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	s.ConfigJSON = string(raw)
	return nil
}

// Config decodes the opaque per-source configuration map.
func (s *Source) Config() map[string]string {
	if s.ConfigJSON == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.ConfigJSON), &m); err != nil {
		return nil
	}
	return m
}

// Item statuses. New items enter as StatusNew; user actions and batch
// learning move them through the rest.
const (
	StatusNew      = "new"
	StatusRead     = "read"
	StatusStarred  = "starred"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
	StatusIgnored  = "ignored"
)

// Item is a persisted, scored item.
type Item struct {
	ID          string `gorm:"primaryKey;size:36"`
	SourceID    string `gorm:"index;size:64"`
	GUID        string `gorm:"index;size:512"`
	ContentHash string `gorm:"index;size:64"`
	Title       string `gorm:"size:1024"`
	URL         string `gorm:"size:1024"`
	Author      string `gorm:"size:256"`
	Content     string `gorm:"type:text"`
	Summary     string `gorm:"type:text"`

	PublishedAt *time.Time
	CollectedAt time.Time `gorm:"index"`

	ImageURL      string `gorm:"size:1024"`
	MediaURLsJSON string `gorm:"type:text"`
	Language      string `gorm:"size:8"`
	KeywordsJSON  string `gorm:"type:text"`

	Score       float64 `gorm:"index"`
	Highlighted bool
	TagsJSON    string `gorm:"type:text"`
	Status      string `gorm:"index;size:16"`
}

// MediaURLs decodes the attached media url list.
func (i *Item) MediaURLs() []string {
	return decodeStringSlice(i.MediaURLsJSON)
}

// SetMediaURLs encodes the attached media url list.
func (i *Item) SetMediaURLs(urls []string) {
	i.MediaURLsJSON = encodeStringSlice(urls)
}

// Keywords decodes the extracted keyword list.
func (i *Item) Keywords() []string {
	return decodeStringSlice(i.KeywordsJSON)
}

// SetKeywords encodes the extracted keyword list.
func (i *Item) SetKeywords(keywords []string) {
	i.KeywordsJSON = encodeStringSlice(keywords)
}

// Tags decodes the filter-assigned tag set.
func (i *Item) Tags() []string {
	return decodeStringSlice(i.TagsJSON)
}

// SetTags encodes the filter-assigned tag set.
func (i *Item) SetTags(tags []string) {
	i.TagsJSON = encodeStringSlice(tags)
}

// Preference feature types.
const (
	FeatureKeyword  = "keyword"
	FeatureSource   = "source"
	FeatureCategory = "category"
	FeatureAuthor   = "author"
)

// Preference is one learned per-feature weight in [-1, 1].
type Preference struct {
	FeatureType   string  `gorm:"primaryKey;size:16"`
	FeatureValue  string  `gorm:"primaryKey;size:256"`
	Weight        float64 `gorm:"index"`
	PositiveCount int
	NegativeCount int
	LastUpdated   time.Time
}

// UserAction is one append-only feedback event on an item.
type UserAction struct {
	ID         uint      `gorm:"primaryKey"`
	ItemID     string    `gorm:"index;size:36"`
	ActionType string    `gorm:"index;size:16"`
	Signal     float64
	CreatedAt  time.Time `gorm:"index"`
}

// Alert is the persisted record of a dispatched (or suppressed) alert.
type Alert struct {
	ID         string `gorm:"primaryKey;size:36"`
	Severity   string `gorm:"index;size:16"`
	Title      string `gorm:"size:1024"`
	Message    string `gorm:"type:text"`
	ItemID     string `gorm:"index;size:36"`
	SourceID   string `gorm:"index;size:64"`
	FilterName string `gorm:"size:256"`
	TagsJSON   string `gorm:"type:text"`

	CreatedAt    time.Time `gorm:"index"`
	DispatchedAt *time.Time
	Suppressed   bool
}

// Report is one generated collection report.
type Report struct {
	ID          uint      `gorm:"primaryKey"`
	PeriodStart time.Time
	PeriodEnd   time.Time
	GeneratedAt time.Time `gorm:"index"`
	ContentJSON string    `gorm:"type:text"`
}

func encodeStringSlice(values []string) string {
	if len(values) == 0 {
		return ""
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return ""
	}
	return string(raw)
}

func decodeStringSlice(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
