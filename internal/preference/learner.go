// Package preference learns long-term user preferences from interaction
// feedback and supplies the scorer's preference term.
package preference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/sentinel/internal/config"
	"horse.fit/sentinel/internal/globaltime"
	"horse.fit/sentinel/internal/store"
)

// ActionSignals maps action types to their fixed learning signal.
var ActionSignals = map[string]float64{
	"star":    1.0,
	"archive": 0.5,
	"read":    0.3,
	"delete":  -0.8,
	"ignore":  -0.2,
}

var actionStatus = map[string]string{
	"star":    store.StatusStarred,
	"archive": store.StatusArchived,
	"read":    store.StatusRead,
	"delete":  store.StatusDeleted,
	"ignore":  store.StatusIgnored,
}

var (
	ErrUnknownAction = errors.New("unknown action type")
	ErrItemNotFound  = errors.New("item not found")
)

// pruneThreshold is the decayed weight magnitude below which a preference
// is forgotten.
const pruneThreshold = 0.01

// implicitIgnoreAge is how long an item may sit unread before batch
// learning treats it as ignored.
const implicitIgnoreAge = 48 * time.Hour

// Store is the persistence surface the learner needs.
type Store interface {
	GetItem(ctx context.Context, id string) (*store.Item, error)
	UpdateItemStatus(ctx context.Context, id, status string) error
	GetSource(ctx context.Context, id string) (*store.Source, error)
	AppendAction(ctx context.Context, action *store.UserAction) error
	CountActions(ctx context.Context) (int64, error)
	HasAction(ctx context.Context, itemID, actionType string) (bool, error)
	UpsertPreference(ctx context.Context, pref *store.Preference) error
	ListPreferences(ctx context.Context) ([]store.Preference, error)
	DeletePreference(ctx context.Context, featureType, featureValue string) error
	ListUnreadBefore(ctx context.Context, before time.Time, limit int) ([]store.Item, error)
}

type weightEntry struct {
	Weight        float64
	PositiveCount int
	NegativeCount int
	LastUpdated   time.Time
}

// Learner holds the preference weights. Scoring reads go through a sync.Map
// so they never wait on writers; each key is updated last-write-wins, which
// matches the persistence contract.
type Learner struct {
	cfg    config.LearningConfig
	store  Store
	logger zerolog.Logger

	weights     sync.Map // featureKey -> weightEntry
	actionCount int64
	countMu     sync.Mutex

	loadMu sync.Mutex
	loaded bool
}

// NewLearner builds a learner; weights are loaded from the store on first
// use.
func NewLearner(cfg config.LearningConfig, st Store, logger zerolog.Logger) *Learner {
	return &Learner{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "preference").Logger(),
	}
}

// RecordAction records one user action on an item and folds its features
// into the stored weights with an EMA update.
func (l *Learner) RecordAction(ctx context.Context, itemID, actionType string) error {
	if !l.cfg.Enabled {
		return nil
	}

	signal, ok := ActionSignals[actionType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
	}

	if err := l.ensureLoaded(ctx); err != nil {
		return err
	}

	item, err := l.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
		}
		return fmt.Errorf("load item %s: %w", itemID, err)
	}

	now := globaltime.UTC()
	if err := l.store.AppendAction(ctx, &store.UserAction{
		ItemID:     itemID,
		ActionType: actionType,
		Signal:     signal,
		CreatedAt:  now,
	}); err != nil {
		return err
	}

	if status, ok := actionStatus[actionType]; ok {
		if err := l.store.UpdateItemStatus(ctx, itemID, status); err != nil {
			l.logger.Warn().Err(err).Str("item_id", itemID).Msg("item status update failed")
		}
	}

	source, err := l.store.GetSource(ctx, item.SourceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		l.logger.Warn().Err(err).Str("source_id", item.SourceID).Msg("source lookup failed")
	}

	for _, feature := range ItemFeatures(item, source, l.cfg.MaxFeaturesPerAction) {
		if err := l.updateWeight(ctx, feature, signal, now); err != nil {
			return err
		}
	}

	l.countMu.Lock()
	l.actionCount++
	l.countMu.Unlock()

	l.logger.Debug().
		Str("item_id", itemID).
		Str("action", actionType).
		Float64("signal", signal).
		Msg("recorded action")
	return nil
}

// Score returns the preference contribution for an item with the given
// features: the average of all matching weights scaled by the configured
// maximum. It returns 0 while the recorded-action count is below the
// cold-start threshold. A slightly stale weight read is acceptable; this
// path never waits on writers.
func (l *Learner) Score(ctx context.Context, features []Feature) float64 {
	if !l.cfg.Enabled || len(features) == 0 {
		return 0
	}
	if err := l.ensureLoaded(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("preference load failed, scoring without preferences")
		return 0
	}

	l.countMu.Lock()
	total := l.actionCount
	l.countMu.Unlock()
	if total < int64(l.cfg.MinActionsRequired) {
		return 0
	}

	sum := 0.0
	matched := 0
	for _, feature := range features {
		if raw, ok := l.weights.Load(featureKey(feature)); ok {
			sum += raw.(weightEntry).Weight
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	return (sum / float64(matched)) * l.cfg.MaxPreferenceScore
}

// RunBatchLearning treats items that sat unread for 48 hours as implicitly
// ignored. Already-ignored items are skipped, so the job is idempotent.
func (l *Learner) RunBatchLearning(ctx context.Context) (int, error) {
	if !l.cfg.Enabled {
		return 0, nil
	}

	cutoff := globaltime.UTC().Add(-implicitIgnoreAge)
	items, err := l.store.ListUnreadBefore(ctx, cutoff, 0)
	if err != nil {
		return 0, fmt.Errorf("list unread items: %w", err)
	}

	recorded := 0
	for _, item := range items {
		seen, err := l.store.HasAction(ctx, item.ID, "ignore")
		if err != nil {
			return recorded, err
		}
		if seen {
			continue
		}
		if err := l.RecordAction(ctx, item.ID, "ignore"); err != nil {
			return recorded, err
		}
		recorded++
	}

	if recorded > 0 {
		l.logger.Info().Int("items", recorded).Msg("batch learning recorded implicit ignores")
	}
	return recorded, nil
}

// ApplyDecay halves every weight per configured half-life of elapsed time
// and forgets preferences whose magnitude drops below the prune threshold.
func (l *Learner) ApplyDecay(ctx context.Context) (decayed, pruned int, err error) {
	if !l.cfg.Enabled {
		return 0, 0, nil
	}
	if err := l.ensureLoaded(ctx); err != nil {
		return 0, 0, err
	}

	prefs, err := l.store.ListPreferences(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list preferences: %w", err)
	}

	now := globaltime.UTC()
	for _, pref := range prefs {
		elapsedDays := now.Sub(pref.LastUpdated).Hours() / 24
		if elapsedDays <= 0 {
			continue
		}

		factor := math.Exp2(-elapsedDays / l.cfg.DecayHalfLifeDays)
		newWeight := pref.Weight * factor

		if math.Abs(newWeight) < pruneThreshold {
			if err := l.store.DeletePreference(ctx, pref.FeatureType, pref.FeatureValue); err != nil {
				return decayed, pruned, err
			}
			l.weights.Delete(featureKey(Feature{Type: pref.FeatureType, Value: pref.FeatureValue}))
			pruned++
			continue
		}

		updated := pref
		updated.Weight = newWeight
		updated.LastUpdated = now
		if err := l.store.UpsertPreference(ctx, &updated); err != nil {
			return decayed, pruned, err
		}
		l.weights.Store(featureKey(Feature{Type: pref.FeatureType, Value: pref.FeatureValue}), weightEntry{
			Weight:        newWeight,
			PositiveCount: pref.PositiveCount,
			NegativeCount: pref.NegativeCount,
			LastUpdated:   now,
		})
		decayed++
	}

	l.logger.Info().Int("decayed", decayed).Int("pruned", pruned).Msg("applied preference decay")
	return decayed, pruned, nil
}

// Summary describes the learner's current state for reporting.
type Summary struct {
	TotalActions       int64        `json:"total_actions"`
	MinActionsRequired int          `json:"min_actions_required"`
	Active             bool         `json:"active"`
	Positive           []Preference `json:"positive"`
	Negative           []Preference `json:"negative"`
}

// Preference is one weight in a summary.
type Preference struct {
	Type   string  `json:"type"`
	Value  string  `json:"value"`
	Weight float64 `json:"weight"`
}

// Summarize returns the strongest positive and negative preferences.
func (l *Learner) Summarize(ctx context.Context, limit int) (Summary, error) {
	if err := l.ensureLoaded(ctx); err != nil {
		return Summary{}, err
	}

	l.countMu.Lock()
	total := l.actionCount
	l.countMu.Unlock()

	summary := Summary{
		TotalActions:       total,
		MinActionsRequired: l.cfg.MinActionsRequired,
		Active:             total >= int64(l.cfg.MinActionsRequired),
	}

	prefs, err := l.store.ListPreferences(ctx)
	if err != nil {
		return Summary{}, err
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].Weight > prefs[j].Weight })

	for _, pref := range prefs {
		entry := Preference{Type: pref.FeatureType, Value: pref.FeatureValue, Weight: pref.Weight}
		if pref.Weight > 0 && len(summary.Positive) < limit {
			summary.Positive = append(summary.Positive, entry)
		}
	}
	for i := len(prefs) - 1; i >= 0; i-- {
		if prefs[i].Weight < 0 && len(summary.Negative) < limit {
			summary.Negative = append(summary.Negative, Preference{
				Type:   prefs[i].FeatureType,
				Value:  prefs[i].FeatureValue,
				Weight: prefs[i].Weight,
			})
		}
	}

	return summary, nil
}

func (l *Learner) updateWeight(ctx context.Context, feature Feature, signal float64, now time.Time) error {
	key := featureKey(feature)

	entry := weightEntry{}
	if raw, ok := l.weights.Load(key); ok {
		entry = raw.(weightEntry)
	}

	// A brand-new feature starts from zero, so its first weight is exactly
	// signal * learningRate rather than jumping straight to the signal.
	entry.Weight = clampWeight((1-l.cfg.LearningRate)*entry.Weight + l.cfg.LearningRate*signal)
	if signal >= 0 {
		entry.PositiveCount++
	} else {
		entry.NegativeCount++
	}
	entry.LastUpdated = now

	l.weights.Store(key, entry)

	return l.store.UpsertPreference(ctx, &store.Preference{
		FeatureType:   feature.Type,
		FeatureValue:  feature.Value,
		Weight:        entry.Weight,
		PositiveCount: entry.PositiveCount,
		NegativeCount: entry.NegativeCount,
		LastUpdated:   now,
	})
}

func (l *Learner) ensureLoaded(ctx context.Context) error {
	l.loadMu.Lock()
	defer l.loadMu.Unlock()
	if l.loaded {
		return nil
	}

	prefs, err := l.store.ListPreferences(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	for _, pref := range prefs {
		l.weights.Store(featureKey(Feature{Type: pref.FeatureType, Value: pref.FeatureValue}), weightEntry{
			Weight:        pref.Weight,
			PositiveCount: pref.PositiveCount,
			NegativeCount: pref.NegativeCount,
			LastUpdated:   pref.LastUpdated,
		})
	}

	count, err := l.store.CountActions(ctx)
	if err != nil {
		return fmt.Errorf("count actions: %w", err)
	}

	l.countMu.Lock()
	l.actionCount = count
	l.countMu.Unlock()

	l.loaded = true
	l.logger.Debug().Int("preferences", len(prefs)).Int64("actions", count).Msg("loaded preference state")
	return nil
}

func featureKey(feature Feature) string {
	return feature.Type + "\x00" + feature.Value
}

func clampWeight(w float64) float64 {
	if w < -1 {
		return -1
	}
	if w > 1 {
		return 1
	}
	return w
}
