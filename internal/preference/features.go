package preference

import (
	"strings"

	"horse.fit/sentinel/internal/store"
)

// Feature is one observable trait of an item that preferences attach to.
type Feature struct {
	Type  string
	Value string
}

// ItemFeatures extracts the features of a stored item: its top keywords,
// source id, source category, and author. The keyword count is capped by
// maxKeywords.
func ItemFeatures(item *store.Item, source *store.Source, maxKeywords int) []Feature {
	if item == nil {
		return nil
	}

	features := make([]Feature, 0, maxKeywords+3)

	keywords := item.Keywords()
	if maxKeywords > 0 && len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	for _, keyword := range keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		features = append(features, Feature{Type: store.FeatureKeyword, Value: normalized})
	}

	if item.SourceID != "" {
		features = append(features, Feature{Type: store.FeatureSource, Value: item.SourceID})
	}
	if source != nil && strings.TrimSpace(source.Category) != "" {
		features = append(features, Feature{
			Type:  store.FeatureCategory,
			Value: strings.ToLower(strings.TrimSpace(source.Category)),
		})
	}
	if strings.TrimSpace(item.Author) != "" {
		features = append(features, Feature{
			Type:  store.FeatureAuthor,
			Value: strings.ToLower(strings.TrimSpace(item.Author)),
		})
	}

	return features
}
