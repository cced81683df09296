package ces

import (
	"strings"
	"time"
)

// FilterConfig governs one pipeline run. It is passed by value and never
// mutated; zero/absent optional fields mean "that filter is skipped".
type FilterConfig struct {
	// Score thresholds. Both apply after enrichment; an item must clear both.
	MinCES         float64 `yaml:"min_ces" json:"min_ces"`
	MinWeightedCES float64 `yaml:"min_weighted_ces" json:"min_weighted_ces"`

	// Truncation after sorting. TopPercent (0 < p < 1) is applied first,
	// then TopK. Values outside their valid range disable the step.
	TopK       int     `yaml:"top_k" json:"top_k"`
	TopPercent float64 `yaml:"top_percent" json:"top_percent"`

	// Time decay. Disabling it pins time_weight to 1.0.
	EnableTimeDecay bool    `yaml:"enable_time_decay" json:"enable_time_decay"`
	HalfLifeHours   float64 `yaml:"half_life_hours" json:"half_life_hours"`

	// RecencyDays > 0 drops items older than N days, and items whose age
	// cannot be determined at all.
	RecencyDays int `yaml:"recency_days" json:"recency_days"`

	// Basic predicates. Types match case-insensitively; keywords are
	// case-insensitive substring matches against title+desc+tag_list.
	AllowedTypes     []string `yaml:"allowed_types" json:"allowed_types"`
	RequiredKeywords []string `yaml:"required_keywords" json:"required_keywords"`
	ExcludeKeywords  []string `yaml:"exclude_keywords" json:"exclude_keywords"`

	// YieldEvery controls how many items a stage processes before handing
	// control back to the host scheduler.
	YieldEvery int `yaml:"yield_every" json:"yield_every"`
}

// DefaultFilterConfig returns the configuration the ranking service uses
// when the caller supplies nothing: decay on with a 48h half-life, no
// thresholds, no truncation.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		EnableTimeDecay: true,
		HalfLifeHours:   48.0,
		YieldEvery:      1000,
	}
}

// passesBasicFilters evaluates the type, keyword, and recency predicates.
// Pure computation; unset config fields always pass.
func passesBasicFilters(item Item, cfg FilterConfig, now time.Time) bool {
	if len(cfg.AllowedTypes) > 0 {
		itemType := strings.ToLower(item.Type)
		allowed := false
		for _, t := range cfg.AllowedTypes {
			if strings.ToLower(t) == itemType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(cfg.RequiredKeywords) > 0 || len(cfg.ExcludeKeywords) > 0 {
		combined := item.Title + " " + item.Desc + " " + item.TagList
		if len(cfg.RequiredKeywords) > 0 && !containsAny(combined, cfg.RequiredKeywords) {
			return false
		}
		if len(cfg.ExcludeKeywords) > 0 && containsAny(combined, cfg.ExcludeKeywords) {
			return false
		}
	}

	if cfg.RecencyDays > 0 {
		// Unlike the decay weighter, which treats an undeterminable
		// timestamp as full weight, the recency filter drops such items.
		hoursAgo, ok := item.HoursAgo(now)
		if !ok {
			return false
		}
		if hoursAgo > float64(cfg.RecencyDays)*24 {
			return false
		}
	}

	return true
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
