package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// MergeConfig tunes the cross-source merge and staleness gate for one
// disaster type.
type MergeConfig struct {
	// MaxStaleDays is the hard ceiling: events that ended more than this
	// many days ago never appear in the canonical feed.
	MaxStaleDays int

	// SuspiciousAgeDays flags apparently-endless events: started more than
	// this many days ago, no end date, and stale freshness. Such events
	// stopped being updated and are presumed abandoned, not ongoing.
	SuspiciousAgeDays int

	// CoordBucketDegrees is the rounding granularity of the identity key's
	// coordinate component. 0.1° (~11 km at the equator) absorbs small
	// geocoding disagreement between providers.
	CoordBucketDegrees float64

	// NamePrefixLen is the length of the normalized name prefix in the
	// identity key.
	NamePrefixLen int
}

// DefaultMergeConfig returns the staleness and identity thresholds used when
// a type has no explicit policy.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		MaxStaleDays:       14,
		SuspiciousAgeDays:  90,
		CoordBucketDegrees: 0.1,
		NamePrefixLen:      12,
	}
}

// SourceFeed is one provider's contribution to a cross-source merge.
type SourceFeed struct {
	Source string
	Events []Event
}

// MergeSources reconciles one disaster type as reported by multiple
// providers into the canonical feed. Feeds must be ordered by provider
// trust/priority; when two providers report the same physical event, the
// earlier provider wins.
//
// The merge always runs, even when a provider contributed zero events this
// cycle, so that entries which individually went stale are purged rather than
// lingering in the canonical feed.
func MergeSources(t DisasterType, feeds []SourceFeed, cfg MergeConfig, now time.Time) CanonicalFeed {
	out := CanonicalFeed{
		DisasterType:    t,
		GeneratedAt:     now,
		PerSourceCounts: make(map[string]int, len(feeds)),
	}

	var combined []Event
	for _, f := range feeds {
		out.PerSourceCounts[f.Source] = len(f.Events)
		combined = append(combined, f.Events...)
	}

	gated := make([]Event, 0, len(combined))
	for _, e := range combined {
		if isStale(e, cfg, now) {
			out.RemovedStale++
			continue
		}
		gated = append(gated, e)
	}

	seen := make(map[string]struct{}, len(gated))
	merged := make([]Event, 0, len(gated))
	for _, e := range gated {
		key := identityKey(e, cfg)
		if _, dup := seen[key]; dup {
			out.RemovedDuplicate++
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, e)
	}

	sortCanonical(merged)
	out.Events = merged
	return out
}

// isStale applies the staleness gate.
func isStale(e Event, cfg MergeConfig, now time.Time) bool {
	if !e.EndTime.IsZero() && now.Sub(e.EndTime) > time.Duration(cfg.MaxStaleDays)*day {
		return true
	}
	if e.EndTime.IsZero() && !e.StartTime.IsZero() &&
		now.Sub(e.StartTime) > time.Duration(cfg.SuspiciousAgeDays)*day &&
		e.Freshness == FreshnessStale {
		return true
	}
	return false
}

// identityKey builds the coarse cross-source identity of an event: a rounded
// coordinate bucket plus a normalized name prefix.
func identityKey(e Event, cfg MergeConfig) string {
	deg := cfg.CoordBucketDegrees
	if deg <= 0 {
		deg = 0.1
	}
	lat := math.Round(e.Geo.Lat/deg) * deg
	lon := math.Round(e.Geo.Lon/deg) * deg
	return fmt.Sprintf("%.4f:%.4f:%s", lat, lon, namePrefix(e.Name, cfg.NamePrefixLen))
}

// namePrefix normalizes a name to its significant lowercase characters and
// truncates to n. Empty names normalize to the empty prefix, so unnamed
// events are distinguished by coordinates alone.
func namePrefix(name string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if isAlnum(r) {
			b.WriteRune(r)
		}
	}
	s := []rune(b.String())
	if n > 0 && len(s) > n {
		s = s[:n]
	}
	return string(s)
}

// sortCanonical orders the canonical feed: active events before ended ones,
// then by descending alert severity (Red > Orange > Yellow > Green). The sort
// is stable so provider priority breaks remaining ties.
func sortCanonical(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].IsActive != events[j].IsActive {
			return events[i].IsActive
		}
		return events[i].AlertLevel.Rank() > events[j].AlertLevel.Rank()
	})
}
