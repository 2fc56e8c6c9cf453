package domain

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// MergeStrategy selects the winning event of a dedup cluster.
type MergeStrategy string

const (
	// StrategyHighestAlert keeps the highest alert level; ties prefer
	// active events, then the most recent timestamp.
	StrategyHighestAlert MergeStrategy = "keep_highest_alert"

	// StrategyStrongest keeps the maximum magnitude.
	StrategyStrongest MergeStrategy = "keep_strongest"

	// StrategyLatest keeps the most recent timestamp.
	StrategyLatest MergeStrategy = "keep_latest"
)

// DedupConfig tunes geo-temporal clustering for one disaster type.
type DedupConfig struct {
	RadiusKm       float64
	TimeWindowDays float64

	// NameWeight in [0,1] blends name similarity into the join score.
	// Zero disables name matching entirely.
	NameWeight float64

	Strategy MergeStrategy
}

const (
	// joinScoreThreshold is the minimum blended geo/name score for a
	// candidate to join a cluster.
	joinScoreThreshold = 0.3

	// nameOverrideThreshold joins two events on name identity alone. Two
	// reports of a named storm can legitimately be far apart early vs.
	// late in its life.
	nameOverrideThreshold = 0.6
)

// Deduplicate collapses near-duplicate reports of the same physical event
// into one record per cluster. Clustering is a greedy single pass in input
// order: each unclustered event anchors a cluster and absorbs every later
// unclustered candidate within the time window that either scores above the
// join threshold (blended haversine proximity and name similarity) or matches
// strongly on name alone. Greedy clustering is order-dependent rather than
// globally optimal, but deterministic, and O(n²) is acceptable at feed sizes
// of a few thousand.
//
// Winners are emitted in their original relative order. The returned counts
// are the number of discarded events and the number of multi-member clusters.
func Deduplicate(events []Event, cfg DedupConfig) ([]Event, int, int) {
	n := len(events)
	if n < 2 {
		return events, 0, 0
	}

	clustered := make([]bool, n)
	winners := make([]int, 0, n)
	multiClusters := 0

	for i := 0; i < n; i++ {
		if clustered[i] {
			continue
		}
		cluster := []int{i}
		clustered[i] = true

		for j := i + 1; j < n; j++ {
			if clustered[j] {
				continue
			}
			if joinable(events[i], events[j], cfg) {
				cluster = append(cluster, j)
				clustered[j] = true
			}
		}

		if len(cluster) > 1 {
			multiClusters++
		}
		winners = append(winners, resolveCluster(events, cluster, cfg.Strategy))
	}

	sort.Ints(winners)
	result := make([]Event, len(winners))
	for i, idx := range winners {
		result[i] = events[idx]
	}
	return result, n - len(result), multiClusters
}

// joinable decides whether candidate b belongs to the cluster anchored by a.
func joinable(a, b Event, cfg DedupConfig) bool {
	ta, tb := a.ObservedAt(), b.ObservedAt()
	if ta.IsZero() || tb.IsZero() {
		return false
	}
	window := time.Duration(cfg.TimeWindowDays * float64(day))
	if absDuration(ta.Sub(tb)) > window {
		return false
	}

	dist := HaversineKm(a.Geo, b.Geo)
	if dist <= cfg.RadiusKm && cfg.RadiusKm > 0 {
		geoScore := 1 - dist/cfg.RadiusKm
		sim := 0.0
		if cfg.NameWeight > 0 {
			sim = NameSimilarity(a.Name, b.Name)
		}
		score := geoScore*(1-cfg.NameWeight) + sim*cfg.NameWeight
		return score >= joinScoreThreshold
	}

	if cfg.NameWeight > 0 && NameSimilarity(a.Name, b.Name) >= nameOverrideThreshold {
		return true
	}
	return false
}

// resolveCluster picks the winning index of a cluster under the strategy.
// Unrecognized strategies fall back to keep_latest.
func resolveCluster(events []Event, cluster []int, strategy MergeStrategy) int {
	best := cluster[0]
	for _, idx := range cluster[1:] {
		if beats(events[idx], events[best], strategy) {
			best = idx
		}
	}
	return best
}

// beats reports whether challenger should replace incumbent as cluster winner.
func beats(challenger, incumbent Event, strategy MergeStrategy) bool {
	switch strategy {
	case StrategyHighestAlert:
		cr, ir := challenger.AlertLevel.Rank(), incumbent.AlertLevel.Rank()
		if cr != ir {
			return cr > ir
		}
		if challenger.IsActive != incumbent.IsActive {
			return challenger.IsActive
		}
		return challenger.ObservedAt().After(incumbent.ObservedAt())
	case StrategyStrongest:
		return challenger.Magnitude > incumbent.Magnitude
	default:
		return challenger.ObservedAt().After(incumbent.ObservedAt())
	}
}

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates.
func HaversineKm(a, b Geo) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// NameSimilarity computes token-set Jaccard similarity between two event
// names: case-insensitive, tokens longer than two characters. Returns 0 when
// either name produces no tokens.
func NameSimilarity(a, b string) float64 {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// nameTokens splits a name into its significant lowercase tokens.
func nameTokens(name string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !isAlnum(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			tokens[f] = struct{}{}
		}
	}
	return tokens
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
