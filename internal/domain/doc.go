// Package domain models disaster events aggregated from heterogeneous public feeds.
//
// # Data Sources
//
// Events arrive pre-normalized from per-provider normalizer services (GDACS,
// USGS, EONET/FIRMS and similar public feeds). Each normalizer parses its
// provider's wire format and publishes canonical Event JSON; this service never
// touches provider schemas. A source is identified by a stable name and feeds
// exactly one disaster type.
//
// # Lifecycle Classification
//
// Providers disagree about what "ongoing" means. Some set an end date the
// moment an event closes, some leave it empty forever, and some keep a
// "current" flag alive long after the event died. [Classify] resolves these
// contradictions with a fixed rule order:
//
//  1. A past end date marks the event inactive; ended within the last day is
//     "just_ended", older is "ended".
//  2. Otherwise the event is active.
//  3. A provider current-override always wins over date math, because sources
//     omit end dates inconsistently.
//  4. Freshness buckets by hours since the last provider update:
//     ≤6h current, ≤24h recent, ≤72h aging, else stale. A missing update
//     timestamp defaults to current.
//
// Per-type retention rules then drop events that are formally classified but
// operationally dead (see retention.go). These encode provider quirks, such as
// drought feeds recycling multi-year-old cycles under refreshed end dates.
//
// # Deduplication
//
// The same physical disaster is frequently reported by several sensors or
// providers with slightly different coordinates, timestamps and names.
// [Deduplicate] clusters same-type events with a greedy single pass over
// haversine distance, a time window, and optional token-set name similarity,
// then resolves each cluster to one winner under a per-type merge strategy.
// Clustering is intentionally forgiving: over-merging two reports of one real
// fire beats presenting one fire twice.
//
// # Cross-Source Merge
//
// Types fed by multiple providers (floods in this deployment) pass through
// [MergeSources]: a hard staleness ceiling, a coarse coordinate-bucket plus
// name-prefix identity merge with first-provider-wins ordering, and an
// active-first, severity-descending sort. The merge runs even when a source
// contributed nothing, so individually expired entries disappear from the
// canonical feed instead of lingering.
package domain
