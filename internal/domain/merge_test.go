package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mergeEvent(id, source string, lat, lon float64, mutate func(*Event)) Event {
	e := Event{
		ID:             id,
		SourceID:       source,
		DisasterType:   TypeFlood,
		Geo:            Geo{Lat: lat, Lon: lon},
		LastObservedAt: testNow,
	}
	if mutate != nil {
		mutate(&e)
	}
	return ClassifyEvent(e, testNow)
}

func TestMergeSources_StaleCeiling(t *testing.T) {
	cfg := DefaultMergeConfig()

	// Ended 20 days ago with maxStaleDays=14: never appears.
	stale := mergeEvent("old", "a", 10, 10, func(e *Event) {
		e.EndTime = testNow.Add(-20 * 24 * time.Hour)
	})
	fresh := mergeEvent("fresh", "a", 20, 20, nil)

	feed := MergeSources(TypeFlood, []SourceFeed{{Source: "a", Events: []Event{stale, fresh}}}, cfg, testNow)

	require.Len(t, feed.Events, 1)
	assert.Equal(t, "fresh", feed.Events[0].ID)
	assert.Equal(t, 1, feed.RemovedStale)
	assert.Equal(t, 2, feed.PerSourceCounts["a"])
}

func TestMergeSources_SuspiciouslyOldOngoing(t *testing.T) {
	cfg := DefaultMergeConfig()

	// Started 100 days ago, no end, last update weeks ago: presumed
	// abandoned.
	abandoned := mergeEvent("abandoned", "a", 10, 10, func(e *Event) {
		e.StartTime = testNow.Add(-100 * 24 * time.Hour)
		e.LastObservedAt = testNow.Add(-30 * 24 * time.Hour)
	})
	require.Equal(t, FreshnessStale, abandoned.Freshness)

	// Same age but still being updated: genuinely ongoing.
	ongoing := mergeEvent("ongoing", "a", 20, 20, func(e *Event) {
		e.StartTime = testNow.Add(-100 * 24 * time.Hour)
	})

	feed := MergeSources(TypeFlood, []SourceFeed{{Source: "a", Events: []Event{abandoned, ongoing}}}, cfg, testNow)

	require.Len(t, feed.Events, 1)
	assert.Equal(t, "ongoing", feed.Events[0].ID)
	assert.Equal(t, 1, feed.RemovedStale)
}

func TestMergeSources_FirstProviderWinsIdentity(t *testing.T) {
	cfg := DefaultMergeConfig()

	// The same flood reported by two providers with slightly different
	// coordinates and name spellings: the higher-priority provider's
	// record survives.
	primary := mergeEvent("gdacs-1", "gdacs", 50.02, 8.01, func(e *Event) {
		e.Name = "Rhine Valley Flood"
	})
	secondary := mergeEvent("reliefweb-1", "reliefweb", 50.04, 8.03, func(e *Event) {
		e.Name = "Rhine Valley Flooding"
	})

	feed := MergeSources(TypeFlood, []SourceFeed{
		{Source: "gdacs", Events: []Event{primary}},
		{Source: "reliefweb", Events: []Event{secondary}},
	}, cfg, testNow)

	require.Len(t, feed.Events, 1)
	assert.Equal(t, "gdacs-1", feed.Events[0].ID)
	assert.Equal(t, 1, feed.RemovedDuplicate)
	assert.Equal(t, 1, feed.PerSourceCounts["gdacs"])
	assert.Equal(t, 1, feed.PerSourceCounts["reliefweb"])
}

func TestMergeSources_SortOrder(t *testing.T) {
	cfg := DefaultMergeConfig()

	events := []Event{
		mergeEvent("ended-red", "a", 10, 10, func(e *Event) {
			e.AlertLevel = AlertRed
			e.EndTime = testNow.Add(-5 * 24 * time.Hour)
		}),
		mergeEvent("active-yellow", "a", 20, 20, func(e *Event) { e.AlertLevel = AlertYellow }),
		mergeEvent("active-red", "a", 30, 30, func(e *Event) { e.AlertLevel = AlertRed }),
		mergeEvent("active-orange", "a", 40, 40, func(e *Event) { e.AlertLevel = AlertOrange }),
	}

	feed := MergeSources(TypeFlood, []SourceFeed{{Source: "a", Events: events}}, cfg, testNow)

	ids := make([]string, len(feed.Events))
	for i, e := range feed.Events {
		ids[i] = e.ID
	}
	expected := []string{"active-red", "active-orange", "active-yellow", "ended-red"}
	if diff := cmp.Diff(expected, ids); diff != "" {
		t.Errorf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestMergeSources_EmptySourceStillPurges(t *testing.T) {
	cfg := DefaultMergeConfig()

	// One provider returns nothing this cycle; the merge must still run
	// and drop the sibling's stale entry instead of carrying it forever.
	stale := mergeEvent("stale", "b", 10, 10, func(e *Event) {
		e.EndTime = testNow.Add(-30 * 24 * time.Hour)
	})

	feed := MergeSources(TypeFlood, []SourceFeed{
		{Source: "a", Events: nil},
		{Source: "b", Events: []Event{stale}},
	}, cfg, testNow)

	assert.Empty(t, feed.Events)
	assert.Equal(t, 1, feed.RemovedStale)
	assert.Equal(t, 0, feed.PerSourceCounts["a"])
	assert.Equal(t, 1, feed.PerSourceCounts["b"])
	assert.Equal(t, testNow, feed.GeneratedAt)
}

func TestMergeSources_DistinctEventsSurvive(t *testing.T) {
	cfg := DefaultMergeConfig()

	a := mergeEvent("a-1", "a", 50.0, 8.0, func(e *Event) { e.Name = "Rhine Flood" })
	b := mergeEvent("b-1", "b", 45.0, 12.0, func(e *Event) { e.Name = "Po Valley Flood" })

	feed := MergeSources(TypeFlood, []SourceFeed{
		{Source: "a", Events: []Event{a}},
		{Source: "b", Events: []Event{b}},
	}, cfg, testNow)

	assert.Len(t, feed.Events, 2)
	assert.Zero(t, feed.RemovedDuplicate)
}

func TestIdentityKey_BucketsAbsorbCoordinateJitter(t *testing.T) {
	cfg := DefaultMergeConfig()

	a := Event{Name: "Rhine Valley Flood", Geo: Geo{Lat: 50.02, Lon: 8.01}}
	b := Event{Name: "Rhine Valley Flooding", Geo: Geo{Lat: 50.04, Lon: 8.03}}
	far := Event{Name: "Rhine Valley Flood", Geo: Geo{Lat: 51.3, Lon: 9.2}}

	assert.Equal(t, identityKey(a, cfg), identityKey(b, cfg))
	assert.NotEqual(t, identityKey(a, cfg), identityKey(far, cfg))
}

func TestNamePrefix(t *testing.T) {
	assert.Equal(t, "rhinevalleyf", namePrefix("Rhine Valley Flood", 12))
	assert.Equal(t, "rhine", namePrefix("Rhine", 12))
	assert.Equal(t, "", namePrefix("", 12))
	assert.Equal(t, "cyclone2026", namePrefix("Cyclone-2026!", 12))
}
