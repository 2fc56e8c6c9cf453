package aggregator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/disaster-feed-service/internal/breaker"
	"github.com/couchcryptid/disaster-feed-service/internal/domain"
	"github.com/couchcryptid/disaster-feed-service/internal/fanout"
	"github.com/couchcryptid/disaster-feed-service/internal/observability"
	"github.com/couchcryptid/disaster-feed-service/internal/policy"
	"github.com/couchcryptid/disaster-feed-service/internal/store"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	events []domain.Event
	err    error
	calls  int
}

func (f *stubFetcher) Fetch(_ context.Context) ([]domain.Event, error) {
	f.calls++
	return f.events, f.err
}

type stubPublisher struct {
	feeds []domain.CanonicalFeed
	err   error
}

func (p *stubPublisher) PublishFeed(_ context.Context, feed domain.CanonicalFeed) error {
	p.feeds = append(p.feeds, feed)
	return p.err
}

type testHarness struct {
	svc   *Service
	clock *clockwork.FakeClock
	hub   *fanout.Hub
	brk   *breaker.Breaker
}

func newTestService(t *testing.T, sources []SourceSpec, pub FeedPublisher) *testHarness {
	t.Helper()

	fc := clockwork.NewFakeClockAt(testNow)
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(clockwork.NewRealClock()) })

	hub := fanout.NewHub()
	brk := breaker.New(breaker.Config{}, fc)

	svc := New(Options{
		Sources:      sources,
		Breaker:      brk,
		Store:        store.NewMemory(fc),
		Hub:          hub,
		Policies:     policy.Defaults(),
		Publisher:    pub,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      observability.NewMetricsForTesting(),
		FetchTimeout: 5 * time.Second,
	})
	return &testHarness{svc: svc, clock: fc, hub: hub, brk: brk}
}

func quakeEvent(id string, lat, lon float64, level domain.AlertLevel) domain.Event {
	return domain.Event{
		ID:             id,
		DisasterType:   domain.TypeEarthquake,
		Geo:            domain.Geo{Lat: lat, Lon: lon},
		AlertLevel:     level,
		StartTime:      testNow.Add(-2 * time.Hour),
		LastObservedAt: testNow.Add(-1 * time.Hour),
	}
}

func TestRunSource_RefreshesCacheAndFeed(t *testing.T) {
	fetcher := &stubFetcher{events: []domain.Event{
		quakeEvent("EQ-1", 35.6, 139.7, domain.AlertOrange),
		quakeEvent("EQ-2", -33.4, -70.6, domain.AlertRed),
	}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))
	assert.Equal(t, 1, fetcher.calls)

	feed, err := h.svc.GetCanonicalFeed(domain.TypeEarthquake)
	require.NoError(t, err)
	require.Len(t, feed.Events, 2)

	// Active events sort severity-descending.
	assert.Equal(t, "EQ-2", feed.Events[0].ID)
	assert.Equal(t, "EQ-1", feed.Events[1].ID)
	assert.True(t, feed.Events[0].IsActive)
	assert.Equal(t, map[string]int{"usgs": 2}, feed.PerSourceCounts)
	assert.Equal(t, testNow, feed.GeneratedAt)
}

func TestRunSource_UnknownSource(t *testing.T) {
	h := newTestService(t, nil, nil)

	err := h.svc.RunSource(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestRunSource_FetchFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	h := newTestService(t, []SourceSpec{
		{Name: "gdacs", Type: domain.TypeFlood, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	err := h.svc.RunSource(context.Background(), "gdacs")
	require.Error(t, err)

	status := h.svc.CircuitStatus()
	assert.Equal(t, 1, status["gdacs"].ConsecutiveFailures)
}

func TestRunSource_SkipsWhenCircuitOpen(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("boom")}
	h := newTestService(t, []SourceSpec{
		{Name: "gdacs", Type: domain.TypeFlood, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	for i := 0; i < 3; i++ {
		require.Error(t, h.svc.RunSource(context.Background(), "gdacs"))
	}
	assert.Equal(t, breaker.StateOpen, h.svc.CircuitStatus()["gdacs"].State)

	// A skipped cycle is not an error and never reaches the fetcher.
	require.NoError(t, h.svc.RunSource(context.Background(), "gdacs"))
	assert.Equal(t, 3, fetcher.calls)
}

func TestRunSource_RecoversThroughProbe(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("boom")}
	h := newTestService(t, []SourceSpec{
		{Name: "gdacs", Type: domain.TypeFlood, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	for i := 0; i < 3; i++ {
		require.Error(t, h.svc.RunSource(context.Background(), "gdacs"))
	}

	fetcher.err = nil
	fetcher.events = []domain.Event{{
		ID:             "FL-1",
		DisasterType:   domain.TypeFlood,
		Geo:            domain.Geo{Lat: 50.1, Lon: 8.6},
		LastObservedAt: testNow.Add(-time.Hour),
	}}

	h.clock.Advance(30 * time.Second)
	require.NoError(t, h.svc.RunSource(context.Background(), "gdacs"))
	assert.Equal(t, breaker.StateClosed, h.svc.CircuitStatus()["gdacs"].State)

	feed, err := h.svc.GetCanonicalFeed(domain.TypeFlood)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 1)
}

func TestRunSource_DeduplicatesWithinSource(t *testing.T) {
	// Two reports of the same flood 5km apart within the 80km radius.
	fetcher := &stubFetcher{events: []domain.Event{
		{
			ID: "FL-1", DisasterType: domain.TypeFlood,
			Geo:            domain.Geo{Lat: 50.10, Lon: 8.60},
			AlertLevel:     domain.AlertOrange,
			LastObservedAt: testNow.Add(-2 * time.Hour),
		},
		{
			ID: "FL-2", DisasterType: domain.TypeFlood,
			Geo:            domain.Geo{Lat: 50.14, Lon: 8.62},
			AlertLevel:     domain.AlertRed,
			LastObservedAt: testNow.Add(-1 * time.Hour),
		},
	}}
	h := newTestService(t, []SourceSpec{
		{Name: "gdacs", Type: domain.TypeFlood, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	require.NoError(t, h.svc.RunSource(context.Background(), "gdacs"))

	feed, err := h.svc.GetCanonicalFeed(domain.TypeFlood)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, domain.AlertRed, feed.Events[0].AlertLevel)
}

func TestMergeType_CombinesSourcesByPriority(t *testing.T) {
	// Same physical quake from both sources: identical coordinate bucket and
	// name prefix. The priority-1 source must win.
	primary := &stubFetcher{events: []domain.Event{{
		ID: "usgs-1", DisasterType: domain.TypeEarthquake, Name: "Honshu coast quake",
		Geo: domain.Geo{Lat: 38.32, Lon: 142.37}, AlertLevel: domain.AlertOrange,
		LastObservedAt: testNow.Add(-time.Hour),
	}}}
	secondary := &stubFetcher{events: []domain.Event{{
		ID: "emsc-7", DisasterType: domain.TypeEarthquake, Name: "Honshu coast quake",
		Geo: domain.Geo{Lat: 38.34, Lon: 142.39}, AlertLevel: domain.AlertRed,
		LastObservedAt: testNow.Add(-30 * time.Minute),
	}}}

	h := newTestService(t, []SourceSpec{
		{Name: "emsc", Type: domain.TypeEarthquake, Priority: 2, Interval: 5 * time.Minute, Fetcher: secondary},
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: primary},
	}, nil)

	require.NoError(t, h.svc.RunSource(context.Background(), "emsc"))
	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))

	feed, err := h.svc.GetCanonicalFeed(domain.TypeEarthquake)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "usgs-1", feed.Events[0].ID)
	assert.Equal(t, 1, feed.RemovedDuplicate)
	assert.Equal(t, map[string]int{"usgs": 1, "emsc": 1}, feed.PerSourceCounts)
}

func TestMergeType_MissingSourceContributesNothing(t *testing.T) {
	fetched := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertGreen)}}
	never := &stubFetcher{}

	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetched},
		{Name: "emsc", Type: domain.TypeEarthquake, Priority: 2, Interval: 5 * time.Minute, Fetcher: never},
	}, nil)

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))

	feed, err := h.svc.GetCanonicalFeed(domain.TypeEarthquake)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 1)
	assert.Zero(t, never.calls)
}

func TestMergeType_PublishesToHubAndDownstream(t *testing.T) {
	pub := &stubPublisher{}
	fetcher := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertGreen)}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, pub)

	sub, cancel := h.hub.Subscribe(domain.TypeEarthquake)
	defer cancel()

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))

	got := <-sub.Ch
	assert.Len(t, got.Events, 1)
	require.Len(t, pub.feeds, 1)
	assert.Equal(t, domain.TypeEarthquake, pub.feeds[0].DisasterType)
}

func TestMergeType_PublisherErrorDoesNotFailMerge(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	fetcher := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertGreen)}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, pub)

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))

	_, err := h.svc.GetCanonicalFeed(domain.TypeEarthquake)
	assert.NoError(t, err)
}

func TestRunSource_FailureKeepsLastGoodFeed(t *testing.T) {
	fetcher := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertOrange)}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))

	// The next cycle fails; the previously cached feed must survive intact.
	fetcher.err = errors.New("upstream down")
	require.Error(t, h.svc.RunSource(context.Background(), "usgs"))

	feed, err := h.svc.GetCanonicalFeed(domain.TypeEarthquake)
	require.NoError(t, err)
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "EQ-1", feed.Events[0].ID)
}

func TestGetCanonicalFeed_NotFound(t *testing.T) {
	h := newTestService(t, nil, nil)

	_, err := h.svc.GetCanonicalFeed(domain.TypeTsunami)
	assert.ErrorIs(t, err, ErrFeedNotFound)
}

func TestTriggerRefresh(t *testing.T) {
	fetcher := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertGreen)}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	t.Run("source target runs a fetch cycle", func(t *testing.T) {
		require.NoError(t, h.svc.TriggerRefresh(context.Background(), "usgs"))
		assert.Equal(t, 1, fetcher.calls)
	})

	t.Run("merge target regenerates without fetching", func(t *testing.T) {
		require.NoError(t, h.svc.TriggerRefresh(context.Background(), "merge-for-type:earthquake"))
		assert.Equal(t, 1, fetcher.calls)
	})

	t.Run("unknown target", func(t *testing.T) {
		assert.ErrorIs(t, h.svc.TriggerRefresh(context.Background(), "nope"), ErrUnknownSource)
		assert.ErrorIs(t, h.svc.TriggerRefresh(context.Background(), "merge-for-type:nope"), ErrUnknownSource)
	})
}

func TestCheckReadiness(t *testing.T) {
	fetcher := &stubFetcher{events: []domain.Event{quakeEvent("EQ-1", 35.6, 139.7, domain.AlertGreen)}}
	h := newTestService(t, []SourceSpec{
		{Name: "usgs", Type: domain.TypeEarthquake, Priority: 1, Interval: 5 * time.Minute, Fetcher: fetcher},
	}, nil)

	require.Error(t, h.svc.CheckReadiness(context.Background()))

	require.NoError(t, h.svc.RunSource(context.Background(), "usgs"))
	assert.NoError(t, h.svc.CheckReadiness(context.Background()))
}
