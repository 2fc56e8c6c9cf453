// Package aggregator orchestrates the per-source refresh cycle: gate the
// fetch through the circuit breaker, classify and reduce the source's events,
// cache them, and regenerate the canonical feed for the source's disaster
// type. Sources fail independently; a broken provider degrades its own
// contribution while the rest of the feed keeps refreshing.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/disaster-feed-service/internal/breaker"
	"github.com/couchcryptid/disaster-feed-service/internal/domain"
	"github.com/couchcryptid/disaster-feed-service/internal/fanout"
	"github.com/couchcryptid/disaster-feed-service/internal/observability"
	"github.com/couchcryptid/disaster-feed-service/internal/policy"
	"github.com/couchcryptid/disaster-feed-service/internal/source"
	"github.com/couchcryptid/disaster-feed-service/internal/store"
)

// Cache entries outlive the refresh interval so a few missed cycles do not
// blank the feed, with a floor for aggressively scheduled sources.
const (
	cacheTTLFactor = 3
	minCacheTTL    = 5 * time.Minute
)

// ErrUnknownSource is returned for refresh targets no source is registered
// under.
var ErrUnknownSource = errors.New("unknown source")

// ErrFeedNotFound is returned when no canonical feed has been generated yet
// for a disaster type.
var ErrFeedNotFound = errors.New("feed not found")

// FeedPublisher pushes regenerated canonical feeds downstream.
type FeedPublisher interface {
	PublishFeed(ctx context.Context, feed domain.CanonicalFeed) error
}

// SourceSpec binds one upstream source to its fetcher and scheduling
// parameters.
type SourceSpec struct {
	Name     string
	Type     domain.DisasterType
	Priority int
	Interval time.Duration
	Fetcher  source.Fetcher
}

// Service owns the fetch-classify-reduce-merge cycle for all sources.
type Service struct {
	sources  []SourceSpec
	bySource map[string]SourceSpec
	byType   map[domain.DisasterType][]SourceSpec

	breaker   *breaker.Breaker
	store     *store.Memory
	hub       *fanout.Hub
	policies  *policy.Policies
	publisher FeedPublisher

	logger  *slog.Logger
	metrics *observability.Metrics

	fetchTimeout time.Duration
	ready        atomic.Bool
}

// Options collects the Service dependencies. Publisher may be nil.
type Options struct {
	Sources      []SourceSpec
	Breaker      *breaker.Breaker
	Store        *store.Memory
	Hub          *fanout.Hub
	Policies     *policy.Policies
	Publisher    FeedPublisher
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	FetchTimeout time.Duration
}

// New creates a Service. Sources sharing a disaster type are merged in
// ascending priority order.
func New(opts Options) *Service {
	s := &Service{
		sources:      opts.Sources,
		bySource:     make(map[string]SourceSpec, len(opts.Sources)),
		byType:       make(map[domain.DisasterType][]SourceSpec),
		breaker:      opts.Breaker,
		store:        opts.Store,
		hub:          opts.Hub,
		policies:     opts.Policies,
		publisher:    opts.Publisher,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		fetchTimeout: opts.FetchTimeout,
	}

	for _, spec := range opts.Sources {
		s.bySource[spec.Name] = spec
		s.byType[spec.Type] = append(s.byType[spec.Type], spec)
	}
	for t := range s.byType {
		specs := s.byType[t]
		sort.SliceStable(specs, func(i, j int) bool {
			return specs[i].Priority < specs[j].Priority
		})
	}

	return s
}

// Sources returns the registered source specs in registration order.
func (s *Service) Sources() []SourceSpec {
	return s.sources
}

// RunSource executes one refresh cycle for the named source: breaker gate,
// bounded fetch, lifecycle classification, retention, dedup, cache write,
// and canonical merge for the source's type. A denied gate is a skipped
// cycle, not an error.
func (s *Service) RunSource(ctx context.Context, name string) error {
	spec, ok := s.bySource[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	allowed, reason := s.breaker.CanRequest(name)
	s.observeCircuits()
	if !allowed {
		s.logger.Debug("fetch skipped", "source", name, "reason", reason)
		s.metrics.FetchCycles.WithLabelValues(name, "skipped").Inc()
		return nil
	}
	if reason == "probe" {
		s.logger.Info("probing degraded source", "source", name)
	}

	start := time.Now()
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	events, err := spec.Fetcher.Fetch(fetchCtx)
	cancel()
	s.metrics.FetchDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		s.breaker.OnFailure(name)
		s.observeCircuits()
		s.metrics.FetchCycles.WithLabelValues(name, "failure").Inc()
		s.logger.Error("fetch failed", "source", name, "error", err)
		return fmt.Errorf("fetch %s: %w", name, err)
	}

	s.breaker.OnSuccess(name)
	s.observeCircuits()
	s.metrics.FetchCycles.WithLabelValues(name, "success").Inc()
	s.metrics.EventsFetched.WithLabelValues(name).Observe(float64(len(events)))

	now := domain.Now()
	classified := domain.ClassifyAll(events, now)

	rules := domain.RetentionRules(spec.Type, s.policies.RetentionConfig(spec.Type))
	kept, dropped := domain.ApplyRetention(classified, rules, now)
	for rule, n := range dropped {
		s.metrics.EventsDroppedRetention.WithLabelValues(string(spec.Type), rule).Add(float64(n))
	}

	deduped, removed, clusters := domain.Deduplicate(kept, s.policies.DedupConfig(spec.Type))
	if removed > 0 {
		s.metrics.EventsDeduplicated.WithLabelValues(string(spec.Type)).Add(float64(removed))
	}

	s.store.PutEvents(eventKey(spec.Type, name), deduped, cacheTTL(spec.Interval))
	s.logger.Info("source refreshed",
		"source", name,
		"fetched", len(events),
		"kept", len(deduped),
		"retention_dropped", len(classified)-len(kept),
		"dedup_removed", removed,
		"clusters", clusters,
	)

	return s.MergeType(ctx, spec.Type)
}

// MergeType regenerates the canonical feed for one disaster type from
// whatever per-source caches currently hold, publishes it to subscribers,
// and pushes it downstream when a publisher is configured.
func (s *Service) MergeType(ctx context.Context, t domain.DisasterType) error {
	specs, ok := s.byType[t]
	if !ok {
		return fmt.Errorf("%w: no sources for type %s", ErrUnknownSource, t)
	}

	feeds := make([]domain.SourceFeed, 0, len(specs))
	minInterval := specs[0].Interval
	for _, spec := range specs {
		if spec.Interval < minInterval {
			minInterval = spec.Interval
		}
		events, err := s.store.GetEvents(eventKey(t, spec.Name))
		if err != nil {
			// Absent or expired source data degrades to an empty
			// contribution.
			events = nil
		}
		feeds = append(feeds, domain.SourceFeed{Source: spec.Name, Events: events})
	}

	feed := domain.MergeSources(t, feeds, s.policies.MergeConfig(t), domain.Now())
	s.store.PutFeed(string(t), feed, cacheTTL(minInterval))

	s.metrics.MergeRemovedStale.WithLabelValues(string(t)).Add(float64(feed.RemovedStale))
	s.metrics.MergeRemovedDuplicate.WithLabelValues(string(t)).Add(float64(feed.RemovedDuplicate))
	s.metrics.FeedSize.WithLabelValues(string(t)).Set(float64(len(feed.Events)))

	s.hub.Publish(feed)
	s.ready.Store(true)

	if s.publisher != nil {
		if err := s.publisher.PublishFeed(ctx, feed); err != nil {
			s.metrics.FeedsPublished.WithLabelValues("error").Inc()
			s.logger.Error("feed publish failed", "type", t, "error", err)
		} else {
			s.metrics.FeedsPublished.WithLabelValues("success").Inc()
		}
	}

	s.logger.Info("canonical feed regenerated",
		"type", t,
		"events", len(feed.Events),
		"removed_stale", feed.RemovedStale,
		"removed_duplicate", feed.RemovedDuplicate,
	)
	return nil
}

// GetCanonicalFeed returns the current canonical feed for a type.
func (s *Service) GetCanonicalFeed(t domain.DisasterType) (domain.CanonicalFeed, error) {
	feed, err := s.store.GetFeed(string(t))
	if errors.Is(err, store.ErrNotFound) {
		return domain.CanonicalFeed{}, fmt.Errorf("%w: %s", ErrFeedNotFound, t)
	}
	return feed, err
}

// CircuitStatus exposes the breaker snapshots for the status endpoint.
func (s *Service) CircuitStatus() map[string]breaker.Snapshot {
	return s.breaker.Status()
}

// TriggerRefresh runs an on-demand cycle. The target is either a source name
// or "merge-for-type:<type>" to regenerate a canonical feed without
// refetching.
func (s *Service) TriggerRefresh(ctx context.Context, target string) error {
	if t, ok := cutMergeTarget(target); ok {
		return s.MergeType(ctx, t)
	}
	return s.RunSource(ctx, target)
}

// CheckReadiness returns nil once at least one canonical feed has been
// generated.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("no canonical feed generated yet")
	}
	return nil
}

func cutMergeTarget(target string) (domain.DisasterType, bool) {
	const prefix = "merge-for-type:"
	if len(target) > len(prefix) && target[:len(prefix)] == prefix {
		return domain.DisasterType(target[len(prefix):]), true
	}
	return "", false
}

// observeCircuits mirrors the breaker states into the per-source gauge.
func (s *Service) observeCircuits() {
	for name, snap := range s.breaker.Status() {
		var v float64
		switch snap.State {
		case breaker.StateOpen:
			v = 1
		case breaker.StateHalfOpen:
			v = 2
		}
		s.metrics.CircuitState.WithLabelValues(name).Set(v)
	}
}

func eventKey(t domain.DisasterType, source string) string {
	return string(t) + "/" + source
}

func cacheTTL(interval time.Duration) time.Duration {
	ttl := interval * cacheTTLFactor
	if ttl < minCacheTTL {
		ttl = minCacheTTL
	}
	return ttl
}
