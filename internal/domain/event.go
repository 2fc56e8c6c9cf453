package domain

import (
	"errors"
	"fmt"
	"time"
)

// DisasterType identifies the kind of physical event a record describes.
type DisasterType string

const (
	TypeEarthquake DisasterType = "earthquake"
	TypeWildfire   DisasterType = "wildfire"
	TypeFlood      DisasterType = "flood"
	TypeCyclone    DisasterType = "cyclone"
	TypeVolcano    DisasterType = "volcano"
	TypeDrought    DisasterType = "drought"
	TypeLandslide  DisasterType = "landslide"
	TypeTsunami    DisasterType = "tsunami"
)

// AlertLevel is the provider-supplied (or inferred) severity, ordered
// Green < Yellow < Orange < Red.
type AlertLevel string

const (
	AlertGreen  AlertLevel = "green"
	AlertYellow AlertLevel = "yellow"
	AlertOrange AlertLevel = "orange"
	AlertRed    AlertLevel = "red"
)

// Rank returns the ordering of an alert level for comparisons.
// Unknown levels rank below green.
func (a AlertLevel) Rank() int {
	switch a {
	case AlertGreen:
		return 0
	case AlertYellow:
		return 1
	case AlertOrange:
		return 2
	case AlertRed:
		return 3
	default:
		return -1
	}
}

// Status is the derived lifecycle state of an event.
type Status string

const (
	StatusActive    Status = "active"
	StatusJustEnded Status = "just_ended"
	StatusEnded     Status = "ended"
)

// Freshness is a coarse recency bucket derived from the last provider update,
// independent of active/ended status.
type Freshness string

const (
	FreshnessCurrent Freshness = "current"
	FreshnessRecent  Freshness = "recent"
	FreshnessAging   Freshness = "aging"
	FreshnessStale   Freshness = "stale"
)

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is the canonical representation of a disaster report, independent of
// the originating provider schema. Zero time values mean the provider did not
// supply the field. Events are immutable once produced; every processing stage
// returns new values instead of mutating its input.
type Event struct {
	ID           string       `json:"id"`
	SourceID     string       `json:"source_id"`
	DisasterType DisasterType `json:"type"`

	// Name is a human label used only for fuzzy identity matching,
	// never as a primary key.
	Name string `json:"name,omitempty"`

	Geo        Geo        `json:"geo"`
	AlertLevel AlertLevel `json:"alert_level,omitempty"`

	// Magnitude is the type-specific intensity scalar: quake magnitude,
	// fire radiative power, storm wind speed. Used for strongest-wins
	// tie-breaks.
	Magnitude float64 `json:"magnitude,omitempty"`

	StartTime      time.Time `json:"start_time,omitzero"`
	EndTime        time.Time `json:"end_time,omitzero"`
	LastObservedAt time.Time `json:"last_observed_at,omitzero"`

	// ProviderSaysCurrent is the source's "this is still happening"
	// override signal.
	ProviderSaysCurrent bool `json:"provider_says_current,omitempty"`

	// Derived lifecycle fields, computed by ClassifyEvent.
	IsActive       bool      `json:"is_active"`
	Status         Status    `json:"status,omitempty"`
	Freshness      Freshness `json:"freshness,omitempty"`
	DaysSinceStart *int      `json:"days_since_start,omitempty"`
	DaysSinceEnd   *int      `json:"days_since_end,omitempty"`
}

// ObservedAt returns the event's best reference timestamp for temporal
// comparisons: the last provider update, falling back to the start time.
// May be zero when the provider supplied neither.
func (e Event) ObservedAt() time.Time {
	if !e.LastObservedAt.IsZero() {
		return e.LastObservedAt
	}
	return e.StartTime
}

// ErrInvalidEvent is returned by Validate for records that must be dropped at
// the ingestion boundary.
var ErrInvalidEvent = errors.New("invalid event")

// Validate rejects records the normalization layer should never have emitted:
// missing identifiers, missing type, out-of-range or null-island coordinates.
// Invalid records are dropped individually, not fatal to their batch.
func Validate(e Event) error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEvent)
	}
	if e.DisasterType == "" {
		return fmt.Errorf("%w: empty disaster type", ErrInvalidEvent)
	}
	if e.Geo.Lat < -90 || e.Geo.Lat > 90 || e.Geo.Lon < -180 || e.Geo.Lon > 180 {
		return fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrInvalidEvent, e.Geo.Lat, e.Geo.Lon)
	}
	if e.Geo.Lat == 0 && e.Geo.Lon == 0 {
		return fmt.Errorf("%w: null-island coordinates", ErrInvalidEvent)
	}
	return nil
}

// CanonicalFeed is the deduplicated, merged, sorted result set for one
// disaster type. It is replaced wholesale on each merge cycle.
type CanonicalFeed struct {
	DisasterType DisasterType `json:"type"`
	Events       []Event      `json:"events"`
	GeneratedAt  time.Time    `json:"generated_at"`

	// PerSourceCounts records how many events each source contributed to
	// the merge input, before gating and identity collapse.
	PerSourceCounts map[string]int `json:"per_source_counts"`

	RemovedStale     int `json:"removed_stale"`
	RemovedDuplicate int `json:"removed_duplicate"`
}
