// Package policy holds the per-disaster-type tuning knobs: dedup clustering
// thresholds, retention quirks, and merge/staleness ceilings. Defaults are
// compiled in; an optional YAML file overrides individual types for
// deployments that need to chase a provider's behavior without a release.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/disaster-feed-service/internal/domain"
)

// DedupPolicy tunes geo-temporal clustering for one type.
type DedupPolicy struct {
	RadiusKm       float64 `yaml:"radius_km"`
	TimeWindowDays float64 `yaml:"time_window_days"`
	NameWeight     float64 `yaml:"name_weight"`
	Strategy       string  `yaml:"strategy"`
}

// RetentionPolicy tunes the per-type end-of-life filters.
type RetentionPolicy struct {
	WildfireEndedCutoffDays  int `yaml:"wildfire_ended_cutoff_days"`
	DroughtMaxYearLag        int `yaml:"drought_max_year_lag"`
	DroughtOngoingMaxAgeDays int `yaml:"drought_ongoing_max_age_days"`
}

// MergePolicy tunes the cross-source staleness gate and identity key.
type MergePolicy struct {
	MaxStaleDays       int     `yaml:"max_stale_days"`
	SuspiciousAgeDays  int     `yaml:"suspicious_age_days"`
	CoordBucketDegrees float64 `yaml:"coord_bucket_degrees"`
	NamePrefixLen      int     `yaml:"name_prefix_len"`
}

// TypePolicy bundles all knobs for one disaster type.
type TypePolicy struct {
	Dedup     DedupPolicy     `yaml:"dedup"`
	Retention RetentionPolicy `yaml:"retention"`
	Merge     MergePolicy     `yaml:"merge"`
}

// Policies resolves per-type configuration with a fallback default.
type Policies struct {
	types    map[domain.DisasterType]TypePolicy
	fallback TypePolicy
}

// Defaults returns the compiled-in policies, tuned against the current
// provider feeds: quakes cluster tight and keep the strongest reading, floods
// cluster wide with name blending and keep the highest alert, cyclones are
// name-dominant because position moves over a storm's life, droughts keep the
// latest record of a slow-moving cycle.
func Defaults() *Policies {
	base := TypePolicy{
		Dedup: DedupPolicy{
			RadiusKm:       50,
			TimeWindowDays: 2,
			NameWeight:     0,
			Strategy:       string(domain.StrategyLatest),
		},
		Retention: RetentionPolicy{
			WildfireEndedCutoffDays:  3,
			DroughtMaxYearLag:        1,
			DroughtOngoingMaxAgeDays: 730,
		},
		Merge: MergePolicy{
			MaxStaleDays:       14,
			SuspiciousAgeDays:  90,
			CoordBucketDegrees: 0.1,
			NamePrefixLen:      12,
		},
	}

	withDedup := func(d DedupPolicy) TypePolicy {
		p := base
		p.Dedup = d
		return p
	}

	return &Policies{
		fallback: base,
		types: map[domain.DisasterType]TypePolicy{
			domain.TypeEarthquake: withDedup(DedupPolicy{
				RadiusKm:       30,
				TimeWindowDays: 1,
				Strategy:       string(domain.StrategyStrongest),
			}),
			domain.TypeWildfire: withDedup(DedupPolicy{
				RadiusKm:       20,
				TimeWindowDays: 3,
				Strategy:       string(domain.StrategyStrongest),
			}),
			domain.TypeFlood: withDedup(DedupPolicy{
				RadiusKm:       80,
				TimeWindowDays: 5,
				NameWeight:     0.3,
				Strategy:       string(domain.StrategyHighestAlert),
			}),
			domain.TypeCyclone: withDedup(DedupPolicy{
				RadiusKm:       300,
				TimeWindowDays: 7,
				NameWeight:     0.6,
				Strategy:       string(domain.StrategyHighestAlert),
			}),
			domain.TypeDrought: withDedup(DedupPolicy{
				RadiusKm:       200,
				TimeWindowDays: 30,
				NameWeight:     0.4,
				Strategy:       string(domain.StrategyLatest),
			}),
		},
	}
}

// Load returns Defaults overlaid with the YAML file at path. An empty path
// returns pure defaults. Only fields present in the file override; absent
// fields keep their default values.
func Load(path string) (*Policies, error) {
	p := Defaults()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var file struct {
		Types map[string]yaml.Node `yaml:"types"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	for name, node := range file.Types {
		t := domain.DisasterType(name)
		tp := p.ForType(t)
		if err := node.Decode(&tp); err != nil {
			return nil, fmt.Errorf("parse policy for type %q: %w", name, err)
		}
		p.types[t] = tp
	}

	return p, nil
}

// ForType returns the policy for a type, falling back to the default policy
// for unlisted types.
func (p *Policies) ForType(t domain.DisasterType) TypePolicy {
	if tp, ok := p.types[t]; ok {
		return tp
	}
	return p.fallback
}

// DedupConfig converts the type's dedup policy into domain terms.
func (p *Policies) DedupConfig(t domain.DisasterType) domain.DedupConfig {
	d := p.ForType(t).Dedup
	return domain.DedupConfig{
		RadiusKm:       d.RadiusKm,
		TimeWindowDays: d.TimeWindowDays,
		NameWeight:     d.NameWeight,
		Strategy:       domain.MergeStrategy(d.Strategy),
	}
}

// RetentionConfig converts the type's retention policy into domain terms.
func (p *Policies) RetentionConfig(t domain.DisasterType) domain.RetentionConfig {
	r := p.ForType(t).Retention
	return domain.RetentionConfig{
		WildfireEndedCutoffDays:  r.WildfireEndedCutoffDays,
		DroughtMaxYearLag:        r.DroughtMaxYearLag,
		DroughtOngoingMaxAgeDays: r.DroughtOngoingMaxAgeDays,
	}
}

// MergeConfig converts the type's merge policy into domain terms.
func (p *Policies) MergeConfig(t domain.DisasterType) domain.MergeConfig {
	m := p.ForType(t).Merge
	return domain.MergeConfig{
		MaxStaleDays:       m.MaxStaleDays,
		SuspiciousAgeDays:  m.SuspiciousAgeDays,
		CoordBucketDegrees: m.CoordBucketDegrees,
		NamePrefixLen:      m.NamePrefixLen,
	}
}
