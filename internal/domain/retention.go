package domain

import (
	"regexp"
	"strconv"
	"time"
)

// RetentionConfig carries the per-type thresholds behind the retention rules.
// These encode provider-specific quirks and must stay tunable; the defaults
// reflect the current upstream behavior, not universal truths.
type RetentionConfig struct {
	// WildfireEndedCutoffDays drops wildfires whose end date is older than
	// this many days, unless they only just ended.
	WildfireEndedCutoffDays int

	// DroughtMaxYearLag rejects drought records whose name embeds a
	// calendar year more than this many years behind now.
	DroughtMaxYearLag int

	// DroughtOngoingMaxAgeDays drops droughts running longer than this
	// without a provider current-override.
	DroughtOngoingMaxAgeDays int
}

// DefaultRetentionConfig returns the thresholds observed to work against
// current provider feeds.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		WildfireEndedCutoffDays:  3,
		DroughtMaxYearLag:        1,
		DroughtOngoingMaxAgeDays: 730,
	}
}

// RetentionRule is a named, independently testable end-of-life predicate.
// Keep returns false for events that must be dropped after classification.
type RetentionRule struct {
	Name string
	Keep func(e Event, now time.Time) bool
}

// nameYearRe matches a four-digit year embedded in an event name, e.g.
// "Horn of Africa Drought 2022".
var nameYearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// RetentionRules returns the rule chain for a disaster type. Types without
// known provider quirks get no rules and pass through untouched.
func RetentionRules(t DisasterType, cfg RetentionConfig) []RetentionRule {
	switch t {
	case TypeWildfire:
		return []RetentionRule{wildfireEndedCutoff(cfg.WildfireEndedCutoffDays)}
	case TypeDrought:
		return []RetentionRule{
			droughtRecycledYear(cfg.DroughtMaxYearLag),
			droughtOngoingStaleness(cfg.DroughtOngoingMaxAgeDays),
		}
	default:
		return nil
	}
}

// wildfireEndedCutoff drops fires that ended more than cutoffDays ago.
// Fires flagged just_ended survive one extra cycle so consumers see them wind
// down instead of vanishing.
func wildfireEndedCutoff(cutoffDays int) RetentionRule {
	return RetentionRule{
		Name: "wildfire-ended-cutoff",
		Keep: func(e Event, now time.Time) bool {
			if e.DaysSinceEnd == nil || e.Status == StatusJustEnded {
				return true
			}
			return *e.DaysSinceEnd <= cutoffDays
		},
	}
}

// droughtRecycledYear rejects drought records whose name embeds a year more
// than maxLag calendar years behind now. The upstream drought provider
// recycles old drought cycles with refreshed end dates, which would otherwise
// resurface as current events.
func droughtRecycledYear(maxLag int) RetentionRule {
	return RetentionRule{
		Name: "drought-recycled-year",
		Keep: func(e Event, now time.Time) bool {
			m := nameYearRe.FindString(e.Name)
			if m == "" {
				return true
			}
			year, err := strconv.Atoi(m)
			if err != nil {
				return true
			}
			return now.Year()-year <= maxLag
		},
	}
}

// droughtOngoingStaleness drops droughts that have nominally run longer than
// maxAgeDays without the provider explicitly vouching they are current. An
// apparently endless drought that stopped being updated is presumed abandoned.
func droughtOngoingStaleness(maxAgeDays int) RetentionRule {
	return RetentionRule{
		Name: "drought-ongoing-staleness",
		Keep: func(e Event, now time.Time) bool {
			if e.ProviderSaysCurrent {
				return true
			}
			if e.DaysSinceStart == nil {
				return true
			}
			return *e.DaysSinceStart <= maxAgeDays
		},
	}
}

// ApplyRetention runs the rule chain over a classified batch. It returns the
// surviving events in input order and a per-rule count of dropped records.
func ApplyRetention(events []Event, rules []RetentionRule, now time.Time) ([]Event, map[string]int) {
	if len(rules) == 0 {
		return events, nil
	}

	kept := make([]Event, 0, len(events))
	dropped := make(map[string]int)

outer:
	for _, e := range events {
		for _, rule := range rules {
			if !rule.Keep(e, now) {
				dropped[rule.Name]++
				continue outer
			}
		}
		kept = append(kept, e)
	}

	return kept, dropped
}
