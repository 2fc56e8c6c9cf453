package domain

import "time"

const day = 24 * time.Hour

// Lifecycle holds the derived state computed from an event's raw date and
// flag fields.
type Lifecycle struct {
	IsActive       bool
	Status         Status
	Freshness      Freshness
	DaysSinceStart *int
	DaysSinceEnd   *int
}

// Classify derives lifecycle state from partial, sometimes contradictory
// temporal fields. Zero time values mean the field is absent. Rules apply in
// order:
//
//  1. A past end date marks the event inactive; DaysSinceEnd ≤ 1 is
//     "just_ended", otherwise "ended".
//  2. Without a past end date the event is active.
//  3. The provider current-override forces active regardless of date math,
//     since sources omit end dates inconsistently. DaysSinceEnd is still
//     reported when the end date is past.
//  4. Freshness buckets by hours since lastUpdate: ≤6h current, ≤24h recent,
//     ≤72h aging, else stale. No lastUpdate defaults to current.
//  5. DaysSinceStart is computed whenever a start date is present.
//
// Contradictory inputs (for example a current-override on a long-ended event)
// are resolved by this order and never produce an error; callers log them for
// observability when they care.
func Classify(start, end, lastUpdate time.Time, providerSaysCurrent bool, now time.Time) Lifecycle {
	lc := Lifecycle{IsActive: true, Status: StatusActive}

	if !end.IsZero() && end.Before(now) {
		dse := int(now.Sub(end) / day)
		lc.DaysSinceEnd = &dse
		lc.IsActive = false
		if dse <= 1 {
			lc.Status = StatusJustEnded
		} else {
			lc.Status = StatusEnded
		}
	}

	if providerSaysCurrent {
		lc.IsActive = true
		lc.Status = StatusActive
	}

	lc.Freshness = classifyFreshness(lastUpdate, now)

	if !start.IsZero() {
		dss := int(now.Sub(start) / day)
		if dss < 0 {
			dss = 0
		}
		lc.DaysSinceStart = &dss
	}

	return lc
}

// classifyFreshness buckets hours since the last provider update.
func classifyFreshness(lastUpdate time.Time, now time.Time) Freshness {
	if lastUpdate.IsZero() {
		return FreshnessCurrent
	}
	age := now.Sub(lastUpdate)
	switch {
	case age <= 6*time.Hour:
		return FreshnessCurrent
	case age <= 24*time.Hour:
		return FreshnessRecent
	case age <= 72*time.Hour:
		return FreshnessAging
	default:
		return FreshnessStale
	}
}

// ClassifyEvent returns a copy of the event with its derived lifecycle fields
// populated from the raw provider fields.
func ClassifyEvent(e Event, now time.Time) Event {
	lc := Classify(e.StartTime, e.EndTime, e.LastObservedAt, e.ProviderSaysCurrent, now)
	e.IsActive = lc.IsActive
	e.Status = lc.Status
	e.Freshness = lc.Freshness
	e.DaysSinceStart = lc.DaysSinceStart
	e.DaysSinceEnd = lc.DaysSinceEnd
	return e
}

// ClassifyAll classifies a batch, returning new event values in input order.
func ClassifyAll(events []Event, now time.Time) []Event {
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = ClassifyEvent(e, now)
	}
	return out
}
