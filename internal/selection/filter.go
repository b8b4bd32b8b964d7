package selection

import (
	"time"
)

// FilterWorkingHours drops vendors outside their configured local-time
// window. The stage is soft: if it would eliminate every candidate it is
// skipped, so a late-night order still finds a vendor.
func FilterWorkingHours(candidates []Candidate, now time.Time) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if withinWorkingHours(c.WorkingHoursStart, c.WorkingHoursEnd, c.Timezone, now) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

// FilterCapacity drops saturated vendors. This stage is hard: assigning into
// a vendor already at its cap is never permitted, so it may empty the list.
func FilterCapacity(candidates []Candidate, maxActive, maxPending int) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ActiveOrderCount >= maxActive || c.PendingOrderCount >= maxPending {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// FilterMonopoly drops vendors whose trailing-window market share for the
// item exceeds the threshold, preserving price competition. Soft stage:
// skipped if it would eliminate every candidate.
func FilterMonopoly(candidates []Candidate, shares map[int64]float64, threshold float64) []Candidate {
	kept := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if shares[c.VendorID] > threshold {
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		return candidates
	}
	return kept
}

// withinWorkingHours evaluates a vendor's local-hour window, handling
// windows that wrap past midnight. An unknown timezone fails open so a
// misconfigured vendor is not silently unreachable.
func withinWorkingHours(startHour, endHour int, timezone string, now time.Time) bool {
	if startHour == endHour {
		return true
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return true
	}
	hour := now.In(loc).Hour()
	if startHour < endHour {
		return hour >= startHour && hour < endHour
	}
	return hour >= startHour || hour < endHour
}
