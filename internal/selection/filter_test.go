package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(vendorID int64, score float64, active, pending int) Candidate {
	return Candidate{
		VendorID:          vendorID,
		CompositeScore:    score,
		ActiveOrderCount:  active,
		PendingOrderCount: pending,
		WorkingHoursStart: 9,
		WorkingHoursEnd:   21,
		Timezone:          "UTC",
	}
}

func TestCapacityExcludesSaturatedVendor(t *testing.T) {
	candidates := []Candidate{
		candidate(1, 95, 10, 0), // at the active cap: top score but ineligible
		candidate(2, 60, 3, 1),
	}

	kept := FilterCapacity(candidates, 10, 5)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].VendorID)
}

func TestCapacityMayEmptyTheList(t *testing.T) {
	candidates := []Candidate{
		candidate(1, 95, 10, 0),
		candidate(2, 60, 2, 5), // at the pending cap
	}

	kept := FilterCapacity(candidates, 10, 5)
	assert.Empty(t, kept)
}

func TestWorkingHoursFallsBackWhenAllClosed(t *testing.T) {
	// 03:00 UTC is outside every vendor's 9-21 window; the stage must skip
	// itself rather than return zero candidates.
	night := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	candidates := []Candidate{candidate(1, 80, 0, 0), candidate(2, 70, 0, 0)}

	kept := FilterWorkingHours(candidates, night)
	assert.Len(t, kept, 2)
}

func TestWorkingHoursKeepsOpenVendors(t *testing.T) {
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	closed := candidate(1, 80, 0, 0)
	closed.WorkingHoursStart = 18
	closed.WorkingHoursEnd = 23
	open := candidate(2, 70, 0, 0)

	kept := FilterWorkingHours([]Candidate{closed, open}, noon)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].VendorID)
}

func TestOvernightWindowWraps(t *testing.T) {
	night := time.Date(2025, 6, 1, 2, 0, 0, 0, time.UTC)
	assert.True(t, withinWorkingHours(22, 6, "UTC", night))
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, withinWorkingHours(22, 6, "UTC", noon))
}

func TestUnknownTimezoneFailsOpen(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	assert.True(t, withinWorkingHours(9, 21, "Not/AZone", now))
}

func TestMonopolyExcludesDominantVendor(t *testing.T) {
	candidates := []Candidate{candidate(1, 95, 0, 0), candidate(2, 60, 0, 0)}
	shares := map[int64]float64{1: 0.55, 2: 0.20}

	kept := FilterMonopoly(candidates, shares, 0.40)
	require.Len(t, kept, 1)
	assert.Equal(t, int64(2), kept[0].VendorID)
}

func TestMonopolyFallsBackWhenAllDominant(t *testing.T) {
	candidates := []Candidate{candidate(1, 95, 0, 0)}
	shares := map[int64]float64{1: 0.90}

	kept := FilterMonopoly(candidates, shares, 0.40)
	assert.Len(t, kept, 1)
}

func TestMonopolyNoHistoryMeansNoExclusion(t *testing.T) {
	candidates := []Candidate{candidate(1, 95, 0, 0), candidate(2, 60, 0, 0)}

	kept := FilterMonopoly(candidates, map[int64]float64{}, 0.40)
	assert.Len(t, kept, 2)
}
