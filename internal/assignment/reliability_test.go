package assignment

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
)

func TestReliabilityScoreAllAccepted(t *testing.T) {
	score, ok := ReliabilityScore(&store.VendorResponseStats{Accepted: 10})
	assert.True(t, ok)
	assert.InDelta(t, 100.0, score, 0.001)
}

func TestReliabilityScoreTimeoutsCountZero(t *testing.T) {
	score, ok := ReliabilityScore(&store.VendorResponseStats{Accepted: 5, TimedOut: 5})
	assert.True(t, ok)
	assert.InDelta(t, 50.0, score, 0.001)
}

func TestReliabilityScoreRejectionBeatsTimeout(t *testing.T) {
	rejecter, ok := ReliabilityScore(&store.VendorResponseStats{Accepted: 5, Rejected: 5})
	assert.True(t, ok)
	ghost, ok2 := ReliabilityScore(&store.VendorResponseStats{Accepted: 5, TimedOut: 5})
	assert.True(t, ok2)
	assert.Greater(t, rejecter, ghost)
}

func TestReliabilityScoreSampleFloor(t *testing.T) {
	_, ok := ReliabilityScore(&store.VendorResponseStats{Accepted: 4})
	assert.False(t, ok)
}
