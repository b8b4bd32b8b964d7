package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoublesPerAttempt(t *testing.T) {
	base := 30 * time.Second
	cap := time.Hour

	assert.Equal(t, 30*time.Second, Backoff(base, cap, 0))
	assert.Equal(t, 60*time.Second, Backoff(base, cap, 1))
	assert.Equal(t, 120*time.Second, Backoff(base, cap, 2))
	assert.Equal(t, 240*time.Second, Backoff(base, cap, 3))
}

func TestBackoffCapped(t *testing.T) {
	base := 30 * time.Second
	cap := time.Hour

	assert.Equal(t, time.Hour, Backoff(base, cap, 7))   // 3840s uncapped
	assert.Equal(t, time.Hour, Backoff(base, cap, 50))  // must not overflow
	assert.Equal(t, time.Hour, Backoff(base, cap, 500)) // ditto
}

func TestBackoffNegativeAttemptTreatedAsZero(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(30*time.Second, time.Hour, -3))
}

func TestBackoffBaseAboveCap(t *testing.T) {
	assert.Equal(t, 10*time.Second, Backoff(time.Minute, 10*time.Second, 0))
}

func TestStallCutoffPadsJobTimeout(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// A RUNNING row touched after now-(timeout+grace) may still be executing
	// legitimately; anything older has lost its lease.
	cutoff := stallCutoff(now, 60*time.Second)
	assert.Equal(t, now.Add(-(60*time.Second + stallGrace)), cutoff)
	assert.True(t, cutoff.Before(now.Add(-60*time.Second)))
}
