package assignment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/queue"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// reliabilityWindow bounds how far back response history counts, so a vendor
// can recover from a bad stretch.
const reliabilityWindow = 90 * 24 * time.Hour

// minResponsesForScore is the sample floor below which the score is left
// untouched.
const minResponsesForScore = 5

// Recalculator recomputes vendor reliability scores from assignment history.
// It runs as a queue handler, triggered after every recorded response.
type Recalculator struct {
	store  *store.Store
	logger *zap.Logger
}

// NewRecalculator creates a reliability recalculator
func NewRecalculator(st *store.Store) *Recalculator {
	return &Recalculator{store: st, logger: util.NamedLogger("reliability")}
}

// Handle is the score.recalc queue handler.
func (r *Recalculator) Handle(ctx context.Context, payload json.RawMessage) error {
	var p queue.ScoreRecalcPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("invalid score recalc payload: %w", err)
	}

	stats, err := r.store.GetVendorResponseStats(ctx, p.VendorID, time.Now().Add(-reliabilityWindow))
	if err != nil {
		return fmt.Errorf("failed to load response stats for vendor %d: %w", p.VendorID, err)
	}

	score, ok := ReliabilityScore(stats)
	if !ok {
		r.logger.Debug("Too few responses to rescore vendor",
			zap.Int64("vendor_id", p.VendorID))
		return nil
	}

	if err := r.store.UpdateVendorReliability(ctx, p.VendorID, score); err != nil {
		return fmt.Errorf("failed to update reliability for vendor %d: %w", p.VendorID, err)
	}
	r.logger.Info("Vendor reliability updated",
		zap.Int64("vendor_id", p.VendorID),
		zap.Float64("score", score),
		zap.Int("accepted", stats.Accepted),
		zap.Int("rejected", stats.Rejected),
		zap.Int("timed_out", stats.TimedOut))
	return nil
}

// ReliabilityScore maps response history to a [0,100] score. Accepts count
// fully; rejections count partially because a fast honest "no" still lets the
// order move on; timeouts count zero. Returns ok=false below the sample floor.
func ReliabilityScore(stats *store.VendorResponseStats) (float64, bool) {
	total := stats.Accepted + stats.Rejected + stats.TimedOut
	if total < minResponsesForScore {
		return 0, false
	}
	score := (float64(stats.Accepted) + 0.3*float64(stats.Rejected)) / float64(total) * 100.0
	return score, true
}
