package selection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/redisclient"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

const marketShareWindow = 30 * 24 * time.Hour

// LineRequirement is one order line the selected vendor must cover.
type LineRequirement struct {
	CatalogItemID int64
	Quantity      int
}

// Selection is the outcome of picking a vendor for a whole order: the
// vendor and the offer chosen per line.
type Selection struct {
	VendorID     int64
	OfferPerItem map[int64]Candidate
	Score        float64
}

// Selector runs the rank -> filter -> pick chain. Scores and rankings are
// computed fresh on every call and never cached beyond it.
type Selector struct {
	store  *store.Store
	redis  *redisclient.Client
	cfg    config.SelectionConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewSelector creates a new selector
func NewSelector(st *store.Store, redis *redisclient.Client, cfg config.SelectionConfig) *Selector {
	return &Selector{
		store:  st,
		redis:  redis,
		cfg:    cfg,
		logger: util.NamedLogger("selection"),
		now:    time.Now,
	}
}

// CandidatesForItem returns the ranked, filtered candidate list for one item.
func (s *Selector) CandidatesForItem(ctx context.Context, itemID int64, quantity int, exclude map[int64]bool) ([]Candidate, error) {
	ctx, span := util.StartSpan(ctx, "Selector.CandidatesForItem")
	defer span.End()

	offers, err := s.store.GetOfferCandidates(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load offers for item %d: %w", itemID, err)
	}

	candidates := RankOffers(offers, quantity, exclude, s.cfg)
	if len(candidates) == 0 {
		return nil, &NoEligibleVendorError{CatalogItemID: itemID}
	}

	if s.cfg.WorkingHoursEnabled {
		candidates = FilterWorkingHours(candidates, s.now())
	}

	candidates = FilterCapacity(candidates, s.cfg.MaxActiveOrders, s.cfg.MaxPendingOrders)
	if len(candidates) == 0 {
		return nil, &NoEligibleVendorError{CatalogItemID: itemID}
	}

	shares, err := s.store.MarketShares(ctx, itemID, s.now().Add(-marketShareWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to load market shares for item %d: %w", itemID, err)
	}
	candidates = FilterMonopoly(candidates, shares, s.cfg.MonopolyThreshold)

	return candidates, nil
}

// PickVendor selects one vendor able to cover every line of an order,
// excluding already-tried vendors. Per-line candidate lists are intersected;
// a vendor's aggregate score is the mean of its per-line composites. The
// final pick applies the configured strategy.
func (s *Selector) PickVendor(ctx context.Context, lines []LineRequirement, exclude []int64) (*Selection, error) {
	ctx, span := util.StartSpan(ctx, "Selector.PickVendor")
	defer span.End()

	if len(lines) == 0 {
		return nil, fmt.Errorf("no lines to select a vendor for")
	}

	excluded := make(map[int64]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	// vendor -> per-item candidate; vendors missing any line are dropped.
	covering := make(map[int64]map[int64]Candidate)
	scoreSum := make(map[int64]float64)
	for i, line := range lines {
		candidates, err := s.CandidatesForItem(ctx, line.CatalogItemID, line.Quantity, excluded)
		if err != nil {
			return nil, err
		}

		seen := make(map[int64]bool)
		for _, c := range candidates {
			seen[c.VendorID] = true
			if i == 0 {
				covering[c.VendorID] = map[int64]Candidate{line.CatalogItemID: c}
				scoreSum[c.VendorID] = c.CompositeScore
			} else if offers, ok := covering[c.VendorID]; ok {
				offers[line.CatalogItemID] = c
				scoreSum[c.VendorID] += c.CompositeScore
			}
		}
		for vendorID := range covering {
			if !seen[vendorID] {
				delete(covering, vendorID)
				delete(scoreSum, vendorID)
			}
		}
		if len(covering) == 0 {
			return nil, &NoEligibleVendorError{CatalogItemID: line.CatalogItemID}
		}
	}

	type aggregate struct {
		vendorID int64
		score    float64
		active   int
	}
	aggregates := make([]aggregate, 0, len(covering))
	for vendorID, offers := range covering {
		aggregates = append(aggregates, aggregate{
			vendorID: vendorID,
			score:    scoreSum[vendorID] / float64(len(lines)),
			active:   offers[lines[0].CatalogItemID].ActiveOrderCount,
		})
	}
	sort.Slice(aggregates, func(i, j int) bool {
		if aggregates[i].score != aggregates[j].score {
			return aggregates[i].score > aggregates[j].score
		}
		return aggregates[i].vendorID < aggregates[j].vendorID
	})

	var chosen aggregate
	switch s.cfg.Strategy {
	case config.StrategyLeastLoaded:
		chosen = aggregates[0]
		for _, a := range aggregates[1:] {
			if a.active < chosen.active {
				chosen = a
			}
		}
	default: // round-robin over the top-N scored candidates
		topN := s.cfg.RoundRobinTopN
		if topN > len(aggregates) {
			topN = len(aggregates)
		}
		idx := 0
		cursor, err := s.redis.NextRotation(ctx, lines[0].CatalogItemID)
		if err != nil {
			s.logger.Warn("Rotation cursor unavailable, using top candidate", zap.Error(err))
		} else {
			idx = int(cursor % int64(topN))
		}
		chosen = aggregates[idx]
	}

	s.logger.Info("Vendor selected",
		zap.Int64("vendor_id", chosen.vendorID),
		zap.Float64("score", chosen.score),
		zap.String("strategy", s.cfg.Strategy),
		zap.Int("candidates", len(aggregates)))

	return &Selection{
		VendorID:     chosen.vendorID,
		OfferPerItem: covering[chosen.vendorID],
		Score:        chosen.score,
	}, nil
}
