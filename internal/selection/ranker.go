package selection

import (
	"fmt"
	"sort"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
)

// Candidate is a vendor offer that survived eligibility gating, with its
// composite score and the vendor attributes the filter stages need.
type Candidate struct {
	VendorID          int64              `json:"vendor_id"`
	Offer             models.VendorOffer `json:"offer"`
	CompositeScore    float64            `json:"composite_score"`
	ReliabilityScore  float64            `json:"-"`
	ActiveOrderCount  int                `json:"-"`
	PendingOrderCount int                `json:"-"`
	WorkingHoursStart int                `json:"-"`
	WorkingHoursEnd   int                `json:"-"`
	Timezone          string             `json:"-"`
}

// NoEligibleVendorError reports that no vendor can serve an item.
type NoEligibleVendorError struct {
	CatalogItemID int64
}

func (e *NoEligibleVendorError) Error() string {
	return fmt.Sprintf("no eligible vendor for catalog item %d", e.CatalogItemID)
}

// RankOffers turns raw offers into a scored, ordered candidate list.
//
// Stock sufficiency and availability are binary eligibility gates: an offer
// that cannot cover the quantity is excluded, not down-weighted. Survivors
// get a weighted composite of three [0,100] sub-scores: vendor reliability,
// price competitiveness relative to the cheapest eligible offer, and inverse
// current load. The sort is stable with ties broken by ascending vendor id.
func RankOffers(offers []store.OfferCandidate, quantity int, exclude map[int64]bool, cfg config.SelectionConfig) []Candidate {
	eligible := make([]store.OfferCandidate, 0, len(offers))
	for _, o := range offers {
		if exclude[o.VendorID] {
			continue
		}
		if !o.IsAvailable || o.StockQuantity < quantity {
			continue
		}
		eligible = append(eligible, o)
	}
	if len(eligible) == 0 {
		return nil
	}

	cheapest := eligible[0].Price
	for _, o := range eligible[1:] {
		if o.Price < cheapest {
			cheapest = o.Price
		}
	}

	maxLoad := cfg.MaxActiveOrders + cfg.MaxPendingOrders
	candidates := make([]Candidate, 0, len(eligible))
	for _, o := range eligible {
		priceScore := 100.0
		if o.Price > 0 {
			priceScore = float64(cheapest) / float64(o.Price) * 100.0
		}

		loadScore := 0.0
		if maxLoad > 0 {
			loadScore = 100.0 * (1.0 - float64(o.ActiveOrderCount+o.PendingOrderCount)/float64(maxLoad))
			if loadScore < 0 {
				loadScore = 0
			}
		}

		composite := cfg.WeightReliability*o.ReliabilityScore +
			cfg.WeightPrice*priceScore +
			cfg.WeightLoad()*loadScore

		candidates = append(candidates, Candidate{
			VendorID:          o.VendorID,
			Offer:             o.VendorOffer,
			CompositeScore:    composite,
			ReliabilityScore:  o.ReliabilityScore,
			ActiveOrderCount:  o.ActiveOrderCount,
			PendingOrderCount: o.PendingOrderCount,
			WorkingHoursStart: o.WorkingHoursStart,
			WorkingHoursEnd:   o.WorkingHoursEnd,
			Timezone:          o.Timezone,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CompositeScore != candidates[j].CompositeScore {
			return candidates[i].CompositeScore > candidates[j].CompositeScore
		}
		return candidates[i].VendorID < candidates[j].VendorID
	})
	return candidates
}
