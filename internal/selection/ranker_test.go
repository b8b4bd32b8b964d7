package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
)

func testSelectionConfig() config.SelectionConfig {
	return config.SelectionConfig{
		WeightReliability: 0.30,
		WeightPrice:       0.10,
		MaxActiveOrders:   10,
		MaxPendingOrders:  5,
		MonopolyThreshold: 0.40,
		Strategy:          config.StrategyRoundRobin,
		RoundRobinTopN:    3,
	}
}

func offer(vendorID int64, price int64, stock int, reliability float64, active, pending int) store.OfferCandidate {
	return store.OfferCandidate{
		VendorOffer: models.VendorOffer{
			ID:            vendorID * 100,
			VendorID:      vendorID,
			CatalogItemID: 1,
			Price:         price,
			StockQuantity: stock,
			IsAvailable:   true,
		},
		ReliabilityScore:  reliability,
		ActiveOrderCount:  active,
		PendingOrderCount: pending,
	}
}

func TestStockGateExcludesEntirely(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(1, 100, 5, 99, 0, 0),  // top reliability but short on stock
		offer(2, 120, 50, 40, 0, 0), // covers the quantity
	}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(2), ranked[0].VendorID)
}

func TestUnavailableOfferExcluded(t *testing.T) {
	unavailable := offer(1, 100, 50, 99, 0, 0)
	unavailable.IsAvailable = false
	offers := []store.OfferCandidate{unavailable, offer(2, 120, 50, 40, 0, 0)}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(2), ranked[0].VendorID)
}

func TestExcludedVendorsSkipped(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(1, 100, 50, 90, 0, 0),
		offer(2, 100, 50, 90, 0, 0),
	}

	ranked := RankOffers(offers, 10, map[int64]bool{1: true}, testSelectionConfig())
	require.Len(t, ranked, 1)
	assert.Equal(t, int64(2), ranked[0].VendorID)
}

func TestCheapestOfferScoresFullPriceMarks(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(1, 200, 50, 50, 0, 0),
		offer(2, 100, 50, 50, 0, 0), // cheapest, same reliability and load
	}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].VendorID)
	assert.Greater(t, ranked[0].CompositeScore, ranked[1].CompositeScore)
}

func TestLoadedVendorScoresLower(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(1, 100, 50, 50, 9, 4), // nearly saturated
		offer(2, 100, 50, 50, 0, 0), // idle
	}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].VendorID)
}

func TestReliabilityDominatesAtEqualPriceAndLoad(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(1, 100, 50, 30, 0, 0),
		offer(2, 100, 50, 95, 0, 0),
	}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(2), ranked[0].VendorID)
}

func TestTieBrokenByVendorIDAscending(t *testing.T) {
	offers := []store.OfferCandidate{
		offer(5, 100, 50, 50, 2, 1),
		offer(3, 100, 50, 50, 2, 1),
	}

	ranked := RankOffers(offers, 10, nil, testSelectionConfig())
	require.Len(t, ranked, 2)
	assert.Equal(t, int64(3), ranked[0].VendorID)
	assert.Equal(t, int64(5), ranked[1].VendorID)
}

func TestNoEligibleOffersReturnsNil(t *testing.T) {
	offers := []store.OfferCandidate{offer(1, 100, 3, 90, 0, 0)}
	assert.Nil(t, RankOffers(offers, 10, nil, testSelectionConfig()))
}
