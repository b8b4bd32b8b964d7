package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

func testCatalog() []models.CatalogItem {
	return []models.CatalogItem{
		{ID: 1, Code: "RICE-1KG", Name: "Rice 1kg", SearchTokens: "chawal"},
		{ID: 2, Code: "RICE-5KG", Name: "Rice 5kg"},
		{ID: 3, Code: "OIL-1L", Name: "Soybean Oil 1L"},
		{ID: 4, Code: "SUGAR-1KG", Name: "Sugar 1kg"},
	}
}

func TestExactCodeMatch(t *testing.T) {
	m := MatchToken("rice-1kg", testCatalog())
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Item.ID)
	assert.Equal(t, ConfidenceExactCode, m.Confidence)
}

func TestExactNameMatch(t *testing.T) {
	m := MatchToken("Soybean Oil 1L", testCatalog())
	require.NotNil(t, m)
	assert.Equal(t, int64(3), m.Item.ID)
	assert.Equal(t, ConfidenceExactName, m.Confidence)
}

func TestSearchTokenAlias(t *testing.T) {
	m := MatchToken("chawal", testCatalog())
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Item.ID)
	assert.Equal(t, ConfidenceExactName, m.Confidence)
}

func TestFuzzyMatchConfidenceBand(t *testing.T) {
	m := MatchToken("RYCE-1KG", testCatalog())
	require.NotNil(t, m)
	assert.Equal(t, int64(1), m.Item.ID)
	assert.GreaterOrEqual(t, m.Confidence, 0.75)
	assert.LessOrEqual(t, m.Confidence, 0.95)
}

func TestBelowFloorReturnsNoMatch(t *testing.T) {
	m := MatchToken("bicycle tyre", testCatalog())
	assert.Nil(t, m)
}

func TestEmptyTokenReturnsNoMatch(t *testing.T) {
	assert.Nil(t, MatchToken("", testCatalog()))
	assert.Nil(t, MatchToken("  --  ", testCatalog()))
}

func TestTieBreakByCatalogID(t *testing.T) {
	// All three names are one edit away; the lowest catalog id must win.
	catalog := []models.CatalogItem{
		{ID: 7, Code: "A", Name: "rice 2kg"},
		{ID: 2, Code: "B", Name: "rice 3kg"},
		{ID: 5, Code: "C", Name: "rice 4kg"},
	}
	m := MatchToken("rice 9kg", catalog)
	require.NotNil(t, m)
	assert.Equal(t, int64(2), m.Item.ID)
}

func TestMatchIsIdempotent(t *testing.T) {
	catalog := testCatalog()
	first := MatchToken("RYCE-1KG", catalog)
	second := MatchToken("RYCE-1KG", catalog)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.Item.ID, second.Item.ID)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestMatchAllAggregatesUnmatched(t *testing.T) {
	results, unmatched := MatchAll([]string{"RICE-1KG", "zzzz", "sugar 1kg", "qqqq"}, testCatalog())
	assert.Len(t, results, 4)
	assert.Equal(t, []string{"zzzz", "qqqq"}, unmatched)
	assert.NotNil(t, results[0].Match)
	assert.Nil(t, results[1].Match)
	assert.NotNil(t, results[2].Match)
}
