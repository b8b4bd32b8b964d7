package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/matcher"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

func matchFor(itemID int64) matcher.LineResult {
	return matcher.LineResult{
		Match: &matcher.Match{Item: models.CatalogItem{ID: itemID}, Confidence: 1.0},
	}
}

func TestFoldLinesMergesDuplicateItems(t *testing.T) {
	reqLines := []OrderLineRequest{
		{Token: "rice 1kg", Quantity: 2},
		{Token: "oil 5l", Quantity: 1},
		{Token: "RICE-1KG", Quantity: 3}, // same item, different spelling
	}
	matches := []matcher.LineResult{matchFor(10), matchFor(20), matchFor(10)}

	lines := foldLines(reqLines, matches)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(10), lines[0].CatalogItemID)
	assert.Equal(t, 5, lines[0].Quantity)
	assert.Equal(t, int64(20), lines[1].CatalogItemID)
	assert.Equal(t, 1, lines[1].Quantity)
}

func TestFoldLinesPreservesFirstSeenOrder(t *testing.T) {
	reqLines := []OrderLineRequest{
		{Token: "b", Quantity: 1},
		{Token: "a", Quantity: 1},
	}
	matches := []matcher.LineResult{matchFor(2), matchFor(1)}

	lines := foldLines(reqLines, matches)
	require.Len(t, lines, 2)
	assert.Equal(t, int64(2), lines[0].CatalogItemID)
	assert.Equal(t, int64(1), lines[1].CatalogItemID)
}

func TestValidationErrorListsAllTokens(t *testing.T) {
	err := &ValidationError{
		Message:         "unrecognized items",
		UnmatchedTokens: []string{"xyzzy", "plugh"},
	}
	assert.Contains(t, err.Error(), "xyzzy")
	assert.Contains(t, err.Error(), "plugh")
}

func TestCreateOrderEndToEnd(t *testing.T) {
	// Exercised against a seeded database; the pure pieces are covered above
	// and in the matcher and selection packages.
	t.Skip("Integration test - requires database")
}
