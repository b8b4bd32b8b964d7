package matcher

import (
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

// Confidence levels for the match precedence tiers.
const (
	ConfidenceExactCode = 1.0
	ConfidenceExactName = 0.95
	// MatchFloor is the minimum similarity for a fuzzy match; below it the
	// caller must ask for disambiguation.
	MatchFloor = 0.6
)

// Match is the result of matching one free-text token against the catalog.
type Match struct {
	Item       models.CatalogItem `json:"item"`
	Confidence float64            `json:"confidence"`
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalize lowercases and strips everything but letters and digits, so
// "RYCE-1KG" and "ryce 1kg" compare equal.
func normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(s), "")
}

// MatchToken maps a noisy text token to a catalog item. Precedence: exact
// code match (1.0), exact name match (0.95), then edit-distance similarity
// on the normalized name with a hard floor. Ties break on shortest edit
// distance, then ascending catalog id, so results are deterministic. A nil
// result means no match; the function never errors.
func MatchToken(token string, catalog []models.CatalogItem) *Match {
	norm := normalize(token)
	if norm == "" {
		return nil
	}

	for i := range catalog {
		if normalize(catalog[i].Code) == norm {
			return &Match{Item: catalog[i], Confidence: ConfidenceExactCode}
		}
	}

	for i := range catalog {
		if normalize(catalog[i].Name) == norm || aliasMatches(catalog[i].SearchTokens, norm) {
			return &Match{Item: catalog[i], Confidence: ConfidenceExactName}
		}
	}

	type scored struct {
		item       models.CatalogItem
		distance   int
		confidence float64
	}
	var candidates []scored
	for i := range catalog {
		name := normalize(catalog[i].Name)
		if name == "" {
			continue
		}
		dist := levenshtein.ComputeDistance(norm, name)
		maxLen := len(norm)
		if len(name) > maxLen {
			maxLen = len(name)
		}
		sim := 1.0 - float64(dist)/float64(maxLen)
		if sim < MatchFloor {
			continue
		}
		candidates = append(candidates, scored{item: catalog[i], distance: dist, confidence: sim})
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].item.ID < candidates[j].item.ID
	})

	best := candidates[0]
	return &Match{Item: best.item, Confidence: best.confidence}
}

func aliasMatches(searchTokens, norm string) bool {
	for _, alias := range strings.Fields(searchTokens) {
		if normalize(alias) == norm {
			return true
		}
	}
	return false
}

// LineResult pairs one input token with its outcome.
type LineResult struct {
	Token string `json:"token"`
	Match *Match `json:"match,omitempty"`
}

// MatchAll matches every token and aggregates the misses, so a multi-line
// order can report all unmatched tokens at once instead of failing on the
// first one.
func MatchAll(tokens []string, catalog []models.CatalogItem) (results []LineResult, unmatched []string) {
	results = make([]LineResult, 0, len(tokens))
	for _, token := range tokens {
		m := MatchToken(token, catalog)
		results = append(results, LineResult{Token: token, Match: m})
		if m == nil {
			unmatched = append(unmatched, token)
		}
	}
	return results, unmatched
}
