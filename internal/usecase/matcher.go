package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
)

// Package-level compiled regex patterns for name normalization
var (
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
	multiSpaceRegex  = regexp.MustCompile(`\s+`)

	// unitTokenRegex matches size/quantity tokens glued onto receipt names
	// ("MAITO 1L", "JUUSTO 400G", "COLA 1.5 L")
	unitTokenRegex = regexp.MustCompile(`(?i)\b\d+[.,]?\d*\s*(?:kg|g|mg|l|ml|cl|dl|oz|fl\s*oz|lbs?|pcs?|kpl|stk?|szt|ct|pk|x)\b`)
)

// Tier score boundaries, matching the canonical catalog thresholds
const (
	tierExactScore  = 100.0
	tierHighScore   = 75.0
	tierMediumScore = 60.0
	tierLowScore    = 50.0
)

const fuzzyTokenWeight = 0.8 // fuzzy token hits count at 80% of an exact hit

// MatcherConfig holds configuration for the product matcher
type MatcherConfig struct {
	MinScore           float64 // candidates below this are dropped (tier none)
	EnableDebugLogging bool
}

// ProductMatcher fuzzy-matches extracted item names against a read-only
// snapshot of canonical catalog names. It is a pure function over its
// inputs: no cross-call caching that could go stale mid-receipt.
type ProductMatcher struct {
	minScore float64
	debug    bool
	logger   zerolog.Logger
}

// NewProductMatcher creates a product matcher with the given configuration
func NewProductMatcher(cfg MatcherConfig, logger zerolog.Logger) *ProductMatcher {
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = tierLowScore
	}

	return &ProductMatcher{
		minScore: minScore,
		debug:    cfg.EnableDebugLogging,
		logger:   logger.With().Str("component", "product_matcher").Logger(),
	}
}

// Match scores an item name against every catalog candidate and returns the
// ranked list of candidates at or above the minimum score. Ties are broken
// by the shorter catalog name: prefer specific over generic.
func (m *ProductMatcher) Match(itemName string, catalog []domain.CatalogProduct) []domain.MatchCandidate {
	normalized := normalizeProductName(itemName)
	if normalized == "" {
		return nil
	}

	var candidates []domain.MatchCandidate
	for _, product := range catalog {
		score := matchScore(normalized, normalizeProductName(product.Name))
		if m.debug {
			m.logger.Debug().
				Str("item", itemName).
				Str("catalog", product.Name).
				Float64("score", score).
				Msg("match candidate")
		}
		if score < m.minScore {
			continue
		}
		candidates = append(candidates, domain.MatchCandidate{
			ItemName:  itemName,
			ProductID: product.ID,
			Catalog:   product.Name,
			Tier:      tierForScore(score),
			Score:     score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return len(candidates[i].Catalog) < len(candidates[j].Catalog)
	})

	return candidates
}

// BestMatch returns the top-ranked candidate, or ErrNoMatch when nothing
// scores above the floor.
func (m *ProductMatcher) BestMatch(itemName string, catalog []domain.CatalogProduct) (*domain.MatchCandidate, error) {
	candidates := m.Match(itemName, catalog)
	if len(candidates) == 0 {
		return nil, domain.ErrNoMatch
	}
	return &candidates[0], nil
}

// normalizeProductName lowercases, folds diacritics, strips unit tokens and
// punctuation. Folding keeps accented and non-Latin input comparable without
// score degradation from encoding mismatches.
func normalizeProductName(name string) string {
	s := strings.ToLower(FoldDiacritics(name))
	s = unitTokenRegex.ReplaceAllString(s, " ")
	s = punctuationRegex.ReplaceAllString(s, " ")
	s = multiSpaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// matchScore computes a token-order-insensitive similarity in [0,100].
// Equal normalized names (or equal token multisets) are exact. Otherwise the
// score blends token coverage both ways with an edit-distance ratio over the
// sorted token join, the same shape as the catalog matcher this grew out of.
func matchScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return tierExactScore
	}

	tokensA := strings.Fields(a)
	tokensB := strings.Fields(b)

	sortedA := sortedJoin(tokensA)
	sortedB := sortedJoin(tokensB)
	if sortedA == sortedB {
		return tierExactScore
	}

	coverageA := fuzzyCoverage(tokensA, tokensB)
	coverageB := fuzzyCoverage(tokensB, tokensA)
	editRatio := levenshteinRatio(sortedA, sortedB)

	score := (coverageA*0.5 + coverageB*0.2 + editRatio*0.3) * 100
	if score > 99 {
		score = 99 // only true equality is exact
	}
	return score
}

// tierForScore buckets a score into the discrete confidence tiers
func tierForScore(score float64) domain.MatchTier {
	switch {
	case score >= tierExactScore:
		return domain.TierExact
	case score >= tierHighScore:
		return domain.TierHigh
	case score >= tierMediumScore:
		return domain.TierMedium
	case score >= tierLowScore:
		return domain.TierLow
	default:
		return domain.TierNone
	}
}

// fuzzyCoverage returns the weighted fraction of tokens in a that appear in
// b, counting near-miss tokens (edit distance 1, length > 4) at reduced
// weight.
func fuzzyCoverage(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}

	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}

	total := 0.0
	for _, t := range a {
		if set[t] {
			total += 1
			continue
		}
		for _, other := range b {
			if fuzzyTokenMatch(t, other, 1) {
				total += fuzzyTokenWeight
				break
			}
		}
	}
	return total / float64(len(a))
}

// fuzzyTokenMatch checks if two tokens are similar within the edit distance
// threshold. Only tokens longer than 4 runes qualify, to avoid false
// positives on short words.
func fuzzyTokenMatch(token1, token2 string, threshold int) bool {
	if token1 == token2 {
		return true
	}

	if len([]rune(token1)) <= 4 || len([]rune(token2)) <= 4 {
		return false
	}

	lenDiff := len(token1) - len(token2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > threshold {
		return false
	}

	return levenshteinDistance(token1, token2) <= threshold
}

func sortedJoin(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	return strings.Join(sorted, " ")
}

// levenshteinRatio converts edit distance into a similarity in [0,1]
func levenshteinRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	// Two rows instead of the full matrix
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}
