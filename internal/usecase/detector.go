package usecase

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
)

// capitalizedRunPattern matches runs of capitalized or all-caps words, the
// usual shape of a retailer name in a receipt header ("K-Market Kamppi",
// "LIDL", "S-MARKET HERTTONIEMI").
var capitalizedRunPattern = regexp.MustCompile(`\p{Lu}[\p{L}\d&'.-]*(?:[ \t]\p{Lu}[\p{L}\d&'.-]*)*`)

// specificityScale is the pattern length at which specificity saturates.
// A one-letter pattern is nearly worthless, a 12+ character chain name is
// as specific as we need.
const specificityScale = 12.0

// wholeHitSpecificity is the specificity floor when the entire pattern
// appears in the header as a standalone token. A short chain name like
// "Lidl" hit whole is strong evidence; only substring hits stay length
// scaled.
const wholeHitSpecificity = 0.65

// DetectorConfig holds configuration for the store detector
type DetectorConfig struct {
	HeaderWindow int     // characters of header text inspected
	MinScore     float64 // matches scoring below this return no profile
}

// StoreDetector matches receipt header text against registered retailer
// profiles. Detection is deterministic: score by pattern specificity times
// historical confidence, ties broken by higher sample count.
type StoreDetector struct {
	profiles     domain.ProfileRepository
	headerWindow int
	minScore     float64
	logger       zerolog.Logger
}

// NewStoreDetector creates a store detector backed by the profile catalog
func NewStoreDetector(profiles domain.ProfileRepository, cfg DetectorConfig, logger zerolog.Logger) *StoreDetector {
	window := cfg.HeaderWindow
	if window <= 0 {
		window = 256
	}

	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = 0.3
	}

	return &StoreDetector{
		profiles:     profiles,
		headerWindow: window,
		minScore:     minScore,
		logger:       logger.With().Str("component", "store_detector").Logger(),
	}
}

// Detect returns the best-matching profile for the receipt header, or nil
// when nothing scores above the minimum.
func (d *StoreDetector) Detect(ctx context.Context, headerText string) (*domain.StoreProfile, error) {
	candidates := headerCandidates(headerText, d.headerWindow)
	if len(candidates) == 0 {
		return nil, nil
	}

	profiles, err := d.profiles.List(ctx)
	if err != nil {
		return nil, err
	}

	var best *domain.StoreProfile
	bestScore := 0.0

	for _, profile := range profiles {
		score := d.scoreProfile(profile, candidates)
		if score == 0 {
			continue
		}

		d.logger.Debug().
			Str("profile", profile.Name).
			Float64("score", score).
			Msg("detection candidate")

		switch {
		case score > bestScore:
			best = profile
			bestScore = score
		case score == bestScore && best != nil && profile.SampleCount > best.SampleCount:
			best = profile
		}
	}

	if best == nil || bestScore < d.minScore {
		return nil, nil
	}

	d.logger.Info().
		Str("profile", best.Name).
		Float64("score", bestScore).
		Msg("store detected")

	return best, nil
}

// scoreProfile returns the best pattern score for one profile: pattern
// specificity weighted by the profile's historical confidence.
func (d *StoreDetector) scoreProfile(profile *domain.StoreProfile, candidates []string) float64 {
	best := 0.0
	for _, pattern := range profile.DetectionPatterns {
		folded := foldForDetection(pattern)
		if folded == "" {
			continue
		}
		for _, candidate := range candidates {
			if !strings.Contains(candidate, folded) {
				continue
			}
			specificity := patternSpecificity(pattern)
			if isWholeHit(candidate, folded) && specificity < wholeHitSpecificity {
				specificity = wholeHitSpecificity
			}
			score := specificity * profile.Confidence
			if score > best {
				best = score
			}
		}
	}
	return best
}

// patternSpecificity maps pattern length onto [0,1]; longer patterns are
// harder to hit by accident.
func patternSpecificity(pattern string) float64 {
	n := float64(len([]rune(strings.TrimSpace(pattern))))
	if n >= specificityScale {
		return 1.0
	}
	return n / specificityScale
}

// headerCandidates extracts capitalized-run identifiers from the header
// window, folded for comparison.
func headerCandidates(text string, window int) []string {
	runes := []rune(text)
	if len(runes) > window {
		text = string(runes[:window])
	}

	var candidates []string
	seen := make(map[string]bool)
	for _, run := range capitalizedRunPattern.FindAllString(text, -1) {
		if !containsLetter(run) || len([]rune(run)) < 2 {
			continue
		}
		folded := foldForDetection(run)
		if !seen[folded] {
			candidates = append(candidates, folded)
			seen[folded] = true
		}
	}
	return candidates
}

// isWholeHit reports whether the folded pattern sits in the candidate as a
// standalone space-bounded token run, not a fragment of a longer word.
func isWholeHit(candidate, folded string) bool {
	return strings.Contains(" "+candidate+" ", " "+folded+" ")
}

// foldForDetection lowercases and strips diacritics so header casing and
// encoding quirks never block a match.
func foldForDetection(s string) string {
	return strings.ToLower(FoldDiacritics(strings.TrimSpace(s)))
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
