package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
)

// TrackerConfig holds confidence tracker configuration
type TrackerConfig struct {
	Alpha              float64       // EMA smoothing factor
	DemotionConfidence float64       // below this, template profiles demote to hybrid
	DemotionSamples    int           // samples required before demotion applies
	RelearnConfidence  float64       // below this, schedule re-learning
	StalenessWindow    time.Duration // unused profiles re-learn after this
}

// RelearnScheduler accepts background learning jobs. Schedule must not block.
type RelearnScheduler interface {
	Schedule(req LearnRequest)
}

// ConfidenceTracker is the sole writer of a profile's confidence, sample
// count, and last-used timestamp. Updates use optimistic concurrency on the
// sample count so concurrent learning jobs cannot silently overwrite each
// other; no lock is held across a learning cycle.
type ConfidenceTracker struct {
	profiles  domain.ProfileRepository
	scheduler RelearnScheduler
	cfg       TrackerConfig
	logger    zerolog.Logger
	now       func() time.Time
}

// NewConfidenceTracker creates a confidence tracker
func NewConfidenceTracker(
	profiles domain.ProfileRepository,
	scheduler RelearnScheduler,
	cfg TrackerConfig,
	logger zerolog.Logger,
) *ConfidenceTracker {
	if cfg.Alpha <= 0 {
		cfg.Alpha = 0.2
	}
	if cfg.DemotionConfidence <= 0 {
		cfg.DemotionConfidence = 0.3
	}
	if cfg.DemotionSamples <= 0 {
		cfg.DemotionSamples = 5
	}
	if cfg.RelearnConfidence <= 0 {
		cfg.RelearnConfidence = 0.4
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = 180 * 24 * time.Hour
	}

	return &ConfidenceTracker{
		profiles:  profiles,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger.With().Str("component", "confidence_tracker").Logger(),
		now:       time.Now,
	}
}

// Update folds one confirmation into the profile's confidence: an EMA over
// the fraction of confirmed items the extraction matched. The sample count
// increments by exactly one per call. Confidence is update-order-dependent
// by construction of the EMA.
//
// The synchronous part ends at the committed write; any re-learning the new
// state calls for is scheduled in the background and never blocks the
// confirming caller.
func (t *ConfidenceTracker) Update(
	ctx context.Context,
	profileID string,
	text string,
	result *domain.ParseResult,
	confirmed []domain.ConfirmedItem,
) (*domain.StoreProfile, error) {
	if profileID == "" || result == nil || len(confirmed) == 0 {
		return nil, domain.ErrInvalidRequest
	}

	matchRate := matchRate(result, confirmed)

	const attempts = 3
	var updated *domain.StoreProfile
	var staleBefore bool
	var lastErr error

	for i := 0; i < attempts; i++ {
		current, err := t.profiles.GetByID(ctx, profileID)
		if err != nil {
			return nil, err
		}

		staleBefore = !current.LastUsed.IsZero() && t.now().Sub(current.LastUsed) > t.cfg.StalenessWindow

		next := current.Clone()
		next.Confidence = (1-t.cfg.Alpha)*current.Confidence + t.cfg.Alpha*matchRate
		next.SampleCount = current.SampleCount + 1
		next.LastUsed = t.now()

		if next.ParserType == domain.ParserTemplate &&
			next.Confidence < t.cfg.DemotionConfidence &&
			next.SampleCount > t.cfg.DemotionSamples {
			next.ParserType = domain.ParserHybrid
			t.logger.Warn().
				Str("profile", next.Name).
				Float64("confidence", next.Confidence).
				Int("samples", next.SampleCount).
				Msg("profile demoted to hybrid")
		}

		if err := t.profiles.CompareAndUpdate(ctx, next, current.SampleCount); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		updated = next
		break
	}
	if updated == nil {
		return nil, fmt.Errorf("confidence update not committed: %w", lastErr)
	}

	t.logger.Info().
		Str("profile", updated.Name).
		Float64("match_rate", matchRate).
		Float64("confidence", updated.Confidence).
		Int("samples", updated.SampleCount).
		Msg("confidence updated")

	t.maybeScheduleRelearn(updated, staleBefore, text, result, confirmed)

	return updated, nil
}

// RequestRelearn schedules re-learning on explicit request
func (t *ConfidenceTracker) RequestRelearn(profile *domain.StoreProfile, text string, result *domain.ParseResult, confirmed []domain.ConfirmedItem) {
	t.schedule(profile, "explicit request", text, result, confirmed)
}

// maybeScheduleRelearn applies the re-learn triggers: low confidence or a
// profile that had gone stale before this confirmation.
func (t *ConfidenceTracker) maybeScheduleRelearn(profile *domain.StoreProfile, wasStale bool, text string, result *domain.ParseResult, confirmed []domain.ConfirmedItem) {
	switch {
	case profile.Confidence < t.cfg.RelearnConfidence:
		t.schedule(profile, "confidence below re-learn threshold", text, result, confirmed)
	case wasStale:
		t.schedule(profile, "profile stale", text, result, confirmed)
	}
}

func (t *ConfidenceTracker) schedule(profile *domain.StoreProfile, reason string, text string, result *domain.ParseResult, confirmed []domain.ConfirmedItem) {
	if t.scheduler == nil {
		return
	}

	t.logger.Info().
		Str("profile", profile.Name).
		Str("reason", reason).
		Msg("re-learning scheduled")

	t.scheduler.Schedule(LearnRequest{
		Text:      text,
		Language:  profile.Language,
		Store:     storeInfoFromProfile(profile),
		Method:    result.Method,
		Confirmed: confirmed,
		ProfileID: profile.ID,
		Force:     true,
	})
}

// matchRate is |matched ∩ confirmed| / |confirmed|, comparing by catalog
// product id.
func matchRate(result *domain.ParseResult, confirmed []domain.ConfirmedItem) float64 {
	matched := make(map[string]bool)
	for _, item := range result.Items {
		if item.ProductID != "" {
			matched[item.ProductID] = true
		}
	}

	hits := 0
	for _, c := range confirmed {
		if matched[c.ProductID] {
			hits++
		}
	}
	return float64(hits) / float64(len(confirmed))
}
