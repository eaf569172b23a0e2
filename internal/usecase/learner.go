package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
)

// LearnerConfig holds template learner configuration
type LearnerConfig struct {
	MinConfirmedItems int     // confirmations required before learning
	AcceptanceRatio   float64 // fraction of confirmed items a re-parse must reproduce
	Timeout           time.Duration
}

// LearnRequest carries everything needed to derive and validate a template
// from one confirmed extraction.
type LearnRequest struct {
	Text      string // normalized receipt text the extraction came from
	Language  string
	Store     domain.StoreInfo
	Method    domain.ParseMethod
	Confirmed []domain.ConfirmedItem
	ProfileID string // existing profile to promote, empty to create one
	Force     bool   // tracker-scheduled re-learning bypasses the method guard
}

// TemplateLearner promotes successful generative extractions into reusable
// deterministic templates. A candidate config is validated by re-parsing the
// original text before anything is persisted; rejected candidates are
// discarded, never stored.
type TemplateLearner struct {
	deriver  domain.TemplateDeriver
	parser   *TemplateParser
	matcher  *ProductMatcher
	profiles domain.ProfileRepository
	cfg      LearnerConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTemplateLearner creates a template learner
func NewTemplateLearner(
	deriver domain.TemplateDeriver,
	parser *TemplateParser,
	matcher *ProductMatcher,
	profiles domain.ProfileRepository,
	cfg LearnerConfig,
	logger zerolog.Logger,
) *TemplateLearner {
	if cfg.MinConfirmedItems <= 0 {
		cfg.MinConfirmedItems = 3
	}
	if cfg.AcceptanceRatio <= 0 {
		cfg.AcceptanceRatio = 0.8
	}

	return &TemplateLearner{
		deriver:  deriver,
		parser:   parser,
		matcher:  matcher,
		profiles: profiles,
		cfg:      cfg,
		logger:   logger.With().Str("component", "template_learner").Logger(),
		now:      time.Now,
	}
}

// Learn derives a candidate parser config from the provider, validates it by
// re-parsing the original text, and persists the profile only on acceptance.
// Acceptance means the re-parse reproduces at least the configured fraction
// of confirmed items by matched product id, not raw text equality.
func (l *TemplateLearner) Learn(ctx context.Context, req LearnRequest) (*domain.StoreProfile, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	if len(req.Confirmed) < l.cfg.MinConfirmedItems {
		return nil, fmt.Errorf("%w: %d confirmed items, need %d",
			domain.ErrInvalidRequest, len(req.Confirmed), l.cfg.MinConfirmedItems)
	}
	if !req.Force && req.Method != domain.MethodGenerative && req.Method != domain.MethodHybrid {
		return nil, fmt.Errorf("%w: learning only follows generative or hybrid extraction, got %q",
			domain.ErrInvalidRequest, req.Method)
	}

	candidate, err := l.deriver.DeriveTemplate(ctx, req.Text, req.Language, req.Confirmed)
	if err != nil {
		return nil, fmt.Errorf("template derivation: %w", err)
	}

	coverage, err := l.validateCandidate(req, candidate)
	if err != nil {
		return nil, err
	}
	if coverage < l.cfg.AcceptanceRatio {
		l.logger.Info().
			Str("store", req.Store.Name).
			Float64("coverage", coverage).
			Float64("required", l.cfg.AcceptanceRatio).
			Msg("candidate template rejected")
		return nil, fmt.Errorf("%w: re-parse reproduced %.0f%% of confirmed items",
			domain.ErrLearningRejected, coverage*100)
	}

	profile, err := l.persist(ctx, req, candidate)
	if err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("store", profile.Name).
		Str("profile_id", profile.ID).
		Float64("coverage", coverage).
		Msg("template learned")

	return profile, nil
}

// validateCandidate re-parses the original text with the candidate config
// and measures how many confirmed catalog products the re-parse reproduces.
func (l *TemplateLearner) validateCandidate(req LearnRequest, candidate *domain.ParserConfig) (float64, error) {
	result, err := l.parser.Parse(req.Text, candidate, LexiconFor(req.Language))
	if err != nil {
		return 0, fmt.Errorf("%w: candidate config unusable: %v", domain.ErrLearningRejected, err)
	}

	// The confirmed items act as a miniature catalog; a re-parsed item counts
	// when it fuzzy-matches back onto a confirmed product id.
	catalog := make([]domain.CatalogProduct, 0, len(req.Confirmed))
	for _, c := range req.Confirmed {
		catalog = append(catalog, domain.CatalogProduct{ID: c.ProductID, Name: c.RawName})
	}

	reproduced := make(map[string]bool)
	for _, item := range result.Items {
		match, err := l.matcher.BestMatch(item.ProductName, catalog)
		if err != nil {
			continue
		}
		reproduced[match.ProductID] = true
	}

	return float64(len(reproduced)) / float64(len(req.Confirmed)), nil
}

// persist creates or promotes the profile with the accepted config. The
// confidence reset to 0.5 with sample count 1 is deliberately conservative:
// a freshly learned template has proven itself exactly once.
func (l *TemplateLearner) persist(ctx context.Context, req LearnRequest, candidate *domain.ParserConfig) (*domain.StoreProfile, error) {
	if req.ProfileID == "" {
		// A repeat learning run for a store we already created a profile for
		// must update that profile, not stack duplicates.
		existing, err := l.findByStore(ctx, req.Store)
		if err != nil {
			return nil, err
		}
		req.ProfileID = existing
	}
	if req.ProfileID != "" {
		return l.promote(ctx, req, candidate)
	}

	profile := &domain.StoreProfile{
		ID:                uuid.NewString(),
		Name:              req.Store.Name,
		Chain:             req.Store.Chain,
		Country:           req.Store.Country,
		Language:          req.Store.Language,
		Currency:          req.Store.Currency,
		DetectionPatterns: detectionPatternsFor(req.Store),
		ParserType:        domain.ParserTemplate,
		Config:            candidate,
		Confidence:        0.5,
		SampleCount:       1,
		LastUsed:          l.now(),
		Source:            domain.SourceLearned,
	}
	if err := l.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// promote updates an existing profile under optimistic concurrency so a
// concurrent confidence update is never silently overwritten.
func (l *TemplateLearner) promote(ctx context.Context, req LearnRequest, candidate *domain.ParserConfig) (*domain.StoreProfile, error) {
	const attempts = 3

	var lastErr error
	for i := 0; i < attempts; i++ {
		current, err := l.profiles.GetByID(ctx, req.ProfileID)
		if err != nil {
			return nil, err
		}

		updated := current.Clone()
		updated.Config = candidate
		updated.ParserType = domain.ParserTemplate
		updated.Confidence = 0.5
		updated.SampleCount = 1
		updated.LastUsed = l.now()
		updated.Source = domain.SourceLearned

		if err := l.profiles.CompareAndUpdate(ctx, updated, current.SampleCount); err != nil {
			if err == domain.ErrVersionConflict {
				lastErr = err
				continue
			}
			return nil, err
		}
		return updated, nil
	}
	return nil, lastErr
}

// findByStore resolves the profile already registered for a store, matching
// on folded name or non-empty chain. Returns "" when the store is new.
func (l *TemplateLearner) findByStore(ctx context.Context, store domain.StoreInfo) (string, error) {
	name := foldStoreKey(store.Name)
	chain := foldStoreKey(store.Chain)

	profiles, err := l.profiles.List(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range profiles {
		if name != "" && foldStoreKey(p.Name) == name {
			return p.ID, nil
		}
		if chain != "" && foldStoreKey(p.Chain) == chain {
			return p.ID, nil
		}
	}
	return "", nil
}

func foldStoreKey(s string) string {
	return strings.ToLower(FoldDiacritics(strings.TrimSpace(s)))
}

// detectionPatternsFor derives header patterns from provider store metadata
func detectionPatternsFor(store domain.StoreInfo) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, p := range []string{store.Name, store.Chain} {
		p = strings.TrimSpace(p)
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		patterns = append(patterns, p)
		seen[strings.ToLower(p)] = true
	}
	return patterns
}

// AsyncLearnScheduler runs learning jobs off the request path. Failures are
// logged and swallowed: learning is best-effort and must never surface as a
// user-facing failure of the confirmation flow.
type AsyncLearnScheduler struct {
	learner *TemplateLearner
	timeout time.Duration
	logger  zerolog.Logger
}

// NewAsyncLearnScheduler creates a scheduler around the learner
func NewAsyncLearnScheduler(learner *TemplateLearner, timeout time.Duration, logger zerolog.Logger) *AsyncLearnScheduler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &AsyncLearnScheduler{
		learner: learner,
		timeout: timeout,
		logger:  logger.With().Str("component", "learn_scheduler").Logger(),
	}
}

// Schedule starts the learning job and returns immediately. The job gets
// its own deadline, detached from the confirming request's context.
func (s *AsyncLearnScheduler) Schedule(req LearnRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.learner.Learn(ctx, req); err != nil {
			s.logger.Warn().Err(err).Str("store", req.Store.Name).Msg("background learning failed")
		}
	}()
}
