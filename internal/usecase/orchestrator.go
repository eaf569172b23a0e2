package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pantrylens/backend/internal/domain"
)

// State identifies which extraction strategy the orchestrator chose for a
// receipt. The transition order is fixed and evaluated exactly once per
// receipt; see Process.
type State string

const (
	StateUnknownStore   State = "unknown_store"
	StateTemplateMatch  State = "template_match"
	StateHybridVerify   State = "hybrid_verify"
	StateGenerativeOnly State = "generative_only"
)

// OrchestratorConfig holds the strategy-selection tunables
type OrchestratorConfig struct {
	TemplateConfidence float64 // above this, trusted template profiles run alone
	HybridConfidence   float64 // at or above this, template runs with generative verification
	HybridTolerance    float64 // item-count disagreement ratio that flips hybrid to generative
	LowYieldThreshold  float64 // template yield below this logs a low-yield warning
}

// Outcome is the result of orchestrating one receipt. On total extraction
// failure Result still carries the empty item list and ManualReview is set;
// the normalized text is always preserved for manual entry.
type Outcome struct {
	Result         *domain.ParseResult
	State          State
	Normalized     *NormalizedText
	ManualReview   bool
	ItemsExtracted int
}

// ExtractionOrchestrator chooses between template, generative, and hybrid
// extraction per receipt. Template parsing is the steady-state zero-cost
// path; the generative provider exists to bootstrap unknown formats and as
// a safety net, never as the default.
type ExtractionOrchestrator struct {
	normalizer *TextNormalizer
	detector   *StoreDetector
	parser     *TemplateParser
	provider   domain.GenerativeExtractor
	cfg        OrchestratorConfig
	logger     zerolog.Logger
}

// NewExtractionOrchestrator creates an orchestrator with its collaborators
func NewExtractionOrchestrator(
	normalizer *TextNormalizer,
	detector *StoreDetector,
	parser *TemplateParser,
	provider domain.GenerativeExtractor,
	cfg OrchestratorConfig,
	logger zerolog.Logger,
) *ExtractionOrchestrator {
	if cfg.TemplateConfidence <= 0 {
		cfg.TemplateConfidence = 0.7
	}
	if cfg.HybridConfidence <= 0 {
		cfg.HybridConfidence = 0.3
	}
	if cfg.HybridTolerance <= 0 {
		cfg.HybridTolerance = 0.2
	}
	if cfg.LowYieldThreshold <= 0 {
		cfg.LowYieldThreshold = 0.1
	}

	return &ExtractionOrchestrator{
		normalizer: normalizer,
		detector:   detector,
		parser:     parser,
		provider:   provider,
		cfg:        cfg,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Process runs the full extraction pipeline for one receipt. The state
// transition rule, evaluated once:
//
//  1. No detected store                       -> GENERATIVE_ONLY
//  2. confidence > template bound ∧ template  -> TEMPLATE_MATCH
//  3. confidence in hybrid band ∨ hybrid type -> HYBRID_VERIFY
//  4. otherwise                               -> GENERATIVE_ONLY
//
// Provider failures get exactly one retry; when both attempts fail the
// outcome degrades to the normalized text with an empty item list and the
// manual-review flag, alongside ErrExtractionFailed. Items are never
// fabricated.
func (o *ExtractionOrchestrator) Process(ctx context.Context, rawText string, languageHint string) (*Outcome, error) {
	normalized := o.normalizer.Normalize(rawText, languageHint)

	profile, err := o.detector.Detect(ctx, normalized.Text)
	if err != nil {
		return nil, fmt.Errorf("store detection: %w", err)
	}

	state := o.chooseState(profile)
	o.logger.Info().
		Str("state", string(state)).
		Str("store", profileName(profile)).
		Msg("extraction strategy selected")

	var outcome *Outcome
	switch state {
	case StateTemplateMatch:
		outcome, err = o.runTemplate(profile, normalized)
	case StateHybridVerify:
		outcome, err = o.runHybrid(ctx, profile, normalized, languageHint)
	default:
		outcome, err = o.runGenerative(ctx, state, profile, normalized, languageHint)
	}
	if outcome != nil {
		outcome.Normalized = normalized
		if outcome.Result != nil {
			outcome.ItemsExtracted = len(outcome.Result.Items)
		}
	}
	return outcome, err
}

// chooseState applies the transition table to the detection result
func (o *ExtractionOrchestrator) chooseState(profile *domain.StoreProfile) State {
	if profile == nil {
		return StateUnknownStore
	}
	if profile.Confidence > o.cfg.TemplateConfidence && profile.ParserType == domain.ParserTemplate {
		return StateTemplateMatch
	}
	inBand := profile.Confidence >= o.cfg.HybridConfidence && profile.Confidence <= o.cfg.TemplateConfidence
	if inBand || profile.ParserType == domain.ParserHybrid {
		return StateHybridVerify
	}
	return StateGenerativeOnly
}

// runTemplate executes the trusted template path. The result is accepted
// as-is; a low yield is a logged signal, not a failure.
func (o *ExtractionOrchestrator) runTemplate(profile *domain.StoreProfile, normalized *NormalizedText) (*Outcome, error) {
	result, err := o.parser.Parse(normalized.Text, profile.Config, normalized.Lexicon)
	if err != nil {
		return nil, err
	}

	if result.LineYield < o.cfg.LowYieldThreshold {
		o.logger.Warn().
			Str("store", profile.Name).
			Float64("yield", result.LineYield).
			Msg(domain.ErrLowYield.Error())
	}

	result.StoreHint = profile
	result.Store = storeInfoFromProfile(profile)
	return &Outcome{Result: result, State: StateTemplateMatch}, nil
}

// runHybrid runs the template and generative legs concurrently and keeps
// the template result unless the generative item count disagrees by
// strictly more than the tolerance. At exactly the boundary the template
// result wins. A failed generative leg also falls back to the template
// result; the template leg cannot fail on content.
func (o *ExtractionOrchestrator) runHybrid(ctx context.Context, profile *domain.StoreProfile, normalized *NormalizedText, languageHint string) (*Outcome, error) {
	var templateResult, generativeResult *domain.ParseResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if profile.Config == nil {
			return nil
		}
		result, err := o.parser.Parse(normalized.Text, profile.Config, normalized.Lexicon)
		if err != nil {
			// Malformed stored config: log and let the generative leg decide
			o.logger.Error().Err(err).Str("store", profile.Name).Msg("stored template invalid")
			return nil
		}
		templateResult = result
		return nil
	})
	g.Go(func() error {
		result, err := o.extractWithRetry(gctx, domain.ExtractionRequest{
			Text:       normalized.Text,
			LocaleHint: localeHint(languageHint, profile),
			StoreHint:  profile.Name,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("store", profile.Name).Msg("generative verification unavailable")
			return nil
		}
		generativeResult = result
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chosen := o.reconcile(templateResult, generativeResult)
	if chosen == nil {
		// Both legs empty-handed: degrade like a generative failure
		return &Outcome{
			Result:       &domain.ParseResult{StoreHint: profile, Store: storeInfoFromProfile(profile)},
			State:        StateHybridVerify,
			ManualReview: true,
		}, domain.ErrExtractionFailed
	}

	chosen.Method = domain.MethodHybrid
	chosen.StoreHint = profile
	if chosen.Store.Name == "" {
		chosen.Store = storeInfoFromProfile(profile)
	}
	return &Outcome{Result: chosen, State: StateHybridVerify}, nil
}

// reconcile picks between the hybrid legs by item-count disagreement
func (o *ExtractionOrchestrator) reconcile(template, generative *domain.ParseResult) *domain.ParseResult {
	switch {
	case template == nil:
		return generative
	case generative == nil:
		return template
	}

	templateCount := len(template.Items)
	generativeCount := len(generative.Items)

	base := templateCount
	if base == 0 {
		base = 1
	}
	diff := float64(abs(generativeCount-templateCount)) / float64(base)

	o.logger.Debug().
		Int("template_items", templateCount).
		Int("generative_items", generativeCount).
		Float64("disagreement", diff).
		Msg("hybrid verification")

	if diff > o.cfg.HybridTolerance {
		return generative
	}
	return template
}

// runGenerative executes the provider-only path, degrading to the
// normalized text with the manual-review flag when both attempts fail.
func (o *ExtractionOrchestrator) runGenerative(ctx context.Context, state State, profile *domain.StoreProfile, normalized *NormalizedText, languageHint string) (*Outcome, error) {
	req := domain.ExtractionRequest{
		Text:       normalized.Text,
		LocaleHint: localeHint(languageHint, profile),
	}
	if profile != nil {
		req.StoreHint = profile.Name
	}

	result, err := o.extractWithRetry(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded receipt job: abandon without a degraded record
			return nil, ctx.Err()
		}
		o.logger.Error().Err(err).Msg("generative extraction exhausted")
		degraded := &domain.ParseResult{StoreHint: profile}
		if profile != nil {
			degraded.Store = storeInfoFromProfile(profile)
		}
		return &Outcome{
			Result:       degraded,
			State:        state,
			ManualReview: true,
		}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	result.Method = domain.MethodGenerative
	result.StoreHint = profile
	return &Outcome{Result: result, State: state}, nil
}

// extractWithRetry invokes the provider with exactly one retry on transient
// failure. Cancellation is never retried.
func (o *ExtractionOrchestrator) extractWithRetry(ctx context.Context, req domain.ExtractionRequest) (*domain.ParseResult, error) {
	result, err := o.provider.Extract(ctx, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	if !errors.Is(err, domain.ErrExtractionTimeout) && !errors.Is(err, domain.ErrExtractionProvider) {
		return nil, err
	}

	o.logger.Warn().Err(err).Msg("provider failed, retrying once")
	return o.provider.Extract(ctx, req)
}

func localeHint(languageHint string, profile *domain.StoreProfile) string {
	if languageHint != "" {
		return languageHint
	}
	if profile != nil {
		return profile.Language
	}
	return ""
}

func storeInfoFromProfile(profile *domain.StoreProfile) domain.StoreInfo {
	return domain.StoreInfo{
		Name:     profile.Name,
		Chain:    profile.Chain,
		Country:  profile.Country,
		Language: profile.Language,
		Currency: profile.Currency,
	}
}

func profileName(profile *domain.StoreProfile) string {
	if profile == nil {
		return ""
	}
	return profile.Name
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
