package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/config"
	httpDelivery "github.com/pantrylens/backend/internal/delivery/http"
	"github.com/pantrylens/backend/internal/infrastructure/catalog"
	"github.com/pantrylens/backend/internal/infrastructure/llm"
	"github.com/pantrylens/backend/internal/infrastructure/profilestore"
	"github.com/pantrylens/backend/internal/usecase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	logger.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("provider", cfg.Provider.BaseURL).
		Msg("starting pantrylens backend v1.0.0")

	// Infrastructure
	profiles := profilestore.NewMemoryStore()
	if err := profilestore.Seed(context.Background(), profiles); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed builtin profiles")
	}
	logger.Info().Int("profiles", profiles.Size()).Msg("profile catalog ready")

	provider := llm.NewClient(llm.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         cfg.Provider.APIKey,
		Model:          cfg.Provider.Model,
		Temperature:    cfg.Provider.Temperature,
		Timeout:        cfg.Provider.Timeout,
		RequestsPerMin: cfg.RateLimit.Provider,
	}, logger)
	if cfg.Server.Environment == "development" {
		provider.SetDebug(true)
		logger.Info().Msg("provider debug mode enabled")
	}

	catalogSource := catalog.NewMemorySource(nil)

	// Usecase layer
	normalizer := usecase.NewTextNormalizer()
	parser := usecase.NewTemplateParser(logger)
	detector := usecase.NewStoreDetector(profiles, usecase.DetectorConfig{
		HeaderWindow: cfg.Extraction.HeaderWindow,
		MinScore:     cfg.Extraction.DetectionThreshold,
	}, logger)

	matcher := usecase.NewProductMatcher(usecase.MatcherConfig{
		MinScore:           cfg.Matching.MinScore,
		EnableDebugLogging: cfg.Matching.EnableDebugLogging,
	}, logger)

	orchestrator := usecase.NewExtractionOrchestrator(
		normalizer, detector, parser, provider,
		usecase.OrchestratorConfig{
			TemplateConfidence: cfg.Extraction.TemplateConfidence,
			HybridConfidence:   cfg.Extraction.HybridConfidence,
			HybridTolerance:    cfg.Extraction.HybridTolerance,
			LowYieldThreshold:  cfg.Extraction.LowYieldThreshold,
		},
		logger,
	)

	learner := usecase.NewTemplateLearner(provider, parser, matcher, profiles,
		usecase.LearnerConfig{
			MinConfirmedItems: cfg.Learning.MinConfirmedItems,
			AcceptanceRatio:   cfg.Learning.AcceptanceRatio,
			Timeout:           2 * cfg.Provider.Timeout,
		},
		logger,
	)
	scheduler := usecase.NewAsyncLearnScheduler(learner, 2*cfg.Provider.Timeout, logger)

	tracker := usecase.NewConfidenceTracker(profiles, scheduler,
		usecase.TrackerConfig{
			Alpha:              cfg.Learning.EMAAlpha,
			DemotionConfidence: cfg.Learning.DemotionConfidence,
			DemotionSamples:    cfg.Learning.DemotionSamples,
			RelearnConfidence:  cfg.Learning.RelearnConfidence,
			StalenessWindow:    cfg.Learning.StalenessWindow,
		},
		logger,
	)

	// Delivery
	handler := httpDelivery.NewHandler(orchestrator, matcher, tracker, scheduler,
		catalogSource, cfg.Learning.MinConfirmedItems, logger)
	router := httpDelivery.SetupRouter(cfg, handler)

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Info().Str("addr", addr).Msg("server listening")

	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

// newLogger builds the process logger from config
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
