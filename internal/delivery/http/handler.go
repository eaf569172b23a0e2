package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
	"github.com/pantrylens/backend/internal/usecase"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	orchestrator      *usecase.ExtractionOrchestrator
	matcher           *usecase.ProductMatcher
	tracker           *usecase.ConfidenceTracker
	scheduler         usecase.RelearnScheduler
	catalog           domain.CatalogSource
	minConfirmedItems int
	logger            zerolog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orchestrator *usecase.ExtractionOrchestrator,
	matcher *usecase.ProductMatcher,
	tracker *usecase.ConfidenceTracker,
	scheduler usecase.RelearnScheduler,
	catalog domain.CatalogSource,
	minConfirmedItems int,
	logger zerolog.Logger,
) *Handler {
	if minConfirmedItems <= 0 {
		minConfirmedItems = 3
	}
	return &Handler{
		orchestrator:      orchestrator,
		matcher:           matcher,
		tracker:           tracker,
		scheduler:         scheduler,
		catalog:           catalog,
		minConfirmedItems: minConfirmedItems,
		logger:            logger.With().Str("component", "http_handler").Logger(),
	}
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "pantrylens-backend",
		"version": "1.0.0",
	})
}

// processRequest is the body of POST /receipts/process
type processRequest struct {
	Text     string `json:"text" binding:"required"`
	Language string `json:"language,omitempty"`
}

// processResponse carries the extraction outcome plus catalog matches
type processResponse struct {
	State          string                  `json:"state"`
	Method         string                  `json:"method,omitempty"`
	ManualReview   bool                    `json:"manualReview"`
	NormalizedText string                  `json:"normalizedText"`
	Store          domain.StoreInfo        `json:"store"`
	ProfileID      string                  `json:"profileId,omitempty"`
	Items          []domain.ParsedLineItem `json:"items"`
	Matches        []domain.MatchCandidate `json:"matches"`
	ItemsExtracted int                     `json:"itemsExtracted"`
	ItemsMatched   int                     `json:"itemsMatched"`
	Confidence     float64                 `json:"confidence"`
}

// ProcessReceipt runs the extraction pipeline over raw receipt text and
// attaches catalog matches to the extracted items. A total extraction
// failure still answers 200 with the normalized text and the manual-review
// flag; the upload is never dropped.
func (h *Handler) ProcessReceipt(c *gin.Context) {
	if h.orchestrator == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "extraction pipeline not configured"})
		return
	}

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	outcome, err := h.orchestrator.Process(c.Request.Context(), req.Text, req.Language)
	if err != nil && !errors.Is(err, domain.ErrExtractionFailed) {
		h.logger.Error().Err(err).Msg("receipt processing failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "receipt processing failed"})
		return
	}

	resp := processResponse{
		State:        string(outcome.State),
		ManualReview: outcome.ManualReview,
	}
	if outcome.Normalized != nil {
		resp.NormalizedText = outcome.Normalized.Text
	}

	result := outcome.Result
	if result != nil {
		resp.Method = string(result.Method)
		resp.Store = result.Store
		resp.Confidence = result.Confidence
		if result.StoreHint != nil {
			resp.ProfileID = result.StoreHint.ID
		}

		resp.Matches = h.attachMatches(c, result)
		resp.Items = result.Items
		resp.ItemsExtracted = len(result.Items)
		resp.ItemsMatched = len(resp.Matches)
	}

	c.JSON(http.StatusOK, resp)
}

// attachMatches resolves each extracted item against the catalog snapshot
// and stamps matched product ids onto the items.
func (h *Handler) attachMatches(c *gin.Context, result *domain.ParseResult) []domain.MatchCandidate {
	if h.catalog == nil || len(result.Items) == 0 {
		return nil
	}

	snapshot, err := h.catalog.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("catalog snapshot unavailable")
		return nil
	}

	var matches []domain.MatchCandidate
	for i := range result.Items {
		best, err := h.matcher.BestMatch(result.Items[i].ProductName, snapshot)
		if err != nil {
			continue
		}
		result.Items[i].ProductID = best.ProductID
		matches = append(matches, *best)
	}
	return matches
}

// confirmRequest is the body of POST /receipts/confirm
type confirmRequest struct {
	ProfileID string                  `json:"profileId,omitempty"`
	Text      string                  `json:"text" binding:"required"`
	Method    string                  `json:"method" binding:"required"`
	Store     domain.StoreInfo        `json:"store"`
	Items     []domain.ParsedLineItem `json:"items"`
	Confirmed []domain.ConfirmedItem  `json:"confirmed" binding:"required"`
	Relearn   bool                    `json:"relearn,omitempty"` // explicit re-learn request
}

// ConfirmReceipt folds a user confirmation into the profile's confidence
// and, when the extraction came from the generative or hybrid path with
// enough confirmed items, schedules template learning in the background.
// The response returns as soon as the synchronous confidence write commits.
func (h *Handler) ConfirmReceipt(c *gin.Context) {
	if h.tracker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "confirmation flow not configured"})
		return
	}

	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text, method and confirmed items are required"})
		return
	}

	method := domain.ParseMethod(req.Method)
	result := &domain.ParseResult{Items: req.Items, Method: method}

	var updated *domain.StoreProfile
	if req.ProfileID != "" {
		var err error
		updated, err = h.tracker.Update(c.Request.Context(), req.ProfileID, req.Text, result, req.Confirmed)
		switch {
		case errors.Is(err, domain.ErrProfileNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown profile"})
			return
		case errors.Is(err, domain.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			h.logger.Error().Err(err).Str("profile", req.ProfileID).Msg("confidence update failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "confidence update failed"})
			return
		}

		if req.Relearn {
			h.tracker.RequestRelearn(updated, req.Text, result, req.Confirmed)
		}
	}

	learningScheduled := h.maybeScheduleLearning(req, method)

	resp := gin.H{"learningScheduled": learningScheduled}
	if updated != nil {
		resp["profile"] = updated
	}
	c.JSON(http.StatusOK, resp)
}

// maybeScheduleLearning starts first-time template learning for receipts
// extracted generatively from stores without a promoted template.
func (h *Handler) maybeScheduleLearning(req confirmRequest, method domain.ParseMethod) bool {
	if h.scheduler == nil {
		return false
	}
	if method != domain.MethodGenerative && method != domain.MethodHybrid {
		return false
	}
	if len(req.Confirmed) < h.minConfirmedItems {
		return false
	}

	h.scheduler.Schedule(usecase.LearnRequest{
		Text:      req.Text,
		Language:  req.Store.Language,
		Store:     req.Store,
		Method:    method,
		Confirmed: req.Confirmed,
		ProfileID: req.ProfileID,
	})
	return true
}

// matchRequest is the body of POST /products/match
type matchRequest struct {
	Name    string                  `json:"name" binding:"required"`
	Catalog []domain.CatalogProduct `json:"catalog,omitempty"` // overrides the snapshot, for ad hoc lookups
	Limit   int                     `json:"limit,omitempty"`
}

// MatchProduct returns the ranked catalog candidates for one product name
func (h *Handler) MatchProduct(c *gin.Context) {
	if h.matcher == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "matcher not configured"})
		return
	}

	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	catalog := req.Catalog
	if len(catalog) == 0 && h.catalog != nil {
		snapshot, err := h.catalog.Snapshot(c.Request.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("catalog snapshot unavailable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog unavailable"})
			return
		}
		catalog = snapshot
	}

	candidates := h.matcher.Match(req.Name, catalog)
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	c.JSON(http.StatusOK, gin.H{
		"name":       req.Name,
		"candidates": candidates,
	})
}
