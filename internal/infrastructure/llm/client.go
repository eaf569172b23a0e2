// Package llm implements the generative extraction provider client against
// an OpenAI-compatible chat completions API with structured JSON output.
// The provider is external, slow, and occasionally unreliable, so the client
// carries a hard per-call timeout, a rate limiter, and a circuit breaker,
// and maps failures onto the timeout/provider error taxonomy.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pantrylens/backend/internal/domain"
)

// promptTextLimit caps how much receipt text goes into a prompt
const promptTextLimit = 4000

// extractionPrompt is language-agnostic: product names stay in the original
// language, only quantity/unit/metadata fields are structured by the model.
const extractionPrompt = `Analyze this grocery store receipt and extract the products.

Receipt text:
` + "```\n%s\n```" + `

This receipt may be in any language. Extract each product with:
- name: Product name as written (preserve original language)
- name_translated: English translation if not already English (optional)
- quantity: Number of items (default 1)
- weight_kg: Weight in kg if sold by weight (null otherwise)
- volume_l: Volume in liters if applicable (null otherwise)
- unit: "count", "weight", or "volume"
- price: Price in local currency (optional)

Also identify:
- store_name: The store name from the header
- store_chain: Parent chain if identifiable
- country: Country code (ISO 3166-1 alpha-2)
- language: Primary language of receipt (ISO 639-1)
- currency: Currency code (ISO 4217)

Important:
- Preserve original product names (don't translate the name field)
- Recognize quantity words in any language (pcs, KPL, Stk, st, szt, шт, 個, pièces)
- Recognize weight/volume units (kg, g, l, ml, oz, lb)
- Handle various decimal separators (. or ,)
- Skip totals, tax lines, deposits, payment info regardless of language
- Only extract actual grocery products

Be conservative - if you're not sure something is a product, skip it.`

// templatePrompt asks for a deterministic parser config that would have
// reproduced a confirmed extraction.
const templatePrompt = `You are deriving a deterministic parsing template for a grocery receipt format.

Receipt text:
` + "```\n%s\n```" + `

The following products were confirmed correct for this receipt:
%s

Produce a parser configuration with:
- product_pattern: a Go regular expression matching product lines, with the product name in capture group 1
- quantity_rules: ordered list of {type: "count"|"weight"|"volume", pattern: Go regex, group: capture group index of the numeric value}
- skip_patterns: Go regexes for non-product lines (totals, tax, payment)
- structure: "same_line", "next_line", or "indented" - where quantity info sits relative to the product line

The patterns must match the receipt text above exactly as written.`

// Client talks to the generative extraction provider
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	timeout     time.Duration
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[[]byte]
	logger      zerolog.Logger
	debug       bool
}

// Config holds provider client configuration
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	RequestsPerMin int
}

// NewClient creates a provider client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	perMin := cfg.RequestsPerMin
	if perMin <= 0 {
		perMin = 60
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "generative-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		// The outer context deadline governs each call; no transport timeout
		httpClient:  &http.Client{},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(perMin)/60.0), 5),
		breaker:     breaker,
		logger:      logger.With().Str("component", "llm_client").Logger(),
	}
}

// SetDebug enables request/response debug logging
func (c *Client) SetDebug(enabled bool) {
	c.debug = enabled
}

// Extract sends the receipt text to the provider and returns the parsed
// result. The raw provider body is preserved for audit. Timeout expiry maps
// to ErrExtractionTimeout, malformed or empty output to ErrExtractionProvider.
func (c *Client) Extract(ctx context.Context, req domain.ExtractionRequest) (*domain.ParseResult, error) {
	prompt := fmt.Sprintf(extractionPrompt, truncate(req.Text, promptTextLimit))
	if req.StoreHint != "" {
		prompt += fmt.Sprintf("\n\nNote: This receipt appears to be from %s. Use this to help identify the store chain and format.", req.StoreHint)
	}
	if req.LocaleHint != "" {
		prompt += fmt.Sprintf("\n\nThe receipt language is likely %q.", req.LocaleHint)
	}

	content, err := c.complete(ctx, prompt, extractionSchema)
	if err != nil {
		return nil, err
	}

	var payload extractionPayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("%w: undecodable extraction payload: %v", domain.ErrExtractionProvider, err)
	}

	result := payload.toDomain()
	result.RawResponse = content

	if c.debug {
		c.logger.Debug().
			Int("items", len(result.Items)).
			Str("store", result.Store.Name).
			Float64("confidence", result.Confidence).
			Msg("extraction response")
	}

	return result, nil
}

// DeriveTemplate asks the provider for a candidate parser config. The
// caller validates the candidate by re-parsing before persisting anything.
func (c *Client) DeriveTemplate(ctx context.Context, text string, locale string, confirmed []domain.ConfirmedItem) (*domain.ParserConfig, error) {
	names := make([]string, 0, len(confirmed))
	for _, item := range confirmed {
		names = append(names, "- "+item.RawName)
	}

	prompt := fmt.Sprintf(templatePrompt, truncate(text, promptTextLimit), strings.Join(names, "\n"))
	if locale != "" {
		prompt += fmt.Sprintf("\n\nThe receipt language is %q.", locale)
	}

	content, err := c.complete(ctx, prompt, templateSchema)
	if err != nil {
		return nil, err
	}

	var payload templatePayload
	if err := json.Unmarshal(content, &payload); err != nil {
		return nil, fmt.Errorf("%w: undecodable template payload: %v", domain.ErrExtractionProvider, err)
	}

	return payload.toDomain(), nil
}

// complete performs one chat completion with structured output and returns
// the message content bytes.
func (c *Client) complete(ctx context.Context, prompt string, schema json.RawMessage) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, c.classify(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaSpec{
				Name:   "receipt_extraction",
				Schema: schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, err
	}

	content, err := c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(callCtx, body)
	})
	if err != nil {
		return nil, c.classify(err)
	}
	return content, nil
}

// doRequest executes the HTTP call and unwraps the completion content
func (c *Client) doRequest(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("User-Agent", "PantryLens/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Bytes("body", respBody).Msg("provider error response")
		return nil, fmt.Errorf("%w: status %d", domain.ErrExtractionProvider, resp.StatusCode)
	}

	var completion chatResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, fmt.Errorf("%w: undecodable completion: %v", domain.ErrExtractionProvider, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty completion", domain.ErrExtractionProvider)
	}

	return []byte(completion.Choices[0].Message.Content), nil
}

// classify maps transport and breaker failures onto the error taxonomy
func (c *Client) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrExtractionProvider), errors.Is(err, domain.ErrExtractionTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrExtractionTimeout, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return fmt.Errorf("%w: %v", domain.ErrExtractionProvider, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrExtractionProvider, err)
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
