package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pantrylens/backend/internal/domain"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	require.NoError(t, err)
	return body
}

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, zerolog.Nop())
}

func TestNewClient(t *testing.T) {
	client := newTestClient("http://localhost:8000/v1")

	assert.NotNil(t, client.httpClient)
	assert.NotNil(t, client.rateLimiter)
	assert.NotNil(t, client.breaker)
	assert.False(t, client.debug)

	client.SetDebug(true)
	assert.True(t, client.debug)
}

func TestExtract_Success(t *testing.T) {
	extraction := `{
		"store": {"name": "S-market Kamppi", "chain": "s-group", "country": "FI", "language": "fi", "currency": "EUR"},
		"products": [
			{"name": "MAITO 1L", "name_translated": "Milk 1L", "quantity": 2, "unit": "count", "price": 1.49},
			{"name": "BANAANI", "quantity": 0, "weight_kg": 0.755, "unit": "weight"}
		],
		"confidence": 0.9
	}`

	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		require.Len(t, req.Messages, 1)
		gotPrompt = req.Messages[0].Content

		assert.Equal(t, "test-model", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)

		w.Header().Set("Content-Type", "application/json")
		w.Write(completionBody(t, extraction))
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	result, err := client.Extract(context.Background(), domain.ExtractionRequest{
		Text:       "S-market Kamppi\nMAITO 1L  2,98\n2 KPL  1,49",
		LocaleHint: "fi",
		StoreHint:  "S-market",
	})
	require.NoError(t, err)

	assert.Equal(t, "S-market Kamppi", result.Store.Name)
	assert.Equal(t, 0.9, result.Confidence)
	require.Len(t, result.Items, 2)

	assert.Equal(t, "MAITO 1L", result.Items[0].ProductName)
	assert.Equal(t, "Milk 1L", result.Items[0].NameTranslated)
	assert.Equal(t, 2.0, result.Items[0].Quantity)
	assert.Equal(t, domain.UnitCount, result.Items[0].Unit)

	// Zero quantity defaults to one, weight carried through
	assert.Equal(t, 1.0, result.Items[1].Quantity)
	assert.Equal(t, domain.UnitWeight, result.Items[1].Unit)
	require.NotNil(t, result.Items[1].WeightKg)
	assert.Equal(t, 0.755, *result.Items[1].WeightKg)

	assert.NotEmpty(t, result.RawResponse)

	// The store and locale hints reach the prompt
	assert.Contains(t, gotPrompt, "S-market")
	assert.Contains(t, gotPrompt, `"fi"`)
}

func TestExtract_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
	assert.ErrorIs(t, err, domain.ErrExtractionProvider)
}

func TestExtract_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(completionBody(t, "not json at all"))
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
	assert.ErrorIs(t, err, domain.ErrExtractionProvider)
}

func TestExtract_EmptyCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
	assert.ErrorIs(t, err, domain.ErrExtractionProvider)
}

func TestExtract_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL: server.URL + "/v1",
		Model:   "test-model",
		Timeout: 50 * time.Millisecond,
	}, zerolog.Nop())

	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
	assert.ErrorIs(t, err, domain.ErrExtractionTimeout)
}

func TestExtract_Cancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Extract(ctx, domain.ExtractionRequest{Text: "MILK 1.49"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrExtractionTimeout), "cancellation must not report as timeout: %v", err)
}

func TestExtract_CircuitBreakerOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{
		BaseURL:        server.URL + "/v1",
		Model:          "test-model",
		Timeout:        time.Second,
		RequestsPerMin: 6000,
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
		require.Error(t, err)
	}

	// Breaker is open now; the provider never sees this call
	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: "MILK 1.49"})
	assert.ErrorIs(t, err, domain.ErrExtractionProvider)
}

func TestExtract_PromptTruncation(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req chatRequest
		json.Unmarshal(raw, &req)
		gotPrompt = req.Messages[0].Content

		w.Write(completionBody(t, `{"store":{"name":"X"},"products":[],"confidence":0.1}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	long := strings.Repeat("MAITO 1,49\n", 1000)
	_, err := client.Extract(context.Background(), domain.ExtractionRequest{Text: long})
	require.NoError(t, err)

	assert.Less(t, len(gotPrompt), len(long), "receipt text must be truncated before prompting")
}

func TestDeriveTemplate_Success(t *testing.T) {
	template := `{
		"product_pattern": "^(\\p{Lu}+)\\s+\\d+,\\d{2}$",
		"quantity_rules": [{"type": "count", "pattern": "^(\\d+)\\s*KPL", "group": 1}],
		"skip_patterns": ["^YHTEENSÄ"],
		"structure": "next_line"
	}`

	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		gotPrompt = req.Messages[0].Content

		w.Write(completionBody(t, template))
	}))
	defer server.Close()

	client := newTestClient(server.URL + "/v1")

	confirmed := []domain.ConfirmedItem{
		{RawName: "MAITO", ProductID: "p1"},
		{RawName: "LEIPA", ProductID: "p2"},
	}
	cfg, err := client.DeriveTemplate(context.Background(), "MAITO  1,49\nLEIPA  2,35", "fi", confirmed)
	require.NoError(t, err)

	assert.Equal(t, `^(\p{Lu}+)\s+\d+,\d{2}$`, cfg.ProductPattern)
	require.Len(t, cfg.QuantityRules, 1)
	assert.Equal(t, domain.RuleCount, cfg.QuantityRules[0].Type)
	assert.Equal(t, domain.StructureNextLine, cfg.Structure)

	// Confirmed item names are listed in the prompt
	assert.Contains(t, gotPrompt, "- MAITO")
	assert.Contains(t, gotPrompt, "- LEIPA")
}

func TestMapUnit(t *testing.T) {
	weight := 0.5
	volume := 1.5

	tests := []struct {
		unit     string
		weightKg *float64
		volumeL  *float64
		want     domain.Unit
	}{
		{"count", nil, nil, domain.UnitCount},
		{"pcs", nil, nil, domain.UnitCount},
		{"weight", nil, nil, domain.UnitWeight},
		{"kg", nil, nil, domain.UnitWeight},
		{"volume", nil, nil, domain.UnitVolume},
		{"l", nil, nil, domain.UnitVolume},
		{"", &weight, nil, domain.UnitWeight},
		{"", nil, &volume, domain.UnitVolume},
		{"", nil, nil, domain.UnitCount},
		{"bananas", nil, nil, domain.UnitCount},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			assert.Equal(t, tt.want, mapUnit(tt.unit, tt.weightKg, tt.volumeL))
		})
	}
}
