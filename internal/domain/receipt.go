package domain

import "encoding/json"

// Unit classifies how a line item is sold
type Unit string

const (
	UnitCount  Unit = "count"
	UnitWeight Unit = "weight"
	UnitVolume Unit = "volume"
)

// ParseMethod identifies which extraction strategy produced a result
type ParseMethod string

const (
	MethodTemplate   ParseMethod = "template"
	MethodGenerative ParseMethod = "generative"
	MethodHybrid     ParseMethod = "hybrid"
)

// ParsedLineItem is a single product line extracted from a receipt.
// ProductName always holds the original-language name as printed;
// NameTranslated never replaces it.
type ParsedLineItem struct {
	RawText        string   `json:"rawText"`
	ProductName    string   `json:"productName"`
	NameTranslated string   `json:"nameTranslated,omitempty"`
	Quantity       float64  `json:"quantity"`
	Unit           Unit     `json:"unit"`
	WeightKg       *float64 `json:"weightKg,omitempty"`
	VolumeL        *float64 `json:"volumeL,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	ProductID      string   `json:"productId,omitempty"` // catalog match, attached after matching
}

// StoreInfo is store metadata reported by the generative provider
type StoreInfo struct {
	Name     string `json:"name"`
	Chain    string `json:"chain,omitempty"`
	Country  string `json:"country,omitempty"`  // ISO 3166-1 alpha-2
	Language string `json:"language,omitempty"` // ISO 639-1
	Currency string `json:"currency,omitempty"` // ISO 4217
}

// ParseResult is the outcome of one extraction pass over a receipt.
// It is ephemeral: nothing beyond the audit payload outlives the request.
type ParseResult struct {
	StoreHint   *StoreProfile    `json:"storeHint,omitempty"`
	Store       StoreInfo        `json:"store"`
	Items       []ParsedLineItem `json:"items"`
	Method      ParseMethod      `json:"method,omitempty"`
	Confidence  float64          `json:"confidence"`
	LineYield   float64          `json:"lineYield,omitempty"` // parsed lines / non-blank candidate lines
	RawResponse json.RawMessage  `json:"-"`                   // opaque provider output, kept for audit
}

// MatchTier buckets a fuzzy match score into a discrete confidence level
type MatchTier string

const (
	TierExact  MatchTier = "exact"  // score == 100
	TierHigh   MatchTier = "high"   // score >= 75
	TierMedium MatchTier = "medium" // score >= 60
	TierLow    MatchTier = "low"    // score >= 50
	TierNone   MatchTier = "none"   // below 50
)

// CatalogProduct is one entry of the read-only canonical product snapshot
type CatalogProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MatchCandidate is a ranked catalog candidate for an extracted item name
type MatchCandidate struct {
	ItemName  string    `json:"itemName"`
	ProductID string    `json:"productId"`
	Catalog   string    `json:"catalogName"`
	Tier      MatchTier `json:"tier"`
	Score     float64   `json:"score"` // 0-100, higher is better
}

// ConfirmedItem is a user-confirmed line item, resolved to a catalog product
type ConfirmedItem struct {
	RawName   string `json:"rawName"`
	ProductID string `json:"productId"`
}
