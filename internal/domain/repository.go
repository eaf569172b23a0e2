package domain

import "context"

// ProfileRepository is the store profile catalog. Writes use optimistic
// concurrency: CompareAndUpdate commits only if the stored profile's
// SampleCount still equals expectedSampleCount, otherwise ErrVersionConflict.
type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (*StoreProfile, error)
	List(ctx context.Context) ([]*StoreProfile, error)
	Create(ctx context.Context, profile *StoreProfile) error
	CompareAndUpdate(ctx context.Context, profile *StoreProfile, expectedSampleCount int) error
}

// ExtractionRequest is the input to the generative provider
type ExtractionRequest struct {
	Text       string
	LocaleHint string
	StoreHint  string // detected but low-confidence store name, if any
}

// GenerativeExtractor is the narrow contract to the external model-based
// extraction service. Implementations must preserve original-language
// product names and distinguish timeout from malformed-output failures.
type GenerativeExtractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ParseResult, error)
}

// TemplateDeriver asks the generative service for a candidate parser config
// given a confirmed extraction. Used only by the learner; the candidate is
// never persisted without re-parse validation.
type TemplateDeriver interface {
	DeriveTemplate(ctx context.Context, text string, locale string, confirmed []ConfirmedItem) (*ParserConfig, error)
}

// CatalogSource provides a read-only snapshot of canonical product names.
// The matcher has no write-back responsibility.
type CatalogSource interface {
	Snapshot(ctx context.Context) ([]CatalogProduct, error)
}
