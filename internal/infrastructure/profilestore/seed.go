package profilestore

import (
	"context"
	"time"

	"github.com/pantrylens/backend/internal/domain"
)

// BuiltinProfiles returns the retailer profiles shipped with the service.
// The S-Group config matches their digital PDF receipts, where the quantity
// line follows the product line ("2 KPL  0,75"). The other chains start in
// hybrid mode until enough confirmations promote a learned template.
func BuiltinProfiles() []*domain.StoreProfile {
	now := time.Now()

	return []*domain.StoreProfile{
		{
			ID:                "builtin-s-group",
			Name:              "S-market",
			Chain:             "s-group",
			Country:           "FI",
			Language:          "fi",
			Currency:          "EUR",
			DetectionPatterns: []string{"S-market", "Prisma", "Sale", "Alepa", "S-ryhmä"},
			ParserType:        domain.ParserTemplate,
			Config: &domain.ParserConfig{
				ProductPattern: `^(\p{Lu}[\p{L}\d .%-]+?)\s+\d+[,.]\d{2}$`,
				QuantityRules: []domain.QuantityRule{
					{Type: domain.RuleCount, Pattern: `^(\d+)\s*(?i:KPL)\b`, Group: 1},
					{Type: domain.RuleWeight, Pattern: `^(\d+[,.]\d+)\s*(?i:KG)\b`, Group: 1},
				},
				SkipPatterns: []string{`^YHTEENSÄ`, `^PANTTI`, `^ALV\b`, `^-{2,}`},
				Structure:    domain.StructureNextLine,
			},
			Confidence:  0.75,
			SampleCount: 20,
			LastUsed:    now,
			Source:      domain.SourceBuiltin,
		},
		{
			ID:                "builtin-k-group",
			Name:              "K-Market",
			Chain:             "k-group",
			Country:           "FI",
			Language:          "fi",
			Currency:          "EUR",
			DetectionPatterns: []string{"K-Market", "K-Citymarket", "K-Supermarket"},
			ParserType:        domain.ParserHybrid,
			Confidence:        0.5,
			SampleCount:       0,
			LastUsed:          now,
			Source:            domain.SourceBuiltin,
		},
		{
			ID:                "builtin-lidl",
			Name:              "Lidl",
			Chain:             "lidl",
			Country:           "FI",
			Language:          "fi",
			Currency:          "EUR",
			DetectionPatterns: []string{"Lidl"},
			ParserType:        domain.ParserHybrid,
			Confidence:        0.5,
			SampleCount:       0,
			LastUsed:          now,
			Source:            domain.SourceBuiltin,
		},
	}
}

// Seed registers the builtin profiles in the store
func Seed(ctx context.Context, store *MemoryStore) error {
	for _, profile := range BuiltinProfiles() {
		if err := store.Create(ctx, profile); err != nil {
			return err
		}
	}
	return nil
}
