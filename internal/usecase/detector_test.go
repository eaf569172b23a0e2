package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
	"github.com/pantrylens/backend/internal/infrastructure/profilestore"
)

func testProfile(id, name string, patterns []string, confidence float64, samples int) *domain.StoreProfile {
	return &domain.StoreProfile{
		ID:                id,
		Name:              name,
		DetectionPatterns: patterns,
		ParserType:        domain.ParserHybrid,
		Confidence:        confidence,
		SampleCount:       samples,
		LastUsed:          time.Now(),
		Source:            domain.SourceBuiltin,
	}
}

func newDetector(t *testing.T, profiles ...*domain.StoreProfile) *StoreDetector {
	t.Helper()
	store := profilestore.NewMemoryStore()
	for _, p := range profiles {
		if err := store.Create(context.Background(), p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}
	return NewStoreDetector(store, DetectorConfig{}, zerolog.Nop())
}

func TestDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("detects store from header", func(t *testing.T) {
		d := newDetector(t,
			testProfile("s-group", "S-market", []string{"S-market", "Prisma"}, 0.75, 20),
			testProfile("lidl", "Lidl", []string{"Lidl"}, 0.5, 0),
		)

		got, err := d.Detect(ctx, "S-market Herttoniemi\nMAITO 1,49\nYHTEENSÄ 1,49")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != "s-group" {
			t.Fatalf("got %+v, want s-group profile", got)
		}
	})

	t.Run("case and diacritic insensitive", func(t *testing.T) {
		d := newDetector(t,
			testProfile("s-group", "S-market", []string{"S-ryhmä"}, 0.75, 20),
		)

		got, err := d.Detect(ctx, "S-RYHMA OSUUSKAUPPA\nMAITO 1,49")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != "s-group" {
			t.Fatalf("got %+v, want s-group profile", got)
		}
	})

	t.Run("returns nil below the score threshold", func(t *testing.T) {
		// Even a whole-token hit cannot carry a distrusted profile over 0.3
		d := newDetector(t,
			testProfile("sale", "Sale", []string{"Sale"}, 0.3, 0),
		)

		got, err := d.Detect(ctx, "Sale Kallio\nMAITO 1,49")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %v, want nil for sub-threshold score", got.ID)
		}
	})

	t.Run("returns nil for unknown store", func(t *testing.T) {
		d := newDetector(t,
			testProfile("s-group", "S-market", []string{"S-market"}, 0.75, 20),
		)

		got, err := d.Detect(ctx, "Mercadona Valencia\nLECHE 1.05")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %v, want nil for unknown store", got.ID)
		}
	})

	t.Run("returns nil for empty header", func(t *testing.T) {
		d := newDetector(t,
			testProfile("s-group", "S-market", []string{"S-market"}, 0.75, 20),
		)

		got, err := d.Detect(ctx, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %v, want nil for empty header", got.ID)
		}
	})

	t.Run("ties broken by higher sample count", func(t *testing.T) {
		d := newDetector(t,
			testProfile("a-fresh", "K-Citymarket", []string{"K-Citymarket"}, 0.6, 2),
			testProfile("b-seasoned", "K-Citymarket", []string{"K-Citymarket"}, 0.6, 40),
		)

		got, err := d.Detect(ctx, "K-Citymarket Ruoholahti\nMAITO 1,49")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil || got.ID != "b-seasoned" {
			t.Fatalf("got %+v, want the higher-sample profile", got)
		}
	})

	t.Run("every builtin seed is detectable from its own header", func(t *testing.T) {
		store := profilestore.NewMemoryStore()
		if err := profilestore.Seed(ctx, store); err != nil {
			t.Fatalf("seed: %v", err)
		}
		d := NewStoreDetector(store, DetectorConfig{}, zerolog.Nop())

		headers := map[string]string{
			"builtin-s-group": "S-market Herttoniemi\nMAITO 1,49",
			"builtin-k-group": "K-Market Keskusta\nMAITO 1,49",
			"builtin-lidl":    "Lidl Helsinki-Kamppi\nMAITO 1,49",
		}
		for wantID, header := range headers {
			got, err := d.Detect(ctx, header)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", wantID, err)
			}
			if got == nil || got.ID != wantID {
				t.Errorf("header %q detected %+v, want %s", header, got, wantID)
			}
		}
	})

	t.Run("short pattern inside a longer word is not a whole hit", func(t *testing.T) {
		d := newDetector(t,
			testProfile("lidl", "Lidl", []string{"Lidl"}, 0.5, 0),
		)

		got, err := d.Detect(ctx, "Solidlife Organics\nMILK 1.49")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %v, want nil for a substring-only hit", got.ID)
		}
	})

	t.Run("ignores patterns outside the header window", func(t *testing.T) {
		d := newDetector(t,
			testProfile("lidl", "Lidl", []string{"Lidl Plus"}, 0.9, 10),
		)

		// Push the store name past the inspected window
		var filler string
		for i := 0; i < 30; i++ {
			filler += "MAITOJUOMA LAKTOOSITON 1,49\n"
		}

		got, err := d.Detect(ctx, filler+"Lidl Plus")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("got %v, want nil when pattern is past the header window", got.ID)
		}
	})
}

func TestPatternSpecificity(t *testing.T) {
	tests := []struct {
		pattern string
		want    float64
	}{
		{"K-Citymarket", 1.0}, // saturates at 12 runes
		{"Lidl", 4.0 / 12.0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := patternSpecificity(tt.pattern); got != tt.want {
			t.Errorf("patternSpecificity(%q) = %v, want %v", tt.pattern, got, tt.want)
		}
	}
}
