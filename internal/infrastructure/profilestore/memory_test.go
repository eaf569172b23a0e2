package profilestore

import (
	"context"
	"errors"
	"testing"

	"github.com/pantrylens/backend/internal/domain"
)

func sampleProfile(id string, samples int) *domain.StoreProfile {
	return &domain.StoreProfile{
		ID:                id,
		Name:              "S-market",
		DetectionPatterns: []string{"S-market"},
		ParserType:        domain.ParserTemplate,
		Config: &domain.ParserConfig{
			ProductPattern: `^(\p{Lu}+)\s+\d+,\d{2}$`,
			Structure:      domain.StructureSameLine,
		},
		Confidence:  0.5,
		SampleCount: samples,
		Source:      domain.SourceBuiltin,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("get after create", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, sampleProfile("a", 3)); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.GetByID(ctx, "a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.ID != "a" || got.SampleCount != 3 {
			t.Errorf("got %+v, want the created profile", got)
		}
	})

	t.Run("missing profile", func(t *testing.T) {
		store := NewMemoryStore()
		if _, err := store.GetByID(ctx, "nope"); !errors.Is(err, domain.ErrProfileNotFound) {
			t.Errorf("error = %v, want ErrProfileNotFound", err)
		}
	})

	t.Run("create rejects empty id", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, &domain.StoreProfile{}); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("list is id ordered", func(t *testing.T) {
		store := NewMemoryStore()
		for _, id := range []string{"c", "a", "b"} {
			if err := store.Create(ctx, sampleProfile(id, 0)); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		got, err := store.List(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
			t.Errorf("list order = %v, want a,b,c", []string{got[0].ID, got[1].ID, got[2].ID})
		}
	})

	t.Run("returned profiles are isolated copies", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, sampleProfile("a", 3)); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, _ := store.GetByID(ctx, "a")
		got.Confidence = 0.99
		got.Config.ProductPattern = "mutated"

		again, _ := store.GetByID(ctx, "a")
		if again.Confidence != 0.5 {
			t.Errorf("Confidence = %v, caller mutation leaked into the store", again.Confidence)
		}
		if again.Config.ProductPattern == "mutated" {
			t.Error("Config mutation leaked into the store")
		}
	})
}

func TestCompareAndUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on matching sample count", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, sampleProfile("a", 3)); err != nil {
			t.Fatalf("create: %v", err)
		}

		next := sampleProfile("a", 4)
		next.Confidence = 0.6
		if err := store.CompareAndUpdate(ctx, next, 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, _ := store.GetByID(ctx, "a")
		if got.SampleCount != 4 || got.Confidence != 0.6 {
			t.Errorf("got %+v, want committed update", got)
		}
	})

	t.Run("conflicting write is rejected untouched", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Create(ctx, sampleProfile("a", 5)); err != nil {
			t.Fatalf("create: %v", err)
		}

		// A writer that read the profile at sample count 3 lost the race
		stale := sampleProfile("a", 4)
		err := store.CompareAndUpdate(ctx, stale, 3)
		if !errors.Is(err, domain.ErrVersionConflict) {
			t.Fatalf("error = %v, want ErrVersionConflict", err)
		}

		got, _ := store.GetByID(ctx, "a")
		if got.SampleCount != 5 {
			t.Errorf("SampleCount = %v, stored profile was touched by a rejected write", got.SampleCount)
		}
	})

	t.Run("missing profile", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.CompareAndUpdate(ctx, sampleProfile("ghost", 1), 0)
		if !errors.Is(err, domain.ErrProfileNotFound) {
			t.Errorf("error = %v, want ErrProfileNotFound", err)
		}
	})
}

func TestSeed(t *testing.T) {
	store := NewMemoryStore()
	if err := Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if store.Size() != 3 {
		t.Errorf("size = %d, want 3 builtin profiles", store.Size())
	}

	sgroup, err := store.GetByID(context.Background(), "builtin-s-group")
	if err != nil {
		t.Fatalf("s-group profile missing: %v", err)
	}
	if sgroup.ParserType != domain.ParserTemplate || sgroup.Config == nil {
		t.Errorf("s-group profile = %+v, want a template profile with config", sgroup)
	}
}
