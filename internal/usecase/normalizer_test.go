package usecase

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	n := NewTextNormalizer()

	t.Run("strips markdown artifacts from scanned receipts", func(t *testing.T) {
		raw := "# K-Market Kamppi\n**MAITO** 1,49\n---\nLEIPÄ 2,35"

		got := n.Normalize(raw, "fi")

		if strings.Contains(got.Text, "#") || strings.Contains(got.Text, "*") {
			t.Errorf("markdown markers survived: %q", got.Text)
		}
		if !strings.Contains(got.Text, "MAITO 1,49") {
			t.Errorf("product line mangled: %q", got.Text)
		}
		if strings.Contains(got.Text, "---") {
			t.Errorf("separator line survived: %q", got.Text)
		}
	})

	t.Run("preserves line structure", func(t *testing.T) {
		raw := "S-market\r\nMAITO 1,49\r\nLEIPÄ 2,35"

		got := n.Normalize(raw, "fi")

		lines := strings.Split(got.Text, "\n")
		if len(lines) != 3 {
			t.Fatalf("line count = %d, want 3: %q", len(lines), got.Text)
		}
	})

	t.Run("detects comma decimal separator", func(t *testing.T) {
		got := n.Normalize("MAITO 1,49\nLEIPÄ 2,35", "fi")
		if got.DecimalSeparator != ',' {
			t.Errorf("DecimalSeparator = %q, want ','", got.DecimalSeparator)
		}
	})

	t.Run("detects dot decimal separator", func(t *testing.T) {
		got := n.Normalize("MILK 1.49\nBREAD 2.35\nEGGS 3.99", "en")
		if got.DecimalSeparator != '.' {
			t.Errorf("DecimalSeparator = %q, want '.'", got.DecimalSeparator)
		}
	})

	t.Run("defaults to comma when undetectable", func(t *testing.T) {
		got := n.Normalize("MAITO\nLEIPÄ", "fi")
		if got.DecimalSeparator != ',' {
			t.Errorf("DecimalSeparator = %q, want ',' default", got.DecimalSeparator)
		}
	})

	t.Run("strips thousand separators opposite the decimal", func(t *testing.T) {
		got := n.Normalize("TV 1.234,56", "de")
		if !strings.Contains(got.Text, "1234,56") {
			t.Errorf("thousand separator survived: %q", got.Text)
		}
	})

	t.Run("collapses blank line runs", func(t *testing.T) {
		got := n.Normalize("MAITO 1,49\n\n\n\n\nLEIPÄ 2,35", "fi")
		if strings.Contains(got.Text, "\n\n\n") {
			t.Errorf("blank run survived: %q", got.Text)
		}
	})

	t.Run("never fails on garbage input", func(t *testing.T) {
		got := n.Normalize("\x00\x01�", "zz")
		if got == nil || got.Lexicon == nil {
			t.Fatal("expected a result with a lexicon for any input")
		}
	})
}

func TestLexiconFor(t *testing.T) {
	t.Run("known language", func(t *testing.T) {
		lex := LexiconFor("fi")
		if lex.Language != "fi" {
			t.Errorf("Language = %v, want fi", lex.Language)
		}
	})

	t.Run("case and whitespace tolerant", func(t *testing.T) {
		lex := LexiconFor("  FI ")
		if lex.Language != "fi" {
			t.Errorf("Language = %v, want fi", lex.Language)
		}
	})

	t.Run("unknown language falls back to merged default", func(t *testing.T) {
		lex := LexiconFor("xx")
		if lex.Language != "und" {
			t.Errorf("Language = %v, want und", lex.Language)
		}
		// The merged lexicon still catches totals lines in every known locale
		found := map[string]bool{}
		for _, w := range lex.SkipWords {
			found[w] = true
		}
		for _, want := range []string{"YHTEENSÄ", "SUMME", "TOTAL"} {
			if !found[want] {
				t.Errorf("default lexicon missing skip word %q", want)
			}
		}
	})

	t.Run("empty language falls back", func(t *testing.T) {
		if lex := LexiconFor(""); lex.Language != "und" {
			t.Errorf("Language = %v, want und", lex.Language)
		}
	})
}

func TestFoldDiacritics(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"MAITOJUOMA", "MAITOJUOMA"},
		{"LEIPÄ", "LEIPA"},
		{"RÄTTVIST KAFFE", "RATTVIST KAFFE"},
		{"jogurt naturalny", "jogurt naturalny"},
	}

	for _, tt := range tests {
		if got := FoldDiacritics(tt.in); got != tt.want {
			t.Errorf("FoldDiacritics(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
