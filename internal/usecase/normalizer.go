package usecase

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Compiled regex patterns for text normalization
var (
	// Lines consisting only of separator characters (OCR rules, markdown hrules)
	separatorLinePattern = regexp.MustCompile(`^[\s\-=_*~.|]+$`)

	// Markdown emphasis/heading markers that OCR-to-markdown services emit
	markdownMarkerPattern = regexp.MustCompile(`(^#{1,6}\s+)|(\*{1,2})|(^>\s+)`)

	// Thousand separators inside numbers: "1.234,56" or "1,234.56"
	dotThousandsPattern   = regexp.MustCompile(`(\d)\.(\d{3})([,\s]|$)`)
	commaThousandsPattern = regexp.MustCompile(`(\d),(\d{3})([.\s]|$)`)

	// Decimal occurrences used for separator detection
	commaDecimalPattern = regexp.MustCompile(`\d,\d{1,2}(\D|$)`)
	dotDecimalPattern   = regexp.MustCompile(`\d\.\d{1,2}(\D|$)`)

	// Trailing run of blank lines collapsed to one
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// Lexicon holds the locale-specific vocabulary used downstream of
// normalization: words marking non-product lines and quantity words.
type Lexicon struct {
	Language      string
	SkipWords     []string // totals, tax, payment, deposit lines
	QuantityWords []string // per-piece markers ("KPL", "Stk", "szt", ...)
}

// NormalizedText is the normalizer output. Text keeps the receipt's line
// structure; DecimalSeparator is what the receipt itself uses.
type NormalizedText struct {
	Text             string
	DecimalSeparator rune
	Lexicon          *Lexicon
}

// lexicons is the built-in locale table. Unknown languages fall back to the
// default entry; normalization never fails.
var lexicons = map[string]*Lexicon{
	"fi": {
		Language: "fi",
		SkipWords: []string{
			"YHTEENSÄ", "ALENNUS", "PANTTI", "ALV", "KORTTI", "KÄTEINEN",
			"SAADUT BONUKSET", "VERO", "MAKSETTU", "KUITTI", "AVOIN",
		},
		QuantityWords: []string{"KPL", "KG", "L"},
	},
	"de": {
		Language: "de",
		SkipWords: []string{
			"SUMME", "GESAMT", "RABATT", "PFAND", "MWST", "KARTE", "BAR",
			"RÜCKGELD", "ZWISCHENSUMME", "BON",
		},
		QuantityWords: []string{"STK", "ST", "KG", "L"},
	},
	"sv": {
		Language: "sv",
		SkipWords: []string{
			"TOTALT", "SUMMA", "RABATT", "PANT", "MOMS", "KORT", "KONTANT",
			"ÅTER",
		},
		QuantityWords: []string{"ST", "KG", "L"},
	},
	"pl": {
		Language: "pl",
		SkipWords: []string{
			"SUMA", "RAZEM", "RABAT", "KAUCJA", "PTU", "KARTA", "GOTÓWKA",
			"RESZTA", "PARAGON",
		},
		QuantityWords: []string{"SZT", "KG", "L"},
	},
	"en": {
		Language: "en",
		SkipWords: []string{
			"TOTAL", "SUBTOTAL", "DISCOUNT", "DEPOSIT", "TAX", "VAT", "CARD",
			"CASH", "CHANGE", "BALANCE", "PAYMENT", "RECEIPT", "THANK YOU",
		},
		QuantityWords: []string{"PCS", "PC", "CT", "EA", "LB", "OZ"},
	},
}

// defaultLexicon covers receipts whose language we cannot place. It merges
// the skip vocabulary of every known locale so totals lines are still caught.
var defaultLexicon = buildDefaultLexicon()

func buildDefaultLexicon() *Lexicon {
	merged := &Lexicon{Language: "und"}
	seen := make(map[string]bool)
	for _, lex := range lexicons {
		for _, w := range lex.SkipWords {
			if !seen[w] {
				merged.SkipWords = append(merged.SkipWords, w)
				seen[w] = true
			}
		}
		for _, w := range lex.QuantityWords {
			key := "q:" + w
			if !seen[key] {
				merged.QuantityWords = append(merged.QuantityWords, w)
				seen[key] = true
			}
		}
	}
	return merged
}

// TextNormalizer performs locale-aware cleanup of raw extracted receipt text
type TextNormalizer struct{}

// NewTextNormalizer creates a text normalizer
func NewTextNormalizer() *TextNormalizer {
	return &TextNormalizer{}
}

// Normalize cleans raw OCR text and resolves the active locale. It never
// fails: an unknown language hint falls back to the default lexicon and an
// undetectable decimal separator defaults to ','.
func (n *TextNormalizer) Normalize(raw string, languageHint string) *NormalizedText {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = stripArtifacts(line)
		lines = append(lines, line)
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	sep := detectDecimalSeparator(text)
	text = stripThousandSeparators(text, sep)

	return &NormalizedText{
		Text:             text,
		DecimalSeparator: sep,
		Lexicon:          LexiconFor(languageHint),
	}
}

// LexiconFor returns the lexicon for an ISO 639-1 language code, or the
// default lexicon when the language is unknown or empty.
func LexiconFor(language string) *Lexicon {
	if lex, ok := lexicons[strings.ToLower(strings.TrimSpace(language))]; ok {
		return lex
	}
	return defaultLexicon
}

// stripArtifacts removes scanning and OCR-to-markdown noise from one line
func stripArtifacts(line string) string {
	if separatorLinePattern.MatchString(line) && strings.TrimSpace(line) != "" {
		return ""
	}

	line = markdownMarkerPattern.ReplaceAllString(line, "")

	// Drop control and non-printing characters OCR sometimes injects
	var b strings.Builder
	for _, r := range line {
		if unicode.IsControl(r) && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}

	return strings.TrimRight(b.String(), " \t")
}

// detectDecimalSeparator counts decimal-looking occurrences of each
// separator. Receipts are internally consistent, so the majority wins;
// comma is the default for the European formats this system sees most.
func detectDecimalSeparator(text string) rune {
	commas := len(commaDecimalPattern.FindAllString(text, -1))
	dots := len(dotDecimalPattern.FindAllString(text, -1))
	if dots > commas {
		return '.'
	}
	return ','
}

// stripThousandSeparators removes grouping separators so "1.234,56" reads
// "1234,56". Only the separator opposite the decimal one is treated as
// grouping.
func stripThousandSeparators(text string, decimalSep rune) string {
	if decimalSep == ',' {
		return dotThousandsPattern.ReplaceAllString(text, "$1$2$3")
	}
	return commaThousandsPattern.ReplaceAllString(text, "$1$2$3")
}

// foldTransformer strips diacritic marks after canonical decomposition so
// accented and plain spellings compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics returns s with combining marks removed ("ä" -> "a").
// Shared by the matcher and detector so encoding differences between the
// catalog and OCR output never degrade scores.
func FoldDiacritics(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return folded
}
