package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/pantrylens/backend/internal/domain"
)

// TemplateParser extracts line items by interpreting a retailer's
// ParserConfig. One generic parser over tagged rule records replaces
// per-store code modules. Parsing is purely deterministic and never fails
// on malformed receipt content: a poor match yields a partial or empty item
// list and a low line-yield ratio, and the caller decides what to do.
type TemplateParser struct {
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewTemplateParser creates a template parser
func NewTemplateParser(logger zerolog.Logger) *TemplateParser {
	return &TemplateParser{
		validate: validator.New(),
		logger:   logger.With().Str("component", "template_parser").Logger(),
	}
}

// compiledConfig is a ParserConfig with all patterns compiled
type compiledConfig struct {
	product   *regexp.Regexp
	rules     []compiledRule
	skips     []*regexp.Regexp
	structure domain.StructureMode
}

type compiledRule struct {
	typ     domain.QuantityRuleType
	pattern *regexp.Regexp
	group   int
}

// compile validates a parser config and compiles its patterns. A config that
// fails validation or whose patterns do not compile is the only way this
// parser can error.
func (p *TemplateParser) compile(cfg *domain.ParserConfig) (*compiledConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", domain.ErrInvalidParserConfig)
	}

	if err := p.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidParserConfig, err)
	}

	product, err := regexp.Compile(cfg.ProductPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: product pattern: %v", domain.ErrInvalidParserConfig, err)
	}

	compiled := &compiledConfig{
		product:   product,
		structure: cfg.Structure,
	}

	for _, rule := range cfg.QuantityRules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity pattern %q: %v", domain.ErrInvalidParserConfig, rule.Pattern, err)
		}
		if rule.Group > re.NumSubexp() {
			return nil, fmt.Errorf("%w: quantity pattern %q has no group %d", domain.ErrInvalidParserConfig, rule.Pattern, rule.Group)
		}
		compiled.rules = append(compiled.rules, compiledRule{typ: rule.Type, pattern: re, group: rule.Group})
	}

	for _, skip := range cfg.SkipPatterns {
		re, err := regexp.Compile(skip)
		if err != nil {
			return nil, fmt.Errorf("%w: skip pattern %q: %v", domain.ErrInvalidParserConfig, skip, err)
		}
		compiled.skips = append(compiled.skips, re)
	}

	return compiled, nil
}

// Parse scans the receipt text line by line. Skip-matching lines are
// discarded, product-matching lines open a pending item, and following
// lines refine quantity per the structure descriptor. Unmatched non-blank
// lines are excluded from output but count against the line-yield ratio.
func (p *TemplateParser) Parse(text string, cfg *domain.ParserConfig, lexicon *Lexicon) (*domain.ParseResult, error) {
	compiled, err := p.compile(cfg)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(text, "\n")

	var items []domain.ParsedLineItem
	var pending *domain.ParsedLineItem
	pendingRefined := false

	nonBlank := 0
	consumed := 0

	flush := func() {
		if pending != nil {
			items = append(items, *pending)
			pending = nil
			pendingRefined = false
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		nonBlank++

		if isSkipLine(trimmed, compiled.skips, lexicon) {
			flush()
			continue
		}

		// Quantity refinement for the line following a product line
		if pending != nil && !pendingRefined && compiled.structure != domain.StructureSameLine {
			if compiled.structure == domain.StructureNextLine ||
				(compiled.structure == domain.StructureIndented && isIndented(line)) {
				if refineItem(pending, trimmed, compiled.rules) {
					pendingRefined = true
					consumed++
					continue
				}
			}
		}

		if m := compiled.product.FindStringSubmatch(trimmed); m != nil {
			flush()
			pending = newPendingItem(trimmed, m)
			consumed++
			if compiled.structure == domain.StructureSameLine {
				refineItem(pending, trimmed, compiled.rules)
				pendingRefined = true
			}
			continue
		}

		// Unmatched non-blank line: excluded from output, counted in yield
	}
	flush()

	yield := 0.0
	if nonBlank > 0 {
		yield = float64(consumed) / float64(nonBlank)
	}

	p.logger.Debug().
		Int("items", len(items)).
		Int("lines", nonBlank).
		Float64("yield", yield).
		Msg("template parse complete")

	return &domain.ParseResult{
		Items:      items,
		Method:     domain.MethodTemplate,
		Confidence: yield,
		LineYield:  yield,
	}, nil
}

// newPendingItem opens an item from a product-line match. The first capture
// group, if present, names the product; otherwise the whole line does.
func newPendingItem(line string, match []string) *domain.ParsedLineItem {
	name := line
	if len(match) > 1 && strings.TrimSpace(match[1]) != "" {
		name = strings.TrimSpace(match[1])
	}
	return &domain.ParsedLineItem{
		RawText:     line,
		ProductName: name,
		Quantity:    1,
		Unit:        domain.UnitCount,
	}
}

// refineItem applies the ordered quantity rules to a line and updates the
// pending item from the first rule that matches. Reports whether any did.
func refineItem(item *domain.ParsedLineItem, line string, rules []compiledRule) bool {
	for _, rule := range rules {
		m := rule.pattern.FindStringSubmatch(line)
		if m == nil || rule.group >= len(m) {
			continue
		}
		value, err := parseLocaleNumber(m[rule.group])
		if err != nil || value <= 0 {
			continue
		}

		switch rule.typ {
		case domain.RuleCount:
			item.Quantity = value
			item.Unit = domain.UnitCount
		case domain.RuleWeight:
			w := value
			item.WeightKg = &w
			item.Unit = domain.UnitWeight
		case domain.RuleVolume:
			v := value
			item.VolumeL = &v
			item.Unit = domain.UnitVolume
		}
		return true
	}
	return false
}

// isSkipLine reports whether a line is non-product noise: it matches a
// configured skip pattern or leads with a lexicon skip word (totals, tax,
// payment lines). Skip words anchor to the start of the line as whole
// tokens: totals and payment keywords lead their lines, while product names
// may embed or end with one ("PALVIKINKKU", "CHOCOLATE BAR") and must not
// be discarded.
func isSkipLine(line string, skips []*regexp.Regexp, lexicon *Lexicon) bool {
	for _, re := range skips {
		if re.MatchString(line) {
			return true
		}
	}
	if lexicon == nil {
		return false
	}

	tokens := skipTokens(line)
	for _, word := range lexicon.SkipWords {
		if hasTokenPrefix(tokens, skipTokens(word)) {
			return true
		}
	}
	return false
}

// skipTokens folds a line for skip-word comparison: uppercase, diacritics
// removed, punctuation trimmed off each token.
func skipTokens(s string) []string {
	fields := strings.Fields(strings.ToUpper(FoldDiacritics(s)))
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// hasTokenPrefix reports whether needle is the leading run of tokens
func hasTokenPrefix(tokens, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(tokens) {
		return false
	}
	for i, tok := range needle {
		if tokens[i] != tok {
			return false
		}
	}
	return true
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// parseLocaleNumber parses a number that may use either decimal separator
func parseLocaleNumber(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	return strconv.ParseFloat(s, 64)
}
