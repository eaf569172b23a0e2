package domain

import "time"

// ParserType selects the extraction strategy for a retailer profile
type ParserType string

const (
	ParserTemplate       ParserType = "template"
	ParserHybrid         ParserType = "hybrid"
	ParserGenerativeOnly ParserType = "generative_only"
)

// ProfileSource records how a profile came into existence
type ProfileSource string

const (
	SourceBuiltin ProfileSource = "builtin"
	SourceLearned ProfileSource = "learned"
	SourceUser    ProfileSource = "user"
)

// StructureMode describes where quantity information sits relative to the
// product line in a retailer's receipt layout
type StructureMode string

const (
	StructureSameLine StructureMode = "same_line"
	StructureNextLine StructureMode = "next_line"
	StructureIndented StructureMode = "indented"
)

// QuantityRuleType tags what a quantity rule extracts
type QuantityRuleType string

const (
	RuleCount  QuantityRuleType = "count"
	RuleWeight QuantityRuleType = "weight"
	RuleVolume QuantityRuleType = "volume"
)

// QuantityRule is one tagged extraction pattern. Group is the capture group
// index holding the numeric value.
type QuantityRule struct {
	Type    QuantityRuleType `json:"type" mapstructure:"type" validate:"required,oneof=count weight volume"`
	Pattern string           `json:"pattern" mapstructure:"pattern" validate:"required"`
	Group   int              `json:"group" mapstructure:"group" validate:"gte=1"`
}

// ParserConfig is the rule set a TemplateParser interprets for one retailer.
// One generic parser over these records replaces per-store code modules.
type ParserConfig struct {
	ProductPattern string         `json:"productPattern" mapstructure:"product_pattern" validate:"required"`
	QuantityRules  []QuantityRule `json:"quantityRules" mapstructure:"quantity_rules" validate:"dive"`
	SkipPatterns   []string       `json:"skipPatterns" mapstructure:"skip_patterns"`
	Structure      StructureMode  `json:"structure" mapstructure:"structure" validate:"required,oneof=same_line next_line indented"`
}

// StoreProfile describes how to detect and parse receipts from one retailer.
// Profiles are never hard-deleted, only demoted. ConfidenceTracker is the
// sole writer of Confidence/SampleCount/LastUsed; TemplateLearner is the
// sole writer of Config and ParserType promotion.
type StoreProfile struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Chain             string        `json:"chain,omitempty"`
	Country           string        `json:"country,omitempty"`
	Language          string        `json:"language,omitempty"`
	Currency          string        `json:"currency,omitempty"`
	DetectionPatterns []string      `json:"detectionPatterns"`
	ParserType        ParserType    `json:"parserType"`
	Config            *ParserConfig `json:"parserConfig,omitempty"`
	Confidence        float64       `json:"confidence"`  // [0,1] EMA of template reliability
	SampleCount       int           `json:"sampleCount"` // monotonically non-decreasing
	LastUsed          time.Time     `json:"lastUsed"`
	Source            ProfileSource `json:"source"`
}

// Clone returns a deep copy so callers can mutate without racing the catalog
func (p *StoreProfile) Clone() *StoreProfile {
	cp := *p
	cp.DetectionPatterns = append([]string(nil), p.DetectionPatterns...)
	if p.Config != nil {
		cfg := *p.Config
		cfg.QuantityRules = append([]QuantityRule(nil), p.Config.QuantityRules...)
		cfg.SkipPatterns = append([]string(nil), p.Config.SkipPatterns...)
		cp.Config = &cfg
	}
	return &cp
}
