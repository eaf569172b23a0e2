package llm

import (
	json "github.com/goccy/go-json"

	"github.com/pantrylens/backend/internal/domain"
)

// chat completions wire types

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema jsonSchemaSpec `json:"json_schema"`
}

type jsonSchemaSpec struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extraction payload: what the model returns for a receipt

type extractionPayload struct {
	Store      wireStore     `json:"store"`
	Products   []wireProduct `json:"products"`
	Confidence float64       `json:"confidence"`
}

type wireStore struct {
	Name     string `json:"name"`
	Chain    string `json:"chain"`
	Country  string `json:"country"`
	Language string `json:"language"`
	Currency string `json:"currency"`
}

type wireProduct struct {
	Name           string   `json:"name"`
	NameTranslated string   `json:"name_translated"`
	Quantity       float64  `json:"quantity"`
	WeightKg       *float64 `json:"weight_kg"`
	VolumeL        *float64 `json:"volume_l"`
	Unit           string   `json:"unit"`
	Price          *float64 `json:"price"`
}

func (p *extractionPayload) toDomain() *domain.ParseResult {
	items := make([]domain.ParsedLineItem, 0, len(p.Products))
	for _, product := range p.Products {
		quantity := product.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		items = append(items, domain.ParsedLineItem{
			RawText:        product.Name,
			ProductName:    product.Name,
			NameTranslated: product.NameTranslated,
			Quantity:       quantity,
			Unit:           mapUnit(product.Unit, product.WeightKg, product.VolumeL),
			WeightKg:       product.WeightKg,
			VolumeL:        product.VolumeL,
			Price:          product.Price,
		})
	}

	return &domain.ParseResult{
		Store: domain.StoreInfo{
			Name:     p.Store.Name,
			Chain:    p.Store.Chain,
			Country:  p.Store.Country,
			Language: p.Store.Language,
			Currency: p.Store.Currency,
		},
		Items:      items,
		Confidence: p.Confidence,
	}
}

// mapUnit tolerates the unit vocabulary older prompt revisions used
// ("pcs", "kg", "l") alongside the current one.
func mapUnit(unit string, weightKg, volumeL *float64) domain.Unit {
	switch unit {
	case "weight", "kg", "g":
		return domain.UnitWeight
	case "volume", "l", "ml":
		return domain.UnitVolume
	case "count", "pcs", "unit", "":
		if weightKg != nil {
			return domain.UnitWeight
		}
		if volumeL != nil {
			return domain.UnitVolume
		}
		return domain.UnitCount
	default:
		return domain.UnitCount
	}
}

// template payload: a candidate parser config from the model

type templatePayload struct {
	ProductPattern string     `json:"product_pattern"`
	QuantityRules  []wireRule `json:"quantity_rules"`
	SkipPatterns   []string   `json:"skip_patterns"`
	Structure      string     `json:"structure"`
}

type wireRule struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Group   int    `json:"group"`
}

func (p *templatePayload) toDomain() *domain.ParserConfig {
	rules := make([]domain.QuantityRule, 0, len(p.QuantityRules))
	for _, rule := range p.QuantityRules {
		rules = append(rules, domain.QuantityRule{
			Type:    domain.QuantityRuleType(rule.Type),
			Pattern: rule.Pattern,
			Group:   rule.Group,
		})
	}

	return &domain.ParserConfig{
		ProductPattern: p.ProductPattern,
		QuantityRules:  rules,
		SkipPatterns:   p.SkipPatterns,
		Structure:      domain.StructureMode(p.Structure),
	}
}

// Structured-output schemas handed to the provider. Kept permissive: the
// re-parse validation gate is what actually protects the profile store.

var extractionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"store": {
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"chain": {"type": "string"},
				"country": {"type": "string"},
				"language": {"type": "string"},
				"currency": {"type": "string"}
			},
			"required": ["name"]
		},
		"products": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"name_translated": {"type": ["string", "null"]},
					"quantity": {"type": "number"},
					"weight_kg": {"type": ["number", "null"]},
					"volume_l": {"type": ["number", "null"]},
					"unit": {"type": "string"},
					"price": {"type": ["number", "null"]}
				},
				"required": ["name", "quantity", "unit"]
			}
		},
		"confidence": {"type": "number"}
	},
	"required": ["store", "products", "confidence"]
}`)

var templateSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"product_pattern": {"type": "string"},
		"quantity_rules": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string", "enum": ["count", "weight", "volume"]},
					"pattern": {"type": "string"},
					"group": {"type": "integer"}
				},
				"required": ["type", "pattern", "group"]
			}
		},
		"skip_patterns": {"type": "array", "items": {"type": "string"}},
		"structure": {"type": "string", "enum": ["same_line", "next_line", "indented"]}
	},
	"required": ["product_pattern", "quantity_rules", "structure"]
}`)
