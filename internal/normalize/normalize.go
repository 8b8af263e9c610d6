// Package normalize turns marketplace-specific personalization input into
// canonical candidate records used as hints for extraction.
package normalize

import (
	"context"
	"strings"

	domain "github.com/y3dhub/api/internal/domain"
)

// Candidate is a raw personalization hint parsed from marketplace input.
// Candidates are not authoritative; they feed the extraction prompt.
type Candidate struct {
	CustomText   *string
	Color1       *string
	Color2       *string
	NeedsReview  bool
	ReviewReason *string
	Annotation   *string
	Source       string
}

// Normalizer extracts candidates for one order item. Malformed input is never
// an error; implementations drop bad blocks, log, and return what they can.
type Normalizer interface {
	Normalize(ctx context.Context, order domain.Order, item domain.OrderItem) ([]Candidate, error)
}

// Pipeline dispatches to marketplace-specific normalizers.
type Pipeline struct {
	byMarketplace map[domain.Marketplace]Normalizer
}

// NewPipeline binds normalizers to the marketplaces they understand.
func NewPipeline(notes *NotesNormalizer, archive *ArchiveNormalizer) *Pipeline {
	p := &Pipeline{byMarketplace: make(map[domain.Marketplace]Normalizer)}
	if notes != nil {
		p.byMarketplace[domain.MarketplaceEbay] = notes
	}
	if archive != nil {
		p.byMarketplace[domain.MarketplaceAmazon] = archive
	}
	return p
}

// Normalize runs the marketplace's normalizer, returning no candidates for
// marketplaces without one.
func (p *Pipeline) Normalize(ctx context.Context, order domain.Order, item domain.OrderItem) ([]Candidate, error) {
	if p == nil {
		return nil, nil
	}
	normalizer, ok := p.byMarketplace[order.Marketplace]
	if !ok {
		return nil, nil
	}
	return normalizer.Normalize(ctx, order, item)
}

// optionValue walks a raw print-settings blob looking for a named option. The
// blob is either a list of {name,value} objects or a flat map; the key match
// is case insensitive.
func optionValue(settings any, name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch typed := settings.(type) {
	case []any:
		for _, entry := range typed {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			key, _ := obj["name"].(string)
			if strings.ToLower(strings.TrimSpace(key)) != name {
				continue
			}
			if value, ok := obj["value"].(string); ok {
				return value, true
			}
		}
	case map[string]any:
		for key, raw := range typed {
			if strings.ToLower(strings.TrimSpace(key)) != name {
				continue
			}
			if value, ok := raw.(string); ok {
				return value, true
			}
		}
	}
	return "", false
}

// optionValues collects every string value in the settings blob.
func optionValues(settings any) []string {
	var out []string
	switch typed := settings.(type) {
	case []any:
		for _, entry := range typed {
			obj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if value, ok := obj["value"].(string); ok {
				out = append(out, value)
			}
		}
	case map[string]any:
		for _, raw := range typed {
			if value, ok := raw.(string); ok {
				out = append(out, value)
			}
		}
	}
	return out
}

func valuePtr(value string) *string {
	return &value
}
