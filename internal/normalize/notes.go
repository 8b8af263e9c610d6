package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/platform/requestctx"
	"go.uber.org/zap"
)

var (
	notesItemIDPattern = regexp.MustCompile(`Item ID: (\d+)`)
	notesColorPattern  = regexp.MustCompile(`Color=([^,\n]+)`)
)

// Variant suffixes that the storefront encodes directly in the SKU rather
// than in the buyer-visible color name.
var skuVariantColors = map[string]string{
	"6":  "Light Blue",
	"15": "Rose Gold",
}

// notesBlock is one personalization stanza parsed from buyer notes.
type notesBlock struct {
	itemID string
	color  string
	text   string
}

// NotesNormalizer parses structured buyer notes of the form used on eBay
// orders: one "Item ID: ... Color=..." header line per unit followed by a
// "Text: ..." line.
type NotesNormalizer struct{}

// NewNotesNormalizer returns a notes normalizer.
func NewNotesNormalizer() *NotesNormalizer {
	return &NotesNormalizer{}
}

// Normalize returns one candidate per notes block matching the item. Orders
// without notes yield a single review candidate so the gap is surfaced
// downstream instead of silently producing nothing.
func (n *NotesNormalizer) Normalize(ctx context.Context, order domain.Order, item domain.OrderItem) ([]Candidate, error) {
	logger := requestctx.Logger(ctx)

	notes := strings.TrimSpace(order.CustomerNotes)
	if notes == "" {
		return []Candidate{{
			NeedsReview:  true,
			ReviewReason: valuePtr("No customer notes found"),
			Source:       "ebay_notes",
		}}, nil
	}

	lines := strings.Split(order.CustomerNotes, "\n")
	blocks := parseNotesBlocks(lines)

	listingID, variant, ok := splitStorefrontSKU(item.ProductSKU)
	if !ok {
		logger.Debug("notes normalizer skipping item with unrecognised sku",
			zap.String("order_id", order.ID),
			zap.String("sku", item.ProductSKU),
		)
		return nil, nil
	}

	var candidates []Candidate
	for _, block := range blocks {
		if block.itemID != listingID {
			continue
		}
		if !colorMatchesVariant(block.color, variant, item.PrintSettings) {
			continue
		}
		candidates = append(candidates, Candidate{
			CustomText: valuePtr(block.text),
			Color1:     valuePtr(block.color),
			Source:     "ebay_notes",
		})
	}

	if len(candidates) > 0 && item.Quantity > 1 && len(candidates) < item.Quantity {
		reason := fmt.Sprintf(
			"QUANTITY_MISMATCH: OrderQty=%d, ParsedTotalQty=%d, NotesLines=%d. Used notes structure.",
			item.Quantity, len(candidates), len(lines),
		)
		candidates[0].NeedsReview = true
		candidates[0].ReviewReason = valuePtr(reason)
		logger.Warn("notes normalizer parsed fewer blocks than ordered quantity",
			zap.String("order_id", order.ID),
			zap.String("order_item_id", item.ID),
			zap.Int("ordered", item.Quantity),
			zap.Int("parsed", len(candidates)),
		)
	}

	return candidates, nil
}

// parseNotesBlocks walks the note lines collecting complete blocks. A block
// opens on an "Item ID:" header and is kept once it also has text.
func parseNotesBlocks(lines []string) []notesBlock {
	var blocks []notesBlock
	var current notesBlock

	flush := func() {
		if current.itemID != "" && current.text != "" {
			blocks = append(blocks, current)
		}
		current = notesBlock{}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "Item ID:") {
			flush()
			if m := notesItemIDPattern.FindStringSubmatch(trimmed); m != nil {
				current.itemID = m[1]
			}
			if m := notesColorPattern.FindStringSubmatch(trimmed); m != nil {
				current.color = strings.TrimSpace(m[1])
			}
			continue
		}
		if strings.HasPrefix(trimmed, "Text:") {
			current.text = strings.TrimSpace(strings.TrimPrefix(trimmed, "Text:"))
		}
	}
	flush()

	return blocks
}

// splitStorefrontSKU decomposes a "wi_<listingID>_<variant>" SKU.
func splitStorefrontSKU(sku string) (listingID, variant string, ok bool) {
	parts := strings.Split(sku, "_")
	if len(parts) < 3 || parts[0] != "wi" || parts[1] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// colorMatchesVariant reports whether a block color belongs to the item: some
// variants hard-code their color, otherwise the color must appear among the
// item's print-settings option values.
func colorMatchesVariant(color, variant string, settings any) bool {
	if mapped, ok := skuVariantColors[variant]; ok && mapped == color {
		return true
	}
	for _, value := range optionValues(settings) {
		if strings.EqualFold(strings.TrimSpace(value), color) {
			return true
		}
	}
	return false
}
