package normalize

import (
	"context"
	"strings"
	"testing"

	domain "github.com/y3dhub/api/internal/domain"
)

func TestNotesNormalizerParsesMatchingBlocks(t *testing.T) {
	order := domain.Order{
		ID:          "ord_1",
		Marketplace: domain.MarketplaceEbay,
		CustomerNotes: strings.Join([]string{
			"Item ID: 12345, Color=Black",
			"Text: Alice",
			"Item ID: 12345, Color=Black",
			"Text: Bob",
			"Item ID: 99999, Color=Black",
			"Text: Other",
		}, "\n"),
	}
	item := domain.OrderItem{
		ID:         "item_1",
		ProductSKU: "wi_12345_3",
		Quantity:   2,
		PrintSettings: []any{
			map[string]any{"name": "Colour", "value": "Black"},
		},
	}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if got := *candidates[0].CustomText; got != "Alice" {
		t.Fatalf("expected first text Alice, got %q", got)
	}
	if got := *candidates[1].CustomText; got != "Bob" {
		t.Fatalf("expected second text Bob, got %q", got)
	}
	if got := *candidates[0].Color1; got != "Black" {
		t.Fatalf("expected color Black, got %q", got)
	}
	if candidates[0].NeedsReview || candidates[1].NeedsReview {
		t.Fatalf("expected no review flags when quantities line up")
	}
}

func TestNotesNormalizerVariantColorMatch(t *testing.T) {
	order := domain.Order{
		ID:            "ord_2",
		Marketplace:   domain.MarketplaceEbay,
		CustomerNotes: "Item ID: 555, Color=Light Blue\nText: Milo",
	}
	item := domain.OrderItem{ID: "item_1", ProductSKU: "wi_555_6", Quantity: 1}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if got := *candidates[0].Color1; got != "Light Blue" {
		t.Fatalf("expected variant color Light Blue, got %q", got)
	}
}

func TestNotesNormalizerQuantityMismatch(t *testing.T) {
	order := domain.Order{
		ID:            "ord_3",
		Marketplace:   domain.MarketplaceEbay,
		CustomerNotes: "Item ID: 777, Color=Rose Gold\nText: Nina",
	}
	item := domain.OrderItem{ID: "item_1", ProductSKU: "wi_777_15", Quantity: 3}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if !candidates[0].NeedsReview {
		t.Fatalf("expected review flag for quantity mismatch")
	}
	want := "QUANTITY_MISMATCH: OrderQty=3, ParsedTotalQty=1, NotesLines=2. Used notes structure."
	if got := *candidates[0].ReviewReason; got != want {
		t.Fatalf("unexpected review reason: %q", got)
	}
}

func TestNotesNormalizerNoNotes(t *testing.T) {
	order := domain.Order{ID: "ord_4", Marketplace: domain.MarketplaceEbay}
	item := domain.OrderItem{ID: "item_1", ProductSKU: "wi_1_2", Quantity: 1}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 review candidate, got %d", len(candidates))
	}
	if !candidates[0].NeedsReview {
		t.Fatalf("expected review flag when notes are missing")
	}
	if got := *candidates[0].ReviewReason; got != "No customer notes found" {
		t.Fatalf("unexpected review reason: %q", got)
	}
}

func TestNotesNormalizerSkipsNonMatchingColor(t *testing.T) {
	order := domain.Order{
		ID:            "ord_5",
		Marketplace:   domain.MarketplaceEbay,
		CustomerNotes: "Item ID: 12345, Color=Purple\nText: Zed",
	}
	item := domain.OrderItem{
		ID:         "item_1",
		ProductSKU: "wi_12345_3",
		Quantity:   1,
		PrintSettings: []any{
			map[string]any{"name": "Colour", "value": "Black"},
		},
	}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates for mismatched color, got %d", len(candidates))
	}
}

func TestNotesNormalizerUnrecognisedSKU(t *testing.T) {
	order := domain.Order{
		ID:            "ord_6",
		Marketplace:   domain.MarketplaceEbay,
		CustomerNotes: "Item ID: 12345, Color=Black\nText: Kit",
	}
	item := domain.OrderItem{ID: "item_1", ProductSKU: "OTHER-SKU", Quantity: 1}

	candidates, err := NewNotesNormalizer().Normalize(context.Background(), order, item)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if candidates != nil {
		t.Fatalf("expected nil candidates for unrecognised sku, got %v", candidates)
	}
}
