package extraction

import (
	"encoding/json"
	"fmt"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/normalize"
)

const systemPrompt = `You are an order personalization extractor for a custom print shop.
You receive one marketplace order with its items, raw customer notes, raw print
settings, and pre-parsed candidate hints. Determine the personalizations that
must be printed for every item.

Respond with a single JSON object of this exact shape:
{"itemPersonalizations": {"<itemId>": {"personalizations": [{"customText": string|null, "color1": string|null, "color2": string|null, "quantity": positive integer, "needsReview": boolean, "reviewReason": string|null, "annotation": string|null}], "overallNeedsReview": boolean, "overallReviewReason": string|null}}}

Rules:
- Every item id from the input must appear as a key; never invent item ids.
- The quantities of an item's personalizations should sum to the ordered quantity.
- When the input is ambiguous or contradictory, set needsReview true and explain in reviewReason.
- Use the candidate hints when they are consistent with the notes; the raw notes win on conflict.
- Respond with JSON only, no prose and no code fences.`

type promptCandidate struct {
	CustomText   *string `json:"customText,omitempty"`
	Color1       *string `json:"color1,omitempty"`
	Color2       *string `json:"color2,omitempty"`
	NeedsReview  bool    `json:"needsReview,omitempty"`
	ReviewReason *string `json:"reviewReason,omitempty"`
	Source       string  `json:"source"`
}

type promptItem struct {
	ItemID          string            `json:"itemId"`
	QuantityOrdered int               `json:"quantityOrdered"`
	ProductSKU      string            `json:"productSku"`
	ProductName     string            `json:"productName"`
	PrintSettings   any               `json:"printSettings,omitempty"`
	Candidates      []promptCandidate `json:"candidates,omitempty"`
}

type promptOrder struct {
	OrderID       string       `json:"orderId"`
	OrderNumber   string       `json:"orderNumber"`
	Marketplace   string       `json:"marketplace"`
	CustomerNotes string       `json:"customerNotes"`
	Items         []promptItem `json:"items"`
}

// buildUserPrompt serialises the order context the model extracts from.
func buildUserPrompt(order domain.Order, candidates map[string][]normalize.Candidate) (string, error) {
	payload := promptOrder{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Marketplace:   string(order.Marketplace),
		CustomerNotes: order.CustomerNotes,
		Items:         make([]promptItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		entry := promptItem{
			ItemID:          item.ID,
			QuantityOrdered: item.Quantity,
			ProductSKU:      item.ProductSKU,
			ProductName:     item.ProductName,
			PrintSettings:   item.PrintSettings,
		}
		for _, candidate := range candidates[item.ID] {
			entry.Candidates = append(entry.Candidates, promptCandidate{
				CustomText:   candidate.CustomText,
				Color1:       candidate.Color1,
				Color2:       candidate.Color2,
				NeedsReview:  candidate.NeedsReview,
				ReviewReason: candidate.ReviewReason,
				Source:       candidate.Source,
			})
		}
		payload.Items = append(payload.Items, entry)
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal prompt payload: %w", err)
	}
	return "Extract the personalizations for this order:\n\n" + string(encoded), nil
}
