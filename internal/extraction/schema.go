package extraction

import (
	"encoding/json"
	"fmt"

	domain "github.com/y3dhub/api/internal/domain"
)

// ItemExtraction is the model's proposal for a single order item.
type ItemExtraction struct {
	Personalizations    []domain.PersonalizationRecord
	OverallNeedsReview  bool
	OverallReviewReason *string
}

// Output is the full structured extraction result keyed by order item id.
type Output struct {
	ItemPersonalizations map[string]ItemExtraction
}

type recordPayload struct {
	CustomText   *string `json:"customText"`
	Color1       *string `json:"color1"`
	Color2       *string `json:"color2"`
	Quantity     int     `json:"quantity"`
	NeedsReview  bool    `json:"needsReview"`
	ReviewReason *string `json:"reviewReason"`
	Annotation   *string `json:"annotation"`
}

type itemPayload struct {
	Personalizations    []recordPayload `json:"personalizations"`
	OverallNeedsReview  bool            `json:"overallNeedsReview"`
	OverallReviewReason *string         `json:"overallReviewReason"`
}

type outputPayload struct {
	ItemPersonalizations map[string]itemPayload `json:"itemPersonalizations"`
}

// decodeOutput parses and validates the model's JSON content. Invalid JSON is
// a parse error; valid JSON with the wrong shape is a schema error.
func decodeOutput(content string, knownItemIDs map[string]struct{}) (*Output, error) {
	var probe any
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, newError(KindParse, "model output is not valid JSON", err)
	}

	var payload outputPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, newError(KindSchema, "model output does not match expected shape", err)
	}
	if payload.ItemPersonalizations == nil {
		return nil, newError(KindSchema, "itemPersonalizations missing", nil)
	}

	out := &Output{ItemPersonalizations: make(map[string]ItemExtraction, len(payload.ItemPersonalizations))}
	for itemID, item := range payload.ItemPersonalizations {
		if _, ok := knownItemIDs[itemID]; !ok {
			return nil, newError(KindSchema, fmt.Sprintf("unknown order item id %q", itemID), nil)
		}
		records := make([]domain.PersonalizationRecord, 0, len(item.Personalizations))
		for i, record := range item.Personalizations {
			if record.Quantity <= 0 {
				return nil, newError(KindSchema,
					fmt.Sprintf("item %s personalization %d has non-positive quantity %d", itemID, i, record.Quantity), nil)
			}
			records = append(records, domain.PersonalizationRecord{
				CustomText:   record.CustomText,
				Color1:       record.Color1,
				Color2:       record.Color2,
				Quantity:     record.Quantity,
				NeedsReview:  record.NeedsReview,
				ReviewReason: record.ReviewReason,
				Annotation:   record.Annotation,
			})
		}
		out.ItemPersonalizations[itemID] = ItemExtraction{
			Personalizations:    records,
			OverallNeedsReview:  item.OverallNeedsReview,
			OverallReviewReason: item.OverallReviewReason,
		}
	}
	return out, nil
}
