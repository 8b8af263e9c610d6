package normalize

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/platform/requestctx"
	"go.uber.org/zap"
)

const (
	customizedURLOption    = "customizedurl"
	defaultArchiveTimeout  = 10 * time.Second
	maxArchiveResponseSize = 32 << 20
)

var colorTagPattern = regexp.MustCompile(`(?i)colou?r`)

// ArchiveNormalizer resolves Amazon customization archives: the item's print
// settings carry a CustomizedURL pointing at a zip whose JSON payload holds
// the buyer's text and color selections.
type ArchiveNormalizer struct {
	client  *http.Client
	timeout time.Duration
}

// NewArchiveNormalizer returns an archive normalizer. A nil client falls back
// to http.DefaultClient; a non-positive timeout falls back to ten seconds.
func NewArchiveNormalizer(client *http.Client, timeout time.Duration) *ArchiveNormalizer {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultArchiveTimeout
	}
	return &ArchiveNormalizer{client: client, timeout: timeout}
}

// Normalize fetches and parses the item's customization archive. Fetch or
// parse failures are logged and yield no candidates; the order still flows
// through extraction on whatever other context exists.
func (a *ArchiveNormalizer) Normalize(ctx context.Context, order domain.Order, item domain.OrderItem) ([]Candidate, error) {
	logger := requestctx.Logger(ctx)

	rawURL, ok := optionValue(item.PrintSettings, customizedURLOption)
	if !ok || strings.TrimSpace(rawURL) == "" {
		return nil, nil
	}

	payload, err := a.fetchArchiveJSON(ctx, rawURL)
	if err != nil {
		logger.Warn("archive normalizer could not resolve customization archive",
			zap.String("order_id", order.ID),
			zap.String("order_item_id", item.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	customText, color1, color2 := extractFromSurfaces(payload)
	if customText == "" || (color1 == "" && color2 == "") {
		fallbackText, fallbackColor1, fallbackColor2 := extractFromChildren(payload)
		if customText == "" {
			customText = fallbackText
		}
		if color1 == "" && color2 == "" {
			color1, color2 = fallbackColor1, fallbackColor2
		}
	}

	if customText == "" && color1 == "" && color2 == "" {
		logger.Warn("archive normalizer found no personalization in archive",
			zap.String("order_id", order.ID),
			zap.String("order_item_id", item.ID),
		)
		return nil, nil
	}

	// Registration-plate style products must always print upper case.
	if strings.Contains(strings.ToUpper(item.ProductSKU), "REGKEY") && customText != "" {
		customText = strings.ToUpper(customText)
	}

	candidate := Candidate{Source: "amazon_archive"}
	if customText != "" {
		candidate.CustomText = valuePtr(customText)
	}
	if color1 != "" {
		candidate.Color1 = valuePtr(color1)
	}
	if color2 != "" {
		candidate.Color2 = valuePtr(color2)
	}
	return []Candidate{candidate}, nil
}

// fetchArchiveJSON downloads the zip and decodes its single JSON entry.
func (a *ArchiveNormalizer) fetchArchiveJSON(ctx context.Context, rawURL string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build archive request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch archive: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read archive body: %w", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var entries []*zip.File
	for _, file := range reader.File {
		name := path.Base(file.Name)
		if strings.HasPrefix(name, "._") || !strings.HasSuffix(strings.ToLower(name), ".json") {
			continue
		}
		entries = append(entries, file)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive contains no json entry")
	}
	if len(entries) > 1 {
		requestctx.Logger(ctx).Warn("archive contains multiple json entries, using first",
			zap.Int("count", len(entries)),
			zap.String("name", entries[0].Name),
		)
	}

	entry, err := entries[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open archive entry: %w", err)
	}
	defer entry.Close()

	var payload map[string]any
	if err := json.NewDecoder(entry).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode archive json: %w", err)
	}
	return payload, nil
}

// extractFromSurfaces reads the version3.0 surfaces layout: the first
// surface's areas hold a text-printing area plus color option areas.
func extractFromSurfaces(payload map[string]any) (customText, color1, color2 string) {
	info, _ := payload["customizationInfo"].(map[string]any)
	version, _ := info["version3.0"].(map[string]any)
	surfaces, _ := version["surfaces"].([]any)
	if len(surfaces) == 0 {
		return "", "", ""
	}
	surface, _ := surfaces[0].(map[string]any)
	areas, _ := surface["areas"].([]any)

	for _, raw := range areas {
		area, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := area["customizationType"].(string)
		label, _ := area["label"].(string)
		name, _ := area["name"].(string)
		tag := label + " " + name

		// Color option areas are often labelled "Text Color", so the
		// Options case must win before the text-label heuristic.
		switch {
		case kind == "Options" && colorTagPattern.MatchString(tag):
			value, _ := area["optionValue"].(string)
			if value == "" {
				continue
			}
			if color1 == "" {
				color1 = value
			} else if color2 == "" && value != color1 {
				color2 = value
			}
		case kind == "TextPrinting" || strings.Contains(strings.ToLower(tag), "text"):
			if customText == "" {
				if text, _ := area["text"].(string); text != "" {
					customText = text
				}
			}
		}
	}
	return customText, color1, color2
}

// extractFromChildren recursively walks the legacy customizationData tree.
func extractFromChildren(payload map[string]any) (customText, color1, color2 string) {
	data, _ := payload["customizationData"].(map[string]any)
	if data == nil {
		return "", "", ""
	}

	var walk func(node map[string]any)
	walk = func(node map[string]any) {
		kind, _ := node["type"].(string)
		label, _ := node["label"].(string)
		name, _ := node["name"].(string)
		tag := strings.ToLower(label + " " + name)

		switch {
		case kind == "TextCustomization":
			if customText == "" {
				if value, _ := node["inputValue"].(string); value != "" {
					customText = value
				} else if value, _ := node["text"].(string); value != "" {
					customText = value
				}
			}
		case colorTagPattern.MatchString(tag):
			value, _ := node["displayValue"].(string)
			if value == "" {
				value, _ = node["optionValue"].(string)
			}
			if value == "" {
				if selection, ok := node["optionSelection"].(map[string]any); ok {
					value, _ = selection["name"].(string)
				}
			}
			if value != "" {
				if color1 == "" {
					color1 = value
				} else if color2 == "" && value != color1 {
					color2 = value
				}
			}
		}

		children, _ := node["children"].([]any)
		for _, raw := range children {
			if child, ok := raw.(map[string]any); ok {
				walk(child)
			}
		}
	}
	walk(data)

	return customText, color1, color2
}
