// Package extraction calls an OpenAI-compatible chat completion API to turn
// raw order context into structured personalization records.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/y3dhub/api/internal/domain"
	"github.com/y3dhub/api/internal/normalize"
	"github.com/y3dhub/api/internal/platform/requestctx"
	"go.uber.org/zap"
)

// Config holds the upstream connection settings.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	Timeout   time.Duration
	MaxTokens int
}

// Client talks to a chat-completions endpoint with JSON-mode output.
type Client struct {
	baseURL    string
	model      string
	apiKey     string
	maxTokens  int
	httpClient *http.Client
}

// NewClient builds an extraction client. A nil httpClient gets a dedicated
// client with the configured timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxTokens:  cfg.MaxTokens,
		httpClient: httpClient,
	}
}

// Result carries the extraction output together with the audit trail of the
// upstream call. RawResponse holds the full completion envelope body and is
// populated whenever a response body was read, even when the call ultimately
// failed; Content is the fence-stripped message the output was decoded from.
type Result struct {
	Output      *Output
	Prompt      string
	RawResponse string
	Content     string
	Model       string
	Duration    time.Duration
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Extract runs one completion for the order and validates the structured
// output. The call is made exactly once; retry policy belongs to the caller.
func (c *Client) Extract(ctx context.Context, order domain.Order, candidates map[string][]normalize.Candidate) (*Result, error) {
	logger := requestctx.Logger(ctx)

	if c.apiKey == "" {
		return nil, newError(KindTransport, "API key not configured", nil)
	}

	userPrompt, err := buildUserPrompt(order, candidates)
	if err != nil {
		return nil, newError(KindTransport, "build prompt", err)
	}

	result := &Result{Prompt: userPrompt, Model: c.model}
	started := time.Now()
	defer func() { result.Duration = time.Since(started) }()

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0,
		MaxTokens:   c.maxTokens,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}
	encoded, err := json.Marshal(reqBody)
	if err != nil {
		return result, newError(KindTransport, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return result, newError(KindTransport, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, newError(KindTransport, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, newError(KindTransport, "read response", err)
	}
	result.RawResponse = string(body)

	if resp.StatusCode != http.StatusOK {
		return result, newError(KindTransport,
			fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return result, newError(KindTransport, "parse completion envelope", err)
	}
	if completion.Error != nil {
		return result, newError(KindTransport, "API error: "+completion.Error.Message, nil)
	}
	if len(completion.Choices) == 0 {
		return result, newError(KindTransport, "no completion returned", nil)
	}

	content := stripFences(strings.TrimSpace(completion.Choices[0].Message.Content))
	result.Content = content

	knownItemIDs := make(map[string]struct{}, len(order.Items))
	for _, item := range order.Items {
		knownItemIDs[item.ID] = struct{}{}
	}
	output, err := decodeOutput(content, knownItemIDs)
	if err != nil {
		return result, err
	}
	result.Output = output

	logger.Debug("extraction completed",
		zap.String("order_id", order.ID),
		zap.String("model", c.model),
		zap.Duration("duration", time.Since(started)),
	)
	return result, nil
}

// stripFences removes a markdown code fence wrapper when the model ignores
// the no-fence instruction.
func stripFences(content string) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}
	trimmed := strings.TrimPrefix(content, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
