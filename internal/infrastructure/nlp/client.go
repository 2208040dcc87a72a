package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/infrastructure/resilience"
)

// Client extracts insights from transcript text through an ollama-compatible
// generation endpoint forced into JSON output mode.
type Client struct {
	baseURL    string
	model      string
	registry   *domain.InsightTypeRegistry
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, registry *domain.InsightTypeRegistry, executor *resilience.Executor) *Client {
	if registry == nil {
		registry = domain.DefaultInsightTypes()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		registry:   registry,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

type extractionResult struct {
	Insights []struct {
		InsightType string         `json:"insight_type"`
		Content     string         `json:"content"`
		Confidence  *float64       `json:"confidence,omitempty"`
		ExtraData   map[string]any `json:"extra_data,omitempty"`
	} `json:"insights"`
}

func (c *Client) Analyze(ctx context.Context, fullText string) ([]domain.ExtractedInsight, error) {
	raw, err := c.generateJSON(ctx, buildExtractionPrompt(fullText, c.registry.Types()))
	if err != nil {
		return nil, err
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return nil, fmt.Errorf("parse insight json: %w", err)
	}

	insights := make([]domain.ExtractedInsight, 0, len(result.Insights))
	for _, ins := range result.Insights {
		if strings.TrimSpace(ins.Content) == "" {
			continue
		}
		insights = append(insights, domain.ExtractedInsight{
			Type:       domain.InsightType(strings.ToLower(strings.TrimSpace(ins.InsightType))),
			Content:    ins.Content,
			Confidence: ins.Confidence,
			ExtraData:  ins.ExtraData,
		})
	}
	return insights, nil
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var response struct {
		Response string `json:"response"`
	}

	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/api/generate", request, &response)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "nlp.analyze", call, classifyProviderError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded("analyze", err)
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nlp analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "analyze",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode analyze response: %w", err)
	}
	return nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
