package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"voiceinsight/internal/core/domain"
	"voiceinsight/internal/core/ports"
	"voiceinsight/internal/infrastructure/resilience"
)

// Client talks to a whisper-style speech-to-text service that accepts audio
// uploads and returns diarized segments.
type Client struct {
	baseURL    string
	model      string
	storage    ports.BlobStore
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, storage ports.BlobStore, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		storage:    storage,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		executor:   executor,
	}
}

type segment struct {
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type transcribeResponse struct {
	Segments []segment `json:"segments"`
}

func (c *Client) Transcribe(ctx context.Context, blobRef string) ([]domain.Utterance, error) {
	audio, err := c.storage.Open(ctx, blobRef)
	if err != nil {
		return nil, fmt.Errorf("open audio blob: %w", err)
	}
	defer audio.Close()

	body, contentType, err := buildMultipart(blobRef, c.model, audio)
	if err != nil {
		return nil, err
	}

	var response transcribeResponse
	call := func(callCtx context.Context) error {
		return c.post(callCtx, body, contentType, &response)
	}

	if c.executor != nil {
		err = c.executor.Execute(ctx, "stt.transcribe", call, classifyProviderError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded("transcribe", err)
	}

	utterances := make([]domain.Utterance, 0, len(response.Segments))
	for _, s := range response.Segments {
		utterances = append(utterances, domain.Utterance{
			Speaker:    s.Speaker,
			Text:       s.Text,
			StartTime:  s.Start,
			EndTime:    s.End,
			Confidence: s.Confidence,
		})
	}
	return utterances, nil
}

func (c *Client) post(ctx context.Context, body []byte, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("stt transcribe request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "transcribe",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode transcribe response: %w", err)
	}
	return nil
}

// buildMultipart buffers the form so the request body can be replayed across
// retry attempts.
func buildMultipart(filename, model string, audio io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("copy audio into form: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return nil, "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.WriteField("diarize", "true"); err != nil {
		return nil, "", fmt.Errorf("write diarize field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}
