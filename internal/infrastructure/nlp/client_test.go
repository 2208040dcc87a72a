package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"voiceinsight/internal/core/domain"
)

func TestAnalyzeParsesInsights(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["format"] != "json" || req["stream"] != false {
			t.Errorf("expected non-streaming json mode, got %v", req)
		}
		prompt, _ := req["prompt"].(string)
		if !strings.Contains(prompt, "agent: hello") {
			t.Errorf("transcript text missing from prompt")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"{\"insights\":[{\"insight_type\":\" Summary \",\"content\":\"greeting call\",\"confidence\":0.8},{\"insight_type\":\"sentiment\",\"content\":\"\"}]}"}`))
	}))
	defer server.Close()

	client := New(server.URL, "llama3.1:8b", nil, nil)
	insights, err := client.Analyze(context.Background(), "agent: hello\ncustomer: hi")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	if len(insights) != 1 {
		t.Fatalf("expected empty-content insight dropped, got %d", len(insights))
	}
	if insights[0].Type != domain.InsightSummary {
		t.Fatalf("expected normalized summary type, got %q", insights[0].Type)
	}
	if insights[0].Confidence == nil || *insights[0].Confidence != 0.8 {
		t.Fatalf("unexpected confidence: %+v", insights[0].Confidence)
	}
}

func TestAnalyzeRecoversJSONFromChatter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"Sure, here you go: {\"insights\":[{\"insight_type\":\"topic\",\"content\":\"billing\"}]} hope that helps"}`))
	}))
	defer server.Close()

	client := New(server.URL, "llama3.1:8b", nil, nil)
	insights, err := client.Analyze(context.Background(), "text")
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(insights) != 1 || insights[0].Type != domain.InsightTopic {
		t.Fatalf("unexpected insights: %+v", insights)
	}
}

func TestAnalyzeWrapsServerErrorsAsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := New(server.URL, "llama3.1:8b", nil, nil)
	_, err := client.Analyze(context.Background(), "text")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary for a 429, got %v", err)
	}
}

func TestAnalyzeRejectsMalformedInsightJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"response":"no json here"}`))
	}))
	defer server.Close()

	client := New(server.URL, "llama3.1:8b", nil, nil)
	if _, err := client.Analyze(context.Background(), "text"); err == nil {
		t.Fatalf("expected parse error")
	}
}
